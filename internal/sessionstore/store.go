package sessionstore

import (
	"reflect"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Subscriber receives (newState, oldState) on every effective change to a
// session. Panics inside a subscriber are caught so one misbehaving
// subscriber cannot poison delivery to others.
type Subscriber func(newState, oldState Session)

const defaultMaxHistory = 100

type sessionEntry struct {
	mu          sync.Mutex
	state       Session
	subscribers []Subscriber
	history     []Action
}

// Store is the keyed collection of sessions.
type Store struct {
	maxHistory int

	mu       sync.RWMutex
	sessions map[string]*sessionEntry
}

// New builds an empty Store. maxHistory bounds the per-session action
// history kept for diagnostics; 0 selects the default of 100.
func New(maxHistory int) *Store {
	if maxHistory <= 0 {
		maxHistory = defaultMaxHistory
	}
	return &Store{maxHistory: maxHistory, sessions: map[string]*sessionEntry{}}
}

// Create registers a new session with the given id, returning its initial
// snapshot.
func (st *Store) Create(sessionID string, md Metadata) Session {
	now := time.Now()
	if md.CreatedAt.IsZero() {
		md.CreatedAt = now
	}
	md.UpdatedAt = now

	entry := &sessionEntry{
		state: Session{ID: sessionID, Auth: AuthState{Status: AuthPending}, Metadata: md},
	}

	st.mu.Lock()
	st.sessions[sessionID] = entry
	st.mu.Unlock()

	return entry.state
}

// Get returns the current snapshot for sessionID.
func (st *Store) Get(sessionID string) (Session, bool) {
	st.mu.RLock()
	entry, ok := st.sessions[sessionID]
	st.mu.RUnlock()
	if !ok {
		return Session{}, false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.state, true
}

// Dispatch applies action to sessionID's state through the reducer. If the
// resulting state is structurally identical to the prior one, no
// subscribers are notified. Dispatching to a non-existent session id is a
// no-op that logs a warning. Concurrent dispatches for the same session
// serialise through the entry's mutex.
func (st *Store) Dispatch(sessionID string, action Action) (Session, bool) {
	st.mu.RLock()
	entry, ok := st.sessions[sessionID]
	st.mu.RUnlock()
	if !ok {
		log.Warn().Str("session_id", sessionID).Msg("sessionstore: dispatch to unknown session")
		return Session{}, false
	}

	entry.mu.Lock()
	old := entry.state
	next := reduce(old, action, time.Now())
	changed := !statesEqualIgnoringUpdatedAt(old, next)
	if changed {
		entry.state = next
	}
	entry.history = append(entry.history, action)
	if len(entry.history) > st.maxHistory {
		entry.history = entry.history[len(entry.history)-st.maxHistory:]
	}
	subscribers := append([]Subscriber(nil), entry.subscribers...)
	entry.mu.Unlock()

	if changed {
		for _, sub := range subscribers {
			notify(sub, next, old)
		}
	}

	if _, isEnd := action.(SessionEndAction); isEnd {
		st.End(sessionID)
	}

	return next, changed
}

// statesEqualIgnoringUpdatedAt reports whether a and b are structurally
// identical apart from Metadata.UpdatedAt, which reduce bumps on every
// dispatch regardless of whether anything substantive changed. Comparing
// it directly would mean no dispatch is ever a no-op, breaking the
// no-notify-on-structurally-identical-state rule (e.g. resizing to the
// same rows/cols twice should only produce one effective change).
func statesEqualIgnoringUpdatedAt(a, b Session) bool {
	a.Metadata.UpdatedAt = time.Time{}
	b.Metadata.UpdatedAt = time.Time{}
	return reflect.DeepEqual(a, b)
}

func notify(sub Subscriber, newState, oldState Session) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("sessionstore: subscriber panicked")
		}
	}()
	sub(newState, oldState)
}

// Subscribe registers a subscriber for sessionID and returns an unsubscribe
// function. Subscribing to a non-existent session is a no-op returning a
// no-op unsubscribe function.
func (st *Store) Subscribe(sessionID string, sub Subscriber) (unsubscribe func()) {
	st.mu.RLock()
	entry, ok := st.sessions[sessionID]
	st.mu.RUnlock()
	if !ok {
		return func() {}
	}

	entry.mu.Lock()
	entry.subscribers = append(entry.subscribers, sub)
	idx := len(entry.subscribers) - 1
	entry.mu.Unlock()

	return func() {
		entry.mu.Lock()
		defer entry.mu.Unlock()
		if idx < len(entry.subscribers) {
			entry.subscribers[idx] = nil
		}
	}
}

// History returns a copy of sessionID's bounded action history.
func (st *Store) History(sessionID string) []Action {
	st.mu.RLock()
	entry, ok := st.sessions[sessionID]
	st.mu.RUnlock()
	if !ok {
		return nil
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return append([]Action(nil), entry.history...)
}

// End removes sessionID from the store and clears its subscribers.
func (st *Store) End(sessionID string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.sessions, sessionID)
}

// Len reports the number of live sessions — used by shutdown/diagnostics.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}
