// Package sshpool implements the in-memory connection pool: a map of
// pooled SSH connections keyed by connection id, with a secondary map from
// session id to current connection id, enforcing capacity, idle timeout,
// and orderly teardown.
package sshpool

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/webssh-gateway/backend/internal/gwerrors"
)

// Status is a pooled connection's lifecycle state.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusActive  Status = "active"
	StatusClosing Status = "closing"
	StatusClosed  Status = "closed"
	StatusError   Status = "error"
)

// Metrics accumulates byte counters for a pooled connection.
type Metrics struct {
	BytesIn  int64
	BytesOut int64
}

// ConnectParams is opaque to the pool; it is handed to the Factory as-is.
type ConnectParams any

// Factory creates and destroys native connection handles. sshservice
// supplies the concrete implementation; the pool only needs it as an
// interface to stay decoupled from the SSH client library.
type Factory interface {
	Connect(params ConnectParams) (handle any, err error)
	Destroy(handle any) error
}

type entry struct {
	connectionID string
	sessionID    string
	status       Status
	createdAt    time.Time
	lastActivity time.Time
	metrics      Metrics
	handle       any
	params       ConnectParams
	idleTimer    *time.Timer
}

// Pool is the connection pool. All state is guarded by a single mutex —
// the component design calls for the forward and reverse maps to be
// mutually consistent after every public operation returns, which is
// simplest to guarantee under one lock given the maps are small and
// operations are not I/O bound except for the factory call itself.
type Pool struct {
	factory Factory

	maxConnections  int
	idleTimeout     time.Duration
	cleanupInterval time.Duration

	mu          sync.Mutex
	byConn      map[string]*entry
	bySession   map[string]string // sessionID -> connectionID
	sweepTicker *time.Ticker
	sweepDone   chan struct{}
}

// New builds a Pool bound to factory, with the given capacity and timing
// knobs, and starts its periodic idle sweep.
func New(factory Factory, maxConnections int, idleTimeout, cleanupInterval time.Duration) *Pool {
	p := &Pool{
		factory:         factory,
		maxConnections:  maxConnections,
		idleTimeout:     idleTimeout,
		cleanupInterval: cleanupInterval,
		byConn:          map[string]*entry{},
		bySession:       map[string]string{},
		sweepDone:       make(chan struct{}),
	}
	p.sweepTicker = time.NewTicker(cleanupInterval)
	go p.sweepLoop()
	return p
}

func (p *Pool) sweepLoop() {
	for {
		select {
		case <-p.sweepTicker.C:
			p.sweepIdle()
		case <-p.sweepDone:
			return
		}
	}
}

// sweepIdle releases every idle connection whose lastActivity exceeds
// idleTimeout. Returns the number released.
func (p *Pool) sweepIdle() int {
	p.mu.Lock()
	var stale []string
	now := time.Now()
	for id, e := range p.byConn {
		if e.status == StatusIdle && now.Sub(e.lastActivity) >= p.idleTimeout {
			stale = append(stale, id)
		}
	}
	p.mu.Unlock()

	for _, id := range stale {
		p.Release(id)
	}
	return len(stale)
}

// Acquire implements the acquire policy: reuse an active mapped connection,
// release a stale mapping, sweep if at capacity, else dial via the factory.
func (p *Pool) Acquire(sessionID string, params ConnectParams) (string, error) {
	p.mu.Lock()

	if connID, ok := p.bySession[sessionID]; ok {
		if e, ok := p.byConn[connID]; ok && e.status == StatusActive {
			e.lastActivity = time.Now()
			p.mu.Unlock()
			return connID, nil
		}
		// Stale mapping — release before proceeding.
		p.mu.Unlock()
		p.Release(connID)
		p.mu.Lock()
	}

	if len(p.byConn) >= p.maxConnections {
		p.mu.Unlock()
		p.sweepIdle()
		p.mu.Lock()
		if len(p.byConn) >= p.maxConnections {
			p.mu.Unlock()
			return "", gwerrors.New(gwerrors.KindSystem, gwerrors.CodePoolExhausted,
				fmt.Sprintf("pool exhausted: %d connections in use", p.maxConnections))
		}
	}

	connID := uuid.NewString()
	e := &entry{
		connectionID: connID,
		sessionID:    sessionID,
		status:       StatusIdle,
		createdAt:    time.Now(),
		lastActivity: time.Now(),
		params:       params,
	}
	p.byConn[connID] = e
	p.mu.Unlock()

	handle, err := p.factory.Connect(params)
	if err != nil {
		p.mu.Lock()
		delete(p.byConn, connID)
		p.mu.Unlock()
		return "", fmt.Errorf("sshpool: connect: %w", err)
	}

	p.mu.Lock()
	e.status = StatusActive
	e.handle = handle
	e.lastActivity = time.Now()
	p.bySession[sessionID] = connID
	p.armIdleTimer(e)
	p.mu.Unlock()

	return connID, nil
}

// armIdleTimer schedules a transition to idle after idleTimeout. Caller
// must hold p.mu.
func (p *Pool) armIdleTimer(e *entry) {
	if e.idleTimer != nil {
		e.idleTimer.Stop()
	}
	connID := e.connectionID
	e.idleTimer = time.AfterFunc(p.idleTimeout, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if cur, ok := p.byConn[connID]; ok && cur.status == StatusActive {
			cur.status = StatusIdle
		}
	})
}

// Get returns the native handle for connID, or nil if absent.
func (p *Pool) Get(connID string) (any, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.byConn[connID]
	if !ok {
		return nil, false
	}
	return e.handle, true
}

// UpdateActivity refreshes lastActivity and re-arms the idle timer if the
// connection is active.
func (p *Pool) UpdateActivity(connID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.byConn[connID]
	if !ok {
		return
	}
	e.lastActivity = time.Now()
	if e.status == StatusActive {
		p.armIdleTimer(e)
	}
}

// UpdateMetrics adds delta to connID's byte counters.
func (p *Pool) UpdateMetrics(connID string, delta Metrics) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.byConn[connID]
	if !ok {
		return
	}
	e.metrics.BytesIn += delta.BytesIn
	e.metrics.BytesOut += delta.BytesOut
}

// Release tears down connID: stops its idle timer, calls the factory's
// Destroy, and drops both the forward and reverse mappings.
func (p *Pool) Release(connID string) {
	p.mu.Lock()
	e, ok := p.byConn[connID]
	if !ok {
		p.mu.Unlock()
		return
	}
	e.status = StatusClosing
	if e.idleTimer != nil {
		e.idleTimer.Stop()
	}
	delete(p.byConn, connID)
	if p.bySession[e.sessionID] == connID {
		delete(p.bySession, e.sessionID)
	}
	handle := e.handle
	p.mu.Unlock()

	if handle != nil {
		if err := p.factory.Destroy(handle); err != nil {
			log.Warn().Str("connection_id", connID).Err(err).Msg("sshpool: destroy failed")
		}
	}
}

// ReleaseSession releases sessionID's current connection, if any.
func (p *Pool) ReleaseSession(sessionID string) {
	p.mu.Lock()
	connID, ok := p.bySession[sessionID]
	p.mu.Unlock()
	if ok {
		p.Release(connID)
	}
}

// Stats is a point-in-time snapshot of pool occupancy.
type Stats struct {
	Total  int
	Idle   int
	Active int
}

// Stats returns a snapshot of pool occupancy.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Stats{Total: len(p.byConn)}
	for _, e := range p.byConn {
		switch e.status {
		case StatusIdle:
			s.Idle++
		case StatusActive:
			s.Active++
		}
	}
	return s
}

// Shutdown stops the sweep timer and releases every pooled connection in
// parallel, swallowing destroy errors (each is already logged by Release).
func (p *Pool) Shutdown() {
	p.sweepTicker.Stop()
	close(p.sweepDone)

	p.mu.Lock()
	ids := make([]string, 0, len(p.byConn))
	for id := range p.byConn {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			p.Release(id)
		}(id)
	}
	wg.Wait()
}
