package sessionstore

import (
	"sync"
	"testing"
	"time"
)

func TestReducerIsPure(t *testing.T) {
	s := Session{ID: "s1"}
	a := AuthSuccessAction{Method: "password", Username: "alice"}
	now := time.Now()
	r1 := reduce(s, a, now)
	r2 := reduce(s, a, now)
	if r1.Auth != r2.Auth {
		t.Fatalf("reducer not pure: %+v != %+v", r1.Auth, r2.Auth)
	}
}

func TestCreateAndDispatch(t *testing.T) {
	st := New(10)
	st.Create("s1", Metadata{})

	var got Session
	var notified bool
	st.Subscribe("s1", func(newState, oldState Session) {
		notified = true
		got = newState
	})

	next, changed := st.Dispatch("s1", AuthSuccessAction{Method: "password", Username: "alice"})
	if !changed {
		t.Fatal("expected change")
	}
	if !notified {
		t.Fatal("expected subscriber notified")
	}
	if got.Auth.Status != AuthAuthenticated || got.Auth.Username != "alice" {
		t.Fatalf("unexpected state: %+v", got.Auth)
	}
	if next.Auth.Status != AuthAuthenticated {
		t.Fatalf("unexpected returned state: %+v", next.Auth)
	}
}

func TestDispatchUnknownSessionIsNoop(t *testing.T) {
	st := New(10)
	_, changed := st.Dispatch("missing", AuthSuccessAction{})
	if changed {
		t.Fatal("expected no-op for unknown session")
	}
}

func TestNoNotifyWhenUnchanged(t *testing.T) {
	st := New(10)
	st.Create("s1", Metadata{})
	st.Dispatch("s1", ClearErrorAction{}) // no-op since no error set

	count := 0
	st.Subscribe("s1", func(newState, oldState Session) { count++ })
	st.Dispatch("s1", ClearErrorAction{})
	if count != 0 {
		t.Fatalf("expected 0 notifications for unchanged state, got %d", count)
	}
}

func TestSubscriberPanicDoesNotPoisonOthers(t *testing.T) {
	st := New(10)
	st.Create("s1", Metadata{})

	var secondCalled bool
	st.Subscribe("s1", func(newState, oldState Session) { panic("boom") })
	st.Subscribe("s1", func(newState, oldState Session) { secondCalled = true })

	st.Dispatch("s1", AuthSuccessAction{Method: "password", Username: "bob"})
	if !secondCalled {
		t.Fatal("expected second subscriber to still be called")
	}
}

func TestBoundedHistory(t *testing.T) {
	st := New(3)
	st.Create("s1", Metadata{})
	for i := 0; i < 10; i++ {
		st.Dispatch("s1", ConnectionActivityAction{})
	}
	if got := len(st.History("s1")); got != 3 {
		t.Fatalf("expected bounded history of 3, got %d", got)
	}
}

func TestTerminalResizeClampsBounds(t *testing.T) {
	st := New(10)
	st.Create("s1", Metadata{})
	next, _ := st.Dispatch("s1", TerminalResizeAction{Rows: -5, Cols: 5000})
	if next.Terminal.Rows != MinRows {
		t.Errorf("expected clamped to MinRows, got %d", next.Terminal.Rows)
	}
	if next.Terminal.Cols != MaxCols {
		t.Errorf("expected clamped to MaxCols, got %d", next.Terminal.Cols)
	}
}

func TestSessionEndRemovesSession(t *testing.T) {
	st := New(10)
	st.Create("s1", Metadata{})
	st.Dispatch("s1", SessionEndAction{})
	if _, ok := st.Get("s1"); ok {
		t.Fatal("expected session removed after SessionEndAction")
	}
}

func TestConcurrentDispatchSameSessionSerializes(t *testing.T) {
	st := New(1000)
	st.Create("s1", Metadata{})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st.Dispatch("s1", ConnectionActivityAction{})
		}()
	}
	wg.Wait()

	if got := len(st.History("s1")); got != 50 {
		t.Fatalf("expected 50 recorded actions, got %d", got)
	}
}
