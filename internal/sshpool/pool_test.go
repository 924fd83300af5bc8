package sshpool

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/webssh-gateway/backend/internal/gwerrors"
)

type fakeHandle struct{ id int32 }

type fakeFactory struct {
	mu        sync.Mutex
	nextID    int32
	destroyed []int32
	failNext  bool
}

func (f *fakeFactory) Connect(params ConnectParams) (any, error) {
	if f.failNext {
		f.failNext = false
		return nil, errors.New("dial refused")
	}
	id := atomic.AddInt32(&f.nextID, 1)
	return &fakeHandle{id: id}, nil
}

func (f *fakeFactory) Destroy(handle any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed = append(f.destroyed, handle.(*fakeHandle).id)
	return nil
}

func TestAcquireReusesActiveMapping(t *testing.T) {
	p := New(&fakeFactory{}, 10, time.Hour, time.Hour)
	defer p.Shutdown()

	c1, err := p.Acquire("s1", nil)
	if err != nil {
		t.Fatal(err)
	}
	c2, err := p.Acquire("s1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if c1 != c2 {
		t.Fatalf("expected reuse of active connection, got %q then %q", c1, c2)
	}
}

func TestGetReturnsSameHandleUntilRelease(t *testing.T) {
	p := New(&fakeFactory{}, 10, time.Hour, time.Hour)
	defer p.Shutdown()

	connID, err := p.Acquire("s1", nil)
	if err != nil {
		t.Fatal(err)
	}
	h1, ok := p.Get(connID)
	if !ok {
		t.Fatal("expected handle present")
	}
	h2, _ := p.Get(connID)
	if h1 != h2 {
		t.Fatal("expected same handle on repeated Get")
	}
	p.Release(connID)
	if _, ok := p.Get(connID); ok {
		t.Fatal("expected handle gone after release")
	}
}

func TestAcquireFailurePropagatesAndRemovesEntry(t *testing.T) {
	f := &fakeFactory{failNext: true}
	p := New(f, 10, time.Hour, time.Hour)
	defer p.Shutdown()

	_, err := p.Acquire("s1", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if p.Stats().Total != 0 {
		t.Fatalf("expected entry removed on connect failure, got %d", p.Stats().Total)
	}
}

func TestPoolExhaustedWhenAtCapacity(t *testing.T) {
	p := New(&fakeFactory{}, 1, time.Hour, time.Hour)
	defer p.Shutdown()

	if _, err := p.Acquire("s1", nil); err != nil {
		t.Fatal(err)
	}
	_, err := p.Acquire("s2", nil)
	if err == nil {
		t.Fatal("expected PoolExhausted error")
	}
	gerr, ok := gwerrors.As(err)
	if !ok || gerr.Code != gwerrors.CodePoolExhausted {
		t.Fatalf("expected PoolExhausted error, got %v", err)
	}
}

func TestReleaseSessionDropsReverseMapping(t *testing.T) {
	p := New(&fakeFactory{}, 10, time.Hour, time.Hour)
	defer p.Shutdown()

	connID, err := p.Acquire("s1", nil)
	if err != nil {
		t.Fatal(err)
	}
	p.ReleaseSession("s1")
	if _, ok := p.Get(connID); ok {
		t.Fatal("expected connection released")
	}
	// Acquiring again for the same session should create a new connection.
	connID2, err := p.Acquire("s1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if connID2 == connID {
		t.Fatal("expected a fresh connection id")
	}
}

func TestShutdownReleasesAllConnections(t *testing.T) {
	p := New(&fakeFactory{}, 10, time.Hour, time.Hour)
	p.Acquire("s1", nil)
	p.Acquire("s2", nil)
	p.Shutdown()
	if p.Stats().Total != 0 {
		t.Fatalf("expected 0 connections after shutdown, got %d", p.Stats().Total)
	}
}

func TestSweepIdleReleasesExpiredConnections(t *testing.T) {
	p := New(&fakeFactory{}, 10, time.Millisecond, time.Hour)
	defer p.Shutdown()

	connID, err := p.Acquire("s1", nil)
	if err != nil {
		t.Fatal(err)
	}
	// Force the entry to idle directly to simulate the arm-timer firing.
	p.mu.Lock()
	p.byConn[connID].status = StatusIdle
	p.byConn[connID].lastActivity = time.Now().Add(-time.Hour)
	p.mu.Unlock()

	n := p.sweepIdle()
	if n != 1 {
		t.Fatalf("expected 1 swept connection, got %d", n)
	}
	if _, ok := p.Get(connID); ok {
		t.Fatal("expected connection released by sweep")
	}
}
