// Package transfer implements the per-session SFTP transfer manager:
// ordered chunk ingest, pause/resume, cancellation, and completion
// statistics. Each transfer owns a rate limiter that UpdateProgress feeds
// with every chunk's byte count; its pause signal is discarded, so the
// manager never throttles a transfer.
package transfer

import (
	"fmt"
	"sync"
	"time"

	"github.com/webssh-gateway/backend/internal/gwerrors"
	"github.com/webssh-gateway/backend/internal/ratelimit"
)

// Direction is the transfer's data flow relative to the gateway.
type Direction string

const (
	Upload   Direction = "upload"
	Download Direction = "download"
)

// Status is a transfer's lifecycle state.
type Status string

const (
	Pending   Status = "pending"
	Active    Status = "active"
	Paused    Status = "paused"
	Completed Status = "completed"
	Cancelled Status = "cancelled"
	Failed    Status = "failed"
)

// StartParams describes a new transfer.
type StartParams struct {
	TransferID string
	SessionID  string
	Direction  Direction
	RemotePath string
	Filename   string
	TotalBytes int64
	// ChunkRateLimitBytesPerSec parameterises this transfer's own limiter
	// (0 = unlimited).
	ChunkRateLimitBytesPerSec int64
}

// Transfer is one active SFTP transfer. Copies returned to callers are
// snapshots; mutation only happens inside the manager under its lock.
type Transfer struct {
	TransferID       string
	SessionID        string
	Direction        Direction
	RemotePath       string
	Filename         string
	TotalBytes       int64
	BytesTransferred int64
	NextChunkIndex   int64
	Status           Status
	StartedAt        time.Time
	LastChunkAt      time.Time
}

// CompletionReport is produced only by CompleteTransfer.
type CompletionReport struct {
	TransferID       string
	BytesTransferred int64
	Duration         time.Duration
	AverageBytesPerSec float64
}

type transferEntry struct {
	t       Transfer
	limiter *ratelimit.Limiter
}

// Manager owns every active transfer for every session.
type Manager struct {
	maxPerSession int

	mu        sync.Mutex
	transfers map[string]*transferEntry // transferID -> entry
	bySession map[string]map[string]bool // sessionID -> set of transferID
}

// New builds a Manager enforcing maxPerSession concurrent transfers per
// session.
func New(maxPerSession int) *Manager {
	return &Manager{
		maxPerSession: maxPerSession,
		transfers:     map[string]*transferEntry{},
		bySession:     map[string]map[string]bool{},
	}
}

func notFound(transferID string) error {
	return gwerrors.New(gwerrors.KindTransfer, gwerrors.CodeTransferNotFound,
		fmt.Sprintf("transfer %q not found", transferID))
}

// StartTransfer registers a new pending transfer. Rejects if the session
// already has maxPerSession active transfers, or if the transfer id is
// already known.
func (m *Manager) StartTransfer(p StartParams) (Transfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.transfers[p.TransferID]; exists {
		return Transfer{}, gwerrors.New(gwerrors.KindTransfer, gwerrors.CodeInvalidState,
			fmt.Sprintf("transfer %q already exists", p.TransferID))
	}

	active := 0
	for id := range m.bySession[p.SessionID] {
		if m.transfers[id].t.Status == Active {
			active++
		}
	}
	if active >= m.maxPerSession {
		return Transfer{}, gwerrors.New(gwerrors.KindTransfer, gwerrors.CodeMaxTransfers,
			fmt.Sprintf("session %q already has %d active transfers", p.SessionID, m.maxPerSession))
	}

	t := Transfer{
		TransferID: p.TransferID,
		SessionID:  p.SessionID,
		Direction:  p.Direction,
		RemotePath: p.RemotePath,
		Filename:   p.Filename,
		TotalBytes: p.TotalBytes,
		Status:     Pending,
		StartedAt:  time.Now(),
	}
	m.transfers[p.TransferID] = &transferEntry{t: t, limiter: ratelimit.New(p.ChunkRateLimitBytesPerSec)}
	if m.bySession[p.SessionID] == nil {
		m.bySession[p.SessionID] = map[string]bool{}
	}
	m.bySession[p.SessionID][p.TransferID] = true

	return t, nil
}

// ActivateTransfer requires the transfer to be pending and moves it to active.
func (m *Manager) ActivateTransfer(id string) (Transfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.transfers[id]
	if !ok {
		return Transfer{}, notFound(id)
	}
	if e.t.Status != Pending {
		return Transfer{}, gwerrors.New(gwerrors.KindTransfer, gwerrors.CodeInvalidState,
			fmt.Sprintf("transfer %q is %s, not pending", id, e.t.Status))
	}
	e.t.Status = Active
	return e.t, nil
}

// UpdateProgress requires the transfer to be active and chunkIndex to equal
// the expected next index; on mismatch it fails with ChunkMismatch and the
// transfer's nextChunkIndex is left unchanged.
func (m *Manager) UpdateProgress(id string, chunkIndex int64, bytes int64) (Transfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.transfers[id]
	if !ok {
		return Transfer{}, notFound(id)
	}
	if e.t.Status != Active {
		return Transfer{}, gwerrors.New(gwerrors.KindTransfer, gwerrors.CodeInvalidState,
			fmt.Sprintf("transfer %q is %s, not active", id, e.t.Status))
	}
	if chunkIndex != e.t.NextChunkIndex {
		return Transfer{}, gwerrors.New(gwerrors.KindTransfer, gwerrors.CodeChunkMismatch,
			fmt.Sprintf("transfer %q expected chunk %d, got %d", id, e.t.NextChunkIndex, chunkIndex))
	}

	e.t.BytesTransferred += bytes
	e.t.NextChunkIndex++
	e.t.LastChunkAt = time.Now()
	e.limiter.CheckAndUpdate(bytes)

	return e.t, nil
}

// PauseTransfer moves an active transfer to paused.
func (m *Manager) PauseTransfer(id string) (Transfer, error) {
	return m.transition(id, Active, Paused)
}

// ResumeTransfer moves a paused transfer back to active.
func (m *Manager) ResumeTransfer(id string) (Transfer, error) {
	return m.transition(id, Paused, Active)
}

func (m *Manager) transition(id string, from, to Status) (Transfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.transfers[id]
	if !ok {
		return Transfer{}, notFound(id)
	}
	if e.t.Status != from {
		return Transfer{}, gwerrors.New(gwerrors.KindTransfer, gwerrors.CodeInvalidState,
			fmt.Sprintf("transfer %q is %s, expected %s", id, e.t.Status, from))
	}
	e.t.Status = to
	return e.t, nil
}

// CompleteTransfer computes the completion report from the transfer's byte
// count and start time and removes the record. It is the only path producing a
// completion report.
func (m *Manager) CompleteTransfer(id string) (CompletionReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.transfers[id]
	if !ok {
		return CompletionReport{}, notFound(id)
	}

	duration := time.Since(e.t.StartedAt)
	report := CompletionReport{
		TransferID:       id,
		BytesTransferred: e.t.BytesTransferred,
		Duration:         duration,
	}
	if duration > 0 {
		report.AverageBytesPerSec = float64(e.t.BytesTransferred) / duration.Seconds()
	}

	m.removeLocked(id)
	return report, nil
}

// CancelTransfer removes the transfer. Idempotent: cancelling an already-gone
// transfer id is not an error.
func (m *Manager) CancelTransfer(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(id)
	return nil
}

// FailTransfer is a best-effort removal used on fatal transfer errors.
func (m *Manager) FailTransfer(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(id)
	return nil
}

func (m *Manager) removeLocked(id string) {
	e, ok := m.transfers[id]
	if !ok {
		return
	}
	delete(m.transfers, id)
	if set, ok := m.bySession[e.t.SessionID]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(m.bySession, e.t.SessionID)
		}
	}
}

// VerifyOwnership returns TransferNotFound for both "missing" and "wrong
// session" to prevent session enumeration via transfer ids.
func (m *Manager) VerifyOwnership(transferID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.transfers[transferID]
	if !ok || e.t.SessionID != sessionID {
		return notFound(transferID)
	}
	return nil
}

// CancelSession removes every transfer owned by sessionID — used on
// socket disconnect.
func (m *Manager) CancelSession(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.bySession[sessionID] {
		m.removeLocked(id)
	}
}

// Get returns a snapshot of the transfer, if present.
func (m *Manager) Get(id string) (Transfer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.transfers[id]
	if !ok {
		return Transfer{}, false
	}
	return e.t, true
}

// ActiveCount returns the number of transfers currently tracked across all
// sessions, regardless of status (pending, active, or paused).
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.transfers)
}
