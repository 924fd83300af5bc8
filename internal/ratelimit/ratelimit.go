// Package ratelimit implements the single-flow, token-bucket-like
// accumulator used for both shell output capping and per-transfer chunk
// rate limiting. It only produces pause/resume signals and a throughput
// estimate; it never pauses a stream itself — callers translate its
// signals into stream control.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter is a single-flow rate limiter parameterised by bytesPerSecond.
// A zero limit means unlimited: CheckAndUpdate never signals pause.
type Limiter struct {
	mu sync.Mutex

	bytesPerSecond int64
	bytesInWindow  int64
	windowStart    time.Time
	paused         bool

	now func() time.Time
}

// New builds a Limiter for the given bytesPerSecond (0 = unlimited).
func New(bytesPerSecond int64) *Limiter {
	return &Limiter{
		bytesPerSecond: bytesPerSecond,
		windowStart:    time.Now(),
		now:            time.Now,
	}
}

// CheckAndUpdate folds chunkSize bytes into the current window and reports
// whether the caller should pause the stream and, if so, the duration until
// the limiter would allow a resume.
func (l *Limiter) CheckAndUpdate(chunkSize int64) (pause bool, resumeAfter time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.bytesPerSecond <= 0 {
		return false, 0
	}

	now := l.now()
	if now.Sub(l.windowStart) >= time.Second {
		l.windowStart = now
		l.bytesInWindow = 0
	}

	if l.bytesInWindow+chunkSize > l.bytesPerSecond {
		l.paused = true
		resumeAt := l.windowStart.Add(time.Second)
		return true, resumeAt.Sub(now)
	}

	l.bytesInWindow += chunkSize
	return false, 0
}

// CalculateCurrentRate returns the observed throughput (bytes/sec) for the
// window currently in progress.
func (l *Limiter) CalculateCurrentRate() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	elapsed := l.now().Sub(l.windowStart).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(l.bytesInWindow) / elapsed
}

// GetElapsedMs returns milliseconds elapsed since the current window started.
func (l *Limiter) GetElapsedMs() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.now().Sub(l.windowStart).Milliseconds()
}

// Pause marks the limiter paused. Informational only — see package doc.
func (l *Limiter) Pause() {
	l.mu.Lock()
	l.paused = true
	l.mu.Unlock()
}

// Resume clears the limiter's paused flag and resets the window.
func (l *Limiter) Resume() {
	l.mu.Lock()
	l.paused = false
	l.windowStart = l.now()
	l.bytesInWindow = 0
	l.mu.Unlock()
}

// Paused reports the limiter's last-known pause state.
func (l *Limiter) Paused() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.paused
}
