package socketadapter

import (
	"sync"
	"sync/atomic"
	"time"
)

// wsConn is the subset of *websocket.Conn the adapter depends on, so tests
// can substitute a fake transport.
type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

// outboundWriter serialises writes to a single WebSocket connection and
// tracks the outbound buffered-byte count the transport-level backpressure
// mechanism needs. gorilla/websocket has no public "bufferedAmount" the way
// a browser socket does, so the count is tracked explicitly: it rises when
// a caller enqueues a frame and falls once the single writer goroutine has
// actually pushed it to the OS.
type outboundWriter struct {
	conn wsConn

	mu      sync.Mutex
	queue   chan queuedFrame
	done    chan struct{}
	closed  atomic.Bool
	pending atomic.Int64
}

type queuedFrame struct {
	messageType int
	data        []byte
}

func newOutboundWriter(conn wsConn, queueSize int) *outboundWriter {
	if queueSize <= 0 {
		queueSize = 256
	}
	w := &outboundWriter{
		conn:  conn,
		queue: make(chan queuedFrame, queueSize),
		done:  make(chan struct{}),
	}
	go w.pump()
	return w
}

func (w *outboundWriter) pump() {
	defer close(w.done)
	for frame := range w.queue {
		err := w.conn.WriteMessage(frame.messageType, frame.data)
		w.pending.Add(-int64(len(frame.data)))
		if err != nil {
			return
		}
	}
}

// Enqueue schedules data for delivery and returns immediately. Returns
// false if the writer has been closed or its queue is full (the frame is
// dropped).
func (w *outboundWriter) Enqueue(messageType int, data []byte) bool {
	if w.closed.Load() {
		return false
	}
	w.pending.Add(int64(len(data)))
	select {
	case w.queue <- queuedFrame{messageType: messageType, data: data}:
		return true
	default:
		// Queue full: treat as a dropped frame rather than blocking the
		// caller indefinitely: the backpressure mechanism above this
		// writer is expected to have already paused the source by the
		// time the queue could fill.
		w.pending.Add(-int64(len(data)))
		return false
	}
}

// Buffered returns the current outbound buffered-byte estimate.
func (w *outboundWriter) Buffered() int64 { return w.pending.Load() }

// Close stops accepting new frames and waits for in-flight ones to drain,
// up to a short grace period.
func (w *outboundWriter) Close() {
	if w.closed.Swap(true) {
		return
	}
	close(w.queue)
	select {
	case <-w.done:
	case <-time.After(2 * time.Second):
	}
}
