package socketadapter

import (
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/webssh-gateway/backend/internal/authpipeline"
)

// fakeConn is a minimal in-memory wsConn for exercising outboundWriter and
// Adapter.dispatch without a real network socket.
type fakeConn struct {
	mu      sync.Mutex
	written [][]byte
	block   chan struct{} // when non-nil, WriteMessage blocks until closed
	closed  bool
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := append([]byte(nil), data...)
	f.written = append(f.written, cp)
	return nil
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	return 0, nil, nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) writtenCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.written)
}

func TestOutboundWriterEnqueueDelivers(t *testing.T) {
	conn := &fakeConn{}
	w := newOutboundWriter(conn, 8)
	defer w.Close()

	if ok := w.Enqueue(1, []byte("hello")); !ok {
		t.Fatal("Enqueue returned false for an open writer")
	}

	deadline := time.Now().Add(time.Second)
	for conn.writtenCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if conn.writtenCount() != 1 {
		t.Fatalf("expected 1 write to reach the fake conn, got %d", conn.writtenCount())
	}
}

func TestOutboundWriterBufferedTracksPendingBytes(t *testing.T) {
	conn := &fakeConn{block: make(chan struct{})}
	w := newOutboundWriter(conn, 8)

	w.Enqueue(1, []byte("12345"))
	// The pump goroutine is blocked inside WriteMessage, so the byte count
	// must still be outstanding.
	deadline := time.Now().Add(time.Second)
	for w.Buffered() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := w.Buffered(); got != 5 {
		t.Fatalf("Buffered() = %d, want 5", got)
	}

	close(conn.block)
	deadline = time.Now().Add(time.Second)
	for w.Buffered() != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := w.Buffered(); got != 0 {
		t.Fatalf("Buffered() after drain = %d, want 0", got)
	}
	w.Close()
}

func TestOutboundWriterDropsWhenQueueFull(t *testing.T) {
	conn := &fakeConn{block: make(chan struct{})}
	w := newOutboundWriter(conn, 1)
	defer func() {
		close(conn.block)
		w.Close()
	}()

	// First frame is picked up by pump and blocks inside WriteMessage;
	// the next queueSize (1) fill the channel; one more must be dropped.
	if !w.Enqueue(1, []byte("a")) {
		t.Fatal("first enqueue should succeed")
	}
	time.Sleep(20 * time.Millisecond) // let pump pick it up and start blocking
	if !w.Enqueue(1, []byte("b")) {
		t.Fatal("second enqueue should still fit in the channel buffer")
	}
	if w.Enqueue(1, []byte("c")) {
		t.Fatal("third enqueue should be dropped once the queue is full")
	}
}

func TestOutboundWriterCloseIsIdempotent(t *testing.T) {
	conn := &fakeConn{}
	w := newOutboundWriter(conn, 4)
	w.Close()
	w.Close() // must not panic on double close

	if w.Enqueue(1, []byte("x")) {
		t.Fatal("Enqueue after Close should return false")
	}
}

func TestMaxEncodedChunkLen(t *testing.T) {
	cases := []struct {
		chunkSize int64
		want      int
	}{
		{0, 100},
		{1000, 1440},
		{65536, 87919},
	}
	for _, c := range cases {
		got := maxEncodedChunkLen(c.chunkSize)
		if got != c.want {
			t.Errorf("maxEncodedChunkLen(%d) = %d, want %d", c.chunkSize, got, c.want)
		}
	}
}

func TestSFTPOpenFlagsFirstChunkTruncates(t *testing.T) {
	flags := sftpOpenFlags(0)
	if flags&os.O_TRUNC == 0 || flags&os.O_CREATE == 0 {
		t.Fatalf("chunk 0 flags = %v, want O_CREATE|O_TRUNC set", flags)
	}
	if flags&os.O_APPEND != 0 {
		t.Fatalf("chunk 0 flags should not set O_APPEND, got %v", flags)
	}
}

func TestSFTPOpenFlagsLaterChunksAppend(t *testing.T) {
	flags := sftpOpenFlags(1)
	if flags&os.O_APPEND == 0 {
		t.Fatalf("chunk 1 flags = %v, want O_APPEND set", flags)
	}
	if flags&os.O_TRUNC != 0 {
		t.Fatalf("chunk 1 flags should not set O_TRUNC, got %v", flags)
	}
}

func TestInboundEnvelopeDecodesMinimalDisconnect(t *testing.T) {
	var env inboundEnvelope
	if err := json.Unmarshal([]byte(`{"kind":"disconnect"}`), &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Kind != kindDisconnect {
		t.Fatalf("Kind = %q, want %q", env.Kind, kindDisconnect)
	}
}

func TestOutboundOmitsZeroFields(t *testing.T) {
	data, err := json.Marshal(outbound{Kind: outKindSSHError, Message: "boom"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, present := raw["success"]; present {
		t.Fatal("zero-value *bool field should be omitted, not rendered as null/false")
	}
	if raw["kind"] != outKindSSHError || raw["message"] != "boom" {
		t.Fatalf("unexpected payload: %v", raw)
	}
}

func TestResolveMethodHintPrefersExplicitHint(t *testing.T) {
	cred := authpipeline.Credential{Password: "s3cret", MethodHint: "keyboard-interactive"}
	if got := resolveMethodHint(cred); got != "keyboard-interactive" {
		t.Fatalf("resolveMethodHint = %q, want explicit hint honored", got)
	}
}

func TestResolveMethodHintFallsBackToPrivateKeyThenPassword(t *testing.T) {
	withKey := authpipeline.Credential{PrivateKey: []byte("fake-key-bytes")}
	if got := resolveMethodHint(withKey); got != authpipeline.PublicKey {
		t.Fatalf("resolveMethodHint(private key) = %q, want %q", got, authpipeline.PublicKey)
	}

	withPassword := authpipeline.Credential{Password: "s3cret"}
	if got := resolveMethodHint(withPassword); got != authpipeline.Password {
		t.Fatalf("resolveMethodHint(password) = %q, want %q", got, authpipeline.Password)
	}
}

func TestBoolPtr(t *testing.T) {
	p := boolPtr(true)
	if p == nil || !*p {
		t.Fatal("boolPtr(true) should return a pointer to true")
	}
}
