package sshservice_test

import (
	"testing"
	"time"

	"github.com/pocketbase/pocketbase/tests"
	cryptossh "golang.org/x/crypto/ssh"

	"github.com/webssh-gateway/backend/internal/config"
	"github.com/webssh-gateway/backend/internal/eventbus"
	"github.com/webssh-gateway/backend/internal/gwerrors"
	"github.com/webssh-gateway/backend/internal/hostkeys"
	"github.com/webssh-gateway/backend/internal/sshservice"

	_ "github.com/webssh-gateway/backend/internal/migrations"
)

type fakePublicKey struct {
	kind string
	raw  []byte
}

func (k fakePublicKey) Type() string    { return k.kind }
func (k fakePublicKey) Marshal() []byte { return k.raw }
func (k fakePublicKey) Verify(data []byte, sig *cryptossh.Signature) error {
	return nil
}

func newTestVerifier(t *testing.T, mode config.HostKeyMode, unknownAction config.UnknownKeyAction) (*sshservice.Verifier, *hostkeys.Store) {
	t.Helper()
	app, err := tests.NewTestApp()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(app.Cleanup)

	store, err := hostkeys.New(app)
	if err != nil {
		t.Fatal(err)
	}
	bus := eventbus.New(10)
	t.Cleanup(bus.Shutdown)

	cfg := &config.Config{
		HostKeyVerificationEnabled: true,
		HostKeyMode:                mode,
		HostKeyUnknownAction:       unknownAction,
		HostKeyPromptTimeout:       50 * time.Millisecond,
	}
	return sshservice.NewVerifier(store, bus, cfg), store
}

func TestVerifierDisabledAcceptsWithoutEmission(t *testing.T) {
	app, err := tests.NewTestApp()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(app.Cleanup)

	store, err := hostkeys.New(app)
	if err != nil {
		t.Fatal(err)
	}
	cfg := &config.Config{HostKeyVerificationEnabled: false}
	v := sshservice.NewVerifier(store, nil, cfg)

	cb := v.Callback("c1", "example.com", 22)
	if err := cb("example.com:22", nil, fakePublicKey{kind: "ssh-ed25519", raw: []byte("key")}); err != nil {
		t.Fatalf("expected accept when disabled, got %v", err)
	}
}

func TestVerifierServerOnlyRejectsUnknown(t *testing.T) {
	v, _ := newTestVerifier(t, config.HostKeyModeServerOnly, config.UnknownKeyReject)
	cb := v.Callback("c1", "example.com", 22)
	err := cb("example.com:22", nil, fakePublicKey{kind: "ssh-ed25519", raw: []byte("key")})
	if err == nil {
		t.Fatal("expected rejection for unknown key under server-only/reject policy")
	}
	gerr, ok := gwerrors.As(err)
	if !ok || gerr.Code != gwerrors.CodeHostKeyRejected {
		t.Fatalf("expected HostKeyRejected, got %v", err)
	}
}

func TestVerifierServerOnlyAlertAccepts(t *testing.T) {
	v, _ := newTestVerifier(t, config.HostKeyModeServerOnly, config.UnknownKeyAlert)
	cb := v.Callback("c1", "example.com", 22)
	if err := cb("example.com:22", nil, fakePublicKey{kind: "ssh-ed25519", raw: []byte("key")}); err != nil {
		t.Fatalf("expected accept under alert policy, got %v", err)
	}
}

func TestVerifierTrustedAccepts(t *testing.T) {
	v, store := newTestVerifier(t, config.HostKeyModeServerOnly, config.UnknownKeyReject)
	key := []byte("trusted-key-bytes")
	if err := store.AddKnownHost("example.com", 22, "ssh-ed25519", key, "", "tester"); err != nil {
		t.Fatal(err)
	}
	cb := v.Callback("c1", "example.com", 22)
	if err := cb("example.com:22", nil, fakePublicKey{kind: "ssh-ed25519", raw: key}); err != nil {
		t.Fatalf("expected trusted key to be accepted, got %v", err)
	}
}

func TestVerifierMismatchRejects(t *testing.T) {
	v, store := newTestVerifier(t, config.HostKeyModeServerOnly, config.UnknownKeyAlert)
	if err := store.AddKnownHost("example.com", 22, "ssh-ed25519", []byte("old-key"), "", "tester"); err != nil {
		t.Fatal(err)
	}
	cb := v.Callback("c1", "example.com", 22)
	err := cb("example.com:22", nil, fakePublicKey{kind: "ssh-ed25519", raw: []byte("new-key")})
	if err == nil {
		t.Fatal("expected mismatch to be rejected regardless of unknown-key policy")
	}
	gerr, ok := gwerrors.As(err)
	if !ok || gerr.Code != gwerrors.CodeHostKeyMismatch {
		t.Fatalf("expected HostKeyMismatch, got %v", err)
	}
}

func TestVerifierHybridAwaitsClientAndTimesOut(t *testing.T) {
	v, _ := newTestVerifier(t, config.HostKeyModeHybrid, config.UnknownKeyReject)
	cb := v.Callback("c1", "example.com", 22)
	err := cb("example.com:22", nil, fakePublicKey{kind: "ssh-ed25519", raw: []byte("key")})
	if err == nil {
		t.Fatal("expected timeout to reject")
	}
	gerr, ok := gwerrors.As(err)
	if !ok || gerr.Code != gwerrors.CodeHostKeyTimeout {
		t.Fatalf("expected HostKeyPromptTimeout, got %v", err)
	}
}

func TestVerifierHybridAcceptsOnClientResponse(t *testing.T) {
	v, _ := newTestVerifier(t, config.HostKeyModeHybrid, config.UnknownKeyReject)

	done := make(chan error, 1)
	go func() {
		cb := v.Callback("c2", "example.com", 22)
		done <- cb("example.com:22", nil, fakePublicKey{kind: "ssh-ed25519", raw: []byte("key")})
	}()

	// Give the callback a moment to register its pending prompt.
	time.Sleep(10 * time.Millisecond)
	if !v.Respond("c2", true) {
		t.Fatal("expected a pending prompt for c2")
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected accept, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for callback to return")
	}
}

func TestVerifierRespondReturnsFalseWhenNoPromptPending(t *testing.T) {
	v, _ := newTestVerifier(t, config.HostKeyModeHybrid, config.UnknownKeyReject)
	if v.Respond("never-requested", true) {
		t.Fatal("expected false when no prompt is pending")
	}
}
