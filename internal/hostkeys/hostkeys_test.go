package hostkeys_test

import (
	"testing"

	"github.com/pocketbase/pocketbase/tests"
	"github.com/webssh-gateway/backend/internal/hostkeys"

	_ "github.com/webssh-gateway/backend/internal/migrations"
)

func TestComputeFingerprintDeterministic(t *testing.T) {
	key := []byte("fake-ssh-ed25519-key-bytes")
	a := hostkeys.ComputeFingerprint(key)
	b := hostkeys.ComputeFingerprint(key)
	if a != b {
		t.Fatalf("fingerprint not deterministic: %q != %q", a, b)
	}
	if a[:7] != "SHA256:" {
		t.Fatalf("expected SHA256: prefix, got %q", a)
	}
}

func TestLookupUnknownThenTrustedThenMismatch(t *testing.T) {
	app, err := tests.NewTestApp()
	if err != nil {
		t.Fatal(err)
	}
	defer app.Cleanup()

	store, err := hostkeys.New(app)
	if err != nil {
		t.Fatal(err)
	}

	key := []byte("key-bytes-v1")
	status, _ := store.Lookup("example.com", 22, "ssh-ed25519", key)
	if status != hostkeys.Unknown {
		t.Fatalf("expected Unknown, got %v", status)
	}

	if err := store.AddKnownHost("example.com", 22, "ssh-ed25519", key, "", "tester"); err != nil {
		t.Fatal(err)
	}

	status, _ = store.Lookup("example.com", 22, "ssh-ed25519", key)
	if status != hostkeys.Trusted {
		t.Fatalf("expected Trusted, got %v", status)
	}

	otherKey := []byte("key-bytes-v2")
	status, stored := store.Lookup("example.com", 22, "ssh-ed25519", otherKey)
	if status != hostkeys.Mismatch {
		t.Fatalf("expected Mismatch, got %v", status)
	}
	if string(stored) != string(key) {
		t.Fatalf("expected stored key to be original, got %q", stored)
	}
}

func TestRemoveHost(t *testing.T) {
	app, err := tests.NewTestApp()
	if err != nil {
		t.Fatal(err)
	}
	defer app.Cleanup()

	store, err := hostkeys.New(app)
	if err != nil {
		t.Fatal(err)
	}

	key := []byte("key-bytes")
	if err := store.AddKnownHost("h", 22, "ssh-rsa", key, "", ""); err != nil {
		t.Fatal(err)
	}
	if err := store.RemoveHost("h", 22, "ssh-rsa"); err != nil {
		t.Fatal(err)
	}
	status, _ := store.Lookup("h", 22, "ssh-rsa", key)
	if status != hostkeys.Unknown {
		t.Fatalf("expected Unknown after removal, got %v", status)
	}
}

func TestListHosts(t *testing.T) {
	app, err := tests.NewTestApp()
	if err != nil {
		t.Fatal(err)
	}
	defer app.Cleanup()

	store, err := hostkeys.New(app)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.AddKnownHost("a", 22, "ssh-ed25519", []byte("k1"), "", ""); err != nil {
		t.Fatal(err)
	}
	if err := store.AddKnownHost("b", 22, "ssh-ed25519", []byte("k2"), "", ""); err != nil {
		t.Fatal(err)
	}
	if got := len(store.ListHosts()); got != 2 {
		t.Fatalf("expected 2 hosts, got %d", got)
	}
}
