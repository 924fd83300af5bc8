package sshservice

import (
	"net"
	"sync"
	"time"

	cryptossh "golang.org/x/crypto/ssh"

	"github.com/webssh-gateway/backend/internal/config"
	"github.com/webssh-gateway/backend/internal/eventbus"
	"github.com/webssh-gateway/backend/internal/gwerrors"
	"github.com/webssh-gateway/backend/internal/hostkeys"
)

// Verifier implements the host-key decision table: consult the trust
// store, and for unknown keys either apply the configured policy directly
// or prompt the connected client and await its response.
type Verifier struct {
	store         *hostkeys.Store
	bus           *eventbus.Bus
	enabled       bool
	mode          config.HostKeyMode
	unknownAction config.UnknownKeyAction
	promptTimeout time.Duration

	mu      sync.Mutex
	pending map[string]chan bool // connectionID -> response channel
}

// NewVerifier builds a Verifier from the gateway's host-key configuration.
func NewVerifier(store *hostkeys.Store, bus *eventbus.Bus, cfg *config.Config) *Verifier {
	return &Verifier{
		store:         store,
		bus:           bus,
		enabled:       cfg.HostKeyVerificationEnabled,
		mode:          cfg.HostKeyMode,
		unknownAction: cfg.HostKeyUnknownAction,
		promptTimeout: cfg.HostKeyPromptTimeout,
		pending:       map[string]chan bool{},
	}
}

// Callback builds a golang.org/x/crypto/ssh HostKeyCallback bound to one
// connection attempt, so the emitted events/prompt can be correlated with
// connectionID.
func (v *Verifier) Callback(connectionID, host string, port int) cryptossh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key cryptossh.PublicKey) error {
		if !v.enabled {
			return nil
		}

		algorithm := key.Type()
		presented := key.Marshal()
		fingerprint := hostkeys.ComputeFingerprint(presented)

		status, stored := v.store.Lookup(host, port, algorithm, presented)
		switch status {
		case hostkeys.Trusted:
			v.publish(connectionID, "hostkey-verified", map[string]any{"source": "server"}, eventbus.High)
			return nil
		case hostkeys.Mismatch:
			v.publish(connectionID, "hostkey-mismatch", map[string]any{
				"presented": fingerprint,
				"stored":    hostkeys.ComputeFingerprint(stored),
			}, eventbus.Critical)
			return gwerrors.New(gwerrors.KindHostKey, gwerrors.CodeHostKeyMismatch,
				"host key mismatch for "+hostname)
		default: // Unknown
			return v.resolveUnknown(connectionID, host, port, algorithm, fingerprint)
		}
	}
}

func (v *Verifier) clientEnabled() bool {
	return v.mode == config.HostKeyModeHybrid || v.mode == config.HostKeyModeClientOnly
}

func (v *Verifier) resolveUnknown(connectionID, host string, port int, algorithm, fingerprint string) error {
	if v.clientEnabled() {
		return v.awaitClientDecision(connectionID, host, port, algorithm, fingerprint)
	}

	switch v.unknownAction {
	case config.UnknownKeyReject:
		v.publish(connectionID, "hostkey-rejected", nil, eventbus.Critical)
		return gwerrors.New(gwerrors.KindHostKey, gwerrors.CodeHostKeyRejected,
			"unknown host key rejected by policy")
	case config.UnknownKeyAlert:
		v.publish(connectionID, "hostkey-alert", map[string]any{"fingerprint": fingerprint}, eventbus.High)
		return nil
	default: // prompt
		return v.awaitClientDecision(connectionID, host, port, algorithm, fingerprint)
	}
}

func (v *Verifier) awaitClientDecision(connectionID, host string, port int, algorithm, fingerprint string) error {
	ch := make(chan bool, 1)
	v.mu.Lock()
	v.pending[connectionID] = ch
	v.mu.Unlock()
	defer func() {
		v.mu.Lock()
		delete(v.pending, connectionID)
		v.mu.Unlock()
	}()

	v.publish(connectionID, "hostkey-verify", map[string]any{
		"host": host, "port": port, "algorithm": algorithm, "fingerprint": fingerprint,
	}, eventbus.High)

	select {
	case accept := <-ch:
		if accept {
			v.publish(connectionID, "hostkey-verified", map[string]any{"source": "client"}, eventbus.High)
			return nil
		}
		v.publish(connectionID, "hostkey-rejected", nil, eventbus.Critical)
		return gwerrors.New(gwerrors.KindHostKey, gwerrors.CodeHostKeyRejected,
			"host key rejected by client")
	case <-time.After(v.promptTimeout):
		v.publish(connectionID, "hostkey-rejected", map[string]any{"reason": "timeout"}, eventbus.Critical)
		return gwerrors.New(gwerrors.KindHostKey, gwerrors.CodeHostKeyTimeout,
			"host key prompt timed out")
	}
}

// Respond answers a pending prompt for connectionID. Returns false if no
// prompt is currently pending for that connection (already answered, timed
// out, or never requested).
func (v *Verifier) Respond(connectionID string, accept bool) bool {
	v.mu.Lock()
	ch, ok := v.pending[connectionID]
	v.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- accept:
		return true
	default:
		return false
	}
}

func (v *Verifier) publish(connectionID, eventType string, payload any, priority eventbus.Priority) {
	if v.bus == nil {
		return
	}
	_ = v.bus.Publish(eventbus.Event{
		Type:          eventType,
		Payload:       payload,
		Priority:      priority,
		CorrelationID: connectionID,
	})
}
