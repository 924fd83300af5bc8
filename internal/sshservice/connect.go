// Package sshservice dials and manages SSH connections on behalf of the
// connection pool: algorithm-restricted handshakes, host-key verification,
// keepalive, PTY shells, one-shot exec, and SFTP channel access.
package sshservice

import (
	"fmt"
	"net"
	"sync"
	"time"

	cryptossh "golang.org/x/crypto/ssh"

	"github.com/rs/zerolog/log"
	"github.com/webssh-gateway/backend/internal/authpipeline"
	"github.com/webssh-gateway/backend/internal/config"
	"github.com/webssh-gateway/backend/internal/gwerrors"
)

// ConnectParams describes one dial attempt. It satisfies sshpool's
// ConnectParams (any) and is handed back to Service.Connect unchanged.
type ConnectParams struct {
	ConnectionID string
	Credential   authpipeline.Credential
}

// Service implements sshpool.Factory, dialing real SSH connections using
// the gateway's configured algorithm lists, timeouts, and host-key policy.
type Service struct {
	cfg      *config.Config
	verifier *Verifier
}

// New builds a Service.
func New(cfg *config.Config, verifier *Verifier) *Service {
	return &Service{cfg: cfg, verifier: verifier}
}

type connHandle struct {
	client *cryptossh.Client

	closeOnce sync.Once
	stop      chan struct{}
}

// Connect dials params.Credential.Host:Port, authenticating with the
// resolved credential and verifying the host key through the configured
// verifier. It implements sshpool.Factory.
func (s *Service) Connect(params any) (any, error) {
	p, ok := params.(ConnectParams)
	if !ok {
		return nil, gwerrors.New(gwerrors.KindSystem, gwerrors.CodeDialFailed,
			fmt.Sprintf("sshservice: unexpected connect params type %T", params))
	}
	cred := p.Credential

	authMethods, err := s.authMethods(cred)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindAuthentication, gwerrors.CodeAuthenticationFail,
			"building SSH auth method", err)
	}

	clientCfg := &cryptossh.ClientConfig{
		User:              cred.Username,
		Auth:              authMethods,
		HostKeyCallback:   s.verifier.Callback(p.ConnectionID, cred.Host, cred.Port),
		HostKeyAlgorithms: s.cfg.HostKeyAlgorithms,
		Timeout:           s.cfg.ReadyTimeout,
	}
	if len(s.cfg.KexAlgorithms) > 0 || len(s.cfg.CiphersAlgorithms) > 0 || len(s.cfg.MACsAlgorithms) > 0 {
		clientCfg.Config = cryptossh.Config{
			KeyExchanges: s.cfg.KexAlgorithms,
			Ciphers:      s.cfg.CiphersAlgorithms,
			MACs:         s.cfg.MACsAlgorithms,
		}
	}

	addr := net.JoinHostPort(cred.Host, fmt.Sprintf("%d", cred.Port))
	client, err := cryptossh.Dial("tcp", addr, clientCfg)
	if err != nil {
		if gerr, ok := gwerrors.As(err); ok {
			return nil, gerr
		}
		return nil, gwerrors.Wrap(gwerrors.KindConnection, gwerrors.CodeDialFailed,
			"dial "+addr, err)
	}

	h := &connHandle{client: client, stop: make(chan struct{})}
	go s.keepalive(h)
	return h, nil
}

// Destroy idempotently closes the native client and stops its keepalive
// loop. It implements sshpool.Factory.
func (s *Service) Destroy(handle any) error {
	h, ok := handle.(*connHandle)
	if !ok {
		return nil
	}
	h.closeOnce.Do(func() {
		close(h.stop)
		_ = h.client.Close()
	})
	return nil
}

func (s *Service) keepalive(h *connHandle) {
	if s.cfg.KeepaliveInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.KeepaliveInterval)
	defer ticker.Stop()

	failures := 0
	maxFailures := s.cfg.KeepaliveCountMax
	if maxFailures <= 0 {
		maxFailures = 3
	}

	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			_, _, err := h.client.SendRequest("keepalive@webssh-gateway", true, nil)
			if err != nil {
				failures++
				if failures >= maxFailures {
					log.Warn().Int("failures", failures).Msg("sshservice: keepalive failed, closing connection")
					_ = h.client.Close()
					return
				}
				continue
			}
			failures = 0
		}
	}
}

func (s *Service) authMethods(cred authpipeline.Credential) ([]cryptossh.AuthMethod, error) {
	var methods []cryptossh.AuthMethod

	if cred.HasPrivateKey() {
		var signer cryptossh.Signer
		var err error
		if cred.Passphrase != "" {
			signer, err = cryptossh.ParsePrivateKeyWithPassphrase(cred.PrivateKey, []byte(cred.Passphrase))
		} else {
			signer, err = cryptossh.ParsePrivateKey(cred.PrivateKey)
		}
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		methods = append(methods, cryptossh.PublicKeys(signer))
	}

	if cred.HasPassword() {
		methods = append(methods, cryptossh.Password(cred.Password))
		methods = append(methods, cryptossh.KeyboardInteractive(
			func(name, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range questions {
					answers[i] = cred.Password
				}
				return answers, nil
			}))
	}

	if len(methods) == 0 {
		return nil, fmt.Errorf("no usable authentication material on credential")
	}
	return methods, nil
}
