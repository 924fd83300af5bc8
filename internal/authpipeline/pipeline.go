// Package authpipeline resolves SSH login credentials from a priority chain
// of sources, enforces the configured allowed-methods policy before any
// network I/O, and drives a session's auth sub-state through the sealed
// sessionstore actions.
package authpipeline

import (
	"regexp"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/webssh-gateway/backend/internal/config"
	"github.com/webssh-gateway/backend/internal/gwerrors"
	"github.com/webssh-gateway/backend/internal/sessionstore"
)

// KeyboardInteractiveMode selects how keyboard-interactive prompts are
// answered.
type KeyboardInteractiveMode string

const (
	// AutoAnswer answers every prompt matching /password/i with the
	// resolved password. It is the default.
	AutoAnswer KeyboardInteractiveMode = "auto"
	// Forward relays prompts to the client over the socket and awaits
	// responses.
	Forward KeyboardInteractiveMode = "forward"
)

var passwordPromptRE = regexp.MustCompile(`(?i)password`)

// PromptForwarder relays keyboard-interactive prompts to the browser and
// returns the client's answers, in order.
type PromptForwarder func(prompts []string) ([]string, error)

// Pipeline ties method-policy enforcement and credential resolution to a
// session's auth state.
type Pipeline struct {
	cfg      *config.Config
	sessions *sessionstore.Store
	kiMode   KeyboardInteractiveMode

	mu          sync.RWMutex
	defaultUser *Credential
}

// New builds a Pipeline. kiMode defaults to AutoAnswer if empty.
func New(cfg *config.Config, sessions *sessionstore.Store, kiMode KeyboardInteractiveMode) *Pipeline {
	if kiMode == "" {
		kiMode = AutoAnswer
	}
	return &Pipeline{cfg: cfg, sessions: sessions, kiMode: kiMode}
}

// SetDefaultUser installs the configured fallback credential consulted when
// a request carries no post-body, Basic-auth, or SSO credential. Passing
// nil clears it. Safe to call at any time, including after the pipeline is
// already serving connections — an operator changing the stored default
// user takes effect on the next Begin call.
func (p *Pipeline) SetDefaultUser(c *Credential) {
	p.mu.Lock()
	p.defaultUser = c
	p.mu.Unlock()
}

// CheckMethod enforces that method is in the configured allowed set,
// failing fast with AuthMethodDisabled before any credential resolution or
// network I/O.
func (p *Pipeline) CheckMethod(sessionID string, method Method) error {
	if p.cfg.Allows(method) {
		return nil
	}
	err := gwerrors.New(gwerrors.KindAuthentication, gwerrors.CodeAuthMethodDisabled,
		"authentication method disabled: "+string(method))
	p.sessions.Dispatch(sessionID, sessionstore.AuthFailureAction{
		Method: string(method), Error: err.Error(),
	})
	log.Warn().Str("session_id", sessionID).Str("method", string(method)).
		Msg("authpipeline: method disabled")
	return err
}

// Begin resolves a credential for req and records the attempt against the
// session as pending. It does not itself contact the SSH server.
func (p *Pipeline) Begin(sessionID string, req Request) (Credential, error) {
	if req.DefaultUser == nil {
		p.mu.RLock()
		req.DefaultUser = p.defaultUser
		p.mu.RUnlock()
	}

	cred, ok := Resolve(req)
	if !ok {
		err := gwerrors.New(gwerrors.KindAuthentication, gwerrors.CodeUnauthorized,
			"no credential source available")
		p.sessions.Dispatch(sessionID, sessionstore.AuthFailureAction{Error: err.Error()})
		return Credential{}, err
	}

	if err := p.CheckMethod(sessionID, cred.MethodHint); err != nil {
		return Credential{}, err
	}

	p.sessions.Dispatch(sessionID, sessionstore.AuthRequestAction{
		Method: string(cred.MethodHint), Username: cred.Username,
	})
	return cred, nil
}

// Succeed records a successful authentication.
func (p *Pipeline) Succeed(sessionID string, method Method, username string) {
	p.sessions.Dispatch(sessionID, sessionstore.AuthSuccessAction{
		Method: string(method), Username: username,
	})
}

// Fail classifies cause and records a failed authentication, returning the
// typed error to surface to the client.
func (p *Pipeline) Fail(sessionID string, method Method, username string, cause error) error {
	gerr := gwerrors.Wrap(gwerrors.KindAuthentication, gwerrors.CodeAuthenticationFail,
		"authentication failed", cause)
	p.sessions.Dispatch(sessionID, sessionstore.AuthFailureAction{
		Method: string(method), Username: username, Error: gerr.Error(),
	})
	return gerr
}

// AnswerPrompts answers a batch of keyboard-interactive prompts according
// to the pipeline's configured mode.
func (p *Pipeline) AnswerPrompts(password string, prompts []string, forward PromptForwarder) ([]string, error) {
	if p.kiMode == Forward {
		if forward == nil {
			return nil, gwerrors.New(gwerrors.KindAuthentication, gwerrors.CodeAuthenticationFail,
				"keyboard-interactive forwarding requested but no forwarder configured")
		}
		return forward(prompts)
	}

	answers := make([]string, len(prompts))
	for i, prompt := range prompts {
		if !passwordPromptRE.MatchString(prompt) {
			return nil, gwerrors.New(gwerrors.KindAuthentication, gwerrors.CodeAuthenticationFail,
				"cannot auto-answer keyboard-interactive prompt: "+prompt)
		}
		answers[i] = password
	}
	return answers, nil
}
