package sshservice

import (
	"bytes"
	"fmt"
	"time"

	cryptossh "golang.org/x/crypto/ssh"

	"github.com/webssh-gateway/backend/internal/gwerrors"
)

// ExecOptions configures a non-interactive command run.
type ExecOptions struct {
	PTY     bool
	Term    string
	Rows    int
	Cols    int
	Env     map[string]string
	Timeout time.Duration
}

// ExecResult is the outcome of a completed (or killed) exec.
type ExecResult struct {
	Stdout string
	Stderr string
	Code   int
	Signal string
}

// Exec runs command non-interactively on handle and waits up to
// opts.Timeout (0 or negative selects 30s) for it to finish.
func (s *Service) Exec(handle any, command string, opts ExecOptions) (ExecResult, error) {
	h, ok := handle.(*connHandle)
	if !ok {
		return ExecResult{}, fmt.Errorf("sshservice: unexpected handle type %T", handle)
	}

	sess, err := h.client.NewSession()
	if err != nil {
		return ExecResult{}, fmt.Errorf("sshservice: new session: %w", err)
	}
	defer sess.Close()

	if opts.PTY {
		term := opts.Term
		if term == "" {
			term = "xterm-256color"
		}
		rows, cols := opts.Rows, opts.Cols
		if rows <= 0 {
			rows = 24
		}
		if cols <= 0 {
			cols = 80
		}
		modes := cryptossh.TerminalModes{cryptossh.ECHO: 1}
		if err := sess.RequestPty(term, rows, cols, modes); err != nil {
			return ExecResult{}, fmt.Errorf("sshservice: request pty: %w", err)
		}
	}

	env, err := FilterEnv(opts.Env, nil)
	if err != nil {
		return ExecResult{}, fmt.Errorf("sshservice: environment: %w", err)
	}
	for name, value := range env {
		_ = sess.Setenv(name, value)
	}

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- sess.Run(command) }()

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	select {
	case err := <-done:
		return resultFromRunError(stdout.String(), stderr.String(), err)
	case <-time.After(timeout):
		_ = sess.Signal(cryptossh.SIGKILL)
		return ExecResult{}, gwerrors.New(gwerrors.KindConnection, gwerrors.CodeExecTimeout,
			"exec timed out after "+timeout.String())
	}
}

func resultFromRunError(stdout, stderr string, err error) (ExecResult, error) {
	if err == nil {
		return ExecResult{Stdout: stdout, Stderr: stderr, Code: 0}, nil
	}
	if exitErr, ok := err.(*cryptossh.ExitError); ok {
		return ExecResult{
			Stdout: stdout,
			Stderr: stderr,
			Code:   exitErr.ExitStatus(),
			Signal: exitErr.Signal(),
		}, nil
	}
	if _, ok := err.(*cryptossh.ExitMissingError); ok {
		return ExecResult{Stdout: stdout, Stderr: stderr, Code: -1}, nil
	}
	return ExecResult{}, fmt.Errorf("sshservice: exec: %w", err)
}
