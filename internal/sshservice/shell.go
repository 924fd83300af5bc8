package sshservice

import (
	"fmt"
	"io"
	"sync"

	cryptossh "golang.org/x/crypto/ssh"

	"github.com/rs/zerolog/log"
)

// ShellOptions configures a PTY-backed shell session.
type ShellOptions struct {
	Term string
	Rows int
	Cols int
	Env  map[string]string
}

// Stream is a duplex byte stream backed by a remote PTY, plus resize.
type Stream struct {
	session *cryptossh.Session
	stdin   io.WriteCloser
	stdout  io.Reader
	mu      sync.Mutex
}

func (s *Stream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stdin.Write(p)
}

func (s *Stream) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

func (s *Stream) Resize(rows, cols int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.WindowChange(rows, cols)
}

func (s *Stream) Close() error {
	_ = s.stdin.Close()
	return s.session.Close()
}

// Shell opens a PTY-backed interactive session on handle (a value returned
// by Service.Connect), with the environment restricted to opts.Env ∩
// envAllowlist.
func (s *Service) Shell(handle any, opts ShellOptions) (*Stream, error) {
	h, ok := handle.(*connHandle)
	if !ok {
		return nil, fmt.Errorf("sshservice: unexpected handle type %T", handle)
	}

	sess, err := h.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("sshservice: new session: %w", err)
	}

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

	modes := cryptossh.TerminalModes{
		cryptossh.ECHO:          1,
		cryptossh.TTY_OP_ISPEED: 14400,
		cryptossh.TTY_OP_OSPEED: 14400,
	}
	if err := sess.RequestPty(term, rows, cols, modes); err != nil {
		sess.Close()
		return nil, fmt.Errorf("sshservice: request pty: %w", err)
	}

	env, err := FilterEnv(opts.Env, s.cfg.EnvAllowlist)
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("sshservice: environment: %w", err)
	}
	for name, value := range env {
		if err := sess.Setenv(name, value); err != nil {
			log.Warn().Str("name", name).Err(err).Msg("sshservice: server rejected setenv")
		}
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("sshservice: stdin pipe: %w", err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("sshservice: stdout pipe: %w", err)
	}

	if err := sess.Shell(); err != nil {
		sess.Close()
		return nil, fmt.Errorf("sshservice: start shell: %w", err)
	}

	return &Stream{session: sess, stdin: stdin, stdout: stdout}, nil
}
