package socketadapter

import (
	"sync"

	"github.com/webssh-gateway/backend/internal/authpipeline"
	"github.com/webssh-gateway/backend/internal/sshservice"
)

// connContext is the adapter's small per-connection mutable state, named
// and shaped after the component's external description.
type connContext struct {
	mu sync.Mutex

	sessionID    string
	connectionID string

	shellStream *sshservice.Stream

	storedCredential   authpipeline.Credential
	haveStoredPassword bool
	originalAuthMethod authpipeline.Method

	initialTermSettings termSettings
	termApplied         bool

	clientIP  string
	username  string
	userAgent string

	outputLimiterPaused bool
	backpressurePaused  bool

	// pendingTransfers tracks the upload/download transfer ids this
	// connection started; teardown does not read it, since the transfer
	// manager is the source of truth for cancellation.
	pendingTransfers map[string]struct{}
}

type termSettings struct {
	Term string
	Rows int
	Cols int
	Env  map[string]string
}

func newConnContext(clientIP, username, userAgent string) *connContext {
	return &connContext{
		clientIP:         clientIP,
		username:         username,
		userAgent:        userAgent,
		pendingTransfers: map[string]struct{}{},
	}
}

func (c *connContext) setSession(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = sessionID
}

func (c *connContext) setConnection(connectionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectionID = connectionID
}

func (c *connContext) getConnectionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectionID
}

func (c *connContext) setShellStream(s *sshservice.Stream) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shellStream = s
}

func (c *connContext) getShellStream() *sshservice.Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shellStream
}

func (c *connContext) bufferTermSettings(rows, cols int, term string, env map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if term != "" {
		c.initialTermSettings.Term = term
	}
	if rows > 0 {
		c.initialTermSettings.Rows = rows
	}
	if cols > 0 {
		c.initialTermSettings.Cols = cols
	}
	if env != nil {
		c.initialTermSettings.Env = env
	}
}

func (c *connContext) trackTransfer(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pendingTransfers[id] = struct{}{}
}

func (c *connContext) untrackTransfer(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pendingTransfers, id)
}
