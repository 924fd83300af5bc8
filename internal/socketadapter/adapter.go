package socketadapter

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/webssh-gateway/backend/internal/authpipeline"
	"github.com/webssh-gateway/backend/internal/config"
	"github.com/webssh-gateway/backend/internal/eventbus"
	"github.com/webssh-gateway/backend/internal/ratelimit"
	"github.com/webssh-gateway/backend/internal/sessionstore"
	"github.com/webssh-gateway/backend/internal/sshpool"
	"github.com/webssh-gateway/backend/internal/sshservice"
	"github.com/webssh-gateway/backend/internal/transfer"
)

// ConnMeta carries the facts the HTTP layer already knows about a WebSocket
// upgrade: the resolved auth sources the authentication pipeline consults
// besides the post-body credential, and bookkeeping for audit logging.
type ConnMeta struct {
	ClientIP          string
	UserAgent         string
	BasicAuthUsername string
	BasicAuthPassword string
	HasBasicAuth      bool
	SSOHeaders        map[string]string
}

// Adapter is the long-lived, shared dependency bundle for every WebSocket
// connection's event loop. One Adapter serves every connection; Serve
// creates the per-connection state.
type Adapter struct {
	cfg       *config.Config
	sessions  *sessionstore.Store
	pool      *sshpool.Pool
	sshsvc    *sshservice.Service
	verifier  *sshservice.Verifier
	auth      *authpipeline.Pipeline
	transfers *transfer.Manager
	bus       *eventbus.Bus

	mu   sync.RWMutex
	live map[string]*liveConn // sessionID -> connection
}

type liveConn struct {
	out *outboundWriter
	ctx *connContext
}

// New builds an Adapter and registers its host-key event routing on bus.
// bus handlers are process-lifetime (eventbus has no per-handler
// unsubscribe), so this registration happens once here rather than per
// connection; routing to the right socket is done at delivery time by
// looking up the event's CorrelationID (the session id) in the live map.
func New(
	cfg *config.Config,
	sessions *sessionstore.Store,
	pool *sshpool.Pool,
	sshsvc *sshservice.Service,
	verifier *sshservice.Verifier,
	auth *authpipeline.Pipeline,
	transfers *transfer.Manager,
	bus *eventbus.Bus,
) *Adapter {
	a := &Adapter{
		cfg:       cfg,
		sessions:  sessions,
		pool:      pool,
		sshsvc:    sshsvc,
		verifier:  verifier,
		auth:      auth,
		transfers: transfers,
		bus:       bus,
		live:      map[string]*liveConn{},
	}
	a.registerHostkeyRouting()
	return a
}

func (a *Adapter) registerConn(sessionID string, lc *liveConn) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.live[sessionID] = lc
}

func (a *Adapter) unregisterConn(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.live, sessionID)
}

func (a *Adapter) lookupConn(sessionID string) (*liveConn, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	lc, ok := a.live[sessionID]
	return lc, ok
}

// Serve runs one WebSocket connection's event loop to completion. It
// blocks until the socket is closed (by either side) or a fatal error
// occurs, tearing down the session's resources before returning.
func (a *Adapter) Serve(conn wsConn, meta ConnMeta) {
	sessionID := uuid.NewString()
	ctx := newConnContext(meta.ClientIP, "", meta.UserAgent)
	out := newOutboundWriter(conn, 256)
	outputLimiter := ratelimit.New(a.cfg.OutputRateLimitBytesPerSec)

	a.sessions.Create(sessionID, sessionstore.Metadata{
		ClientIP:  meta.ClientIP,
		UserAgent: meta.UserAgent,
	})
	a.registerConn(sessionID, &liveConn{out: out, ctx: ctx})

	log.Info().Str("session_id", sessionID).Str("client_ip", meta.ClientIP).Msg("socketadapter: connection opened")

	defer a.teardown(sessionID, ctx, out)

	for {
		messageType, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType == websocket.BinaryMessage {
			a.handleRawData(sessionID, ctx, out, raw)
			continue
		}

		var env inboundEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			a.sendError(out, "malformed message")
			continue
		}

		if stop := a.dispatch(sessionID, ctx, out, outputLimiter, meta, env); stop {
			return
		}
	}
}

// dispatch routes one decoded inbound envelope. Returns true when the
// connection should be closed (a client-initiated disconnect).
func (a *Adapter) dispatch(sessionID string, ctx *connContext, out *outboundWriter, limiter *ratelimit.Limiter, meta ConnMeta, env inboundEnvelope) bool {
	switch env.Kind {
	case kindAuthenticate:
		a.handleAuthenticate(sessionID, ctx, out, meta, env)
	case kindGeometry, kindResize:
		a.handleResize(sessionID, ctx, out, env)
	case kindTerminal:
		a.handleTerminal(sessionID, ctx, out, limiter, env)
	case kindData:
		a.handleTextData(ctx, env)
	case kindExec:
		a.handleExec(sessionID, ctx, out, env)
	case kindControl:
		a.handleControl(sessionID, ctx, out, env)
	case kindSFTPList, kindSFTPStat, kindSFTPMkdir, kindSFTPDelete,
		kindSFTPUploadStart, kindSFTPUploadChunk, kindSFTPUploadCancel,
		kindSFTPDownloadStart, kindSFTPDownloadCancel:
		a.handleSFTP(sessionID, ctx, out, env)
	case kindHostkeyVerifyResp:
		a.verifier.Respond(sessionID, env.Action == "accept")
	case kindDisconnect:
		return true
	default:
		a.sendError(out, "unknown message kind: "+env.Kind)
	}
	return false
}

func (a *Adapter) teardown(sessionID string, ctx *connContext, out *outboundWriter) {
	a.unregisterConn(sessionID)

	if stream := ctx.getShellStream(); stream != nil {
		_ = stream.Close()
	}
	a.pool.ReleaseSession(sessionID)
	a.transfers.CancelSession(sessionID)
	a.sessions.Dispatch(sessionID, sessionstore.SessionEndAction{})
	out.Close()

	log.Info().Str("session_id", sessionID).Msg("socketadapter: connection closed")
}

func (a *Adapter) sendError(out *outboundWriter, message string) {
	a.send(out, outbound{Kind: outKindSSHError, Message: message})
}

func (a *Adapter) send(out *outboundWriter, msg outbound) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("kind", msg.Kind).Msg("socketadapter: marshal outbound message")
		return
	}
	out.Enqueue(websocket.TextMessage, data)
}

// registerHostkeyRouting wires the five host-key event types to per-session
// delivery. Verifier.publish sets CorrelationID to the session id passed
// into Verifier.Callback (see connect.go), so routing is a direct lookup.
func (a *Adapter) registerHostkeyRouting() {
	if a.bus == nil {
		return
	}
	a.bus.On("hostkey-verify", a.hostkeyHandler(func(p map[string]any) outbound {
		return outbound{
			Kind:        outKindHostkeyVerify,
			Host:        asString(p["host"]),
			Port:        asInt(p["port"]),
			Algorithm:   asString(p["algorithm"]),
			Fingerprint: asString(p["fingerprint"]),
		}
	}))
	a.bus.On("hostkey-verified", a.hostkeyHandler(func(p map[string]any) outbound {
		return outbound{Kind: outKindHostkeyVerified, Source: asString(p["source"])}
	}))
	a.bus.On("hostkey-mismatch", a.hostkeyHandler(func(p map[string]any) outbound {
		return outbound{Kind: outKindHostkeyMismatch, Presented: asString(p["presented"]), Stored: asString(p["stored"])}
	}))
	a.bus.On("hostkey-rejected", a.hostkeyHandler(func(p map[string]any) outbound {
		return outbound{Kind: outKindHostkeyRejected}
	}))
	a.bus.On("hostkey-alert", a.hostkeyHandler(func(p map[string]any) outbound {
		return outbound{Kind: outKindHostkeyAlert, Fingerprint: asString(p["fingerprint"])}
	}))
}

func (a *Adapter) hostkeyHandler(build func(map[string]any) outbound) eventbus.Handler {
	return func(ev eventbus.Event) error {
		lc, ok := a.lookupConn(ev.CorrelationID)
		if !ok {
			return nil
		}
		payload, _ := ev.Payload.(map[string]any)
		a.send(lc.out, build(payload))
		return nil
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
