package socketadapter

import (
	"encoding/base64"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/webssh-gateway/backend/internal/gwerrors"
	"github.com/webssh-gateway/backend/internal/ratelimit"
	"github.com/webssh-gateway/backend/internal/sessionstore"
	"github.com/webssh-gateway/backend/internal/sshpool"
	"github.com/webssh-gateway/backend/internal/sshservice"
)

const (
	shellReadBufSize  = 4096
	backpressureTimer = 50 * time.Millisecond
)

func (a *Adapter) handleResize(sessionID string, ctx *connContext, out *outboundWriter, env inboundEnvelope) {
	rows, cols := env.Rows, env.Cols
	if stream := ctx.getShellStream(); stream != nil {
		if rows <= 0 || cols <= 0 {
			a.sendError(out, "resize requires positive rows and cols")
			return
		}
		if err := stream.Resize(rows, cols); err != nil {
			a.sendError(out, "resize failed: "+err.Error())
			return
		}
		a.sessions.Dispatch(sessionID, sessionstore.TerminalResizeAction{Rows: rows, Cols: cols})
		return
	}
	ctx.bufferTermSettings(rows, cols, "", nil)
}

func (a *Adapter) handleTerminal(sessionID string, ctx *connContext, out *outboundWriter, limiter *ratelimit.Limiter, env inboundEnvelope) {
	ctx.mu.Lock()
	connID := ctx.connectionID
	cred := ctx.storedCredential
	buffered := ctx.initialTermSettings
	ctx.mu.Unlock()

	term := env.Term
	rows, cols := env.Rows, env.Cols
	envVars := env.Env
	if term == "" {
		term = buffered.Term
	}
	if rows <= 0 {
		rows = buffered.Rows
	}
	if cols <= 0 {
		cols = buffered.Cols
	}
	if envVars == nil {
		envVars = buffered.Env
	}

	if connID == "" {
		connID = sessionID
		acquired, err := a.pool.Acquire(sessionID, sshservice.ConnectParams{
			ConnectionID: sessionID,
			Credential:   cred,
		})
		if err != nil {
			a.sendConnectionError(sessionID, out, err)
			return
		}
		connID = acquired
		ctx.setConnection(connID)
		a.sessions.Dispatch(sessionID, sessionstore.ConnectionEstablishedAction{
			ConnectionID: connID, Host: cred.Host, Port: cred.Port,
		})
	}

	handle, ok := a.pool.Get(connID)
	if !ok {
		a.sendError(out, "connection no longer available")
		return
	}

	stream, err := a.sshsvc.Shell(handle, sshservice.ShellOptions{Term: term, Rows: rows, Cols: cols, Env: envVars})
	if err != nil {
		a.sendConnectionError(sessionID, out, err)
		return
	}
	ctx.setShellStream(stream)
	a.sessions.Dispatch(sessionID, sessionstore.SetTermAction{Term: term})

	go a.pumpShellOutput(sessionID, ctx, out, stream, limiter)
}

// handleRawData accepts binary WebSocket frames as raw shell stdin — the
// common path for interactive keystrokes.
func (a *Adapter) handleRawData(sessionID string, ctx *connContext, out *outboundWriter, raw []byte) {
	stream := ctx.getShellStream()
	if stream == nil {
		return
	}
	if _, err := stream.Write(raw); err != nil {
		a.sendError(out, "write to shell failed: "+err.Error())
		return
	}
	a.pool.UpdateActivity(ctx.getConnectionID())
}

// handleTextData accepts the JSON-framed "data" kind, whose payload is
// base64 (mirroring the SFTP chunk convention) so arbitrary bytes survive
// JSON transport.
func (a *Adapter) handleTextData(ctx *connContext, env inboundEnvelope) {
	stream := ctx.getShellStream()
	if stream == nil || env.Data == "" {
		return
	}
	decoded, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil {
		return
	}
	_, _ = stream.Write(decoded)
}

// pumpShellOutput is the shell data pump: it reads from the SSH shell
// stream and writes to the WebSocket under two flow-control mechanisms —
// an application-level output rate cap and transport-level backpressure on
// the outbound writer's buffered-byte count. They are applied in sequence
// per chunk (sleep out any rate-limit pause, enqueue, then wait for the
// buffer to drain), so the next read starts only after both allow it.
func (a *Adapter) pumpShellOutput(sessionID string, ctx *connContext, out *outboundWriter, stream *sshservice.Stream, limiter *ratelimit.Limiter) {
	buf := make([]byte, shellReadBufSize)
	highWaterMark := a.cfg.SocketHighWaterMark
	lowWaterMark := highWaterMark / 4

	for {
		n, err := stream.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)

			if pause, resumeAfter := limiter.CheckAndUpdate(int64(n)); pause {
				time.Sleep(resumeAfter)
			}

			out.Enqueue(websocket.BinaryMessage, chunk)

			if highWaterMark > 0 {
				a.waitForDrain(out, highWaterMark, lowWaterMark)
			}

			connID := ctx.getConnectionID()
			a.pool.UpdateActivity(connID)
			a.pool.UpdateMetrics(connID, sshpool.Metrics{BytesOut: int64(n)})
		}
		if err != nil {
			a.sendError(out, "shell closed: "+err.Error())
			return
		}
	}
}

// waitForDrain blocks the shell reader goroutine (not the writer) while the
// outbound writer's buffered bytes stay at or above highWaterMark, polling
// at backpressureTimer intervals — the package's analogue of a transport
// "drain" event, since gorilla/websocket exposes no such notification.
func (a *Adapter) waitForDrain(out *outboundWriter, highWaterMark, lowWaterMark int64) {
	if out.Buffered() < highWaterMark {
		return
	}
	for out.Buffered() >= lowWaterMark {
		time.Sleep(backpressureTimer)
	}
}

func (a *Adapter) sendConnectionError(sessionID string, out *outboundWriter, err error) {
	a.sessions.Dispatch(sessionID, sessionstore.ConnectionErrorAction{Error: err.Error()})
	a.pool.ReleaseSession(sessionID)
	msg := err.Error()
	if gerr, ok := gwerrors.As(err); ok {
		msg = gerr.Msg
		log.Warn().Str("session_id", sessionID).Str("code", gerr.Code).Msg("socketadapter: connection error")
	}
	a.sendError(out, msg)
}
