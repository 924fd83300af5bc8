package socketadapter

import (
	"time"

	"github.com/webssh-gateway/backend/internal/sessionstore"
	"github.com/webssh-gateway/backend/internal/sshservice"
)

const (
	maxExecTimeout     = 5 * time.Minute
	defaultExecTimeout = 30 * time.Second
)

func (a *Adapter) handleExec(sessionID string, ctx *connContext, out *outboundWriter, env inboundEnvelope) {
	if env.Command == "" {
		a.sendError(out, "exec requires a non-empty command")
		return
	}

	connID := ctx.getConnectionID()
	if connID == "" {
		a.sendError(out, "exec requires an established connection")
		return
	}
	handle, ok := a.pool.Get(connID)
	if !ok {
		a.sendError(out, "connection no longer available")
		return
	}

	timeout := time.Duration(env.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = defaultExecTimeout
	}
	if timeout > maxExecTimeout {
		timeout = maxExecTimeout
	}

	rows, cols := env.Rows, env.Cols
	if rows < 0 || rows > sessionstore.MaxRows || cols < 0 || cols > sessionstore.MaxCols {
		a.sendError(out, "exec rows/cols out of range")
		return
	}

	result, err := a.sshsvc.Exec(handle, env.Command, sshservice.ExecOptions{
		PTY:     env.PTY,
		Term:    env.Term,
		Rows:    rows,
		Cols:    cols,
		Env:     env.Env,
		Timeout: timeout,
	})
	if err != nil {
		a.sendConnectionError(sessionID, out, err)
		return
	}

	if result.Stdout != "" {
		a.send(out, outbound{Kind: outKindExecData, Type: "stdout", Data: result.Stdout})
	}
	if result.Stderr != "" {
		a.send(out, outbound{Kind: outKindExecData, Type: "stderr", Data: result.Stderr})
	}
	a.send(out, outbound{Kind: outKindExecExit, Code: result.Code, Signal: result.Signal})
}
