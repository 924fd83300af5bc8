package socketadapter

import (
	"github.com/rs/zerolog/log"

	"github.com/webssh-gateway/backend/internal/authpipeline"
	"github.com/webssh-gateway/backend/internal/gwerrors"
	"github.com/webssh-gateway/backend/internal/sessionstore"
)

func (a *Adapter) handleAuthenticate(sessionID string, ctx *connContext, out *outboundWriter, meta ConnMeta, env inboundEnvelope) {
	if env.Host != "" && !a.cfg.HostAllowed(env.Host) {
		a.sendAuthFailure(out, gwerrors.New(gwerrors.KindValidation, gwerrors.CodeForbiddenTarget,
			"target host is not in the allowed subnet list"))
		return
	}

	var postBody *authpipeline.Credential
	if env.Username != "" || env.Password != "" || env.PrivateKey != "" {
		postBody = &authpipeline.Credential{
			Username:   env.Username,
			Host:       env.Host,
			Port:       env.Port,
			Password:   env.Password,
			PrivateKey: []byte(env.PrivateKey),
			Passphrase: env.Passphrase,
		}
	}

	req := authpipeline.Request{
		Host:              env.Host,
		Port:              env.Port,
		PostBody:          postBody,
		BasicAuthUsername: meta.BasicAuthUsername,
		BasicAuthPassword: meta.BasicAuthPassword,
		HasBasicAuth:      meta.HasBasicAuth,
		SSOHeaders:        meta.SSOHeaders,
	}

	cred, err := a.auth.Begin(sessionID, req)
	if err != nil {
		a.sendAuthFailure(out, err)
		return
	}

	ctx.mu.Lock()
	ctx.username = cred.Username
	ctx.storedCredential = cred
	ctx.haveStoredPassword = cred.HasPassword()
	ctx.mu.Unlock()

	method := resolveMethodHint(cred)
	a.auth.Succeed(sessionID, method, cred.Username)
	a.sessions.Dispatch(sessionID, sessionstore.MetadataUpdateAction{UserID: &cred.Username})

	a.send(out, outbound{Kind: outKindAuthentication, Success: boolPtr(true)})
	a.send(out, outbound{
		Kind:           outKindPermissions,
		AutoLog:        boolPtr(true),
		AllowReplay:    boolPtr(a.cfg.Allows(authpipeline.Password)),
		AllowReconnect: boolPtr(true),
		AllowReauth:    boolPtr(true),
	})

	log.Info().Str("session_id", sessionID).Str("username", cred.Username).
		Str("host", cred.Host).Msg("socketadapter: authenticated")
}

func resolveMethodHint(cred authpipeline.Credential) authpipeline.Method {
	if cred.MethodHint != "" {
		return cred.MethodHint
	}
	if cred.HasPrivateKey() {
		return authpipeline.PublicKey
	}
	return authpipeline.Password
}

func (a *Adapter) sendAuthFailure(out *outboundWriter, err error) {
	msg := err.Error()
	if gerr, ok := gwerrors.As(err); ok {
		msg = gerr.Msg
	}
	a.send(out, outbound{Kind: outKindAuthentication, Success: boolPtr(false), Message: msg})
}

// handleControl processes "control" messages, currently only replayCredentials.
func (a *Adapter) handleControl(sessionID string, ctx *connContext, out *outboundWriter, env inboundEnvelope) {
	if env.Control != "replayCredentials" {
		a.sendError(out, "unsupported control: "+env.Control)
		return
	}
	if !a.cfg.Allows(authpipeline.Password) {
		a.sendError(out, "credential replay is disabled by configuration")
		return
	}

	ctx.mu.Lock()
	stream := ctx.shellStream
	password := ctx.storedCredential.Password
	hasPassword := ctx.haveStoredPassword
	ctx.mu.Unlock()

	if stream == nil {
		a.sendError(out, "no active shell to replay into")
		return
	}
	if !hasPassword {
		a.sendError(out, "no stored password available to replay")
		return
	}
	if _, err := stream.Write([]byte(password + "\n")); err != nil {
		a.sendError(out, "replay failed: "+err.Error())
	}
}
