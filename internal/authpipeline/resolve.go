package authpipeline

import (
	"github.com/webssh-gateway/backend/internal/config"
)

// Method is one of the three SSH authentication methods the pipeline may
// negotiate. It is the same closed set config.AuthMethod enumerates.
type Method = config.AuthMethod

const (
	Password            = config.AuthPassword
	PublicKey           = config.AuthPublicKey
	KeyboardInteractive = config.AuthKeyboardInteractive
)

// Request carries every credential source the pipeline may draw from, in
// the order it will try them. A nil/zero-value field means that source has
// nothing to offer.
type Request struct {
	Host string
	Port int

	// PostBody is set when the client supplied credentials explicitly in
	// the authenticate message body.
	PostBody *Credential

	// BasicAuthUsername/Password come from the HTTP Basic header on the
	// upgrade request, if present.
	BasicAuthUsername string
	BasicAuthPassword string
	HasBasicAuth      bool

	// SSOHeaders holds the already-mapped (field -> value) results of
	// applying the configured SSO header mapping to the upgrade request;
	// empty when SSO is disabled or the proxy didn't send trusted headers.
	SSOHeaders map[string]string

	// DefaultUser is the configured fallback credential loaded from disk,
	// used only when no other source produced one.
	DefaultUser *Credential
}

// Resolve picks the first available credential source in priority order:
// explicit post-body, HTTP Basic, SSO headers, configured default user.
// It never itself validates the credential against the target host — that
// happens during the SSH dial.
func Resolve(req Request) (Credential, bool) {
	if req.PostBody != nil {
		c := *req.PostBody
		c.Host, c.Port = req.Host, req.Port
		return c, true
	}

	if req.HasBasicAuth {
		return Credential{
			Username:   req.BasicAuthUsername,
			Password:   req.BasicAuthPassword,
			Host:       req.Host,
			Port:       req.Port,
			MethodHint: Password,
		}, true
	}

	if len(req.SSOHeaders) > 0 {
		if username, ok := req.SSOHeaders["username"]; ok && username != "" {
			return Credential{
				Username:   username,
				Password:   req.SSOHeaders["password"],
				Host:       req.Host,
				Port:       req.Port,
				MethodHint: Method(firstNonEmpty(req.SSOHeaders["method"], string(Password))),
			}, true
		}
	}

	if req.DefaultUser != nil {
		c := *req.DefaultUser
		c.Host, c.Port = req.Host, req.Port
		return c, true
	}

	return Credential{}, false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
