package routes

import (
	"net/http"

	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/hook"
	"github.com/pocketbase/pocketbase/tools/router"

	"github.com/gorilla/websocket"

	"github.com/webssh-gateway/backend/internal/config"
	"github.com/webssh-gateway/backend/internal/socketadapter"
)

var wsUpgrader = websocket.Upgrader{
	// CheckOrigin allows all origins. Authentication is enforced via JWT
	// (wsTokenAuth + RequireAuth) so a permissive CORS policy on the upgrade
	// itself is acceptable. config.CORSOrigins is not consulted here or by
	// any other route.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsTokenAuth authenticates WebSocket upgrade requests using a "token"
// query parameter. Browsers cannot set custom headers on a WS upgrade, so
// the frontend sends the JWT as ?token=. PocketBase's global loadAuthToken
// middleware runs before route-level Bind, so the auth record is resolved
// here rather than relying on a header the browser never sent.
func wsTokenAuth() *hook.Handler[*core.RequestEvent] {
	return &hook.Handler[*core.RequestEvent]{
		Id: "wsTokenAuth",
		// Must run AFTER loadAuthToken (-1020) but BEFORE RequireAuth (0).
		Priority: -1019,
		Func: func(e *core.RequestEvent) error {
			if e.Auth != nil {
				return e.Next()
			}
			tok := e.Request.URL.Query().Get("token")
			if tok == "" {
				return e.Next()
			}
			record, err := e.App.FindAuthRecordByToken(tok, core.TokenTypeAuth)
			if err == nil && record != nil {
				e.Auth = record
			}
			return e.Next()
		},
	}
}

var (
	gatewayAdapter *socketadapter.Adapter
	gatewayConfig  *config.Config
)

// SetGateway wires the shared Adapter and Config the WebSocket route
// delegates to. Called once from main before Register.
func SetGateway(adapter *socketadapter.Adapter, cfg *config.Config) {
	gatewayAdapter = adapter
	gatewayConfig = cfg
}

// registerGatewayRoutes registers the single WebSocket endpoint that serves
// every SSH session: authentication, terminal I/O, exec, SFTP, and host-key
// verification all multiplex over this one connection per the socket
// adapter's message kinds.
func registerGatewayRoutes(g *router.RouterGroup[*core.RequestEvent]) {
	ws := g.Group("/gateway")
	ws.Bind(wsTokenAuth())
	ws.GET("/ws", handleGatewayWS)
}

func handleGatewayWS(e *core.RequestEvent) error {
	if gatewayAdapter == nil {
		return e.JSON(http.StatusServiceUnavailable, map[string]any{"message": "gateway not initialized"})
	}

	conn, err := wsUpgrader.Upgrade(e.Response, e.Request, nil)
	if err != nil {
		return nil // Upgrade already wrote the response.
	}

	meta := socketadapter.ConnMeta{
		ClientIP:  e.RealIP(),
		UserAgent: e.Request.Header.Get("User-Agent"),
	}
	if username, password, ok := e.Request.BasicAuth(); ok {
		meta.BasicAuthUsername = username
		meta.BasicAuthPassword = password
		meta.HasBasicAuth = true
	}
	if gatewayConfig != nil && gatewayConfig.SSOEnabled && trustedProxy(e.RealIP(), gatewayConfig.SSOTrustedProxies) {
		meta.SSOHeaders = mapSSOHeaders(e.Request, gatewayConfig.SSOHeaderMapping)
	}

	gatewayAdapter.Serve(conn, meta)
	return nil
}

// mapSSOHeaders applies the configured header-name -> field-name mapping to
// the upgrade request, producing the already-mapped form authpipeline.Request
// expects.
func mapSSOHeaders(r *http.Request, mapping map[string]string) map[string]string {
	out := map[string]string{}
	for headerName, field := range mapping {
		if v := r.Header.Get(headerName); v != "" {
			out[field] = v
		}
	}
	return out
}

func trustedProxy(clientIP string, trusted []string) bool {
	if len(trusted) == 0 {
		return true
	}
	for _, t := range trusted {
		if t == clientIP {
			return true
		}
	}
	return false
}
