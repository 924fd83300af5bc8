// Package routes registers the gateway's custom API routes on top of
// PocketBase's built-in collection REST API.
//
// Route groups:
//   - /api/ext/gateway/ws — the WebSocket SSH/SFTP gateway (one endpoint,
//     many message kinds; see internal/socketadapter)
//   - /api/ext/settings   — runtime-tunable pool/rate-limit/transfer/
//     host-key settings, superuser only
package routes

import (
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

// Register mounts all custom route groups on the PocketBase router.
func Register(se *core.ServeEvent) {
	g := se.Router.Group("/api/ext")
	g.Bind(apis.RequireAuth())

	registerGatewayRoutes(g)

	RegisterSettings(se)
}
