package main

import (
	"log"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/core"

	"github.com/webssh-gateway/backend/internal/authpipeline"
	"github.com/webssh-gateway/backend/internal/config"
	"github.com/webssh-gateway/backend/internal/eventbus"
	"github.com/webssh-gateway/backend/internal/hooks"
	"github.com/webssh-gateway/backend/internal/hostkeys"
	"github.com/webssh-gateway/backend/internal/routes"
	"github.com/webssh-gateway/backend/internal/sessionstore"
	"github.com/webssh-gateway/backend/internal/settings"
	"github.com/webssh-gateway/backend/internal/socketadapter"
	"github.com/webssh-gateway/backend/internal/sshpool"
	"github.com/webssh-gateway/backend/internal/sshservice"
	"github.com/webssh-gateway/backend/internal/transfer"
	"github.com/webssh-gateway/backend/internal/worker"

	// Register custom PocketBase migrations (host_keys, audit_logs, settings).
	_ "github.com/webssh-gateway/backend/internal/migrations"
)

func main() {
	app := pocketbase.New()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	var w *worker.Worker

	// The gateway's core components need a live core.App (for the host-key
	// trust store), so they're built inside OnServe rather than before
	// app.Start(), the same point routes.Register already runs at.
	app.OnServe().BindFunc(func(se *core.ServeEvent) error {
		hostkeyStore, err := hostkeys.New(se.App)
		if err != nil {
			return err
		}

		bus := eventbus.New(0)
		verifier := sshservice.NewVerifier(hostkeyStore, bus, cfg)
		sshsvc := sshservice.New(cfg, verifier)
		pool := sshpool.New(sshsvc, cfg.PoolMaxConnections, cfg.PoolIdleTimeout, cfg.PoolCleanupInterval)
		sessions := sessionstore.New(cfg.MaxHistorySize)
		transfers := transfer.New(cfg.SFTPMaxConcurrentTransfers)
		authPipeline := authpipeline.New(cfg, sessions, authpipeline.AutoAnswer)
		if err := loadDefaultUser(se.App, authPipeline); err != nil {
			log.Printf("gatewayd: configured default user not loaded: %v", err)
		}
		adapter := socketadapter.New(cfg, sessions, pool, sshsvc, verifier, authPipeline, transfers, bus)

		routes.SetGateway(adapter, cfg)
		routes.Register(se)

		w = worker.New(se.App, pool, transfers)
		w.Start()

		return se.Next()
	})

	hooks.Register(app)

	app.OnTerminate().BindFunc(func(e *core.TerminateEvent) error {
		if w != nil {
			w.Shutdown()
		}
		return e.Next()
	})

	if err := app.Start(); err != nil {
		log.Fatal(err)
	}
}

// loadDefaultUser reads the operator-configured fallback credential from
// the auth/defaultUser settings group (stored with its secrets encrypted
// via internal/crypto) and installs it on pipeline. A missing or
// never-configured row is not an error — it just means no default user is
// set, the same as before this feature existed.
func loadDefaultUser(app core.App, pipeline *authpipeline.Pipeline) error {
	group, err := settings.GetGroup(app, "auth", "defaultUser", map[string]any{})
	if err != nil {
		return nil
	}
	username := settings.String(group, "username", "")
	if username == "" {
		return nil
	}

	cred, err := authpipeline.DefaultUserFromStoredFields(
		username,
		settings.String(group, "passwordEnc", ""),
		settings.String(group, "privateKeyEnc", ""),
		settings.String(group, "passphraseEnc", ""),
		authpipeline.Method(settings.String(group, "methodHint", "")),
	)
	if err != nil {
		return err
	}

	pipeline.SetDefaultUser(cred)
	return nil
}
