package migrations

import (
	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
	"github.com/webssh-gateway/backend/internal/settings"
)

// Seed default rows for pool/limits, ratelimit/defaults, transfer/limits, and
// hostkeys/policy in app_settings.
//
// Uses an insert-if-not-exists pattern for each row so an operator who has
// already customised a group via the Ext Settings API keeps their values.
// The down() function is a no-op — seed data is never rolled back.
func init() {
	type seedRow struct {
		module string
		key    string
		value  map[string]any
	}

	rows := []seedRow{
		{
			module: "pool",
			key:    "limits",
			value: map[string]any{
				"maxConnections":     64,
				"maxPerUser":         8,
				"idleTimeoutSec":     600,
				"cleanupIntervalSec": 60,
			},
		},
		{
			module: "ratelimit",
			key:    "defaults",
			value: map[string]any{
				"bytesPerSecond": 1 << 20,
				"burstBytes":     4 << 20,
			},
		},
		{
			module: "transfer",
			key:    "limits",
			value: map[string]any{
				"maxFileBytes":  500 << 20,
				"chunkBytes":    256 << 10,
				"maxConcurrent": 4,
			},
		},
		{
			module: "hostkeys",
			key:    "policy",
			value: map[string]any{
				"verificationMode": "trust-on-first-use",
				"unknownKeyAction": "prompt",
			},
		},
	}

	m.Register(func(app core.App) error {
		for _, row := range rows {
			_, err := app.FindFirstRecordByFilter(
				"app_settings",
				"module = {:module} && key = {:key}",
				dbx.Params{"module": row.module, "key": row.key},
			)
			if err == nil {
				// Row already exists — skip.
				continue
			}
			if err := settings.SetGroup(app, row.module, row.key, row.value); err != nil {
				return err
			}
		}
		return nil
	}, func(app core.App) error {
		return nil
	})
}
