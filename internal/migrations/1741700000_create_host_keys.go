package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

// Create host_keys BaseCollection: the gateway's trust-on-first-use store for
// remote SSH host public keys.
//
// Access rules:
//   - List/View: superuser only
//   - Create/Update/Delete: nil = forbidden (all writes go through internal/hostkeys,
//     which bypasses collection rules the same way internal/audit does)
//
// Schema:
//
//	host        — connection hostname or IP the key was observed on
//	port        — connection port
//	algorithm   — SSH public key algorithm (e.g. "ssh-ed25519", "rsa-sha2-512")
//	fingerprint — SHA256 fingerprint of the key, base64 (as rendered by
//	              golang.org/x/crypto/ssh.FingerprintSHA256)
//	public_key  — the marshaled public key, base64
//	first_seen  — when this host/algorithm pair was first trusted
//	last_seen   — when this row was created or last updated (lookups do
//	              not touch it)
//	added_by    — user id of the operator who accepted the key (empty for
//	              auto-trust-on-first-use)
//
// Unique index on (host, port, algorithm): a remote host may rotate which
// algorithm it offers, but only ever has one trusted key per algorithm.
func init() {
	m.Register(func(app core.App) error {
		col := core.NewBaseCollection("host_keys")

		col.Fields.Add(&core.TextField{Name: "host", Required: true})
		col.Fields.Add(&core.NumberField{Name: "port", Required: true})
		col.Fields.Add(&core.TextField{Name: "algorithm", Required: true})
		col.Fields.Add(&core.TextField{Name: "fingerprint", Required: true})
		col.Fields.Add(&core.TextField{Name: "public_key", Required: true})
		col.Fields.Add(&core.TextField{Name: "added_by"})
		col.Fields.Add(&core.AutodateField{
			Name:     "first_seen",
			OnCreate: true,
		})
		col.Fields.Add(&core.AutodateField{
			Name:     "last_seen",
			OnCreate: true,
			OnUpdate: true,
		})

		rule := "@request.auth.collectionName = '_superusers'"
		col.ListRule = &rule
		col.ViewRule = &rule
		col.CreateRule = nil
		col.UpdateRule = nil
		col.DeleteRule = nil

		col.Indexes = []string{
			"CREATE UNIQUE INDEX idx_host_keys_host_port_algo ON host_keys (host, port, algorithm)",
		}

		return app.Save(col)
	}, func(app core.App) error {
		col, err := app.FindCollectionByNameOrId("host_keys")
		if err != nil {
			return nil // already gone
		}
		return app.Delete(col)
	})
}
