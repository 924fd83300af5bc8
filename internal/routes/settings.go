package routes

import (
	"net/http"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/webssh-gateway/backend/internal/crypto"
	"github.com/webssh-gateway/backend/internal/settings"
)

// ─── Settings allowlist ────────────────────────────────────────────────────
//
// allowedModuleKeys defines which (module, key) pairs may be read/written via
// the Ext Settings API. Unknown pairs are rejected with 400. Only
// auth/defaultUser is read back by the gateway (at startup, in
// cmd/gatewayd); the pool, ratelimit, transfer and hostkeys groups are
// stored and served here but do not change the values internal/config loads.
var allowedModuleKeys = map[string][]string{
	"pool":      {"limits"},
	"ratelimit": {"defaults"},
	"transfer":  {"limits"},
	"hostkeys":  {"policy"},
	"auth":      {"defaultUser"},
}

// Code-level fallback maps — returned when the DB row is unavailable.
var (
	defaultPoolLimits = map[string]any{
		"maxConnections":    64,
		"maxPerUser":        8,
		"idleTimeoutSec":    600,
		"cleanupIntervalSec": 60,
	}
	defaultRateLimitDefaults = map[string]any{
		"bytesPerSecond": 1 << 20,
		"burstBytes":     4 << 20,
	}
	defaultTransferLimits = map[string]any{
		"maxFileBytes":  500 << 20,
		"chunkBytes":    256 << 10,
		"maxConcurrent": 4,
	}
	defaultHostKeyPolicy = map[string]any{
		"verificationMode":  "trust-on-first-use",
		"unknownKeyAction":  "prompt",
	}
	defaultAuthDefaultUser = map[string]any{
		"username":      "",
		"methodHint":    "",
		"hasPassword":   false,
		"hasPrivateKey": false,
	}
)

// fallbackForKey returns the code-level fallback for a given (module, key) pair.
func fallbackForKey(module, key string) map[string]any {
	switch module + "/" + key {
	case "pool/limits":
		return defaultPoolLimits
	case "ratelimit/defaults":
		return defaultRateLimitDefaults
	case "transfer/limits":
		return defaultTransferLimits
	case "hostkeys/policy":
		return defaultHostKeyPolicy
	case "auth/defaultUser":
		return defaultAuthDefaultUser
	}
	return map[string]any{}
}

// maskAuthDefaultUser converts the persisted auth/defaultUser row (which
// holds AES-256-GCM ciphertext, never plaintext) into the shape returned by
// the API: presence flags instead of secret material. The stored
// ciphertext never leaves this process.
func maskAuthDefaultUser(stored map[string]any) map[string]any {
	return map[string]any{
		"username":      settings.String(stored, "username", ""),
		"methodHint":    settings.String(stored, "methodHint", ""),
		"hasPassword":   settings.String(stored, "passwordEnc", "") != "",
		"hasPrivateKey": settings.String(stored, "privateKeyEnc", "") != "",
	}
}

// encryptAuthDefaultUser takes the client-supplied plaintext fields for the
// default-user credential and returns the row to persist: username and
// methodHint unchanged, password/privateKey/passphrase replaced by their
// AES-256-GCM ciphertext (or omitted entirely when the client didn't supply
// a new value, so a username-only update doesn't clobber an existing
// secret).
func encryptAuthDefaultUser(existing, incoming map[string]any) (map[string]any, error) {
	out := map[string]any{
		"username":   settings.String(incoming, "username", settings.String(existing, "username", "")),
		"methodHint": settings.String(incoming, "methodHint", settings.String(existing, "methodHint", "")),
	}

	for plainField, encField := range map[string]string{
		"password":   "passwordEnc",
		"privateKey": "privateKeyEnc",
		"passphrase": "passphraseEnc",
	} {
		plain := settings.String(incoming, plainField, "")
		if plain == "" {
			out[encField] = settings.String(existing, encField, "")
			continue
		}
		enc, err := crypto.Encrypt(plain)
		if err != nil {
			return nil, err
		}
		out[encField] = enc
	}

	return out, nil
}

// ─── Route registration ────────────────────────────────────────────────────

// RegisterSettings mounts the Ext Settings API on the given ServeEvent.
// Routes require superuser authentication.
func RegisterSettings(se *core.ServeEvent) {
	g := se.Router.Group("/api/ext/settings")
	g.Bind(apis.RequireSuperuserAuth())
	g.GET("/{module}", handleExtSettingsGet)
	g.PATCH("/{module}", handleExtSettingsPatch)
}

// ─── Handlers ─────────────────────────────────────────────────────────────

// handleExtSettingsGet returns all settings groups for the given module.
func handleExtSettingsGet(e *core.RequestEvent) error {
	module := e.Request.PathValue("module")

	allowedKeys, ok := allowedModuleKeys[module]
	if !ok {
		return e.BadRequestError("unknown settings module: "+module, nil)
	}

	result := make(map[string]any, len(allowedKeys))
	for _, key := range allowedKeys {
		fb := fallbackForKey(module, key)
		v, _ := settings.GetGroup(e.App, module, key, fb)
		if module == "auth" && key == "defaultUser" {
			v = maskAuthDefaultUser(v)
		}
		result[key] = v
	}

	return e.JSON(http.StatusOK, result)
}

// handleExtSettingsPatch updates one or more settings groups for the given module.
func handleExtSettingsPatch(e *core.RequestEvent) error {
	module := e.Request.PathValue("module")

	allowedKeys, ok := allowedModuleKeys[module]
	if !ok {
		return e.BadRequestError("unknown settings module: "+module, nil)
	}

	var body map[string]any
	if err := e.BindBody(&body); err != nil {
		return e.BadRequestError("invalid JSON body", err)
	}

	allowedSet := make(map[string]bool, len(allowedKeys))
	for _, k := range allowedKeys {
		allowedSet[k] = true
	}
	for k := range body {
		if !allowedSet[k] {
			return e.BadRequestError("unknown settings key: "+module+"/"+k, nil)
		}
	}

	for key, rawIncoming := range body {
		incomingMap, ok := rawIncoming.(map[string]any)
		if !ok {
			return e.JSON(http.StatusUnprocessableEntity, map[string]string{
				"error": "value for key '" + key + "' must be an object",
			})
		}
		if module == "auth" && key == "defaultUser" {
			existing, _ := settings.GetGroup(e.App, module, key, map[string]any{})
			toStore, err := encryptAuthDefaultUser(existing, incomingMap)
			if err != nil {
				return e.InternalServerError("failed to encrypt "+module+"/"+key, err)
			}
			incomingMap = toStore
		}
		if err := settings.SetGroup(e.App, module, key, incomingMap); err != nil {
			return e.InternalServerError("failed to save "+module+"/"+key, err)
		}
	}

	result := make(map[string]any, len(allowedKeys))
	for _, key := range allowedKeys {
		fb := fallbackForKey(module, key)
		v, _ := settings.GetGroup(e.App, module, key, fb)
		if module == "auth" && key == "defaultUser" {
			v = maskAuthDefaultUser(v)
		}
		result[key] = v
	}

	return e.JSON(http.StatusOK, result)
}
