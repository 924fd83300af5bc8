// Package config loads the gateway's runtime configuration from the
// environment (with an optional .env file), following the external
// interfaces described for listen address, SSH algorithm lists, rate
// limiting/backpressure, SFTP limits, pool knobs, host-key verification
// policy, session knobs, and SSO header mapping.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// AuthMethod is one of the three SSH authentication methods the pipeline
// may be configured to allow.
type AuthMethod string

const (
	AuthPassword           AuthMethod = "password"
	AuthPublicKey          AuthMethod = "publickey"
	AuthKeyboardInteractive AuthMethod = "keyboard-interactive"
)

// HostKeyMode selects which stores the verifier consults for unknown keys.
type HostKeyMode string

const (
	HostKeyModeHybrid     HostKeyMode = "hybrid"
	HostKeyModeServerOnly HostKeyMode = "server-only"
	HostKeyModeClientOnly HostKeyMode = "client-only"
)

// UnknownKeyAction selects the verifier's behaviour for an unknown key when
// the client-side store is not consulted (server-only); in client-only and
// hybrid modes an unknown key always prompts the client.
type UnknownKeyAction string

const (
	UnknownKeyPrompt UnknownKeyAction = "prompt"
	UnknownKeyAlert  UnknownKeyAction = "alert"
	UnknownKeyReject UnknownKeyAction = "reject"
)

// Config is the full external-interface configuration surface.
type Config struct {
	// Listen
	ListenAddr string
	CORSOrigins []string

	// SSH algorithms
	KexAlgorithms     []string
	CiphersAlgorithms []string
	MACsAlgorithms    []string
	HostKeyAlgorithms []string

	ReadyTimeout       time.Duration
	KeepaliveInterval  time.Duration
	KeepaliveCountMax  int
	AllowedSubnets     []string
	EnvAllowlist       []string
	AllowedAuthMethods []AuthMethod

	OutputRateLimitBytesPerSec int64
	SocketHighWaterMark        int64

	// SFTP
	SFTPMaxFileSize          int64
	SFTPBlockedExtensions    []string
	SFTPAllowedPaths         []string
	SFTPMaxConcurrentTransfers int
	SFTPChunkRateLimit       int64
	SFTPChunkSize            int64

	// Pool
	PoolMaxConnections  int
	PoolIdleTimeout     time.Duration
	PoolCleanupInterval time.Duration

	// Host-key verification
	HostKeyVerificationEnabled bool
	HostKeyMode                HostKeyMode
	HostKeyUnknownAction       UnknownKeyAction
	HostKeyPromptTimeout       time.Duration

	// Session
	SessionSecret     string
	SessionTimeout    time.Duration
	MaxHistorySize    int

	// SSO
	SSOEnabled        bool
	SSOTrustedProxies []string
	SSOHeaderMapping  map[string]string

	// Redis (asynq worker backend)
	RedisAddr string

	// Logging
	LogLevel  string
	LogFormat string
	Env       string
}

// Load reads configuration from the environment, loading a .env file first
// if one is present in the working directory.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ListenAddr:  getEnv("LISTEN_ADDR", ":8090"),
		CORSOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173"}),

		KexAlgorithms:     getEnvAsSlice("SSH_KEX_ALGORITHMS", nil),
		CiphersAlgorithms: getEnvAsSlice("SSH_CIPHER_ALGORITHMS", nil),
		MACsAlgorithms:    getEnvAsSlice("SSH_MAC_ALGORITHMS", nil),
		HostKeyAlgorithms: getEnvAsSlice("SSH_HOSTKEY_ALGORITHMS", nil),

		ReadyTimeout:      getEnvAsDuration("SSH_READY_TIMEOUT", 10*time.Second),
		KeepaliveInterval: getEnvAsDuration("SSH_KEEPALIVE_INTERVAL", 30*time.Second),
		KeepaliveCountMax: getEnvAsInt("SSH_KEEPALIVE_COUNT_MAX", 3),
		AllowedSubnets:    getEnvAsSlice("ALLOWED_SUBNETS", nil),
		EnvAllowlist:      getEnvAsSlice("ENV_ALLOWLIST", []string{"LANG", "LC_*", "TERM"}),
		AllowedAuthMethods: authMethods(getEnvAsSlice("ALLOWED_AUTH_METHODS",
			[]string{"password", "publickey", "keyboard-interactive"})),

		OutputRateLimitBytesPerSec: getEnvAsInt64("OUTPUT_RATE_LIMIT_BYTES_PER_SEC", 0),
		SocketHighWaterMark:        getEnvAsInt64("SOCKET_HIGH_WATER_MARK", 64<<10),

		SFTPMaxFileSize:            getEnvAsInt64("SFTP_MAX_FILE_SIZE", 500<<20),
		SFTPBlockedExtensions:      getEnvAsSlice("SFTP_BLOCKED_EXTENSIONS", nil),
		SFTPAllowedPaths:           getEnvAsSlice("SFTP_ALLOWED_PATHS", nil),
		SFTPMaxConcurrentTransfers: getEnvAsInt("SFTP_MAX_CONCURRENT_TRANSFERS", 4),
		SFTPChunkRateLimit:         getEnvAsInt64("SFTP_CHUNK_RATE_LIMIT", 0),
		SFTPChunkSize:              getEnvAsInt64("SFTP_CHUNK_SIZE", 256<<10),

		PoolMaxConnections:  getEnvAsInt("POOL_MAX_CONNECTIONS", 64),
		PoolIdleTimeout:     getEnvAsDuration("POOL_IDLE_TIMEOUT", 10*time.Minute),
		PoolCleanupInterval: getEnvAsDuration("POOL_CLEANUP_INTERVAL", time.Minute),

		HostKeyVerificationEnabled: getEnvAsBool("HOSTKEY_VERIFICATION_ENABLED", true),
		HostKeyMode:                HostKeyMode(getEnv("HOSTKEY_MODE", string(HostKeyModeHybrid))),
		HostKeyUnknownAction:       UnknownKeyAction(getEnv("HOSTKEY_UNKNOWN_ACTION", string(UnknownKeyPrompt))),
		HostKeyPromptTimeout:       getEnvAsDuration("HOSTKEY_PROMPT_TIMEOUT", 5*time.Second),

		SessionSecret:  getEnv("SESSION_SECRET", ""),
		SessionTimeout: getEnvAsDuration("SESSION_TIMEOUT", 30*time.Minute),
		MaxHistorySize: getEnvAsInt("SESSION_MAX_HISTORY_SIZE", 100),

		SSOEnabled:        getEnvAsBool("SSO_ENABLED", false),
		SSOTrustedProxies: getEnvAsSlice("SSO_TRUSTED_PROXIES", nil),
		SSOHeaderMapping:  parseHeaderMapping(getEnv("SSO_HEADER_MAPPING", "")),

		RedisAddr: parseRedisAddr(getEnv("REDIS_URL", "redis://localhost:6379")),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
		Env:       getEnv("ENV", "development"),
	}

	if cfg.HostKeyMode != HostKeyModeHybrid && cfg.HostKeyMode != HostKeyModeServerOnly && cfg.HostKeyMode != HostKeyModeClientOnly {
		return nil, fmt.Errorf("config: invalid HOSTKEY_MODE %q", cfg.HostKeyMode)
	}
	if cfg.HostKeyUnknownAction != UnknownKeyPrompt && cfg.HostKeyUnknownAction != UnknownKeyAlert && cfg.HostKeyUnknownAction != UnknownKeyReject {
		return nil, fmt.Errorf("config: invalid HOSTKEY_UNKNOWN_ACTION %q", cfg.HostKeyUnknownAction)
	}

	return cfg, nil
}

func authMethods(raw []string) []AuthMethod {
	out := make([]AuthMethod, 0, len(raw))
	for _, r := range raw {
		out = append(out, AuthMethod(strings.TrimSpace(r)))
	}
	return out
}

// Allows reports whether m is in the configured allowed-methods set.
func (c *Config) Allows(m AuthMethod) bool {
	for _, allowed := range c.AllowedAuthMethods {
		if allowed == m {
			return true
		}
	}
	return false
}

// HostAllowed reports whether host may be dialed under the configured
// subnet allowlist. An empty AllowedSubnets means unrestricted. A non-empty
// list only admits literal IP addresses inside one of the CIDRs — hostnames
// are rejected rather than resolved, since resolving here and dialing later
// opens a DNS-rebinding window between the check and the connection.
func (c *Config) HostAllowed(host string) bool {
	if len(c.AllowedSubnets) == 0 {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	for _, raw := range c.AllowedSubnets {
		_, subnet, err := net.ParseCIDR(raw)
		if err != nil {
			continue
		}
		if subnet.Contains(ip) {
			return true
		}
	}
	return false
}

func parseHeaderMapping(raw string) map[string]string {
	out := map[string]string{}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			continue
		}
		out[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value, err := strconv.ParseInt(getEnv(key, ""), 10, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var result []string
	for _, part := range strings.Split(valueStr, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}

// parseRedisAddr extracts host:port from a redis:// URL.
// Supports: redis://host:port, host:port, host.
func parseRedisAddr(redisURL string) string {
	addr := strings.TrimPrefix(redisURL, "redis://")
	addr = strings.TrimPrefix(addr, "rediss://")
	addr = strings.TrimSuffix(addr, "/")
	if !strings.Contains(addr, ":") {
		addr = addr + ":6379"
	}
	return addr
}
