package config

import "testing"

func TestParseRedisAddr(t *testing.T) {
	cases := map[string]string{
		"redis://localhost:6379": "localhost:6379",
		"redis://cache":          "cache:6379",
		"localhost:6380":         "localhost:6380",
	}
	for in, want := range cases {
		if got := parseRedisAddr(in); got != want {
			t.Errorf("parseRedisAddr(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGetEnvAsSlice(t *testing.T) {
	t.Setenv("TEST_SLICE", "a, b ,c")
	got := getEnvAsSlice("TEST_SLICE", nil)
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestParseHeaderMapping(t *testing.T) {
	got := parseHeaderMapping("X-Forwarded-User=username, X-Forwarded-Email=email")
	if got["X-Forwarded-User"] != "username" || got["X-Forwarded-Email"] != "email" {
		t.Errorf("unexpected mapping: %v", got)
	}
}

func TestConfigAllows(t *testing.T) {
	cfg := &Config{AllowedAuthMethods: []AuthMethod{AuthPassword, AuthPublicKey}}
	if !cfg.Allows(AuthPassword) {
		t.Error("expected password to be allowed")
	}
	if cfg.Allows(AuthKeyboardInteractive) {
		t.Error("expected keyboard-interactive to be disallowed")
	}
}

func TestHostAllowedUnrestrictedWhenEmpty(t *testing.T) {
	cfg := &Config{}
	if !cfg.HostAllowed("203.0.113.5") {
		t.Error("expected unrestricted allow when AllowedSubnets is empty")
	}
	if !cfg.HostAllowed("internal.example.com") {
		t.Error("expected unrestricted allow for hostnames when AllowedSubnets is empty")
	}
}

func TestHostAllowedMatchesCIDR(t *testing.T) {
	cfg := &Config{AllowedSubnets: []string{"10.0.0.0/8", "192.168.1.0/24"}}
	if !cfg.HostAllowed("10.1.2.3") {
		t.Error("expected 10.1.2.3 to match 10.0.0.0/8")
	}
	if !cfg.HostAllowed("192.168.1.42") {
		t.Error("expected 192.168.1.42 to match 192.168.1.0/24")
	}
	if cfg.HostAllowed("8.8.8.8") {
		t.Error("expected 8.8.8.8 to be rejected")
	}
}

func TestHostAllowedRejectsHostnames(t *testing.T) {
	cfg := &Config{AllowedSubnets: []string{"10.0.0.0/8"}}
	if cfg.HostAllowed("internal.example.com") {
		t.Error("expected hostnames to be rejected rather than resolved, once a subnet list is configured")
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.PoolMaxConnections <= 0 {
		t.Error("expected positive default PoolMaxConnections")
	}
	if cfg.HostKeyMode != HostKeyModeHybrid {
		t.Errorf("expected default hybrid mode, got %q", cfg.HostKeyMode)
	}
}
