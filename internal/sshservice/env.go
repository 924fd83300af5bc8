package sshservice

import (
	"fmt"
	"path"
	"regexp"
)

var envNameRE = regexp.MustCompile(`^[A-Za-z_]\w*$`)
var shellMetaRE = regexp.MustCompile("[;&|$`\\\\\n<>(){}]")

// FilterEnv validates and filters env against allowlist (glob patterns,
// e.g. "LC_*"), rejecting malformed names or values containing shell
// metacharacters. Variables whose name is well-formed but not covered by
// any allowlist pattern are silently dropped, not rejected.
func FilterEnv(env map[string]string, allowlist []string) (map[string]string, error) {
	out := make(map[string]string, len(env))
	for name, value := range env {
		if !envNameRE.MatchString(name) {
			return nil, fmt.Errorf("invalid environment variable name %q", name)
		}
		if !envNameAllowed(name, allowlist) {
			continue
		}
		if shellMetaRE.MatchString(value) {
			return nil, fmt.Errorf("environment variable %q contains disallowed characters", name)
		}
		out[name] = value
	}
	return out, nil
}

func envNameAllowed(name string, allowlist []string) bool {
	for _, pattern := range allowlist {
		if ok, _ := path.Match(pattern, name); ok {
			return true
		}
	}
	return false
}
