package sshservice

import "testing"

func TestFilterEnvDropsNamesNotInAllowlist(t *testing.T) {
	out, err := FilterEnv(map[string]string{"TERM": "xterm", "SECRET": "x"}, []string{"TERM", "LC_*"})
	if err != nil {
		t.Fatalf("FilterEnv: %v", err)
	}
	if _, ok := out["SECRET"]; ok {
		t.Fatal("expected SECRET to be dropped")
	}
	if out["TERM"] != "xterm" {
		t.Fatalf("expected TERM kept, got %v", out)
	}
}

func TestFilterEnvMatchesGlobPatterns(t *testing.T) {
	out, err := FilterEnv(map[string]string{"LC_ALL": "C", "LC_TIME": "C"}, []string{"LC_*"})
	if err != nil {
		t.Fatalf("FilterEnv: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected both LC_* vars kept, got %v", out)
	}
}

func TestFilterEnvRejectsInvalidName(t *testing.T) {
	_, err := FilterEnv(map[string]string{"1BAD": "x"}, []string{"1BAD"})
	if err == nil {
		t.Fatal("expected invalid name to be rejected")
	}
}

func TestFilterEnvRejectsShellMetacharacters(t *testing.T) {
	_, err := FilterEnv(map[string]string{"TERM": "xterm; rm -rf /"}, []string{"TERM"})
	if err == nil {
		t.Fatal("expected shell metacharacters to be rejected")
	}
}

func TestFilterEnvAllowsCleanValues(t *testing.T) {
	out, err := FilterEnv(map[string]string{"LANG": "en_US.UTF-8"}, []string{"LANG"})
	if err != nil {
		t.Fatalf("FilterEnv: %v", err)
	}
	if out["LANG"] != "en_US.UTF-8" {
		t.Fatalf("unexpected value: %v", out)
	}
}
