package token

import (
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestRandomHexLength(t *testing.T) {
	got := randomHex(32)
	if len(got) != 64 {
		t.Errorf("randomHex(32) length = %d, want 64", len(got))
	}
}

func TestHashDeterministic(t *testing.T) {
	if hash("abc") != hash("abc") {
		t.Error("hash should be deterministic")
	}
	if hash("abc") == hash("abd") {
		t.Error("hash should differ for different inputs")
	}
}

func TestInstallConfigYAML(t *testing.T) {
	cfg := installConfig{
		HubURL: "https://hub.local", ServerID: "alpha", ServerGUID: "11111111-1111-4111-8111-111111111111",
		APIToken: "hlh_ag_11111111_deadbeef", Mode: "readonly", HeartbeatInterval: 60,
	}
	out, err := yaml.Marshal(cfg)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	s := string(out)
	if !strings.Contains(s, "server_id: alpha") {
		t.Errorf("config_yaml missing server_id: %s", s)
	}
	if !strings.Contains(s, "mode: readonly") {
		t.Errorf("config_yaml missing mode: %s", s)
	}
}
