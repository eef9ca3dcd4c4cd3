package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

const validYAML = `
telegram:
  token: "123:abc"
  send_timeout: "8s"
logging:
  level: "info"
  console: true
storage:
  path: "./data/bot.db"
notifications:
  cooldown: "4h"
  clean_threshold: 50
  unhealthy_threshold: 75
  spike_delta: 40
  default_mute_start: 23
  default_mute_end: 7
analytics:
  timezone: "Asia/Almaty"
  pre_midnight: "23:55"
  post_midnight: "00:05"
`

func TestParseValidConfig(t *testing.T) {
	m := NewManager(writeConfig(t, validYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Notifications.DefaultMuteStart != 23 || cfg.Notifications.DefaultMuteEnd != 7 {
		t.Fatalf("quiet hours not parsed: %+v", cfg.Notifications)
	}
	if cfg.Analytics.Timezone != "Asia/Almaty" {
		t.Fatalf("timezone not parsed: %q", cfg.Analytics.Timezone)
	}
	if m.Get() != cfg {
		t.Fatalf("Load did not commit")
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown field", "telegram:\n  token: x\n  chat_idd: 5\n"},
		{"mute hour out of range", "notifications:\n  default_mute_start: 24\n"},
		{"negative mute hour", "notifications:\n  default_mute_end: -1\n"},
		{"bad duration", "notifications:\n  cooldown: \"4 hours\"\n"},
		{"bad timezone", "analytics:\n  timezone: \"Mars/Olympus\"\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := NewManager(writeConfig(t, tc.body))
			if _, err := m.Parse(); err == nil {
				t.Fatalf("expected parse error")
			}
		})
	}
}

func TestValidateNeverClampsHours(t *testing.T) {
	cfg := &Config{}
	cfg.Notifications.DefaultMuteStart = 25
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
	if cfg.Notifications.DefaultMuteStart != 25 {
		t.Fatalf("Validate mutated the config")
	}
}
