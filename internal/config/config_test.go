package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg := loadTestConfig(t, "")

	if cfg.Tracking.FlushEvery != "1m" {
		t.Errorf("expected default flush_every 1m, got %q", cfg.Tracking.FlushEvery)
	}
	if cfg.Tracking.MaxQueueRetries != 3 {
		t.Errorf("expected default max_queue_retries 3, got %d", cfg.Tracking.MaxQueueRetries)
	}
	if cfg.Storage.Type != "bolt" {
		t.Errorf("expected default storage type bolt, got %q", cfg.Storage.Type)
	}
	if cfg.Collector.RequestTimeout != "15s" {
		t.Errorf("expected default request_timeout 15s, got %q", cfg.Collector.RequestTimeout)
	}
	if cfg.Collector.PingTimeout != "3s" {
		t.Errorf("expected default ping_timeout 3s, got %q", cfg.Collector.PingTimeout)
	}
}

func TestLoadFromFile(t *testing.T) {
	content := `
collector:
  base_url: "https://collector.example.net"
tracking:
  flush_every: "2m"
logging:
  level: debug
  format: text
`
	cfg := loadTestConfig(t, content)

	if cfg.Collector.BaseURL != "https://collector.example.net" {
		t.Errorf("expected configured base_url, got %q", cfg.Collector.BaseURL)
	}
	if cfg.Tracking.FlushEvery != "2m" {
		t.Errorf("expected configured flush_every 2m, got %q", cfg.Tracking.FlushEvery)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected configured log level debug, got %q", cfg.Logging.Level)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad bridge port", "server:\n  bridge_port: -1\n"},
		{"bad storage type", "storage:\n  type: cassandra\n"},
		{"bad retention", "retention:\n  totals_days: 0\n"},
		{"empty collector", `collector:
  base_url: ""
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "config.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatalf("write config: %v", err)
			}
			if _, err := Load(path); err == nil {
				t.Fatal("expected validation error, got nil")
			}
		})
	}
}

func loadTestConfig(t *testing.T, content string) *Config {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := content + "\nstorage:\n  path: " + filepath.Join(dir, "sitepulse.bolt") + "\n"
	if content == "" {
		body = "storage:\n  path: " + filepath.Join(dir, "sitepulse.bolt") + "\n"
	}
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfg
}
