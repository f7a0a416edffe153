package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func TestDefaultPolicy(t *testing.T) {
	engine, err := NewEngine("", zerolog.Nop())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	tests := []struct {
		name  string
		input Input
		want  bool
	}{
		{
			name:  "https host while enabled",
			input: Input{Scheme: "https", Hostname: "example.com", TrackingEnabled: true},
			want:  true,
		},
		{
			name:  "http host while enabled",
			input: Input{Scheme: "http", Hostname: "example.com", TrackingEnabled: true},
			want:  true,
		},
		{
			name:  "tracking disabled",
			input: Input{Scheme: "https", Hostname: "example.com", TrackingEnabled: false},
			want:  false,
		},
		{
			name:  "browser-internal scheme",
			input: Input{Scheme: "chrome", Hostname: "extensions", TrackingEnabled: true},
			want:  false,
		},
		{
			name:  "file scheme",
			input: Input{Scheme: "file", Hostname: "", TrackingEnabled: true},
			want:  false,
		},
		{
			name:  "empty hostname",
			input: Input{Scheme: "https", Hostname: "", TrackingEnabled: true},
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := engine.Trackable(context.Background(), tt.input); got != tt.want {
				t.Errorf("Trackable(%+v) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestOperatorDenyRules(t *testing.T) {
	dir := t.TempDir()
	denyPolicy := `package sitepulse.track

import rego.v1

host_denied if {
	glob.match("*.bank.example", ["."], input.hostname)
}

host_denied if {
	input.hostname == "payroll.internal"
}
`
	if err := os.WriteFile(filepath.Join(dir, "deny.rego"), []byte(denyPolicy), 0644); err != nil {
		t.Fatalf("write policy: %v", err)
	}

	engine, err := NewEngine(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	tests := []struct {
		hostname string
		want     bool
	}{
		{"example.com", true},
		{"secure.bank.example", false},
		{"payroll.internal", false},
	}

	for _, tt := range tests {
		input := Input{Scheme: "https", Hostname: tt.hostname, TrackingEnabled: true}
		if got := engine.Trackable(context.Background(), input); got != tt.want {
			t.Errorf("Trackable(%s) = %v, want %v", tt.hostname, got, tt.want)
		}
	}
}

func TestBrokenPolicyDirRejected(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "broken.rego"), []byte("this is not rego"), 0644); err != nil {
		t.Fatalf("write policy: %v", err)
	}

	if _, err := NewEngine(dir, zerolog.Nop()); err == nil {
		t.Fatal("expected parse error for broken policy file")
	}
}
