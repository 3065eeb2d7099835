package main

import (
	"testing"
	"time"
)

func TestParseClientConfig_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := parseClientConfig(nil)
	if err != nil {
		t.Fatalf("parseClientConfig error: %v", err)
	}
	if cfg.BaseURL != defaultBaseURL {
		t.Fatalf("BaseURL=%q", cfg.BaseURL)
	}
	if cfg.Timeout != defaultTimeout {
		t.Fatalf("Timeout=%v", cfg.Timeout)
	}
}

func TestParseClientConfig_Overrides(t *testing.T) {
	t.Parallel()

	cfg, err := parseClientConfig([]string{"-base-url", "wss://cafe.example.com", "-timeout", "30s"})
	if err != nil {
		t.Fatalf("parseClientConfig error: %v", err)
	}
	if cfg.BaseURL != "wss://cafe.example.com" {
		t.Fatalf("BaseURL=%q", cfg.BaseURL)
	}
	if cfg.Timeout != 30*time.Second {
		t.Fatalf("Timeout=%v", cfg.Timeout)
	}
}

func TestParseClientConfig_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args []string
	}{
		{"http scheme", []string{"-base-url", "http://127.0.0.1:8080"}},
		{"empty url", []string{"-base-url", " "}},
		{"zero timeout", []string{"-timeout", "0s"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseClientConfig(tt.args); err == nil {
				t.Fatalf("expected error for %v", tt.args)
			}
		})
	}
}

func TestTextEndpoint(t *testing.T) {
	t.Parallel()

	if got := textEndpoint("ws://127.0.0.1:8080/"); got != "ws://127.0.0.1:8080/ws/text" {
		t.Fatalf("endpoint=%q", got)
	}
}
