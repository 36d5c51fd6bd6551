package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Gateway.Port != 3100 {
		t.Errorf("Port = %d, want 3100", cfg.Gateway.Port)
	}
	if cfg.Webhook.Timeout() != 10*time.Second {
		t.Errorf("Timeout = %v, want 10s", cfg.Webhook.Timeout())
	}
	if cfg.Bridge.RetryDelay() != 1500*time.Millisecond {
		t.Errorf("RetryDelay = %v, want 1.5s", cfg.Bridge.RetryDelay())
	}
	if cfg.AckText() == "" {
		t.Error("AckText should have a default")
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Gateway.Port != 3100 {
		t.Errorf("Port = %d", cfg.Gateway.Port)
	}
}

func TestLoad_JSON5(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	// JSON5: comments and trailing commas are fine.
	body := `{
		// bridge endpoint
		gateway: {host: "127.0.0.1", port: 4000,},
		bridge: {url: "ws://localhost:8055/ws"},
		webhook: {url: "https://n8n.example.com/webhook/wa-in", timeout_sec: 5},
	}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Gateway.Addr() != "127.0.0.1:4000" {
		t.Errorf("Addr = %q", cfg.Gateway.Addr())
	}
	if cfg.Bridge.URL != "ws://localhost:8055/ws" {
		t.Errorf("Bridge.URL = %q", cfg.Bridge.URL)
	}
	if cfg.WebhookTimeout() != 5*time.Second {
		t.Errorf("WebhookTimeout = %v", cfg.WebhookTimeout())
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("WABRIDGE_PORT", "9100")
	t.Setenv("WABRIDGE_WEBHOOK_URL", "https://env.example.com/hook")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Gateway.Port != 9100 {
		t.Errorf("Port = %d, want env override", cfg.Gateway.Port)
	}
	if cfg.WebhookURL() != "https://env.example.com/hook" {
		t.Errorf("WebhookURL = %q", cfg.WebhookURL())
	}
}

func TestLoad_BadPortEnvIgnored(t *testing.T) {
	t.Setenv("WABRIDGE_PORT", "not-a-port")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Gateway.Port != 3100 {
		t.Errorf("Port = %d, want default kept", cfg.Gateway.Port)
	}
}

func TestReplaceFrom(t *testing.T) {
	cfg := Default()
	next := Default()
	next.Webhook.URL = "https://new.example.com/hook"
	next.Webhook.AckText = "ack!"

	cfg.ReplaceFrom(next)

	if cfg.WebhookURL() != "https://new.example.com/hook" {
		t.Errorf("WebhookURL = %q", cfg.WebhookURL())
	}
	if cfg.AckText() != "ack!" {
		t.Errorf("AckText = %q", cfg.AckText())
	}
}
