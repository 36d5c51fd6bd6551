// Package config holds the bridge configuration: JSON5 file, env var
// overlays, and a hot-reload watcher for the fields that are safe to change
// at runtime.
package config

import (
	"fmt"
	"sync"
	"time"
)

// Config is the root configuration for the bridge.
type Config struct {
	Gateway   GatewayConfig   `json:"gateway"`
	Bridge    BridgeConfig    `json:"bridge"`
	Webhook   WebhookConfig   `json:"webhook"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	mu        sync.RWMutex
}

// GatewayConfig configures the manual-relay HTTP listener.
type GatewayConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	RateLimitRPM int    `json:"rate_limit_rpm,omitempty"` // 0 = disabled
}

// Addr returns the host:port listen address.
func (g GatewayConfig) Addr() string {
	return fmt.Sprintf("%s:%d", g.Host, g.Port)
}

// BridgeConfig configures the connection to the protocol-session provider.
// URL is required; the provider owns connection establishment, encryption
// and multi-device session management.
type BridgeConfig struct {
	URL                 string `json:"url"`
	HandshakeTimeoutSec int    `json:"handshake_timeout_sec,omitempty"` // default 10
	RetryDelayMS        int    `json:"retry_delay_ms,omitempty"`        // reconnect delay, default 1500
}

// HandshakeTimeout returns the dial handshake timeout with default applied.
func (b BridgeConfig) HandshakeTimeout() time.Duration {
	if b.HandshakeTimeoutSec > 0 {
		return time.Duration(b.HandshakeTimeoutSec) * time.Second
	}
	return 10 * time.Second
}

// RetryDelay returns the reconnect delay with default applied. Reconnect
// volume is low, so a fixed small delay is enough — no exponential backoff.
func (b BridgeConfig) RetryDelay() time.Duration {
	if b.RetryDelayMS > 0 {
		return time.Duration(b.RetryDelayMS) * time.Millisecond
	}
	return 1500 * time.Millisecond
}

// WebhookConfig configures the downstream automation endpoint.
type WebhookConfig struct {
	URL        string `json:"url"`
	TimeoutSec int    `json:"timeout_sec,omitempty"` // default 10
	AckText    string `json:"ack_text,omitempty"`    // fixed acknowledgement sent back on the origin chat
}

// Timeout returns the POST timeout with default applied.
func (w WebhookConfig) Timeout() time.Duration {
	if w.TimeoutSec > 0 {
		return time.Duration(w.TimeoutSec) * time.Second
	}
	return 10 * time.Second
}

// TelemetryConfig configures optional OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`
	Endpoint    string            `json:"endpoint,omitempty"`     // e.g. "localhost:4317"
	Protocol    string            `json:"protocol,omitempty"`     // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`     // skip TLS (local dev)
	ServiceName string            `json:"service_name,omitempty"` // default "wabridge"
	Headers     map[string]string `json:"headers,omitempty"`
}

// DefaultAckText is sent back on the origin chat before forwarding.
const DefaultAckText = "🤖 The assistant is processing your request. You'll get a reply shortly."

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host: "0.0.0.0",
			Port: 3100,
		},
		Webhook: WebhookConfig{
			TimeoutSec: 10,
			AckText:    DefaultAckText,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "wabridge",
		},
	}
}

// ReplaceFrom copies all data fields from src into c, preserving c's mutex.
// Used by the hot-reload watcher.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Gateway = src.Gateway
	c.Bridge = src.Bridge
	c.Webhook = src.Webhook
	c.Telemetry = src.Telemetry
}

// WebhookURL returns the current downstream endpoint (hot-reloadable).
func (c *Config) WebhookURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Webhook.URL
}

// WebhookTimeout returns the current downstream POST timeout.
func (c *Config) WebhookTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Webhook.Timeout()
}

// AckText returns the current acknowledgement text (hot-reloadable).
func (c *Config) AckText() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Webhook.AckText != "" {
		return c.Webhook.AckText
	}
	return DefaultAckText
}

// Snapshot returns a copy of the non-reloadable sections read at startup.
func (c *Config) Snapshot() (GatewayConfig, BridgeConfig, TelemetryConfig) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Gateway, c.Bridge, c.Telemetry
}
