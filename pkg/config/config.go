// Package config holds the MCP security configuration and the process
// settings around it. The security configuration is published as immutable
// snapshots; see Store.
package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Default values
const (
	DefaultMaxConnections   = 4
	DefaultAuditRingSize    = 10000
	DefaultEventBufferSize  = 1000
	DefaultMetricsNamespace = "tari_mcp"
	DefaultRequestsPerMin   = 120
	DefaultBurstSize        = 20
)

// SecurityConfig controls what agents may do. The host application owns
// persistence; the engine only ever reads snapshots of it.
type SecurityConfig struct {
	Enabled              bool     `yaml:"enabled" json:"enabled"`
	AllowWalletSend      bool     `yaml:"allow_wallet_send" json:"allow_wallet_send"`
	AllowedHostAddresses []string `yaml:"allowed_host_addresses" json:"allowed_host_addresses"`
	Port                 int      `yaml:"port" json:"port"`
	AuditLogging         bool     `yaml:"audit_logging" json:"audit_logging"`
}

// DefaultSecurityConfig returns the locked-down defaults: disabled, no wallet
// send, loopback only, ephemeral port, audit logging on.
func DefaultSecurityConfig() SecurityConfig {
	return SecurityConfig{
		Enabled:              false,
		AllowWalletSend:      false,
		AllowedHostAddresses: []string{"127.0.0.1", "::1"},
		Port:                 0,
		AuditLogging:         true,
	}
}

// Clone returns a deep copy
func (c SecurityConfig) Clone() SecurityConfig {
	c.AllowedHostAddresses = append([]string(nil), c.AllowedHostAddresses...)
	return c
}

// Validate checks the configuration. Problems that make the configuration
// unusable are returned as an error; risky but legal settings are returned
// as warnings.
func (c SecurityConfig) Validate() (warnings []string, err error) {
	var errs []error

	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if len(c.AllowedHostAddresses) == 0 {
		errs = append(errs, errors.New("allowed_host_addresses must not be empty"))
	}
	for _, addr := range c.AllowedHostAddresses {
		ip := net.ParseIP(strings.TrimSpace(addr))
		if ip == nil {
			errs = append(errs, fmt.Errorf("invalid host address %q", addr))
			continue
		}
		if ip.IsUnspecified() {
			warnings = append(warnings, fmt.Sprintf("allowed host %s binds every interface; MCP access may be exposed to the network", addr))
		} else if !ip.IsLoopback() {
			warnings = append(warnings, fmt.Sprintf("allowed host %s is not a loopback address", addr))
		}
	}
	if c.AllowWalletSend {
		warnings = append(warnings, "wallet send is enabled; agents may transfer funds")
	}

	return warnings, errors.Join(errs...)
}

// IsHostAllowed reports whether a remote host (an IP, optionally with a zone)
// is listed in AllowedHostAddresses. An unspecified address in the list
// admits every peer.
func (c SecurityConfig) IsHostAllowed(host string) bool {
	if i := strings.IndexByte(host, '%'); i >= 0 {
		host = host[:i]
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	for _, allowed := range c.AllowedHostAddresses {
		a := net.ParseIP(strings.TrimSpace(allowed))
		if a != nil && (a.Equal(ip) || a.IsUnspecified()) {
			return true
		}
	}
	return false
}

// LoggingConfig selects the log level and format
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// RateLimitConfig bounds requests per connection
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled" json:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute" json:"requests_per_minute"`
	BurstSize         int  `yaml:"burst_size" json:"burst_size"`
}

// TransportConfig tunes the socket listener
type TransportConfig struct {
	MaxConnections int             `yaml:"max_connections" json:"max_connections"`
	IdleTimeout    time.Duration   `yaml:"idle_timeout" json:"idle_timeout"`
	MaxMessageSize int             `yaml:"max_message_size" json:"max_message_size"`
	RateLimit      RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
}

// AuditConfig configures audit persistence
type AuditConfig struct {
	File     string `yaml:"file" json:"file"`
	RingSize int    `yaml:"ring_size" json:"ring_size"`
}

// EventsConfig configures the websocket event stream
type EventsConfig struct {
	Enabled    bool `yaml:"enabled" json:"enabled"`
	Port       int  `yaml:"port" json:"port"`
	BufferSize int  `yaml:"buffer_size" json:"buffer_size"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Address   string `yaml:"address" json:"address"`
	Namespace string `yaml:"namespace" json:"namespace"`
}

// TracingConfig configures OpenTelemetry export
type TracingConfig struct {
	Exporter   string  `yaml:"exporter" json:"exporter"`
	Endpoint   string  `yaml:"endpoint" json:"endpoint"`
	Insecure   bool    `yaml:"insecure" json:"insecure"`
	SampleRate float64 `yaml:"sample_rate" json:"sample_rate"`
}

// Settings is the complete process configuration
type Settings struct {
	MCP       SecurityConfig  `yaml:"mcp" json:"mcp"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
	Transport TransportConfig `yaml:"transport" json:"transport"`
	Audit     AuditConfig     `yaml:"audit" json:"audit"`
	Events    EventsConfig    `yaml:"events" json:"events"`
	Metrics   MetricsConfig   `yaml:"metrics" json:"metrics"`
	Tracing   TracingConfig   `yaml:"tracing" json:"tracing"`
}

// Defaults returns settings with every default applied
func Defaults() *Settings {
	return &Settings{
		MCP: DefaultSecurityConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Transport: TransportConfig{
			MaxConnections: DefaultMaxConnections,
			IdleTimeout:    5 * time.Minute,
			MaxMessageSize: 1 << 20,
			RateLimit: RateLimitConfig{
				RequestsPerMinute: DefaultRequestsPerMin,
				BurstSize:         DefaultBurstSize,
			},
		},
		Audit: AuditConfig{
			RingSize: DefaultAuditRingSize,
		},
		Events: EventsConfig{
			BufferSize: DefaultEventBufferSize,
		},
		Metrics: MetricsConfig{
			Address:   "127.0.0.1:9464",
			Namespace: DefaultMetricsNamespace,
		},
		Tracing: TracingConfig{
			Exporter:   "noop",
			SampleRate: 1.0,
		},
	}
}

// Validate checks every section and returns warnings from the security
// section.
func (s *Settings) Validate() ([]string, error) {
	warnings, err := s.MCP.Validate()
	errs := []error{err}

	if s.Transport.MaxConnections < 1 {
		errs = append(errs, fmt.Errorf("transport.max_connections must be at least 1"))
	}
	if s.Transport.RateLimit.Enabled && s.Transport.RateLimit.RequestsPerMinute < 1 {
		errs = append(errs, fmt.Errorf("transport.rate_limit.requests_per_minute must be positive"))
	}
	if s.Events.Port < 0 || s.Events.Port > 65535 {
		errs = append(errs, fmt.Errorf("events.port %d out of range", s.Events.Port))
	}
	switch s.Tracing.Exporter {
	case "", "noop", "otlp-grpc", "otlp-http":
	default:
		errs = append(errs, fmt.Errorf("tracing.exporter %q not supported", s.Tracing.Exporter))
	}
	if s.Tracing.SampleRate < 0 || s.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("tracing.sample_rate must be within [0,1]"))
	}

	return warnings, errors.Join(errs...)
}

// EventPort returns the port for the event stream: the configured port, or
// the MCP port plus one when the MCP port is fixed, or zero (ephemeral).
func (s *Settings) EventPort() int {
	if s.Events.Port != 0 {
		return s.Events.Port
	}
	if s.MCP.Port != 0 && s.MCP.Port < 65535 {
		return s.MCP.Port + 1
	}
	return 0
}
