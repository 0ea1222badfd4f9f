package config

import (
	"time"

	"github.com/mattjoyce/clirelay/internal/template"
)

// Config represents the complete clirelay configuration.
type Config struct {
	Service  ServiceConfig          `yaml:"service"`
	API      APIConfig              `yaml:"api"`
	Audit    AuditConfig            `yaml:"audit"`
	Include  []string               `yaml:"include,omitempty"`
	Commands map[string]CommandConf `yaml:"commands"`

	// Files lists every configuration file that contributed, root first.
	Files []string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name           string `yaml:"name"`
	LogLevel       string `yaml:"log_level"`
	MaxConcurrent  int    `yaml:"max_concurrent"`   // 0 = unlimited
	MaxOutputBytes int    `yaml:"max_output_bytes"` // per stream, 0 = unbounded
	PIDFile        string `yaml:"pid_file"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Listen           string `yaml:"listen"`
	StaticDir        string `yaml:"static_dir"`
	MaxBodyBytes     int64  `yaml:"max_body_bytes"`
	EventBuffer      int    `yaml:"event_buffer"`
	GRPCHealthListen string `yaml:"grpc_health_listen"`
}

// AuditConfig defines the invocation log store.
type AuditConfig struct {
	Enabled   *bool          `yaml:"enabled"`   // nil = default on
	Path      string         `yaml:"path"`
	Retention *time.Duration `yaml:"retention"` // nil = 30 days, 0 = keep forever
}

// IsEnabled reports whether the audit store should be opened.
func (a AuditConfig) IsEnabled() bool {
	return a.Enabled == nil || *a.Enabled
}

// RetentionPeriod is how long audit rows are kept; 0 keeps them forever.
func (a AuditConfig) RetentionPeriod() time.Duration {
	if a.Retention == nil {
		return defaultRetention
	}
	return *a.Retention
}

// CommandConf defines one invocable command.
type CommandConf struct {
	Executable  string            `yaml:"executable"`
	Args        []string          `yaml:"args,omitempty"`
	Stdin       string            `yaml:"stdin,omitempty"`
	Dir         string            `yaml:"dir,omitempty"`
	Env         map[string]string `yaml:"env,omitempty"`
	Timeout     time.Duration     `yaml:"timeout,omitempty"`
	Output      OutputConf        `yaml:"output,omitempty"`
	Description string            `yaml:"description,omitempty"`
}

// OutputConf defines how a command's result becomes a response.
type OutputConf struct {
	OnSuccess   *template.Template `yaml:"on_success,omitempty"`
	OnError     *template.Template `yaml:"on_error,omitempty"`
	ContentType string             `yaml:"content_type,omitempty"`
}

// ChecksumManifest is the on-disk .checksums format.
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}

const (
	defaultMaxBodyBytes = 50 << 20 // 50 MiB
	defaultEventBuffer  = 100
	defaultRetention    = 30 * 24 * time.Hour
)

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:     "clirelay",
			LogLevel: "info",
			PIDFile:  "./data/clirelay.pid",
		},
		API: APIConfig{
			Listen:       "127.0.0.1:8080",
			MaxBodyBytes: defaultMaxBodyBytes,
			EventBuffer:  defaultEventBuffer,
		},
		Audit: AuditConfig{
			Path: "./data/audit.db",
		},
		Commands: make(map[string]CommandConf),
	}
}
