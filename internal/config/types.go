// Package config loads resolvfuzz configuration with Viper: a TOML (or
// YAML) file with environment-variable overrides, including the
// authoritative-stack `[[auth]]` blocks.
//
// Environment variables use the RESOLVFUZZ_ prefix and underscore-separated
// keys:
//   - RESOLVFUZZ_SCHEDULER_BATCH_SIZE -> scheduler.batch_size
//   - RESOLVFUZZ_STORE_DB_PATH        -> store.db_path
//   - RESOLVFUZZ_API_ENABLED         -> api.enabled
package config

import (
	"os"
	"strings"
)

// ResolverConfig describes one resolver-under-test subprocess.
type ResolverConfig struct {
	ID               string   `yaml:"id"                mapstructure:"id"                json:"id"`
	BinaryPath       string   `yaml:"binary_path"       mapstructure:"binary_path"       json:"binary_path"`
	Args             []string `yaml:"args"              mapstructure:"args"              json:"args,omitempty"`
	ControlAddr      string   `yaml:"control_addr"      mapstructure:"control_addr"      json:"control_addr"`
	WarmupSeconds    float64  `yaml:"warmup_seconds"    mapstructure:"warmup_seconds"    json:"warmup_seconds"`
	ResponseDeadline string   `yaml:"response_deadline" mapstructure:"response_deadline" json:"response_deadline"`
}

// SchedulerConfig contains round-loop tuning settings.
type SchedulerConfig struct {
	BatchSize int     `yaml:"batch_size" mapstructure:"batch_size" json:"batch_size"`
	PNew      float64 `yaml:"p_new"      mapstructure:"p_new"      json:"p_new"`
	Seed      int64   `yaml:"seed"       mapstructure:"seed"       json:"seed"`
}

// StoreConfig points at the persisted-state locations.
type StoreConfig struct {
	DBPath  string `yaml:"db_path"  mapstructure:"db_path"  json:"db_path"`
	DumpDir string `yaml:"dump_dir" mapstructure:"dump_dir" json:"dump_dir"`
}

// APIConfig contains status/dashboard API settings.
//
// Note: APIKey is intentionally treated as a secret and should not be
// returned by API endpoints.
type APIConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Host    string `yaml:"host"    mapstructure:"host"`
	Port    int    `yaml:"port"    mapstructure:"port"`
	APIKey  string `yaml:"api_key" mapstructure:"api_key"`
}

// FleetConfig controls the optional multi-coordinator stats puller.
type FleetConfig struct {
	Enabled      bool   `yaml:"enabled"       mapstructure:"enabled"`
	NodeID       string `yaml:"node_id"       mapstructure:"node_id"`
	PeerURL      string `yaml:"peer_url"      mapstructure:"peer_url"`
	SharedSecret string `yaml:"shared_secret" mapstructure:"shared_secret"`
	PollInterval string `yaml:"poll_interval" mapstructure:"poll_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level            string            `yaml:"level"             mapstructure:"level"             json:"level"`
	Structured       bool              `yaml:"structured"        mapstructure:"structured"        json:"structured"`
	StructuredFormat string            `yaml:"structured_format" mapstructure:"structured_format" json:"structured_format"`
	IncludePID       bool              `yaml:"include_pid"       mapstructure:"include_pid"       json:"include_pid"`
	ExtraFields      map[string]string `yaml:"extra_fields"      mapstructure:"extra_fields"      json:"extra_fields,omitempty"`
}

// AuthRecordConfig is one static record in an `[[auth]].data` block.
type AuthRecordConfig struct {
	Name  string `yaml:"name"  mapstructure:"name"  json:"name"`
	Type  string `yaml:"type"  mapstructure:"type"  json:"type"`
	RData string `yaml:"rdata" mapstructure:"rdata" json:"rdata"`
}

// AuthBlock is one `[[auth]]` TOML block: a zone served from a set of
// loopback listen addresses with a fixed TTL and record set.
type AuthBlock struct {
	Zone            string             `yaml:"zone"             mapstructure:"zone"             json:"zone"`
	ListenAddresses []string           `yaml:"listen-addresses" mapstructure:"listen-addresses" json:"listen_addresses"`
	ServerID        string             `yaml:"server-id"        mapstructure:"server-id"        json:"server_id"`
	TTL             uint32             `yaml:"ttl"              mapstructure:"ttl"              json:"ttl"`
	Data            []AuthRecordConfig `yaml:"data"             mapstructure:"data"             json:"data,omitempty"`
}

// AuthCommonConfig is the `[common]` block accompanying `[[auth]]`.
type AuthCommonConfig struct {
	LogLevel        string `yaml:"log-level"        mapstructure:"log-level"        json:"log_level"`
	FuzzingMessages bool   `yaml:"fuzzing-messages" mapstructure:"fuzzing-messages" json:"fuzzing_messages"`
}

// AuthConfig is the authoritative-stack configuration.
type AuthConfig struct {
	Auths  []AuthBlock      `yaml:"auth"   mapstructure:"auth"`
	Common AuthCommonConfig `yaml:"common" mapstructure:"common"`
}

// Config is the root configuration structure.
type Config struct {
	Resolvers []ResolverConfig `yaml:"resolvers" mapstructure:"resolvers"`
	Scheduler SchedulerConfig  `yaml:"scheduler" mapstructure:"scheduler"`
	Store     StoreConfig      `yaml:"store"     mapstructure:"store"`
	API       APIConfig        `yaml:"api"       mapstructure:"api"`
	Fleet     FleetConfig      `yaml:"fleet"     mapstructure:"fleet"`
	Logging   LoggingConfig    `yaml:"logging"   mapstructure:"logging"`
	Auth      AuthConfig       `yaml:"auth"      mapstructure:"auth"`
}

// ResolveConfigPath determines the config file path from flag or environment.
func ResolveConfigPath(flagValue string) string {
	if strings.TrimSpace(flagValue) != "" {
		return flagValue
	}
	if v := strings.TrimSpace(os.Getenv("RESOLVFUZZ_CONFIG")); v != "" {
		return v
	}
	return ""
}

// Load loads configuration from a TOML (or YAML) file with environment
// variable overrides. This is the main entry point for loading
// configuration.
//
// Configuration priority (highest to lowest):
//  1. Environment variables (RESOLVFUZZ_*)
//  2. Config file values
//  3. Default values
func Load(path string) (*Config, error) {
	return loadFromSource(path)
}
