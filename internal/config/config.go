package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// initConfig sets up the config loader with defaults, env binding, and
// config file. Viper is told the file is TOML by default but falls back to
// whatever extension the path actually carries.
func initConfig(configPath string) (*viper.Viper, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("RESOLVFUZZ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if !strings.Contains(configPath, ".") {
			v.SetConfigType("toml")
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return v, nil
}

func setDefaults(v *viper.Viper) {
	// Scheduler defaults.
	v.SetDefault("scheduler.batch_size", 50)
	v.SetDefault("scheduler.p_new", 0.15)
	v.SetDefault("scheduler.seed", 1)

	// Store defaults.
	v.SetDefault("store.db_path", "resolvfuzz.db")
	v.SetDefault("store.dump_dir", "dumps")

	// Status API defaults.
	// Default to disabled and bound to localhost for safety.
	v.SetDefault("api.enabled", false)
	v.SetDefault("api.host", "127.0.0.1")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.api_key", "")

	// Fleet defaults.
	v.SetDefault("fleet.enabled", false)
	v.SetDefault("fleet.poll_interval", "30s")

	// Logging defaults.
	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.structured", false)
	v.SetDefault("logging.structured_format", "json")
	v.SetDefault("logging.include_pid", false)
	v.SetDefault("logging.extra_fields", map[string]string{})

	// Authoritative-stack defaults.
	v.SetDefault("common.log-level", "INFO")
	v.SetDefault("common.fuzzing-messages", true)
}

func loadFromSource(configPath string) (*Config, error) {
	v, err := initConfig(configPath)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}

	if err := v.UnmarshalKey("resolvers", &cfg.Resolvers); err != nil {
		return nil, fmt.Errorf("failed to parse resolvers: %w", err)
	}
	loadSchedulerConfig(v, cfg)
	loadStoreConfig(v, cfg)
	loadAPIConfig(v, cfg)
	loadFleetConfig(v, cfg)
	loadLoggingConfig(v, cfg)
	if err := loadAuthConfig(v, cfg); err != nil {
		return nil, err
	}

	if err := normalizeConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadSchedulerConfig(v *viper.Viper, cfg *Config) {
	cfg.Scheduler.BatchSize = v.GetInt("scheduler.batch_size")
	cfg.Scheduler.PNew = v.GetFloat64("scheduler.p_new")
	cfg.Scheduler.Seed = v.GetInt64("scheduler.seed")
}

func loadStoreConfig(v *viper.Viper, cfg *Config) {
	cfg.Store.DBPath = v.GetString("store.db_path")
	cfg.Store.DumpDir = v.GetString("store.dump_dir")
}

func loadAPIConfig(v *viper.Viper, cfg *Config) {
	cfg.API.Enabled = v.GetBool("api.enabled")
	cfg.API.Host = v.GetString("api.host")
	cfg.API.Port = v.GetInt("api.port")
	cfg.API.APIKey = v.GetString("api.api_key")
}

func loadFleetConfig(v *viper.Viper, cfg *Config) {
	cfg.Fleet.Enabled = v.GetBool("fleet.enabled")
	cfg.Fleet.NodeID = v.GetString("fleet.node_id")
	cfg.Fleet.PeerURL = v.GetString("fleet.peer_url")
	cfg.Fleet.SharedSecret = v.GetString("fleet.shared_secret")
	cfg.Fleet.PollInterval = v.GetString("fleet.poll_interval")
}

func loadLoggingConfig(v *viper.Viper, cfg *Config) {
	cfg.Logging.Level = strings.ToUpper(v.GetString("logging.level"))
	cfg.Logging.Structured = v.GetBool("logging.structured")
	cfg.Logging.StructuredFormat = v.GetString("logging.structured_format")
	cfg.Logging.IncludePID = v.GetBool("logging.include_pid")
	cfg.Logging.ExtraFields = v.GetStringMapString("logging.extra_fields")
}

func loadAuthConfig(v *viper.Viper, cfg *Config) error {
	if err := v.UnmarshalKey("auth", &cfg.Auth.Auths); err != nil {
		return fmt.Errorf("failed to parse auth blocks: %w", err)
	}
	cfg.Auth.Common.LogLevel = v.GetString("common.log-level")
	cfg.Auth.Common.FuzzingMessages = v.GetBool("common.fuzzing-messages")
	return nil
}

// normalizeConfig validates and normalizes the configuration.
func normalizeConfig(cfg *Config) error {
	if cfg.Scheduler.BatchSize <= 0 {
		cfg.Scheduler.BatchSize = 50
	}
	if cfg.Scheduler.PNew <= 0 {
		cfg.Scheduler.PNew = 0.15
	}

	if cfg.Store.DBPath == "" {
		cfg.Store.DBPath = "resolvfuzz.db"
	}
	if cfg.Store.DumpDir == "" {
		cfg.Store.DumpDir = "dumps"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	if cfg.Logging.StructuredFormat == "" {
		cfg.Logging.StructuredFormat = "json"
	}
	if cfg.Logging.ExtraFields == nil {
		cfg.Logging.ExtraFields = map[string]string{}
	}

	if cfg.API.Host == "" {
		cfg.API.Host = "127.0.0.1"
	}
	if cfg.API.Enabled {
		if cfg.API.Port <= 0 || cfg.API.Port > 65535 {
			return errors.New("api.port must be 1..65535")
		}
	}

	if cfg.Fleet.Enabled && cfg.Fleet.PeerURL == "" {
		return errors.New("fleet.peer_url is required when fleet.enabled is true")
	}

	for i, r := range cfg.Resolvers {
		if r.ID == "" {
			return fmt.Errorf("resolvers[%d].id is required", i)
		}
		if r.BinaryPath == "" {
			return fmt.Errorf("resolvers[%d].binary_path is required", i)
		}
		if r.ControlAddr == "" {
			return fmt.Errorf("resolvers[%d].control_addr is required", i)
		}
	}

	return nil
}
