package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"resengine/api"
	"resengine/core/host"
	"resengine/core/vm"
	"resengine/storage"
)

// Default returns the configuration written for a fresh installation.
func Default() *Config {
	limits := host.DefaultLimits()
	return &Config{
		Service:     "resengine",
		Environment: "local",
		Storage: Storage{
			Backend: storage.BackendLevelDB,
			DataDir: "./resengine-data",
		},
		Engine: Engine{
			MaxCallDepth:     limits.MaxCallDepth,
			MaxSubstateSize:  limits.MaxSubstateSize,
			MaxEvents:        limits.MaxEvents,
			MaxKeyLength:     limits.MaxKeyLength,
			DefaultCostLimit: 10_000_000,
			WasmMemoryPages:  256,
			WasmCostUnitTime: vm.DefaultCostUnitTime,
			WasmMaxRunTime:   vm.DefaultMaxRunTime,
		},
		Costs: host.DefaultCosts(),
		Logging: Logging{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
		Metrics: Metrics{Listen: "127.0.0.1:9464"},
		Telemetry: Telemetry{
			Endpoint: "localhost:4318",
			Insecure: true,
		},
		API: api.Config{
			Listen:       "127.0.0.1:8680",
			MaxBodyBytes: 1 << 20,
			RateLimit:    api.RateLimit{RequestsPerMinute: 600, Burst: 20},
		},
	}
}

// Load loads the configuration from the given path. Files ending in .yaml or
// .yml are read as YAML, anything else as TOML. A missing file is created
// with the defaults.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	} else if err != nil {
		return nil, err
	}

	cfg := Default()
	if isYAML(path) {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && err != io.EOF {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	} else {
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config %s: unknown key %s", path, undecoded[0])
		}
	}

	cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if isYAML(path) {
		enc := yaml.NewEncoder(f)
		defer enc.Close()
		return enc.Encode(cfg)
	}
	return toml.NewEncoder(f).Encode(cfg)
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
