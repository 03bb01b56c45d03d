package config

import (
	"fmt"
	"strings"

	"resengine/storage"
)

var (
	MaxCallDepthCeiling = 64
	// MinCostLimit keeps a default budget large enough for one instruction.
	MinCostLimit = uint64(1_000)
)

// Validate rejects configurations the engine cannot run with.
func Validate(c *Config) error {
	if strings.TrimSpace(c.Service) == "" {
		return fmt.Errorf("service name must not be empty")
	}
	switch c.Storage.Backend {
	case storage.BackendLevelDB, storage.BackendBolt:
		if strings.TrimSpace(c.Storage.DataDir) == "" {
			return fmt.Errorf("storage: DataDir required for backend %q", c.Storage.Backend)
		}
	case storage.BackendMemory:
	default:
		return fmt.Errorf("storage: unknown backend %q", c.Storage.Backend)
	}
	if c.Engine.MaxCallDepth <= 0 || c.Engine.MaxCallDepth > MaxCallDepthCeiling {
		return fmt.Errorf("engine: MaxCallDepth must be within 1..%d", MaxCallDepthCeiling)
	}
	if c.Engine.MaxSubstateSize <= 0 {
		return fmt.Errorf("engine: MaxSubstateSize <= 0")
	}
	if c.Engine.MaxEvents < 0 {
		return fmt.Errorf("engine: MaxEvents < 0")
	}
	if c.Engine.MaxKeyLength <= 0 {
		return fmt.Errorf("engine: MaxKeyLength <= 0")
	}
	if c.Engine.DefaultCostLimit < MinCostLimit {
		return fmt.Errorf("engine: DefaultCostLimit below %d", MinCostLimit)
	}
	if c.Engine.WasmCostUnitTime <= 0 || c.Engine.WasmMaxRunTime <= 0 {
		return fmt.Errorf("engine: WasmCostUnitTime and WasmMaxRunTime must be positive")
	}
	if c.Costs.Invoke == 0 || c.Costs.HostCall == 0 {
		return fmt.Errorf("costs: Invoke and HostCall must be charged")
	}
	if c.Metrics.Enabled && strings.TrimSpace(c.Metrics.Listen) == "" {
		return fmt.Errorf("metrics: Listen required when enabled")
	}
	if (c.Telemetry.Traces || c.Telemetry.Metrics) && strings.TrimSpace(c.Telemetry.Endpoint) == "" {
		return fmt.Errorf("telemetry: Endpoint required when exporting")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: SampleRatio must be within 0..1")
	}
	if strings.TrimSpace(c.API.Listen) == "" {
		return fmt.Errorf("api: Listen required")
	}
	if c.API.Auth.Enabled && strings.TrimSpace(c.API.Auth.HMACSecret) == "" {
		return fmt.Errorf("api: HMACSecret required when auth is enabled")
	}
	if c.API.RateLimit.RequestsPerMinute < 0 || c.API.RateLimit.Burst < 0 {
		return fmt.Errorf("api: rate limit must not be negative")
	}
	return nil
}
