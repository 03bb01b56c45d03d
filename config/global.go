package config

import (
	"resengine/core/host"
	"resengine/core/vm"
	"resengine/observability/logging"
	"resengine/observability/otel"
)

// Limits converts the engine section into host limits.
func (c *Config) Limits() host.Limits {
	return host.Limits{
		MaxCallDepth:    c.Engine.MaxCallDepth,
		MaxSubstateSize: c.Engine.MaxSubstateSize,
		MaxEvents:       c.Engine.MaxEvents,
		MaxKeyLength:    c.Engine.MaxKeyLength,
	}
}

// WasmConfig bounds guest memory and run time for the wasm runtime.
func (c *Config) WasmConfig() vm.WasmConfig {
	return vm.WasmConfig{
		MemoryLimitPages: c.Engine.WasmMemoryPages,
		CostUnitTime:     c.Engine.WasmCostUnitTime,
		MaxRunTime:       c.Engine.WasmMaxRunTime,
	}
}

// LoggingOptions returns the options for logging.Setup.
func (c *Config) LoggingOptions() logging.Options {
	return logging.Options{
		Level:      c.Logging.Level,
		File:       c.Logging.File,
		MaxSizeMB:  c.Logging.MaxSizeMB,
		MaxBackups: c.Logging.MaxBackups,
		MaxAgeDays: c.Logging.MaxAgeDays,
		Compress:   c.Logging.Compress,
	}
}

// TelemetryConfig returns the exporter settings for otel.Init.
func (c *Config) TelemetryConfig() otel.Config {
	return otel.Config{
		ServiceName: c.Service,
		Environment: c.Environment,
		Endpoint:    c.Telemetry.Endpoint,
		Insecure:    c.Telemetry.Insecure,
		Headers:     otel.ParseHeaders(c.Telemetry.Headers),
		Traces:      c.Telemetry.Traces,
		Metrics:     c.Telemetry.Metrics,
		SampleRatio: c.Telemetry.SampleRatio,
	}
}
