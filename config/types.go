package config

import (
	"time"

	"resengine/api"
	"resengine/core/host"
)

// Storage selects the substate backend.
type Storage struct {
	Backend string `toml:"Backend" yaml:"backend"`
	DataDir string `toml:"DataDir" yaml:"dataDir"`
}

// Engine bounds what a single transaction may do.
type Engine struct {
	MaxCallDepth     int    `toml:"MaxCallDepth" yaml:"maxCallDepth"`
	MaxSubstateSize  int    `toml:"MaxSubstateSize" yaml:"maxSubstateSize"`
	MaxEvents        int    `toml:"MaxEvents" yaml:"maxEvents"`
	MaxKeyLength     int    `toml:"MaxKeyLength" yaml:"maxKeyLength"`
	DefaultCostLimit uint64 `toml:"DefaultCostLimit" yaml:"defaultCostLimit"`
	// WasmMemoryPages caps guest linear memory in 64KiB pages.
	WasmMemoryPages uint32 `toml:"WasmMemoryPages" yaml:"wasmMemoryPages"`
	// WasmCostUnitTime is the guest run time bought by one unit of budget.
	WasmCostUnitTime time.Duration `toml:"WasmCostUnitTime" yaml:"wasmCostUnitTime"`
	// WasmMaxRunTime caps a single guest invocation.
	WasmMaxRunTime time.Duration `toml:"WasmMaxRunTime" yaml:"wasmMaxRunTime"`
}

// Logging controls the structured log sink.
type Logging struct {
	Level      string `toml:"Level" yaml:"level"`
	File       string `toml:"File,omitempty" yaml:"file,omitempty"`
	MaxSizeMB  int    `toml:"MaxSizeMB" yaml:"maxSizeMB"`
	MaxBackups int    `toml:"MaxBackups" yaml:"maxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays" yaml:"maxAgeDays"`
	Compress   bool   `toml:"Compress" yaml:"compress"`
}

// Metrics exposes the prometheus registry over HTTP.
type Metrics struct {
	Enabled bool   `toml:"Enabled" yaml:"enabled"`
	Listen  string `toml:"Listen" yaml:"listen"`
}

// Telemetry configures OTLP export.
type Telemetry struct {
	Endpoint string `toml:"Endpoint" yaml:"endpoint"`
	Insecure bool   `toml:"Insecure" yaml:"insecure"`
	// Headers uses the OTEL_EXPORTER_OTLP_HEADERS form: key=value,foo=bar.
	Headers string `toml:"Headers,omitempty" yaml:"headers,omitempty"`
	Traces  bool   `toml:"Traces" yaml:"traces"`
	Metrics bool   `toml:"Metrics" yaml:"metrics"`
	// SampleRatio of transaction traces kept; 0 keeps all.
	SampleRatio float64 `toml:"SampleRatio" yaml:"sampleRatio"`
}

// Indexer persists receipts for queries. An empty DSN disables it.
type Indexer struct {
	DSN string `toml:"DSN,omitempty" yaml:"dsn,omitempty"`
}

// Config is the process configuration of the engine runner.
type Config struct {
	Service     string         `toml:"Service" yaml:"service"`
	Environment string         `toml:"Environment" yaml:"environment"`
	Storage     Storage        `toml:"storage" yaml:"storage"`
	Engine      Engine         `toml:"engine" yaml:"engine"`
	Costs       host.CostTable `toml:"costs" yaml:"costs"`
	Logging     Logging        `toml:"logging" yaml:"logging"`
	Metrics     Metrics        `toml:"metrics" yaml:"metrics"`
	Telemetry   Telemetry      `toml:"telemetry" yaml:"telemetry"`
	Indexer     Indexer        `toml:"indexer" yaml:"indexer"`
	API         api.Config     `toml:"api" yaml:"api"`
}
