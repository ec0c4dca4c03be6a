package config

import (
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Log         LogConfig         `koanf:"log"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
	Store       StoreConfig       `koanf:"store"`
	SLO         SLOConfig         `koanf:"slo"`
	Degradation DegradationConfig `koanf:"degradation"`
	Trend       TrendConfig       `koanf:"trend"`
	Health      HealthConfig      `koanf:"health"`
	Serve       ServeConfig       `koanf:"serve"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type TelemetryConfig struct {
	Exporter     string `koanf:"exporter"` // stdout, otlp
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	OTLPInsecure bool   `koanf:"otlp_insecure"`
}

type StoreConfig struct {
	Driver string `koanf:"driver"` // sqlite
	DSN    string `koanf:"dsn"`
	Table  string `koanf:"table"`
}

// SLOConfig carries the default SLO targets applied when a row carries none.
type SLOConfig struct {
	StandardTarget     float64 `koanf:"standard_target"`     // percent, e.g. 98.0
	AspirationalTarget float64 `koanf:"aspirational_target"` // percent, e.g. 99.0
}

type DegradationConfig struct {
	WindowDays       int     `koanf:"window_days"`
	ThresholdPercent float64 `koanf:"threshold_percent"`
}

type TrendConfig struct {
	MinDataPoints     int     `koanf:"min_data_points"`
	MinSlopeMagnitude float64 `koanf:"min_slope_magnitude"`
	LatencyMultiplier float64 `koanf:"latency_multiplier"`
	AnomalyThreshold  float64 `koanf:"anomaly_threshold"` // stddevs
	HistoryDays       int     `koanf:"history_days"`
}

type HealthConfig struct {
	RedSentinel       string `koanf:"red_sentinel"`
	GreenSentinel     string `koanf:"green_sentinel"`
	AttentionSentinel string `koanf:"attention_sentinel"`
}

type ServeConfig struct {
	Transport string `koanf:"transport"` // stdio, http
	HTTPAddr  string `koanf:"http_addr"`
}

// Global k instance
var k = koanf.New(".")

func Load(path string) (*Config, error) {
	// Defaults
	k.Set("log.level", "info")
	k.Set("log.format", "text")

	k.Set("telemetry.exporter", "stdout")

	k.Set("store.driver", "sqlite")
	k.Set("store.dsn", "file:sloscope.db")
	k.Set("store.table", "service_metrics")

	k.Set("slo.standard_target", 98.0)
	k.Set("slo.aspirational_target", 99.0)

	k.Set("degradation.window_days", 7)
	k.Set("degradation.threshold_percent", 20.0)

	k.Set("trend.min_data_points", 3)
	k.Set("trend.min_slope_magnitude", 0.01)
	k.Set("trend.latency_multiplier", 1.5)
	k.Set("trend.anomaly_threshold", 2.0)
	k.Set("trend.history_days", 7)

	// Upstream severity fields are a two-value color code convention.
	k.Set("health.red_sentinel", "#FD346E")
	k.Set("health.green_sentinel", "#07AE86")
	k.Set("health.attention_sentinel", "UNDER_REVIEW")

	k.Set("serve.transport", "stdio")
	k.Set("serve.http_addr", "localhost:8080")

	// 1. Load from file
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	// 2. Load from ENV (SLOSCOPE_STORE_DSN -> store.dsn)
	if err := k.Load(env.Provider("SLOSCOPE_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "SLOSCOPE_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
