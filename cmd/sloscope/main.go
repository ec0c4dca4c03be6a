// Command sloscope serves the SLO analytics operations as an MCP tool
// server over stdio or streamable HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/sloscope/sloscope/pkg/config"
	"github.com/sloscope/sloscope/pkg/degradation"
	"github.com/sloscope/sloscope/pkg/dispatch"
	"github.com/sloscope/sloscope/pkg/health"
	"github.com/sloscope/sloscope/pkg/slo"
	"github.com/sloscope/sloscope/pkg/store"
	"github.com/sloscope/sloscope/pkg/telemetry"
	"github.com/sloscope/sloscope/pkg/trend"
)

const (
	serviceName = "sloscope"
	version     = "0.1.0"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "sloscope: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to YAML config file")
	initSchema := flag.Bool("init-schema", false, "create the metrics table and indexes, then continue serving")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Stdio transport owns stdout for the protocol; logs go to stderr.
	logger := telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	shutdown, err := telemetry.InitWithConfig(serviceName, version, telemetry.Config{
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			slog.Error("telemetry shutdown failed", "error", err)
		}
	}()

	metrics, err := telemetry.NewEngineMetrics()
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	st, err := store.Open(cfg.Store.DSN,
		store.WithTable(cfg.Store.Table),
		store.WithMetrics(metrics),
	)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	if *initSchema {
		if err := st.EnsureSchema(ctx); err != nil {
			return err
		}
		slog.Info("schema ensured", "table", cfg.Store.Table)
	}

	d := dispatch.NewDispatcher(metrics)
	dispatch.RegisterOperations(d, dispatch.Components{
		Store: st,
		Calculator: slo.NewCalculator(st, slo.Config{
			StandardTarget:     cfg.SLO.StandardTarget,
			AspirationalTarget: cfg.SLO.AspirationalTarget,
		}),
		Detector: degradation.NewDetector(st, degradation.Config{
			WindowDays:       cfg.Degradation.WindowDays,
			ThresholdPercent: cfg.Degradation.ThresholdPercent,
		}),
		Analyzer: trend.NewAnalyzer(st, trend.Config{
			MinDataPoints:     cfg.Trend.MinDataPoints,
			MinSlopeMagnitude: cfg.Trend.MinSlopeMagnitude,
			LatencyMultiplier: cfg.Trend.LatencyMultiplier,
			AnomalyThreshold:  cfg.Trend.AnomalyThreshold,
			HistoryDays:       cfg.Trend.HistoryDays,
		}),
		Health: health.NewAggregator(st, health.Config{
			RedSentinel:       cfg.Health.RedSentinel,
			GreenSentinel:     cfg.Health.GreenSentinel,
			AttentionSentinel: cfg.Health.AttentionSentinel,
		}),
	})

	server := dispatch.NewMCPServer(d, serviceName, version)

	switch cfg.Serve.Transport {
	case "http":
		slog.Info("serving streamable HTTP", "addr", cfg.Serve.HTTPAddr)
		return server.ServeStreamableHTTP(cfg.Serve.HTTPAddr)
	case "stdio", "":
		slog.Info("serving stdio")
		return server.ServeStdio()
	default:
		return fmt.Errorf("unknown transport %q", cfg.Serve.Transport)
	}
}
