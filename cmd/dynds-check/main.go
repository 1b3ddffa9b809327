// Command dynds-check opens every configured data source, runs a probe
// query routed to each one, and prints a health report.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	dynds "github.com/vango-go/vango-dynds"
	"golang.org/x/sync/errgroup"
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

type probeResult struct {
	DataSource string `json:"datasource"`
	ServedBy   string `json:"served_by"`
	Database   string `json:"database,omitempty"`
	Error      string `json:"error,omitempty"`
}

type report struct {
	Health *dynds.HealthStatus `json:"health"`
	Probes []probeResult       `json:"probes"`
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("dynds-check", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "dynds.yaml", "path to the YAML config file")
	logFormat := fs.String("log-format", "text", "log format: text or json")
	logLevel := fs.String("log-level", "info", "log level: debug, info, warn, error")
	timeout := fs.Duration("timeout", 30*time.Second, "overall timeout")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	logger := newLogger(stderr, *logFormat, *logLevel)

	cfg, err := dynds.LoadConfig(*configPath)
	if err != nil {
		logger.Error("config load failed", "error", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	holder := dynds.NewHolder()
	router, err := dynds.OpenRouter(ctx, *cfg,
		dynds.WithRouterHolder(holder),
		dynds.WithRouterLogger(logger),
	)
	if err != nil {
		logger.Error("open data sources failed", "error", err)
		return 1
	}
	defer router.Close()

	in := dynds.NewInterceptor(nil, dynds.WithHolder(holder), dynds.WithLogger(logger))
	probes := probeAll(ctx, in, router, logger)

	health, healthErr := dynds.HealthCheck(ctx, router)
	if healthErr != nil {
		logger.Warn("health check degraded", "error", healthErr)
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report{Health: health, Probes: probes}); err != nil {
		logger.Error("write report failed", "error", err)
		return 1
	}

	if leaked := holder.Live(); leaked != 0 {
		logger.Error("execution stacks left behind", "live", leaked)
		return 1
	}
	if healthErr != nil {
		return 1
	}
	for _, p := range probes {
		if p.Error != "" {
			return 1
		}
	}
	return 0
}

// probeAll queries every data source concurrently, each from its own
// execution.
func probeAll(ctx context.Context, in *dynds.Interceptor, router *dynds.Router, logger *slog.Logger) []probeResult {
	names := router.Names()
	results := make([]probeResult, len(names))

	// Probes report failures in their result, so every one of them runs.
	var g errgroup.Group
	for i, name := range names {
		g.Go(func() error {
			results[i] = probe(dynds.Fork(ctx), in, router, name)
			if results[i].Error != "" {
				logger.Warn("probe failed", "datasource", name, "error", results[i].Error)
				return nil
			}
			logger.Info("probe ok", "datasource", name, "database", results[i].Database)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func probe(ctx context.Context, in *dynds.Interceptor, router *dynds.Router, name string) probeResult {
	res := probeResult{DataSource: name}
	err := in.InterceptKey(ctx, name, func(ctx context.Context) error {
		served, _, err := router.Current(ctx)
		if err != nil {
			return err
		}
		res.ServedBy = served
		return router.QueryRow(ctx, "SELECT current_database()").Scan(&res.Database)
	})
	if err != nil {
		res.Error = fmt.Sprintf("%v", err)
	}
	return res
}
