package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tranchelend/config"
	"tranchelend/observability/logging"
	"tranchelend/observability/metrics"
	"tranchelend/services/poolsim"
)

func main() {
	configFile := flag.String("config", "./node.toml", "Path to the node configuration file")
	scenarioFile := flag.String("scenario", "", "Path to the YAML scenario to run")
	metricsAddr := flag.String("metrics", "", "Serve Prometheus metrics on this address (overrides MetricsAddress)")
	wait := flag.Bool("wait", false, "Keep serving metrics after the scenario until interrupted")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	env := strings.TrimSpace(os.Getenv("TRANCHELEND_ENV"))
	if env == "" {
		env = cfg.Environment
	}
	logger := logging.New(logging.Config{
		Service:     "poolsim",
		Environment: env,
		Level:       logging.ParseLevel(cfg.LogLevel),
		File:        cfg.LogFile,
	})

	if strings.TrimSpace(*scenarioFile) == "" {
		logger.Error("scenario path required")
		os.Exit(2)
	}
	if err := run(cfg, *scenarioFile, firstNonEmpty(*metricsAddr, cfg.MetricsAddress), *wait, logger); err != nil {
		logger.Error("poolsim failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, scenarioPath, metricsAddr string, wait bool, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sc, err := poolsim.LoadScenario(scenarioPath)
	if err != nil {
		return err
	}

	var srv *http.Server
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv = &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("metrics listening", slog.String("addr", metricsAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server stopped", slog.Any("error", err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	node, err := poolsim.NewNode(cfg, poolsim.Options{
		Logger:  logger,
		Metrics: metrics.Lending(),
		Start:   uint64(time.Now().Unix()),
	})
	if err != nil {
		return err
	}
	defer node.Close()

	summary, runErr := poolsim.NewRunner(node, logger).Run(ctx, sc)
	if summary != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(summary); err != nil {
			return err
		}
	}
	if runErr != nil {
		return runErr
	}

	if wait && srv != nil {
		logger.Info("scenario complete; serving metrics until interrupted")
		<-ctx.Done()
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
