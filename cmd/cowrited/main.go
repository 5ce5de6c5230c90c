// cowrited serves the CoWrite writing pipeline over gRPC.
//
// Usage:
//
//	cowrited                                  # defaults, :50051 and :9090
//	cowrited -config cowrite.yaml             # YAML config over the defaults
//	cowrited -addr :8080 -metrics-addr :9100  # override listeners
//
// COWRITE_* environment variables override the config file; provider keys
// are normally passed that way (COWRITE_GEMINI_API_KEY, COWRITE_OPENAI_API_KEY).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jeeves-cluster-organization/cowrite/commbus"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/agents"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/config"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/grpc"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/llm"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/logging"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/observability"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/pipeline"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/runtime"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/session"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.LookupEnv, os.Stderr); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "cowrited: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig applies the file, then the environment, then the flags.
func loadConfig(args []string, lookup func(string) (string, bool), stderr io.Writer) (*config.CoreConfig, error) {
	fs := flag.NewFlagSet("cowrited", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to a YAML config file")
	addr := fs.String("addr", "", "gRPC listen address (overrides grpc_address)")
	metricsAddr := fs.String("metrics-addr", "", "metrics listen address (overrides metrics_address)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, err
	}
	if err := config.ApplyEnv(cfg, lookup); err != nil {
		return nil, err
	}
	if *addr != "" {
		cfg.GRPCAddress = *addr
	}
	if *metricsAddr != "" {
		cfg.MetricsAddress = *metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// buildClient chains the configured providers, each behind its own circuit
// breaker: Gemini first, then the OpenAI-compatible endpoint.
func buildClient(ctx context.Context, cfg *config.CoreConfig) (*llm.FallbackClient, error) {
	reset := time.Duration(cfg.CircuitResetSeconds) * time.Second
	var providers []llm.Provider

	if cfg.GeminiAPIKey != "" {
		g, err := llm.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, fmt.Errorf("gemini client: %w", err)
		}
		providers = append(providers, llm.NewCircuitBreaker(g, cfg.CircuitFailureThreshold, reset))
	}
	if cfg.OpenAIAPIKey != "" {
		c, err := llm.NewChatCompletionsClient(llm.ChatCompletionsConfig{
			Name:    "qwen",
			BaseURL: cfg.OpenAIBaseURL,
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.OpenAIModel,
			Timeout: time.Duration(cfg.LLMTimeout) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("chat completions client: %w", err)
		}
		providers = append(providers, llm.NewCircuitBreaker(c, cfg.CircuitFailureThreshold, reset))
	}
	return llm.NewFallbackClient(providers...)
}

func newRunner(client llm.Client, cfg *config.CoreConfig, sink runtime.LogSink, logger logging.Logger) *runtime.Runner {
	r := runtime.NewRunner(client, logger)
	r.Sink = sink
	r.MaxAttempts = cfg.MaxAttempts
	r.Backoff = runtime.ExponentialBackoff(cfg.BackoffInitial(), cfg.BackoffMax())
	r.Defaults = llm.SamplingParams{
		Model:       cfg.DefaultModel,
		Temperature: llm.Temperature(cfg.DefaultTemperature),
		MaxTokens:   cfg.DefaultMaxTokens,
	}
	return r
}

func run(ctx context.Context, args []string, lookup func(string) (string, bool), stderr io.Writer) error {
	cfg, err := loadConfig(args, lookup, stderr)
	if err != nil {
		return err
	}
	config.SetCoreConfig(cfg)

	logger, err := logging.NewZap(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck
	logger.Info("cowrited_starting", "version", observability.ServiceVersion, "grpc_address", cfg.GRPCAddress)

	if cfg.OTLPEndpoint != "" {
		shutdown, err := observability.InitTracer(ctx, "cowrited", cfg.OTLPEndpoint, "production")
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(sctx); err != nil {
				logger.Warn("tracer_shutdown_failed", "error", err.Error())
			}
		}()
	}

	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer db.Close()

	client, err := buildClient(ctx, cfg)
	if err != nil {
		return err
	}
	logger.Info("model_providers_configured", "providers", client.Providers())

	bus := commbus.NewInMemoryCommBus(commbus.DefaultQueryTimeout, logger)
	bus.AddMiddleware(commbus.NewLoggingMiddleware(logger))

	runner := newRunner(client, cfg, db, logger)
	svc := pipeline.New(
		agents.NewSet(runner, cfg, logger),
		session.NewMachine(db, logger),
		db,
		bus,
		cfg,
		logger,
	)
	if err := svc.RegisterQueries(bus); err != nil {
		return err
	}

	metrics := &http.Server{Addr: cfg.MetricsAddress, Handler: metricsMux(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics_server_failed", "error", err.Error())
		}
	}()
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metrics.Shutdown(sctx)
	}()

	server := grpc.NewServer(svc, cfg, logger)
	stopCleanup := server.StartCleanupLoop(grpc.DefaultCleanupInterval)
	defer stopCleanup()
	logger.Info("cowrited_ready", "grpc_address", cfg.GRPCAddress, "metrics_address", cfg.MetricsAddress)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start(ctx) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("shutdown_signal_received")
		server.ShutdownWithTimeout(shutdownTimeout)
		<-errCh
		logger.Info("cowrited_stopped")
		return nil
	}
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok")
	})
	return mux
}
