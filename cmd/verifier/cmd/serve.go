package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	httpadapter "github.com/casf-health/verifier/internal/adapter/inbound/http"
	"github.com/casf-health/verifier/internal/adapter/outbound/opa"
	"github.com/casf-health/verifier/internal/adapter/outbound/postgres"
	"github.com/casf-health/verifier/internal/adapter/outbound/redisstore"
	"github.com/casf-health/verifier/internal/config"
	"github.com/casf-health/verifier/internal/metrics"
	"github.com/casf-health/verifier/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the verification gateway",
	Long: `Start the HTTP server, run database migrations, and begin deciding
tool invocations on POST /verify.

The process exits cleanly on SIGINT/SIGTERM after draining in-flight
requests.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	// stop() restores default signal handling so a second Ctrl+C is a hard kill.
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		stop()
	}()

	store, err := postgres.Open(cfg.PGDSN)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer func() { _ = store.Close() }()

	if err := postgres.Migrate(ctx, store.DB()); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("audit store ready")

	rdb, err := redisstore.NewClient(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	defer func() { _ = rdb.Close() }()

	gate := redisstore.NewGate(rdb)
	limiter := redisstore.NewLimiter(rdb)
	opaClient := opa.NewClient(cfg.OPAURL)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	overrides, err := cfg.TenantOverrides()
	if err != nil {
		return err
	}
	smsOverrides := make(map[string]service.SMSRateOverride, len(overrides))
	for tenant, o := range overrides {
		smsOverrides[tenant] = service.SMSRateOverride{
			Limit:  o.Limit,
			Window: time.Duration(o.WindowSeconds) * time.Second,
		}
	}

	svc := service.NewVerifyService(gate, limiter, opaClient, store, m, logger,
		service.VerifyConfig{
			ReplayEnabled:      cfg.AntiReplayEnabled,
			ReplayTTL:          cfg.ReplayTTL(),
			SMSLimit:           cfg.SMSRateLimit,
			SMSWindow:          cfg.SMSWindow(),
			SMSTenantOverrides: smsOverrides,
		})

	hc := httpadapter.NewHealthChecker(Version,
		httpadapter.Check{Name: "postgres", Ping: store.Ping},
		httpadapter.Check{Name: "redis", Ping: limiter.Ping},
		httpadapter.Check{Name: "opa", Ping: opaClient.Ping},
	)

	router := httpadapter.NewRouter(svc, hc,
		promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}), logger)
	srv := httpadapter.NewServer(router,
		httpadapter.WithAddr(cfg.HTTPAddr),
		httpadapter.WithLogger(logger),
	)

	logger.Info("verifier starting",
		"addr", cfg.HTTPAddr,
		"anti_replay", cfg.AntiReplayEnabled,
		"version", Version)
	return srv.Start(ctx)
}

// newLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)}

	var handler slog.Handler
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
