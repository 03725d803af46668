package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"gopkg.in/natefinch/lumberjack.v2"

	globalconfig "lendcore/config"
	"lendcore/core/events"
	"lendcore/core/state"
	"lendcore/crypto"
	"lendcore/native/lending"
	"lendcore/observability/logging"
	telemetry "lendcore/observability/otel"
	"lendcore/services/lendingd/config"
	"lendcore/services/lendingd/server"
	"lendcore/storage"
)

// logEmitter forwards engine events to the structured log. Event delivery to
// external consumers is the gateway's concern; the daemon records them.
type logEmitter struct {
	logger *slog.Logger
}

func (e logEmitter) Emit(evt events.Event) {
	args := make([]any, 0, 8)
	for key, value := range evt.Attributes() {
		args = append(args, key, value)
	}
	e.logger.Info(evt.EventType(), args...)
}

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/lendingd/config.yaml", "path to lendingd config")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	var logger *slog.Logger
	if cfg.Log.File != "" {
		logger = logging.SetupWithWriter(&lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAge:     cfg.Log.MaxAgeDays,
			Compress:   true,
		}, "lendingd", cfg.Environment)
	} else {
		logger = logging.Setup("lendingd", cfg.Environment)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.Metrics || cfg.Telemetry.Traces {
		shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
			ServiceName: "lendingd",
			Environment: cfg.Environment,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			Metrics:     cfg.Telemetry.Metrics,
			Traces:      cfg.Telemetry.Traces,
		})
		if err != nil {
			logger.Error("init telemetry", "error", err)
			os.Exit(1)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownTelemetry(shutdownCtx)
		}()
	}

	engineCfg, err := globalconfig.Load(cfg.EngineConfig)
	if err != nil {
		logger.Error("load engine config", "error", err)
		os.Exit(1)
	}
	authority, err := crypto.DecodeAddress(cfg.Authority)
	if err != nil {
		logger.Error("decode authority address", "error", err)
		os.Exit(1)
	}
	vault, err := crypto.DecodeAddress(cfg.Vault)
	if err != nil {
		logger.Error("decode vault address", "error", err)
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("open database", "path", cfg.DataDir, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	engine := lending.NewEngine(authority, vault, engineCfg.Lending.RiskConfig())
	engine.SetDefaultCurve(engineCfg.Lending.InterestCurve())
	engine.SetState(state.NewManager(db))
	engine.SetPauses(engineCfg.PauseView())
	engine.SetEmitter(logEmitter{logger: logger})

	srv := server.New(engine, logger,
		server.WithRateLimit(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst),
		server.WithOracle(lending.NewManualOracle()),
	)
	var handler http.Handler = srv.Router()
	if cfg.Telemetry.Traces {
		handler = otelhttp.NewHandler(handler, "lendingd")
	}
	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("lendingd listening", "address", cfg.ListenAddress, "env", cfg.Environment)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("serve", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
	logger.Info("lendingd stopped")
}
