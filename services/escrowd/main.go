// Package escrowd assembles the escrow ledger daemon: LevelDB state, the
// escrow engine with its reputation and arbitration collaborators, the
// hash-chained event log and the authenticated HTTP surface.
package escrowd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"escrowledger/core/events"
	"escrowledger/core/state"
	"escrowledger/native/arbitration"
	"escrowledger/native/escrow"
	"escrowledger/native/reputation"
	"escrowledger/observability"
	"escrowledger/observability/logging"
	telemetry "escrowledger/observability/otel"
	"escrowledger/services/escrowd/auth"
	"escrowledger/services/escrowd/config"
	"escrowledger/services/escrowd/eventlog"
	"escrowledger/services/escrowd/server"
	"escrowledger/storage"
)

const serviceName = "escrowd"

// Main initialises and runs the escrow daemon until SIGINT or SIGTERM.
func Main() error {
	var cfgPath, genesisPath string
	flag.StringVar(&cfgPath, "config", "./escrowd.toml", "path to escrowd configuration")
	flag.StringVar(&genesisPath, "genesis", "", "genesis file applied to an empty ledger (overrides GenesisFile)")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if strings.TrimSpace(genesisPath) != "" {
		cfg.GenesisFile = genesisPath
	}

	logger := logging.Setup(serviceName, cfg.Environment, logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.ConfigFromEnv(serviceName, cfg.Environment))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open state: %w", err)
	}
	defer db.Close()
	manager := state.NewManager(db)

	evlog, err := eventlog.Open(cfg.EventLogPath, logger)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	defer evlog.Close()
	if bad, err := evlog.Verify(context.Background()); err != nil {
		return fmt.Errorf("verify event log: %w", err)
	} else if bad != 0 {
		return fmt.Errorf("event log chain broken at seq %d", bad)
	}

	hub := server.NewHub(logger)
	emitter := events.NewFanout(evlog, hub, observability.Events())

	engine := escrow.NewEngine()
	engine.SetState(manager)
	engine.SetLogger(logger)
	engine.SetObserver(observability.Escrow())
	engine.SetEmitter(emitter)

	ledger := reputation.NewLedger(manager)
	ledger.SetEmitter(emitter)
	engine.SetReputation(ledger)

	var court *arbitration.Court
	var extraArbitrators [][20]byte
	if cfg.Arbitrator.Enabled {
		costs, err := cfg.Arbitrator.ParseCosts()
		if err != nil {
			return err
		}
		court = arbitration.NewCourt(manager, costs)
		court.SetRuler(engine)
		engine.SetArbitrator(court)
		extraArbitrators = append(extraArbitrators, court.Address())
	}

	if err := applyGenesis(logger, cfg.GenesisFile, engine, ledger, extraArbitrators); err != nil {
		return err
	}

	verifier, err := auth.NewVerifier(auth.Config{
		Secret:    []byte(cfg.Auth.HMACSecret),
		Issuer:    cfg.Auth.Issuer,
		Audience:  cfg.Auth.Audience,
		ClockSkew: cfg.Auth.ClockSkew.Duration,
	})
	if err != nil {
		return fmt.Errorf("init auth: %w", err)
	}

	srv, err := server.New(server.Config{
		ListenAddress: cfg.ListenAddress,
		RateLimit: server.RateLimit{
			RequestsPerMinute: float64(cfg.RateLimit.RequestsPerMinute),
			Burst:             cfg.RateLimit.Burst,
		},
	}, server.Deps{
		Engine:     engine,
		Reputation: ledger,
		Court:      court,
		Events:     evlog,
		Hub:        hub,
		Verifier:   verifier,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if addr := strings.TrimSpace(cfg.MetricsAddress); addr != "" {
		go serveMetrics(ctx, logger, addr)
	}
	return srv.Run(ctx)
}

func applyGenesis(logger *slog.Logger, path string, engine *escrow.Engine, ledger *reputation.Ledger, arbitrators [][20]byte) error {
	if strings.TrimSpace(path) == "" {
		if ok, err := engine.Initialized(); err != nil {
			return err
		} else if !ok {
			logger.Warn("ledger not initialised and no genesis configured; mutating calls will fail")
		}
		return nil
	}
	genesis, err := config.LoadGenesis(path)
	if err != nil {
		return fmt.Errorf("load genesis: %w", err)
	}
	applied, err := genesis.Apply(engine, ledger, arbitrators...)
	if err != nil {
		return fmt.Errorf("apply genesis: %w", err)
	}
	if applied {
		logger.Info("genesis applied", slog.String("path", path))
	}
	return nil
}

func serveMetrics(ctx context.Context, logger *slog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logger.Info("escrowd: metrics listening", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server failed", slog.Any("error", err))
	}
}

