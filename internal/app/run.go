package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"anemometer-server/internal/config"
	"anemometer-server/internal/db"
	"anemometer-server/internal/httpapi"
	"anemometer-server/internal/live"
	"anemometer-server/internal/migrate"
	"anemometer-server/internal/modules/telemetry"
	"anemometer-server/internal/modules/telemetry/history"
	"anemometer-server/internal/modules/telemetry/repository"
	"anemometer-server/internal/modules/telemetry/service"
	"anemometer-server/internal/mqtt"
)

// application holds everything Run starts and later tears down.
type application struct {
	handler http.Handler
	store   *history.Store
	dbConn  *sql.DB
	hub     *live.Hub
	broker  *mqtt.Publisher
	logger  *slog.Logger
}

func Run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	logger.Info("config loaded",
		"appEnv", cfg.AppEnv,
		"logLevel", cfg.LogLevel.String(),
		"httpAddr", cfg.HTTPAddr,
		"deviceIMEI", cfg.DeviceIMEI,
		"mirror", cfg.Mirror,
		"sqlitePath", cfg.Path,
		"snapshotPath", cfg.SnapshotPath,
		"historyRestore", cfg.HistoryRestore,
		"mqttEnabled", cfg.MQTTEnabled,
		"mqttBroker", cfg.MQTTBroker,
		"mqttPort", cfg.MQTTPort,
	)

	a, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	srv := httpapi.NewServer(cfg, a.handler, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", "addr", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// websocket connections are hijacked and not tracked by Shutdown
	a.hub.Close()

	logger.Info("http shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	err = <-errCh
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return ctx.Err()
}

func build(ctx context.Context, cfg config.Config, logger *slog.Logger) (a *application, err error) {
	a = &application{logger: logger}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	mirror, err := a.openMirror(ctx, cfg)
	if err != nil {
		return nil, err
	}

	a.store = history.New(mirror, logger)
	if cfg.HistoryRestore {
		n, err := a.store.Restore(ctx)
		if err != nil {
			return nil, fmt.Errorf("restore history from %s mirror: %w", mirror.Kind(), err)
		}
		logger.Info("history restored", "mirror", mirror.Kind(), "records", n)
	}

	a.hub = live.NewHub(a.store.Latest, live.DefaultQueueSize, logger)
	publishers := []service.Publisher{a.hub}

	deps := httpapi.HealthDeps{History: a.store, DB: a.dbConn}
	if cfg.MQTTEnabled {
		a.broker = mqtt.NewPublisher(cfg, logger)

		// Short timeout so a missing broker does not block startup; the
		// client keeps reconnecting in the background.
		connectCtx, connectCancel := context.WithTimeout(ctx, 5*time.Second)
		err := a.broker.Connect(connectCtx)
		connectCancel()
		if err != nil {
			logger.Warn("mqtt connection failed (continuing, publishes are skipped until connected)", "error", err)
		}
		publishers = append(publishers, a.broker)
		deps.Broker = a.broker
	}

	mux := httpapi.NewMux(deps)
	telemetry.RegisterFeature(mux, a.store, cfg.DeviceIMEI, logger, publishers...)
	a.hub.RegisterRoutes(mux)
	a.handler = mux

	return a, nil
}

func (a *application) openMirror(ctx context.Context, cfg config.Config) (history.Mirror, error) {
	switch cfg.Mirror {
	case config.MirrorSQLite:
		conn, err := db.Open(cfg, a.logger)
		if err != nil {
			return nil, err
		}
		a.dbConn = conn
		if err := migrate.Run(ctx, conn); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		a.logger.Info("database ready", "path", cfg.Path)
		return repository.NewSQLiteMirror(repository.NewRepository(conn)), nil
	case config.MirrorSnapshot:
		m, err := history.NewSnapshotMirror(cfg.SnapshotPath)
		if err != nil {
			return nil, err
		}
		return m, nil
	case config.MirrorNone:
		return history.NopMirror{}, nil
	default:
		return nil, fmt.Errorf("unknown mirror %q", cfg.Mirror)
	}
}

func (a *application) close() {
	if a.hub != nil {
		a.hub.Close()
	}
	if a.broker != nil {
		a.logger.Info("mqtt disconnecting")
		a.broker.Disconnect()
	}
	if err := db.Close(a.dbConn); err != nil {
		a.logger.Error("db close", "error", err)
	}
}
