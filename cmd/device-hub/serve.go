package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/afroash/device-hub/internal/bridge"
	"github.com/afroash/device-hub/internal/config"
	"github.com/afroash/device-hub/internal/discovery"
	"github.com/afroash/device-hub/internal/hub"
	"github.com/afroash/device-hub/internal/logging"
	"github.com/afroash/device-hub/internal/server"
	"github.com/afroash/device-hub/internal/storage"
)

// app holds every long-lived component of the hub process
type app struct {
	cfg    *config.AppConfig
	logger zerolog.Logger

	groups  *server.Groups
	router  *hub.Router
	monitor *hub.Monitor
	mux     *http.ServeMux

	// optional
	store      *storage.SQLiteStore
	writer     *storage.DBWriter
	cleaner    *storage.RetentionCleaner
	nc         *nats.Conn
	bridge     *bridge.Bridge
	advertiser *discovery.Advertiser
}

func serve(ctx context.Context, path string) error {
	cfg, err := config.LoadAppConfig(path)
	if err != nil {
		return err
	}

	logger, closer, err := logging.New(cfg.Logging, "device-hub")
	if err != nil {
		return err
	}
	defer closer.Close()

	logger.Info().
		Str("version", version).
		Str("config", cfg.String()).
		Msg("Starting device hub")

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to start")
		return err
	}
	return a.run(ctx)
}

// newApp builds and starts the hub components described by cfg
func newApp(cfg *config.AppConfig, logger zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	var opts []hub.Option

	if cfg.Database.Enabled {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		store, err := storage.NewSQLiteStore(cfg.Database.Path, logger)
		if err != nil {
			return nil, err
		}
		a.store = store
		a.writer = storage.NewDBWriter(store, storage.DBWriterConfig{
			BatchSize:   cfg.Database.BatchSize,
			FlushPeriod: cfg.Database.FlushPeriod,
			ChannelSize: cfg.Database.ChannelSize,
		}, logger)
		a.cleaner = storage.NewRetentionCleaner(store, storage.RetentionCleanerConfig{
			RetentionDays: cfg.Database.RetentionDays,
			CleanupPeriod: cfg.Database.CleanupPeriod,
		}, logger)
		opts = append(opts, hub.WithRecorder(a.writer))
	}

	if cfg.NATS.Enabled {
		nc, err := bridge.Connect(cfg.NATS, logger)
		if err != nil {
			a.close()
			return nil, err
		}
		a.nc = nc
		// The router does not exist yet; control requests only arrive once Run subscribes
		a.bridge = bridge.New(nc, cfg.NATS.SubjectPrefix, bridge.ControllerFunc(func(deviceID string, command json.RawMessage) error {
			return a.router.OnControlDevice(deviceID, command)
		}), logger.With().Str("component", "nats").Logger())
		opts = append(opts, hub.WithPublisher(a.bridge))
	}

	a.groups = server.NewGroups(logger)
	a.router = hub.NewRouter(a.groups, hub.Config{
		HistorySize:     cfg.Hub.HistorySize,
		ClientBacklog:   cfg.Hub.Backlog(),
		HistoryLimit:    cfg.Hub.HistoryLimit,
		LivenessTimeout: cfg.Hub.LivenessTimeout,
	}, logger, opts...)
	a.monitor = hub.NewMonitor(a.router, hub.MonitorConfig{SweepInterval: cfg.Hub.SweepInterval}, logger)

	var api *server.APIHandler
	if a.store != nil {
		api = server.NewAPIHandlerWithArchive(a.router, a.store, version, logger)
	} else {
		api = server.NewAPIHandler(a.router, version, logger)
	}

	api.Report("monitor", func() interface{} { return a.monitor.Stats() })
	if a.writer != nil {
		api.Report("archive_writer", func() interface{} { return a.writer.Stats() })
		api.Report("retention", func() interface{} { return a.cleaner.Stats() })
	}
	if a.bridge != nil {
		api.Report("nats", func() interface{} { return a.bridge.Stats() })
	}

	a.mux = http.NewServeMux()
	api.Register(a.mux)
	a.mux.Handle(cfg.Server.WSPath, server.NewHandler(a.router, a.groups, logger, cfg.Server.AllowedOrigins...))

	if cfg.Discovery.Enabled {
		a.advertiser = discovery.NewAdvertiser(discovery.HubInfo{
			Instance: cfg.Discovery.Instance,
			Service:  cfg.Discovery.Service,
			Domain:   cfg.Discovery.Domain,
			Port:     cfg.Server.Port,
			WSPath:   cfg.Server.WSPath,
			Version:  version,
		}, logger)
	}

	return a, nil
}

// run serves until ctx is cancelled or a component fails, then shuts down
func (a *app) run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.Port),
		Handler:      a.mux,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
	}

	if a.advertiser != nil {
		if err := a.advertiser.Start(); err != nil {
			// The hub is still reachable by address
			a.logger.Warn().Err(err).Msg("mDNS advertisement unavailable")
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info().Str("addr", srv.Addr).Str("ws_path", a.cfg.Server.WSPath).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if a.bridge != nil {
		g.Go(func() error {
			return a.bridge.Run(ctx)
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		return a.shutdown(srv)
	})

	err := g.Wait()
	a.logger.Info().Msg("Device hub stopped")
	return err
}

// shutdown stops intake before the components behind it: WebSocket
// connections and HTTP requests first, so nothing reaches the archive after
// its writer has stopped.
func (a *app) shutdown(srv *http.Server) error {
	a.logger.Info().Msg("Shutting down")
	if a.advertiser != nil {
		a.advertiser.Shutdown()
	}

	closed := a.groups.CloseAll()
	a.logger.Info().Int("connections", closed).Msg("WebSocket connections closed")

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	err := srv.Shutdown(ctx)

	a.close()
	return err
}

// close stops the background components in dependency order. Safe to call
// on a partially built app.
func (a *app) close() {
	if a.monitor != nil {
		a.monitor.Stop()
		a.logger.Info().Msg("Liveness monitor stopped")
	}
	if a.writer != nil {
		a.writer.Stop()
	}
	if a.cleaner != nil {
		a.cleaner.Stop()
		a.logger.Info().Msg("Archive retention sweeper stopped")
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to close SQLite store")
		}
	}
	if a.advertiser != nil {
		a.advertiser.Shutdown()
	}
	if a.nc != nil && a.bridge == nil {
		a.nc.Close()
	}
}
