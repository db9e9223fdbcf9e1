package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/afroash/device-hub/internal/client"
	"github.com/afroash/device-hub/internal/config"
	"github.com/afroash/device-hub/internal/discovery"
	"github.com/afroash/device-hub/internal/logging"
	"github.com/afroash/device-hub/internal/models"
	"github.com/afroash/device-hub/internal/sensor"
)

var version = "v0.3.0"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "device-sim",
	Short: "Device that streams sensor telemetry to a device hub",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to the hub and stream readings until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), configPath)
	},
}

func init() {
	runCmd.Flags().StringVarP(&configPath, "config", "c", "configs/device.yaml", "path to config file")
	rootCmd.AddCommand(runCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, path string) error {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return err
	}

	logger, closer, err := logging.New(cfg.Logging, "device-sim")
	if err != nil {
		return err
	}
	defer closer.Close()

	logger.Info().Str("version", version).Str("config", cfg.String()).Msg("Starting device simulator")

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Server.URL == "" {
		url, err := resolveHub(ctx, cfg.Server, logger)
		if err != nil {
			return err
		}
		cfg.Server.URL = url
	}

	source, err := openSource(cfg.Device)
	if err != nil {
		return err
	}

	return runDevice(ctx, cfg, source, logger)
}

func resolveHub(ctx context.Context, cfg config.ServerConfig, logger zerolog.Logger) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.DiscoverTimeout)
	defer cancel()

	logger.Info().Str("service", cfg.Service).Msg("Looking for hub over mDNS")
	url, err := discovery.Resolve(ctx, cfg.Service, "local.")
	if err != nil {
		return "", fmt.Errorf("hub discovery failed: %w", err)
	}
	logger.Info().Str("url", url).Msg("Hub discovered")
	return url, nil
}

func openSource(cfg config.DeviceConfig) (sensor.Source, error) {
	switch cfg.Type {
	case config.SensorTypeDHT11:
		return sensor.NewDHT11Reader(cfg.GPIOPin)
	default:
		return sensor.NewSyntheticSensor(uint64(time.Now().UnixNano())), nil
	}
}

// runDevice samples source and streams readings to the hub until ctx is done
func runDevice(ctx context.Context, cfg *config.Config, source sensor.Source, logger zerolog.Logger) error {
	info := models.NewDeviceInfo(cfg.Device.ID, cfg.Device.Location, cfg.Device.Type, version)
	reader := sensor.NewReader(source, cfg.Device.ID, cfg.Device.ReadInterval, logger)
	defer reader.Close()

	buffer := client.NewTelemetryBuffer(cfg.Buffer.Size, cfg.Buffer.DropOldest)
	conn := client.NewConnection(client.ConnectionConfig{
		URL:                  cfg.Server.URL,
		Binary:               cfg.Server.Binary,
		ConnectTimeout:       cfg.Server.ConnectTimeout,
		ReconnectInterval:    cfg.Server.ReconnectInterval,
		MaxReconnectInterval: cfg.Server.MaxReconnectInterval,
		PingInterval:         cfg.Server.PingInterval,
		PongTimeout:          cfg.Server.PongTimeout,
	}, info, buffer, logger)
	conn.OnControl(func(cmd models.ControlCommand, state bool) {
		logger.Info().Str("cmd", cmd.Cmd).Bool("actuator", state).Msg("Actuator switched")
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return reader.Start(ctx)
	})
	g.Go(func() error {
		return conn.Run(ctx, reader.Readings())
	})

	err := g.Wait()
	conn.Close()

	stats := conn.Stats()
	logger.Info().
		Int64("telemetry_sent", stats.TelemetrySent).
		Int64("controls_received", stats.ControlsReceived).
		Int64("reconnects", stats.Reconnects).
		Str("buffer", buffer.String()).
		Msg("Device simulator stopped")

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
