// Package cli implements the command-line interface for wakering.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/SeamusWaldron/wakering"
	"github.com/SeamusWaldron/wakering/internal/appstate"
	"github.com/SeamusWaldron/wakering/internal/ble"
	"github.com/SeamusWaldron/wakering/internal/config"
	"github.com/SeamusWaldron/wakering/internal/storage"
)

const version = "0.1.0"

var (
	// Global flags
	cfgPath string
	dbPath  string
	address string
	verbose bool
)

// rootCmd is the base command.
var rootCmd = &cobra.Command{
	Use:   "wakering",
	Short: "Smart ring alarm and sensor tool",
	Long: `wakering - A CLI tool for the alarms and health sensors of BLE smart rings.

Connect to your ring over Bluetooth, manage its five wake alarms, take heart
rate, blood oxygen, temperature and step readings, and keep a local history
of every measurement.`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: setupLogging,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Config file path (default: ~/.config/wakering/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Database file path (default: from config)")
	rootCmd.PersistentFlags().StringVar(&address, "address", "", "Ring address, overrides device.address")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

// setupLogging installs the default slog logger at the configured level.
// Logs go to stderr so command output stays clean.
func setupLogging(cmd *cobra.Command, args []string) error {
	level := slog.LevelWarn
	if cfg, err := config.LoadOrDefault(getConfigPath()); err == nil && cfg.LogLevel != "" {
		level = config.ParseLogLevel(cfg.LogLevel)
	}
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	return nil
}

// getConfigPath returns the config path from flag or default.
func getConfigPath() string {
	if cfgPath != "" {
		return cfgPath
	}
	return config.DefaultConfigPath()
}

// loadConfig loads and validates the configuration, applying flag
// overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOrDefault(getConfigPath())
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.Database = dbPath
	}
	if address != "" {
		cfg.Device.Address = address
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// openDB opens the configured database.
func openDB(cfg *config.Config) (*storage.DB, error) {
	var db *storage.DB
	var err error
	if cfg.Database == "" {
		db, err = storage.OpenDefault()
	} else {
		db, err = storage.Open(cfg.Database)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// session bundles what a connected command needs.
type session struct {
	cfg   *config.Config
	db    *storage.DB
	state *appstate.StateFile
	ring  *wakering.Ring
}

func (s *session) Close() {
	if s.ring != nil {
		s.ring.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
}

// resolveDevice picks the ring to connect to: the configured address, the
// strongest ring found by a scan, or the last ring connected.
func resolveDevice(ctx context.Context, adapter ble.Adapter, cfg *config.Config, state *appstate.StateFile) (wakering.Device, error) {
	if cfg.Device.Address != "" {
		return wakering.Device{Address: cfg.Device.Address}, nil
	}

	fmt.Println("Scanning for rings...")
	devices, err := wakering.Scan(ctx, adapter, cfg, cfg.Device.ScanTimeout)
	if err != nil {
		return wakering.Device{}, fmt.Errorf("scan failed: %w", err)
	}
	if len(devices) > 0 {
		fmt.Printf("Found: %s (%s)\n", devices[0].Name, devices[0].Address)
		return devices[0], nil
	}

	if last := state.State(); last.LastDeviceAddress != "" {
		fmt.Printf("No ring advertising, trying last ring %s\n", last.LastDeviceAddress)
		return wakering.Device{Name: last.LastDeviceName, Address: last.LastDeviceAddress}, nil
	}
	return wakering.Device{}, wakering.ErrDeviceNotFound
}

// connect opens the database, connects to the ring and authenticates.
// Alarm changes and measurements are recorded against the ring's address.
func connect(ctx context.Context) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	state, err := appstate.NewDefaultStateFile()
	if err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}

	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	s := &session{cfg: cfg, db: db, state: state}

	adapter := ble.NewTinyGoAdapter()
	device, err := resolveDevice(ctx, adapter, cfg, state)
	if err != nil {
		s.Close()
		if errors.Is(err, wakering.ErrDeviceNotFound) {
			printNotFoundTips()
		}
		return nil, err
	}

	ring, err := wakering.Connect(ctx, adapter, device.Address, cfg,
		wakering.WithAlarmStore(storage.NewAlarmRepository(db, device.Address)),
		wakering.WithArchive(storage.NewMeasurementRepository(db, device.Address)),
	)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", device.Address, err)
	}
	s.ring = ring
	ring.OnDisconnect(func() {
		fmt.Fprintln(os.Stderr, "Ring disconnected")
	})

	if err := state.SetLastDevice(device.Address, device.Name, time.Now()); err != nil {
		slog.Warn("failed to save state", "error", err)
	}

	if err := ring.Authenticate(ctx); err != nil {
		if !errors.Is(err, config.ErrMissingCommand) {
			s.Close()
			return nil, err
		}
		slog.Warn("no auth sequence configured, continuing unauthenticated")
	}
	return s, nil
}

// currentDevice returns the address commands without a connection work
// against: the configured one, else the last ring connected.
func currentDevice(cfg *config.Config) (string, error) {
	if cfg.Device.Address != "" {
		return cfg.Device.Address, nil
	}
	state, err := appstate.NewDefaultStateFile()
	if err != nil {
		return "", fmt.Errorf("failed to load state: %w", err)
	}
	if addr := state.LastDeviceAddress(); addr != "" {
		return addr, nil
	}
	return "", fmt.Errorf("no ring known yet: connect once or set device.address")
}

func printNotFoundTips() {
	fmt.Println("No ring found.")
	fmt.Println()
	fmt.Println("To fix this:")
	fmt.Println("  1. Make sure the ring is charged and nearby")
	fmt.Println("  2. Close the vendor app so the ring advertises again")
	fmt.Println("  3. Check that Bluetooth is enabled")
}
