package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/SeamusWaldron/wakering"
	"github.com/SeamusWaldron/wakering/internal/ble"
)

var (
	scanTimeout  time.Duration
	scanAttempts int
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for nearby rings",
	Long: `Scan for rings advertising nearby. A peripheral is listed when its address
is device.address or its name contains one of device.name_hints.`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().DurationVar(&scanTimeout, "timeout", 0, "Scan duration (default: device.scan_timeout)")
	scanCmd.Flags().IntVar(&scanAttempts, "attempts", 1, "Number of scans before giving up")
}

// scanWithRetry scans up to attempts times, stopping at the first scan that
// finds a ring. BLE discovery on macOS often needs a second pass.
func scanWithRetry(ctx context.Context, adapter ble.Adapter, attempts int, scan func(context.Context, ble.Adapter) ([]wakering.Device, error)) ([]wakering.Device, error) {
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		devices, err := scan(ctx, adapter)
		if err != nil {
			lastErr = err
			fmt.Printf("Scan %d failed: %v\n", attempt, err)
			continue
		}
		if len(devices) > 0 {
			return devices, nil
		}
		if attempt < attempts {
			fmt.Printf("Scan %d: No rings found, retrying...\n", attempt)
		}
		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	timeout := scanTimeout
	if timeout <= 0 {
		timeout = cfg.Device.ScanTimeout
	}

	ctx, cancel := signalContext()
	defer cancel()

	fmt.Printf("Scanning for rings (%s)...\n", timeout)
	devices, err := scanWithRetry(ctx, ble.NewTinyGoAdapter(), max(scanAttempts, 1),
		func(ctx context.Context, adapter ble.Adapter) ([]wakering.Device, error) {
			return wakering.Scan(ctx, adapter, cfg, timeout)
		})
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	if len(devices) == 0 {
		printNotFoundTips()
		return nil
	}

	fmt.Printf("Found %d ring(s):\n", len(devices))
	for _, d := range devices {
		name := d.Name
		if name == "" {
			name = "(unnamed)"
		}
		fmt.Printf("  - %s (address: %s, RSSI: %d)\n", name, d.Address, d.RSSI)
	}
	return nil
}
