// BLE Debug Scanner - scans for all BLE devices to help identify the ring
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/SeamusWaldron/wakering/internal/config"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: ~/.config/wakering/config.yaml)")
	duration := flag.Duration("duration", 60*time.Second, "how long to scan")
	flag.Parse()

	path := *configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("BLE Debug Scanner for smart rings")
	fmt.Println("=================================")
	fmt.Println()
	fmt.Println("IMPORTANT: Close the vendor app on your phone first!")
	fmt.Println("  A connected ring stops advertising.")
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop scanning...")
	fmt.Println()

	adapter := bluetooth.DefaultAdapter
	if err := adapter.Enable(); err != nil {
		fmt.Printf("ERROR: Failed to enable Bluetooth adapter: %v\n", err)
		fmt.Println()
		fmt.Println("Try: System Settings > Privacy & Security > Bluetooth")
		fmt.Println("     Add Terminal (or your terminal app) to the allowed list")
		os.Exit(1)
	}

	fmt.Printf("Bluetooth adapter enabled. Scanning for %s...\n", *duration)
	fmt.Println()
	fmt.Printf("%-40s %-25s %-6s %s\n", "ADDRESS/UUID", "NAME", "RSSI", "NOTES")
	fmt.Println(strings.Repeat("-", 90))

	seen := make(map[string]bool)
	var found atomic.Bool

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigChan:
		case <-time.After(*duration):
			fmt.Println()
			fmt.Printf("Scan timeout (%s).\n", *duration)
		}
		adapter.StopScan()
	}()

	err = adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		addr := result.Address.String()
		if seen[addr] {
			return
		}
		seen[addr] = true

		name := result.LocalName()
		notes := ""
		if cfg.MatchesDevice(name, addr) {
			notes = "*** RING FOUND! ***"
			found.Store(true)
		}

		if name == "" {
			name = "(no name)"
		}

		// Only show named devices or rings to reduce noise
		if name != "(no name)" || notes != "" {
			fmt.Printf("%-40s %-25s %-6d %s\n", addr, truncate(name, 25), result.RSSI, notes)
		}
	})
	if err != nil {
		fmt.Printf("ERROR: Scan failed: %v\n", err)
		os.Exit(1)
	}

	printSummary(found.Load())
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func printSummary(found bool) {
	fmt.Println()
	if found {
		fmt.Println("SUCCESS: a ring was detected!")
		fmt.Println()
		fmt.Println("Now run: wakering status --connect")
	} else {
		fmt.Println("No ring was detected.")
		fmt.Println()
		fmt.Println("Troubleshooting:")
		fmt.Println("  1. Close the vendor app so the ring is not connected to your phone")
		fmt.Println("  2. Put the ring on its charger for a moment to wake it")
		fmt.Println("  3. Add its advertised name to device.name_hints in the config")
		fmt.Println("  4. Try moving closer to the computer")
	}
}
