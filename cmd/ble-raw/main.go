// BLE Raw Data Debug - lists the ring's characteristics and shows raw
// notifications with the decoder's verdict for every measurement kind.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/SeamusWaldron/wakering/internal/config"
	"github.com/SeamusWaldron/wakering/internal/protocol"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: ~/.config/wakering/config.yaml)")
	listen := flag.Duration("listen", 120*time.Second, "how long to show notifications")
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

	fmt.Println("BLE Raw Data Debug (Detailed)")
	fmt.Println("==============================")
	fmt.Println()

	adapter := bluetooth.DefaultAdapter
	if err := adapter.Enable(); err != nil {
		fmt.Printf("Failed to enable adapter: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Scanning for ring...")

	found := make(chan bluetooth.ScanResult, 1)
	go func() {
		adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
			if cfg.MatchesDevice(result.LocalName(), result.Address.String()) {
				select {
				case found <- result:
				default:
				}
				adapter.StopScan()
			}
		})
	}()

	var target bluetooth.ScanResult
	select {
	case target = <-found:
	case <-time.After(cfg.Device.ScanTimeout):
		adapter.StopScan()
		fmt.Println("Ring not found")
		os.Exit(1)
	}

	// Give time for StopScan to take effect
	time.Sleep(100 * time.Millisecond)

	fmt.Printf("Found: %s (%s)\n", target.LocalName(), target.Address.String())
	fmt.Println()

	fmt.Println("Connecting...")
	device, err := adapter.Connect(target.Address, bluetooth.ConnectionParams{})
	if err != nil {
		fmt.Printf("Failed to connect: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Connected!")
	fmt.Println()

	fmt.Println("Discovering services...")
	services, err := device.DiscoverServices(nil)
	if err != nil {
		fmt.Printf("Failed to discover services: %v\n", err)
		device.Disconnect()
		os.Exit(1)
	}

	roles := map[string]string{
		strings.ToLower(cfg.Characteristics.Write):   "write",
		strings.ToLower(cfg.Characteristics.Notify):  "notify",
		strings.ToLower(cfg.Characteristics.Measure): "measure",
	}

	var notifyChar bluetooth.DeviceCharacteristic
	var haveNotify bool
	fmt.Printf("Found %d services:\n", len(services))
	for i, svc := range services {
		fmt.Printf("  [%d] %s\n", i, svc.UUID().String())
		chars, err := svc.DiscoverCharacteristics(nil)
		if err != nil {
			fmt.Printf("       failed to discover characteristics: %v\n", err)
			continue
		}
		for _, ch := range chars {
			uuid := strings.ToLower(ch.UUID().String())
			role := roles[uuid]
			if role != "" {
				fmt.Printf("       %s  <- %s\n", uuid, role)
			} else {
				fmt.Printf("       %s\n", uuid)
			}
			if role == "notify" {
				notifyChar = ch
				haveNotify = true
			}
		}
	}
	fmt.Println()

	if !haveNotify {
		fmt.Println("Notify characteristic not found; set characteristics.notify in the config.")
		device.Disconnect()
		os.Exit(1)
	}

	fmt.Println("Enabling notifications...")
	err = notifyChar.EnableNotifications(func(data []byte) {
		fmt.Printf("[RAW] %s\n", protocol.FormatHex(data))
		for _, kind := range protocol.Kinds() {
			if r, diag := protocol.Decode(data, kind, time.Now()); diag == protocol.Accepted {
				fmt.Printf("      as %-11s %s\n", kind, r)
			} else if diag == protocol.OutOfRange {
				fmt.Printf("      as %-11s out of range\n", kind)
			}
		}
	})
	if err != nil {
		fmt.Printf("Failed to enable notifications: %v\n", err)
		device.Disconnect()
		os.Exit(1)
	}
	fmt.Println("Notifications enabled!")
	fmt.Println()

	fmt.Println("Start a measurement from the vendor app or 'wakering measure' to see data...")
	fmt.Println("Press Ctrl+C to exit")
	fmt.Println()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	ctx, cancel := context.WithTimeout(context.Background(), *listen)
	defer cancel()

	select {
	case <-sigChan:
		fmt.Println("\nDisconnecting...")
	case <-ctx.Done():
		fmt.Println("\nTimeout, disconnecting...")
	}

	device.Disconnect()
}
