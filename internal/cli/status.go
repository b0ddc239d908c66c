package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/SeamusWaldron/wakering"
	"github.com/SeamusWaldron/wakering/internal/appstate"
	"github.com/SeamusWaldron/wakering/internal/protocol"
	"github.com/SeamusWaldron/wakering/internal/storage"
)

var statusConnect bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show ring and local status",
	Long: `Display the configured ring, the alarms and measurements stored locally, and
with --connect the live connection status of the ring.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusConnect, "connect", false, "Connect to the ring and report live status")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	stateFile, err := appstate.NewDefaultStateFile()
	if err != nil {
		return fmt.Errorf("failed to load state: %w", err)
	}
	state := stateFile.State()

	fmt.Println("Wake Ring Status")
	fmt.Println("================")
	fmt.Println()

	fmt.Printf("Config:   %s\n", getConfigPath())
	fmt.Printf("Database: %s\n", cfg.Database)
	fmt.Println()

	if state.LastDeviceAddress != "" {
		fmt.Printf("Last ring: %s (%s), connected %s\n", state.LastDeviceName, state.LastDeviceAddress,
			state.LastConnectedAt.Format(time.RFC3339))
	} else {
		fmt.Println("No device history")
	}

	if device, err := currentDevice(cfg); err == nil {
		db, err := openDB(cfg)
		if err == nil {
			defer db.Close()
			printStoredStatus(db, device)
		}
	}

	if !statusConnect {
		return nil
	}

	ctx, cancel := signalContext()
	defer cancel()

	s, err := connect(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	fmt.Println()
	printRingStatus(s.ring.Status())
	return nil
}

func printStoredStatus(db *storage.DB, device string) {
	alarms, err := storage.NewAlarmRepository(db, device).List()
	if err == nil {
		fmt.Printf("Stored alarms: %d of 5\n", len(alarms))
	}

	sessions, err := storage.NewMeasurementRepository(db, device).ListSessions(protocol.KindNone, 1)
	if err == nil && len(sessions) > 0 {
		last := sessions[0]
		result := "no reading"
		if last.Reading != nil {
			result = last.Reading.String() + " " + last.Kind.Unit()
		}
		fmt.Printf("Last measurement: %s %s (%s)\n", last.Kind.DisplayName(), result,
			last.StartedAt.Format(time.RFC3339))
	}
}

func printRingStatus(st wakering.Status) {
	connected := "no"
	if st.Connected {
		connected = "yes"
	}
	auth := "no"
	if st.Authenticated {
		auth = "yes"
	}
	fmt.Printf("Ring:          %s\n", st.Device.Address)
	fmt.Printf("Connected:     %s\n", connected)
	fmt.Printf("Authenticated: %s\n", auth)
	fmt.Printf("Alarms:        %d\n", len(st.Alarms))
	for _, a := range st.Alarms {
		fmt.Printf("  %s\n", a)
	}
	if st.NextAlarm != nil {
		fmt.Printf("Next alarm:    %s at %s\n", st.NextAlarm, st.NextAlarmAt.Format("Mon 15:04"))
	}
	if st.Watching {
		fmt.Println("Alarm watcher: running")
	}
	for _, k := range protocol.Kinds() {
		if r, ok := st.Latest[k]; ok {
			fmt.Printf("%-14s %s\n", k.DisplayName()+":", r)
		}
	}
}
