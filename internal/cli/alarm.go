package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/SeamusWaldron/wakering"
	"github.com/SeamusWaldron/wakering/internal/alarm"
	"github.com/SeamusWaldron/wakering/internal/protocol"
	"github.com/SeamusWaldron/wakering/internal/storage"
)

var (
	alarmName     string
	alarmTime     string
	alarmDays     string
	alarmDisabled bool
	alarmEnable   bool
	alarmDisable  bool
	alarmWatchNow bool
)

var alarmCmd = &cobra.Command{
	Use:   "alarm",
	Short: "Manage the ring's wake alarms",
	Long: `Commands for listing, creating, modifying and deleting the ring's alarms.

The ring holds up to five alarms. Each change runs a four-step transaction
with the ring and takes several seconds; the local copy is only updated once
the ring has accepted the whole transaction.

Days may be "daily", a comma-separated list of weekdays (mon,wed,fri), or a
bit mask where Monday is bit 0 (0x1F for weekdays).`,
}

var alarmListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the alarms stored for the ring",
	Long:  `List the alarms last committed to the ring. The ring itself cannot be read back, so this shows the local copy.`,
	Args:  cobra.NoArgs,
	RunE:  runAlarmList,
}

var alarmCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an alarm in the first free slot",
	Long: `Create an alarm in the first free slot.

Examples:
  wakering alarm create --time 06:30 --days mon,tue,wed,thu,fri --name Work
  wakering alarm create --time 09:00 --days sat,sun --disabled`,
	Args: cobra.NoArgs,
	RunE: runAlarmCreate,
}

var alarmModifyCmd = &cobra.Command{
	Use:   "modify <slot>",
	Short: "Change fields of an alarm",
	Long:  `Change the name, time, days or enabled state of an alarm. Fields not given keep their value.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runAlarmModify,
}

var alarmToggleCmd = &cobra.Command{
	Use:   "toggle <slot>",
	Short: "Enable or disable an alarm",
	Args:  cobra.ExactArgs(1),
	RunE:  runAlarmToggle,
}

var alarmDeleteCmd = &cobra.Command{
	Use:   "delete <slot>",
	Short: "Delete an alarm",
	Args:  cobra.ExactArgs(1),
	RunE:  runAlarmDelete,
}

var alarmNextCmd = &cobra.Command{
	Use:   "next",
	Short: "Show when the next alarm rings",
	Args:  cobra.NoArgs,
	RunE:  runAlarmNext,
}

var alarmWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Vibrate the ring when an alarm goes off",
	Long: `Stay connected and play the configured alarm vibration
(commands.alarm_vibration) at the time of every enabled alarm. Alarms changed
from another terminal are picked up within a minute. Press Ctrl+C to stop.

With --test an alarm for the next minute is created first.`,
	Args: cobra.NoArgs,
	RunE: runAlarmWatch,
}

func init() {
	rootCmd.AddCommand(alarmCmd)

	alarmCmd.AddCommand(alarmListCmd)

	alarmCmd.AddCommand(alarmCreateCmd)
	alarmCreateCmd.Flags().StringVar(&alarmName, "name", "Alarm", "Alarm name (max 10 characters)")
	alarmCreateCmd.Flags().StringVar(&alarmTime, "time", "", "Alarm time as HH:MM")
	alarmCreateCmd.Flags().StringVar(&alarmDays, "days", "daily", "Days the alarm rings on")
	alarmCreateCmd.Flags().BoolVar(&alarmDisabled, "disabled", false, "Create the alarm disabled")
	alarmCreateCmd.MarkFlagRequired("time")

	alarmCmd.AddCommand(alarmModifyCmd)
	alarmModifyCmd.Flags().StringVar(&alarmName, "name", "", "New alarm name")
	alarmModifyCmd.Flags().StringVar(&alarmTime, "time", "", "New alarm time as HH:MM")
	alarmModifyCmd.Flags().StringVar(&alarmDays, "days", "", "New alarm days")
	alarmModifyCmd.Flags().BoolVar(&alarmEnable, "enable", false, "Enable the alarm")
	alarmModifyCmd.Flags().BoolVar(&alarmDisable, "disable", false, "Disable the alarm")
	alarmModifyCmd.MarkFlagsMutuallyExclusive("enable", "disable")

	alarmCmd.AddCommand(alarmToggleCmd)
	alarmCmd.AddCommand(alarmDeleteCmd)
	alarmCmd.AddCommand(alarmNextCmd)

	alarmCmd.AddCommand(alarmWatchCmd)
	alarmWatchCmd.Flags().BoolVar(&alarmWatchNow, "test", false, "Create an alarm for the next minute before watching")
}

// parseClock parses "HH:MM" (or "H:MM") into hour and minute.
func parseClock(s string) (hour, minute int, err error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid time %q: want HH:MM", s)
	}
	if hour, err = strconv.Atoi(h); err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	if minute, err = strconv.Atoi(m); err != nil || len(m) != 2 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return hour, minute, nil
}

// parseSlot parses a slot argument.
func parseSlot(s string) (int, error) {
	slot, err := strconv.Atoi(s)
	if err != nil || slot < alarm.MinSlot || slot > alarm.MaxSlot {
		return 0, fmt.Errorf("invalid slot %q: want %d-%d", s, alarm.MinSlot, alarm.MaxSlot)
	}
	return slot, nil
}

// buildPatch turns the modify flags into a patch. changed reports whether
// a flag was given on the command line.
func buildPatch(changed func(string) bool) (alarm.Patch, error) {
	var p alarm.Patch
	if changed("name") {
		name := alarmName
		p.Name = &name
	}
	if changed("time") {
		h, m, err := parseClock(alarmTime)
		if err != nil {
			return p, err
		}
		p.Hour, p.Minute = &h, &m
	}
	if changed("days") {
		days, err := protocol.ParseDaySpec(alarmDays)
		if err != nil {
			return p, err
		}
		p.Days = &days
	}
	switch {
	case alarmEnable:
		enabled := true
		p.Enabled = &enabled
	case alarmDisable:
		enabled := false
		p.Enabled = &enabled
	}
	return p, nil
}

func runAlarmList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	device, err := currentDevice(cfg)
	if err != nil {
		return err
	}
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	alarms, err := storage.NewAlarmRepository(db, device).List()
	if err != nil {
		return err
	}
	if len(alarms) == 0 {
		fmt.Println("No alarms set")
		return nil
	}

	fmt.Printf("Alarms for %s:\n", device)
	fmt.Println()
	fmt.Printf("%-5s %-6s %-12s %-28s %s\n", "SLOT", "TIME", "NAME", "DAYS", "STATE")
	for _, a := range alarms {
		state := "off"
		if a.Enabled {
			state = "on"
		}
		fmt.Printf("%-5d %-6s %-12s %-28s %s\n", a.Slot, a.Time(), a.Name, protocol.DescribeDays(a.DayMask), state)
	}
	return nil
}

func runAlarmCreate(cmd *cobra.Command, args []string) error {
	hour, minute, err := parseClock(alarmTime)
	if err != nil {
		return err
	}
	days, err := protocol.ParseDaySpec(alarmDays)
	if err != nil {
		return err
	}
	desc := alarm.New(alarmName, hour, minute, days, !alarmDisabled)

	ctx, cancel := signalContext()
	defer cancel()
	s, err := connect(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	fmt.Printf("Setting alarm %s %s...\n", desc.Time(), protocol.DescribeDays(desc.DayMask))
	created, err := s.ring.Alarms().Create(ctx, desc)
	if err != nil {
		return alarmError(err)
	}
	fmt.Printf("Created %s\n", created)
	return nil
}

func runAlarmModify(cmd *cobra.Command, args []string) error {
	slot, err := parseSlot(args[0])
	if err != nil {
		return err
	}
	patch, err := buildPatch(cmd.Flags().Changed)
	if err != nil {
		return err
	}
	if patch.IsEmpty() {
		return fmt.Errorf("nothing to change: give --name, --time, --days, --enable or --disable")
	}

	ctx, cancel := signalContext()
	defer cancel()
	s, err := connect(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	updated, err := s.ring.Alarms().Modify(ctx, slot, patch)
	if err != nil {
		return alarmError(err)
	}
	fmt.Printf("Updated %s\n", updated)
	return nil
}

func runAlarmToggle(cmd *cobra.Command, args []string) error {
	slot, err := parseSlot(args[0])
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()
	s, err := connect(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	updated, err := s.ring.Alarms().Toggle(ctx, slot)
	if err != nil {
		return alarmError(err)
	}
	fmt.Printf("Updated %s\n", updated)
	return nil
}

func runAlarmDelete(cmd *cobra.Command, args []string) error {
	slot, err := parseSlot(args[0])
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()
	s, err := connect(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.ring.Alarms().Delete(ctx, slot); err != nil {
		return alarmError(err)
	}
	fmt.Printf("Deleted alarm %d\n", slot)
	return nil
}

func runAlarmNext(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	device, err := currentDevice(cfg)
	if err != nil {
		return err
	}
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	alarms, err := storage.NewAlarmRepository(db, device).List()
	if err != nil {
		return err
	}
	m := alarm.NewManager(nil, nil, alarm.DefaultOptions())
	m.Load(alarms)

	now := time.Now()
	next, at, ok := m.Next(now)
	if !ok {
		fmt.Println("No enabled alarms")
		return nil
	}
	fmt.Printf("Next alarm: %s at %s (in %s)\n", next, at.Format("Mon 15:04"), at.Sub(now).Round(time.Minute))
	return nil
}

func runAlarmWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()
	s, err := connect(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	alarms := s.ring.Alarms()
	if alarmWatchNow {
		created, err := alarms.Create(ctx, alarm.InOneMinute("Test", time.Now()))
		if err != nil {
			return alarmError(err)
		}
		fmt.Printf("Created %s\n", created)
	}

	if next, at, ok := alarms.Next(time.Now()); ok {
		fmt.Printf("Watching %d alarms, next: %s at %s\n", len(alarms.List()), next, at.Format("Mon 15:04"))
	} else {
		fmt.Println("No enabled alarms yet, watching for new ones")
	}
	fmt.Println("Press Ctrl+C to stop")

	err = s.ring.WatchAlarms(ctx, printTrigger)
	if errors.Is(err, context.Canceled) {
		fmt.Println("Stopped")
		return nil
	}
	return err
}

func printTrigger(t wakering.AlarmTrigger) {
	if t.Err != nil {
		fmt.Printf("%s  %s: vibration failed: %v\n", t.At.Format("15:04"), t.Alarm, t.Err)
		return
	}
	fmt.Printf("%s  %s\n", t.At.Format("15:04"), t.Alarm)
}

// alarmError adds a hint for errors a user can act on.
func alarmError(err error) error {
	var pe *alarm.PhaseError
	switch {
	case errors.Is(err, alarm.ErrSlotPoolExhausted):
		return fmt.Errorf("%w\nDelete an alarm first with 'wakering alarm delete <slot>'", err)
	case errors.Is(err, alarm.ErrAlarmNotFound):
		return fmt.Errorf("%w\nSee 'wakering alarm list' for the stored alarms", err)
	case errors.Is(err, alarm.ErrPersist):
		return fmt.Errorf("the ring accepted the change but the local copy was not saved: %w", err)
	case errors.As(err, &pe):
		return fmt.Errorf("%w\nThe ring did not accept the change; nothing was stored", err)
	}
	return err
}
