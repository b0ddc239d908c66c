package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/SeamusWaldron/wakering/internal/config"
	"github.com/SeamusWaldron/wakering/internal/protocol"
	"github.com/SeamusWaldron/wakering/internal/storage"
)

var (
	historyKind   string
	historyLimit  int
	historyLast   bool
	historyBefore time.Duration
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show past measurements",
	Long: `List the measurement sessions recorded for the ring, newest first.

Examples:
  wakering history
  wakering history --kind heartrate --limit 5
  wakering history show --last
  wakering history prune --older-than 720h`,
	Args: cobra.NoArgs,
	RunE: runHistoryList,
}

var historyShowCmd = &cobra.Command{
	Use:   "show [session-id]",
	Short: "Show the frames of a session",
	Long: `Display every notification frame archived during a session with the
decoder's verdict at the time it arrived.

Use --last to show the most recent session.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistoryShow,
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete old sessions",
	Args:  cobra.NoArgs,
	RunE:  runHistoryPrune,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().StringVar(&historyKind, "kind", "", "Only list one kind (heartrate, o2, temperature, steps)")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of sessions to display")

	historyCmd.AddCommand(historyShowCmd)
	historyShowCmd.Flags().BoolVar(&historyLast, "last", false, "Show the most recent session")

	historyCmd.AddCommand(historyPruneCmd)
	historyPruneCmd.Flags().DurationVar(&historyBefore, "older-than", 30*24*time.Hour, "Delete sessions started longer ago than this")
}

// openMeasurements opens the measurement archive of the current ring.
func openMeasurements() (*config.Config, *storage.DB, *storage.MeasurementRepository, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	device, err := currentDevice(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	db, err := openDB(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, db, storage.NewMeasurementRepository(db, device), nil
}

// resolveSessionID returns the session named by args, or the newest one
// when last is set.
func resolveSessionID(repo *storage.MeasurementRepository, args []string, last bool) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	if !last {
		return "", fmt.Errorf("specify a session id or --last")
	}
	sessions, err := repo.ListSessions(protocol.KindNone, 1)
	if err != nil {
		return "", err
	}
	if len(sessions) == 0 {
		return "", fmt.Errorf("no sessions found")
	}
	return sessions[0].SessionID, nil
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	kind := protocol.KindNone
	if historyKind != "" {
		k, err := protocol.ParseKind(historyKind)
		if err != nil {
			return err
		}
		kind = k
	}

	_, db, repo, err := openMeasurements()
	if err != nil {
		return err
	}
	defer db.Close()

	sessions, err := repo.ListSessions(kind, historyLimit)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("No measurements recorded")
		return nil
	}

	fmt.Printf("%-10s %-19s %-12s %-12s %6s  %s\n", "ID", "STARTED", "KIND", "RESULT", "FRAMES", "NOTE")
	for _, s := range sessions {
		result := "-"
		if s.Reading != nil {
			result = s.Reading.String() + " " + s.Kind.Unit()
		}
		note := s.Error
		if s.EndedAt == nil {
			note = "unfinished"
		}
		fmt.Printf("%-10s %-19s %-12s %-12s %6d  %s\n",
			s.SessionID[:min(8, len(s.SessionID))], s.StartedAt.Format("2006-01-02 15:04:05"),
			s.Kind, result, s.Frames, note)
	}
	return nil
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	_, db, repo, err := openMeasurements()
	if err != nil {
		return err
	}
	defer db.Close()

	id, err := resolveSessionID(repo, args, historyLast)
	if err != nil {
		return err
	}
	frames, err := repo.Frames(id)
	if err != nil {
		return err
	}

	fmt.Printf("Session %s: %d frames\n", id, len(frames))
	fmt.Println()
	for _, f := range frames {
		line := fmt.Sprintf("%s  %-14s %s", f.CapturedAt.Format("15:04:05.000"), f.Diagnostic, protocol.FormatHex(f.Raw))
		if r, diag := protocol.Decode(f.Raw, f.Kind, f.CapturedAt); diag == protocol.Accepted {
			line += "  -> " + r.String()
		}
		fmt.Println(line)
	}
	return nil
}

func runHistoryPrune(cmd *cobra.Command, args []string) error {
	_, db, repo, err := openMeasurements()
	if err != nil {
		return err
	}
	defer db.Close()

	n, err := repo.DeleteSessionsBefore(time.Now().Add(-historyBefore))
	if err != nil {
		return err
	}
	fmt.Printf("Deleted %d session(s)\n", n)
	return nil
}
