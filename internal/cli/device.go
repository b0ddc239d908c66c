package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var unbindYes bool

var vibrateCmd = &cobra.Command{
	Use:   "vibrate [pattern]",
	Short: "Make the ring vibrate",
	Long: `Send a vibration pattern from commands.vibrations to the ring.
Without a pattern, lists the configured patterns.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runVibrate,
}

var unbindCmd = &cobra.Command{
	Use:   "unbind",
	Short: "Unpair the ring",
	Long: `Send the unbind command. The ring forgets its pairing and must be set up
again with the vendor app afterwards.`,
	Args: cobra.NoArgs,
	RunE: runUnbind,
}

func init() {
	rootCmd.AddCommand(vibrateCmd)
	rootCmd.AddCommand(unbindCmd)
	unbindCmd.Flags().BoolVar(&unbindYes, "yes", false, "Confirm the unbind")
}

func runVibrate(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		names := cfg.VibrationNames()
		if len(names) == 0 {
			fmt.Println("No vibration patterns configured (commands.vibrations)")
			return nil
		}
		fmt.Println("Vibration patterns:")
		for _, key := range names {
			fmt.Printf("  %-12s %s\n", key, cfg.Commands.Vibrations[key].Name)
		}
		return nil
	}

	ctx, cancel := signalContext()
	defer cancel()
	s, err := connect(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.ring.Vibrate(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("Sent %s\n", args[0])
	return nil
}

func runUnbind(cmd *cobra.Command, args []string) error {
	if !unbindYes {
		return fmt.Errorf("unbind removes the ring's pairing; rerun with --yes to confirm")
	}

	ctx, cancel := signalContext()
	defer cancel()
	s, err := connect(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	fmt.Println("Unbinding...")
	if err := s.ring.Unbind(ctx); err != nil {
		return err
	}
	fmt.Println("Ring unbound")
	return nil
}
