package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/SeamusWaldron/wakering/internal/protocol"
	"github.com/SeamusWaldron/wakering/internal/storage"
)

var (
	exportFormat string
	exportOutput string
	exportLast   bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export measurement data",
	Long:  `Export archived measurement data in various formats.`,
}

var exportSessionCmd = &cobra.Command{
	Use:   "session [session-id]",
	Short: "Export the frames of a session",
	Long: `Export the raw notification frames of a session in text or JSON format.

Examples:
  wakering export session --last
  wakering export session <session_id> --format json
  wakering export session <session_id> --format txt -o frames.txt`,
	Args: cobra.MaximumNArgs(1),
	RunE: runExportSession,
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.AddCommand(exportSessionCmd)
	exportSessionCmd.Flags().BoolVar(&exportLast, "last", false, "Export the last session")
	exportSessionCmd.Flags().StringVar(&exportFormat, "format", "txt", "Export format (txt, json)")
	exportSessionCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file (default: stdout)")
}

// frameJSON is the exported form of one archived frame.
type frameJSON struct {
	Index      int      `json:"index"`
	TsMs       int64    `json:"ts_ms"`
	Kind       string   `json:"kind"`
	Raw        string   `json:"raw"`
	Diagnostic string   `json:"diagnostic"`
	Value      *float64 `json:"value,omitempty"`
	Unit       string   `json:"unit,omitempty"`
}

// formatFrames renders frames as hex lines or a JSON array.
func formatFrames(frames []storage.Frame, format string) (string, error) {
	switch strings.ToLower(format) {
	case "txt":
		lines := make([]string, len(frames))
		for i, f := range frames {
			lines[i] = fmt.Sprintf("%s %s %s", f.CapturedAt.Format(time.RFC3339Nano), f.Diagnostic, protocol.FormatHex(f.Raw))
		}
		return strings.Join(lines, "\n"), nil

	case "json":
		out := make([]frameJSON, len(frames))
		for i, f := range frames {
			out[i] = frameJSON{
				Index:      i,
				TsMs:       f.CapturedAt.UnixMilli(),
				Kind:       f.Kind.String(),
				Raw:        protocol.FormatHex(f.Raw),
				Diagnostic: f.Diagnostic,
			}
			if r, diag := protocol.Decode(f.Raw, f.Kind, f.CapturedAt); diag == protocol.Accepted {
				v := r.Value.Float()
				out[i].Value = &v
				out[i].Unit = f.Kind.Unit()
			}
		}
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to marshal JSON: %w", err)
		}
		return string(data), nil
	}
	return "", fmt.Errorf("unknown format: %s (use txt or json)", format)
}

func runExportSession(cmd *cobra.Command, args []string) error {
	_, db, repo, err := openMeasurements()
	if err != nil {
		return err
	}
	defer db.Close()

	id, err := resolveSessionID(repo, args, exportLast)
	if err != nil {
		return err
	}
	frames, err := repo.Frames(id)
	if err != nil {
		return err
	}
	if len(frames) == 0 {
		return fmt.Errorf("no frames found for session %s", id)
	}

	output, err := formatFrames(frames, exportFormat)
	if err != nil {
		return err
	}

	if exportOutput == "" {
		fmt.Println(output)
		return nil
	}

	dir := filepath.Dir(exportOutput)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	if err := os.WriteFile(exportOutput, []byte(output+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	fmt.Printf("Exported %d frames to %s\n", len(frames), exportOutput)
	return nil
}
