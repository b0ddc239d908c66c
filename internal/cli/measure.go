package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/SeamusWaldron/wakering/internal/protocol"
)

var (
	measureDuration time.Duration
	measurePlain    bool
)

var measureCmd = &cobra.Command{
	Use:   "measure <heartrate|o2|temperature|steps>",
	Short: "Take a sensor reading",
	Long: `Start a measurement on the ring and show readings as they arrive.

Heart rate, blood oxygen and temperature are measured for --duration and
report the last valid reading; steps returns as soon as the ring answers.
Every frame received is archived and can be inspected with 'wakering history'.

Keyboard shortcuts:
  q/Esc   - Stop the measurement early`,
	Args: cobra.ExactArgs(1),
	RunE: runMeasure,
}

func init() {
	rootCmd.AddCommand(measureCmd)
	measureCmd.Flags().DurationVarP(&measureDuration, "duration", "d", 0, "Measurement duration (default: timing.measure_duration)")
	measureCmd.Flags().BoolVar(&measurePlain, "plain", false, "Print readings as lines instead of the live view")
}

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	readingStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("82"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))
)

// Messages
type measureTickMsg time.Time
type readingMsg protocol.Reading
type measureDoneMsg struct {
	reading protocol.Reading
	err     error
}

// measureModel is the live view of one measurement.
type measureModel struct {
	kind     protocol.Kind
	duration time.Duration
	started  time.Time
	elapsed  time.Duration

	run    func() (protocol.Reading, error)
	cancel context.CancelFunc

	spinner  spinner.Model
	progress progress.Model

	readings []protocol.Reading
	result   protocol.Reading
	err      error
	done     bool
	stopping bool
}

func newMeasureModel(kind protocol.Kind, duration time.Duration, cancel context.CancelFunc, run func() (protocol.Reading, error)) measureModel {
	return measureModel{
		kind:     kind,
		duration: duration,
		started:  time.Now(),
		run:      run,
		cancel:   cancel,
		spinner:  spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(titleStyle)),
		progress: progress.New(progress.WithDefaultGradient(), progress.WithWidth(40), progress.WithoutPercentage()),
	}
}

func (m measureModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.tickCmd(), m.runCmd())
}

func (m measureModel) tickCmd() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return measureTickMsg(t)
	})
}

func (m measureModel) runCmd() tea.Cmd {
	return func() tea.Msg {
		r, err := m.run()
		return measureDoneMsg{reading: r, err: err}
	}
}

func (m measureModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			if m.done {
				return m, tea.Quit
			}
			// Measure returns once the stop command is sent.
			m.stopping = true
			m.cancel()
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.progress.Width = min(max(msg.Width-8, 10), 60)
		return m, nil

	case readingMsg:
		m.readings = append(m.readings, protocol.Reading(msg))
		return m, nil

	case measureDoneMsg:
		m.done = true
		m.result = msg.reading
		m.err = msg.err
		m.elapsed = time.Since(m.started)
		return m, tea.Quit

	case measureTickMsg:
		if m.done {
			return m, nil
		}
		m.elapsed = time.Since(m.started)
		return m, m.tickCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m measureModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(m.kind.DisplayName()))
	b.WriteString("\n\n")

	if !m.done {
		label := "Measuring..."
		if m.stopping {
			label = "Stopping..."
		}
		b.WriteString(fmt.Sprintf("%s %s %s\n", m.spinner.View(), label, statusStyle.Render(formatSeconds(m.elapsed))))
		if m.kind.Continuous() && m.duration > 0 {
			pct := float64(m.elapsed) / float64(m.duration)
			b.WriteString(m.progress.ViewAs(min(pct, 1)))
			b.WriteString("\n")
		}
	}
	b.WriteString("\n")

	if n := len(m.readings); n > 0 {
		b.WriteString(fmt.Sprintf("Latest: %s\n", readingStyle.Render(m.readings[n-1].String())))
		b.WriteString(statusStyle.Render(fmt.Sprintf("%d valid readings", n)))
		b.WriteString("\n")
	} else if !m.done {
		b.WriteString(statusStyle.Render("Waiting for the ring..."))
		b.WriteString("\n")
	}

	if m.done {
		b.WriteString("\n")
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		} else {
			b.WriteString(fmt.Sprintf("Result: %s", readingStyle.Render(m.result.String())))
		}
		b.WriteString("\n")
		return b.String()
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render("Keys: q=stop"))
	b.WriteString("\n")
	return b.String()
}

func formatSeconds(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func runMeasure(cmd *cobra.Command, args []string) error {
	kind, err := protocol.ParseKind(args[0])
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

	duration := measureDuration
	if duration <= 0 {
		duration = s.cfg.Timing.MeasureDuration
	}

	measure := func() (protocol.Reading, error) {
		return s.ring.Measure(ctx, kind, duration)
	}

	plain := measurePlain || !term.IsTerminal(int(os.Stdout.Fd()))
	var reading protocol.Reading
	if plain {
		s.ring.OnReading(func(r protocol.Reading) {
			fmt.Printf("%s  %s\n", r.CapturedAt.Format("15:04:05"), r)
		})
		fmt.Printf("Measuring %s...\n", kind.DisplayName())
		reading, err = measure()
	} else {
		model := newMeasureModel(kind, duration, cancel, measure)
		p := tea.NewProgram(model)
		s.ring.OnReading(func(r protocol.Reading) {
			p.Send(readingMsg(r))
		})
		final, runErr := p.Run()
		if runErr != nil {
			return fmt.Errorf("TUI error: %w", runErr)
		}
		fm := final.(measureModel)
		reading, err = fm.result, fm.err
	}

	if id := s.ring.LastSession(); id != "" {
		if serr := s.state.SetLastSession(id); serr != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not save state: %v\n", serr)
		}
	}
	if errors.Is(err, context.Canceled) {
		fmt.Println("Measurement stopped")
		return nil
	}
	if err != nil {
		return err
	}
	if plain {
		fmt.Printf("%s: %s\n", kind.DisplayName(), reading)
	}
	return nil
}
