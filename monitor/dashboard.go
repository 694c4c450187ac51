package monitor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/projectqai/sonar/cmd"
	"github.com/projectqai/sonar/logging"
	"github.com/projectqai/sonar/metrics"
	"github.com/projectqai/sonar/session"
	"github.com/projectqai/sonar/version"
)

var (
	barRange float64
	logFile  string
)

func init() {
	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "live dashboard of all configured sensors",
		RunE:  RunDashboard,
	}
	watchCmd.Flags().Float64Var(&barRange, "range", 100, "distance in cm shown as a full bar")
	watchCmd.Flags().StringVar(&logFile, "log-file", "", "write logs to this file instead of discarding them")

	cmd.CMD.AddCommand(watchCmd)
}

type (
	tickMsg   time.Time
	changeMsg session.StateChange
)

type dashboardModel struct {
	sessions []*session.Session
	changes  <-chan session.StateChange
	rangeCm  float64
	width    int

	// last error per session index, cleared on connect
	lastErr map[int]string
}

func newDashboard(sessions []*session.Session, changes <-chan session.StateChange, rangeCm float64) dashboardModel {
	if rangeCm <= 0 {
		rangeCm = 100
	}
	return dashboardModel{
		sessions: sessions,
		changes:  changes,
		rangeCm:  rangeCm,
		width:    80,
		lastErr:  make(map[int]string),
	}
}

func (m dashboardModel) Init() tea.Cmd {
	return tea.Batch(
		dashboardTick(),
		waitForChange(m.changes),
	)
}

func dashboardTick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func waitForChange(changes <-chan session.StateChange) tea.Cmd {
	return func() tea.Msg {
		c, ok := <-changes
		if !ok {
			return nil
		}
		return changeMsg(c)
	}
}

func (m dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case tickMsg:
		return m, dashboardTick()

	case changeMsg:
		switch {
		case msg.To == session.StateConnected:
			delete(m.lastErr, msg.Device.Index)
		case msg.Err != nil:
			m.lastErr[msg.Device.Index] = msg.Err.Error()
		}
		return m, waitForChange(m.changes)
	}

	return m, nil
}

func (m dashboardModel) View() string {
	var b strings.Builder

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("cyan")).
		MarginBottom(1)

	nameStyle := lipgloss.NewStyle().Bold(true)

	errStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("196"))

	helpStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		MarginTop(1)

	b.WriteString(titleStyle.Render(fmt.Sprintf("sonar (%s) watching %d sensors", version.Version, len(m.sessions))))
	b.WriteString("\n")

	barWidth := m.width - 50
	if barWidth < 10 {
		barWidth = 10
	}
	if barWidth > 60 {
		barWidth = 60
	}

	for _, s := range m.sessions {
		label := s.Label()
		state := s.State()

		b.WriteString(nameStyle.Render(runewidth.FillRight(runewidth.Truncate(label, 10, "…"), 10)))
		b.WriteString(" ")
		b.WriteString(stateStyle(state).Render(fmt.Sprintf("%-11s", state.String())))
		b.WriteString(" ")

		if d, ok := metrics.LastDistance(label); ok && state == session.StateConnected {
			b.WriteString(renderDistanceBar(d/m.rangeCm, barWidth))
			b.WriteString(fmt.Sprintf(" %8.2f cm", d))
		} else {
			b.WriteString(renderDistanceBar(0, barWidth))
			b.WriteString(fmt.Sprintf(" %8s   ", "-"))
		}

		path := s.Path()
		if path == "" {
			path = s.Config().SerialNumber
		}
		b.WriteString(fmt.Sprintf("  %s  %d lines", path, metrics.Get(label).Lines))
		b.WriteString("\n")

		if e, ok := m.lastErr[s.Index()]; ok && state != session.StateConnected {
			b.WriteString(errStyle.Render("  " + e))
			b.WriteString("\n")
		}
	}

	b.WriteString(helpStyle.Render("q:Quit"))
	return b.String()
}

func stateStyle(s session.State) lipgloss.Style {
	style := lipgloss.NewStyle()
	switch s {
	case session.StateConnected:
		return style.Foreground(lipgloss.Color("86"))
	case session.StateSearching, session.StateConnecting:
		return style.Foreground(lipgloss.Color("205"))
	default:
		return style.Foreground(lipgloss.Color("241"))
	}
}

func renderDistanceBar(fraction float64, width int) string {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}

	filled := int(float64(width) * fraction)
	empty := width - filled

	filledStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	emptyStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

	return "[" + filledStyle.Render(strings.Repeat("█", filled)) +
		emptyStyle.Render(strings.Repeat("░", empty)) + "]"
}

func RunDashboard(c *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// the terminal belongs to the dashboard
	var logOut io.Writer = io.Discard
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer f.Close()
		logOut = f
	}
	logger := slog.New(logging.NewHandler(logOut))

	ctx, stop := signal.NotifyContext(c.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	registry, unwatch, err := setup(ctx, cfg, &Options{
		Quiet:       true,
		MetricsAddr: metricsAddr,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	defer unwatch()

	changes := make(chan session.StateChange, 64)
	stopChanges := registry.Watch(func(sc session.StateChange) {
		select {
		case changes <- sc:
		default:
		}
	})
	defer stopChanges()

	registry.Start(ctx, cfg.Devices)

	p := tea.NewProgram(newDashboard(registry.Sessions(), changes, barRange), tea.WithAltScreen())
	go func() {
		<-ctx.Done()
		p.Quit()
	}()

	_, err = p.Run()

	cancel()
	registry.ShutdownAll()
	if err != nil {
		return fmt.Errorf("error running dashboard: %w", err)
	}
	return nil
}
