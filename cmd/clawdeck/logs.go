package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/basket/clawdeck/internal/config"
)

type logsResponse struct {
	Lines []string `json:"lines"`
	Count int      `json:"count"`
}

func runLogsCommand(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("logs", flag.ContinueOnError)
	lines := fs.Int("lines", 50, "number of lines to show")
	follow := fs.Bool("f", false, "keep polling for new output")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load: %v\n", err)
		return 1
	}

	if *follow && isatty.IsTerminal(os.Stdout.Fd()) {
		return runLogsTUI(ctx, cfg, *lines)
	}

	out, err := fetchLogs(ctx, cfg, *lines)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logs: %v (is the panel running?)\n", err)
		return 1
	}
	for _, line := range out.Lines {
		fmt.Println(line)
	}
	return 0
}

func fetchLogs(ctx context.Context, cfg config.Config, n int) (logsResponse, error) {
	var out logsResponse
	body, code, err := panelGet(ctx, cfg, fmt.Sprintf("/api/logs?lines=%d", n))
	if err != nil {
		return out, err
	}
	if code != http.StatusOK {
		return out, fmt.Errorf("panel returned %d: %s", code, strings.TrimSpace(string(body)))
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return out, fmt.Errorf("decode logs: %w", err)
	}
	return out, nil
}

// --- follow mode ---

var (
	logsTitleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	logsErrStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	logsDimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

type logsTickMsg time.Time

type logsFetchedMsg struct {
	lines []string
	err   error
}

type logsModel struct {
	ctx    context.Context
	cfg    config.Config
	n      int
	lines  []string
	err    error
	height int
}

func newLogsModel(ctx context.Context, cfg config.Config, n int) logsModel {
	return logsModel{ctx: ctx, cfg: cfg, n: n, height: 24}
}

func (m logsModel) Init() tea.Cmd {
	return tea.Batch(m.fetch, logsTick())
}

func logsTick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return logsTickMsg(t)
	})
}

func (m logsModel) fetch() tea.Msg {
	out, err := fetchLogs(m.ctx, m.cfg, m.n)
	return logsFetchedMsg{lines: out.Lines, err: err}
}

func (m logsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.height = msg.Height
	case logsTickMsg:
		return m, tea.Batch(m.fetch, logsTick())
	case logsFetchedMsg:
		m.err = msg.err
		if msg.err == nil {
			m.lines = msg.lines
		}
	}
	return m, nil
}

func (m logsModel) View() string {
	var b strings.Builder
	b.WriteString(logsTitleStyle.Render("gateway output"))
	b.WriteString(logsDimStyle.Render("  (q to quit)"))
	b.WriteString("\n\n")

	visible := m.lines
	// Leave room for the header and the error line.
	max := m.height - 4
	if max > 0 && len(visible) > max {
		visible = visible[len(visible)-max:]
	}
	if len(visible) == 0 {
		b.WriteString(logsDimStyle.Render("no output yet"))
		b.WriteString("\n")
	}
	for _, line := range visible {
		b.WriteString(line)
		b.WriteString("\n")
	}
	if m.err != nil {
		b.WriteString(logsErrStyle.Render("fetch error: " + m.err.Error()))
		b.WriteString("\n")
	}
	return b.String()
}

func runLogsTUI(ctx context.Context, cfg config.Config, n int) int {
	p := tea.NewProgram(newLogsModel(ctx, cfg, n), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "logs: %v\n", err)
		return 1
	}
	return 0
}
