package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/basket/clawdeck/internal/config"
)

var (
	statusRunningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	statusStoppedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	statusLabelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

type gatewayStatus struct {
	Running           bool   `json:"running"`
	PID               int    `json:"pid"`
	StartedAt         string `json:"started_at"`
	UptimeSec         int64  `json:"uptime_sec"`
	LastExitCode      int    `json:"last_exit_code"`
	Mode              string `json:"mode"`
	ConfigFingerprint string `json:"config_fingerprint"`
}

func runStatusCommand(ctx context.Context, args []string) int {
	jsonOutput := false
	for _, arg := range args {
		switch arg {
		case "-json", "--json":
			jsonOutput = true
		default:
			fmt.Fprintln(os.Stderr, "usage: clawdeck status [-json]")
			return 2
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load: %v\n", err)
		return 1
	}

	body, code, err := panelGet(ctx, cfg, "/api/status")
	if err != nil {
		fmt.Fprintf(os.Stderr, "status: %v (is the panel running?)\n", err)
		return 1
	}
	if code != http.StatusOK {
		fmt.Fprintf(os.Stderr, "panel returned %d: %s\n", code, strings.TrimSpace(string(body)))
		return 1
	}

	if jsonOutput {
		_, _ = os.Stdout.Write(body)
		if len(body) == 0 || body[len(body)-1] != '\n' {
			fmt.Println()
		}
		return 0
	}

	var st gatewayStatus
	if err := json.Unmarshal(body, &st); err != nil {
		fmt.Fprintf(os.Stderr, "decode status: %v\n", err)
		return 1
	}
	fmt.Print(renderStatus(st, isatty.IsTerminal(os.Stdout.Fd())))
	return 0
}

// renderStatus formats the status block, with color when stdout is a
// terminal.
func renderStatus(st gatewayStatus, color bool) string {
	state := "stopped"
	if st.Running {
		state = "running"
	}
	if color {
		if st.Running {
			state = statusRunningStyle.Render(state)
		} else {
			state = statusStoppedStyle.Render(state)
		}
	}

	label := func(s string) string {
		if color {
			return statusLabelStyle.Render(s)
		}
		return s
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", label("gateway:"), state)
	if st.Running {
		fmt.Fprintf(&b, "%s %d\n", label("pid:"), st.PID)
		fmt.Fprintf(&b, "%s %s\n", label("uptime:"), formatUptime(st.UptimeSec))
	} else if st.LastExitCode >= 0 {
		fmt.Fprintf(&b, "%s %d\n", label("last exit:"), st.LastExitCode)
	}
	if st.Mode != "" {
		fmt.Fprintf(&b, "%s %s\n", label("mode:"), st.Mode)
	}
	if st.ConfigFingerprint != "" {
		fmt.Fprintf(&b, "%s %s\n", label("config:"), st.ConfigFingerprint)
	}
	return b.String()
}

func formatUptime(sec int64) string {
	d := time.Duration(sec) * time.Second
	switch {
	case d >= time.Hour:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	case d >= time.Minute:
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
}

// panelGet issues an authenticated GET against the running panel.
func panelGet(ctx context.Context, cfg config.Config, path string) ([]byte, int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, panelURL(cfg.BindAddr, path), nil)
	if err != nil {
		return nil, 0, err
	}
	if cfg.Auth.Password != "" {
		req.SetBasicAuth(cfg.Auth.Username, cfg.Auth.Password)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

func panelURL(addr, path string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		addr = "127.0.0.1:1890"
	}
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimRight(addr, "/") + path
	}
	// Normalize IPv6 host:port if needed.
	if host, port, err := net.SplitHostPort(addr); err == nil {
		addr = net.JoinHostPort(host, port)
	}
	return "http://" + addr + path
}
