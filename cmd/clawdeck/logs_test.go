package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/basket/clawdeck/internal/config"
)

func TestFetchLogs(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/logs" {
			http.NotFound(w, r)
			return
		}
		if got := r.URL.Query().Get("lines"); got != "25" {
			t.Errorf("lines = %q, want 25", got)
		}
		w.Write([]byte(`{"lines":["one","two"],"count":2}`))
	}))
	defer ts.Close()

	cfg := config.Config{BindAddr: ts.Listener.Addr().String()}
	out, err := fetchLogs(context.Background(), cfg, 25)
	if err != nil {
		t.Fatalf("fetchLogs: %v", err)
	}
	if out.Count != 2 || len(out.Lines) != 2 || out.Lines[1] != "two" {
		t.Fatalf("unexpected response: %+v", out)
	}
}

func TestLogsModel_FetchedReplacesLines(t *testing.T) {
	m := newLogsModel(context.Background(), config.Config{}, 50)
	next, _ := m.Update(logsFetchedMsg{lines: []string{"a", "b"}})
	got := next.(logsModel)
	if len(got.lines) != 2 || got.err != nil {
		t.Fatalf("unexpected model state: %+v", got)
	}
}

func TestLogsModel_FetchErrorKeepsLastLines(t *testing.T) {
	m := newLogsModel(context.Background(), config.Config{}, 50)
	next, _ := m.Update(logsFetchedMsg{lines: []string{"a"}})
	next, _ = next.(logsModel).Update(logsFetchedMsg{err: errors.New("boom")})
	got := next.(logsModel)
	if len(got.lines) != 1 {
		t.Fatalf("lines dropped on fetch error: %+v", got)
	}
	if got.err == nil {
		t.Fatal("error not recorded")
	}
	if !strings.Contains(got.View(), "boom") {
		t.Fatal("error not rendered")
	}
}

func TestLogsModel_QuitKeys(t *testing.T) {
	m := newLogsModel(context.Background(), config.Config{}, 50)
	if _, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")}); cmd == nil {
		t.Fatal("q did not quit")
	}
	if _, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC}); cmd == nil {
		t.Fatal("ctrl+c did not quit")
	}
}

func TestLogsModel_ViewTrimsToHeight(t *testing.T) {
	m := newLogsModel(context.Background(), config.Config{}, 50)
	next, _ := m.Update(tea.WindowSizeMsg{Height: 8})
	lines := make([]string, 20)
	for i := range lines {
		lines[i] = "line"
	}
	lines[19] = "last-line"
	next, _ = next.(logsModel).Update(logsFetchedMsg{lines: lines})
	view := next.(logsModel).View()

	if !strings.Contains(view, "last-line") {
		t.Fatal("newest line missing from view")
	}
	if got := strings.Count(view, "line"); got > 6 {
		t.Fatalf("view not trimmed to window height: %d lines", got)
	}
}
