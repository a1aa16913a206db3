// Package panel serves the control panel API: gateway lifecycle
// endpoints backed by the supervisor, config document editing, skill
// and memory file management, schedules, and a websocket event stream.
package panel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/basket/clawdeck/internal/bus"
	"github.com/basket/clawdeck/internal/channels"
	"github.com/basket/clawdeck/internal/config"
	"github.com/basket/clawdeck/internal/cron"
	"github.com/basket/clawdeck/internal/memory"
	"github.com/basket/clawdeck/internal/otel"
	"github.com/basket/clawdeck/internal/persistence"
	"github.com/basket/clawdeck/internal/skills"
	"github.com/basket/clawdeck/internal/supervisor"
	"go.opentelemetry.io/otel/trace"
)

// Config wires the server's collaborators.
type Config struct {
	Cfg        *config.Config
	Supervisor *supervisor.Supervisor
	Store      *persistence.Store
	Bus        *bus.Bus
	Skills     *skills.Store
	Memory     *memory.Workspace
	Documents  *config.DocumentStore
	Logger     *slog.Logger
	Metrics    *otel.Metrics
	Tracer     trace.Tracer
	Version    string
}

type Server struct {
	cfg Config

	// conf holds the active panel config. Hot reloads swap the pointer
	// so handlers never observe a torn write.
	conf atomic.Pointer[config.Config]

	clientsMu sync.RWMutex
	clients   map[*client]struct{}

	startedAt time.Time
}

func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{
		cfg:       cfg,
		clients:   map[*client]struct{}{},
		startedAt: time.Now(),
	}
	s.conf.Store(cfg.Cfg)
	return s
}

// ReplaceConfig installs a freshly loaded config. Auth and CORS keep the
// settings they were built with; everything read per-request picks up the
// new values.
func (s *Server) ReplaceConfig(c *config.Config) {
	s.conf.Store(c)
}

func (s *Server) config() *config.Config {
	return s.conf.Load()
}

// Handler builds the route table. Auth, CORS and body limits wrap the
// whole mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/metrics/prometheus", s.handlePrometheusMetrics)

	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/gateway/start", s.handleGatewayStart)
	mux.HandleFunc("/api/gateway/stop", s.handleGatewayStop)
	mux.HandleFunc("/api/gateway/restart", s.handleGatewayRestart)
	mux.HandleFunc("/api/logs", s.handleLogs)
	mux.HandleFunc("/api/logs/clear", s.handleLogsClear)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/skills", s.handleSkills)
	mux.HandleFunc("/api/skills/", s.handleSkillByName)
	mux.HandleFunc("/api/memory", s.handleMemory)
	mux.HandleFunc("/api/memory/search", s.handleMemorySearch)
	mux.HandleFunc("/api/events", s.handleEvents)
	mux.HandleFunc("/api/schedules", s.handleSchedules)
	mux.HandleFunc("/api/schedules/", s.handleScheduleByID)

	auth := NewAuthMiddleware(s.cfg.Cfg.Auth, s.countAuthReject)
	cors := NewCORSMiddleware(s.cfg.Cfg.AllowOrigins)
	limit := RequestSizeLimitMiddleware(0)
	tracing := NewTraceMiddleware(s.cfg.Tracer, s.cfg.Metrics)

	return limit(cors(tracing(auth.Wrap(mux))))
}

func (s *Server) countAuthReject() {
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.AuthRejects.Add(context.Background(), 1)
	}
}

// --- gateway control (also backs cron schedules and chat channels) ---

// gatewaySpec builds the spawn spec from current config. Provider API keys
// in the gateway document are exported as <NAME>_API_KEY so the child gets
// its credentials without duplicating them in the panel config.
func (s *Server) gatewaySpec() supervisor.Spec {
	gw := s.config().Gateway
	env := make(map[string]string, len(gw.Env))
	for name, key := range s.documentAPIKeys() {
		env[name] = key
	}
	for k, v := range gw.Env {
		env[k] = v
	}
	return supervisor.Spec{
		Command: gw.Command,
		Dir:     gw.Workdir,
		Env:     env,
	}
}

func (s *Server) documentAPIKeys() map[string]string {
	out := map[string]string{}
	if s.cfg.Documents == nil {
		return out
	}
	doc, err := s.cfg.Documents.Load()
	if err != nil {
		return out
	}
	providers, _ := doc["providers"].(map[string]interface{})
	for name, raw := range providers {
		p, _ := raw.(map[string]interface{})
		key, _ := p["api_key"].(string)
		if key == "" {
			continue
		}
		envName := strings.ToUpper(strings.ReplaceAll(name, "-", "_")) + "_API_KEY"
		out[envName] = key
	}
	return out
}

func (s *Server) GatewayStatus() supervisor.Status {
	return s.cfg.Supervisor.Status()
}

func (s *Server) StartGateway(ctx context.Context) error {
	_, err := s.cfg.Supervisor.Start(ctx, s.gatewaySpec())
	if err == nil {
		s.rememberDesiredState(ctx, gatewayStateRunning)
	}
	return err
}

func (s *Server) StopGateway(ctx context.Context) error {
	_, err := s.cfg.Supervisor.Stop(ctx)
	if err == nil {
		s.rememberDesiredState(ctx, gatewayStateStopped)
	}
	return err
}

func (s *Server) RestartGateway(ctx context.Context) error {
	_, err := s.cfg.Supervisor.Restart(ctx, s.gatewaySpec())
	if err == nil {
		s.rememberDesiredState(ctx, gatewayStateRunning)
	}
	return err
}

const (
	gatewayDesiredKey   = "gateway.desired_state"
	gatewayStateRunning = "running"
	gatewayStateStopped = "stopped"
)

// rememberDesiredState persists the last deliberate lifecycle action so
// auto_start does not resurrect a gateway that was stopped on purpose.
func (s *Server) rememberDesiredState(ctx context.Context, state string) {
	if s.cfg.Store == nil {
		return
	}
	if err := s.cfg.Store.KVSet(ctx, gatewayDesiredKey, state); err != nil {
		s.cfg.Logger.Warn("desired gateway state not persisted", "state", state, "error", err)
	}
}

// GatewayDesiredState reports the last persisted deliberate action:
// "running", "stopped", or "" when none was ever recorded.
func (s *Server) GatewayDesiredState(ctx context.Context) (string, error) {
	if s.cfg.Store == nil {
		return "", nil
	}
	return s.cfg.Store.KVGet(ctx, gatewayDesiredKey)
}

func (s *Server) RecentOutput(n int) []string {
	return s.cfg.Supervisor.RecentOutput(n)
}

// Compile-time checks: the server feeds both the scheduler and the
// chat channels.
var (
	_ cron.Actions        = (*Server)(nil)
	_ channels.Controller = (*Server)(nil)
)

// --- handlers ---

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	dbOK := true
	if _, err := s.cfg.Store.TotalEventCount(ctx); err != nil {
		dbOK = false
	}
	st := s.cfg.Supervisor.Status()

	payload := map[string]any{
		"healthy":         dbOK,
		"db_ok":           dbOK,
		"gateway_running": st.Running,
		"version":         s.cfg.Version,
		"uptime_sec":      int64(time.Since(s.startedAt).Seconds()),
	}
	w.Header().Set("Content-Type", "application/json")
	if !dbOK {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	st := s.cfg.Supervisor.Status()
	fingerprint := ""
	configExists := false
	if s.cfg.Documents != nil {
		if fp, err := s.cfg.Documents.Fingerprint(); err == nil {
			fingerprint = fp
		}
		if _, err := os.Stat(s.cfg.Documents.Path()); err == nil {
			configExists = true
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"running":            st.Running,
		"pid":                st.PID,
		"started_at":         st.StartedAt,
		"uptime_sec":         st.UptimeSec,
		"last_exit_code":     st.LastExitCode,
		"mode":               s.config().Gateway.Mode,
		"config_exists":      configExists,
		"config_fingerprint": fingerprint,
	})
}

func (s *Server) handleGatewayStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	res, err := s.cfg.Supervisor.Start(r.Context(), s.gatewaySpec())
	if err != nil {
		s.writeGatewayError(w, err)
		return
	}
	s.rememberDesiredState(r.Context(), gatewayStateRunning)
	if s.cfg.Metrics != nil && res.Started {
		s.cfg.Metrics.GatewayStarts.Add(r.Context(), 1)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"started": res.Started,
		"pid":     res.PID,
	})
}

func (s *Server) handleGatewayStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	// A dropped client connection must not cut the grace period short,
	// so the shutdown runs on a context that survives the request.
	ctx := context.WithoutCancel(r.Context())
	res, err := s.cfg.Supervisor.Stop(ctx)
	if err != nil {
		s.writeGatewayError(w, err)
		return
	}
	s.rememberDesiredState(ctx, gatewayStateStopped)
	if s.cfg.Metrics != nil {
		if res.Stopped {
			s.cfg.Metrics.GatewayStops.Add(r.Context(), 1)
		}
		if res.Killed {
			s.cfg.Metrics.ForcedKills.Add(r.Context(), 1)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stopped": res.Stopped,
		"killed":  res.Killed,
	})
}

func (s *Server) handleGatewayRestart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	res, err := s.cfg.Supervisor.Restart(context.WithoutCancel(r.Context()), s.gatewaySpec())
	if err != nil {
		s.writeGatewayError(w, err)
		return
	}
	s.rememberDesiredState(r.Context(), gatewayStateRunning)
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.GatewayStarts.Add(r.Context(), 1)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"restarted": true,
		"pid":       res.PID,
	})
}

// writeGatewayError maps supervisor error types to HTTP status codes.
func (s *Server) writeGatewayError(w http.ResponseWriter, err error) {
	var spawnErr *supervisor.SpawnError
	var termErr *supervisor.TerminationError
	switch {
	case errors.As(err, &spawnErr):
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.SpawnFailures.Add(context.Background(), 1)
		}
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":   "spawn failed",
			"command": spawnErr.Command,
			"reason":  spawnErr.Err.Error(),
		})
	case errors.As(err, &termErr):
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error": "termination failed",
			"pid":   termErr.PID,
		})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
	}
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	lines := 100
	if v := r.URL.Query().Get("lines"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			lines = n
		}
	}
	out := s.cfg.Supervisor.RecentOutput(lines)
	writeJSON(w, http.StatusOK, map[string]any{
		"lines": out,
		"count": len(out),
	})
}

func (s *Server) handleLogsClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.cfg.Supervisor.ClearOutput(); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cleared": true})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		doc, err := s.cfg.Documents.Load()
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		fingerprint, _ := s.cfg.Documents.Fingerprint()
		writeJSON(w, http.StatusOK, map[string]any{
			"path":        s.cfg.Documents.Path(),
			"format":      string(s.cfg.Documents.Format()),
			"config":      doc,
			"fingerprint": fingerprint,
		})

	case http.MethodPost:
		var doc map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": fmt.Sprintf("invalid JSON body: %v", err)})
			return
		}
		if err := s.cfg.Documents.Save(doc); err != nil {
			var valErr *config.ValidationError
			if errors.As(err, &valErr) {
				writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
					"error":  "validation failed",
					"detail": valErr.Error(),
				})
				return
			}
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.ConfigUpdates.Add(r.Context(), 1)
		}
		fingerprint, _ := s.cfg.Documents.Fingerprint()
		s.publish(r.Context(), bus.TopicConfigUpdated, bus.ConfigUpdatedEvent{
			Path:        s.cfg.Documents.Path(),
			Fingerprint: fingerprint,
		})
		writeJSON(w, http.StatusOK, map[string]any{
			"saved":       true,
			"fingerprint": fingerprint,
		})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleSkills(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		list, err := s.cfg.Skills.List()
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"skills": list})

	case http.MethodPost:
		var req struct {
			Name    string `json:"name"`
			Content string `json:"content"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body"})
			return
		}
		if err := s.cfg.Skills.Save(req.Name, req.Content); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		s.publish(r.Context(), bus.TopicSkillSaved, bus.SkillEvent{Name: req.Name})
		writeJSON(w, http.StatusOK, map[string]any{"saved": true, "name": req.Name})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleSkillByName(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/api/skills/")
	if name == "" {
		http.Error(w, "skill name required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		skill, err := s.cfg.Skills.Get(name)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				writeJSON(w, http.StatusNotFound, map[string]any{"error": "skill not found"})
				return
			}
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, skill)

	case http.MethodPut:
		var req struct {
			Content string `json:"content"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body"})
			return
		}
		if err := s.cfg.Skills.Save(name, req.Content); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		s.publish(r.Context(), bus.TopicSkillSaved, bus.SkillEvent{Name: name})
		writeJSON(w, http.StatusOK, map[string]any{"saved": true, "name": name})

	case http.MethodDelete:
		if err := s.cfg.Skills.Delete(name); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				writeJSON(w, http.StatusNotFound, map[string]any{"error": "skill not found"})
				return
			}
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		s.publish(r.Context(), bus.TopicSkillDeleted, bus.SkillEvent{Name: name})
		writeJSON(w, http.StatusOK, map[string]any{"deleted": true, "name": name})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleMemory(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		// ?path= reads a specific file; default is memory.md.
		if path := r.URL.Query().Get("path"); path != "" {
			content, err := s.cfg.Memory.Read(path)
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					writeJSON(w, http.StatusNotFound, map[string]any{"error": "file not found"})
					return
				}
				writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"path": path, "content": content})
			return
		}
		content, err := s.cfg.Memory.Main()
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		files, err := s.cfg.Memory.List()
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"content": content,
			"files":   files,
		})

	case http.MethodPost:
		var req struct {
			Path    string `json:"path"`
			Content string `json:"content"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body"})
			return
		}
		var err error
		if req.Path == "" {
			err = s.cfg.Memory.SaveMain(req.Content)
		} else {
			err = s.cfg.Memory.Write(req.Path, req.Content)
		}
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"saved": true})

	case http.MethodDelete:
		path := r.URL.Query().Get("path")
		if path == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "path query parameter required"})
			return
		}
		if err := s.cfg.Memory.Delete(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				writeJSON(w, http.StatusNotFound, map[string]any{"error": "file not found"})
				return
			}
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": true})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleMemorySearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	query := r.URL.Query().Get("q")
	if query == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "q query parameter required"})
		return
	}
	hits, err := s.cfg.Memory.Search(query)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"hits": hits, "count": len(hits)})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	topic := r.URL.Query().Get("topic")
	events, err := s.cfg.Store.ListEvents(r.Context(), topic, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleSchedules(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		schedules, err := s.cfg.Store.ListSchedules(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"schedules": schedules})

	case http.MethodPost:
		var req struct {
			Name     string `json:"name"`
			CronExpr string `json:"cron_expr"`
			Action   string `json:"action"`
			Enabled  *bool  `json:"enabled"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body"})
			return
		}
		if req.Name == "" || req.CronExpr == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "name and cron_expr required"})
			return
		}
		next, err := cron.NextRunTime(req.CronExpr, time.Now())
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": fmt.Sprintf("invalid cron expression: %v", err)})
			return
		}
		enabled := true
		if req.Enabled != nil {
			enabled = *req.Enabled
		}
		sched := persistence.Schedule{
			Name:      req.Name,
			CronExpr:  req.CronExpr,
			Action:    req.Action,
			Enabled:   enabled,
			NextRunAt: &next,
		}
		id, err := s.cfg.Store.InsertSchedule(r.Context(), sched)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		s.publish(r.Context(), bus.TopicScheduleCreated, bus.ScheduleEvent{ScheduleID: id, Name: req.Name, Action: sched.Action})
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "next_run_at": next})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleScheduleByID(w http.ResponseWriter, r *http.Request) {
	idStr := strings.TrimPrefix(r.URL.Path, "/api/schedules/")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		http.Error(w, "invalid schedule id", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		sched, err := s.cfg.Store.GetSchedule(r.Context(), id)
		if err != nil {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "schedule not found"})
			return
		}
		writeJSON(w, http.StatusOK, sched)

	case http.MethodPut:
		var req struct {
			Enabled *bool `json:"enabled"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "enabled field required"})
			return
		}
		if err := s.cfg.Store.EnableSchedule(r.Context(), id, *req.Enabled); err != nil {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "enabled": *req.Enabled})

	case http.MethodDelete:
		if err := s.cfg.Store.DeleteSchedule(r.Context(), id); err != nil {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
			return
		}
		s.publish(r.Context(), bus.TopicScheduleDeleted, bus.ScheduleEvent{ScheduleID: id})
		writeJSON(w, http.StatusOK, map[string]any{"deleted": true, "id": id})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()
	st := s.cfg.Supervisor.Status()
	mem := &runtime.MemStats{}
	runtime.ReadMemStats(mem)

	var eventCount int64
	if c, err := s.cfg.Store.TotalEventCount(ctx); err == nil {
		eventCount = c
	}

	payload := map[string]any{
		"gateway_running":  st.Running,
		"gateway_pid":      st.PID,
		"gateway_uptime_s": st.UptimeSec,
		"last_exit_code":   st.LastExitCode,
		"events_total":     eventCount,
		"ws_clients":       s.clientCount(),
		"alloc_bytes":      mem.Alloc,
		"panel_uptime_s":   int64(time.Since(s.startedAt).Seconds()),
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handlePrometheusMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()
	st := s.cfg.Supervisor.Status()
	mem := &runtime.MemStats{}
	runtime.ReadMemStats(mem)

	running := 0
	if st.Running {
		running = 1
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	fmt.Fprintf(w, "# HELP clawdeck_gateway_running Whether the gateway process is running.\n")
	fmt.Fprintf(w, "# TYPE clawdeck_gateway_running gauge\n")
	fmt.Fprintf(w, "clawdeck_gateway_running %d\n", running)
	fmt.Fprintf(w, "# HELP clawdeck_gateway_uptime_seconds Gateway uptime in seconds.\n")
	fmt.Fprintf(w, "# TYPE clawdeck_gateway_uptime_seconds gauge\n")
	fmt.Fprintf(w, "clawdeck_gateway_uptime_seconds %d\n", st.UptimeSec)
	fmt.Fprintf(w, "# HELP clawdeck_gateway_last_exit_code Exit code of the last gateway process.\n")
	fmt.Fprintf(w, "# TYPE clawdeck_gateway_last_exit_code gauge\n")
	fmt.Fprintf(w, "clawdeck_gateway_last_exit_code %d\n", st.LastExitCode)
	if eventCount, err := s.cfg.Store.TotalEventCount(ctx); err == nil {
		fmt.Fprintf(w, "# HELP clawdeck_events_total Total lifecycle events recorded.\n")
		fmt.Fprintf(w, "# TYPE clawdeck_events_total counter\n")
		fmt.Fprintf(w, "clawdeck_events_total %d\n", eventCount)
	}
	fmt.Fprintf(w, "# HELP clawdeck_ws_clients Connected websocket clients.\n")
	fmt.Fprintf(w, "# TYPE clawdeck_ws_clients gauge\n")
	fmt.Fprintf(w, "clawdeck_ws_clients %d\n", s.clientCount())
	fmt.Fprintf(w, "# HELP clawdeck_alloc_bytes Current allocated memory in bytes.\n")
	fmt.Fprintf(w, "# TYPE clawdeck_alloc_bytes gauge\n")
	fmt.Fprintf(w, "clawdeck_alloc_bytes %d\n", mem.Alloc)
}

func (s *Server) publish(ctx context.Context, topic string, payload interface{}) {
	if s.cfg.Bus != nil {
		s.cfg.Bus.PublishCtx(ctx, topic, payload)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
