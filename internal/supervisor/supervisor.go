// Package supervisor owns the lifecycle of the single gateway child process.
// It guarantees at most one gateway is running per supervisor instance,
// provides idempotent start/stop/restart, and keeps a bounded buffer of the
// child's recent output so log reads never block on an idle process.
package supervisor

import (
	"bufio"
	"context"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/basket/clawdeck/internal/bus"
	"github.com/basket/clawdeck/internal/shared"
)

const (
	// DefaultGracePeriod is how long stop waits between SIGTERM and SIGKILL.
	DefaultGracePeriod = 5 * time.Second
	// killWait bounds how long stop waits for the OS to confirm death after
	// a forced kill before giving up and reporting a termination failure.
	killWait = 3 * time.Second

	defaultBufferLines = 500
)

// Options configures a Supervisor. Runner is required; everything else has
// a usable zero value.
type Options struct {
	Runner      Runner
	Logger      *slog.Logger
	Bus         *bus.Bus
	GracePeriod time.Duration
	BufferLines int
	// LogPath, when set, receives a copy of every output line in append mode
	// so logs survive panel restarts.
	LogPath string
}

// StartResult is returned by Start and Restart.
type StartResult struct {
	Started bool `json:"started"`
	PID     int  `json:"pid,omitempty"`
}

// StopResult is returned by Stop.
type StopResult struct {
	Stopped bool `json:"stopped"`
	Killed  bool `json:"killed,omitempty"`
}

// Status is a point-in-time liveness snapshot.
type Status struct {
	Running      bool      `json:"running"`
	PID          int       `json:"pid,omitempty"`
	StartedAt    time.Time `json:"started_at,omitempty"`
	UptimeSec    int64     `json:"uptime_sec,omitempty"`
	LastExitCode int       `json:"last_exit_code"`
}

// child pairs a live Proc with the bookkeeping the drain goroutine needs.
type child struct {
	proc       Proc
	startedAt  time.Time
	deliberate atomic.Bool // set before a stop so the drain does not report a crash
}

// Supervisor manages exactly one gateway process. All lifecycle mutations
// run under mu, which is what upholds the at-most-one-running invariant
// across concurrent HTTP requests.
type Supervisor struct {
	mu      sync.Mutex
	runner  Runner
	logger  *slog.Logger
	bus     *bus.Bus
	grace   time.Duration
	ring    *lineRing
	logPath string

	// stateMu guards the handle snapshot and is only ever held for short
	// reads and writes, never across the grace wait, so Status stays
	// responsive while a stop is in flight.
	stateMu  sync.Mutex
	current  *child
	lastExit int
}

// New creates a Supervisor in the Stopped state.
func New(opts Options) *Supervisor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	grace := opts.GracePeriod
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	return &Supervisor{
		runner:   opts.Runner,
		logger:   logger,
		bus:      opts.Bus,
		grace:    grace,
		ring:     newLineRing(opts.BufferLines),
		logPath:  opts.LogPath,
		lastExit: -1,
	}
}

// Start launches the gateway if it is not already running. Calling Start on
// a running supervisor is an idempotent no-op reporting started=false.
func (s *Supervisor) Start(ctx context.Context, spec Spec) (StartResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked(ctx, spec)
}

// Stop terminates the gateway, escalating from the graceful signal to a
// forced kill after the grace period. Stopping an already-stopped supervisor
// is an idempotent success.
func (s *Supervisor) Stop(ctx context.Context) (StopResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked(ctx)
}

// Restart is stop-then-start under one continuous lock hold, so no
// concurrent start can slip a second process in between the two halves.
func (s *Supervisor) Restart(ctx context.Context, spec Spec) (StartResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.stopLocked(ctx); err != nil {
		return StartResult{}, err
	}
	return s.startLocked(ctx, spec)
}

// Status never fails and never blocks on process exit. It reads the handle
// snapshot without touching the lifecycle lock, so it returns promptly even
// while a stop is sitting out its grace period.
func (s *Supervisor) Status() Status {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	st := Status{LastExitCode: s.lastExit}
	if s.current != nil && s.current.proc.Alive() {
		st.Running = true
		st.PID = s.current.proc.PID()
		st.StartedAt = s.current.startedAt
		st.UptimeSec = int64(time.Since(s.current.startedAt).Seconds())
	}
	return st
}

func (s *Supervisor) currentChild() *child {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.current
}

func (s *Supervisor) setCurrent(c *child) {
	s.stateMu.Lock()
	s.current = c
	s.stateMu.Unlock()
}

// RecentOutput returns up to n of the most recent output lines, oldest
// first. It reads the drained ring buffer, so it returns promptly even when
// the child is idle, and returns an empty slice before the first start.
func (s *Supervisor) RecentOutput(n int) []string {
	return s.ring.Tail(n)
}

// ClearOutput empties the buffer and truncates the on-disk sink if any.
func (s *Supervisor) ClearOutput() error {
	s.ring.Reset()
	if s.logPath == "" {
		return nil
	}
	f, err := os.OpenFile(s.logPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}

// Close stops any running gateway so the panel's own shutdown does not leak
// an orphan child.
func (s *Supervisor) Close() error {
	_, err := s.Stop(context.Background())
	return err
}

func (s *Supervisor) startLocked(ctx context.Context, spec Spec) (StartResult, error) {
	if c := s.currentChild(); c != nil && c.proc.Alive() {
		return StartResult{Started: false, PID: c.proc.PID()}, nil
	}
	s.setCurrent(nil)

	proc, err := s.runner.Spawn(ctx, spec)
	if err != nil {
		reason := shared.Redact(err.Error())
		s.logger.Error("gateway spawn failed", "error", reason)
		s.publish(ctx, bus.TopicGatewaySpawnFailed, bus.GatewaySpawnFailedEvent{
			Command: firstOrEmpty(spec.Command),
			Reason:  reason,
		})
		return StartResult{}, err
	}

	c := &child{proc: proc, startedAt: time.Now()}
	s.setCurrent(c)
	go s.drain(c)

	s.logger.Info("gateway started", "pid", proc.PID())
	s.publish(ctx, bus.TopicGatewayStarted, bus.GatewayStartedEvent{
		PID:       proc.PID(),
		StartedAt: c.startedAt.UTC().Format(time.RFC3339),
	})
	return StartResult{Started: true, PID: proc.PID()}, nil
}

func (s *Supervisor) stopLocked(ctx context.Context) (StopResult, error) {
	c := s.currentChild()
	if c == nil || !c.proc.Alive() {
		s.setCurrent(nil)
		return StopResult{Stopped: true}, nil
	}

	pid := c.proc.PID()
	c.deliberate.Store(true)

	if err := c.proc.Terminate(); err != nil {
		s.logger.Warn("graceful signal failed, escalating", "pid", pid, "error", err)
	}

	graceTimer := time.NewTimer(s.grace)
	defer graceTimer.Stop()
	select {
	case <-c.proc.Done():
		s.finishStop(ctx, c, pid, false)
		return StopResult{Stopped: true}, nil
	case <-ctx.Done():
		// Shutdown path: fall through to the forced kill immediately.
	case <-graceTimer.C:
	}

	killErr := c.proc.Kill()
	killTimer := time.NewTimer(killWait)
	defer killTimer.Stop()
	select {
	case <-c.proc.Done():
		s.finishStop(ctx, c, pid, true)
		return StopResult{Stopped: true, Killed: true}, nil
	case <-killTimer.C:
	}

	// The process outlived SIGKILL (or the kill itself failed). Clear the
	// handle optimistically so status reports Stopped, but surface the
	// failure to the caller.
	s.setCurrent(nil)
	s.logger.Error("gateway did not die", "pid", pid, "kill_error", killErr)
	if killErr == nil {
		killErr = context.DeadlineExceeded
	}
	return StopResult{Stopped: false, Killed: true}, &TerminationError{PID: pid, Err: killErr}
}

func (s *Supervisor) finishStop(ctx context.Context, c *child, pid int, killed bool) {
	code := c.proc.ExitCode()
	s.stateMu.Lock()
	s.lastExit = code
	s.current = nil
	s.stateMu.Unlock()
	s.logger.Info("gateway stopped", "pid", pid, "killed", killed, "exit_code", code)
	s.publish(ctx, bus.TopicGatewayStopped, bus.GatewayStoppedEvent{PID: pid, Killed: killed})
}

// drain copies the child's combined output into the ring buffer and the
// optional log file until EOF, then reports an unexpected exit if the death
// was not part of a deliberate stop.
func (s *Supervisor) drain(c *child) {
	var sink *os.File
	if s.logPath != "" {
		f, err := os.OpenFile(s.logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			s.logger.Warn("open gateway log sink", "path", s.logPath, "error", err)
		} else {
			sink = f
			defer f.Close()
		}
	}

	scanner := bufio.NewScanner(c.proc.Output())
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		s.ring.Append(line)
		if sink != nil {
			_, _ = sink.WriteString(line + "\n")
		}
	}
	c.proc.Output().Close()

	<-c.proc.Done()
	if c.deliberate.Load() {
		return
	}

	pid := c.proc.PID()
	code := c.proc.ExitCode()
	s.stateMu.Lock()
	if s.current == c {
		s.current = nil
		s.lastExit = code
	}
	s.stateMu.Unlock()

	s.logger.Warn("gateway exited unexpectedly", "pid", pid, "exit_code", code)
	s.publish(context.Background(), bus.TopicGatewayExited, bus.GatewayExitedEvent{PID: pid, ExitCode: code})
}

func (s *Supervisor) publish(ctx context.Context, topic string, payload interface{}) {
	if s.bus != nil {
		s.bus.PublishCtx(ctx, topic, payload)
	}
}

func firstOrEmpty(command []string) string {
	if len(command) == 0 {
		return ""
	}
	return command[0]
}
