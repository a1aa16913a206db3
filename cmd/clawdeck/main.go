package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/basket/clawdeck/internal/bus"
	"github.com/basket/clawdeck/internal/channels"
	"github.com/basket/clawdeck/internal/config"
	"github.com/basket/clawdeck/internal/cron"
	"github.com/basket/clawdeck/internal/memory"
	otelPkg "github.com/basket/clawdeck/internal/otel"
	"github.com/basket/clawdeck/internal/panel"
	"github.com/basket/clawdeck/internal/persistence"
	"github.com/basket/clawdeck/internal/skills"
	"github.com/basket/clawdeck/internal/supervisor"
	"github.com/basket/clawdeck/internal/telemetry"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.1-dev"

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage of %s:

  %s [serve]                  Start the control panel (default)

SUBCOMMANDS:
  %s status [-json]           Show gateway status from a running panel
  %s logs [-lines N] [-f]     Print (or follow) recent gateway output
  %s doctor [-json]           Run diagnostic checks

FLAGS:
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0])
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
ENVIRONMENT VARIABLES:
  CLAWDECK_HOME           Data directory (default: ~/.clawdeck)
  CLAWDECK_BIND_ADDR      Panel listen address (default: 127.0.0.1:1890)
  CLAWDECK_PASSWORD       Panel basic-auth password (empty disables auth)
  TELEGRAM_TOKEN          Enables the Telegram notification channel

EXAMPLES:
  Run the panel:          %s
  Check gateway health:   %s status
  Tail gateway output:    %s logs -f
  Run diagnostics:        %s doctor
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0])
}

func main() {
	loadDotEnv(".env")

	flag.Usage = printUsage
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if args := flag.Args(); len(args) > 0 {
		switch strings.ToLower(strings.TrimSpace(args[0])) {
		case "help", "-h", "--help":
			printUsage()
			os.Exit(0)
		case "status":
			os.Exit(runStatusCommand(ctx, args[1:]))
		case "logs":
			os.Exit(runLogsCommand(ctx, args[1:]))
		case "doctor":
			os.Exit(runDoctorCommand(ctx, args[1:]))
		case "serve":
			// Fall through to the daemon below.
		default:
			fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
			printUsage()
			os.Exit(2)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fatalStartup(nil, "E_CONFIG_LOAD", err)
	}

	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, false)
	if err != nil {
		fatalStartup(nil, "E_LOGGER_INIT", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)
	logger.Info("startup phase", "phase", "config_loaded", "home", cfg.HomeDir)

	if host, _, err := net.SplitHostPort(cfg.BindAddr); err == nil {
		h := strings.TrimSpace(strings.ToLower(host))
		loopback := h == "127.0.0.1" || h == "localhost" || h == "::1"
		if !loopback && cfg.Auth.Password == "" {
			logger.Warn("auth password is empty on non-loopback bind; anyone who can reach the port controls the gateway", "bind_addr", cfg.BindAddr)
		}
	}

	if cfg.NeedsGenesis {
		if err := config.Save(cfg); err != nil {
			fatalStartup(logger, "E_CONFIG_WRITE", err)
		}
		logger.Info("config.yaml written with defaults", "home", cfg.HomeDir)
	}

	eventBus := bus.New()

	// Initialize OpenTelemetry (no-op when disabled, zero overhead).
	otelProvider, err := otelPkg.Init(ctx, otelPkg.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Exporter:    cfg.Telemetry.Exporter,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		SampleRate:  cfg.Telemetry.SampleRate,
	})
	if err != nil {
		fatalStartup(logger, "E_OTEL_INIT", err)
	}
	defer otelProvider.Shutdown(context.Background())

	metrics, err := otelPkg.NewMetrics(otelProvider.Meter)
	if err != nil {
		fatalStartup(logger, "E_OTEL_INIT", err)
	}

	dbPath := filepath.Join(cfg.HomeDir, "clawdeck.db")
	store, err := persistence.Open(dbPath)
	if err != nil {
		fatalStartup(logger, "E_STORE_OPEN", err)
	}
	defer store.Close()
	logger.Info("startup phase", "phase", "schema_migrated", "db", dbPath)

	validator, err := config.NewDocumentValidator()
	if err != nil {
		fatalStartup(logger, "E_SCHEMA_COMPILE", err)
	}
	documents := config.NewDocumentStore(cfg.GatewayConfigPath(), validator)

	skillStore, err := skills.NewStore(cfg.SkillsDir())
	if err != nil {
		fatalStartup(logger, "E_SKILL_DIR_CREATE", err)
	}
	workspace, err := memory.NewWorkspace(cfg.MemoryDir())
	if err != nil {
		fatalStartup(logger, "E_WORKSPACE_CREATE", err)
	}

	var runner supervisor.Runner = supervisor.ExecRunner{}
	if cfg.Gateway.Mode == "docker" {
		dockerRunner, err := supervisor.NewDockerRunner(
			cfg.Gateway.DockerImage,
			cfg.Gateway.DockerMemory,
			cfg.Gateway.DockerNetwork,
		)
		if err != nil {
			fatalStartup(logger, "E_DOCKER_INIT", err)
		}
		dockerRunner.SetTracer(otelProvider.Tracer)
		defer dockerRunner.Close()
		runner = dockerRunner
		logger.Info("docker runner enabled", "image", cfg.Gateway.DockerImage)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.GatewayLogPath()), 0o755); err != nil {
		fatalStartup(logger, "E_LOG_DIR_CREATE", err)
	}
	sup := supervisor.New(supervisor.Options{
		Runner:      runner,
		Logger:      logger,
		Bus:         eventBus,
		GracePeriod: time.Duration(cfg.Gateway.GracePeriodSeconds) * time.Second,
		BufferLines: cfg.Gateway.LogBufferLines,
		LogPath:     cfg.GatewayLogPath(),
	})

	srv := panel.New(panel.Config{
		Cfg:        &cfg,
		Supervisor: sup,
		Store:      store,
		Bus:        eventBus,
		Skills:     skillStore,
		Memory:     workspace,
		Documents:  documents,
		Logger:     logger,
		Metrics:    metrics,
		Tracer:     otelProvider.Tracer,
		Version:    Version,
	})

	recorder := panel.NewRecorder(store, eventBus, logger, metrics)
	go recorder.Run(ctx)

	cronSched := cron.NewScheduler(cron.Config{
		Store:   store,
		Actions: srv,
		Bus:     eventBus,
		Logger:  logger,
		Tracer:  otelProvider.Tracer,
	})
	cronSched.Start(ctx)
	defer cronSched.Stop()
	logger.Info("startup phase", "phase", "scheduler_started")

	confWatcher := config.NewWatcher(cfg.HomeDir, cfg.GatewayConfigPath(), logger)
	if err := confWatcher.Start(ctx); err != nil {
		fatalStartup(logger, "E_CONFIG_WATCHER_START", err)
	}
	go func() {
		for ev := range confWatcher.Events() {
			logger.Info("config changed on disk", "path", ev.Path, "op", ev.Op.String())
			switch filepath.Base(ev.Path) {
			case "config.yaml":
				newCfg, err := config.Load()
				if err != nil {
					logger.Error("config.yaml reload failed", "error", err)
					break
				}
				srv.ReplaceConfig(&newCfg)
				eventBus.Publish(bus.TopicConfigReload, bus.ConfigUpdatedEvent{
					Path:        ev.Path,
					Fingerprint: newCfg.Fingerprint(),
				})
				logger.Info("config.yaml hot-reloaded", "fingerprint", newCfg.Fingerprint())
			default:
				// Gateway config document edited out of band.
				fingerprint, err := documents.Fingerprint()
				if err != nil {
					logger.Warn("gateway document changed but is unreadable", "error", err)
					break
				}
				eventBus.Publish(bus.TopicConfigUpdated, bus.ConfigUpdatedEvent{
					Path:        ev.Path,
					Fingerprint: fingerprint,
				})
			}
		}
	}()

	skillWatcher := skills.NewWatcher(cfg.SkillsDir(), logger)
	if err := skillWatcher.Start(ctx); err != nil {
		fatalStartup(logger, "E_SKILL_WATCHER_START", err)
	}
	go func() {
		for name := range skillWatcher.Events() {
			eventBus.Publish(bus.TopicSkillChanged, bus.SkillEvent{Name: name})
		}
	}()

	if cfg.Channels.Telegram.Token != "" && (cfg.Channels.Telegram.Enabled || len(cfg.Channels.Telegram.AllowedIDs) > 0) {
		tg := channels.NewTelegramChannel(
			cfg.Channels.Telegram.Token,
			cfg.Channels.Telegram.AllowedIDs,
			srv,
			eventBus,
			logger,
		)
		go func() {
			if err := tg.Start(ctx); err != nil && ctx.Err() == nil {
				logger.Error("telegram channel failed", "error", err)
			}
		}()
	}

	// Periodic retention job on the event ledger.
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				result, err := store.RunRetention(ctx, cfg.RetentionEventsDays)
				if err != nil {
					logger.Error("retention job failed", "error", err)
				} else if result.EventsDeleted > 0 {
					logger.Info("retention job completed", "purged_events", result.EventsDeleted)
				}
			}
		}
	}()

	server := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: srv.Handler(),
	}
	serverErr := make(chan error, 1)
	lc := &net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				_ = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
			})
		},
	}
	ln, err := lc.Listen(ctx, "tcp", cfg.BindAddr)
	if err != nil {
		if isAddrInUse(err) {
			hint := portOccupantHint(cfg.BindAddr)
			fatalStartup(logger, "E_LISTENER_BIND", fmt.Errorf("%w\n\n  %s", err, hint))
		}
		fatalStartup(logger, "E_LISTENER_BIND", err)
	}
	go func() {
		logger.Info("panel listening", "addr", cfg.BindAddr, "ws", "/ws")
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	if cfg.Gateway.AutoStart {
		desired, err := srv.GatewayDesiredState(ctx)
		if err != nil {
			logger.Warn("could not read persisted gateway state", "error", err)
			desired = ""
		}
		switch {
		case len(cfg.Gateway.Command) == 0:
			logger.Warn("auto_start is set but gateway.command is empty")
		case desired == "stopped":
			// The operator stopped the gateway on purpose before the last
			// panel shutdown. Leave it down until they start it again.
			logger.Info("auto_start skipped, gateway was deliberately stopped")
		default:
			if err := srv.StartGateway(ctx); err != nil {
				logger.Error("gateway auto-start failed", "error", err)
			}
		}
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		logger.Error("panel server error", "error", err)
	}

	// Stop intake first, then bring the child down with the usual grace
	// period so a panel restart never leaks a gateway process.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	if result, err := sup.Stop(shutdownCtx); err != nil {
		logger.Error("gateway stop during shutdown failed", "error", err)
	} else if result.Stopped {
		logger.Info("gateway stopped", "killed", result.Killed)
	}
	logger.Info("shutdown complete")
}

func fatalStartup(logger *slog.Logger, reasonCode string, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	if logger != nil {
		logger.Error("startup failure", "reason_code", reasonCode, "error", message)
	} else {
		fmt.Fprintf(
			os.Stderr,
			`{"timestamp":"%s","level":"ERROR","component":"panel","msg":"startup failure","reason_code":%q,"error":%q}`+"\n",
			time.Now().UTC().Format(time.RFC3339Nano),
			reasonCode,
			message,
		)
	}
	os.Exit(1)
}

func isAddrInUse(err error) bool {
	if opErr, ok := err.(*net.OpError); ok {
		if sysErr, ok := opErr.Err.(*os.SyscallError); ok {
			return sysErr.Err == syscall.EADDRINUSE
		}
	}
	return strings.Contains(err.Error(), "address already in use")
}

func portOccupantHint(addr string) string {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Sprintf("Another process is using %s. Stop it first or change bind_addr in config.yaml.", addr)
	}
	// Try lsof to identify the occupying process (macOS/Linux).
	out, err := execCommand("lsof", "-ti", ":"+port)
	if err == nil && strings.TrimSpace(out) != "" {
		pids := strings.TrimSpace(out)
		return fmt.Sprintf("Port %s is occupied by PID %s. Kill it with: kill %s", port, pids, pids)
	}
	return fmt.Sprintf("Port %s is already in use. Stop the existing process or change bind_addr in config.yaml.", port)
}

func execCommand(name string, args ...string) (string, error) {
	cmd := execCommandFunc(name, args...)
	out, err := cmd.Output()
	return string(out), err
}

var execCommandFunc = newExecCommand

func newExecCommand(name string, args ...string) *exec.Cmd {
	return exec.Command(name, args...)
}

func loadDotEnv(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		eq := strings.Index(line, "=")
		if eq <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		if key == "" || os.Getenv(key) != "" {
			continue
		}
		_ = os.Setenv(key, val)
	}
}
