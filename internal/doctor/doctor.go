// Package doctor runs environment diagnostics for the panel: can the
// home directory be written, does the database open, is the gateway
// command resolvable, is the bind address free.
package doctor

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/basket/clawdeck/internal/config"
	"github.com/basket/clawdeck/internal/persistence"
)

type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "PASS", "FAIL", "WARN", "SKIP"
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type Diagnosis struct {
	Timestamp time.Time     `json:"timestamp"`
	System    SystemInfo    `json:"system"`
	Results   []CheckResult `json:"results"`
}

type SystemInfo struct {
	OS      string `json:"os"`
	Arch    string `json:"arch"`
	Go      string `json:"go_version"`
	Version string `json:"version"`
}

// Healthy reports whether no check failed. WARN and SKIP do not count
// as failures.
func (d Diagnosis) Healthy() bool {
	for _, r := range d.Results {
		if r.Status == "FAIL" {
			return false
		}
	}
	return true
}

// Run executes all diagnostic checks.
func Run(ctx context.Context, cfg *config.Config, version string) Diagnosis {
	d := Diagnosis{
		Timestamp: time.Now().UTC(),
		System: SystemInfo{
			OS:      runtime.GOOS,
			Arch:    runtime.GOARCH,
			Go:      runtime.Version(),
			Version: version,
		},
	}

	checks := []func(context.Context, *config.Config) CheckResult{
		checkConfig,
		checkPermissions,
		checkDatabase,
		checkGatewayDocument,
		checkGatewayCommand,
		checkBindAddr,
	}

	for _, check := range checks {
		d.Results = append(d.Results, check(ctx, cfg))
	}

	return d
}

func checkConfig(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Config", Status: "FAIL", Message: "Configuration not loaded"}
	}
	if cfg.NeedsGenesis {
		return CheckResult{Name: "Config", Status: "WARN", Message: "Configuration missing, defaults in effect"}
	}
	return CheckResult{Name: "Config", Status: "PASS", Message: fmt.Sprintf("Loaded from %s", cfg.HomeDir)}
}

func checkPermissions(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Permissions", Status: "SKIP", Message: "Config missing"}
	}

	testFile := filepath.Join(cfg.HomeDir, ".write_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return CheckResult{Name: "Permissions", Status: "FAIL", Message: fmt.Sprintf("Home dir unwritable: %v", err)}
	}
	os.Remove(testFile)

	return CheckResult{Name: "Permissions", Status: "PASS", Message: "Home directory writable"}
}

func checkDatabase(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Database", Status: "SKIP", Message: "Config missing"}
	}

	dbPath := filepath.Join(cfg.HomeDir, "clawdeck.db")
	store, err := persistence.Open(dbPath)
	if err != nil {
		return CheckResult{Name: "Database", Status: "FAIL", Message: fmt.Sprintf("Open failed: %v", err)}
	}
	defer store.Close()

	if _, err := store.TotalEventCount(ctx); err != nil {
		return CheckResult{Name: "Database", Status: "FAIL", Message: fmt.Sprintf("Query failed: %v", err)}
	}

	return CheckResult{Name: "Database", Status: "PASS", Message: "Connection and schema valid"}
}

func checkGatewayDocument(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Gateway Config", Status: "SKIP", Message: "Config missing"}
	}

	path := cfg.GatewayConfigPath()
	validator, err := config.NewDocumentValidator()
	if err != nil {
		return CheckResult{Name: "Gateway Config", Status: "FAIL", Message: fmt.Sprintf("Schema compile failed: %v", err)}
	}
	store := config.NewDocumentStore(path, validator)
	doc, err := store.Load()
	if err != nil {
		return CheckResult{Name: "Gateway Config", Status: "FAIL", Message: fmt.Sprintf("Parse failed: %v", err), Detail: path}
	}
	if len(doc) == 0 {
		return CheckResult{Name: "Gateway Config", Status: "WARN", Message: "Document missing or empty", Detail: path}
	}
	return CheckResult{Name: "Gateway Config", Status: "PASS", Message: fmt.Sprintf("Parsed %s", path)}
}

func checkGatewayCommand(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Gateway Command", Status: "SKIP", Message: "Config missing"}
	}
	if len(cfg.Gateway.Command) == 0 {
		return CheckResult{Name: "Gateway Command", Status: "WARN", Message: "No gateway command configured"}
	}

	if cfg.Gateway.Mode == "docker" {
		if _, err := exec.LookPath("docker"); err != nil {
			return CheckResult{Name: "Gateway Command", Status: "FAIL", Message: "docker binary not found (mode: docker)"}
		}
		cmd := exec.CommandContext(ctx, "docker", "info")
		if err := cmd.Run(); err != nil {
			return CheckResult{Name: "Gateway Command", Status: "FAIL", Message: fmt.Sprintf("docker daemon unreachable: %v", err)}
		}
		return CheckResult{Name: "Gateway Command", Status: "PASS", Message: fmt.Sprintf("docker ok, image %s", cfg.Gateway.DockerImage)}
	}

	bin := cfg.Gateway.Command[0]
	path, err := exec.LookPath(bin)
	if err != nil {
		return CheckResult{
			Name:    "Gateway Command",
			Status:  "FAIL",
			Message: fmt.Sprintf("%s not found in PATH", bin),
			Detail:  "Fix gateway.command in config.yaml or install the binary",
		}
	}
	return CheckResult{Name: "Gateway Command", Status: "PASS", Message: fmt.Sprintf("Resolved %s", path)}
}

func checkBindAddr(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Bind Address", Status: "SKIP", Message: "Config missing"}
	}

	// A successful listen proves the port is free. The panel itself may
	// already hold it, which is fine when doctor runs alongside serve.
	ln, err := net.Listen("tcp", cfg.BindAddr)
	if err != nil {
		return CheckResult{
			Name:    "Bind Address",
			Status:  "WARN",
			Message: fmt.Sprintf("%s not available: %v", cfg.BindAddr, err),
			Detail:  "Another process (possibly a running panel) holds the port",
		}
	}
	ln.Close()
	return CheckResult{Name: "Bind Address", Status: "PASS", Message: fmt.Sprintf("%s available", cfg.BindAddr)}
}
