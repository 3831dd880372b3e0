package main

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"sirsi-hub/internal/adapter/store"
	"sirsi-hub/internal/infra/config"
	"sirsi-hub/internal/usecase/portregistry"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named health check function.
type Check struct {
	Name string
	Fn   func(cfg *config.Config) CheckResult
}

var noConfig = CheckResult{
	Status:  StatusFail,
	Message: "config not loaded",
	Fix:     "Fix the config file errors first",
}

func runDoctor() error {
	cfgPath := configPath()
	cfg, cfgErr := config.Load(cfgPath)

	checks := []Check{
		{Name: "Config file", Fn: checkConfigFile(cfgPath, cfgErr)},
		{Name: "Log output", Fn: checkLogOutput},
		{Name: "State store", Fn: checkStore},
		{Name: "Knowledge store", Fn: checkKnowledgePath},
		{Name: "gRPC listener", Fn: checkGRPCAddr},
		{Name: "Gateway", Fn: checkGateway},
		{Name: "Connectors", Fn: checkConnectors},
	}
	return runChecks(os.Stdout, cfg, checks)
}

// runChecks prints every result and fails if any check failed.
func runChecks(w io.Writer, cfg *config.Config, checks []Check) error {
	fmt.Fprintln(w, "sirsi-hub doctor")
	fmt.Fprintln(w, strings.Repeat("=", 50))
	fmt.Fprintln(w)

	var pass, warn, fail int
	for _, check := range checks {
		result := check.Fn(cfg)
		result.Name = check.Name

		fmt.Fprintf(w, "  %s %s: %s\n", statusIcon(result.Status), result.Name, result.Message)
		if result.Fix != "" {
			fmt.Fprintf(w, "      Fix: %s\n", result.Fix)
		}

		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat("-", 50))
	fmt.Fprintf(w, "Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)

	if fail > 0 {
		fmt.Fprintln(w, "\nFix the FAIL issues above before starting sirsi-hub.")
		return fmt.Errorf("%d check(s) failed", fail)
	}
	if warn > 0 {
		fmt.Fprintln(w, "\nsirsi-hub should work, but consider addressing the warnings.")
	} else {
		fmt.Fprintln(w, "\nAll checks passed! sirsi-hub is ready to run.")
	}
	return nil
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return "[PASS]"
	case StatusWarn:
		return "[WARN]"
	case StatusFail:
		return "[FAIL]"
	default:
		return "[????]"
	}
}

// checkConfigFile reports on the config file. A missing file is only a
// warning since the hub runs on defaults.
func checkConfigFile(cfgPath string, cfgErr error) func(*config.Config) CheckResult {
	return func(_ *config.Config) CheckResult {
		if cfgErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config error: %v", cfgErr),
				Fix:     "Check config.yaml syntax, permissions (0600) and values",
			}
		}
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("no config file at %s, using defaults", cfgPath),
				Fix:     "Create config.yaml or pass --config",
			}
		}
		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("config loaded from %s", cfgPath),
		}
	}
}

func checkLogOutput(cfg *config.Config) CheckResult {
	if cfg == nil {
		return noConfig
	}
	switch out := cfg.Logger.Output; out {
	case "", "stderr", "stdout":
		return CheckResult{Status: StatusPass, Message: "logging to " + cmp.Or(out, "stderr")}
	default:
		dir := filepath.Dir(out)
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("log directory %s does not exist", dir),
				Fix:     "Create the directory or change logger.output",
			}
		}
		return CheckResult{Status: StatusPass, Message: "logging to " + out}
	}
}

// checkStore opens the configured backend and pings it.
func checkStore(cfg *config.Config) CheckResult {
	if cfg == nil {
		return noConfig
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	kv, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("%s store unavailable: %v", cfg.Store.Backend, err),
			Fix:     "Check store.path / store.url and that the backend is reachable",
		}
	}
	defer kv.Close()

	if err := kv.Health(ctx); err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("%s store unhealthy: %v", cfg.Store.Backend, err),
		}
	}
	if cfg.Store.Backend == "" || cfg.Store.Backend == "memory" {
		return CheckResult{
			Status:  StatusWarn,
			Message: "memory store: sessions are lost on restart",
			Fix:     "Set store.backend to sqlite or redis for durable sessions",
		}
	}
	return CheckResult{Status: StatusPass, Message: cfg.Store.Backend + " store reachable"}
}

func checkKnowledgePath(cfg *config.Config) CheckResult {
	if cfg == nil {
		return noConfig
	}
	if cfg.Knowledge.Path == "" {
		return CheckResult{
			Status:  StatusWarn,
			Message: "knowledge graph is in-memory only",
			Fix:     "Set knowledge.path to persist learned facts",
		}
	}
	dir := filepath.Dir(cfg.Knowledge.Path)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("knowledge directory %s does not exist", dir),
			Fix:     "Create the directory or change knowledge.path",
		}
	}
	return CheckResult{Status: StatusPass, Message: "knowledge persisted to " + cfg.Knowledge.Path}
}

func checkGRPCAddr(cfg *config.Config) CheckResult {
	if cfg == nil {
		return noConfig
	}
	if cfg.GRPC.Addr == "" {
		return CheckResult{Status: StatusPass, Message: "port assigned by the registry at startup"}
	}
	return checkBindable(cfg.GRPC.Addr)
}

func checkGateway(cfg *config.Config) CheckResult {
	if cfg == nil {
		return noConfig
	}
	if !cfg.Gateway.Enabled {
		return CheckResult{Status: StatusPass, Message: "disabled"}
	}
	if res := checkBindable(cfg.Gateway.Addr); res.Status != StatusPass {
		return res
	}
	if cfg.Gateway.Auth.Type == "" {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("listening on %s without authentication", cfg.Gateway.Addr),
			Fix:     "Set gateway.auth.type to static and configure tokens",
		}
	}
	if cfg.Gateway.RequestsPerMin == 0 {
		return CheckResult{
			Status:  StatusWarn,
			Message: "rate limiting disabled",
			Fix:     "Set gateway.requests_per_min",
		}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%s, %s auth", cfg.Gateway.Addr, cfg.Gateway.Auth.Type)}
}

// checkBindable fails when addr's port is taken.
func checkBindable(addr string) CheckResult {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return CheckResult{Status: StatusFail, Message: fmt.Sprintf("invalid address %q", addr)}
	}
	port, _ := strconv.Atoi(p)
	if port == 0 || portregistry.ListenProber(port) {
		return CheckResult{Status: StatusPass, Message: addr + " is available"}
	}
	return CheckResult{
		Status:  StatusFail,
		Message: fmt.Sprintf("port %d is already in use", port),
		Fix:     "Stop the process holding the port or pick another address",
	}
}

func checkConnectors(cfg *config.Config) CheckResult {
	if cfg == nil {
		return noConfig
	}
	if len(cfg.Connectors.Failing) > 0 {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("connectors forced to fail: %s", strings.Join(cfg.Connectors.Failing, ", ")),
			Fix:     "Clear connectors.failing outside of failure drills",
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%d providers, %.0f scans/s", len(cfg.Connectors.Providers), cfg.Connectors.RateLimit),
	}
}
