package main

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"sirsi-hub/internal/adapter/discovery"
	"sirsi-hub/internal/infra/config"
)

func TestCheckConfigFile_Missing(t *testing.T) {
	fn := checkConfigFile("/nonexistent/path/config.yaml", nil)
	result := fn(nil)
	if result.Status != StatusWarn {
		t.Errorf("expected WARN for missing config, got %s", result.Status)
	}
	if result.Fix == "" {
		t.Error("expected fix suggestion for missing config")
	}
}

func TestCheckConfigFile_LoadError(t *testing.T) {
	fn := checkConfigFile("config.yaml", &config.ValidationError{Errors: []string{"bad yaml"}})
	result := fn(nil)
	if result.Status != StatusFail {
		t.Errorf("expected FAIL for load error, got %s", result.Status)
	}
}

func TestCheckConfigFile_Valid(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("logger:\n  level: debug\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	result := checkConfigFile(cfgPath, nil)(nil)
	if result.Status != StatusPass {
		t.Errorf("expected PASS for valid config, got %s: %s", result.Status, result.Message)
	}
}

func TestChecksNeedConfig(t *testing.T) {
	for name, fn := range map[string]func(*config.Config) CheckResult{
		"log":       checkLogOutput,
		"store":     checkStore,
		"knowledge": checkKnowledgePath,
		"grpc":      checkGRPCAddr,
		"gateway":   checkGateway,
		"connector": checkConnectors,
	} {
		if got := fn(nil).Status; got != StatusFail {
			t.Errorf("%s: expected FAIL for nil config, got %s", name, got)
		}
	}
}

func TestCheckLogOutput(t *testing.T) {
	cfg := config.Defaults()
	if got := checkLogOutput(cfg); got.Status != StatusPass {
		t.Errorf("stderr: got %s", got.Status)
	}

	cfg.Logger.Output = "/nonexistent/dir/hub.log"
	if got := checkLogOutput(cfg); got.Status != StatusFail {
		t.Errorf("missing dir: got %s", got.Status)
	}

	cfg.Logger.Output = filepath.Join(t.TempDir(), "hub.log")
	if got := checkLogOutput(cfg); got.Status != StatusPass {
		t.Errorf("temp dir: got %s: %s", got.Status, got.Message)
	}
}

func TestCheckStore_Memory(t *testing.T) {
	result := checkStore(config.Defaults())
	if result.Status != StatusWarn {
		t.Errorf("expected WARN for memory store, got %s", result.Status)
	}
}

func TestCheckStore_SQLite(t *testing.T) {
	cfg := config.Defaults()
	cfg.Store.Backend = "sqlite"
	cfg.Store.Path = filepath.Join(t.TempDir(), "state.db")

	result := checkStore(cfg)
	if result.Status != StatusPass {
		t.Errorf("expected PASS for sqlite store, got %s: %s", result.Status, result.Message)
	}
}

func TestCheckStore_Unknown(t *testing.T) {
	cfg := config.Defaults()
	cfg.Store.Backend = "etcd"
	if got := checkStore(cfg); got.Status != StatusFail {
		t.Errorf("expected FAIL for unknown backend, got %s", got.Status)
	}
}

func TestCheckKnowledgePath(t *testing.T) {
	cfg := config.Defaults()
	if got := checkKnowledgePath(cfg); got.Status != StatusWarn {
		t.Errorf("empty path: got %s", got.Status)
	}

	cfg.Knowledge.Path = "/nonexistent/dir/knowledge.db"
	if got := checkKnowledgePath(cfg); got.Status != StatusFail {
		t.Errorf("missing dir: got %s", got.Status)
	}

	cfg.Knowledge.Path = filepath.Join(t.TempDir(), "knowledge.db")
	if got := checkKnowledgePath(cfg); got.Status != StatusPass {
		t.Errorf("temp dir: got %s", got.Status)
	}
}

func TestCheckBindable_PortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	result := checkBindable(net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if result.Status != StatusFail {
		t.Errorf("expected FAIL for busy port, got %s", result.Status)
	}
	if result := checkBindable("nonsense"); result.Status != StatusFail {
		t.Errorf("expected FAIL for invalid addr, got %s", result.Status)
	}
}

func TestCheckGateway(t *testing.T) {
	cfg := config.Defaults()
	if got := checkGateway(cfg); got.Status != StatusPass {
		t.Errorf("disabled: got %s", got.Status)
	}

	cfg.Gateway.Enabled = true
	cfg.Gateway.Addr = "127.0.0.1:0"
	if got := checkGateway(cfg); got.Status != StatusWarn {
		t.Errorf("open auth: got %s", got.Status)
	}

	cfg.Gateway.Auth = config.AuthConfig{Type: "static", Tokens: []config.TokenConfig{{Token: "t", Name: "ops"}}}
	if got := checkGateway(cfg); got.Status != StatusPass {
		t.Errorf("static auth: got %s: %s", got.Status, got.Message)
	}
}

func TestCheckConnectors(t *testing.T) {
	cfg := config.Defaults()
	if got := checkConnectors(cfg); got.Status != StatusPass {
		t.Errorf("default: got %s", got.Status)
	}
	cfg.Connectors.Failing = []string{"gcp"}
	got := checkConnectors(cfg)
	if got.Status != StatusWarn || !strings.Contains(got.Message, "gcp") {
		t.Errorf("failing: got %s %q", got.Status, got.Message)
	}
}

func TestRunChecks(t *testing.T) {
	pass := Check{Name: "ok", Fn: func(*config.Config) CheckResult { return CheckResult{Status: StatusPass, Message: "fine"} }}
	warn := Check{Name: "meh", Fn: func(*config.Config) CheckResult { return CheckResult{Status: StatusWarn, Message: "hmm", Fix: "tweak"} }}
	fail := Check{Name: "bad", Fn: func(*config.Config) CheckResult { return CheckResult{Status: StatusFail, Message: "broken"} }}

	var buf bytes.Buffer
	if err := runChecks(&buf, nil, []Check{pass, warn}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"[PASS] ok: fine", "[WARN] meh: hmm", "Fix: tweak", "1 passed, 1 warnings, 0 failed"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	err := runChecks(&buf, nil, []Check{pass, fail})
	if err == nil || !strings.Contains(err.Error(), "1 check(s) failed") {
		t.Errorf("expected failure error, got %v", err)
	}
}

func TestStatusIcon(t *testing.T) {
	tests := map[CheckStatus]string{
		StatusPass:           "[PASS]",
		StatusWarn:           "[WARN]",
		StatusFail:           "[FAIL]",
		CheckStatus("bogus"): "[????]",
	}
	for s, want := range tests {
		if got := statusIcon(s); got != want {
			t.Errorf("statusIcon(%s) = %s, want %s", s, got, want)
		}
	}
}

func TestRunEncrypt(t *testing.T) {
	t.Setenv("SIRSI_CONFIG_KEY", "passphrase")

	var out bytes.Buffer
	if err := runEncrypt([]string{"s3cret"}, strings.NewReader(""), &out); err != nil {
		t.Fatal(err)
	}
	enc := strings.TrimSpace(out.String())
	if !strings.HasPrefix(enc, "enc:") {
		t.Fatalf("output %q lacks enc: prefix", enc)
	}
	plain, err := config.DecryptValue(strings.TrimPrefix(enc, "enc:"), "passphrase")
	if err != nil || plain != "s3cret" {
		t.Errorf("DecryptValue = %q, %v", plain, err)
	}

	out.Reset()
	if err := runEncrypt(nil, strings.NewReader("from-stdin\n"), &out); err != nil {
		t.Fatal(err)
	}
	plain, _ = config.DecryptValue(strings.TrimPrefix(strings.TrimSpace(out.String()), "enc:"), "passphrase")
	if plain != "from-stdin" {
		t.Errorf("stdin value = %q", plain)
	}

	if err := runEncrypt(nil, strings.NewReader(""), &out); err == nil {
		t.Error("expected error for empty value")
	}
}

func TestRunEncryptNeedsKey(t *testing.T) {
	t.Setenv("SIRSI_CONFIG_KEY", "")
	err := runEncrypt([]string{"x"}, strings.NewReader(""), &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "SIRSI_CONFIG_KEY") {
		t.Fatalf("expected missing key error, got %v", err)
	}
}

func TestPrintServices(t *testing.T) {
	var buf bytes.Buffer
	if err := printServices(&buf, nil); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "no sirsi services found") {
		t.Errorf("empty output = %q", buf.String())
	}

	buf.Reset()
	err := printServices(&buf, []discovery.Service{
		{Instance: "sirsi-grpc", Address: "10.0.0.2", Port: 50050, Metadata: map[string]string{"type": "grpc", "id": "a-2"}},
		{Instance: "sirsi-gateway", Address: "10.0.0.2", Port: 8100, Metadata: map[string]string{"type": "websocket", "id": "a-1"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and 2 rows, got %q", buf.String())
	}
	if !strings.HasPrefix(lines[1], "sirsi-gateway") || !strings.Contains(lines[1], "10.0.0.2:8100") {
		t.Errorf("rows not sorted by instance: %q", lines[1])
	}
}
