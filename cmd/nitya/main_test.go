package main

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/StarterNode/NITYA-V1.2-sub000/internal/audit"
	"github.com/StarterNode/NITYA-V1.2-sub000/internal/domain"
)

// writeServeConfig writes a config pointing every path into dir, with the
// gateway on a random port, and creates the directories serve expects.
func writeServeConfig(t *testing.T, dir string) string {
	t.Helper()
	prospects := filepath.Join(dir, "prospects")
	promptDir := filepath.Join(dir, "brain")
	for _, d := range []string{filepath.Join(prospects, "default"), promptDir} {
		if err := os.MkdirAll(d, 0755); err != nil {
			t.Fatal(err)
		}
	}
	cfg := fmt.Sprintf(`{
  "gateway": {"port": 0, "auth": {"mode": "none"}},
  "prospects": {"root": %q, "defaultId": "default"},
  "model": {"model": "claude-sonnet-4-20250514", "promptDir": %q},
  "audit": {"database": %q, "retentionDays": 30, "sweepSchedule": "0 4 * * *"},
  "infra": {"logFormat": "text", "logLevel": "warn"}
}`, prospects, promptDir, filepath.Join(dir, "audit.db"))
	path := filepath.Join(dir, "nitya.json")
	if err := os.WriteFile(path, []byte(cfg), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRootCommand_WhenVersionFlag_ShouldPrintBuildMetadata(t *testing.T) {
	out := &bytes.Buffer{}
	root := newRootCommand(newBuildMeta("1.2.0", "linux", "amd64"))
	root.SetOut(out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"--version"})

	if err := root.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	got := out.String()
	for _, want := range []string{"nitya", "1.2.0", "linux", "amd64"} {
		if !strings.Contains(got, want) {
			t.Errorf("expected %q in output, got %q", want, got)
		}
	}
}

func TestRootCommand_WhenVersionShortFlag_ShouldPrintBuildMetadata(t *testing.T) {
	out := &bytes.Buffer{}
	root := newRootCommand(newBuildMeta("2.0.0", "darwin", "arm64"))
	root.SetOut(out)
	root.SetArgs([]string{"-V"})

	if err := root.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out.String(), "2.0.0") {
		t.Errorf("expected version 2.0.0 in output, got %q", out.String())
	}
}

func TestNewBuildMeta_WhenGoosGoarchEmpty_ShouldUseRuntimeValues(t *testing.T) {
	bm := newBuildMeta("1.0.0", "", "")
	if bm.GoOS == "" || bm.GoArch == "" {
		t.Error("newBuildMeta should backfill GOOS/GOARCH from runtime")
	}
	if bm.Version != "1.0.0" {
		t.Errorf("Version: want 1.0.0, got %q", bm.Version)
	}
}

func TestNewLogger_ShouldHonorLevelAndFormat(t *testing.T) {
	ctx := context.Background()

	debug := newLogger(domain.InfraConfig{LogFormat: "json", LogLevel: "debug"})
	if !debug.Enabled(ctx, slog.LevelDebug) {
		t.Error("debug logger should enable LevelDebug")
	}

	warn := newLogger(domain.InfraConfig{LogFormat: "text", LogLevel: "warn"})
	if warn.Enabled(ctx, slog.LevelInfo) {
		t.Error("warn logger should not enable LevelInfo")
	}

	fallback := newLogger(domain.InfraConfig{LogFormat: "bogus", LogLevel: "bogus"})
	if !fallback.Enabled(ctx, slog.LevelInfo) || fallback.Enabled(ctx, slog.LevelDebug) {
		t.Error("unknown level should fall back to info")
	}
}

// =============================================================================
// check
// =============================================================================

func TestRunCheck_WhenConfigMissing_ShouldFail(t *testing.T) {
	t.Setenv("NITYA_CONFIG", filepath.Join(t.TempDir(), "nitya.json"))

	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	if code := runCheck(false, out, errOut); code != 1 {
		t.Fatalf("runCheck without config: want 1, got %d", code)
	}
	if !strings.Contains(errOut.String(), "missing") {
		t.Errorf("expected missing-config hint, got %q", errOut.String())
	}
}

func TestRunCheck_WithFix_ShouldWriteDefaultConfig(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	cfgPath := filepath.Join(dir, "nitya.json")
	t.Setenv("NITYA_CONFIG", cfgPath)
	t.Setenv("ANTHROPIC_API_KEY", "")

	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	code := runCheck(true, out, errOut)

	if _, err := os.Stat(cfgPath); err != nil {
		t.Fatalf("--fix should write config: %v", err)
	}
	if !strings.Contains(out.String(), "wrote default") {
		t.Errorf("expected wrote-default line, got %q", out.String())
	}
	// The default paths do not exist yet, so the check still fails.
	if code != 1 {
		t.Errorf("want exit 1 for missing paths, got %d", code)
	}
	if !strings.Contains(errOut.String(), "nitya init") {
		t.Errorf("expected init hint for missing paths, got %q", errOut.String())
	}
}

func TestRunCheck_WhenNoAPIKey_ShouldFailUpstream(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeServeConfig(t, dir)
	t.Setenv("NITYA_CONFIG", cfgPath)
	t.Setenv("ANTHROPIC_API_KEY", "")

	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	if code := runCheck(false, out, errOut); code != 1 {
		t.Fatalf("runCheck without key: want 1, got %d", code)
	}
	if !strings.Contains(errOut.String(), "upstream:") {
		t.Errorf("expected upstream failure, got %q", errOut.String())
	}
	if !strings.Contains(out.String(), "config:") || !strings.Contains(out.String(), "path:") {
		t.Errorf("config and path checks should pass first, got %q", out.String())
	}
}

// =============================================================================
// init
// =============================================================================

func TestRootCommand_Init_ShouldCreateConfigAndDirs(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	cfgPath := filepath.Join(dir, "nitya.json")
	t.Setenv("NITYA_CONFIG", cfgPath)

	out := &bytes.Buffer{}
	root := newRootCommand(newBuildMeta("dev", "linux", "amd64"))
	root.SetOut(out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"init"})

	if err := root.Execute(); err != nil {
		t.Fatalf("Execute init: %v", err)
	}

	if _, err := os.Stat(cfgPath); err != nil {
		t.Errorf("config should exist: %v", err)
	}
	for _, d := range []string{
		filepath.Join(dir, "prospects", "default"),
		filepath.Join(dir, "static"),
		filepath.Join(dir, "brain"),
	} {
		if st, err := os.Stat(d); err != nil || !st.IsDir() {
			t.Errorf("init should create %s", d)
		}
	}
	if !strings.Contains(out.String(), "default") {
		t.Errorf("expected default prospect line, got %q", out.String())
	}
}

func TestRootCommand_Init_WhenConfigExists_ShouldKeepIt(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	cfgPath := writeServeConfig(t, dir)
	t.Setenv("NITYA_CONFIG", cfgPath)
	before, _ := os.ReadFile(cfgPath)

	out := &bytes.Buffer{}
	root := newRootCommand(newBuildMeta("dev", "linux", "amd64"))
	root.SetOut(out)
	root.SetArgs([]string{"init"})

	if err := root.Execute(); err != nil {
		t.Fatalf("Execute init: %v", err)
	}
	after, _ := os.ReadFile(cfgPath)
	if !bytes.Equal(before, after) {
		t.Error("init must not overwrite an existing config")
	}
	if !strings.Contains(out.String(), "keeping it") {
		t.Errorf("expected keeping-it line, got %q", out.String())
	}
}

// =============================================================================
// audit
// =============================================================================

func TestRootCommand_Audit_WhenConfigMissing_ShouldError(t *testing.T) {
	t.Setenv("NITYA_CONFIG", filepath.Join(t.TempDir(), "nitya.json"))

	root := newRootCommand(newBuildMeta("dev", "linux", "amd64"))
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"audit"})

	if err := root.Execute(); err == nil {
		t.Error("audit without config: expected error")
	}
}

func TestRootCommand_Audit_ShouldPrintRecordedTurns(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeServeConfig(t, dir)
	t.Setenv("NITYA_CONFIG", cfgPath)

	db, err := audit.Open(filepath.Join(dir, "audit.db"))
	if err != nil {
		t.Fatalf("audit open: %v", err)
	}
	store, err := audit.NewStore(db, nil)
	if err != nil {
		t.Fatalf("audit store: %v", err)
	}
	store.Record(context.Background(), domain.TurnRecord{
		Prospect:        "acme",
		CompletionCalls: 2,
		ToolCalls:       1,
		StopReason:      domain.StopEndTurn,
		Duration:        1200 * time.Millisecond,
	})
	db.Close()

	out := &bytes.Buffer{}
	root := newRootCommand(newBuildMeta("dev", "linux", "amd64"))
	root.SetOut(out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"audit", "--limit", "5"})

	if err := root.Execute(); err != nil {
		t.Fatalf("Execute audit: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "PROSPECT") {
		t.Errorf("expected table header, got %q", got)
	}
	if !strings.Contains(got, "acme") {
		t.Errorf("expected recorded prospect row, got %q", got)
	}
}

// =============================================================================
// serve daemon
// =============================================================================

func TestRunApp_WhenDaemonRunsAsRoot_ReturnsTwo(t *testing.T) {
	ch := make(chan struct{})
	close(ch)
	daemonShutdownCh = ch
	daemonEUIDGetter = func() int { return 0 }
	defer func() { daemonShutdownCh = nil; daemonEUIDGetter = nil }()

	if code := runApp([]string{"nitya"}); code != 2 {
		t.Errorf("runApp as root: want 2, got %d", code)
	}
}

func TestRunDaemon_WhenConfigMissing_ShouldStillBecomeReady(t *testing.T) {
	t.Setenv("NITYA_CONFIG", filepath.Join(t.TempDir(), "nitya.json"))
	ch := make(chan struct{})
	close(ch)
	daemonEUIDGetter = func() int { return 1000 }
	defer func() { daemonEUIDGetter = nil }()

	if err := runDaemon(nil, nil, ch); err != nil {
		t.Fatalf("runDaemon without config: %v", err)
	}
}

func TestRunDaemon_WithConfig_ShouldServeHealthz(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeServeConfig(t, dir)
	t.Setenv("NITYA_CONFIG", cfgPath)
	t.Setenv("ANTHROPIC_API_KEY", "test-key")

	ch := make(chan struct{})
	daemonEUIDGetter = func() int { return 1000 }
	gatewayServerForTest = nil
	defer func() { daemonEUIDGetter = nil }()

	done := make(chan error, 1)
	go func() { done <- runDaemon(nil, nil, ch) }()

	var addr string
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if srv := gatewayServerForTest; srv != nil {
			if a := srv.Addr(); a != "" {
				addr = a
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	if addr == "" {
		close(ch)
		<-done
		t.Fatal("gateway never bound")
	}

	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		close(ch)
		<-done
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz: want 200, got %d", resp.StatusCode)
	}

	close(ch)
	if err := <-done; err != nil {
		t.Fatalf("runDaemon: %v", err)
	}
}

// =============================================================================
// version and exit plumbing
// =============================================================================

func TestGetVersion_WhenVERSIONFileMissing_ShouldReturnDev(t *testing.T) {
	t.Chdir(t.TempDir())
	if got := getVersion(); got != "dev" {
		t.Errorf("getVersion(): want dev, got %q", got)
	}
}

func TestGetVersion_WhenVersionVarSet_ShouldReturnIt(t *testing.T) {
	version = "1.2.99-ldflags"
	defer func() { version = "" }()
	if got := getVersion(); got != "1.2.99-ldflags" {
		t.Errorf("getVersion(): want 1.2.99-ldflags, got %q", got)
	}
}

func TestExitCodeErr_ShouldCarryCode(t *testing.T) {
	err := exitCodeErr(3)
	if err.ExitCode() != 3 {
		t.Errorf("ExitCode: want 3, got %d", err.ExitCode())
	}
	if err.Error() != "exit 3" {
		t.Errorf("Error: want 'exit 3', got %q", err.Error())
	}
}

func TestRunApp_WhenVersionFlag_ReturnsZero(t *testing.T) {
	if code := runApp([]string{"nitya", "--version"}); code != 0 {
		t.Errorf("runApp(--version): want 0, got %d", code)
	}
}

func TestRunApp_WhenUnknownCommand_ReturnsOne(t *testing.T) {
	if code := runApp([]string{"nitya", "no-such-command"}); code != 1 {
		t.Errorf("runApp(no-such-command): want 1, got %d", code)
	}
}

func TestRunApp_WhenCheckFails_ReturnsCheckExitCode(t *testing.T) {
	t.Setenv("NITYA_CONFIG", filepath.Join(t.TempDir(), "nitya.json"))
	if code := runApp([]string{"nitya", "check"}); code != 1 {
		t.Errorf("runApp(check) without config: want 1, got %d", code)
	}
}
