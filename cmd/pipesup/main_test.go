package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/silver2dream/pipesup/internal/breaker"
	"github.com/silver2dream/pipesup/internal/buildinfo"
	"github.com/silver2dream/pipesup/internal/config"
	pserrors "github.com/silver2dream/pipesup/internal/errors"
)

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := execute(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestVersion(t *testing.T) {
	code, out, _ := runCLI(t, "version")
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if strings.TrimSpace(out) != buildinfo.Version {
		t.Errorf("version output = %q, want %q", out, buildinfo.Version)
	}
}

func TestUnknownCommand(t *testing.T) {
	code, _, errOut := runCLI(t, "frobnicate")
	if code != pserrors.ExitGeneralError {
		t.Errorf("exit code = %d, want %d", code, pserrors.ExitGeneralError)
	}
	if !strings.Contains(errOut, "unknown command") {
		t.Errorf("stderr should name the problem, got %q", errOut)
	}
}

func TestMissingWorkspace(t *testing.T) {
	code, _, _ := runCLI(t, "status", "--dir", filepath.Join(t.TempDir(), "nope"))
	if code != pserrors.ExitConfigError {
		t.Errorf("exit code = %d, want %d", code, pserrors.ExitConfigError)
	}
}

func TestInit(t *testing.T) {
	dir := t.TempDir()
	paths := config.NewPaths(dir)

	if code, _, errOut := runCLI(t, "init", "--dir", dir); code != 0 {
		t.Fatalf("init failed (%d): %s", code, errOut)
	}
	if _, err := os.Stat(paths.ConfigFile); err != nil {
		t.Fatalf("config not written: %v", err)
	}
	for _, d := range []string{paths.PIDDir, paths.EventsDir, paths.LogDir} {
		if info, err := os.Stat(d); err != nil || !info.IsDir() {
			t.Errorf("directory %s not created", d)
		}
	}

	if code, _, _ := runCLI(t, "init", "--dir", dir); code != pserrors.ExitConfigError {
		t.Errorf("second init should refuse to overwrite, got exit %d", code)
	}
	if code, _, _ := runCLI(t, "init", "--dir", dir, "--force"); code != 0 {
		t.Errorf("init --force should succeed, got exit %d", code)
	}

	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("written config does not load: %v", err)
	}
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("written config is invalid: %v", errs)
	}
}

func TestInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "breaker:\n  warning_threshold: 5\n  stop_threshold: 2\n")

	code, _, errOut := runCLI(t, "run", "--dir", dir)
	if code != pserrors.ExitValidationError {
		t.Fatalf("exit code = %d, want %d", code, pserrors.ExitValidationError)
	}
	if !strings.Contains(errOut, "breaker.stop_threshold") {
		t.Errorf("stderr should name the bad field, got %q", errOut)
	}
}

func TestHeartbeatAndStatus(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PIPESUP_HEARTBEAT_FILE", "")
	t.Setenv("PIPESUP_PHASE", "")

	if code, _, _ := runCLI(t, "heartbeat", "--dir", dir); code != pserrors.ExitValidationError {
		t.Errorf("heartbeat without agent should fail validation, got %d", code)
	}
	if code, _, errOut := runCLI(t, "heartbeat", "--dir", dir, "--agent", "verifier"); code != 0 {
		t.Fatalf("heartbeat failed (%d): %s", code, errOut)
	}

	code, out, _ := runCLI(t, "status", "--dir", dir, "--json")
	if code != 0 {
		t.Fatalf("status failed: %d", code)
	}
	var report statusReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("status output is not JSON: %v\n%s", err, out)
	}
	if report.Running {
		t.Error("no supervisor should be running")
	}
	if report.Heartbeat == nil || report.Heartbeat.Agent != "verifier" {
		t.Errorf("heartbeat = %+v, want agent verifier", report.Heartbeat)
	}
}

func TestStatusReportsHalt(t *testing.T) {
	dir := t.TempDir()
	paths := config.NewPaths(dir)
	if err := os.MkdirAll(paths.StateDir, 0755); err != nil {
		t.Fatal(err)
	}
	halted := breaker.Snapshot{State: breaker.Open, NoProgressCount: 5, LastProgressIteration: 2}
	if err := breaker.NewStore(paths.BreakerFile).Save(halted); err != nil {
		t.Fatal(err)
	}

	code, out, _ := runCLI(t, "status", "--dir", dir, "--json")
	if code != 0 {
		t.Fatalf("status failed: %d", code)
	}
	var report statusReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("status output is not JSON: %v\n%s", err, out)
	}
	if report.Breaker != halted {
		t.Errorf("breaker = %+v, want %+v", report.Breaker, halted)
	}
	for _, want := range []string{"5 consecutive iterations", "threshold 5", "iteration 2"} {
		if !strings.Contains(report.Halt, want) {
			t.Errorf("halt report %q missing %q", report.Halt, want)
		}
	}

	// A closed breaker has nothing to report.
	if err := breaker.NewStore(paths.BreakerFile).Save(breaker.Snapshot{State: breaker.HalfOpen, NoProgressCount: 3}); err != nil {
		t.Fatal(err)
	}
	_, out, _ = runCLI(t, "status", "--dir", dir, "--json")
	report = statusReport{}
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatal(err)
	}
	if report.Halt != "" {
		t.Errorf("halt = %q, want empty", report.Halt)
	}
}

func TestHeartbeatUsesEnvironment(t *testing.T) {
	file := filepath.Join(t.TempDir(), "hb.json")
	t.Setenv("PIPESUP_HEARTBEAT_FILE", file)
	t.Setenv("PIPESUP_PHASE", "strategist")

	if code, _, errOut := runCLI(t, "heartbeat"); code != 0 {
		t.Fatalf("heartbeat failed (%d): %s", code, errOut)
	}
	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatalf("heartbeat not written: %v", err)
	}
	if !strings.Contains(string(data), `"agent_name":"strategist"`) {
		t.Errorf("unexpected record %s", data)
	}
}

func TestStop(t *testing.T) {
	dir := t.TempDir()

	code, out, errOut := runCLI(t, "stop", "--dir", dir, "--reason", "maintenance")
	if code != 0 {
		t.Fatalf("stop failed (%d): %s", code, errOut)
	}
	if !strings.Contains(out, "no supervisor is running") {
		t.Errorf("unexpected output %q", out)
	}

	_, out, _ = runCLI(t, "status", "--dir", dir, "--json")
	var report statusReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatal(err)
	}
	if report.Control == nil || report.Control.Running || report.Control.Reason != "maintenance" {
		t.Errorf("control = %+v, want stopped with reason", report.Control)
	}
}

func TestSweepNothingToReclaim(t *testing.T) {
	dir := t.TempDir()

	code, out, errOut := runCLI(t, "sweep", "--dir", dir)
	if code != 0 {
		t.Fatalf("sweep failed (%d): %s", code, errOut)
	}
	if !strings.Contains(out, "nothing to reclaim") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestRunStopsAtIterationLimit(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("phase commands use sh")
	}
	dir := t.TempDir()
	writeConfig(t, dir, `loop:
  backoff: 0s
queue:
  kind: static
  static_open: 3
sync:
  push: false
phases:
  implementer:
    command: echo "$PIPESUP_RUN_ID $PIPESUP_ITERATION" >> ran.txt
  verifier:
    command: "true"
  strategist:
    command: "true"
`)

	code, out, errOut := runCLI(t, "run", "--dir", dir, "--max-iterations", "2")
	if code != 0 {
		t.Fatalf("run failed (%d):\nstdout: %s\nstderr: %s", code, out, errOut)
	}

	data, err := os.ReadFile(filepath.Join(dir, "ran.txt"))
	if err != nil {
		t.Fatalf("implementer did not run: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("implementer ran %d times, want 2", len(lines))
	}
	if !strings.HasSuffix(lines[1], " 2") {
		t.Errorf("second run should see iteration 2, got %q", lines[1])
	}

	_, out, _ = runCLI(t, "status", "--dir", dir, "--json")
	var report statusReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatal(err)
	}
	if report.Running {
		t.Error("lock should be released after the run")
	}
	if report.Control == nil || report.Control.Running {
		t.Errorf("control flag should be cleared at exit, got %+v", report.Control)
	}
	runID := strings.Fields(lines[0])[0]
	if report.LastRun != runID {
		t.Errorf("last run = %q, want %q", report.LastRun, runID)
	}
	if n := len(report.Recent); n == 0 || report.Recent[n-1].Type != "run_end" {
		t.Errorf("recent events should end with run_end, got %+v", report.Recent)
	}
}

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	path := config.NewPaths(dir).ConfigFile
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestResetRemovesState(t *testing.T) {
	dir := t.TempDir()
	paths := config.NewPaths(dir)
	if err := os.MkdirAll(paths.StateDir, 0755); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(paths.BreakerFile, []byte(`{"state":"OPEN","no_progress_count":5}`), 0644)

	code, out, errOut := runCLI(t, "reset", "--dir", dir, "--dry-run")
	if code != 0 {
		t.Fatalf("reset --dry-run failed (%d): %s", code, errOut)
	}
	if !strings.Contains(out, "Would delete") {
		t.Errorf("dry run should list deletions, got %q", out)
	}
	if _, err := os.Stat(paths.BreakerFile); err != nil {
		t.Fatal("dry run deleted the breaker file")
	}

	if code, _, errOut := runCLI(t, "reset", "--dir", dir); code != 0 {
		t.Fatalf("reset failed (%d): %s", code, errOut)
	}
	if _, err := os.Stat(paths.BreakerFile); !os.IsNotExist(err) {
		t.Error("breaker file should be removed")
	}
}

func TestDoctorFlagsNonGitWorkspace(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `queue:
  kind: static
sync:
  push: false
phases:
  implementer:
    command: pipesup-no-such-agent --run
`)

	code, out, _ := runCLI(t, "doctor", "--dir", dir, "--json")
	if code != pserrors.ExitValidationError {
		t.Fatalf("exit code = %d, want %d", code, pserrors.ExitValidationError)
	}

	var results []struct {
		Name   string `json:"name"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal([]byte(out), &results); err != nil {
		t.Fatalf("doctor output is not JSON: %v\n%s", err, out)
	}
	statuses := map[string]string{}
	for _, r := range results {
		statuses[r.Name] = r.Status
	}
	if statuses["Git"] != "error" {
		t.Errorf("a temp dir is not a git work tree, got Git=%q", statuses["Git"])
	}
	if statuses["Phase: implementer"] != "warning" {
		t.Errorf("unknown program should warn, got %q", statuses["Phase: implementer"])
	}
}
