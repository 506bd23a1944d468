package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRotatingLogger_Write(t *testing.T) {
	logger, err := NewRotatingLogger(t.TempDir(), "supervisor")
	if err != nil {
		t.Fatalf("NewRotatingLogger failed: %v", err)
	}
	defer logger.Close()

	testData := "test log message\n"
	n, err := logger.Write([]byte(testData))
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if n != len(testData) {
		t.Errorf("Write returned %d, want %d", n, len(testData))
	}

	path := logger.FilePath()
	if !strings.HasPrefix(filepath.Base(path), "supervisor-") {
		t.Errorf("FilePath() = %s, want supervisor- prefix", path)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if string(content) != testData {
		t.Errorf("content = %q, want %q", content, testData)
	}
}

func TestRotatingLogger_Rotate(t *testing.T) {
	logger, err := NewRotatingLogger(t.TempDir(), "supervisor")
	if err != nil {
		t.Fatalf("NewRotatingLogger failed: %v", err)
	}
	defer logger.Close()

	first := logger.FilePath()
	time.Sleep(5 * time.Millisecond)
	if err := logger.Rotate(); err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}
	if logger.FilePath() == first {
		t.Error("Rotate should open a new file")
	}
}

func TestRotatingLogger_RotatesOnSize(t *testing.T) {
	logger, err := NewRotatingLogger(t.TempDir(), "supervisor")
	if err != nil {
		t.Fatalf("NewRotatingLogger failed: %v", err)
	}
	defer logger.Close()
	logger.maxSize = 16

	first := logger.FilePath()
	time.Sleep(5 * time.Millisecond)
	logger.Write([]byte("0123456789abcdefXYZ\n"))

	if logger.FilePath() == first {
		t.Error("logger should rotate after exceeding maxSize")
	}
}

func TestRotatingLogger_CleanupKeepsForeignFiles(t *testing.T) {
	dir := t.TempDir()

	phaseLog := filepath.Join(dir, "implementer-20240101-000000.000.log")
	if err := os.WriteFile(phaseLog, []byte("worker output"), 0644); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 12; i++ {
		name := filepath.Join(dir, "supervisor-20240101-0000"+string(rune('a'+i))+".log")
		if err := os.WriteFile(name, nil, 0644); err != nil {
			t.Fatal(err)
		}
	}

	logger, err := NewRotatingLogger(dir, "supervisor")
	if err != nil {
		t.Fatalf("NewRotatingLogger failed: %v", err)
	}
	defer logger.Close()

	if _, err := os.Stat(phaseLog); err != nil {
		t.Errorf("phase log should survive cleanup: %v", err)
	}

	matches, _ := filepath.Glob(filepath.Join(dir, "supervisor-*.log"))
	if len(matches) != DefaultMaxLogFiles {
		t.Errorf("kept %d supervisor logs, want %d", len(matches), DefaultMaxLogFiles)
	}
	if _, err := os.Stat(logger.FilePath()); err != nil {
		t.Errorf("current log file must be kept: %v", err)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSetup_WritesConsoleAndFile(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	dir := t.TempDir()
	var console bytes.Buffer
	logger, closeFn, err := Setup(Options{Level: "warn", LogDir: dir, Console: &console})
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	logger.Info("hidden")
	logger.Warn("stuck worker", "phase", "implementer")
	if err := closeFn(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	if strings.Contains(console.String(), "hidden") {
		t.Error("info record should be filtered at warn level")
	}
	if !strings.Contains(console.String(), "phase=implementer") {
		t.Errorf("console missing record, got %q", console.String())
	}

	matches, _ := filepath.Glob(filepath.Join(dir, "supervisor-*.log"))
	if len(matches) != 1 {
		t.Fatalf("expected one supervisor log, got %v", matches)
	}
	data, _ := os.ReadFile(matches[0])
	if !strings.Contains(string(data), "stuck worker") {
		t.Errorf("file sink missing record, got %q", data)
	}
}

func TestSetup_VerboseForcesDebug(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var console bytes.Buffer
	logger, _, err := Setup(Options{Level: "error", Verbose: true, Console: &console})
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	logger.Debug("detail")
	if !strings.Contains(console.String(), "detail") {
		t.Error("verbose should enable debug records")
	}
}

func TestOutputFormatter_NonTTYHasNoColors(t *testing.T) {
	var buf bytes.Buffer
	formatter := NewOutputFormatter(&buf)
	formatter.Success("done")

	if strings.Contains(buf.String(), "\033[") {
		t.Errorf("buffer output should not contain ANSI codes, got %q", buf.String())
	}
}

func TestOutputFormatter_Messages(t *testing.T) {
	tests := []struct {
		name   string
		print  func(o *OutputFormatter)
		symbol string
	}{
		{"success", func(o *OutputFormatter) { o.Success("ok") }, "✓ ok"},
		{"error", func(o *OutputFormatter) { o.Error("bad") }, "✗ bad"},
		{"warning", func(o *OutputFormatter) { o.Warning("hmm") }, "⚠ hmm"},
		{"info", func(o *OutputFormatter) { o.Info("plain") }, "plain"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.print(&OutputFormatter{writer: &buf})
			if !strings.Contains(buf.String(), tt.symbol) {
				t.Errorf("output = %q, want %q", buf.String(), tt.symbol)
			}
		})
	}
}

func TestOutputFormatter_PhaseResult(t *testing.T) {
	zero, one := 0, 1

	tests := []struct {
		name     string
		cause    string
		exitCode *int
		want     string
	}{
		{"clean exit", "NORMAL", &zero, "✓ [implementer] NORMAL exit=0"},
		{"failed exit", "NORMAL", &one, "✗ [implementer] NORMAL exit=1"},
		{"killed by signal", "NORMAL", nil, "exit=signal"},
		{"heartbeat timeout", "HEARTBEAT_TIMEOUT", &one, "⚠ [implementer] HEARTBEAT_TIMEOUT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			o := &OutputFormatter{writer: &buf}
			o.PhaseResult("implementer", tt.cause, tt.exitCode, 3*time.Second)
			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("output = %q, want substring %q", buf.String(), tt.want)
			}
		})
	}
}

func TestOutputFormatter_HaltReport(t *testing.T) {
	var buf bytes.Buffer
	o := &OutputFormatter{writer: &buf}
	o.HaltReport(5, 12)

	out := buf.String()
	if !strings.Contains(out, "OPEN") {
		t.Errorf("halt report should name the breaker state, got %q", out)
	}
	if !strings.Contains(out, "without progress: 5") || !strings.Contains(out, "iteration: 12") {
		t.Errorf("halt report missing counts, got %q", out)
	}

	buf.Reset()
	o.HaltReport(5, 0)
	if !strings.Contains(buf.String(), "none this run") {
		t.Errorf("halt report without progress, got %q", buf.String())
	}
}

func TestOutputFormatter_BoldAndCyan(t *testing.T) {
	plain := &OutputFormatter{writer: &bytes.Buffer{}}
	if plain.Bold("x") != "x" || plain.Cyan("x") != "x" {
		t.Error("no-color formatter should not decorate")
	}
	colored := &OutputFormatter{writer: &bytes.Buffer{}, useColors: true}
	if colored.Bold("x") != colorBold+"x"+colorReset {
		t.Error("Bold should wrap with ANSI bold")
	}
	if colored.Cyan("x") != colorCyan+"x"+colorReset {
		t.Error("Cyan should wrap with ANSI cyan")
	}
}
