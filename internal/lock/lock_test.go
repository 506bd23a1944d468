package lock

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestManager_AcquireRelease(t *testing.T) {
	lockFile := filepath.Join(t.TempDir(), "state", "supervisor.lock")

	m := NewManager(lockFile, "run-1")
	if err := m.Acquire(); err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}

	data, err := os.ReadFile(lockFile)
	if err != nil {
		t.Fatalf("Failed to read lock file: %v", err)
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		t.Fatalf("Failed to parse lock file: %v", err)
	}
	if info.PID != os.Getpid() {
		t.Errorf("Expected PID %d, got %d", os.Getpid(), info.PID)
	}
	if info.RunID != "run-1" {
		t.Errorf("Expected run ID run-1, got %q", info.RunID)
	}
	if info.Hostname == "" {
		t.Error("Hostname should not be empty")
	}

	if err := m.Release(); err != nil {
		t.Fatalf("Failed to release lock: %v", err)
	}
	if _, err := os.Stat(lockFile); !os.IsNotExist(err) {
		t.Error("Lock file should not exist after release")
	}
}

func TestManager_DoubleAcquire(t *testing.T) {
	lockFile := filepath.Join(t.TempDir(), "supervisor.lock")

	first := NewManager(lockFile, "a")
	if err := first.Acquire(); err != nil {
		t.Fatalf("Failed to acquire first lock: %v", err)
	}
	defer first.Release()

	second := NewManager(lockFile, "b")
	err := second.Acquire()
	if err == nil {
		t.Fatal("Second acquire should fail while the holder is alive")
	}
	if !strings.Contains(err.Error(), "another supervisor is running") {
		t.Errorf("Unexpected error: %v", err)
	}

	// Releasing a lock that was never acquired is a no-op.
	if err := second.Release(); err != nil {
		t.Errorf("Release without acquire: %v", err)
	}
	if _, err := os.Stat(lockFile); err != nil {
		t.Error("Holder's lock file must survive the failed acquire")
	}
}

func TestManager_StaleLock(t *testing.T) {
	lockFile := filepath.Join(t.TempDir(), "supervisor.lock")

	stale := Info{PID: 999999999, StartTime: time.Now().Add(-time.Hour), Hostname: "gone"}
	data, _ := json.Marshal(stale)
	if err := os.WriteFile(lockFile, data, 0644); err != nil {
		t.Fatal(err)
	}

	m := NewManager(lockFile, "fresh")
	if !m.IsStale() {
		t.Error("Lock held by a dead PID should be stale")
	}
	if err := m.Acquire(); err != nil {
		t.Fatalf("Should acquire over stale lock: %v", err)
	}
	defer m.Release()

	info, err := ReadInfo(lockFile)
	if err != nil || info == nil {
		t.Fatalf("ReadInfo: %v", err)
	}
	if info.PID != os.Getpid() || info.RunID != "fresh" {
		t.Errorf("Lock not rewritten: %+v", info)
	}
}

func TestManager_CorruptLock(t *testing.T) {
	lockFile := filepath.Join(t.TempDir(), "supervisor.lock")
	if err := os.WriteFile(lockFile, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	m := NewManager(lockFile, "")
	if m.IsStale() {
		t.Error("An unreadable lock is not known to be stale")
	}
	if err := m.Acquire(); err != nil {
		t.Fatalf("Should acquire over corrupt lock: %v", err)
	}
	m.Release()
}

func TestHolder(t *testing.T) {
	lockFile := filepath.Join(t.TempDir(), "supervisor.lock")

	if Holder(lockFile) != nil {
		t.Error("No lock file means no holder")
	}
	info, err := ReadInfo(lockFile)
	if err != nil || info != nil {
		t.Errorf("ReadInfo on missing file: %+v, %v", info, err)
	}

	m := NewManager(lockFile, "run-h")
	if err := m.Acquire(); err != nil {
		t.Fatal(err)
	}
	defer m.Release()

	h := Holder(lockFile)
	if h == nil || h.PID != os.Getpid() || h.RunID != "run-h" {
		t.Errorf("Unexpected holder %+v", h)
	}
}
