package doctor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/silver2dream/pipesup/internal/config"
	"github.com/silver2dream/pipesup/internal/lock"
)

type fakeEnv struct {
	missing map[string]bool
	failing map[string]bool
	calls   []string
}

func (f *fakeEnv) lookPath(file string) (string, error) {
	if f.missing[file] {
		return "", errors.New("not found")
	}
	return "/usr/bin/" + file, nil
}

func (f *fakeEnv) run(_ context.Context, _ string, name string, args ...string) error {
	call := name + " " + strings.Join(args, " ")
	f.calls = append(f.calls, call)
	if f.failing[call] {
		return errors.New("exit status 1")
	}
	return nil
}

func newTestDoctor(t *testing.T, env *fakeEnv) *Doctor {
	t.Helper()
	cfg := config.Default()
	cfg.Phases.Implementer.Command = "claude --print"
	cfg.Phases.Verifier.Command = "claude --print"
	cfg.Phases.Strategist.Command = "claude --print"
	d := New(config.NewPaths(t.TempDir()), cfg)
	d.lookPath = env.lookPath
	d.run = env.run
	return d
}

func find(results []CheckResult, name string) *CheckResult {
	for i := range results {
		if results[i].Name == name {
			return &results[i]
		}
	}
	return nil
}

func TestRunAll_Healthy(t *testing.T) {
	d := newTestDoctor(t, &fakeEnv{})

	results := d.RunAll(context.Background())
	if HasErrors(results) {
		t.Fatalf("expected no errors, got %+v", results)
	}
	for _, r := range results {
		if r.Status != StatusOK {
			t.Errorf("%s: status = %s (%s), want ok", r.Name, r.Status, r.Message)
		}
	}
	if find(results, "Git Remote") == nil {
		t.Error("remote should be checked when sync.push is enabled")
	}
}

func TestCheckGit(t *testing.T) {
	tests := []struct {
		name    string
		env     *fakeEnv
		push    bool
		want    string
		wantLen int
	}{
		{"no git", &fakeEnv{missing: map[string]bool{"git": true}}, true, StatusError, 1},
		{"not a repo", &fakeEnv{failing: map[string]bool{"git rev-parse --is-inside-work-tree": true}}, true, StatusError, 1},
		{"missing remote", &fakeEnv{failing: map[string]bool{"git remote get-url origin": true}}, true, StatusError, 2},
		{"push disabled", &fakeEnv{failing: map[string]bool{"git remote get-url origin": true}}, false, StatusOK, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDoctor(t, tt.env)
			d.Config.Sync.Push = tt.push

			results := d.CheckGit(context.Background())
			if len(results) != tt.wantLen {
				t.Fatalf("expected %d results, got %+v", tt.wantLen, results)
			}
			if got := results[len(results)-1].Status; got != tt.want {
				t.Errorf("status = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCheckQueue(t *testing.T) {
	d := newTestDoctor(t, &fakeEnv{missing: map[string]bool{"gh": true}})
	if r := d.CheckQueue(context.Background()); r[0].Status != StatusError {
		t.Errorf("missing gh should be an error, got %+v", r)
	}

	d = newTestDoctor(t, &fakeEnv{failing: map[string]bool{"gh auth status": true}})
	if r := d.CheckQueue(context.Background()); r[0].Status != StatusWarning || r[0].Fix != "gh auth login" {
		t.Errorf("unauthenticated gh should warn, got %+v", r)
	}

	env := &fakeEnv{missing: map[string]bool{"gh": true}}
	d = newTestDoctor(t, env)
	d.Config.Queue.Kind = "static"
	if r := d.CheckQueue(context.Background()); r[0].Status != StatusOK {
		t.Errorf("static queue needs no gh, got %+v", r)
	}
	if len(env.calls) != 0 {
		t.Errorf("static queue should not run commands, ran %v", env.calls)
	}
}

func TestCheckPhaseCommands(t *testing.T) {
	d := newTestDoctor(t, &fakeEnv{missing: map[string]bool{"codex": true}})
	d.Config.Phases.Verifier.Command = "codex exec"
	d.Config.Phases.Strategist.Command = "  "

	results := d.CheckPhaseCommands()
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	want := map[string]string{
		"Phase: implementer": StatusOK,
		"Phase: verifier":    StatusWarning,
		"Phase: strategist":  StatusError,
	}
	for name, status := range want {
		r := find(results, name)
		if r == nil || r.Status != status {
			t.Errorf("%s = %+v, want %s", name, r, status)
		}
	}
}

func TestCheckReclaimTools(t *testing.T) {
	d := newTestDoctor(t, &fakeEnv{missing: map[string]bool{"lsof": true}})
	if r := d.CheckReclaimTools(); len(r) != 0 {
		t.Errorf("nothing configured, got %+v", r)
	}

	d.Config.Reclaim.ProcessPatterns = []string{"vite"}
	d.Config.Reclaim.Ports = []int{5173}
	results := d.CheckReclaimTools()
	if len(results) != 2 || results[0].Status != StatusOK || results[1].Status != StatusWarning {
		t.Errorf("unexpected results %+v", results)
	}
}

func TestCheckLock(t *testing.T) {
	d := newTestDoctor(t, &fakeEnv{})

	if r := d.CheckLock(); r.Status != StatusOK || r.Message != "No lock file" {
		t.Errorf("unexpected %+v", r)
	}

	m := lock.NewManager(d.Paths.LockFile, "run-1")
	if err := m.Acquire(); err != nil {
		t.Fatal(err)
	}
	if r := d.CheckLock(); r.Status != StatusOK || !strings.Contains(r.Message, "run-1") {
		t.Errorf("live lock should be ok, got %+v", r)
	}
	m.Release()

	os.WriteFile(d.Paths.LockFile, []byte("{broken"), 0o644)
	if r := d.CheckLock(); r.Status != StatusWarning {
		t.Errorf("corrupt lock should warn, got %+v", r)
	}
}

func TestCheckWorker(t *testing.T) {
	d := newTestDoctor(t, &fakeEnv{})
	if r := d.CheckWorker(); len(r) != 0 {
		t.Errorf("no PID file should report nothing, got %+v", r)
	}

	writePID := func(pid int) {
		t.Helper()
		if err := os.MkdirAll(d.Paths.PIDDir, 0o755); err != nil {
			t.Fatal(err)
		}
		data := fmt.Sprintf(`{"pid":%d,"phase":"verifier","iteration":4}`, pid)
		if err := os.WriteFile(filepath.Join(d.Paths.PIDDir, "current.json"), []byte(data), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	// This process stands in for a live worker with no supervisor holding the lock.
	writePID(os.Getpid())
	if r := d.CheckWorker(); len(r) != 1 || r[0].Status != StatusError || r[0].Fix != "pipesup sweep" {
		t.Errorf("orphaned worker should be an error, got %+v", r)
	}

	m := lock.NewManager(d.Paths.LockFile, "run-2")
	if err := m.Acquire(); err != nil {
		t.Fatal(err)
	}
	defer m.Release()
	if r := d.CheckWorker(); len(r) != 1 || r[0].Status != StatusOK {
		t.Errorf("supervised worker should be ok, got %+v", r)
	}
}

func TestCheckBreaker(t *testing.T) {
	d := newTestDoctor(t, &fakeEnv{})
	if r := d.CheckBreaker(); len(r) != 0 {
		t.Errorf("no breaker file should report nothing, got %+v", r)
	}

	os.MkdirAll(d.Paths.StateDir, 0o755)
	os.WriteFile(d.Paths.BreakerFile, []byte(`{"state":"OPEN","no_progress_count":5,"last_progress_iteration":7}`), 0o644)
	r := d.CheckBreaker()
	if len(r) != 1 || r[0].Status != StatusWarning || !strings.Contains(r[0].Message, "last progress at 7") {
		t.Errorf("open breaker should warn, got %+v", r)
	}
}

func TestCheckControl(t *testing.T) {
	d := newTestDoctor(t, &fakeEnv{})
	os.MkdirAll(d.Paths.StateDir, 0o755)
	os.WriteFile(d.Paths.ControlFile, []byte("not json"), 0o644)

	if r := d.CheckControl(); len(r) != 1 || r[0].Status != StatusWarning {
		t.Errorf("corrupt control flag should warn, got %+v", r)
	}
}
