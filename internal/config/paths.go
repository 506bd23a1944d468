package config

import (
	"path/filepath"
	"strings"
)

// Paths is the on-disk layout of supervisor state under a workspace root.
type Paths struct {
	Root          string
	ConfigDir     string
	ConfigFile    string
	StateDir      string
	ControlFile   string
	HeartbeatFile string
	BreakerFile   string
	PIDDir        string
	LockFile      string
	EventsDir     string
	LogDir        string
}

// NewPaths returns the layout rooted at root.
func NewPaths(root string) Paths {
	aiDir := filepath.Join(root, ".ai")
	stateDir := filepath.Join(aiDir, "state")
	configDir := filepath.Join(aiDir, "config")
	return Paths{
		Root:          root,
		ConfigDir:     configDir,
		ConfigFile:    filepath.Join(configDir, ConfigFileName+".yaml"),
		StateDir:      stateDir,
		ControlFile:   filepath.Join(stateDir, "control.json"),
		HeartbeatFile: filepath.Join(stateDir, "heartbeat.json"),
		BreakerFile:   filepath.Join(stateDir, "circuit_breaker.json"),
		PIDDir:        filepath.Join(stateDir, "pids"),
		LockFile:      filepath.Join(stateDir, "supervisor.lock"),
		EventsDir:     filepath.Join(stateDir, "events"),
		LogDir:        filepath.Join(aiDir, "logs"),
	}
}

// Owned returns the supervisor-written directories relative to Root, in
// git pathspec form. Workers never own anything under them.
func (p Paths) Owned() []string {
	var owned []string
	for _, dir := range []string{p.StateDir, p.LogDir} {
		rel, err := filepath.Rel(p.Root, dir)
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		owned = append(owned, filepath.ToSlash(rel))
	}
	return owned
}

// EventsPath returns the trace file for a run.
func (p Paths) EventsPath(runID string) string {
	return filepath.Join(p.EventsDir, runID+".jsonl")
}
