package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultMaxLogSize is the maximum size of a single log file (10MB)
	DefaultMaxLogSize = 10 * 1024 * 1024

	// DefaultMaxLogFiles is the maximum number of log files to keep
	DefaultMaxLogFiles = 10
)

// RotatingLogger is an io.Writer that spreads output over size-capped files
// named <prefix>-<timestamp>.log and keeps only the newest maxFiles of them.
// Other files in the directory (phase logs) are left alone.
type RotatingLogger struct {
	mu       sync.Mutex
	dir      string
	prefix   string
	maxSize  int64
	maxFiles int
	current  *os.File
	written  int64
}

// NewRotatingLogger creates a new RotatingLogger
func NewRotatingLogger(dir, prefix string) (*RotatingLogger, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	if prefix == "" {
		prefix = "supervisor"
	}

	logger := &RotatingLogger{
		dir:      dir,
		prefix:   prefix,
		maxSize:  DefaultMaxLogSize,
		maxFiles: DefaultMaxLogFiles,
	}

	if err := logger.createNewFile(); err != nil {
		return nil, err
	}

	logger.cleanup()

	return logger, nil
}

// Write implements io.Writer
func (l *RotatingLogger) Write(p []byte) (n int, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.current == nil {
		if err := l.createNewFile(); err != nil {
			return 0, err
		}
	}

	n, err = l.current.Write(p)
	l.written += int64(n)
	if err != nil {
		return n, err
	}

	if l.written >= l.maxSize {
		if err := l.rotate(); err != nil {
			return n, err
		}
	}

	return n, nil
}

// Rotate closes the current log file and creates a new one
func (l *RotatingLogger) Rotate() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rotate()
}

func (l *RotatingLogger) rotate() error {
	if l.current != nil {
		if err := l.current.Close(); err != nil {
			return fmt.Errorf("failed to close current log file: %w", err)
		}
		l.current = nil
	}

	l.cleanup()
	return l.createNewFile()
}

// Close closes the logger
func (l *RotatingLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current != nil {
		err := l.current.Close()
		l.current = nil
		return err
	}
	return nil
}

// FilePath returns the current log file path
func (l *RotatingLogger) FilePath() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current != nil {
		return l.current.Name()
	}
	return ""
}

func (l *RotatingLogger) createNewFile() error {
	timestamp := time.Now().Format("20060102-150405.000")
	path := filepath.Join(l.dir, fmt.Sprintf("%s-%s.log", l.prefix, timestamp))

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}

	l.current = file
	l.written = 0
	return nil
}

// cleanup removes the oldest of our own log files beyond maxFiles.
func (l *RotatingLogger) cleanup() {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return
	}

	var logFiles []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".log" || !strings.HasPrefix(name, l.prefix+"-") {
			continue
		}
		logFiles = append(logFiles, filepath.Join(l.dir, name))
	}

	// Timestamped names sort chronologically.
	sort.Strings(logFiles)

	for len(logFiles) > l.maxFiles {
		os.Remove(logFiles[0])
		logFiles = logFiles[1:]
	}
}
