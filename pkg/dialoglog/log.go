// Package dialoglog implements the append-only per-turn JSONL dialog log:
// one file per provider, rotated at 10 MiB with up to 5 numbered backups.
package dialoglog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	maxBytes   = 10 * 1024 * 1024
	maxBackups = 5
)

// Entry is one line of the dialog log.
type Entry struct {
	Timestamp string      `json:"timestamp"`
	Provider  string      `json:"provider"`
	Type      string      `json:"type"` // request | response | error
	SessionID string      `json:"session_id,omitempty"`
	HeinzelID string      `json:"heinzel_id,omitempty"`
	TaskID    string      `json:"task_id,omitempty"`
	Data      interface{} `json:"data"`
}

// Logger writes dialog entries to {logDir}/{provider}.jsonl with rotation.
// Enabled is mutable at runtime via the !dlglog command and the
// /logging/enable|disable ops endpoints.
type Logger struct {
	mu       sync.Mutex
	provider string
	logDir   string
	enabled  bool
	file     *os.File
	size     int64
}

// New creates a dialog logger for one provider. The log file is opened
// lazily on the first write so a disabled logger never touches the
// filesystem.
func New(provider, logDir string, enabled bool) *Logger {
	return &Logger{provider: provider, logDir: logDir, enabled: enabled}
}

// Enabled reports whether dialog logging is currently active.
func (l *Logger) Enabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled
}

// SetEnabled toggles dialog logging at runtime.
func (l *Logger) SetEnabled(v bool) {
	l.mu.Lock()
	l.enabled = v
	l.mu.Unlock()
}

func (l *Logger) path() string {
	return filepath.Join(l.logDir, l.provider+".jsonl")
}

// LogRequest appends a request entry.
func (l *Logger) LogRequest(endpoint string, payload interface{}, sessionID, heinzelID, taskID string) error {
	return l.logEntry("request", map[string]interface{}{"endpoint": endpoint, "payload": payload}, sessionID, heinzelID, taskID)
}

// LogResponse appends a response entry.
func (l *Logger) LogResponse(endpoint string, status int, content interface{}, sessionID, heinzelID, taskID string) error {
	return l.logEntry("response", map[string]interface{}{"endpoint": endpoint, "status": status, "content": content}, sessionID, heinzelID, taskID)
}

// LogError appends an error entry.
func (l *Logger) LogError(endpoint string, errMsg string, sessionID, heinzelID, taskID string) error {
	return l.logEntry("error", map[string]interface{}{"endpoint": endpoint, "error": errMsg}, sessionID, heinzelID, taskID)
}

func (l *Logger) logEntry(entryType string, data interface{}, sessionID, heinzelID, taskID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.enabled {
		return nil
	}

	entry := Entry{
		Timestamp: time.Now().UTC().Format("2006-01-02T15:04:05.999999999Z"),
		Provider:  l.provider,
		Type:      entryType,
		SessionID: sessionID,
		HeinzelID: heinzelID,
		TaskID:    taskID,
		Data:      data,
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("dialoglog: marshal entry: %w", err)
	}
	line = append(line, '\n')

	if err := l.ensureOpen(); err != nil {
		return err
	}
	if l.size+int64(len(line)) > maxBytes {
		if err := l.rotate(); err != nil {
			return err
		}
	}
	n, err := l.file.Write(line)
	if err != nil {
		return err
	}
	l.size += int64(n)
	return nil
}

func (l *Logger) ensureOpen() error {
	if l.file != nil {
		return nil
	}
	if err := os.MkdirAll(l.logDir, 0o755); err != nil {
		return fmt.Errorf("dialoglog: mkdir %s: %w", l.logDir, err)
	}
	f, err := os.OpenFile(l.path(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("dialoglog: open %s: %w", l.path(), err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	l.file = f
	l.size = info.Size()
	return nil
}

// rotate shifts provider.jsonl.4 -> .5 ... provider.jsonl -> .1, then opens a
// fresh empty file, matching RotatingFileHandler(maxBytes, backupCount=5).
func (l *Logger) rotate() error {
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
	base := l.path()
	for i := maxBackups - 1; i >= 1; i-- {
		src := fmt.Sprintf("%s.%d", base, i)
		dst := fmt.Sprintf("%s.%d", base, i+1)
		if _, err := os.Stat(src); err == nil {
			_ = os.Rename(src, dst)
		}
	}
	if _, err := os.Stat(base); err == nil {
		if err := os.Rename(base, base+".1"); err != nil {
			return fmt.Errorf("dialoglog: rotate %s: %w", base, err)
		}
	}
	return l.ensureOpen()
}

// Close flushes and closes the underlying file handle, if any.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}
