// Package logging writes structured JSONL events for convoy sessions.
// Each session gets its own log file; errors and escalated conflicts are
// additionally mirrored into shared files for quick triage.
package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Level represents log severity
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Category represents the subsystem generating the log
type Category string

const (
	CategoryCoordinator Category = "coordinator"
	CategoryWorker      Category = "worker"
	CategoryResource    Category = "resource"
	CategoryConflict    Category = "conflict"
	CategoryContext     Category = "context"
	CategoryStorage     Category = "storage"
	CategoryNotify      Category = "notify"
)

// Entry represents a structured log event
type Entry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     Level          `json:"level"`
	Category  Category       `json:"category"`
	EventType string         `json:"type"`
	SessionID string         `json:"session_id,omitempty"`
	Worker    string         `json:"worker,omitempty"`
	TaskID    string         `json:"task_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Message   string         `json:"message,omitempty"`
}

// Logger writes structured entries to multiple destinations
type Logger struct {
	sessionID    string
	baseDir      string
	sessionFile  *os.File
	errorFile    *os.File
	conflictFile *os.File
	mu           sync.Mutex
	minLevel     Level
}

// NewLogger creates a new structured logger rooted at baseDir
func NewLogger(baseDir, sessionID string) (*Logger, error) {
	sessionsDir := filepath.Join(baseDir, "sessions")
	if err := os.MkdirAll(sessionsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}

	sessionFile, err := os.OpenFile(
		filepath.Join(sessionsDir, sessionID+".jsonl"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND,
		0644,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open session log: %w", err)
	}

	errorFile, err := os.OpenFile(
		filepath.Join(baseDir, "errors.jsonl"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND,
		0644,
	)
	if err != nil {
		sessionFile.Close()
		return nil, fmt.Errorf("failed to open error log: %w", err)
	}

	conflictFile, err := os.OpenFile(
		filepath.Join(baseDir, "conflicts.jsonl"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND,
		0644,
	)
	if err != nil {
		sessionFile.Close()
		errorFile.Close()
		return nil, fmt.Errorf("failed to open conflict log: %w", err)
	}

	return &Logger{
		sessionID:    sessionID,
		baseDir:      baseDir,
		sessionFile:  sessionFile,
		errorFile:    errorFile,
		conflictFile: conflictFile,
		minLevel:     LevelInfo,
	}, nil
}

// SetMinLevel sets the minimum log level
func (l *Logger) SetMinLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.minLevel = level
}

// Log writes an entry to appropriate destinations
func (l *Logger) Log(entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if entry.SessionID == "" {
		entry.SessionID = l.sessionID
	}

	if !l.shouldLog(entry.Level) {
		return nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}
	data = append(data, '\n')

	if l.sessionFile != nil {
		if _, err := l.sessionFile.Write(data); err != nil {
			return fmt.Errorf("failed to write to session log: %w", err)
		}
	}

	// Errors are mirrored for cross-session triage
	if entry.Level == LevelError && l.errorFile != nil {
		if _, err := l.errorFile.Write(data); err != nil {
			return fmt.Errorf("failed to write to error log: %w", err)
		}
	}

	// Escalated conflicts get their own file so operators can audit arbitration
	if entry.Category == CategoryConflict && l.conflictFile != nil {
		if _, err := l.conflictFile.Write(data); err != nil {
			return fmt.Errorf("failed to write to conflict log: %w", err)
		}
	}

	return nil
}

// shouldLog checks if entry should be logged based on level
func (l *Logger) shouldLog(level Level) bool {
	levels := map[Level]int{
		LevelDebug: 0,
		LevelInfo:  1,
		LevelWarn:  2,
		LevelError: 3,
	}
	return levels[level] >= levels[l.minLevel]
}

// Debug logs a debug entry
func (l *Logger) Debug(category Category, eventType string, message string, details map[string]any) error {
	return l.Log(Entry{
		Level:     LevelDebug,
		Category:  category,
		EventType: eventType,
		Message:   message,
		Details:   details,
	})
}

// Info logs an info entry
func (l *Logger) Info(category Category, eventType string, message string, details map[string]any) error {
	return l.Log(Entry{
		Level:     LevelInfo,
		Category:  category,
		EventType: eventType,
		Message:   message,
		Details:   details,
	})
}

// Warn logs a warning entry
func (l *Logger) Warn(category Category, eventType string, message string, details map[string]any) error {
	return l.Log(Entry{
		Level:     LevelWarn,
		Category:  category,
		EventType: eventType,
		Message:   message,
		Details:   details,
	})
}

// Error logs an error entry
func (l *Logger) Error(category Category, eventType string, message string, details map[string]any) error {
	return l.Log(Entry{
		Level:     LevelError,
		Category:  category,
		EventType: eventType,
		Message:   message,
		Details:   details,
	})
}

// Close closes all log files
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var errs []error
	for _, f := range []*os.File{l.sessionFile, l.errorFile, l.conflictFile} {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing log files: %v", errs)
	}
	return nil
}
