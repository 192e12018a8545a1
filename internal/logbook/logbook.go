// Package logbook is the job journal: one line per lifecycle event, appended
// to .codeforge/logs/jobs.log and mirrored in memory for quick tails.
package logbook

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Level represents the severity of a log entry.
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// DefaultRetain is how many recent entries are kept in memory.
const DefaultRetain = 1000

// Logbook appends journal entries to a file it keeps open.
type Logbook struct {
	path   string
	retain int
	clock  func() time.Time

	mu     sync.Mutex
	file   *os.File
	recent []string
	total  int
}

// Option customizes a Logbook.
type Option func(*Logbook)

// WithClock allows tests to control entry timestamps.
func WithClock(clock func() time.Time) Option {
	return func(l *Logbook) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// WithRetain bounds the in-memory tail. Values below 1 are ignored.
func WithRetain(n int) Option {
	return func(l *Logbook) {
		if n > 0 {
			l.retain = n
		}
	}
}

// New opens (or creates) the journal at path. Entries already in the file
// count towards the total and seed the in-memory tail.
func New(path string, opts ...Option) (*Logbook, error) {
	l := &Logbook{
		path:   path,
		retain: DefaultRetain,
		clock:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if err := l.replay(); err != nil {
		return nil, fmt.Errorf("logbook: read %s: %w", path, err)
	}
	return l, nil
}

func (l *Logbook) replay() error {
	file, err := os.Open(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer file.Close()
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		l.remember(scanner.Text())
	}
	return scanner.Err()
}

// Path returns the file backing this logbook.
func (l *Logbook) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Append records one entry. Newlines in message are folded so every entry
// stays on a single line.
func (l *Logbook) Append(level Level, message string) {
	if l == nil {
		return
	}
	message = strings.Join(strings.Fields(message), " ")
	line := fmt.Sprintf("%s %-5s %s", l.clock().Format(time.RFC3339), level, message)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return
		}
		l.file = file
	}
	if _, err := l.file.WriteString(line + "\n"); err != nil {
		return
	}
	l.remember(line)
}

func (l *Logbook) remember(line string) {
	l.total++
	l.recent = append(l.recent, line)
	if over := len(l.recent) - l.retain; over > 0 {
		l.recent = append(l.recent[:0:0], l.recent[over:]...)
	}
}

// Tail returns up to maxLines of the most recent entries together with the
// total number of entries recorded so far.
func (l *Logbook) Tail(maxLines int) ([]string, int) {
	if l == nil {
		return nil, 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if maxLines <= 0 || len(l.recent) == 0 {
		return nil, l.total
	}
	start := max(0, len(l.recent)-maxLines)
	out := make([]string, len(l.recent)-start)
	copy(out, l.recent[start:])
	return out, l.total
}

// Close releases the file handle. Later appends reopen it.
func (l *Logbook) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

func (l *Logbook) Info(format string, args ...any) {
	l.Append(LevelInfo, fmt.Sprintf(format, args...))
}

func (l *Logbook) Warn(format string, args ...any) {
	l.Append(LevelWarn, fmt.Sprintf(format, args...))
}

func (l *Logbook) Error(format string, args ...any) {
	l.Append(LevelError, fmt.Sprintf(format, args...))
}
