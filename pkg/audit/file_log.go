package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/platinummonkey/confgate/pkg/observability"
)

const (
	// pruneInterval is how many appends happen between retention sweeps.
	pruneInterval = 100

	dayFormat     = "2006-01-02"
	archiveFormat = "20060102-150405"
)

// FileLogConfig configures the file-backed audit sink
type FileLogConfig struct {
	Dir           string // directory for audit log files
	MaxSize       int64  // max file size in bytes before rotation (default 10MB)
	RetentionDays int    // files older than this are pruned (default 90)
}

// DefaultFileLogConfig returns default configuration
func DefaultFileLogConfig(dir string) FileLogConfig {
	return FileLogConfig{
		Dir:           dir,
		MaxSize:       10 * 1024 * 1024,
		RetentionDays: 90,
	}
}

// FileLog is an append-only, day-partitioned JSONL audit sink. The current
// day's file is audit-YYYY-MM-DD.jsonl; when it exceeds MaxSize it is renamed
// to audit-YYYY-MM-DD.<timestamp>.jsonl and a fresh file takes its place.
// Files are never modified in place except by that atomic rename. Every
// pruneInterval appends, files older than the retention window are deleted.
//
// A single mutex serializes the append path (rotate check, open, write,
// prune) so concurrent writers never interleave partial JSON lines. One
// process should own one log directory.
type FileLog struct {
	mu            sync.Mutex
	dir           string
	maxSize       int64
	retentionDays int

	file       *os.File
	currentDay string
	count      int

	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewFileLog creates the audit log directory if needed and returns a sink.
func NewFileLog(config FileLogConfig, logger *observability.Logger, metrics *observability.Metrics) (*FileLog, error) {
	if err := os.MkdirAll(config.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}
	if config.MaxSize == 0 {
		config.MaxSize = 10 * 1024 * 1024
	}
	if config.RetentionDays == 0 {
		config.RetentionDays = 90
	}
	return &FileLog{
		dir:           config.Dir,
		maxSize:       config.MaxSize,
		retentionDays: config.RetentionDays,
		logger:        logger.WithComponent("audit_file"),
		metrics:       metrics,
	}, nil
}

func (l *FileLog) currentPath(day string) string {
	return filepath.Join(l.dir, "audit-"+day+".jsonl")
}

// Log appends one JSON line to the current day's file.
func (l *FileLog) Log(ctx context.Context, event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now().UTC()
	if err := l.ensureFileLocked(now); err != nil {
		return err
	}

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode audit event: %w", err)
	}
	line = append(line, '\n')

	// An append must never truncate existing content; O_APPEND plus a
	// single write guarantees that.
	if _, err := l.file.Write(line); err != nil {
		return fmt.Errorf("failed to write audit event: %w", err)
	}

	l.count++
	if l.count%pruneInterval == 0 {
		l.pruneLocked(now)
	}
	return nil
}

// ensureFileLocked opens the current day's file, rolling over on day change
// and rotating when the size limit is hit.
func (l *FileLog) ensureFileLocked(now time.Time) error {
	day := now.Format(dayFormat)

	if l.file != nil && day != l.currentDay {
		l.file.Close()
		l.file = nil
	}

	path := l.currentPath(day)

	if info, err := os.Stat(path); err == nil && info.Size() >= l.maxSize {
		if err := l.rotateLocked(path, now); err != nil {
			return err
		}
	}

	if l.file == nil || day != l.currentDay {
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open audit log file: %w", err)
		}
		l.file = file
		l.currentDay = day
	}
	return nil
}

// rotateLocked renames the oversized file to an archive name and clears the
// handle so the next append starts a fresh file of the original name.
func (l *FileLog) rotateLocked(path string, now time.Time) error {
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
	archived := path[:len(path)-len(".jsonl")] + "." + now.Format(archiveFormat) + ".jsonl"
	if err := os.Rename(path, archived); err != nil {
		return fmt.Errorf("failed to rotate audit log: %w", err)
	}
	if l.metrics != nil {
		l.metrics.AuditLogRotationsTotal.Inc()
	}
	return nil
}

// pruneLocked removes any log file whose modification time is past the
// retention window. Failures are reported to the side channel only.
func (l *FileLog) pruneLocked(now time.Time) {
	cutoff := now.AddDate(0, 0, -l.retentionDays)

	files, err := filepath.Glob(filepath.Join(l.dir, "audit-*.jsonl"))
	if err != nil {
		l.logger.WithError(err).Error("Failed to list audit logs for pruning")
		return
	}
	for _, file := range files {
		info, err := os.Stat(file)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(file); err != nil {
				l.logger.WithError(err).Errorf("Failed to prune audit log %s", file)
				continue
			}
			if l.metrics != nil {
				l.metrics.AuditFilesPrunedTotal.Inc()
			}
		}
	}
}

// Close closes the current log file.
func (l *FileLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

// Query scans the day-partitioned files within [start, end], applies the
// filter, and stops once limit events are collected. Archives rotated out of
// a day sort before the live file, preserving logged order. Malformed lines
// are skipped silently.
func (l *FileLog) Query(start, end time.Time, filter Filter, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 1000
	}

	var events []*Event
	for day := start.UTC().Truncate(24 * time.Hour); !day.After(end.UTC()); day = day.AddDate(0, 0, 1) {
		pattern := filepath.Join(l.dir, "audit-"+day.Format(dayFormat)+"*.jsonl")
		files, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("failed to list audit logs: %w", err)
		}
		for _, file := range files {
			done, err := l.scanFile(file, filter, limit, &events)
			if err != nil {
				return nil, err
			}
			if done {
				return events, nil
			}
		}
	}
	return events, nil
}

func (l *FileLog) scanFile(path string, filter Filter, limit int, events *[]*Event) (bool, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to open audit log %s: %w", path, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var event Event
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			continue // skip malformed lines
		}
		if !filter.matches(&event) {
			continue
		}
		*events = append(*events, &event)
		if len(*events) >= limit {
			return true, nil
		}
	}
	return false, scanner.Err()
}

// Summarize aggregates all events in the range.
func (l *FileLog) Summarize(start, end time.Time) (*Summary, error) {
	events, err := l.Query(start, end, Filter{}, 100000)
	if err != nil {
		return nil, err
	}
	return Summarize(events), nil
}
