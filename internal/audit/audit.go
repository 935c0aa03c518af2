// Package audit implements the append-only audit sink: a bounded, non-blocking
// queue draining into daily JSON-lines files with compression and retention.
package audit

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/biosentry/biosentry/internal/model"
)

// Options configures a [Sink].
type Options struct {
	// Dir is the directory holding YYYY-MM-DD.log[.gz] files.
	Dir string

	// RetentionDays is how long uncompressed/compressed files are kept
	// before deletion. Files older than this are removed by [Sink.Rotate].
	RetentionDays int

	// QueueCapacity bounds the in-memory channel between [Sink.Log] callers
	// and the writer goroutine. Default 1024.
	QueueCapacity int

	// RedactUserName, if true, replaces UserName with a fixed placeholder
	// before the event is written.
	RedactUserName bool
}

// Sink accepts [model.AuditEvent]s and durably appends them as one JSON
// object per line to a daily file. Log never blocks the caller: on queue
// saturation, events are dropped and a single summary warning is logged per
// minute.
type Sink struct {
	dir            string
	retentionDays  int
	redactUserName bool

	events chan model.AuditEvent
	done   chan struct{}

	dropMu    sync.Mutex
	dropCount int
	lastWarn  time.Time
}

// New creates a [Sink] and starts its writer goroutine. Call [Sink.Close] to
// flush and stop it.
func New(opts Options) (*Sink, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("audit: Dir is required")
	}
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = 1024
	}
	if opts.RetentionDays <= 0 {
		opts.RetentionDays = 30
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("audit: create dir: %w", err)
	}

	s := &Sink{
		dir:            opts.Dir,
		retentionDays:  opts.RetentionDays,
		redactUserName: opts.RedactUserName,
		events:         make(chan model.AuditEvent, opts.QueueCapacity),
		done:           make(chan struct{}),
	}
	go s.run()
	return s, nil
}

// Log enqueues an event for durable append. It never blocks: on a full
// queue the event is dropped and accounted toward the next per-minute
// summary warning.
func (s *Sink) Log(evt model.AuditEvent) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	if s.redactUserName {
		evt.UserName = "[redacted]"
	}
	select {
	case s.events <- evt:
	default:
		s.recordDrop()
	}
}

func (s *Sink) recordDrop() {
	s.dropMu.Lock()
	defer s.dropMu.Unlock()
	s.dropCount++
	if time.Since(s.lastWarn) >= time.Minute {
		slog.Warn("audit sink queue saturated; events dropped", "dropped", s.dropCount)
		s.dropCount = 0
		s.lastWarn = time.Now()
	}
}

// Close stops the writer goroutine after draining any queued events.
func (s *Sink) Close() error {
	close(s.events)
	<-s.done
	return nil
}

func (s *Sink) run() {
	defer close(s.done)

	var (
		f   *os.File
		day string
	)
	defer func() {
		if f != nil {
			f.Close()
		}
	}()

	for evt := range s.events {
		currentDay := evt.Timestamp.Format("2006-01-02")
		if f == nil || currentDay != day {
			if f != nil {
				f.Close()
			}
			var err error
			f, err = os.OpenFile(filepath.Join(s.dir, currentDay+".log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				slog.Error("audit sink: open daily file failed", "error", err)
				continue
			}
			day = currentDay
		}

		line, err := json.Marshal(evt)
		if err != nil {
			slog.Error("audit sink: marshal event failed", "error", err)
			continue
		}
		if _, err := f.Write(append(line, '\n')); err != nil {
			slog.Error("audit sink: write event failed", "error", err)
		}
	}
}

// Rotate compresses log files older than one day and deletes files (plain
// or compressed) older than RetentionDays. It is safe to call periodically
// from a background ticker; it does not touch today's active file.
func (s *Sink) Rotate() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("audit: list dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	today := time.Now().UTC().Format("2006-01-02")
	cutoff := time.Now().UTC().AddDate(0, 0, -s.retentionDays)

	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".log") && !strings.HasSuffix(name, ".log.gz") {
			continue
		}
		dateStr := strings.TrimSuffix(strings.TrimSuffix(name, ".gz"), ".log")
		fileDate, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			continue
		}
		if dateStr == today {
			continue
		}

		if fileDate.Before(cutoff) {
			if err := os.Remove(filepath.Join(s.dir, name)); err != nil {
				slog.Error("audit sink: remove expired file failed", "file", name, "error", err)
			}
			continue
		}

		if strings.HasSuffix(name, ".log") {
			if err := compressFile(filepath.Join(s.dir, name)); err != nil {
				slog.Error("audit sink: compress file failed", "file", name, "error", err)
			}
		}
	}
	return nil
}

func compressFile(path string) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(path + ".gz")
	if err != nil {
		return err
	}
	gz := gzip.NewWriter(out)
	if _, err := io.Copy(gz, in); err != nil {
		gz.Close()
		out.Close()
		return err
	}
	if err := gz.Close(); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(path)
}
