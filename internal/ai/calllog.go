package ai

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kiranshivaraju/inboxpilot/internal/metrics"
	"github.com/kiranshivaraju/inboxpilot/pkg/models"
)

// CallLogSink persists call log entries. store.Store satisfies it.
type CallLogSink interface {
	InsertCallLog(ctx context.Context, entry models.CallLogEntry) error
}

// Recorder accepts call log entries without blocking the caller.
type Recorder interface {
	Record(entry models.CallLogEntry)
}

// CallLog writes entries to a sink from a single background goroutine. Record
// never blocks: when the buffer is full the entry is dropped and counted.
type CallLog struct {
	sink    CallLogSink
	entries chan models.CallLogEntry
	done    chan struct{}
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
}

func NewCallLog(sink CallLogSink, buffer int) *CallLog {
	if buffer <= 0 {
		buffer = 1
	}
	l := &CallLog{
		sink:    sink,
		entries: make(chan models.CallLogEntry, buffer),
		done:    make(chan struct{}),
		timeout: 5 * time.Second,
	}
	go l.run()
	return l
}

func (l *CallLog) Record(entry models.CallLogEntry) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		metrics.CallLogDropped()
		return
	}

	select {
	case l.entries <- entry:
	default:
		metrics.CallLogDropped()
		slog.Warn("call log buffer full, dropping entry", "action", entry.Action)
	}
}

// Close stops accepting entries and waits until buffered ones are written.
func (l *CallLog) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	close(l.entries)
	l.mu.Unlock()

	<-l.done
}

func (l *CallLog) run() {
	defer close(l.done)
	for entry := range l.entries {
		ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
		if err := l.sink.InsertCallLog(ctx, entry); err != nil {
			slog.Error("writing call log", "error", err, "action", entry.Action)
		}
		cancel()
	}
}

var _ Recorder = (*CallLog)(nil)
