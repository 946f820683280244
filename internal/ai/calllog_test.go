package ai

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/kiranshivaraju/inboxpilot/pkg/models"
	"github.com/stretchr/testify/assert"
)

type memorySink struct {
	mu      sync.Mutex
	entries []models.CallLogEntry
	block   chan struct{}
	err     error
}

func (s *memorySink) InsertCallLog(_ context.Context, e models.CallLogEntry) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return s.err
}

func (s *memorySink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func TestCallLog_WritesOnClose(t *testing.T) {
	sink := &memorySink{}
	l := NewCallLog(sink, 8)

	l.Record(models.CallLogEntry{Action: "triage"})
	l.Record(models.CallLogEntry{Action: "chat"})
	l.Close()

	assert.Equal(t, 2, sink.count())
	assert.False(t, sink.entries[0].CreatedAt.IsZero())
}

func TestCallLog_RecordNeverBlocksWhenFull(t *testing.T) {
	sink := &memorySink{block: make(chan struct{})}
	l := NewCallLog(sink, 1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			l.Record(models.CallLogEntry{Action: "suggest_reply"})
		}
		close(done)
	}()
	<-done

	close(sink.block)
	l.Close()
	assert.LessOrEqual(t, sink.count(), 2)
	assert.GreaterOrEqual(t, sink.count(), 1)
}

func TestCallLog_SinkErrorsAreSwallowed(t *testing.T) {
	sink := &memorySink{err: errors.New("disk full")}
	l := NewCallLog(sink, 4)

	l.Record(models.CallLogEntry{Action: "chat"})
	l.Close()
	assert.Equal(t, 1, sink.count())
}

func TestCallLog_RecordAfterCloseIsDropped(t *testing.T) {
	sink := &memorySink{}
	l := NewCallLog(sink, 4)
	l.Close()
	l.Close()

	assert.NotPanics(t, func() { l.Record(models.CallLogEntry{Action: "chat"}) })
	assert.Equal(t, 0, sink.count())
}
