package events

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultJournalSize = 500

// Journal is the operator log: every entry goes to zap, onto the bus and into
// a bounded in-memory ring that late websocket clients can replay.
type Journal struct {
	bus *Bus
	log *zap.Logger

	mu      sync.Mutex
	entries []LogEntry
	next    int
	full    bool
	now     func() time.Time
}

// NewJournal creates a journal keeping the last size entries. size <= 0 uses 500.
func NewJournal(bus *Bus, log *zap.Logger, size int) *Journal {
	if size <= 0 {
		size = defaultJournalSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Journal{
		bus:     bus,
		log:     log,
		entries: make([]LogEntry, size),
		now:     time.Now,
	}
}

// Add records a formatted message from source.
func (j *Journal) Add(source, format string, args ...any) {
	if j == nil {
		return
	}
	entry := LogEntry{Time: j.now(), Source: source, Message: fmt.Sprintf(format, args...)}
	j.log.Info(entry.Message, zap.String("source", source))

	j.mu.Lock()
	j.entries[j.next] = entry
	j.next = (j.next + 1) % len(j.entries)
	if j.next == 0 {
		j.full = true
	}
	j.mu.Unlock()

	if j.bus != nil {
		j.bus.Publish(EventLog, entry)
	}
}

// Recent returns up to n entries, oldest first. n <= 0 returns all retained entries.
func (j *Journal) Recent(n int) []LogEntry {
	j.mu.Lock()
	defer j.mu.Unlock()

	var ordered []LogEntry
	if j.full {
		ordered = append(ordered, j.entries[j.next:]...)
	}
	ordered = append(ordered, j.entries[:j.next]...)
	if n > 0 && n < len(ordered) {
		ordered = ordered[len(ordered)-n:]
	}
	return ordered
}
