// Package audit records signing and session operations off the request path.
package audit

import (
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	StatusOK    = "OK"
	StatusError = "ERROR"
)

// DefaultRetain is the number of entries kept in memory for Query when the
// caller has no preference.
const DefaultRetain = 10000

// Entry is one audited operation. It never carries message bodies, key
// material or passwords.
type Entry struct {
	ID          string
	Timestamp   time.Time
	Operation   string
	KeyID       string
	Backend     string
	Status      string
	PeerAddress string
	Metadata    map[string]string
}

// Logger is an async audit logger that decouples the critical path from log
// writes. Every entry is written as a JSON line to the output given at
// construction; the most recent ones are also kept in memory for Query.
type Logger struct {
	entries chan Entry
	out     zerolog.Logger

	// ring holds at most cap(ring) entries; next is the slot the following
	// entry overwrites once the ring is full.
	mu   sync.RWMutex
	ring []Entry
	next int

	closeMu sync.RWMutex
	closed  bool
	done    chan struct{}
}

// NewLogger creates a logger that queues up to bufferSize entries and keeps
// the last retain of them for Query. retain 0 disables in-memory retention.
// A nil out discards the JSON output.
func NewLogger(bufferSize, retain int, out io.Writer) *Logger {
	zl := zerolog.Nop()
	if out != nil {
		zl = zerolog.New(out).With().Str("log", "audit").Logger()
	}
	l := &Logger{
		entries: make(chan Entry, bufferSize),
		out:     zl,
		ring:    make([]Entry, 0, max(retain, 0)),
		done:    make(chan struct{}),
	}
	go l.processLoop()
	return l
}

// Log queues an entry. It never blocks: when the buffer is full the entry is
// dropped with a warning.
func (l *Logger) Log(operation, backend, keyID, status, peerAddr string, metadata map[string]string) {
	entry := Entry{
		ID:          uuid.NewString(),
		Timestamp:   time.Now(),
		Operation:   operation,
		KeyID:       keyID,
		Backend:     backend,
		Status:      status,
		PeerAddress: peerAddr,
		Metadata:    metadata,
	}

	l.closeMu.RLock()
	defer l.closeMu.RUnlock()
	if l.closed {
		log.Warn().Str("operation", operation).Msg("audit log closed, dropping entry")
		return
	}
	select {
	case l.entries <- entry:
	default:
		log.Warn().Str("operation", operation).Msg("audit log buffer full, dropping entry")
	}
}

// Query returns stored entries matching the filter, newest first. Empty
// strings and zero times match everything; limit 0 means no limit.
func (l *Logger) Query(keyID, operation string, start, end time.Time, limit int) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var results []Entry
	n := len(l.ring)
	for i := range n {
		// Walk back from the newest entry, which sits just before next.
		e := l.ring[(l.next-1-i+2*n)%n]
		if keyID != "" && e.KeyID != keyID {
			continue
		}
		if operation != "" && e.Operation != operation {
			continue
		}
		if !start.IsZero() && e.Timestamp.Before(start) {
			continue
		}
		if !end.IsZero() && e.Timestamp.After(end) {
			continue
		}
		results = append(results, e)
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results
}

// Close stops the processing loop after draining queued entries. Entries
// logged afterwards are dropped. Close is idempotent.
func (l *Logger) Close() {
	l.closeMu.Lock()
	if !l.closed {
		l.closed = true
		close(l.entries)
	}
	l.closeMu.Unlock()
	<-l.done
}

func (l *Logger) retain(e Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch {
	case cap(l.ring) == 0:
	case len(l.ring) < cap(l.ring):
		l.ring = append(l.ring, e)
		l.next = len(l.ring) % cap(l.ring)
	default:
		l.ring[l.next] = e
		l.next = (l.next + 1) % len(l.ring)
	}
}

// Len reports how many entries are held in memory.
func (l *Logger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.ring)
}

func (l *Logger) processLoop() {
	defer close(l.done)

	for entry := range l.entries {
		l.retain(entry)

		ev := l.out.Info().
			Str("id", entry.ID).
			Time("timestamp", entry.Timestamp).
			Str("operation", entry.Operation).
			Str("status", entry.Status)
		if entry.KeyID != "" {
			ev = ev.Str("key_id", entry.KeyID)
		}
		if entry.Backend != "" {
			ev = ev.Str("backend", entry.Backend)
		}
		if entry.PeerAddress != "" {
			ev = ev.Str("peer_address", entry.PeerAddress)
		}
		if len(entry.Metadata) > 0 {
			ev = ev.Fields(map[string]any{"metadata": entry.Metadata})
		}
		ev.Send()
	}
}
