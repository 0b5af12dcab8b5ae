// Package diagnostics keeps a capped, most-recent-first trace of every phone
// action and backend event, optionally mirrored to external sinks.
package diagnostics

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

const DefaultCapacity = 500

// Entry is flattened on the wire: {event, timestamp, session_id, ...payload}.
type Entry struct {
	Event     string
	Timestamp time.Time
	SessionID string
	Payload   map[string]any
}

func (e Entry) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Payload)+3)
	for k, v := range e.Payload {
		out[k] = v
	}
	out["event"] = e.Event
	out["timestamp"] = e.Timestamp
	out["session_id"] = e.SessionID
	return json.Marshal(out)
}

func (e *Entry) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.Event, _ = raw["event"].(string)
	e.SessionID, _ = raw["session_id"].(string)
	if ts, ok := raw["timestamp"].(string); ok {
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return err
		}
		e.Timestamp = parsed
	}
	delete(raw, "event")
	delete(raw, "session_id")
	delete(raw, "timestamp")
	if len(raw) > 0 {
		e.Payload = raw
	}
	return nil
}

// Sink receives a copy of every entry, off the recording path.
type Sink interface {
	Append(ctx context.Context, e Entry) error
}

type Log struct {
	mu        sync.RWMutex
	capacity  int
	entries   []Entry
	sessionID string
	logger    *zap.Logger
	now       func() time.Time

	sinkMu  sync.RWMutex
	sinks   []Sink
	pending chan Entry
}

func New(capacity int, sessionID string, logger *zap.Logger) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{
		capacity:  capacity,
		sessionID: sessionID,
		logger:    logger,
		now:       time.Now,
		pending:   make(chan Entry, 256),
	}
}

func (l *Log) SessionID() string { return l.sessionID }

// AddSink must be called before Run.
func (l *Log) AddSink(s Sink) {
	l.sinkMu.Lock()
	l.sinks = append(l.sinks, s)
	l.sinkMu.Unlock()
}

// Record appends an entry. When the log is full the oldest entry is dropped.
func (l *Log) Record(event string, payload map[string]any) Entry {
	e := Entry{
		Event:     event,
		Timestamp: l.now(),
		SessionID: l.sessionID,
		Payload:   payload,
	}

	l.mu.Lock()
	l.entries = append(l.entries, e)
	if over := len(l.entries) - l.capacity; over > 0 {
		copy(l.entries, l.entries[over:])
		l.entries = l.entries[:l.capacity]
	}
	l.mu.Unlock()

	l.logger.Debug("phone diagnostic", zap.String("event", event), zap.Any("payload", payload))

	if l.hasSinks() {
		select {
		case l.pending <- e:
		default:
			l.logger.Warn("diagnostic sink backlog full, dropping entry", zap.String("event", event))
		}
	}
	return e
}

// RecordError records event with the error message and code merged into payload.
func (l *Log) RecordError(event string, err error, payload map[string]any) Entry {
	merged := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		merged[k] = v
	}
	if err != nil {
		merged["error"] = err.Error()
	}
	return l.Record(event, merged)
}

// Entries returns the log most recent first.
func (l *Log) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, len(l.entries))
	for i, e := range l.entries {
		out[len(l.entries)-1-i] = e
	}
	return out
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

func (l *Log) hasSinks() bool {
	l.sinkMu.RLock()
	defer l.sinkMu.RUnlock()
	return len(l.sinks) > 0
}

// Run forwards recorded entries to the sinks until ctx is done.
func (l *Log) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-l.pending:
			l.sinkMu.RLock()
			sinks := l.sinks
			l.sinkMu.RUnlock()
			for _, s := range sinks {
				if err := s.Append(ctx, e); err != nil {
					l.logger.Warn("diagnostic sink append failed", zap.String("event", e.Event), zap.Error(err))
				}
			}
		}
	}
}
