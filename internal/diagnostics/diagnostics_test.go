package diagnostics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestLogIsCappedMostRecentFirst(t *testing.T) {
	t.Parallel()

	l := New(3, "session-1", nil)
	for i := 0; i < 5; i++ {
		l.Record(fmt.Sprintf("event-%d", i), nil)
	}
	entries := l.Entries()
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].Event != "event-4" || entries[2].Event != "event-2" {
		t.Fatalf("unexpected order %s .. %s", entries[0].Event, entries[2].Event)
	}
}

func TestEntryFlattensPayload(t *testing.T) {
	t.Parallel()

	l := New(10, "session-1", nil)
	e := l.RecordError("action:dial", errors.New("boom"), map[string]any{"target": "200"})

	data, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var flat map[string]any
	if err := json.Unmarshal(data, &flat); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if flat["event"] != "action:dial" || flat["session_id"] != "session-1" || flat["target"] != "200" || flat["error"] != "boom" {
		t.Fatalf("unexpected flattened entry %v", flat)
	}

	var back Entry
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("decode entry: %v", err)
	}
	if back.Event != "action:dial" || back.Payload["target"] != "200" || back.Timestamp.IsZero() {
		t.Fatalf("unexpected decoded entry %+v", back)
	}
}

type memorySink struct {
	mu      sync.Mutex
	entries []Entry
}

func (m *memorySink) Append(_ context.Context, e Entry) error {
	m.mu.Lock()
	m.entries = append(m.entries, e)
	m.mu.Unlock()
	return nil
}

func (m *memorySink) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func TestRunForwardsToSinks(t *testing.T) {
	t.Parallel()

	l := New(10, "session-1", nil)
	sink := &memorySink{}
	l.AddSink(sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	l.Record("event:ringing", map[string]any{"call_id": "c-1"})
	l.Record("event:connected", map[string]any{"call_id": "c-1"})

	deadline := time.Now().Add(time.Second)
	for sink.len() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("sink received %d entries", sink.len())
		}
		time.Sleep(time.Millisecond)
	}
}
