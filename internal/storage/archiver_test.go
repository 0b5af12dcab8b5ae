package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"clinic-phone/internal/diagnostics"
	"clinic-phone/internal/domain/call"
	"clinic-phone/internal/store"
)

type memoryObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	failPut error
}

func (m *memoryObjects) Put(_ context.Context, key, _ string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPut != nil {
		return m.failPut
	}
	if m.objects == nil {
		m.objects = map[string][]byte{}
	}
	m.objects[key] = append([]byte(nil), body...)
	return nil
}

func (m *memoryObjects) PresignGet(_ context.Context, key string) (string, error) {
	return "https://objects.test/" + key, nil
}

func TestArchiverUploadsHistoryAndDiagnostics(t *testing.T) {
	t.Parallel()

	st := store.New(10)
	start := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	st.AddCall(call.NewOutbound("c-1", "+15551234567", start))
	st.EndCall("c-1", call.DispositionCompleted, start.Add(time.Minute))

	diag := diagnostics.New(10, "session-1", nil)
	diag.Record("action:dial", map[string]any{"target": "+15551234567"})

	objects := &memoryObjects{}
	a := NewArchiver(objects, "archives", st, diag, nil)
	a.now = func() time.Time { return start.Add(2 * time.Minute) }

	res, err := a.Upload(context.Background())
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if res.Key != "archives/session-1/20260302T093200Z.json" {
		t.Fatalf("unexpected key %q", res.Key)
	}
	if !strings.HasSuffix(res.URL, res.Key) {
		t.Fatalf("expected presigned url for key, got %q", res.URL)
	}

	var doc Archive
	if err := json.Unmarshal(objects.objects[res.Key], &doc); err != nil {
		t.Fatalf("decode archive: %v", err)
	}
	if doc.SessionID != "session-1" || len(doc.History) != 1 || doc.History[0].ID != "c-1" {
		t.Fatalf("unexpected archive %+v", doc)
	}
	if len(doc.Diagnostics) != 1 || doc.Diagnostics[0].Event != "action:dial" {
		t.Fatalf("expected the dial diagnostic, got %+v", doc.Diagnostics)
	}
	if doc.Stats.TotalCalls != 1 {
		t.Fatalf("expected one call in stats, got %+v", doc.Stats)
	}

	entries := diag.Entries()
	if entries[0].Event != "archive" {
		t.Fatalf("expected archive to be recorded, got %q", entries[0].Event)
	}
}

func TestArchiverReportsUploadFailure(t *testing.T) {
	t.Parallel()

	diag := diagnostics.New(10, "session-2", nil)
	objects := &memoryObjects{failPut: errors.New("bucket gone")}
	a := NewArchiver(objects, "", store.New(10), diag, nil)

	if _, err := a.Upload(context.Background()); err == nil {
		t.Fatalf("expected upload error")
	}
	entries := diag.Entries()
	if len(entries) != 1 || entries[0].Event != "archive" || entries[0].Payload["error"] != "bucket gone" {
		t.Fatalf("expected failure entry, got %+v", entries)
	}
}
