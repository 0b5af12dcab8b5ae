package services

import (
	"context"
	"testing"
	"time"

	"clinic-phone/internal/domain/call"
	"clinic-phone/internal/domain/settings"
	"clinic-phone/internal/store"
)

func TestPersistenceWorkerSavesOnlyChanges(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := store.New(10)
	backend := store.NewMemoryPersistence()
	w := NewPersistenceWorker(st, backend, time.Hour, nil)
	if err := w.Restore(ctx); err != nil {
		t.Fatalf("restore: %v", err)
	}

	if err := w.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if backend.Saves() != 0 {
		t.Fatalf("unchanged state must not be saved")
	}

	st.SetRegistration(call.RegistrationRegistered, "")
	if err := w.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if backend.Saves() != 0 {
		t.Fatalf("ephemeral changes must not be saved")
	}

	st.SetPermission(settings.PermissionDenied, time.Now())
	if err := w.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := w.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if backend.Saves() != 1 {
		t.Fatalf("expected exactly one save, got %d", backend.Saves())
	}
}

func TestPersistenceWorkerRestoresAndStops(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backend := store.NewMemoryPersistence()
	first := store.New(10)
	now := time.Now()
	first.AddCall(call.NewOutbound("a", "200", now))
	first.EndCall("a", call.DispositionCompleted, now)
	d, _ := first.ExportDurable()
	if err := backend.Save(ctx, d); err != nil {
		t.Fatalf("seed: %v", err)
	}

	second := store.New(10)
	w := NewPersistenceWorker(second, backend, 5*time.Millisecond, nil)
	if err := w.Restore(ctx); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if len(second.History()) != 1 {
		t.Fatalf("history not restored")
	}
	w.Start()
	second.ClearHistory()
	if err := w.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	saved, ok, err := backend.Load(ctx)
	if err != nil || !ok {
		t.Fatalf("load: %v %v", ok, err)
	}
	if len(saved.History) != 0 {
		t.Fatalf("cleared history must be persisted on stop")
	}
}
