package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"clinic-phone/internal/diagnostics"
	"clinic-phone/internal/domain/call"
	"clinic-phone/internal/domain/settings"
	"clinic-phone/internal/store"

	"go.uber.org/zap"
)

// Archive is the document written for one upload.
type Archive struct {
	SessionID   string              `json:"session_id"`
	CreatedAt   time.Time           `json:"created_at"`
	Stats       settings.Stats      `json:"stats"`
	History     []call.Call         `json:"history"`
	Diagnostics []diagnostics.Entry `json:"diagnostics"`
}

type ArchiveResult struct {
	Key string `json:"key"`
	URL string `json:"url,omitempty"`
}

// Archiver uploads the diagnostic log and call history of the session.
type Archiver struct {
	objects ObjectStore
	prefix  string
	store   *store.Store
	diag    *diagnostics.Log
	logger  *zap.Logger
	now     func() time.Time
}

func NewArchiver(objects ObjectStore, prefix string, st *store.Store, diag *diagnostics.Log, logger *zap.Logger) *Archiver {
	if prefix == "" {
		prefix = "phone-archives"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{
		objects: objects,
		prefix:  prefix,
		store:   st,
		diag:    diag,
		logger:  logger.With(zap.String("component", "archiver")),
		now:     time.Now,
	}
}

// Key is {prefix}/{session_id}/{20060102T150405Z}.json.
func (a *Archiver) Key(at time.Time) string {
	return path.Join(a.prefix, a.diag.SessionID(), at.UTC().Format("20060102T150405Z")+".json")
}

func (a *Archiver) Build() Archive {
	now := a.now()
	return Archive{
		SessionID:   a.diag.SessionID(),
		CreatedAt:   now.UTC(),
		Stats:       a.store.Stats(now),
		History:     a.store.History(),
		Diagnostics: a.diag.Entries(),
	}
}

// Upload writes the archive and returns its key and, when presigning works,
// a download URL.
func (a *Archiver) Upload(ctx context.Context) (ArchiveResult, error) {
	doc := a.Build()
	body, err := json.Marshal(doc)
	if err != nil {
		return ArchiveResult{}, err
	}
	key := a.Key(doc.CreatedAt)
	if err := a.objects.Put(ctx, key, "application/json", body); err != nil {
		a.diag.RecordError("archive", err, map[string]any{"key": key})
		return ArchiveResult{}, fmt.Errorf("upload archive: %w", err)
	}

	result := ArchiveResult{Key: key}
	if u, err := a.objects.PresignGet(ctx, key); err == nil {
		result.URL = u
	} else {
		a.logger.Warn("Presign archive failed", zap.String("key", key), zap.Error(err))
	}
	a.diag.Record("archive", map[string]any{"key": key, "calls": len(doc.History)})
	a.logger.Info("Archive uploaded", zap.String("key", key), zap.Int("bytes", len(body)))
	return result, nil
}
