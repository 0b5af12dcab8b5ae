package services

import (
	"context"
	"sync"
	"time"

	"clinic-phone/internal/store"

	"go.uber.org/zap"
)

// PersistenceWorker saves the durable part of the store whenever it changed
// since the last successful save.
type PersistenceWorker struct {
	store    *store.Store
	backend  store.Persistence
	logger   *zap.Logger
	interval time.Duration
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu        sync.Mutex
	lastSaved uint64
}

func NewPersistenceWorker(st *store.Store, backend store.Persistence, interval time.Duration, logger *zap.Logger) *PersistenceWorker {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PersistenceWorker{
		store:    st,
		backend:  backend,
		logger:   logger,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Restore loads saved state into the store. Missing state is not an error.
func (w *PersistenceWorker) Restore(ctx context.Context) error {
	d, ok, err := w.backend.Load(ctx)
	if err != nil {
		return err
	}
	if ok {
		w.store.RestoreDurable(d)
		w.logger.Info("durable phone state restored", zap.Int("history", len(d.History)))
	}
	w.mu.Lock()
	w.lastSaved = w.store.DurableRevision()
	w.mu.Unlock()
	return nil
}

// Start begins the worker loop
func (w *PersistenceWorker) Start() {
	w.wg.Add(1)
	go w.run()
}

// Stop ends the loop and makes a final save.
func (w *PersistenceWorker) Stop(ctx context.Context) error {
	w.stopOnce.Do(func() { close(w.stopChan) })
	w.wg.Wait()
	return w.Flush(ctx)
}

func (w *PersistenceWorker) run() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopChan:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), w.interval)
			if err := w.Flush(ctx); err != nil {
				w.logger.Warn("persisting phone state failed", zap.Error(err))
			}
			cancel()
		}
	}
}

// Flush saves immediately if the durable revision moved.
func (w *PersistenceWorker) Flush(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	d, rev := w.store.ExportDurable()
	if rev == w.lastSaved {
		return nil
	}
	if err := w.backend.Save(ctx, d); err != nil {
		return err
	}
	w.lastSaved = rev
	return nil
}
