package services

import (
	"context"
	"fmt"
	"sync"

	"clinic-phone/internal/provider"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ProviderManager owns the single backend instance of the process. The
// instance is built lazily; concurrent first callers share one in-flight
// construction and a failed Init is not cached.
type ProviderManager struct {
	factory provider.Factory
	options func() provider.InitOptions
	logger  *zap.Logger

	group   singleflight.Group
	mu      sync.Mutex
	current provider.Provider
	hooks   []func(provider.Provider)
}

func NewProviderManager(factory provider.Factory, options func() provider.InitOptions, logger *zap.Logger) *ProviderManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProviderManager{factory: factory, options: options, logger: logger}
}

// OnReady registers fn to run once per successfully initialized instance,
// before any caller receives it.
func (m *ProviderManager) OnReady(fn func(provider.Provider)) {
	m.mu.Lock()
	m.hooks = append(m.hooks, fn)
	m.mu.Unlock()
}

// Get returns the ready instance, building it on first use.
func (m *ProviderManager) Get(ctx context.Context) (provider.Provider, error) {
	if p, ok := m.Current(); ok {
		return p, nil
	}

	ch := m.group.DoChan("provider", func() (any, error) {
		if p, ok := m.Current(); ok {
			return p, nil
		}
		// The shared construction must not die with the first caller's request.
		initCtx := context.WithoutCancel(ctx)
		p := m.factory()
		if err := p.Init(initCtx, m.options()); err != nil {
			if destroyErr := p.Destroy(initCtx); destroyErr != nil {
				m.logger.Warn("destroy after failed init", zap.Error(destroyErr))
			}
			return nil, fmt.Errorf("init provider: %w", err)
		}

		m.mu.Lock()
		hooks := append([]func(provider.Provider){}, m.hooks...)
		m.mu.Unlock()
		for _, hook := range hooks {
			hook(p)
		}

		m.mu.Lock()
		m.current = p
		m.mu.Unlock()
		m.logger.Info("provider ready")
		return p, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(provider.Provider), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Current returns the instance without building one.
func (m *ProviderManager) Current() (provider.Provider, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current, m.current != nil
}

// Shutdown destroys the current instance. A later Get builds a fresh one.
func (m *ProviderManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	p := m.current
	m.current = nil
	m.mu.Unlock()
	if p == nil {
		return nil
	}
	return p.Destroy(ctx)
}
