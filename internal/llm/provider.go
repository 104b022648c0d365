package llm

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	apperrors "github.com/pkonate/teampulse/internal/errors"
)

// Manager fans one Complete call out across configured providers in priority
// order, failing over when a provider errors. It also applies a process-wide
// rate limit so retries and the fallback agent cannot exhaust API budget.
type Manager struct {
	providers []providerEntry
	current   int
	limiter   *rate.Limiter
	mu        sync.Mutex
	logger    *zap.Logger
}

type providerEntry struct {
	name     string
	client   *Client
	priority int
	lastUsed time.Time
}

// NewManager creates a provider manager. requestsPerMin bounds the total call
// rate across all providers; zero disables limiting.
func NewManager(logger *zap.Logger, requestsPerMin int) *Manager {
	var limiter *rate.Limiter
	if requestsPerMin > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMin)), requestsPerMin)
	}
	return &Manager{
		logger:  logger,
		limiter: limiter,
	}
}

// AddProvider registers a provider. Lower priority wins.
func (m *Manager) AddProvider(name string, client *Client, priority int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.providers = append(m.providers, providerEntry{
		name:     name,
		client:   client,
		priority: priority,
	})

	for i := len(m.providers) - 1; i > 0; i-- {
		if m.providers[i].priority < m.providers[i-1].priority {
			m.providers[i], m.providers[i-1] = m.providers[i-1], m.providers[i]
		}
	}
}

// Complete sends a request with automatic failover.
func (m *Manager) Complete(ctx context.Context, req Request) (string, error) {
	if m.limiter != nil {
		if err := m.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	m.mu.Lock()
	providers := make([]providerEntry, len(m.providers))
	copy(providers, m.providers)
	startIdx := m.current
	m.mu.Unlock()

	if len(providers) == 0 {
		return "", apperrors.ErrProviderNotConfigured
	}

	var lastErr error
	for i := 0; i < len(providers); i++ {
		idx := (startIdx + i) % len(providers)
		entry := providers[idx]

		text, err := entry.client.Complete(ctx, req)
		if err == nil {
			m.mu.Lock()
			m.current = idx
			m.providers[idx].lastUsed = time.Now()
			m.mu.Unlock()

			if i > 0 {
				m.logger.Info("provider failover succeeded",
					zap.String("provider", entry.name),
					zap.Int("attempt", i+1),
				)
			}
			return text, nil
		}

		// Cancellation is the caller's signal, not a provider fault.
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		lastErr = err
		m.logger.Warn("provider failed, trying next",
			zap.String("provider", entry.name),
			zap.Error(err),
		)
	}

	return "", apperrors.Wrap(lastErr, apperrors.ErrProviderUnavailable.Code, "all providers failed")
}
