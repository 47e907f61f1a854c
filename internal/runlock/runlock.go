// Package runlock serialises wizard, fix and preflight runs per tenant.
// Acquisition never waits: a busy tenant yields apperr.RunInProgressError.
package runlock

import (
	"context"
	"sync"
	"time"

	"janitor/internal/apperr"
)

// Holder describes the run currently holding a tenant's lock.
type Holder struct {
	Owner string    `json:"owner"`
	Kind  string    `json:"kind"`
	Since time.Time `json:"since"`
}

type Locker interface {
	// TryAcquire takes the tenant lock for a run of kind. The returned release
	// func is safe to call more than once.
	TryAcquire(ctx context.Context, tenant, kind string) (release func(), err error)
	// Current reports the holder, if any.
	Current(ctx context.Context, tenant string) (Holder, bool, error)
}

// Memory is an in-process Locker.
type Memory struct {
	mu   sync.Mutex
	held map[string]Holder
	Now  func() time.Time
}

func NewMemory() *Memory {
	return &Memory{held: map[string]Holder{}}
}

func (m *Memory) TryAcquire(_ context.Context, tenant, kind string) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held == nil {
		m.held = map[string]Holder{}
	}
	if h, ok := m.held[tenant]; ok {
		return nil, apperr.RunInProgressError{Tenant: tenant, Kind: h.Kind, Since: h.Since}
	}
	now := time.Now
	if m.Now != nil {
		now = m.Now
	}
	m.held[tenant] = Holder{Owner: kind, Kind: kind, Since: now().UTC()}
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.held, tenant)
		})
	}, nil
}

func (m *Memory) Current(_ context.Context, tenant string) (Holder, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.held[tenant]
	return h, ok, nil
}
