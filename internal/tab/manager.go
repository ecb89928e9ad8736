package tab

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"udmportal/internal/kv"
	"udmportal/internal/logger"
	"udmportal/internal/metrics"
	"udmportal/internal/modules"
)

const defaultIdle = 30 * time.Minute

// Manager creates tabs on first use and closes the ones left idle.
type Manager struct {
	deps   Deps
	expiry time.Duration
	logger zerolog.Logger

	mu   sync.Mutex
	tabs map[string]*Tab

	stopOnce sync.Once
	stop     chan struct{}
}

func NewManager(deps Deps, idle time.Duration) *Manager {
	if idle <= 0 {
		idle = defaultIdle
	}
	if deps.Pages == nil {
		deps.Pages = &modules.PDFPageCounter{}
	}
	m := &Manager{
		deps:   deps,
		expiry: idle,
		logger: logger.Component("tab"),
		tabs:   make(map[string]*Tab),
		stop:   make(chan struct{}),
	}
	go m.purgeStaleTabs()
	return m
}

// Ensure returns the tab with id, creating it if needed.
func (m *Manager) Ensure(id string) *Tab {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tabs[id]; ok {
		t.touch()
		return t
	}
	t := newTab(id, m.deps)
	m.tabs[id] = t
	metrics.TabsOpen.Inc()
	m.logger.Debug().Str("tab", id).Msg("tab opened")
	return t
}

// Handle returns a handle on the shared store for an origin that is not a
// tab, such as the identity provider.
func (m *Manager) Handle(origin string) *kv.Handle {
	return kv.NewHandle(origin, m.deps.Store, m.deps.Notifier)
}

func (m *Manager) Get(id string) (*Tab, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tabs[id]
	return t, ok
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tabs)
}

// Close stops the tab's loop and drops its subscriptions.
func (m *Manager) Close(id string) bool {
	m.mu.Lock()
	t, ok := m.tabs[id]
	delete(m.tabs, id)
	m.mu.Unlock()
	if !ok {
		return false
	}
	m.retire(t)
	return true
}

// CloseAll closes every tab and stops the idle purge.
func (m *Manager) CloseAll() {
	m.stopOnce.Do(func() { close(m.stop) })
	m.mu.Lock()
	tabs := m.tabs
	m.tabs = make(map[string]*Tab)
	m.mu.Unlock()
	for _, t := range tabs {
		m.retire(t)
	}
}

func (m *Manager) retire(t *Tab) {
	t.close()
	metrics.TabsOpen.Dec()
	t.logger.Debug().Msg("tab closed")
}

// purgeStaleTabs call shutdownExpired when expiry time comes
func (m *Manager) purgeStaleTabs() {
	ticker := time.NewTicker(m.expiry)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.shutdownExpired(time.Now())
		}
	}
}

// shutdownExpired closes every tab unused since now minus the expiry.
func (m *Manager) shutdownExpired(now time.Time) int {
	var stale []*Tab
	m.mu.Lock()
	for id, t := range m.tabs {
		if now.Sub(t.LastUsed()) >= m.expiry {
			stale = append(stale, t)
			delete(m.tabs, id)
		}
	}
	m.mu.Unlock()

	for _, t := range stale {
		m.retire(t)
	}
	if len(stale) > 0 {
		m.logger.Info().Int("tabs", len(stale)).Msg("closed idle tabs")
	}
	return len(stale)
}
