package kv

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"udmportal/internal/logger"
	"udmportal/internal/metrics"
)

// Handle is one tab's view of the shared store. Writes through it are
// published with the tab as origin, and its subscriptions never see them.
type Handle struct {
	origin   string
	store    Store
	notifier Notifier
	now      func() time.Time
	logger   zerolog.Logger
}

// NewHandle binds store and notifier to origin. A nil notifier disables
// publishing and subscriptions.
func NewHandle(origin string, store Store, notifier Notifier) *Handle {
	return &Handle{
		origin:   origin,
		store:    store,
		notifier: notifier,
		now:      time.Now,
		logger:   logger.Component("kv").With().Str("origin", origin).Logger(),
	}
}

func (h *Handle) Origin() string { return h.origin }

func (h *Handle) Get(ctx context.Context, key string) (string, bool, error) {
	return h.store.Get(ctx, key)
}

func (h *Handle) Set(ctx context.Context, key, value string) error {
	if err := h.store.Set(ctx, key, value); err != nil {
		return err
	}
	h.publish(ctx, Change{Key: key, NewValue: value})
	return nil
}

func (h *Handle) Delete(ctx context.Context, key string) error {
	if err := h.store.Delete(ctx, key); err != nil {
		return err
	}
	h.publish(ctx, Change{Key: key, Removed: true})
	return nil
}

// Subscribe delivers changes to key made by other origins. An empty key
// matches every key.
func (h *Handle) Subscribe(key string, fn func(Change)) func() {
	if h.notifier == nil {
		return func() {}
	}
	return h.notifier.Subscribe(func(c Change) {
		if c.Origin == h.origin {
			return
		}
		if key != "" && c.Key != key {
			return
		}
		fn(c)
	})
}

// The value is already stored when publishing fails, so the failure is only
// logged.
func (h *Handle) publish(ctx context.Context, c Change) {
	if h.notifier == nil {
		return
	}
	c.Origin = h.origin
	c.At = h.now().UTC()
	if err := h.notifier.Publish(ctx, c); err != nil {
		h.logger.Warn().Err(err).Str("key", c.Key).Msg("publish storage change failed")
		return
	}
	metrics.ChangesPublished.Inc()
}
