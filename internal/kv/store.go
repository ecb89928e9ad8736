// Package kv holds the browser-profile key-value storage shared by every tab
// and the change notifications tabs use to observe each other's writes.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrQuotaExceeded is returned when a write would exceed the store's quota.
var ErrQuotaExceeded = errors.New("storage quota exceeded")

// Store is a string key-value store. Get reports ok=false for absent keys.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Change describes one write to the store. Origin is the tab that made it.
type Change struct {
	Key      string    `json:"key"`
	NewValue string    `json:"newValue"`
	Removed  bool      `json:"removed"`
	Origin   string    `json:"origin"`
	At       time.Time `json:"at"`
}

// Notifier broadcasts changes to every subscriber of the same profile.
// Subscribe callbacks must not block; the returned func cancels.
type Notifier interface {
	Publish(ctx context.Context, change Change) error
	Subscribe(fn func(Change)) (cancel func())
}
