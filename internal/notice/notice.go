// Package notice keeps the user-visible, dismissible notices of one tab.
package notice

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"udmportal/internal/logger"
	"udmportal/internal/metrics"
)

type Kind string

const (
	KindPermission Kind = "permission"
	KindAttachment Kind = "attachment"
	KindGate       Kind = "gate"
	KindIdentity   Kind = "identity"
	KindStorage    Kind = "storage"
)

type Notice struct {
	ID   string    `json:"id"`
	Kind Kind      `json:"kind"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Board holds notices in posting order until they are dismissed.
type Board struct {
	mu      sync.Mutex
	items   []Notice
	onPost  func(Notice)
	nowFunc func() time.Time
}

func NewBoard() *Board {
	return &Board{nowFunc: time.Now}
}

// OnPost registers fn to run after every Post. Only one hook is kept.
func (b *Board) OnPost(fn func(Notice)) {
	b.mu.Lock()
	b.onPost = fn
	b.mu.Unlock()
}

func (b *Board) Post(kind Kind, text string) Notice {
	n := Notice{ID: uuid.NewString(), Kind: kind, Text: text, At: b.nowFunc().UTC()}
	b.mu.Lock()
	b.items = append(b.items, n)
	hook := b.onPost
	b.mu.Unlock()

	metrics.NoticesPosted.WithLabelValues(string(kind)).Inc()
	logger.L.Info().Str("kind", string(kind)).Str("notice", n.ID).Msg(text)
	if hook != nil {
		hook(n)
	}
	return n
}

func (b *Board) List() []Notice {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Notice, len(b.items))
	copy(out, b.items)
	return out
}

// Dismiss removes the notice and reports whether it existed.
func (b *Board) Dismiss(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, n := range b.items {
		if n.ID == id {
			b.items = append(b.items[:i], b.items[i+1:]...)
			return true
		}
	}
	return false
}
