package feed

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"udmportal/internal/logger"
	"udmportal/internal/notice"
)

const (
	DefaultDraftTTL     = 15 * time.Minute
	DefaultReapInterval = time.Minute
)

// DraftBook tracks the open drafts of one tab by id.
type DraftBook struct {
	feed    Committer
	passkey string
	board   *notice.Board

	mu     sync.Mutex
	drafts map[string]*Gate
}

func NewDraftBook(feed Committer, passkey string, board *notice.Board) *DraftBook {
	return &DraftBook{
		feed:    feed,
		passkey: passkey,
		board:   board,
		drafts:  make(map[string]*Gate),
	}
}

// Open starts a new draft and returns its id.
func (b *DraftBook) Open(author string) (string, *Gate) {
	id := ulid.Make().String()
	g := NewGate(b.feed, b.passkey, b.board, author)
	b.mu.Lock()
	b.drafts[id] = g
	b.mu.Unlock()
	return id, g
}

func (b *DraftBook) Get(id string) (*Gate, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	g, ok := b.drafts[id]
	return g, ok
}

func (b *DraftBook) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.drafts)
}

// StartReaper cancels drafts left unfinished for longer than ttl and forgets
// finished ones, every interval until ctx ends.
func (b *DraftBook) StartReaper(ctx context.Context, ttl, interval time.Duration) {
	if ttl <= 0 {
		ttl = DefaultDraftTTL
	}
	if interval <= 0 {
		interval = DefaultReapInterval
	}
	go b.reapLoop(ctx, ttl, interval)
}

func (b *DraftBook) reapLoop(ctx context.Context, ttl, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := b.Reap(ctx, time.Now().Add(-ttl)); n > 0 {
				logger.L.Debug().Int("drafts", n).Msg("reaped stale drafts")
			}
		}
	}
}

// Reap removes every draft whose last change is before cutoff, cancelling
// the ones still open. It returns how many were removed.
func (b *DraftBook) Reap(ctx context.Context, cutoff time.Time) int {
	b.mu.Lock()
	stale := make(map[string]*Gate)
	for id, g := range b.drafts {
		if g.ChangedAt().Before(cutoff) {
			stale[id] = g
			delete(b.drafts, id)
		}
	}
	b.mu.Unlock()

	for id, g := range stale {
		switch g.State() {
		case StateComposing, StatePendingAuth:
			if err := g.Cancel(ctx); err != nil {
				logger.L.Warn().Err(err).Str("draft", id).Msg("cancel stale draft failed")
			}
		}
	}
	return len(stale)
}
