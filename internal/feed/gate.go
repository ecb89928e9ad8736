package feed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/qmuntal/stateless"

	"udmportal/internal/logger"
	"udmportal/internal/metrics"
	"udmportal/internal/models"
	"udmportal/internal/notice"
)

// The passkey is a fixed confirmation step before publishing. It is not an
// access control and protects nothing.

const DefaultPasskey = "admin123"

var (
	ErrWrongPasskey = errors.New("incorrect passkey")
	ErrEmptyDraft   = errors.New("draft has no content")
	ErrNotComposing = errors.New("draft can no longer be edited")
	ErrTransition   = errors.New("action not allowed in the current state")
)

type GateState string

const (
	StateComposing   GateState = "composing"
	StatePendingAuth GateState = "pending-auth"
	StateCommitted   GateState = "committed"
	StateCancelled   GateState = "cancelled"
)

type gateTrigger string

const (
	triggerSubmit    gateTrigger = "submit"
	triggerAuthorize gateTrigger = "authorize"
	triggerCancel    gateTrigger = "cancel"
)

const noticeWrongPasskey = "Incorrect passkey. Post cancelled."

// Draft is a post being written.
type Draft struct {
	Author  string `json:"author"`
	Content string `json:"content"`
	Image   string `json:"image,omitempty"`
}

// Committer publishes an authorized draft.
type Committer interface {
	Commit(ctx context.Context, d Draft) (models.Post, error)
}

// Gate walks one draft through composing, pending-auth and then committed or
// cancelled.
type Gate struct {
	mu        sync.Mutex
	fsm       *stateless.StateMachine
	draft     Draft
	passkey   string
	feed      Committer
	board     *notice.Board
	post      *models.Post
	changedAt time.Time
}

func NewGate(feed Committer, passkey string, board *notice.Board, author string) *Gate {
	if passkey == "" {
		passkey = DefaultPasskey
	}
	if board == nil {
		board = notice.NewBoard()
	}
	g := &Gate{
		draft:     Draft{Author: author},
		passkey:   passkey,
		feed:      feed,
		board:     board,
		changedAt: time.Now(),
	}

	fsm := stateless.NewStateMachine(StateComposing)
	fsm.Configure(StateComposing).
		Permit(triggerSubmit, StatePendingAuth, g.hasContent).
		Permit(triggerCancel, StateCancelled)

	fsm.Configure(StatePendingAuth).
		Permit(triggerAuthorize, StateCommitted, g.passkeyMatches).
		Permit(triggerAuthorize, StateCancelled, func(ctx context.Context, args ...any) bool {
			return !g.passkeyMatches(ctx, args...)
		}).
		Permit(triggerCancel, StateCancelled)

	fsm.Configure(StateCommitted).
		OnEntry(func(ctx context.Context, _ ...any) error {
			post, err := g.feed.Commit(ctx, g.draft)
			g.post = &post
			metrics.GateOutcomes.WithLabelValues(string(StateCommitted)).Inc()
			return err
		})

	fsm.Configure(StateCancelled).
		OnEntry(func(_ context.Context, _ ...any) error {
			g.draft = Draft{Author: g.draft.Author}
			metrics.GateOutcomes.WithLabelValues(string(StateCancelled)).Inc()
			return nil
		})

	fsm.OnTransitioned(func(_ context.Context, t stateless.Transition) {
		g.changedAt = time.Now()
		logger.L.Debug().
			Str("from", fmt.Sprint(t.Source)).
			Str("to", fmt.Sprint(t.Destination)).
			Msg("posting gate transition")
	})
	g.fsm = fsm
	return g
}

func (g *Gate) hasContent(_ context.Context, _ ...any) bool {
	return strings.TrimSpace(g.draft.Content) != "" || g.draft.Image != ""
}

func (g *Gate) passkeyMatches(_ context.Context, args ...any) bool {
	if len(args) == 0 {
		return false
	}
	key, _ := args[0].(string)
	return key == g.passkey
}

func (g *Gate) State() GateState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state()
}

func (g *Gate) state() GateState {
	return g.fsm.MustState().(GateState)
}

func (g *Gate) Draft() Draft {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.draft
}

// ChangedAt is the time of the last state change.
func (g *Gate) ChangedAt() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.changedAt
}

// Post returns the published post once committed.
func (g *Gate) Post() (models.Post, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.post == nil {
		return models.Post{}, false
	}
	return *g.post, true
}

// Compose replaces the draft text and image while composing.
func (g *Gate) Compose(content, image string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state() != StateComposing {
		return ErrNotComposing
	}
	g.draft.Content = content
	g.draft.Image = image
	return nil
}

// Submit asks for the passkey. A draft needs text or an image.
func (g *Gate) Submit(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state() == StateComposing && !g.hasContent(ctx) {
		return ErrEmptyDraft
	}
	return g.fire(ctx, triggerSubmit)
}

// Authorize publishes the draft when passkey is right. A wrong passkey
// discards the draft and posts a notice.
func (g *Gate) Authorize(ctx context.Context, passkey string) (models.Post, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	err := g.fire(ctx, triggerAuthorize, passkey)
	if g.state() == StateCancelled && err == nil {
		g.board.Post(notice.KindGate, noticeWrongPasskey)
		return models.Post{}, ErrWrongPasskey
	}
	if g.post == nil {
		return models.Post{}, err
	}
	return *g.post, err
}

func (g *Gate) Cancel(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.fire(ctx, triggerCancel)
}

func (g *Gate) fire(ctx context.Context, trigger gateTrigger, args ...any) error {
	ok, err := g.fsm.CanFireCtx(ctx, trigger, args...)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s while %s", ErrTransition, trigger, g.state())
	}
	return g.fsm.FireCtx(ctx, trigger, args...)
}
