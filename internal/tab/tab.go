// Package tab runs the per-tab state of the portal. Every tab owns an event
// loop, an origin-bound handle on the shared store and the views built on it.
package tab

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"udmportal/internal/attachment"
	"udmportal/internal/conversation"
	"udmportal/internal/feed"
	"udmportal/internal/kv"
	"udmportal/internal/logger"
	"udmportal/internal/modules"
	"udmportal/internal/notice"
	"udmportal/internal/profile"
)

// Event types pushed to watchers.
const (
	EventConversation = "conversation"
	EventNotice       = "notice"
	EventPosts        = "posts"
	EventSession      = "session"
)

const watchBuffer = 32

type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Deps are shared by every tab of a manager.
type Deps struct {
	Store        kv.Store
	Notifier     kv.Notifier
	Encoder      *attachment.Encoder
	Pages        modules.PageCounter
	Passkey      string
	DraftTTL     time.Duration
	ReapInterval time.Duration
}

type Tab struct {
	id     string
	loop   *loop
	handle *kv.Handle
	board  *notice.Board
	logger zerolog.Logger

	view     *conversation.View
	feed     *feed.Feed
	drafts   *feed.DraftBook
	profiles *profile.Service
	viewer   *modules.Viewer

	stopDrafts context.CancelFunc
	cancels    []func()
	lastUsed   atomic.Int64

	wmu       sync.Mutex
	watchers  map[int64]chan Event
	nextWatch int64
}

func newTab(id string, deps Deps) *Tab {
	t := &Tab{
		id:       id,
		loop:     newLoop(),
		handle:   kv.NewHandle(id, deps.Store, deps.Notifier),
		board:    notice.NewBoard(),
		logger:   logger.Component("tab").With().Str("tab", id).Logger(),
		watchers: make(map[int64]chan Event),
	}
	t.touch()
	t.board.OnPost(func(n notice.Notice) {
		t.broadcast(Event{Type: EventNotice, Data: n})
	})
	t.view = conversation.NewView(t.handle,
		conversation.WithDispatch(t.dispatch),
		conversation.WithEncoder(deps.Encoder),
		conversation.WithBoard(t.board),
		conversation.WithOnUpdate(func(u conversation.Update) {
			t.broadcast(Event{Type: EventConversation, Data: u})
		}),
	)
	t.feed = feed.New(t.handle)
	t.drafts = feed.NewDraftBook(t.feed, deps.Passkey, t.board)
	t.profiles = profile.NewService(t.handle, deps.Encoder)
	t.viewer = modules.NewViewer(deps.Pages)

	var ctx context.Context
	ctx, t.stopDrafts = context.WithCancel(context.Background())
	t.drafts.StartReaper(ctx, deps.DraftTTL, deps.ReapInterval)

	for _, key := range []string{conversation.PostsKey, conversation.LikedPostsKey} {
		t.cancels = append(t.cancels, t.handle.Subscribe(key, func(c kv.Change) {
			t.dispatch(func() { t.broadcast(Event{Type: EventPosts, Data: c.Key}) })
		}))
	}
	t.cancels = append(t.cancels, t.handle.Subscribe(conversation.SessionKey, func(c kv.Change) {
		t.dispatch(func() { t.broadcast(Event{Type: EventSession, Data: !c.Removed}) })
	}))
	return t
}

func (t *Tab) dispatch(fn func()) {
	if !t.loop.post(fn) {
		t.logger.Debug().Msg("change dropped, tab closing")
	}
}

func (t *Tab) ID() string { return t.id }

// Do runs fn on the tab's loop and waits for its result.
func (t *Tab) Do(ctx context.Context, fn func() error) error {
	t.touch()
	return t.loop.do(ctx, fn)
}

func (t *Tab) Store() *kv.Handle { return t.handle }
func (t *Tab) Board() *notice.Board { return t.board }
func (t *Tab) View() *conversation.View { return t.view }
func (t *Tab) Feed() *feed.Feed { return t.feed }
func (t *Tab) Drafts() *feed.DraftBook { return t.drafts }
func (t *Tab) Profiles() *profile.Service { return t.profiles }
func (t *Tab) Viewer() *modules.Viewer { return t.viewer }
func (t *Tab) LastUsed() time.Time { return time.Unix(0, t.lastUsed.Load()) }
func (t *Tab) touch() { t.lastUsed.Store(time.Now().UnixNano()) }

// Watch returns a channel of the tab's events. Slow watchers miss events
// instead of stalling the loop.
func (t *Tab) Watch() (<-chan Event, func()) {
	ch := make(chan Event, watchBuffer)
	t.wmu.Lock()
	id := t.nextWatch
	t.nextWatch++
	t.watchers[id] = ch
	t.wmu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.wmu.Lock()
			if _, ok := t.watchers[id]; ok {
				delete(t.watchers, id)
				close(ch)
			}
			t.wmu.Unlock()
		})
	}
}

func (t *Tab) broadcast(ev Event) {
	t.wmu.Lock()
	defer t.wmu.Unlock()
	for _, ch := range t.watchers {
		select {
		case ch <- ev:
		default:
			t.logger.Debug().Str("event", ev.Type).Msg("watcher full, event dropped")
		}
	}
}

func (t *Tab) close() {
	for _, cancel := range t.cancels {
		cancel()
	}
	t.view.Close()
	t.stopDrafts()
	t.viewer.Close()
	t.loop.stop()

	t.wmu.Lock()
	for id, ch := range t.watchers {
		delete(t.watchers, id)
		close(ch)
	}
	t.wmu.Unlock()
}
