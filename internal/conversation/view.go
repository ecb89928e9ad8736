package conversation

import (
	"context"
	"errors"
	"sync"

	"udmportal/internal/attachment"
	"udmportal/internal/kv"
	"udmportal/internal/metrics"
	"udmportal/internal/models"
	"udmportal/internal/notice"
)

var ErrNotOpen = errors.New("no conversation is open")

const (
	TargetMessages = "messages"
	TargetAvatar   = "avatar"
)

// Notice texts shown to the user.
const (
	noticeMicrophone = "Microphone access denied or not available."
	noticeNotImage   = "Please select an image file."
	noticeBadAudio   = "The voice message could not be encoded."
	noticeNotSaved   = "Your message could not be saved and is only visible in this tab."
	noticeAvatar     = "The conversation picture could not be saved."
)

// Update is emitted whenever the view's messages or avatar change.
type Update struct {
	Conversation string           `json:"conversation"`
	Target       string           `json:"target"`
	Messages     []models.Message `json:"messages,omitempty"`
	Avatar       string           `json:"avatar,omitempty"`
	// Remote is set when the change came from another tab.
	Remote bool `json:"remote"`
}

// View is one tab's state for the conversation it currently displays.
// Its own writes update it immediately; writes by other tabs reach it
// through storage change notifications and replace its state wholesale.
type View struct {
	handle   *kv.Handle
	log      *Log
	enc      *attachment.Encoder
	board    *notice.Board
	dispatch func(func())
	onUpdate func(Update)

	mu       sync.Mutex
	active   string
	messages []models.Message
	avatar   string
	cancels  []func()

	// set when a remote change lands while Open is still loading
	seenMessages bool
	seenAvatar   bool
}

type ViewOption func(*View)

// WithDispatch routes change notifications through fn, typically onto the
// owning tab's event loop. By default they are applied on the caller.
func WithDispatch(fn func(func())) ViewOption {
	return func(v *View) { v.dispatch = fn }
}

func WithEncoder(enc *attachment.Encoder) ViewOption {
	return func(v *View) { v.enc = enc }
}

func WithBoard(b *notice.Board) ViewOption {
	return func(v *View) { v.board = b }
}

// WithOnUpdate registers fn to receive every Update.
func WithOnUpdate(fn func(Update)) ViewOption {
	return func(v *View) { v.onUpdate = fn }
}

func NewView(handle *kv.Handle, opts ...ViewOption) *View {
	v := &View{
		handle:   handle,
		log:      NewLog(handle),
		dispatch: func(fn func()) { fn() },
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.enc == nil {
		v.enc = attachment.NewEncoder(nil)
	}
	if v.board == nil {
		v.board = notice.NewBoard()
	}
	return v
}

// Open switches the view to conversationID, dropping the subscriptions of
// the previous conversation, and returns the loaded log. It subscribes
// before reading so a write by another tab during the load is not missed.
func (v *View) Open(ctx context.Context, conversationID string) []models.Message {
	v.mu.Lock()
	for _, cancel := range v.cancels {
		cancel()
	}
	v.active = conversationID
	v.messages = nil
	v.avatar = ""
	v.seenMessages, v.seenAvatar = false, false
	v.cancels = []func(){
		v.handle.Subscribe(MessagesKey(conversationID), v.onChange),
		v.handle.Subscribe(AvatarKey(conversationID), v.onChange),
	}
	v.mu.Unlock()

	msgs := v.log.Load(ctx, conversationID)
	avatar := v.log.LoadAvatar(ctx, conversationID)

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.active != conversationID {
		return msgs
	}
	// A change applied during the load is at least as new as what was read.
	if !v.seenMessages {
		v.messages = msgs
	}
	if !v.seenAvatar {
		v.avatar = avatar
	}
	return cloneMessages(v.messages)
}

func (v *View) onChange(c kv.Change) {
	v.dispatch(func() { v.apply(c) })
}

// apply runs on the dispatch target. Changes queued before a switch to
// another conversation no longer match the active keys and are dropped.
func (v *View) apply(c kv.Change) {
	v.mu.Lock()
	if v.active == "" {
		v.mu.Unlock()
		return
	}
	u := Update{Conversation: v.active, Remote: true}
	switch c.Key {
	case MessagesKey(v.active):
		msgs := []models.Message{}
		if !c.Removed {
			decoded, ok := decodeLog(c.NewValue)
			if ok {
				msgs = decoded
			} else {
				metrics.CorruptReads.WithLabelValues("messages").Inc()
				v.log.logger.Warn().Str("key", c.Key).Str("origin", c.Origin).Msg("changed message log is not valid, reading as empty")
			}
		}
		v.messages = msgs
		v.seenMessages = true
		u.Target = TargetMessages
		u.Messages = cloneMessages(msgs)
	case AvatarKey(v.active):
		avatar := ""
		if !c.Removed {
			avatar, _ = decodeAvatar(c.NewValue)
		}
		v.avatar = avatar
		v.seenAvatar = true
		u.Target = TargetAvatar
		u.Avatar = avatar
	default:
		v.mu.Unlock()
		return
	}
	v.mu.Unlock()
	metrics.ChangesApplied.WithLabelValues(u.Target).Inc()
	v.emit(u)
}

func (v *View) emit(u Update) {
	if v.onUpdate != nil {
		v.onUpdate(u)
	}
}

// Active returns the id of the open conversation, or "".
func (v *View) Active() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.active
}

func (v *View) Messages() []models.Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	return cloneMessages(v.messages)
}

func (v *View) Avatar() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.avatar
}

func (v *View) Board() *notice.Board { return v.board }

func (v *View) SendText(ctx context.Context, author, text string) (models.Message, error) {
	return v.send(ctx, models.Message{Kind: models.KindText, Body: text, Author: author})
}

// SendImage appends an image message. Files that are not images are
// rejected with a notice and the log is left untouched.
func (v *View) SendImage(ctx context.Context, author string, f attachment.File) (models.Message, error) {
	uri, err := v.enc.EncodeImage(f)
	if err != nil {
		v.board.Post(notice.KindAttachment, noticeNotImage)
		return models.Message{}, err
	}
	return v.send(ctx, models.Message{Kind: models.KindImage, Body: uri, Author: author})
}

// CaptureVoice records a voice clip for the fixed capture duration. It does
// not touch the view, so callers may run it away from the tab's loop.
func (v *View) CaptureVoice(ctx context.Context) (string, error) {
	uri, err := v.enc.CaptureAudio(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		v.board.Post(notice.KindPermission, noticeMicrophone)
		return "", err
	}
	return uri, nil
}

// SendVoice records a clip and appends it as an audio message.
func (v *View) SendVoice(ctx context.Context, author string) (models.Message, error) {
	uri, err := v.CaptureVoice(ctx)
	if err != nil {
		return models.Message{}, err
	}
	return v.SendEncoded(ctx, author, models.KindAudio, uri)
}

// SendAudio appends an uploaded clip as an audio message.
func (v *View) SendAudio(ctx context.Context, author string, clip attachment.Clip) (models.Message, error) {
	uri, err := v.enc.EncodeAudio(clip)
	if err != nil {
		v.board.Post(notice.KindAttachment, noticeBadAudio)
		return models.Message{}, err
	}
	return v.SendEncoded(ctx, author, models.KindAudio, uri)
}

// SendEncoded appends a message whose body is already a data URI.
func (v *View) SendEncoded(ctx context.Context, author string, kind models.MessageKind, uri string) (models.Message, error) {
	return v.send(ctx, models.Message{Kind: kind, Body: uri, Author: author})
}

// send extends the tab's own copy of the log, not a fresh read, so a tab
// that has not yet seen another tab's write overwrites it.
func (v *View) send(ctx context.Context, msg models.Message) (models.Message, error) {
	v.mu.Lock()
	if v.active == "" {
		v.mu.Unlock()
		return models.Message{}, ErrNotOpen
	}
	id := v.active
	updated, err := v.log.Extend(ctx, id, v.messages, msg)
	if updated == nil {
		v.mu.Unlock()
		return models.Message{}, err
	}
	v.messages = updated
	snapshot := cloneMessages(updated)
	v.mu.Unlock()

	if err != nil {
		v.log.logger.Warn().Err(err).Str("conversation", id).Msg("message kept in memory only")
		v.board.Post(notice.KindStorage, noticeNotSaved)
	}
	v.emit(Update{Conversation: id, Target: TargetMessages, Messages: snapshot})
	return snapshot[len(snapshot)-1], err
}

// SetAvatar stores an image as the conversation picture.
func (v *View) SetAvatar(ctx context.Context, f attachment.File) (string, error) {
	uri, err := v.enc.EncodeImage(f)
	if err != nil {
		v.board.Post(notice.KindAttachment, noticeNotImage)
		return "", err
	}

	v.mu.Lock()
	if v.active == "" {
		v.mu.Unlock()
		return "", ErrNotOpen
	}
	id := v.active
	err = v.log.SetAvatar(ctx, id, uri)
	v.avatar = uri
	v.mu.Unlock()

	if err != nil {
		v.log.logger.Warn().Err(err).Str("conversation", id).Msg("avatar kept in memory only")
		v.board.Post(notice.KindStorage, noticeAvatar)
	}
	v.emit(Update{Conversation: id, Target: TargetAvatar, Avatar: uri})
	return uri, err
}

// Close drops the view's subscriptions.
func (v *View) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, cancel := range v.cancels {
		cancel()
	}
	v.cancels = nil
	v.active = ""
}

func cloneMessages(msgs []models.Message) []models.Message {
	out := make([]models.Message, len(msgs))
	copy(out, msgs)
	return out
}
