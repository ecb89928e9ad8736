package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"udmportal/internal/kv"
	"udmportal/internal/logger"
	"udmportal/internal/metrics"
	"udmportal/internal/models"
)

var (
	ErrEmptyText   = errors.New("message text is empty")
	ErrInvalidKind = errors.New("unknown message kind")
	// ErrPersist marks a write that reached memory but not the store.
	ErrPersist = errors.New("message log not persisted")
)

// Log reads and writes whole message logs. There is no locking around the
// read-modify-write: concurrent writers to one conversation race and the
// last write wins.
type Log struct {
	store  kv.Store
	now    func() time.Time
	logger zerolog.Logger
}

func NewLog(store kv.Store) *Log {
	return &Log{store: store, now: time.Now, logger: logger.Component("conversation")}
}

// Load returns the persisted log. Absent, unreadable and corrupt values all
// read as an empty log.
func (l *Log) Load(ctx context.Context, conversationID string) []models.Message {
	key := MessagesKey(conversationID)
	raw, ok, err := l.store.Get(ctx, key)
	if err != nil {
		l.logger.Warn().Err(err).Str("key", key).Msg("read message log failed")
		return []models.Message{}
	}
	if !ok {
		return []models.Message{}
	}
	msgs, ok := decodeLog(raw)
	if !ok {
		metrics.CorruptReads.WithLabelValues("messages").Inc()
		l.logger.Warn().Str("key", key).Msg("message log is not valid, reading as empty")
		return []models.Message{}
	}
	return msgs
}

// Append re-reads the persisted log and adds msg at the end.
func (l *Log) Append(ctx context.Context, conversationID string, msg models.Message) ([]models.Message, error) {
	return l.Extend(ctx, conversationID, l.Load(ctx, conversationID), msg)
}

// Extend adds msg after base and writes the whole sequence back with a
// single Set. The new message gets an id from the clock, moved past every
// id already in base, and a createdAt no earlier than the last record's.
// When the write fails the extended sequence is still returned, with an
// error wrapping ErrPersist.
func (l *Log) Extend(ctx context.Context, conversationID string, base []models.Message, msg models.Message) ([]models.Message, error) {
	if msg.Kind == "" {
		msg.Kind = models.KindText
	}
	if !msg.Kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, msg.Kind)
	}
	if msg.Kind == models.KindText && strings.TrimSpace(msg.Body) == "" {
		return nil, ErrEmptyText
	}
	if msg.Author == "" {
		msg.Author = defaultAuthor
	}

	now := l.now().UTC()
	msg.ID = now.UnixMilli()
	for _, m := range base {
		if m.ID >= msg.ID {
			msg.ID = m.ID + 1
		}
	}
	if n := len(base); n > 0 {
		if last, err := time.Parse(TimeLayout, base[n-1].CreatedAt); err == nil && last.After(now) {
			now = last
		}
	}
	msg.CreatedAt = now.Format(TimeLayout)

	updated := make([]models.Message, 0, len(base)+1)
	updated = append(updated, base...)
	updated = append(updated, msg)

	raw, err := encodeLog(updated)
	if err != nil {
		return nil, fmt.Errorf("encode message log: %w", err)
	}
	metrics.MessagesAppended.WithLabelValues(string(msg.Kind)).Inc()
	if err := l.store.Set(ctx, MessagesKey(conversationID), raw); err != nil {
		metrics.PersistFailures.Inc()
		return updated, fmt.Errorf("%w: %v", ErrPersist, err)
	}
	return updated, nil
}

// LoadAvatar returns the stored avatar, or "" when absent or unreadable.
func (l *Log) LoadAvatar(ctx context.Context, conversationID string) string {
	key := AvatarKey(conversationID)
	raw, ok, err := l.store.Get(ctx, key)
	if err != nil {
		l.logger.Warn().Err(err).Str("key", key).Msg("read avatar failed")
		return ""
	}
	if !ok {
		return ""
	}
	avatar, ok := decodeAvatar(raw)
	if !ok {
		metrics.CorruptReads.WithLabelValues("avatar").Inc()
		l.logger.Warn().Str("key", key).Msg("avatar is not valid, reading as empty")
	}
	return avatar
}

func (l *Log) SetAvatar(ctx context.Context, conversationID, avatar string) error {
	raw, err := encodeAvatar(avatar)
	if err != nil {
		return err
	}
	if err := l.store.Set(ctx, AvatarKey(conversationID), raw); err != nil {
		metrics.PersistFailures.Inc()
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	return nil
}
