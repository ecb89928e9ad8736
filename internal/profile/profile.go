// Package profile stores the sidebar profile card of each account.
package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"udmportal/internal/attachment"
	"udmportal/internal/conversation"
	"udmportal/internal/kv"
	"udmportal/internal/logger"
	"udmportal/internal/metrics"
	"udmportal/internal/models"
)

const DefaultStatus = "College Student"

type Service struct {
	store kv.Store
	enc   *attachment.Encoder
}

func NewService(store kv.Store, enc *attachment.Encoder) *Service {
	if enc == nil {
		enc = attachment.NewEncoder(nil)
	}
	return &Service{store: store, enc: enc}
}

// Defaults is the card shown before the user edits anything.
func Defaults(email string) models.Profile {
	name, _, _ := strings.Cut(email, "@")
	return models.Profile{Name: name, Status: DefaultStatus}
}

// Load returns the stored card, or the defaults when it is missing or
// unreadable. Empty fields fall back to their defaults.
func (s *Service) Load(ctx context.Context, email string) models.Profile {
	def := Defaults(email)
	key := conversation.ProfileKey(email)
	raw, ok, err := s.store.Get(ctx, key)
	if err != nil {
		logger.L.Warn().Err(err).Str("key", key).Msg("read profile failed")
		return def
	}
	if !ok {
		return def
	}
	var p models.Profile
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		metrics.CorruptReads.WithLabelValues("profile").Inc()
		logger.L.Warn().Err(err).Str("key", key).Msg("profile is not valid, using defaults")
		return def
	}
	if p.Name == "" {
		p.Name = def.Name
	}
	if p.Status == "" {
		p.Status = def.Status
	}
	return p
}

// Save stores name, status and picture. The id is not editable and keeps
// its stored value.
func (s *Service) Save(ctx context.Context, email string, p models.Profile) (models.Profile, error) {
	current := s.Load(ctx, email)
	p.ID = current.ID
	if strings.TrimSpace(p.Name) == "" {
		p.Name = current.Name
	}
	if strings.TrimSpace(p.Status) == "" {
		p.Status = current.Status
	}
	data, err := json.Marshal(p)
	if err != nil {
		return current, err
	}
	if err := s.store.Set(ctx, conversation.ProfileKey(email), string(data)); err != nil {
		return current, fmt.Errorf("save profile: %w", err)
	}
	return p, nil
}

// SetPicture replaces the picture with an uploaded image.
func (s *Service) SetPicture(ctx context.Context, email string, f attachment.File) (models.Profile, error) {
	uri, err := s.enc.EncodeImage(f)
	if err != nil {
		return s.Load(ctx, email), err
	}
	p := s.Load(ctx, email)
	p.Pic = uri
	return s.Save(ctx, email, p)
}
