package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"udmportal/internal/config"
	"udmportal/internal/logger"
	"udmportal/internal/models"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrMissingFields      = errors.New("username, email and password are required")
	ErrAccountExists      = errors.New("an account with this email already exists")
)

// SessionEvent reports a sign-in or sign-out.
type SessionEvent struct {
	User     models.User
	SignedIn bool
}

// CreateAccount registers a user; the email must be unused.
func (s *Service) CreateAccount(ctx context.Context, username, email, password string) (*models.User, error) {
	username = strings.TrimSpace(username)
	email = strings.ToLower(strings.TrimSpace(email))
	if username == "" || email == "" || password == "" {
		return nil, ErrMissingFields
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE email = ?)`, email,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check email: %w", err)
	}
	if exists {
		return nil, ErrAccountExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, email, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		username, email, string(hash), now,
	)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("user id: %w", err)
	}
	return &models.User{ID: id, Username: username, Email: email, PasswordHash: string(hash), CreatedAt: now}, nil
}

// SignIn checks the credentials, identified by username or email, and
// issues a token.
func (s *Service) SignIn(ctx context.Context, identifier, password string) (*models.User, string, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return nil, "", ErrInvalidCredentials
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, username, email, password_hash, created_at FROM users WHERE email = ? OR username = ? ORDER BY id LIMIT 1`,
		strings.ToLower(identifier), identifier,
	)
	var user models.User
	if err := row.Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", fmt.Errorf("query user: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, "", ErrInvalidCredentials
	}
	token, err := s.IssueToken(ctx, user.ID)
	if err != nil {
		return nil, "", err
	}
	s.notify(SessionEvent{User: user, SignedIn: true})
	return &user, token, nil
}

// SignOut revokes the token and notifies session listeners.
func (s *Service) SignOut(ctx context.Context, authToken string) error {
	userID, err := s.ValidateToken(ctx, authToken)
	if err != nil {
		return err
	}
	if err := s.RevokeToken(ctx, authToken); err != nil {
		return err
	}
	user, err := s.User(ctx, userID)
	if err != nil {
		user = &models.User{ID: userID}
	}
	s.notify(SessionEvent{User: *user, SignedIn: false})
	return nil
}

// User loads an account by id.
func (s *Service) User(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, email, password_hash, created_at FROM users WHERE id = ?`, id,
	).Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %d: %w", id, sql.ErrNoRows)
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &user, nil
}

// OnSessionChange registers fn for every sign-in and sign-out. The returned
// func removes it.
func (s *Service) OnSessionChange(fn func(SessionEvent)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.listeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Service) notify(ev SessionEvent) {
	s.mu.Lock()
	fns := make([]func(SessionEvent), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// SeedUsers creates the configured accounts that do not exist yet.
func (s *Service) SeedUsers(ctx context.Context, users []config.SeedUser) error {
	for _, u := range users {
		_, err := s.CreateAccount(ctx, u.Username, u.Email, u.Password)
		switch {
		case err == nil:
			logger.L.Info().Str("email", u.Email).Msg("seeded account")
		case errors.Is(err, ErrAccountExists):
		default:
			return fmt.Errorf("seed %s: %w", u.Email, err)
		}
	}
	return nil
}

// DemoUsers are seeded when the config lists none.
var DemoUsers = []config.SeedUser{
	{Username: "demoUser", Email: "demo@example.com", Password: "demo123"},
	{Username: "admin", Email: "admin@example.com", Password: "admin123"},
}
