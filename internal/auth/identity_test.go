package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"udmportal/internal/kv"
	"udmportal/internal/models"
)

func TestCreateAccountAndSignIn(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	svc := NewService(db, nil, time.Hour)
	ctx := context.Background()

	user, err := svc.CreateAccount(ctx, "demoUser", "Demo@Example.com", "demo123")
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if user.Email != "demo@example.com" {
		t.Fatalf("email not normalized: %s", user.Email)
	}
	if user.PasswordHash == "demo123" {
		t.Fatalf("password stored in clear")
	}
	if _, err := svc.CreateAccount(ctx, "other", "demo@example.com", "x"); !errors.Is(err, ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists, got %v", err)
	}
	if _, err := svc.CreateAccount(ctx, "", "a@b.c", "x"); !errors.Is(err, ErrMissingFields) {
		t.Fatalf("expected ErrMissingFields, got %v", err)
	}

	for _, id := range []string{"demoUser", "demo@example.com"} {
		got, token, err := svc.SignIn(ctx, id, "demo123")
		if err != nil {
			t.Fatalf("SignIn(%s): %v", id, err)
		}
		if got.ID != user.ID || token == "" {
			t.Fatalf("unexpected sign in result: %+v %q", got, token)
		}
	}
	if _, _, err := svc.SignIn(ctx, "demoUser", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, _, err := svc.SignIn(ctx, "nobody", "demo123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}
}

func TestSessionChangeListeners(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	svc := NewService(db, nil, time.Hour)
	ctx := context.Background()
	if err := svc.SeedUsers(ctx, DemoUsers); err != nil {
		t.Fatalf("SeedUsers: %v", err)
	}
	// seeding twice is a no-op
	if err := svc.SeedUsers(ctx, DemoUsers); err != nil {
		t.Fatalf("SeedUsers again: %v", err)
	}

	var events []SessionEvent
	cancel := svc.OnSessionChange(func(ev SessionEvent) { events = append(events, ev) })

	_, token, err := svc.SignIn(ctx, "admin", "admin123")
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if err := svc.SignOut(ctx, token); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	if _, err := svc.ValidateToken(ctx, token); err == nil {
		t.Fatalf("token still valid after sign out")
	}
	if len(events) != 2 || !events[0].SignedIn || events[1].SignedIn {
		t.Fatalf("unexpected events: %+v", events)
	}
	if events[1].User.Email != "admin@example.com" {
		t.Fatalf("sign out event lost the user: %+v", events[1].User)
	}

	cancel()
	if _, _, err := svc.SignIn(ctx, "admin", "admin123"); err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("listener called after cancel")
	}
}

func TestSessionMarkerRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore(0)

	if _, ok := ReadSessionMarker(ctx, store); ok {
		t.Fatalf("expected no marker")
	}
	m := MarkerFor(&models.User{ID: 1, Username: "demoUser", Email: "demo@example.com"})
	if err := WriteSessionMarker(ctx, store, m); err != nil {
		t.Fatalf("WriteSessionMarker: %v", err)
	}
	got, ok := ReadSessionMarker(ctx, store)
	if !ok || got != m {
		t.Fatalf("marker mismatch: %+v", got)
	}
	if err := ClearSessionMarker(ctx, store); err != nil {
		t.Fatalf("ClearSessionMarker: %v", err)
	}
	if _, ok := ReadSessionMarker(ctx, store); ok {
		t.Fatalf("expected marker cleared")
	}
}

func TestRequireUserResolvesTokenOwner(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := openTestDB(t)
	defer db.Close()
	svc := NewService(db, nil, time.Hour)
	ctx := context.Background()
	if err := svc.SeedUsers(ctx, DemoUsers); err != nil {
		t.Fatalf("SeedUsers: %v", err)
	}
	_, demoToken, err := svc.SignIn(ctx, "demoUser", "demo123")
	if err != nil {
		t.Fatalf("SignIn demo: %v", err)
	}
	// a later sign-in by another account must not change who demo is
	if _, _, err := svc.SignIn(ctx, "admin", "admin123"); err != nil {
		t.Fatalf("SignIn admin: %v", err)
	}

	router := gin.New()
	router.GET("/portal", svc.Middleware(), svc.RequireUser(), func(c *gin.Context) {
		m, _ := PrincipalFromContext(c)
		c.String(http.StatusOK, m.Email)
	})

	req := httptest.NewRequest(http.MethodGet, "/portal", nil)
	req.Header.Set("Authorization", "Bearer "+demoToken)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "demo@example.com" {
		t.Fatalf("unexpected response %d %q", rec.Code, rec.Body.String())
	}

	if _, err := db.Exec(`DELETE FROM users WHERE username = ?`, "demoUser"); err != nil {
		t.Fatalf("delete user: %v", err)
	}
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a removed account, got %d", rec.Code)
	}
}

func TestRequireUserWithoutMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := openTestDB(t)
	defer db.Close()
	svc := NewService(db, nil, time.Hour)

	router := gin.New()
	router.GET("/portal", svc.RequireUser(), func(c *gin.Context) { c.Status(http.StatusOK) })
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/portal", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without an authenticated user, got %d", rec.Code)
	}
}

func TestClearSessionMarkerForOnlyClearsOwnMarker(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore(0)
	admin := MarkerFor(&models.User{ID: 2, Username: "admin", Email: "admin@example.com"})
	if err := WriteSessionMarker(ctx, store, admin); err != nil {
		t.Fatalf("WriteSessionMarker: %v", err)
	}

	cleared, err := ClearSessionMarkerFor(ctx, store, 1)
	if err != nil || cleared {
		t.Fatalf("marker of user 2 cleared by user 1: cleared=%v err=%v", cleared, err)
	}
	if _, ok := ReadSessionMarker(ctx, store); !ok {
		t.Fatalf("marker should survive another user's sign out")
	}

	cleared, err = ClearSessionMarkerFor(ctx, store, 2)
	if err != nil || !cleared {
		t.Fatalf("expected marker cleared: cleared=%v err=%v", cleared, err)
	}
	if _, ok := ReadSessionMarker(ctx, store); ok {
		t.Fatalf("marker still present")
	}
}

func TestCSRFMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := openTestDB(t)
	defer db.Close()
	svc := NewService(db, nil, time.Hour)

	router := gin.New()
	router.POST("/x", svc.CSRFMiddleware(), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	req := httptest.NewRequest(http.MethodPost, "/x", nil)
	req.AddCookie(&http.Cookie{Name: svc.CSRFCookieName(), Value: "abc"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without header, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/x", nil)
	req.AddCookie(&http.Cookie{Name: svc.CSRFCookieName(), Value: "abc"})
	req.Header.Set(svc.CSRFHeaderName(), "abc")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 with matching token, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/x", nil)
	req.Header.Set("Authorization", "Bearer t")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("bearer requests skip csrf, got %d", rec.Code)
	}
}
