package auth

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"udmportal/internal/config"
	"udmportal/internal/redis"
	"udmportal/internal/storage"
)

func TestAuthIssueValidateRevoke(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	insertUser(t, db, 1)
	ctx := context.Background()
	svc := NewService(db, nil, time.Hour)

	token := mustIssue(t, svc, 1)
	if userID, err := svc.ValidateToken(ctx, token); err != nil || userID != 1 {
		t.Fatalf("ValidateToken failed: id=%d err=%v", userID, err)
	}
	if err := svc.RevokeToken(ctx, token); err != nil {
		t.Fatalf("RevokeToken error: %v", err)
	}
	if _, err := svc.ValidateToken(ctx, token); err == nil {
		t.Fatalf("expected error after revoke")
	}
	if _, err := svc.ValidateToken(ctx, ""); err == nil {
		t.Fatalf("expected error for empty token")
	}
	if _, err := svc.IssueToken(ctx, 0); err == nil {
		t.Fatalf("expected error for invalid user id")
	}
}

func TestRevokeUserTokensLeavesOtherUsers(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	insertUser(t, db, 1)
	insertUser(t, db, 2)
	ctx := context.Background()
	svc := NewService(db, nil, time.Hour)

	first, second := mustIssue(t, svc, 1), mustIssue(t, svc, 1)
	other := mustIssue(t, svc, 2)

	if err := svc.RevokeUserTokens(ctx, 1); err != nil {
		t.Fatalf("RevokeUserTokens error: %v", err)
	}
	for _, token := range []string{first, second} {
		if _, err := svc.ValidateToken(ctx, token); err == nil {
			t.Fatalf("token of user 1 still valid after revoke all")
		}
	}
	if userID, err := svc.ValidateToken(ctx, other); err != nil || userID != 2 {
		t.Fatalf("token of user 2 should survive: id=%d err=%v", userID, err)
	}
	if err := svc.RevokeUserTokens(ctx, 0); err != nil {
		t.Fatalf("RevokeUserTokens(0) should be a no-op: %v", err)
	}
}

func TestAuthValidateExpiredToken(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	insertUser(t, db, 2)

	svc := NewService(db, nil, 10*time.Millisecond)
	token := mustIssue(t, svc, 2)
	time.Sleep(20 * time.Millisecond)
	if _, err := svc.ValidateToken(context.Background(), token); err == nil {
		t.Fatalf("expected expiration error")
	}
	if n := countTokens(t, db, token); n != 0 {
		t.Fatalf("expired token not purged, %d rows left", n)
	}
}

func TestAuthTokenCacheUsesRedis(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	insertUser(t, db, 10)

	cacheClient, cleanup := newRedisCacheClient(t)
	defer cleanup()

	svc := NewService(db, cacheClient, time.Hour)
	ctx := context.Background()
	token := mustIssue(t, svc, 10)

	raw := cacheClient.Raw()
	key := redisTokenPrefix + token
	got, err := raw.Get(ctx, key).Result()
	if err != nil {
		t.Fatalf("get redis token: %v", err)
	}
	if got != "10" {
		t.Fatalf("expected user 10 in rdb, got %s", got)
	}

	// the cached entry answers even once the row is gone
	_, _ = db.Exec(`DELETE FROM user_tokens WHERE token = ?`, token)
	if userID, err := svc.ValidateToken(ctx, token); err != nil || userID != 10 {
		t.Fatalf("ValidateToken via rdb failed: id=%d err=%v", userID, err)
	}

	if err := svc.RevokeToken(ctx, token); err != nil {
		t.Fatalf("RevokeToken: %v", err)
	}
	if _, err := raw.Get(ctx, key).Result(); err == nil {
		t.Fatalf("expected redis key deleted")
	}
	if _, err := svc.ValidateToken(ctx, token); err == nil {
		t.Fatalf("expected error after revoke and rdb delete")
	}
}

func TestRevokeUserTokensDropsCachedTokens(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	insertUser(t, db, 11)
	insertUser(t, db, 12)

	cacheClient, cleanup := newRedisCacheClient(t)
	defer cleanup()
	svc := NewService(db, cacheClient, time.Hour)
	ctx := context.Background()

	first, second := mustIssue(t, svc, 11), mustIssue(t, svc, 11)
	other := mustIssue(t, svc, 12)

	if err := svc.RevokeUserTokens(ctx, 11); err != nil {
		t.Fatalf("RevokeUserTokens: %v", err)
	}
	raw := cacheClient.Raw()
	for _, token := range []string{first, second} {
		if n, err := raw.Exists(ctx, redisTokenPrefix+token).Result(); err != nil || n != 0 {
			t.Fatalf("cached token survived revoke all: n=%d err=%v", n, err)
		}
		if _, err := svc.ValidateToken(ctx, token); err == nil {
			t.Fatalf("revoked token still validates")
		}
	}
	if n, err := raw.Exists(ctx, redisTokenPrefix+other).Result(); err != nil || n != 1 {
		t.Fatalf("other user's cached token dropped: n=%d err=%v", n, err)
	}
}

func TestCachedTokenTTLFollowsExpiry(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	insertUser(t, db, 13)

	cacheClient, cleanup := newRedisCacheClient(t)
	defer cleanup()
	svc := NewService(db, cacheClient, time.Hour)
	ctx := context.Background()

	issued := mustIssue(t, svc, 13)
	ttl, err := cacheClient.TTL(ctx, redisTokenPrefix+issued)
	if err != nil {
		t.Fatalf("TTL: %v", err)
	}
	if ttl <= 59*time.Minute || ttl > time.Hour {
		t.Fatalf("issued token cached for %s, want about the token lifetime", ttl)
	}

	// a token found only in the database is cached for what it has left
	now := time.Now().UTC()
	const short = "short-lived-token"
	if _, err := db.Exec(`INSERT INTO user_tokens (token, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		short, 13, now, now.Add(30*time.Second)); err != nil {
		t.Fatalf("insert token: %v", err)
	}
	if _, err := svc.ValidateToken(ctx, short); err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	ttl, err = cacheClient.TTL(ctx, redisTokenPrefix+short)
	if err != nil {
		t.Fatalf("TTL: %v", err)
	}
	if ttl <= 0 || ttl > 30*time.Second {
		t.Fatalf("validated token cached for %s, want at most 30s", ttl)
	}
}

func mustIssue(t *testing.T, svc *Service, userID int64) string {
	t.Helper()
	token, err := svc.IssueToken(context.Background(), userID)
	if err != nil {
		t.Fatalf("IssueToken(%d): %v", userID, err)
	}
	if token == "" {
		t.Fatalf("expected token")
	}
	return token
}

func countTokens(t *testing.T, db *sql.DB, token string) int {
	t.Helper()
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM user_tokens WHERE token = ?`, token).Scan(&count); err != nil {
		t.Fatalf("query tokens: %v", err)
	}
	return count
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {DSN: ":memory:"},
		},
	}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	return db
}

func insertUser(t *testing.T, db *sql.DB, id int64) {
	t.Helper()
	name := fmt.Sprintf("user_%d", id)
	_, err := db.Exec(`INSERT INTO users (id, username, email, password_hash, created_at) VALUES (?, ?, ?, '', ?)`,
		id, name, name+"@example.com", time.Now().UTC())
	if err != nil {
		t.Fatalf("insert user: %v", err)
	}
}

func newRedisCacheClient(t *testing.T) (*redis.Client, func()) {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis-backed auth tests")
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("atoi port: %v", err)
	}
	db := 0
	if v := os.Getenv("TEST_REDIS_DB"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			db = parsed
		}
	}
	client, err := redis.NewRedisClient(&config.Config{
		Redis: config.RedisConfig{Host: host, Port: port, DB: db},
	})
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Raw().FlushDB(ctx).Err(); err != nil {
		t.Fatalf("flush db: %v", err)
	}
	return client, func() { client.Close() }
}
