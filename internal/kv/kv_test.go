package kv

import (
	"context"
	"database/sql"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"udmportal/internal/config"
	"udmportal/internal/redis"
	"udmportal/internal/storage"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "globalGroupChatMessages")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "globalGroupChatMessages", "[]"))
	require.NoError(t, s.Set(ctx, "globalGroupChatMessages", `[{"v":1}]`))
	v, ok, err := s.Get(ctx, "globalGroupChatMessages")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `[{"v":1}]`, v)

	require.NoError(t, s.Delete(ctx, "globalGroupChatMessages"))
	_, ok, err = s.Get(ctx, "globalGroupChatMessages")
	require.NoError(t, err)
	assert.False(t, ok)

	// deleting an absent key is not an error
	require.NoError(t, s.Delete(ctx, "missing"))
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore(0))
}

func TestMemoryStoreQuota(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(10)

	require.NoError(t, s.Set(ctx, "k", "1234"))
	assert.Equal(t, 5, s.Used())
	assert.ErrorIs(t, s.Set(ctx, "k2", "123456789"), ErrQuotaExceeded)

	// replacing an entry only counts the difference
	require.NoError(t, s.Set(ctx, "k", "123456789"))
	assert.Equal(t, 10, s.Used())

	v, _, _ := s.Get(ctx, "k")
	assert.Equal(t, "123456789", v)
	require.NoError(t, s.Delete(ctx, "k"))
	assert.Equal(t, 0, s.Used())
}

func newSQLiteDB(t *testing.T) *sql.DB {
	t.Helper()
	cfg := &config.Config{Databases: map[string]config.DatabaseConfig{"sqlite3": {DSN: ":memory:"}}}
	db, err := storage.Open("sqlite3", cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, storage.Migrate(db, "sqlite3"))
	return db
}

func TestSQLStore(t *testing.T) {
	s, err := NewSQLStore(newSQLiteDB(t), "sqlite3")
	require.NoError(t, err)
	exerciseStore(t, s)
}

func TestSQLStoreRejectsUnknownDriver(t *testing.T) {
	_, err := NewSQLStore(newSQLiteDB(t), "postgres")
	assert.Error(t, err)
}

func TestLocalBrokerFanOutAndCancel(t *testing.T) {
	b := NewLocalBroker()
	var got []string
	cancelA := b.Subscribe(func(c Change) { got = append(got, "a:"+c.Key) })
	b.Subscribe(func(c Change) { got = append(got, "b:"+c.Key) })

	require.NoError(t, b.Publish(context.Background(), Change{Key: "x"}))
	cancelA()
	cancelA()
	require.NoError(t, b.Publish(context.Background(), Change{Key: "y"}))

	assert.Equal(t, []string{"a:x", "b:x", "b:y"}, got)
	assert.Equal(t, 1, b.Subscribers())
}

func TestHandleSkipsSelfWrites(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)
	broker := NewLocalBroker()
	tabA := NewHandle("tab-a", store, broker)
	tabB := NewHandle("tab-b", store, broker)

	var seenA, seenB []Change
	tabA.Subscribe("", func(c Change) { seenA = append(seenA, c) })
	tabB.Subscribe("", func(c Change) { seenB = append(seenB, c) })

	require.NoError(t, tabA.Set(ctx, "posts", "[]"))

	assert.Empty(t, seenA, "writer must not be notified of its own write")
	require.Len(t, seenB, 1)
	assert.Equal(t, "posts", seenB[0].Key)
	assert.Equal(t, "[]", seenB[0].NewValue)
	assert.Equal(t, "tab-a", seenB[0].Origin)
	assert.False(t, seenB[0].At.IsZero())
}

func TestHandleKeyFilterAndDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)
	broker := NewLocalBroker()
	writer := NewHandle("w", store, broker)
	reader := NewHandle("r", store, broker)

	var seen []Change
	cancel := reader.Subscribe("userData", func(c Change) { seen = append(seen, c) })

	require.NoError(t, writer.Set(ctx, "posts", "[]"))
	require.NoError(t, writer.Set(ctx, "userData", "{}"))
	require.NoError(t, writer.Delete(ctx, "userData"))
	cancel()
	require.NoError(t, writer.Set(ctx, "userData", "{}"))

	require.Len(t, seen, 2)
	assert.False(t, seen[0].Removed)
	assert.True(t, seen[1].Removed)
}

func TestHandleFailedWriteDoesNotPublish(t *testing.T) {
	ctx := context.Background()
	broker := NewLocalBroker()
	writer := NewHandle("w", NewMemoryStore(4), broker)
	reader := NewHandle("r", NewMemoryStore(0), broker)

	published := 0
	reader.Subscribe("", func(Change) { published++ })

	err := writer.Set(ctx, "posts", "[1,2,3]")
	assert.ErrorIs(t, err, ErrQuotaExceeded)
	assert.Zero(t, published)
}

func newRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis-backed kv tests")
	}
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	client, err := redis.NewRedisClient(&config.Config{Redis: config.RedisConfig{Host: host, Port: port}})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisStore(t *testing.T) {
	client := newRedisClient(t)
	s := NewRedisStore(client)
	t.Cleanup(func() { _ = client.Del(context.Background(), redisKeyPrefix+"globalGroupChatMessages") })
	exerciseStore(t, s)
}

func TestRedisNotifierRoundTrip(t *testing.T) {
	client := newRedisClient(t)
	n := NewRedisNotifier(client)
	require.NoError(t, n.Start(context.Background()))
	defer n.Close()

	ch := make(chan Change, 1)
	n.Subscribe(func(c Change) { ch <- c })

	want := Change{Key: "globalGroupChatAvatar", NewValue: `"x"`, Origin: "tab-1", At: time.Now().UTC().Truncate(time.Millisecond)}
	require.NoError(t, n.Publish(context.Background(), want))

	select {
	case got := <-ch:
		assert.Equal(t, want.Key, got.Key)
		assert.Equal(t, want.NewValue, got.NewValue)
		assert.Equal(t, want.Origin, got.Origin)
		assert.True(t, want.At.Equal(got.At))
	case <-time.After(2 * time.Second):
		t.Fatalf("did not receive pubsub change")
	}
}
