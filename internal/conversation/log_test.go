package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"udmportal/internal/kv"
	"udmportal/internal/models"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "globalGroupChatMessages", MessagesKey(GlobalID))
	assert.Equal(t, "globalGroupChatAvatar", AvatarKey(GlobalID))
	assert.Equal(t, "3GroupChatMessages", MessagesKey("3"))
	assert.Equal(t, "GroupChatMessages", MessagesKey(""))
	assert.Equal(t, "profile_demo@example.com", ProfileKey("demo@example.com"))
}

func TestLoadAbsentAndCorrupt(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore(0)
	log := NewLog(store)

	assert.Empty(t, log.Load(ctx, GlobalID))

	for _, raw := range []string{"{not json", `{"id":1}`, `"text"`, "null"} {
		require.NoError(t, store.Set(ctx, MessagesKey(GlobalID), raw))
		msgs := log.Load(ctx, GlobalID)
		assert.NotNil(t, msgs)
		assert.Empty(t, msgs, "raw %q", raw)
	}
}

func TestLoadFillsDefaultsForLegacyRecords(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore(0)
	legacy := `[
		{"id": 1717000000000, "text": "hello", "type": "text", "username": "Rojan", "timestamp": "2024-05-29T16:26:40.000Z"},
		{"id": 1717000000001, "type": "image", "content": "data:image/png;base64,AA==", "username": "Rojan", "timestamp": "2024-05-29T16:26:41.000Z"},
		42,
		{"content": "orphan"}
	]`
	require.NoError(t, store.Set(ctx, MessagesKey(GlobalID), legacy))

	msgs := NewLog(store).Load(ctx, GlobalID)
	require.Len(t, msgs, 3)

	assert.Equal(t, models.Message{
		ID: 1717000000000, Kind: models.KindText, Body: "hello", Author: "Rojan", CreatedAt: "2024-05-29T16:26:40.000Z",
	}, msgs[0])
	assert.Equal(t, models.KindImage, msgs[1].Kind)
	assert.Equal(t, "data:image/png;base64,AA==", msgs[1].Body)

	// no id, kind, author or timestamp
	assert.Equal(t, models.KindText, msgs[2].Kind)
	assert.Equal(t, "Guest", msgs[2].Author)
	assert.Equal(t, "1970-01-01T00:00:00.000Z", msgs[2].CreatedAt)
	assert.Equal(t, int64(4), msgs[2].ID)
}

func TestAppendThenLoad(t *testing.T) {
	ctx := context.Background()
	log := NewLog(kv.NewMemoryStore(0))
	log.now = fixedClock(time.Date(2025, 3, 1, 9, 30, 0, 123_000_000, time.UTC))

	msgs, err := log.Append(ctx, GlobalID, models.Message{Kind: models.KindText, Body: "hi", Author: "demo@example.com"})
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	loaded := log.Load(ctx, GlobalID)
	require.Len(t, loaded, 1)
	assert.Equal(t, "hi", loaded[0].Body)
	assert.Equal(t, "demo@example.com", loaded[0].Author)
	assert.Equal(t, models.KindText, loaded[0].Kind)
	assert.NotZero(t, loaded[0].ID)
	assert.Equal(t, "2025-03-01T09:30:00.123Z", loaded[0].CreatedAt)
	assert.Equal(t, msgs[0], loaded[0])
}

func TestAppendKeepsOrderAndUniqueIDs(t *testing.T) {
	ctx := context.Background()
	log := NewLog(kv.NewMemoryStore(0))
	// a frozen clock must still yield distinct ids
	log.now = fixedClock(time.UnixMilli(1_700_000_000_000))

	const n = 5
	for i := 0; i < n; i++ {
		_, err := log.Append(ctx, "2", models.Message{Body: "same", Author: "a"})
		require.NoError(t, err)
	}

	msgs := log.Load(ctx, "2")
	require.Len(t, msgs, n)
	seen := map[int64]bool{}
	for i, m := range msgs {
		assert.False(t, seen[m.ID], "duplicate id %d", m.ID)
		seen[m.ID] = true
		if i > 0 {
			assert.Greater(t, m.ID, msgs[i-1].ID)
		}
	}
	assert.Empty(t, log.Load(ctx, GlobalID), "other conversations are untouched")
}

func TestAppendClampsCreatedAtWhenClockGoesBack(t *testing.T) {
	ctx := context.Background()
	log := NewLog(kv.NewMemoryStore(0))
	later := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)

	log.now = fixedClock(later)
	_, err := log.Append(ctx, GlobalID, models.Message{Body: "first"})
	require.NoError(t, err)

	log.now = fixedClock(later.Add(-time.Hour))
	msgs, err := log.Append(ctx, GlobalID, models.Message{Body: "second"})
	require.NoError(t, err)
	assert.Equal(t, msgs[0].CreatedAt, msgs[1].CreatedAt)
	assert.Greater(t, msgs[1].ID, msgs[0].ID)
}

func TestAppendRejectsBlankTextAndUnknownKind(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore(0)
	log := NewLog(store)

	_, err := log.Append(ctx, GlobalID, models.Message{Kind: models.KindText, Body: "   "})
	assert.ErrorIs(t, err, ErrEmptyText)
	_, err = log.Append(ctx, GlobalID, models.Message{Kind: "video", Body: "x"})
	assert.ErrorIs(t, err, ErrInvalidKind)

	_, ok, _ := store.Get(ctx, MessagesKey(GlobalID))
	assert.False(t, ok)
}

func TestAppendWriteFailureKeepsSequence(t *testing.T) {
	ctx := context.Background()
	log := NewLog(kv.NewMemoryStore(8))

	msgs, err := log.Append(ctx, GlobalID, models.Message{Body: "too large for the quota"})
	assert.ErrorIs(t, err, ErrPersist)
	require.Len(t, msgs, 1)
	assert.Equal(t, "too large for the quota", msgs[0].Body)
	assert.Empty(t, log.Load(ctx, GlobalID))
}

func TestStaleTabOverwritesAnotherTabsAppend(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore(0)
	broker := kv.NewLocalBroker()
	tabA := NewLog(kv.NewHandle("tab-a", store, broker))
	tabB := NewLog(kv.NewHandle("tab-b", store, broker))

	seenByA := tabA.Load(ctx, GlobalID)
	seenByB := tabB.Load(ctx, GlobalID)

	_, err := tabA.Extend(ctx, GlobalID, seenByA, models.Message{Body: "m1", Author: "a"})
	require.NoError(t, err)
	_, err = tabB.Extend(ctx, GlobalID, seenByB, models.Message{Body: "m2", Author: "b"})
	require.NoError(t, err)

	// last writer wins on the whole value
	msgs := NewLog(store).Load(ctx, GlobalID)
	require.Len(t, msgs, 1)
	assert.Equal(t, "m2", msgs[0].Body)
}

func TestAvatarRoundTripAndCorrupt(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore(0)
	log := NewLog(store)

	assert.Equal(t, "", log.LoadAvatar(ctx, GlobalID))
	require.NoError(t, log.SetAvatar(ctx, GlobalID, "data:image/png;base64,AA=="))
	assert.Equal(t, "data:image/png;base64,AA==", log.LoadAvatar(ctx, GlobalID))

	require.NoError(t, store.Set(ctx, AvatarKey(GlobalID), "./prof.png"))
	assert.Equal(t, "", log.LoadAvatar(ctx, GlobalID))
}
