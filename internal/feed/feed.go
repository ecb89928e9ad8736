// Package feed is the portal's announcement feed: posts, likes, comments and
// the passkey-confirmed posting flow.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"udmportal/internal/conversation"
	"udmportal/internal/kv"
	"udmportal/internal/logger"
	"udmportal/internal/metrics"
	"udmportal/internal/models"
)

var (
	ErrPostNotFound = errors.New("post not found")
	ErrEmptyComment = errors.New("comment is empty")
)

// Feed reads and writes the posts and likedPostIds records of one tab.
type Feed struct {
	store kv.Store
	now   func() time.Time
	// serializes read-modify-write within this tab
	mu sync.Mutex
}

func New(store kv.Store) *Feed {
	return &Feed{store: store, now: time.Now}
}

// SeedPosts are shown until the feed has been saved once, and again whenever
// the saved feed cannot be read.
func SeedPosts(now time.Time) []models.Post {
	return []models.Post{
		{
			ID:      1,
			User:    "The Supreme Student Council",
			Content: "JUST IN: Benjamin Remetilla... endorsed party for UDM SSG Elections 2025.",
			Likes:   2,
			Comments: []models.Comment{
				{User: "Alice", Text: "Nice!"},
				{User: "Bob", Text: "Wow"},
			},
			Image:     "/assets/ssgpost.png",
			CreatedAt: now.Add(-48 * time.Hour).UnixMilli(),
		},
		{
			ID:      2,
			User:    "Student Organization",
			Content: "Exciting news: New workshop on leadership skills this Friday!",
			Likes:   5,
			Comments: []models.Comment{
				{User: "Charlie", Text: "Great!"},
				{User: "Dave", Text: "Count me in"},
			},
			Image:     "/assets/minkpost.png",
			CreatedAt: now.Add(-39 * time.Minute).UnixMilli(),
		},
	}
}

func (f *Feed) Posts(ctx context.Context) []models.Post {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loadPosts(ctx)
}

// Liked returns the ids of posts this profile has liked.
func (f *Feed) Liked(ctx context.Context) []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loadLiked(ctx)
}

func (f *Feed) loadPosts(ctx context.Context) []models.Post {
	now := f.now()
	raw, ok, err := f.store.Get(ctx, conversation.PostsKey)
	if err != nil {
		logger.L.Warn().Err(err).Msg("read posts failed")
		return SeedPosts(now)
	}
	if !ok {
		return SeedPosts(now)
	}
	var posts []models.Post
	if err := json.Unmarshal([]byte(raw), &posts); err != nil || posts == nil {
		metrics.CorruptReads.WithLabelValues("posts").Inc()
		logger.L.Warn().Err(err).Msg("posts are not valid, showing the default feed")
		return SeedPosts(now)
	}
	for i := range posts {
		if posts[i].CreatedAt == 0 {
			posts[i].CreatedAt = now.UnixMilli()
		}
		if posts[i].Comments == nil {
			posts[i].Comments = []models.Comment{}
		}
	}
	return posts
}

func (f *Feed) loadLiked(ctx context.Context) []int64 {
	raw, ok, err := f.store.Get(ctx, conversation.LikedPostsKey)
	if err != nil || !ok {
		return []int64{}
	}
	var ids []int64
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		metrics.CorruptReads.WithLabelValues("likedPostIds").Inc()
		return []int64{}
	}
	return ids
}

func (f *Feed) savePosts(ctx context.Context, posts []models.Post) error {
	data, err := json.Marshal(posts)
	if err != nil {
		return err
	}
	if err := f.store.Set(ctx, conversation.PostsKey, string(data)); err != nil {
		return fmt.Errorf("save posts: %w", err)
	}
	return nil
}

func (f *Feed) saveLiked(ctx context.Context, ids []int64) error {
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	if err := f.store.Set(ctx, conversation.LikedPostsKey, string(data)); err != nil {
		return fmt.Errorf("save liked posts: %w", err)
	}
	return nil
}

func indexOf(posts []models.Post, id int64) int {
	for i, p := range posts {
		if p.ID == id {
			return i
		}
	}
	return -1
}

// ToggleLike likes or unlikes a post. Like counts never drop below zero.
func (f *Feed) ToggleLike(ctx context.Context, postID int64) (models.Post, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	posts := f.loadPosts(ctx)
	i := indexOf(posts, postID)
	if i < 0 {
		return models.Post{}, false, ErrPostNotFound
	}
	liked := f.loadLiked(ctx)
	pos := -1
	for j, id := range liked {
		if id == postID {
			pos = j
			break
		}
	}
	nowLiked := pos < 0
	if nowLiked {
		liked = append(liked, postID)
		posts[i].Likes++
	} else {
		liked = append(liked[:pos], liked[pos+1:]...)
		posts[i].Likes = max(posts[i].Likes-1, 0)
	}
	if err := f.saveLiked(ctx, liked); err != nil {
		return posts[i], nowLiked, err
	}
	return posts[i], nowLiked, f.savePosts(ctx, posts)
}

// AddComment appends a trimmed comment. Blank comments are ignored.
func (f *Feed) AddComment(ctx context.Context, postID int64, user, text string) (models.Post, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.Post{}, ErrEmptyComment
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	posts := f.loadPosts(ctx)
	i := indexOf(posts, postID)
	if i < 0 {
		return models.Post{}, ErrPostNotFound
	}
	now := f.now().UnixMilli()
	posts[i].Comments = append(posts[i].Comments, models.Comment{ID: now, User: user, Text: text, CreatedAt: now})
	return posts[i], f.savePosts(ctx, posts)
}

// Delete removes a post and forgets whether it was liked.
func (f *Feed) Delete(ctx context.Context, postID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	posts := f.loadPosts(ctx)
	i := indexOf(posts, postID)
	if i < 0 {
		return ErrPostNotFound
	}
	posts = append(posts[:i], posts[i+1:]...)
	if err := f.savePosts(ctx, posts); err != nil {
		return err
	}
	liked := f.loadLiked(ctx)
	for j, id := range liked {
		if id == postID {
			return f.saveLiked(ctx, append(liked[:j], liked[j+1:]...))
		}
	}
	return nil
}

// Commit puts the draft at the front of the feed. The new id comes from the
// clock, moved past every existing id.
func (f *Feed) Commit(ctx context.Context, d Draft) (models.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	posts := f.loadPosts(ctx)
	now := f.now()
	p := models.Post{
		ID:        now.UnixMilli(),
		User:      d.Author,
		Content:   d.Content,
		Comments:  []models.Comment{},
		Image:     d.Image,
		CreatedAt: now.UnixMilli(),
	}
	for _, existing := range posts {
		if existing.ID >= p.ID {
			p.ID = existing.ID + 1
		}
	}
	if p.User == "" {
		p.User = "You"
	}
	posts = append([]models.Post{p}, posts...)
	return p, f.savePosts(ctx, posts)
}
