package api

import (
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"udmportal/internal/feed"
	"udmportal/internal/models"
	"udmportal/internal/tab"
)

type postView struct {
	models.Post
	TimeAgo string `json:"timeAgo"`
	Liked   bool   `json:"liked"`
}

func postViews(posts []models.Post, liked []int64, now time.Time) []postView {
	out := make([]postView, len(posts))
	for i, p := range posts {
		out[i] = postView{
			Post:    p,
			TimeAgo: feed.TimeAgo(time.UnixMilli(p.CreatedAt), now),
			Liked:   slices.Contains(liked, p.ID),
		}
	}
	return out
}

func postID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("post_id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid post id"})
		return 0, false
	}
	return id, true
}

func (h *Handler) listPosts(c *gin.Context) {
	var posts []models.Post
	var liked []int64
	err := onTab(c, func(t *tab.Tab) error {
		posts = t.Feed().Posts(c.Request.Context())
		liked = t.Feed().Liked(c.Request.Context())
		return nil
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"posts": postViews(posts, liked, time.Now()), "liked": liked})
}

type draftRequest struct {
	Content string `json:"content"`
	Image   string `json:"image"`
}

// createDraft composes a post and moves it to the passkey prompt.
func (h *Handler) createDraft(c *gin.Context) {
	var req draftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	author := principal(c).Username
	var draftID string
	var state feed.GateState
	err := onTab(c, func(t *tab.Tab) error {
		id, g := t.Drafts().Open(author)
		if err := g.Compose(req.Content, req.Image); err != nil {
			return err
		}
		if err := g.Submit(c.Request.Context()); err != nil {
			return err
		}
		draftID, state = id, g.State()
		return nil
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"draft_id": draftID, "state": state})
}

func (h *Handler) authorizeDraft(c *gin.Context) {
	var req struct {
		Passkey string `json:"passkey"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	var post models.Post
	found := true
	err := onTab(c, func(t *tab.Tab) error {
		g, ok := t.Drafts().Get(c.Param("draft_id"))
		if !ok {
			found = false
			return nil
		}
		var err error
		post, err = g.Authorize(c.Request.Context(), req.Passkey)
		return err
	})
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "draft not found"})
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"post": post, "state": feed.StateCommitted})
}

func (h *Handler) cancelDraft(c *gin.Context) {
	found := true
	err := onTab(c, func(t *tab.Tab) error {
		g, ok := t.Drafts().Get(c.Param("draft_id"))
		if !ok {
			found = false
			return nil
		}
		return g.Cancel(c.Request.Context())
	})
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "draft not found"})
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": feed.StateCancelled})
}

func (h *Handler) toggleLike(c *gin.Context) {
	id, ok := postID(c)
	if !ok {
		return
	}
	var post models.Post
	var liked bool
	err := onTab(c, func(t *tab.Tab) error {
		var err error
		post, liked, err = t.Feed().ToggleLike(c.Request.Context(), id)
		return err
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"post": post, "liked": liked})
}

func (h *Handler) addComment(c *gin.Context) {
	id, ok := postID(c)
	if !ok {
		return
	}
	var req struct {
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	user := principal(c).Username
	var post models.Post
	err := onTab(c, func(t *tab.Tab) error {
		var err error
		post, err = t.Feed().AddComment(c.Request.Context(), id, user, req.Text)
		return err
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"post": post})
}

func (h *Handler) deletePost(c *gin.Context) {
	id, ok := postID(c)
	if !ok {
		return
	}
	err := onTab(c, func(t *tab.Tab) error {
		return t.Feed().Delete(c.Request.Context(), id)
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
