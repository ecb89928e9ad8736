package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"udmportal/internal/attachment"
	"udmportal/internal/conversation"
	"udmportal/internal/models"
	"udmportal/internal/tab"
)

func (h *Handler) listContacts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"global": conversation.GlobalID, "contacts": conversation.DefaultContacts})
}

// ensureOpen switches the tab's view to id unless it already shows it.
func ensureOpen(ctx context.Context, t *tab.Tab, id string) {
	if t.View().Active() != id {
		t.View().Open(ctx, id)
	}
}

func (h *Handler) openConversation(c *gin.Context) {
	id := c.Param("id")
	var msgs []models.Message
	var avatar string
	err := onTab(c, func(t *tab.Tab) error {
		msgs = t.View().Open(c.Request.Context(), id)
		avatar = t.View().Avatar()
		return nil
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": id, "messages": msgs, "avatar": avatar})
}

// sent writes the appended message. A message that could not be persisted
// is still shown in this tab, so it is reported with saved=false.
func sent(c *gin.Context, msg models.Message, err error) {
	if err != nil && !errors.Is(err, conversation.ErrPersist) {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": msg, "saved": err == nil})
}

func (h *Handler) sendText(c *gin.Context) {
	var req struct {
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	id, author := c.Param("id"), principal(c).Email
	var msg models.Message
	var sendErr error
	err := onTab(c, func(t *tab.Tab) error {
		ensureOpen(c.Request.Context(), t, id)
		msg, sendErr = t.View().SendText(c.Request.Context(), author, req.Text)
		return nil
	})
	if err != nil {
		writeError(c, err)
		return
	}
	sent(c, msg, sendErr)
}

func (h *Handler) sendImage(c *gin.Context) {
	name, mediaType, data, ok := readUpload(c)
	if !ok {
		return
	}
	id, author := c.Param("id"), principal(c).Email
	f := attachment.File{Name: name, MediaType: mediaType, Data: data}
	var msg models.Message
	var sendErr error
	err := onTab(c, func(t *tab.Tab) error {
		ensureOpen(c.Request.Context(), t, id)
		msg, sendErr = t.View().SendImage(c.Request.Context(), author, f)
		return nil
	})
	if err != nil {
		writeError(c, err)
		return
	}
	sent(c, msg, sendErr)
}

// sendAudio appends an uploaded clip, or records one from the configured
// input device when no file is sent.
func (h *Handler) sendAudio(c *gin.Context) {
	id, author := c.Param("id"), principal(c).Email
	ctx := c.Request.Context()
	t := tabFromContext(c)

	if _, err := c.FormFile("file"); err == nil {
		_, mediaType, data, ok := readUpload(c)
		if !ok {
			return
		}
		var msg models.Message
		var sendErr error
		err := onTab(c, func(t *tab.Tab) error {
			ensureOpen(ctx, t, id)
			msg, sendErr = t.View().SendAudio(ctx, author, attachment.Clip{MediaType: mediaType, Data: data})
			return nil
		})
		if err != nil {
			writeError(c, err)
			return
		}
		sent(c, msg, sendErr)
		return
	}

	// Recording blocks for the capture duration, so it stays off the loop.
	uri, err := t.View().CaptureVoice(ctx)
	if err != nil {
		writeError(c, err)
		return
	}
	var msg models.Message
	var sendErr error
	err = onTab(c, func(t *tab.Tab) error {
		ensureOpen(ctx, t, id)
		msg, sendErr = t.View().SendEncoded(ctx, author, models.KindAudio, uri)
		return nil
	})
	if err != nil {
		writeError(c, err)
		return
	}
	sent(c, msg, sendErr)
}

func (h *Handler) setAvatar(c *gin.Context) {
	name, mediaType, data, ok := readUpload(c)
	if !ok {
		return
	}
	id := c.Param("id")
	f := attachment.File{Name: name, MediaType: mediaType, Data: data}
	var avatar string
	var setErr error
	err := onTab(c, func(t *tab.Tab) error {
		ensureOpen(c.Request.Context(), t, id)
		avatar, setErr = t.View().SetAvatar(c.Request.Context(), f)
		return nil
	})
	if err != nil {
		writeError(c, err)
		return
	}
	if setErr != nil && avatar == "" {
		writeError(c, setErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": id, "avatar": avatar, "saved": setErr == nil})
}

func (h *Handler) listNotices(c *gin.Context) {
	t := tabFromContext(c)
	c.JSON(http.StatusOK, gin.H{"notices": t.Board().List()})
}

func (h *Handler) dismissNotice(c *gin.Context) {
	t := tabFromContext(c)
	if !t.Board().Dismiss(c.Param("notice_id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "notice not found"})
		return
	}
	c.Status(http.StatusNoContent)
}
