package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"udmportal/internal/logger"
)

const (
	keepAliveInterval = 25 * time.Second
	wsWriteWait       = 10 * time.Second
)

// streamEvents pushes the tab's events as server-sent events until the
// client goes away or the tab closes.
func (h *Handler) streamEvents(c *gin.Context) {
	t := tabFromContext(c)
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}
	events, stop := t.Watch()
	defer stop()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	sendEvent := func(event string, payload interface{}) error {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		if event != "" {
			if _, err := fmt.Fprintf(c.Writer, "event: %s\n", event); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}
	if err := sendEvent("ready", gin.H{"tab_id": t.ID()}); err != nil {
		return
	}

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(c.Writer, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				_ = sendEvent("closed", gin.H{"tab_id": t.ID()})
				return
			}
			if err := sendEvent(ev.Type, ev.Data); err != nil {
				return
			}
		}
	}
}

// serveWS is the websocket form of streamEvents. Incoming frames are only
// read to notice the client closing.
func (h *Handler) serveWS(c *gin.Context) {
	t := tabFromContext(c)
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.L.Warn().Err(err).Str("tab", t.ID()).Msg("websocket upgrade failed")
		return
	}
	events, stop := t.Watch()
	defer stop()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()
	defer ws.Close()

	for {
		select {
		case <-closed:
			return
		case ev, ok := <-events:
			_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "tab closed"))
				return
			}
			if err := ws.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}
