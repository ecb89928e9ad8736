package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"udmportal/internal/auth"
	"udmportal/internal/kv"
	"udmportal/internal/logger"
	"udmportal/internal/metrics"
	"udmportal/internal/models"
	"udmportal/internal/modules"
	"udmportal/internal/notice"
	"udmportal/internal/tab"
)

const (
	tabHeader      = "X-Tab-ID"
	tabQueryParam  = "tab"
	tabContextKey  = "portal_tab"
	identityOrigin = "identity"
	maxUploadBytes = 10 << 20
)

// TabManager is the part of tab.Manager the handlers need.
type TabManager interface {
	Ensure(id string) *tab.Tab
	Close(id string) bool
	Handle(origin string) *kv.Handle
}

// Handler wires HTTP routes to the identity provider and the per-tab state.
type Handler struct {
	auth     *auth.Service
	tabs     TabManager
	catalog  *modules.Catalog
	identity *kv.Handle
	upgrader websocket.Upgrader
	unwatch  func()
}

// NewHandler constructs a Handler. Sign-ins and sign-outs are mirrored into
// the shared session marker so every tab sees them.
func NewHandler(authService *auth.Service, tabs TabManager, catalog *modules.Catalog) *Handler {
	h := &Handler{
		auth:     authService,
		tabs:     tabs,
		catalog:  catalog,
		identity: tabs.Handle(identityOrigin),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	h.unwatch = authService.OnSessionChange(h.mirrorSession)
	return h
}

// Close stops mirroring session changes.
func (h *Handler) Close() {
	if h.unwatch != nil {
		h.unwatch()
	}
}

func (h *Handler) mirrorSession(ev auth.SessionEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var err error
	if ev.SignedIn {
		err = auth.WriteSessionMarker(ctx, h.identity, auth.MarkerFor(&ev.User))
	} else {
		_, err = auth.ClearSessionMarkerFor(ctx, h.identity, ev.User.ID)
	}
	if err != nil {
		logger.L.Warn().Err(err).Int64("user_id", ev.User.ID).Bool("signed_in", ev.SignedIn).Msg("update session marker failed")
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(metricsMiddleware())
	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	api.POST("/users/register", h.registerUser)
	api.POST("/users/login", h.loginUser)
	api.POST("/tabs", h.openTab)

	authed := api.Group("")
	authed.Use(h.auth.Middleware(), h.auth.CSRFMiddleware(), h.requireTab())
	authed.POST("/users/logout", h.logoutUser)
	authed.DELETE("/tabs", h.closeTab)

	portal := authed.Group("")
	portal.Use(h.auth.RequireUser())
	portal.GET("/session", h.getSession)
	portal.GET("/contacts", h.listContacts)
	portal.GET("/conversations/:id", h.openConversation)
	portal.POST("/conversations/:id/messages", h.sendText)
	portal.POST("/conversations/:id/images", h.sendImage)
	portal.POST("/conversations/:id/audio", h.sendAudio)
	portal.PUT("/conversations/:id/avatar", h.setAvatar)
	portal.GET("/events", h.streamEvents)
	portal.GET("/ws", h.serveWS)
	portal.GET("/notices", h.listNotices)
	portal.DELETE("/notices/:notice_id", h.dismissNotice)
	portal.GET("/posts", h.listPosts)
	portal.POST("/posts/drafts", h.createDraft)
	portal.POST("/posts/drafts/:draft_id/authorize", h.authorizeDraft)
	portal.POST("/posts/drafts/:draft_id/cancel", h.cancelDraft)
	portal.POST("/posts/:post_id/like", h.toggleLike)
	portal.POST("/posts/:post_id/comments", h.addComment)
	portal.DELETE("/posts/:post_id", h.deletePost)
	portal.GET("/profile", h.getProfile)
	portal.PUT("/profile", h.saveProfile)
	portal.POST("/profile/picture", h.setProfilePicture)
	portal.GET("/modules", h.listModules)
	portal.POST("/modules/:module_id/open", h.openModule)
	portal.GET("/modules/viewer", h.currentPage)
	portal.POST("/modules/viewer/next", h.nextPage)
	portal.POST("/modules/viewer/prev", h.prevPage)
}

func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// requireTab resolves the requesting tab, starting it on first use.
func (h *Handler) requireTab() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := requestTabID(c)
		if id == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "tab id required"})
			return
		}
		c.Set(tabContextKey, h.tabs.Ensure(id))
		c.Next()
	}
}

func requestTabID(c *gin.Context) string {
	if id := strings.TrimSpace(c.GetHeader(tabHeader)); id != "" {
		return id
	}
	return strings.TrimSpace(c.Query(tabQueryParam))
}

// identityNotice shows a sign-in or sign-up failure on the requesting tab,
// if the request names one.
func (h *Handler) identityNotice(c *gin.Context, text string) {
	id := requestTabID(c)
	if id == "" {
		return
	}
	h.tabs.Ensure(id).Board().Post(notice.KindIdentity, text)
}

func tabFromContext(c *gin.Context) *tab.Tab {
	val, ok := c.Get(tabContextKey)
	if !ok {
		return nil
	}
	t, _ := val.(*tab.Tab)
	return t
}

// principal returns the account the request's token belongs to.
func principal(c *gin.Context) models.SessionMarker {
	m, _ := auth.PrincipalFromContext(c)
	return m
}

// onTab runs fn on the requesting tab's loop.
func onTab(c *gin.Context, fn func(t *tab.Tab) error) error {
	t := tabFromContext(c)
	if t == nil {
		return errors.New("tab id required")
	}
	return t.Do(c.Request.Context(), func() error { return fn(t) })
}

func (h *Handler) openTab(c *gin.Context) {
	id := uuid.NewString()
	h.tabs.Ensure(id)
	c.Header(tabHeader, id)
	c.JSON(http.StatusCreated, gin.H{"tab_id": id})
}

func (h *Handler) closeTab(c *gin.Context) {
	t := tabFromContext(c)
	h.tabs.Close(t.ID())
	c.Status(http.StatusNoContent)
}

const (
	noticeBadCredentials = "Sign-in failed: invalid username or password."
	noticeSignInFailed   = "Sign-in failed, please try again."
	noticeAccountExists  = "An account with this email already exists."
	noticeSignUpMissing  = "Please fill in username, email and password."
	noticeSignUpFailed   = "Could not create the account, please try again."
)

// User create&login interface
type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Username   string `json:"username"`
	Email      string `json:"email"`
	Password   string `json:"password"`
}

func (h *Handler) registerUser(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	user, err := h.auth.CreateAccount(c.Request.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrMissingFields):
			h.identityNotice(c, noticeSignUpMissing)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, auth.ErrAccountExists):
			h.identityNotice(c, noticeAccountExists)
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			logger.L.Error().Err(err).Msg("create account failed")
			h.identityNotice(c, noticeSignUpFailed)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "create account failed"})
		}
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":         user.ID,
		"username":   user.Username,
		"email":      user.Email,
		"created_at": user.CreatedAt,
	})
}

func (h *Handler) loginUser(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	identifier := req.Identifier
	if identifier == "" {
		identifier = req.Email
	}
	if identifier == "" {
		identifier = req.Username
	}
	user, authToken, err := h.auth.SignIn(c.Request.Context(), identifier, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			h.identityNotice(c, noticeBadCredentials)
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		logger.L.Error().Err(err).Msg("sign in failed")
		h.identityNotice(c, noticeSignInFailed)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sign in failed"})
		return
	}
	csrfToken, err := h.auth.SetSessionCookies(c, authToken)
	if err != nil {
		h.identityNotice(c, noticeSignInFailed)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue token failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":         user.ID,
		"username":   user.Username,
		"email":      user.Email,
		"created_at": user.CreatedAt,
		"auth_token": authToken,
		"csrf_token": csrfToken,
	})
}

func (h *Handler) logoutUser(c *gin.Context) {
	if authToken, ok := auth.AuthTokenFromContext(c); ok {
		if err := h.auth.SignOut(c.Request.Context(), authToken); err != nil {
			logger.L.Warn().Err(err).Msg("sign out failed")
		}
	}
	h.auth.ClearSessionCookies(c)
	c.Status(http.StatusNoContent)
}

// getSession reports the request's principal and the profile's shared
// session marker, which names whoever signed in last.
func (h *Handler) getSession(c *gin.Context) {
	t := tabFromContext(c)
	resp := gin.H{"user": principal(c), "tab_id": t.ID(), "marker": nil}
	if m, ok := auth.ReadSessionMarker(c.Request.Context(), t.Store()); ok {
		resp["marker"] = m
	}
	c.JSON(http.StatusOK, resp)
}

// readUpload returns the multipart "file" field.
func readUpload(c *gin.Context) (name, mediaType string, data []byte, ok bool) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return "", "", nil, false
	}
	if file.Size > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return "", "", nil, false
	}
	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "open file failed"})
		return "", "", nil, false
	}
	defer f.Close()
	data, err = io.ReadAll(io.LimitReader(f, maxUploadBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read file failed"})
		return "", "", nil, false
	}
	return file.Filename, file.Header.Get("Content-Type"), data, true
}
