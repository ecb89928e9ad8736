package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"udmportal/internal/attachment"
	"udmportal/internal/models"
	"udmportal/internal/modules"
	"udmportal/internal/notice"
	"udmportal/internal/tab"
)

const noticeProfilePicture = "Please select an image file."

func (h *Handler) getProfile(c *gin.Context) {
	email := principal(c).Email
	var p models.Profile
	err := onTab(c, func(t *tab.Tab) error {
		p = t.Profiles().Load(c.Request.Context(), email)
		return nil
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile": p})
}

func (h *Handler) saveProfile(c *gin.Context) {
	var req struct {
		Name   string `json:"name"`
		Status string `json:"status"`
		Pic    string `json:"pic"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	email := principal(c).Email
	var p models.Profile
	err := onTab(c, func(t *tab.Tab) error {
		current := t.Profiles().Load(c.Request.Context(), email)
		if req.Pic == "" {
			req.Pic = current.Pic
		}
		var err error
		p, err = t.Profiles().Save(c.Request.Context(), email, models.Profile{Name: req.Name, Status: req.Status, Pic: req.Pic})
		return err
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile": p})
}

func (h *Handler) setProfilePicture(c *gin.Context) {
	name, mediaType, data, ok := readUpload(c)
	if !ok {
		return
	}
	email := principal(c).Email
	var p models.Profile
	err := onTab(c, func(t *tab.Tab) error {
		var err error
		p, err = t.Profiles().SetPicture(c.Request.Context(), email, attachment.File{Name: name, MediaType: mediaType, Data: data})
		if errors.Is(err, attachment.ErrNotImage) {
			t.Board().Post(notice.KindAttachment, noticeProfilePicture)
		}
		return err
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile": p})
}

func (h *Handler) listModules(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"modules": h.catalog.List()})
}

// openModule fetches the document to count its pages, which can take a
// while, so it runs off the tab loop.
func (h *Handler) openModule(c *gin.Context) {
	m, err := h.catalog.Get(c.Param("module_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	page, err := tabFromContext(c).Viewer().Open(c.Request.Context(), m)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *Handler) currentPage(c *gin.Context) {
	viewerResponse(c, tabFromContext(c).Viewer().Current)
}

func (h *Handler) nextPage(c *gin.Context) {
	viewerResponse(c, tabFromContext(c).Viewer().Next)
}

func (h *Handler) prevPage(c *gin.Context) {
	viewerResponse(c, tabFromContext(c).Viewer().Previous)
}

func viewerResponse(c *gin.Context, fn func() (modules.Page, error)) {
	page, err := fn()
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}
