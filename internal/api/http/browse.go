package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/GriffinCanCode/scriptmonkey/internal/browser"
	"github.com/GriffinCanCode/scriptmonkey/internal/shared/id"
	"github.com/gin-gonic/gin"
)

// BrowseRequest loads a page into a session. With HTML set the document is
// used as is instead of being fetched from URL.
type BrowseRequest struct {
	URL       string `json:"url" binding:"required"`
	HTML      string `json:"html"`
	SessionID string `json:"session_id"`
}

// Browse loads a page and injects the matching scripts.
func (h *Handlers) Browse(c *gin.Context) {
	var req BrowseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}

	var (
		visit *browser.Visit
		err   error
	)
	sid := id.SessionID(req.SessionID)
	if req.HTML != "" {
		visit, err = h.browser.Open(c.Request.Context(), sid, req.URL, req.HTML)
	} else {
		visit, err = h.browser.Navigate(c.Request.Context(), sid, req.URL)
	}
	if err != nil {
		h.failFor(c, err)
		return
	}
	c.JSON(http.StatusOK, visit)
}

// GetSession describes a session.
func (h *Handlers) GetSession(c *gin.Context) {
	s, err := h.browser.Session(id.SessionID(c.Param("id")))
	if err != nil {
		h.failFor(c, err)
		return
	}

	var page gin.H
	if p := s.Page(); p != nil {
		page = gin.H{"id": p.ID(), "url": p.URL(), "title": p.Title(), "closed": p.Closed()}
	}
	c.JSON(http.StatusOK, gin.H{
		"id":      s.ID(),
		"page":    page,
		"history": s.History(),
		"tabs":    s.Tabs(),
		"menu":    s.MenuCommands(),
	})
}

// CloseSession closes a session and its page.
func (h *Handlers) CloseSession(c *gin.Context) {
	if err := h.browser.CloseSession(id.SessionID(c.Param("id"))); err != nil {
		h.failFor(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// InvokeMenuCommand runs a menu command on the session's page.
func (h *Handlers) InvokeMenuCommand(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		fail(c, http.StatusBadRequest, errors.New("index must be an integer"))
		return
	}
	sid := id.SessionID(c.Param("id"))
	if err := h.browser.InvokeMenuCommand(c.Request.Context(), sid, index); err != nil {
		h.failFor(c, err)
		return
	}

	s, err := h.browser.Session(sid)
	if err != nil {
		h.failFor(c, err)
		return
	}
	resp := gin.H{"success": true, "tabs": s.Tabs()}
	if p := s.Page(); p != nil {
		resp["title"] = p.Title()
		resp["console"] = p.Console()
		resp["changes"] = p.Changes()
	}
	c.JSON(http.StatusOK, resp)
}
