package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/GriffinCanCode/scriptmonkey/internal/userscript/registry"
	"github.com/GriffinCanCode/scriptmonkey/internal/userscript/script"
	"github.com/gin-gonic/gin"
)

// ScriptView is the API representation of an installed script.
type ScriptView struct {
	Key         string         `json:"key"`
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Namespace   string         `json:"namespace"`
	Description string         `json:"description,omitempty"`
	Enabled     bool           `json:"enabled"`
	Position    int            `json:"position"`
	Includes    []string       `json:"includes"`
	Excludes    []string       `json:"excludes"`
	Requires    []string       `json:"requires,omitempty"`
	Resources   []ResourceView `json:"resources,omitempty"`
	Unwrap      bool           `json:"unwrap,omitempty"`
	Dir         string         `json:"dir"`
	Filename    string         `json:"filename"`
}

// ResourceView describes one bundled resource.
type ResourceView struct {
	Name     string `json:"name"`
	Filename string `json:"filename"`
	MimeType string `json:"mimetype"`
}

func (h *Handlers) view(s *script.Script) ScriptView {
	meta := s.Metadata()
	v := ScriptView{
		Key:         registry.Key(s),
		ID:          h.policy.Sanitize(s.ID()),
		Name:        h.policy.Sanitize(meta.Name),
		Namespace:   h.policy.Sanitize(meta.Namespace),
		Description: h.policy.Sanitize(meta.Description),
		Enabled:     s.Enabled(),
		Position:    h.registry.Index(s),
		Includes:    append([]string{}, meta.Includes...),
		Excludes:    append([]string{}, meta.Excludes...),
		Unwrap:      meta.Unwrap,
		Dir:         s.Basedir(),
		Filename:    s.Filename(),
	}
	for _, r := range meta.Requires {
		v.Requires = append(v.Requires, r.Filename)
	}
	for _, r := range meta.Resources {
		v.Resources = append(v.Resources, ResourceView{Name: h.policy.Sanitize(r.Name), Filename: r.Filename, MimeType: r.MimeType})
	}
	return v
}

func (h *Handlers) views(scripts []*script.Script) []ScriptView {
	out := make([]ScriptView, 0, len(scripts))
	for _, s := range scripts {
		out = append(out, h.view(s))
	}
	return out
}

// lookup resolves :key or writes a 404.
func (h *Handlers) lookup(c *gin.Context) (*script.Script, bool) {
	s := h.registry.FindByKey(c.Param("key"))
	if s == nil {
		fail(c, http.StatusNotFound, errors.New("script not found"))
		return nil, false
	}
	return s, true
}

// ListScripts lists installed scripts in run order.
func (h *Handlers) ListScripts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"scripts": h.views(h.registry.Scripts())})
}

// GetScript returns one script.
func (h *Handlers) GetScript(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.view(s))
}

// InstallRequest installs from a URL or from source text.
type InstallRequest struct {
	URL    string `json:"url"`
	Source string `json:"source"`
	Origin string `json:"origin"`
}

// InstallScript installs a script with its dependencies.
func (h *Handlers) InstallScript(c *gin.Context) {
	var req InstallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	if (req.URL == "") == (req.Source == "") {
		fail(c, http.StatusBadRequest, errors.New("exactly one of url or source is required"))
		return
	}

	var (
		s   *script.Script
		err error
	)
	if req.URL != "" {
		s, err = h.browser.InstallFromURL(c.Request.Context(), req.URL)
	} else {
		s, err = h.browser.InstallFromSource(c.Request.Context(), req.Source, req.Origin)
	}
	if err != nil {
		h.failFor(c, err)
		return
	}
	c.JSON(http.StatusCreated, h.view(s))
}

// UninstallScript removes a script; ?purge=true also drops stored values.
func (h *Handlers) UninstallScript(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}
	purge, _ := strconv.ParseBool(c.DefaultQuery("purge", "false"))
	if err := h.registry.Uninstall(s, purge); err != nil {
		h.failFor(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "key": c.Param("key"), "purged": purge})
}

// SetEnabled toggles a script.
func (h *Handlers) SetEnabled(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		fail(c, http.StatusBadRequest, errors.New("enabled is required"))
		return
	}
	h.registry.SetEnabled(s, *req.Enabled)
	c.JSON(http.StatusOK, h.view(s))
}

// UpdateRules replaces the include and exclude masks of a script.
func (h *Handlers) UpdateRules(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}
	var req struct {
		Includes []string `json:"includes"`
		Excludes []string `json:"excludes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	if err := h.registry.UpdateRules(s, req.Includes, req.Excludes); err != nil {
		h.failFor(c, err)
		return
	}
	c.JSON(http.StatusOK, h.view(s))
}

// ReloadScript re-reads the header of a script edited on disk.
func (h *Handlers) ReloadScript(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}
	if err := h.registry.Reload(s); err != nil {
		h.failFor(c, err)
		return
	}
	c.JSON(http.StatusOK, h.view(s))
}

// MoveScript moves a script by {offset} or to the position of {to}.
func (h *Handlers) MoveScript(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}
	var req struct {
		Offset *int   `json:"offset"`
		To     string `json:"to"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}

	var err error
	switch {
	case req.Offset != nil:
		err = h.registry.MoveBy(s, *req.Offset)
	case req.To != "":
		target := h.registry.FindByKey(req.To)
		if target == nil {
			fail(c, http.StatusNotFound, errors.New("target script not found"))
			return
		}
		err = h.registry.MoveTo(s, target)
	default:
		fail(c, http.StatusBadRequest, errors.New("offset or to is required"))
		return
	}
	if err != nil {
		h.failFor(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"scripts": h.views(h.registry.Scripts())})
}

// Match lists the scripts that would run at ?url=.
func (h *Handlers) Match(c *gin.Context) {
	u := c.Query("url")
	if u == "" {
		fail(c, http.StatusBadRequest, errors.New("url is required"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": u, "scripts": h.views(h.registry.RunnableAt(u))})
}
