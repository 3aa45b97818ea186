package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/GriffinCanCode/scriptmonkey/internal/browser"
	"github.com/GriffinCanCode/scriptmonkey/internal/fetch"
	"github.com/GriffinCanCode/scriptmonkey/internal/userscript/metadata"
	"github.com/GriffinCanCode/scriptmonkey/internal/userscript/registry"
	"github.com/GriffinCanCode/scriptmonkey/internal/userscript/sandbox"
	"github.com/GriffinCanCode/scriptmonkey/internal/userscript/script"
	"github.com/gin-gonic/gin"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"
)

const version = "1.0.0"

// Handlers contains all HTTP handlers.
type Handlers struct {
	registry *registry.Config
	browser  *browser.Provider
	logger   *zap.Logger
	policy   *bluemonday.Policy
	started  time.Time
}

// NewHandlers creates a new handler set.
func NewHandlers(reg *registry.Config, provider *browser.Provider, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		registry: reg,
		browser:  provider,
		logger:   logger.Named("api"),
		policy:   bluemonday.StrictPolicy(),
		started:  time.Now(),
	}
}

// Register mounts every route on r.
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/health", h.Health)

	scripts := r.Group("/scripts")
	scripts.GET("", h.ListScripts)
	scripts.POST("", h.InstallScript)
	scripts.GET("/:key", h.GetScript)
	scripts.DELETE("/:key", h.UninstallScript)
	scripts.PUT("/:key/enabled", h.SetEnabled)
	scripts.PUT("/:key/rules", h.UpdateRules)
	scripts.POST("/:key/reload", h.ReloadScript)
	scripts.POST("/:key/move", h.MoveScript)

	r.GET("/match", h.Match)
	r.POST("/browse", h.Browse)

	sessions := r.Group("/sessions")
	sessions.GET("/:id", h.GetSession)
	sessions.DELETE("/:id", h.CloseSession)
	sessions.POST("/:id/menu/:index", h.InvokeMenuCommand)
}

// Health handles the liveness check.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"service":  "scriptmonkey",
		"version":  version,
		"scripts":  h.registry.Len(),
		"sessions": len(h.browser.Sessions()),
		"uptime":   time.Since(h.started).Round(time.Second).String(),
	})
}

func fail(c *gin.Context, status int, err error) {
	c.JSON(status, gin.H{"success": false, "error": err.Error()})
}

// failFor maps domain errors to a status, adding fetch details when known.
func (h *Handlers) failFor(c *gin.Context, err error) {
	var fe *script.FetchError
	if errors.As(err, &fe) {
		status := http.StatusBadGateway
		if errors.Is(err, script.ErrSecurity) {
			status = http.StatusForbidden
		}
		c.JSON(status, gin.H{
			"success":     false,
			"error":       err.Error(),
			"dependency":  fe.Dependency,
			"status_code": fe.StatusCode,
			"status_text": fe.StatusText,
		})
		return
	}

	var se *fetch.StatusError
	switch {
	case errors.Is(err, metadata.ErrMetadataSyntax), errors.Is(err, metadata.ErrDuplicateResource):
		fail(c, http.StatusUnprocessableEntity, err)
	case errors.Is(err, script.ErrSecurity):
		fail(c, http.StatusForbidden, err)
	case errors.Is(err, browser.ErrSessionNotFound), errors.Is(err, browser.ErrMenuCommandNotFound):
		fail(c, http.StatusNotFound, err)
	case errors.Is(err, sandbox.ErrPageClosed):
		fail(c, http.StatusGone, err)
	case errors.As(err, &se), errors.Is(err, browser.ErrNoClient):
		fail(c, http.StatusBadGateway, err)
	default:
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		fail(c, http.StatusInternalServerError, err)
	}
}
