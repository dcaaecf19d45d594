// Package monitor exposes the uptime probing surface: monitor CRUD, the
// report endpoint probe workers post results to, and the deployment tokens
// those workers authenticate with.
package monitor

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/klaxonhq/klaxon/db"
	"github.com/klaxonhq/klaxon/internal/apperr"
	"github.com/klaxonhq/klaxon/store"
)

type Handler struct {
	Monitors store.MonitorStore
}

func NewHandler(monitors store.MonitorStore) *Handler {
	return &Handler{Monitors: monitors}
}

func respondErr(c *gin.Context, err error) {
	c.JSON(apperr.HTTPStatus(err), gin.H{"error": apperr.Message(err)})
}

func (h *Handler) ListMonitors(c *gin.Context) {
	monitors, err := h.Monitors.List(c.Request.Context(), c.GetString("org_id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, monitors)
}

func (h *Handler) CreateMonitor(c *gin.Context) {
	var req db.CreateMonitorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	m := &db.Monitor{
		Name:            req.Name,
		URL:             req.URL,
		Method:          req.Method,
		IntervalSeconds: req.IntervalSeconds,
		OrganizationID:  c.GetString("org_id"),
		ProjectID:       req.ProjectID,
	}
	created, err := h.Monitors.Create(c.Request.Context(), m)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *Handler) GetMonitor(c *gin.Context) {
	m, err := h.getScoped(c)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (h *Handler) UpdateMonitor(c *gin.Context) {
	m, err := h.getScoped(c)
	if err != nil {
		respondErr(c, err)
		return
	}

	var req struct {
		Name            *string `json:"name"`
		URL             *string `json:"url"`
		Method          *string `json:"method"`
		IntervalSeconds *int    `json:"interval_seconds"`
		IsActive        *bool   `json:"is_active"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Name != nil {
		m.Name = *req.Name
	}
	if req.URL != nil {
		m.URL = *req.URL
	}
	if req.Method != nil {
		m.Method = *req.Method
	}
	if req.IntervalSeconds != nil {
		m.IntervalSeconds = *req.IntervalSeconds
	}
	if req.IsActive != nil {
		m.IsActive = *req.IsActive
	}
	if m.Name == "" || m.URL == "" || m.IntervalSeconds <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name, url and a positive interval_seconds are required"})
		return
	}

	updated, err := h.Monitors.Update(c.Request.Context(), m)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *Handler) DeleteMonitor(c *gin.Context) {
	if _, err := h.getScoped(c); err != nil {
		respondErr(c, err)
		return
	}
	if err := h.Monitors.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "monitor deleted"})
}

func (h *Handler) ListChecks(c *gin.Context) {
	if _, err := h.getScoped(c); err != nil {
		respondErr(c, err)
		return
	}

	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
			return
		}
		limit = n
	}
	checks, err := h.Monitors.ListChecks(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, checks)
}

// getScoped loads the monitor and hides it from callers outside its
// organization.
func (h *Handler) getScoped(c *gin.Context) (*db.Monitor, error) {
	m, err := h.Monitors.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		return nil, err
	}
	if m.OrganizationID != c.GetString("org_id") {
		return nil, apperr.Newf(apperr.NotFound, "monitor %s not found", m.ID)
	}
	return m, nil
}
