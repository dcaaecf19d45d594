package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/klaxonhq/klaxon/authz"
	"github.com/klaxonhq/klaxon/db"
	"github.com/klaxonhq/klaxon/store"
)

// OverrideHandler owns schedule overrides: manual splices over the computed
// rotation for an absolute time window.
type OverrideHandler struct {
	Schedules store.ScheduleStore
	Groups    store.GroupStore
	Members   authz.MembershipManager

	// Now is injectable for the past-window validation.
	Now func() time.Time
}

func NewOverrideHandler(schedules store.ScheduleStore, groups store.GroupStore, members authz.MembershipManager) *OverrideHandler {
	return &OverrideHandler{
		Schedules: schedules,
		Groups:    groups,
		Members:   members,
		Now:       time.Now,
	}
}

// ListOverrides handles GET /groups/:id/overrides?from=&to=. The window
// defaults to the next 7 days; overlap counts, containment is not required.
func (h *OverrideHandler) ListOverrides(c *gin.Context) {
	group, err := scopedGroup(c, h.Groups, h.Members, c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}

	from, to, err := shiftWindow(c)
	if err != nil {
		respondErr(c, err)
		return
	}

	overrides, err := h.Schedules.ListOverrides(c.Request.Context(), group.ID, from, to)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, overrides)
}

// CreateOverride handles POST /groups/:id/overrides.
func (h *OverrideHandler) CreateOverride(c *gin.Context) {
	group, err := scopedGroup(c, h.Groups, h.Members, c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}

	var req db.CreateOverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.EndTime.After(req.StartTime) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "override must end after it starts"})
		return
	}
	if !req.EndTime.After(h.Now()) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "override window is entirely in the past"})
		return
	}

	ov := &db.ScheduleOverride{
		GroupID:   group.ID,
		UserID:    req.UserID,
		StartTime: req.StartTime.UTC(),
		EndTime:   req.EndTime.UTC(),
		Reason:    req.Reason,
		CreatedBy: c.GetString("user_id"),
	}
	created, err := h.Schedules.CreateOverride(c.Request.Context(), ov)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

// DeleteOverride handles DELETE /groups/:id/overrides/:override_id.
func (h *OverrideHandler) DeleteOverride(c *gin.Context) {
	group, err := scopedGroup(c, h.Groups, h.Members, c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	if err := h.Schedules.DeleteOverride(c.Request.Context(), group.ID, c.Param("override_id")); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "override deleted"})
}
