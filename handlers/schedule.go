package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/klaxonhq/klaxon/authz"
	"github.com/klaxonhq/klaxon/db"
	"github.com/klaxonhq/klaxon/escalation"
	"github.com/klaxonhq/klaxon/internal/apperr"
	"github.com/klaxonhq/klaxon/schedule"
	"github.com/klaxonhq/klaxon/store"
)

const defaultShiftWindow = 7 * 24 * time.Hour

// ScheduleHandler owns the rotation API: schedule CRUD under a group, the
// dry-run preview, who-is-on-call, and the effective shift timeline.
type ScheduleHandler struct {
	Schedules store.ScheduleStore
	Groups    store.GroupStore
	Members   authz.MembershipManager

	// OnCall resolves the current on-call; tests may inject a stub.
	OnCall escalation.OnCallFunc
}

func NewScheduleHandler(schedules store.ScheduleStore, groups store.GroupStore, members authz.MembershipManager) *ScheduleHandler {
	return &ScheduleHandler{
		Schedules: schedules,
		Groups:    groups,
		Members:   members,
		OnCall:    escalation.GroupOnCall(schedules),
	}
}

// ListSchedules handles GET /groups/:id/schedules.
func (h *ScheduleHandler) ListSchedules(c *gin.Context) {
	group, err := scopedGroup(c, h.Groups, h.Members, c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}

	schedules, err := h.Schedules.ListSchedules(c.Request.Context(), group.ID)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, schedules)
}

// CreateSchedule handles POST /groups/:id/schedules. The new schedule becomes
// the group's active one.
func (h *ScheduleHandler) CreateSchedule(c *gin.Context) {
	group, err := scopedGroup(c, h.Groups, h.Members, c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}

	var req db.CreateScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	layers, err := layersFromRequest(req.Layers)
	if err != nil {
		respondErr(c, err)
		return
	}

	sch := &db.Schedule{
		GroupID:   group.ID,
		Name:      req.Name,
		IsActive:  true,
		CreatedBy: c.GetString("user_id"),
		Layers:    layers,
	}
	created, err := h.Schedules.CreateSchedule(c.Request.Context(), sch)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

// GetSchedule handles GET /schedules/:id.
func (h *ScheduleHandler) GetSchedule(c *gin.Context) {
	sch, err := h.getScoped(c)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, sch)
}

// UpdateSchedule handles PUT /schedules/:id. A nil layer set keeps the
// existing rotation; a non-nil one replaces it whole.
func (h *ScheduleHandler) UpdateSchedule(c *gin.Context) {
	sch, err := h.getScoped(c)
	if err != nil {
		respondErr(c, err)
		return
	}

	var req db.UpdateScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Name != nil {
		sch.Name = *req.Name
	}
	if sch.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "schedule name is required"})
		return
	}
	if req.IsActive != nil {
		sch.IsActive = *req.IsActive
	}
	if req.Layers != nil {
		layers, err := layersFromRequest(req.Layers)
		if err != nil {
			respondErr(c, err)
			return
		}
		sch.Layers = layers
	} else {
		sch.Layers = nil
	}

	updated, err := h.Schedules.UpdateSchedule(c.Request.Context(), sch)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// DeleteSchedule handles DELETE /schedules/:id.
func (h *ScheduleHandler) DeleteSchedule(c *gin.Context) {
	sch, err := h.getScoped(c)
	if err != nil {
		respondErr(c, err)
		return
	}
	if err := h.Schedules.DeleteSchedule(c.Request.Context(), sch.ID); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "schedule deleted"})
}

// PreviewSchedule handles POST /groups/:id/schedules/preview: computes the
// shift timeline for a layer set without persisting anything.
func (h *ScheduleHandler) PreviewSchedule(c *gin.Context) {
	if _, err := scopedGroup(c, h.Groups, h.Members, c.Param("id")); err != nil {
		respondErr(c, err)
		return
	}

	var req db.PreviewScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.WindowEnd.After(req.WindowStart) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "window_end must be after window_start"})
		return
	}
	layers, err := layersFromRequest(req.Layers)
	if err != nil {
		respondErr(c, err)
		return
	}

	shifts := schedule.Preview(layers, req.WindowStart.UTC(), req.WindowEnd.UTC())
	c.JSON(http.StatusOK, shifts)
}

// WhoIsOnCall handles GET /groups/:id/oncall?at=. Without at it answers for
// now; a group with no active schedule answers on_call false.
func (h *ScheduleHandler) WhoIsOnCall(c *gin.Context) {
	group, err := scopedGroup(c, h.Groups, h.Members, c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}

	at := time.Now().UTC()
	if raw := c.Query("at"); raw != "" {
		at, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "at must be an RFC3339 timestamp"})
			return
		}
		at = at.UTC()
	}

	userID, ok, err := h.OnCall(c.Request.Context(), group.ID, at)
	if err != nil {
		respondErr(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusOK, gin.H{"on_call": false, "at": at})
		return
	}
	c.JSON(http.StatusOK, gin.H{"on_call": true, "user_id": userID, "at": at})
}

// ListShifts handles GET /groups/:id/shifts?from=&to=: the effective on-call
// timeline with overrides applied. The window defaults to the next 7 days.
func (h *ScheduleHandler) ListShifts(c *gin.Context) {
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

	sch, err := h.Schedules.ActiveSchedule(c.Request.Context(), group.ID)
	if apperr.Is(err, apperr.NotFound) {
		c.JSON(http.StatusOK, []db.Shift{})
		return
	}
	if err != nil {
		respondErr(c, err)
		return
	}

	overrides, err := h.Schedules.ListOverrides(c.Request.Context(), group.ID, from, to)
	if err != nil {
		respondErr(c, err)
		return
	}

	shifts := schedule.EffectiveShifts(sch.Layers, overrides, from, to)
	c.JSON(http.StatusOK, shifts)
}

// getScoped resolves a schedule through its owning group's visibility.
func (h *ScheduleHandler) getScoped(c *gin.Context) (*db.Schedule, error) {
	id := c.Param("id")
	sch, err := h.Schedules.GetSchedule(c.Request.Context(), id)
	if err != nil {
		return nil, err
	}
	if _, err := scopedGroup(c, h.Groups, h.Members, sch.GroupID); err != nil {
		return nil, apperr.Newf(apperr.NotFound, "schedule %s not found", id)
	}
	return sch, nil
}

func shiftWindow(c *gin.Context) (time.Time, time.Time, error) {
	from := time.Now().UTC()
	to := from.Add(defaultShiftWindow)
	var err error

	if raw := c.Query("from"); raw != "" {
		from, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			return from, to, apperr.New(apperr.BadRequest, "from must be an RFC3339 timestamp")
		}
		from = from.UTC()
		to = from.Add(defaultShiftWindow)
	}
	if raw := c.Query("to"); raw != "" {
		to, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			return from, to, apperr.New(apperr.BadRequest, "to must be an RFC3339 timestamp")
		}
		to = to.UTC()
	}
	if !to.After(from) {
		return from, to, apperr.New(apperr.BadRequest, "to must be after from")
	}
	return from, to, nil
}

// layersFromRequest validates and maps the layer DTOs. Layer indexes must be
// unique: resolution scans highest index first, so a tie has no meaning.
func layersFromRequest(reqs []db.CreateLayerRequest) ([]db.ScheduleLayer, error) {
	seen := make(map[int]bool, len(reqs))
	layers := make([]db.ScheduleLayer, 0, len(reqs))
	for _, lr := range reqs {
		if seen[lr.LayerIndex] {
			return nil, apperr.Newf(apperr.BadRequest, "duplicate layer_index %d", lr.LayerIndex)
		}
		seen[lr.LayerIndex] = true

		if lr.Restriction != nil {
			r := lr.Restriction
			if r.StartMinute < 0 || r.StartMinute >= 1440 || r.EndMinute < 0 || r.EndMinute >= 1440 {
				return nil, apperr.New(apperr.BadRequest, "restriction minutes must be within 0..1439")
			}
		}

		layers = append(layers, db.ScheduleLayer{
			LayerIndex:         lr.LayerIndex,
			Participants:       lr.Participants,
			ShiftLengthMinutes: lr.ShiftLengthMinutes,
			HandoffAnchor:      lr.HandoffAnchor.UTC(),
			Restriction:        lr.Restriction,
		})
	}
	return layers, nil
}
