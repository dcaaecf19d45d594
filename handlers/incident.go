package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/klaxonhq/klaxon/authz"
	"github.com/klaxonhq/klaxon/db"
	"github.com/klaxonhq/klaxon/escalation"
	"github.com/klaxonhq/klaxon/internal/apperr"
	"github.com/klaxonhq/klaxon/notify"
	"github.com/klaxonhq/klaxon/store"
)

// Escalator advances one incident level on demand; the background engine
// satisfies it.
type Escalator interface {
	Advance(ctx context.Context, inc *db.Incident, by store.Principal) (*escalation.Step, error)
}

// IncidentHandler owns the incident API surface: listing, lifecycle
// transitions, manual escalation and the event timeline.
type IncidentHandler struct {
	Incidents store.IncidentStore
	Policies  store.PolicyStore
	Authz     authz.Authorizer
	Escalator Escalator
	Notifier  notify.Emitter
}

func NewIncidentHandler(incidents store.IncidentStore, policies store.PolicyStore, az authz.Authorizer, esc Escalator, notifier notify.Emitter) *IncidentHandler {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &IncidentHandler{
		Incidents: incidents,
		Policies:  policies,
		Authz:     az,
		Escalator: esc,
		Notifier:  notifier,
	}
}

// ListIncidents handles GET /incidents. Visibility comes from the caller's
// scope predicate; a project_id filter switches to strict mode after an
// explicit access check.
func (h *IncidentHandler) ListIncidents(c *gin.Context) {
	scope, err := authz.ScopeFor(c.GetString("user_id"), c.GetString("org_id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	scope.AssignedColumn = "assigned_to"

	projectID := c.Query("project_id")
	if projectID == "" {
		projectID = c.GetHeader("X-Project-ID")
	}
	if projectID != "" {
		if !h.Authz.CanAccessProject(c.Request.Context(), scope.UserID, projectID) {
			respondErr(c, apperr.Newf(apperr.NotFound, "project %s not found", projectID))
			return
		}
		scope.ProjectID = projectID
	}

	f := store.IncidentFilters{
		Status:     c.Query("status"),
		Severity:   c.Query("severity"),
		Urgency:    c.Query("urgency"),
		Source:     c.Query("source"),
		AssignedTo: c.Query("assigned_to"),
		GroupID:    c.Query("group_id"),
		Search:     c.Query("search"),
	}
	f.Page, _ = strconv.Atoi(c.Query("page"))
	f.Limit, _ = strconv.Atoi(c.Query("limit"))

	incidents, err := h.Incidents.List(c.Request.Context(), scope, f)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, incidents)
}

// CreateIncident handles POST /incidents: a manual incident opened by a human.
func (h *IncidentHandler) CreateIncident(c *gin.Context) {
	var req db.CreateIncidentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetString("user_id")
	if req.ProjectID != "" && !h.Authz.CanAccessProject(c.Request.Context(), userID, req.ProjectID) {
		respondErr(c, apperr.Newf(apperr.NotFound, "project %s not found", req.ProjectID))
		return
	}

	inc := &db.Incident{
		Title:              req.Title,
		Description:        req.Description,
		Urgency:            req.Urgency,
		Severity:           req.Severity,
		Source:             db.SourceManual,
		IncidentKey:        req.IncidentKey,
		EscalationPolicyID: req.EscalationPolicyID,
		GroupID:            req.GroupID,
		OrganizationID:     c.GetString("org_id"),
		ProjectID:          req.ProjectID,
		Labels:             req.Labels,
	}

	created, err := h.Incidents.Create(c.Request.Context(), inc, store.UserPrincipal(userID))
	if err != nil {
		respondErr(c, err)
		return
	}

	h.emit(c, notify.Intent{
		Kind:       notify.KindIncidentCreated,
		IncidentID: created.ID,
		Title:      created.Title,
		Severity:   created.Severity,
		Urgency:    created.Urgency,
	})
	c.JSON(http.StatusCreated, created)
}

// GetIncident handles GET /incidents/:id.
func (h *IncidentHandler) GetIncident(c *gin.Context) {
	inc, err := h.getScoped(c)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, inc)
}

// AcknowledgeIncident handles POST /incidents/:id/acknowledge.
func (h *IncidentHandler) AcknowledgeIncident(c *gin.Context) {
	inc, err := h.getScoped(c)
	if err != nil {
		respondErr(c, err)
		return
	}

	var req db.AcknowledgeIncidentRequest
	_ = c.ShouldBindJSON(&req) // note is optional, an empty body is fine

	userID := c.GetString("user_id")
	if err := h.Incidents.Acknowledge(c.Request.Context(), inc.ID, userID, req.Note); err != nil {
		respondErr(c, err)
		return
	}

	h.emit(c, notify.Intent{
		Kind:       notify.KindIncidentAcknowledged,
		IncidentID: inc.ID,
		Title:      inc.Title,
		Severity:   inc.Severity,
		Urgency:    inc.Urgency,
	})
	h.respondUpdated(c, inc.ID)
}

// ResolveIncident handles POST /incidents/:id/resolve.
func (h *IncidentHandler) ResolveIncident(c *gin.Context) {
	inc, err := h.getScoped(c)
	if err != nil {
		respondErr(c, err)
		return
	}

	var req db.ResolveIncidentRequest
	_ = c.ShouldBindJSON(&req)

	userID := c.GetString("user_id")
	err = h.Incidents.Resolve(c.Request.Context(), inc.ID, store.UserPrincipal(userID), req.Resolution, req.Note)
	if err != nil {
		respondErr(c, err)
		return
	}

	h.emit(c, notify.Intent{
		Kind:       notify.KindIncidentResolved,
		IncidentID: inc.ID,
		Title:      inc.Title,
		Severity:   inc.Severity,
		Urgency:    inc.Urgency,
	})
	h.respondUpdated(c, inc.ID)
}

// AssignIncident handles POST /incidents/:id/assign.
func (h *IncidentHandler) AssignIncident(c *gin.Context) {
	inc, err := h.getScoped(c)
	if err != nil {
		respondErr(c, err)
		return
	}

	var req db.AssignIncidentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetString("user_id")
	if err := h.Incidents.Assign(c.Request.Context(), inc.ID, req.AssignedTo, userID, req.Note); err != nil {
		respondErr(c, err)
		return
	}

	h.emit(c, notify.Intent{
		Kind:         notify.KindIncidentAssigned,
		IncidentID:   inc.ID,
		TargetUserID: req.AssignedTo,
		Title:        inc.Title,
		Severity:     inc.Severity,
		Urgency:      inc.Urgency,
	})
	h.respondUpdated(c, inc.ID)
}

// EscalateIncident handles POST /incidents/:id/escalate: jump to the next
// level now instead of waiting out the timeout.
func (h *IncidentHandler) EscalateIncident(c *gin.Context) {
	inc, err := h.getScoped(c)
	if err != nil {
		respondErr(c, err)
		return
	}

	if inc.Status == db.IncidentStatusResolved {
		respondErr(c, apperr.New(apperr.Conflict, "cannot escalate a resolved incident"))
		return
	}
	if inc.EscalationPolicyID == "" {
		respondErr(c, apperr.New(apperr.BadRequest, "incident has no escalation policy"))
		return
	}

	policy, err := h.Policies.Get(c.Request.Context(), inc.EscalationPolicyID)
	if err != nil {
		respondErr(c, err)
		return
	}
	if len(policy.Levels) == 0 {
		respondErr(c, apperr.New(apperr.BadRequest, "escalation policy has no levels defined"))
		return
	}
	maxLevel := policy.Levels[len(policy.Levels)-1].LevelNumber
	if inc.CurrentEscalationLevel >= maxLevel {
		respondErr(c, apperr.New(apperr.Conflict, "incident is already at the maximum escalation level"))
		return
	}

	userID := c.GetString("user_id")
	step, err := h.Escalator.Advance(c.Request.Context(), &inc.Incident, store.UserPrincipal(userID))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, step)
}

// ListEvents handles GET /incidents/:id/events.
func (h *IncidentHandler) ListEvents(c *gin.Context) {
	inc, err := h.getScoped(c)
	if err != nil {
		respondErr(c, err)
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
			return
		}
	}

	events, err := h.Incidents.ListEvents(c.Request.Context(), inc.ID, limit)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, events)
}

// getScoped loads the incident and hides it unless the caller's organization
// owns it and the caller can see its project. Assignees always see their own
// incidents, mirroring the list predicate.
func (h *IncidentHandler) getScoped(c *gin.Context) (*db.IncidentResponse, error) {
	id := c.Param("id")
	inc, err := h.Incidents.Get(c.Request.Context(), id)
	if err != nil {
		return nil, err
	}

	userID := c.GetString("user_id")
	if inc.OrganizationID != c.GetString("org_id") {
		return nil, apperr.Newf(apperr.NotFound, "incident %s not found", id)
	}
	if inc.ProjectID != "" && inc.AssignedTo != userID &&
		!h.Authz.CanAccessProject(c.Request.Context(), userID, inc.ProjectID) {
		return nil, apperr.Newf(apperr.NotFound, "incident %s not found", id)
	}
	return inc, nil
}

func (h *IncidentHandler) respondUpdated(c *gin.Context, id string) {
	updated, err := h.Incidents.Get(c.Request.Context(), id)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// emit hands the intent off. Losing a notification must not fail the
// request; the mutation is already durable.
func (h *IncidentHandler) emit(c *gin.Context, intent notify.Intent) {
	if err := h.Notifier.Emit(c.Request.Context(), intent); err != nil {
		_ = c.Error(err)
	}
}
