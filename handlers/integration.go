package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/klaxonhq/klaxon/authz"
	"github.com/klaxonhq/klaxon/db"
	"github.com/klaxonhq/klaxon/internal/apperr"
	"github.com/klaxonhq/klaxon/store"
)

// IntegrationHandler manages webhook integrations. Every endpoint requires
// the manage action on the organization: integrations mint publicly
// reachable ingest URLs, so members cannot create or rotate them.
type IntegrationHandler struct {
	Integrations store.IntegrationStore
	Authz        authz.Authorizer
}

func NewIntegrationHandler(integrations store.IntegrationStore, az authz.Authorizer) *IntegrationHandler {
	return &IntegrationHandler{Integrations: integrations, Authz: az}
}

// ListIntegrations handles GET /integrations?type=&active=true.
func (h *IntegrationHandler) ListIntegrations(c *gin.Context) {
	orgID := c.GetString("org_id")
	if err := h.requireManage(c, orgID); err != nil {
		respondErr(c, err)
		return
	}
	integrations, err := h.Integrations.List(c.Request.Context(), orgID,
		c.Query("type"), c.Query("active") == "true")
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, integrations)
}

// CreateIntegration handles POST /integrations.
func (h *IntegrationHandler) CreateIntegration(c *gin.Context) {
	orgID := c.GetString("org_id")
	if err := h.requireManage(c, orgID); err != nil {
		respondErr(c, err)
		return
	}

	var req db.CreateIntegrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	integration := &db.Integration{
		Name:               req.Name,
		Type:               req.Type,
		OrganizationID:     orgID,
		ProjectID:          req.ProjectID,
		GroupID:            req.GroupID,
		EscalationPolicyID: req.EscalationPolicyID,
		CreatedBy:          c.GetString("user_id"),
	}
	created, err := h.Integrations.Create(c.Request.Context(), integration)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

// GetIntegration handles GET /integrations/:id.
func (h *IntegrationHandler) GetIntegration(c *gin.Context) {
	integration, err := h.getScoped(c)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, integration)
}

// UpdateIntegration handles PUT /integrations/:id.
func (h *IntegrationHandler) UpdateIntegration(c *gin.Context) {
	integration, err := h.getScoped(c)
	if err != nil {
		respondErr(c, err)
		return
	}

	var req db.UpdateIntegrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Name != nil {
		if *req.Name == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "integration name is required"})
			return
		}
		integration.Name = *req.Name
	}
	if req.IsActive != nil {
		integration.IsActive = *req.IsActive
	}
	if req.GroupID != nil {
		integration.GroupID = *req.GroupID
	}
	if req.EscalationPolicyID != nil {
		integration.EscalationPolicyID = *req.EscalationPolicyID
	}

	updated, err := h.Integrations.Update(c.Request.Context(), integration)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// DeleteIntegration handles DELETE /integrations/:id. Incidents the
// integration created survive; only the inbound URL dies.
func (h *IntegrationHandler) DeleteIntegration(c *gin.Context) {
	integration, err := h.getScoped(c)
	if err != nil {
		respondErr(c, err)
		return
	}
	if err := h.Integrations.Delete(c.Request.Context(), integration.ID); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "integration deleted"})
}

func (h *IntegrationHandler) requireManage(c *gin.Context, orgID string) error {
	if !h.Authz.CanPerformOrgAction(c.Request.Context(), c.GetString("user_id"), orgID, authz.ActionManage) {
		return apperr.New(apperr.Forbidden, "managing integrations requires an org admin role")
	}
	return nil
}

// getScoped runs the manage gate and hides foreign-org integrations behind
// the same 404 an absent id gets.
func (h *IntegrationHandler) getScoped(c *gin.Context) (*db.Integration, error) {
	orgID := c.GetString("org_id")
	if err := h.requireManage(c, orgID); err != nil {
		return nil, err
	}
	id := c.Param("id")
	integration, err := h.Integrations.Get(c.Request.Context(), id)
	if err != nil {
		return nil, err
	}
	if integration.OrganizationID != orgID {
		return nil, apperr.Newf(apperr.NotFound, "integration %s not found", id)
	}
	return integration, nil
}
