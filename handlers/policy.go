package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/klaxonhq/klaxon/db"
	"github.com/klaxonhq/klaxon/services"
	"github.com/klaxonhq/klaxon/store"
)

// PolicyHandler exposes escalation policy CRUD. Level-shape validation lives
// in services.PolicyService; the handler only binds and translates errors.
type PolicyHandler struct {
	Policies *services.PolicyService
}

func NewPolicyHandler(policies *services.PolicyService) *PolicyHandler {
	return &PolicyHandler{Policies: policies}
}

// ListPolicies handles GET /policies?group_id=&active=true.
func (h *PolicyHandler) ListPolicies(c *gin.Context) {
	filters := store.PolicyFilters{
		GroupID:    c.Query("group_id"),
		ActiveOnly: c.Query("active") == "true",
	}
	policies, err := h.Policies.List(c.Request.Context(), c.GetString("org_id"), filters)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, policies)
}

// CreatePolicy handles POST /policies.
func (h *PolicyHandler) CreatePolicy(c *gin.Context) {
	var req db.CreateEscalationPolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	policy, err := h.Policies.Create(c.Request.Context(), c.GetString("org_id"), c.GetString("user_id"), req)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, policy)
}

// GetPolicy handles GET /policies/:id.
func (h *PolicyHandler) GetPolicy(c *gin.Context) {
	policy, err := h.Policies.Get(c.Request.Context(), c.GetString("org_id"), c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, policy)
}

// UpdatePolicy handles PUT /policies/:id.
func (h *PolicyHandler) UpdatePolicy(c *gin.Context) {
	var req db.UpdateEscalationPolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	policy, err := h.Policies.Update(c.Request.Context(), c.GetString("org_id"), c.Param("id"), req)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, policy)
}

// DeletePolicy handles DELETE /policies/:id.
func (h *PolicyHandler) DeletePolicy(c *gin.Context) {
	if err := h.Policies.Delete(c.Request.Context(), c.GetString("org_id"), c.Param("id")); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "escalation policy deleted"})
}
