package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/klaxonhq/klaxon/authz"
)

// MembershipHandler exposes the membership relation over HTTP. One handler
// serves orgs, projects, and groups; the route binds the resource type.
// Guard rules (owner grants, last-owner protection, org-first requirement)
// live in authz.MembershipService.
type MembershipHandler struct {
	Members *authz.MembershipService
}

func NewMembershipHandler(members *authz.MembershipService) *MembershipHandler {
	return &MembershipHandler{Members: members}
}

type addMemberRequest struct {
	UserID string     `json:"user_id" binding:"required"`
	Role   authz.Role `json:"role" binding:"required"`
}

type updateMemberRoleRequest struct {
	Role authz.Role `json:"role" binding:"required"`
}

// ListMembers serves GET /<resource>/:id/members.
func (h *MembershipHandler) ListMembers(rt authz.ResourceType) gin.HandlerFunc {
	return func(c *gin.Context) {
		members, err := h.Members.ListMembers(c.Request.Context(), c.GetString("user_id"), rt, c.Param("id"))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, members)
	}
}

// AddMember serves POST /<resource>/:id/members.
func (h *MembershipHandler) AddMember(rt authz.ResourceType) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req addMemberRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		err := h.Members.AddMember(c.Request.Context(), c.GetString("user_id"), rt, c.Param("id"), req.UserID, req.Role)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"message": "member added"})
	}
}

// UpdateMemberRole serves PUT /<resource>/:id/members/:user_id.
func (h *MembershipHandler) UpdateMemberRole(rt authz.ResourceType) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req updateMemberRoleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		err := h.Members.UpdateMemberRole(c.Request.Context(), c.GetString("user_id"), rt, c.Param("id"), c.Param("user_id"), req.Role)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "member role updated"})
	}
}

// RemoveMember serves DELETE /<resource>/:id/members/:user_id.
func (h *MembershipHandler) RemoveMember(rt authz.ResourceType) gin.HandlerFunc {
	return func(c *gin.Context) {
		err := h.Members.RemoveMember(c.Request.Context(), c.GetString("user_id"), rt, c.Param("id"), c.Param("user_id"))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "member removed"})
	}
}

// MyMemberships serves GET /me/memberships: every role the caller holds
// across orgs, projects, and groups.
func (h *MembershipHandler) MyMemberships(c *gin.Context) {
	memberships, err := h.Members.MyMemberships(c.Request.Context(), c.GetString("user_id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, memberships)
}
