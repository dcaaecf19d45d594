package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/klaxonhq/klaxon/authz"
	"github.com/klaxonhq/klaxon/db"
	"github.com/klaxonhq/klaxon/internal/apperr"
	"github.com/klaxonhq/klaxon/store"
)

// GroupHandler owns on-call group CRUD. Private groups are visible to their
// members only; public and organization groups to every org member.
type GroupHandler struct {
	Groups  store.GroupStore
	Members authz.MembershipManager
}

func NewGroupHandler(groups store.GroupStore, members authz.MembershipManager) *GroupHandler {
	return &GroupHandler{Groups: groups, Members: members}
}

// ListGroups handles GET /groups.
func (h *GroupHandler) ListGroups(c *gin.Context) {
	groups, err := h.Groups.List(c.Request.Context(), c.GetString("org_id"))
	if err != nil {
		respondErr(c, err)
		return
	}

	userID := c.GetString("user_id")
	visible := make([]db.Group, 0, len(groups))
	for _, g := range groups {
		if h.canSee(c, userID, &g) {
			visible = append(visible, g)
		}
	}
	c.JSON(http.StatusOK, visible)
}

// CreateGroup handles POST /groups. The creator becomes the group's first
// admin so someone can manage its members from the start.
func (h *GroupHandler) CreateGroup(c *gin.Context) {
	var req db.CreateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetString("user_id")
	group := &db.Group{
		Name:           req.Name,
		Description:    req.Description,
		Visibility:     req.Visibility,
		IsActive:       true,
		OrganizationID: c.GetString("org_id"),
		ProjectID:      req.ProjectID,
		CreatedBy:      userID,
	}
	if group.Visibility == "" {
		group.Visibility = db.GroupVisibilityOrganization
	}

	created, err := h.Groups.Create(c.Request.Context(), group)
	if err != nil {
		respondErr(c, err)
		return
	}

	if err := h.Members.AddMember(c.Request.Context(), userID, authz.ResourceGroup, created.ID, authz.RoleAdmin); err != nil {
		_ = c.Error(err)
	}
	c.JSON(http.StatusCreated, created)
}

// GetGroup handles GET /groups/:id.
func (h *GroupHandler) GetGroup(c *gin.Context) {
	group, err := h.getScoped(c)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, group)
}

// UpdateGroup handles PUT /groups/:id.
func (h *GroupHandler) UpdateGroup(c *gin.Context) {
	group, err := h.getScoped(c)
	if err != nil {
		respondErr(c, err)
		return
	}

	var req db.UpdateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Name != nil {
		group.Name = *req.Name
	}
	if req.Description != nil {
		group.Description = *req.Description
	}
	if req.Visibility != nil {
		group.Visibility = *req.Visibility
	}
	if req.IsActive != nil {
		group.IsActive = *req.IsActive
	}
	if group.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "group name is required"})
		return
	}

	updated, err := h.Groups.Update(c.Request.Context(), group)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// DeleteGroup handles DELETE /groups/:id.
func (h *GroupHandler) DeleteGroup(c *gin.Context) {
	group, err := h.getScoped(c)
	if err != nil {
		respondErr(c, err)
		return
	}
	if err := h.Groups.Delete(c.Request.Context(), group.ID); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "group deleted"})
}

func (h *GroupHandler) getScoped(c *gin.Context) (*db.Group, error) {
	return scopedGroup(c, h.Groups, h.Members, c.Param("id"))
}

func (h *GroupHandler) canSee(c *gin.Context, userID string, g *db.Group) bool {
	if g.Visibility != db.GroupVisibilityPrivate {
		return true
	}
	return h.Members.IsMember(c.Request.Context(), userID, authz.ResourceGroup, g.ID)
}

// scopedGroup loads a group enforcing tenancy and private-group visibility.
// Schedule and override handlers share it: absent, foreign, and hidden groups
// all answer the same 404.
func scopedGroup(c *gin.Context, groups store.GroupStore, members authz.MembershipManager, id string) (*db.Group, error) {
	group, err := groups.Get(c.Request.Context(), id)
	if err != nil {
		return nil, err
	}
	if group.OrganizationID != c.GetString("org_id") {
		return nil, apperr.Newf(apperr.NotFound, "group %s not found", id)
	}
	if group.Visibility == db.GroupVisibilityPrivate &&
		!members.IsMember(c.Request.Context(), c.GetString("user_id"), authz.ResourceGroup, group.ID) {
		return nil, apperr.Newf(apperr.NotFound, "group %s not found", id)
	}
	return group, nil
}
