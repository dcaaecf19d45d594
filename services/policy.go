package services

import (
	"context"
	"sort"

	"github.com/klaxonhq/klaxon/db"
	"github.com/klaxonhq/klaxon/internal/apperr"
	"github.com/klaxonhq/klaxon/store"
)

// defaultEscalateAfterMinutes is the per-level timeout a policy falls back to
// when neither the policy nor the level sets one.
const defaultEscalateAfterMinutes = 5

// PolicyService validates escalation policies before they reach the store.
// The store writes whatever it is given; every shape rule lives here.
type PolicyService struct {
	Policies store.PolicyStore
}

func NewPolicyService(policies store.PolicyStore) *PolicyService {
	return &PolicyService{Policies: policies}
}

// Create validates the request and persists a new policy with its levels.
func (s *PolicyService) Create(ctx context.Context, orgID, userID string, req db.CreateEscalationPolicyRequest) (*db.EscalationPolicy, error) {
	if req.Name == "" {
		return nil, apperr.New(apperr.BadRequest, "policy name is required")
	}
	if err := validateLevels(req.Levels); err != nil {
		return nil, err
	}

	policy := &db.EscalationPolicy{
		Name:                 req.Name,
		Description:          req.Description,
		IsActive:             true,
		RepeatMaxTimes:       req.RepeatMaxTimes,
		EscalateAfterMinutes: req.EscalateAfterMinutes,
		GroupID:              req.GroupID,
		OrganizationID:       orgID,
		CreatedBy:            userID,
		Levels:               levelsFromRequest(req.Levels),
	}
	if policy.EscalateAfterMinutes <= 0 {
		policy.EscalateAfterMinutes = defaultEscalateAfterMinutes
	}
	return s.Policies.Create(ctx, policy)
}

// Get returns the policy with its levels. A policy in another organization
// reads as not found.
func (s *PolicyService) Get(ctx context.Context, orgID, id string) (*db.EscalationPolicy, error) {
	policy, err := s.Policies.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if policy.OrganizationID != orgID {
		return nil, apperr.Newf(apperr.NotFound, "escalation policy %s not found", id)
	}
	return policy, nil
}

// List returns the organization's policies without levels.
func (s *PolicyService) List(ctx context.Context, orgID string, f store.PolicyFilters) ([]db.EscalationPolicy, error) {
	return s.Policies.List(ctx, orgID, f)
}

// Update applies the set fields of req. A nil Levels slice keeps the existing
// chain; a non-nil one replaces it whole and must validate like a create.
func (s *PolicyService) Update(ctx context.Context, orgID, id string, req db.UpdateEscalationPolicyRequest) (*db.EscalationPolicy, error) {
	policy, err := s.Get(ctx, orgID, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		if *req.Name == "" {
			return nil, apperr.New(apperr.BadRequest, "policy name is required")
		}
		policy.Name = *req.Name
	}
	if req.Description != nil {
		policy.Description = *req.Description
	}
	if req.IsActive != nil {
		policy.IsActive = *req.IsActive
	}
	if req.RepeatMaxTimes != nil {
		policy.RepeatMaxTimes = *req.RepeatMaxTimes
	}
	if req.EscalateAfterMinutes != nil {
		policy.EscalateAfterMinutes = *req.EscalateAfterMinutes
	}
	if policy.EscalateAfterMinutes <= 0 {
		policy.EscalateAfterMinutes = defaultEscalateAfterMinutes
	}

	if req.Levels != nil {
		if err := validateLevels(req.Levels); err != nil {
			return nil, err
		}
		policy.Levels = levelsFromRequest(req.Levels)
	} else {
		// Loaded levels stay untouched; the store only rewrites a non-nil set.
		policy.Levels = nil
	}

	if _, err := s.Policies.Update(ctx, policy); err != nil {
		return nil, err
	}
	return s.Policies.Get(ctx, id)
}

// Delete removes the policy and its levels after the tenant check.
func (s *PolicyService) Delete(ctx context.Context, orgID, id string) error {
	if _, err := s.Get(ctx, orgID, id); err != nil {
		return err
	}
	return s.Policies.Delete(ctx, id)
}

// validateLevels enforces the chain shape: at least one level, level numbers
// dense 1..N, a known target type per level, a target id where the type needs
// one, and no negative timeouts.
func validateLevels(levels []db.CreateEscalationLevelRequest) error {
	if len(levels) == 0 {
		return apperr.New(apperr.BadRequest, "escalation policy needs at least one level")
	}

	seen := make(map[int]bool, len(levels))
	for _, level := range levels {
		n := level.LevelNumber
		if n < 1 || n > len(levels) {
			return apperr.Newf(apperr.BadRequest,
				"levels must be numbered 1..%d with no gaps, got level_number %d", len(levels), n)
		}
		if seen[n] {
			return apperr.Newf(apperr.BadRequest, "duplicate level_number %d", n)
		}
		seen[n] = true

		switch level.TargetType {
		case db.EscalationTargetUser:
			if level.TargetID == "" {
				return apperr.Newf(apperr.BadRequest, "level %d: user target requires a target_id", n)
			}
		case db.EscalationTargetGroup:
			if level.TargetID == "" {
				return apperr.Newf(apperr.BadRequest, "level %d: group target requires a target_id", n)
			}
		case db.EscalationTargetCurrentSchedule:
			// Resolves against the incident's own group at escalation time.
		case db.EscalationTargetExternal:
			if level.TargetID == "" {
				return apperr.Newf(apperr.BadRequest, "level %d: external target requires a webhook url in target_id", n)
			}
		default:
			return apperr.Newf(apperr.BadRequest,
				"invalid target_type '%s' for level %d. Must be one of: user, group, current_schedule, external",
				level.TargetType, n)
		}

		if level.TimeoutMinutes < 0 {
			return apperr.Newf(apperr.BadRequest, "level %d: timeout_minutes must not be negative", n)
		}
	}
	return nil
}

func levelsFromRequest(reqs []db.CreateEscalationLevelRequest) []db.EscalationLevel {
	levels := make([]db.EscalationLevel, 0, len(reqs))
	for _, lr := range reqs {
		levels = append(levels, db.EscalationLevel{
			LevelNumber:         lr.LevelNumber,
			TargetType:          lr.TargetType,
			TargetID:            lr.TargetID,
			TimeoutMinutes:      lr.TimeoutMinutes,
			NotificationMethods: lr.NotificationMethods,
		})
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i].LevelNumber < levels[j].LevelNumber })
	return levels
}
