package db

import "time"

// ===========================
// TENANCY MODELS
// ===========================

// Organization is the top-level tenant. Every other entity except users is
// transitively owned by exactly one organization.
type Organization struct {
	ID        string    `json:"id"`
	Slug      string    `json:"slug"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Project groups entities inside an organization. A project with no direct
// project memberships is "open" (visible to all org members); with at least
// one it is "closed". Openness is derived, never stored.
type Project struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Slug           string    `json:"slug"`
	Name           string    `json:"name"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// User is an authenticated principal. Users are global; what they can see is
// mediated entirely by memberships.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ===========================
// GROUP MODELS
// ===========================

// Group visibility
const (
	GroupVisibilityPrivate      = "private"
	GroupVisibilityPublic       = "public"
	GroupVisibilityOrganization = "organization"
)

// Group is an on-call team. Schedules and escalation policies attach to groups.
type Group struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Visibility  string    `json:"visibility"` // private, public, organization
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	CreatedBy   string    `json:"created_by,omitempty"`

	// Tenant isolation
	OrganizationID string `json:"organization_id,omitempty"`
	ProjectID      string `json:"project_id,omitempty"`

	// For API responses
	MemberCount int `json:"member_count,omitempty"`
}

type CreateGroupRequest struct {
	Name           string `json:"name" binding:"required"`
	Description    string `json:"description"`
	Visibility     string `json:"visibility,omitempty" binding:"omitempty,oneof=private public organization"`
	OrganizationID string `json:"organization_id,omitempty"`
	ProjectID      string `json:"project_id,omitempty"`
}

type UpdateGroupRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Visibility  *string `json:"visibility,omitempty" binding:"omitempty,oneof=private public organization"`
	IsActive    *bool   `json:"is_active,omitempty"`
}

// ===========================
// SCHEDULE MODELS
// ===========================

// Schedule is a named on-call calendar owned by a group. It contains an
// ordered list of rotation layers; a higher layer index wins when two layers
// both cover an instant.
type Schedule struct {
	ID        string    `json:"id"`
	GroupID   string    `json:"group_id"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	CreatedBy string    `json:"created_by,omitempty"`

	// Nested layers (populated when needed)
	Layers []ScheduleLayer `json:"layers,omitempty"`
}

// ScheduleLayer is one rotation: an ordered participant list cycling with a
// fixed shift length from a handoff anchor. All arithmetic is UTC.
type ScheduleLayer struct {
	ID                 string            `json:"id"`
	ScheduleID         string            `json:"schedule_id"`
	LayerIndex         int               `json:"layer_index"`
	Participants       []string          `json:"participants"` // ordered user ids
	ShiftLengthMinutes int               `json:"shift_length_minutes"`
	HandoffAnchor      time.Time         `json:"handoff_anchor"`
	Restriction        *LayerRestriction `json:"restriction,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
}

// LayerRestriction limits a layer to a daily time-of-day window, minutes since
// midnight UTC. A window with EndMinute <= StartMinute wraps past midnight.
type LayerRestriction struct {
	StartMinute int `json:"start_minute"`
	EndMinute   int `json:"end_minute"`
}

// ScheduleOverride supersedes the computed on-call for [StartTime, EndTime).
type ScheduleOverride struct {
	ID        string    `json:"id"`
	GroupID   string    `json:"group_id"`
	UserID    string    `json:"user_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	CreatedBy string    `json:"created_by,omitempty"`

	// User info (for display)
	UserName  string `json:"user_name,omitempty"`
	UserEmail string `json:"user_email,omitempty"`
}

// Shift is a resolved on-call interval, either computed from a layer or
// spliced in by an override.
type Shift struct {
	UserID     string    `json:"user_id"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	LayerIndex int       `json:"layer_index"`
	IsOverride bool      `json:"is_override"`
	OverrideID string    `json:"override_id,omitempty"`
}

type CreateScheduleRequest struct {
	Name   string               `json:"name" binding:"required"`
	Layers []CreateLayerRequest `json:"layers" binding:"required,min=1,dive"`
}

type CreateLayerRequest struct {
	LayerIndex         int               `json:"layer_index"`
	Participants       []string          `json:"participants" binding:"required,min=1"`
	ShiftLengthMinutes int               `json:"shift_length_minutes" binding:"required,min=1"`
	HandoffAnchor      time.Time         `json:"handoff_anchor" binding:"required"`
	Restriction        *LayerRestriction `json:"restriction,omitempty"`
}

type CreateOverrideRequest struct {
	UserID    string    `json:"user_id" binding:"required"`
	StartTime time.Time `json:"start_time" binding:"required"`
	EndTime   time.Time `json:"end_time" binding:"required"`
	Reason    string    `json:"reason,omitempty"`
}

type UpdateScheduleRequest struct {
	Name     *string              `json:"name,omitempty"`
	IsActive *bool                `json:"is_active,omitempty"`
	Layers   []CreateLayerRequest `json:"layers,omitempty" binding:"omitempty,min=1,dive"`
}

type PreviewScheduleRequest struct {
	Layers      []CreateLayerRequest `json:"layers" binding:"required,min=1,dive"`
	WindowStart time.Time            `json:"window_start" binding:"required"`
	WindowEnd   time.Time            `json:"window_end" binding:"required"`
}

// ===========================
// ESCALATION MODELS
// ===========================

// Escalation target types
const (
	EscalationTargetUser            = "user"
	EscalationTargetGroup           = "group"
	EscalationTargetCurrentSchedule = "current_schedule"
	EscalationTargetExternal        = "external"
)

// Escalation statuses on an incident
const (
	EscalationStatusNone      = "none"
	EscalationStatusPending   = "pending"
	EscalationStatusCompleted = "completed"
)

// EscalationPolicy defines a multi-level escalation chain.
type EscalationPolicy struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name"`
	Description          string    `json:"description,omitempty"`
	IsActive             bool      `json:"is_active"`
	RepeatMaxTimes       int       `json:"repeat_max_times"`
	EscalateAfterMinutes int       `json:"escalate_after_minutes"` // default per-level timeout
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
	GroupID              string    `json:"group_id,omitempty"`
	CreatedBy            string    `json:"created_by,omitempty"`

	// Tenant isolation
	OrganizationID string `json:"organization_id,omitempty"`

	// Nested levels (populated when needed)
	Levels []EscalationLevel `json:"levels,omitempty"`
}

// EscalationLevel is one step of the chain: a target principal and a timeout
// before the engine advances past it.
type EscalationLevel struct {
	ID                  string    `json:"id"`
	PolicyID            string    `json:"policy_id"`
	LevelNumber         int       `json:"level_number"`
	TargetType          string    `json:"target_type"`         // 'current_schedule', 'user', 'group', 'external'
	TargetID            string    `json:"target_id,omitempty"` // user_id, group_id, webhook_url
	TimeoutMinutes      int       `json:"timeout_minutes"`     // 0 = use policy default
	NotificationMethods []string  `json:"notification_methods"`
	CreatedAt           time.Time `json:"created_at"`

	// Display info (populated when needed)
	TargetName string `json:"target_name,omitempty"`
}

// GetEffectiveTimeout returns the level timeout, falling back to the policy
// default when the level does not set one.
func (el *EscalationLevel) GetEffectiveTimeout(policyDefault int) int {
	if el.TimeoutMinutes > 0 {
		return el.TimeoutMinutes
	}
	return policyDefault
}

type CreateEscalationPolicyRequest struct {
	Name                 string                         `json:"name" binding:"required"`
	Description          string                         `json:"description,omitempty"`
	GroupID              string                         `json:"group_id,omitempty"`
	RepeatMaxTimes       int                            `json:"repeat_max_times,omitempty"`
	EscalateAfterMinutes int                            `json:"escalate_after_minutes,omitempty"`
	Levels               []CreateEscalationLevelRequest `json:"levels" binding:"required,min=1,dive"`
}

type CreateEscalationLevelRequest struct {
	LevelNumber         int      `json:"level_number" binding:"required,min=1"`
	TargetType          string   `json:"target_type" binding:"required,oneof=user group current_schedule external"`
	TargetID            string   `json:"target_id,omitempty"`
	TimeoutMinutes      int      `json:"timeout_minutes,omitempty"`
	NotificationMethods []string `json:"notification_methods,omitempty"`
}

type UpdateEscalationPolicyRequest struct {
	Name                 *string                        `json:"name,omitempty"`
	Description          *string                        `json:"description,omitempty"`
	IsActive             *bool                          `json:"is_active,omitempty"`
	RepeatMaxTimes       *int                           `json:"repeat_max_times,omitempty"`
	EscalateAfterMinutes *int                           `json:"escalate_after_minutes,omitempty"`
	Levels               []CreateEscalationLevelRequest `json:"levels,omitempty" binding:"omitempty,min=1,dive"`
}

// ===========================
// INCIDENT MODELS
// ===========================

// Incident statuses
const (
	IncidentStatusTriggered    = "triggered"
	IncidentStatusAcknowledged = "acknowledged"
	IncidentStatusResolved     = "resolved"
)

// Incident severities
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"
)

// Incident urgency levels
const (
	IncidentUrgencyLow  = "low"
	IncidentUrgencyHigh = "high"
)

// Incident sources
const (
	SourceDatadog    = "datadog"
	SourcePrometheus = "prometheus"
	SourceUptime     = "uptime"
	SourceWebhook    = "webhook"
	SourceManual     = "manual"
)

// Incident is the central entity, derived from one or more alerts and driven
// through triggered -> acknowledged -> resolved (direct resolve allowed).
type Incident struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Status      string    `json:"status"`  // triggered, acknowledged, resolved
	Urgency     string    `json:"urgency"` // low, high
	Severity    string    `json:"severity"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// Assignment & acknowledgment
	AssignedTo     string     `json:"assigned_to,omitempty"`
	AssignedAt     *time.Time `json:"assigned_at,omitempty"`
	AcknowledgedBy string     `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	ResolvedBy     string     `json:"resolved_by,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	Resolution     string     `json:"resolution,omitempty"`

	// Source & deduplication
	Source        string `json:"source"`
	IntegrationID string `json:"integration_id,omitempty"`
	ExternalID    string `json:"external_id,omitempty"`
	IncidentKey   string `json:"incident_key,omitempty"`
	AlertCount    int    `json:"alert_count"`

	// Escalation
	EscalationPolicyID     string     `json:"escalation_policy_id,omitempty"`
	CurrentEscalationLevel int        `json:"current_escalation_level"`
	LastEscalatedAt        *time.Time `json:"last_escalated_at,omitempty"`
	EscalationStatus       string     `json:"escalation_status"`

	// Grouping & tenant isolation
	GroupID        string `json:"group_id,omitempty"`
	OrganizationID string `json:"organization_id,omitempty"`
	ProjectID      string `json:"project_id,omitempty"`

	Labels map[string]interface{} `json:"labels,omitempty"`
}

// IncidentResponse includes joined display fields for API responses.
type IncidentResponse struct {
	Incident

	AssignedToName       string `json:"assigned_to_name,omitempty"`
	AssignedToEmail      string `json:"assigned_to_email,omitempty"`
	AcknowledgedByName   string `json:"acknowledged_by_name,omitempty"`
	ResolvedByName       string `json:"resolved_by_name,omitempty"`
	GroupName            string `json:"group_name,omitempty"`
	EscalationPolicyName string `json:"escalation_policy_name,omitempty"`
}

// Event principal kinds
const (
	PrincipalKindUser   = "user"
	PrincipalKindSystem = "system"
)

// Incident event types
const (
	IncidentEventCreated             = "created"
	IncidentEventAcknowledged        = "acknowledged"
	IncidentEventResolved            = "resolved"
	IncidentEventAssigned            = "assigned"
	IncidentEventEscalated           = "escalated"
	IncidentEventEscalationCompleted = "escalation_completed"
	IncidentEventNotifyFailure       = "notify_failure"
	IncidentEventAlertMerged         = "alert_merged"
)

// IncidentEvent is one append-only row of an incident's timeline. Events are
// written in the same transaction as the mutation they witness and are never
// updated or deleted.
type IncidentEvent struct {
	ID            string                 `json:"id"`
	IncidentID    string                 `json:"incident_id"`
	EventType     string                 `json:"event_type"`
	EventData     map[string]interface{} `json:"event_data,omitempty"`
	CreatedByKind string                 `json:"created_by_kind"` // user, system
	CreatedBy     string                 `json:"created_by,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`

	// Display info (populated when needed)
	CreatedByName string `json:"created_by_name,omitempty"`
}

// Request/response DTOs

type CreateIncidentRequest struct {
	Title              string                 `json:"title" binding:"required"`
	Description        string                 `json:"description"`
	Urgency            string                 `json:"urgency,omitempty" binding:"omitempty,oneof=low high"`
	Severity           string                 `json:"severity,omitempty" binding:"omitempty,oneof=critical high warning info"`
	GroupID            string                 `json:"group_id,omitempty"`
	EscalationPolicyID string                 `json:"escalation_policy_id,omitempty"`
	IncidentKey        string                 `json:"incident_key,omitempty"`
	Labels             map[string]interface{} `json:"labels,omitempty"`
	ProjectID          string                 `json:"project_id,omitempty"`
	OrganizationID     string                 `json:"organization_id,omitempty"`
}

type AcknowledgeIncidentRequest struct {
	Note string `json:"note,omitempty"`
}

type ResolveIncidentRequest struct {
	Resolution string `json:"resolution,omitempty"`
	Note       string `json:"note,omitempty"`
}

type AssignIncidentRequest struct {
	AssignedTo string `json:"assigned_to" binding:"required"`
	Note       string `json:"note,omitempty"`
}

// ===========================
// INTEGRATION MODELS
// ===========================

// Integration routes inbound webhooks to a tenant. The webhook URL embeds the
// integration id; the record supplies org/project/group/policy for created
// incidents.
type Integration struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Type               string    `json:"type"` // datadog, prometheus, webhook
	IsActive           bool      `json:"is_active"`
	OrganizationID     string    `json:"organization_id"`
	ProjectID          string    `json:"project_id,omitempty"`
	GroupID            string    `json:"group_id,omitempty"`
	EscalationPolicyID string    `json:"escalation_policy_id,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
	CreatedBy          string    `json:"created_by,omitempty"`
}

type CreateIntegrationRequest struct {
	Name               string `json:"name" binding:"required"`
	Type               string `json:"type" binding:"required,oneof=datadog prometheus webhook"`
	ProjectID          string `json:"project_id,omitempty"`
	GroupID            string `json:"group_id,omitempty"`
	EscalationPolicyID string `json:"escalation_policy_id,omitempty"`
}

type UpdateIntegrationRequest struct {
	Name               *string `json:"name,omitempty"`
	IsActive           *bool   `json:"is_active,omitempty"`
	GroupID            *string `json:"group_id,omitempty"`
	EscalationPolicyID *string `json:"escalation_policy_id,omitempty"`
}

// ===========================
// UPTIME MODELS
// ===========================

// Monitor is a probed target. Probe workers report results in batches; the
// monitor row carries the last known state used for transition detection.
type Monitor struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	URL             string     `json:"url"`
	Method          string     `json:"method"`
	IntervalSeconds int        `json:"interval_seconds"`
	IsActive        bool       `json:"is_active"`
	IsUp            *bool      `json:"is_up,omitempty"` // nil until first check
	LastStatus      int        `json:"last_status,omitempty"`
	LastLatencyMS   int        `json:"last_latency_ms,omitempty"`
	LastError       string     `json:"last_error,omitempty"`
	LastCheckAt     *time.Time `json:"last_check_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`

	// Tenant isolation
	OrganizationID string `json:"organization_id,omitempty"`
	ProjectID      string `json:"project_id,omitempty"`
}

// MonitorCheck is one immutable probe sample.
type MonitorCheck struct {
	ID        string    `json:"id"`
	MonitorID string    `json:"monitor_id"`
	IsUp      bool      `json:"is_up"`
	LatencyMS int       `json:"latency_ms"`
	Status    int       `json:"status"`
	Error     string    `json:"error,omitempty"`
	Location  string    `json:"location,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

type CreateMonitorRequest struct {
	Name            string `json:"name" binding:"required"`
	URL             string `json:"url" binding:"required"`
	Method          string `json:"method,omitempty"`
	IntervalSeconds int    `json:"interval_seconds,omitempty"`
	ProjectID       string `json:"project_id,omitempty"`
}

// UptimeProvider is a configured third-party uptime source (UptimeRobot,
// Checkly). Its API key is stored encrypted and never returned.
type UptimeProvider struct {
	ID                  string     `json:"id"`
	OrganizationID      string     `json:"organization_id,omitempty"`
	Name                string     `json:"name"`
	ProviderType        string     `json:"provider_type"`
	IsActive            bool       `json:"is_active"`
	LastSyncAt          *time.Time `json:"last_sync_at,omitempty"`
	SyncIntervalMinutes int        `json:"sync_interval_minutes"`
	MonitorCount        int        `json:"monitor_count,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// ExternalMonitor mirrors one monitor from an external provider.
type ExternalMonitor struct {
	ID             string     `json:"id"`
	ProviderID     string     `json:"provider_id"`
	OrganizationID string     `json:"organization_id,omitempty"`
	ExternalID     string     `json:"external_id"`
	Name           string     `json:"name"`
	URL            string     `json:"url"`
	MonitorType    string     `json:"monitor_type"`
	Status         string     `json:"status"` // up, down, degraded, paused, unknown
	IsPaused       bool       `json:"is_paused"`
	Uptime24h      float64    `json:"uptime_24h"`
	Uptime7d       float64    `json:"uptime_7d"`
	Uptime30d      float64    `json:"uptime_30d"`
	LastCheckAt    *time.Time `json:"last_check_at,omitempty"`
	ResponseTimeMS int        `json:"response_time_ms"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`

	// Joined from provider
	ProviderType string `json:"provider_type,omitempty"`
	ProviderName string `json:"provider_name,omitempty"`
}

type CreateProviderRequest struct {
	Name                string `json:"name" binding:"required"`
	ProviderType        string `json:"provider_type" binding:"required"`
	APIKey              string `json:"api_key" binding:"required"`
	SyncIntervalMinutes int    `json:"sync_interval_minutes,omitempty"`
}

// ===========================
// DEPLOYMENT TOKEN MODELS
// ===========================

// DeploymentToken authenticates probe workers posting monitor reports. Only
// the bcrypt hash is stored; the plaintext is shown once at creation.
type DeploymentToken struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organization_id"`
	Name           string     `json:"name"`
	TokenHash      string     `json:"-"`
	IsActive       bool       `json:"is_active"`
	LastUsedAt     *time.Time `json:"last_used_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	CreatedBy      string     `json:"created_by,omitempty"`
}

type CreateDeploymentTokenRequest struct {
	Name string `json:"name" binding:"required"`
}

type CreateDeploymentTokenResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Token string `json:"token"` // plaintext, returned once
}
