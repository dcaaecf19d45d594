// Package escalation drives unacknowledged incidents through their policy
// levels. A single Engine instance polls for incidents whose level timeout
// has expired, advances each one exactly once (the store guard arbitrates
// racing replicas) and emits an escalation intent per applied step. The same
// Advance path serves manual escalation from the API.
package escalation

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/klaxonhq/klaxon/db"
	"github.com/klaxonhq/klaxon/internal/apperr"
	"github.com/klaxonhq/klaxon/internal/metrics"
	"github.com/klaxonhq/klaxon/notify"
	"github.com/klaxonhq/klaxon/schedule"
	"github.com/klaxonhq/klaxon/store"
)

const (
	DefaultInterval    = 30 * time.Second
	DefaultBatchSize   = 50
	DefaultConcurrency = 4
)

// OnCallFunc resolves who is currently on call for a group. ok is false when
// the group has no active schedule or nobody covers the instant.
type OnCallFunc func(ctx context.Context, groupID string, at time.Time) (string, bool, error)

// Step is one applied escalation transition, returned so callers can report
// what happened.
type Step struct {
	IncidentID string `json:"incident_id"`
	FromLevel  int    `json:"from_level"`
	ToLevel    int    `json:"to_level"`
	TargetType string `json:"target_type,omitempty"`
	TargetID   string `json:"target_id,omitempty"`
	AssignedTo string `json:"assigned_to,omitempty"`
	Completed  bool   `json:"completed"` // chain exhausted instead of advancing
}

// Engine polls for escalatable incidents and advances them. Zero-value
// fields fall back to defaults when Run starts.
type Engine struct {
	Incidents store.IncidentStore
	Policies  store.PolicyStore
	Notifier  notify.Emitter
	Logger    *slog.Logger

	OnCall      OnCallFunc
	Clock       func() time.Time
	Interval    time.Duration
	BatchSize   int
	Concurrency int
}

// New wires an engine over the store bundle with on-call resolution backed
// by the group's active schedule.
func New(st *store.Stores, notifier notify.Emitter, logger *slog.Logger) *Engine {
	return &Engine{
		Incidents:   st.Incidents,
		Policies:    st.Policies,
		Notifier:    notifier,
		Logger:      logger,
		OnCall:      GroupOnCall(st.Schedules),
		Clock:       time.Now,
		Interval:    DefaultInterval,
		BatchSize:   DefaultBatchSize,
		Concurrency: DefaultConcurrency,
	}
}

// GroupOnCall resolves a group's on-call user from its active schedule and
// the overrides covering the instant. No active schedule is not an error:
// it resolves to nobody.
func GroupOnCall(schedules store.ScheduleStore) OnCallFunc {
	return func(ctx context.Context, groupID string, at time.Time) (string, bool, error) {
		sch, err := schedules.ActiveSchedule(ctx, groupID)
		if apperr.Is(err, apperr.NotFound) {
			return "", false, nil
		}
		if err != nil {
			return "", false, err
		}
		overrides, err := schedules.ListOverrides(ctx, groupID, at, at)
		if err != nil {
			return "", false, err
		}
		userID, ok := schedule.WhoIsOnCall(sch.Layers, overrides, at)
		return userID, ok, nil
	}
}

// Run blocks until ctx is cancelled. A cancellation lets the batch in flight
// finish; the per-tick deadline stops a wedged batch from blocking exit.
func (e *Engine) Run(ctx context.Context) error {
	e.applyDefaults()
	e.Logger.Info("escalation engine started",
		"interval", e.Interval, "batch_size", e.BatchSize, "concurrency", e.Concurrency)

	ticker := time.NewTicker(e.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.Logger.Info("escalation engine stopped")
			return nil
		case <-ticker.C:
			tickCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.Interval)
			err := e.tick(tickCtx)
			cancel()
			if err != nil {
				e.Logger.Error("escalation engine tick", "error", err)
			}
		}
	}
}

// tick claims one batch of expired incidents and advances them. Claimed rows
// are row-locked only for the duration of the claim; the level guard in
// RecordEscalationStep is what makes each transition single-winner.
func (e *Engine) tick(ctx context.Context) error {
	metrics.EscalationTicks.Inc()

	claimed, err := e.Incidents.ClaimEscalatable(ctx, e.now(), e.BatchSize)
	if err != nil {
		return fmt.Errorf("claiming escalatable incidents: %w", err)
	}
	if len(claimed) == 0 {
		return nil
	}

	sem := make(chan struct{}, e.Concurrency)
	var wg sync.WaitGroup
	for i := range claimed {
		inc := claimed[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			_, err := e.Advance(ctx, &inc, store.SystemPrincipal(""))
			switch {
			case err == nil:
			case apperr.Is(err, apperr.Conflict):
				// Another replica advanced it first; its step stands.
				e.log().Debug("escalation lost race", "incident_id", inc.ID)
			default:
				e.log().Error("escalating incident", "incident_id", inc.ID, "error", err)
			}
		}()
	}
	wg.Wait()
	return nil
}

// Advance moves the incident to its next escalation level: resolves the
// level's target, records the transition, and emits the escalation intent.
// When no next level exists the chain is marked completed instead. An
// unresolvable target writes a notify_failure event and leaves the incident
// untouched so the next tick retries it.
func (e *Engine) Advance(ctx context.Context, inc *db.Incident, by store.Principal) (*Step, error) {
	if inc.EscalationPolicyID == "" {
		return nil, apperr.New(apperr.BadRequest, "incident has no escalation policy")
	}

	policy, err := e.Policies.Get(ctx, inc.EscalationPolicyID)
	if err != nil {
		return nil, fmt.Errorf("loading escalation policy %s: %w", inc.EscalationPolicyID, err)
	}
	if len(policy.Levels) == 0 {
		return nil, apperr.New(apperr.BadRequest, "escalation policy has no levels defined")
	}

	now := e.now()
	from := inc.CurrentEscalationLevel
	next, ok := levelAfter(policy.Levels, from)
	if !ok {
		// The policy shrank since this incident last escalated.
		if err := e.Incidents.CompleteEscalation(ctx, inc.ID, from); err != nil {
			return nil, err
		}
		e.log().Info("escalation chain exhausted", "incident_id", inc.ID, "level", from)
		return &Step{IncidentID: inc.ID, FromLevel: from, ToLevel: from, Completed: true}, nil
	}

	assignTo, reason := e.resolveTarget(ctx, inc, next, now)
	if reason != "" {
		if ferr := e.Incidents.RecordNotifyFailure(ctx, inc.ID, next.LevelNumber, reason); ferr != nil {
			e.log().Error("recording notify failure", "incident_id", inc.ID, "error", ferr)
		}
		return nil, apperr.Newf(apperr.TransientFailure,
			"no reachable target for level %d: %s", next.LevelNumber, reason)
	}

	maxLevel := policy.Levels[len(policy.Levels)-1].LevelNumber
	err = e.Incidents.RecordEscalationStep(ctx, store.EscalationStep{
		IncidentID: inc.ID,
		FromLevel:  from,
		ToLevel:    next.LevelNumber,
		TargetType: next.TargetType,
		TargetID:   next.TargetID,
		AssignTo:   assignTo,
		Final:      next.LevelNumber >= maxLevel,
		At:         now,
		By:         by,
	})
	if err != nil {
		return nil, err
	}

	metrics.IncidentsEscalated.WithLabelValues(strconv.Itoa(next.LevelNumber)).Inc()
	e.log().Info("escalated incident",
		"incident_id", inc.ID,
		"from_level", from,
		"to_level", next.LevelNumber,
		"target_type", next.TargetType,
		"assigned_to", assignTo,
	)

	intent := notify.Intent{
		Kind:         notify.KindIncidentEscalated,
		IncidentID:   inc.ID,
		TargetUserID: assignTo,
		Title:        inc.Title,
		Severity:     inc.Severity,
		Urgency:      inc.Urgency,
		Level:        next.LevelNumber,
	}
	if err := e.notifier().Emit(ctx, intent); err != nil {
		e.log().Error("escalation intent emit failed", "incident_id", inc.ID, "error", err)
	}

	return &Step{
		IncidentID: inc.ID,
		FromLevel:  from,
		ToLevel:    next.LevelNumber,
		TargetType: next.TargetType,
		TargetID:   next.TargetID,
		AssignedTo: assignTo,
	}, nil
}

// resolveTarget returns the user the level assigns to, or a non-empty reason
// when nobody is reachable. External targets resolve to no assignee: the
// level still advances and assignment keeps its current value.
func (e *Engine) resolveTarget(ctx context.Context, inc *db.Incident, level db.EscalationLevel, at time.Time) (assignTo, reason string) {
	switch level.TargetType {
	case db.EscalationTargetUser:
		if level.TargetID == "" {
			return "", "user target has no user id"
		}
		return level.TargetID, ""

	case db.EscalationTargetGroup:
		if level.TargetID == "" {
			return "", "group target has no group id"
		}
		return e.onCallOrReason(ctx, level.TargetID, at)

	case db.EscalationTargetCurrentSchedule:
		if inc.GroupID == "" {
			return "", "incident has no group for current_schedule target"
		}
		return e.onCallOrReason(ctx, inc.GroupID, at)

	case db.EscalationTargetExternal:
		return "", ""

	default:
		return "", fmt.Sprintf("unknown target type '%s'", level.TargetType)
	}
}

func (e *Engine) onCallOrReason(ctx context.Context, groupID string, at time.Time) (string, string) {
	userID, ok, err := e.OnCall(ctx, groupID, at)
	if err != nil {
		return "", fmt.Sprintf("resolving on-call for group %s: %v", groupID, err)
	}
	if !ok {
		return "", fmt.Sprintf("nobody is on call for group %s", groupID)
	}
	return userID, ""
}

// levelAfter returns the first level numbered above current. Levels arrive
// ordered from the store.
func levelAfter(levels []db.EscalationLevel, current int) (db.EscalationLevel, bool) {
	for _, l := range levels {
		if l.LevelNumber > current {
			return l, true
		}
	}
	return db.EscalationLevel{}, false
}

func (e *Engine) applyDefaults() {
	if e.Notifier == nil {
		e.Notifier = notify.Nop{}
	}
	if e.Logger == nil {
		e.Logger = slog.Default()
	}
	if e.Clock == nil {
		e.Clock = time.Now
	}
	if e.Interval <= 0 {
		e.Interval = DefaultInterval
	}
	if e.BatchSize <= 0 {
		e.BatchSize = DefaultBatchSize
	}
	if e.Concurrency <= 0 {
		e.Concurrency = DefaultConcurrency
	}
}

// Accessors below keep Advance safe on a bare Engine literal without
// mutating shared fields from request goroutines.

func (e *Engine) now() time.Time {
	if e.Clock != nil {
		return e.Clock()
	}
	return time.Now()
}

func (e *Engine) log() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e *Engine) notifier() notify.Emitter {
	if e.Notifier != nil {
		return e.Notifier
	}
	return notify.Nop{}
}
