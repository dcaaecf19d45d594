package escalation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klaxonhq/klaxon/db"
	"github.com/klaxonhq/klaxon/internal/apperr"
	"github.com/klaxonhq/klaxon/notify"
	"github.com/klaxonhq/klaxon/store"
)

type fakeIncidents struct {
	store.IncidentStore

	mu sync.Mutex

	claimFn   func(ctx context.Context, now time.Time, limit int) ([]db.Incident, error)
	steps     []store.EscalationStep
	stepErr   error
	completed []int
	failures  []string
}

func (f *fakeIncidents) ClaimEscalatable(ctx context.Context, now time.Time, limit int) ([]db.Incident, error) {
	return f.claimFn(ctx, now, limit)
}

func (f *fakeIncidents) RecordEscalationStep(_ context.Context, step store.EscalationStep) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stepErr != nil {
		return f.stepErr
	}
	f.steps = append(f.steps, step)
	return nil
}

func (f *fakeIncidents) CompleteEscalation(_ context.Context, _ string, level int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, level)
	return nil
}

func (f *fakeIncidents) RecordNotifyFailure(_ context.Context, _ string, _ int, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, reason)
	return nil
}

type fakePolicies struct {
	store.PolicyStore
	policy *db.EscalationPolicy
	err    error
}

func (f *fakePolicies) Get(context.Context, string) (*db.EscalationPolicy, error) {
	return f.policy, f.err
}

type recordingEmitter struct {
	mu      sync.Mutex
	intents []notify.Intent
}

func (r *recordingEmitter) Emit(_ context.Context, intent notify.Intent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.intents = append(r.intents, intent)
	return nil
}

func (r *recordingEmitter) all() []notify.Intent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Intent(nil), r.intents...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func twoLevelPolicy() *db.EscalationPolicy {
	return &db.EscalationPolicy{
		ID:                   "pol-1",
		IsActive:             true,
		EscalateAfterMinutes: 5,
		Levels: []db.EscalationLevel{
			{PolicyID: "pol-1", LevelNumber: 1, TargetType: db.EscalationTargetUser, TargetID: "user-bob"},
			{PolicyID: "pol-1", LevelNumber: 2, TargetType: db.EscalationTargetCurrentSchedule},
		},
	}
}

func triggeredIncident(level int) *db.Incident {
	return &db.Incident{
		ID:                     "inc-1",
		Title:                  "DB on fire",
		Severity:               "critical",
		Urgency:                "high",
		Status:                 db.IncidentStatusTriggered,
		EscalationPolicyID:     "pol-1",
		CurrentEscalationLevel: level,
		GroupID:                "grp-1",
	}
}

func TestAdvanceUserTarget(t *testing.T) {
	incidents := &fakeIncidents{}
	emitter := &recordingEmitter{}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	engine := &Engine{
		Incidents: incidents,
		Policies:  &fakePolicies{policy: twoLevelPolicy()},
		Notifier:  emitter,
		Logger:    testLogger(),
		Clock:     func() time.Time { return now },
	}

	step, err := engine.Advance(context.Background(), triggeredIncident(0), store.SystemPrincipal(""))
	require.NoError(t, err)

	require.NotNil(t, step)
	assert.Equal(t, 0, step.FromLevel)
	assert.Equal(t, 1, step.ToLevel)
	assert.Equal(t, "user-bob", step.AssignedTo)
	assert.False(t, step.Completed)

	require.Len(t, incidents.steps, 1)
	got := incidents.steps[0]
	assert.Equal(t, "inc-1", got.IncidentID)
	assert.Equal(t, 0, got.FromLevel)
	assert.Equal(t, 1, got.ToLevel)
	assert.Equal(t, db.EscalationTargetUser, got.TargetType)
	assert.Equal(t, "user-bob", got.AssignTo)
	assert.False(t, got.Final, "level 1 of 2 is not final")
	assert.Equal(t, now, got.At)

	intents := emitter.all()
	require.Len(t, intents, 1)
	assert.Equal(t, notify.KindIncidentEscalated, intents[0].Kind)
	assert.Equal(t, "user-bob", intents[0].TargetUserID)
	assert.Equal(t, 1, intents[0].Level)
	assert.Equal(t, "DB on fire", intents[0].Title)
}

func TestAdvanceCurrentScheduleTarget(t *testing.T) {
	incidents := &fakeIncidents{}
	emitter := &recordingEmitter{}
	var askedGroup string
	engine := &Engine{
		Incidents: incidents,
		Policies:  &fakePolicies{policy: twoLevelPolicy()},
		Notifier:  emitter,
		Logger:    testLogger(),
		OnCall: func(_ context.Context, groupID string, _ time.Time) (string, bool, error) {
			askedGroup = groupID
			return "user-alice", true, nil
		},
	}

	step, err := engine.Advance(context.Background(), triggeredIncident(1), store.SystemPrincipal(""))
	require.NoError(t, err)

	assert.Equal(t, "grp-1", askedGroup, "current_schedule resolves against the incident's group")
	assert.Equal(t, 2, step.ToLevel)
	assert.Equal(t, "user-alice", step.AssignedTo)

	require.Len(t, incidents.steps, 1)
	assert.True(t, incidents.steps[0].Final, "level 2 of 2 is final")
}

func TestAdvanceGroupTarget(t *testing.T) {
	policy := &db.EscalationPolicy{
		ID: "pol-1", IsActive: true,
		Levels: []db.EscalationLevel{
			{PolicyID: "pol-1", LevelNumber: 1, TargetType: db.EscalationTargetGroup, TargetID: "grp-sre"},
		},
	}
	incidents := &fakeIncidents{}
	var askedGroup string
	engine := &Engine{
		Incidents: incidents,
		Policies:  &fakePolicies{policy: policy},
		Logger:    testLogger(),
		OnCall: func(_ context.Context, groupID string, _ time.Time) (string, bool, error) {
			askedGroup = groupID
			return "user-carol", true, nil
		},
	}

	step, err := engine.Advance(context.Background(), triggeredIncident(0), store.SystemPrincipal(""))
	require.NoError(t, err)
	assert.Equal(t, "grp-sre", askedGroup, "group targets resolve against the level's group")
	assert.Equal(t, "user-carol", step.AssignedTo)
}

func TestAdvanceExternalTargetKeepsAssignment(t *testing.T) {
	policy := &db.EscalationPolicy{
		ID: "pol-1", IsActive: true,
		Levels: []db.EscalationLevel{
			{PolicyID: "pol-1", LevelNumber: 1, TargetType: db.EscalationTargetExternal, TargetID: "https://hooks.example.com/page"},
		},
	}
	incidents := &fakeIncidents{}
	emitter := &recordingEmitter{}
	engine := &Engine{
		Incidents: incidents,
		Policies:  &fakePolicies{policy: policy},
		Notifier:  emitter,
		Logger:    testLogger(),
	}

	step, err := engine.Advance(context.Background(), triggeredIncident(0), store.SystemPrincipal(""))
	require.NoError(t, err)
	assert.Empty(t, step.AssignedTo)

	require.Len(t, incidents.steps, 1)
	assert.Empty(t, incidents.steps[0].AssignTo, "external levels advance without reassigning")
	assert.Equal(t, "https://hooks.example.com/page", incidents.steps[0].TargetID)

	intents := emitter.all()
	require.Len(t, intents, 1)
	assert.Empty(t, intents[0].TargetUserID)
}

func TestAdvanceUnresolvableTarget(t *testing.T) {
	incidents := &fakeIncidents{}
	emitter := &recordingEmitter{}
	engine := &Engine{
		Incidents: incidents,
		Policies:  &fakePolicies{policy: twoLevelPolicy()},
		Notifier:  emitter,
		Logger:    testLogger(),
		OnCall: func(context.Context, string, time.Time) (string, bool, error) {
			return "", false, nil
		},
	}

	step, err := engine.Advance(context.Background(), triggeredIncident(1), store.SystemPrincipal(""))
	require.Error(t, err)
	assert.Nil(t, step)
	assert.Equal(t, apperr.TransientFailure, apperr.KindOf(err))

	assert.Empty(t, incidents.steps, "no state advance on unresolvable target")
	require.Len(t, incidents.failures, 1)
	assert.Contains(t, incidents.failures[0], "nobody is on call for group grp-1")
	assert.Empty(t, emitter.all())
}

func TestAdvanceChainExhausted(t *testing.T) {
	incidents := &fakeIncidents{}
	emitter := &recordingEmitter{}
	engine := &Engine{
		Incidents: incidents,
		Policies:  &fakePolicies{policy: twoLevelPolicy()},
		Notifier:  emitter,
		Logger:    testLogger(),
	}

	step, err := engine.Advance(context.Background(), triggeredIncident(2), store.SystemPrincipal(""))
	require.NoError(t, err)
	assert.True(t, step.Completed)
	assert.Equal(t, 2, step.FromLevel)
	assert.Equal(t, 2, step.ToLevel)

	assert.Equal(t, []int{2}, incidents.completed)
	assert.Empty(t, incidents.steps)
	assert.Empty(t, emitter.all(), "completion is not an escalation")
}

func TestAdvanceLostRace(t *testing.T) {
	incidents := &fakeIncidents{
		stepErr: apperr.Newf(apperr.Conflict, "incident inc-1 moved past level 0 concurrently"),
	}
	emitter := &recordingEmitter{}
	engine := &Engine{
		Incidents: incidents,
		Policies:  &fakePolicies{policy: twoLevelPolicy()},
		Notifier:  emitter,
		Logger:    testLogger(),
	}

	step, err := engine.Advance(context.Background(), triggeredIncident(0), store.SystemPrincipal(""))
	assert.Nil(t, step)
	assert.Equal(t, apperr.Conflict, apperr.KindOf(err))
	assert.Empty(t, emitter.all(), "losers must not page anyone")
}

func TestAdvanceGuards(t *testing.T) {
	tests := []struct {
		name     string
		incident *db.Incident
		policies store.PolicyStore
		wantKind apperr.Kind
	}{
		{
			name:     "no policy attached",
			incident: &db.Incident{ID: "inc-1", Status: db.IncidentStatusTriggered},
			policies: &fakePolicies{},
			wantKind: apperr.BadRequest,
		},
		{
			name:     "policy has no levels",
			incident: triggeredIncident(0),
			policies: &fakePolicies{policy: &db.EscalationPolicy{ID: "pol-1", IsActive: true}},
			wantKind: apperr.BadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &Engine{
				Incidents: &fakeIncidents{},
				Policies:  tt.policies,
				Logger:    testLogger(),
			}
			_, err := engine.Advance(context.Background(), tt.incident, store.SystemPrincipal(""))
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, apperr.KindOf(err))
		})
	}
}

func TestAdvancePolicyLoadError(t *testing.T) {
	engine := &Engine{
		Incidents: &fakeIncidents{},
		Policies:  &fakePolicies{err: errors.New("pq: connection reset")},
		Logger:    testLogger(),
	}
	_, err := engine.Advance(context.Background(), triggeredIncident(0), store.SystemPrincipal(""))
	require.Error(t, err)
}

func TestTickAdvancesEveryClaimedIncident(t *testing.T) {
	batch := []db.Incident{
		*triggeredIncident(0),
		{ID: "inc-2", Title: "Checkout errors", Status: db.IncidentStatusTriggered,
			EscalationPolicyID: "pol-1", CurrentEscalationLevel: 0, GroupID: "grp-1"},
		{ID: "inc-3", Title: "Queue backlog", Status: db.IncidentStatusTriggered,
			EscalationPolicyID: "pol-1", CurrentEscalationLevel: 0, GroupID: "grp-1"},
	}
	incidents := &fakeIncidents{
		claimFn: func(_ context.Context, _ time.Time, limit int) ([]db.Incident, error) {
			assert.Equal(t, 2, limit)
			return batch, nil
		},
	}
	emitter := &recordingEmitter{}
	engine := &Engine{
		Incidents:   incidents,
		Policies:    &fakePolicies{policy: twoLevelPolicy()},
		Notifier:    emitter,
		Logger:      testLogger(),
		BatchSize:   2,
		Concurrency: 2,
	}

	require.NoError(t, engine.tick(context.Background()))

	incidents.mu.Lock()
	defer incidents.mu.Unlock()
	assert.Len(t, incidents.steps, 3)
	assert.Len(t, emitter.all(), 3)

	seen := map[string]bool{}
	for _, s := range incidents.steps {
		seen[s.IncidentID] = true
	}
	assert.Equal(t, map[string]bool{"inc-1": true, "inc-2": true, "inc-3": true}, seen)
}

func TestRunStopsOnCancelAfterDraining(t *testing.T) {
	claimed := make(chan struct{}, 1)
	incidents := &fakeIncidents{
		claimFn: func(context.Context, time.Time, int) ([]db.Incident, error) {
			select {
			case claimed <- struct{}{}:
				return []db.Incident{*triggeredIncident(0)}, nil
			default:
				return nil, nil
			}
		},
	}
	engine := &Engine{
		Incidents: incidents,
		Policies:  &fakePolicies{policy: twoLevelPolicy()},
		Logger:    testLogger(),
		Interval:  5 * time.Millisecond,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- engine.Run(ctx) }()

	select {
	case <-claimed:
	case <-time.After(2 * time.Second):
		t.Fatal("engine never claimed a batch")
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop after cancel")
	}

	incidents.mu.Lock()
	defer incidents.mu.Unlock()
	assert.NotEmpty(t, incidents.steps, "the claimed incident was advanced before shutdown")
}

func TestGroupOnCall(t *testing.T) {
	anchor := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)
	layers := []db.ScheduleLayer{{
		ScheduleID:         "sch-1",
		LayerIndex:         0,
		Participants:       []string{"user-a", "user-b"},
		ShiftLengthMinutes: 60,
		HandoffAnchor:      anchor,
	}}

	t.Run("resolves from the active schedule", func(t *testing.T) {
		onCall := GroupOnCall(&fakeSchedules{
			schedule: &db.Schedule{ID: "sch-1", GroupID: "grp-1", IsActive: true, Layers: layers},
		})
		userID, ok, err := onCall(context.Background(), "grp-1", anchor.Add(90*time.Minute))
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "user-b", userID)
	})

	t.Run("override wins", func(t *testing.T) {
		onCall := GroupOnCall(&fakeSchedules{
			schedule: &db.Schedule{ID: "sch-1", GroupID: "grp-1", IsActive: true, Layers: layers},
			overrides: []db.ScheduleOverride{{
				ID: "ov-1", GroupID: "grp-1", UserID: "user-z",
				StartTime: anchor, EndTime: anchor.Add(4 * time.Hour), CreatedAt: anchor,
			}},
		})
		userID, ok, err := onCall(context.Background(), "grp-1", anchor.Add(90*time.Minute))
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "user-z", userID)
	})

	t.Run("no active schedule resolves to nobody", func(t *testing.T) {
		onCall := GroupOnCall(&fakeSchedules{
			err: apperr.Newf(apperr.NotFound, "group grp-1 has no active schedule"),
		})
		userID, ok, err := onCall(context.Background(), "grp-1", anchor)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Empty(t, userID)
	})
}

type fakeSchedules struct {
	store.ScheduleStore
	schedule  *db.Schedule
	overrides []db.ScheduleOverride
	err       error
}

func (f *fakeSchedules) ActiveSchedule(context.Context, string) (*db.Schedule, error) {
	return f.schedule, f.err
}

func (f *fakeSchedules) ListOverrides(context.Context, string, time.Time, time.Time) ([]db.ScheduleOverride, error) {
	return f.overrides, nil
}
