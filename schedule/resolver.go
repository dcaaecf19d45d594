// Package schedule resolves who is on call for a group from rotation layers
// and manual overrides, entirely in process. A layer is a repeating handoff
// cycle over an ordered participant list; an override pins one user to an
// absolute window. Resolution never touches the database: callers load the
// rows and hand them in.
package schedule

import (
	"sort"
	"time"

	"github.com/klaxonhq/klaxon/db"
)

// WhoIsOnCall returns the user on call at the given instant. Overrides win
// over layers; among covering overrides the most recently created wins.
// Layers are consulted highest index first, so a layer stacked on top of the
// base rotation shadows it inside its restriction window.
func WhoIsOnCall(layers []db.ScheduleLayer, overrides []db.ScheduleOverride, at time.Time) (string, bool) {
	own, ok := ownerAt(layers, overrides, at)
	if !ok {
		return "", false
	}
	return own.userID, true
}

// EffectiveShifts materializes the on-call timeline for [from, to) with
// overrides applied. Contiguous segments owned by the same user from the same
// source merge into one shift; instants where nobody is on call are gaps, not
// shifts.
func EffectiveShifts(layers []db.ScheduleLayer, overrides []db.ScheduleOverride, from, to time.Time) []db.Shift {
	if !to.After(from) {
		return nil
	}
	bounds := boundaries(layers, overrides, from, to)

	shifts := make([]db.Shift, 0)
	for i := 0; i < len(bounds)-1; i++ {
		start, end := bounds[i], bounds[i+1]
		own, ok := ownerAt(layers, overrides, start)
		if !ok {
			continue
		}
		if n := len(shifts); n > 0 && shifts[n-1].EndTime.Equal(start) && sameOwner(&shifts[n-1], own) {
			shifts[n-1].EndTime = end
			continue
		}
		shifts = append(shifts, db.Shift{
			UserID:     own.userID,
			StartTime:  start,
			EndTime:    end,
			LayerIndex: own.layerIndex,
			IsOverride: own.overrideID != "",
			OverrideID: own.overrideID,
		})
	}
	return shifts
}

// Preview is EffectiveShifts without overrides, used by the schedule dry-run
// endpoint before anything is persisted.
func Preview(layers []db.ScheduleLayer, from, to time.Time) []db.Shift {
	return EffectiveShifts(layers, nil, from, to)
}

// owner identifies who holds an instant and which source produced them.
type owner struct {
	userID     string
	layerIndex int
	overrideID string
}

func sameOwner(s *db.Shift, own owner) bool {
	return s.UserID == own.userID &&
		s.LayerIndex == own.layerIndex &&
		s.OverrideID == own.overrideID
}

func ownerAt(layers []db.ScheduleLayer, overrides []db.ScheduleOverride, at time.Time) (owner, bool) {
	if o := coveringOverride(overrides, at); o != nil {
		return owner{userID: o.UserID, overrideID: o.ID}, true
	}
	for _, l := range byIndexDesc(layers) {
		if user, ok := layerUserAt(&l, at); ok {
			return owner{userID: user, layerIndex: l.LayerIndex}, true
		}
	}
	return owner{}, false
}

// coveringOverride picks the override whose [start, end) window contains the
// instant. Overlapping overrides are legal; the latest created_at wins.
func coveringOverride(overrides []db.ScheduleOverride, at time.Time) *db.ScheduleOverride {
	var winner *db.ScheduleOverride
	for i := range overrides {
		o := &overrides[i]
		if at.Before(o.StartTime) || !at.Before(o.EndTime) {
			continue
		}
		if winner == nil || o.CreatedAt.After(winner.CreatedAt) {
			winner = o
		}
	}
	return winner
}

// layerUserAt computes the rotation member on duty for a single layer. A
// layer is inactive before its handoff anchor, outside its daily restriction
// window, and when it has no participants or a non-positive shift length.
func layerUserAt(layer *db.ScheduleLayer, at time.Time) (string, bool) {
	if len(layer.Participants) == 0 || layer.ShiftLengthMinutes <= 0 {
		return "", false
	}
	if at.Before(layer.HandoffAnchor) {
		return "", false
	}
	if !restrictionContains(layer.Restriction, at) {
		return "", false
	}
	shiftLen := time.Duration(layer.ShiftLengthMinutes) * time.Minute
	idx := int(at.Sub(layer.HandoffAnchor)/shiftLen) % len(layer.Participants)
	return layer.Participants[idx], true
}

// restrictionContains reports whether the daily UTC window contains the
// instant. start == end covers the whole day; start > end wraps midnight
// (22:00-06:00 style night windows).
func restrictionContains(r *db.LayerRestriction, at time.Time) bool {
	if r == nil {
		return true
	}
	u := at.UTC()
	m := u.Hour()*60 + u.Minute()
	switch {
	case r.StartMinute == r.EndMinute:
		return true
	case r.StartMinute < r.EndMinute:
		return m >= r.StartMinute && m < r.EndMinute
	default:
		return m >= r.StartMinute || m < r.EndMinute
	}
}

// boundaries collects every instant inside [from, to] where ownership can
// change: handoffs, daily restriction edges and override edges. The result is
// sorted, deduplicated and always starts with from and ends with to.
func boundaries(layers []db.ScheduleLayer, overrides []db.ScheduleOverride, from, to time.Time) []time.Time {
	bounds := []time.Time{from.UTC(), to.UTC()}

	add := func(t time.Time) {
		t = t.UTC()
		if t.After(from) && t.Before(to) {
			bounds = append(bounds, t)
		}
	}

	for i := range layers {
		l := &layers[i]
		if len(l.Participants) == 0 || l.ShiftLengthMinutes <= 0 {
			continue
		}
		add(l.HandoffAnchor)

		shiftLen := time.Duration(l.ShiftLengthMinutes) * time.Minute
		first := l.HandoffAnchor
		if from.After(first) {
			elapsed := from.Sub(first)
			first = first.Add((elapsed / shiftLen) * shiftLen)
		}
		for t := first; t.Before(to); t = t.Add(shiftLen) {
			add(t)
		}

		if r := l.Restriction; r != nil && r.StartMinute != r.EndMinute {
			u := from.UTC()
			day := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
			for ; day.Before(to); day = day.AddDate(0, 0, 1) {
				add(day.Add(time.Duration(r.StartMinute) * time.Minute))
				add(day.Add(time.Duration(r.EndMinute) * time.Minute))
			}
		}
	}
	for i := range overrides {
		add(overrides[i].StartTime)
		add(overrides[i].EndTime)
	}

	sort.Slice(bounds, func(i, j int) bool { return bounds[i].Before(bounds[j]) })
	deduped := bounds[:1]
	for _, t := range bounds[1:] {
		if !t.Equal(deduped[len(deduped)-1]) {
			deduped = append(deduped, t)
		}
	}
	return deduped
}

func byIndexDesc(layers []db.ScheduleLayer) []db.ScheduleLayer {
	ordered := make([]db.ScheduleLayer, len(layers))
	copy(ordered, layers)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].LayerIndex > ordered[j].LayerIndex
	})
	return ordered
}
