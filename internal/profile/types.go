// Package profile holds learner profiles and the store that owns all
// mutations to them. Every field is kept inside its declared bounds; updates
// clamp rather than overflow.
package profile

import "time"

// Theta bounds. Ability estimates outside this range carry no additional
// signal for band selection.
const (
	ThetaMin = -3.0
	ThetaMax = 3.0
)

// State is the recalibration state of a profile.
type State string

const (
	// StateNeutral is the default state.
	StateNeutral State = "neutral"
	// StateStruggling means frustration stayed high for two consecutive
	// grading events; the next plan is force-downgraded.
	StateStruggling State = "struggling"
	// StateRecovering means one downgraded plan has been served; the state
	// returns to neutral on the next plan regardless of outcome.
	StateRecovering State = "recovering"
)

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateNeutral, StateStruggling, StateRecovering:
		return true
	}
	return false
}

// Profile is one learner profile per (user, concept-space scope).
type Profile struct {
	UserID string
	Scope  string

	// Theta is the ability estimate, clamped to [ThetaMin, ThetaMax].
	Theta float64
	// Frustration is bounded [0,1].
	Frustration float64
	// RecentAccuracy is an exponentially weighted rolling accuracy, bounded [0,1].
	RecentAccuracy float64
	// Mastery maps concept name to mastery level, each bounded [0,1].
	Mastery map[string]float64

	Attempts         int
	Correct          int
	ConsecutiveWrong int
	// HighFrustrationStreak counts consecutive grading events with frustration
	// at or above the high threshold.
	HighFrustrationStreak int
	State                 State

	UpdatedAt time.Time
}

// New returns the neutral prior profile: theta 0, frustration 0, recent
// accuracy 0.5, empty mastery, zero attempts.
func New(userID, scope string) *Profile {
	return &Profile{
		UserID:         userID,
		Scope:          scope,
		RecentAccuracy: 0.5,
		Mastery:        make(map[string]float64),
		State:          StateNeutral,
	}
}

// Clamp coerces every field back into its declared bounds. Invalid state
// combinations fall back to neutral rather than failing.
func (p *Profile) Clamp() {
	p.Theta = clamp(p.Theta, ThetaMin, ThetaMax)
	p.Frustration = clamp(p.Frustration, 0, 1)
	p.RecentAccuracy = clamp(p.RecentAccuracy, 0, 1)
	for concept, level := range p.Mastery {
		p.Mastery[concept] = clamp(level, 0, 1)
	}
	if p.Mastery == nil {
		p.Mastery = make(map[string]float64)
	}
	if p.Attempts < 0 {
		p.Attempts = 0
	}
	if p.Correct < 0 {
		p.Correct = 0
	}
	if p.Correct > p.Attempts {
		p.Correct = p.Attempts
	}
	if p.ConsecutiveWrong < 0 {
		p.ConsecutiveWrong = 0
	}
	if p.HighFrustrationStreak < 0 {
		p.HighFrustrationStreak = 0
	}
	if !p.State.Valid() {
		p.State = StateNeutral
	}
	// Struggling requires an observed high-frustration streak
	if p.State == StateStruggling && p.HighFrustrationStreak < 2 {
		p.State = StateNeutral
	}
}

// Clone returns a deep copy, so callers can hold snapshots without racing
// the store.
func (p *Profile) Clone() *Profile {
	cp := *p
	cp.Mastery = make(map[string]float64, len(p.Mastery))
	for concept, level := range p.Mastery {
		cp.Mastery[concept] = level
	}
	return &cp
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
