package adaptive

import (
	"studycoach-ai/internal/profile"
)

// Params tunes the engine. Zero values are not usable; start from
// DefaultParams and override.
type Params struct {
	AccuracyAlpha        float64 // EMA smoothing for rolling recent accuracy
	FrustrationBeta      float64 // EMA smoothing for the frustration score
	FrustrationThreshold float64 // frustration at or above this counts as high
	ThetaStep            float64 // base magnitude of one ability update
	Bands                Bands
}

// DefaultParams returns the engine defaults.
func DefaultParams() Params {
	return Params{
		AccuracyAlpha:        0.3,
		FrustrationBeta:      0.5,
		FrustrationThreshold: 0.7,
		ThetaStep:            0.4,
		Bands:                Bands{EasyBelow: -0.5, HardAbove: 0.5},
	}
}

// Outcome is one graded answer: which concepts the question covered, the
// band it was served at, and whether the learner got it right.
type Outcome struct {
	Concepts []string `json:"concepts,omitempty"`
	Band     Band     `json:"band"`
	Correct  bool     `json:"correct"`
}

// Plan is the difficulty plan for the next batch of questions. It is a
// stateless artifact recomputed per request.
type Plan struct {
	Target     Band   `json:"target"`
	Items      []Band `json:"items"`
	Downgraded bool   `json:"downgraded"` // true when forced a band down to let the learner recover
}

// Engine is the adaptive difficulty engine. Safe for concurrent use; it
// never mutates the profiles it is given.
type Engine struct {
	params Params
}

// NewEngine creates an engine with the given parameters.
func NewEngine(params Params) *Engine {
	return &Engine{params: params}
}

// sharpDropMargin is how far below the rolling accuracy a batch has to land
// to count as a sharp drop.
const sharpDropMargin = 0.3

// wrongRunThreshold is the consecutive-wrong run length that signals
// frustration on its own.
const wrongRunThreshold = 3

// PlanDifficulty builds a difficulty plan of exactly count items for the
// given profile snapshot. The returned delta records the recalibration state
// transition caused by serving this plan and must be applied by the caller
// when the plan is actually served; callers that only want a preview discard
// it.
//
// A struggling profile gets the whole plan one band below the ability-implied
// target, with no exploration, and moves to recovering with its
// high-frustration streak reset. A recovering profile gets a normal plan and
// returns to neutral unconditionally.
func (e *Engine) PlanDifficulty(p *profile.Profile, count int) (Plan, profile.Delta) {
	target := e.params.Bands.ForTheta(p.Theta)

	var delta profile.Delta
	downgraded := false
	switch p.State {
	case profile.StateStruggling:
		target = target.Below()
		downgraded = true
		zero := 0
		recovering := profile.StateRecovering
		delta.HighFrustrationStreak = &zero
		delta.State = &recovering
	case profile.StateRecovering:
		neutral := profile.StateNeutral
		delta.State = &neutral
	}

	if count < 1 {
		return Plan{Target: target, Downgraded: downgraded}, delta
	}

	items := make([]Band, count)
	for i := range items {
		items[i] = target
	}

	// Exploration: one item a band below and one above the target. Skipped
	// entirely on a downgraded cool-down plan. When only one extra fits, the
	// easier probe wins; with no room, none.
	if !downgraded {
		switch {
		case count >= 3:
			items[1] = target.Below()
			items[count-1] = target.Above()
		case count == 2:
			items[1] = target.Below()
		}
	}

	return Plan{Target: target, Items: items, Downgraded: downgraded}, delta
}

// GradeAndUpdate turns a graded batch into a profile delta. An empty batch
// is a zero delta. The delta is additive; bounds are enforced when the
// profile store applies it.
func (e *Engine) GradeAndUpdate(p *profile.Profile, outcomes []Outcome) profile.Delta {
	if len(outcomes) == 0 {
		return profile.Delta{}
	}

	var delta profile.Delta
	correct := 0
	wrongRun := p.ConsecutiveWrong
	thetaSum := 0.0

	for _, o := range outcomes {
		delta.Attempts++
		if o.Correct {
			correct++
			delta.Correct++
			wrongRun = 0
			thetaSum += gainFactor(o.Band)
		} else {
			wrongRun++
			thetaSum -= lossFactor(o.Band)
		}
		for _, concept := range o.Concepts {
			delta.Mastery = append(delta.Mastery, profile.MasteryObservation{Concept: concept, Correct: o.Correct})
		}
	}

	batchAccuracy := float64(correct) / float64(len(outcomes))

	// Rolling accuracy EMA toward the batch.
	delta.RecentAccuracy = e.params.AccuracyAlpha * (batchAccuracy - p.RecentAccuracy)

	// Ability step: per-answer band-weighted contributions, averaged. For a
	// uniform-band batch this is proportional to (accuracy - 0.5); hard
	// correct answers move theta up more than easy ones, easy wrong answers
	// move it down more than hard ones.
	delta.Theta = e.params.ThetaStep * thetaSum / float64(len(outcomes))

	// Frustration EMA toward 1 when the batch signals trouble, toward 0
	// otherwise.
	frustrationTarget := 0.0
	if p.RecentAccuracy-batchAccuracy >= sharpDropMargin || wrongRun >= wrongRunThreshold {
		frustrationTarget = 1.0
	}
	newFrustration := p.Frustration + e.params.FrustrationBeta*(frustrationTarget-p.Frustration)
	delta.Frustration = newFrustration - p.Frustration

	delta.ConsecutiveWrong = &wrongRun

	streak := 0
	if newFrustration >= e.params.FrustrationThreshold {
		streak = p.HighFrustrationStreak + 1
	}
	delta.HighFrustrationStreak = &streak

	if streak >= 2 {
		struggling := profile.StateStruggling
		delta.State = &struggling
	}

	return delta
}

// gainFactor scales the upward ability step for a correct answer.
func gainFactor(b Band) float64 {
	switch b {
	case BandEasy:
		return 0.5
	case BandHard:
		return 1.5
	}
	return 1.0
}

// lossFactor scales the downward ability step for a wrong answer. Inverted
// relative to gainFactor: missing an easy question is stronger evidence than
// missing a hard one.
func lossFactor(b Band) float64 {
	switch b {
	case BandEasy:
		return 1.5
	case BandHard:
		return 0.5
	}
	return 1.0
}
