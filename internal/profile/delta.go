package profile

// MasteryObservation is one graded item outcome for one concept. The store
// turns it into a bounded mastery step.
type MasteryObservation struct {
	Concept string
	Correct bool
}

// Delta describes one profile mutation. Numeric fields are additive and
// clamped on apply; the counter and state fields are optional absolute
// assignments (nil means unchanged). Deltas never overwrite unrelated fields.
type Delta struct {
	Theta          float64
	Frustration    float64
	RecentAccuracy float64

	Mastery []MasteryObservation

	Attempts int
	Correct  int

	ConsecutiveWrong      *int
	HighFrustrationStreak *int
	State                 *State
}

// IsZero reports whether applying the delta would leave a profile unchanged.
func (d Delta) IsZero() bool {
	return d.Theta == 0 && d.Frustration == 0 && d.RecentAccuracy == 0 &&
		len(d.Mastery) == 0 && d.Attempts == 0 && d.Correct == 0 &&
		d.ConsecutiveWrong == nil && d.HighFrustrationStreak == nil && d.State == nil
}

// apply mutates p in place. masteryStep is the maximum per-observation
// mastery movement; the actual step shrinks as mastery approaches the
// observed outcome, so the update is an EMA toward 1 (correct) or 0 (wrong),
// never a binary set.
func (d Delta) apply(p *Profile, masteryStep float64) {
	p.Theta += d.Theta
	p.Frustration += d.Frustration
	p.RecentAccuracy += d.RecentAccuracy
	p.Attempts += d.Attempts
	p.Correct += d.Correct

	for _, obs := range d.Mastery {
		current := p.Mastery[obs.Concept]
		target := 0.0
		if obs.Correct {
			target = 1.0
		}
		p.Mastery[obs.Concept] = current + masteryStep*(target-current)
	}

	if d.ConsecutiveWrong != nil {
		p.ConsecutiveWrong = *d.ConsecutiveWrong
	}
	if d.HighFrustrationStreak != nil {
		p.HighFrustrationStreak = *d.HighFrustrationStreak
	}
	if d.State != nil {
		p.State = *d.State
	}

	p.Clamp()
}
