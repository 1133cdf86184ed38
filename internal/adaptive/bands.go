// Package adaptive decides question difficulty from learner profiles and
// turns graded outcomes into profile deltas. It is pure computation: no
// storage, no locking, no I/O.
package adaptive

import (
	"encoding/json"
	"fmt"
)

// Band is a difficulty band for one question.
type Band int

const (
	BandEasy Band = iota
	BandMedium
	BandHard
)

// String returns the wire name of the band.
func (b Band) String() string {
	switch b {
	case BandEasy:
		return "easy"
	case BandMedium:
		return "medium"
	case BandHard:
		return "hard"
	}
	return fmt.Sprintf("band(%d)", int(b))
}

// ParseBand parses a wire name into a Band.
func ParseBand(s string) (Band, error) {
	switch s {
	case "easy":
		return BandEasy, nil
	case "medium":
		return BandMedium, nil
	case "hard":
		return BandHard, nil
	}
	return BandMedium, fmt.Errorf("unknown difficulty band %q", s)
}

// Above returns the next harder band, clamped at hard.
func (b Band) Above() Band {
	if b >= BandHard {
		return BandHard
	}
	return b + 1
}

// Below returns the next easier band, clamped at easy.
func (b Band) Below() Band {
	if b <= BandEasy {
		return BandEasy
	}
	return b - 1
}

// MarshalJSON encodes the band as its wire name.
func (b Band) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.String())
}

// UnmarshalJSON decodes the band from its wire name.
func (b *Band) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseBand(s)
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// Bands maps an ability estimate to a difficulty band via two boundaries.
type Bands struct {
	EasyBelow float64 // theta below this is easy
	HardAbove float64 // theta above this is hard
}

// ForTheta returns the band implied by the ability estimate.
func (b Bands) ForTheta(theta float64) Band {
	switch {
	case theta < b.EasyBelow:
		return BandEasy
	case theta > b.HardAbove:
		return BandHard
	}
	return BandMedium
}
