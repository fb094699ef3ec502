// Package generator synthesizes typing sessions with a per-user rhythm.
package generator

import (
	"math"
	"math/rand"
	"time"

	"github.com/verte-zerg/keyprint/internal/model"
)

// Rhythm describes how one user types: mean hold time and press-to-press gap
// in milliseconds, the spread around each, and the chance that a key is
// followed by a backspace.
type Rhythm struct {
	Hold         float64
	HoldJitter   float64
	Gap          float64
	GapJitter    float64
	BackspacePct float64
}

// Generator produces randomized typing sessions.
type Generator struct {
	rnd *rand.Rand
}

// New returns a Generator seeded with the current time.
func New() *Generator {
	return NewSeeded(time.Now().UnixNano())
}

// NewSeeded returns a Generator whose output is fixed by seed.
func NewSeeded(seed int64) *Generator {
	return &Generator{rnd: rand.New(rand.NewSource(seed))}
}

// Rhythm draws a plausible rhythm: holds of 60-160 ms and gaps of 120-400 ms.
func (g *Generator) Rhythm() Rhythm {
	hold := 60 + g.rnd.Float64()*100
	gap := 120 + g.rnd.Float64()*280
	return Rhythm{
		Hold:         hold,
		HoldJitter:   hold * 0.08,
		Gap:          gap,
		GapJitter:    gap * 0.08,
		BackspacePct: g.rnd.Float64() * 0.1,
	}
}

// Session types keys with rhythm r. Hold times never drop below 1 ms and
// gaps never drop below the previous hold, so releases stay ordered.
func (g *Generator) Session(userID int64, keys int, r Rhythm) model.RawSession {
	press := make([]float64, 0, keys)
	release := make([]float64, 0, keys)
	backspace := 0
	var at float64
	for i := 0; i < keys; i++ {
		hold := jitter(g.rnd, r.Hold, r.HoldJitter, 1)
		press = append(press, round(at))
		release = append(release, round(at+hold))
		if applyBackspace(g.rnd, r.BackspacePct) {
			backspace++
		}
		at += jitter(g.rnd, r.Gap, r.GapJitter, hold)
	}
	errorRate := 0.0
	if keys > 0 {
		errorRate = float64(backspace) / float64(keys)
	}
	return model.RawSession{
		UserID:         userID,
		PressTimes:     press,
		ReleaseTimes:   release,
		BackspaceCount: &backspace,
		ErrorRate:      &errorRate,
		CreatedAt:      time.Now().UTC(),
	}
}

func jitter(rnd *rand.Rand, mean, spread, floor float64) float64 {
	v := mean + rnd.NormFloat64()*spread
	if v < floor {
		return floor
	}
	return v
}

func applyBackspace(rnd *rand.Rand, pct float64) bool {
	if pct <= 0 {
		return false
	}
	return rnd.Float64() <= pct
}

func round(v float64) float64 {
	return math.Round(v*10) / 10
}
