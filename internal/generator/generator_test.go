package generator

import (
	"testing"

	"github.com/verte-zerg/keyprint/internal/features"
)

func TestSessionIsExtractable(t *testing.T) {
	g := NewSeeded(7)
	for i := 0; i < 20; i++ {
		raw := g.Session(3, 15, g.Rhythm())
		if len(raw.PressTimes) != 15 || len(raw.ReleaseTimes) != 15 {
			t.Fatalf("unexpected lengths: %d %d", len(raw.PressTimes), len(raw.ReleaseTimes))
		}
		if *raw.BackspaceCount < 0 || *raw.BackspaceCount > 15 || *raw.ErrorRate > 1 {
			t.Fatalf("unexpected counts: %d %v", *raw.BackspaceCount, *raw.ErrorRate)
		}
		if _, err := features.ExtractAndAggregate(raw.PressTimes, raw.ReleaseTimes, *raw.BackspaceCount, *raw.ErrorRate); err != nil {
			t.Fatalf("session %d not extractable: %v", i, err)
		}
	}
}

func TestSeededOutputIsStable(t *testing.T) {
	a := NewSeeded(11).Session(1, 8, Rhythm{Hold: 90, HoldJitter: 5, Gap: 200, GapJitter: 10})
	b := NewSeeded(11).Session(1, 8, Rhythm{Hold: 90, HoldJitter: 5, Gap: 200, GapJitter: 10})
	for i := range a.PressTimes {
		if a.PressTimes[i] != b.PressTimes[i] || a.ReleaseTimes[i] != b.ReleaseTimes[i] {
			t.Fatalf("seeded sessions differ at key %d", i)
		}
	}
	if *a.BackspaceCount != 0 {
		t.Fatalf("zero backspace chance produced %d backspaces", *a.BackspaceCount)
	}
}

func TestRhythmsDiffer(t *testing.T) {
	g := NewSeeded(1)
	a, b := g.Rhythm(), g.Rhythm()
	if a.Hold == b.Hold && a.Gap == b.Gap {
		t.Fatalf("expected distinct rhythms")
	}
	if a.Hold < 60 || a.Hold > 160 || a.Gap < 120 || a.Gap > 400 {
		t.Fatalf("rhythm out of range: %+v", a)
	}
}
