package allocation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"stockpick/internal/domain/location"
)

func candidate(name string, available int) Candidate {
	return Candidate{
		Location:   name,
		Coordinate: location.Parse(name),
		Physical:   available,
		Available:  available,
	}
}

func names(cs []Candidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Location
	}
	return out
}

func TestRank_GroundLevelAndBayAdjacencyFirst(t *testing.T) {
	in := []Candidate{
		candidate("1A1P1", 10),
		candidate("1A1P2", 8),
		candidate("1A2P1", 6),
		candidate("1B1P1", 12),
	}

	ranked := Rank(in, nil)

	assert.Equal(t, []string{"1A1P1", "1A1P2", "1B1P1", "1A2P1"}, names(ranked))
	// input untouched
	assert.Equal(t, "1A2P1", in[2].Location)
}

func TestRank_ActiveReservationGroupFirst(t *testing.T) {
	busy := candidate("2C3P9", 4)
	busy.HasActiveReservation = true

	ranked := Rank([]Candidate{candidate("1A1P1", 10), busy, candidate("1A1P2", 8)}, nil)

	assert.Equal(t, []string{"2C3P9", "1A1P1", "1A1P2"}, names(ranked))
}

func TestRank_DistanceBreaksTies(t *testing.T) {
	// Same level, bay and slot in different rows: only distance separates them.
	ref := location.Parse("5A1P1")
	ranked := Rank([]Candidate{
		candidate("1A1P1", 3),
		candidate("7A1P1", 3),
		candidate("4A1P1", 3),
	}, ref)

	assert.Equal(t, []string{"4A1P1", "7A1P1", "1A1P1"}, names(ranked))
}

func TestRank_StableWithoutReference(t *testing.T) {
	ranked := Rank([]Candidate{
		candidate("9A1P1", 1),
		candidate("1A1P1", 1),
		candidate("5A1P1", 1),
	}, nil)

	assert.Equal(t, []string{"9A1P1", "1A1P1", "5A1P1"}, names(ranked))
}

func TestRank_SpecialLocationsRankAsGroundLevel(t *testing.T) {
	ranked := Rank([]Candidate{
		candidate("1A2P1", 5),
		candidate("FLOOR", 5),
		candidate("1Z1P1", 5),
	}, nil)

	// level 1 first; "SPECIAL" sorts between bay letters alphabetically
	assert.Equal(t, []string{"FLOOR", "1Z1P1", "1A2P1"}, names(ranked))
}

func TestRank_BayIgnoresCase(t *testing.T) {
	ranked := Rank([]Candidate{
		candidate("1C1P1", 5),
		candidate("1b1P1", 5),
		candidate("1A1P1", 5),
	}, nil)

	assert.Equal(t, []string{"1A1P1", "1b1P1", "1C1P1"}, names(ranked))
	assert.Less(t, location.BayOrdinal(location.Parse("1b1P1")), location.BayOrdinal(location.Parse("1C1P1")))
}
