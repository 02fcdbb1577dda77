package allocation

import (
	"cmp"
	"slices"
	"strings"

	"stockpick/internal/domain/location"
)

// Rank orders candidates into pick-path order.
//
// Locations that already carry an active reservation for the SKU come
// first, so a partially committed slot is drained before a new one is
// opened. Within each group candidates sort by level, bay, slot and, when
// ref is not nil, by walking distance from ref. The sort is stable.
func Rank(candidates []Candidate, ref location.Coordinate) []Candidate {
	ranked := slices.Clone(candidates)
	slices.SortStableFunc(ranked, func(a, b Candidate) int {
		return compareCandidates(a, b, ref)
	})
	return ranked
}

func compareCandidates(a, b Candidate, ref location.Coordinate) int {
	if a.HasActiveReservation != b.HasActiveReservation {
		if a.HasActiveReservation {
			return -1
		}
		return 1
	}

	ca, cb := a.Coordinate, b.Coordinate
	if ca == nil {
		ca = location.Parse(a.Location)
	}
	if cb == nil {
		cb = location.Parse(b.Location)
	}

	if c := cmp.Compare(ca.Level(), cb.Level()); c != 0 {
		return c
	}
	// bay letters are case-insensitive, as in location.BayOrdinal
	if c := strings.Compare(strings.ToUpper(ca.Bay()), strings.ToUpper(cb.Bay())); c != 0 {
		return c
	}
	if c := cmp.Compare(ca.Slot(), cb.Slot()); c != 0 {
		return c
	}
	if ref != nil {
		return cmp.Compare(location.Distance(ca, ref), location.Distance(cb, ref))
	}
	return 0
}
