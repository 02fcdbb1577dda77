// Package location models physical storage slots and the coordinates
// encoded in their names.
package location

import (
	"regexp"
	"strconv"
	"strings"
)

// SpecialBay is the bay reported for names that do not encode a position
// (staging areas, floor, quarantine).
const SpecialBay = "SPECIAL"

// namePattern is <row><bay letters><level>P<slot>, e.g. 12AB3P04.
var namePattern = regexp.MustCompile(`^(\d+)([A-Za-z]+)(\d+)P(\d+)$`)

// Coordinate is the position of a location inside the warehouse.
// It is either a StructuredCoordinate or a SpecialCoordinate.
type Coordinate interface {
	Row() int
	Bay() string
	Level() int
	Slot() int
	IsGroundLevel() bool

	coordinate()
}

// StructuredCoordinate is parsed from a geometric location name.
type StructuredCoordinate struct {
	row   int
	bay   string
	level int
	slot  int
}

func (c StructuredCoordinate) Row() int            { return c.row }
func (c StructuredCoordinate) Bay() string         { return c.bay }
func (c StructuredCoordinate) Level() int          { return c.level }
func (c StructuredCoordinate) Slot() int           { return c.slot }
func (c StructuredCoordinate) IsGroundLevel() bool { return c.level == 1 }
func (StructuredCoordinate) coordinate()           {}

// SpecialCoordinate stands in for any name that does not match the
// structured pattern. It ranks as a ground level slot.
type SpecialCoordinate struct{}

func (SpecialCoordinate) Row() int            { return 0 }
func (SpecialCoordinate) Bay() string         { return SpecialBay }
func (SpecialCoordinate) Level() int          { return 1 }
func (SpecialCoordinate) Slot() int           { return 1 }
func (SpecialCoordinate) IsGroundLevel() bool { return true }
func (SpecialCoordinate) coordinate()         {}

// NewStructuredCoordinate builds a coordinate from its parts.
func NewStructuredCoordinate(row int, bay string, level, slot int) StructuredCoordinate {
	return StructuredCoordinate{row: row, bay: bay, level: level, slot: slot}
}

// Parse maps a location name to its coordinate. It never fails: names that
// do not match the structured pattern yield SpecialCoordinate.
func Parse(name string) Coordinate {
	m := namePattern.FindStringSubmatch(name)
	if m == nil {
		return SpecialCoordinate{}
	}

	row, err1 := strconv.Atoi(m[1])
	level, err2 := strconv.Atoi(m[3])
	slot, err3 := strconv.Atoi(m[4])
	if err1 != nil || err2 != nil || err3 != nil {
		// digits overflowing int
		return SpecialCoordinate{}
	}

	return StructuredCoordinate{row: row, bay: m[2], level: level, slot: slot}
}

// BayOrdinal converts bay letters to a spreadsheet-style column number
// (A=1, Z=26, AA=27). The special bay is 0.
func BayOrdinal(c Coordinate) int {
	if _, ok := c.(SpecialCoordinate); ok {
		return 0
	}
	n := 0
	for _, r := range strings.ToUpper(c.Bay()) {
		n = n*26 + int(r-'A'+1)
	}
	return n
}

// Distance is the walking penalty between two coordinates:
// |row - ref.row| + |bayOrdinal - ref.bayOrdinal|.
func Distance(c, ref Coordinate) int {
	return abs(c.Row()-ref.Row()) + abs(BayOrdinal(c)-BayOrdinal(ref))
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
