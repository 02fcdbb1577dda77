package location

// Location is a physical storage slot known to the location directory.
type Location struct {
	Name    string `db:"name" json:"name"`
	Enabled bool   `db:"enabled" json:"enabled"`
}

// Coordinate parses the location name.
func (l Location) Coordinate() Coordinate {
	return Parse(l.Name)
}
