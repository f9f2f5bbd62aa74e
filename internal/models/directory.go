package models

import "time"

// Directory rows mirror carrier reference data. Rows are keyed by the
// carrier-assigned ref and are soft-deactivated on sync, never deleted, so
// refs stored on waybills and profiles stay resolvable for history.

type City struct {
	Ref       string
	Name      string
	Area      string
	Region    string
	IsActive  bool
	UpdatedAt time.Time
}

type Warehouse struct {
	Ref          string
	CityRef      string
	Name         string
	ShortAddress string
	Number       string
	IsPostomat   bool
	IsActive     bool
	UpdatedAt    time.Time
}

// Streets are populated lazily per city, not by the daily bulk sync.
type Street struct {
	Ref     string
	CityRef string
	Name    string
}
