package models

import (
	"encoding/json"
	"time"
)

// Waybill is one carrier shipping document (TTN). An order may accumulate
// several rows over time; the most recent one is the active document.
// DocumentNumber and DocumentRef are immutable after creation; only the
// status fields and the snapshot are touched by reconciliation.
type Waybill struct {
	ID       uint64
	OrderID  uint64
	Carrier  string
	Document string // carrier document number (the printable TTN number)
	Ref      string // carrier document ref (API identifier)

	Cost float64

	StatusCode string
	StatusText string

	EstimatedDeliveryAt *time.Time

	// Snapshot holds the create-time request/response and, merged in later,
	// the last raw tracking blob. Additions never replace the create part.
	Snapshot json.RawMessage

	CreatedAt time.Time
	UpdatedAt time.Time
}

type Parcel struct {
	Weight float64 `json:"weight"`
	Width  float64 `json:"width"`
	Length float64 `json:"length"`
	Height float64 `json:"height"`
	Cost   float64 `json:"cost"`
}
