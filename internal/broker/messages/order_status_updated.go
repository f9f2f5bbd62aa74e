package messages

import "time"

// OrderStatusUpdated is published whenever this core moves an order's status:
// on waybill creation (NEW -> IN_WORK) and on every reconciliation change.
type OrderStatusUpdated struct {
	OrderID  uint64 `json:"order_id"`
	Previous string `json:"previous"`
	Current  string `json:"current"`

	// Source: "waybill_create" | "tracking" | "pickup".
	Source string `json:"source"`

	DocumentNumber string    `json:"document_number,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}
