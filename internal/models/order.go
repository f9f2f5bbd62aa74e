package models

import (
	"encoding/json"
	"time"
)

type OrderStatus string

const (
	OrderStatusNew            OrderStatus = "NEW"
	OrderStatusInWork         OrderStatus = "IN_WORK"
	OrderStatusReadyToShip    OrderStatus = "READY_TO_SHIP"
	OrderStatusShipped        OrderStatus = "SHIPPED"
	OrderStatusPaymentControl OrderStatus = "PAYMENT_CONTROL"
	OrderStatusReturning      OrderStatus = "RETURNING"
	OrderStatusSuccess        OrderStatus = "SUCCESS"
	OrderStatusCanceled       OrderStatus = "CANCELED"
)

// Rank orders statuses by "forward progress". RETURNING sits above
// PAYMENT_CONTROL only for documentation: the override rule in NextStatus
// makes RETURNING win unconditionally anyway.
var orderStatusRank = map[OrderStatus]int{
	OrderStatusNew:            10,
	OrderStatusInWork:         20,
	OrderStatusReadyToShip:    30,
	OrderStatusShipped:        40,
	OrderStatusPaymentControl: 50,
	OrderStatusReturning:      55,
	OrderStatusSuccess:        60,
	OrderStatusCanceled:       99,
}

func (s OrderStatus) Rank() int {
	return orderStatusRank[s]
}

// Terminal statuses never transition again, not even into CANCELED.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusSuccess || s == OrderStatusCanceled
}

// NextStatus decides whether an order may move from current to proposed.
// Rules, in order:
//   - a terminal current status never changes;
//   - CANCELED and RETURNING always override (carrier-initiated cancellation
//     or return must land even if it looks like a backward move);
//   - otherwise the proposed status must strictly out-rank the current one,
//     which keeps stale tracking responses from regressing an order.
func NextStatus(current, proposed OrderStatus) (OrderStatus, bool) {
	if current.Terminal() {
		return current, false
	}
	if proposed == OrderStatusCanceled || proposed == OrderStatusReturning {
		if proposed == current {
			return current, false
		}
		return proposed, true
	}
	if proposed.Rank() > current.Rank() {
		return proposed, true
	}
	return current, false
}

type Order struct {
	ID             uint64
	ContactID      uint64
	Status         OrderStatus
	DebtAmount     float64
	DeliveryMethod string
	DeliveryData   json.RawMessage
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

const (
	DeliveryMethodNovaPoshta = "novaPoshta"
	DeliveryMethodPickup     = "pickup"
)
