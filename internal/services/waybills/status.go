package waybills

import (
	"time"

	"github.com/crmkit/shipdesk/internal/models"
)

// Carrier tracking codes mapped to internal statuses. Codes not listed leave
// the order untouched.
var carrierStatusMap = map[string]models.OrderStatus{
	"1": models.OrderStatusInWork,
	"2": models.OrderStatusCanceled,

	"9":  models.OrderStatusPaymentControl,
	"10": models.OrderStatusPaymentControl,
	"11": models.OrderStatusPaymentControl,

	"102": models.OrderStatusReturning,
	"103": models.OrderStatusReturning,
	"104": models.OrderStatusReturning,
	"105": models.OrderStatusReturning,

	"3":   models.OrderStatusShipped,
	"4":   models.OrderStatusShipped,
	"41":  models.OrderStatusShipped,
	"5":   models.OrderStatusShipped,
	"6":   models.OrderStatusShipped,
	"7":   models.OrderStatusShipped,
	"8":   models.OrderStatusShipped,
	"101": models.OrderStatusShipped,
}

func mapCarrierStatus(code string) (models.OrderStatus, bool) {
	st, ok := carrierStatusMap[code]
	return st, ok
}

// debtEpsilon below which an order counts as fully paid.
const debtEpsilon = 1e-5

// resolveDebt upgrades PAYMENT_CONTROL to SUCCESS once nothing is owed.
func resolveDebt(status models.OrderStatus, debtAmount float64) models.OrderStatus {
	if status == models.OrderStatusPaymentControl && debtAmount <= debtEpsilon {
		return models.OrderStatusSuccess
	}
	return status
}

// pickupStatus: self-collection orders skip carrier tracking, delivery is
// considered immediately complete, only the payment question remains.
func pickupStatus(debtAmount float64) models.OrderStatus {
	return resolveDebt(models.OrderStatusPaymentControl, debtAmount)
}

// Carrier datetimes come in a fixed non-ISO format, with or without seconds.
var carrierTimeLayouts = []string{
	"02-01-2006 15:04:05",
	"02-01-2006 15:04",
	"02-01-2006",
}

// parseCarrierTime returns nil on any parse failure rather than an error; a
// bad estimated date must not fail a status sync.
func parseCarrierTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range carrierTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return &t
		}
	}
	return nil
}
