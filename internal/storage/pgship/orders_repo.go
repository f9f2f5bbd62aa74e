package pgship

import (
	"context"
	"encoding/json"

	"github.com/crmkit/shipdesk/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

func (s *Storage) GetOrder(ctx context.Context, id uint64) (*models.Order, bool, error) {
	var o models.Order
	err := s.db.QueryRow(ctx, `
SELECT id, contact_id, status, debt_amount, delivery_method, delivery_data, created_at, updated_at
FROM orders
WHERE id = $1
`, id).Scan(&o.ID, &o.ContactID, &o.Status, &o.DebtAmount, &o.DeliveryMethod, &o.DeliveryData, &o.CreatedAt, &o.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "select order")
	}
	return &o, true, nil
}

func (s *Storage) UpdateOrderStatus(ctx context.Context, id uint64, status models.OrderStatus) error {
	_, err := s.db.Exec(ctx,
		`UPDATE orders SET status = $2, updated_at = now() WHERE id = $1`,
		id, status)
	return errors.Wrap(err, "update order status")
}

// MergeOrderDeliveryData replaces the novaPoshta namespace of delivery_data
// while preserving any sibling keys. The namespace is a rebuilt projection,
// not a free-form merge, so a stale shape never survives a write.
func (s *Storage) MergeOrderDeliveryData(ctx context.Context, id uint64, projection json.RawMessage) error {
	_, err := s.db.Exec(ctx, `
UPDATE orders
SET
  delivery_data = coalesce(delivery_data, '{}'::jsonb) || jsonb_build_object('novaPoshta', $2::jsonb),
  updated_at = now()
WHERE id = $1
`, id, string(projection))
	return errors.Wrap(err, "merge delivery data")
}

// OrderWithWaybill pairs a reconciliation candidate with the waybill number
// recorded in its delivery snapshot.
type OrderWithWaybill struct {
	Order         models.Order
	WaybillNumber string
}

// ListActiveCarrierOrders selects non-terminal carrier orders that have a
// recorded waybill number, oldest update first so stragglers get rechecked.
func (s *Storage) ListActiveCarrierOrders(ctx context.Context, limit int) ([]OrderWithWaybill, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, contact_id, status, debt_amount, delivery_method, delivery_data, created_at, updated_at,
       delivery_data #>> '{novaPoshta,waybill,number}' AS waybill_number
FROM orders
WHERE status NOT IN ($1, $2)
  AND delivery_method = $3
  AND delivery_data #>> '{novaPoshta,waybill,number}' IS NOT NULL
ORDER BY updated_at ASC
LIMIT $4
`, models.OrderStatusSuccess, models.OrderStatusCanceled, models.DeliveryMethodNovaPoshta, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select active orders")
	}
	defer rows.Close()

	var out []OrderWithWaybill
	for rows.Next() {
		var ow OrderWithWaybill
		if err := rows.Scan(
			&ow.Order.ID, &ow.Order.ContactID, &ow.Order.Status, &ow.Order.DebtAmount,
			&ow.Order.DeliveryMethod, &ow.Order.DeliveryData, &ow.Order.CreatedAt, &ow.Order.UpdatedAt,
			&ow.WaybillNumber,
		); err != nil {
			return nil, errors.Wrap(err, "scan order")
		}
		out = append(out, ow)
	}
	return out, errors.Wrap(rows.Err(), "rows")
}
