package pgship

import (
	"context"
	"encoding/json"
	"time"

	"github.com/crmkit/shipdesk/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const waybillColumns = `
id, order_id, carrier, document_number, document_ref, cost,
status_code, status_text, estimated_delivery_at, snapshot, created_at, updated_at`

func scanWaybill(row pgx.Row) (*models.Waybill, error) {
	var w models.Waybill
	err := row.Scan(
		&w.ID, &w.OrderID, &w.Carrier, &w.Document, &w.Ref, &w.Cost,
		&w.StatusCode, &w.StatusText, &w.EstimatedDeliveryAt, &w.Snapshot,
		&w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// CreateWaybill appends a waybill row for the order. An advisory xact lock on
// the order id serializes concurrent creators; the history itself stays
// append-only.
func (s *Storage) CreateWaybill(ctx context.Context, w *models.Waybill) (*models.Waybill, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(w.OrderID)); err != nil {
		return nil, errors.Wrap(err, "order lock")
	}

	snapshot := w.Snapshot
	if len(snapshot) == 0 {
		snapshot = json.RawMessage(`{}`)
	}

	saved, err := scanWaybill(tx.QueryRow(ctx, `
INSERT INTO order_waybills (
  order_id, carrier, document_number, document_ref, cost,
  status_code, status_text, estimated_delivery_at, snapshot, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10)
RETURNING `+waybillColumns,
		w.OrderID, w.Carrier, w.Document, w.Ref, w.Cost,
		w.StatusCode, w.StatusText, w.EstimatedDeliveryAt, snapshot, now))
	if err != nil {
		return nil, errors.Wrap(err, "insert waybill")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return saved, nil
}

// LatestWaybill returns the most recent waybill of the order.
func (s *Storage) LatestWaybill(ctx context.Context, orderID uint64) (*models.Waybill, bool, error) {
	w, err := scanWaybill(s.db.QueryRow(ctx,
		`SELECT `+waybillColumns+` FROM order_waybills WHERE order_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1`,
		orderID))
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "select waybill")
	}
	return w, true, nil
}

// UpdateWaybillStatus writes the tracked status fields and merges statusBlob
// into the snapshot under "lastStatus". The create-time request/response keys
// are never replaced; only the lastStatus key accretes.
func (s *Storage) UpdateWaybillStatus(ctx context.Context, waybillID uint64, statusCode, statusText string, estimatedAt *time.Time, statusBlob json.RawMessage) error {
	if len(statusBlob) == 0 {
		statusBlob = json.RawMessage(`null`)
	}
	_, err := s.db.Exec(ctx, `
UPDATE order_waybills
SET
  status_code = $2,
  status_text = $3,
  estimated_delivery_at = $4,
  snapshot = coalesce(snapshot, '{}'::jsonb) || jsonb_build_object('lastStatus', $5::jsonb),
  updated_at = now()
WHERE id = $1
`, waybillID, statusCode, statusText, estimatedAt, string(statusBlob))
	return errors.Wrap(err, "update waybill status")
}
