package pgship

import (
	"context"
	"time"

	"github.com/crmkit/shipdesk/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const profileColumns = `
id, contact_id, recipient_kind, delivery_kind,
first_name, last_name, middle_name, phone,
company_name, company_code,
city_ref, warehouse_ref, street_ref, building, apartment,
counterparty_ref, contact_person_ref, address_ref,
is_default, created_at, updated_at`

func scanProfile(row pgx.Row) (*models.ShippingProfile, error) {
	var p models.ShippingProfile
	err := row.Scan(
		&p.ID, &p.ContactID, &p.RecipientKind, &p.DeliveryKind,
		&p.FirstName, &p.LastName, &p.MiddleName, &p.Phone,
		&p.CompanyName, &p.CompanyCode,
		&p.CityRef, &p.WarehouseRef, &p.StreetRef, &p.Building, &p.Apartment,
		&p.CounterpartyRef, &p.ContactPersonRef, &p.AddressRef,
		&p.IsDefault, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Storage) GetProfile(ctx context.Context, id uint64) (*models.ShippingProfile, bool, error) {
	p, err := scanProfile(s.db.QueryRow(ctx,
		`SELECT `+profileColumns+` FROM shipping_profiles WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "select profile")
	}
	return p, true, nil
}

// SaveProfile inserts or updates (when p.ID != 0) inside one transaction.
// Setting is_default clears the sibling default first, keeping the partial
// unique index happy.
func (s *Storage) SaveProfile(ctx context.Context, p *models.ShippingProfile) (*models.ShippingProfile, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if p.IsDefault {
		_, err := tx.Exec(ctx,
			`UPDATE shipping_profiles SET is_default = FALSE, updated_at = $2 WHERE contact_id = $1 AND is_default`,
			p.ContactID, now)
		if err != nil {
			return nil, errors.Wrap(err, "clear sibling defaults")
		}
	}

	var saved *models.ShippingProfile
	if p.ID == 0 {
		saved, err = scanProfile(tx.QueryRow(ctx, `
INSERT INTO shipping_profiles (
  contact_id, recipient_kind, delivery_kind,
  first_name, last_name, middle_name, phone,
  company_name, company_code,
  city_ref, warehouse_ref, street_ref, building, apartment,
  counterparty_ref, contact_person_ref, address_ref,
  is_default, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$19)
RETURNING `+profileColumns,
			p.ContactID, p.RecipientKind, p.DeliveryKind,
			p.FirstName, p.LastName, p.MiddleName, p.Phone,
			p.CompanyName, p.CompanyCode,
			p.CityRef, p.WarehouseRef, p.StreetRef, p.Building, p.Apartment,
			p.CounterpartyRef, p.ContactPersonRef, p.AddressRef,
			p.IsDefault, now))
		if err != nil {
			return nil, errors.Wrap(err, "insert profile")
		}
	} else {
		saved, err = scanProfile(tx.QueryRow(ctx, `
UPDATE shipping_profiles SET
  recipient_kind = $2, delivery_kind = $3,
  first_name = $4, last_name = $5, middle_name = $6, phone = $7,
  company_name = $8, company_code = $9,
  city_ref = $10, warehouse_ref = $11, street_ref = $12, building = $13, apartment = $14,
  counterparty_ref = $15, contact_person_ref = $16, address_ref = $17,
  is_default = $18, updated_at = $19
WHERE id = $1
RETURNING `+profileColumns,
			p.ID, p.RecipientKind, p.DeliveryKind,
			p.FirstName, p.LastName, p.MiddleName, p.Phone,
			p.CompanyName, p.CompanyCode,
			p.CityRef, p.WarehouseRef, p.StreetRef, p.Building, p.Apartment,
			p.CounterpartyRef, p.ContactPersonRef, p.AddressRef,
			p.IsDefault, now))
		if err == pgx.ErrNoRows {
			return nil, errors.Errorf("profile %d not found", p.ID)
		}
		if err != nil {
			return nil, errors.Wrap(err, "update profile")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return saved, nil
}

func (s *Storage) ListProfiles(ctx context.Context, contactID uint64) ([]*models.ShippingProfile, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+profileColumns+` FROM shipping_profiles WHERE contact_id = $1 ORDER BY is_default DESC, updated_at DESC`,
		contactID)
	if err != nil {
		return nil, errors.Wrap(err, "select profiles")
	}
	defer rows.Close()

	var out []*models.ShippingProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan profile")
		}
		out = append(out, p)
	}
	return out, errors.Wrap(rows.Err(), "rows")
}
