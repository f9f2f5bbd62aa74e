package pgship

import (
	"context"
	"time"

	"github.com/crmkit/shipdesk/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// ReplaceCities is the two-phase bulk refresh: mark everything inactive, then
// upsert the returned rows as active. Carrier-side removals surface as local
// deactivation, so refs already stored on waybills stay resolvable.
func (s *Storage) ReplaceCities(ctx context.Context, cities []models.City) error {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `UPDATE directory_cities SET is_active = FALSE`); err != nil {
		return errors.Wrap(err, "deactivate cities")
	}

	for _, c := range cities {
		_, err := tx.Exec(ctx, `
INSERT INTO directory_cities (ref, name, area, region, is_active, updated_at)
VALUES ($1,$2,$3,$4,TRUE,$5)
ON CONFLICT (ref)
DO UPDATE SET name = $2, area = $3, region = $4, is_active = TRUE, updated_at = $5
`, c.Ref, c.Name, c.Area, c.Region, now)
		if err != nil {
			return errors.Wrap(err, "upsert city")
		}
	}

	return errors.Wrap(tx.Commit(ctx), "commit tx")
}

func (s *Storage) ReplaceWarehouses(ctx context.Context, warehouses []models.Warehouse) error {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `UPDATE directory_warehouses SET is_active = FALSE`); err != nil {
		return errors.Wrap(err, "deactivate warehouses")
	}

	for _, w := range warehouses {
		_, err := tx.Exec(ctx, `
INSERT INTO directory_warehouses (ref, city_ref, name, short_address, number, is_postomat, is_active, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,TRUE,$7)
ON CONFLICT (ref)
DO UPDATE SET city_ref = $2, name = $3, short_address = $4, number = $5, is_postomat = $6, is_active = TRUE, updated_at = $7
`, w.Ref, w.CityRef, w.Name, w.ShortAddress, w.Number, w.IsPostomat, now)
		if err != nil {
			return errors.Wrap(err, "upsert warehouse")
		}
	}

	return errors.Wrap(tx.Commit(ctx), "commit tx")
}

// UpsertStreets stores the lazily fetched streets of one city. Streets carry
// no active flag: a later re-sync simply upserts the fresh set.
func (s *Storage) UpsertStreets(ctx context.Context, cityRef string, streets []models.Street) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, st := range streets {
		_, err := tx.Exec(ctx, `
INSERT INTO directory_streets (ref, city_ref, name)
VALUES ($1,$2,$3)
ON CONFLICT (ref) DO UPDATE SET city_ref = $2, name = $3
`, st.Ref, cityRef, st.Name)
		if err != nil {
			return errors.Wrap(err, "upsert street")
		}
	}

	return errors.Wrap(tx.Commit(ctx), "commit tx")
}

func (s *Storage) SearchCities(ctx context.Context, query string, limit int) ([]models.City, error) {
	rows, err := s.db.Query(ctx, `
SELECT ref, name, area, region, is_active, updated_at
FROM directory_cities
WHERE is_active AND lower(name) LIKE lower($1) || '%'
ORDER BY name
LIMIT $2
`, query, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select cities")
	}
	defer rows.Close()

	var out []models.City
	for rows.Next() {
		var c models.City
		if err := rows.Scan(&c.Ref, &c.Name, &c.Area, &c.Region, &c.IsActive, &c.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "scan city")
		}
		out = append(out, c)
	}
	return out, errors.Wrap(rows.Err(), "rows")
}

// SearchWarehouses filters by city and optionally postomat-only / regular-only.
func (s *Storage) SearchWarehouses(ctx context.Context, cityRef string, postomat *bool, query string, limit int) ([]models.Warehouse, error) {
	rows, err := s.db.Query(ctx, `
SELECT ref, city_ref, name, short_address, number, is_postomat, is_active, updated_at
FROM directory_warehouses
WHERE is_active
  AND city_ref = $1
  AND ($2::boolean IS NULL OR is_postomat = $2)
  AND (lower(name) LIKE '%' || lower($3) || '%' OR number LIKE $3 || '%')
ORDER BY length(number), number
LIMIT $4
`, cityRef, postomat, query, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select warehouses")
	}
	defer rows.Close()

	var out []models.Warehouse
	for rows.Next() {
		var w models.Warehouse
		if err := rows.Scan(&w.Ref, &w.CityRef, &w.Name, &w.ShortAddress, &w.Number, &w.IsPostomat, &w.IsActive, &w.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "scan warehouse")
		}
		out = append(out, w)
	}
	return out, errors.Wrap(rows.Err(), "rows")
}

func (s *Storage) SearchStreets(ctx context.Context, cityRef, query string, limit int) ([]models.Street, error) {
	rows, err := s.db.Query(ctx, `
SELECT ref, city_ref, name
FROM directory_streets
WHERE city_ref = $1 AND lower(name) LIKE '%' || lower($2) || '%'
ORDER BY name
LIMIT $3
`, cityRef, query, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select streets")
	}
	defer rows.Close()

	var out []models.Street
	for rows.Next() {
		var st models.Street
		if err := rows.Scan(&st.Ref, &st.CityRef, &st.Name); err != nil {
			return nil, errors.Wrap(err, "scan street")
		}
		out = append(out, st)
	}
	return out, errors.Wrap(rows.Err(), "rows")
}

func (s *Storage) CountStreets(ctx context.Context, cityRef string) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `SELECT count(*) FROM directory_streets WHERE city_ref = $1`, cityRef).Scan(&n)
	return n, errors.Wrap(err, "count streets")
}

// GetWarehouse returns the warehouse row regardless of its active flag, and
// a found marker instead of an error for misses (callers decide the fault).
func (s *Storage) GetWarehouse(ctx context.Context, ref string) (*models.Warehouse, bool, error) {
	var w models.Warehouse
	err := s.db.QueryRow(ctx, `
SELECT ref, city_ref, name, short_address, number, is_postomat, is_active, updated_at
FROM directory_warehouses
WHERE ref = $1
`, ref).Scan(&w.Ref, &w.CityRef, &w.Name, &w.ShortAddress, &w.Number, &w.IsPostomat, &w.IsActive, &w.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "select warehouse")
	}
	return &w, true, nil
}

func (s *Storage) GetCity(ctx context.Context, ref string) (*models.City, bool, error) {
	var c models.City
	err := s.db.QueryRow(ctx, `
SELECT ref, name, area, region, is_active, updated_at
FROM directory_cities
WHERE ref = $1
`, ref).Scan(&c.Ref, &c.Name, &c.Area, &c.Region, &c.IsActive, &c.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "select city")
	}
	return &c, true, nil
}
