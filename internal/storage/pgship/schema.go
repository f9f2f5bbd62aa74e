package pgship

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		// Directory mirrors are keyed by the carrier-assigned ref and only
		// ever deactivated, never deleted.
		`
CREATE TABLE IF NOT EXISTS directory_cities (
  ref TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  area TEXT NOT NULL DEFAULT '',
  region TEXT NOT NULL DEFAULT '',
  is_active BOOLEAN NOT NULL DEFAULT TRUE,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_directory_cities_name ON directory_cities(lower(name))`,
		`
CREATE TABLE IF NOT EXISTS directory_warehouses (
  ref TEXT PRIMARY KEY,
  city_ref TEXT NOT NULL,
  name TEXT NOT NULL,
  short_address TEXT NOT NULL DEFAULT '',
  number TEXT NOT NULL DEFAULT '',
  is_postomat BOOLEAN NOT NULL DEFAULT FALSE,
  is_active BOOLEAN NOT NULL DEFAULT TRUE,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_directory_warehouses_city ON directory_warehouses(city_ref)`,
		`
CREATE TABLE IF NOT EXISTS directory_streets (
  ref TEXT PRIMARY KEY,
  city_ref TEXT NOT NULL,
  name TEXT NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_directory_streets_city ON directory_streets(city_ref)`,
		`
CREATE TABLE IF NOT EXISTS shipping_profiles (
  id BIGSERIAL PRIMARY KEY,
  contact_id BIGINT NOT NULL,
  recipient_kind TEXT NOT NULL,
  delivery_kind TEXT NOT NULL,
  first_name TEXT NOT NULL DEFAULT '',
  last_name TEXT NOT NULL DEFAULT '',
  middle_name TEXT NOT NULL DEFAULT '',
  phone TEXT NOT NULL DEFAULT '',
  company_name TEXT NOT NULL DEFAULT '',
  company_code TEXT NOT NULL DEFAULT '',
  city_ref TEXT NOT NULL DEFAULT '',
  warehouse_ref TEXT NOT NULL DEFAULT '',
  street_ref TEXT NOT NULL DEFAULT '',
  building TEXT NOT NULL DEFAULT '',
  apartment TEXT NOT NULL DEFAULT '',
  counterparty_ref TEXT NOT NULL DEFAULT '',
  contact_person_ref TEXT NOT NULL DEFAULT '',
  address_ref TEXT NOT NULL DEFAULT '',
  is_default BOOLEAN NOT NULL DEFAULT FALSE,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_shipping_profiles_contact ON shipping_profiles(contact_id)`,
		// At most one default profile per contact.
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_shipping_profiles_default ON shipping_profiles(contact_id) WHERE is_default`,
		`
CREATE TABLE IF NOT EXISTS order_waybills (
  id BIGSERIAL PRIMARY KEY,
  order_id BIGINT NOT NULL,
  carrier TEXT NOT NULL,
  document_number TEXT NOT NULL,
  document_ref TEXT NOT NULL,
  cost DOUBLE PRECISION NOT NULL DEFAULT 0,
  status_code TEXT NOT NULL DEFAULT '',
  status_text TEXT NOT NULL DEFAULT '',
  estimated_delivery_at TIMESTAMPTZ NULL,
  snapshot JSONB NOT NULL DEFAULT '{}'::jsonb,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_order_waybills_order ON order_waybills(order_id, created_at DESC)`,
		// Orders belong to the wider CRM; this core only reads them and
		// mutates status + delivery_data. The table is created here so the
		// subsystem is runnable (and testable) on an empty database.
		`
CREATE TABLE IF NOT EXISTS orders (
  id BIGSERIAL PRIMARY KEY,
  contact_id BIGINT NOT NULL,
  status TEXT NOT NULL DEFAULT 'NEW',
  debt_amount DOUBLE PRECISION NOT NULL DEFAULT 0,
  delivery_method TEXT NOT NULL DEFAULT '',
  delivery_data JSONB NOT NULL DEFAULT '{}'::jsonb,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
