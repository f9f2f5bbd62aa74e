// Package sender resolves the shipping-from identity. The CRM ships from a
// single configured warehouse, so the resolved snapshot is computed once and
// reused for the process lifetime.
package sender

import (
	"context"
	"sync"

	"github.com/crmkit/shipdesk/config"
	"github.com/crmkit/shipdesk/internal/faults"
	"github.com/crmkit/shipdesk/internal/models"
	"golang.org/x/sync/singleflight"
)

type Store interface {
	GetWarehouse(ctx context.Context, ref string) (*models.Warehouse, bool, error)
}

// Profile is the validated sender snapshot handed to the waybill builder.
type Profile struct {
	CityRef         string
	WarehouseRef    string
	CounterpartyRef string
	ContactRef      string
	Phone           string
}

type Resolver struct {
	cfg   config.SenderConfig
	store Store

	mu     sync.RWMutex
	cached *Profile

	// single collapses concurrent first-time resolutions; the validation is
	// read-only, so redundant work would be harmless but wasteful.
	single singleflight.Group
}

func New(cfg config.SenderConfig, store Store) *Resolver {
	return &Resolver{cfg: cfg, store: store}
}

// Resolve returns the memoized sender profile, validating it on first use:
// all five settings present, the warehouse cached and active, in the claimed
// city, and not a postomat (senders ship from a real warehouse).
func (r *Resolver) Resolve(ctx context.Context) (*Profile, error) {
	r.mu.RLock()
	if p := r.cached; p != nil {
		r.mu.RUnlock()
		return p, nil
	}
	r.mu.RUnlock()

	v, err, _ := r.single.Do("sender", func() (any, error) {
		p, err := r.resolve(ctx)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.cached = p
		r.mu.Unlock()
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Profile), nil
}

// Invalidate drops the snapshot so the next Resolve re-validates. Meant for
// config reloads; nothing calls it on the hot path.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	r.cached = nil
	r.mu.Unlock()
}

func (r *Resolver) resolve(ctx context.Context) (*Profile, error) {
	for _, req := range []struct {
		name  string
		value string
	}{
		{"sender.city_ref", r.cfg.CityRef},
		{"sender.warehouse_ref", r.cfg.WarehouseRef},
		{"sender.counterparty_ref", r.cfg.CounterpartyRef},
		{"sender.contact_ref", r.cfg.ContactRef},
		{"sender.phone", r.cfg.Phone},
	} {
		if req.value == "" {
			return nil, faults.Newf(faults.KindConfig, "%s is not configured", req.name)
		}
	}

	wh, ok, err := r.store.GetWarehouse(ctx, r.cfg.WarehouseRef)
	if err != nil {
		return nil, err
	}
	if !ok || !wh.IsActive {
		return nil, faults.Newf(faults.KindNotFound, "sender warehouse %s is not in the directory; run a directory sync", r.cfg.WarehouseRef)
	}
	if wh.CityRef != r.cfg.CityRef {
		return nil, faults.Newf(faults.KindConfig, "sender warehouse %s belongs to city %s, not the configured %s", wh.Ref, wh.CityRef, r.cfg.CityRef)
	}
	if wh.IsPostomat {
		return nil, faults.Newf(faults.KindConfig, "sender warehouse %s is a postomat; shipments must leave from a regular warehouse", wh.Ref)
	}

	return &Profile{
		CityRef:         r.cfg.CityRef,
		WarehouseRef:    r.cfg.WarehouseRef,
		CounterpartyRef: r.cfg.CounterpartyRef,
		ContactRef:      r.cfg.ContactRef,
		Phone:           r.cfg.Phone,
	}, nil
}
