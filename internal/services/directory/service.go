// Package directory maintains the local mirror of the carrier's reference
// data: cities, warehouses and streets, and serves the typed search
// operations over it.
package directory

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/crmkit/shipdesk/internal/integrations/novaposhta"
	"github.com/crmkit/shipdesk/internal/models"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

type Store interface {
	ReplaceCities(ctx context.Context, cities []models.City) error
	ReplaceWarehouses(ctx context.Context, warehouses []models.Warehouse) error
	UpsertStreets(ctx context.Context, cityRef string, streets []models.Street) error
	SearchCities(ctx context.Context, query string, limit int) ([]models.City, error)
	SearchWarehouses(ctx context.Context, cityRef string, postomat *bool, query string, limit int) ([]models.Warehouse, error)
	SearchStreets(ctx context.Context, cityRef, query string, limit int) ([]models.Street, error)
	CountStreets(ctx context.Context, cityRef string) (int, error)
	GetWarehouse(ctx context.Context, ref string) (*models.Warehouse, bool, error)
	GetCity(ctx context.Context, ref string) (*models.City, bool, error)
}

// SearchStatus discriminates search results instead of erroring on thin or
// not-yet-cached queries.
type SearchStatus string

const (
	StatusOK         SearchStatus = "OK"
	StatusMinChars   SearchStatus = "MIN_CHARS"
	StatusBadRequest SearchStatus = "BAD_REQUEST"
	StatusSyncing    SearchStatus = "SYNCING"
)

const (
	minCityQuery   = 2
	minStreetQuery = 3

	defaultSearchLimit = 20

	streetSyncTimeout = 60 * time.Second
)

type Service struct {
	store   Store
	carrier novaposhta.Caller
	log     *slog.Logger

	// streetSync keys in-flight per-city street syncs so concurrent misses
	// for the same city share one carrier call.
	streetSync singleflight.Group
}

func New(store Store, carrier novaposhta.Caller, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, carrier: carrier, log: log}
}

// Sync runs the bulk directory refresh: full city and warehouse collections,
// deactivate-then-upsert. Streets are not part of the bulk job.
func (s *Service) Sync(ctx context.Context) error {
	if err := s.syncCities(ctx); err != nil {
		return err
	}
	return s.syncWarehouses(ctx)
}

func (s *Service) syncCities(ctx context.Context) error {
	resp, err := s.carrier.Call(ctx, novaposhta.ModelAddress, novaposhta.MethodGetCities, nil)
	if err != nil {
		return errors.Wrap(err, "fetch cities")
	}
	var rows []novaposhta.CityRow
	if err := resp.Decode(&rows); err != nil {
		return err
	}

	cities := make([]models.City, 0, len(rows))
	for _, r := range rows {
		if r.Ref == "" {
			continue
		}
		cities = append(cities, models.City{
			Ref:    r.Ref,
			Name:   r.Description,
			Area:   r.AreaDescription,
			Region: r.Region,
		})
	}

	if err := s.store.ReplaceCities(ctx, cities); err != nil {
		return errors.Wrap(err, "replace cities")
	}
	s.log.Info("directory cities synced", "count", len(cities))
	return nil
}

func (s *Service) syncWarehouses(ctx context.Context) error {
	resp, err := s.carrier.Call(ctx, novaposhta.ModelAddress, novaposhta.MethodGetWarehouses, nil)
	if err != nil {
		return errors.Wrap(err, "fetch warehouses")
	}
	var rows []novaposhta.WarehouseRow
	if err := resp.Decode(&rows); err != nil {
		return err
	}

	warehouses := make([]models.Warehouse, 0, len(rows))
	for _, r := range rows {
		if r.Ref == "" {
			continue
		}
		warehouses = append(warehouses, models.Warehouse{
			Ref:          r.Ref,
			CityRef:      r.CityRef,
			Name:         r.Description,
			ShortAddress: r.ShortAddress,
			Number:       warehouseNumber(r.Number, r.Description),
			IsPostomat:   isPostomat(r.TypeOfWarehouse, r.CategoryOfWarehouse, r.Description),
		})
	}

	if err := s.store.ReplaceWarehouses(ctx, warehouses); err != nil {
		return errors.Wrap(err, "replace warehouses")
	}
	s.log.Info("directory warehouses synced", "count", len(warehouses))
	return nil
}

type CitiesResult struct {
	Status SearchStatus
	Items  []models.City
}

func (s *Service) SearchCities(ctx context.Context, query string, limit int) (CitiesResult, error) {
	query = strings.TrimSpace(query)
	if len([]rune(query)) < minCityQuery {
		return CitiesResult{Status: StatusMinChars}, nil
	}
	items, err := s.store.SearchCities(ctx, query, clampLimit(limit))
	if err != nil {
		return CitiesResult{}, err
	}
	return CitiesResult{Status: StatusOK, Items: items}, nil
}

type WarehousesResult struct {
	Status SearchStatus
	Items  []models.Warehouse
}

// SearchWarehouses: kind is "" (all), "warehouse" or "postomat".
func (s *Service) SearchWarehouses(ctx context.Context, cityRef, kind, query string, limit int) (WarehousesResult, error) {
	if cityRef == "" {
		return WarehousesResult{Status: StatusBadRequest}, nil
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return WarehousesResult{Status: StatusMinChars}, nil
	}

	var postomat *bool
	switch kind {
	case "postomat":
		v := true
		postomat = &v
	case "warehouse":
		v := false
		postomat = &v
	}

	items, err := s.store.SearchWarehouses(ctx, cityRef, postomat, query, clampLimit(limit))
	if err != nil {
		return WarehousesResult{}, err
	}
	return WarehousesResult{Status: StatusOK, Items: items}, nil
}

type StreetsResult struct {
	Status SearchStatus
	Items  []models.Street
}

// SearchStreets returns SYNCING without blocking when the city has no cached
// streets yet; the lazy sync runs in the background and a retry will hit the
// cache.
func (s *Service) SearchStreets(ctx context.Context, cityRef, query string, limit int) (StreetsResult, error) {
	if cityRef == "" {
		return StreetsResult{Status: StatusBadRequest}, nil
	}
	query = strings.TrimSpace(query)
	if len([]rune(query)) < minStreetQuery {
		return StreetsResult{Status: StatusMinChars}, nil
	}

	// The city ref gates a lazy per-city carrier sync, so check it against
	// the mirror before anything else can be triggered.
	city, ok, err := s.store.GetCity(ctx, cityRef)
	if err != nil {
		return StreetsResult{}, err
	}
	if !ok || !city.IsActive {
		return StreetsResult{Status: StatusBadRequest}, nil
	}

	n, err := s.store.CountStreets(ctx, cityRef)
	if err != nil {
		return StreetsResult{}, err
	}
	if n == 0 {
		go s.syncStreetsInBackground(cityRef)
		return StreetsResult{Status: StatusSyncing}, nil
	}

	items, err := s.store.SearchStreets(ctx, cityRef, query, clampLimit(limit))
	if err != nil {
		return StreetsResult{}, err
	}
	return StreetsResult{Status: StatusOK, Items: items}, nil
}

func (s *Service) syncStreetsInBackground(cityRef string) {
	// Detached from the request: the caller already got SYNCING back.
	ctx, cancel := context.WithTimeout(context.Background(), streetSyncTimeout)
	defer cancel()
	if err := s.EnsureStreets(ctx, cityRef); err != nil {
		s.log.Error("street sync failed", "city_ref", cityRef, "error", err.Error())
	}
}

// EnsureStreets fetches and stores the streets of one city. Concurrent calls
// for the same city collapse into a single carrier call; the in-flight entry
// is dropped on completion either way, so a failed sync can be retried.
func (s *Service) EnsureStreets(ctx context.Context, cityRef string) error {
	_, err, _ := s.streetSync.Do(cityRef, func() (any, error) {
		resp, err := s.carrier.Call(ctx, novaposhta.ModelAddress, novaposhta.MethodGetStreet, map[string]string{
			"CityRef": cityRef,
		})
		if err != nil {
			return nil, errors.Wrap(err, "fetch streets")
		}
		var rows []novaposhta.StreetRow
		if err := resp.Decode(&rows); err != nil {
			return nil, err
		}

		streets := make([]models.Street, 0, len(rows))
		for _, r := range rows {
			if r.Ref == "" {
				continue
			}
			streets = append(streets, models.Street{Ref: r.Ref, CityRef: cityRef, Name: r.Description})
		}

		if err := s.store.UpsertStreets(ctx, cityRef, streets); err != nil {
			return nil, errors.Wrap(err, "store streets")
		}
		s.log.Info("streets synced", "city_ref", cityRef, "count", len(streets))
		return nil, nil
	})
	return err
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 100 {
		return defaultSearchLimit
	}
	return limit
}
