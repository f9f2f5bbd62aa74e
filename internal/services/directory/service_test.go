package directory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/crmkit/shipdesk/internal/integrations/novaposhta"
	"github.com/crmkit/shipdesk/internal/integrations/novaposhta/fake"
	"github.com/crmkit/shipdesk/internal/models"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu sync.Mutex

	cities     []models.City
	warehouses []models.Warehouse
	streets    map[string][]models.Street

	searchCitiesOut  []models.City
	searchStreetsOut []models.Street
}

func newFakeStore() *fakeStore {
	return &fakeStore{streets: map[string][]models.Street{}}
}

func (f *fakeStore) ReplaceCities(ctx context.Context, cities []models.City) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cities = cities
	return nil
}
func (f *fakeStore) ReplaceWarehouses(ctx context.Context, warehouses []models.Warehouse) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.warehouses = warehouses
	return nil
}
func (f *fakeStore) UpsertStreets(ctx context.Context, cityRef string, streets []models.Street) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streets[cityRef] = append(f.streets[cityRef], streets...)
	return nil
}
func (f *fakeStore) SearchCities(ctx context.Context, query string, limit int) ([]models.City, error) {
	return f.searchCitiesOut, nil
}
func (f *fakeStore) SearchWarehouses(ctx context.Context, cityRef string, postomat *bool, query string, limit int) ([]models.Warehouse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.warehouses, nil
}
func (f *fakeStore) SearchStreets(ctx context.Context, cityRef, query string, limit int) ([]models.Street, error) {
	return f.searchStreetsOut, nil
}
func (f *fakeStore) CountStreets(ctx context.Context, cityRef string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.streets[cityRef]), nil
}
func (f *fakeStore) GetWarehouse(ctx context.Context, ref string) (*models.Warehouse, bool, error) {
	return nil, false, nil
}
func (f *fakeStore) GetCity(ctx context.Context, ref string) (*models.City, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.cities {
		if f.cities[i].Ref == ref {
			return &f.cities[i], true, nil
		}
	}
	return nil, false, nil
}

func TestService_Sync_mapsCarrierRows(t *testing.T) {
	store := newFakeStore()
	carrier := fake.New()
	carrier.ScriptData(novaposhta.ModelAddress, novaposhta.MethodGetCities, []novaposhta.CityRow{
		{Ref: "city-1", Description: "Kyiv", AreaDescription: "Kyivska"},
		{Ref: "", Description: "broken row"},
	})
	carrier.ScriptData(novaposhta.ModelAddress, novaposhta.MethodGetWarehouses, []novaposhta.WarehouseRow{
		{Ref: "wh-1", CityRef: "city-1", Description: "Відділення №7", Number: "7"},
		{Ref: "pm-2", CityRef: "city-1", Description: "Поштомат №12", TypeOfWarehouse: "Postomat"},
	})

	s := New(store, carrier, nil)
	require.NoError(t, s.Sync(context.Background()))

	require.Len(t, store.cities, 1)
	require.Equal(t, "Kyiv", store.cities[0].Name)

	require.Len(t, store.warehouses, 2)
	require.False(t, store.warehouses[0].IsPostomat)
	require.Equal(t, "7", store.warehouses[0].Number)
	require.True(t, store.warehouses[1].IsPostomat)
	require.Equal(t, "12", store.warehouses[1].Number)
}

func TestService_SearchCities_minChars(t *testing.T) {
	s := New(newFakeStore(), fake.New(), nil)

	res, err := s.SearchCities(context.Background(), "K", 10)
	require.NoError(t, err)
	require.Equal(t, StatusMinChars, res.Status)

	res, err = s.SearchCities(context.Background(), "  K ", 10)
	require.NoError(t, err)
	require.Equal(t, StatusMinChars, res.Status)
}

func TestService_SearchWarehouses_requiresCity(t *testing.T) {
	s := New(newFakeStore(), fake.New(), nil)

	res, err := s.SearchWarehouses(context.Background(), "", "", "1", 10)
	require.NoError(t, err)
	require.Equal(t, StatusBadRequest, res.Status)

	res, err = s.SearchWarehouses(context.Background(), "city-1", "", "", 10)
	require.NoError(t, err)
	require.Equal(t, StatusMinChars, res.Status)
}

func TestService_SearchStreets_syncingOnEmptyCache(t *testing.T) {
	store := newFakeStore()
	store.cities = []models.City{{Ref: "city-1", Name: "Kyiv", IsActive: true}}
	carrier := fake.New()
	carrier.ScriptData(novaposhta.ModelAddress, novaposhta.MethodGetStreet, []novaposhta.StreetRow{
		{Ref: "street-1", Description: "Khreshchatyk"},
	})

	s := New(store, carrier, nil)

	res, err := s.SearchStreets(context.Background(), "city-1", "khre", 10)
	require.NoError(t, err)
	require.Equal(t, StatusSyncing, res.Status)

	// The lazy sync runs in the background and fills the cache.
	require.Eventually(t, func() bool {
		n, _ := store.CountStreets(context.Background(), "city-1")
		return n == 1
	}, 2*time.Second, 10*time.Millisecond)

	store.searchStreetsOut = store.streets["city-1"]
	res, err = s.SearchStreets(context.Background(), "city-1", "khre", 10)
	require.NoError(t, err)
	require.Equal(t, StatusOK, res.Status)
	require.Len(t, res.Items, 1)
}

func TestService_SearchStreets_rejectsUnknownCity(t *testing.T) {
	store := newFakeStore()
	store.cities = []models.City{{Ref: "city-gone", Name: "Ghost Town", IsActive: false}}
	carrier := fake.New()

	s := New(store, carrier, nil)

	res, err := s.SearchStreets(context.Background(), "no-such-city", "khre", 10)
	require.NoError(t, err)
	require.Equal(t, StatusBadRequest, res.Status)

	// A deactivated city is rejected the same way.
	res, err = s.SearchStreets(context.Background(), "city-gone", "khre", 10)
	require.NoError(t, err)
	require.Equal(t, StatusBadRequest, res.Status)

	// Neither ref may kick off a lazy street sync against the carrier.
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 0, carrier.Calls(novaposhta.ModelAddress, novaposhta.MethodGetStreet))
}

func TestService_EnsureStreets_dedupsConcurrentSyncs(t *testing.T) {
	store := newFakeStore()
	carrier := fake.New()

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	carrier.Script(novaposhta.ModelAddress, novaposhta.MethodGetStreet, func(any) (*novaposhta.Response, error) {
		once.Do(func() { close(started) })
		<-release
		return &novaposhta.Response{Success: true, Data: []byte(`[{"Ref":"street-1","Description":"Main"}]`)}, nil
	})

	s := New(store, carrier, nil)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, s.EnsureStreets(context.Background(), "city-1"))
		}()
	}

	<-started
	// Both goroutines are now waiting on the same in-flight sync.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	require.Equal(t, 1, carrier.Calls(novaposhta.ModelAddress, novaposhta.MethodGetStreet))

	// After completion the key is free again: a new call hits the carrier.
	require.NoError(t, s.EnsureStreets(context.Background(), "city-1"))
	require.Equal(t, 2, carrier.Calls(novaposhta.ModelAddress, novaposhta.MethodGetStreet))
}
