package main

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/crmkit/shipdesk/config"
	"github.com/crmkit/shipdesk/internal/faults"
	"github.com/crmkit/shipdesk/internal/integrations/novaposhta"
	"github.com/crmkit/shipdesk/internal/integrations/novaposhta/fake"
	"github.com/crmkit/shipdesk/internal/models"
	"github.com/crmkit/shipdesk/internal/services/waybills"
	"github.com/crmkit/shipdesk/internal/storage/pgship"
	"github.com/stretchr/testify/require"
)

type stubStorage struct{}

func (stubStorage) ReplaceCities(context.Context, []models.City) error          { return nil }
func (stubStorage) ReplaceWarehouses(context.Context, []models.Warehouse) error { return nil }
func (stubStorage) UpsertStreets(context.Context, string, []models.Street) error {
	return nil
}
func (stubStorage) SearchCities(context.Context, string, int) ([]models.City, error) {
	return nil, nil
}
func (stubStorage) SearchWarehouses(context.Context, string, *bool, string, int) ([]models.Warehouse, error) {
	return nil, nil
}
func (stubStorage) SearchStreets(context.Context, string, string, int) ([]models.Street, error) {
	return nil, nil
}
func (stubStorage) CountStreets(context.Context, string) (int, error) { return 0, nil }
func (stubStorage) GetWarehouse(context.Context, string) (*models.Warehouse, bool, error) {
	return nil, false, nil
}
func (stubStorage) GetCity(context.Context, string) (*models.City, bool, error) {
	return nil, false, nil
}
func (stubStorage) GetOrder(context.Context, uint64) (*models.Order, bool, error) {
	return nil, false, nil
}
func (stubStorage) UpdateOrderStatus(context.Context, uint64, models.OrderStatus) error { return nil }
func (stubStorage) MergeOrderDeliveryData(context.Context, uint64, json.RawMessage) error {
	return nil
}
func (stubStorage) ListActiveCarrierOrders(context.Context, int) ([]pgship.OrderWithWaybill, error) {
	return nil, nil
}
func (stubStorage) GetProfile(context.Context, uint64) (*models.ShippingProfile, bool, error) {
	return nil, false, nil
}
func (stubStorage) SaveProfile(_ context.Context, p *models.ShippingProfile) (*models.ShippingProfile, error) {
	return p, nil
}
func (stubStorage) ListProfiles(context.Context, uint64) ([]*models.ShippingProfile, error) {
	return nil, nil
}
func (stubStorage) CreateWaybill(_ context.Context, w *models.Waybill) (*models.Waybill, error) {
	return w, nil
}
func (stubStorage) LatestWaybill(context.Context, uint64) (*models.Waybill, bool, error) {
	return nil, false, nil
}
func (stubStorage) UpdateWaybillStatus(context.Context, uint64, string, string, *time.Time, json.RawMessage) error {
	return nil
}

func stubFactories(closed *bool) appFactories {
	return appFactories{
		newStorage: func(*config.Config) (storage, func(), error) {
			return stubStorage{}, func() { *closed = true }, nil
		},
		newCarrier: func(*config.Config) (novaposhta.Caller, error) {
			return fake.New(), nil
		},
		newCache:       func(*config.Config) waybills.StatusCache { return nil },
		newProducer:    func(*config.Config) waybills.Producer { return nil },
		newRateLimiter: func(*config.Config) waybills.RateLimiter { return nil },
	}
}

func TestDefaultAppFactories_CarrierSelection(t *testing.T) {
	f := defaultAppFactories()

	// A missing API key is a startup error, never a silent fallback to the
	// in-memory carrier: its empty answers would make the scheduled
	// directory sync deactivate every cached city and warehouse.
	c, err := f.newCarrier(&config.Config{})
	require.Error(t, err)
	require.True(t, faults.IsKind(err, faults.KindConfig))
	require.Nil(t, c)

	c, err = f.newCarrier(&config.Config{Carrier: config.CarrierConfig{DemoMode: true}})
	require.NoError(t, err)
	_, ok := c.(*fake.Client)
	require.True(t, ok)

	c, err = f.newCarrier(&config.Config{Carrier: config.CarrierConfig{APIKey: "real-key"}})
	require.NoError(t, err)
	_, ok = c.(*novaposhta.Client)
	require.True(t, ok)
}

func TestDefaultAppFactories_NilWithoutHosts(t *testing.T) {
	f := defaultAppFactories()
	cfg := &config.Config{}

	require.Nil(t, f.newCache(cfg))
	require.Nil(t, f.newProducer(cfg))
	require.Nil(t, f.newRateLimiter(cfg))

	cfg = &config.Config{
		Redis: config.RedisConfig{Host: "localhost", Port: 6379},
		Kafka: config.KafkaConfig{Host: "localhost", Port: 9092},
	}
	require.NotNil(t, f.newCache(cfg))
	require.NotNil(t, f.newProducer(cfg))
	require.NotNil(t, f.newRateLimiter(cfg))
}

func TestRunShipdesk_ServesAndShutsDown(t *testing.T) {
	closed := false
	f := stubFactories(&closed)

	var addr string
	listening := make(chan struct{})
	f.onListen = func(a string) {
		addr = a
		close(listening)
	}

	cfg := &config.Config{}
	cfg.Shipdesk.HTTPAddr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- RunShipdesk(ctx, cfg, f, nil) }()

	select {
	case <-listening:
	case err := <-done:
		t.Fatalf("server exited early: %v", err)
	}

	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
	require.True(t, closed)
}

func TestRunShipdesk_BadCronSpec(t *testing.T) {
	closed := false
	cfg := &config.Config{}
	cfg.Shipdesk.WaybillSyncSchedule = "not a cron spec"

	err := RunShipdesk(context.Background(), cfg, stubFactories(&closed), nil)
	require.Error(t, err)
	require.True(t, closed)
}
