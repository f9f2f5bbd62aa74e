package sender

import (
	"context"
	"testing"

	"github.com/crmkit/shipdesk/config"
	"github.com/crmkit/shipdesk/internal/faults"
	"github.com/crmkit/shipdesk/internal/models"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	wh    *models.Warehouse
	calls int
}

func (f *fakeStore) GetWarehouse(ctx context.Context, ref string) (*models.Warehouse, bool, error) {
	f.calls++
	if f.wh == nil {
		return nil, false, nil
	}
	return f.wh, true, nil
}

func validConfig() config.SenderConfig {
	return config.SenderConfig{
		CityRef:         "city-1",
		WarehouseRef:    "wh-1",
		CounterpartyRef: "cp-1",
		ContactRef:      "ct-1",
		Phone:           "+380501112233",
	}
}

func TestResolver_missingSettingNamed(t *testing.T) {
	cfg := validConfig()
	cfg.CounterpartyRef = ""

	r := New(cfg, &fakeStore{})
	_, err := r.Resolve(context.Background())
	require.Error(t, err)
	require.Equal(t, faults.KindConfig, faults.KindOf(err))
	require.Contains(t, err.Error(), "sender.counterparty_ref")
}

func TestResolver_warehouseNotCached(t *testing.T) {
	r := New(validConfig(), &fakeStore{})
	_, err := r.Resolve(context.Background())
	require.Error(t, err)
	require.Equal(t, faults.KindNotFound, faults.KindOf(err))
	require.Contains(t, err.Error(), "directory sync")
}

func TestResolver_rejectsWrongCity(t *testing.T) {
	r := New(validConfig(), &fakeStore{wh: &models.Warehouse{
		Ref: "wh-1", CityRef: "other-city", IsActive: true,
	}})
	_, err := r.Resolve(context.Background())
	require.Error(t, err)
	require.Equal(t, faults.KindConfig, faults.KindOf(err))
}

func TestResolver_rejectsPostomat(t *testing.T) {
	r := New(validConfig(), &fakeStore{wh: &models.Warehouse{
		Ref: "wh-1", CityRef: "city-1", IsActive: true, IsPostomat: true,
	}})
	_, err := r.Resolve(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "postomat")
}

func TestResolver_memoizes(t *testing.T) {
	store := &fakeStore{wh: &models.Warehouse{
		Ref: "wh-1", CityRef: "city-1", IsActive: true,
	}}
	r := New(validConfig(), store)

	p1, err := r.Resolve(context.Background())
	require.NoError(t, err)
	p2, err := r.Resolve(context.Background())
	require.NoError(t, err)
	require.Same(t, p1, p2)
	require.Equal(t, 1, store.calls)

	r.Invalidate()
	_, err = r.Resolve(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, store.calls)
}
