package shipping_api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/crmkit/shipdesk/internal/faults"
	"github.com/crmkit/shipdesk/internal/models"
	"github.com/crmkit/shipdesk/internal/services/directory"
	"github.com/crmkit/shipdesk/internal/services/waybills"
	"github.com/stretchr/testify/require"
)

type fakeDirectory struct {
	cities     directory.CitiesResult
	warehouses directory.WarehousesResult
	streets    directory.StreetsResult
	syncErr    error
	synced     int
}

func (d *fakeDirectory) Sync(context.Context) error {
	d.synced++
	return d.syncErr
}
func (d *fakeDirectory) SearchCities(_ context.Context, query string, _ int) (directory.CitiesResult, error) {
	if len(query) < 2 {
		return directory.CitiesResult{Status: directory.StatusMinChars}, nil
	}
	return d.cities, nil
}
func (d *fakeDirectory) SearchWarehouses(_ context.Context, cityRef, _, _ string, _ int) (directory.WarehousesResult, error) {
	if cityRef == "" {
		return directory.WarehousesResult{Status: directory.StatusBadRequest}, nil
	}
	return d.warehouses, nil
}
func (d *fakeDirectory) SearchStreets(context.Context, string, string, int) (directory.StreetsResult, error) {
	return d.streets, nil
}

type fakeWaybills struct {
	createRes *waybills.CreateWaybillResult
	createErr error
	createdIn waybills.CreateWaybillInput

	statusRes *waybills.StatusResult
	statusErr error

	syncRes waybills.SyncResult

	settleStatus models.OrderStatus

	profiles       []*models.ShippingProfile
	profileContact uint64
}

func (f *fakeWaybills) CreateWaybill(_ context.Context, in waybills.CreateWaybillInput) (*waybills.CreateWaybillResult, error) {
	f.createdIn = in
	return f.createRes, f.createErr
}
func (f *fakeWaybills) GetWaybillStatus(context.Context, uint64, bool) (*waybills.StatusResult, error) {
	return f.statusRes, f.statusErr
}
func (f *fakeWaybills) SyncActiveWaybills(context.Context, int) (waybills.SyncResult, error) {
	return f.syncRes, nil
}
func (f *fakeWaybills) SettlePickupOrder(context.Context, uint64) (models.OrderStatus, error) {
	return f.settleStatus, nil
}
func (f *fakeWaybills) ListShippingProfiles(_ context.Context, contactID uint64) ([]*models.ShippingProfile, error) {
	f.profileContact = contactID
	return f.profiles, nil
}

func testServer(t *testing.T, dir *fakeDirectory, wb *fakeWaybills) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(New(dir, wb, nil).Router())
	t.Cleanup(srv.Close)
	return srv
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestSearchCities(t *testing.T) {
	dir := &fakeDirectory{cities: directory.CitiesResult{
		Status: directory.StatusOK,
		Items:  []models.City{{Ref: "city-1", Name: "Kyiv", Area: "Kyivska"}},
	}}
	srv := testServer(t, dir, &fakeWaybills{})

	resp, err := http.Get(srv.URL + "/directory/cities?query=ky")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[searchResponse](t, resp)
	require.Equal(t, directory.StatusOK, body.Status)

	// Too-short queries answer MIN_CHARS with a 200, not an error.
	resp, err = http.Get(srv.URL + "/directory/cities?query=k")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body = decode[searchResponse](t, resp)
	require.Equal(t, directory.StatusMinChars, body.Status)
}

func TestSearchWarehouses_BadRequest(t *testing.T) {
	srv := testServer(t, &fakeDirectory{}, &fakeWaybills{})

	resp, err := http.Get(srv.URL + "/directory/warehouses?query=1")
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decode[searchResponse](t, resp)
	require.Equal(t, directory.StatusBadRequest, body.Status)
}

func TestSearchStreets_Syncing(t *testing.T) {
	dir := &fakeDirectory{streets: directory.StreetsResult{Status: directory.StatusSyncing}}
	srv := testServer(t, dir, &fakeWaybills{})

	resp, err := http.Get(srv.URL + "/directory/streets?cityRef=city-1&query=shev")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[searchResponse](t, resp)
	require.Equal(t, directory.StatusSyncing, body.Status)
}

func TestDirectorySync(t *testing.T) {
	dir := &fakeDirectory{}
	srv := testServer(t, dir, &fakeWaybills{})

	resp, err := http.Post(srv.URL+"/directory/sync", "application/json", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 1, dir.synced)
}

func TestCreateWaybill(t *testing.T) {
	wb := &fakeWaybills{createRes: &waybills.CreateWaybillResult{
		WaybillID:      1,
		DocumentNumber: "20450000001234",
		DocumentRef:    "doc-ref-1",
	}}
	srv := testServer(t, &fakeDirectory{}, wb)

	payload := `{"draft":{"recipientKind":"PERSON","deliveryKind":"WAREHOUSE","firstName":"Olena","lastName":"Kovalenko","phone":"+380679998877","cityRef":"city-1","warehouseRef":"wh-1"},"parcels":[{"weight":2,"cost":500}],"description":"order"}`
	resp, err := http.Post(srv.URL+"/orders/42/waybill", "application/json", strings.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	body := decode[waybills.CreateWaybillResult](t, resp)
	require.Equal(t, "20450000001234", body.DocumentNumber)

	require.Equal(t, uint64(42), wb.createdIn.OrderID)
	require.NotNil(t, wb.createdIn.Draft)
	require.Equal(t, "wh-1", wb.createdIn.Draft.WarehouseRef)
	require.Len(t, wb.createdIn.Parcels, 1)
}

func TestCreateWaybill_BadOrderID(t *testing.T) {
	srv := testServer(t, &fakeDirectory{}, &fakeWaybills{})

	resp, err := http.Post(srv.URL+"/orders/abc/waybill", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateWaybill_MalformedBody(t *testing.T) {
	srv := testServer(t, &fakeDirectory{}, &fakeWaybills{})

	resp, err := http.Post(srv.URL+"/orders/1/waybill", "application/json", strings.NewReader(`{"draft":`))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decode[errorBody](t, resp)
	require.Equal(t, faults.KindValidation, body.Kind)
}

func TestErrorKindMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{faults.New(faults.KindValidation, "bad"), http.StatusBadRequest},
		{faults.New(faults.KindNotFound, "missing"), http.StatusNotFound},
		{faults.New(faults.KindCarrier, "carrier said no"), http.StatusBadGateway},
		{faults.New(faults.KindTimeout, "deadline"), http.StatusGatewayTimeout},
		{faults.New(faults.KindConfig, "unset"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		wb := &fakeWaybills{statusErr: tc.err}
		srv := testServer(t, &fakeDirectory{}, wb)

		resp, err := http.Get(srv.URL + "/orders/1/waybill/status")
		require.NoError(t, err)
		require.Equal(t, tc.code, resp.StatusCode, "error %v", tc.err)
		resp.Body.Close()
	}
}

func TestWaybillStatus(t *testing.T) {
	wb := &fakeWaybills{statusRes: &waybills.StatusResult{DocumentNumber: "2045A", StatusCode: "4", FromCache: true}}
	srv := testServer(t, &fakeDirectory{}, wb)

	resp, err := http.Get(srv.URL + "/orders/1/waybill/status")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[waybills.StatusResult](t, resp)
	require.Equal(t, "4", body.StatusCode)
	require.True(t, body.FromCache)
}

func TestWaybillsSync(t *testing.T) {
	wb := &fakeWaybills{syncRes: waybills.SyncResult{Checked: 3, UpdatedOrders: 2, Skipped: 1}}
	srv := testServer(t, &fakeDirectory{}, wb)

	resp, err := http.Post(srv.URL+"/waybills/sync?limit=50", "application/json", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[waybills.SyncResult](t, resp)
	require.Equal(t, 3, body.Checked)
	require.Equal(t, 2, body.UpdatedOrders)
	require.Equal(t, 1, body.Skipped)
}

func TestSettlePickup(t *testing.T) {
	wb := &fakeWaybills{settleStatus: models.OrderStatusSuccess}
	srv := testServer(t, &fakeDirectory{}, wb)

	resp, err := http.Post(srv.URL+"/orders/7/pickup/settle", "application/json", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]models.OrderStatus](t, resp)
	require.Equal(t, models.OrderStatusSuccess, body["status"])
}

func TestListProfiles(t *testing.T) {
	wb := &fakeWaybills{profiles: []*models.ShippingProfile{
		{ID: 2, ContactID: 7, FirstName: "Olha", CityRef: "city-1", IsDefault: true},
		{ID: 1, ContactID: 7, FirstName: "Olha", WarehouseRef: "wh-9"},
	}}
	srv := testServer(t, &fakeDirectory{}, wb)

	resp, err := http.Get(srv.URL + "/contacts/7/profiles")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, uint64(7), wb.profileContact)

	body := decode[map[string][]profileDTO](t, resp)
	require.Len(t, body["items"], 2)
	require.True(t, body["items"][0].IsDefault)
	require.Equal(t, "wh-9", body["items"][1].WarehouseRef)

	resp, err = http.Get(srv.URL + "/contacts/0/profiles")
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestReadyz(t *testing.T) {
	api := New(&fakeDirectory{}, &fakeWaybills{}, nil).
		WithReadyCheck(func(context.Context) error { return faults.New(faults.KindConfig, "db down") })
	srv := httptest.NewServer(api.Router())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}
