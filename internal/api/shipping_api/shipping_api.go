// Package shipping_api is the HTTP boundary: thin handlers that decode the
// request, call a service, and map the result (or its fault kind) onto JSON.
package shipping_api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/crmkit/shipdesk/internal/faults"
	"github.com/crmkit/shipdesk/internal/models"
	"github.com/crmkit/shipdesk/internal/services/directory"
	"github.com/crmkit/shipdesk/internal/services/waybills"
	"github.com/go-chi/chi/v5"
)

type Directory interface {
	Sync(ctx context.Context) error
	SearchCities(ctx context.Context, query string, limit int) (directory.CitiesResult, error)
	SearchWarehouses(ctx context.Context, cityRef, kind, query string, limit int) (directory.WarehousesResult, error)
	SearchStreets(ctx context.Context, cityRef, query string, limit int) (directory.StreetsResult, error)
}

type Waybills interface {
	CreateWaybill(ctx context.Context, in waybills.CreateWaybillInput) (*waybills.CreateWaybillResult, error)
	GetWaybillStatus(ctx context.Context, orderID uint64, syncLive bool) (*waybills.StatusResult, error)
	SyncActiveWaybills(ctx context.Context, limit int) (waybills.SyncResult, error)
	SettlePickupOrder(ctx context.Context, orderID uint64) (models.OrderStatus, error)
	ListShippingProfiles(ctx context.Context, contactID uint64) ([]*models.ShippingProfile, error)
}

type ShippingAPI struct {
	directory Directory
	waybills  Waybills
	ready     func(ctx context.Context) error
	log       *slog.Logger
}

func New(dir Directory, wb Waybills, log *slog.Logger) *ShippingAPI {
	if log == nil {
		log = slog.Default()
	}
	return &ShippingAPI{directory: dir, waybills: wb, log: log}
}

// WithReadyCheck wires the readiness probe; nil means always ready.
func (a *ShippingAPI) WithReadyCheck(fn func(ctx context.Context) error) *ShippingAPI {
	a.ready = fn
	return a
}

func (a *ShippingAPI) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/healthz", a.handleHealthz)
	r.Get("/readyz", a.handleReadyz)

	r.Route("/directory", func(r chi.Router) {
		r.Get("/cities", a.handleSearchCities)
		r.Get("/warehouses", a.handleSearchWarehouses)
		r.Get("/streets", a.handleSearchStreets)
		r.Post("/sync", a.handleDirectorySync)
	})

	r.Route("/orders/{orderID}", func(r chi.Router) {
		r.Post("/waybill", a.handleCreateWaybill)
		r.Get("/waybill/status", a.handleWaybillStatus)
		r.Post("/pickup/settle", a.handleSettlePickup)
	})

	r.Post("/waybills/sync", a.handleWaybillsSync)

	r.Get("/contacts/{contactID}/profiles", a.handleListProfiles)

	return r
}

func (a *ShippingAPI) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *ShippingAPI) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if a.ready != nil {
		if err := a.ready(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type cityDTO struct {
	Ref    string `json:"ref"`
	Name   string `json:"name"`
	Area   string `json:"area,omitempty"`
	Region string `json:"region,omitempty"`
}

type warehouseDTO struct {
	Ref          string `json:"ref"`
	CityRef      string `json:"cityRef"`
	Name         string `json:"name"`
	ShortAddress string `json:"shortAddress,omitempty"`
	Number       string `json:"number,omitempty"`
	IsPostomat   bool   `json:"isPostomat"`
}

type streetDTO struct {
	Ref     string `json:"ref"`
	CityRef string `json:"cityRef"`
	Name    string `json:"name"`
}

type searchResponse struct {
	Status directory.SearchStatus `json:"status"`
	Items  any                    `json:"items,omitempty"`
}

func (a *ShippingAPI) handleSearchCities(w http.ResponseWriter, r *http.Request) {
	res, err := a.directory.SearchCities(r.Context(), r.URL.Query().Get("query"), queryInt(r, "limit"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	items := make([]cityDTO, 0, len(res.Items))
	for _, c := range res.Items {
		items = append(items, cityDTO{Ref: c.Ref, Name: c.Name, Area: c.Area, Region: c.Region})
	}
	writeSearch(w, res.Status, items)
}

func (a *ShippingAPI) handleSearchWarehouses(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, err := a.directory.SearchWarehouses(r.Context(), q.Get("cityRef"), q.Get("kind"), q.Get("query"), queryInt(r, "limit"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	items := make([]warehouseDTO, 0, len(res.Items))
	for _, wh := range res.Items {
		items = append(items, warehouseDTO{
			Ref:          wh.Ref,
			CityRef:      wh.CityRef,
			Name:         wh.Name,
			ShortAddress: wh.ShortAddress,
			Number:       wh.Number,
			IsPostomat:   wh.IsPostomat,
		})
	}
	writeSearch(w, res.Status, items)
}

func (a *ShippingAPI) handleSearchStreets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, err := a.directory.SearchStreets(r.Context(), q.Get("cityRef"), q.Get("query"), queryInt(r, "limit"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	items := make([]streetDTO, 0, len(res.Items))
	for _, st := range res.Items {
		items = append(items, streetDTO{Ref: st.Ref, CityRef: st.CityRef, Name: st.Name})
	}
	writeSearch(w, res.Status, items)
}

func (a *ShippingAPI) handleDirectorySync(w http.ResponseWriter, r *http.Request) {
	if err := a.directory.Sync(r.Context()); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"synced": true})
}

type createWaybillRequest struct {
	ProfileID uint64                   `json:"profileId"`
	Draft     *waybills.RecipientDraft `json:"draft"`
	Parcels   []models.Parcel          `json:"parcels"`

	Description string  `json:"description"`
	Cost        float64 `json:"cost"`

	PayerType     string `json:"payerType"`
	PaymentMethod string `json:"paymentMethod"`

	SaveAsProfile *bool `json:"saveAsProfile"`
	MakeDefault   bool  `json:"makeDefault"`
}

func (a *ShippingAPI) handleCreateWaybill(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathOrderID(w, r)
	if !ok {
		return
	}
	var req createWaybillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, faults.Newf(faults.KindValidation, "malformed request body: %v", err))
		return
	}

	res, err := a.waybills.CreateWaybill(r.Context(), waybills.CreateWaybillInput{
		OrderID:       orderID,
		ProfileID:     req.ProfileID,
		Draft:         req.Draft,
		Parcels:       req.Parcels,
		Description:   req.Description,
		Cost:          req.Cost,
		PayerType:     req.PayerType,
		PaymentMethod: req.PaymentMethod,
		SaveAsProfile: req.SaveAsProfile,
		MakeDefault:   req.MakeDefault,
	})
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (a *ShippingAPI) handleWaybillStatus(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathOrderID(w, r)
	if !ok {
		return
	}
	syncLive, _ := strconv.ParseBool(r.URL.Query().Get("sync"))

	res, err := a.waybills.GetWaybillStatus(r.Context(), orderID, syncLive)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *ShippingAPI) handleSettlePickup(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathOrderID(w, r)
	if !ok {
		return
	}
	status, err := a.waybills.SettlePickupOrder(r.Context(), orderID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]models.OrderStatus{"status": status})
}

func (a *ShippingAPI) handleWaybillsSync(w http.ResponseWriter, r *http.Request) {
	res, err := a.waybills.SyncActiveWaybills(r.Context(), queryInt(r, "limit"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type profileDTO struct {
	ID            uint64               `json:"id"`
	RecipientKind models.RecipientKind `json:"recipientKind"`
	DeliveryKind  models.DeliveryKind  `json:"deliveryKind"`

	FirstName  string `json:"firstName,omitempty"`
	LastName   string `json:"lastName,omitempty"`
	MiddleName string `json:"middleName,omitempty"`
	Phone      string `json:"phone,omitempty"`

	CompanyName string `json:"companyName,omitempty"`
	CompanyCode string `json:"companyCode,omitempty"`

	CityRef      string `json:"cityRef,omitempty"`
	WarehouseRef string `json:"warehouseRef,omitempty"`
	StreetRef    string `json:"streetRef,omitempty"`
	Building     string `json:"building,omitempty"`
	Apartment    string `json:"apartment,omitempty"`

	IsDefault bool `json:"isDefault"`
}

func (a *ShippingAPI) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	contactID, err := strconv.ParseUint(chi.URLParam(r, "contactID"), 10, 64)
	if err != nil || contactID == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "contactID must be a positive integer", Kind: faults.KindValidation})
		return
	}

	profiles, err := a.waybills.ListShippingProfiles(r.Context(), contactID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	items := make([]profileDTO, 0, len(profiles))
	for _, p := range profiles {
		items = append(items, profileDTO{
			ID:            p.ID,
			RecipientKind: p.RecipientKind,
			DeliveryKind:  p.DeliveryKind,
			FirstName:     p.FirstName,
			LastName:      p.LastName,
			MiddleName:    p.MiddleName,
			Phone:         p.Phone,
			CompanyName:   p.CompanyName,
			CompanyCode:   p.CompanyCode,
			CityRef:       p.CityRef,
			WarehouseRef:  p.WarehouseRef,
			StreetRef:     p.StreetRef,
			Building:      p.Building,
			Apartment:     p.Apartment,
			IsDefault:     p.IsDefault,
		})
	}
	writeJSON(w, http.StatusOK, map[string][]profileDTO{"items": items})
}

func pathOrderID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil || id == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "orderID must be a positive integer", Kind: faults.KindValidation})
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, name string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(name))
	return n
}

func writeSearch(w http.ResponseWriter, status directory.SearchStatus, items any) {
	code := http.StatusOK
	if status == directory.StatusBadRequest {
		code = http.StatusBadRequest
		items = nil
	}
	writeJSON(w, code, searchResponse{Status: status, Items: items})
}

type errorBody struct {
	Error string      `json:"error"`
	Kind  faults.Kind `json:"kind,omitempty"`
}

// writeError maps fault kinds to response codes; unkinded errors are internal.
func (a *ShippingAPI) writeError(w http.ResponseWriter, err error) {
	kind := faults.KindOf(err)
	code := http.StatusInternalServerError
	switch kind {
	case faults.KindValidation:
		code = http.StatusBadRequest
	case faults.KindNotFound:
		code = http.StatusNotFound
	case faults.KindCarrier:
		code = http.StatusBadGateway
	case faults.KindTimeout:
		code = http.StatusGatewayTimeout
	case faults.KindConfig:
		code = http.StatusInternalServerError
	}
	if code == http.StatusInternalServerError {
		a.log.Error("request failed", "error", err.Error())
	}
	writeJSON(w, code, errorBody{Error: err.Error(), Kind: kind})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
