// Package waybills orchestrates the carrier document lifecycle: resolving
// recipients, provisioning carrier entities, creating documents, and
// reconciling tracking status back onto orders.
package waybills

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/crmkit/shipdesk/internal/broker/messages"
	"github.com/crmkit/shipdesk/internal/cache/rediscache"
	"github.com/crmkit/shipdesk/internal/faults"
	"github.com/crmkit/shipdesk/internal/integrations/novaposhta"
	"github.com/crmkit/shipdesk/internal/models"
	"github.com/crmkit/shipdesk/internal/services/sender"
	"github.com/crmkit/shipdesk/internal/storage/pgship"
	"github.com/pkg/errors"
)

const (
	// The carrier accepts at most this many documents per tracking call.
	trackingBatchSize = 100

	defaultSyncLimit = 200
	maxSyncLimit     = 1000

	carrierName = models.DeliveryMethodNovaPoshta
)

type Store interface {
	GetOrder(ctx context.Context, id uint64) (*models.Order, bool, error)
	UpdateOrderStatus(ctx context.Context, id uint64, status models.OrderStatus) error
	MergeOrderDeliveryData(ctx context.Context, id uint64, projection json.RawMessage) error
	ListActiveCarrierOrders(ctx context.Context, limit int) ([]pgship.OrderWithWaybill, error)

	GetProfile(ctx context.Context, id uint64) (*models.ShippingProfile, bool, error)
	SaveProfile(ctx context.Context, p *models.ShippingProfile) (*models.ShippingProfile, error)
	ListProfiles(ctx context.Context, contactID uint64) ([]*models.ShippingProfile, error)

	CreateWaybill(ctx context.Context, w *models.Waybill) (*models.Waybill, error)
	LatestWaybill(ctx context.Context, orderID uint64) (*models.Waybill, bool, error)
	UpdateWaybillStatus(ctx context.Context, waybillID uint64, statusCode, statusText string, estimatedAt *time.Time, statusBlob json.RawMessage) error
}

type StatusCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type Service struct {
	store   Store
	carrier novaposhta.Caller
	sender  *sender.Resolver

	cache     StatusCache
	statusTTL time.Duration

	producer Producer
	topic    string

	rl                 RateLimiter
	rateLimitPerMinute int64

	payerType     string
	paymentMethod string

	log *slog.Logger
}

func New(store Store, carrier novaposhta.Caller, snd *sender.Resolver) *Service {
	return &Service{
		store:         store,
		carrier:       carrier,
		sender:        snd,
		payerType:     "Sender",
		paymentMethod: "Cash",
		log:           slog.Default(),
	}
}

func (s *Service) WithCache(cache StatusCache, ttl time.Duration) *Service {
	s.cache = cache
	s.statusTTL = ttl
	return s
}

func (s *Service) WithProducer(p Producer, topic string) *Service {
	s.producer = p
	s.topic = topic
	return s
}

func (s *Service) WithRateLimiter(rl RateLimiter, perMinute int) *Service {
	s.rl = rl
	if perMinute > 0 {
		s.rateLimitPerMinute = int64(perMinute)
	}
	return s
}

func (s *Service) WithPaymentDefaults(payerType, paymentMethod string) *Service {
	if payerType != "" {
		s.payerType = payerType
	}
	if paymentMethod != "" {
		s.paymentMethod = paymentMethod
	}
	return s
}

func (s *Service) WithLogger(log *slog.Logger) *Service {
	if log != nil {
		s.log = log
	}
	return s
}

// deliveryProjection is the novaPoshta namespace written into the order's
// delivery_data. It is a read cache for the UI, rebuilt on every write; the
// waybill row and the live carrier query stay authoritative.
type deliveryProjection struct {
	RecipientKind models.RecipientKind `json:"recipientKind,omitempty"`
	DeliveryKind  models.DeliveryKind  `json:"deliveryKind,omitempty"`
	Phone         string               `json:"phone,omitempty"`
	CityRef       string               `json:"cityRef,omitempty"`
	WarehouseRef  string               `json:"warehouseRef,omitempty"`
	StreetRef     string               `json:"streetRef,omitempty"`
	Building      string               `json:"building,omitempty"`
	Apartment     string               `json:"apartment,omitempty"`
	ProfileID     uint64               `json:"profileId,omitempty"`

	Waybill *waybillSummary `json:"waybill,omitempty"`

	LastStatus json.RawMessage `json:"lastStatus,omitempty"`
}

type waybillSummary struct {
	Number              string     `json:"number"`
	Ref                 string     `json:"ref"`
	Cost                float64    `json:"cost"`
	StatusCode          string     `json:"statusCode,omitempty"`
	StatusText          string     `json:"statusText,omitempty"`
	EstimatedDeliveryAt *time.Time `json:"estimatedDeliveryAt,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
}

type CreateWaybillInput struct {
	OrderID uint64

	ProfileID uint64
	Draft     *RecipientDraft

	Parcels []models.Parcel

	Description string
	Cost        float64

	PayerType     string
	PaymentMethod string

	// SaveAsProfile defaults to true; nil means "save".
	SaveAsProfile *bool
	MakeDefault   bool
}

type CreateWaybillResult struct {
	WaybillID           uint64     `json:"waybillId"`
	DocumentNumber      string     `json:"documentNumber"`
	DocumentRef         string     `json:"documentRef"`
	Cost                float64    `json:"cost"`
	EstimatedDeliveryAt *time.Time `json:"estimatedDeliveryAt,omitempty"`
	ProfileID           uint64     `json:"profileId,omitempty"`
}

// CreateWaybill runs the full pipeline: resolve -> provision -> build ->
// carrier call -> persist waybill -> project onto the order -> advance
// NEW to IN_WORK -> upsert the shipping profile.
func (s *Service) CreateWaybill(ctx context.Context, in CreateWaybillInput) (*CreateWaybillResult, error) {
	order, ok, err := s.store.GetOrder(ctx, in.OrderID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, faults.Newf(faults.KindNotFound, "order %d not found", in.OrderID)
	}

	rec, err := s.resolveRecipient(ctx, order, in.ProfileID, in.Draft)
	if err != nil {
		return nil, err
	}

	snd, err := s.sender.Resolve(ctx)
	if err != nil {
		return nil, err
	}

	if err := s.provision(ctx, rec); err != nil {
		return nil, err
	}

	payerType := in.PayerType
	if payerType == "" {
		payerType = s.payerType
	}
	paymentMethod := in.PaymentMethod
	if paymentMethod == "" {
		paymentMethod = s.paymentMethod
	}

	props, err := buildDocument(snd, rec, in.Parcels, buildOptions{
		PayerType:     payerType,
		PaymentMethod: paymentMethod,
		Description:   in.Description,
		Cost:          in.Cost,
	})
	if err != nil {
		return nil, err
	}

	resp, err := s.carrier.Call(ctx, novaposhta.ModelInternetDocument, novaposhta.MethodSave, props)
	if err != nil {
		return nil, err
	}
	var docs []novaposhta.DocumentRow
	if err := resp.Decode(&docs); err != nil {
		return nil, err
	}
	if len(docs) == 0 || docs[0].Ref == "" || docs[0].IntDocNumber == "" {
		return nil, faults.New(faults.KindCarrier, "InternetDocument.save returned no document ref/number")
	}
	doc := docs[0]

	cost, _ := strconv.ParseFloat(doc.CostOnSite, 64)
	estimatedAt := parseCarrierTime(doc.EstimatedDeliveryDate)

	snapshot, err := json.Marshal(map[string]any{
		"request":  props,
		"response": json.RawMessage(resp.Data),
	})
	if err != nil {
		return nil, errors.Wrap(err, "marshal waybill snapshot")
	}

	wb, err := s.store.CreateWaybill(ctx, &models.Waybill{
		OrderID:             order.ID,
		Carrier:             carrierName,
		Document:            doc.IntDocNumber,
		Ref:                 doc.Ref,
		Cost:                cost,
		EstimatedDeliveryAt: estimatedAt,
		Snapshot:            snapshot,
	})
	if err != nil {
		return nil, err
	}

	result := &CreateWaybillResult{
		WaybillID:           wb.ID,
		DocumentNumber:      wb.Document,
		DocumentRef:         wb.Ref,
		Cost:                wb.Cost,
		EstimatedDeliveryAt: wb.EstimatedDeliveryAt,
	}

	// Persist the profile before projecting so the projection can carry the
	// profile id. An explicit opt-out skips this.
	if in.SaveAsProfile == nil || *in.SaveAsProfile {
		rec.IsDefault = rec.IsDefault || in.MakeDefault
		saved, err := s.store.SaveProfile(ctx, rec)
		if err != nil {
			// The carrier document exists; a failed profile save must not
			// undo the waybill. Log and continue.
			s.log.Error("save shipping profile", "order_id", order.ID, "error", err.Error())
		} else {
			*rec = *saved
			result.ProfileID = saved.ID
		}
	}

	projection := deliveryProjection{
		RecipientKind: rec.RecipientKind,
		DeliveryKind:  rec.DeliveryKind,
		Phone:         rec.Phone,
		CityRef:       rec.CityRef,
		WarehouseRef:  rec.WarehouseRef,
		StreetRef:     rec.StreetRef,
		Building:      rec.Building,
		Apartment:     rec.Apartment,
		ProfileID:     result.ProfileID,
		Waybill: &waybillSummary{
			Number:              wb.Document,
			Ref:                 wb.Ref,
			Cost:                wb.Cost,
			EstimatedDeliveryAt: wb.EstimatedDeliveryAt,
			CreatedAt:           wb.CreatedAt,
		},
	}
	if err := s.writeProjection(ctx, order.ID, projection); err != nil {
		return nil, err
	}

	// Waybill creation itself only ever advances the freshly created order;
	// anything further along is the reconciler's business.
	if order.Status == models.OrderStatusNew {
		if err := s.moveOrder(ctx, order, models.OrderStatusInWork, "waybill_create", wb.Document); err != nil {
			return nil, err
		}
	}

	return result, nil
}

type StatusResult struct {
	DocumentNumber      string     `json:"documentNumber"`
	StatusCode          string     `json:"statusCode"`
	StatusText          string     `json:"statusText"`
	EstimatedDeliveryAt *time.Time `json:"estimatedDeliveryAt,omitempty"`
	FromCache           bool       `json:"fromCache"`
}

// GetWaybillStatus reads the latest waybill's status. With syncLive=false the
// stored snapshot answers; otherwise the carrier is queried, the waybill row
// and the order are updated, and the fresh result is cached.
func (s *Service) GetWaybillStatus(ctx context.Context, orderID uint64, syncLive bool) (*StatusResult, error) {
	wb, ok, err := s.store.LatestWaybill(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, faults.Newf(faults.KindNotFound, "order %d has no waybill", orderID)
	}

	if !syncLive {
		if s.cache != nil && s.statusTTL > 0 {
			if b, hit, err := s.cache.Get(ctx, rediscache.WaybillStatusKey(orderID)); err == nil && hit {
				var res StatusResult
				if json.Unmarshal(b, &res) == nil {
					res.FromCache = true
					return &res, nil
				}
			}
		}
		return &StatusResult{
			DocumentNumber:      wb.Document,
			StatusCode:          wb.StatusCode,
			StatusText:          wb.StatusText,
			EstimatedDeliveryAt: wb.EstimatedDeliveryAt,
			FromCache:           true,
		}, nil
	}

	rows, err := s.fetchTracking(ctx, []novaposhta.TrackingRequestDocument{{DocumentNumber: wb.Document}})
	if err != nil {
		return nil, err
	}
	row, ok := rows[wb.Document]
	if !ok {
		return nil, faults.Newf(faults.KindCarrier, "carrier returned no status for document %s", wb.Document)
	}

	if err := s.applyTrackingRow(ctx, orderID, wb, row); err != nil {
		return nil, err
	}

	if proposed, mapped := mapCarrierStatus(row.StatusCode); mapped {
		order, ok, err := s.store.GetOrder(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if ok {
			proposed = resolveDebt(proposed, order.DebtAmount)
			if next, changed := models.NextStatus(order.Status, proposed); changed {
				if err := s.moveOrder(ctx, order, next, "tracking", wb.Document); err != nil {
					return nil, err
				}
			}
		}
	}

	res := &StatusResult{
		DocumentNumber:      wb.Document,
		StatusCode:          row.StatusCode,
		StatusText:          row.Status,
		EstimatedDeliveryAt: parseCarrierTime(row.ScheduledDeliveryDate),
	}
	s.cacheStatus(ctx, orderID, res)
	return res, nil
}

type SyncResult struct {
	Checked       int `json:"checked"`
	UpdatedOrders int `json:"updatedOrders"`
	Skipped       int `json:"skipped"`
}

// SyncActiveWaybills reconciles up to limit non-terminal carrier orders in
// sequential batches of 100 document numbers. Orders whose document has no
// status row are counted as skipped; a failed carrier call for a whole batch
// aborts the remaining batches.
func (s *Service) SyncActiveWaybills(ctx context.Context, limit int) (SyncResult, error) {
	if limit <= 0 {
		limit = defaultSyncLimit
	}
	if limit > maxSyncLimit {
		limit = maxSyncLimit
	}

	orders, err := s.store.ListActiveCarrierOrders(ctx, limit)
	if err != nil {
		return SyncResult{}, err
	}

	res := SyncResult{Checked: len(orders)}
	for start := 0; start < len(orders); start += trackingBatchSize {
		end := start + trackingBatchSize
		if end > len(orders) {
			end = len(orders)
		}
		batch := orders[start:end]

		s.throttle(ctx)

		docs := make([]novaposhta.TrackingRequestDocument, 0, len(batch))
		for _, ow := range batch {
			docs = append(docs, novaposhta.TrackingRequestDocument{DocumentNumber: ow.WaybillNumber})
		}

		rows, err := s.fetchTracking(ctx, docs)
		if err != nil {
			return res, err
		}

		for _, ow := range batch {
			row, ok := rows[ow.WaybillNumber]
			if !ok {
				res.Skipped++
				continue
			}
			updated, err := s.reconcileOrder(ctx, ow, row)
			if err != nil {
				s.log.Error("reconcile order", "order_id", ow.Order.ID, "error", err.Error())
				res.Skipped++
				continue
			}
			if updated {
				res.UpdatedOrders++
			}
		}
	}
	return res, nil
}

// ListShippingProfiles returns a contact's saved recipient profiles, the
// default one first.
func (s *Service) ListShippingProfiles(ctx context.Context, contactID uint64) ([]*models.ShippingProfile, error) {
	if contactID == 0 {
		return nil, faults.New(faults.KindValidation, "contact id is required")
	}
	return s.store.ListProfiles(ctx, contactID)
}

// SettlePickupOrder resolves a self-collection order: delivery is complete
// the moment the customer walks out, only payment can hold it back.
func (s *Service) SettlePickupOrder(ctx context.Context, orderID uint64) (models.OrderStatus, error) {
	order, ok, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", faults.Newf(faults.KindNotFound, "order %d not found", orderID)
	}
	if order.DeliveryMethod != models.DeliveryMethodPickup {
		return "", faults.Newf(faults.KindValidation, "order %d is not a pickup order", orderID)
	}

	proposed := pickupStatus(order.DebtAmount)
	if next, changed := models.NextStatus(order.Status, proposed); changed {
		if err := s.moveOrder(ctx, order, next, "pickup", ""); err != nil {
			return "", err
		}
		return next, nil
	}
	return order.Status, nil
}

func (s *Service) reconcileOrder(ctx context.Context, ow pgship.OrderWithWaybill, row novaposhta.TrackingRow) (bool, error) {
	wb, ok, err := s.store.LatestWaybill(ctx, ow.Order.ID)
	if err != nil {
		return false, err
	}
	if ok && wb.Document == row.Number {
		if err := s.applyTrackingRow(ctx, ow.Order.ID, wb, row); err != nil {
			return false, err
		}
	}

	proposed, mapped := mapCarrierStatus(row.StatusCode)
	if !mapped {
		return false, nil
	}
	proposed = resolveDebt(proposed, ow.Order.DebtAmount)

	next, changed := models.NextStatus(ow.Order.Status, proposed)
	if !changed {
		return false, nil
	}
	if err := s.moveOrder(ctx, &ow.Order, next, "tracking", row.Number); err != nil {
		return false, err
	}
	return true, nil
}

// applyTrackingRow updates the waybill row's status fields, merges the raw
// blob into its snapshot, and refreshes the order projection's lastStatus.
func (s *Service) applyTrackingRow(ctx context.Context, orderID uint64, wb *models.Waybill, row novaposhta.TrackingRow) error {
	blob, err := json.Marshal(row)
	if err != nil {
		return errors.Wrap(err, "marshal tracking row")
	}
	estimatedAt := parseCarrierTime(row.ScheduledDeliveryDate)

	if err := s.store.UpdateWaybillStatus(ctx, wb.ID, row.StatusCode, row.Status, estimatedAt, blob); err != nil {
		return err
	}

	projection := deliveryProjection{
		Waybill: &waybillSummary{
			Number:              wb.Document,
			Ref:                 wb.Ref,
			Cost:                wb.Cost,
			StatusCode:          row.StatusCode,
			StatusText:          row.Status,
			EstimatedDeliveryAt: estimatedAt,
			CreatedAt:           wb.CreatedAt,
		},
		LastStatus: blob,
	}
	return s.writeStatusProjection(ctx, orderID, projection)
}

// fetchTracking queries tracking status and indexes the rows by document
// number.
func (s *Service) fetchTracking(ctx context.Context, docs []novaposhta.TrackingRequestDocument) (map[string]novaposhta.TrackingRow, error) {
	resp, err := s.carrier.Call(ctx, novaposhta.ModelTracking, novaposhta.MethodGetStatusDocuments, map[string]any{
		"Documents": docs,
	})
	if err != nil {
		return nil, err
	}
	var rows []novaposhta.TrackingRow
	if err := resp.Decode(&rows); err != nil {
		return nil, err
	}

	out := make(map[string]novaposhta.TrackingRow, len(rows))
	for _, r := range rows {
		if r.Number != "" {
			out[r.Number] = r
		}
	}
	return out, nil
}

// writeProjection replaces the whole novaPoshta namespace.
func (s *Service) writeProjection(ctx context.Context, orderID uint64, p deliveryProjection) error {
	b, err := json.Marshal(p)
	if err != nil {
		return errors.Wrap(err, "marshal delivery projection")
	}
	return s.store.MergeOrderDeliveryData(ctx, orderID, b)
}

// writeStatusProjection merges only the status-bearing fields, keeping the
// recipient selection written at creation time.
func (s *Service) writeStatusProjection(ctx context.Context, orderID uint64, p deliveryProjection) error {
	order, ok, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if ok && len(order.DeliveryData) > 0 {
		var data map[string]json.RawMessage
		if json.Unmarshal(order.DeliveryData, &data) == nil {
			if ns, exists := data["novaPoshta"]; exists {
				var existing deliveryProjection
				if json.Unmarshal(ns, &existing) == nil {
					existing.Waybill = p.Waybill
					existing.LastStatus = p.LastStatus
					p = existing
				}
			}
		}
	}
	return s.writeProjection(ctx, orderID, p)
}

func (s *Service) moveOrder(ctx context.Context, order *models.Order, next models.OrderStatus, source, documentNumber string) error {
	if err := s.store.UpdateOrderStatus(ctx, order.ID, next); err != nil {
		return err
	}
	s.publishStatusChange(ctx, order.ID, order.Status, next, source, documentNumber)
	order.Status = next
	return nil
}

// publishStatusChange is best-effort: a broker outage must not fail the
// operation that already changed the order.
func (s *Service) publishStatusChange(ctx context.Context, orderID uint64, previous, current models.OrderStatus, source, documentNumber string) {
	if s.producer == nil || s.topic == "" {
		return
	}
	msg := messages.OrderStatusUpdated{
		OrderID:        orderID,
		Previous:       string(previous),
		Current:        string(current),
		Source:         source,
		DocumentNumber: documentNumber,
		OccurredAt:     time.Now().UTC(),
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	key := []byte(strconv.FormatUint(orderID, 10))
	if err := s.producer.Publish(ctx, s.topic, key, b); err != nil {
		s.log.Warn("publish order status update", "order_id", orderID, "error", err.Error())
	}
}

func (s *Service) throttle(ctx context.Context) {
	if s.rl == nil || s.rateLimitPerMinute <= 0 {
		return
	}
	minuteKey := fmt.Sprintf("rl:carrier:%s:%s", carrierName, time.Now().UTC().Format("200601021504"))
	allowed, n, err := s.rl.Allow(ctx, minuteKey, s.rateLimitPerMinute, 70*time.Second)
	if err != nil {
		return
	}
	if !allowed {
		// Over budget for this minute: back off a little before the batch.
		s.log.Warn("carrier rate limit exceeded", "count", n)
		time.Sleep(500 * time.Millisecond)
	}
}

func (s *Service) cacheStatus(ctx context.Context, orderID uint64, res *StatusResult) {
	if s.cache == nil || s.statusTTL <= 0 {
		return
	}
	b, err := json.Marshal(res)
	if err != nil {
		return
	}
	_ = s.cache.Set(ctx, rediscache.WaybillStatusKey(orderID), b, s.statusTTL)
}
