package waybills

import (
	"strconv"
	"time"

	"github.com/crmkit/shipdesk/internal/faults"
	"github.com/crmkit/shipdesk/internal/models"
	"github.com/crmkit/shipdesk/internal/services/sender"
)

const (
	// The carrier rejects zero-weight and zero-volume documents, so empty
	// parcel data falls back to these floors.
	weightFloor = 1.0
	volumeFloor = 0.0004

	serviceWarehouseWarehouse = "WarehouseWarehouse"
	serviceWarehouseDoors     = "WarehouseDoors"

	cargoTypeParcel = "Parcel"
)

type buildOptions struct {
	PayerType     string
	PaymentMethod string
	Description   string
	Cost          float64
	Now           time.Time
}

// buildDocument assembles the InternetDocument.save properties from the
// sender snapshot, the provisioned recipient and the parcel list.
func buildDocument(snd *sender.Profile, rec *models.ShippingProfile, parcels []models.Parcel, opts buildOptions) (map[string]string, error) {
	serviceType := serviceWarehouseWarehouse
	if rec.DeliveryKind == models.DeliveryAddress {
		serviceType = serviceWarehouseDoors
	}

	recipientAddress, err := recipientAddressRef(rec)
	if err != nil {
		return nil, err
	}

	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	return map[string]string{
		"PayerType":     opts.PayerType,
		"PaymentMethod": opts.PaymentMethod,
		"CargoType":     cargoTypeParcel,
		"DateTime":      now.Format("02.01.2006"),
		"ServiceType":   serviceType,
		"Description":   opts.Description,

		"SeatsAmount":   strconv.Itoa(seatsAmount(parcels)),
		"Weight":        formatAmount(totalWeight(parcels)),
		"VolumeGeneral": formatAmount(totalVolume(parcels)),
		"Cost":          formatAmount(declaredCost(parcels, opts.Cost)),

		"CitySender":    snd.CityRef,
		"Sender":        snd.CounterpartyRef,
		"SenderAddress": snd.WarehouseRef,
		"ContactSender": snd.ContactRef,
		"SendersPhone":  snd.Phone,

		"CityRecipient":    rec.CityRef,
		"Recipient":        rec.CounterpartyRef,
		"RecipientAddress": recipientAddress,
		"ContactRecipient": rec.ContactPersonRef,
		"RecipientsPhone":  rec.Phone,
	}, nil
}

// recipientAddressRef picks the provisioned address ref for door-to-door
// delivery and the chosen warehouse otherwise.
func recipientAddressRef(rec *models.ShippingProfile) (string, error) {
	if rec.DeliveryKind == models.DeliveryAddress {
		if rec.AddressRef == "" {
			return "", faults.New(faults.KindValidation, "address delivery has no provisioned address ref")
		}
		return rec.AddressRef, nil
	}
	if rec.WarehouseRef == "" {
		return "", faults.New(faults.KindValidation, "warehouse delivery has no warehouse ref")
	}
	return rec.WarehouseRef, nil
}

func seatsAmount(parcels []models.Parcel) int {
	if len(parcels) == 0 {
		return 1
	}
	return len(parcels)
}

func totalWeight(parcels []models.Parcel) float64 {
	var w float64
	for _, p := range parcels {
		if p.Weight > 0 {
			w += p.Weight
		}
	}
	if w <= 0 {
		return weightFloor
	}
	return w
}

// parcelVolume is width*length*height/1e6 (cm in, m3 out); a parcel with any
// dimension unset gets the small positive floor.
func parcelVolume(p models.Parcel) float64 {
	if p.Width <= 0 || p.Length <= 0 || p.Height <= 0 {
		return volumeFloor
	}
	return p.Width * p.Length * p.Height / 1_000_000
}

func totalVolume(parcels []models.Parcel) float64 {
	if len(parcels) == 0 {
		return volumeFloor
	}
	var v float64
	for _, p := range parcels {
		v += parcelVolume(p)
	}
	return v
}

func declaredCost(parcels []models.Parcel, override float64) float64 {
	if override > 0 {
		return override
	}
	var c float64
	for _, p := range parcels {
		c += p.Cost
	}
	return c
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
