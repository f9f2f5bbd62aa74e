package waybills

import (
	"strconv"
	"testing"
	"time"

	"github.com/crmkit/shipdesk/internal/faults"
	"github.com/crmkit/shipdesk/internal/models"
	"github.com/crmkit/shipdesk/internal/services/sender"
	"github.com/stretchr/testify/require"
)

func testSender() *sender.Profile {
	return &sender.Profile{
		CityRef:         "city-snd",
		WarehouseRef:    "wh-snd",
		CounterpartyRef: "cp-snd",
		ContactRef:      "ct-snd",
		Phone:           "+380501112233",
	}
}

func testRecipient() *models.ShippingProfile {
	return &models.ShippingProfile{
		RecipientKind:    models.RecipientPerson,
		DeliveryKind:     models.DeliveryWarehouse,
		Phone:            "+380679998877",
		CityRef:          "city-rcp",
		WarehouseRef:     "wh-rcp",
		CounterpartyRef:  "cp-rcp",
		ContactPersonRef: "ct-rcp",
	}
}

func TestBuildDocument_Warehouse(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	parcels := []models.Parcel{{Weight: 2.5, Width: 10, Length: 10, Height: 10, Cost: 300}}

	props, err := buildDocument(testSender(), testRecipient(), parcels, buildOptions{
		PayerType:     "Sender",
		PaymentMethod: "Cash",
		Description:   "order #42",
		Now:           now,
	})
	require.NoError(t, err)

	require.Equal(t, "WarehouseWarehouse", props["ServiceType"])
	require.Equal(t, "Parcel", props["CargoType"])
	require.Equal(t, "30.08.2026", props["DateTime"])
	require.Equal(t, "1", props["SeatsAmount"])
	require.Equal(t, "2.5", props["Weight"])
	require.Equal(t, "0.001", props["VolumeGeneral"])
	require.Equal(t, "300", props["Cost"])

	require.Equal(t, "city-snd", props["CitySender"])
	require.Equal(t, "cp-snd", props["Sender"])
	require.Equal(t, "wh-snd", props["SenderAddress"])
	require.Equal(t, "ct-snd", props["ContactSender"])

	require.Equal(t, "city-rcp", props["CityRecipient"])
	require.Equal(t, "cp-rcp", props["Recipient"])
	require.Equal(t, "wh-rcp", props["RecipientAddress"])
	require.Equal(t, "ct-rcp", props["ContactRecipient"])
	require.Equal(t, "+380679998877", props["RecipientsPhone"])
}

func TestBuildDocument_AddressDelivery(t *testing.T) {
	rec := testRecipient()
	rec.DeliveryKind = models.DeliveryAddress
	rec.AddressRef = "addr-rcp"

	props, err := buildDocument(testSender(), rec, nil, buildOptions{PayerType: "Sender", PaymentMethod: "Cash"})
	require.NoError(t, err)
	require.Equal(t, "WarehouseDoors", props["ServiceType"])
	require.Equal(t, "addr-rcp", props["RecipientAddress"])
}

func TestBuildDocument_AddressRequiresProvisionedRef(t *testing.T) {
	rec := testRecipient()
	rec.DeliveryKind = models.DeliveryAddress
	rec.AddressRef = ""

	_, err := buildDocument(testSender(), rec, nil, buildOptions{})
	require.Error(t, err)
	require.True(t, faults.IsKind(err, faults.KindValidation))
}

func TestBuildDocument_Floors(t *testing.T) {
	props, err := buildDocument(testSender(), testRecipient(), nil, buildOptions{PayerType: "Sender", PaymentMethod: "Cash"})
	require.NoError(t, err)

	require.Equal(t, "1", props["SeatsAmount"])
	require.Equal(t, "1", props["Weight"])
	require.Equal(t, "0.0004", props["VolumeGeneral"])
}

func TestBuildDocument_MissingDimensionUsesFloorPerParcel(t *testing.T) {
	parcels := []models.Parcel{
		{Weight: 1, Width: 20, Length: 20, Height: 10, Cost: 100}, // 0.004
		{Weight: 1, Width: 20, Length: 20, Cost: 100},             // no height
	}
	props, err := buildDocument(testSender(), testRecipient(), parcels, buildOptions{})
	require.NoError(t, err)

	require.Equal(t, "2", props["SeatsAmount"])
	require.Equal(t, "2", props["Weight"])
	volume, err := strconv.ParseFloat(props["VolumeGeneral"], 64)
	require.NoError(t, err)
	require.InDelta(t, 0.0044, volume, 1e-9)
	require.Equal(t, "200", props["Cost"])
}

func TestBuildDocument_CostOverride(t *testing.T) {
	parcels := []models.Parcel{{Weight: 1, Cost: 100}}
	props, err := buildDocument(testSender(), testRecipient(), parcels, buildOptions{Cost: 750})
	require.NoError(t, err)
	require.Equal(t, "750", props["Cost"])
}
