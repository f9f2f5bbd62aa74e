package models

import "time"

type RecipientKind string

const (
	RecipientPerson  RecipientKind = "PERSON"
	RecipientCompany RecipientKind = "COMPANY"
)

type DeliveryKind string

const (
	DeliveryWarehouse DeliveryKind = "WAREHOUSE"
	DeliveryPostomat  DeliveryKind = "POSTOMAT"
	DeliveryAddress   DeliveryKind = "ADDRESS"
)

// ShippingProfile is a contact's saved recipient configuration. The three
// carrier entity refs are cached here after the first provisioning so later
// waybills skip the Counterparty/ContactPerson/Address save calls.
type ShippingProfile struct {
	ID        uint64
	ContactID uint64

	RecipientKind RecipientKind
	DeliveryKind  DeliveryKind

	FirstName  string
	LastName   string
	MiddleName string
	Phone      string

	CompanyName string
	CompanyCode string // registration id (EDRPOU)

	CityRef      string
	WarehouseRef string
	StreetRef    string
	Building     string
	Apartment    string

	CounterpartyRef  string
	ContactPersonRef string
	AddressRef       string

	IsDefault bool

	CreatedAt time.Time
	UpdatedAt time.Time
}
