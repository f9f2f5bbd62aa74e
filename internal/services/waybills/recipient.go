package waybills

import (
	"context"

	"github.com/crmkit/shipdesk/internal/faults"
	"github.com/crmkit/shipdesk/internal/integrations/novaposhta"
	"github.com/crmkit/shipdesk/internal/models"
	"github.com/pkg/errors"
)

// RecipientDraft is an ad-hoc recipient supplied instead of (or on top of) a
// saved profile. Non-empty fields override the profile's values.
type RecipientDraft struct {
	RecipientKind models.RecipientKind `json:"recipientKind"`
	DeliveryKind  models.DeliveryKind  `json:"deliveryKind"`

	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	MiddleName string `json:"middleName"`
	Phone      string `json:"phone"`

	CompanyName string `json:"companyName"`
	CompanyCode string `json:"companyCode"`

	CityRef      string `json:"cityRef"`
	WarehouseRef string `json:"warehouseRef"`
	StreetRef    string `json:"streetRef"`
	Building     string `json:"building"`
	Apartment    string `json:"apartment"`
}

// resolveRecipient produces the working recipient state from a saved profile,
// a draft, or a profile with inline overrides.
func (s *Service) resolveRecipient(ctx context.Context, order *models.Order, profileID uint64, draft *RecipientDraft) (*models.ShippingProfile, error) {
	if profileID == 0 && draft == nil {
		return nil, faults.New(faults.KindValidation, "either profileId or draft is required")
	}

	rec := &models.ShippingProfile{ContactID: order.ContactID}
	if profileID != 0 {
		p, ok, err := s.store.GetProfile(ctx, profileID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, faults.Newf(faults.KindNotFound, "shipping profile %d not found", profileID)
		}
		if p.ContactID != order.ContactID {
			return nil, faults.Newf(faults.KindValidation, "shipping profile %d does not belong to the order's contact", profileID)
		}
		*rec = *p
	}
	if draft != nil {
		applyDraft(rec, draft)
	}

	if err := validateRecipient(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func applyDraft(rec *models.ShippingProfile, d *RecipientDraft) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	if d.RecipientKind != "" {
		rec.RecipientKind = d.RecipientKind
	}
	if d.DeliveryKind != "" {
		rec.DeliveryKind = d.DeliveryKind
	}
	set(&rec.FirstName, d.FirstName)
	set(&rec.LastName, d.LastName)
	set(&rec.MiddleName, d.MiddleName)
	set(&rec.Phone, d.Phone)
	set(&rec.CompanyName, d.CompanyName)
	set(&rec.CompanyCode, d.CompanyCode)
	if d.CityRef != "" && d.CityRef != rec.CityRef {
		// A different city invalidates the dependent refs.
		rec.CityRef = d.CityRef
		rec.WarehouseRef = ""
		rec.StreetRef = ""
		rec.AddressRef = ""
	}
	set(&rec.WarehouseRef, d.WarehouseRef)
	set(&rec.StreetRef, d.StreetRef)
	set(&rec.Building, d.Building)
	set(&rec.Apartment, d.Apartment)
}

func validateRecipient(rec *models.ShippingProfile) error {
	if rec.Phone == "" {
		return faults.New(faults.KindValidation, "recipient phone is required")
	}
	if rec.CityRef == "" {
		return faults.New(faults.KindValidation, "recipient city ref is required")
	}

	switch rec.RecipientKind {
	case models.RecipientPerson:
		if rec.FirstName == "" || rec.LastName == "" {
			return faults.New(faults.KindValidation, "recipient first and last name are required")
		}
	case models.RecipientCompany:
		if rec.CompanyName == "" {
			return faults.New(faults.KindValidation, "recipient company name is required")
		}
	default:
		return faults.Newf(faults.KindValidation, "unknown recipient kind %q", rec.RecipientKind)
	}

	switch rec.DeliveryKind {
	case models.DeliveryWarehouse, models.DeliveryPostomat:
		if rec.WarehouseRef == "" {
			return faults.New(faults.KindValidation, "warehouse ref is required for warehouse delivery")
		}
	case models.DeliveryAddress:
		if rec.StreetRef == "" {
			return faults.New(faults.KindValidation, "street ref is required for address delivery")
		}
		if rec.Building == "" {
			return faults.New(faults.KindValidation, "building number is required for address delivery")
		}
	default:
		return faults.Newf(faults.KindValidation, "unknown delivery kind %q", rec.DeliveryKind)
	}
	return nil
}

// provision ensures the carrier-side entities exist, creating the missing
// ones and caching their refs on the recipient. Already-provisioned refs are
// reused as-is, so repeated waybills cost no extra carrier calls.
func (s *Service) provision(ctx context.Context, rec *models.ShippingProfile) error {
	if rec.CounterpartyRef == "" {
		ref, err := s.saveCounterparty(ctx, rec)
		if err != nil {
			return err
		}
		rec.CounterpartyRef = ref
	}

	if rec.ContactPersonRef == "" {
		ref, err := s.saveContactPerson(ctx, rec)
		if err != nil {
			return err
		}
		rec.ContactPersonRef = ref
	}

	if rec.DeliveryKind == models.DeliveryAddress && rec.AddressRef == "" {
		ref, err := s.saveAddress(ctx, rec)
		if err != nil {
			return err
		}
		rec.AddressRef = ref
	}
	return nil
}

func (s *Service) saveCounterparty(ctx context.Context, rec *models.ShippingProfile) (string, error) {
	props := map[string]string{
		"CounterpartyProperty": "Recipient",
		"CityRef":              rec.CityRef,
	}
	if rec.RecipientKind == models.RecipientCompany {
		props["CounterpartyType"] = "Organization"
		props["EDRPOU"] = rec.CompanyCode
		props["FirstName"] = rec.CompanyName
	} else {
		props["CounterpartyType"] = "PrivatePerson"
		props["FirstName"] = rec.FirstName
		props["LastName"] = rec.LastName
		props["MiddleName"] = rec.MiddleName
		props["Phone"] = rec.Phone
	}

	return s.saveEntity(ctx, novaposhta.ModelCounterparty, props)
}

func (s *Service) saveContactPerson(ctx context.Context, rec *models.ShippingProfile) (string, error) {
	first, last, middle := rec.FirstName, rec.LastName, rec.MiddleName
	if rec.RecipientKind == models.RecipientCompany && first == "" {
		first = rec.CompanyName
	}
	return s.saveEntity(ctx, novaposhta.ModelContactPerson, map[string]string{
		"CounterpartyRef": rec.CounterpartyRef,
		"FirstName":       first,
		"LastName":        last,
		"MiddleName":      middle,
		"Phone":           rec.Phone,
	})
}

func (s *Service) saveAddress(ctx context.Context, rec *models.ShippingProfile) (string, error) {
	return s.saveEntity(ctx, novaposhta.ModelAddress, map[string]string{
		"CounterpartyRef": rec.CounterpartyRef,
		"StreetRef":       rec.StreetRef,
		"BuildingNumber":  rec.Building,
		"Flat":            rec.Apartment,
	})
}

func (s *Service) saveEntity(ctx context.Context, model string, props map[string]string) (string, error) {
	resp, err := s.carrier.Call(ctx, model, novaposhta.MethodSave, props)
	if err != nil {
		return "", err
	}
	var rows []novaposhta.SaveRow
	if err := resp.Decode(&rows); err != nil {
		return "", errors.Wrapf(err, "%s.save", model)
	}
	// A successful save without a ref breaks the carrier contract; nothing
	// downstream can work without it.
	if len(rows) == 0 || rows[0].Ref == "" {
		return "", faults.Newf(faults.KindCarrier, "%s.save returned no entity ref", model)
	}
	return rows[0].Ref, nil
}
