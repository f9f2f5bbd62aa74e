package novaposhta

// Models and methods this core calls. Kept in one place so the services never
// spell raw strings.
const (
	ModelAddress          = "Address"
	ModelCounterparty     = "Counterparty"
	ModelContactPerson    = "ContactPerson"
	ModelInternetDocument = "InternetDocument"
	ModelTracking         = "TrackingDocument"

	MethodGetCities          = "getCities"
	MethodGetWarehouses      = "getWarehouses"
	MethodGetStreet          = "getStreet"
	MethodSave               = "save"
	MethodGetStatusDocuments = "getStatusDocuments"
)

// Rows below are the subset of the carrier's fields this core reads. The API
// returns strings for almost everything, numbers included.

type CityRow struct {
	Ref             string `json:"Ref"`
	Description     string `json:"Description"`
	Area            string `json:"Area"`
	AreaDescription string `json:"AreaDescription"`
	Region          string `json:"RegionsDescription"`
}

type WarehouseRow struct {
	Ref                 string `json:"Ref"`
	CityRef             string `json:"CityRef"`
	Description         string `json:"Description"`
	ShortAddress        string `json:"ShortAddress"`
	Number              string `json:"Number"`
	TypeOfWarehouse     string `json:"TypeOfWarehouse"`
	CategoryOfWarehouse string `json:"CategoryOfWarehouse"`
}

type StreetRow struct {
	Ref         string `json:"Ref"`
	Description string `json:"Description"`
}

// SaveRow is the common shape of Counterparty.save / ContactPerson.save /
// Address.save results: the ref is the only field this core needs.
type SaveRow struct {
	Ref         string `json:"Ref"`
	Description string `json:"Description"`
}

type DocumentRow struct {
	Ref                   string `json:"Ref"`
	IntDocNumber          string `json:"IntDocNumber"`
	CostOnSite            string `json:"CostOnSite"`
	EstimatedDeliveryDate string `json:"EstimatedDeliveryDate"`
}

type TrackingRow struct {
	Number                string `json:"Number"`
	StatusCode            string `json:"StatusCode"`
	Status                string `json:"Status"`
	ScheduledDeliveryDate string `json:"ScheduledDeliveryDate"`
	ActualDeliveryDate    string `json:"ActualDeliveryDate"`
	WarehouseRecipient    string `json:"WarehouseRecipient"`
	CityRecipient         string `json:"CityRecipient"`
}

type TrackingRequestDocument struct {
	DocumentNumber string `json:"DocumentNumber"`
	Phone          string `json:"Phone,omitempty"`
}
