package purchase

import (
	"fmt"
	"strings"
)

// ServiceType names a purchasable service.
type ServiceType string

const (
	Airtime     ServiceType = "airtime"
	Data        ServiceType = "data"
	Electricity ServiceType = "electricity"
	Cable       ServiceType = "cable"
	BulkSMS     ServiceType = "bulk_sms"
	Transfer    ServiceType = "transfer"
	SocialBoost ServiceType = "social_boost"
	RechargePin ServiceType = "recharge_pin"
)

type endpoint struct {
	path string
	// recipient returns the field that identifies who receives the service.
	recipient func(o Order) string
	// field is the recipient's request field, for error messages.
	field string
	// planPriced services may omit the amount when a plan is chosen.
	planPriced bool
}

var catalogue = map[ServiceType]endpoint{
	Airtime:     {path: "/vtu/airtime", recipient: func(o Order) string { return o.PhoneNumber }, field: "phone_number"},
	Data:        {path: "/vtu/data", recipient: func(o Order) string { return o.PhoneNumber }, field: "phone_number", planPriced: true},
	Electricity: {path: "/vtu/electricity", recipient: func(o Order) string { return o.MeterNumber }, field: "meter_number"},
	Cable:       {path: "/vtu/cable", recipient: func(o Order) string { return o.SmartCardNumber }, field: "smart_card_number", planPriced: true},
	BulkSMS:     {path: "/vtu/bulk-sms", recipient: func(o Order) string { return o.PhoneNumber }, field: "phone_number"},
	Transfer:    {path: "/wallet/transfer", recipient: func(o Order) string { return o.AccountNumber }, field: "account_number"},
	SocialBoost: {path: "/vtu/social-boost", recipient: func(o Order) string { return o.Link }, field: "link", planPriced: true},
	RechargePin: {path: "/vtu/recharge-pin", recipient: func(o Order) string { return o.Network }, field: "network"},
}

// ParseServiceType accepts service names case-insensitively, with either
// hyphens or underscores.
func ParseServiceType(s string) (ServiceType, error) {
	t := ServiceType(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	if _, ok := catalogue[t]; !ok {
		return "", fmt.Errorf("%w: unknown service %q", ErrInvalidOrder, s)
	}
	return t, nil
}

// ServiceTypes lists every known service.
func ServiceTypes() []ServiceType {
	return []ServiceType{Airtime, Data, Electricity, Cable, BulkSMS, Transfer, SocialBoost, RechargePin}
}
