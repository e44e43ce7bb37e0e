package handler

import (
	"encoding/json"
	"strconv"
	"strings"
)

// param accepts a JSON string, number or boolean, or a form/query value,
// and keeps its text.  OLP clients send license_id both as 5 and "5".
type param string

func (p *param) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*p = param(s)
		return nil
	}
	raw := strings.TrimSpace(string(b))
	if raw == "null" {
		raw = ""
	}
	*p = param(raw)
	return nil
}

// UnmarshalParam implements echo.BindUnmarshaler.
func (p *param) UnmarshalParam(v string) error {
	*p = param(v)
	return nil
}

func (p param) String() string { return strings.TrimSpace(string(p)) }

func (p param) Bool() bool {
	switch strings.ToLower(p.String()) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// ID parses a positive integer id.  Missing or malformed values yield 0,
// which the service rejects after rate limiting.
func (p param) ID() int64 {
	n, err := strconv.ParseInt(p.String(), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// first returns the first non-empty value.
func first(ps ...param) string {
	for _, p := range ps {
		if s := p.String(); s != "" {
			return s
		}
	}
	return ""
}

type tokenParams struct {
	LicenseID        param `json:"license_id" form:"license_id" query:"license_id"`
	Resource         param `json:"resource" form:"resource" query:"resource"`
	Client           param `json:"client" form:"client" query:"client"`
	CreateCheckout   param `json:"create_checkout" form:"create_checkout" query:"create_checkout"`
	OrderID          param `json:"order_id" form:"order_id" query:"order_id"`
	WCOrderKey       param `json:"wc_order_key" form:"wc_order_key" query:"wc_order_key"`
	SubscriptionID   param `json:"subscription_id" form:"subscription_id" query:"subscription_id"`
	WCSubscriptionID param `json:"wc_subscription_id" form:"wc_subscription_id" query:"wc_subscription_id"`
	PaymentProof     param `json:"payment_proof" form:"payment_proof" query:"payment_proof"`
}

type introspectParams struct {
	Token param `json:"token" form:"token" query:"token"`
}

type sessionParams struct {
	LicenseID param             `json:"license_id" form:"license_id" query:"license_id"`
	Client    param             `json:"client" form:"client" query:"client"`
	Options   map[string]string `json:"options"`
}
