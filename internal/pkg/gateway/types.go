package gateway

import (
	"encoding/json"
	"errors"

	"github.com/remnashop/remnashop/app/models"
)

// Canonical payment statuses, shared by all nine providers.
const (
	StatusConfirmed = models.PaymentStatusConfirmed
	StatusPending   = models.PaymentStatusPending
	StatusFailed    = models.PaymentStatusFailed
	StatusRefunded  = models.PaymentStatusRefunded
)

// Rejection reasons. A rejection causes no state change; whether the webhook
// responder still acks is the provider's AckOnReject policy.
var (
	ErrUnknownProvider  = errors.New("gateway: unknown provider")
	ErrBadSignature     = errors.New("gateway: signature verification failed")
	ErrMalformedPayload = errors.New("gateway: malformed payload")
)

// PurchaseIntent is the optional purchase the payment pays for, carried in
// provider metadata. A payment without one is a plain balance top-up.
type PurchaseIntent struct {
	Plan       string   `json:"plan"`
	PeriodDays int      `json:"period_days"`
	Squads     []string `json:"squads,omitempty"`
	TrafficGB  int      `json:"traffic_gb,omitempty"`
	Devices    int      `json:"devices,omitempty"`
	PromoCode  string   `json:"promo_code,omitempty"`
}

// PaymentEvent is the provider-agnostic shape every webhook is normalized
// into before it may touch any state.
type PaymentEvent struct {
	Provider   string `validate:"required"`
	ExternalID string `validate:"required"`
	UserID     uint   `validate:"required"`
	Amount     int64  `validate:"gte=0"` // minor units
	Status     string `validate:"required,oneof=confirmed pending failed refunded"`
	Purchase   *PurchaseIntent
}

// Event is the outcome of a successfully verified, parsed and recorded
// delivery. Duplicate deliveries short-circuit: the stored record is returned
// and Duplicate is true, never re-entering the pipeline.
type Event struct {
	PaymentEvent
	Record    *models.PaymentEvent
	Duplicate bool
}

func encodePurchase(p *PurchaseIntent) string {
	if p == nil {
		return ""
	}
	b, err := json.Marshal(p)
	if err != nil {
		return ""
	}
	return string(b)
}

// DecodePurchase restores a purchase intent from a stored record.
func DecodePurchase(raw string) *PurchaseIntent {
	if raw == "" {
		return nil
	}
	var p PurchaseIntent
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil
	}
	return &p
}
