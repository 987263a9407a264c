package gateway

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/remnashop/remnashop/internal/pkg/env"
)

// Tribute signs webhook bodies with HMAC-SHA256 of the API key, delivered in
// the trbt-signature header.
type Tribute struct {
	APIKey string
}

func NewTributeFromEnv() *Tribute {
	return &Tribute{
		APIKey: strings.TrimSpace(env.GetEnv("TRIBUTE_API_KEY", "")),
	}
}

func (t *Tribute) Name() string      { return ProviderTribute }
func (t *Tribute) AckOnReject() bool { return false }

func (t *Tribute) VerifySignature(body []byte, headers map[string]string) bool {
	if t.APIKey == "" {
		return false
	}
	sig := headerValue(headers, "trbt-signature")
	if sig == "" {
		return false
	}
	return verifyHMACSHA256(body, sig, []byte(t.APIKey))
}

type tributeEvent struct {
	Name    string `json:"name"`
	Payload struct {
		PaymentID int64  `json:"payment_id"`
		UserID    uint   `json:"telegram_user_id"`
		Amount    int64  `json:"amount"` // already minor units
		Custom    string `json:"custom"`
	} `json:"payload"`
}

func (t *Tribute) Parse(body []byte, headers map[string]string) (*PaymentEvent, error) {
	_ = headers
	var ev tributeEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, err
	}
	if ev.Payload.PaymentID == 0 {
		return nil, fmt.Errorf("missing payment_id")
	}
	if ev.Payload.UserID == 0 {
		return nil, fmt.Errorf("missing telegram_user_id")
	}

	var status string
	switch ev.Name {
	case "new_subscription", "new_donation":
		status = StatusConfirmed
	case "cancelled_subscription":
		status = StatusRefunded
	default:
		return nil, fmt.Errorf("unsupported event %q", ev.Name)
	}

	return &PaymentEvent{
		ExternalID: fmt.Sprintf("%d", ev.Payload.PaymentID),
		UserID:     ev.Payload.UserID,
		Amount:     ev.Payload.Amount,
		Status:     status,
		Purchase:   DecodePurchase(ev.Payload.Custom),
	}, nil
}
