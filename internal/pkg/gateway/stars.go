package gateway

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/remnashop/remnashop/internal/pkg/env"
)

// Stars handles Telegram Stars payments. The bot collaborator receives the
// successful_payment update over the Telegram transport (already
// authenticated) and forwards it here with a shared internal token.
type Stars struct {
	InternalToken string
	// StarRate is the minor-unit value of one star for ledger accounting.
	StarRate int64
}

func NewStarsFromEnv() *Stars {
	rate := int64(200) // 1 star ~ 2.00 by default
	if v := strings.TrimSpace(env.GetEnv("STARS_RATE_MINOR", "")); v != "" {
		if parsed, err := parseDecimalMinor(v); err == nil && parsed > 0 {
			rate = parsed / 100
		}
	}
	return &Stars{
		InternalToken: strings.TrimSpace(env.GetEnv("STARS_INTERNAL_TOKEN", "")),
		StarRate:      rate,
	}
}

func (s *Stars) Name() string      { return ProviderStars }
func (s *Stars) AckOnReject() bool { return true }

func (s *Stars) VerifySignature(body []byte, headers map[string]string) bool {
	_ = body
	if s.InternalToken == "" {
		return false
	}
	token := headerValue(headers, "x-internal-token")
	return token != "" && constantTimeEqualFold(token, s.InternalToken)
}

type starsPayment struct {
	ChargeID    string          `json:"telegram_payment_charge_id"`
	UserID      uint            `json:"user_id"`
	StarsAmount int64           `json:"stars_amount"`
	Refunded    bool            `json:"refunded"`
	Purchase    *PurchaseIntent `json:"purchase,omitempty"`
}

func (s *Stars) Parse(body []byte, headers map[string]string) (*PaymentEvent, error) {
	_ = headers
	var p starsPayment
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, err
	}
	if p.ChargeID == "" {
		return nil, fmt.Errorf("missing telegram_payment_charge_id")
	}
	if p.UserID == 0 {
		return nil, fmt.Errorf("missing user_id")
	}
	if p.StarsAmount <= 0 {
		return nil, fmt.Errorf("invalid stars_amount")
	}

	status := StatusConfirmed
	if p.Refunded {
		status = StatusRefunded
	}

	return &PaymentEvent{
		ExternalID: p.ChargeID,
		UserID:     p.UserID,
		Amount:     p.StarsAmount * s.StarRate,
		Status:     status,
		Purchase:   p.Purchase,
	}, nil
}
