package gateway

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/remnashop/remnashop/internal/pkg/env"
)

// CryptoBot (Crypto Pay) signs bodies with HMAC-SHA256 keyed by the SHA256 of
// the API token, delivered in the crypto-pay-api-signature header.
type CryptoBot struct {
	Token string
}

func NewCryptoBotFromEnv() *CryptoBot {
	return &CryptoBot{
		Token: strings.TrimSpace(env.GetEnv("CRYPTOBOT_TOKEN", "")),
	}
}

func (c *CryptoBot) Name() string      { return ProviderCryptoBot }
func (c *CryptoBot) AckOnReject() bool { return true }

func (c *CryptoBot) VerifySignature(body []byte, headers map[string]string) bool {
	if c.Token == "" {
		return false
	}
	sig := headerValue(headers, "crypto-pay-api-signature")
	if sig == "" {
		return false
	}
	key := sha256.Sum256([]byte(c.Token))
	return verifyHMACSHA256(body, sig, key[:])
}

type cryptoBotUpdate struct {
	UpdateType string `json:"update_type"`
	Payload    struct {
		InvoiceID int64  `json:"invoice_id"`
		Status    string `json:"status"`
		Amount    string `json:"amount"`
		// Payload is the shop's own metadata attached at invoice creation.
		Payload string `json:"payload"`
	} `json:"payload"`
}

type cryptoBotMetadata struct {
	UserID   uint            `json:"user_id"`
	Purchase *PurchaseIntent `json:"purchase,omitempty"`
}

func (c *CryptoBot) Parse(body []byte, headers map[string]string) (*PaymentEvent, error) {
	_ = headers
	var u cryptoBotUpdate
	if err := json.Unmarshal(body, &u); err != nil {
		return nil, err
	}
	if u.UpdateType != "invoice_paid" {
		return nil, fmt.Errorf("unsupported update_type %q", u.UpdateType)
	}
	if u.Payload.InvoiceID == 0 {
		return nil, fmt.Errorf("missing invoice_id")
	}

	var meta cryptoBotMetadata
	if u.Payload.Payload != "" {
		if err := json.Unmarshal([]byte(u.Payload.Payload), &meta); err != nil {
			return nil, fmt.Errorf("invalid payload metadata: %w", err)
		}
	}
	if meta.UserID == 0 {
		return nil, fmt.Errorf("cannot resolve user from invoice payload")
	}

	amount, err := parseDecimalMinor(u.Payload.Amount)
	if err != nil {
		return nil, err
	}

	return &PaymentEvent{
		ExternalID: fmt.Sprintf("%d", u.Payload.InvoiceID),
		UserID:     meta.UserID,
		Amount:     amount,
		Status:     StatusConfirmed,
		Purchase:   meta.Purchase,
	}, nil
}
