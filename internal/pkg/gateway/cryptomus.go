package gateway

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/remnashop/remnashop/internal/pkg/env"
)

// Cryptomus signs webhook bodies with md5(base64(body) + api_key), delivered
// in the "sign" header.
type Cryptomus struct {
	APIKey string

	name string
}

func NewCryptomusFromEnv() *Cryptomus {
	return &Cryptomus{
		APIKey: strings.TrimSpace(env.GetEnv("CRYPTOMUS_API_KEY", "")),
		name:   ProviderCryptomus,
	}
}

// NewHeleketFromEnv configures the Heleket provider. Heleket uses the
// Cryptomus webhook scheme with its own credentials.
func NewHeleketFromEnv() *Cryptomus {
	return &Cryptomus{
		APIKey: strings.TrimSpace(env.GetEnv("HELEKET_API_KEY", "")),
		name:   ProviderHeleket,
	}
}

func (c *Cryptomus) Name() string      { return c.name }
func (c *Cryptomus) AckOnReject() bool { return true }

func (c *Cryptomus) VerifySignature(body []byte, headers map[string]string) bool {
	if c.APIKey == "" {
		return false
	}
	sig := headerValue(headers, "sign")
	if sig == "" {
		return false
	}
	encoded := base64.StdEncoding.EncodeToString(body)
	return constantTimeEqualFold(md5Hex(encoded+c.APIKey), sig)
}

type cryptomusNotification struct {
	UUID    string `json:"uuid"`
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
	Amount  string `json:"amount"`
	// AdditionalData carries the shop's own metadata back unchanged.
	AdditionalData string `json:"additional_data"`
}

type cryptomusMetadata struct {
	UserID   uint            `json:"user_id"`
	Purchase *PurchaseIntent `json:"purchase,omitempty"`
}

func (c *Cryptomus) Parse(body []byte, headers map[string]string) (*PaymentEvent, error) {
	_ = headers
	var n cryptomusNotification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, err
	}
	if n.UUID == "" {
		return nil, fmt.Errorf("missing uuid")
	}

	var meta cryptomusMetadata
	if n.AdditionalData != "" {
		if err := json.Unmarshal([]byte(n.AdditionalData), &meta); err != nil {
			return nil, fmt.Errorf("invalid additional_data: %w", err)
		}
	}
	if meta.UserID == 0 {
		// Fallback: order ids are issued as "u<user_id>-<nonce>".
		if id, ok := parseUserFromOrderID(n.OrderID); ok {
			meta.UserID = id
		} else {
			return nil, fmt.Errorf("cannot resolve user from notification")
		}
	}

	amount, err := parseDecimalMinor(n.Amount)
	if err != nil {
		return nil, err
	}

	var status string
	switch n.Status {
	case "paid", "paid_over":
		status = StatusConfirmed
	case "process", "check", "confirm_check":
		status = StatusPending
	case "fail", "cancel", "system_fail", "wrong_amount":
		status = StatusFailed
	case "refund_process", "refund_paid":
		status = StatusRefunded
	default:
		return nil, fmt.Errorf("unsupported status %q", n.Status)
	}

	return &PaymentEvent{
		ExternalID: n.UUID,
		UserID:     meta.UserID,
		Amount:     amount,
		Status:     status,
		Purchase:   meta.Purchase,
	}, nil
}

func parseUserFromOrderID(orderID string) (uint, bool) {
	if !strings.HasPrefix(orderID, "u") {
		return 0, false
	}
	rest := strings.TrimPrefix(orderID, "u")
	if i := strings.IndexByte(rest, '-'); i > 0 {
		rest = rest[:i]
	}
	id, err := strconv.ParseUint(rest, 10, 32)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}
