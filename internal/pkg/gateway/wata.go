package gateway

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/remnashop/remnashop/internal/pkg/env"
)

// Wata signs webhook bodies with HMAC-SHA256 of the shop secret, delivered in
// the x-signature header.
type Wata struct {
	Secret string
}

func NewWataFromEnv() *Wata {
	return &Wata{
		Secret: strings.TrimSpace(env.GetEnv("WATA_SECRET", "")),
	}
}

func (w *Wata) Name() string      { return ProviderWata }
func (w *Wata) AckOnReject() bool { return false }

func (w *Wata) VerifySignature(body []byte, headers map[string]string) bool {
	if w.Secret == "" {
		return false
	}
	sig := headerValue(headers, "x-signature")
	if sig == "" {
		return false
	}
	return verifyHMACSHA256(body, sig, []byte(w.Secret))
}

type wataNotification struct {
	TransactionID string `json:"transactionId"`
	OrderID       string `json:"orderId"`
	Amount        string `json:"amount"`
	Status        string `json:"transactionStatus"`
	Description   string `json:"orderDescription"`
}

func (w *Wata) Parse(body []byte, headers map[string]string) (*PaymentEvent, error) {
	_ = headers
	var n wataNotification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, err
	}
	if n.TransactionID == "" {
		return nil, fmt.Errorf("missing transactionId")
	}

	userID, ok := parseUserFromOrderID(n.OrderID)
	if !ok {
		// Older invoices carried the bare numeric user id.
		id, err := strconv.ParseUint(n.OrderID, 10, 32)
		if err != nil || id == 0 {
			return nil, fmt.Errorf("cannot resolve user from orderId %q", n.OrderID)
		}
		userID = uint(id)
	}

	amount, err := parseDecimalMinor(n.Amount)
	if err != nil {
		return nil, err
	}

	var status string
	switch strings.ToLower(n.Status) {
	case "paid":
		status = StatusConfirmed
	case "pending", "created":
		status = StatusPending
	case "declined", "expired":
		status = StatusFailed
	case "refunded":
		status = StatusRefunded
	default:
		return nil, fmt.Errorf("unsupported status %q", n.Status)
	}

	return &PaymentEvent{
		ExternalID: n.TransactionID,
		UserID:     userID,
		Amount:     amount,
		Status:     status,
		Purchase:   DecodePurchase(n.Description),
	}, nil
}
