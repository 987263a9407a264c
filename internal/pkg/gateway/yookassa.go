package gateway

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/remnashop/remnashop/internal/pkg/env"
)

// YooKassa delivers JSON notifications; the webhook endpoint is protected
// with HTTP basic credentials configured on the merchant side.
type YooKassa struct {
	WebhookUser     string
	WebhookPassword string
}

func NewYooKassaFromEnv() *YooKassa {
	return &YooKassa{
		WebhookUser:     strings.TrimSpace(env.GetEnv("YOOKASSA_WEBHOOK_USER", "")),
		WebhookPassword: strings.TrimSpace(env.GetEnv("YOOKASSA_WEBHOOK_PASSWORD", "")),
	}
}

func (y *YooKassa) Name() string      { return ProviderYooKassa }
func (y *YooKassa) AckOnReject() bool { return false }

func (y *YooKassa) VerifySignature(body []byte, headers map[string]string) bool {
	if y.WebhookUser == "" || y.WebhookPassword == "" {
		return false
	}
	auth := headerValue(headers, "Authorization")
	if !strings.HasPrefix(auth, "Basic ") {
		return false
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
	if err != nil {
		return false
	}
	expected := y.WebhookUser + ":" + y.WebhookPassword
	return constantTimeEqualFold(string(decoded), expected)
}

type yooKassaNotification struct {
	Event  string `json:"event"`
	Object struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Amount struct {
			Value string `json:"value"`
		} `json:"amount"`
		Metadata map[string]string `json:"metadata"`
	} `json:"object"`
}

func (y *YooKassa) Parse(body []byte, headers map[string]string) (*PaymentEvent, error) {
	_ = headers
	var n yooKassaNotification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, err
	}
	if n.Object.ID == "" {
		return nil, fmt.Errorf("missing payment id")
	}

	userID, err := strconv.ParseUint(n.Object.Metadata["user_id"], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("missing or invalid metadata.user_id")
	}
	amount, err := parseDecimalMinor(n.Object.Amount.Value)
	if err != nil {
		return nil, err
	}

	status := StatusPending
	switch n.Event {
	case "payment.succeeded":
		status = StatusConfirmed
	case "payment.canceled":
		status = StatusFailed
	case "refund.succeeded":
		status = StatusRefunded
	case "payment.waiting_for_capture":
		status = StatusPending
	default:
		return nil, fmt.Errorf("unsupported event %q", n.Event)
	}

	return &PaymentEvent{
		ExternalID: n.Object.ID,
		UserID:     uint(userID),
		Amount:     amount,
		Status:     status,
		Purchase:   DecodePurchase(n.Object.Metadata["purchase"]),
	}, nil
}
