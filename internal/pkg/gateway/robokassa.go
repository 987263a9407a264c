package gateway

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/remnashop/remnashop/internal/pkg/env"
)

// Robokassa posts form-encoded result notifications signed with an MD5 digest
// over OutSum, InvId and the merchant's second password.
type Robokassa struct {
	Password2 string
}

func NewRobokassaFromEnv() *Robokassa {
	return &Robokassa{
		Password2: strings.TrimSpace(env.GetEnv("ROBOKASSA_PASSWORD2", "")),
	}
}

func (r *Robokassa) Name() string      { return ProviderRobokassa }
func (r *Robokassa) AckOnReject() bool { return false }

func (r *Robokassa) VerifySignature(body []byte, headers map[string]string) bool {
	_ = headers
	if r.Password2 == "" {
		return false
	}
	form, err := url.ParseQuery(string(body))
	if err != nil {
		return false
	}
	outSum := form.Get("OutSum")
	invID := form.Get("InvId")
	sig := form.Get("SignatureValue")
	if outSum == "" || invID == "" || sig == "" {
		return false
	}

	parts := []string{outSum, invID, r.Password2}
	if v := form.Get("Shp_user_id"); v != "" {
		parts = append(parts, "Shp_user_id="+v)
	}
	return constantTimeEqualFold(md5Hex(parts...), sig)
}

func (r *Robokassa) Parse(body []byte, headers map[string]string) (*PaymentEvent, error) {
	_ = headers
	form, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, err
	}

	invID := form.Get("InvId")
	if invID == "" {
		return nil, fmt.Errorf("missing InvId")
	}
	userID, err := strconv.ParseUint(form.Get("Shp_user_id"), 10, 32)
	if err != nil {
		return nil, fmt.Errorf("missing or invalid Shp_user_id")
	}
	amount, err := parseDecimalMinor(form.Get("OutSum"))
	if err != nil {
		return nil, err
	}

	// Robokassa only posts the result URL on successful payment.
	return &PaymentEvent{
		ExternalID: invID,
		UserID:     uint(userID),
		Amount:     amount,
		Status:     StatusConfirmed,
		Purchase:   DecodePurchase(form.Get("Shp_purchase")),
	}, nil
}
