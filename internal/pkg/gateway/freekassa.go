package gateway

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/remnashop/remnashop/internal/pkg/env"
)

// Freekassa posts form-encoded notifications with an MD5 SIGN over merchant
// id, amount, the second secret and the order id.
type Freekassa struct {
	MerchantID string
	Secret2    string
}

func NewFreekassaFromEnv() *Freekassa {
	return &Freekassa{
		MerchantID: strings.TrimSpace(env.GetEnv("FREEKASSA_MERCHANT_ID", "")),
		Secret2:    strings.TrimSpace(env.GetEnv("FREEKASSA_SECRET2", "")),
	}
}

func (f *Freekassa) Name() string      { return ProviderFreekassa }
func (f *Freekassa) AckOnReject() bool { return false }

func (f *Freekassa) VerifySignature(body []byte, headers map[string]string) bool {
	_ = headers
	if f.MerchantID == "" || f.Secret2 == "" {
		return false
	}
	form, err := url.ParseQuery(string(body))
	if err != nil {
		return false
	}
	sig := form.Get("SIGN")
	if sig == "" {
		return false
	}
	expected := md5Hex(f.MerchantID, form.Get("AMOUNT"), f.Secret2, form.Get("MERCHANT_ORDER_ID"))
	return constantTimeEqualFold(expected, sig)
}

func (f *Freekassa) Parse(body []byte, headers map[string]string) (*PaymentEvent, error) {
	_ = headers
	form, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, err
	}

	extID := form.Get("intid")
	if extID == "" {
		return nil, fmt.Errorf("missing intid")
	}
	userID, err := strconv.ParseUint(form.Get("us_user_id"), 10, 32)
	if err != nil {
		return nil, fmt.Errorf("missing or invalid us_user_id")
	}
	amount, err := parseDecimalMinor(form.Get("AMOUNT"))
	if err != nil {
		return nil, err
	}

	return &PaymentEvent{
		ExternalID: extID,
		UserID:     uint(userID),
		Amount:     amount,
		Status:     StatusConfirmed,
		Purchase:   DecodePurchase(form.Get("us_purchase")),
	}, nil
}
