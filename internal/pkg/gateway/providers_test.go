package gateway

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestYooKassaParseSucceeded(t *testing.T) {
	y := &YooKassa{WebhookUser: "shop", WebhookPassword: "pw"}

	body := []byte(`{
		"event": "payment.succeeded",
		"object": {
			"id": "2c8f5e1a",
			"status": "succeeded",
			"amount": {"value": "100.00"},
			"metadata": {"user_id": "42", "purchase": "{\"plan\":\"basic\",\"period_days\":30}"}
		}
	}`)

	pe, err := y.Parse(body, nil)
	require.NoError(t, err)
	assert.Equal(t, "2c8f5e1a", pe.ExternalID)
	assert.Equal(t, uint(42), pe.UserID)
	assert.Equal(t, int64(10000), pe.Amount)
	assert.Equal(t, StatusConfirmed, pe.Status)
	require.NotNil(t, pe.Purchase)
	assert.Equal(t, "basic", pe.Purchase.Plan)
	assert.Equal(t, 30, pe.Purchase.PeriodDays)
}

func TestYooKassaVerifyBasicAuth(t *testing.T) {
	y := &YooKassa{WebhookUser: "shop", WebhookPassword: "pw"}

	good := "Basic " + base64.StdEncoding.EncodeToString([]byte("shop:pw"))
	bad := "Basic " + base64.StdEncoding.EncodeToString([]byte("shop:wrong"))

	assert.True(t, y.VerifySignature(nil, map[string]string{"authorization": good}))
	assert.False(t, y.VerifySignature(nil, map[string]string{"authorization": bad}))
	assert.False(t, y.VerifySignature(nil, map[string]string{}))
}

func TestYooKassaRefund(t *testing.T) {
	y := &YooKassa{}
	body := []byte(`{"event":"refund.succeeded","object":{"id":"r1","amount":{"value":"50.00"},"metadata":{"user_id":"7"}}}`)
	pe, err := y.Parse(body, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusRefunded, pe.Status)
	assert.Equal(t, int64(5000), pe.Amount)
}

func TestRobokassaVerifyAndParse(t *testing.T) {
	r := &Robokassa{Password2: "pass2"}

	form := url.Values{}
	form.Set("OutSum", "100.00")
	form.Set("InvId", "777")
	form.Set("Shp_user_id", "42")
	form.Set("SignatureValue", md5Hex("100.00", "777", "pass2", "Shp_user_id=42"))
	body := []byte(form.Encode())

	assert.True(t, r.VerifySignature(body, nil))

	pe, err := r.Parse(body, nil)
	require.NoError(t, err)
	assert.Equal(t, "777", pe.ExternalID)
	assert.Equal(t, uint(42), pe.UserID)
	assert.Equal(t, int64(10000), pe.Amount)
	assert.Equal(t, StatusConfirmed, pe.Status)

	form.Set("OutSum", "999.00") // tampered amount
	assert.False(t, r.VerifySignature([]byte(form.Encode()), nil))
}

func TestFreekassaVerifyAndParse(t *testing.T) {
	f := &Freekassa{MerchantID: "m1", Secret2: "s2"}

	form := url.Values{}
	form.Set("MERCHANT_ID", "m1")
	form.Set("AMOUNT", "50.00")
	form.Set("intid", "987654")
	form.Set("MERCHANT_ORDER_ID", "order-9")
	form.Set("us_user_id", "13")
	form.Set("SIGN", md5Hex("m1", "50.00", "s2", "order-9"))
	body := []byte(form.Encode())

	assert.True(t, f.VerifySignature(body, nil))

	pe, err := f.Parse(body, nil)
	require.NoError(t, err)
	assert.Equal(t, "987654", pe.ExternalID)
	assert.Equal(t, uint(13), pe.UserID)
	assert.Equal(t, int64(5000), pe.Amount)
}

func TestCryptomusVerifyAndParse(t *testing.T) {
	c := NewCryptomusFromEnv()
	c.APIKey = "api-key"

	body := []byte(`{"uuid":"cb-1","order_id":"u42-xyz","status":"paid","amount":"10.00","additional_data":""}`)
	sig := md5Hex(base64.StdEncoding.EncodeToString(body) + "api-key")

	assert.True(t, c.VerifySignature(body, map[string]string{"sign": sig}))
	assert.False(t, c.VerifySignature(body, map[string]string{"sign": "ffff"}))

	pe, err := c.Parse(body, nil)
	require.NoError(t, err)
	assert.Equal(t, "cb-1", pe.ExternalID)
	assert.Equal(t, uint(42), pe.UserID) // from order id fallback
	assert.Equal(t, int64(1000), pe.Amount)
	assert.Equal(t, StatusConfirmed, pe.Status)
}

func TestCryptomusStatuses(t *testing.T) {
	c := NewCryptomusFromEnv()
	tests := []struct {
		raw  string
		want string
	}{
		{raw: "paid", want: StatusConfirmed},
		{raw: "paid_over", want: StatusConfirmed},
		{raw: "process", want: StatusPending},
		{raw: "fail", want: StatusFailed},
		{raw: "refund_paid", want: StatusRefunded},
	}
	for _, tt := range tests {
		body := []byte(fmt.Sprintf(`{"uuid":"x","order_id":"u5-a","status":%q,"amount":"1.00"}`, tt.raw))
		pe, err := c.Parse(body, nil)
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, pe.Status, tt.raw)
	}
}

func TestCryptoBotVerifyAndParse(t *testing.T) {
	cb := &CryptoBot{Token: "bot-token"}

	body := []byte(`{"update_type":"invoice_paid","payload":{"invoice_id":555,"status":"paid","amount":"25.00","payload":"{\"user_id\":42}"}}`)
	key := sha256.Sum256([]byte("bot-token"))
	sig := hmacHex(body, key[:], sha256.New)

	assert.True(t, cb.VerifySignature(body, map[string]string{"crypto-pay-api-signature": sig}))

	pe, err := cb.Parse(body, nil)
	require.NoError(t, err)
	assert.Equal(t, "555", pe.ExternalID)
	assert.Equal(t, uint(42), pe.UserID)
	assert.Equal(t, int64(2500), pe.Amount)
}

func TestStarsParse(t *testing.T) {
	s := &Stars{InternalToken: "internal", StarRate: 200}

	assert.True(t, s.VerifySignature(nil, map[string]string{"x-internal-token": "internal"}))
	assert.False(t, s.VerifySignature(nil, map[string]string{"x-internal-token": "other"}))

	body := []byte(`{"telegram_payment_charge_id":"stars-1","user_id":42,"stars_amount":50}`)
	pe, err := s.Parse(body, nil)
	require.NoError(t, err)
	assert.Equal(t, "stars-1", pe.ExternalID)
	assert.Equal(t, int64(10000), pe.Amount) // 50 stars * 200
	assert.Equal(t, StatusConfirmed, pe.Status)

	refund := []byte(`{"telegram_payment_charge_id":"stars-1","user_id":42,"stars_amount":50,"refunded":true}`)
	pe, err = s.Parse(refund, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusRefunded, pe.Status)
}

func TestWataParse(t *testing.T) {
	w := &Wata{Secret: "wsec"}

	body := []byte(`{"transactionId":"tx-9","orderId":"u42-q","amount":"10.50","transactionStatus":"Paid"}`)
	sig := hmacHex(body, []byte("wsec"), sha256.New)
	assert.True(t, w.VerifySignature(body, map[string]string{"x-signature": sig}))

	pe, err := w.Parse(body, nil)
	require.NoError(t, err)
	assert.Equal(t, "tx-9", pe.ExternalID)
	assert.Equal(t, uint(42), pe.UserID)
	assert.Equal(t, int64(1050), pe.Amount)
	assert.Equal(t, StatusConfirmed, pe.Status)
}

func TestTributeParse(t *testing.T) {
	tr := &Tribute{APIKey: "tkey"}

	body := []byte(`{"name":"new_subscription","payload":{"payment_id":31337,"telegram_user_id":42,"amount":9900}}`)
	sig := hmacHex(body, []byte("tkey"), sha256.New)
	assert.True(t, tr.VerifySignature(body, map[string]string{"trbt-signature": sig}))

	pe, err := tr.Parse(body, nil)
	require.NoError(t, err)
	assert.Equal(t, "31337", pe.ExternalID)
	assert.Equal(t, int64(9900), pe.Amount)
	assert.Equal(t, StatusConfirmed, pe.Status)
}
