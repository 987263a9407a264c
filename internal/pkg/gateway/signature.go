package gateway

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"hash"
	"strconv"
	"strings"
)

func hmacHex(payload, secret []byte, hashFunc func() hash.Hash) string {
	mac := hmac.New(hashFunc, secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func verifyHMACHex(payload []byte, signatureHex string, secret []byte, hashFunc func() hash.Hash) bool {
	sig := strings.ToLower(strings.TrimSpace(signatureHex))
	if sig == "" || len(secret) == 0 {
		return false
	}
	expected, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(hashFunc, secret)
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), expected)
}

func verifyHMACSHA256(payload []byte, signatureHex string, secret []byte) bool {
	return verifyHMACHex(payload, signatureHex, secret, sha256.New)
}

func md5Hex(parts ...string) string {
	sum := md5.Sum([]byte(strings.Join(parts, ":")))
	return hex.EncodeToString(sum[:])
}

func constantTimeEqualFold(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(strings.ToLower(a)), []byte(strings.ToLower(b))) == 1
}

// parseDecimalMinor converts a decimal money string ("100.00", "99.5") to
// minor units. Providers report amounts in major units with up to two
// decimal places.
func parseDecimalMinor(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}

	intPart := s
	fracPart := ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, fracPart = s[:i], s[i+1:]
	}
	if len(fracPart) > 2 {
		fracPart = fracPart[:2]
	}
	for len(fracPart) < 2 {
		fracPart += "0"
	}
	if intPart == "" {
		intPart = "0"
	}

	major, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	frac, err := strconv.ParseInt(fracPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}

	out := major*100 + frac
	if neg {
		out = -out
	}
	return out, nil
}
