package gateway

import "strings"

// Provider names.
const (
	ProviderYooKassa  = "yookassa"
	ProviderRobokassa = "robokassa"
	ProviderFreekassa = "freekassa"
	ProviderCryptomus = "cryptomus"
	ProviderHeleket   = "heleket"
	ProviderCryptoBot = "cryptobot"
	ProviderStars     = "stars"
	ProviderTribute   = "tribute"
	ProviderWata      = "wata"
)

// Provider normalizes one payment provider's webhook format. Verification
// runs before parsing; nothing from an unverified body is trusted.
type Provider interface {
	Name() string
	VerifySignature(body []byte, headers map[string]string) bool
	Parse(body []byte, headers map[string]string) (*PaymentEvent, error)
	// AckOnReject reports whether a rejected delivery should still be acked to
	// stop useless provider retries. Providers that retry aggressively on
	// non-2xx answers want true here.
	AckOnReject() bool
}

// Registry holds the configured providers keyed by name.
type Registry map[string]Provider

// NewRegistry builds a registry from the given providers.
func NewRegistry(providers ...Provider) Registry {
	r := make(Registry, len(providers))
	for _, p := range providers {
		r[p.Name()] = p
	}
	return r
}

// DefaultRegistry wires all nine supported providers from the environment.
func DefaultRegistry() Registry {
	return NewRegistry(
		NewYooKassaFromEnv(),
		NewRobokassaFromEnv(),
		NewFreekassaFromEnv(),
		NewCryptomusFromEnv(),
		NewHeleketFromEnv(),
		NewCryptoBotFromEnv(),
		NewStarsFromEnv(),
		NewTributeFromEnv(),
		NewWataFromEnv(),
	)
}

// Lookup resolves a provider by name, case-insensitively.
func (r Registry) Lookup(name string) (Provider, bool) {
	p, ok := r[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}
