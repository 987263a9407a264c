package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"
	"github.com/remnashop/remnashop/app/models"
	"gorm.io/gorm"
)

// Service verifies, normalizes and de-duplicates provider webhooks. It is the
// only entry point for payment notifications; everything downstream of it
// works on the canonical PaymentEvent.
type Service struct {
	repo     Repository
	registry Registry
	validate *validator.Validate
}

// NewService creates a gateway service from an injected repository and
// provider registry.
func NewService(repo Repository, registry Registry) *Service {
	return &Service{
		repo:     repo,
		registry: registry,
		validate: validator.New(),
	}
}

// NewServiceFromDB creates a gateway service with the default provider set.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(NewRepository(db), DefaultRegistry())
}

// AckOnReject reports the ack policy for a provider; unknown providers are
// never acked.
func (s *Service) AckOnReject(provider string) bool {
	p, ok := s.registry.Lookup(provider)
	if !ok {
		return false
	}
	return p.AckOnReject()
}

// HandleWebhook runs the trust pipeline for one delivery: verify signature,
// parse, validate, then the atomic dedup insert. A repeat delivery returns
// the stored record with Duplicate=true and never re-enters processing.
// Rejections (ErrUnknownProvider, ErrBadSignature, ErrMalformedPayload)
// cause no state change.
func (s *Service) HandleWebhook(ctx context.Context, provider string, body []byte, headers map[string]string) (*Event, error) {
	p, ok := s.registry.Lookup(provider)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}

	if !p.VerifySignature(body, headers) {
		log.Warnf("[Gateway] %s: signature verification failed", p.Name())
		return nil, ErrBadSignature
	}

	pe, err := p.Parse(body, headers)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	pe.Provider = p.Name()
	if err := s.validate.Struct(pe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	sum := sha256.Sum256(body)
	record := &models.PaymentEvent{
		Provider:      pe.Provider,
		ExternalID:    pe.ExternalID,
		UserID:        pe.UserID,
		Amount:        pe.Amount,
		Status:        pe.Status,
		PayloadHash:   hex.EncodeToString(sum[:]),
		PurchaseJSON:  encodePurchase(pe.Purchase),
		PipelineStage: models.PipelineStageReceived,
	}

	created, stored, err := s.repo.CreateEventIfNotExists(ctx, record)
	if err != nil {
		return nil, err
	}
	if !created {
		log.Infof("[Gateway] %s: duplicate delivery for external_id=%s", p.Name(), pe.ExternalID)
	}

	return &Event{PaymentEvent: *pe, Record: stored, Duplicate: !created}, nil
}

// Rejected reports whether the error is a rejection (as opposed to an
// infrastructure failure).
func Rejected(err error) bool {
	return errors.Is(err, ErrUnknownProvider) ||
		errors.Is(err, ErrBadSignature) ||
		errors.Is(err, ErrMalformedPayload)
}

func headerValue(headers map[string]string, key string) string {
	if v, ok := headers[key]; ok {
		return v
	}
	return headers[strings.ToLower(key)]
}
