package pipeline

import (
	"context"
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2/log"
	"github.com/remnashop/remnashop/app/models"
	"github.com/remnashop/remnashop/internal/pkg/events"
	"github.com/remnashop/remnashop/internal/pkg/gateway"
	"github.com/remnashop/remnashop/internal/pkg/ledger"
	"github.com/remnashop/remnashop/internal/pkg/subscription"
	"gorm.io/gorm"
)

// Repository persists saga progress on the payment event record.
type Repository interface {
	UpdatePipelineStage(id uint, stage string) error
	UpdateStatus(id uint, status string) error
	MarkProcessed(id uint, processingError string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a pipeline repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) UpdatePipelineStage(id uint, stage string) error {
	return r.db.Model(&models.PaymentEvent{}).Where("id = ?", id).Update("pipeline_stage", stage).Error
}

func (r *gormRepository) UpdateStatus(id uint, status string) error {
	return r.db.Model(&models.PaymentEvent{}).Where("id = ?", id).Update("status", status).Error
}

func (r *gormRepository) MarkProcessed(id uint, processingError string) error {
	return r.db.Model(&models.PaymentEvent{}).Where("id = ?", id).Updates(map[string]interface{}{
		"processed_at":     gorm.Expr("NOW()"),
		"processing_error": processingError,
	}).Error
}

// Ledger is the slice of the money log the coordinator needs.
type Ledger interface {
	CreditAs(ctx context.Context, userID uint, amount int64, txType, source, idempotencyKey string) (ledger.Result, error)
	DebitAs(ctx context.Context, userID uint, amount int64, txType, source, idempotencyKey string) (ledger.Result, error)
}

// Provisioner applies a paid purchase to the user's subscription. The request
// id keys the mutation so a replayed or racing delivery extends at most once.
type Provisioner interface {
	ConfirmPurchase(ctx context.Context, userID uint, p subscription.Purchase, requestID string) (*models.Subscription, error)
}

// Pricer computes the charge for a purchase intent in minor units. The
// redemption key makes promo code uses replay-safe per payment.
type Pricer interface {
	PriceFor(ctx context.Context, userID uint, intent *gateway.PurchaseIntent, redemptionKey string) (int64, error)
}

// RefundPolicyFn resolves the per-provider refund handling policy.
type RefundPolicyFn func(provider string) string

// Coordinator drives a confirmed payment through credit, purchase debit and
// provisioning. Progress is checkpointed on the event record after each
// stage, so a crashed run resumes at the first incomplete stage; the ledger's
// idempotency keys, the promo redemption key and the provisioning request id
// make re-entered stages no-ops.
type Coordinator struct {
	repo         Repository
	ledger       Ledger
	provisioner  Provisioner
	pricer       Pricer
	refundPolicy RefundPolicyFn
	sink         events.Sink
}

// NewCoordinator wires a payment pipeline coordinator.
func NewCoordinator(repo Repository, l Ledger, prov Provisioner, pricer Pricer, refundPolicy RefundPolicyFn, sink events.Sink) *Coordinator {
	if sink == nil {
		sink = events.LogSink{}
	}
	if refundPolicy == nil {
		refundPolicy = func(string) string { return models.RefundPolicyManual }
	}
	return &Coordinator{
		repo:         repo,
		ledger:       l,
		provisioner:  prov,
		pricer:       pricer,
		refundPolicy: refundPolicy,
		sink:         sink,
	}
}

// Process runs the pipeline for one recorded delivery. Duplicate deliveries
// resume the stored record from its checkpoint; a status change on the same
// external id (pending settling, or a later refund notification) moves the
// record forward, anything else is ignored.
func (c *Coordinator) Process(ctx context.Context, ev *gateway.Event) error {
	rec := ev.Record
	status := rec.Status

	if ev.Duplicate {
		switch {
		case rec.Status == ev.Status:
			// Plain replay, resume from checkpoint below.
		case rec.Status == models.PaymentStatusPending &&
			(ev.Status == models.PaymentStatusConfirmed || ev.Status == models.PaymentStatusFailed):
			if err := c.repo.UpdateStatus(rec.ID, ev.Status); err != nil {
				return err
			}
			rec.Status = ev.Status
			status = ev.Status
		case rec.Status == models.PaymentStatusConfirmed && ev.Status == models.PaymentStatusRefunded:
			if err := c.repo.UpdateStatus(rec.ID, ev.Status); err != nil {
				return err
			}
			rec.Status = ev.Status
			status = ev.Status
		default:
			log.Infof("[Pipeline] ignoring status %s replay for %s (stored %s)",
				ev.Status, rec.IdempotencyKey(), rec.Status)
			return nil
		}
	}

	switch status {
	case models.PaymentStatusConfirmed:
		return c.processConfirmed(ctx, rec)
	case models.PaymentStatusPending:
		// Parked until the provider settles with a follow-up delivery.
		return nil
	case models.PaymentStatusFailed:
		return c.processFailed(rec)
	case models.PaymentStatusRefunded:
		return c.processRefund(ctx, rec)
	default:
		return errors.New("pipeline: unknown payment status " + status)
	}
}

func (c *Coordinator) processConfirmed(ctx context.Context, rec *models.PaymentEvent) error {
	key := rec.IdempotencyKey()
	stage := rec.PipelineStage

	if stage == models.PipelineStageReceived {
		if rec.Amount > 0 {
			if _, err := c.ledger.CreditAs(ctx, rec.UserID, rec.Amount,
				models.TransactionTypeDeposit, rec.Provider, key); err != nil {
				return err
			}
		}
		if err := c.repo.UpdatePipelineStage(rec.ID, models.PipelineStageCredited); err != nil {
			return err
		}
		stage = models.PipelineStageCredited
		rec.PipelineStage = stage
	}

	if stage == models.PipelineStageCredited {
		if intent := gateway.DecodePurchase(rec.PurchaseJSON); intent != nil {
			price, err := c.pricer.PriceFor(ctx, rec.UserID, intent, key)
			if err != nil {
				return err
			}
			if price > 0 {
				_, err := c.ledger.DebitAs(ctx, rec.UserID, price,
					models.TransactionTypePurchase, rec.Provider, "purchase:"+key)
				if errors.Is(err, ledger.ErrInsufficientBalance) {
					// Top-up stands, purchase does not. Terminal for this event.
					if err := c.repo.MarkProcessed(rec.ID, "purchase debit failed: insufficient balance"); err != nil {
						return err
					}
					ev := events.New(events.TypePaymentRejected)
					ev.UserID = rec.UserID
					ev.Provider = rec.Provider
					ev.ExternalID = rec.ExternalID
					ev.Detail = map[string]string{"reason": "insufficient_balance"}
					c.sink.Publish(ev)
					return c.repo.UpdatePipelineStage(rec.ID, models.PipelineStageDone)
				}
				if err != nil {
					return err
				}
			}
			if _, err := c.provisioner.ConfirmPurchase(ctx, rec.UserID, subscription.Purchase{
				PeriodDays: intent.PeriodDays,
				Squads:     intent.Squads,
				TrafficGB:  intent.TrafficGB,
				Devices:    intent.Devices,
			}, "purchase:"+key); err != nil {
				return err
			}
		}
		if err := c.repo.UpdatePipelineStage(rec.ID, models.PipelineStageProvisioned); err != nil {
			return err
		}
		stage = models.PipelineStageProvisioned
		rec.PipelineStage = stage
	}

	if stage == models.PipelineStageProvisioned {
		if err := c.repo.MarkProcessed(rec.ID, ""); err != nil {
			return err
		}
		if err := c.repo.UpdatePipelineStage(rec.ID, models.PipelineStageDone); err != nil {
			return err
		}
		rec.PipelineStage = models.PipelineStageDone
	}

	return nil
}

func (c *Coordinator) processFailed(rec *models.PaymentEvent) error {
	if err := c.repo.MarkProcessed(rec.ID, ""); err != nil {
		return err
	}
	if err := c.repo.UpdatePipelineStage(rec.ID, models.PipelineStageDone); err != nil {
		return err
	}
	ev := events.New(events.TypePaymentRejected)
	ev.UserID = rec.UserID
	ev.Provider = rec.Provider
	ev.ExternalID = rec.ExternalID
	ev.Detail = map[string]string{"reason": "provider_failed"}
	c.sink.Publish(ev)
	return nil
}

func (c *Coordinator) processRefund(ctx context.Context, rec *models.PaymentEvent) error {
	key := "refund:" + rec.IdempotencyKey()

	if c.refundPolicy(rec.Provider) == models.RefundPolicyAuto && rec.Amount > 0 {
		_, err := c.ledger.DebitAs(ctx, rec.UserID, rec.Amount,
			models.TransactionTypeRefund, rec.Provider, key)
		if err == nil {
			return c.repo.MarkProcessed(rec.ID, "")
		}
		if !errors.Is(err, ledger.ErrInsufficientBalance) {
			return err
		}
		// Balance already spent: fall through to manual handling.
	}

	ev := events.New(events.TypeRefundPending)
	ev.UserID = rec.UserID
	ev.Provider = rec.Provider
	ev.ExternalID = rec.ExternalID
	ev.Detail = map[string]string{"amount": strconv.FormatInt(rec.Amount, 10)}
	c.sink.Publish(ev)
	return c.repo.MarkProcessed(rec.ID, "refund pending manual confirmation")
}
