package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/remnashop/remnashop/app/models"
	"github.com/remnashop/remnashop/internal/pkg/gateway"
	"github.com/remnashop/remnashop/internal/pkg/pricing"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrPromoCodeUnusable is returned when the intent names an expired or
// exhausted promo code. The purchase fails rather than silently repricing.
var ErrPromoCodeUnusable = errors.New("pipeline: promo code is not usable")

// Quoter resolves a purchase intent against stored plans, the buyer's promo
// group and the promo code table, then delegates to the pure pricing engine.
type Quoter struct {
	db  *gorm.DB
	now func() time.Time
}

// NewQuoter creates a quoter backed by GORM.
func NewQuoter(db *gorm.DB) *Quoter {
	return &Quoter{db: db, now: time.Now}
}

func (q *Quoter) PriceFor(ctx context.Context, userID uint, intent *gateway.PurchaseIntent, redemptionKey string) (int64, error) {
	b, err := q.Quote(ctx, userID, intent, redemptionKey)
	if err != nil {
		return 0, err
	}
	return b.Total, nil
}

// Quote returns the full auditable breakdown for a purchase intent. Redeeming
// a promo code counts one use per redemption key: re-pricing the same payment
// finds the recorded redemption and keeps the discount without consuming
// another use, even if the code has expired or run out since.
func (q *Quoter) Quote(ctx context.Context, userID uint, intent *gateway.PurchaseIntent, redemptionKey string) (*pricing.Breakdown, error) {
	return q.quote(ctx, userID, intent, redemptionKey)
}

// Preview prices an intent without counting a promo code use. Serves price
// displays before the buyer commits.
func (q *Quoter) Preview(ctx context.Context, userID uint, intent *gateway.PurchaseIntent) (*pricing.Breakdown, error) {
	return q.quote(ctx, userID, intent, "")
}

func (q *Quoter) quote(ctx context.Context, userID uint, intent *gateway.PurchaseIntent, redemptionKey string) (*pricing.Breakdown, error) {
	db := q.db.WithContext(ctx)
	plan, err := models.FindActivePlanByName(db, intent.Plan)
	if err != nil {
		return nil, fmt.Errorf("pipeline: plan %q: %w", intent.Plan, err)
	}

	in := pricing.PriceInput{
		Plan: pricing.PlanView{
			BasePrice:         plan.BasePrice,
			PricePerSquad:     plan.PricePerSquad,
			PricePerTrafficGB: plan.PricePerTrafficGB,
			PricePerDevice:    plan.PricePerDevice,
		},
		PeriodDays: intent.PeriodDays,
		Squads:     len(intent.Squads),
		TrafficGB:  intent.TrafficGB,
		Devices:    intent.Devices,
	}

	if settings := models.GetAppSettings(); settings != nil {
		in.GlobalPeriodDiscounts = settings.GetGlobalPeriodDiscounts()
	}

	user, err := models.FindUserByID(db, userID)
	if err != nil {
		return nil, err
	}
	if user.PromoGroupID != nil {
		var group models.PromoGroup
		if err := db.First(&group, *user.PromoGroupID).Error; err == nil {
			in.Group = &pricing.PromoGroupView{
				ServersDiscount: group.ServersDiscount,
				TrafficDiscount: group.TrafficDiscount,
				DevicesDiscount: group.DevicesDiscount,
				PeriodDiscounts: group.PeriodDiscounts(),
			}
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	if intent.PromoCode != "" {
		var code models.PromoCode
		if err := db.Where("code = ?", intent.PromoCode).First(&code).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrPromoCodeUnusable
			}
			return nil, err
		}

		redeemed := false
		if redemptionKey != "" {
			// A recorded redemption means this payment already consumed its
			// use; the discount stands on replay regardless of what happened
			// to the code in the meantime.
			var prior int64
			if err := db.Model(&models.PromoRedemption{}).
				Where("promo_code_id = ? AND redemption_key = ?", code.ID, redemptionKey).
				Count(&prior).Error; err != nil {
				return nil, err
			}
			redeemed = prior > 0
		}

		if !redeemed {
			if !code.Usable(q.now()) {
				return nil, ErrPromoCodeUnusable
			}
			if redemptionKey != "" {
				created, err := createRedemptionIfNotExists(db, code.ID, redemptionKey)
				if err != nil {
					return nil, err
				}
				if created {
					if err := db.Model(&models.PromoCode{}).Where("id = ?", code.ID).
						UpdateColumn("used_count", gorm.Expr("used_count + 1")).Error; err != nil {
						return nil, err
					}
				}
			}
		}
		in.Promo = &pricing.PromoView{Type: code.Type, Value: code.Value}
	}

	b := pricing.Price(in)
	return &b, nil
}

// createRedemptionIfNotExists is the atomic check-and-insert on the unique
// redemption key: exactly one of two racing deliveries counts the use.
func createRedemptionIfNotExists(db *gorm.DB, codeID uint, key string) (bool, error) {
	tx := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "redemption_key"}},
		DoNothing: true,
	}).Create(&models.PromoRedemption{PromoCodeID: codeID, RedemptionKey: key})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}
