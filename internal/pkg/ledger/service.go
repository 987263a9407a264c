package ledger

import (
	"context"
	"errors"
	"sync"

	"github.com/gofiber/fiber/v2/log"
	"github.com/remnashop/remnashop/app/models"
	"gorm.io/gorm"
)

var (
	// ErrInvalidAmount is returned for credit/debit amounts <= 0.
	ErrInvalidAmount = errors.New("ledger: amount must be positive")
	// ErrInsufficientBalance is returned when a debit would push the balance
	// below zero. It is a recoverable business condition, not a failure.
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
)

// Result is the outcome of a credit or debit. Applied is false when the
// idempotency key was seen before; Balance then reports the balance as it was
// after the original application.
type Result struct {
	Balance int64
	Applied bool
}

const lockStripes = 64

// Service is the append-only money movement log with a derived balance.
// Mutations for one user are serialized through a striped mutex; different
// users proceed in parallel.
type Service struct {
	repo  Repository
	locks [lockStripes]sync.Mutex
}

// NewService creates a ledger service from an injected repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// NewServiceFromDB creates a ledger service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(NewRepository(db))
}

// Credit appends a positive movement. Replaying the same idempotency key
// returns the previously computed result without mutating state again.
func (s *Service) Credit(ctx context.Context, userID uint, amount int64, source, idempotencyKey string) (Result, error) {
	return s.CreditAs(ctx, userID, amount, models.TransactionTypeDeposit, source, idempotencyKey)
}

// CreditAs is Credit with an explicit transaction type (trial, admin, refund).
func (s *Service) CreditAs(ctx context.Context, userID uint, amount int64, txType, source, idempotencyKey string) (Result, error) {
	if amount <= 0 {
		return Result{}, ErrInvalidAmount
	}
	return s.apply(ctx, userID, amount, txType, source, idempotencyKey)
}

// Debit appends a negative movement. Fails with ErrInsufficientBalance when
// the balance would go negative.
func (s *Service) Debit(ctx context.Context, userID uint, amount int64, source, idempotencyKey string) (Result, error) {
	return s.DebitAs(ctx, userID, amount, models.TransactionTypePurchase, source, idempotencyKey)
}

// DebitAs is Debit with an explicit transaction type.
func (s *Service) DebitAs(ctx context.Context, userID uint, amount int64, txType, source, idempotencyKey string) (Result, error) {
	if amount <= 0 {
		return Result{}, ErrInvalidAmount
	}
	return s.apply(ctx, userID, -amount, txType, source, idempotencyKey)
}

// BalanceOf returns the user's current derived balance.
func (s *Service) BalanceOf(ctx context.Context, userID uint) (int64, error) {
	u, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	return u.Balance, nil
}

func (s *Service) apply(ctx context.Context, userID uint, signed int64, txType, source, idempotencyKey string) (Result, error) {
	if signed == 0 || idempotencyKey == "" {
		return Result{}, ErrInvalidAmount
	}

	mu := s.lockFor(userID)
	mu.Lock()
	defer mu.Unlock()

	var res Result
	err := s.repo.WithTx(ctx, func(r Repository) error {
		// Fast replay path: the key has been applied before.
		if existing, err := r.FindTransactionByKey(idempotencyKey); err == nil {
			res = Result{Balance: existing.BalanceAfter, Applied: false}
			return nil
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		user, err := r.GetUser(ctx, userID)
		if err != nil {
			return err
		}

		newBalance := user.Balance + signed
		if newBalance < 0 {
			return ErrInsufficientBalance
		}

		created, stored, err := r.CreateTransactionIfNotExists(&models.Transaction{
			UserID:         userID,
			Amount:         signed,
			Type:           txType,
			Source:         source,
			IdempotencyKey: idempotencyKey,
			BalanceAfter:   newBalance,
		})
		if err != nil {
			return err
		}
		if !created {
			// A concurrent delivery won the insert race; its result stands.
			res = Result{Balance: stored.BalanceAfter, Applied: false}
			return nil
		}

		if err := r.UpdateUserBalance(userID, newBalance); err != nil {
			return err
		}
		res = Result{Balance: newBalance, Applied: true}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// RecomputeBalance audits one user: it sums the transaction log, compares
// against the stored balance and repairs the stored value on mismatch.
func (s *Service) RecomputeBalance(ctx context.Context, userID uint) (int64, bool, error) {
	mu := s.lockFor(userID)
	mu.Lock()
	defer mu.Unlock()

	var sum int64
	var repaired bool
	err := s.repo.WithTx(ctx, func(r Repository) error {
		user, err := r.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		sum, err = r.SumTransactions(userID)
		if err != nil {
			return err
		}
		if sum == user.Balance {
			return nil
		}
		log.Warnf("[Ledger] balance mismatch for user %d: stored=%d log=%d", userID, user.Balance, sum)
		repaired = true
		return r.UpdateUserBalance(userID, sum)
	})
	if err != nil {
		return 0, false, err
	}
	return sum, repaired, nil
}

func (s *Service) lockFor(userID uint) *sync.Mutex {
	return &s.locks[userID%lockStripes]
}
