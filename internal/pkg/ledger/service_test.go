package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/remnashop/remnashop/app/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// fakeRepo is an in-memory Repository for unit tests.
type fakeRepo struct {
	mu    sync.Mutex
	users map[uint]*models.User
	txns  map[string]*models.Transaction
	seq   uint
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		users: map[uint]*models.User{},
		txns:  map[string]*models.Transaction{},
	}
}

func (f *fakeRepo) addUser(id uint, balance int64) {
	f.users[id] = &models.User{ID: id, Balance: balance}
}

func (f *fakeRepo) WithTx(ctx context.Context, fn func(r Repository) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fn(&fakeTxRepo{f})
}

func (f *fakeRepo) GetUser(ctx context.Context, userID uint) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return (&fakeTxRepo{f}).GetUser(ctx, userID)
}

func (f *fakeRepo) FindTransactionByKey(key string) (*models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return (&fakeTxRepo{f}).FindTransactionByKey(key)
}

func (f *fakeRepo) CreateTransactionIfNotExists(t *models.Transaction) (bool, *models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return (&fakeTxRepo{f}).CreateTransactionIfNotExists(t)
}

func (f *fakeRepo) UpdateUserBalance(userID uint, balance int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return (&fakeTxRepo{f}).UpdateUserBalance(userID, balance)
}

func (f *fakeRepo) SumTransactions(userID uint) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return (&fakeTxRepo{f}).SumTransactions(userID)
}

// fakeTxRepo operates on the parent store while the parent mutex is held.
type fakeTxRepo struct {
	f *fakeRepo
}

func (r *fakeTxRepo) WithTx(ctx context.Context, fn func(r Repository) error) error { return fn(r) }

func (r *fakeTxRepo) GetUser(ctx context.Context, userID uint) (*models.User, error) {
	u, ok := r.f.users[userID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *fakeTxRepo) FindTransactionByKey(key string) (*models.Transaction, error) {
	t, ok := r.f.txns[key]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *fakeTxRepo) CreateTransactionIfNotExists(t *models.Transaction) (bool, *models.Transaction, error) {
	if stored, ok := r.f.txns[t.IdempotencyKey]; ok {
		cp := *stored
		return false, &cp, nil
	}
	r.f.seq++
	t.ID = r.f.seq
	cp := *t
	r.f.txns[t.IdempotencyKey] = &cp
	return true, t, nil
}

func (r *fakeTxRepo) UpdateUserBalance(userID uint, balance int64) error {
	u, ok := r.f.users[userID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	u.Balance = balance
	return nil
}

func (r *fakeTxRepo) SumTransactions(userID uint) (int64, error) {
	var sum int64
	for _, t := range r.f.txns {
		if t.UserID == userID {
			sum += t.Amount
		}
	}
	return sum, nil
}

func TestCreditAppliesOnce(t *testing.T) {
	repo := newFakeRepo()
	repo.addUser(1, 0)
	svc := NewService(repo)
	ctx := context.Background()

	res, err := svc.Credit(ctx, 1, 10000, "yookassa", "yookassa:abc")
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, int64(10000), res.Balance)

	// Retried webhook delivery with the same key.
	res2, err := svc.Credit(ctx, 1, 10000, "yookassa", "yookassa:abc")
	require.NoError(t, err)
	assert.False(t, res2.Applied)
	assert.Equal(t, int64(10000), res2.Balance)

	balance, err := svc.BalanceOf(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), balance)
}

func TestDebitInsufficientBalance(t *testing.T) {
	repo := newFakeRepo()
	repo.addUser(1, 500)
	svc := NewService(repo)

	_, err := svc.Debit(context.Background(), 1, 800, "purchase", "purchase:1")
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	// Failed debit must not leave a transaction behind.
	balance, err := svc.BalanceOf(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(500), balance)
}

func TestInvalidAmounts(t *testing.T) {
	repo := newFakeRepo()
	repo.addUser(1, 0)
	svc := NewService(repo)
	ctx := context.Background()

	_, err := svc.Credit(ctx, 1, 0, "x", "k1")
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = svc.Credit(ctx, 1, -5, "x", "k2")
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = svc.Debit(ctx, 1, 0, "x", "k3")
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = svc.Credit(ctx, 1, 100, "x", "")
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestConcurrentCreditsSameUser(t *testing.T) {
	repo := newFakeRepo()
	repo.addUser(1, 0)
	svc := NewService(repo)
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Credit(ctx, 1, 100, "test", fmt.Sprintf("key-%d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	balance, err := svc.BalanceOf(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(n*100), balance)

	sum, repaired, err := svc.RecomputeBalance(ctx, 1)
	require.NoError(t, err)
	assert.False(t, repaired)
	assert.Equal(t, int64(n*100), sum)
}

func TestDuplicateDeliveriesRace(t *testing.T) {
	repo := newFakeRepo()
	repo.addUser(1, 0)
	svc := NewService(repo)
	ctx := context.Background()

	const n = 10
	applied := make(chan bool, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.Credit(ctx, 1, 10000, "yookassa", "yookassa:dup")
			assert.NoError(t, err)
			applied <- res.Applied
		}()
	}
	wg.Wait()
	close(applied)

	appliedCount := 0
	for a := range applied {
		if a {
			appliedCount++
		}
	}
	assert.Equal(t, 1, appliedCount, "exactly one delivery must apply")

	balance, err := svc.BalanceOf(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), balance)
}
