package entsync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/remnashop/remnashop/app/models"
	"github.com/remnashop/remnashop/internal/pkg/events"
	"github.com/remnashop/remnashop/internal/pkg/panel"
	"github.com/remnashop/remnashop/internal/pkg/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	mu    sync.Mutex
	users map[uint]*models.User
	subs  map[uint]*models.Subscription
	snaps map[uint]*models.RemoteEntitlementSnapshot
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		users: map[uint]*models.User{},
		subs:  map[uint]*models.Subscription{},
		snaps: map[uint]*models.RemoteEntitlementSnapshot{},
	}
}

func (f *fakeRepo) WithTx(ctx context.Context, fn func(r Repository) error) error { return fn(f) }

func (f *fakeRepo) FindSubscription(ctx context.Context, id uint) (*models.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.subs[id]
	if !ok {
		return nil, errors.New("subscription not found")
	}
	cp := *sub
	return &cp, nil
}

func (f *fakeRepo) FindUser(ctx context.Context, id uint) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, errors.New("user not found")
	}
	cp := *u
	return &cp, nil
}

func (f *fakeRepo) SaveSubscription(sub *models.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *sub
	f.subs[sub.ID] = &cp
	return nil
}

func (f *fakeRepo) GetOrCreateSnapshot(subscriptionID uint) (*models.RemoteEntitlementSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if snap, ok := f.snaps[subscriptionID]; ok {
		cp := *snap
		return &cp, nil
	}
	snap := &models.RemoteEntitlementSnapshot{ID: subscriptionID, SubscriptionID: subscriptionID}
	cp := *snap
	f.snaps[subscriptionID] = &cp
	out := *snap
	return &out, nil
}

func (f *fakeRepo) SaveSnapshot(snap *models.RemoteEntitlementSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *snap
	f.snaps[snap.SubscriptionID] = &cp
	return nil
}

func (f *fakeRepo) FindDirtyBatch(ctx context.Context, limit int) ([]uint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []uint
	for id, sub := range f.subs {
		if sub.DirtyForSync && sub.ArchiveSeq == 0 {
			ids = append(ids, id)
			if len(ids) == limit {
				break
			}
		}
	}
	return ids, nil
}

type fakePanel struct {
	mu         sync.Mutex
	state      map[string]*panel.RemoteState
	applyErr   error
	applyCalls int
	getErr     error
	getCalls   int
}

func newFakePanel() *fakePanel {
	return &fakePanel{state: map[string]*panel.RemoteState{}}
}

func (p *fakePanel) GetEntitlements(ctx context.Context, userKey string) (*panel.RemoteState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.getCalls++
	if p.getErr != nil {
		return nil, p.getErr
	}
	st, ok := p.state[userKey]
	if !ok {
		return nil, panel.ErrUserNotFound
	}
	cp := *st
	return &cp, nil
}

func (p *fakePanel) ApplyEntitlements(ctx context.Context, desired *panel.RemoteState) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.applyCalls++
	if p.applyErr != nil {
		return p.applyErr
	}
	cp := *desired
	p.state[desired.UserKey] = &cp
	return nil
}

func fastPolicy(attempts int) retry.Policy {
	return retry.Policy{MaxAttempts: attempts, Initial: time.Millisecond, Multiplier: 2, Max: 5 * time.Millisecond}
}

func testSync(repo *fakeRepo, api PanelAPI, sink events.Sink) *Service {
	svc := NewService(repo, api, sink)
	svc.grantPolicy = fastPolicy(3)
	svc.revokePolicy = fastPolicy(6)
	return svc
}

func seed(repo *fakeRepo, status string, squads []string) *models.Subscription {
	repo.users[1] = &models.User{ID: 1, TelegramID: 100}
	end := time.Now().Add(720 * time.Hour).Truncate(time.Second)
	sub := &models.Subscription{
		ID: 7, UserID: 1, Status: status,
		EndDate: &end, TrafficLimit: 100 << 30, DeviceLimit: 2,
		DirtyForSync: true,
	}
	sub.SetSquads(squads)
	repo.subs[sub.ID] = sub
	return sub
}

func TestSyncPushesAbsoluteState(t *testing.T) {
	repo := newFakeRepo()
	api := newFakePanel()
	sub := seed(repo, models.SubscriptionStatusActive, []string{"squad-a", "squad-b"})
	svc := testSync(repo, api, &events.CollectSink{})

	require.NoError(t, svc.Sync(context.Background(), sub.ID, false))

	remote := api.state["u1"]
	require.NotNil(t, remote)
	assert.True(t, remote.Enabled)
	assert.Equal(t, []string{"squad-a", "squad-b"}, remote.Squads)
	assert.Equal(t, int64(100<<30), remote.TrafficLimit)

	assert.False(t, repo.subs[sub.ID].DirtyForSync)
	snap := repo.snaps[sub.ID]
	require.NotNil(t, snap)
	assert.False(t, snap.DriftFlag)
	assert.NotNil(t, snap.LastSyncedAt)
}

func TestSyncCorrectsRemoteDivergence(t *testing.T) {
	repo := newFakeRepo()
	api := newFakePanel()
	sub := seed(repo, models.SubscriptionStatusActive, []string{"squad-a"})
	// Panel has an extra squad the local record never granted.
	api.state["u1"] = &panel.RemoteState{
		UserKey: "u1", Enabled: true, ExpiresAt: sub.EndDate,
		TrafficLimit: sub.TrafficLimit, DeviceLimit: sub.DeviceLimit,
		Squads: []string{"squad-a", "squad-rogue"},
	}
	svc := testSync(repo, api, &events.CollectSink{})

	require.NoError(t, svc.Sync(context.Background(), sub.ID, false))
	assert.Equal(t, []string{"squad-a"}, api.state["u1"].Squads, "local state wins wholesale")
}

func TestSyncSkipsApplyWhenConverged(t *testing.T) {
	repo := newFakeRepo()
	api := newFakePanel()
	sub := seed(repo, models.SubscriptionStatusActive, []string{"squad-a"})
	api.state["u1"] = &panel.RemoteState{
		UserKey: "u1", Enabled: true, ExpiresAt: sub.EndDate,
		TrafficLimit: sub.TrafficLimit, DeviceLimit: sub.DeviceLimit,
		Squads: []string{"squad-a"},
	}
	svc := testSync(repo, api, &events.CollectSink{})

	require.NoError(t, svc.Sync(context.Background(), sub.ID, false))
	assert.Equal(t, 0, api.applyCalls)
	assert.False(t, repo.subs[sub.ID].DirtyForSync)
}

func TestSyncTrafficUsedFlowsRemoteToLocal(t *testing.T) {
	repo := newFakeRepo()
	api := newFakePanel()
	sub := seed(repo, models.SubscriptionStatusActive, []string{"squad-a"})
	repo.subs[sub.ID].TrafficUsed = 1 // stale local value
	api.state["u1"] = &panel.RemoteState{
		UserKey: "u1", Enabled: true, ExpiresAt: sub.EndDate,
		TrafficLimit: sub.TrafficLimit, DeviceLimit: sub.DeviceLimit,
		Squads: []string{"squad-a"}, TrafficUsed: 42 << 20,
	}
	svc := testSync(repo, api, &events.CollectSink{})

	require.NoError(t, svc.Sync(context.Background(), sub.ID, false))
	assert.Equal(t, int64(42<<20), repo.subs[sub.ID].TrafficUsed)
	assert.Equal(t, int64(42<<20), repo.snaps[sub.ID].RemoteTrafficUsed)
}

func TestSyncDisabledSubscriptionDisablesRemote(t *testing.T) {
	repo := newFakeRepo()
	api := newFakePanel()
	sub := seed(repo, models.SubscriptionStatusExpired, []string{"squad-a"})
	api.state["u1"] = &panel.RemoteState{UserKey: "u1", Enabled: true, Squads: []string{"squad-a"}}
	svc := testSync(repo, api, &events.CollectSink{})

	require.NoError(t, svc.Sync(context.Background(), sub.ID, true))
	assert.False(t, api.state["u1"].Enabled)
}

func TestSyncFailureFlagsDriftOnce(t *testing.T) {
	repo := newFakeRepo()
	api := newFakePanel()
	sub := seed(repo, models.SubscriptionStatusActive, []string{"squad-a", "squad-b"})
	api.applyErr = errors.New("panel unreachable")
	sink := &events.CollectSink{}
	svc := testSync(repo, api, sink)
	ctx := context.Background()

	err := svc.Sync(ctx, sub.ID, false)
	require.Error(t, err)
	assert.Equal(t, 3, api.applyCalls, "grant policy attempts before giving up")

	// Fail open: local entitlements are untouched and still dirty.
	assert.Equal(t, []string{"squad-a", "squad-b"}, repo.subs[sub.ID].Squads())
	assert.True(t, repo.subs[sub.ID].DirtyForSync)
	assert.True(t, repo.snaps[sub.ID].DriftFlag)
	assert.Equal(t, 1, sink.CountOf(events.TypeEntitlementDriftDetected))

	// Second failed run increments attempts but does not re-announce.
	require.Error(t, svc.Sync(ctx, sub.ID, false))
	assert.Equal(t, 2, repo.snaps[sub.ID].FailedAttempts)
	assert.Equal(t, 1, sink.CountOf(events.TypeEntitlementDriftDetected))
}

func TestSyncRecoveryClearsDrift(t *testing.T) {
	repo := newFakeRepo()
	api := newFakePanel()
	sub := seed(repo, models.SubscriptionStatusActive, []string{"squad-a"})
	sink := &events.CollectSink{}
	svc := testSync(repo, api, sink)
	ctx := context.Background()

	api.applyErr = errors.New("panel unreachable")
	require.Error(t, svc.Sync(ctx, sub.ID, false))
	require.True(t, repo.snaps[sub.ID].DriftFlag)

	api.applyErr = nil
	require.NoError(t, svc.Sync(ctx, sub.ID, false))
	assert.False(t, repo.snaps[sub.ID].DriftFlag)
	assert.Equal(t, 0, repo.snaps[sub.ID].FailedAttempts)
	assert.False(t, repo.subs[sub.ID].DirtyForSync)
}

func TestSyncRetriesTransientFailure(t *testing.T) {
	repo := newFakeRepo()
	api := newFakePanel()
	sub := seed(repo, models.SubscriptionStatusActive, []string{"squad-a"})
	svc := testSync(repo, api, &events.CollectSink{})

	// First apply fails, the retry succeeds.
	flaky := &flakyPanel{inner: api, failFirst: 1}
	svc.panel = flaky

	require.NoError(t, svc.Sync(context.Background(), sub.ID, false))
	assert.Equal(t, 2, flaky.calls)
	assert.False(t, repo.snaps[sub.ID].DriftFlag)
}

func TestSyncRetriesTransientReadFailure(t *testing.T) {
	repo := newFakeRepo()
	api := newFakePanel()
	sub := seed(repo, models.SubscriptionStatusActive, []string{"squad-a"})
	sink := &events.CollectSink{}
	svc := testSync(repo, api, sink)

	// First read fails, the retry succeeds. One hiccup must not flag drift.
	flaky := &flakyGetPanel{inner: api, failFirst: 1}
	svc.panel = flaky

	require.NoError(t, svc.Sync(context.Background(), sub.ID, false))
	assert.Equal(t, 2, flaky.calls)
	assert.False(t, repo.snaps[sub.ID].DriftFlag)
	assert.Equal(t, 0, sink.CountOf(events.TypeEntitlementDriftDetected))
	assert.False(t, repo.subs[sub.ID].DirtyForSync)
}

func TestSyncReadFailureFlagsDriftAfterRetries(t *testing.T) {
	repo := newFakeRepo()
	api := newFakePanel()
	sub := seed(repo, models.SubscriptionStatusActive, []string{"squad-a"})
	api.getErr = errors.New("panel unreachable")
	sink := &events.CollectSink{}
	svc := testSync(repo, api, sink)

	require.Error(t, svc.Sync(context.Background(), sub.ID, false))
	assert.Equal(t, 3, api.getCalls, "grant policy attempts the read before giving up")
	assert.True(t, repo.snaps[sub.ID].DriftFlag)
	assert.Equal(t, 1, sink.CountOf(events.TypeEntitlementDriftDetected))
	assert.True(t, repo.subs[sub.ID].DirtyForSync)
}

type flakyGetPanel struct {
	inner     *fakePanel
	failFirst int
	calls     int
}

func (p *flakyGetPanel) GetEntitlements(ctx context.Context, userKey string) (*panel.RemoteState, error) {
	p.calls++
	if p.calls <= p.failFirst {
		return nil, errors.New("transient")
	}
	return p.inner.GetEntitlements(ctx, userKey)
}

func (p *flakyGetPanel) ApplyEntitlements(ctx context.Context, desired *panel.RemoteState) error {
	return p.inner.ApplyEntitlements(ctx, desired)
}

type flakyPanel struct {
	inner     *fakePanel
	failFirst int
	calls     int
}

func (p *flakyPanel) GetEntitlements(ctx context.Context, userKey string) (*panel.RemoteState, error) {
	return p.inner.GetEntitlements(ctx, userKey)
}

func (p *flakyPanel) ApplyEntitlements(ctx context.Context, desired *panel.RemoteState) error {
	p.calls++
	if p.calls <= p.failFirst {
		return errors.New("transient")
	}
	p.inner.mu.Lock()
	defer p.inner.mu.Unlock()
	cp := *desired
	p.inner.state[desired.UserKey] = &cp
	return nil
}

func TestSyncDirtyBatch(t *testing.T) {
	repo := newFakeRepo()
	api := newFakePanel()
	seed(repo, models.SubscriptionStatusActive, []string{"squad-a"})
	svc := testSync(repo, api, &events.CollectSink{})

	n, err := svc.SyncDirty(context.Background(), 10, false)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, repo.subs[7].DirtyForSync)

	n, err = svc.SyncDirty(context.Background(), 10, false)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
