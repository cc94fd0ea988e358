// internal/service/points/application/service_test.go
package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"meridian/internal/service/points/domain"
)

type fakeAccountRepo struct {
	mu       sync.Mutex
	accounts map[int64]*domain.Account
	txns     []*domain.Transaction
	seen     map[string]bool
}

func newFakeAccountRepo() *fakeAccountRepo {
	return &fakeAccountRepo{
		accounts: make(map[int64]*domain.Account),
		seen:     make(map[string]bool),
	}
}

func (r *fakeAccountRepo) Apply(_ context.Context, txn *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seen[txn.EventID] {
		return domain.ErrDuplicateEvent
	}
	r.seen[txn.EventID] = true
	r.txns = append(r.txns, txn)

	acc, ok := r.accounts[txn.UserID]
	if !ok {
		acc = &domain.Account{UserID: txn.UserID}
		r.accounts[txn.UserID] = acc
	}
	acc.Balance += txn.Points
	if txn.Points > 0 {
		acc.TotalEarned += txn.Points
	}
	acc.UpdatedTime = txn.CreatedTime
	return nil
}

func (r *fakeAccountRepo) FindAccount(_ context.Context, userID int64) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	acc, ok := r.accounts[userID]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	copied := *acc
	return &copied, nil
}

func (r *fakeAccountRepo) FindTransactionsByOrderNo(_ context.Context, orderNo string) ([]*domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Transaction
	for _, t := range r.txns {
		if t.OrderNo == orderNo {
			out = append(out, t)
		}
	}
	return out, nil
}

func newPointsService(t *testing.T, repo *fakeAccountRepo, level int64) *PointsApplicationService {
	t.Helper()
	rule, err := NewEarnRule(DefaultEarnExpression)
	require.NoError(t, err)
	svc := NewPointsApplicationService(repo, rule, StaticLevelProvider(level), otel.Tracer("points-test"))
	svc.now = func() time.Time { return time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC) }
	return svc
}

func TestHandleOrderPaidGrantsPoints(t *testing.T) {
	t.Parallel()

	repo := newFakeAccountRepo()
	svc := newPointsService(t, repo, 1)
	ctx := context.Background()

	require.NoError(t, svc.HandleOrderPaid(ctx, "evt-1", 42, "SO1", 19900))

	acc, err := svc.GetAccount(ctx, 42)
	require.NoError(t, err)
	require.Equal(t, int64(199), acc.Balance)
	require.Equal(t, int64(199), acc.TotalEarned)
}

func TestHandleOrderPaidLevelMultiplier(t *testing.T) {
	t.Parallel()

	repo := newFakeAccountRepo()
	svc := newPointsService(t, repo, 3)
	ctx := context.Background()

	require.NoError(t, svc.HandleOrderPaid(ctx, "evt-1", 42, "SO1", 19900))

	acc, err := svc.GetAccount(ctx, 42)
	require.NoError(t, err)
	require.Equal(t, int64(398), acc.Balance)
}

func TestHandleOrderPaidReplayedEvent(t *testing.T) {
	t.Parallel()

	repo := newFakeAccountRepo()
	svc := newPointsService(t, repo, 1)
	ctx := context.Background()

	require.NoError(t, svc.HandleOrderPaid(ctx, "evt-1", 42, "SO1", 19900))

	// 消息重投：同一 eventID 只产生一条流水
	require.NoError(t, svc.HandleOrderPaid(ctx, "evt-1", 42, "SO1", 19900))

	acc, _ := svc.GetAccount(ctx, 42)
	require.Equal(t, int64(199), acc.Balance)
	require.Len(t, repo.txns, 1)
}

func TestHandleOrderPaidZeroPointsIsNoop(t *testing.T) {
	t.Parallel()

	repo := newFakeAccountRepo()
	svc := newPointsService(t, repo, 1)

	require.NoError(t, svc.HandleOrderPaid(context.Background(), "evt-1", 42, "SO1", 99))
	require.Empty(t, repo.txns)
}

func TestHandleOrderReversedRollsBackGrant(t *testing.T) {
	t.Parallel()

	repo := newFakeAccountRepo()
	svc := newPointsService(t, repo, 1)
	ctx := context.Background()

	require.NoError(t, svc.HandleOrderPaid(ctx, "evt-1", 42, "SO1", 19900))
	require.NoError(t, svc.HandleOrderReversed(ctx, "evt-2", 42, "SO1"))

	acc, _ := svc.GetAccount(ctx, 42)
	require.Equal(t, int64(0), acc.Balance)

	// 回收后再收到一次退款事件：净发放已归零，no-op
	require.NoError(t, svc.HandleOrderReversed(ctx, "evt-3", 42, "SO1"))
	require.Len(t, repo.txns, 2)
}

func TestHandleOrderReversedWithoutGrantIsNoop(t *testing.T) {
	t.Parallel()

	repo := newFakeAccountRepo()
	svc := newPointsService(t, repo, 1)

	// 没发过积分的订单（例如未支付就取消）回收是 no-op
	require.NoError(t, svc.HandleOrderReversed(context.Background(), "evt-1", 42, "SO1"))
	require.Empty(t, repo.txns)
}

func TestHandleOrderReversedBalanceCanGoNegative(t *testing.T) {
	t.Parallel()

	repo := newFakeAccountRepo()
	svc := newPointsService(t, repo, 1)
	ctx := context.Background()

	require.NoError(t, svc.HandleOrderPaid(ctx, "evt-1", 42, "SO1", 19900))

	// 用户把积分花掉了（余额直接扣到 50），之后订单退款
	repo.mu.Lock()
	repo.accounts[42].Balance = 50
	repo.mu.Unlock()

	require.NoError(t, svc.HandleOrderReversed(ctx, "evt-2", 42, "SO1"))

	acc, _ := svc.GetAccount(ctx, 42)
	require.Equal(t, int64(50-199), acc.Balance)
}
