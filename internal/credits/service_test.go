package credits

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadninja/leadninja-api/internal/models"
	"github.com/leadninja/leadninja-api/internal/repository"
)

// fakeLedger is an in-memory CreditRepository with the same locking
// discipline as the Postgres implementation: one mutex standing in for the
// per-user row lock.
type fakeLedger struct {
	mu       sync.Mutex
	balances map[string]*models.CreditBalance
	txs      []models.CreditTransaction
	refs     map[string]bool
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		balances: make(map[string]*models.CreditBalance),
		refs:     make(map[string]bool),
	}
}

func (f *fakeLedger) seed(userID string, balance int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[userID] = &models.CreditBalance{UserID: userID, Balance: balance}
}

func (f *fakeLedger) balanceLocked(userID string) *models.CreditBalance {
	if b, ok := f.balances[userID]; ok {
		return b
	}
	b := &models.CreditBalance{UserID: userID}
	f.balances[userID] = b
	return b
}

func (f *fakeLedger) appendTxLocked(userID string, amount, after int, txType models.TransactionType, ref *repository.TxRef) {
	tx := models.CreditTransaction{UserID: userID, Amount: amount, BalanceAfter: after, Type: txType}
	if ref != nil {
		tx.ReferenceType = &ref.Type
		tx.ReferenceID = &ref.ID
	}
	f.txs = append(f.txs, tx)
}

func (f *fakeLedger) GetBalance(ctx context.Context, userID string) (models.CreditBalance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.balanceLocked(userID), nil
}

func (f *fakeLedger) Deduct(ctx context.Context, userID string, amount int, txType models.TransactionType, description string) (models.CreditBalance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b := f.balanceLocked(userID)
	if b.Balance < amount {
		return *b, repository.ErrBalanceTooLow
	}
	b.Balance -= amount
	b.UsedThisPeriod += amount
	f.appendTxLocked(userID, -amount, b.Balance, txType, nil)
	return *b, nil
}

func (f *fakeLedger) Add(ctx context.Context, userID string, amount int, txType models.TransactionType, description string, ref *repository.TxRef) (models.CreditBalance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if ref != nil {
		key := ref.Type + "/" + ref.ID
		if f.refs[key] {
			return models.CreditBalance{}, repository.ErrDuplicateReference
		}
		f.refs[key] = true
	}
	b := f.balanceLocked(userID)
	b.Balance += amount
	f.appendTxLocked(userID, amount, b.Balance, txType, ref)
	return *b, nil
}

func (f *fakeLedger) ResetPeriod(ctx context.Context, userID string, newBalance int, periodStart, periodEnd time.Time, ref *repository.TxRef) (models.CreditBalance, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b := f.balanceLocked(userID)
	if ref != nil {
		key := ref.Type + "/" + ref.ID
		if f.refs[key] {
			return *b, false, nil
		}
		f.refs[key] = true
	}
	b.Balance = newBalance
	b.UsedThisPeriod = 0
	b.PeriodStart = periodStart
	b.PeriodEnd = periodEnd
	f.appendTxLocked(userID, newBalance, b.Balance, models.TransactionTypeSubscriptionRenewal, ref)
	return *b, true, nil
}

func (f *fakeLedger) CapBalance(ctx context.Context, userID string, ceiling int, description string) (models.CreditBalance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b := f.balanceLocked(userID)
	if b.Balance <= ceiling {
		return *b, nil
	}
	removed := b.Balance - ceiling
	b.Balance = ceiling
	f.appendTxLocked(userID, -removed, b.Balance, models.TransactionTypeAdjustment, nil)
	return *b, nil
}

func (f *fakeLedger) ListTransactions(ctx context.Context, userID string, limit, offset int) ([]models.CreditTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []models.CreditTransaction
	for _, tx := range f.txs {
		if tx.UserID == userID {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (f *fakeLedger) HasTransactionRef(ctx context.Context, ref repository.TxRef) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refs[ref.Type+"/"+ref.ID], nil
}

func newTestService(repo repository.CreditRepository, enabled bool) *Service {
	return NewService(repo, enabled, zerolog.Nop())
}

func TestCheckAndDeductInsufficient(t *testing.T) {
	ledger := newFakeLedger()
	ledger.seed("u1", 50)
	svc := newTestService(ledger, true)

	_, err := svc.CheckAndDeduct(context.Background(), "u1", 80, "find emails")
	require.Error(t, err)

	var insufficient *ErrInsufficientCredits
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 50, insufficient.Balance)
	assert.Equal(t, 80, insufficient.Needed)

	// The failed check must not move the balance or write a ledger entry.
	balance, err := svc.Balance(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 50, balance.Balance)
	assert.Empty(t, ledger.txs)
}

func TestCheckAndDeductSuccess(t *testing.T) {
	ledger := newFakeLedger()
	ledger.seed("u1", 200)
	svc := newTestService(ledger, true)

	balance, err := svc.CheckAndDeduct(context.Background(), "u1", 80, "find emails")
	require.NoError(t, err)
	assert.Equal(t, 120, balance.Balance)
	assert.Equal(t, 80, balance.UsedThisPeriod)

	require.Len(t, ledger.txs, 1)
	assert.Equal(t, -80, ledger.txs[0].Amount)
	assert.Equal(t, 120, ledger.txs[0].BalanceAfter)
	assert.Equal(t, models.TransactionTypeUsage, ledger.txs[0].Type)
}

func TestCheckAndDeductConcurrent(t *testing.T) {
	ledger := newFakeLedger()
	ledger.seed("u1", 100)
	svc := newTestService(ledger, true)

	// Two debits of 80 against 100: exactly one may win.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.CheckAndDeduct(context.Background(), "u1", 80, "race")
		}(i)
	}
	wg.Wait()

	var failures int
	for _, err := range errs {
		if err != nil {
			failures++
			var insufficient *ErrInsufficientCredits
			require.ErrorAs(t, err, &insufficient)
		}
	}
	assert.Equal(t, 1, failures)

	balance, err := svc.Balance(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 20, balance.Balance)
	assert.GreaterOrEqual(t, balance.Balance, 0)
}

func TestCheckAndDeductZeroAmount(t *testing.T) {
	ledger := newFakeLedger()
	ledger.seed("u1", 10)
	svc := newTestService(ledger, true)

	balance, err := svc.CheckAndDeduct(context.Background(), "u1", 0, "clean leads")
	require.NoError(t, err)
	assert.Equal(t, 10, balance.Balance)
	assert.Empty(t, ledger.txs)
}

func TestMeteringDisabledNeverTouchesLedger(t *testing.T) {
	ledger := newFakeLedger()
	ledger.seed("u1", 5)
	svc := newTestService(ledger, false)

	ctx := context.Background()
	_, err := svc.CheckAndDeduct(ctx, "u1", 1000, "huge job")
	require.NoError(t, err)

	_, err = svc.Add(ctx, "u1", 500, models.TransactionTypePurchase, "topup", nil)
	require.NoError(t, err)

	_, err = svc.ResetPeriod(ctx, "u1", 50, time.Now(), time.Now().AddDate(0, 1, 0), repository.TxRef{Type: "subscription_renewal", ID: "in_1"})
	require.NoError(t, err)

	_, err = svc.CapBalance(ctx, "u1", 1, "downgrade")
	require.NoError(t, err)

	balance, err := ledger.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 5, balance.Balance)
	assert.Empty(t, ledger.txs)
}

func TestAddDuplicateReferenceIsNoOp(t *testing.T) {
	ledger := newFakeLedger()
	ledger.seed("u1", 10)
	svc := newTestService(ledger, true)

	ref := &repository.TxRef{Type: "purchase", ID: "pi_123"}
	balance, err := svc.Add(context.Background(), "u1", 100, models.TransactionTypePurchase, "topup", ref)
	require.NoError(t, err)
	assert.Equal(t, 110, balance.Balance)

	// Redelivered event: same outcome reported, no second grant.
	balance, err = svc.Add(context.Background(), "u1", 100, models.TransactionTypePurchase, "topup", ref)
	require.NoError(t, err)
	assert.Equal(t, 110, balance.Balance)
	assert.Len(t, ledger.txs, 1)
}

func TestResetPeriodDuplicateReference(t *testing.T) {
	ledger := newFakeLedger()
	ledger.seed("u1", 3)
	svc := newTestService(ledger, true)

	start := time.Now()
	end := start.AddDate(0, 1, 0)
	ref := repository.TxRef{Type: "subscription_renewal", ID: "in_42"}

	balance, err := svc.ResetPeriod(context.Background(), "u1", 500, start, end, ref)
	require.NoError(t, err)
	assert.Equal(t, 500, balance.Balance)
	assert.Equal(t, 0, balance.UsedThisPeriod)

	// Spend some, then redeliver the renewal: spend must survive.
	_, err = svc.CheckAndDeduct(context.Background(), "u1", 120, "jobs")
	require.NoError(t, err)

	balance, err = svc.ResetPeriod(context.Background(), "u1", 500, start, end, ref)
	require.NoError(t, err)
	assert.Equal(t, 380, balance.Balance)
}

func TestCapBalance(t *testing.T) {
	ledger := newFakeLedger()
	svc := newTestService(ledger, true)

	ledger.seed("u1", 1800)
	balance, err := svc.CapBalance(context.Background(), "u1", 50, "downgrade to free")
	require.NoError(t, err)
	assert.Equal(t, 50, balance.Balance)

	// Already under the ceiling: untouched, no adjustment written.
	ledger.seed("u2", 30)
	before := len(ledger.txs)
	balance, err = svc.CapBalance(context.Background(), "u2", 50, "downgrade to free")
	require.NoError(t, err)
	assert.Equal(t, 30, balance.Balance)
	assert.Len(t, ledger.txs, before)
}
