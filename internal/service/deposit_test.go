package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mabruquaye/cardpay/internal/errs"
	"github.com/mabruquaye/cardpay/internal/models"
	"github.com/mabruquaye/cardpay/internal/store"
)

type checkerFunc func(ctx context.Context, tx *models.Transaction) error

func (f checkerFunc) Confirm(ctx context.Context, tx *models.Transaction) error { return f(ctx, tx) }

type depositFixture struct {
	mem      *store.Memory
	workflow *DepositWorkflow
}

func newDepositFixture(t *testing.T, checker ConfirmationChecker) *depositFixture {
	t.Helper()
	mem := store.NewMemory()
	seedCard(t, mem, models.Card{
		ID: "card-dep", OwnerID: "alice", Balance: 1000,
		Last4: "1111", HolderName: "Alice Mensah",
	})

	wf := NewDepositWorkflow(mem.Cards, mem.Transactions,
		NewNotifier(mem.Notifications, nil), nil, checker,
		DepositConfig{Config: testConfig(), Expiry: 24 * time.Hour}, nil)

	return &depositFixture{mem: mem, workflow: wf}
}

func (f *depositFixture) balance(t *testing.T) int64 {
	t.Helper()
	card, err := f.mem.Cards.Get(context.Background(), "card-dep")
	require.NoError(t, err)
	return card.Balance
}

func TestDeposit_CashIsImmediate(t *testing.T) {
	f := newDepositFixture(t, nil)
	ctx := context.Background()

	resp, err := f.workflow.Create(ctx, "alice", models.DepositRequest{
		Amount: 500, Currency: testCurrency, CardID: "card-dep", EscrowMethod: MethodCash,
	})
	require.NoError(t, err)

	assert.Equal(t, "completed", resp.Status)
	require.NotNil(t, resp.NewBalance)
	assert.Equal(t, int64(1500), *resp.NewBalance)
	assert.NotEmpty(t, resp.ConfirmationID)
	assert.Nil(t, resp.Instructions)
	assert.Equal(t, int64(1500), f.balance(t))

	tx, err := f.mem.Transactions.Get(ctx, resp.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, tx.Status)
	assert.Equal(t, int64(500), tx.Amount)
	assert.Nil(t, tx.PendingUntil)

	notes, err := f.mem.Notifications.ListByOwner(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, notes, 1)
}

func TestDeposit_EscrowIsPending(t *testing.T) {
	f := newDepositFixture(t, nil)
	ctx := context.Background()

	now := time.Now()
	f.workflow.now = func() time.Time { return now }

	resp, err := f.workflow.Create(ctx, "alice", models.DepositRequest{
		Amount: 500, Currency: testCurrency, CardID: "card-dep",
		EscrowMethod: MethodMomo, MobileNetwork: "MTN", MobileNumber: "0244000000",
	})
	require.NoError(t, err)

	assert.Equal(t, "pending", resp.Status)
	assert.Nil(t, resp.NewBalance)
	require.NotNil(t, resp.Instructions)
	assert.Equal(t, MethodMomo, resp.Instructions.Method)
	assert.NotEmpty(t, resp.Instructions.Reference)
	assert.NotEmpty(t, resp.Instructions.Steps)
	require.NotNil(t, resp.ExpiresAt)
	assert.Equal(t, now.Add(24*time.Hour), *resp.ExpiresAt)

	// Balance untouched until confirmation.
	assert.Equal(t, int64(1000), f.balance(t))
}

func TestDeposit_ConfirmCreditsOnce(t *testing.T) {
	f := newDepositFixture(t, nil)
	ctx := context.Background()

	created, err := f.workflow.Create(ctx, "alice", models.DepositRequest{
		Amount: 500, Currency: testCurrency, CardID: "card-dep", EscrowMethod: MethodBank,
	})
	require.NoError(t, err)

	confirmed, err := f.workflow.Confirm(ctx, "alice", created.ID)
	require.NoError(t, err)
	assert.Equal(t, "completed", confirmed.Status)
	assert.Equal(t, int64(1500), confirmed.NewBalance)
	assert.Equal(t, created.Instructions.Reference, confirmed.ConfirmationID)

	// Second confirm is a no-op returning the settled state.
	again, err := f.workflow.Confirm(ctx, "alice", created.ID)
	require.NoError(t, err)
	assert.Equal(t, "completed", again.Status)
	assert.Equal(t, int64(1500), again.NewBalance)
	assert.Equal(t, confirmed.ConfirmationID, again.ConfirmationID)
	assert.Equal(t, int64(1500), f.balance(t))
}

func TestDeposit_ConcurrentConfirmsCreditOnce(t *testing.T) {
	// Hold both confirms at the checker so each reads the record while it is
	// still pending, then race them to the status transition. Only the winner
	// may credit the card.
	var barrier sync.WaitGroup
	barrier.Add(2)
	f := newDepositFixture(t, checkerFunc(func(ctx context.Context, tx *models.Transaction) error {
		barrier.Done()
		barrier.Wait()
		return nil
	}))
	ctx := context.Background()

	created, err := f.workflow.Create(ctx, "alice", models.DepositRequest{
		Amount: 500, Currency: testCurrency, CardID: "card-dep", EscrowMethod: MethodBank,
	})
	require.NoError(t, err)

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := f.workflow.Confirm(ctx, "alice", created.ID)
			results <- err
		}()
	}

	var ok, conflicts int
	for i := 0; i < 2; i++ {
		err := <-results
		if err == nil {
			ok++
			continue
		}
		require.Equal(t, errs.KindConflict, errs.KindOf(err))
		conflicts++
	}
	assert.Equal(t, 1, ok, "exactly one confirm may settle")
	assert.Equal(t, 1, conflicts)
	assert.Equal(t, int64(1500), f.balance(t))

	tx, err := f.mem.Transactions.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, tx.Status)
}

func TestDeposit_ConfirmAfterExpiryFails(t *testing.T) {
	f := newDepositFixture(t, nil)
	ctx := context.Background()

	created, err := f.workflow.Create(ctx, "alice", models.DepositRequest{
		Amount: 500, Currency: testCurrency, CardID: "card-dep", EscrowMethod: MethodBank,
	})
	require.NoError(t, err)

	f.workflow.now = func() time.Time { return time.Now().Add(25 * time.Hour) }

	_, err = f.workflow.Confirm(ctx, "alice", created.ID)
	require.Error(t, err)
	assert.Equal(t, "deposit_expired", errs.CodeOf(err))
	assert.Equal(t, int64(1000), f.balance(t))

	tx, terr := f.mem.Transactions.Get(ctx, created.ID)
	require.NoError(t, terr)
	assert.Equal(t, models.StatusFailed, tx.Status)
	assert.Equal(t, "expired", tx.FailureReason)

	// Expired stays failed on retry.
	_, err = f.workflow.Confirm(ctx, "alice", created.ID)
	assert.Equal(t, errs.KindConflict, errs.KindOf(err))
}

func TestDeposit_ConfirmRejection(t *testing.T) {
	f := newDepositFixture(t, checkerFunc(func(context.Context, *models.Transaction) error {
		return Reject("reference not found")
	}))
	ctx := context.Background()

	created, err := f.workflow.Create(ctx, "alice", models.DepositRequest{
		Amount: 500, Currency: testCurrency, CardID: "card-dep", EscrowMethod: MethodBank,
	})
	require.NoError(t, err)

	_, err = f.workflow.Confirm(ctx, "alice", created.ID)
	require.Error(t, err)
	assert.Equal(t, "payment_failed", errs.CodeOf(err))
	assert.Equal(t, int64(1000), f.balance(t))

	tx, terr := f.mem.Transactions.Get(ctx, created.ID)
	require.NoError(t, terr)
	assert.Equal(t, models.StatusFailed, tx.Status)
	assert.Contains(t, tx.FailureReason, "reference not found")
}

func TestDeposit_BreakerOpensOnNetworkFailures(t *testing.T) {
	calls := 0
	f := newDepositFixture(t, checkerFunc(func(context.Context, *models.Transaction) error {
		calls++
		return errors.New("connection refused")
	}))
	ctx := context.Background()

	// Each failed confirmation marks its deposit failed; make a fresh one
	// per attempt until the breaker trips.
	var lastErr error
	for i := 0; i < 8; i++ {
		created, err := f.workflow.Create(ctx, "alice", models.DepositRequest{
			Amount: 10, Currency: testCurrency, CardID: "card-dep", EscrowMethod: MethodBank,
		})
		require.NoError(t, err)
		_, lastErr = f.workflow.Confirm(ctx, "alice", created.ID)
		require.Error(t, lastErr)
	}

	assert.Equal(t, errs.KindIntegrity, errs.KindOf(lastErr))
	assert.Equal(t, "confirmation_unavailable", errs.CodeOf(lastErr))
	assert.Less(t, calls, 8, "breaker should stop calling the checker")
}

func TestDeposit_ValidationAndOwnership(t *testing.T) {
	f := newDepositFixture(t, nil)
	ctx := context.Background()

	_, err := f.workflow.Create(ctx, "alice", models.DepositRequest{
		Amount: 500, Currency: "USD", CardID: "card-dep", EscrowMethod: MethodCash,
	})
	assert.Equal(t, "unsupported_currency", errs.CodeOf(err))

	_, err = f.workflow.Create(ctx, "alice", models.DepositRequest{
		Amount: 500, Currency: testCurrency, CardID: "card-dep", EscrowMethod: "cheque",
	})
	assert.Equal(t, "invalid_method", errs.CodeOf(err))

	_, err = f.workflow.Create(ctx, "alice", models.DepositRequest{
		Amount: 500, Currency: testCurrency, CardID: "card-dep", EscrowMethod: MethodMomo,
	})
	assert.Equal(t, "missing_mobile_number", errs.CodeOf(err))

	_, err = f.workflow.Create(ctx, "mallory", models.DepositRequest{
		Amount: 500, Currency: testCurrency, CardID: "card-dep", EscrowMethod: MethodCash,
	})
	assert.Equal(t, errs.KindAuthorization, errs.KindOf(err))

	_, err = f.workflow.Confirm(ctx, "alice", "nope")
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))

	created, err := f.workflow.Create(ctx, "alice", models.DepositRequest{
		Amount: 500, Currency: testCurrency, CardID: "card-dep", EscrowMethod: MethodBank,
	})
	require.NoError(t, err)
	_, err = f.workflow.Confirm(ctx, "mallory", created.ID)
	assert.Equal(t, errs.KindAuthorization, errs.KindOf(err))
}
