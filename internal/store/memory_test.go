package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mabruquaye/cardpay/internal/models"
)

func newCard(id, owner string, balance int64) *models.Card {
	return &models.Card{
		ID:              id,
		OwnerID:         owner,
		Balance:         balance,
		OriginalCeiling: balance,
		Last4:           "1111",
		HolderName:      "Ama Serwaa",
		Currency:        "GHS",
		CreatedAt:       time.Now(),
	}
}

func TestCardMem_ApplyDelta(t *testing.T) {
	ctx := context.Background()

	t.Run("debit and credit move the balance", func(t *testing.T) {
		mem := NewMemory()
		require.NoError(t, mem.Cards.Create(ctx, newCard("c1", "alice", 1000)))

		bal, err := mem.Cards.ApplyDelta(ctx, "c1", -400, false)
		require.NoError(t, err)
		assert.Equal(t, int64(600), bal)

		bal, err = mem.Cards.ApplyDelta(ctx, "c1", 150, false)
		require.NoError(t, err)
		assert.Equal(t, int64(750), bal)
	})

	t.Run("overdraw is rejected, not clamped", func(t *testing.T) {
		mem := NewMemory()
		require.NoError(t, mem.Cards.Create(ctx, newCard("c1", "alice", 1000)))

		_, err := mem.Cards.ApplyDelta(ctx, "c1", -1001, false)
		assert.ErrorIs(t, err, ErrInsufficientFunds)

		card, err := mem.Cards.Get(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, int64(1000), card.Balance, "failed delta must not touch the balance")
	})

	t.Run("credit clamps at the original ceiling when asked", func(t *testing.T) {
		mem := NewMemory()
		card := newCard("c1", "alice", 1000)
		require.NoError(t, mem.Cards.Create(ctx, card))
		_, err := mem.Cards.ApplyDelta(ctx, "c1", -300, false)
		require.NoError(t, err)

		bal, err := mem.Cards.ApplyDelta(ctx, "c1", 500, true)
		require.NoError(t, err)
		assert.Equal(t, int64(1000), bal)

		// Without the clamp the same credit may exceed the ceiling.
		bal, err = mem.Cards.ApplyDelta(ctx, "c1", 500, false)
		require.NoError(t, err)
		assert.Equal(t, int64(1500), bal)
	})

	t.Run("each write bumps the version", func(t *testing.T) {
		mem := NewMemory()
		require.NoError(t, mem.Cards.Create(ctx, newCard("c1", "alice", 1000)))

		_, err := mem.Cards.ApplyDelta(ctx, "c1", -100, false)
		require.NoError(t, err)
		_, err = mem.Cards.ApplyDelta(ctx, "c1", 50, false)
		require.NoError(t, err)

		card, err := mem.Cards.Get(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, int64(2), card.Version)
	})

	t.Run("unknown card", func(t *testing.T) {
		mem := NewMemory()
		_, err := mem.Cards.ApplyDelta(ctx, "missing", -100, false)
		assert.ErrorIs(t, err, ErrCardNotFound)
	})
}

func TestCardMem_GetByToken(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	card := newCard("c1", "alice", 1000)
	card.Token = "tok_ama_1111"
	require.NoError(t, mem.Cards.Create(ctx, card))

	got, err := mem.Cards.GetByToken(ctx, "tok_ama_1111")
	require.NoError(t, err)
	assert.Equal(t, "c1", got.ID)

	_, err = mem.Cards.GetByToken(ctx, "tok_unknown")
	assert.ErrorIs(t, err, ErrCardNotFound)
}

func seedTx(t *testing.T, mem *Memory, id, owner, cardID string, kind models.TransactionKind, status models.TransactionStatus) {
	t.Helper()
	require.NoError(t, mem.Transactions.Append(context.Background(), &models.Transaction{
		ID: id, OwnerID: owner, CardID: cardID, Kind: kind, Status: status,
		Amount: -100, Currency: "GHS", CreatedAt: time.Now(),
	}))
}

func TestTransactionMem_ListFiltersAndPaginates(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()

	seedTx(t, mem, "t1", "alice", "c1", models.KindTransfer, models.StatusCompleted)
	seedTx(t, mem, "t2", "alice", "c1", models.KindDeposit, models.StatusPending)
	seedTx(t, mem, "t3", "alice", "c2", models.KindTransfer, models.StatusFailed)
	seedTx(t, mem, "t4", "bob", "c9", models.KindTransfer, models.StatusCompleted)
	seedTx(t, mem, "t5", "alice", "c1", models.KindTransfer, models.StatusCompleted)

	t.Run("owner scope, newest first", func(t *testing.T) {
		records, next, err := mem.Transactions.List(ctx, TransactionFilter{OwnerID: "alice"}, "", 10)
		require.NoError(t, err)
		require.Len(t, records, 4)
		assert.Equal(t, "t5", records[0].ID)
		assert.Equal(t, "t1", records[3].ID)
		assert.Empty(t, next)
	})

	t.Run("kind and status filters", func(t *testing.T) {
		records, _, err := mem.Transactions.List(ctx, TransactionFilter{OwnerID: "alice", Kind: models.KindDeposit}, "", 10)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "t2", records[0].ID)

		records, _, err = mem.Transactions.List(ctx, TransactionFilter{OwnerID: "alice", Status: models.StatusFailed}, "", 10)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "t3", records[0].ID)
	})

	t.Run("card filter", func(t *testing.T) {
		records, _, err := mem.Transactions.List(ctx, TransactionFilter{OwnerID: "alice", CardID: "c2"}, "", 10)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "t3", records[0].ID)
	})

	t.Run("cursor walks the full set without overlap", func(t *testing.T) {
		page1, next, err := mem.Transactions.List(ctx, TransactionFilter{OwnerID: "alice"}, "", 2)
		require.NoError(t, err)
		require.Len(t, page1, 2)
		require.NotEmpty(t, next)
		assert.Equal(t, []string{"t5", "t3"}, []string{page1[0].ID, page1[1].ID})

		page2, next2, err := mem.Transactions.List(ctx, TransactionFilter{OwnerID: "alice"}, next, 2)
		require.NoError(t, err)
		require.Len(t, page2, 2)
		assert.Equal(t, []string{"t2", "t1"}, []string{page2[0].ID, page2[1].ID})

		if next2 != "" {
			page3, _, err := mem.Transactions.List(ctx, TransactionFilter{OwnerID: "alice"}, next2, 2)
			require.NoError(t, err)
			assert.Empty(t, page3)
		}
	})

	t.Run("bad cursor", func(t *testing.T) {
		_, _, err := mem.Transactions.List(ctx, TransactionFilter{OwnerID: "alice"}, "!!not-base64!!", 2)
		assert.ErrorIs(t, err, ErrInvalidCursor)
	})
}

func TestTransactionMem_Transition(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	seedTx(t, mem, "t1", "alice", "c1", models.KindDeposit, models.StatusPending)

	require.NoError(t, mem.Transactions.Transition(ctx, "t1", models.StatusPending, models.StatusFailed, "expired"))
	tx, err := mem.Transactions.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, tx.Status)
	assert.Equal(t, "expired", tx.FailureReason)

	// The record already left pending; a second transition must lose and
	// leave it untouched.
	err = mem.Transactions.Transition(ctx, "t1", models.StatusPending, models.StatusCompleted, "")
	assert.ErrorIs(t, err, ErrStatusConflict)
	tx, err = mem.Transactions.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, tx.Status)
	assert.Equal(t, "expired", tx.FailureReason)

	assert.ErrorIs(t, mem.Transactions.Transition(ctx, "missing", models.StatusPending, models.StatusFailed, ""), ErrTransactionNotFound)
}

func TestNotificationMem(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()

	require.NoError(t, mem.Notifications.Append(ctx, &models.Notification{ID: "n1", OwnerID: "alice", Message: "first", Unread: true}))
	require.NoError(t, mem.Notifications.Append(ctx, &models.Notification{ID: "n2", OwnerID: "alice", Message: "second", Unread: true}))
	require.NoError(t, mem.Notifications.Append(ctx, &models.Notification{ID: "n3", OwnerID: "bob", Message: "other", Unread: true}))

	list, err := mem.Notifications.ListByOwner(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "n2", list[0].ID, "newest first")

	require.NoError(t, mem.Notifications.MarkRead(ctx, "n1", "alice"))
	list, err = mem.Notifications.ListByOwner(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, list[1].Unread)

	// Marking another owner's notification must not be possible.
	assert.ErrorIs(t, mem.Notifications.MarkRead(ctx, "n3", "alice"), ErrNotificationNotFound)
}
