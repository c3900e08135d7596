package resolver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mabruquaye/cardpay/internal/models"
	"github.com/mabruquaye/cardpay/internal/store"
)

func seed(t *testing.T, mem *store.Memory, id, owner, last4, holder string) {
	t.Helper()
	require.NoError(t, mem.Cards.Create(context.Background(), &models.Card{
		ID: id, OwnerID: owner, Last4: last4, HolderName: holder,
		Currency: "GHS", CreatedAt: time.Now(),
	}))
	time.Sleep(time.Millisecond) // keep CreatedAt ordering deterministic
}

func newResolver(t *testing.T, mem *store.Memory) *Resolver {
	t.Helper()
	r := New(mem.Cards, Config{}, nil)
	require.NoError(t, r.Warm(context.Background()))
	return r
}

func TestResolve_MatchesLast4AndName(t *testing.T) {
	mem := store.NewMemory()
	seed(t, mem, "c1", "bob", "2455", "Jane Doe")
	r := newResolver(t, mem)

	card, err := r.Resolve(context.Background(), "4111-2233-4455-2455", " jane DOE ")
	require.NoError(t, err)
	require.NotNil(t, card)
	assert.Equal(t, "c1", card.ID)
}

func TestResolve_NameOmittedFallsBackToLast4(t *testing.T) {
	mem := store.NewMemory()
	seed(t, mem, "c1", "bob", "2455", "Jane Doe")
	r := newResolver(t, mem)

	card, err := r.Resolve(context.Background(), "2455", "")
	require.NoError(t, err)
	require.NotNil(t, card)
	assert.Equal(t, "c1", card.ID)
}

func TestResolve_AmbiguousLast4NeedsNameAgreement(t *testing.T) {
	mem := store.NewMemory()
	seed(t, mem, "c1", "bob", "2455", "Jane Doe")
	seed(t, mem, "c2", "carol", "2455", "Carol Quansah")
	r := newResolver(t, mem)

	// Declared name matches neither candidate: external.
	card, err := r.Resolve(context.Background(), "2455", "Kwame Boateng")
	require.NoError(t, err)
	assert.Nil(t, card)

	// Declared name picks the right card out of the ambiguous pair.
	card, err = r.Resolve(context.Background(), "2455", "carol quansah")
	require.NoError(t, err)
	require.NotNil(t, card)
	assert.Equal(t, "c2", card.ID)
}

func TestResolve_FirstMatchWinsWithoutName(t *testing.T) {
	mem := store.NewMemory()
	seed(t, mem, "c1", "bob", "2455", "Jane Doe")
	seed(t, mem, "c2", "carol", "2455", "Carol Quansah")
	r := newResolver(t, mem)

	card, err := r.Resolve(context.Background(), "2455", "")
	require.NoError(t, err)
	require.NotNil(t, card)
	assert.Equal(t, "c1", card.ID)
}

func TestResolve_UnknownLast4IsExternal(t *testing.T) {
	mem := store.NewMemory()
	seed(t, mem, "c1", "bob", "2455", "Jane Doe")
	r := newResolver(t, mem)

	card, err := r.Resolve(context.Background(), "9999", "")
	require.NoError(t, err)
	assert.Nil(t, card)
}

func TestResolve_ShortDescriptorIsExternal(t *testing.T) {
	mem := store.NewMemory()
	seed(t, mem, "c1", "bob", "2455", "Jane Doe")
	r := newResolver(t, mem)

	for _, descriptor := range []string{"", "24", "2-4-5", "no digits here"} {
		card, err := r.Resolve(context.Background(), descriptor, "")
		require.NoError(t, err)
		assert.Nil(t, card, "descriptor %q", descriptor)
	}
}

func TestResolve_StripsNonDigits(t *testing.T) {
	mem := store.NewMemory()
	seed(t, mem, "c1", "bob", "2455", "Jane Doe")
	r := newResolver(t, mem)

	card, err := r.Resolve(context.Background(), " 4111 22-33 4455 24/55 ", "")
	require.NoError(t, err)
	require.NotNil(t, card)
	assert.Equal(t, "c1", card.ID)
}

func TestResolve_ObserveKeepsFilterCurrent(t *testing.T) {
	mem := store.NewMemory()
	seed(t, mem, "c1", "bob", "2455", "Jane Doe")
	r := newResolver(t, mem)

	// A card issued after warmup is invisible until observed.
	seed(t, mem, "c2", "carol", "9013", "Carol Quansah")
	card, err := r.Resolve(context.Background(), "9013", "")
	require.NoError(t, err)
	assert.Nil(t, card)

	r.Observe("9013")
	card, err = r.Resolve(context.Background(), "9013", "")
	require.NoError(t, err)
	require.NotNil(t, card)
	assert.Equal(t, "c2", card.ID)
}
