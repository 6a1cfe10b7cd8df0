package registry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ferreirogomes/tiquin-streams/ledger"
	"github.com/ferreirogomes/tiquin-streams/models"
	"github.com/ferreirogomes/tiquin-streams/registry"
	"github.com/ferreirogomes/tiquin-streams/storage"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	issuer = "issuer"
	owner  = "owner"
	tenant = "tenant"
)

type fixture struct {
	clock    *clock.Mock
	store    *storage.MemoryStore
	ledger   *ledger.Ledger
	registry *registry.Registry
	yield    models.Stream
}

// newFixture cria um ativo "villa-7" já tokenizado com um stream de rendimento para owner.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(time.Unix(1_700_000_000, 0))
	store := storage.NewMemoryStore()
	l := ledger.New(store, clk, zerolog.Nop())
	reg := registry.New(l, store, zerolog.Nop())

	yield, err := l.Create(context.Background(), issuer, owner, 365*24*3600*10, 365*24*3600)
	require.NoError(t, err)
	_, err = reg.RegisterYieldStream(context.Background(), "villa-7", yield.ID, "real_estate", "ipfs://villa-7")
	require.NoError(t, err)

	return &fixture{clock: clk, store: store, ledger: l, registry: reg, yield: yield}
}

func TestRegisterYieldStream(t *testing.T) {
	f := newFixture(t)

	entry, err := f.registry.Get("villa-7")
	require.NoError(t, err)
	assert.Equal(t, owner, entry.Owner)
	assert.Equal(t, "real_estate", entry.AssetType)
	require.NotNil(t, entry.YieldStreamID)
	assert.Equal(t, f.yield.ID, *entry.YieldStreamID)

	other, _ := f.ledger.Create(context.Background(), issuer, "someone", 1000, 100)
	_, err = f.registry.RegisterYieldStream(context.Background(), "villa-7", other.ID, "real_estate", "")
	assert.ErrorIs(t, err, registry.ErrYieldStreamExists)

	_, err = f.registry.RegisterYieldStream(context.Background(), "villa-8", f.yield.ID, "real_estate", "")
	assert.ErrorIs(t, err, registry.ErrStreamAlreadyUsed)

	_, err = f.registry.RegisterYieldStream(context.Background(), "villa-9", 999, "real_estate", "")
	assert.ErrorIs(t, err, ledger.ErrStreamNotFound)

	_, err = f.registry.RegisterYieldStream(context.Background(), " ", other.ID, "real_estate", "")
	assert.ErrorIs(t, err, registry.ErrInvalidAsset)

	byStream, ok := f.registry.AssetForStream(f.yield.ID)
	assert.True(t, ok)
	assert.Equal(t, "villa-7", byStream.AssetID)
}

func TestStartRentalPaysCurrentOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	entry, stream, err := f.registry.StartRental(ctx, "villa-7", tenant, 3600, 3600)
	require.NoError(t, err)
	assert.Equal(t, tenant, stream.Sender)
	assert.Equal(t, owner, stream.Recipient)
	require.NotNil(t, entry.RentalStreamID)
	assert.Equal(t, stream.ID, *entry.RentalStreamID)
	assert.Equal(t, []uint64{stream.ID}, entry.RentalHistory)

	rented, id := f.registry.GetActiveRental("villa-7")
	assert.True(t, rented)
	assert.Equal(t, stream.ID, id)
	assert.True(t, f.registry.CheckAccess(stream.ID, "villa-7"))
	assert.False(t, f.registry.CheckAccess(f.yield.ID, "villa-7"))
	assert.False(t, f.registry.CheckAccess(stream.ID, "villa-8"))

	_, _, err = f.registry.StartRental(ctx, "villa-7", "other-tenant", 3600, 3600)
	assert.ErrorIs(t, err, registry.ErrAlreadyRented)

	_, _, err = f.registry.StartRental(ctx, "nowhere", tenant, 3600, 3600)
	assert.ErrorIs(t, err, registry.ErrAssetNotFound)
}

func TestRentalExpiresNaturally(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, stream, err := f.registry.StartRental(ctx, "villa-7", tenant, 600, 60)
	require.NoError(t, err)

	f.clock.Add(59 * time.Second)
	assert.True(t, f.registry.CheckAccess(stream.ID, "villa-7"))

	f.clock.Add(time.Second)
	rented, id := f.registry.GetActiveRental("villa-7")
	assert.False(t, rented, "orçamento esgotado equivale a expiração")
	assert.Equal(t, stream.ID, id)
	assert.False(t, f.registry.CheckAccess(stream.ID, "villa-7"))

	cleared, err := f.registry.SweepExpiredRentals(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, cleared)

	entry, _ := f.registry.Get("villa-7")
	assert.Nil(t, entry.RentalStreamID)
	assert.Equal(t, []uint64{stream.ID}, entry.RentalHistory)

	_, next, err := f.registry.StartRental(ctx, "villa-7", "tenant-2", 600, 60)
	require.NoError(t, err)
	assert.NotEqual(t, stream.ID, next.ID)

	historic, ok := f.registry.AssetForStream(stream.ID)
	assert.True(t, ok)
	assert.Equal(t, "villa-7", historic.AssetID)
}

func TestEndRentalSettlesAndClearsLink(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, stream, err := f.registry.StartRental(ctx, "villa-7", tenant, 1000, 100)
	require.NoError(t, err)
	f.clock.Add(40 * time.Second)

	_, err = f.registry.EndRental(ctx, "villa-7", "stranger")
	assert.ErrorIs(t, err, ledger.ErrUnauthorized)

	receipt, err := f.registry.EndRental(ctx, "villa-7", tenant)
	require.NoError(t, err)
	assert.Equal(t, int64(400), receipt.PaidTo(owner))
	assert.Equal(t, int64(600), receipt.PaidTo(tenant))

	rented, _ := f.registry.GetActiveRental("villa-7")
	assert.False(t, rented)
	assert.False(t, f.registry.CheckAccess(stream.ID, "villa-7"))

	_, err = f.registry.EndRental(ctx, "villa-7", tenant)
	assert.ErrorIs(t, err, registry.ErrNoActiveRental)
}

func TestFlashAdvanceExhaustingEscrowRevokesAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, stream, err := f.registry.StartRental(ctx, "villa-7", tenant, 1000, 100)
	require.NoError(t, err)

	_, err = f.ledger.FlashAdvance(ctx, stream.ID, owner, 1000)
	require.NoError(t, err)
	assert.False(t, f.registry.CheckAccess(stream.ID, "villa-7"))
}

func TestFrozenRentalDeniesAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, stream, err := f.registry.StartRental(ctx, "villa-7", tenant, 1000, 100)
	require.NoError(t, err)
	_, err = f.ledger.Freeze(ctx, stream.ID, "disputa")
	require.NoError(t, err)

	assert.False(t, f.registry.CheckAccess(stream.ID, "villa-7"))
	rented, _ := f.registry.GetActiveRental("villa-7")
	assert.False(t, rented)
}

func TestTransferOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.registry.StartRental(ctx, "villa-7", tenant, 1000, 100)
	require.NoError(t, err)
	_, err = f.registry.TransferOwnership(ctx, "villa-7", "buyer")
	assert.ErrorIs(t, err, registry.ErrAlreadyRented)

	_, err = f.registry.EndRental(ctx, "villa-7", owner)
	require.NoError(t, err)

	entry, err := f.registry.TransferOwnership(ctx, "villa-7", "buyer")
	require.NoError(t, err)
	assert.Equal(t, "buyer", entry.Owner)
	assert.Equal(t, f.yield.ID, *entry.YieldStreamID)

	_, next, err := f.registry.StartRental(ctx, "villa-7", tenant, 1000, 100)
	require.NoError(t, err)
	assert.Equal(t, "buyer", next.Recipient)

	_, err = f.registry.TransferOwnership(ctx, "villa-7", "")
	assert.ErrorIs(t, err, ledger.ErrInvalidPrincipal)
}

func TestRegistryReloadsFromStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, stream, err := f.registry.StartRental(ctx, "villa-7", tenant, 1000, 100)
	require.NoError(t, err)

	l := ledger.New(f.store, f.clock, zerolog.Nop())
	require.NoError(t, l.Load(ctx))
	reg := registry.New(l, f.store, zerolog.Nop())
	require.NoError(t, reg.Load(ctx))

	rented, id := reg.GetActiveRental("villa-7")
	assert.True(t, rented)
	assert.Equal(t, stream.ID, id)
	assert.Len(t, reg.List(), 1)
}

type failingAssetStore struct {
	*storage.MemoryStore
	fail bool
}

func (s *failingAssetStore) SaveAsset(ctx context.Context, entry models.TokenIndexEntry) error {
	if s.fail {
		return errors.New("postgres indisponível")
	}
	return s.MemoryStore.SaveAsset(ctx, entry)
}

func TestStartRentalRollsBackStreamWhenLinkFails(t *testing.T) {
	clk := clock.NewMock()
	mem := storage.NewMemoryStore()
	store := &failingAssetStore{MemoryStore: mem}
	l := ledger.New(mem, clk, zerolog.Nop())
	reg := registry.New(l, store, zerolog.Nop())
	ctx := context.Background()

	yield, _ := l.Create(ctx, issuer, owner, 1000, 100)
	_, err := reg.RegisterYieldStream(ctx, "car-1", yield.ID, "vehicle", "")
	require.NoError(t, err)

	store.fail = true
	_, _, err = reg.StartRental(ctx, "car-1", tenant, 500, 50)
	require.Error(t, err)

	orphan, err := l.Get(yield.ID + 1)
	require.NoError(t, err)
	assert.Equal(t, models.StreamCancelled, orphan.Status)
	assert.Equal(t, int64(500), orphan.AmountRefunded)

	rented, _ := reg.GetActiveRental("car-1")
	assert.False(t, rented)
}
