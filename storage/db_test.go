package storage_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/ferreirogomes/tiquin-streams/models"
	"github.com/ferreirogomes/tiquin-streams/storage"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTestDB conecta ao Postgres de teste; sem DATABASE_URL_TEST o teste é pulado.
func openTestDB(t *testing.T) *storage.DB {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL_TEST")
	if dsn == "" {
		t.Skip("DATABASE_URL_TEST não definido")
	}
	db, err := storage.NewDB(dsn)
	require.NoError(t, err)
	_, err = db.Exec(`TRUNCATE asset_rentals, asset_index, transfers, streams`)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestDBStreamRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	stream := models.Stream{
		ID: 1, Sender: "sender", Recipient: "recipient", TotalAmount: 1000, FlowRate: 10,
		StartTime: 100, StopTime: 200, Status: models.StreamActive, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, db.SaveStream(ctx, stream, nil))

	stream.AmountWithdrawn = 300
	claim := models.Transfer{
		ID: uuid.New().String(), StreamID: 1, Kind: models.TransferClaim, Beneficiary: "recipient",
		Amount: 300, Status: models.TransferPending, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, db.SaveStream(ctx, stream, []models.Transfer{claim}))

	streams, err := db.ListStreams(ctx)
	require.NoError(t, err)
	require.Len(t, streams, 1)
	assert.Equal(t, int64(300), streams[0].AmountWithdrawn)
	assert.Equal(t, models.StreamActive, streams[0].Status)

	pending, err := db.TransfersByStatus(ctx, models.TransferPending, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, claim.ID, pending[0].ID)

	pending[0].Status = models.TransferConfirmed
	pending[0].Signature = "5x"
	require.NoError(t, db.UpdateTransfer(ctx, pending[0]))
	history, err := db.TransfersByStream(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.TransferConfirmed, history[0].Status)
}

func TestDBRejectsOverdrawnStream(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	now := time.Now()

	stream := models.Stream{
		ID: 1, Sender: "s", Recipient: "r", TotalAmount: 100, FlowRate: 1,
		StartTime: 0, StopTime: 100, AmountWithdrawn: 101, Status: models.StreamActive, CreatedAt: now, UpdatedAt: now,
	}
	assert.Error(t, db.SaveStream(ctx, stream, nil))
}

func TestDBAssetIndexRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	for id := uint64(1); id <= 2; id++ {
		require.NoError(t, db.SaveStream(ctx, models.Stream{
			ID: id, Sender: "s", Recipient: "owner", TotalAmount: 100, FlowRate: 1,
			StartTime: 0, StopTime: 100, Status: models.StreamActive, CreatedAt: now, UpdatedAt: now,
		}, nil))
	}

	yield, rental := uint64(1), uint64(2)
	entry := models.TokenIndexEntry{
		AssetID: "villa-1", AssetType: "real_estate", MetadataURI: "ipfs://villa", Owner: "owner",
		YieldStreamID: &yield, RentalStreamID: &rental, RentalHistory: []uint64{2},
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, db.SaveAsset(ctx, entry))

	entry.RentalStreamID = nil
	require.NoError(t, db.SaveAsset(ctx, entry))

	assets, err := db.ListAssets(ctx)
	require.NoError(t, err)
	require.Len(t, assets, 1)
	assert.Nil(t, assets[0].RentalStreamID)
	require.NotNil(t, assets[0].YieldStreamID)
	assert.Equal(t, uint64(1), *assets[0].YieldStreamID)
	assert.Equal(t, []uint64{2}, assets[0].RentalHistory)
}
