package exchange

import (
	"binary-options-bot-go/internal/models"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeDealsShapes(t *testing.T) {
	shapes := []string{
		`[{"uuid":"a","status":"won"}]`,
		`{"deals":[{"uuid":"a","status":"won"}]}`,
		`{"data":[{"uuid":"a","status":"won"}]}`,
		`{"data":{"deals":[{"uuid":"a","status":"won"}]}}`,
	}
	for _, shape := range shapes {
		deals, err := NormalizeDeals([]byte(shape), models.Real)
		require.NoError(t, err, shape)
		require.Len(t, deals, 1, shape)
		assert.Equal(t, "a", deals[0].UUID)
		assert.Equal(t, models.Real, deals[0].Wallet)
	}

	_, err := NormalizeDeals([]byte(`{"data":{"unexpected":1}}`), models.Real)
	assert.Error(t, err)
	_, err = NormalizeDeals([]byte(`not json`), models.Real)
	assert.Error(t, err)
}

func TestNormalizeOpened(t *testing.T) {
	bid, err := NormalizeOpened([]byte(`{"uuid":"u1","ric":"Z-CRY/IDX","finished_at":"2024-05-01T10:16:00Z","open_rate":"101.5","trend":"put","amount":100,"deal_type":"demo"}`))
	require.NoError(t, err)
	assert.Equal(t, "u1", bid.UUID)
	assert.Equal(t, "Z-CRY/IDX", bid.AssetRic)
	assert.Equal(t, "2024-05-01T10:16:00Z", bid.CloseAt)
	assert.Equal(t, 101.5, bid.OpenRate)
	assert.Equal(t, models.Put, bid.Trend)
	assert.Equal(t, int64(100), bid.Amount)
	assert.Equal(t, models.Demo, bid.Wallet)

	_, err = NormalizeOpened([]byte(`{"ric":"X"}`))
	assert.Error(t, err)
}

func TestNormalizeCloseBatch(t *testing.T) {
	batch, err := NormalizeCloseBatch([]byte(`{"ric":"Z-CRY/IDX","finished_at":"2024-05-01T10:16:00Z","end_rate":99.5}`))
	require.NoError(t, err)
	assert.Equal(t, models.CloseBatch{Ric: "Z-CRY/IDX", FinishedAt: "2024-05-01T10:16:00Z", EndRate: 99.5}, batch)

	batch, err = NormalizeCloseBatch([]byte(`{"deals":[{"asset_ric":"Z-CRY/IDX","finished_at":"2024-05-01T10:16:00Z","close_rate":98}]}`))
	require.NoError(t, err)
	assert.Equal(t, "Z-CRY/IDX", batch.Ric)
	assert.Equal(t, 98.0, batch.EndRate)

	_, err = NormalizeCloseBatch([]byte(`{"end_rate":1}`))
	assert.Error(t, err)
}

func TestNormalizeBidAckAndBalance(t *testing.T) {
	uuid, err := NormalizeBidAck([]byte(`{"status":"ok","response":{"uuid":"u1"}}`))
	require.NoError(t, err)
	assert.Equal(t, "u1", uuid)

	bal, err := NormalizeBalance([]byte(`{"account_type":"real","balance":12345,"currency":"idr"}`))
	require.NoError(t, err)
	assert.Equal(t, models.Balance{Wallet: models.Real, Amount: 12345, Currency: "IDR"}, bal)
}

func TestTodayProfit(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	deals := []models.Deal{
		{Status: "won", Amount: 100, Win: 185, FinishedAt: now.Add(-time.Hour)},
		{Status: "lost", Amount: 200, Win: 0, FinishedAt: now.Add(-2 * time.Hour)},
		{Status: "won", Amount: 100, Win: 185, FinishedAt: now.Add(-24 * time.Hour)},
		{Status: "opened", Amount: 100, CreatedAt: now},
	}
	assert.Equal(t, int64(85-200), TodayProfit(deals, now))
}
