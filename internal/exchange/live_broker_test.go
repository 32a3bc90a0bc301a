package exchange

import (
	"binary-options-bot-go/internal/models"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLiveBrokerGetDeals(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, dealsEndpoint, r.URL.Path)
		assert.Equal(t, "demo", r.URL.Query().Get("type"))
		assert.Equal(t, "tok", r.Header.Get("authorization-token"))
		assert.Equal(t, "dev", r.Header.Get("device-id"))
		_, _ = w.Write([]byte(`{"data":{"standard_trade_deals":[
			{"uuid":"a","status":"opened","asset_ric":"Z-CRY/IDX","trend":"call","amount":1400000,"win":0,"created_at":"2024-05-01T10:15:00Z"},
			{"id":"b","status":"lost","ric":"Z-CRY/IDX","trend":"put","amount":"1400000","won":0,"created_at":1714558440,"finished_at":"2024-05-01T10:15:00Z"}
		]}}`))
	}))
	defer server.Close()

	broker := NewLiveBroker(server.URL+"/", "tok", "dev", zap.NewNop())
	deals, err := broker.GetDeals(context.Background(), models.Demo)
	require.NoError(t, err)
	require.Len(t, deals, 2)

	assert.Equal(t, "a", deals[0].UUID)
	assert.True(t, deals[0].IsOpen())
	assert.Equal(t, models.Call, deals[0].Trend)
	assert.Equal(t, models.Demo, deals[0].Wallet)

	assert.Equal(t, "b", deals[1].UUID)
	assert.Equal(t, "Z-CRY/IDX", deals[1].AssetRic)
	assert.Equal(t, int64(1400000), deals[1].Amount)
	assert.Equal(t, int64(1714558440), deals[1].CreatedAt.Unix())
	assert.False(t, deals[1].FinishedAt.IsZero())
}

func TestLiveBrokerAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"errors":["unauthorized"]}`))
	}))
	defer server.Close()

	broker := NewLiveBroker(server.URL, "bad", "dev", zap.NewNop())
	_, err := broker.GetBalances(context.Background())
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Contains(t, apiErr.Body, "unauthorized")
}

func TestLiveBrokerGetBalances(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, balancesEndpoint, r.URL.Path)
		_, _ = w.Write([]byte(`{"data":[{"account_type":"real","amount":500000,"currency":"usd"},{"account_type":"demo","balance":"100000000","currency":"USD"}]}`))
	}))
	defer server.Close()

	broker := NewLiveBroker(server.URL, "tok", "dev", zap.NewNop())
	balances, err := broker.GetBalances(context.Background())
	require.NoError(t, err)

	realBal, ok := FindBalance(balances, models.Real)
	require.True(t, ok)
	assert.Equal(t, int64(500000), realBal.Amount)
	assert.Equal(t, "USD", realBal.Currency)

	demo, ok := FindBalance(balances, models.Demo)
	require.True(t, ok)
	assert.Equal(t, int64(100000000), demo.Amount)
}
