// Package candles fetches OHLC series for the strategy engine.
package candles

import (
	"binary-options-bot-go/internal/models"
	"context"
	"time"
)

// Source 是 K线数据来源。调用之间不保留状态。
type Source interface {
	// Candles returns up to count candles of the given period, oldest first.
	Candles(ctx context.Context, ric string, period time.Duration, count int) ([]models.Candle, error)
}
