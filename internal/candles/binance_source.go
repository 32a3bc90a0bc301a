package candles

import (
	"binary-options-bot-go/internal/models"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
)

// BinanceSource 从币安现货 K线接口读取数据，用于加密货币类资产
type BinanceSource struct {
	client  *binance.Client
	symbols map[string]string // RIC -> 币安交易对
}

// NewBinanceSource 创建一个新的 BinanceSource。公共接口不需要 API Key。
func NewBinanceSource(apiKey, secretKey string, symbols map[string]string) *BinanceSource {
	return &BinanceSource{
		client:  binance.NewClient(apiKey, secretKey),
		symbols: symbols,
	}
}

// SymbolFor maps a broker RIC to a Binance symbol: explicit mapping first,
// then the RIC with separators removed ("BTC/USDT" -> "BTCUSDT").
func (s *BinanceSource) SymbolFor(ric string) string {
	if sym, ok := s.symbols[ric]; ok {
		return sym
	}
	r := strings.NewReplacer("/", "", "-", "", "_", "")
	return strings.ToUpper(r.Replace(ric))
}

func binanceInterval(period time.Duration) (string, error) {
	switch period {
	case time.Second:
		return "1s", nil
	case time.Minute:
		return "1m", nil
	case 5 * time.Minute:
		return "5m", nil
	case 15 * time.Minute:
		return "15m", nil
	}
	return "", fmt.Errorf("unsupported binance interval %s", period)
}

// Candles 获取最近 count 根 K线
func (s *BinanceSource) Candles(ctx context.Context, ric string, period time.Duration, count int) ([]models.Candle, error) {
	interval, err := binanceInterval(period)
	if err != nil {
		return nil, err
	}
	if count < 1 {
		count = 1
	}
	klines, err := s.client.NewKlinesService().
		Symbol(s.SymbolFor(ric)).
		Interval(interval).
		Limit(count).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("下载K线数据失败: %w", err)
	}

	out := make([]models.Candle, 0, len(klines))
	for _, k := range klines {
		c := models.Candle{Time: time.UnixMilli(k.OpenTime).UTC()}
		if c.Open, err = strconv.ParseFloat(k.Open, 64); err != nil {
			return nil, fmt.Errorf("解析开盘价失败: %w", err)
		}
		if c.High, err = strconv.ParseFloat(k.High, 64); err != nil {
			return nil, fmt.Errorf("解析最高价失败: %w", err)
		}
		if c.Low, err = strconv.ParseFloat(k.Low, 64); err != nil {
			return nil, fmt.Errorf("解析最低价失败: %w", err)
		}
		if c.Close, err = strconv.ParseFloat(k.Close, 64); err != nil {
			return nil, fmt.Errorf("解析收盘价失败: %w", err)
		}
		out = append(out, c)
	}
	return out, nil
}
