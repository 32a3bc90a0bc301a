package exchange

import (
	"binary-options-bot-go/internal/models"
	"context"
	"fmt"
	"time"
)

// Broker 定义了引擎依赖的经纪商 REST 接口。
// 真实环境使用 LiveBroker，测试和演练使用 MemoryBroker。
type Broker interface {
	// GetDeals 返回指定钱包最近的成交历史（最新的在前或无序均可）
	GetDeals(ctx context.Context, wallet models.WalletType) ([]models.Deal, error)
	// GetBalances 返回所有钱包的余额
	GetBalances(ctx context.Context) ([]models.Balance, error)
}

// APIError 表示经纪商返回的非 2xx 响应
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("broker api error: status %d: %s", e.Status, e.Body)
}

// TodayProfit sums the realized profit of deals closed on now's calendar day.
func TodayProfit(deals []models.Deal, now time.Time) int64 {
	y, m, d := now.Date()
	var total int64
	for _, deal := range deals {
		if deal.IsOpen() {
			continue
		}
		ts := deal.FinishedAt
		if ts.IsZero() {
			ts = deal.CreatedAt
		}
		ty, tm, td := ts.In(now.Location()).Date()
		if ty == y && tm == m && td == d {
			total += deal.Profit()
		}
	}
	return total
}

// FindBalance picks the balance of one wallet.
func FindBalance(balances []models.Balance, wallet models.WalletType) (models.Balance, bool) {
	for _, b := range balances {
		if b.Wallet == wallet {
			return b, true
		}
	}
	return models.Balance{}, false
}
