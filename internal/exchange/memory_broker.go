package exchange

import (
	"binary-options-bot-go/internal/models"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryBroker 实现了 Broker 接口，在内存中模拟经纪商的成交历史和余额，
// 用于测试和离线演练。
type MemoryBroker struct {
	mu       sync.Mutex
	deals    map[models.WalletType][]models.Deal
	balances map[models.WalletType]models.Balance
	err      error // 非空时所有调用都返回该错误
	calls    int
}

// NewMemoryBroker 创建一个空的 MemoryBroker
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		deals:    make(map[models.WalletType][]models.Deal),
		balances: make(map[models.WalletType]models.Balance),
	}
}

// AddDeal appends a deal to the history of its wallet.
func (b *MemoryBroker) AddDeal(deal models.Deal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deals[deal.Wallet] = append(b.deals[deal.Wallet], deal)
}

// CloseDeal 模拟经纪商结算一笔持仓
func (b *MemoryBroker) CloseDeal(uuid string, win int64, finishedAt time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for wallet, deals := range b.deals {
		for i := range deals {
			if deals[i].UUID != uuid {
				continue
			}
			if !deals[i].IsOpen() {
				return fmt.Errorf("deal %s already closed", uuid)
			}
			deals[i].Win = win
			deals[i].FinishedAt = finishedAt
			switch {
			case win > deals[i].Amount:
				deals[i].Status = "won"
			case win == deals[i].Amount:
				deals[i].Status = "tie"
			default:
				deals[i].Status = "lost"
			}
			if bal, ok := b.balances[wallet]; ok {
				bal.Amount += win
				b.balances[wallet] = bal
			}
			return nil
		}
	}
	return fmt.Errorf("deal %s not found", uuid)
}

// SetBalance overwrites the balance of one wallet.
func (b *MemoryBroker) SetBalance(balance models.Balance) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances[balance.Wallet] = balance
}

// SetError makes every following call fail with err; nil restores normal behavior.
func (b *MemoryBroker) SetError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.err = err
}

// Calls returns how many requests were served.
func (b *MemoryBroker) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

// GetDeals 返回指定钱包的成交历史，按创建时间倒序
func (b *MemoryBroker) GetDeals(ctx context.Context, wallet models.WalletType) ([]models.Deal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.err != nil {
		return nil, b.err
	}
	out := make([]models.Deal, len(b.deals[wallet]))
	copy(out, b.deals[wallet])
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// GetBalances 返回所有钱包余额，按钱包名排序
func (b *MemoryBroker) GetBalances(ctx context.Context) ([]models.Balance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.err != nil {
		return nil, b.err
	}
	out := make([]models.Balance, 0, len(b.balances))
	for _, bal := range b.balances {
		out = append(out, bal)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Wallet < out[j].Wallet })
	return out, nil
}
