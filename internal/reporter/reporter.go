package reporter

import (
	"binary-options-bot-go/internal/exchange"
	"binary-options-bot-go/internal/models"
	"context"
	"fmt"
	"io"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"go.uber.org/zap"
)

// Metrics 存储从当日成交历史计算出的绩效指标（金额为最小单位）
type Metrics struct {
	Wallet        models.WalletType
	TotalDeals    int
	OpenDeals     int
	WinningDeals  int
	LosingDeals   int
	WinRate       float64
	TotalProfit   int64
	AvgProfitLoss float64
	MaxDrawdown   int64 // 累计盈亏曲线的最大回撤
}

// Tally 是从事件流统计出的会话计数
type Tally struct {
	Status      models.Status
	Message     string
	Bids        int
	Settlements int
	Errors      int
	LastError   string
	Trade       bool
	Stream      bool
	Balances    map[models.WalletType]models.BalanceEvent
	StartedAt   time.Time
	UpdatedAt   time.Time
}

// Reporter 订阅引擎事件并定期打印会话汇总表
type Reporter struct {
	out    io.Writer
	broker exchange.Broker
	wallet models.WalletType
	logger *zap.Logger

	mu    sync.Mutex
	tally Tally
}

// New 创建 Reporter。broker 为 nil 时只输出事件统计。
func New(out io.Writer, broker exchange.Broker, wallet models.WalletType, logger *zap.Logger) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{
		out:    out,
		broker: broker,
		wallet: wallet,
		logger: logger,
		tally: Tally{
			Status:   models.StatusIdle,
			Balances: make(map[models.WalletType]models.BalanceEvent),
		},
	}
}

// Observe 把一个事件计入统计
func (r *Reporter) Observe(ev models.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tally.UpdatedAt = ev.At()

	switch e := ev.(type) {
	case models.StatusEvent:
		r.tally.Status = e.Status
		r.tally.Message = e.Message
		if e.Status == models.StatusRunning {
			r.tally.StartedAt = e.Time
		}
	case models.ErrorEvent:
		r.tally.Errors++
		r.tally.LastError = e.Message
	case models.BalanceEvent:
		r.tally.Balances[e.AccountType] = e
	case models.ConnectionEvent:
		r.tally.Trade = e.TradeConnected
		r.tally.Stream = e.StreamConnected
	case models.RefreshEvent:
		switch e.Reason {
		case models.RefreshBid:
			r.tally.Bids++
		case models.RefreshTrackedProfit:
			r.tally.Settlements++
		}
	}
}

// Snapshot returns a copy of the current tally.
func (r *Reporter) Snapshot() Tally {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.tally
	t.Balances = make(map[models.WalletType]models.BalanceEvent, len(r.tally.Balances))
	for k, v := range r.tally.Balances {
		t.Balances[k] = v
	}
	return t
}

// Run 消费事件直到 events 关闭或 ctx 取消，每隔 every 打印一次，退出前再打印一次
func (r *Reporter) Run(ctx context.Context, events <-chan models.Event, every time.Duration) {
	if every <= 0 {
		every = 30 * time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	defer r.Print(context.Background())

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			r.Observe(ev)
		case <-ticker.C:
			r.Print(ctx)
		}
	}
}

// Print 拉取当日成交并输出汇总表。成交历史获取失败时只输出事件统计。
func (r *Reporter) Print(ctx context.Context) {
	var metrics *Metrics
	if r.broker != nil {
		fetchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		deals, err := r.broker.GetDeals(fetchCtx, r.wallet)
		cancel()
		if err != nil {
			r.logger.Warn("报告获取成交历史失败", zap.Error(err))
		} else {
			m := CalculateMetrics(r.wallet, deals, time.Now())
			metrics = &m
		}
	}
	fmt.Fprintln(r.out, Render(r.Snapshot(), metrics))
}

// CalculateMetrics 统计 now 当天（本地时区）创建的成交
func CalculateMetrics(wallet models.WalletType, deals []models.Deal, now time.Time) Metrics {
	m := Metrics{Wallet: wallet}
	y, mo, d := now.Date()
	dayStart := time.Date(y, mo, d, 0, 0, 0, 0, now.Location())

	var today []models.Deal
	for _, deal := range deals {
		if deal.CreatedAt.Before(dayStart) {
			continue
		}
		today = append(today, deal)
	}
	sort.Slice(today, func(i, j int) bool { return today[i].CreatedAt.Before(today[j].CreatedAt) })

	var totalWin, totalLoss int64
	curve := make([]int64, 0, len(today))
	var cumulative int64
	for _, deal := range today {
		m.TotalDeals++
		if deal.IsOpen() {
			m.OpenDeals++
			continue
		}
		p := deal.Profit()
		switch {
		case p > 0:
			m.WinningDeals++
			totalWin += p
		case p < 0:
			m.LosingDeals++
			totalLoss += p
		}
		cumulative += p
		curve = append(curve, cumulative)
	}
	m.TotalProfit = cumulative

	if closed := m.WinningDeals + m.LosingDeals; closed > 0 {
		m.WinRate = float64(m.WinningDeals) / float64(closed) * 100
	}
	if m.LosingDeals > 0 && m.WinningDeals > 0 {
		avgWin := float64(totalWin) / float64(m.WinningDeals)
		avgLoss := math.Abs(float64(totalLoss) / float64(m.LosingDeals))
		m.AvgProfitLoss = avgWin / avgLoss
	}
	m.MaxDrawdown = calculateMaxDrawdown(curve)
	return m
}

// 盈亏曲线从 0 开始，回撤按绝对金额计算
func calculateMaxDrawdown(curve []int64) int64 {
	var peak, maxDrawdown int64
	for _, v := range curve {
		if v > peak {
			peak = v
		}
		if dd := peak - v; dd > maxDrawdown {
			maxDrawdown = dd
		}
	}
	return maxDrawdown
}

// Render 把统计结果渲染为表格文本
func Render(t Tally, m *Metrics) string {
	tw := table.NewWriter()
	tw.SetTitle("会话报告")
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"项目", "值"})

	tw.AppendRow(table.Row{"状态", statusText(t)})
	if !t.StartedAt.IsZero() {
		tw.AppendRow(table.Row{"启动时间", t.StartedAt.Format("2006-01-02 15:04:05")})
	}
	tw.AppendRow(table.Row{"通道 trade/stream", fmt.Sprintf("%v / %v", t.Trade, t.Stream)})
	tw.AppendRow(table.Row{"下注次数", t.Bids})
	tw.AppendRow(table.Row{"结算次数", t.Settlements})
	tw.AppendRow(table.Row{"错误次数", t.Errors})
	if t.LastError != "" {
		tw.AppendRow(table.Row{"最近错误", t.LastError})
	}

	wallets := make([]string, 0, len(t.Balances))
	for w := range t.Balances {
		wallets = append(wallets, string(w))
	}
	sort.Strings(wallets)
	if len(wallets) > 0 {
		tw.AppendSeparator()
		for _, w := range wallets {
			b := t.Balances[models.WalletType(w)]
			tw.AppendRow(table.Row{"余额 " + w, formatMinor(b.Balance, b.Currency)})
		}
	}

	if m != nil {
		tw.AppendSeparator()
		tw.AppendRow(table.Row{"当日成交 (" + string(m.Wallet) + ")", fmt.Sprintf("%d (持仓 %d)", m.TotalDeals, m.OpenDeals)})
		tw.AppendRow(table.Row{"盈利 / 亏损", fmt.Sprintf("%d / %d", m.WinningDeals, m.LosingDeals)})
		tw.AppendRow(table.Row{"胜率", fmt.Sprintf("%.2f%%", m.WinRate)})
		tw.AppendRow(table.Row{"平均盈亏比", fmt.Sprintf("%.2f", m.AvgProfitLoss)})
		tw.AppendRow(table.Row{"当日盈亏", formatMinor(m.TotalProfit, "")})
		tw.AppendRow(table.Row{"最大回撤", formatMinor(m.MaxDrawdown, "")})
	}
	return tw.Render()
}

func statusText(t Tally) string {
	if t.Message == "" {
		return string(t.Status)
	}
	return fmt.Sprintf("%s (%s)", t.Status, t.Message)
}

func formatMinor(amount int64, currency string) string {
	s := fmt.Sprintf("%.2f", float64(amount)/100)
	if currency != "" {
		s += " " + currency
	}
	return s
}
