package bot

import (
	"binary-options-bot-go/internal/exchange"
	"binary-options-bot-go/internal/gateway"
	"binary-options-bot-go/internal/models"
	"binary-options-bot-go/internal/persistence"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	tradeURL  = "wss://trade.example/socket"
	streamURL = "wss://stream.example/socket"
	asset     = "Z-CRY/IDX"
)

type sentFrame struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

type fakeChannel struct {
	url      string
	handlers gateway.Handlers

	mu   sync.Mutex
	sent []sentFrame
}

func (c *fakeChannel) Send(data []byte) error {
	var f sentFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, f)
	return nil
}

func (c *fakeChannel) Close() error { return nil }

func (c *fakeChannel) push(frame string) {
	c.handlers.OnMessage([]byte(frame))
}

func (c *fakeChannel) bids() []gateway.BidPayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []gateway.BidPayload
	for _, f := range c.sent {
		if f.Event != gateway.EventCreate {
			continue
		}
		var bid gateway.BidPayload
		if err := json.Unmarshal(f.Payload, &bid); err == nil {
			out = append(out, bid)
		}
	}
	return out
}

type fakeDialer struct {
	mu       sync.Mutex
	channels []*fakeChannel
	err      error
}

func (d *fakeDialer) Dial(_ context.Context, url string, _ http.Header, h gateway.Handlers) (gateway.Channel, error) {
	if d.err != nil {
		return nil, d.err
	}
	ch := &fakeChannel{url: url, handlers: h}
	d.mu.Lock()
	d.channels = append(d.channels, ch)
	d.mu.Unlock()
	return ch, nil
}

func (d *fakeDialer) trade() *fakeChannel {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := len(d.channels) - 1; i >= 0; i-- {
		if strings.HasPrefix(d.channels[i].url, tradeURL) {
			return d.channels[i]
		}
	}
	return nil
}

func (d *fakeDialer) bidCount() int {
	ch := d.trade()
	if ch == nil {
		return 0
	}
	return len(ch.bids())
}

type fakeCandles struct {
	mu      sync.Mutex
	candles []models.Candle
	calls   int
}

func (f *fakeCandles) Candles(_ context.Context, _ string, _ time.Duration, _ int) ([]models.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	out := make([]models.Candle, len(f.candles))
	copy(out, f.candles)
	return out, nil
}

func newTestEngine(t *testing.T, dialer *fakeDialer, broker exchange.Broker, src *fakeCandles, repo persistence.StateRepository) *Engine {
	t.Helper()
	opts := Options{
		Gateway:        models.GatewayConfig{TradeURL: tradeURL, StreamURL: streamURL, Token: "tok", DeviceID: "dev"},
		Dialer:         dialer,
		Broker:         broker,
		Repo:           repo,
		Logger:         zap.NewNop(),
		JoinDelay:      time.Millisecond,
		OpenTimeout:    100 * time.Millisecond,
		HeartbeatEvery: time.Hour,
		ReconnectMin:   10 * time.Millisecond,
		ReconnectMax:   50 * time.Millisecond,
	}
	if src != nil {
		opts.Candles = src
	}
	e := NewEngine(opts)
	t.Cleanup(func() { _ = e.Stop() })
	return e
}

func fastConfig() models.TradeConfig {
	return models.TradeConfig{
		Asset:           asset,
		Currency:        "USD",
		Strategy:        models.StrategyFast,
		Interval:        1,
		WalletType:      models.Demo,
		BidAmounts:      map[string]float64{"USD": 1},
		ResetMartingale: -1,
	}
}

func fundedBroker() *exchange.MemoryBroker {
	b := exchange.NewMemoryBroker()
	b.SetBalance(models.Balance{Wallet: models.Demo, Amount: 1_000_000, Currency: "USD"})
	return b
}

func memoryRepo(t *testing.T) persistence.StateRepository {
	t.Helper()
	repo, err := persistence.NewInMemoryRepository()
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestFastBidSettleAndReenter(t *testing.T) {
	dialer := &fakeDialer{}
	src := &fakeCandles{candles: []models.Candle{{Open: 10, Close: 9}}}
	e := newTestEngine(t, dialer, fundedBroker(), src, memoryRepo(t))

	require.NoError(t, e.Start(context.Background(), fastConfig(), false))
	assert.Equal(t, models.StatusRunning, e.Status())
	assert.NotEmpty(t, e.RunID())

	require.Eventually(t, func() bool { return dialer.bidCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	trade := dialer.trade()
	first := trade.bids()[0]
	assert.Equal(t, models.Put, first.Trend)
	assert.Equal(t, int64(100), first.Amount)
	assert.Equal(t, models.Demo, first.DealType)
	assert.Equal(t, asset, first.Ric)

	trade.push(`{"topic":"bo","event":"phx_reply","payload":{"status":"ok","response":{"uuid":"u1"}}}`)
	trade.push(`{"topic":"bo","event":"opened","payload":{"uuid":"u1","asset_ric":"Z-CRY/IDX","close_quote_created_at":"2024-05-01T10:16:00Z","open_rate":100,"trend":"put","amount":100}}`)
	trade.push(`{"topic":"bo","event":"close_deal_batch","payload":{"ric":"Z-CRY/IDX","finished_at":"2024-05-01T10:16:00Z","end_rate":99}}`)

	require.Eventually(t, func() bool { return dialer.bidCount() == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, models.Put, trade.bids()[1].Trend, "a win repeats the trend")

	st, ok := e.LadderSnapshot()
	require.True(t, ok)
	assert.Equal(t, 0, st.MartingaleStep)

	// 同一批次重复推送不会再触发下注
	trade.push(`{"topic":"bo","event":"close_deal_batch","payload":{"ric":"Z-CRY/IDX","finished_at":"2024-05-01T10:16:00Z","end_rate":99}}`)
	assert.Never(t, func() bool { return dialer.bidCount() > 2 }, 150*time.Millisecond, 10*time.Millisecond)
}

func TestFastLossGrowsLadder(t *testing.T) {
	dialer := &fakeDialer{}
	src := &fakeCandles{candles: []models.Candle{{Open: 10, Close: 11}}}
	cfg := fastConfig()
	cfg.MartingalePercent = 100
	e := newTestEngine(t, dialer, fundedBroker(), src, memoryRepo(t))

	require.NoError(t, e.Start(context.Background(), cfg, false))
	require.Eventually(t, func() bool { return dialer.bidCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	trade := dialer.trade()
	assert.Equal(t, models.Call, trade.bids()[0].Trend)

	trade.push(`{"topic":"bo","event":"phx_reply","payload":{"response":{"uuid":"u1"}}}`)
	trade.push(`{"topic":"bo","event":"opened","payload":{"uuid":"u1","ric":"Z-CRY/IDX","finished_at":"1714558560","open_rate":100,"trend":"call"}}`)
	trade.push(`{"topic":"bo","event":"close_deal_batch","payload":{"ric":"Z-CRY/IDX","finished_at":"1714558560","end_rate":99}}`)

	require.Eventually(t, func() bool { return dialer.bidCount() == 2 }, 2*time.Second, 5*time.Millisecond)
	second := trade.bids()[1]
	assert.Equal(t, int64(200), second.Amount)

	st, _ := e.LadderSnapshot()
	assert.Equal(t, 1, st.MartingaleStep)
	assert.Equal(t, 1, st.LossStreak)
}

func TestForeignOpenedIsIgnored(t *testing.T) {
	dialer := &fakeDialer{}
	src := &fakeCandles{candles: []models.Candle{{Open: 10, Close: 9}}}
	e := newTestEngine(t, dialer, fundedBroker(), src, memoryRepo(t))

	require.NoError(t, e.Start(context.Background(), fastConfig(), false))
	require.Eventually(t, func() bool { return dialer.bidCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	trade := dialer.trade()

	trade.push(`{"topic":"bo","event":"opened","payload":{"uuid":"other","asset_ric":"Z-CRY/IDX","close_quote_created_at":"2024-05-01T10:16:00Z","open_rate":100,"trend":"put"}}`)
	trade.push(`{"topic":"bo","event":"close_deal_batch","payload":{"ric":"Z-CRY/IDX","finished_at":"2024-05-01T10:16:00Z","end_rate":99}}`)

	assert.Never(t, func() bool { return dialer.bidCount() > 1 }, 150*time.Millisecond, 10*time.Millisecond)
}

func TestInsufficientBalanceStopsEngine(t *testing.T) {
	dialer := &fakeDialer{}
	broker := exchange.NewMemoryBroker()
	broker.SetBalance(models.Balance{Wallet: models.Demo, Amount: 50, Currency: "USD"})
	src := &fakeCandles{candles: []models.Candle{{Open: 10, Close: 9}}}
	e := newTestEngine(t, dialer, broker, src, memoryRepo(t))

	events, unsubscribe := e.Subscribe(256)
	defer unsubscribe()

	require.NoError(t, e.Start(context.Background(), fastConfig(), false))
	require.Eventually(t, func() bool { return e.Status() == models.StatusError }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, dialer.bidCount())
	assert.ErrorIs(t, e.Stop(), models.ErrNotRunning)

	var sawError bool
	for {
		select {
		case ev := <-events:
			if ev.Kind() == models.EventError {
				sawError = true
			}
			continue
		default:
		}
		break
	}
	assert.True(t, sawError)
}

func TestBalancePushIsEmitted(t *testing.T) {
	dialer := &fakeDialer{}
	e := newTestEngine(t, dialer, fundedBroker(), nil, memoryRepo(t))
	cfg := fastConfig()
	cfg.Strategy = models.StrategyMomentum

	events, unsubscribe := e.Subscribe(256)
	defer unsubscribe()
	require.NoError(t, e.Start(context.Background(), cfg, false))

	dialer.trade().push(`{"topic":"user","event":"balance_changed","payload":{"account_type":"real","balance":123400,"currency":"USD"}}`)

	require.Eventually(t, func() bool {
		for {
			select {
			case ev := <-events:
				if b, ok := ev.(models.BalanceEvent); ok {
					return b.AccountType == models.Real && b.Balance == 123400
				}
			default:
				return false
			}
		}
	}, time.Second, 5*time.Millisecond)
}

func TestStartRejectsEmptySchedule(t *testing.T) {
	e := newTestEngine(t, &fakeDialer{}, fundedBroker(), nil, memoryRepo(t))
	cfg := fastConfig()
	cfg.Strategy = models.StrategySignal
	cfg.SignalSchedule = "  \n# nothing\n"

	err := e.Start(context.Background(), cfg, false)
	require.ErrorIs(t, err, models.ErrEmptySchedule)
	assert.Equal(t, models.StatusError, e.Status())
}

func TestStartRejectsInvalidConfig(t *testing.T) {
	e := newTestEngine(t, &fakeDialer{}, fundedBroker(), nil, memoryRepo(t))
	cfg := fastConfig()
	cfg.Strategy = "Grid"

	require.ErrorIs(t, e.Start(context.Background(), cfg, false), models.ErrInvalidConfig)
}

func TestStartTwiceAndStopTwice(t *testing.T) {
	dialer := &fakeDialer{}
	e := newTestEngine(t, dialer, fundedBroker(), nil, memoryRepo(t))
	cfg := fastConfig()
	cfg.Strategy = models.StrategyMomentum

	require.NoError(t, e.Start(context.Background(), cfg, false))
	assert.ErrorIs(t, e.Start(context.Background(), cfg, false), models.ErrAlreadyRunning)

	require.NoError(t, e.Stop())
	assert.Equal(t, models.StatusStopped, e.Status())
	assert.ErrorIs(t, e.Stop(), models.ErrNotRunning)

	// 停止后可以再次启动
	require.NoError(t, e.Start(context.Background(), cfg, false))
	assert.Equal(t, models.StatusRunning, e.Status())
}

func TestStartFailsWhenDialFails(t *testing.T) {
	dialer := &fakeDialer{err: errors.New("refused")}
	e := newTestEngine(t, dialer, fundedBroker(), nil, memoryRepo(t))

	err := e.Start(context.Background(), fastConfig(), false)
	require.Error(t, err)
	assert.Equal(t, models.StatusError, e.Status())
}

func TestResumeFromOpenDeal(t *testing.T) {
	repo := memoryRepo(t)
	require.NoError(t, repo.SaveState(&models.PersistedBotState{LastBidStep: 3, LastSignalTrend: models.Call}))

	broker := fundedBroker()
	broker.AddDeal(models.Deal{UUID: "d1", Status: "opened", Amount: 800, Wallet: models.Demo, CreatedAt: time.Now()})

	e := newTestEngine(t, &fakeDialer{}, broker, nil, repo)
	cfg := fastConfig()
	cfg.Strategy = models.StrategyMomentum

	require.NoError(t, e.Start(context.Background(), cfg, true))
	st, ok := e.LadderSnapshot()
	require.True(t, ok)
	assert.Equal(t, 4, st.MartingaleStep)
	assert.Equal(t, models.Call, st.LastSignalTrend)
}

func TestFreshStartClearsPersistedState(t *testing.T) {
	repo := memoryRepo(t)
	require.NoError(t, repo.SaveState(&models.PersistedBotState{LastBidStep: 5}))

	e := newTestEngine(t, &fakeDialer{}, fundedBroker(), nil, repo)
	cfg := fastConfig()
	cfg.Strategy = models.StrategyMomentum
	require.NoError(t, e.Start(context.Background(), cfg, false))

	st, _ := e.LadderSnapshot()
	assert.Equal(t, 0, st.MartingaleStep)
	loaded, err := repo.LoadState()
	require.NoError(t, err)
	if loaded != nil {
		assert.Equal(t, 0, loaded.LastBidStep)
	}
}

func TestUpdateConfigRestarts(t *testing.T) {
	dialer := &fakeDialer{}
	e := newTestEngine(t, dialer, fundedBroker(), nil, memoryRepo(t))
	cfg := fastConfig()
	cfg.Strategy = models.StrategyMomentum
	require.NoError(t, e.Start(context.Background(), cfg, false))
	firstRun := e.RunID()

	cfg.Interval = 5
	require.NoError(t, e.UpdateConfig(context.Background(), cfg))
	assert.Equal(t, models.StatusRunning, e.Status())
	assert.NotEqual(t, firstRun, e.RunID())
}

// slowBroker 让当日盈利刷新晚于结算返回
type slowBroker struct {
	*exchange.MemoryBroker
	delay time.Duration
}

func (b *slowBroker) GetDeals(ctx context.Context, wallet models.WalletType) ([]models.Deal, error) {
	time.Sleep(b.delay)
	return b.MemoryBroker.GetDeals(ctx, wallet)
}

// settle 推送一笔下注从确认到结算的完整消息序列
func settle(ch *fakeChannel, uuid, closeAt, trend string, endRate float64) {
	ch.push(`{"topic":"bo","event":"phx_reply","payload":{"status":"ok","response":{"uuid":"` + uuid + `"}}}`)
	ch.push(`{"topic":"bo","event":"opened","payload":{"uuid":"` + uuid + `","asset_ric":"Z-CRY/IDX","close_quote_created_at":"` + closeAt + `","open_rate":100,"trend":"` + trend + `","amount":100}}`)
	ch.push(`{"topic":"bo","event":"close_deal_batch","payload":{"ric":"Z-CRY/IDX","finished_at":"` + closeAt + `","end_rate":` + strconv.FormatFloat(endRate, 'f', -1, 64) + `}}`)
}

func TestStopProfitHaltsBeforeFastReentry(t *testing.T) {
	dialer := &fakeDialer{}
	broker := &slowBroker{MemoryBroker: fundedBroker(), delay: 100 * time.Millisecond}
	now := time.Now()
	broker.AddDeal(models.Deal{UUID: "d1", Status: "won", Amount: 100, Win: 300, Wallet: models.Demo, CreatedAt: now, FinishedAt: now})
	src := &fakeCandles{candles: []models.Candle{{Open: 10, Close: 9}}}
	cfg := fastConfig()
	cfg.StopProfitAfter = 1
	e := newTestEngine(t, dialer, broker, src, memoryRepo(t))

	require.NoError(t, e.Start(context.Background(), cfg, false))
	require.Eventually(t, func() bool { return dialer.bidCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	settle(dialer.trade(), "u1", "2024-05-01T10:16:00Z", "put", 99)

	require.Eventually(t, func() bool { return e.Status() == models.StatusStopped }, 2*time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return dialer.bidCount() > 1 }, 200*time.Millisecond, 10*time.Millisecond)
	assert.ErrorIs(t, e.Stop(), models.ErrNotRunning)
}

func TestFastReentryWaitsForSlowProfitRefresh(t *testing.T) {
	dialer := &fakeDialer{}
	broker := &slowBroker{MemoryBroker: fundedBroker(), delay: 100 * time.Millisecond}
	src := &fakeCandles{candles: []models.Candle{{Open: 10, Close: 9}}}
	cfg := fastConfig()
	cfg.StopProfitAfter = 1000
	e := newTestEngine(t, dialer, broker, src, memoryRepo(t))

	require.NoError(t, e.Start(context.Background(), cfg, false))
	require.Eventually(t, func() bool { return dialer.bidCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	settle(dialer.trade(), "u1", "2024-05-01T10:16:00Z", "put", 99)

	// 盈利刷新返回前不会再入场
	assert.Never(t, func() bool { return dialer.bidCount() > 1 }, 60*time.Millisecond, 5*time.Millisecond)
	require.Eventually(t, func() bool { return dialer.bidCount() == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, models.StatusRunning, e.Status())
}

func TestStopLossHaltsWithoutAutoSwitch(t *testing.T) {
	dialer := &fakeDialer{}
	src := &fakeCandles{candles: []models.Candle{{Open: 10, Close: 11}}}
	cfg := fastConfig()
	cfg.StopLoss = 1
	cfg.AutoSwitchDemo = false
	e := newTestEngine(t, dialer, fundedBroker(), src, memoryRepo(t))

	require.NoError(t, e.Start(context.Background(), cfg, false))
	require.Eventually(t, func() bool { return dialer.bidCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	trade := dialer.trade()

	settle(trade, "u1", "2024-05-01T10:16:00Z", "call", 99)
	require.Eventually(t, func() bool { return dialer.bidCount() == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, models.StatusRunning, e.Status(), "step 1 is still within the limit")

	settle(trade, "u2", "2024-05-01T10:17:00Z", "call", 99)
	require.Eventually(t, func() bool { return e.Status() == models.StatusError }, 2*time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return dialer.bidCount() > 2 }, 150*time.Millisecond, 10*time.Millisecond)

	st, ok := e.LadderSnapshot()
	require.True(t, ok)
	assert.Equal(t, 2, st.MartingaleStep)
	assert.False(t, st.SwitchDemoActive)
}

func TestStopLossSwitchesRealToDemo(t *testing.T) {
	dialer := &fakeDialer{}
	broker := fundedBroker()
	broker.SetBalance(models.Balance{Wallet: models.Real, Amount: 1_000_000, Currency: "USD"})
	src := &fakeCandles{candles: []models.Candle{{Open: 10, Close: 11}}}
	cfg := fastConfig()
	cfg.WalletType = models.Real
	cfg.StopLoss = 1
	cfg.AutoSwitchDemo = true
	e := newTestEngine(t, dialer, broker, src, memoryRepo(t))

	require.NoError(t, e.Start(context.Background(), cfg, false))
	require.Eventually(t, func() bool { return dialer.bidCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	trade := dialer.trade()
	assert.Equal(t, models.Real, trade.bids()[0].DealType)

	settle(trade, "u1", "2024-05-01T10:16:00Z", "call", 99)
	require.Eventually(t, func() bool { return dialer.bidCount() == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, models.Real, trade.bids()[1].DealType)
	assert.Equal(t, int64(200), trade.bids()[1].Amount)

	settle(trade, "u2", "2024-05-01T10:17:00Z", "call", 99)
	require.Eventually(t, func() bool { return dialer.bidCount() == 3 }, 2*time.Second, 5*time.Millisecond)
	third := trade.bids()[2]
	assert.Equal(t, models.Demo, third.DealType)
	assert.Equal(t, int64(100), third.Amount, "switch-demo bids at the base amount")
	assert.Equal(t, models.StatusRunning, e.Status())

	st, ok := e.LadderSnapshot()
	require.True(t, ok)
	assert.True(t, st.SwitchDemoActive)
	assert.Equal(t, 2, st.SwitchDemoStep)
	assert.Equal(t, models.Real, st.SwitchDemoReturnWallet)
}
