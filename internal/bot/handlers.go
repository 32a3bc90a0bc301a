package bot

import (
	"binary-options-bot-go/internal/exchange"
	"binary-options-bot-go/internal/gateway"
	"binary-options-bot-go/internal/ladder"
	"binary-options-bot-go/internal/models"
	"binary-options-bot-go/internal/statemanager"
	"binary-options-bot-go/internal/strategy"
	"binary-options-bot-go/internal/tracker"
	"context"
	"time"

	"go.uber.org/zap"
)

// bidRequest 由调度器或 K线结果产生，fresh 可以为空（仅依赖重复方向）
type bidRequest struct {
	fresh  models.Trend
	source string
}

type haltRequest struct {
	message string
	isError bool
}

type profitResult struct {
	wallet models.WalletType
	profit int64
	err    error
}

// HandleEvent 在 statemanager 的单消费者循环中执行，是唯一修改会话状态的入口
func (s *session) HandleEvent(event statemanager.NormalizedEvent) {
	if s.ctx.Err() != nil {
		return
	}

	switch event.Type {
	case statemanager.InboundMessageEvent:
		if in, ok := event.Data.(gateway.Inbound); ok {
			s.handleInbound(in)
		}
	case statemanager.ChannelReadyEvent:
		if name, ok := event.Data.(gateway.Name); ok {
			s.handleReady(name)
		}
	case statemanager.ConnectionStatusEvent:
		if ev, ok := event.Data.(models.ConnectionEvent); ok {
			if !ev.TradeConnected {
				s.tradeReady = false
			}
			if !ev.StreamConnected {
				s.streamReady = false
			}
			s.engine.emit(ev)
		}
	case statemanager.StrategyTickEvent:
		if t, ok := event.Data.(tick); ok {
			s.handleTick(t)
		}
	case statemanager.CandlesFetchedEvent:
		if r, ok := event.Data.(candleResult); ok {
			s.handleCandles(r)
		}
	case statemanager.ProfitRefreshedEvent:
		if r, ok := event.Data.(profitResult); ok {
			s.handleProfit(r)
		}
	case statemanager.BidRequestEvent:
		if r, ok := event.Data.(bidRequest); ok {
			s.handleBidRequest(r)
		}
	case statemanager.HaltEvent:
		if r, ok := event.Data.(haltRequest); ok {
			s.halt(r.message, r.isError)
		}
	default:
		s.logger.Warn("未知事件类型", zap.Stringer("type", event.Type))
	}
}

// requestHalt 让当前事件先处理完，再在循环中停止
func (s *session) requestHalt(message string, isError bool) {
	s.dispatch(statemanager.HaltEvent, haltRequest{message: message, isError: isError})
}

func (s *session) handleInbound(in gateway.Inbound) {
	switch in.Event {
	case gateway.EventReply:
		if in.Topic != "bo" {
			return
		}
		uuid, err := exchange.NormalizeBidAck(in.Payload)
		if err != nil {
			s.logger.Warn("无法解析下单回执", zap.Error(err))
			return
		}
		if uuid == "" {
			return
		}
		s.tracker.AddPending(uuid)
		s.logger.Debug("下单已确认", zap.String("uuid", uuid))

	case gateway.EventOpened:
		bid, err := exchange.NormalizeOpened(in.Payload)
		if err != nil {
			s.logger.Warn("无法解析开仓消息", zap.Error(err))
			return
		}
		if bid.Wallet == "" {
			bid.Wallet = ladder.ActiveWallet(s.cfg, s.ladder)
		}
		if !s.tracker.Open(bid) {
			s.logger.Debug("忽略未知开仓", zap.String("uuid", bid.UUID))
			return
		}
		s.logf("opened %s %s at %v, closes %s", bid.Trend, bid.AssetRic, bid.OpenRate, bid.CloseAt)

	case gateway.EventCloseDealBatch:
		batch, err := exchange.NormalizeCloseBatch(in.Payload)
		if err != nil {
			s.logger.Warn("无法解析结算批次", zap.Error(err))
			return
		}
		s.handleCloseBatch(batch)

	case gateway.EventBalanceChanged:
		bal, err := exchange.NormalizeBalance(in.Payload)
		if err != nil || bal.Wallet == "" {
			s.logger.Warn("无法解析余额变动", zap.Error(err))
			return
		}
		s.balances[bal.Wallet] = bal
		s.engine.emit(models.BalanceEvent{
			Time:        s.engine.opts.Now(),
			AccountType: bal.Wallet,
			Balance:     bal.Amount,
			Currency:    bal.Currency,
		})
	}
}

func (s *session) handleReady(name gateway.Name) {
	switch name {
	case gateway.Trade:
		s.tradeReady = true
	case gateway.Stream:
		s.streamReady = true
	}
	if !s.tradeReady || !s.streamReady {
		return
	}
	s.logf("channels ready")

	switch s.cfg.Strategy {
	case models.StrategyFast:
		s.fetchCandles(purposeFastEntry)
	case models.StrategyFlash:
		if !s.initialSent {
			s.initialSent = true
			s.fetchCandles(purposeFlashInitial)
		}
	}
}

func (s *session) handleCandles(r candleResult) {
	if r.err != nil {
		s.errorf("candle fetch failed: %v", r.err)
		if r.purpose == purposeFastEntry && s.fastRepeat != "" {
			s.handleBidRequest(bidRequest{source: "fast repeat"})
		}
		return
	}
	now := s.engine.opts.Now()

	switch r.purpose {
	case purposeFastEntry:
		trend, ok := strategy.FastTrend(r.candles, s.lastTrend)
		if ok {
			s.lastTrend = trend
		}
		s.handleBidRequest(bidRequest{fresh: trend, source: "fast"})

	case purposeFastLog:
		if len(r.candles) == 0 {
			return
		}
		last := r.candles[len(r.candles)-1]
		color := "doji"
		if trend, ok := last.Color(); ok {
			color = string(trend)
		}
		s.logf("candle %s open=%v close=%v color=%s", s.cfg.Asset, last.Open, last.Close, color)

	case purposeMomentum:
		trend, ok := strategy.MomentumSignal(r.candles, s.lastSignalAt, now)
		if !ok {
			s.logger.Debug("动量无信号")
			return
		}
		s.lastSignalAt = now
		s.scheduleBid(bidRequest{fresh: trend, source: "momentum"}, strategy.SecondZeroDelay(now))

	case purposeFlash:
		trend, reason, ok := strategy.FlashSignal(r.candles)
		if !ok {
			return
		}
		s.logger.Debug("闪电信号", zap.String("trend", string(trend)), zap.String("reason", string(reason)))
		s.handleBidRequest(bidRequest{fresh: trend, source: "flash " + string(reason)})

	case purposeFlashInitial:
		trend, _, ok := strategy.FlashSignal(r.candles)
		if !ok {
			trend, _ = strategy.FastTrend(r.candles, s.lastTrend)
		}
		s.handleBidRequest(bidRequest{fresh: trend, source: "flash initial"})
	}
}

func (s *session) handleBidRequest(r bidRequest) {
	trend, fromSignal, ok := strategy.SelectTrend(s.cfg.Strategy, r.fresh, s.ladder, s.fastRepeat)
	if !ok {
		s.logger.Debug("没有可用方向，跳过", zap.String("source", r.source))
		return
	}
	s.placeBid(trend, fromSignal, r.source)
}

// placeBid 在所有守卫通过后发送一次（可能拆分的）下注
func (s *session) placeBid(trend models.Trend, fromSignal bool, source string) {
	now := s.engine.opts.Now()
	if now.Before(s.inFlightUntil) {
		s.logger.Debug("上一笔下注仍在窗口期内", zap.String("source", source))
		return
	}
	if s.tracker.Busy() {
		s.logger.Debug("存在未结算持仓，跳过", zap.String("source", source))
		return
	}
	if s.profitPending > 0 {
		s.logger.Debug("等待当日盈利刷新，跳过", zap.String("source", source))
		return
	}

	amounts, err := ladder.BidAmounts(s.cfg, s.ladder)
	if err != nil {
		s.errorf("bid amount: %v", err)
		return
	}
	total := ladder.Sum(amounts)
	wallet := ladder.ActiveWallet(s.cfg, s.ladder)
	bal, known := s.balances[wallet]
	if err := ladder.CheckBalance(total, bal.Amount, known); err != nil {
		s.errorf("%v: need %d, have %d on %s", err, total, bal.Amount, wallet)
		s.requestHalt("insufficient balance", true)
		return
	}

	expire := strategy.ExpireAt(now, s.cfg.Interval)
	for _, amount := range amounts {
		err := s.gw.SendBid(gateway.BidPayload{
			CreatedAt:  now.UnixMilli(),
			ExpireAt:   expire.Unix(),
			Ric:        s.cfg.Asset,
			DealType:   wallet,
			OptionType: s.cfg.OptionType,
			Trend:      trend,
			IsState:    false,
			Amount:     amount,
		})
		if err != nil {
			s.errorf("send bid: %v", err)
			return
		}
	}

	s.inFlightUntil = now.Add(strategy.BidWindow(s.cfg.Strategy))
	if fromSignal {
		s.ladder.LastSignalTrend = trend
	}
	s.publishLadder()
	s.persistBid(total)
	s.logf("bid %s %s %d x%d on %s (step %d, %s)", trend, s.cfg.Asset, total, len(amounts), wallet, s.ladder.MartingaleStep, source)
	s.engine.emit(models.RefreshEvent{Time: now, Reason: models.RefreshBid})
}

func (s *session) handleCloseBatch(batch models.CloseBatch) {
	settled, ok := s.tracker.Settle(batch)
	if !ok {
		s.logger.Debug("重复的结算批次", zap.String("ric", batch.Ric), zap.String("finished_at", batch.FinishedAt))
		return
	}
	if len(settled) == 0 {
		return
	}
	s.inFlightUntil = time.Time{}
	cycles := strategy.CooldownCycles(s.cfg.Strategy)

	for _, st := range settled {
		switch st.Outcome {
		case tracker.Win:
			inSwitch := s.ladder.SwitchDemoActive
			ladder.ApplyWin(&s.ladder, cycles)
			if s.cfg.Strategy == models.StrategyFast && !inSwitch {
				s.fastRepeat = st.Bid.Trend
			}
			s.logf("win %s %s open=%v close=%v", st.Bid.Trend, st.Bid.AssetRic, st.Bid.OpenRate, st.EndRate)
		case tracker.Loss:
			if ladder.ApplyLoss(&s.ladder, s.cfg) {
				s.logf("martingale reset after %d steps", s.cfg.ResetMartingale)
				ladder.StartCooldown(&s.ladder, cycles)
			} else if s.cfg.Strategy == models.StrategyFlash {
				ladder.StartCooldown(&s.ladder, cycles)
			}
			s.fastRepeat = ""
			s.logf("loss %s %s open=%v close=%v, step %d", st.Bid.Trend, st.Bid.AssetRic, st.Bid.OpenRate, st.EndRate, s.ladder.MartingaleStep)
		case tracker.Tie:
			s.logf("tie %s %s at %v", st.Bid.Trend, st.Bid.AssetRic, st.EndRate)
		}
	}

	s.persist()
	switch verdict := ladder.EvaluateStopLoss(&s.ladder, s.cfg); verdict {
	case ladder.Halt:
		s.publishLadder()
		s.requestHalt("stop loss reached", true)
		return
	case ladder.EnteredSwitchDemo:
		s.logf("stop loss reached, switching to demo at step %d", s.ladder.SwitchDemoStep)
	case ladder.SkippedOnce, ladder.BreachIgnored:
		s.logger.Info("止损检查", zap.Stringer("verdict", verdict))
	}
	s.publishLadder()

	s.engine.emit(models.RefreshEvent{Time: s.engine.opts.Now(), Reason: models.RefreshTrackedProfit})

	// Fast 的再入场要等止盈检查完成
	if s.cfg.Strategy == models.StrategyFast {
		s.reentryPending = true
	}
	s.refreshProfit(ladder.ActiveWallet(s.cfg, s.ladder))
}

// refreshProfit 拉取当日盈利。结果返回前 placeBid 不会下注。
func (s *session) refreshProfit(wallet models.WalletType) {
	broker := s.engine.opts.Broker
	if broker == nil {
		s.afterProfitCheck()
		return
	}
	s.profitPending++
	go func() {
		ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
		defer cancel()
		deals, err := broker.GetDeals(ctx, wallet)
		r := profitResult{wallet: wallet, err: err}
		if err == nil {
			r.profit = exchange.TodayProfit(deals, s.engine.opts.Now())
		}
		s.dispatch(statemanager.ProfitRefreshedEvent, r)
	}()
}

func (s *session) handleProfit(r profitResult) {
	if s.profitPending > 0 {
		s.profitPending--
	}
	if r.err != nil {
		// 获取失败视为无数据，等下一次结算再检查
		s.logger.Warn("刷新当日盈利失败", zap.Error(r.err))
		s.afterProfitCheck()
		return
	}
	s.profitToday[r.wallet] = r.profit
	if r.wallet == ladder.ActiveWallet(s.cfg, s.ladder) && ladder.StopProfitReached(s.cfg, r.profit) {
		s.logf("profit today %d on %s reached target", r.profit, r.wallet)
		s.reentryPending = false
		s.halt("stop profit reached", false)
		return
	}
	s.afterProfitCheck()
}

func (s *session) afterProfitCheck() {
	if !s.reentryPending || s.profitPending > 0 {
		return
	}
	s.reentryPending = false
	s.fetchCandles(purposeFastEntry)
}
