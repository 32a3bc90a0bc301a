package bot

import (
	"binary-options-bot-go/internal/ladder"
	"binary-options-bot-go/internal/models"
	"binary-options-bot-go/internal/signals"
	"binary-options-bot-go/internal/statemanager"
	"binary-options-bot-go/internal/strategy"
	"context"
	"time"

	"go.uber.org/zap"
)

type tickKind int

const (
	tickSignal tickKind = iota
	tickFastLog
	tickMomentum
	tickFlash
)

type tick struct {
	kind  tickKind
	trend models.Trend // 仅 Signal
}

type fetchPurpose int

const (
	purposeFastEntry fetchPurpose = iota
	purposeFastLog
	purposeMomentum
	purposeFlash
	purposeFlashInitial
)

type candleResult struct {
	purpose fetchPurpose
	candles []models.Candle
	err     error
}

// K线请求参数：周期与数量
var fetchParams = map[fetchPurpose]struct {
	period time.Duration
	count  int
}{
	purposeFastEntry:    {time.Minute, 3},
	purposeFastLog:      {time.Minute, 1},
	purposeMomentum:     {time.Minute, 3},
	purposeFlash:        {time.Second, 30},
	purposeFlashInitial: {time.Second, 30},
}

// startScheduler 启动当前策略的唯一定时器组，随会话 ctx 一起取消
func (s *session) startScheduler() {
	now := s.engine.opts.Now()
	switch s.cfg.Strategy {
	case models.StrategySignal:
		for _, entry := range s.schedule {
			go s.runSignalEntry(entry, now)
		}
	case models.StrategyFast:
		go s.every(func(now time.Time) time.Time { return strategy.NextSecond(now, 59) }, tick{kind: tickFastLog})
	case models.StrategyMomentum:
		interval := s.cfg.Interval
		go s.every(func(now time.Time) time.Time { return strategy.NextIntervalBoundary(now, interval) }, tick{kind: tickMomentum})
	case models.StrategyFlash:
		go s.every(func(now time.Time) time.Time { return now.Add(strategy.FlashTick) }, tick{kind: tickFlash})
	}
}

// Signal entries fire once, at the next occurrence of their wall-clock time.
func (s *session) runSignalEntry(entry signals.Entry, now time.Time) {
	at := signals.NextOccurrence(entry.At, now)
	if !s.sleepUntil(at) {
		return
	}
	if d := strategy.SecondZeroDelay(s.engine.opts.Now()); d > 0 && !s.sleep(d) {
		return
	}
	s.dispatch(statemanager.StrategyTickEvent, tick{kind: tickSignal, trend: entry.Trend})
}

func (s *session) every(next func(time.Time) time.Time, t tick) {
	for {
		if !s.sleepUntil(next(s.engine.opts.Now())) {
			return
		}
		s.dispatch(statemanager.StrategyTickEvent, t)
	}
}

func (s *session) sleepUntil(at time.Time) bool {
	return s.sleep(at.Sub(s.engine.opts.Now()))
}

// sleep 返回 false 表示会话已结束
func (s *session) sleep(d time.Duration) bool {
	if d < 0 {
		d = 0
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-s.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// scheduleBid 在延迟后把下注请求送回事件循环
func (s *session) scheduleBid(r bidRequest, delay time.Duration) {
	if delay <= 0 {
		s.handleBidRequest(r)
		return
	}
	go func() {
		if s.sleep(delay) {
			s.dispatch(statemanager.BidRequestEvent, r)
		}
	}()
}

func (s *session) handleTick(t tick) {
	switch t.kind {
	case tickSignal:
		s.handleBidRequest(bidRequest{fresh: t.trend, source: "signal"})
	case tickFastLog:
		s.fetchCandles(purposeFastLog)
	case tickMomentum, tickFlash:
		if ladder.TickCooldown(&s.ladder) {
			s.publishLadder()
			s.logger.Debug("冷却中，跳过本轮", zap.Int("count", s.ladder.CooldownCount), zap.Int("max", s.ladder.CooldownMax))
			return
		}
		if t.kind == tickMomentum {
			s.fetchCandles(purposeMomentum)
			return
		}
		s.fetchCandles(purposeFlash)
	}
}

// fetchCandles 异步拉取 K线，结果以 CandlesFetchedEvent 回到事件循环
func (s *session) fetchCandles(purpose fetchPurpose) {
	src := s.engine.opts.Candles
	if src == nil {
		return
	}
	p := fetchParams[purpose]
	asset := s.cfg.Asset
	go func() {
		ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
		defer cancel()
		candles, err := src.Candles(ctx, asset, p.period, p.count)
		if s.ctx.Err() != nil {
			return
		}
		s.dispatch(statemanager.CandlesFetchedEvent, candleResult{purpose: purpose, candles: candles, err: err})
	}()
}
