package bot

import (
	"binary-options-bot-go/internal/gateway"
	"binary-options-bot-go/internal/ladder"
	"binary-options-bot-go/internal/models"
	"binary-options-bot-go/internal/recovery"
	"binary-options-bot-go/internal/signals"
	"binary-options-bot-go/internal/statemanager"
	"binary-options-bot-go/internal/tracker"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// session 是一次运行的全部状态。除 running 与 view 外，
// 所有字段只在 statemanager 的事件循环中读写。
type session struct {
	engine *Engine
	id     string
	cfg    models.TradeConfig
	logger *zap.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	sm      *statemanager.StateManager
	gw      *gateway.Manager
	tracker *tracker.Tracker
	running atomic.Bool
	stop    sync.Once
	view    atomic.Pointer[models.LadderState]

	ladder        models.LadderState
	fastRepeat    models.Trend
	lastTrend     models.Trend
	balances      map[models.WalletType]models.Balance
	profitToday   map[models.WalletType]int64
	inFlightUntil time.Time
	// profitPending 是尚未返回的当日盈利刷新数；reentryPending 表示 Fast 在等它
	profitPending  int
	reentryPending bool
	tradeReady     bool
	streamReady    bool
	initialSent    bool
	lastSignalAt   time.Time
	schedule       []signals.Entry
}

func newSession(parent context.Context, e *Engine, cfg models.TradeConfig, resume bool) (*session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if _, err := ladder.LimitsFor(cfg.Currency); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	s := &session{
		engine:      e,
		id:          id,
		cfg:         cfg,
		logger:      e.logger.With(zap.String("run_id", id)),
		tracker:     tracker.New(),
		ladder:      models.NewLadderState(),
		balances:    make(map[models.WalletType]models.Balance),
		profitToday: make(map[models.WalletType]int64),
	}

	if cfg.Strategy == models.StrategySignal {
		entries, err := signals.Parse(cfg.SignalSchedule, e.opts.Now())
		if err != nil {
			s.logger.Warn("信号表中存在无效行", zap.Error(err))
		}
		if len(entries) == 0 {
			return nil, errors.Join(models.ErrEmptySchedule, err)
		}
		s.schedule = entries
	}

	var persisted *models.PersistedBotState
	if e.opts.Repo != nil {
		loaded, err := e.opts.Repo.LoadState()
		if err != nil {
			s.logger.Warn("读取持久化状态失败", zap.Error(err))
		}
		persisted = loaded
	}

	s.ctx, s.cancel = context.WithCancel(parent)
	s.sm = statemanager.NewStateManager(persisted, e.opts.Repo, s, s.logger)

	resumed := false
	if resume && e.opts.Broker != nil {
		rs, err := recovery.CheckResumeState(s.ctx, e.opts.Broker, persisted)
		if err != nil {
			s.logger.Warn("恢复检查失败，按全新启动处理", zap.Error(err))
		}
		if rs.ShouldResume {
			recovery.Apply(&s.ladder, rs, persisted)
			resumed = true
			s.logf("resuming at step %d (%s)", rs.ResumeStep, rs.Reason)
		}
	}
	if !resumed {
		s.ladder = models.NewLadderState()
		if err := s.sm.ResetState(); err != nil {
			s.logger.Warn("清除持久化状态失败", zap.Error(err))
		}
	}
	s.publishLadder()

	if e.opts.Broker != nil {
		s.bootstrapBalances()
	}

	s.gw = gateway.NewManager(gateway.Config{
		TradeURL:       e.opts.Gateway.TradeURL,
		StreamURL:      e.opts.Gateway.StreamURL,
		Token:          e.opts.Gateway.Token,
		DeviceID:       e.opts.Gateway.DeviceID,
		Asset:          cfg.Asset,
		OpenTimeout:    e.opts.OpenTimeout,
		JoinDelay:      e.opts.JoinDelay,
		HeartbeatEvery: e.opts.HeartbeatEvery,
		ReconnectMin:   e.opts.ReconnectMin,
		ReconnectMax:   e.opts.ReconnectMax,
	}, e.opts.Dialer, gateway.Callbacks{
		OnMessage: func(in gateway.Inbound) {
			s.dispatch(statemanager.InboundMessageEvent, in)
		},
		OnReady: func(ch gateway.Name) {
			s.dispatch(statemanager.ChannelReadyEvent, ch)
		},
		OnStatus: func(trade, stream bool) {
			s.dispatch(statemanager.ConnectionStatusEvent, models.ConnectionEvent{
				Time: e.opts.Now(), TradeConnected: trade, StreamConnected: stream,
			})
		},
		ShouldReconnect: s.running.Load,
	}, s.logger)

	s.sm.Start()
	return s, nil
}

func (s *session) bootstrapBalances() {
	ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
	defer cancel()
	balances, err := s.engine.opts.Broker.GetBalances(ctx)
	if err != nil {
		s.logger.Warn("获取余额失败", zap.Error(err))
		return
	}
	for _, b := range balances {
		s.balances[b.Wallet] = b
	}
}

func (s *session) connect() error {
	if err := s.gw.Connect(s.ctx); err != nil {
		return fmt.Errorf("connect gateway: %w", err)
	}
	return nil
}

// shutdown is idempotent and safe from inside the event loop.
func (s *session) shutdown() {
	s.stop.Do(func() {
		s.running.Store(false)
		s.cancel()
		if s.gw != nil {
			s.gw.Close()
		}
		s.sm.Stop()
	})
}

// halt stops the run from inside the event loop.
func (s *session) halt(message string, isError bool) {
	if s.ctx.Err() != nil {
		return
	}
	s.logger.Warn("引擎停止", zap.String("reason", message), zap.Bool("error", isError))
	s.shutdown()
	s.tracker.Reset()
	if isError {
		s.engine.setStatus(models.StatusError, message)
		return
	}
	s.engine.setStatus(models.StatusStopped, message)
}

func (s *session) dispatch(t statemanager.EventType, data interface{}) {
	s.sm.DispatchEvent(statemanager.NormalizedEvent{Type: t, Timestamp: s.engine.opts.Now(), Data: data})
}

func (s *session) publishLadder() {
	snapshot := s.ladder
	s.view.Store(&snapshot)
}

func (s *session) ladderView() models.LadderState {
	if v := s.view.Load(); v != nil {
		return *v
	}
	return models.LadderState{}
}

func (s *session) logf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	s.logger.Info(msg)
	s.engine.emit(models.LogEvent{Time: s.engine.opts.Now(), Message: msg})
}

func (s *session) errorf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	s.logger.Error(msg)
	s.engine.emit(models.ErrorEvent{Time: s.engine.opts.Now(), Message: msg})
}

func (s *session) persist() {
	st := s.ladder
	s.sm.UpdateState(func(p *models.PersistedBotState) {
		p.LastSignalTrend = st.LastSignalTrend
	})
}

func (s *session) persistBid(total int64) {
	st := s.ladder
	s.sm.UpdateState(func(p *models.PersistedBotState) {
		p.LastBidStep = st.MartingaleStep
		p.LastBidInSwitchDemo = st.SwitchDemoActive
		p.LastSignalTrend = st.LastSignalTrend
		p.LastBidAmount = total
	})
}
