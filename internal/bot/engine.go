// Package bot is the top-level controller: it wires the gateway, the
// strategy logic, the risk ladder, the outcome tracker and the recovery
// check into one engine and exposes start/stop/subscribe.
package bot

import (
	"binary-options-bot-go/internal/candles"
	"binary-options-bot-go/internal/exchange"
	"binary-options-bot-go/internal/gateway"
	"binary-options-bot-go/internal/models"
	"binary-options-bot-go/internal/persistence"
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Options 是引擎的外部协作者和时间参数
type Options struct {
	Gateway models.GatewayConfig
	Dialer  gateway.Dialer
	Broker  exchange.Broker
	Candles candles.Source
	Repo    persistence.StateRepository // 可为 nil
	Logger  *zap.Logger

	// 以下字段为零值时使用默认值，测试中可缩短
	JoinDelay      time.Duration
	OpenTimeout    time.Duration
	HeartbeatEvery time.Duration
	ReconnectMin   time.Duration
	ReconnectMax   time.Duration
	Now            func() time.Time
}

// Engine 是机器人控制器。一个 Engine 同一时间最多运行一个会话。
type Engine struct {
	opts   Options
	logger *zap.Logger

	mu      sync.Mutex
	status  models.Status
	sess    *session
	subs    map[int]chan models.Event
	nextSub int
}

// NewEngine 创建一个新的 Engine
func NewEngine(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		opts:   opts,
		logger: opts.Logger,
		status: models.StatusIdle,
		subs:   make(map[int]chan models.Event),
	}
}

// Subscribe returns a channel receiving every engine event. Slow
// subscribers lose events rather than block the engine. The returned
// function unsubscribes and closes the channel.
func (e *Engine) Subscribe(buffer int) (<-chan models.Event, func()) {
	if buffer < 1 {
		buffer = 64
	}
	ch := make(chan models.Event, buffer)
	e.mu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch
	e.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.subs, id)
			e.mu.Unlock()
			close(ch)
		})
	}
}

func (e *Engine) emit(ev models.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Status returns the lifecycle status.
func (e *Engine) Status() models.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

func (e *Engine) setStatus(status models.Status, message string) {
	e.mu.Lock()
	e.status = status
	e.mu.Unlock()
	e.emit(models.StatusEvent{Time: e.opts.Now(), Status: status, Message: message})
}

// RunID returns the id of the current or last session.
func (e *Engine) RunID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess == nil {
		return ""
	}
	return e.sess.id
}

// LadderSnapshot returns the ladder counters of the current session.
func (e *Engine) LadderSnapshot() (models.LadderState, bool) {
	e.mu.Lock()
	s := e.sess
	e.mu.Unlock()
	if s == nil {
		return models.LadderState{}, false
	}
	return s.ladderView(), true
}

// Start validates cfg, optionally resumes the ladder, connects both
// channels and starts the strategy scheduler. Configuration and initial
// connection failures are returned; later failures surface as events.
func (e *Engine) Start(ctx context.Context, cfg models.TradeConfig, resume bool) error {
	e.mu.Lock()
	if e.status == models.StatusRunning || e.status == models.StatusStarting {
		e.mu.Unlock()
		return models.ErrAlreadyRunning
	}
	prev := e.sess
	e.status = models.StatusStarting
	e.mu.Unlock()

	if prev != nil {
		prev.shutdown()
		<-prev.sm.Done()
	}
	e.emit(models.StatusEvent{Time: e.opts.Now(), Status: models.StatusStarting})

	s, err := newSession(ctx, e, cfg, resume)
	if err != nil {
		e.setStatus(models.StatusError, err.Error())
		return err
	}
	e.mu.Lock()
	e.sess = s
	e.mu.Unlock()

	if err := s.connect(); err != nil {
		s.shutdown()
		<-s.sm.Done()
		e.setStatus(models.StatusError, err.Error())
		return err
	}
	s.running.Store(true)
	e.setStatus(models.StatusRunning, fmt.Sprintf("%s on %s", cfg.Strategy, cfg.Asset))
	s.startScheduler()
	return nil
}

// Stop cancels every timer, closes both channels without reconnecting and
// waits for the event loop to drain.
func (e *Engine) Stop() error {
	e.mu.Lock()
	s := e.sess
	status := e.status
	e.mu.Unlock()
	if s == nil || (status != models.StatusRunning && status != models.StatusStarting) {
		return models.ErrNotRunning
	}
	s.shutdown()
	<-s.sm.Done()
	e.setStatus(models.StatusStopped, "stopped by user")
	return nil
}

// UpdateConfig applies a new config by restarting the engine with a resume
// check so the ladder position survives.
func (e *Engine) UpdateConfig(ctx context.Context, cfg models.TradeConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := e.Stop(); err != nil && err != models.ErrNotRunning {
		return err
	}
	return e.Start(ctx, cfg, true)
}
