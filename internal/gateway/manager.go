package gateway

import (
	"binary-options-bot-go/internal/models"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"go.uber.org/zap"
)

// Config 描述两个通道的地址、认证信息和时间参数
type Config struct {
	TradeURL  string
	StreamURL string
	Token     string
	DeviceID  string
	Asset     string

	OpenTimeout    time.Duration // 单个通道等待 open 的上限
	JoinDelay      time.Duration // join 消息之间的间隔
	HeartbeatEvery time.Duration
	ReconnectMin   time.Duration
	ReconnectMax   time.Duration
}

func (c *Config) setDefaults() {
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = 15 * time.Second
	}
	if c.JoinDelay <= 0 {
		c.JoinDelay = time.Second
	}
	if c.HeartbeatEvery <= 0 {
		c.HeartbeatEvery = 60 * time.Second
	}
	if c.ReconnectMin <= 0 {
		c.ReconnectMin = 2 * time.Second
	}
	if c.ReconnectMax < c.ReconnectMin {
		c.ReconnectMax = 30 * time.Second
	}
}

// Callbacks 把通道事件交给上层。回调在 Manager 的 goroutine 中执行，
// 调用时不持有 Manager 的锁。
type Callbacks struct {
	OnMessage func(in Inbound)
	OnReady   func(ch Name)
	OnStatus  func(tradeConnected, streamConnected bool)
	// ShouldReconnect 返回 false 时，意外断开只记录日志
	ShouldReconnect func() bool
}

type channelState struct {
	ch        Channel
	connected bool
	ready     bool
}

// Manager 管理 trade 和 stream 两个通道
type Manager struct {
	cfg       Config
	dialer    Dialer
	callbacks Callbacks
	logger    *zap.Logger

	mu           sync.Mutex
	ctx          context.Context
	gen          int // 每次 (重)连接递增，旧通道的回调据此被忽略
	trade        channelState
	stream       channelState
	joinRefs     map[string]int
	ref          int
	reconnecting bool
	closed       bool
	backoff      *backoff.Backoff
	done         chan struct{}
}

// NewManager 创建一个新的 Manager
func NewManager(cfg Config, dialer Dialer, callbacks Callbacks, logger *zap.Logger) *Manager {
	cfg.setDefaults()
	return &Manager{
		cfg:       cfg,
		dialer:    dialer,
		callbacks: callbacks,
		logger:    logger,
		joinRefs:  make(map[string]int),
		backoff: &backoff.Backoff{
			Min:    cfg.ReconnectMin,
			Max:    cfg.ReconnectMax,
			Factor: 2,
		},
		done: make(chan struct{}),
	}
}

// Connect opens the trade channel, then the stream channel, each within
// OpenTimeout, and starts both join sequences and the heartbeat.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.New("gateway closed")
	}
	m.ctx = ctx
	m.gen++
	gen := m.gen
	m.trade = channelState{}
	m.stream = channelState{}
	m.joinRefs = make(map[string]int)
	m.ref = 0
	m.mu.Unlock()

	trade, err := m.open(ctx, Trade, m.cfg.TradeURL, gen)
	if err != nil {
		return err
	}
	if !m.attach(Trade, trade, gen) {
		_ = trade.Close()
		return errors.New("connect superseded")
	}
	m.notifyStatus()

	stream, err := m.open(ctx, Stream, m.cfg.StreamURL, gen)
	if err != nil {
		m.teardown()
		return err
	}
	if !m.attach(Stream, stream, gen) {
		_ = stream.Close()
		return errors.New("connect superseded")
	}
	m.notifyStatus()

	go m.joinTrade(gen)
	go m.joinStream(gen)
	go m.heartbeat(gen)
	return nil
}

func (m *Manager) open(ctx context.Context, name Name, rawURL string, gen int) (Channel, error) {
	openCtx, cancel := context.WithTimeout(ctx, m.cfg.OpenTimeout)
	defer cancel()

	target, err := m.channelURL(rawURL)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	header.Set("Origin", originOf(rawURL))

	ch, err := m.dialer.Dial(openCtx, target, header, Handlers{
		OnMessage: func(data []byte) { m.handleMessage(name, gen, data) },
		OnError:   func(err error) { m.handleError(name, gen, err) },
		OnClose:   func(code int, reason string) { m.handleClose(name, gen, code, reason) },
	})
	if err != nil {
		if errors.Is(openCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%s: %w", name, models.ErrConnectTimeout)
		}
		return nil, fmt.Errorf("%s 通道连接失败: %w", name, err)
	}
	m.logger.Info("通道已连接", zap.String("channel", string(name)))
	return ch, nil
}

func (m *Manager) channelURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid channel url %q: %w", raw, err)
	}
	q := u.Query()
	if m.cfg.Token != "" {
		q.Set("authtoken", m.cfg.Token)
	}
	if m.cfg.DeviceID != "" {
		q.Set("device_id", m.cfg.DeviceID)
	}
	q.Set("device", "web")
	q.Set("vsn", "2.0.0")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func originOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	scheme := "https"
	if u.Scheme == "ws" {
		scheme = "http"
	}
	return scheme + "://" + u.Host
}

func (m *Manager) attach(name Name, ch Channel, gen int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || m.closed {
		return false
	}
	st := m.state(name)
	st.ch = ch
	st.connected = true
	return true
}

// state must be called with mu held.
func (m *Manager) state(name Name) *channelState {
	if name == Trade {
		return &m.trade
	}
	return &m.stream
}

func (m *Manager) nextRef() int {
	m.ref++
	return m.ref
}

// wait sleeps d unless the generation is superseded or the manager closes.
func (m *Manager) wait(gen int, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-m.done:
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.gen && !m.closed
}

// send marshals env on the named channel if gen is still current.
// withRef assigns a fresh ref; joinTopic, when set, supplies join_ref.
func (m *Manager) send(gen int, name Name, env Envelope, withRef bool, joinTopic string) error {
	m.mu.Lock()
	if gen != m.gen || m.closed {
		m.mu.Unlock()
		return errors.New("stale connection")
	}
	st := m.state(name)
	if st.ch == nil || !st.connected {
		m.mu.Unlock()
		return fmt.Errorf("%s channel not connected", name)
	}
	if withRef {
		ref := m.nextRef()
		env.Ref = refString(ref)
		if env.Event == EventJoin {
			m.joinRefs[env.Topic] = ref
			env.JoinRef = refString(ref)
		}
	}
	if joinTopic != "" {
		if jr, ok := m.joinRefs[joinTopic]; ok {
			env.JoinRef = refString(jr)
		}
	}
	ch := st.ch
	m.mu.Unlock()

	if env.Payload == nil {
		env.Payload = struct{}{}
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s/%s: %w", env.Topic, env.Event, err)
	}
	return ch.Send(data)
}

func (m *Manager) joinTrade(gen int) {
	for _, topic := range TradeTopics {
		if !m.wait(gen, m.cfg.JoinDelay) {
			return
		}
		if err := m.send(gen, Trade, Envelope{Topic: topic, Event: EventJoin}, false, ""); err != nil {
			m.logger.Warn("trade join 失败", zap.String("topic", topic), zap.Error(err))
			return
		}
	}
	controls := []Envelope{
		{Topic: "connection", Event: EventSubscribe, Payload: map[string]string{"type": "reconnect_request"}},
		{Topic: "asset", Event: EventSubscribe, Payload: map[string][]string{"rics": {m.cfg.Asset}}},
	}
	for _, env := range controls {
		if err := m.send(gen, Trade, env, false, ""); err != nil {
			m.logger.Warn("trade 订阅失败", zap.String("topic", env.Topic), zap.Error(err))
			return
		}
	}
	m.markReady(Trade, gen)
}

func (m *Manager) joinStream(gen int) {
	for _, topic := range StreamTopics(m.cfg.Asset) {
		if !m.wait(gen, m.cfg.JoinDelay) {
			return
		}
		if err := m.send(gen, Stream, Envelope{Topic: topic, Event: EventJoin}, true, ""); err != nil {
			m.logger.Warn("stream join 失败", zap.String("topic", topic), zap.Error(err))
			return
		}
	}
	if !m.wait(gen, m.cfg.JoinDelay) {
		return
	}
	if err := m.send(gen, Stream, Envelope{Topic: "connection", Event: EventPing}, true, "connection"); err != nil {
		m.logger.Warn("stream ping 失败", zap.Error(err))
		return
	}
	m.markReady(Stream, gen)
}

func (m *Manager) markReady(name Name, gen int) {
	m.mu.Lock()
	if gen != m.gen || m.closed {
		m.mu.Unlock()
		return
	}
	m.state(name).ready = true
	m.mu.Unlock()
	m.logger.Info("通道握手完成", zap.String("channel", string(name)))
	if m.callbacks.OnReady != nil {
		m.callbacks.OnReady(name)
	}
}

func (m *Manager) heartbeat(gen int) {
	for m.wait(gen, m.cfg.HeartbeatEvery) {
		if err := m.send(gen, Stream, Envelope{Topic: "phoenix", Event: EventHeartbeat}, true, ""); err != nil {
			m.logger.Debug("心跳发送失败", zap.Error(err))
			continue
		}
		_ = m.send(gen, Stream, Envelope{Topic: "connection", Event: EventPing}, true, "connection")
	}
}

// SendBid sends a bo/create message on the trade channel, correlated with
// the bo join_ref.
func (m *Manager) SendBid(bid BidPayload) error {
	m.mu.Lock()
	gen := m.gen
	m.mu.Unlock()
	return m.send(gen, Trade, Envelope{Topic: "bo", Event: EventCreate, Payload: bid}, true, "bo")
}

func (m *Manager) handleMessage(name Name, gen int, data []byte) {
	if !m.current(gen) {
		return
	}
	in, err := DecodeInbound(data)
	if err != nil {
		m.logger.Warn("丢弃无法解析的消息", zap.String("channel", string(name)), zap.Error(err))
		return
	}
	in.Channel = name
	if m.callbacks.OnMessage != nil {
		m.callbacks.OnMessage(in)
	}
}

func (m *Manager) handleError(name Name, gen int, err error) {
	if !m.current(gen) {
		return
	}
	m.logger.Warn("通道错误", zap.String("channel", string(name)), zap.Error(err))
}

func (m *Manager) handleClose(name Name, gen int, code int, reason string) {
	m.mu.Lock()
	if gen != m.gen || m.closed {
		m.mu.Unlock()
		return
	}
	st := m.state(name)
	st.connected = false
	st.ready = false
	m.mu.Unlock()

	m.logger.Warn("通道断开", zap.String("channel", string(name)), zap.Int("code", code), zap.String("reason", reason))
	m.notifyStatus()
	m.scheduleReconnect()
}

func (m *Manager) current(gen int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.gen && !m.closed
}

func (m *Manager) scheduleReconnect() {
	if m.callbacks.ShouldReconnect != nil && !m.callbacks.ShouldReconnect() {
		m.logger.Info("引擎未运行，不重连")
		return
	}
	m.mu.Lock()
	if m.reconnecting || m.closed {
		m.mu.Unlock()
		return
	}
	m.reconnecting = true
	delay := m.backoff.Duration()
	ctx := m.ctx
	m.mu.Unlock()

	m.logger.Info("计划重连", zap.Duration("delay", delay))
	go func() {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-m.done:
			return
		case <-ctx.Done():
			return
		}

		m.teardown()
		err := m.Connect(ctx)

		m.mu.Lock()
		m.reconnecting = false
		if err == nil {
			m.backoff.Reset()
		}
		m.mu.Unlock()

		if err != nil {
			m.logger.Warn("重连失败", zap.Error(err))
			m.scheduleReconnect()
		}
	}()
}

// teardown closes both channels of the current generation without
// triggering the reconnect path.
func (m *Manager) teardown() {
	m.mu.Lock()
	m.gen++
	chans := []Channel{m.trade.ch, m.stream.ch}
	m.trade = channelState{}
	m.stream = channelState{}
	m.mu.Unlock()

	for _, ch := range chans {
		if ch != nil {
			_ = ch.Close()
		}
	}
	m.notifyStatus()
}

// Close intentionally closes both channels and stops every timer. The
// Manager cannot be reused afterwards.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.gen++
	close(m.done)
	chans := []Channel{m.trade.ch, m.stream.ch}
	m.trade = channelState{}
	m.stream = channelState{}
	m.mu.Unlock()

	for _, ch := range chans {
		if ch != nil {
			_ = ch.Close()
		}
	}
}

// Connected reports the socket-open flags.
func (m *Manager) Connected() (trade, stream bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.trade.connected, m.stream.connected
}

// Ready reports the handshake-complete flags.
func (m *Manager) Ready() (trade, stream bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.trade.ready, m.stream.ready
}

func (m *Manager) notifyStatus() {
	if m.callbacks.OnStatus == nil {
		return
	}
	trade, stream := m.Connected()
	m.callbacks.OnStatus(trade, stream)
}
