package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Handlers 接收单个通道上的异步事件
type Handlers struct {
	OnMessage func(data []byte)
	OnError   func(err error)
	OnClose   func(code int, reason string)
}

// Channel 是一个已打开的双向文本通道
type Channel interface {
	Send(data []byte) error
	Close() error
}

// Dialer 打开通道；返回时通道已处于 open 状态
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header, h Handlers) (Channel, error)
}

const (
	pongWait   = 90 * time.Second
	pingPeriod = (pongWait * 9) / 10
	writeWait  = 10 * time.Second
)

// WSDialer 是基于 gorilla/websocket 的 Dialer 实现
type WSDialer struct {
	dialer *websocket.Dialer
}

// NewWSDialer 创建一个新的 WSDialer
func NewWSDialer() *WSDialer {
	return &WSDialer{dialer: &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 15 * time.Second,
	}}
}

// Dial 建立连接并启动读循环和控制帧心跳
func (d *WSDialer) Dial(ctx context.Context, url string, header http.Header, h Handlers) (Channel, error) {
	conn, _, err := d.dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("WebSocket连接失败: %w", err)
	}
	c := &wsChannel{conn: conn, handlers: h, stop: make(chan struct{})}
	go c.readLoop()
	go c.pingLoop()
	return c, nil
}

type wsChannel struct {
	conn     *websocket.Conn
	handlers Handlers
	writeMu  sync.Mutex
	stop     chan struct{}
	once     sync.Once
}

func (c *wsChannel) Send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close 发送关闭帧后断开连接，可重复调用
func (c *wsChannel) Close() error {
	var err error
	c.once.Do(func() {
		close(c.stop)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

func (c *wsChannel) readLoop() {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				if c.handlers.OnClose != nil {
					c.handlers.OnClose(closeErr.Code, closeErr.Text)
				}
				return
			}
			if c.handlers.OnError != nil {
				c.handlers.OnError(err)
			}
			if c.handlers.OnClose != nil {
				c.handlers.OnClose(websocket.CloseAbnormalClosure, err.Error())
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		if c.handlers.OnMessage != nil {
			c.handlers.OnMessage(message)
		}
	}
}

func (c *wsChannel) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
