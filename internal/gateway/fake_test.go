package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
)

type fakeChannel struct {
	url      string
	handlers Handlers

	mu     sync.Mutex
	sent   []Envelope
	closed bool
}

func (c *fakeChannel) Send(data []byte) error {
	var env struct {
		Topic   string          `json:"topic"`
		Event   string          `json:"event"`
		Payload json.RawMessage `json:"payload"`
		Ref     *string         `json:"ref"`
		JoinRef *string         `json:"join_ref"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	var payload any
	_ = json.Unmarshal(env.Payload, &payload)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, Envelope{Topic: env.Topic, Event: env.Event, Payload: payload, Ref: env.Ref, JoinRef: env.JoinRef})
	return nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeChannel) Sent() []Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Envelope, len(c.sent))
	copy(out, c.sent)
	return out
}

func (c *fakeChannel) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeDialer struct {
	mu       sync.Mutex
	channels []*fakeChannel
	block    bool // 模拟永远无法 open 的通道
}

func (d *fakeDialer) Dial(ctx context.Context, url string, _ http.Header, h Handlers) (Channel, error) {
	if d.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	ch := &fakeChannel{url: url, handlers: h}
	d.mu.Lock()
	d.channels = append(d.channels, ch)
	d.mu.Unlock()
	return ch, nil
}

func (d *fakeDialer) Channels() []*fakeChannel {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*fakeChannel, len(d.channels))
	copy(out, d.channels)
	return out
}

// Latest returns the newest channel dialed for the url prefix.
func (d *fakeDialer) Latest(prefix string) *fakeChannel {
	chans := d.Channels()
	for i := len(chans) - 1; i >= 0; i-- {
		if strings.HasPrefix(chans[i].url, prefix) {
			return chans[i]
		}
	}
	return nil
}
