// Package gateway owns the two broker WebSocket channels: the Phoenix-style
// envelope, the join sequences, heartbeats and reconnection.
package gateway

import (
	"binary-options-bot-go/internal/models"
	"encoding/json"
	"strconv"
)

// Name identifies one of the two channels.
type Name string

const (
	Trade  Name = "trade"
	Stream Name = "stream"
)

// Phoenix 协议事件名
const (
	EventJoin      = "phx_join"
	EventReply     = "phx_reply"
	EventHeartbeat = "heartbeat"
	EventPing      = "ping"
	EventSubscribe = "subscribe"
	EventCreate    = "create"

	EventOpened         = "opened"
	EventCloseDealBatch = "close_deal_batch"
	EventBalanceChanged = "balance_changed"
)

// Envelope 是出站消息的统一格式。ref / join_ref 由 Manager 分配。
type Envelope struct {
	Topic   string  `json:"topic"`
	Event   string  `json:"event"`
	Payload any     `json:"payload"`
	Ref     *string `json:"ref"`
	JoinRef *string `json:"join_ref,omitempty"`
}

// Inbound 是解码后的入站消息
type Inbound struct {
	Channel Name            `json:"-"`
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// BidPayload is the payload of a bo/create message.
type BidPayload struct {
	CreatedAt    int64             `json:"created_at"`
	ExpireAt     int64             `json:"expire_at"`
	Ric          string            `json:"ric"`
	DealType     models.WalletType `json:"deal_type"`
	OptionType   string            `json:"option_type"`
	Trend        models.Trend      `json:"trend"`
	TournamentID *int64            `json:"tournament_id"`
	IsState      bool              `json:"is_state"`
	Amount       int64             `json:"amount"`
}

// StreamTopics returns the ordered stream-channel join list for an asset.
func StreamTopics(ric string) []string {
	return []string{
		"connection",
		"marathon",
		"user",
		"tournament",
		"cfd_zero_spread",
		"bo",
		"asset",
		"copy_trading",
		"account",
		"asset:" + ric,
		"range_stream:" + ric,
	}
}

// TradeTopics is the trade-channel join list.
var TradeTopics = []string{"connection", "bo"}

func refString(n int) *string {
	s := strconv.Itoa(n)
	return &s
}

// DecodeInbound parses one text frame.
func DecodeInbound(data []byte) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return in, err
	}
	return in, nil
}
