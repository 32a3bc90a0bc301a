package models

import "time"

// EventKind names an entry of the engine event catalogue.
type EventKind string

const (
	EventStatus  EventKind = "status"
	EventLog     EventKind = "log"
	EventError   EventKind = "error"
	EventBalance EventKind = "balance"
	EventWS      EventKind = "ws"
	EventRefresh EventKind = "refresh"
)

// Event is the sum type delivered on an engine subscription.
type Event interface {
	Kind() EventKind
	At() time.Time
}

// StatusEvent reports a lifecycle transition.
type StatusEvent struct {
	Time    time.Time `json:"timestamp"`
	Status  Status    `json:"status"`
	Message string    `json:"message,omitempty"`
}

// LogEvent is a diagnostic trace line.
type LogEvent struct {
	Time    time.Time `json:"timestamp"`
	Message string    `json:"message"`
}

// ErrorEvent is a recoverable problem.
type ErrorEvent struct {
	Time    time.Time `json:"timestamp"`
	Message string    `json:"message"`
}

// BalanceEvent carries a wallet balance pushed by the broker.
type BalanceEvent struct {
	Time        time.Time  `json:"timestamp"`
	AccountType WalletType `json:"accountType"`
	Balance     int64      `json:"balance"`
	Currency    string     `json:"currency"`
}

// ConnectionEvent is a snapshot of channel connectivity.
type ConnectionEvent struct {
	Time            time.Time `json:"timestamp"`
	TradeConnected  bool      `json:"tradeConnected"`
	StreamConnected bool      `json:"streamConnected"`
}

// RefreshReason tells collaborators what derived state went stale.
type RefreshReason string

const (
	RefreshBid           RefreshReason = "bid"
	RefreshTrackedProfit RefreshReason = "tracked_profit"
)

// RefreshEvent hints collaborators to re-fetch derived UI state.
type RefreshEvent struct {
	Time   time.Time     `json:"timestamp"`
	Reason RefreshReason `json:"reason"`
}

func (StatusEvent) Kind() EventKind     { return EventStatus }
func (LogEvent) Kind() EventKind        { return EventLog }
func (ErrorEvent) Kind() EventKind      { return EventError }
func (BalanceEvent) Kind() EventKind    { return EventBalance }
func (ConnectionEvent) Kind() EventKind { return EventWS }
func (RefreshEvent) Kind() EventKind    { return EventRefresh }

func (e StatusEvent) At() time.Time     { return e.Time }
func (e LogEvent) At() time.Time        { return e.Time }
func (e ErrorEvent) At() time.Time      { return e.Time }
func (e BalanceEvent) At() time.Time    { return e.Time }
func (e ConnectionEvent) At() time.Time { return e.Time }
func (e RefreshEvent) At() time.Time    { return e.Time }
