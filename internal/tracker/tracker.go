// Package tracker matches broker acknowledgements and settlement batches to
// the bids the engine placed, and resolves their outcome.
//
// A Tracker is not safe for concurrent use. The engine only touches it from
// its serialized event loop.
package tracker

import (
	"binary-options-bot-go/internal/models"
	"strconv"
	"strings"
	"time"
)

// DefaultSeenCapacity bounds the settlement dedupe set.
const DefaultSeenCapacity = 100

// Outcome 是一笔下注的结算结果
type Outcome string

const (
	Win  Outcome = "win"
	Loss Outcome = "loss"
	Tie  Outcome = "tie"
)

// ResolveOutcome compares the open rate with the settlement rate.
func ResolveOutcome(trend models.Trend, openRate, closeRate float64) Outcome {
	switch {
	case closeRate == openRate:
		return Tie
	case trend == models.Call && closeRate > openRate:
		return Win
	case trend == models.Put && closeRate < openRate:
		return Win
	}
	return Loss
}

// Settlement is one tracked bid resolved by a close batch.
type Settlement struct {
	Bid     models.OpenedBid
	EndRate float64
	Outcome Outcome
}

// Tracker holds pending acknowledgements, opened bids and the recently seen
// close batches.
type Tracker struct {
	pending   map[string]struct{}
	opened    []models.OpenedBid
	seen      map[string]struct{}
	seenOrder []string
	capacity  int
}

// New returns an empty tracker with the default dedupe capacity.
func New() *Tracker {
	return NewWithCapacity(DefaultSeenCapacity)
}

// NewWithCapacity returns an empty tracker remembering up to capacity batches.
func NewWithCapacity(capacity int) *Tracker {
	if capacity < 1 {
		capacity = DefaultSeenCapacity
	}
	return &Tracker{
		pending:  make(map[string]struct{}),
		seen:     make(map[string]struct{}),
		capacity: capacity,
	}
}

// AddPending registers a bid UUID acknowledged by the broker.
func (t *Tracker) AddPending(uuid string) {
	if uuid == "" {
		return
	}
	t.pending[uuid] = struct{}{}
}

// Open records an opened position. Positions whose UUID was never
// acknowledged are rejected.
func (t *Tracker) Open(bid models.OpenedBid) bool {
	if _, ok := t.pending[bid.UUID]; !ok {
		return false
	}
	delete(t.pending, bid.UUID)
	t.opened = append(t.opened, bid)
	return true
}

// Settle resolves every opened bid matching the batch. ok is false for a
// batch already seen; such a batch changes nothing.
func (t *Tracker) Settle(batch models.CloseBatch) (settled []Settlement, ok bool) {
	key := batch.Ric + "|" + normalizeTimestamp(batch.FinishedAt)
	if _, dup := t.seen[key]; dup {
		return nil, false
	}
	t.remember(key)

	remaining := t.opened[:0]
	for _, bid := range t.opened {
		if bid.AssetRic == batch.Ric && sameInstant(bid.CloseAt, batch.FinishedAt) {
			settled = append(settled, Settlement{
				Bid:     bid,
				EndRate: batch.EndRate,
				Outcome: ResolveOutcome(bid.Trend, bid.OpenRate, batch.EndRate),
			})
			continue
		}
		remaining = append(remaining, bid)
	}
	t.opened = remaining
	return settled, true
}

func (t *Tracker) remember(key string) {
	t.seen[key] = struct{}{}
	t.seenOrder = append(t.seenOrder, key)
	for len(t.seenOrder) > t.capacity {
		delete(t.seen, t.seenOrder[0])
		t.seenOrder = t.seenOrder[1:]
	}
}

// Busy reports whether any acknowledgement or position is outstanding.
func (t *Tracker) Busy() bool {
	return len(t.pending) > 0 || len(t.opened) > 0
}

// Opened returns a copy of the tracked positions.
func (t *Tracker) Opened() []models.OpenedBid {
	out := make([]models.OpenedBid, len(t.opened))
	copy(out, t.opened)
	return out
}

// PendingCount is the number of acknowledged but unopened bids.
func (t *Tracker) PendingCount() int { return len(t.pending) }

// SeenCount is the size of the dedupe set.
func (t *Tracker) SeenCount() int { return len(t.seenOrder) }

// Reset forgets everything, dedupe set included.
func (t *Tracker) Reset() {
	t.pending = make(map[string]struct{})
	t.opened = nil
	t.seen = make(map[string]struct{})
	t.seenOrder = nil
}

// 经纪商在不同事件里用不同格式表示同一时刻
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func parseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n > 1e12 {
			return time.UnixMilli(n).UTC(), true
		}
		return time.Unix(n, 0).UTC(), true
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

func normalizeTimestamp(s string) string {
	if ts, ok := parseTimestamp(s); ok {
		return ts.Format(time.RFC3339Nano)
	}
	return strings.TrimSpace(s)
}

func sameInstant(a, b string) bool {
	ta, okA := parseTimestamp(a)
	tb, okB := parseTimestamp(b)
	if okA && okB {
		return ta.Equal(tb)
	}
	return strings.TrimSpace(a) == strings.TrimSpace(b)
}
