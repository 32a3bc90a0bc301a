// Package ladder implements the martingale risk ladder: bid sizing, the
// per-currency bid limits, splitting of oversized bids and the counter
// updates applied on every settlement.
package ladder

import (
	"binary-options-bot-go/internal/models"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// MaxStep 是马丁步数的硬上限
const MaxStep = 100

// Limits 是单笔下注的上下限（最小单位）
type Limits struct {
	Min int64
	Max int64
}

var currencyLimits = map[string]Limits{
	"IDR": {Min: 14_000 * 100, Max: 74_000_000 * 100},
	"USD": {Min: 1 * 100, Max: 5_000 * 100},
	"EUR": {Min: 1 * 100, Max: 4_600 * 100},
}

var hundred = decimal.NewFromInt(100)

// LimitsFor returns the bid bounds of a currency.
func LimitsFor(currency string) (Limits, error) {
	l, ok := currencyLimits[strings.ToUpper(currency)]
	if !ok {
		return Limits{}, fmt.Errorf("%w: %s", models.ErrUnsupportedCurrency, currency)
	}
	return l, nil
}

// EffectiveStep clamps the ladder step used for sizing.
// resetMartingale 0 keeps the base amount, N > 0 caps at N, negative is
// bounded only by MaxStep. Switch-demo always bids the base amount.
func EffectiveStep(st models.LadderState, resetMartingale int) int {
	if st.SwitchDemoActive {
		return 0
	}
	step := min(max(st.MartingaleStep, 0), MaxStep)
	switch {
	case resetMartingale == 0:
		return 0
	case resetMartingale > 0:
		return min(step, resetMartingale)
	}
	return step
}

// Compound grows base by step compounding rounds: each round adds
// round(total * rate) to the running total, rate being percent/100
// (or 1 when percent is not positive). The result is in major units.
func Compound(base float64, step int, percent float64) decimal.Decimal {
	total := decimal.NewFromFloat(base)
	rate := decimal.NewFromInt(1)
	if percent > 0 {
		rate = decimal.NewFromFloat(percent).Div(hundred)
	}
	for i := 0; i < step; i++ {
		total = total.Add(total.Mul(rate).Round(0))
	}
	return total
}

// ToMinor converts a major-unit amount to minor units.
func ToMinor(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

// BidAmounts sizes the next bid for the current ladder position and returns
// one or more sub-bids in minor units. No bids are returned with an error.
func BidAmounts(cfg models.TradeConfig, st models.LadderState) ([]int64, error) {
	base := cfg.BaseAmount()
	if base <= 0 || math.IsNaN(base) || math.IsInf(base, 0) {
		return nil, fmt.Errorf("%w: base amount %v for %s", models.ErrInvalidBidAmount, base, cfg.Currency)
	}
	limits, err := LimitsFor(cfg.Currency)
	if err != nil {
		return nil, err
	}

	step := EffectiveStep(st, cfg.ResetMartingale)
	total := ToMinor(Compound(base, step, cfg.MartingalePercent))
	if total <= 0 {
		return nil, fmt.Errorf("%w: computed %d at step %d", models.ErrInvalidBidAmount, total, step)
	}
	if total < limits.Min {
		return nil, fmt.Errorf("%w: %d < %d %s", models.ErrBelowMinimumBid, total, limits.Min, cfg.Currency)
	}
	return Split(total, limits), nil
}

// Split breaks total into chunks of at most l.Max. A chunk is shrunk when
// the remainder behind it would fall below l.Min.
func Split(total int64, l Limits) []int64 {
	if total <= l.Max {
		return []int64{total}
	}
	var chunks []int64
	remaining := total
	for remaining > l.Max {
		chunk := l.Max
		if rest := remaining - chunk; rest < l.Min {
			chunk -= l.Min - rest
		}
		chunks = append(chunks, chunk)
		remaining -= chunk
	}
	return append(chunks, remaining)
}

// Sum adds up sub-bids.
func Sum(amounts []int64) int64 {
	var total int64
	for _, a := range amounts {
		total += a
	}
	return total
}

// CheckBalance rejects a bid larger than a known, positive wallet balance.
func CheckBalance(total, balance int64, known bool) error {
	if known && balance > 0 && total > balance {
		return fmt.Errorf("%w: need %d, have %d", models.ErrInsufficientBalance, total, balance)
	}
	return nil
}
