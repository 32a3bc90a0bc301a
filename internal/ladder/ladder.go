package ladder

import (
	"binary-options-bot-go/internal/models"

	"github.com/shopspring/decimal"
)

// Verdict 是一次止损评估的结论
type Verdict int

const (
	Continue Verdict = iota
	// SkippedOnce means the one-shot suppression after a switch-demo exit was consumed.
	SkippedOnce
	// EnteredSwitchDemo means the run moved to the demo wallet instead of stopping.
	EnteredSwitchDemo
	// BreachIgnored means the threshold was crossed but auto-switch could not apply.
	BreachIgnored
	// Halt means the engine must stop.
	Halt
)

func (v Verdict) String() string {
	switch v {
	case Continue:
		return "continue"
	case SkippedOnce:
		return "skipped_once"
	case EnteredSwitchDemo:
		return "switch_demo"
	case BreachIgnored:
		return "breach_ignored"
	case Halt:
		return "halt"
	}
	return "unknown"
}

// ActiveWallet is the wallet the next bid is placed under.
func ActiveWallet(cfg models.TradeConfig, st models.LadderState) models.WalletType {
	if st.ForceDemo {
		return models.Demo
	}
	return cfg.WalletType
}

// ApplyWin resets the ladder after a winning settlement. Inside switch-demo
// it restores the wallet and the step recorded on entry instead.
func ApplyWin(st *models.LadderState, cooldownCycles int) {
	if st.SwitchDemoActive {
		st.SwitchDemoActive = false
		st.ForceDemo = st.SwitchDemoReturnWallet == models.Demo
		st.MartingaleStep = st.SwitchDemoStep
		st.SwitchDemoStep = 0
		st.SwitchDemoReturnWallet = ""
		st.RepeatStep = 0
		st.ShouldUseSignal = true
		st.DisableRepeatAfterDemo = true
		st.SkipStopLossOnce = true
		st.AllowAutoSwitch = true
		StartCooldown(st, cooldownCycles)
		return
	}
	st.MartingaleStep = 0
	st.LossStreak = 0
	st.RepeatStep = 0
	st.ShouldUseSignal = true
	st.AllowAutoSwitch = true
	st.DisableRepeatAfterDemo = false
	StartCooldown(st, cooldownCycles)
}

// ApplyLoss grows the ladder after a losing settlement and reports whether
// the resetMartingale cap reset it. Losses inside switch-demo are ignored.
func ApplyLoss(st *models.LadderState, cfg models.TradeConfig) (reset bool) {
	if st.SwitchDemoActive {
		return false
	}
	st.LossStreak++

	switch {
	case cfg.ResetMartingale == 0:
		st.MartingaleStep = 0
	case cfg.ResetMartingale > 0 && st.MartingaleStep >= cfg.ResetMartingale:
		st.MartingaleStep = 0
		st.LossStreak = 0
		st.RepeatStep = 0
		reset = true
	default:
		st.MartingaleStep++
	}
	if st.MartingaleStep > MaxStep {
		st.MartingaleStep = MaxStep
	}

	// repeatStep 独立于步数策略调整，重置后同样计数
	if cfg.MaxMartingale > 0 && st.RepeatStep < cfg.MaxMartingale {
		st.RepeatStep++
	} else {
		st.RepeatStep = 0
	}
	if st.DisableRepeatAfterDemo {
		st.RepeatStep = 0
	}
	st.ShouldUseSignal = st.RepeatStep == 0
	return reset
}

// EvaluateStopLoss applies the stop-loss rule after a settlement.
func EvaluateStopLoss(st *models.LadderState, cfg models.TradeConfig) Verdict {
	if cfg.StopLoss <= 0 || st.SwitchDemoActive {
		return Continue
	}
	if st.SkipStopLossOnce {
		st.SkipStopLossOnce = false
		return SkippedOnce
	}
	if st.MartingaleStep <= cfg.StopLoss {
		return Continue
	}
	if !cfg.AutoSwitchDemo {
		return Halt
	}
	if ActiveWallet(cfg, *st) != models.Real || !st.AllowAutoSwitch {
		return BreachIgnored
	}
	st.SwitchDemoActive = true
	st.SwitchDemoStep = st.MartingaleStep
	st.SwitchDemoReturnWallet = models.Real
	st.ForceDemo = true
	st.AllowAutoSwitch = false
	return EnteredSwitchDemo
}

// StopProfitReached reports whether today's realized profit (minor units)
// on the active wallet reached the configured target.
func StopProfitReached(cfg models.TradeConfig, profitToday int64) bool {
	if cfg.StopProfitAfter <= 0 {
		return false
	}
	target := ToMinor(decimal.NewFromFloat(cfg.StopProfitAfter))
	return profitToday >= target
}

// StartCooldown arms the cooldown for the given number of scheduler ticks.
func StartCooldown(st *models.LadderState, cycles int) {
	if cycles <= 0 {
		return
	}
	st.CooldownActive = true
	st.CooldownCount = 0
	st.CooldownMax = cycles
}

// TickCooldown consumes one scheduler tick and reports whether it must be
// skipped.
func TickCooldown(st *models.LadderState) bool {
	if !st.CooldownActive {
		return false
	}
	st.CooldownCount++
	if st.CooldownCount >= st.CooldownMax {
		st.CooldownActive = false
		st.CooldownCount = 0
	}
	return true
}
