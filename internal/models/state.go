package models

import "time"

// OpenedBid 是经纪商确认后在本地追踪的持仓
type OpenedBid struct {
	AssetRic string     `json:"asset_ric"`
	CloseAt  string     `json:"close_at"` // 经纪商给出的结算时间戳
	OpenRate float64    `json:"open_rate"`
	Trend    Trend      `json:"trend"`
	UUID     string     `json:"uuid,omitempty"`
	Amount   int64      `json:"amount,omitempty"`
	Payment  int64      `json:"payment,omitempty"`
	Wallet   WalletType `json:"wallet"`
}

// LadderState 是风险阶梯的可变计数器，仅由结算处理和风控规则修改
type LadderState struct {
	MartingaleStep  int   `json:"martingale_step"`
	LossStreak      int   `json:"loss_streak"`
	RepeatStep      int   `json:"repeat_step"`
	ShouldUseSignal bool  `json:"should_use_signal"`
	LastSignalTrend Trend `json:"last_signal_trend,omitempty"`

	CooldownActive bool `json:"cooldown_active"`
	CooldownCount  int  `json:"cooldown_count"`
	CooldownMax    int  `json:"cooldown_max"`

	SwitchDemoActive       bool       `json:"switch_demo_active"`
	SwitchDemoStep         int        `json:"switch_demo_step"`
	SwitchDemoReturnWallet WalletType `json:"switch_demo_return_wallet,omitempty"`
	DisableRepeatAfterDemo bool       `json:"disable_repeat_after_demo"`
	AllowAutoSwitch        bool       `json:"allow_auto_switch"`
	SkipStopLossOnce       bool       `json:"skip_stop_loss_once"`
	ForceDemo              bool       `json:"force_demo"`
}

// NewLadderState returns the zeroed state of a fresh run.
func NewLadderState() LadderState {
	return LadderState{ShouldUseSignal: true, AllowAutoSwitch: true}
}

// PersistedBotState 是唯一跨进程重启保留的状态
type PersistedBotState struct {
	LastBidStep         int       `json:"last_bid_step"`
	LastBidInSwitchDemo bool      `json:"last_bid_in_switch_demo"`
	LastSignalTrend     Trend     `json:"last_signal_trend,omitempty"`
	LastBidAmount       int64     `json:"last_bid_amount"`
	LastUpdateTime      time.Time `json:"last_update_time"`
}

// ResumeReason 说明恢复决策的依据
type ResumeReason string

const (
	ResumeNone               ResumeReason = "NONE"
	ResumeUnclosedBid        ResumeReason = "UNCLOSED_BID"
	ResumeLastBidLost        ResumeReason = "LAST_BID_LOST"
	ResumeLastBidWonInSwitch ResumeReason = "LAST_BID_WON_IN_SWITCH_DEMO"
)

// ResumeState 由成交历史即时计算，不持久化
type ResumeState struct {
	ShouldResume bool         `json:"should_resume"`
	ResumeStep   int          `json:"resume_step"`
	Reason       ResumeReason `json:"reason"`
	Deal         *Deal        `json:"deal,omitempty"`
}

// CloseBatch 是经纪商推送的一次结算批次
type CloseBatch struct {
	Ric        string  `json:"ric"`
	FinishedAt string  `json:"finished_at"`
	EndRate    float64 `json:"end_rate"`
}
