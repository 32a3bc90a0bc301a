package models

import (
	"fmt"
	"strings"
	"time"
)

// Config 是进程级配置，由 config.LoadConfig 从 JSON 文件加载
type Config struct {
	Log          LogConfig     `json:"log"`
	Trade        TradeConfig   `json:"trade"`
	Gateway      GatewayConfig `json:"gateway"`
	DBPath       string        `json:"db_path"`       // BadgerDB 目录
	CandleSource string        `json:"candle_source"` // "broker" 或 "binance"
	// BinanceSymbols 把资产 RIC 映射为币安交易对，仅 candle_source=binance 时使用
	BinanceSymbols map[string]string `json:"binance_symbols,omitempty"`
	Resume         bool              `json:"resume"` // 启动时尝试恢复马丁阶梯
	ReportEvery    int               `json:"report_every_sec,omitempty"`
}

// LogConfig 定义了日志相关的配置
type LogConfig struct {
	Level      string `json:"level"`       // 日志级别, e.g., "debug", "info", "warn", "error"
	Output     string `json:"output"`      // 输出模式: "console", "file", "both"
	File       string `json:"file"`        // 日志文件路径
	MaxSize    int    `json:"max_size"`    // 单个日志文件的最大大小 (MB)
	MaxBackups int    `json:"max_backups"` // 保留的旧日志文件最大数量
	MaxAge     int    `json:"max_age"`     // 旧日志文件的最大保留天数
	Compress   bool   `json:"compress"`    // 是否压缩旧日志文件
}

// GatewayConfig 描述经纪商的两个 WebSocket 通道和 REST 接口地址
type GatewayConfig struct {
	TradeURL  string `json:"trade_url"`
	StreamURL string `json:"stream_url"`
	APIURL    string `json:"api_url"`   // 成交历史 / 余额
	QuoteURL  string `json:"quote_url"` // K线
	Token     string `json:"-"`         // 来自环境变量
	DeviceID  string `json:"-"`         // 来自环境变量
}

// Trend 是一次下注的方向
type Trend string

const (
	Call Trend = "call"
	Put  Trend = "put"
)

// Opposite returns the other direction.
func (t Trend) Opposite() Trend {
	if t == Call {
		return Put
	}
	return Call
}

// ParseTrend accepts call/put as well as the buy/sell spellings used by signal sheets.
func ParseTrend(s string) (Trend, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "call", "b", "buy", "up":
		return Call, nil
	case "put", "s", "sell", "down":
		return Put, nil
	}
	return "", fmt.Errorf("unknown trend %q", s)
}

// WalletType 区分真实账户与模拟账户
type WalletType string

const (
	Real WalletType = "real"
	Demo WalletType = "demo"
)

// StrategyName 选择四种策略之一
type StrategyName string

const (
	StrategySignal   StrategyName = "Signal"
	StrategyFast     StrategyName = "Fast"
	StrategyMomentum StrategyName = "Momentum"
	StrategyFlash    StrategyName = "Flash"
)

// Status 是引擎生命周期状态
type Status string

const (
	StatusIdle     Status = "idle"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopped  Status = "stopped"
	StatusError    Status = "error"
)

// IndicatorParams 指标调优参数，当前策略未使用，保留
type IndicatorParams struct {
	EMAPeriod  int     `json:"ema_period,omitempty"`
	RSIPeriod  int     `json:"rsi_period,omitempty"`
	MACDFast   int     `json:"macd_fast,omitempty"`
	MACDSlow   int     `json:"macd_slow,omitempty"`
	MACDSignal int     `json:"macd_signal,omitempty"`
	BBPeriod   int     `json:"bb_period,omitempty"`
	BBStdDev   float64 `json:"bb_std_dev,omitempty"`
}

// TradeConfig 是一次运行期间不可变的交易配置，更新时整体替换
type TradeConfig struct {
	Asset             string             `json:"asset"`              // 资产 RIC, e.g. "Z-CRY/IDX"
	Currency          string             `json:"currency"`           // IDR / USD / EUR
	Strategy          StrategyName       `json:"strategy"`           // Signal / Fast / Momentum / Flash
	Interval          int                `json:"interval"`           // 分钟
	WalletType        WalletType         `json:"wallet_type"`        // real / demo
	BidAmounts        map[string]float64 `json:"bid_amounts"`        // 货币 -> 基础下注额 (主单位)
	AutoSwitchDemo    bool               `json:"auto_switch_demo"`   // 止损时自动切换到模拟账户
	SignalSchedule    string             `json:"signal_schedule"`    // "HH:MM B|S" 多行
	MartingalePercent float64            `json:"martingale_percent"` // 0 表示 100%
	MaxMartingale     int                `json:"max_martingale"`     // 重复上一方向的最大次数
	ResetMartingale   int                `json:"reset_martingale"`   // 0: 总是重置; N>0: 到 N 重置; <0: 不限
	StopLoss          int                `json:"stop_loss"`          // 马丁步数阈值, 0 关闭
	StopProfitAfter   float64            `json:"stop_profit_after"`  // 当日盈利阈值 (主单位), 0 关闭
	OptionType        string             `json:"option_type,omitempty"`
	Indicators        IndicatorParams    `json:"indicators,omitempty"`
}

// BaseAmount returns the configured base bid for the trade currency.
func (c TradeConfig) BaseAmount() float64 {
	return c.BidAmounts[strings.ToUpper(c.Currency)]
}

// Validate 规范化默认值并拒绝无法运行的配置
func (c *TradeConfig) Validate() error {
	if c.Asset == "" {
		return fmt.Errorf("%w: asset is required", ErrInvalidConfig)
	}
	c.Currency = strings.ToUpper(c.Currency)
	if c.Currency == "" {
		return fmt.Errorf("%w: currency is required", ErrInvalidConfig)
	}
	if c.BidAmounts != nil {
		normalized := make(map[string]float64, len(c.BidAmounts))
		for k, v := range c.BidAmounts {
			normalized[strings.ToUpper(k)] = v
		}
		c.BidAmounts = normalized
	}
	switch c.Strategy {
	case StrategySignal, StrategyFast, StrategyMomentum:
	case StrategyFlash:
		c.Interval = 1
	default:
		return fmt.Errorf("%w: unknown strategy %q", ErrInvalidConfig, c.Strategy)
	}
	if c.Interval < 1 {
		c.Interval = 1
	}
	switch c.WalletType {
	case Real, Demo:
	case "":
		c.WalletType = Demo
	default:
		return fmt.Errorf("%w: unknown wallet type %q", ErrInvalidConfig, c.WalletType)
	}
	if c.OptionType == "" {
		c.OptionType = "turbo"
	}
	if c.MaxMartingale < 0 {
		c.MaxMartingale = 0
	}
	return nil
}

// Candle 是一根 OHLC K线
type Candle struct {
	Time  time.Time `json:"time"`
	Open  float64   `json:"open"`
	High  float64   `json:"high"`
	Low   float64   `json:"low"`
	Close float64   `json:"close"`
}

// IsGreen reports a close above the open.
func (c Candle) IsGreen() bool { return c.Close > c.Open }

// IsRed reports a close below the open.
func (c Candle) IsRed() bool { return c.Close < c.Open }

// Color maps the candle body to a trend; ok is false for a doji.
func (c Candle) Color() (Trend, bool) {
	switch {
	case c.IsGreen():
		return Call, true
	case c.IsRed():
		return Put, true
	}
	return "", false
}

// Deal 是经纪商成交历史中的一条记录（已规范化，金额为最小单位）
type Deal struct {
	UUID       string     `json:"uuid"`
	Status     string     `json:"status"` // opened / won / lost / ...
	AssetRic   string     `json:"asset_ric"`
	Trend      Trend      `json:"trend"`
	Amount     int64      `json:"amount"`
	Win        int64      `json:"win"`
	Payment    int64      `json:"payment"`
	Wallet     WalletType `json:"wallet"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt time.Time  `json:"finished_at"`
}

// IsOpen reports whether the broker still holds the position.
func (d Deal) IsOpen() bool { return strings.EqualFold(d.Status, "opened") }

// Profit is the realized result of a closed deal in minor units.
func (d Deal) Profit() int64 {
	if d.IsOpen() {
		return 0
	}
	return d.Win - d.Amount
}

// Balance 是单个钱包的余额（最小单位）
type Balance struct {
	Wallet   WalletType `json:"account_type"`
	Amount   int64      `json:"balance"`
	Currency string     `json:"currency"`
}
