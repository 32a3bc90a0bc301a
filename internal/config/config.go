package config

import (
	"binary-options-bot-go/internal/models"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/jxskiss/base62"
)

// LoadConfig 从指定路径加载JSON配置文件并解析到Config结构体中
func LoadConfig(path string) (*models.Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	decoder.DisallowUnknownFields()
	cfg := &models.Config{}
	// 未配置 reset_martingale 时不限制马丁步数，显式的 0 表示每次亏损都重置
	cfg.Trade.ResetMartingale = -1
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件 %s 失败: %w", path, err)
	}

	if cfg.CandleSource == "" {
		cfg.CandleSource = "broker"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "data/state"
	}
	if cfg.ReportEvery <= 0 {
		cfg.ReportEvery = 30
	}
	if err := cfg.Trade.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Secrets 是只来自环境变量的敏感配置
type Secrets struct {
	Token            string
	DeviceID         string
	BinanceAPIKey    string
	BinanceSecretKey string
}

// LoadEnv 读取 .env（如存在）并从环境变量中收集密钥。
// 返回值 loaded 表示 .env 是否被成功加载。
func LoadEnv(files ...string) (Secrets, bool, error) {
	loaded := godotenv.Load(files...) == nil

	s := Secrets{
		Token:            os.Getenv("BROKER_TOKEN"),
		DeviceID:         os.Getenv("BROKER_DEVICE_ID"),
		BinanceAPIKey:    os.Getenv("BINANCE_API_KEY"),
		BinanceSecretKey: os.Getenv("BINANCE_SECRET_KEY"),
	}
	if s.Token == "" {
		return s, loaded, fmt.Errorf("BROKER_TOKEN 环境变量必须被设置")
	}
	if s.DeviceID == "" {
		id, err := NewDeviceID()
		if err != nil {
			return s, loaded, err
		}
		s.DeviceID = id
	}
	return s, loaded, nil
}

// NewDeviceID 生成一个随机的 base62 设备标识
func NewDeviceID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("生成设备ID失败: %w", err)
	}
	return base62.EncodeToString(buf), nil
}
