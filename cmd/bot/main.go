package main

import (
	"binary-options-bot-go/internal/bot"
	"binary-options-bot-go/internal/candles"
	"binary-options-bot-go/internal/config"
	"binary-options-bot-go/internal/exchange"
	"binary-options-bot-go/internal/gateway"
	"binary-options-bot-go/internal/logger"
	"binary-options-bot-go/internal/models"
	"binary-options-bot-go/internal/persistence"
	"binary-options-bot-go/internal/reporter"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	os.Exit(run())
}

func run() int {
	// --- 命令行参数定义 ---
	configPath := flag.String("config", "config.json", "path to the config file")
	resume := flag.Bool("resume", false, "resume the martingale ladder from the deal history")
	flag.Parse()

	// 先用默认配置初始化日志，加载配置后再重新初始化
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	secrets, loaded, err := config.LoadEnv()
	if loaded {
		logger.S().Info("成功从 .env 文件加载配置。")
	} else {
		logger.S().Info("未找到 .env 文件，将从系统环境变量中读取。")
	}
	if err != nil {
		logger.S().Fatalf("环境变量不完整: %v", err)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.S().Fatalf("无法加载配置文件: %v", err)
	}
	cfg.Gateway.Token = secrets.Token
	cfg.Gateway.DeviceID = secrets.DeviceID

	log := logger.InitLogger(cfg.Log)
	defer logger.S().Sync()

	repo, err := persistence.NewBadgerRepository(cfg.DBPath)
	if err != nil {
		logger.S().Fatalf("无法打开状态数据库: %v", err)
	}
	defer repo.Close()

	broker := exchange.NewLiveBroker(cfg.Gateway.APIURL, secrets.Token, secrets.DeviceID, log)
	source, err := newCandleSource(cfg, secrets)
	if err != nil {
		logger.S().Fatal(err)
	}

	engine := bot.NewEngine(bot.Options{
		Gateway: cfg.Gateway,
		Dialer:  gateway.NewWSDialer(),
		Broker:  broker,
		Candles: source,
		Repo:    repo,
		Logger:  log,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, unsubscribe := engine.Subscribe(256)
	statuses, unsubscribeStatus := engine.Subscribe(16)
	halted := watchHalt(statuses)
	rep := reporter.New(os.Stdout, broker, cfg.Trade.WalletType, log)
	reportDone := make(chan struct{})
	go func() {
		defer close(reportDone)
		rep.Run(ctx, events, time.Duration(cfg.ReportEvery)*time.Second)
	}()

	if err := engine.Start(ctx, cfg.Trade, *resume || cfg.Resume); err != nil {
		logger.S().Fatalf("机器人启动失败: %v", err)
	}
	logger.S().Infof("机器人已启动: %s %s (run %s)", cfg.Trade.Strategy, cfg.Trade.Asset, engine.RunID())

	// 等待中断信号或引擎自行停止（止损、止盈、余额不足）
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	code := 0
	select {
	case <-quit:
		if err := engine.Stop(); err != nil {
			logger.S().Infof("引擎已停止: %v", err)
		}
	case ev := <-halted:
		logger.S().Warnf("引擎自行停止: %s (%s)", ev.Status, ev.Message)
		if ev.Status == models.StatusError {
			code = 1
		}
	}
	unsubscribeStatus()
	unsubscribe()
	<-reportDone
	logger.S().Info("机器人已成功停止，状态已保存。")
	return code
}

// terminalStatus 判断事件是否表示引擎已停止运行
func terminalStatus(ev models.Event) (models.StatusEvent, bool) {
	st, ok := ev.(models.StatusEvent)
	if !ok {
		return models.StatusEvent{}, false
	}
	return st, st.Status == models.StatusStopped || st.Status == models.StatusError
}

// watchHalt 转发事件流中的第一个终止状态
func watchHalt(events <-chan models.Event) <-chan models.StatusEvent {
	out := make(chan models.StatusEvent, 1)
	go func() {
		for ev := range events {
			if st, ok := terminalStatus(ev); ok {
				out <- st
				return
			}
		}
	}()
	return out
}

func newCandleSource(cfg *models.Config, secrets config.Secrets) (candles.Source, error) {
	switch cfg.CandleSource {
	case "broker":
		return candles.NewHTTPSource(cfg.Gateway.QuoteURL, secrets.Token, secrets.DeviceID, logger.L()), nil
	case "binance":
		return candles.NewBinanceSource(secrets.BinanceAPIKey, secrets.BinanceSecretKey, cfg.BinanceSymbols), nil
	}
	return nil, fmt.Errorf("未知的K线来源: %s", cfg.CandleSource)
}
