package exchange

import (
	"binary-options-bot-go/internal/models"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	dealsEndpoint    = "/bo_deals_history/v3/deals/trade"
	balancesEndpoint = "/bank/v1/read"
)

// LiveBroker 实现了 Broker 接口，通过 HTTP 访问经纪商 REST API
type LiveBroker struct {
	baseURL    string
	token      string
	deviceID   string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewLiveBroker 创建一个新的 LiveBroker 实例
func NewLiveBroker(baseURL, token, deviceID string, logger *zap.Logger) *LiveBroker {
	return &LiveBroker{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		deviceID:   deviceID,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// doRequest 是通用的请求处理函数，附加认证头并把非 2xx 响应转换为 *APIError
func (b *LiveBroker) doRequest(ctx context.Context, method, endpoint string, params url.Values) ([]byte, error) {
	fullURL := b.baseURL + endpoint
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("authorization-token", b.token)
	req.Header.Set("device-id", b.deviceID)
	req.Header.Set("device-type", "web")
	req.Header.Set("Accept", "application/json")

	b.logger.Debug("发送请求", zap.String("method", method), zap.String("url", fullURL))
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("执行请求失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return body, &APIError{Status: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

// GetDeals 获取指定钱包的成交历史
func (b *LiveBroker) GetDeals(ctx context.Context, wallet models.WalletType) ([]models.Deal, error) {
	params := url.Values{}
	params.Set("type", string(wallet))
	data, err := b.doRequest(ctx, http.MethodGet, dealsEndpoint, params)
	if err != nil {
		return nil, err
	}
	deals, err := NormalizeDeals(data, wallet)
	if err != nil {
		return nil, fmt.Errorf("解析成交历史失败: %w", err)
	}
	return deals, nil
}

// GetBalances 获取所有钱包余额
func (b *LiveBroker) GetBalances(ctx context.Context) ([]models.Balance, error) {
	data, err := b.doRequest(ctx, http.MethodGet, balancesEndpoint, nil)
	if err != nil {
		return nil, err
	}
	balances, err := NormalizeBalances(data)
	if err != nil {
		return nil, fmt.Errorf("解析余额失败: %w", err)
	}
	return balances, nil
}
