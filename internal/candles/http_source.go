package candles

import (
	"binary-options-bot-go/internal/models"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// HTTPSource 从经纪商的报价接口读取 K线
type HTTPSource struct {
	baseURL    string
	token      string
	deviceID   string
	httpClient *http.Client
	logger     *zap.Logger
	now        func() time.Time
}

// NewHTTPSource 创建一个新的 HTTPSource
func NewHTTPSource(baseURL, token, deviceID string, logger *zap.Logger) *HTTPSource {
	return &HTTPSource{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		deviceID:   deviceID,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
		now:        time.Now,
	}
}

// 报价接口的数值字段有时是字符串
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

type quoteCandle struct {
	CreatedAt string    `json:"created_at"`
	Open      flexFloat `json:"open"`
	High      flexFloat `json:"high"`
	Low       flexFloat `json:"low"`
	Close     flexFloat `json:"close"`
}

// Candles 请求 /candles/v1/{ric}/{from}/{period}
func (s *HTTPSource) Candles(ctx context.Context, ric string, period time.Duration, count int) ([]models.Candle, error) {
	if count < 1 {
		count = 1
	}
	secs := int(period / time.Second)
	if secs < 1 {
		secs = 1
	}
	from := s.now().UTC().Add(-time.Duration(count+1) * period).Truncate(period)
	endpoint := fmt.Sprintf("%s/candles/v1/%s/%s/%d",
		s.baseURL, url.PathEscape(ric), from.Format(time.RFC3339), secs)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("authorization-token", s.token)
	req.Header.Set("device-id", s.deviceID)
	req.Header.Set("device-type", "web")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("执行请求失败: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("报价接口返回状态码 %d: %s", resp.StatusCode, string(body))
	}

	var envelope struct {
		Data []quoteCandle `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("解析K线失败: %w", err)
	}

	out := make([]models.Candle, 0, len(envelope.Data))
	for _, q := range envelope.Data {
		ts, _ := time.Parse(time.RFC3339, q.CreatedAt)
		out = append(out, models.Candle{
			Time:  ts,
			Open:  float64(q.Open),
			High:  float64(q.High),
			Low:   float64(q.Low),
			Close: float64(q.Close),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	if len(out) > count {
		out = out[len(out)-count:]
	}
	s.logger.Debug("K线已获取", zap.String("ric", ric), zap.Int("count", len(out)))
	return out, nil
}
