package exchange

import (
	"binary-options-bot-go/internal/models"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// 经纪商的响应结构并不稳定：同一个字段在不同接口、不同版本中可能出现在不同路径、
// 以不同的名字或类型出现。这里集中做容错解析，业务逻辑只看到规范化后的模型。

var errNoList = errors.New("no list found in response")

var dealListPaths = [][]string{
	{"data", "standard_trade_deals"},
	{"data", "deals"},
	{"data", "items"},
	{"deals"},
	{"data"},
	{},
}

var balanceListPaths = [][]string{
	{"data", "balances"},
	{"data"},
	{"balances"},
	{},
}

// NormalizeDeals parses a deal-history response. fallback is the wallet
// assumed for entries that do not carry a deal_type.
func NormalizeDeals(data []byte, fallback models.WalletType) ([]models.Deal, error) {
	v, err := decode(data)
	if err != nil {
		return nil, err
	}
	list, ok := findList(v, dealListPaths)
	if !ok {
		return nil, errNoList
	}
	deals := make([]models.Deal, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		deals = append(deals, dealFromMap(m, fallback))
	}
	return deals, nil
}

// NormalizeBalances parses a balance response.
func NormalizeBalances(data []byte) ([]models.Balance, error) {
	v, err := decode(data)
	if err != nil {
		return nil, err
	}
	list, ok := findList(v, balanceListPaths)
	if !ok {
		return nil, errNoList
	}
	balances := make([]models.Balance, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			balances = append(balances, balanceFromMap(m))
		}
	}
	return balances, nil
}

// NormalizeBalance parses a balance_changed push payload.
func NormalizeBalance(payload []byte) (models.Balance, error) {
	m, err := decodeObject(payload)
	if err != nil {
		return models.Balance{}, err
	}
	return balanceFromMap(m), nil
}

// NormalizeBidAck extracts the bid UUID from a phx_reply payload.
func NormalizeBidAck(payload []byte) (string, error) {
	m, err := decodeObject(payload)
	if err != nil {
		return "", err
	}
	if resp, ok := m["response"].(map[string]any); ok {
		if uuid := pickString(resp, "uuid", "id"); uuid != "" {
			return uuid, nil
		}
	}
	return pickString(m, "uuid"), nil
}

// NormalizeOpened parses an opened push payload.
func NormalizeOpened(payload []byte) (models.OpenedBid, error) {
	m, err := decodeObject(payload)
	if err != nil {
		return models.OpenedBid{}, err
	}
	trend, _ := models.ParseTrend(pickString(m, "trend"))
	bid := models.OpenedBid{
		UUID:     pickString(m, "uuid", "id"),
		AssetRic: pickString(m, "asset_ric", "ric"),
		CloseAt:  pickString(m, "close_quote_created_at", "finished_at"),
		OpenRate: pickFloat(m, "open_rate"),
		Trend:    trend,
		Amount:   pickInt(m, "amount"),
		Payment:  pickInt(m, "payment"),
		Wallet:   walletOf(pickString(m, "deal_type"), ""),
	}
	if bid.UUID == "" {
		return bid, fmt.Errorf("opened payload without uuid")
	}
	return bid, nil
}

// NormalizeCloseBatch parses a close_deal_batch payload. Missing top-level
// fields are taken from the first deal of the batch.
func NormalizeCloseBatch(payload []byte) (models.CloseBatch, error) {
	m, err := decodeObject(payload)
	if err != nil {
		return models.CloseBatch{}, err
	}
	batch := models.CloseBatch{
		Ric:        pickString(m, "ric", "asset_ric"),
		FinishedAt: pickString(m, "finished_at", "close_quote_created_at"),
		EndRate:    pickFloat(m, "end_rate", "close_rate"),
	}
	if list, ok := findList(m, [][]string{{"deals"}, {"standard_trade_deals"}}); ok && len(list) > 0 {
		if first, ok := list[0].(map[string]any); ok {
			if batch.Ric == "" {
				batch.Ric = pickString(first, "asset_ric", "ric")
			}
			if batch.FinishedAt == "" {
				batch.FinishedAt = pickString(first, "finished_at", "close_quote_created_at")
			}
			if batch.EndRate == 0 {
				batch.EndRate = pickFloat(first, "end_rate", "close_rate")
			}
		}
	}
	if batch.Ric == "" || batch.FinishedAt == "" {
		return batch, fmt.Errorf("close batch without ric or finished_at")
	}
	return batch, nil
}

func dealFromMap(m map[string]any, fallback models.WalletType) models.Deal {
	trend, _ := models.ParseTrend(pickString(m, "trend"))
	return models.Deal{
		UUID:       pickString(m, "uuid", "id"),
		Status:     strings.ToLower(pickString(m, "status")),
		AssetRic:   pickString(m, "asset_ric", "ric"),
		Trend:      trend,
		Amount:     pickInt(m, "amount"),
		Win:        pickInt(m, "win", "won"),
		Payment:    pickInt(m, "payment"),
		Wallet:     walletOf(pickString(m, "deal_type", "account_type"), fallback),
		CreatedAt:  pickTime(m, "created_at"),
		FinishedAt: pickTime(m, "finished_at", "close_quote_created_at"),
	}
}

func balanceFromMap(m map[string]any) models.Balance {
	return models.Balance{
		Wallet:   walletOf(pickString(m, "account_type", "type"), ""),
		Amount:   pickInt(m, "balance", "amount"),
		Currency: strings.ToUpper(pickString(m, "currency")),
	}
}

func walletOf(s string, fallback models.WalletType) models.WalletType {
	switch strings.ToLower(s) {
	case "real":
		return models.Real
	case "demo":
		return models.Demo
	}
	return fallback
}

func decode(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("malformed json: %w", err)
	}
	return v, nil
}

func decodeObject(data []byte) (map[string]any, error) {
	v, err := decode(data)
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected a json object")
	}
	return m, nil
}

func findList(v any, paths [][]string) ([]any, bool) {
	for _, path := range paths {
		cur := v
		for _, key := range path {
			m, ok := cur.(map[string]any)
			if !ok {
				cur = nil
				break
			}
			cur = m[key]
		}
		if list, ok := cur.([]any); ok {
			return list, true
		}
	}
	return nil, false
}

func pickString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case json.Number:
			return v.String()
		}
	}
	return ""
}

func pickFloat(m map[string]any, keys ...string) float64 {
	for _, k := range keys {
		switch v := m[k].(type) {
		case json.Number:
			if f, err := v.Float64(); err == nil {
				return f
			}
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				return f
			}
		}
	}
	return 0
}

func pickInt(m map[string]any, keys ...string) int64 {
	for _, k := range keys {
		switch v := m[k].(type) {
		case json.Number:
			if n, err := v.Int64(); err == nil {
				return n
			}
			if f, err := v.Float64(); err == nil {
				return int64(math.Round(f))
			}
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				return int64(math.Round(f))
			}
		}
	}
	return 0
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func pickTime(m map[string]any, keys ...string) time.Time {
	for _, k := range keys {
		s := pickString(m, k)
		if s == "" {
			continue
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			if n > 1e12 {
				return time.UnixMilli(n).UTC()
			}
			return time.Unix(n, 0).UTC()
		}
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts
			}
		}
	}
	return time.Time{}
}
