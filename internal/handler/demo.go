package handler

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"time"

	talib "github.com/markcheno/go-talib"
	"gonum.org/v1/gonum/stat"

	"github.com/aristath/tacoreservice/internal/cache"
	"github.com/aristath/tacoreservice/internal/envelope"
)

// NewDemoRegistry builds a Registry with one handler per supported
// method. Every result here is a deterministic, clearly-synthetic
// placeholder: no market data source, execution venue, or risk model is
// wired in — real trading logic plugs in through MethodHandler. When c
// is non-nil, get.market_data responses are cached under
// cache.NamespaceMarketData.
func NewDemoRegistry(c *cache.Cache) *Registry {
	r := NewRegistry()
	r.Register(envelope.MethodScanMarket, demoScanMarket)
	r.Register(envelope.MethodExecuteOrder, demoExecuteOrder)
	r.Register(envelope.MethodEvaluateRisk, demoEvaluateRisk)
	r.Register(envelope.MethodAnalyzeStock, demoAnalyzeStock)

	marketData := HandlerFunc(demoGetMarketData)
	if c != nil {
		marketData = WithMarketDataCache(cache.NamespaceMarketData, c, marketData)
	}
	r.Register(envelope.MethodGetMarketData, marketData)

	r.Register(envelope.MethodHealthCheck, demoHealthCheck)
	return r
}

func demoScanMarket(_ context.Context, params map[string]any) (any, error) {
	marketType, _ := params["market_type"].(string)
	return map[string]any{
		"market_type": marketType,
		"candidates":  []string{"DEMO1", "DEMO2", "DEMO3"},
		"scanned_at":  time.Now().UTC(),
	}, nil
}

func demoExecuteOrder(_ context.Context, params map[string]any) (any, error) {
	symbol, _ := params["symbol"].(string)
	action, hasAction := params["action"].(string)
	if !hasAction {
		action, _ = params["side"].(string)
	}

	return map[string]any{
		"symbol":      symbol,
		"action":      action,
		"status":      "filled",
		"fill_price":  0.0,
		"executed_at": time.Now().UTC(),
	}, nil
}

// demoEvaluateRisk scores a portfolio's synthetic position weights with
// gonum/stat: the coefficient of variation (StdDev/Mean) of weights
// stands in for concentration risk in the absence of a real holdings
// feed.
func demoEvaluateRisk(_ context.Context, params map[string]any) (any, error) {
	tolerance, _ := params["risk_tolerance"].(string)
	portfolio, _ := params["portfolio"].(map[string]any)

	weights := syntheticPortfolioWeights(portfolio)
	mean, stddev := stat.MeanStdDev(weights, nil)

	riskScore := 0.0
	if mean != 0 {
		riskScore = math.Abs(stddev / mean)
	}
	riskScore = math.Min(1.0, riskScore)

	recommendation := "within tolerance"
	if riskScore > 0.6 {
		recommendation = "concentration risk detected"
	}

	return map[string]any{
		"risk_tolerance": tolerance,
		"risk_score":     riskScore,
		"recommendation": recommendation,
	}, nil
}

// syntheticPortfolioWeights derives a deterministic, clearly-synthetic
// weight series from the position symbols in params["portfolio"] (keys
// of the map), or a flat default series when no positions are given.
func syntheticPortfolioWeights(portfolio map[string]any) []float64 {
	if len(portfolio) == 0 {
		return []float64{1, 1, 1, 1}
	}

	weights := make([]float64, 0, len(portfolio))
	for symbol := range portfolio {
		h := fnv.New32a()
		_, _ = h.Write([]byte(symbol))
		weights = append(weights, float64(h.Sum32()%1000)/1000.0+0.1)
	}
	return weights
}

// demoAnalyzeStock derives a deterministic synthetic closing-price
// series from the symbol and runs it through go-talib's RSI and SMA. No
// real price feed is wired in.
func demoAnalyzeStock(_ context.Context, params map[string]any) (any, error) {
	symbol, ok := params["symbol"].(string)
	if !ok || symbol == "" {
		return nil, &HandlerError{Type: envelope.ErrExecution, Message: "symbol required"}
	}

	closes := syntheticCloses(symbol, 60)
	rsi := talib.Rsi(closes, 14)
	sma := talib.Sma(closes, 20)

	latestRSI := lastFinite(rsi)
	latestSMA := lastFinite(sma)

	sentiment := "neutral"
	switch {
	case latestRSI >= 70:
		sentiment = "overbought"
	case latestRSI <= 30:
		sentiment = "oversold"
	}

	return map[string]any{
		"symbol":    symbol,
		"sentiment": sentiment,
		"rsi_14":    latestRSI,
		"sma_20":    latestSMA,
		"summary":   fmt.Sprintf("synthetic technical read for %s: rsi_14=%.2f sma_20=%.2f", symbol, latestRSI, latestSMA),
	}, nil
}

// syntheticCloses builds a deterministic, clearly-synthetic closing
// price series seeded from symbol so analyze.stock results are stable
// across calls without a real market data feed.
func syntheticCloses(symbol string, n int) []float64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(symbol))
	seed := float64(h.Sum32()%500) + 50

	closes := make([]float64, n)
	price := seed
	for i := range closes {
		price += math.Sin(float64(i)/3.0) * (seed / 50.0)
		closes[i] = price
	}
	return closes
}

func lastFinite(series []float64) float64 {
	for i := len(series) - 1; i >= 0; i-- {
		if !math.IsNaN(series[i]) {
			return series[i]
		}
	}
	return 0
}

func demoGetMarketData(_ context.Context, params map[string]any) (any, error) {
	raw, _ := params["symbols"].([]any)
	data := make(map[string]any, len(raw))
	for _, s := range raw {
		symbol, ok := s.(string)
		if !ok {
			continue
		}
		data[symbol] = map[string]any{"price": 0.0, "as_of": time.Now().UTC()}
	}
	return map[string]any{"symbols": data}, nil
}

func demoHealthCheck(_ context.Context, params map[string]any) (any, error) {
	detailed, _ := params["detailed"].(bool)
	resp := map[string]any{"health": "ok"}
	if detailed {
		resp["checked_at"] = time.Now().UTC()
	}
	return resp, nil
}
