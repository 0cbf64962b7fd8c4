package handler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tacoreservice/internal/envelope"
)

func TestDemoRegistryCoversEverySupportedMethod(t *testing.T) {
	r := NewDemoRegistry(nil)
	methods := []string{
		envelope.MethodScanMarket,
		envelope.MethodExecuteOrder,
		envelope.MethodEvaluateRisk,
		envelope.MethodAnalyzeStock,
		envelope.MethodGetMarketData,
		envelope.MethodHealthCheck,
	}

	for _, m := range methods {
		_, err := r.Handle(context.Background(), m, map[string]any{
			"symbol": "AAPL", "market_type": "stock", "portfolio": map[string]any{},
			"symbols": []any{"AAPL"},
		})
		require.NoError(t, err, "method %s should have a registered handler", m)
	}
}

func TestHandleUnregisteredMethodReturnsUnsupported(t *testing.T) {
	r := NewRegistry()
	_, err := r.Handle(context.Background(), "delete.everything", nil)
	require.Error(t, err)
	var unsupported *envelope.UnsupportedMethodError
	assert.ErrorAs(t, err, &unsupported)
}

func TestDemoAnalyzeStockRequiresSymbol(t *testing.T) {
	r := NewDemoRegistry(nil)
	_, err := r.Handle(context.Background(), envelope.MethodAnalyzeStock, map[string]any{})
	require.Error(t, err)
	var herr *HandlerError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, envelope.ErrExecution, herr.Type)
}

func TestDemoGetMarketDataReturnsEntryPerSymbol(t *testing.T) {
	r := NewDemoRegistry(nil)
	result, err := r.Handle(context.Background(), envelope.MethodGetMarketData, map[string]any{
		"symbols": []any{"AAPL", "MSFT"},
	})
	require.NoError(t, err)

	data, ok := result.(map[string]any)
	require.True(t, ok)
	symbols, ok := data["symbols"].(map[string]any)
	require.True(t, ok)
	assert.Len(t, symbols, 2)
}
