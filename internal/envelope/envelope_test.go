package envelope

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAssignsRequestID(t *testing.T) {
	req, err := Parse([]byte(`{"method":"health.check"}`))
	require.NoError(t, err)
	assert.NotEmpty(t, req.RequestID)
}

func TestParsePreservesRequestID(t *testing.T) {
	req, err := Parse([]byte(`{"method":"health.check","request_id":"r1"}`))
	require.NoError(t, err)
	assert.Equal(t, "r1", req.RequestID)
}

func TestParseRejectsInvalidJSON(t *testing.T) {
	_, err := Parse([]byte(`{not json`))
	require.Error(t, err)
	var parseErr *ParseError
	assert.ErrorAs(t, err, &parseErr)
}

func TestParseRejectsUnsupportedMethod(t *testing.T) {
	req, err := Parse([]byte(`{"method":"delete.everything","request_id":"r1"}`))
	require.Error(t, err)
	var unsupported *UnsupportedMethodError
	assert.ErrorAs(t, err, &unsupported)
	require.NotNil(t, req, "decoded request is returned so callers can echo its request_id")
	assert.Equal(t, "r1", req.RequestID)
}

func TestRequestRoundTrip(t *testing.T) {
	original := &Request{
		Method:    MethodHealthCheck,
		Params:    map[string]any{"detailed": true},
		RequestID: "r-42",
	}

	payload, err := Serialize(original)
	require.NoError(t, err)

	parsed, err := Parse(payload)
	require.NoError(t, err)

	assert.Equal(t, original.Method, parsed.Method)
	assert.Equal(t, original.RequestID, parsed.RequestID)
	assert.Equal(t, original.Params["detailed"], parsed.Params["detailed"])
}

func TestValidateScanMarketAliasesMarketType(t *testing.T) {
	req := &Request{Method: MethodScanMarket, Params: map[string]any{"market_type": "US"}}
	require.NoError(t, Validate(req))
	assert.Equal(t, "stock", req.Params["market_type"])
}

func TestValidateScanMarketMissingField(t *testing.T) {
	req := &Request{Method: MethodScanMarket, Params: map[string]any{}}
	err := Validate(req)
	require.Error(t, err)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "market_type", ve.Field)
}

func TestValidateExecuteOrderActionShape(t *testing.T) {
	req := &Request{Method: MethodExecuteOrder, Params: map[string]any{
		"symbol": "AAPL", "action": "buy", "quantity": 10.0,
	}}
	assert.NoError(t, Validate(req))
}

func TestValidateExecuteOrderRejectsBadAction(t *testing.T) {
	req := &Request{Method: MethodExecuteOrder, Params: map[string]any{
		"symbol": "AAPL", "action": "hold", "quantity": 10.0,
	}}
	err := Validate(req)
	require.Error(t, err)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "action", ve.Field)
}

func TestValidateExecuteOrderSideAmountShape(t *testing.T) {
	req := &Request{Method: MethodExecuteOrder, Params: map[string]any{
		"symbol": "AAPL", "side": "sell", "amount": 100.0, "price": 12.5,
	}}
	assert.NoError(t, Validate(req))
}

func TestValidateEvaluateRiskDefaultsTolerance(t *testing.T) {
	req := &Request{Method: MethodEvaluateRisk, Params: map[string]any{
		"portfolio": map[string]any{}, "market_data": map[string]any{},
	}}
	require.NoError(t, Validate(req))
	assert.Equal(t, "moderate", req.Params["risk_tolerance"])
}

func TestValidateEvaluateRiskAcceptsLegacyMarketConditions(t *testing.T) {
	req := &Request{Method: MethodEvaluateRisk, Params: map[string]any{
		"portfolio": map[string]any{}, "market_conditions": map[string]any{},
	}}
	assert.NoError(t, Validate(req))
}

func TestValidateGetMarketDataRequiresNonEmptySymbols(t *testing.T) {
	req := &Request{Method: MethodGetMarketData, Params: map[string]any{"symbols": []any{}}}
	err := Validate(req)
	require.Error(t, err)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "symbols", ve.Field)
}

func TestValidateHealthCheckNoRequiredParams(t *testing.T) {
	req := &Request{Method: MethodHealthCheck}
	assert.NoError(t, Validate(req))
}

func TestResponseSerialization(t *testing.T) {
	resp := NewSuccessResponse("r1", map[string]any{"ok": true}, 12.5)
	payload, err := SerializeResponse(resp)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, "success", decoded["status"])
	assert.Equal(t, "r1", decoded["request_id"])
}
