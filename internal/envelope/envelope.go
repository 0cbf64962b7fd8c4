// Package envelope implements the request/response envelope, the closed
// method registry, and per-method parameter validation for TACoreService.
package envelope

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Error type tags, carried as the "type" field of error responses.
const (
	ErrInvalidJSON       = "invalid_json"
	ErrValidation        = "validation"
	ErrUnsupportedMethod = "unsupported_method"
	ErrNoWorkers         = "no_workers"
	ErrMarketClosed      = "market_closed"
	ErrExecution         = "execution"
	ErrEvaluation        = "evaluation"
	ErrScanner           = "scanner_error"
	ErrExecutor          = "executor_error"
	ErrInternal          = "internal_error"
)

// Status values for Response.Status.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Supported methods. The set is closed: any method outside it is
// rejected at parse time, not dispatch time.
const (
	MethodScanMarket    = "scan.market"
	MethodExecuteOrder  = "execute.order"
	MethodEvaluateRisk  = "evaluate.risk"
	MethodAnalyzeStock  = "analyze.stock"
	MethodGetMarketData = "get.market_data"
	MethodHealthCheck   = "health.check"
)

var supportedMethods = map[string]bool{
	MethodScanMarket:    true,
	MethodExecuteOrder:  true,
	MethodEvaluateRisk:  true,
	MethodAnalyzeStock:  true,
	MethodGetMarketData: true,
	MethodHealthCheck:   true,
}

// IsSupportedMethod reports whether method is in the closed registry.
func IsSupportedMethod(method string) bool {
	return supportedMethods[method]
}

// Request is the in-flight request envelope.
type Request struct {
	Method    string         `json:"method"`
	Params    map[string]any `json:"params,omitempty"`
	RequestID string         `json:"request_id,omitempty"`

	// ClientID and Timestamp are never present on the wire; Parse leaves
	// them zero.
	ClientID  []byte    `json:"-"`
	Timestamp time.Time `json:"-"`
}

// Response is the outgoing response envelope.
type Response struct {
	Status           string    `json:"status"`
	RequestID        string    `json:"request_id"`
	Data             any       `json:"data,omitempty"`
	Error            string    `json:"error,omitempty"`
	ErrorType        string    `json:"type,omitempty"`
	ProcessingTimeMS float64   `json:"processing_time_ms,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// ParseError indicates the request frame could not be decoded as JSON.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return fmt.Sprintf("invalid_json: %v", e.Err) }
func (e *ParseError) Unwrap() error { return e.Err }

// UnsupportedMethodError indicates Request.Method is outside the closed
// registry.
type UnsupportedMethodError struct {
	Method string
}

func (e *UnsupportedMethodError) Error() string {
	return fmt.Sprintf("unsupported_method: %q", e.Method)
}

// ValidationError names the first parameter that failed validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("validation: %s is required", e.Field)
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// Parse decodes a single request frame. It generates a fresh request_id
// when absent and rejects methods outside the closed registry. It does
// not run per-method parameter validation — call Validate for that.
//
// On an UnsupportedMethodError the decoded request is still returned so
// the caller can echo its request_id in the error response.
func Parse(payload []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, &ParseError{Err: err}
	}

	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	if !IsSupportedMethod(req.Method) {
		return &req, &UnsupportedMethodError{Method: req.Method}
	}

	return &req, nil
}

// Serialize encodes a Request back to its wire form, used when the broker
// must re-serialize after assigning a generated request_id.
func Serialize(req *Request) ([]byte, error) {
	return json.Marshal(req)
}

// SerializeResponse encodes a Response to its wire form.
func SerializeResponse(resp *Response) ([]byte, error) {
	return json.Marshal(resp)
}

// NewErrorResponse builds a {status:error} response for the given request
// id, message, and error type tag.
func NewErrorResponse(requestID, errType, message string) *Response {
	return &Response{
		Status:    StatusError,
		RequestID: requestID,
		Error:     message,
		ErrorType: errType,
		Timestamp: time.Now().UTC(),
	}
}

// NewSuccessResponse builds a {status:success} response.
func NewSuccessResponse(requestID string, data any, processingTimeMS float64) *Response {
	return &Response{
		Status:           StatusSuccess,
		RequestID:        requestID,
		Data:             data,
		ProcessingTimeMS: processingTimeMS,
		Timestamp:        time.Now().UTC(),
	}
}
