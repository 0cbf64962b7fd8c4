package broker

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog"

	"github.com/aristath/tacoreservice/internal/envelope"
	"github.com/aristath/tacoreservice/internal/utils"
)

// sender abstracts the two ROUTER sockets so the routing logic here can
// be exercised without a live ZMQ transport.
type sender interface {
	SendFrontend(parts [][]byte) error
	SendBackend(parts [][]byte) error
}

// Router owns the Registry plus the Store/Collector wiring and turns
// raw frames into state transitions and replies. Run (loop.go) is the
// only caller of these methods in production.
type Router struct {
	reg   *Registry
	store storer
	coll  collector
	send  sender
	log   zerolog.Logger
}

// NewRouter builds a Router over reg, writing through store/coll and
// replying via send.
func NewRouter(reg *Registry, store storer, coll collector, send sender, log zerolog.Logger) *Router {
	return &Router{reg: reg, store: store, coll: coll, send: send, log: log}
}

// HandleFrontend ingests a single inbound frontend message: classify
// the framing, decode and validate the envelope, assign a worker, and
// forward — or reply with the matching error envelope at the step that
// failed.
func (rt *Router) HandleFrontend(ctx context.Context, parts [][]byte) {
	defer utils.OperationTimer("broker.handle_frontend", rt.log)()

	clientID, payload, f, err := classifyFrontend(parts)
	if err != nil {
		rt.log.Warn().Err(err).Msg("broker: malformed frontend message, dropping")
		return
	}

	req, err := envelope.Parse(payload)
	if err != nil {
		errType := envelope.ErrInvalidJSON
		requestID := ""
		var unsupported *envelope.UnsupportedMethodError
		if errors.As(err, &unsupported) {
			errType = envelope.ErrUnsupportedMethod
			requestID = req.RequestID
		}
		rt.replyError(clientID, f, requestID, errType, err.Error())
		return
	}

	if verr := envelope.Validate(req); verr != nil {
		rt.replyError(clientID, f, req.RequestID, envelope.ErrValidation, verr.Error())
		return
	}

	workerID, ok := rt.reg.AssignWorker()
	if !ok {
		rt.replyError(clientID, f, req.RequestID, envelope.ErrNoWorkers, "No workers available")
		return
	}

	rt.reg.TrackRequest(req.RequestID, clientID, f, req.Method, workerID)

	if rt.store != nil {
		if err := rt.store.LogRequest(ctx, req.RequestID, req.Method, string(clientID), req.Params); err != nil {
			rt.log.Warn().Err(err).Str("request_id", req.RequestID).Msg("broker: log request failed")
		}
	}

	reqPayload, err := envelope.Serialize(req)
	if err != nil {
		rt.log.Error().Err(err).Str("request_id", req.RequestID).Msg("broker: re-serialize request failed")
		return
	}

	if err := rt.send.SendBackend(buildBackendFrame(workerID, clientID, reqPayload)); err != nil {
		rt.log.Warn().Err(err).Str("worker_id", workerID).Msg("broker: send to backend failed")
	}
}

func (rt *Router) replyError(clientID []byte, f framing, requestID, errType, message string) {
	resp := envelope.NewErrorResponse(requestID, errType, message)
	payload, err := envelope.SerializeResponse(resp)
	if err != nil {
		rt.log.Error().Err(err).Msg("broker: serialize error response failed")
		return
	}
	if err := rt.send.SendFrontend(buildFrontendReply(clientID, f, payload)); err != nil {
		rt.log.Warn().Err(err).Msg("broker: send error response to frontend failed")
	}
}

// HandleBackend classifies a single inbound backend message as a
// REGISTER, a HEARTBEAT, or a worker response, and applies it.
func (rt *Router) HandleBackend(ctx context.Context, parts [][]byte) {
	msg, err := classifyBackend(parts)
	if err != nil {
		rt.log.Warn().Err(err).Msg("broker: malformed backend message, dropping")
		return
	}

	switch msg.kind {
	case backendRegister:
		rt.handleRegister(ctx, msg)
	case backendHeartbeat:
		rt.handleHeartbeat(ctx, msg)
	case backendResponse:
		rt.handleResponse(ctx, msg)
	}
}

func (rt *Router) handleRegister(ctx context.Context, msg classifiedBackend) {
	var ctrl controlMessage
	workerID := msg.workerID
	if err := json.Unmarshal(msg.payload, &ctrl); err == nil && ctrl.WorkerID != "" {
		workerID = ctrl.WorkerID
	}

	rt.reg.RegisterWorker(ctx, workerID)
	rt.log.Info().Str("worker_id", workerID).Msg("broker: worker registered")
}

func (rt *Router) handleHeartbeat(ctx context.Context, msg classifiedBackend) {
	var ctrl controlMessage
	workerID := msg.workerID
	var processed int64
	if err := json.Unmarshal(msg.payload, &ctrl); err == nil {
		if ctrl.WorkerID != "" {
			workerID = ctrl.WorkerID
		}
		processed = ctrl.ProcessedRequests
	}

	rt.reg.Heartbeat(ctx, workerID, processed)
}

func (rt *Router) handleResponse(ctx context.Context, msg classifiedBackend) {
	resp, requestID := parseResponsePayload(msg.payload)

	clientID, f, method, ok := rt.reg.CompleteRequest(requestID)
	if !ok {
		// Fall back to the client_id carried on the wire; if that's
		// empty too, there's nowhere to route the reply.
		if len(msg.clientID) == 0 {
			rt.log.Warn().Str("request_id", requestID).Msg("broker: response for unknown request_id with no fallback client_id, dropping")
			return
		}
		rt.log.Warn().Str("request_id", requestID).Msg("broker: response for unknown request_id, using wire client_id")
		clientID = msg.clientID
		f = framingDealer
	}

	if err := rt.send.SendFrontend(buildFrontendReply(clientID, f, msg.payload)); err != nil {
		rt.log.Warn().Err(err).Str("request_id", requestID).Msg("broker: send response to frontend failed")
	}

	if rt.store != nil {
		status := resp.Status
		if status == "" {
			status = envelope.StatusSuccess
		}
		if err := rt.store.LogResponse(ctx, requestID, msg.workerID, status, resp.Data, resp.ProcessingTimeMS); err != nil {
			rt.log.Warn().Err(err).Str("request_id", requestID).Msg("broker: log response failed")
		}
	}

	if rt.coll != nil {
		rt.coll.RecordRequest(method, msg.workerID, resp.Status != envelope.StatusError, resp.ProcessingTimeMS, resp.ErrorType)
	}
}

// parseResponsePayload best-effort decodes a worker response payload. A
// decode failure still returns a zero-value response and empty
// requestID, which handleResponse's unknown-request_id fallback covers.
func parseResponsePayload(payload []byte) (envelope.Response, string) {
	var resp envelope.Response
	_ = json.Unmarshal(payload, &resp)
	return resp, resp.RequestID
}
