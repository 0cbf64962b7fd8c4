// Package workerclient implements the DEALER-side worker protocol: a
// fixed-identity connection to the broker backend, registration,
// independent heartbeats, and dispatch to a handler.MethodHandler.
package workerclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	zmq "github.com/pebbe/zmq4"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/tacoreservice/internal/envelope"
	"github.com/aristath/tacoreservice/internal/handler"
)

// storer is the subset of store.Store the worker writes through.
type storer interface {
	LogRequest(ctx context.Context, requestID, method, clientID string, requestData any) error
	LogResponse(ctx context.Context, requestID, workerID, status string, responseData any, processingTimeMS float64) error
	UpsertWorker(ctx context.Context, w WorkerStatus) error
}

// WorkerStatus mirrors store.WorkerRecord without importing the store
// package directly (kept decoupled for testing, matching broker's
// storeWorkerRecord pattern).
type WorkerStatus struct {
	WorkerID          string
	State             string
	LastHeartbeat     time.Time
	ProcessedRequests int64
	CPUUsage          float64
	MemoryUsage       float64
}

// Config configures a Worker.
type Config struct {
	WorkerID          string
	BackendEndpoint   string
	HeartbeatInterval time.Duration

	// HandlerTimeout bounds a single handler invocation; zero means no
	// bound.
	HandlerTimeout time.Duration
}

// Worker is a DEALER client attached to a handler.MethodHandler.
type Worker struct {
	cfg     Config
	socket  *zmq.Socket
	handler handler.MethodHandler
	store   storer
	log     zerolog.Logger

	// sendMu serializes socket sends between the message loop and the
	// heartbeat goroutine; receives happen only on the Run goroutine.
	sendMu sync.Mutex

	processedRequests int64
	state             atomic.Value // string
}

// New connects a DEALER socket to cfg.BackendEndpoint with identity
// cfg.WorkerID.
func New(cfg Config, h handler.MethodHandler, store storer, log zerolog.Logger) (*Worker, error) {
	socket, err := zmq.NewSocket(zmq.DEALER)
	if err != nil {
		return nil, fmt.Errorf("workerclient: create socket: %w", err)
	}
	if err := socket.SetIdentity(cfg.WorkerID); err != nil {
		_ = socket.Close()
		return nil, fmt.Errorf("workerclient: set identity: %w", err)
	}
	if err := socket.Connect(cfg.BackendEndpoint); err != nil {
		_ = socket.Close()
		return nil, fmt.Errorf("workerclient: connect %s: %w", cfg.BackendEndpoint, err)
	}

	w := &Worker{cfg: cfg, socket: socket, handler: h, store: store, log: log}
	w.state.Store("idle")
	return w, nil
}

// Close releases the socket.
func (w *Worker) Close() error {
	return w.socket.Close()
}

// Run sends the initial REGISTER message, then services frames until
// ctx is cancelled. A second, independent goroutine (started by the
// caller via RunHeartbeat) sends periodic liveness messages so a slow
// handler invocation never delays a heartbeat.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.register(); err != nil {
		return fmt.Errorf("workerclient: register: %w", err)
	}

	poller := zmq.NewPoller()
	poller.Add(w.socket, zmq.POLLIN)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		polled, err := poller.Poll(250 * time.Millisecond)
		if err != nil {
			if err == zmq.ErrorNoSocket {
				return nil
			}
			w.log.Warn().Err(err).Msg("workerclient: poll error")
			continue
		}
		if len(polled) == 0 {
			continue
		}

		parts, err := w.socket.RecvMessageBytes(0)
		if err != nil {
			w.log.Warn().Err(err).Msg("workerclient: recv error")
			continue
		}

		w.handleFrame(ctx, parts)
	}
}

func (w *Worker) register() error {
	body, err := json.Marshal(map[string]any{
		"worker_id": w.cfg.WorkerID,
		"timestamp": time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	return w.send("", "REGISTER", body)
}

// send serializes all outbound socket traffic through sendMu.
func (w *Worker) send(parts ...interface{}) error {
	w.sendMu.Lock()
	defer w.sendMu.Unlock()
	_, err := w.socket.SendMessage(parts...)
	return err
}

// handleFrame tolerates the 3, 4, and 5-part shapes a forwarded request
// can arrive in, treating the last frame as the payload and the frames
// before it as client_id and delimiters. The broker's 5-frame form
// reaches the DEALER as [empty, client_id, empty, payload], so the
// client_id is the first non-empty frame, not necessarily the first.
func (w *Worker) handleFrame(ctx context.Context, parts [][]byte) {
	if len(parts) == 0 {
		return
	}

	payload := parts[len(parts)-1]
	var clientID []byte
	for _, p := range parts[:len(parts)-1] {
		if len(p) > 0 {
			clientID = p
			break
		}
	}

	receivedAt := time.Now()

	req, err := envelope.Parse(payload)
	if err != nil {
		errType := envelope.ErrInvalidJSON
		requestID := ""
		if _, ok := err.(*envelope.UnsupportedMethodError); ok {
			errType = envelope.ErrUnsupportedMethod
			requestID = req.RequestID
		}
		w.reply(clientID, envelope.NewErrorResponse(requestID, errType, err.Error()), receivedAt)
		return
	}

	w.state.Store("busy")
	if w.store != nil {
		if lerr := w.store.LogRequest(ctx, req.RequestID, req.Method, string(clientID), req.Params); lerr != nil {
			w.log.Warn().Err(lerr).Str("request_id", req.RequestID).Msg("workerclient: log request failed")
		}
	}

	resp := w.process(ctx, req)
	resp.ProcessingTimeMS = float64(time.Since(receivedAt).Microseconds()) / 1000.0

	status := resp.Status
	if w.store != nil {
		if lerr := w.store.LogResponse(ctx, req.RequestID, w.cfg.WorkerID, status, resp.Data, resp.ProcessingTimeMS); lerr != nil {
			w.log.Warn().Err(lerr).Str("request_id", req.RequestID).Msg("workerclient: log response failed")
		}
	}

	w.reply(clientID, resp, receivedAt)

	atomic.AddInt64(&w.processedRequests, 1)
	w.state.Store("idle")
}

func (w *Worker) process(ctx context.Context, req *envelope.Request) *envelope.Response {
	if verr := envelope.Validate(req); verr != nil {
		return envelope.NewErrorResponse(req.RequestID, envelope.ErrValidation, verr.Error())
	}

	if w.cfg.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.cfg.HandlerTimeout)
		defer cancel()
	}

	data, err := w.handler.Handle(ctx, req.Method, req.Params)
	if err != nil {
		errType := envelope.ErrInternal
		if typed, ok := asHandlerError(err); ok {
			errType = typed
		}
		return envelope.NewErrorResponse(req.RequestID, errType, err.Error())
	}

	if req.Method == envelope.MethodHealthCheck {
		data = w.withWorkerID(data)
	}

	return envelope.NewSuccessResponse(req.RequestID, data, 0)
}

// withWorkerID tags a health.check response with the identity of the
// worker that answered it, so a monitoring client polling multiple
// workers can tell responses apart.
func (w *Worker) withWorkerID(data any) any {
	m, ok := data.(map[string]any)
	if !ok {
		m = map[string]any{}
	}
	m["worker_id"] = w.cfg.WorkerID
	return m
}

// asHandlerError extracts the error-type tag from a *handler.HandlerError
// without importing a concrete type assertion chain into process's
// control flow; it reports ok==false for any other error shape, which
// falls back to envelope.ErrInternal.
func asHandlerError(err error) (string, bool) {
	type typed interface{ HandlerErrorType() string }
	if t, ok := err.(typed); ok {
		return t.HandlerErrorType(), true
	}
	return "", false
}

func (w *Worker) reply(clientID []byte, resp *envelope.Response, receivedAt time.Time) {
	if resp.ProcessingTimeMS == 0 {
		resp.ProcessingTimeMS = float64(time.Since(receivedAt).Microseconds()) / 1000.0
	}

	payload, err := envelope.SerializeResponse(resp)
	if err != nil {
		w.log.Error().Err(err).Msg("workerclient: serialize response failed")
		return
	}

	// 2-frame DEALER shape [empty, payload]; the backend ROUTER prepends
	// the worker identity on receipt.
	if err := w.send("", payload); err != nil {
		w.log.Warn().Err(err).Msg("workerclient: send response failed")
	}
}

// RunHeartbeat sends a HEARTBEAT message on interval, carrying
// processed_requests and optional CPU/memory usage, until ctx is
// cancelled. This runs on its own goroutine, independent of Run's
// message loop.
func (w *Worker) RunHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sendHeartbeat(ctx)
		}
	}
}

func (w *Worker) sendHeartbeat(ctx context.Context) {
	cpuUsage, memUsage := sampleUsage(w.log)

	body, err := json.Marshal(map[string]any{
		"worker_id":          w.cfg.WorkerID,
		"timestamp":          time.Now().UTC(),
		"processed_requests": atomic.LoadInt64(&w.processedRequests),
		"cpu_usage":          cpuUsage,
		"memory_usage":       memUsage,
	})
	if err != nil {
		w.log.Warn().Err(err).Msg("workerclient: marshal heartbeat failed")
		return
	}

	if err := w.send("", "HEARTBEAT", body); err != nil {
		w.log.Warn().Err(err).Msg("workerclient: send heartbeat failed")
	}

	if w.store != nil {
		state, _ := w.state.Load().(string)
		rec := WorkerStatus{
			WorkerID:          w.cfg.WorkerID,
			State:             state,
			LastHeartbeat:     time.Now(),
			ProcessedRequests: atomic.LoadInt64(&w.processedRequests),
			CPUUsage:          cpuUsage,
			MemoryUsage:       memUsage,
		}
		if err := w.store.UpsertWorker(ctx, rec); err != nil {
			w.log.Warn().Err(err).Msg("workerclient: upsert worker status failed")
		}
	}
}

func sampleUsage(log zerolog.Logger) (cpuPercent, memPercent float64) {
	percents, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil || len(percents) == 0 {
		log.Debug().Err(err).Msg("workerclient: cpu sample unavailable")
	} else {
		cpuPercent = percents[0]
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		log.Debug().Err(err).Msg("workerclient: memory sample unavailable")
	} else {
		memPercent = vm.UsedPercent
	}

	return cpuPercent, memPercent
}

// Stop upserts a final stopped status to the store before the caller
// closes the socket, so the monitoring surface shows a clean exit
// rather than a stale heartbeat.
func (w *Worker) Stop(ctx context.Context) {
	if w.store == nil {
		return
	}
	rec := WorkerStatus{
		WorkerID:          w.cfg.WorkerID,
		State:             "stopped",
		LastHeartbeat:     time.Now(),
		ProcessedRequests: atomic.LoadInt64(&w.processedRequests),
	}
	if err := w.store.UpsertWorker(ctx, rec); err != nil {
		w.log.Warn().Err(err).Msg("workerclient: final status upsert failed")
	}
}
