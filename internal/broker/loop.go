package broker

import (
	"context"
	"fmt"
	"time"

	zmq "github.com/pebbe/zmq4"
	"github.com/rs/zerolog"
)

// pollTimeout bounds how long a single Poll call blocks when neither
// socket has pending data, so the loop can still observe ctx.Done().
const pollTimeout = 250 * time.Millisecond

// Broker owns the frontend/backend ROUTER sockets and drives the single
// polling loop: no goroutine other than Run ever calls Recv/Send on
// either socket. Registry state that the health monitor also touches is
// guarded by the Registry's own mutex.
type Broker struct {
	frontendEndpoint string
	backendEndpoint  string

	frontend *zmq.Socket
	backend  *zmq.Socket

	router *Router
	reg    *Registry
	log    zerolog.Logger
}

// New creates a Broker bound to frontendEndpoint/backendEndpoint. Call
// Run to start serving; Close releases the sockets.
func New(frontendEndpoint, backendEndpoint string, reg *Registry, store storer, coll collector, log zerolog.Logger) (*Broker, error) {
	frontend, err := zmq.NewSocket(zmq.ROUTER)
	if err != nil {
		return nil, fmt.Errorf("broker: create frontend socket: %w", err)
	}
	if err := frontend.Bind(frontendEndpoint); err != nil {
		_ = frontend.Close()
		return nil, fmt.Errorf("broker: bind frontend %s: %w", frontendEndpoint, err)
	}

	backend, err := zmq.NewSocket(zmq.ROUTER)
	if err != nil {
		_ = frontend.Close()
		return nil, fmt.Errorf("broker: create backend socket: %w", err)
	}
	if err := backend.Bind(backendEndpoint); err != nil {
		_ = frontend.Close()
		_ = backend.Close()
		return nil, fmt.Errorf("broker: bind backend %s: %w", backendEndpoint, err)
	}

	b := &Broker{
		frontendEndpoint: frontendEndpoint,
		backendEndpoint:  backendEndpoint,
		frontend:         frontend,
		backend:          backend,
		reg:              reg,
		log:              log,
	}
	b.router = NewRouter(reg, store, coll, b, log)

	return b, nil
}

// SendFrontend implements sender.
func (b *Broker) SendFrontend(parts [][]byte) error {
	return sendMultipart(b.frontend, parts)
}

// SendBackend implements sender.
func (b *Broker) SendBackend(parts [][]byte) error {
	return sendMultipart(b.backend, parts)
}

func sendMultipart(sock *zmq.Socket, parts [][]byte) error {
	msg := make([]interface{}, len(parts))
	for i, p := range parts {
		msg[i] = p
	}
	_, err := sock.SendMessage(msg...)
	return err
}

// Run executes the single-threaded polling loop. On each wake-up it
// drains the backend socket completely before draining the frontend, so
// responses and liveness updates are always observed before new work is
// assigned. It blocks until ctx is cancelled.
func (b *Broker) Run(ctx context.Context) error {
	poller := zmq.NewPoller()
	poller.Add(b.backend, zmq.POLLIN)
	poller.Add(b.frontend, zmq.POLLIN)

	b.log.Info().
		Str("frontend", b.frontendEndpoint).
		Str("backend", b.backendEndpoint).
		Msg("broker: polling loop started")

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		polled, err := poller.Poll(pollTimeout)
		if err != nil {
			if err == zmq.ErrorNoSocket {
				return nil
			}
			b.log.Warn().Err(err).Msg("broker: poll error")
			continue
		}

		if len(polled) == 0 {
			continue
		}

		b.drainBackend(ctx)
		b.drainFrontend(ctx)
	}
}

func (b *Broker) drainBackend(ctx context.Context) {
	for {
		parts, err := b.backend.RecvMessageBytes(zmq.DONTWAIT)
		if err != nil {
			return
		}
		b.router.HandleBackend(ctx, parts)
	}
}

func (b *Broker) drainFrontend(ctx context.Context) {
	for {
		parts, err := b.frontend.RecvMessageBytes(zmq.DONTWAIT)
		if err != nil {
			return
		}
		b.router.HandleFrontend(ctx, parts)
	}
}

// Registry returns the worker registry the broker routes through.
func (b *Broker) Registry() *Registry {
	return b.reg
}

// Close releases both sockets.
func (b *Broker) Close() error {
	ferr := b.frontend.Close()
	berr := b.backend.Close()
	if ferr != nil {
		return ferr
	}
	return berr
}
