package rest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tonimelisma/savesync/internal/cloud"
)

// maxResubmits is the number of times one operation may be resubmitted.
// Only the re-authentication path resubmits.
const maxResubmits = 1

// StatusTransportFailure is reported to observers when no response arrived.
const StatusTransportFailure = -1

// Handler resolves one response. It must either call op.Finish or, after a
// side operation such as a token refresh, call op.Resubmit.
type Handler[S any] func(ctx context.Context, op *Operation[S], resp *Response)

// Operation binds one in-flight REST call to its continuation. State is the
// operation-specific payload; it survives a resubmission unchanged and is
// handed to Release exactly once when the operation completes.
type Operation[S any] struct {
	Name     string
	Request  *Request
	State    S
	Handlers map[int]Handler[S]
	Default  Handler[S]

	// Release, if set, runs once when the operation completes.
	Release func(S)

	// Done, if set, runs once with the terminal result: nil on the success
	// path, the failure otherwise.
	Done func(err error)

	complete  bool
	resubmit  bool
	resubmits int
	err       error
}

// Finish resolves the operation. Only the first call has any effect.
func (op *Operation[S]) Finish(err error) {
	if op.complete {
		return
	}

	op.complete = true
	op.err = err
}

// Resubmit asks the engine to send the same Request again.
func (op *Operation[S]) Resubmit() {
	op.resubmit = true
}

// Complete reports whether the operation has been resolved.
func (op *Operation[S]) Complete() bool {
	return op.complete
}

// Err returns the terminal error, if any.
func (op *Operation[S]) Err() error {
	return op.err
}

// Resubmitted reports whether the request has already been sent again.
func (op *Operation[S]) Resubmitted() bool {
	return op.resubmits > 0
}

// On registers h for status and returns op for chaining.
func (op *Operation[S]) On(status int, h Handler[S]) *Operation[S] {
	if op.Handlers == nil {
		op.Handlers = make(map[int]Handler[S])
	}

	op.Handlers[status] = h

	return op
}

// Observer receives one event per exchange. Implemented by the metrics
// package.
type Observer interface {
	ObserveRequest(provider, op string, status int)
}

// Engine executes Operations over a Transport on behalf of one provider.
type Engine struct {
	provider  string
	transport Transport
	logger    *slog.Logger
	observer  Observer
}

// NewEngine returns an Engine. observer may be nil.
func NewEngine(provider string, transport Transport, logger *slog.Logger, observer Observer) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		provider:  provider,
		transport: transport,
		logger:    logger,
		observer:  observer,
	}
}

// Provider returns the provider name the engine reports under.
func (e *Engine) Provider() string {
	return e.provider
}

// Execute drives op to its terminal resolution and returns its error.
//
// A transport failure finishes the operation immediately. Otherwise the
// handler registered for the status runs, falling back to op.Default; with
// neither, the operation fails with the status error. A handler may
// resubmit at most once; Done and Release each run exactly once.
func Execute[S any](ctx context.Context, e *Engine, op *Operation[S]) error {
	for !op.complete {
		op.step(ctx, e)
	}

	e.logger.Debug("operation complete",
		slog.String("provider", e.provider),
		slog.String("op", op.Name),
		slog.Bool("ok", op.err == nil),
		slog.Int("resubmits", op.resubmits),
	)

	if op.Done != nil {
		op.Done(op.err)
	}

	if op.Release != nil {
		op.Release(op.State)
	}

	return op.err
}

func (e *Engine) observe(op string, status int) {
	if e.observer != nil {
		e.observer.ObserveRequest(e.provider, op, status)
	}
}

// step performs one exchange and dispatches the response.
func (op *Operation[S]) step(ctx context.Context, e *Engine) {
	resp, err := e.transport.Submit(ctx, op.Request)
	if err != nil {
		e.observe(op.Name, StatusTransportFailure)
		e.logger.Warn("request failed before response",
			slog.String("provider", e.provider),
			slog.String("op", op.Name),
			slog.String("error", err.Error()),
		)
		op.Finish(fmt.Errorf("%s %s: %w: %w", e.provider, op.Name, cloud.ErrTransport, err))

		return
	}

	e.observe(op.Name, resp.StatusCode)

	h := op.Handlers[resp.StatusCode]
	if h == nil {
		h = op.Default
	}

	if h == nil {
		op.Finish(StatusError(resp))
		return
	}

	op.resubmit = false
	h(ctx, op, resp)

	switch {
	case op.complete:
		return
	case !op.resubmit:
		op.Finish(fmt.Errorf("%s %s: status %d: %w", e.provider, op.Name, resp.StatusCode, ErrHandlerStalled))
	case op.resubmits >= maxResubmits:
		op.Finish(StatusError(resp))
	default:
		op.resubmits++
		e.logger.Debug("resubmitting request",
			slog.String("provider", e.provider),
			slog.String("op", op.Name),
			slog.Int("status", resp.StatusCode),
		)
	}
}

// Succeed returns a handler that finishes the operation with fn's result.
func Succeed[S any](fn func(op *Operation[S], resp *Response) error) Handler[S] {
	return func(_ context.Context, op *Operation[S], resp *Response) {
		op.Finish(fn(op, resp))
	}
}

// Fail returns a handler that finishes the operation with the status error.
func Fail[S any]() Handler[S] {
	return func(_ context.Context, op *Operation[S], resp *Response) {
		op.Finish(StatusError(resp))
	}
}
