package dispatcher

import (
	"context"
	"errors"
	"fmt"

	workflow "github.com/goliatone/go-workflow"
	"github.com/goliatone/go-workflow/router"
	"github.com/goliatone/go-workflow/runner"
)

// Dispatcher is the outbound bus: compiled transitions emit host-facing
// messages (work dispatch, validation notices, approval requests) and hosts
// subscribe handlers for the message types they consume. Routed messages
// are offered to ref-specific subscriptions first, e.g. a worker bound to
// "workflow::start_step::deploy" before the plain type subscribers.
type Dispatcher struct {
	routes    *router.Mux
	ExitOnErr bool
}

// Option defines the functional option signature.
type Option func(*Dispatcher)

// NewDispatcher applies the given options to a new instance of the dispatcher.
func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		routes: router.NewMux(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// RegisterHandler subscribes a handler under a trigger pattern; patterns may
// use "*" per segment, so "workflow::start_step::*" catches every step.
func (d *Dispatcher) RegisterHandler(pattern string, handler any) router.Subscription {
	return d.routes.Add(pattern, handler)
}

// GetHandlers returns the handlers matched by a trigger key.
func (d *Dispatcher) GetHandlers(key string) []any {
	entries := d.routes.Get(key)
	out := make([]any, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Handler)
	}
	return out
}

// WithExitOnError stops publishing to further handlers on the first error.
func WithExitOnError() Option {
	return func(d *Dispatcher) {
		d.ExitOnErr = true
	}
}

var Default = NewDispatcher()

// messageExecutor is the type-erased handler contract so heterogeneous
// effect lists can be published without knowing the concrete message type.
type messageExecutor interface {
	execute(ctx context.Context, msg workflow.Message) error
}

// Publish delivers one message to every matching subscription.
func (d *Dispatcher) Publish(ctx context.Context, msg workflow.Message) error {
	if workflow.IsNilMessage(msg) {
		return workflow.WrapError("DispatchHandlerError", "nil message", nil)
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return workflow.WrapError("ContextError", "context canceled or deadline exceeded", ctx.Err())
	}

	var errs error
	for _, h := range d.handlersFor(msg) {
		ex, ok := h.(messageExecutor)
		if !ok {
			continue
		}
		if err := ex.execute(ctx, msg); err != nil {
			wrapped := workflow.WrapError(
				"HandlerExecutionFailed",
				fmt.Sprintf("handler failed for type %s", msg.Type()),
				err,
			)
			if d.ExitOnErr {
				return wrapped
			}
			errs = errors.Join(errs, err)
		}
	}
	return errs
}

// handlersFor resolves subscriptions: ref-specific first, plain type second.
func (d *Dispatcher) handlersFor(msg workflow.Message) []any {
	if routed, ok := msg.(workflow.Routed); ok && routed.RouteRef() != "" {
		if hs := d.GetHandlers(router.TriggerKey(msg.Type(), routed.RouteRef())); len(hs) > 0 {
			return hs
		}
	}
	return d.GetHandlers(msg.Type())
}

// SubscribeCommand subscribes a Commander for message type T on the default bus.
func SubscribeCommand[T workflow.Message](cmd workflow.Commander[T], runnerOpts ...runner.Option) Subscription {
	var msg T
	return SubscribeCommandOn(Default, msg.Type(), cmd, runnerOpts...)
}

func SubscribeCommandFunc[T workflow.Message](handler workflow.CommandFunc[T], runnerOpts ...runner.Option) Subscription {
	return SubscribeCommand(handler, runnerOpts...)
}

// SubscribeCommandOn subscribes a Commander under an explicit trigger
// pattern on the given bus.
func SubscribeCommandOn[T workflow.Message](d *Dispatcher, pattern string, cmd workflow.Commander[T], runnerOpts ...runner.Option) Subscription {
	wrapper := &commandWrapper[T]{
		runner: runner.NewHandler(runnerOpts...),
		cmd:    cmd,
	}
	return &subs{entry: d.RegisterHandler(pattern, wrapper)}
}

// SubscribeQuery subscribes the single QueryHandler for T, R on the default bus.
func SubscribeQuery[T workflow.Message, R any](qry workflow.Querier[T, R], runnerOpts ...runner.Option) Subscription {
	var msg T
	wrapper := &queryWrapper[T, R]{
		runner: runner.NewHandler(runnerOpts...),
		qry:    qry,
	}
	return &subs{entry: Default.RegisterHandler(msg.Type(), wrapper)}
}

func SubscribeQueryFunc[T workflow.Message, R any](qry workflow.QueryFunc[T, R], runnerOpts ...runner.Option) Subscription {
	return SubscribeQuery(qry, runnerOpts...)
}

// Dispatch executes all registered CommandHandlers for T on the default bus.
func Dispatch[T workflow.Message](ctx context.Context, msg T) error {
	if err := (&workflow.MessageHandler[T]{}).ValidateMessage(msg); err != nil {
		return err
	}
	return Default.Publish(ctx, msg)
}

// Query executes the single registered QueryHandler for T, returning R.
func Query[T workflow.Message, R any](ctx context.Context, msg T) (R, error) {
	var zero R
	if err := (&workflow.MessageHandler[T]{}).ValidateMessage(msg); err != nil {
		return zero, err
	}

	qw, err := getQueryHandler[T, R](Default, msg)
	if err != nil {
		return zero, workflow.WrapError("QueryHandlerError", err.Error(), err)
	}

	if ctx.Err() != nil {
		return zero, workflow.WrapError("ContextError", "context canceled or deadline exceeded", ctx.Err())
	}

	result, qerr := runner.RunQuery(ctx, qw.runner, qw.qry, msg)
	if qerr != nil {
		return zero, workflow.WrapError(
			"HandlerExecutionFailed",
			fmt.Sprintf("query handler failed for type %s", msg.Type()),
			qerr,
		)
	}
	return result, nil
}

func getQueryHandler[T workflow.Message, R any](d *Dispatcher, msg T) (*queryWrapper[T, R], error) {
	handlers := d.GetHandlers(msg.Type())

	if len(handlers) == 0 {
		return nil, fmt.Errorf("no query handlers for message type %s", msg.Type())
	}

	if len(handlers) > 1 {
		return nil, errors.New("multiple query handlers found, ambiguous query")
	}

	qh, ok := handlers[0].(*queryWrapper[T, R])
	if !ok {
		return nil, fmt.Errorf("handler does not implement QueryHandler for type %s", msg.Type())
	}
	return qh, nil
}

type commandWrapper[T workflow.Message] struct {
	runner *runner.Handler
	cmd    workflow.Commander[T]
}

func (cw *commandWrapper[T]) execute(ctx context.Context, msg workflow.Message) error {
	typed, ok := msg.(T)
	if !ok {
		return fmt.Errorf("handler does not accept message type %s", msg.Type())
	}
	return runner.RunCommand(ctx, cw.runner, cw.cmd, typed)
}

type queryWrapper[T workflow.Message, R any] struct {
	runner *runner.Handler
	qry    workflow.Querier[T, R]
}
