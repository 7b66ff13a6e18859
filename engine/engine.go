package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	workflow "github.com/goliatone/go-workflow"
	"github.com/goliatone/go-workflow/compile"
	"github.com/goliatone/go-workflow/store"
)

// Bus is the outbound publisher contract. dispatcher.Dispatcher satisfies it;
// hosts subscribe there for StartStep dispatches, notifications, and approval
// requests.
type Bus interface {
	Publish(ctx context.Context, msg workflow.Message) error
}

// Engine drives one compiled machine: it routes delivered messages to their
// transition handlers, applies them against cloned instances, and persists
// the result with a version guard. Effects the machine itself can route are
// re-queued in the same delivery; everything else goes out on the bus.
type Engine struct {
	machine    *compile.Machine
	instances  store.InstanceStore
	dedupe     store.DedupeStore
	bus        Bus
	logger     Logger
	casRetries int
}

// Option defines the functional option signature.
type Option func(*Engine)

// WithBus sets the outbound publisher.
func WithBus(bus Bus) Option {
	return func(e *Engine) {
		e.bus = bus
	}
}

// WithDedupeStore replaces the processed-delivery store.
func WithDedupeStore(dedupe store.DedupeStore) Option {
	return func(e *Engine) {
		if dedupe != nil {
			e.dedupe = dedupe
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithCASRetries sets how many times a delivery is re-applied after losing
// the optimistic save race.
func WithCASRetries(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.casRetries = n
		}
	}
}

// New builds an engine for one compiled machine.
func New(machine *compile.Machine, instances store.InstanceStore, opts ...Option) (*Engine, error) {
	if machine == nil {
		return nil, errors.New("machine required")
	}
	if instances == nil {
		instances = store.NewInMemoryInstanceStore()
	}
	e := &Engine{
		machine:    machine,
		instances:  instances,
		dedupe:     store.NewInMemoryDedupeStore(),
		casRetries: 3,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = normalizeLogger(e.logger)
	return e, nil
}

// Instance loads the current snapshot for an instance id.
func (e *Engine) Instance(ctx context.Context, id string) (*workflow.Instance, error) {
	return e.instances.Load(ctx, id)
}

// Start creates a fresh instance and enters the first step.
func (e *Engine) Start(ctx context.Context, id string, input workflow.State) error {
	_, err := e.start(ctx, id, input)
	return err
}

func (e *Engine) start(ctx context.Context, id string, input workflow.State) ([]workflow.Message, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("instance id required")
	}
	if len(e.machine.Phases) == 0 {
		return nil, errors.New("machine has no phases")
	}

	inst := workflow.NewInstance(e.machine.Workflow, id, input)
	if _, err := e.instances.SaveIfVersion(ctx, inst, 0); err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			return nil, runtimeError(ErrVersionConflict, fmt.Sprintf("instance %s already exists", id), err, map[string]any{"instance_id": id})
		}
		return nil, err
	}
	e.logger.Info("workflow started workflow=%s instance=%s", e.machine.Workflow, id)

	return e.deliver(ctx, workflow.EnterStep{InstanceID: id, Step: e.machine.Phases[0]})
}

// Deliver routes one message through the machine and persists the outcome.
// Internal effects are applied in the same delivery; outbound effects are
// published before Deliver returns.
func (e *Engine) Deliver(ctx context.Context, msg workflow.Message) error {
	_, err := e.deliver(ctx, msg)
	return err
}

func (e *Engine) deliver(ctx context.Context, msg workflow.Message) ([]workflow.Message, error) {
	var outbound []workflow.Message
	queue := []workflow.Message{msg}
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return outbound, workflow.WrapError("ContextError", "context canceled or deadline exceeded", err)
		}
		next := queue[0]
		queue = queue[1:]

		internal, out, err := e.applyOne(ctx, next)
		if err != nil {
			return outbound, err
		}
		queue = append(queue, internal...)
		outbound = append(outbound, out...)
	}
	return outbound, nil
}

func (e *Engine) applyOne(ctx context.Context, msg workflow.Message) (internal, outbound []workflow.Message, err error) {
	if workflow.IsNilMessage(msg) {
		return nil, nil, errors.New("nil message")
	}
	if err := msg.Validate(); err != nil {
		return nil, nil, err
	}
	routed, ok := msg.(workflow.Routed)
	if !ok {
		return nil, nil, runtimeError(ErrUnknownTrigger, fmt.Sprintf("message %s carries no route ref", msg.Type()), nil, map[string]any{"event": msg.Type()})
	}
	handler, ok := e.machine.Route(routed)
	if !ok {
		return nil, nil, runtimeError(ErrUnknownTrigger,
			fmt.Sprintf("no handler for %s ref %s", msg.Type(), routed.RouteRef()), nil,
			map[string]any{"event": msg.Type(), "ref": routed.RouteRef()})
	}

	id := messageInstance(msg)
	if id == "" {
		return nil, nil, errors.New("message carries no instance id")
	}
	log := withLoggerFields(e.logger, map[string]any{
		"workflow":    e.machine.Workflow,
		"instance_id": id,
		"event":       msg.Type(),
		"handler":     handler.Name,
	})

	scope, dedupable := e.dedupeScope(msg, id)
	if dedupable {
		seen, err := e.dedupe.Processed(ctx, scope)
		if err != nil {
			return nil, nil, err
		}
		if seen {
			log.Debug("duplicate delivery dropped")
			return nil, nil, nil
		}
	}

	var effects []workflow.Message
	for attempt := 0; ; attempt++ {
		inst, err := e.instances.Load(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		if inst == nil {
			return nil, nil, runtimeError(ErrUnknownInstance, fmt.Sprintf("instance %s not found", id), nil, map[string]any{"instance_id": id})
		}
		if inst.Terminal() {
			log.Debug("delivery to terminal instance dropped phase=%s", inst.Phase)
			return nil, nil, nil
		}

		clone := inst.Clone()
		effects, err = e.apply(ctx, handler, clone, msg)
		if err != nil {
			return nil, nil, err
		}

		if _, err := e.instances.SaveIfVersion(ctx, clone, inst.Version); err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				if attempt < e.casRetries {
					log.Debug("save lost version race, re-applying attempt=%d", attempt+1)
					continue
				}
				return nil, nil, runtimeError(ErrVersionConflict, fmt.Sprintf("instance %s version conflict", id), err, map[string]any{"instance_id": id})
			}
			return nil, nil, err
		}
		log.Debug("transition applied phase=%s", clone.Phase)
		break
	}

	if dedupable {
		if err := e.dedupe.MarkProcessed(ctx, scope); err != nil && !errors.Is(err, store.ErrDuplicateDelivery) {
			return nil, nil, err
		}
	}

	for _, effect := range effects {
		if r, ok := effect.(workflow.Routed); ok {
			if _, routable := e.machine.Route(r); routable {
				internal = append(internal, effect)
				continue
			}
		}
		outbound = append(outbound, effect)
		if e.bus != nil {
			if err := e.bus.Publish(ctx, effect); err != nil {
				return internal, outbound, err
			}
		}
	}
	return internal, outbound, nil
}

func (e *Engine) apply(ctx context.Context, handler *compile.Handler, inst *workflow.Instance, msg workflow.Message) (effects []workflow.Message, err error) {
	defer workflow.MakePanicHandler(func(funcName string, perr any, stack []byte, _ ...map[string]any) {
		e.logger.Error("recovered from panic in %s: %v\n%s", funcName, perr, stack)
		err = runtimeError(ErrHandlerPanic,
			fmt.Sprintf("handler %s panicked: %v", handler.Name, perr), nil,
			map[string]any{"handler": handler.Name, "instance_id": inst.ID, "event": msg.Type()})
	})(handler.Name)

	return handler.Apply(ctx, inst, msg)
}

func (e *Engine) dedupeScope(msg workflow.Message, instanceID string) (store.DedupeScope, bool) {
	ident, ok := msg.(workflow.Identified)
	if !ok || strings.TrimSpace(ident.DeliveryID()) == "" {
		return store.DedupeScope{}, false
	}
	scope := store.DedupeScope{
		Workflow:   e.machine.Workflow,
		InstanceID: instanceID,
		Event:      msg.Type(),
		DeliveryID: ident.DeliveryID(),
	}
	return scope, scope.Valid()
}

// WorkFunc is the host work function RunToCompletion hands outbound messages
// to. Its replies (step completions, failures, approval decisions) are
// delivered back into the machine.
type WorkFunc func(ctx context.Context, msg workflow.Message) ([]workflow.Message, error)

// RunToCompletion starts an instance and drives it synchronously: every
// outbound message is offered to work, and work's replies are delivered
// until the exchange quiesces. It returns the final instance snapshot.
// When the context carries a Result[*workflow.Instance] collector, the
// snapshot or the failure is published there as well, with the terminal
// phase and version as metadata.
func (e *Engine) RunToCompletion(ctx context.Context, id string, input workflow.State, work WorkFunc) (*workflow.Instance, error) {
	inst, err := e.runToCompletion(ctx, id, input, work)
	if res := workflow.ResultFromContext[*workflow.Instance](ctx); res != nil {
		if err != nil {
			res.StoreError(err)
		} else {
			res.StoreWithMeta(inst, map[string]any{
				"phase":   inst.Phase,
				"version": inst.Version,
			})
		}
	}
	return inst, err
}

func (e *Engine) runToCompletion(ctx context.Context, id string, input workflow.State, work WorkFunc) (*workflow.Instance, error) {
	queue, err := e.start(ctx, id, input)
	if err != nil {
		return nil, err
	}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, workflow.WrapError("ContextError", "context canceled or deadline exceeded", err)
		}
		next := queue[0]
		queue = queue[1:]

		switch next.(type) {
		case workflow.WorkflowCompleted, workflow.WorkflowFailed:
			continue
		}
		if work == nil {
			continue
		}

		replies, err := work(ctx, next)
		if err != nil {
			return nil, err
		}
		for _, reply := range replies {
			out, err := e.deliver(ctx, reply)
			if err != nil {
				return nil, err
			}
			queue = append(queue, out...)
		}
	}
	return e.instances.Load(ctx, id)
}

func messageInstance(msg workflow.Message) string {
	switch m := msg.(type) {
	case workflow.EnterStep:
		return m.InstanceID
	case workflow.StepCompleted:
		return m.InstanceID
	case workflow.StepFailed:
		return m.InstanceID
	case workflow.StartStep:
		return m.InstanceID
	case workflow.EvaluateLoop:
		return m.InstanceID
	case workflow.ValidationFailed:
		return m.InstanceID
	case workflow.ApprovalRequested:
		return m.InstanceID
	case workflow.ApprovalPending:
		return m.InstanceID
	case workflow.ApprovalDecision:
		return m.InstanceID
	case workflow.ApprovalTimeout:
		return m.InstanceID
	case workflow.WorkflowCompleted:
		return m.InstanceID
	case workflow.WorkflowFailed:
		return m.InstanceID
	}
	return ""
}
