package events

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nolan-sh/nolan/internal/common/logger"
)

// AgentTrigger pairs an event-driven agent with its trigger predicate.
type AgentTrigger struct {
	Agent   string
	Trigger Trigger
}

// TriggerSource supplies the current set of event-driven agents.
// Re-read on every event so config changes apply without a restart.
type TriggerSource interface {
	EventTriggers() []AgentTrigger
}

// DispatchFunc fires one agent through the scheduler's ad-hoc path.
type DispatchFunc func(ctx context.Context, agent string) error

// Dispatcher matches bus events against agent triggers and fires the
// matches, debounced per agent.
type Dispatcher struct {
	bus      Bus
	source   TriggerSource
	debounce *DebounceTable
	dispatch DispatchFunc
	sub      Subscription
	log      *logger.Logger
}

// NewDispatcher wires the matcher to a bus and a dispatch function.
func NewDispatcher(bus Bus, source TriggerSource, dispatch DispatchFunc, log *logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.Default()
	}
	return &Dispatcher{
		bus:      bus,
		source:   source,
		debounce: NewDebounceTable(),
		dispatch: dispatch,
		log:      log.WithFields(zap.String("component", "event-dispatcher")),
	}
}

// Start subscribes to every event kind.
func (d *Dispatcher) Start() error {
	sub, err := d.bus.SubscribeAll(d.handle)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	d.sub = sub
	return nil
}

// Stop unsubscribes from the bus.
func (d *Dispatcher) Stop() {
	if d.sub != nil {
		_ = d.sub.Unsubscribe()
	}
}

func (d *Dispatcher) handle(ctx context.Context, event *Event) error {
	if event.Kind == KindRunOutput {
		// Stream traffic, never a trigger source.
		return nil
	}
	for _, at := range d.source.EventTriggers() {
		if !at.Trigger.Matches(event) {
			continue
		}
		window := time.Duration(at.Trigger.DebounceMS) * time.Millisecond
		if !d.debounce.CanTrigger(at.Agent, window) {
			d.log.Debug("trigger debounced",
				zap.String("agent", at.Agent),
				zap.String("event_id", event.ID),
				zap.String("kind", string(event.Kind)),
			)
			continue
		}
		agent := at.Agent
		d.log.Info("event trigger fired",
			zap.String("agent", agent),
			zap.String("event_id", event.ID),
			zap.String("kind", string(event.Kind)),
		)
		go func() {
			if err := d.dispatch(context.WithoutCancel(ctx), agent); err != nil {
				d.log.Error("event dispatch failed",
					zap.String("agent", agent), zap.Error(err))
			}
		}()
	}
	return nil
}
