package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/koscakluka/ema-realtime/core/events"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Handler receives normalized events. Handlers run synchronously on the
// dispatching goroutine and must hand slow work off to their own goroutine.
type Handler func(events.Event)

// Dispatcher maps event kinds to handlers invoked in registration order.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[events.Kind][]Handler
	logger   *slog.Logger
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: map[events.Kind][]Handler{}, logger: logger}
}

// On registers handler for kind. Kinds outside the event vocabulary are
// rejected.
func (d *Dispatcher) On(kind events.Kind, handler Handler) error {
	if !events.IsKnown(kind) {
		return fmt.Errorf("%w: %q", ErrUnknownEventKind, kind)
	}
	if handler == nil {
		return fmt.Errorf("%w: nil handler for %q", ErrConfig, kind)
	}
	d.on(kind, handler)
	return nil
}

func (d *Dispatcher) on(kind events.Kind, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[kind] = append(d.handlers[kind], handler)
}

// Dispatch invokes every handler registered for the event kind. A panicking
// handler is logged and does not stop the remaining handlers.
func (d *Dispatcher) Dispatch(event events.Event) {
	d.mu.RLock()
	handlers := d.handlers[event.Kind()]
	d.mu.RUnlock()

	dispatchedEvents.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("kind", string(event.Kind()))))

	for _, handler := range handlers {
		d.invoke(handler, event)
	}
}

func (d *Dispatcher) invoke(handler Handler, event events.Event) {
	defer func() {
		if recovered := recover(); recovered != nil {
			d.logger.Error("event handler panicked", "kind", event.Kind(), "panic", recovered)
		}
	}()
	handler(event)
}
