package notify

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"cabinbook/internal/events"
	"cabinbook/internal/metrics"
)

const defaultQueueSize = 256

// AsyncSink queues events for a slow handler and delivers them from its own
// worker, so publishers never wait on network sinks. A full queue drops.
type AsyncSink struct {
	name    string
	handler events.EventHandler
	queue   chan events.Event
	logger  zerolog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewAsyncSink(name string, handler events.EventHandler, size int, logger zerolog.Logger) *AsyncSink {
	if size <= 0 {
		size = defaultQueueSize
	}
	a := &AsyncSink{
		name:    name,
		handler: handler,
		queue:   make(chan events.Event, size),
		logger:  logger.With().Str("component", "async_sink").Str("sink", name).Logger(),
	}
	a.wg.Add(1)
	go a.run()
	return a
}

// Attach subscribes the queue to the given types, or to every type when none are given.
func (a *AsyncSink) Attach(bus *events.EventBus, types ...string) {
	if len(types) == 0 {
		bus.SubscribeAll(a.Handle)
		return
	}
	for _, t := range types {
		bus.Subscribe(t, a.Handle)
	}
}

// Handle enqueues ev without blocking.
func (a *AsyncSink) Handle(ev events.Event) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return fmt.Errorf("%s sink closed, dropped %s", a.name, ev.Type)
	}
	select {
	case a.queue <- ev:
		return nil
	default:
		metrics.IncNotification(a.name, false)
		return fmt.Errorf("%s queue full, dropped %s", a.name, ev.Type)
	}
}

func (a *AsyncSink) run() {
	defer a.wg.Done()
	for ev := range a.queue {
		if err := a.handler(ev); err != nil {
			a.logger.Error().Err(err).Str("event", ev.Type).Int64("event_id", ev.ID).Msg("delivery failed")
		}
	}
}

// Close stops accepting events and waits for the queued ones to be delivered.
func (a *AsyncSink) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()
	a.wg.Wait()
}
