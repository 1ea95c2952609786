// Package eventbus distributes device state-change events to interested
// consumers (the SSE stream, loggers). Publishing never blocks the
// controller that changed state.
package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// EventType represents the type of event
type EventType string

const (
	EventTypeLightState EventType = "light_state"
	EventTypeMicState   EventType = "mic_state"
)

// Default configuration
const (
	DefaultWorkerCount = 2
	DefaultQueueSize   = 64
)

// Event is one state-change notification.
type Event struct {
	ID     string
	Type   EventType
	Device string
	Data   map[string]interface{}
	Time   time.Time
}

// Handler is a function that handles events
type Handler func(Event)

// work represents a unit of work for the worker pool
type work struct {
	event   Event
	handler Handler
}

// Bus provides event routing with a bounded worker pool
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler

	workQueue chan work
	wg        sync.WaitGroup

	// Shutdown signaling - closing this channel signals publishers to stop
	closing   chan struct{}
	closeOnce sync.Once
}

// New creates a new event bus with default settings
func New() *Bus {
	return NewWithConfig(DefaultWorkerCount, DefaultQueueSize)
}

// NewWithConfig creates a new event bus with custom worker count and queue size
func NewWithConfig(workerCount, queueSize int) *Bus {
	b := &Bus{
		workQueue: make(chan work, queueSize),
		closing:   make(chan struct{}),
	}

	for i := 0; i < workerCount; i++ {
		b.wg.Add(1)
		go b.worker(i)
	}

	log.Debug().Int("workers", workerCount).Int("queue_size", queueSize).Msg("Event bus worker pool started")
	return b
}

// worker processes events from the work queue. On shutdown it drains
// whatever is already queued, then exits. The queue channel is never
// closed so publishers can't panic on a late send.
func (b *Bus) worker(id int) {
	defer b.wg.Done()

	for {
		select {
		case w := <-b.workQueue:
			b.run(id, w)
		case <-b.closing:
			for {
				select {
				case w := <-b.workQueue:
					b.run(id, w)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) run(id int, w work) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("event_type", string(w.event.Type)).
				Int("worker", id).
				Msg("Event handler panicked")
		}
	}()
	w.handler(w.event)
}

// Subscribe registers a handler for all events.
func (b *Bus) Subscribe(handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers = append(b.handlers, handler)
}

// Publish builds an event with a fresh ID and fans it out to all handlers.
// Non-blocking: if the work queue is full or the bus is closing, the event
// is dropped with a warning.
func (b *Bus) Publish(eventType EventType, device string, data map[string]interface{}) {
	event := Event{
		ID:     uuid.NewString(),
		Type:   eventType,
		Device: device,
		Data:   data,
		Time:   time.Now().UTC(),
	}

	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, handler := range handlers {
		select {
		case <-b.closing:
			log.Warn().Str("event_type", string(event.Type)).Msg("Event bus closing, dropping event")
			return
		case b.workQueue <- work{event: event, handler: handler}:
			// Successfully queued
		default:
			log.Warn().
				Str("event_type", string(event.Type)).
				Str("device", event.Device).
				Msg("Event bus queue full, dropping event")
		}
	}
}

// Close shuts down the worker pool gracefully.
// First signals publishers to stop, then closes the work queue and waits for workers.
func (b *Bus) Close(ctx context.Context) {
	b.closeOnce.Do(func() {
		close(b.closing)
	})

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Debug().Msg("Event bus workers stopped gracefully")
	case <-ctx.Done():
		log.Warn().Msg("Event bus shutdown timed out, some events may be lost")
	}
}
