package eventbus

import (
	"sync"
	"sync/atomic"

	evbus "github.com/asaskevich/EventBus"

	"speech-translate-server/internal/platform/logging"
)

const (
	defaultWorkers   = 4
	defaultQueueSize = 1000
)

// Bus wraps an EventBus with a bounded worker pool for asynchronous delivery.
// Handlers are typed funcs, e.g. func(SessionEventData).
type Bus struct {
	bus       evbus.Bus
	logger    *logging.Logger
	workerNum int
	workChan  chan asyncEvent
	stopChan  chan struct{}
	wg        sync.WaitGroup
	pending   sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
	dropped   atomic.Int64
}

type asyncEvent struct {
	topic string
	args  []any
}

// New creates a bus. Non-positive sizes fall back to defaults.
func New(workerNum, queueSize int, logger *logging.Logger) *Bus {
	if workerNum <= 0 {
		workerNum = defaultWorkers
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Bus{
		bus:       evbus.New(),
		logger:    logger,
		workerNum: workerNum,
		workChan:  make(chan asyncEvent, queueSize),
		stopChan:  make(chan struct{}),
	}
}

// Start launches the workers.
func (b *Bus) Start() {
	b.startOnce.Do(func() {
		for i := 0; i < b.workerNum; i++ {
			b.wg.Add(1)
			go b.worker()
		}
	})
}

// Stop halts the workers and delivers anything still queued.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopChan)
		b.wg.Wait()
		for {
			select {
			case event := <-b.workChan:
				b.deliver(event)
			default:
				return
			}
		}
	})
}

func (b *Bus) worker() {
	defer b.wg.Done()
	for {
		select {
		case <-b.stopChan:
			return
		case event := <-b.workChan:
			b.deliver(event)
		}
	}
}

func (b *Bus) deliver(event asyncEvent) {
	defer b.pending.Done()
	defer func() {
		if r := recover(); r != nil {
			b.logger.ErrorTag("EventBus", "handler for %s panicked: %v", event.topic, r)
		}
	}()
	b.bus.Publish(event.topic, event.args...)
}

// Publish delivers synchronously on the caller's goroutine.
func (b *Bus) Publish(topic string, args ...any) {
	b.bus.Publish(topic, args...)
}

// PublishAsync queues the event. When the queue is full or the bus is
// stopped the event is dropped.
func (b *Bus) PublishAsync(topic string, args ...any) {
	select {
	case <-b.stopChan:
		b.dropped.Add(1)
		return
	default:
	}
	b.pending.Add(1)
	select {
	case b.workChan <- asyncEvent{topic: topic, args: args}:
	default:
		b.pending.Done()
		if n := b.dropped.Add(1); n == 1 || n%100 == 0 {
			b.logger.WarnTag("EventBus", "queue full, dropped %d events so far", n)
		}
	}
}

// Subscribe registers fn for topic.
func (b *Bus) Subscribe(topic string, fn any) error {
	return b.bus.Subscribe(topic, fn)
}

// Unsubscribe removes fn from topic.
func (b *Bus) Unsubscribe(topic string, fn any) error {
	return b.bus.Unsubscribe(topic, fn)
}

// HasCallback reports whether topic has subscribers.
func (b *Bus) HasCallback(topic string) bool {
	return b.bus.HasCallback(topic)
}

// Dropped returns how many async events were discarded.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Wait blocks until every queued async event has been delivered.
func (b *Bus) Wait() {
	b.pending.Wait()
}
