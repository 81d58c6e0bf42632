package application

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

const eventChannelSize = 32

// eventBroker fans round-phase events out to any number of subscribers.
// Delivery is lossy: a subscriber that stops draining its channel misses
// events instead of stalling the round scheduler.
type eventBroker struct {
	lock   sync.RWMutex
	nextId uint64
	subs   map[uint64]chan RoundEvent
	closed bool
}

func newEventBroker() *eventBroker {
	return &eventBroker{subs: make(map[uint64]chan RoundEvent)}
}

// Subscribe returns a new event channel and the function releasing it.
func (b *eventBroker) Subscribe() (<-chan RoundEvent, func()) {
	b.lock.Lock()
	defer b.lock.Unlock()

	id := b.nextId
	b.nextId++
	ch := make(chan RoundEvent, eventChannelSize)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[id] = ch

	return ch, func() {
		b.lock.Lock()
		defer b.lock.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
}

func (b *eventBroker) Publish(event RoundEvent) {
	b.lock.RLock()
	defer b.lock.RUnlock()

	for _, sub := range b.subs {
		select {
		case sub <- event:
		default:
			log.Debugf("event broker: dropped %T for slow subscriber", event)
		}
	}
}

func (b *eventBroker) Close() {
	b.lock.Lock()
	defer b.lock.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub)
	}
}

// inputQueue is the unbounded round-input queue: many concurrent producers,
// one consumer. Push never blocks; pending inputs are buffered in memory
// until the scheduler drains them.
type inputQueue struct {
	in   chan RoundInput
	out  chan RoundInput
	quit chan struct{}
	once sync.Once
}

func newInputQueue() *inputQueue {
	q := &inputQueue{
		in:   make(chan RoundInput),
		out:  make(chan RoundInput),
		quit: make(chan struct{}),
	}
	go q.pump()
	return q
}

func (q *inputQueue) pump() {
	var pending []RoundInput
	for {
		out := q.out
		var next RoundInput
		if len(pending) > 0 {
			next = pending[0]
		} else {
			out = nil
		}

		select {
		case input := <-q.in:
			pending = append(pending, input)
		case out <- next:
			pending = pending[1:]
		case <-q.quit:
			close(q.out)
			return
		}
	}
}

// Push enqueues an input. Inputs pushed after Close are dropped.
func (q *inputQueue) Push(input RoundInput) {
	select {
	case q.in <- input:
	case <-q.quit:
	}
}

// C is the consumer side, closed when the queue shuts down.
func (q *inputQueue) C() <-chan RoundInput {
	return q.out
}

func (q *inputQueue) Close() {
	q.once.Do(func() { close(q.quit) })
}
