package eventbus

import (
	"sync"
	"time"
)

// Event is one telemetry signal from the trigger engine: a schedule was
// armed or disarmed, a fire was dispatched, a consumer failed. The engine
// publishes; whoever cares subscribes. Data stays small (string maps in
// practice) so events are cheap to fan out and log.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full misses the event. Telemetry is advisory, so lossy
// delivery to a slow reader is the intended trade.
type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

func New() Bus {
	return &memBus{}
}

type subscriber struct {
	id uint64
	ch chan Event
}

type memBus struct {
	mu   sync.RWMutex
	subs []subscriber
	seq  uint64
}

// Publish delivers e to every current subscriber without blocking.
// Sends happen under the read lock; Unsubscribe removes and closes its
// channel under the write lock, so a send can never hit a closed channel.
func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	for _, s := range b.subs {
		select {
		case s.ch <- e:
		default:
		}
	}
	b.mu.RUnlock()
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	b.seq++
	id := b.seq
	b.subs = append(b.subs, subscriber{id: id, ch: ch})
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			for i, s := range b.subs {
				if s.id == id {
					b.subs = append(b.subs[:i], b.subs[i+1:]...)
					break
				}
			}
			close(ch)
			b.mu.Unlock()
		})
	}
	return ch, unsub
}
