// Package events is the in-process pub/sub fan-out for FileData lifecycle
// notifications: the admin WebSocket handler and any other in-process
// observer subscribe to a Bus instead of polling pool/registry Stats.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/KKQ-KKQ/sfizz/pkg/filepool"
)

// Kind identifies which FileData transition an Event describes.
type Kind int

const (
	KindPreloaded Kind = iota
	KindStreamDone
	KindEvicted
	KindFailed
)

func (k Kind) String() string {
	switch k {
	case KindPreloaded:
		return "preloaded"
	case KindStreamDone:
		return "stream-done"
	case KindEvicted:
		return "evicted"
	case KindFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event is one lifecycle notification, timestamped at publish time.
type Event struct {
	Kind            Kind
	PoolID          string
	Filename        string
	Reverse         bool
	AvailableFrames uint64
	Err             string
	At              time.Time
}

// subscriberQueueSize bounds how many events a slow subscriber can fall
// behind by before Publish starts dropping for it.
const subscriberQueueSize = 64

// Bus fans a stream of Events out to any number of subscribers. Grounded on
// group.Manager's mutex-guarded map-of-registrations idiom, repurposed here
// from client-grouping to event fan-out: Subscribe/Unsubscribe play the role
// of RegisterClient/RemoveClient, and Publish plays the role of
// broadcastGroupUpdate.
type Bus struct {
	mu          sync.Mutex
	subscribers map[uuid.UUID]chan Event
}

// NewBus constructs an empty Bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[uuid.UUID]chan Event)}
}

// Subscribe registers a new listener and returns its id (for Unsubscribe)
// and a receive-only channel of events published from this point on.
func (b *Bus) Subscribe() (uuid.UUID, <-chan Event) {
	id := uuid.New()
	ch := make(chan Event, subscriberQueueSize)
	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()
	return id, ch
}

// Unsubscribe removes a listener and closes its channel.
func (b *Bus) Unsubscribe(id uuid.UUID) {
	b.mu.Lock()
	ch, ok := b.subscribers[id]
	delete(b.subscribers, id)
	b.mu.Unlock()
	if ok {
		close(ch)
	}
}

// Publish fans ev out to every current subscriber without blocking: a
// subscriber whose queue is full simply misses this event.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Sink adapts a Bus into a filepool.EventSink for one named pool, so the
// filepool package never needs to import this one.
type Sink struct {
	bus    *Bus
	poolID string
}

// NewSink returns an EventSink that labels every published Event with
// poolID, so a dashboard subscribed to several pools can tell them apart.
func NewSink(bus *Bus, poolID string) *Sink {
	return &Sink{bus: bus, poolID: poolID}
}

func (s *Sink) Preloaded(id filepool.FileId, availableFrames uint64) {
	s.publish(KindPreloaded, id, availableFrames)
}

func (s *Sink) StreamDone(id filepool.FileId, availableFrames uint64) {
	s.publish(KindStreamDone, id, availableFrames)
}

func (s *Sink) Evicted(id filepool.FileId) {
	s.publish(KindEvicted, id, 0)
}

func (s *Sink) Failed(id filepool.FileId, err error) {
	s.bus.Publish(Event{
		Kind:     KindFailed,
		PoolID:   s.poolID,
		Filename: id.Filename,
		Reverse:  id.Reverse,
		Err:      err.Error(),
		At:       time.Now(),
	})
}

func (s *Sink) publish(kind Kind, id filepool.FileId, availableFrames uint64) {
	s.bus.Publish(Event{
		Kind:            kind,
		PoolID:          s.poolID,
		Filename:        id.Filename,
		Reverse:         id.Reverse,
		AvailableFrames: availableFrames,
		At:              time.Now(),
	})
}

var _ filepool.EventSink = (*Sink)(nil)
