// Package events delivers plan element change notifications to in-process
// subscribers.
package events

import (
	"sync"
	"time"

	"github.com/msageha/planindex/internal/model"
)

type EventType string

const (
	// EventElementAdded is published when a plan element is stored for a task
	// that had none.
	EventElementAdded EventType = "element_added"
	// EventElementReplaced is published when a plan element displaces the one
	// already stored for its task.
	EventElementReplaced EventType = "element_replaced"
	// EventElementRemoved is published when the plan element for a task is removed.
	EventElementRemoved EventType = "element_removed"
	// EventSnapshotReloaded is published after the store re-reads its snapshot.
	EventSnapshotReloaded EventType = "snapshot_reloaded"
)

type Event struct {
	Type      EventType
	Timestamp time.Time
	TaskUID   model.UID
	Element   *model.PlanElement
	Previous  *model.PlanElement
	Size      int
}

type Subscriber func(Event)

// Bus is a non-blocking publish/subscribe bus. Each subscriber has its own
// buffered channel drained by a goroutine; when the buffer is full the event
// is dropped for that subscriber.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]chan Event
	bufferSize  int
}

func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = model.DefaultEventBufferSize
	}
	return &Bus{
		subscribers: make(map[EventType][]chan Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers fn for eventType and returns a function that removes
// the subscription.
func (b *Bus) Subscribe(eventType EventType, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	b.subscribers[eventType] = append(b.subscribers[eventType], ch)

	go func() {
		for event := range ch {
			func() {
				// a panicking subscriber must not stop delivery to itself
				defer func() { _ = recover() }()
				fn(event)
			}()
		}
	}()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		subs := b.subscribers[eventType]
		for i, subCh := range subs {
			if subCh == ch {
				b.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
				close(ch)
				break
			}
		}
	}
}

// Publish stamps e with its type and the current time and hands it to every
// subscriber of that type without blocking.
func (b *Bus) Publish(eventType EventType, e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	e.Type = eventType
	e.Timestamp = time.Now().UTC()

	for _, ch := range b.subscribers[eventType] {
		select {
		case ch <- e:
		default:
		}
	}
}

// Close ends every subscription.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for eventType, subs := range b.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.subscribers, eventType)
	}
}
