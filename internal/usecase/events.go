package usecase

import (
	"sync"
	"time"
)

type EventType string

const (
	EventSignal EventType = "signal"
	EventOrder  EventType = "order"
	EventTrade  EventType = "trade"
	EventVeto   EventType = "veto"
)

type Event struct {
	Type EventType `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data"`
}

type EventHandler func(Event)

// eventBus fans events out to subscribers synchronously. Handlers are
// copied before dispatch so they may subscribe from inside a callback.
type eventBus struct {
	mu       sync.Mutex
	handlers []EventHandler
}

func (b *eventBus) Subscribe(h EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

func (b *eventBus) publish(e Event) {
	b.mu.Lock()
	handlers := make([]EventHandler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.Unlock()

	for _, h := range handlers {
		h(e)
	}
}
