// Package events provides the typed outcome bus for the sync engine.
// Publishing is fire-and-forget: no subscriber response flows back to the
// publisher.
package events

import (
	"sync"
	"time"
)

// Event is the closed set of outcomes the sync engine announces. Each
// variant carries its own payload shape.
type Event interface {
	EventName() string
}

// IssuesImported is published after an import batch commits for a project.
type IssuesImported struct {
	ProjectID     string
	ImportedCount int
}

// EventName implements Event.
func (IssuesImported) EventName() string { return "github.issues.imported" }

// PRMergedAutoClosed is published when a card is moved to the terminal
// column because its pull request was observed merged.
type PRMergedAutoClosed struct {
	ProjectID string
	BoardID   string
	CardID    string
	PRNumber  int
	PRURL     string
	At        time.Time
}

// EventName implements Event.
func (PRMergedAutoClosed) EventName() string { return "github.pr.merged.autoClosed" }

// Handler receives published events.
type Handler func(Event)

// Bus dispatches events to subscribers. The zero value is usable.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a handler for all subsequent events.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish delivers the event to every subscriber in registration order.
// Handlers run on the publisher's goroutine and must not block.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, h := range handlers {
		h(e)
	}
}
