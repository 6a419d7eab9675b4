// Package session implements the client-side connection controller used by Go
// clients of the realtime API (the probe tool among them). It replaces ad-hoc
// socket handling with an explicit subscription surface: handlers register per
// event type, duplicate events are filtered, and per-conversation view state
// is mutated only through the event vocabulary.
package session

import (
	"encoding/json"
	"sync"

	"relay/internal/notifications"
)

// Handler consumes a decoded event payload.
type Handler func(event notifications.Event)

// Subscription identifies one registered handler so it can be removed.
type Subscription struct {
	eventType string
	id        uint64
}

// Controller dispatches incoming realtime events to per-type subscribers.
// Events and messages already seen are dropped, so redelivery across
// reconnects and multiple sessions is harmless.
type Controller struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[string]map[uint64]Handler

	seenEvents   map[string]struct{}
	seenOrder    []string
	maxSeen      int
	onUnknown    Handler
	droppedCount uint64
}

const defaultSeenWindow = 4096

// NewController returns an empty controller.
func NewController() *Controller {
	return &Controller{
		handlers:   make(map[string]map[uint64]Handler),
		seenEvents: make(map[string]struct{}),
		maxSeen:    defaultSeenWindow,
	}
}

// Subscribe registers a handler for one event type and returns the
// subscription token for Unsubscribe.
func (c *Controller) Subscribe(eventType string, h Handler) Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	m, ok := c.handlers[eventType]
	if !ok {
		m = make(map[uint64]Handler)
		c.handlers[eventType] = m
	}
	m[c.nextID] = h
	return Subscription{eventType: eventType, id: c.nextID}
}

// Unsubscribe removes a previously registered handler.
func (c *Controller) Unsubscribe(sub Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.handlers[sub.eventType]; ok {
		delete(m, sub.id)
		if len(m) == 0 {
			delete(c.handlers, sub.eventType)
		}
	}
}

// OnUnknown registers a catch-all for event types without subscribers.
func (c *Controller) OnUnknown(h Handler) {
	c.mu.Lock()
	c.onUnknown = h
	c.mu.Unlock()
}

// Dispatch decodes a raw frame and routes it. Returns false when the frame was
// dropped as a duplicate or failed to decode.
func (c *Controller) Dispatch(raw []byte) bool {
	var event notifications.Event
	if err := json.Unmarshal(raw, &event); err != nil {
		return false
	}
	return c.DispatchEvent(event)
}

// DispatchEvent routes an already-decoded event.
func (c *Controller) DispatchEvent(event notifications.Event) bool {
	if event.ID != "" && !c.markSeen(event.ID) {
		c.mu.Lock()
		c.droppedCount++
		c.mu.Unlock()
		return false
	}

	c.mu.RLock()
	targets := make([]Handler, 0, len(c.handlers[event.Type]))
	for _, h := range c.handlers[event.Type] {
		targets = append(targets, h)
	}
	unknown := c.onUnknown
	c.mu.RUnlock()

	if len(targets) == 0 && unknown != nil {
		unknown(event)
		return true
	}
	for _, h := range targets {
		h(event)
	}
	return true
}

// DroppedDuplicates reports how many duplicate events were filtered.
func (c *Controller) DroppedDuplicates() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.droppedCount
}

// markSeen records the event id, evicting the oldest ids beyond the window.
// Returns false when the id was already seen.
func (c *Controller) markSeen(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.seenEvents[id]; ok {
		return false
	}
	c.seenEvents[id] = struct{}{}
	c.seenOrder = append(c.seenOrder, id)
	if len(c.seenOrder) > c.maxSeen {
		evict := c.seenOrder[0]
		c.seenOrder = c.seenOrder[1:]
		delete(c.seenEvents, evict)
	}
	return true
}
