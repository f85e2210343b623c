// Package events pushes committed lifecycle changes to websocket subscribers.
package events

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/sirupsen/logrus"

	"delivery-backend/internal/models"
)

// Hub fans lifecycle events out to connected clients. Branch users only see
// events for their own branch; staff see everything.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	broadcast  chan models.LifecycleEvent
	done       chan struct{}

	mu      sync.RWMutex
	clients map[*Client]bool

	log logrus.FieldLogger
}

func NewHub(log logrus.FieldLogger) *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan models.LifecycleEvent, 256),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
		log:        log.WithField("component", "events"),
	}
}

// Publish queues an event without blocking the caller. When the queue is full
// the event is dropped; subscribers reload on reconnect anyway.
func (h *Hub) Publish(e models.LifecycleEvent) {
	select {
	case h.broadcast <- e:
	default:
		h.log.WithField("type", e.Type).Warn("[Events] Broadcast queue full, dropping event")
	}
}

// Run is the hub's main loop. It closes every client when ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.log.WithFields(logrus.Fields{"id": c.id, "user_id": c.caller.UserID}).Debug("[Events] Client connected")

		case c := <-h.unregister:
			h.remove(c)

		case e := <-h.broadcast:
			msg, err := json.Marshal(e)
			if err != nil {
				h.log.WithError(err).Error("[Events] Failed to encode event")
				continue
			}
			h.mu.Lock()
			for c := range h.clients {
				if !c.wants(e) {
					continue
				}
				select {
				case c.send <- msg:
				default:
					// slow consumer
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		h.log.WithField("id", c.id).Debug("[Events] Client disconnected")
	}
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
