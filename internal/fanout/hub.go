// Package fanout pushes registry and session mutations to subscribed
// clients. Channels come in two families, experiment:<id> and game:<id>;
// delivery order matches publish order because all publishers serialize
// through the store's critical section.
package fanout

import (
	"sync"

	"github.com/Kmccabe/bTree-sub000/pkg/logger"

	"go.uber.org/zap"
)

type Message struct {
	Type string      `json:"type"`
	Seq  int64       `json:"seq"`
	Data interface{} `json:"data"`
}

func ExperimentChannel(id string) string { return "experiment:" + id }

func GameChannel(id string) string { return "game:" + id }

type Hub struct {
	mu  sync.Mutex
	seq int64

	// channel name -> subscriber id -> the subscriber's outbound channel.
	// One outbound channel per client, shared across its subscriptions.
	subscribers map[string]map[string]chan Message
}

func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[string]map[string]chan Message),
	}
}

// Subscribe registers out to receive everything published on channel.
func (h *Hub) Subscribe(channel, subscriberID string, out chan Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.subscribers[channel]
	if !ok {
		subs = make(map[string]chan Message)
		h.subscribers[channel] = subs
	}
	subs[subscriberID] = out
}

func (h *Hub) Unsubscribe(channel, subscriberID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, ok := h.subscribers[channel]; ok {
		delete(subs, subscriberID)
		if len(subs) == 0 {
			delete(h.subscribers, channel)
		}
	}
}

// RemoveSubscriber drops the subscriber from every channel, used when a
// client disconnects.
func (h *Hub) RemoveSubscriber(subscriberID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for channel, subs := range h.subscribers {
		delete(subs, subscriberID)
		if len(subs) == 0 {
			delete(h.subscribers, channel)
		}
	}
}

// Publish fans data out to every subscriber of channel. Sends never block: a
// subscriber whose outbound channel is full misses the message and gets a
// warning logged; the next snapshot catches it up.
func (h *Hub) Publish(channel, msgType string, data interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.seq++
	msg := Message{Type: msgType, Seq: h.seq, Data: data}

	for subscriberID, out := range h.subscribers[channel] {
		select {
		case out <- msg:
		default:
			logger.Log.Warn("fanout subscriber channel full",
				zap.String("channel", channel),
				zap.String("subscriberID", subscriberID),
			)
		}
	}
}
