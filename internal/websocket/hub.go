package websocket

import (
	"context"
	"sync"
)

type hubOpKind int

const (
	opRegister hubOpKind = iota
	opUnregister
	opSubscribe
	opUnsubscribe
)

// hubOp is one membership change. Every change goes through a single queue,
// so a client's register, subscriptions and unregister apply in call order.
type hubOp struct {
	kind    hubOpKind
	client  *Client
	channel string
	applied chan struct{}
}

// Hub tracks push clients and the phone channels each one listens on.
type Hub struct {
	mu sync.RWMutex

	clients  map[string]*Client
	channels map[string]map[*Client]struct{}

	ops     chan hubOp
	stopped chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients:  make(map[string]*Client),
		channels: make(map[string]map[*Client]struct{}),
		ops:      make(chan hubOp, 512),
		stopped:  make(chan struct{}),
	}
}

// Run applies membership changes until ctx ends, then drops every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case op := <-h.ops:
			h.apply(op)
			close(op.applied)
		}
	}
}

func (h *Hub) apply(op hubOp) {
	switch op.kind {
	case opRegister:
		h.addClient(op.client)
	case opUnregister:
		h.removeClient(op.client)
	case opSubscribe:
		h.subscribeToChannel(op.client, op.channel)
	case opUnsubscribe:
		h.unsubscribeFromChannel(op.client, op.channel)
	}
}

// submit queues op and waits until Run has applied it. It returns false once
// the hub has stopped.
func (h *Hub) submit(kind hubOpKind, client *Client, channel string) bool {
	op := hubOp{kind: kind, client: client, channel: channel, applied: make(chan struct{})}
	select {
	case h.ops <- op:
	case <-h.stopped:
		return false
	}
	select {
	case <-op.applied:
		return true
	case <-h.stopped:
		return false
	}
}

func (h *Hub) Register(client *Client) bool {
	return h.submit(opRegister, client, "")
}

func (h *Hub) Unregister(client *Client) bool {
	return h.submit(opUnregister, client, "")
}

// Subscribe reports whether the client is connected and now on channel.
func (h *Hub) Subscribe(client *Client, channel string) bool {
	return h.submit(opSubscribe, client, channel) && client.IsSubscribed(channel)
}

func (h *Hub) Unsubscribe(client *Client, channel string) bool {
	return h.submit(opUnsubscribe, client, channel)
}

// Broadcast sends payload to every client subscribed to channel.
func (h *Hub) Broadcast(channel string, payload []byte) {
	h.mu.RLock()
	for c := range h.channels[channel] {
		c.SendMessage(payload)
	}
	h.mu.RUnlock()
}

// SendTo queues payload for one client if it is still connected.
func (h *Hub) SendTo(client *Client, payload []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[client.ID]; !ok {
		return false
	}
	return client.SendMessage(payload)
}

// BroadcastAll sends payload to every connected client.
func (h *Hub) BroadcastAll(payload []byte) {
	h.mu.RLock()
	for _, c := range h.clients {
		c.SendMessage(payload)
	}
	h.mu.RUnlock()
}

func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) GetChannelSubscriberCount(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}

// addClient also joins the channels the client was created with.
func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
	for _, channel := range client.GetChannels() {
		if _, ok := h.channels[channel]; !ok {
			h.channels[channel] = make(map[*Client]struct{})
		}
		h.channels[channel][client] = struct{}{}
	}
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}

	for _, channel := range client.GetChannels() {
		if subscribers, ok := h.channels[channel]; ok {
			delete(subscribers, client)
			if len(subscribers) == 0 {
				delete(h.channels, channel)
			}
		}
	}
	delete(h.clients, client.ID)
	close(client.Send)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		close(c.Send)
		delete(h.clients, id)
	}
	h.channels = make(map[string]map[*Client]struct{})
}

func (h *Hub) subscribeToChannel(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	if _, ok := h.channels[channel]; !ok {
		h.channels[channel] = make(map[*Client]struct{})
	}
	h.channels[channel][client] = struct{}{}
	client.Subscribe(channel)
}

func (h *Hub) unsubscribeFromChannel(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subscribers, ok := h.channels[channel]; ok {
		delete(subscribers, client)
		if len(subscribers) == 0 {
			delete(h.channels, channel)
		}
	}
	client.Unsubscribe(channel)
}
