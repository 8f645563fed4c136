package ws

import "sync"

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub fans deploy log payloads out to the subscribers of each deploy.
type Hub struct {
	clients   map[string]map[Subscriber]struct{}
	register  chan subscription
	unreg     chan subscription
	broadcast chan message
	count     chan countRequest
	done      chan struct{}
	closeOnce sync.Once
}

type message struct {
	deployID string
	payload  []byte
}

type subscription struct {
	deployID string
	client   Subscriber
}

type countRequest struct {
	deployID string
	reply    chan int
}

// NewHub creates a running Hub. buffer sizes the broadcast queue so that log
// producers are not blocked by slow fan-out.
func NewHub(buffer int) *Hub {
	if buffer < 0 {
		buffer = 0
	}
	h := &Hub{
		clients:   make(map[string]map[Subscriber]struct{}),
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		broadcast: make(chan message, buffer),
		count:     make(chan countRequest),
		done:      make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			for _, clients := range h.clients {
				for c := range clients {
					c.Close()
				}
			}
			h.clients = map[string]map[Subscriber]struct{}{}
			return
		case sub := <-h.register:
			if _, ok := h.clients[sub.deployID]; !ok {
				h.clients[sub.deployID] = make(map[Subscriber]struct{})
			}
			h.clients[sub.deployID][sub.client] = struct{}{}
		case sub := <-h.unreg:
			if clients, ok := h.clients[sub.deployID]; ok {
				delete(clients, sub.client)
				if len(clients) == 0 {
					delete(h.clients, sub.deployID)
				}
			}
		case req := <-h.count:
			req.reply <- len(h.clients[req.deployID])
		case msg := <-h.broadcast:
			if clients, ok := h.clients[msg.deployID]; ok {
				for c := range clients {
					if err := c.Send(msg.payload); err != nil {
						c.Close()
						delete(clients, c)
					}
				}
				if len(clients) == 0 {
					delete(h.clients, msg.deployID)
				}
			}
		}
	}
}

// Register adds a client to a deploy stream.
func (h *Hub) Register(deployID string, client Subscriber) {
	select {
	case h.register <- subscription{deployID: deployID, client: client}:
	case <-h.done:
		client.Close()
	}
}

// Unregister removes a client.
func (h *Hub) Unregister(deployID string, client Subscriber) {
	select {
	case h.unreg <- subscription{deployID: deployID, client: client}:
	case <-h.done:
	}
}

// Broadcast sends payload to all subscribers of a deploy.
func (h *Hub) Broadcast(deployID string, payload []byte) {
	select {
	case h.broadcast <- message{deployID: deployID, payload: payload}:
	case <-h.done:
	}
}

// Subscribers reports how many clients follow a deploy.
func (h *Hub) Subscribers(deployID string) int {
	reply := make(chan int, 1)
	select {
	case h.count <- countRequest{deployID: deployID, reply: reply}:
		return <-reply
	case <-h.done:
		return 0
	}
}

// Close stops the hub and closes every subscriber.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}
