package server

import (
	"context"
	"encoding/json"
	"sync"

	"eventflow/pkg/events"
	"eventflow/pkg/logger"

	"go.uber.org/zap"
)

// Hub maintains the set of active console clients and broadcasts
// refresh hints to all of them.
type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	broker     events.Broker
	logger     *logger.Logger
	mu         sync.RWMutex
	stopChan   chan struct{}
	stopOnce   sync.Once
}

func NewHub(broker events.Broker, l *logger.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		broadcast:  make(chan []byte, 256),
		broker:     broker,
		logger:     l,
		stopChan:   make(chan struct{}),
	}
}

// Run starts the Hub. It subscribes to the hint channel and fans every
// hint out to all connected clients until Stop is called.
func (h *Hub) Run(ctx context.Context) {
	if h.broker != nil {
		_ = h.broker.Subscribe(ctx, events.EventChannel, func(ctx context.Context, hint events.Hint) error {
			data, err := json.Marshal(hint)
			if err != nil {
				return err
			}
			select {
			case h.broadcast <- data:
			default:
				h.logger.Warnf("hub broadcast buffer full, dropping hint for event %d", hint.EventID)
			}
			return nil
		})
	}

	for {
		select {
		case client := <-h.register:
			h.handleRegister(client)

		case client := <-h.unregister:
			h.handleUnregister(client)

		case data := <-h.broadcast:
			h.handleBroadcast(data)

		case <-h.stopChan:
			return
		}
	}
}

func (h *Hub) handleRegister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client.clientID] = client
	h.logger.Logger.Info("ws client connected", zap.String("client_id", client.clientID))

	go client.writePump()
	go client.readPump()
}

func (h *Hub) handleUnregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.clientID]; ok {
		delete(h.clients, client.clientID)
		h.removeClient(client)
		h.logger.Logger.Info("ws client disconnected", zap.String("client_id", client.clientID))
	}
}

func (h *Hub) removeClient(client *Client) {
	close(client.send)
	client.conn.Close()
}

func (h *Hub) handleBroadcast(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients {
		select {
		case client.send <- data:
		default:
			h.logger.Logger.Warn("ws client send buffer full", zap.String("client_id", client.clientID))
		}
	}
}

// Stop gracefully shuts down the Hub.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stopChan) })

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, client := range h.clients {
		h.removeClient(client)
	}
	h.clients = make(map[string]*Client)
}
