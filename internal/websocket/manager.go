package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"
)

var ErrClientNotFound = errors.New("websocket client not found")

type ClientMessage struct {
	Client  *Client
	Message []byte
}

type Options struct {
	MaxConnections int
	WriteWait      time.Duration
	PongWait       time.Duration
	PingPeriod     time.Duration
	MaxMessageSize int64
}

// Manager is the hub for UI clients. It also acts as a change-event channel
// for the notifier: events published by the node are pushed to every client,
// and documentChanged messages sent by clients are handed to listeners.
type Manager struct {
	clients        map[string]*Client
	clientsMutex   sync.RWMutex
	Register       chan *Client
	Unregister     chan *Client
	HandleMessage  chan *ClientMessage
	maxConnections int
	writeWait      time.Duration
	pongWait       time.Duration
	pingPeriod     time.Duration
	maxMessageSize int64
	done           chan struct{}

	handlerMu      sync.RWMutex
	messageHandler MessageHandler

	listenersMu  sync.Mutex
	listeners    map[int]func([]byte)
	nextListener int
}

type MessageHandler interface {
	HandleWebSocketMessage(client *Client, msg *Message) error
}

func NewManager(opts Options) *Manager {
	if opts.MaxConnections <= 0 {
		opts.MaxConnections = 1000
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = 10 * time.Second
	}
	if opts.PongWait <= 0 {
		opts.PongWait = 60 * time.Second
	}
	if opts.PingPeriod <= 0 || opts.PingPeriod >= opts.PongWait {
		opts.PingPeriod = opts.PongWait * 9 / 10
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = 512 * 1024
	}
	return &Manager{
		clients:        make(map[string]*Client),
		Register:       make(chan *Client),
		Unregister:     make(chan *Client),
		HandleMessage:  make(chan *ClientMessage),
		maxConnections: opts.MaxConnections,
		writeWait:      opts.WriteWait,
		pongWait:       opts.PongWait,
		pingPeriod:     opts.PingPeriod,
		maxMessageSize: opts.MaxMessageSize,
		listeners:      make(map[int]func([]byte)),
		done:           make(chan struct{}),
	}
}

// SetMessageHandler installs the handler for client messages. It is safe to
// call while Run is serving.
func (m *Manager) SetMessageHandler(handler MessageHandler) {
	m.handlerMu.Lock()
	defer m.handlerMu.Unlock()
	m.messageHandler = handler
}

func (m *Manager) handler() MessageHandler {
	m.handlerMu.RLock()
	defer m.handlerMu.RUnlock()
	return m.messageHandler
}

// Done is closed once Run has returned.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Run serves registrations and client messages until ctx is done, then
// disconnects every client.
func (m *Manager) Run(ctx context.Context) {
	defer close(m.done)
	for {
		select {
		case <-ctx.Done():
			m.closeAll()
			return

		case client := <-m.Register:
			m.registerClient(client)

		case client := <-m.Unregister:
			m.unregisterClient(client)

		case clientMsg := <-m.HandleMessage:
			m.processMessage(clientMsg)
		}
	}
}

func (m *Manager) registerClient(client *Client) {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()

	if len(m.clients) >= m.maxConnections {
		log.Printf("[WebSocket] max connections reached, rejecting %s", client.ID)
		close(client.Send)
		return
	}

	m.clients[client.ID] = client
	log.Printf("[WebSocket] client registered: %s (session: %s)", client.ID, client.SessionID)
}

func (m *Manager) unregisterClient(client *Client) {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()

	if _, ok := m.clients[client.ID]; ok {
		delete(m.clients, client.ID)
		close(client.Send)
		log.Printf("[WebSocket] client unregistered: %s", client.ID)
	}
}

func (m *Manager) closeAll() {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()
	for id, client := range m.clients {
		delete(m.clients, id)
		close(client.Send)
	}
}

func (m *Manager) processMessage(clientMsg *ClientMessage) {
	m.clientsMutex.RLock()
	_, registered := m.clients[clientMsg.Client.ID]
	m.clientsMutex.RUnlock()
	if !registered {
		return
	}

	var msg Message
	if err := json.Unmarshal(clientMsg.Message, &msg); err != nil {
		log.Printf("[WebSocket] error unmarshaling message: %v", err)
		return
	}

	if msg.Type == TypeDocumentChanged {
		m.deliver(msg.Payload)
		if err := m.Broadcast(&msg, clientMsg.Client.ID); err != nil {
			log.Printf("[WebSocket] relay failed: %v", err)
		}
	}

	if h := m.handler(); h != nil {
		if err := h.HandleWebSocketMessage(clientMsg.Client, &msg); err != nil {
			log.Printf("[WebSocket] error handling message: %v", err)
		}
	}
}

// Broadcast sends message to every client except excludeClientID. Clients
// whose send buffer is full are disconnected.
func (m *Manager) Broadcast(message *Message, excludeClientID string) error {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		return err
	}

	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()

	for id, client := range m.clients {
		if id == excludeClientID {
			continue
		}
		select {
		case client.Send <- messageBytes:
		default:
			log.Printf("[WebSocket] client %s send buffer full, closing connection", id)
			go func(c *Client) {
				select {
				case m.Unregister <- c:
				case <-m.done:
				}
			}(client)
		}
	}
	return nil
}

// SendToClient queues message for one registered client. It reports
// ErrClientNotFound when clientID is not connected; a full send buffer drops
// the message.
func (m *Manager) SendToClient(clientID string, message *Message) error {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()

	client, exists := m.clients[clientID]
	if !exists {
		return ErrClientNotFound
	}

	messageBytes, err := json.Marshal(message)
	if err != nil {
		return err
	}

	select {
	case client.Send <- messageBytes:
	default:
		log.Printf("[WebSocket] client %s send buffer full", clientID)
	}
	return nil
}

func (m *Manager) ConnectionCount() int {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()
	return len(m.clients)
}

func (m *Manager) Name() string {
	return "websocket"
}

// Publish pushes an encoded change event to every client.
func (m *Manager) Publish(ctx context.Context, payload []byte) error {
	return m.Broadcast(&Message{
		Type:      TypeDocumentChanged,
		Timestamp: time.Now(),
		Payload:   json.RawMessage(payload),
	}, "")
}

// Listen hands every documentChanged payload sent by a client to deliver
// until ctx is done.
func (m *Manager) Listen(ctx context.Context, deliver func([]byte)) error {
	m.listenersMu.Lock()
	id := m.nextListener
	m.nextListener++
	m.listeners[id] = deliver
	m.listenersMu.Unlock()

	<-ctx.Done()

	m.listenersMu.Lock()
	delete(m.listeners, id)
	m.listenersMu.Unlock()
	return ctx.Err()
}

func (m *Manager) deliver(payload []byte) {
	if len(payload) == 0 {
		return
	}
	m.listenersMu.Lock()
	listeners := make([]func([]byte), 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	m.listenersMu.Unlock()

	for _, l := range listeners {
		l(payload)
	}
}
