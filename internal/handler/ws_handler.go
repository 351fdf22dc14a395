package handler

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"wwnotes-sync/internal/domain"
	"wwnotes-sync/internal/websocket"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
)

type CatalogReader interface {
	GetAll() []domain.Document
}

type WebSocketHandler struct {
	manager  *websocket.Manager
	catalog  CatalogReader
	upgrader ws.Upgrader
}

func NewWebSocketHandler(manager *websocket.Manager, catalog CatalogReader, readBuffer, writeBuffer int) *WebSocketHandler {
	if readBuffer <= 0 {
		readBuffer = 1024
	}
	if writeBuffer <= 0 {
		writeBuffer = 1024
	}
	return &WebSocketHandler{
		manager: manager,
		catalog: catalog,
		upgrader: ws.Upgrader{
			ReadBufferSize:  readBuffer,
			WriteBufferSize: writeBuffer,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		sessionID = "default"
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WebSocket] Failed to upgrade connection: %v", err)
		return
	}

	client := websocket.NewClient(uuid.New().String(), sessionID, conn, h.manager)

	// The current catalog is queued before registration so the first frame a
	// client sees is always a full catalog.
	if msg, err := websocket.NewCatalogMessage(h.catalog.GetAll(), time.Now()); err == nil {
		if data, err := json.Marshal(msg); err == nil {
			client.Send <- data
		}
	}

	select {
	case h.manager.Register <- client:
	case <-h.manager.Done():
		log.Printf("[WebSocket] hub stopped, closing %s", client.ID)
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}

// CatalogBroadcaster returns a registry change listener that pushes the full
// catalog to every UI client.
func CatalogBroadcaster(manager *websocket.Manager) func([]domain.Document) {
	return func(docs []domain.Document) {
		msg, err := websocket.NewCatalogMessage(docs, time.Now())
		if err != nil {
			log.Printf("[WebSocket] failed to build catalog message: %v", err)
			return
		}
		if err := manager.Broadcast(msg, ""); err != nil {
			log.Printf("[WebSocket] catalog broadcast failed: %v", err)
		}
	}
}

type RefreshRequester interface {
	RequestRefresh()
}

// ClientSender addresses replies to a single connected client.
type ClientSender interface {
	SendToClient(clientID string, message *websocket.Message) error
}

type WebSocketMessageHandler struct {
	sender    ClientSender
	refresher RefreshRequester
}

func NewWebSocketMessageHandler(sender ClientSender, refresher RefreshRequester) *WebSocketMessageHandler {
	return &WebSocketMessageHandler{
		sender:    sender,
		refresher: refresher,
	}
}

func (h *WebSocketMessageHandler) HandleWebSocketMessage(client *websocket.Client, msg *websocket.Message) error {
	switch msg.Type {
	case websocket.TypeVisible:
		h.refresher.RequestRefresh()
		return nil

	case websocket.TypePing:
		return h.reply(client, websocket.TypePong, nil)

	case websocket.TypeDocumentChanged:
		var ev domain.ChangeEvent
		if err := msg.UnmarshalPayload(&ev); err != nil {
			return h.reply(client, websocket.TypeAck, &websocket.AckPayload{
				Type:  msg.Type,
				Error: "invalid change event",
			})
		}
		return h.reply(client, websocket.TypeAck, &websocket.AckPayload{
			Type:    msg.Type,
			Success: true,
		})

	default:
		log.Printf("unknown message type: %s", msg.Type)
	}

	return nil
}

func (h *WebSocketMessageHandler) reply(client *websocket.Client, msgType websocket.MessageType, payload interface{}) error {
	out, err := websocket.NewMessage(msgType, payload)
	if err != nil {
		return err
	}
	return h.sender.SendToClient(client.ID, out)
}
