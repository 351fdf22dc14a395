package websocket

import (
	"encoding/json"
	"time"

	"wwnotes-sync/internal/domain"
)

type MessageType string

const (
	// TypeDocumentChanged carries a domain.ChangeEvent in either direction.
	TypeDocumentChanged MessageType = "documentChanged"
	// TypeCatalogUpdated pushes the full ordered catalog to UI clients.
	TypeCatalogUpdated MessageType = "catalog_updated"
	// TypeVisible is sent by a UI client when it becomes visible again.
	TypeVisible MessageType = "visible"
	TypeAck     MessageType = "ack"
	TypePing    MessageType = "ping"
	TypePong    MessageType = "pong"
)

type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type CatalogUpdatedPayload struct {
	Documents []domain.DocumentResponse `json:"documents"`
	Count     int                       `json:"count"`
	SyncTime  time.Time                 `json:"sync_time"`
}

type AckPayload struct {
	Type    MessageType `json:"type"`
	Success bool        `json:"success"`
	Error   string      `json:"error,omitempty"`
}

func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	var payloadBytes json.RawMessage
	if payload != nil {
		bytes, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		payloadBytes = bytes
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Payload:   payloadBytes,
	}, nil
}

func NewCatalogMessage(docs []domain.Document, now time.Time) (*Message, error) {
	out := make([]domain.DocumentResponse, len(docs))
	for i, d := range docs {
		out[i] = d.Response()
	}
	return NewMessage(TypeCatalogUpdated, &CatalogUpdatedPayload{
		Documents: out,
		Count:     len(out),
		SyncTime:  now.UTC(),
	})
}

func (m *Message) UnmarshalPayload(v interface{}) error {
	if m.Payload == nil {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}
