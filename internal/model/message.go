package model

import (
	"encoding/json"
	"time"
)

// Direction tells whether a message came from the remote participant or from the account holder.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Message is one persisted chat line. Messages are immutable once created.
type Message struct {
	ID             string          `db:"id"`
	ConversationID string          `db:"conversation_id"`
	Content        string          `db:"content"`
	Direction      Direction       `db:"direction"`
	SentAt         time.Time       `db:"sent_at"`
	Metadata       json.RawMessage `db:"metadata"`
	CreatedAt      time.Time       `db:"created_at"`
}

// IsInbound reports whether the message was written by the remote participant.
func (m *Message) IsInbound() bool {
	return m.Direction == DirectionInbound
}

// MessageMetadata carries raw provider identifiers kept for diagnosis.
type MessageMetadata struct {
	RemoteItemID   string `json:"remote_item_id,omitempty"`
	RemoteThreadID string `json:"remote_thread_id,omitempty"`
	SenderID       string `json:"sender_id,omitempty"`
	RawTimestamp   int64  `json:"raw_timestamp,omitempty"`
	Source         string `json:"source,omitempty"`
}
