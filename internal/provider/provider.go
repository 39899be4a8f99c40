// Package provider defines the boundary to the remote messaging provider:
// the client contract, the typed thread/message payloads and the error taxonomy.
// Nothing past this package handles untyped provider data.
package provider

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Client is the remote messaging provider as seen by the reconciler and the approval workflow.
type Client interface {
	// Login authenticates one account and returns a session for the other calls.
	Login(ctx context.Context, username, secret string) (*Session, error)
	// ListInboxThreads lists the inbox threads of the session's account.
	ListInboxThreads(ctx context.Context, s *Session) ([]Thread, error)
	// ListThreadMessages returns one page of a thread. An empty cursor asks for the newest page.
	ListThreadMessages(ctx context.Context, s *Session, threadID, cursor string) (*MessagePage, error)
	// SendMessage posts a text message to a thread.
	SendMessage(ctx context.Context, s *Session, threadID, text string) error
}

// Session is an authenticated provider login.
type Session struct {
	AccountID    string
	RemoteUserID string
	Token        string
	CreatedAt    time.Time
}

// ItemTypeText is the only item type the reconciler ingests.
const ItemTypeText = "text"

// Participant is the other side of a thread.
type Participant struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Thread is one inbox thread.
type Thread struct {
	ID          string      `json:"id"`
	Participant Participant `json:"participant"`
	LastItem    *Item       `json:"last_item,omitempty"`
}

// Identity returns the participant identity used as the conversation key.
// Threads without a username fall back to the participant id.
func (t Thread) Identity() string {
	if name := strings.TrimSpace(t.Participant.Username); name != "" {
		return name
	}
	return strings.TrimSpace(t.Participant.ID)
}

// Item is one entry of a thread.
type Item struct {
	ID        string       `json:"id"`
	Type      string       `json:"type"`
	Text      string       `json:"text"`
	SenderID  string       `json:"sender_id"`
	Timestamp RawTimestamp `json:"timestamp"`
}

// IsText reports whether the item carries plain text.
// Items without a type are treated as text when they have text.
func (i Item) IsText() bool {
	if i.Type == "" {
		return i.Text != ""
	}
	return i.Type == ItemTypeText
}

// MessagePage is one page of thread items, newest first.
type MessagePage struct {
	Items      []Item `json:"items"`
	NextCursor string `json:"next_cursor"`
	HasMore    bool   `json:"has_more"`
}

// RawTimestamp is an integer timestamp as sent by the provider, in seconds or milliseconds.
// It decodes from a JSON number or a numeric string. Anything else decodes to
// an invalid value rather than failing the whole payload.
type RawTimestamp struct {
	Value int64
	Valid bool
}

// TimestampOf returns a valid RawTimestamp.
func TimestampOf(v int64) RawTimestamp {
	return RawTimestamp{Value: v, Valid: true}
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *RawTimestamp) UnmarshalJSON(data []byte) error {
	*t = RawTimestamp{}
	s := strings.TrimSpace(string(data))
	if s == "" || s == "null" {
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return nil
		}
		s = strings.TrimSpace(str)
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		*t = TimestampOf(v)
		return nil
	}
	// Some payloads carry floats such as 1700000000.123.
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		*t = TimestampOf(int64(f))
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (t RawTimestamp) MarshalJSON() ([]byte, error) {
	if !t.Valid {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatInt(t.Value, 10)), nil
}
