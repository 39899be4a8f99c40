package model

import "time"

// SuggestionStatus is the approval state of a generated reply.
type SuggestionStatus string

const (
	SuggestionPending  SuggestionStatus = "pending"
	SuggestionSent     SuggestionStatus = "sent"
	SuggestionRejected SuggestionStatus = "rejected"
)

// Suggestion is an AI-generated reply candidate for exactly one inbound message.
// Status only moves pending -> sent or pending -> rejected.
type Suggestion struct {
	ID            string           `db:"id"`
	MessageID     string           `db:"message_id"`
	SuggestedText string           `db:"suggested_text"`
	EditedText    *string          `db:"edited_text"`
	Status        SuggestionStatus `db:"status"`
	IsFallback    bool             `db:"is_fallback"`
	CreatedAt     time.Time        `db:"created_at"`
	UpdatedAt     time.Time        `db:"updated_at"`
}

// IsPending reports whether the suggestion can still be approved or rejected.
func (s *Suggestion) IsPending() bool {
	return s.Status == SuggestionPending
}

// TextToSend returns the edited text when one was supplied, otherwise the suggested text.
func (s *Suggestion) TextToSend() string {
	if s.EditedText != nil && *s.EditedText != "" {
		return *s.EditedText
	}
	return s.SuggestedText
}

// SuggestionView is a suggestion joined with the message and conversation it answers.
type SuggestionView struct {
	Suggestion
	ConversationID string    `db:"conversation_id"`
	AccountID      string    `db:"account_id"`
	Participant    string    `db:"participant"`
	MessageContent string    `db:"message_content"`
	MessageSentAt  time.Time `db:"message_sent_at"`
}
