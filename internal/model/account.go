// Package model defines the domain model.
package model

import "time"

// Account pairs a local user with one remote-provider login.
type Account struct {
	ID                  string     `db:"id"`
	UserID              string     `db:"user_id"`
	Username            string     `db:"username"`
	EncryptedCredential string     `db:"encrypted_credential"`
	RemoteUserID        string     `db:"remote_user_id"`
	IsActive            bool       `db:"is_active"`
	LastError           string     `db:"last_error"`
	LastSyncedAt        *time.Time `db:"last_synced_at"`
	CreatedAt           time.Time  `db:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at"`
}

// Conversation mirrors one remote thread with one participant.
// It is keyed by (AccountID, Participant); RemoteThreadID is the thread id
// seen on the latest reconciliation pass and is only used for sending.
type Conversation struct {
	ID             string    `db:"id"`
	AccountID      string    `db:"account_id"`
	Participant    string    `db:"participant"`
	RemoteThreadID string    `db:"remote_thread_id"`
	LastMessageAt  time.Time `db:"last_message_at"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}
