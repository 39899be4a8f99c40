// Package memory provides in-process implementations of the repository
// interfaces, used by unit tests across the service packages.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tidic84/InstaAi/internal/model"
	"github.com/tidic84/InstaAi/internal/repository"
)

// Store holds every table in maps guarded by one mutex.
type Store struct {
	mu            sync.Mutex
	accounts      map[string]*model.Account
	conversations map[string]*model.Conversation
	messages      map[string]*model.Message
	suggestions   map[string]*model.Suggestion
	syncRuns      []*model.SyncRun
	runLock       RunLock
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		accounts:      make(map[string]*model.Account),
		conversations: make(map[string]*model.Conversation),
		messages:      make(map[string]*model.Message),
		suggestions:   make(map[string]*model.Suggestion),
	}
}

// Accounts returns the AccountRepository view of the store.
func (s *Store) Accounts() *AccountRepo { return &AccountRepo{s: s} }

// Conversations returns the ConversationRepository view of the store.
func (s *Store) Conversations() *ConversationRepo { return &ConversationRepo{s: s} }

// Messages returns the MessageRepository view of the store.
func (s *Store) Messages() *MessageRepo { return &MessageRepo{s: s} }

// Suggestions returns the SuggestionRepository view of the store.
func (s *Store) Suggestions() *SuggestionRepo { return &SuggestionRepo{s: s} }

// SyncRuns returns the SyncRunRepository view of the store.
func (s *Store) SyncRuns() *SyncRunRepo { return &SyncRunRepo{s: s} }

// RunLock returns the sync run lock shared by everything using this store.
func (s *Store) RunLock() *RunLock { return &s.runLock }

// RunLock is the in-process counterpart of the Postgres advisory lock.
type RunLock struct{ mu sync.Mutex }

// TryAcquire takes the lock without waiting.
func (l *RunLock) TryAcquire(context.Context) (func(), bool, error) {
	if !l.mu.TryLock() {
		return nil, false, nil
	}
	return l.mu.Unlock, true, nil
}

var (
	_ repository.AccountRepository      = (*AccountRepo)(nil)
	_ repository.ConversationRepository = (*ConversationRepo)(nil)
	_ repository.MessageRepository      = (*MessageRepo)(nil)
	_ repository.SuggestionRepository   = (*SuggestionRepo)(nil)
	_ repository.SyncRunRepository      = (*SyncRunRepo)(nil)
)

// AccountRepo implements repository.AccountRepository.
type AccountRepo struct{ s *Store }

func (r *AccountRepo) FindByID(_ context.Context, id string) (*model.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.accounts[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (r *AccountRepo) FindByUserAndUsername(_ context.Context, userID, username string) (*model.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, a := range r.s.accounts {
		if a.UserID == userID && a.Username == username {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *AccountRepo) ListActive(_ context.Context) ([]*model.Account, error) {
	return r.list(func(a *model.Account) bool { return a.IsActive }), nil
}

func (r *AccountRepo) ListActiveByUserID(_ context.Context, userID string) ([]*model.Account, error) {
	return r.list(func(a *model.Account) bool { return a.IsActive && a.UserID == userID }), nil
}

func (r *AccountRepo) ListByUserID(_ context.Context, userID string) ([]*model.Account, error) {
	return r.list(func(a *model.Account) bool { return a.UserID == userID }), nil
}

func (r *AccountRepo) list(keep func(*model.Account) bool) []*model.Account {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.Account
	for _, a := range r.s.accounts {
		if keep(a) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (r *AccountRepo) Create(_ context.Context, a *model.Account) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *a
	r.s.accounts[a.ID] = &cp
	return nil
}

func (r *AccountRepo) UpdateRemoteUserID(_ context.Context, id, remoteUserID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if a, ok := r.s.accounts[id]; ok {
		a.RemoteUserID = remoteUserID
	}
	return nil
}

func (r *AccountRepo) SetActive(_ context.Context, id string, active bool, lastError string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if a, ok := r.s.accounts[id]; ok {
		a.IsActive = active
		a.LastError = lastError
	}
	return nil
}

func (r *AccountRepo) MarkSynced(_ context.Context, id string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if a, ok := r.s.accounts[id]; ok {
		t := at
		a.LastSyncedAt = &t
	}
	return nil
}

// Delete removes the account and cascades to its conversations, messages and suggestions.
func (r *AccountRepo) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.accounts, id)
	for cid, c := range r.s.conversations {
		if c.AccountID != id {
			continue
		}
		for mid, m := range r.s.messages {
			if m.ConversationID != cid {
				continue
			}
			for sid, sg := range r.s.suggestions {
				if sg.MessageID == mid {
					delete(r.s.suggestions, sid)
				}
			}
			delete(r.s.messages, mid)
		}
		delete(r.s.conversations, cid)
	}
	return nil
}

// ConversationRepo implements repository.ConversationRepository.
type ConversationRepo struct{ s *Store }

func (r *ConversationRepo) FindByID(_ context.Context, id string) (*model.Conversation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.conversations[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (r *ConversationRepo) FindByParticipant(_ context.Context, accountID, participant string) (*model.Conversation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range r.s.conversations {
		if c.AccountID == accountID && c.Participant == participant {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

// Create enforces the (account, participant) uniqueness of the conversations table.
func (r *ConversationRepo) Create(_ context.Context, c *model.Conversation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.conversations {
		if existing.AccountID == c.AccountID && existing.Participant == c.Participant {
			return repository.ErrDuplicateConversation
		}
	}
	cp := *c
	r.s.conversations[c.ID] = &cp
	return nil
}

func (r *ConversationRepo) Touch(_ context.Context, id, remoteThreadID string, lastMessageAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.conversations[id]
	if !ok {
		return nil
	}
	if remoteThreadID != "" {
		c.RemoteThreadID = remoteThreadID
	}
	if lastMessageAt.After(c.LastMessageAt) {
		c.LastMessageAt = lastMessageAt
	}
	return nil
}

func (r *ConversationRepo) ListByUserID(_ context.Context, userID string) ([]*model.Conversation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.Conversation
	for _, c := range r.s.conversations {
		a, ok := r.s.accounts[c.AccountID]
		if !ok || a.UserID != userID {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].LastMessageAt.After(out[j].LastMessageAt) })
	return out, nil
}

// MessageRepo implements repository.MessageRepository.
type MessageRepo struct{ s *Store }

func (r *MessageRepo) FindByID(_ context.Context, id string) (*model.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.messages[id]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (r *MessageRepo) ExistsNear(_ context.Context, conversationID, content string, at time.Time, tolerance time.Duration) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, m := range r.s.messages {
		if m.ConversationID != conversationID || m.Content != content {
			continue
		}
		d := m.SentAt.Sub(at)
		if d < 0 {
			d = -d
		}
		if d <= tolerance {
			return true, nil
		}
	}
	return false, nil
}

func (r *MessageRepo) Create(_ context.Context, m *model.Message) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *m
	r.s.messages[m.ID] = &cp
	return nil
}

func (r *MessageRepo) ListRecent(_ context.Context, conversationID, excludeID string, limit int) ([]*model.Message, error) {
	return r.newest(conversationID, excludeID, limit), nil
}

func (r *MessageRepo) ListByConversation(_ context.Context, conversationID string, limit int) ([]*model.Message, error) {
	return r.newest(conversationID, "", limit), nil
}

// newest returns up to limit of the newest messages, oldest first.
func (r *MessageRepo) newest(conversationID, excludeID string, limit int) []*model.Message {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.Message
	for _, m := range r.s.messages {
		if m.ConversationID != conversationID || m.ID == excludeID {
			continue
		}
		cp := *m
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SentAt.Equal(out[j].SentAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].SentAt.Before(out[j].SentAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// SuggestionRepo implements repository.SuggestionRepository.
type SuggestionRepo struct{ s *Store }

func (r *SuggestionRepo) FindByID(_ context.Context, id string) (*model.Suggestion, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sg, ok := r.s.suggestions[id]
	if !ok {
		return nil, nil
	}
	cp := *sg
	return &cp, nil
}

func (r *SuggestionRepo) FindByMessageID(_ context.Context, messageID string) (*model.Suggestion, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, sg := range r.s.suggestions {
		if sg.MessageID == messageID {
			cp := *sg
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *SuggestionRepo) Create(_ context.Context, sg *model.Suggestion) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.suggestions {
		if existing.MessageID == sg.MessageID {
			return false, nil
		}
	}
	cp := *sg
	r.s.suggestions[sg.ID] = &cp
	return true, nil
}

func (r *SuggestionRepo) MarkSent(_ context.Context, id string, editedText *string, outbound *model.Message) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sg, ok := r.s.suggestions[id]
	if !ok || sg.Status != model.SuggestionPending {
		return repository.ErrNotPending
	}
	sg.Status = model.SuggestionSent
	sg.EditedText = editedText
	sg.UpdatedAt = time.Now()
	if outbound != nil {
		cp := *outbound
		r.s.messages[outbound.ID] = &cp
		if c, ok := r.s.conversations[outbound.ConversationID]; ok && outbound.SentAt.After(c.LastMessageAt) {
			c.LastMessageAt = outbound.SentAt
		}
	}
	return nil
}

func (r *SuggestionRepo) MarkRejected(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sg, ok := r.s.suggestions[id]
	if !ok || sg.Status != model.SuggestionPending {
		return repository.ErrNotPending
	}
	sg.Status = model.SuggestionRejected
	sg.UpdatedAt = time.Now()
	return nil
}

func (r *SuggestionRepo) ListByUserID(_ context.Context, userID string, status model.SuggestionStatus, limit int) ([]*model.SuggestionView, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.SuggestionView
	for _, sg := range r.s.suggestions {
		if sg.Status != status {
			continue
		}
		m, ok := r.s.messages[sg.MessageID]
		if !ok {
			continue
		}
		c, ok := r.s.conversations[m.ConversationID]
		if !ok {
			continue
		}
		a, ok := r.s.accounts[c.AccountID]
		if !ok || a.UserID != userID {
			continue
		}
		out = append(out, &model.SuggestionView{
			Suggestion:     *sg,
			ConversationID: c.ID,
			AccountID:      c.AccountID,
			Participant:    c.Participant,
			MessageContent: m.Content,
			MessageSentAt:  m.SentAt,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SyncRunRepo implements repository.SyncRunRepository.
type SyncRunRepo struct{ s *Store }

func (r *SyncRunRepo) Create(_ context.Context, run *model.SyncRun) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *run
	r.s.syncRuns = append(r.s.syncRuns, &cp)
	return nil
}

func (r *SyncRunRepo) ListRecent(_ context.Context, limit int) ([]*model.SyncRun, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.SyncRun
	for i := len(r.s.syncRuns) - 1; i >= 0; i-- {
		cp := *r.s.syncRuns[i]
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
