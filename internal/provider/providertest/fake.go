// Package providertest provides a scripted in-memory provider.Client for tests.
package providertest

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/tidic84/InstaAi/internal/provider"
)

// SentMessage records one SendMessage call.
type SentMessage struct {
	Username string
	ThreadID string
	Text     string
}

type fakeThread struct {
	thread provider.Thread
	pages  [][]provider.Item
}

// Fake is a provider.Client whose inboxes are set up by the test.
// Sessions carry the username as their token so later calls know whose inbox to serve.
type Fake struct {
	mu sync.Mutex

	threads    map[string][]*fakeThread
	remoteIDs  map[string]string
	loginErrs  map[string][]error
	inboxErrs  map[string]error
	sendErr    error
	loginCalls map[string]int
	pageCalls  map[string]int
	sent       []SentMessage
}

// NewFake creates an empty Fake.
func NewFake() *Fake {
	return &Fake{
		threads:    make(map[string][]*fakeThread),
		remoteIDs:  make(map[string]string),
		loginErrs:  make(map[string][]error),
		inboxErrs:  make(map[string]error),
		loginCalls: make(map[string]int),
		pageCalls:  make(map[string]int),
	}
}

var _ provider.Client = (*Fake)(nil)

// SetRemoteUserID sets the remote user id returned on login for username.
func (f *Fake) SetRemoteUserID(username, remoteID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remoteIDs[username] = remoteID
}

// FailLogin queues errors returned by the next logins of username, one per call.
func (f *Fake) FailLogin(username string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loginErrs[username] = append(f.loginErrs[username], errs...)
}

// FailInbox makes ListInboxThreads fail for username.
func (f *Fake) FailInbox(username string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inboxErrs[username] = err
}

// FailSend makes every SendMessage call fail with err. Nil clears it.
func (f *Fake) FailSend(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
}

// SetThread adds or replaces a thread in username's inbox. Each pages entry is one page of items.
// Every page but the last reports more, so an empty entry scripts an empty page that still has a cursor.
func (f *Fake) SetThread(username string, thread provider.Thread, pages ...[]provider.Item) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.threads[username] {
		if t.thread.ID == thread.ID {
			t.thread = thread
			t.pages = pages
			return
		}
	}
	f.threads[username] = append(f.threads[username], &fakeThread{thread: thread, pages: pages})
}

// LoginCalls returns how many times username logged in.
func (f *Fake) LoginCalls(username string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loginCalls[username]
}

// PageCalls returns how many pages of threadID were fetched.
func (f *Fake) PageCalls(threadID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pageCalls[threadID]
}

// Sent returns the messages sent so far.
func (f *Fake) Sent() []SentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]SentMessage, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *Fake) Login(_ context.Context, username, _ string) (*provider.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loginCalls[username]++
	if errs := f.loginErrs[username]; len(errs) > 0 {
		f.loginErrs[username] = errs[1:]
		return nil, errs[0]
	}
	remoteID := f.remoteIDs[username]
	if remoteID == "" {
		remoteID = "remote-" + username
	}
	return &provider.Session{RemoteUserID: remoteID, Token: username, CreatedAt: time.Now()}, nil
}

func (f *Fake) ListInboxThreads(_ context.Context, s *provider.Session) ([]provider.Thread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.inboxErrs[s.Token]; err != nil {
		return nil, err
	}
	threads := make([]provider.Thread, 0, len(f.threads[s.Token]))
	for _, t := range f.threads[s.Token] {
		threads = append(threads, t.thread)
	}
	return threads, nil
}

// ListThreadMessages serves the scripted pages. Cursors are page indexes.
func (f *Fake) ListThreadMessages(_ context.Context, s *provider.Session, threadID, cursor string) (*provider.MessagePage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pageCalls[threadID]++

	var ft *fakeThread
	for _, t := range f.threads[s.Token] {
		if t.thread.ID == threadID {
			ft = t
		}
	}
	if ft == nil {
		return nil, &provider.ProviderError{StatusCode: 404, Code: "not_found", Message: "thread not found"}
	}

	idx := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil {
			return nil, &provider.ProviderError{StatusCode: 400, Message: "bad cursor"}
		}
		idx = n
	}
	if idx >= len(ft.pages) {
		return &provider.MessagePage{}, nil
	}

	page := &provider.MessagePage{Items: append([]provider.Item(nil), ft.pages[idx]...)}
	if idx+1 < len(ft.pages) {
		page.HasMore = true
		page.NextCursor = strconv.Itoa(idx + 1)
	}
	return page, nil
}

func (f *Fake) SendMessage(_ context.Context, s *provider.Session, threadID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, SentMessage{Username: s.Token, ThreadID: threadID, Text: text})
	return nil
}

// TextItem builds a text item sent at unix seconds ts.
func TextItem(id, senderID, text string, ts int64) provider.Item {
	return provider.Item{
		ID:        id,
		Type:      provider.ItemTypeText,
		Text:      text,
		SenderID:  senderID,
		Timestamp: provider.TimestampOf(ts),
	}
}
