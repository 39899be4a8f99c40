package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPClient(HTTPClientConfig{
		BaseURL: srv.URL,
		Token:   "gateway-token",
		Timeout: 5 * time.Second,
	}, srv.Client())
}

func TestHTTPClient_Login_Success(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/sessions" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer gateway-token" {
			t.Errorf("Authorization = %q", got)
		}
		var body loginRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body.Username != "shop" || body.Password != "secret" {
			t.Errorf("body = %+v", body)
		}
		json.NewEncoder(w).Encode(loginResponse{SessionToken: "sess-1", UserID: "42"})
	})

	s, err := c.Login(context.Background(), "shop", "secret")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if s.Token != "sess-1" || s.RemoteUserID != "42" {
		t.Errorf("session = %+v", s)
	}
}

func TestHTTPClient_Login_ClassifiesErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		header map[string]string
		check  func(error) bool
	}{
		{
			name:   "bad password",
			status: http.StatusUnauthorized,
			body:   `{"code":"bad_password","message":"wrong password"}`,
			check:  IsAuthentication,
		},
		{
			name:   "two factor",
			status: http.StatusUnauthorized,
			body:   `{"code":"two_factor_required"}`,
			check:  IsTwoFactor,
		},
		{
			name:   "checkpoint",
			status: http.StatusForbidden,
			body:   `{"code":"checkpoint_required"}`,
			check:  IsTwoFactor,
		},
		{
			name:   "throttled",
			status: http.StatusTooManyRequests,
			body:   `{"message":"slow down"}`,
			header: map[string]string{"Retry-After": "7"},
			check:  IsRateLimited,
		},
		{
			name:   "server error",
			status: http.StatusBadGateway,
			body:   `oops`,
			check: func(err error) bool {
				var pe *ProviderError
				return errors.As(err, &pe) && pe.StatusCode == http.StatusBadGateway
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.header {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			_, err := c.Login(context.Background(), "shop", "secret")
			if err == nil {
				t.Fatal("expected an error")
			}
			if !tt.check(err) {
				t.Errorf("unexpected classification: %T %v", err, err)
			}
		})
	}
}

func TestHTTPClient_RateLimit_ParsesRetryAfter(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.ListInboxThreads(context.Background(), &Session{Token: "sess"})
	var rl *RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
	if rl.RetryAfter != 7*time.Second {
		t.Errorf("RetryAfter = %v, want 7s", rl.RetryAfter)
	}
}

func TestHTTPClient_ListInboxThreads_SendsSessionToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Session-Token"); got != "sess" {
			t.Errorf("X-Session-Token = %q, want sess", got)
		}
		w.Write([]byte(`{"threads":[
			{"id":"t1","participant":{"id":"9","username":"alice"},"last_item":{"timestamp":1700000000}},
			{"id":"t2","participant":{"id":"10","username":""}}
		]}`))
	})

	threads, err := c.ListInboxThreads(context.Background(), &Session{Token: "sess"})
	if err != nil {
		t.Fatalf("ListInboxThreads() error = %v", err)
	}
	if len(threads) != 2 {
		t.Fatalf("len(threads) = %d, want 2", len(threads))
	}
	if threads[0].Identity() != "alice" {
		t.Errorf("Identity() = %q, want alice", threads[0].Identity())
	}
	if threads[0].LastItem == nil || threads[0].LastItem.Timestamp.Value != 1700000000 {
		t.Errorf("LastItem = %+v", threads[0].LastItem)
	}
	if threads[1].Identity() != "10" {
		t.Errorf("Identity() without username = %q, want participant id", threads[1].Identity())
	}
}

func TestHTTPClient_ListThreadMessages_DecodesMixedTimestamps(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/threads/t1/items" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("cursor"); got != "abc" {
			t.Errorf("cursor = %q, want abc", got)
		}
		w.Write([]byte(`{"items":[
			{"id":"i1","type":"text","text":"hi","sender_id":"9","timestamp":"1700000000000"},
			{"id":"i2","type":"text","text":"yo","sender_id":"9","timestamp":1700000001},
			{"id":"i3","type":"media_share","sender_id":"9","timestamp":"not-a-number"}
		],"next_cursor":"def","has_more":true}`))
	})

	page, err := c.ListThreadMessages(context.Background(), &Session{Token: "sess"}, "t1", "abc")
	if err != nil {
		t.Fatalf("ListThreadMessages() error = %v", err)
	}
	if len(page.Items) != 3 || !page.HasMore || page.NextCursor != "def" {
		t.Fatalf("page = %+v", page)
	}
	if !page.Items[0].Timestamp.Valid || page.Items[0].Timestamp.Value != 1700000000000 {
		t.Errorf("string timestamp = %+v", page.Items[0].Timestamp)
	}
	if !page.Items[1].Timestamp.Valid || page.Items[1].Timestamp.Value != 1700000001 {
		t.Errorf("number timestamp = %+v", page.Items[1].Timestamp)
	}
	if page.Items[2].Timestamp.Valid {
		t.Errorf("garbage timestamp should be invalid, got %+v", page.Items[2].Timestamp)
	}
	if page.Items[2].IsText() {
		t.Error("media item should not be text")
	}
}

func TestHTTPClient_SendMessage(t *testing.T) {
	var got sendRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/threads/t1/items" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusCreated)
	})

	if err := c.SendMessage(context.Background(), &Session{Token: "sess"}, "t1", "thanks!"); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if got.Text != "thanks!" {
		t.Errorf("sent text = %q", got.Text)
	}
}

func TestHTTPClient_PerCallTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewHTTPClient(HTTPClientConfig{BaseURL: srv.URL, Timeout: 50 * time.Millisecond}, srv.Client())

	start := time.Now()
	_, err := c.ListInboxThreads(context.Background(), &Session{Token: "sess"})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("call took %v, timeout was not applied", elapsed)
	}
	if Kind(err) != "provider" {
		t.Errorf("Kind() = %q, want provider", Kind(err))
	}
}

func TestKind(t *testing.T) {
	if Kind(&AuthenticationError{}) != "authentication" {
		t.Error("authentication kind")
	}
	if !IsAccountFatal(&TwoFactorRequiredError{}) {
		t.Error("two factor should be account fatal")
	}
	if IsAccountFatal(&RateLimitError{}) {
		t.Error("rate limit should not be account fatal")
	}
	if Kind(nil) != "" {
		t.Error("nil kind should be empty")
	}
}
