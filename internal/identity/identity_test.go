package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Amoako419/Agentic-coder/internal/domain"
)

// fakeRepo implements the subset of store.Repository the middleware touches.
type fakeRepo struct {
	mu    sync.Mutex
	users map[string]*domain.User
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{users: make(map[string]*domain.User)}
}

func (f *fakeRepo) GetUser(_ context.Context, userID string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users[userID], nil
}

func (f *fakeRepo) UpsertUser(_ context.Context, user *domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[user.UserID] = user
	return nil
}

func (f *fakeRepo) UpdateLastSeen(context.Context, string, time.Time) error { return nil }
func (f *fakeRepo) GetChatSession(context.Context, string, string) (*domain.ChatSession, error) {
	return nil, nil
}
func (f *fakeRepo) UpsertChatSession(context.Context, *domain.ChatSession) error { return nil }
func (f *fakeRepo) DeleteChatSession(context.Context, string, string) error      { return nil }
func (f *fakeRepo) CleanupExpiredSessions(context.Context, time.Duration) (int64, error) {
	return 0, nil
}
func (f *fakeRepo) Ping(context.Context) error { return nil }
func (f *fakeRepo) Close() error               { return nil }

func TestMiddlewareEstablishesIdentity(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	var gotUserID, gotSessionID string
	handler := Middleware(repo, true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID = UserIDFromContext(r.Context())
		gotSessionID = SessionIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if !isValidAnonID(gotUserID) {
		t.Errorf("Expected generated anon ID, got %q", gotUserID)
	}
	if gotSessionID != DefaultSessionIDValue {
		t.Errorf("Expected default session ID, got %q", gotSessionID)
	}

	cookies := w.Result().Cookies()
	var found bool
	for _, c := range cookies {
		if c.Name == AnonCookieName && isValidAnonID(c.Value) {
			found = true
		}
	}
	if !found {
		t.Error("Expected anon cookie to be set")
	}

	if repo.users[gotUserID] == nil {
		t.Error("Expected user row to be created")
	}
}

func TestMiddlewareReusesCookie(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	const anonID = "anon_0123456789abcdef0123456789abcdef"

	var gotUserID string
	handler := Middleware(repo, true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID = UserIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: anonID})
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if gotUserID != anonID {
		t.Errorf("Expected cookie identity %q, got %q", anonID, gotUserID)
	}
}

func TestSessionIDFromHeaderAndQuery(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	var gotSessionID string
	handler := Middleware(repo, true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSessionID = SessionIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/assistant/history", nil)
	req.Header.Set(SessionHeaderName, "session_tab-42")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if gotSessionID != "session_tab-42" {
		t.Errorf("Expected header session ID, got %q", gotSessionID)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/assistant/history?session_id=session_q", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if gotSessionID != "session_q" {
		t.Errorf("Expected query session ID, got %q", gotSessionID)
	}

	// Invalid characters fall back to the default session.
	req = httptest.NewRequest(http.MethodGet, "/api/assistant/history", nil)
	req.Header.Set(SessionHeaderName, "bad session id!")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if gotSessionID != DefaultSessionIDValue {
		t.Errorf("Expected default session ID for invalid input, got %q", gotSessionID)
	}
}

func TestSanitizeSessionID(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"", DefaultSessionIDValue},
		{"   ", DefaultSessionIDValue},
		{"session_ok.1:2-3", "session_ok.1:2-3"},
		{"has spaces", DefaultSessionIDValue},
		{"<script>", DefaultSessionIDValue},
		{DefaultSessionIDValue, DefaultSessionIDValue},
	}
	for _, tc := range cases {
		if got := sanitizeSessionID(tc.in); got != tc.want {
			t.Errorf("sanitizeSessionID(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
