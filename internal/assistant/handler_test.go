package assistant

import (
	"bufio"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Amoako419/Agentic-coder/internal/config"
	"github.com/Amoako419/Agentic-coder/internal/identity"
)

func newTestConfig() *config.Config {
	return &config.Config{
		RateLimit: config.RateLimitConfig{
			RequestsPerWindow: 100,
			WindowDuration:    time.Minute,
		},
		SSE: config.SSEConfig{
			MaxRequestBodySize: 1 << 20,
		},
	}
}

func newTestServer(t *testing.T, gen *scriptedGenerator, cfg *config.Config) (*httptest.Server, *memoryRepo) {
	t.Helper()

	repo := newMemoryRepo()
	pipeline := NewPipeline(gen, repo, "test-model")
	svc, err := NewService(pipeline)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	handler := NewHandler(svc, repo, nil, cfg)
	t.Cleanup(handler.Close)

	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo, true))
		handler.RegisterRoutes(r)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, repo
}

type sseEvent struct {
	Event string
	Data  string
}

func readSSEEvents(t *testing.T, body *http.Response) []sseEvent {
	t.Helper()
	var events []sseEvent
	var current sseEvent
	scanner := bufio.NewScanner(body.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			current.Event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			current.Data = strings.TrimPrefix(line, "data: ")
		case line == "":
			if current.Event != "" || current.Data != "" {
				events = append(events, current)
				current = sseEvent{}
			}
		}
	}
	return events
}

func postChat(t *testing.T, client *http.Client, url, message string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url+"/api/assistant/chat", strings.NewReader(`{"message":`+jsonString(message)+`}`))
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(identity.SessionHeaderName, "tab-1")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("chat request failed: %v", err)
	}
	return resp
}

func jsonString(s string) string {
	data, _ := json.Marshal(s)
	return string(data)
}

func newClientWithCookies(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	return &http.Client{Jar: jar}
}

func TestHandleChatStreamsStageEvents(t *testing.T) {
	t.Parallel()

	gen := &scriptedGenerator{outputs: defaultOutputs()}
	srv, _ := newTestServer(t, gen, newTestConfig())
	client := newClientWithCookies(t)

	resp := postChat(t, client, srv.URL, "write binary search")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q, want text/event-stream", ct)
	}

	events := readSSEEvents(t, resp)
	if len(events) != 5 {
		t.Fatalf("expected 5 SSE events, got %d: %+v", len(events), events)
	}
	for _, ev := range events {
		if ev.Event != "message" {
			t.Fatalf("unexpected event type %q", ev.Event)
		}
	}

	var final ChatResponse
	if err := json.Unmarshal([]byte(events[4].Data), &final); err != nil {
		t.Fatalf("failed to decode final event: %v", err)
	}
	if !final.Final {
		t.Fatal("expected last event to be final")
	}
	if final.Content != defaultOutputs()[explanationInstruction] {
		t.Fatalf("final content = %q", final.Content)
	}
}

func TestHandleChatRejectsEmptyMessage(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, &scriptedGenerator{outputs: defaultOutputs()}, newTestConfig())
	client := newClientWithCookies(t)

	resp := postChat(t, client, srv.URL, "   ")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHandleChatStreamsRetryAndKeepalives(t *testing.T) {
	t.Parallel()

	cfg := newTestConfig()
	cfg.SSE.KeepaliveInterval = 20 * time.Millisecond
	cfg.SSE.RetryDelay = 3 * time.Second
	gen := &scriptedGenerator{outputs: defaultOutputs(), delay: 100 * time.Millisecond}
	srv, _ := newTestServer(t, gen, cfg)
	client := newClientWithCookies(t)

	resp := postChat(t, client, srv.URL, "hello")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read stream: %v", err)
	}
	body := string(raw)

	if !strings.HasPrefix(body, "retry: 3000\n\n") {
		t.Fatalf("stream does not start with retry field: %q", body[:min(len(body), 40)])
	}
	if !strings.Contains(body, ": keepalive\n\n") {
		t.Fatal("expected keepalive comments while stages were running")
	}
	if got := strings.Count(body, "event: message\n"); got != 5 {
		t.Fatalf("expected 5 message events, got %d", got)
	}
}

func TestHandleChatRejectsOversizedBody(t *testing.T) {
	t.Parallel()

	cfg := newTestConfig()
	cfg.SSE.MaxRequestBodySize = 64
	srv, _ := newTestServer(t, &scriptedGenerator{outputs: defaultOutputs()}, cfg)
	client := newClientWithCookies(t)

	resp := postChat(t, client, srv.URL, strings.Repeat("x", 256))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", resp.StatusCode)
	}
}

func TestHandleChatRateLimitsPerUser(t *testing.T) {
	t.Parallel()

	cfg := newTestConfig()
	cfg.RateLimit.RequestsPerWindow = 1
	srv, _ := newTestServer(t, &scriptedGenerator{outputs: defaultOutputs()}, cfg)
	client := newClientWithCookies(t)

	first := postChat(t, client, srv.URL, "hello")
	readSSEEvents(t, first)
	first.Body.Close()

	second := postChat(t, client, srv.URL, "hello again")
	defer second.Body.Close()
	if second.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", second.StatusCode)
	}
}

func TestHandleChatEmitsErrorEvent(t *testing.T) {
	t.Parallel()

	gen := &scriptedGenerator{outputs: defaultOutputs(), failOn: researchInstruction}
	srv, _ := newTestServer(t, gen, newTestConfig())
	client := newClientWithCookies(t)

	resp := postChat(t, client, srv.URL, "hello")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	events := readSSEEvents(t, resp)
	if len(events) == 0 {
		t.Fatal("expected at least one event")
	}
	last := events[len(events)-1]
	if last.Event != "error" {
		t.Fatalf("last event = %q, want error", last.Event)
	}
	if !strings.Contains(last.Data, "model unavailable") {
		t.Fatalf("error data missing cause: %q", last.Data)
	}
}

func TestHandleHistoryReturnsStoredMessages(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, &scriptedGenerator{outputs: defaultOutputs()}, newTestConfig())
	client := newClientWithCookies(t)

	chat := postChat(t, client, srv.URL, "hello")
	readSSEEvents(t, chat)
	chat.Body.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/assistant/history", nil)
	req.Header.Set(identity.SessionHeaderName, "tab-1")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("history request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		SessionID string `json:"session_id"`
		Messages  []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode history: %v", err)
	}
	if body.SessionID != "tab-1" {
		t.Fatalf("session_id = %q, want tab-1", body.SessionID)
	}
	if len(body.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(body.Messages))
	}
}

func TestHandleResetIssuesNewSessionID(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, &scriptedGenerator{outputs: defaultOutputs()}, newTestConfig())
	client := newClientWithCookies(t)

	chat := postChat(t, client, srv.URL, "hello")
	readSSEEvents(t, chat)
	chat.Body.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/assistant/reset", nil)
	req.Header.Set(identity.SessionHeaderName, "tab-1")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("reset request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode reset response: %v", err)
	}
	if !strings.HasPrefix(body["session_id"], "session_") {
		t.Fatalf("session_id = %q, want session_ prefix", body["session_id"])
	}

	// The old session's history must be gone.
	histReq, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/assistant/history", nil)
	histReq.Header.Set(identity.SessionHeaderName, "tab-1")
	histResp, err := client.Do(histReq)
	if err != nil {
		t.Fatalf("history request failed: %v", err)
	}
	defer histResp.Body.Close()
	var hist struct {
		Messages []any `json:"messages"`
	}
	if err := json.NewDecoder(histResp.Body).Decode(&hist); err != nil {
		t.Fatalf("failed to decode history: %v", err)
	}
	if len(hist.Messages) != 0 {
		t.Fatalf("expected empty history after reset, got %d messages", len(hist.Messages))
	}
}

func TestRateLimiterAllow(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(2, time.Minute)
	if !rl.Allow("u1") || !rl.Allow("u1") {
		t.Fatal("expected first two requests to be allowed")
	}
	if rl.Allow("u1") {
		t.Fatal("expected third request to be rejected")
	}
	if !rl.Allow("u2") {
		t.Fatal("expected a different user to be allowed")
	}
}
