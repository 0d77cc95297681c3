package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/Amoako419/Agentic-coder/internal/domain"
)

func newTestStore(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() {
		if err := repo.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	})
	return repo
}

func TestUserRoundTrip(t *testing.T) {
	t.Parallel()
	repo := newTestStore(t)
	ctx := context.Background()

	got, err := repo.GetUser(ctx, "anon_missing")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if got != nil {
		t.Fatalf("Expected nil for missing user, got %+v", got)
	}

	now := time.Now().Truncate(time.Second)
	user := &domain.User{
		UserID:     "anon_abc",
		Username:   "anon-user",
		LastSeenAt: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := repo.UpsertUser(ctx, user); err != nil {
		t.Fatalf("UpsertUser failed: %v", err)
	}

	got, err = repo.GetUser(ctx, "anon_abc")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if got == nil || got.Username != "anon-user" {
		t.Fatalf("Unexpected user: %+v", got)
	}

	later := now.Add(time.Minute)
	if err := repo.UpdateLastSeen(ctx, "anon_abc", later); err != nil {
		t.Fatalf("UpdateLastSeen failed: %v", err)
	}
	got, err = repo.GetUser(ctx, "anon_abc")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if !got.LastSeenAt.Equal(later) {
		t.Errorf("Expected last_seen %v, got %v", later, got.LastSeenAt)
	}
}

func TestChatSessionRoundTrip(t *testing.T) {
	t.Parallel()
	repo := newTestStore(t)
	ctx := context.Background()

	got, err := repo.GetChatSession(ctx, "anon_abc", "sess-1")
	if err != nil {
		t.Fatalf("GetChatSession failed: %v", err)
	}
	if got != nil {
		t.Fatalf("Expected nil for missing session, got %+v", got)
	}

	session := domain.NewChatSession("anon_abc", "sess-1")
	session.SetStateValue(domain.StateKeyUnderstanding, "build a REST API in Go")
	session.AppendMessage(domain.RoleUser, "How do I build a REST API in Go?")
	session.AppendMessage(domain.RoleAssistant, "Use net/http with chi.")

	if err := repo.UpsertChatSession(ctx, session); err != nil {
		t.Fatalf("UpsertChatSession failed: %v", err)
	}

	got, err = repo.GetChatSession(ctx, "anon_abc", "sess-1")
	if err != nil {
		t.Fatalf("GetChatSession failed: %v", err)
	}
	if got == nil {
		t.Fatal("Expected session, got nil")
	}
	if got.StateValue(domain.StateKeyUnderstanding) != "build a REST API in Go" {
		t.Errorf("Unexpected state value: %q", got.StateValue(domain.StateKeyUnderstanding))
	}
	if len(got.Messages) != 2 || got.Messages[1].Role != domain.RoleAssistant {
		t.Fatalf("Unexpected messages: %+v", got.Messages)
	}

	// Sessions are keyed per tab: a different session ID is independent.
	other, err := repo.GetChatSession(ctx, "anon_abc", "sess-2")
	if err != nil {
		t.Fatalf("GetChatSession failed: %v", err)
	}
	if other != nil {
		t.Fatalf("Expected nil for other session, got %+v", other)
	}
}

func TestDeleteChatSession(t *testing.T) {
	t.Parallel()
	repo := newTestStore(t)
	ctx := context.Background()

	session := domain.NewChatSession("anon_abc", "sess-1")
	session.AppendMessage(domain.RoleUser, "hello")
	if err := repo.UpsertChatSession(ctx, session); err != nil {
		t.Fatalf("UpsertChatSession failed: %v", err)
	}

	if err := repo.DeleteChatSession(ctx, "anon_abc", "sess-1"); err != nil {
		t.Fatalf("DeleteChatSession failed: %v", err)
	}

	got, err := repo.GetChatSession(ctx, "anon_abc", "sess-1")
	if err != nil {
		t.Fatalf("GetChatSession failed: %v", err)
	}
	if got != nil {
		t.Fatalf("Expected session deleted, got %+v", got)
	}

	// Deleting a missing session is not an error.
	if err := repo.DeleteChatSession(ctx, "anon_abc", "sess-1"); err != nil {
		t.Fatalf("DeleteChatSession on missing session failed: %v", err)
	}
}

func TestCleanupExpiredSessions(t *testing.T) {
	t.Parallel()
	repo := newTestStore(t)
	ctx := context.Background()

	session := domain.NewChatSession("anon_abc", "sess-1")
	if err := repo.UpsertChatSession(ctx, session); err != nil {
		t.Fatalf("UpsertChatSession failed: %v", err)
	}

	// Nothing is older than an hour yet.
	deleted, err := repo.CleanupExpiredSessions(ctx, time.Hour)
	if err != nil {
		t.Fatalf("CleanupExpiredSessions failed: %v", err)
	}
	if deleted != 0 {
		t.Errorf("Expected 0 deleted, got %d", deleted)
	}

	// Unix-second timestamps: sleep past the TTL with margin for truncation.
	time.Sleep(2100 * time.Millisecond)
	deleted, err = repo.CleanupExpiredSessions(ctx, time.Second)
	if err != nil {
		t.Fatalf("CleanupExpiredSessions failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("Expected 1 deleted, got %d", deleted)
	}
}
