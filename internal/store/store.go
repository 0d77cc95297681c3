// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/Amoako419/Agentic-coder/internal/domain"
)

// Repository defines the interface for persisting user and conversation data.
type Repository interface {
	// GetUser retrieves a user by their user ID.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// GetChatSession retrieves assistant session state for a user+session pair.
	// Returns nil without error when no session exists yet.
	GetChatSession(ctx context.Context, userID, sessionID string) (*domain.ChatSession, error)

	// UpsertChatSession creates or updates assistant session state.
	UpsertChatSession(ctx context.Context, session *domain.ChatSession) error

	// DeleteChatSession removes assistant session state for a user+session pair.
	DeleteChatSession(ctx context.Context, userID, sessionID string) error

	// CleanupExpiredSessions removes chat sessions older than TTL.
	CleanupExpiredSessions(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
