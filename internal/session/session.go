// Package session stores per-conversation chat history so follow-up
// questions carry context into the synthesis prompts.
package session

import (
	"context"
	"time"
)

// Turn is one stored exchange of a conversation.
type Turn struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// Store keeps a bounded history per session.
type Store interface {
	// EnsureSession validates an incoming session ID, minting a fresh one
	// when it is empty or unknown.
	EnsureSession(ctx context.Context, id string) (string, error)

	// Append records turns at the end of the session history, trimming the
	// front past the retention limit.
	Append(ctx context.Context, sessionID string, turns ...Turn) error

	// Recent returns up to n most recent turns, oldest first.
	Recent(ctx context.Context, sessionID string, n int) ([]Turn, error)
}
