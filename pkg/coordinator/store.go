package coordinator

import (
	"context"
	"time"
)

// AgentPatch is a partial update to a persisted agent row. Nil fields are
// left unchanged.
type AgentPatch struct {
	State       *string
	CurrentTask *string
	Progress    *int
	Error       *string
}

// AgentRecord is the persisted view of one worker.
type AgentRecord struct {
	ID          string
	SessionID   string
	Name        string
	State       string
	CurrentTask string
	Progress    int
	Error       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SessionStore persists session and worker state so progress survives a
// restart. Store failures never fail the session; the coordinator retries
// with backoff and then marks the session degraded.
type SessionStore interface {
	CreateSession(ctx context.Context, id, goal string, info map[string]any) error
	CreateAgent(ctx context.Context, id, sessionID, name string, info map[string]any) error
	UpdateAgent(ctx context.Context, id string, patch AgentPatch) error
	FinishSession(ctx context.Context, id string, outcome string) error
	GetSessionAgents(ctx context.Context, sessionID string) ([]AgentRecord, error)
}

func strPtr(s string) *string { return &s }
func intPtr(n int) *int       { return &n }
