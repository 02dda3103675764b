// Package console owns the chat sessions of the operator console: their
// records, the cancellable work each one runs against the backend (history
// loads, turns, job polls, summary stabilization) and the change stream the
// UI renders from.
package console

import (
	"context"
	"errors"
	"strings"
	"time"

	"ragconsole/internal/backend"
)

var ErrUnknownSession = errors.New("unknown session")

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

type Message struct {
	Role    Role
	Content string
}

// Stage is the cosmetic progress label of an in-flight turn.
type Stage string

const (
	StageNone     Stage = "none"
	StageSearch   Stage = "search"
	StagePrompt   Stage = "prompt"
	StageGenerate Stage = "generate"
)

type SummaryStatus string

const (
	SummaryIdle    SummaryStatus = "idle"
	SummaryWaiting SummaryStatus = "waiting"
	SummaryReady   SummaryStatus = "ready"
	SummaryError   SummaryStatus = "error"
)

// Session is an immutable snapshot. The registry swaps in a fresh record on
// every change, so callers may hold onto one without locking.
type Session struct {
	ID             string
	ConversationID string
	Draft          string
	Messages       []Message
	Sending        bool
	Stage          Stage
	Summary        string
	SummaryStatus  SummaryStatus
	Error          string
	JobID          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (s *Session) clone() *Session {
	next := *s
	next.Messages = append([]Message(nil), s.Messages...)
	return &next
}

// normalize restores the record invariants after a mutation.
func (s *Session) normalize() {
	if !s.Sending {
		s.Stage = StageNone
		s.JobID = ""
	}
	if s.SummaryStatus == SummaryReady && strings.TrimSpace(s.Summary) == "" {
		s.SummaryStatus = SummaryWaiting
	}
}

// Backend is the slice of the HTTP API the sessions depend on.
type Backend interface {
	History(ctx context.Context, conversationID string) ([]backend.HistoryItem, error)
	Summary(ctx context.Context, conversationID string) (string, error)
	Send(ctx context.Context, req backend.SendRequest) (string, error)
	Poll(ctx context.Context, jobID string) (backend.Job, error)
	RuntimeConfig(ctx context.Context) (backend.RuntimeConfig, error)
}

func toMessages(items []backend.HistoryItem) []Message {
	out := make([]Message, 0, len(items))
	for _, item := range items {
		role := Role(strings.ToLower(strings.TrimSpace(item.Role)))
		switch role {
		case RoleUser, RoleAssistant, RoleSystem:
		default:
			role = RoleSystem
		}
		out = append(out, Message{Role: role, Content: item.Content})
	}
	return out
}
