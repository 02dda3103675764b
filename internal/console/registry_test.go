package console

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragconsole/internal/backend"
)

const waitFor = 2 * time.Second

func newTestRegistry(t *testing.T, b *scriptedBackend) *Registry {
	t.Helper()
	reg := NewRegistry(b, testTimings())
	t.Cleanup(reg.Close)
	return reg
}

func mustGet(t *testing.T, reg *Registry, id string) *Session {
	t.Helper()
	s, ok := reg.Get(id)
	require.True(t, ok, "session %s missing", id)
	return s
}

// addLoaded adds a session and waits until its first load found a summary.
func addLoaded(t *testing.T, reg *Registry) string {
	t.Helper()
	id := reg.AddSession()
	require.NotEmpty(t, id)
	require.Eventually(t, func() bool {
		return mustGet(t, reg, id).SummaryStatus == SummaryReady
	}, waitFor, time.Millisecond)
	return id
}

func hasToken(reg *Registry, id string, kind opKind) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	res, ok := reg.resources[id]
	return ok && res.tokens[kind] != nil
}

func TestAddSessionDefaults(t *testing.T) {
	b := newScriptedBackend()
	b.defaultSummary = "S"
	reg := newTestRegistry(t, b)

	first := reg.AddSession()
	second := reg.AddSession()
	require.NotEqual(t, first, second)

	list := reg.List()
	require.Len(t, list, 2)
	assert.Equal(t, first, list[0].ID)
	assert.Equal(t, second, list[1].ID)
	for _, s := range list {
		assert.True(t, strings.HasPrefix(s.ConversationID, conversationPrefix))
		assert.False(t, s.Sending)
		assert.Equal(t, StageNone, s.Stage)
	}
	assert.NotEqual(t, list[0].ConversationID, list[1].ConversationID)

	require.Eventually(t, func() bool {
		return mustGet(t, reg, first).SummaryStatus == SummaryReady
	}, waitFor, time.Millisecond)
	assert.Equal(t, "S", mustGet(t, reg, first).Summary)
	assert.Equal(t, 1, b.historyCount(list[0].ConversationID))
}

func TestLoadSupersession(t *testing.T) {
	b := newScriptedBackend()
	releaseA := make(chan struct{})
	b.historyHook = func(ctx context.Context, conversationID string) ([]backend.HistoryItem, error) {
		switch conversationID {
		case "conv-a":
			// Resolves late and ignores cancellation, like a slow network call.
			<-releaseA
			return []backend.HistoryItem{{Role: "user", Content: "from A"}}, nil
		case "conv-b":
			return []backend.HistoryItem{{Role: "user", Content: "from B"}}, nil
		}
		return nil, nil
	}
	b.queueSummaries("conv-a", "summary A")
	b.queueSummaries("conv-b", "summary B")
	reg := newTestRegistry(t, b)

	id := reg.AddSession()
	require.NoError(t, reg.SetConversationID(id, "conv-a"))
	require.Eventually(t, func() bool { return b.historyCount("conv-a") == 1 }, waitFor, time.Millisecond)

	require.NoError(t, reg.SetConversationID(id, "conv-b"))
	require.Eventually(t, func() bool {
		return mustGet(t, reg, id).SummaryStatus == SummaryReady
	}, waitFor, time.Millisecond)

	close(releaseA)
	time.Sleep(30 * time.Millisecond)

	s := mustGet(t, reg, id)
	assert.Equal(t, []Message{{Role: RoleUser, Content: "from B"}}, s.Messages)
	assert.Equal(t, "summary B", s.Summary)
	assert.Equal(t, 0, b.summaryCount("conv-a"))
}

func TestHistoryFailureFailsOpen(t *testing.T) {
	b := newScriptedBackend()
	b.defaultSummary = "S"
	b.historyHook = func(ctx context.Context, conversationID string) ([]backend.HistoryItem, error) {
		return nil, &backend.APIError{StatusCode: 502, Message: "Failed to call history"}
	}
	reg := newTestRegistry(t, b)

	id := addLoaded(t, reg)
	s := mustGet(t, reg, id)
	assert.Empty(t, s.Messages)
	assert.Empty(t, s.Error)
}

func TestLoaderWaitsForSummary(t *testing.T) {
	b := newScriptedBackend()
	b.historyHook = func(ctx context.Context, conversationID string) ([]backend.HistoryItem, error) {
		return []backend.HistoryItem{
			{Role: "user", Content: "q"},
			{Role: "assistant", Content: "a"},
			{Role: "tool", Content: "odd"},
		}, nil
	}
	reg := newTestRegistry(t, b)
	id := reg.AddSession()
	require.NoError(t, reg.SetConversationID(id, "conv-x"))
	b.queueSummaries("conv-x", "", "", "  S  ")

	require.Eventually(t, func() bool {
		return mustGet(t, reg, id).SummaryStatus == SummaryReady
	}, waitFor, time.Millisecond)
	s := mustGet(t, reg, id)
	assert.Equal(t, "S", s.Summary)
	assert.Equal(t, []Message{
		{Role: RoleUser, Content: "q"},
		{Role: RoleAssistant, Content: "a"},
		{Role: RoleSystem, Content: "odd"},
	}, s.Messages)

	calls := b.summaryCount("conv-x")
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, b.summaryCount("conv-x"), "loader kept polling after a ready summary")
}

func TestLoaderBudgetLeavesWaiting(t *testing.T) {
	b := newScriptedBackend()
	timings := testTimings()
	timings.SummaryBudget = 30 * time.Millisecond
	reg := NewRegistry(b, timings)
	t.Cleanup(reg.Close)

	id := reg.AddSession()
	require.Eventually(t, func() bool {
		return mustGet(t, reg, id).SummaryStatus == SummaryWaiting && !hasToken(reg, id, opLoad)
	}, waitFor, time.Millisecond)
	s := mustGet(t, reg, id)
	assert.Empty(t, s.Summary)
	assert.Empty(t, s.Error)
}

func TestClearingConversationIDCancelsLoad(t *testing.T) {
	b := newScriptedBackend()
	timings := testTimings()
	timings.LoadDebounce = 20 * time.Millisecond
	reg := NewRegistry(b, timings)
	t.Cleanup(reg.Close)
	id := reg.AddSession()

	require.NoError(t, reg.SetConversationID(id, "conv-a"))
	require.NoError(t, reg.SetConversationID(id, "   "))
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, 0, b.historyCount("conv-a"))
	assert.False(t, hasToken(reg, id, opLoad))
	assert.ErrorIs(t, reg.SetConversationID("missing", "x"), ErrUnknownSession)
	assert.ErrorIs(t, reg.SetDraft("missing", "x"), ErrUnknownSession)
}

func TestSessionIsolation(t *testing.T) {
	b := newScriptedBackend()
	b.defaultSummary = "S"
	b.jobs = []backend.Job{{Status: backend.JobError, Error: "boom"}}
	reg := newTestRegistry(t, b)

	a := addLoaded(t, reg)
	other := addLoaded(t, reg)
	before := mustGet(t, reg, other)

	require.NoError(t, reg.SetDraft(a, "hello"))
	require.True(t, reg.Submit(a))
	require.Eventually(t, func() bool {
		s := mustGet(t, reg, a)
		return !s.Sending && s.Error != ""
	}, waitFor, time.Millisecond)
	require.NoError(t, reg.SetConversationID(a, "conv-elsewhere"))
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, "", mustGet(t, reg, a).Draft)
	assert.Same(t, before, mustGet(t, reg, other))
}

func TestRemoveSessionCancelsWork(t *testing.T) {
	b := newScriptedBackend()
	b.defaultSummary = "S"
	var pollCtx context.Context
	var mu sync.Mutex
	b.pollHook = func(ctx context.Context, call int) (backend.Job, error) {
		mu.Lock()
		pollCtx = ctx
		mu.Unlock()
		return pending(), nil
	}
	reg := newTestRegistry(t, b)
	events, err := reg.Events().Subscribe(context.Background())
	require.NoError(t, err)

	id := addLoaded(t, reg)
	require.NoError(t, reg.SetDraft(id, "hang"))
	require.True(t, reg.Submit(id))
	require.Eventually(t, func() bool { return b.polls() > 2 }, waitFor, time.Millisecond)

	require.True(t, reg.RemoveSession(id))
	require.False(t, reg.RemoveSession(id))

	_, ok := reg.Get(id)
	assert.False(t, ok)
	assert.Empty(t, reg.List())

	mu.Lock()
	ctx := pollCtx
	mu.Unlock()
	require.Error(t, ctx.Err())

	time.Sleep(10 * time.Millisecond)
	settled := b.polls()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, settled, b.polls(), "job poll survived session removal")

	require.Eventually(t, func() bool {
		for {
			select {
			case ev := <-events:
				if ev.Type == EventRemoved && ev.SessionID == id {
					return true
				}
			default:
				return false
			}
		}
	}, waitFor, time.Millisecond)
}

func TestCloseStopsEverything(t *testing.T) {
	b := newScriptedBackend()
	b.pollHook = func(ctx context.Context, call int) (backend.Job, error) {
		return pending(), nil
	}
	reg := NewRegistry(b, testTimings())
	id := reg.AddSession()
	require.NoError(t, reg.SetDraft(id, "x"))
	require.True(t, reg.Submit(id))

	closed := make(chan struct{})
	go func() {
		reg.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(waitFor):
		t.Fatal("Close did not return")
	}
	assert.Empty(t, reg.AddSession())
	assert.False(t, reg.Submit(id))
}

func TestIDGeneratorFallsBackWhenRandomFails(t *testing.T) {
	ids := NewIDGenerator()
	ids.random = func() (uuid.UUID, error) {
		return uuid.Nil, errors.New("entropy unavailable")
	}

	first := ids.ConversationID()
	second := ids.ConversationID()
	require.True(t, strings.HasPrefix(first, conversationPrefix))
	assert.NotEqual(t, first, second)

	parsed, err := uuid.Parse(strings.TrimPrefix(first, conversationPrefix))
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(4), parsed.Version())
	assert.Equal(t, uuid.RFC4122, parsed.Variant())
}

func TestSessionIDsAreUnique(t *testing.T) {
	ids := NewIDGenerator()
	seen := map[string]bool{}
	for i := 0; i < 1000; i++ {
		id := ids.SessionID()
		require.False(t, seen[id], "duplicate session id %s", id)
		seen[id] = true
	}
}

func TestSubmitDuringLoadKeepsTurn(t *testing.T) {
	b := newScriptedBackend()
	b.defaultSummary = "S"
	releaseHistory := make(chan struct{})
	b.historyHook = func(ctx context.Context, conversationID string) ([]backend.HistoryItem, error) {
		select {
		case <-releaseHistory:
			return []backend.HistoryItem{
				{Role: "user", Content: "earlier q"},
				{Role: "assistant", Content: "earlier a"},
			}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	releaseJob := make(chan struct{})
	b.pollHook = func(ctx context.Context, call int) (backend.Job, error) {
		select {
		case <-releaseJob:
			return done("fresh answer"), nil
		case <-ctx.Done():
			return backend.Job{}, ctx.Err()
		}
	}
	reg := newTestRegistry(t, b)

	id := reg.AddSession()
	conversationID := mustGet(t, reg, id).ConversationID
	require.Eventually(t, func() bool { return b.historyCount(conversationID) == 1 }, waitFor, time.Millisecond)

	require.NoError(t, reg.SetDraft(id, "new q"))
	require.True(t, reg.Submit(id))
	close(releaseHistory)
	require.Eventually(t, func() bool { return len(mustGet(t, reg, id).Messages) == 3 }, waitFor, time.Millisecond)

	close(releaseJob)
	require.Eventually(t, func() bool { return !mustGet(t, reg, id).Sending }, waitFor, time.Millisecond)
	assert.Equal(t, []Message{
		{Role: RoleUser, Content: "earlier q"},
		{Role: RoleAssistant, Content: "earlier a"},
		{Role: RoleUser, Content: "new q"},
		{Role: RoleAssistant, Content: "fresh answer"},
	}, mustGet(t, reg, id).Messages)
}

func TestMergeTranscript(t *testing.T) {
	history := []Message{
		{Role: RoleUser, Content: "a"},
		{Role: RoleAssistant, Content: "b"},
		{Role: RoleUser, Content: "c"},
	}
	tail := []Message{
		{Role: RoleUser, Content: "c"},
		{Role: RoleAssistant, Content: "d"},
	}
	assert.Equal(t, append(append([]Message(nil), history...), tail[1]), mergeTranscript(history, tail))
	assert.Equal(t, history, mergeTranscript(history, nil))
	assert.Equal(t, tail, mergeTranscript(nil, tail))

	inFlight := &Session{Sending: true, Messages: append(append([]Message(nil), history...), tail[1])}
	assert.Equal(t, []Message{{Role: RoleUser, Content: "c"}, {Role: RoleAssistant, Content: "d"}}, pendingTurn(inFlight))
	inFlight.Sending = false
	assert.Nil(t, pendingTurn(inFlight))
}
