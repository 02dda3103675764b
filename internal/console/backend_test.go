package console

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"ragconsole/internal/backend"
	"ragconsole/internal/config"
)

func testTimings() config.Timings {
	return config.Timings{
		LoadDebounce:        time.Millisecond,
		SummaryPollInterval: 2 * time.Millisecond,
		SummaryBudget:       300 * time.Millisecond,
		StageTick:           5 * time.Millisecond,
		JobPollInterval:     time.Millisecond,
		StabilizeDelay:      time.Millisecond,
		ConfigDebounce:      5 * time.Millisecond,
	}
}

// scriptedBackend answers from in-memory scripts. Summary queues are per
// conversation and their last value is sticky.
type scriptedBackend struct {
	mu             sync.Mutex
	historyHook    func(ctx context.Context, conversationID string) ([]backend.HistoryItem, error)
	historyCalls   map[string]int
	defaultSummary string
	summaries      map[string][]string
	summaryCalls   map[string]int
	pipeline       string
	runtimeErr     error
	sendErr        error
	sent           []backend.SendRequest
	jobs           []backend.Job
	pollHook       func(ctx context.Context, call int) (backend.Job, error)
	pollCalls      int
}

func newScriptedBackend() *scriptedBackend {
	return &scriptedBackend{
		historyCalls: map[string]int{},
		summaries:    map[string][]string{},
		summaryCalls: map[string]int{},
	}
}

func (b *scriptedBackend) History(ctx context.Context, conversationID string) ([]backend.HistoryItem, error) {
	b.mu.Lock()
	b.historyCalls[conversationID]++
	hook := b.historyHook
	b.mu.Unlock()
	if hook != nil {
		return hook(ctx, conversationID)
	}
	return nil, ctx.Err()
}

func (b *scriptedBackend) Summary(ctx context.Context, conversationID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.summaryCalls[conversationID]++
	queue := b.summaries[conversationID]
	if len(queue) == 0 {
		return b.defaultSummary, nil
	}
	value := queue[0]
	if len(queue) > 1 {
		b.summaries[conversationID] = queue[1:]
	}
	return value, nil
}

func (b *scriptedBackend) Send(ctx context.Context, req backend.SendRequest) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sendErr != nil {
		return "", b.sendErr
	}
	b.sent = append(b.sent, req)
	return "job-1", nil
}

func (b *scriptedBackend) Poll(ctx context.Context, jobID string) (backend.Job, error) {
	b.mu.Lock()
	b.pollCalls++
	call := b.pollCalls
	hook := b.pollHook
	b.mu.Unlock()
	if hook != nil {
		return hook(ctx, call)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.jobs) == 0 {
		return backend.Job{JobID: jobID, Status: backend.JobPending}, nil
	}
	job := b.jobs[0]
	if len(b.jobs) > 1 {
		b.jobs = b.jobs[1:]
	}
	job.JobID = jobID
	return job, nil
}

func (b *scriptedBackend) RuntimeConfig(ctx context.Context) (backend.RuntimeConfig, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.runtimeErr != nil {
		return backend.RuntimeConfig{}, b.runtimeErr
	}
	return backend.RuntimeConfig{Values: map[string]any{backend.KeyPipelineVersion: b.pipeline}}, nil
}

func (b *scriptedBackend) queueSummaries(conversationID string, values ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.summaries[conversationID] = append([]string(nil), values...)
	b.summaryCalls[conversationID] = 0
}

func (b *scriptedBackend) summaryCount(conversationID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.summaryCalls[conversationID]
}

func (b *scriptedBackend) historyCount(conversationID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.historyCalls[conversationID]
}

func (b *scriptedBackend) polls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pollCalls
}

func (b *scriptedBackend) sentRequests() []backend.SendRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]backend.SendRequest(nil), b.sent...)
}

func pending() backend.Job {
	return backend.Job{Status: backend.JobPending}
}

func done(answer string) backend.Job {
	result, _ := json.Marshal(map[string]any{"answer": answer, "chunks": []any{}})
	return backend.Job{Status: backend.JobDone, Result: result}
}
