package backend

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// Runtime config keys the console reads directly.
const (
	KeyPipelineVersion = "AGENT_PIPELINE_VERSION"
	KeySearchTopK      = "SEARCH_TOP_K"
)

type HistoryItem struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	// Timestamp is kept verbatim; the backend emits naive ISO-8601 values.
	Timestamp string `json:"timestamp,omitempty"`
}

type HistoryResponse struct {
	ConversationID string        `json:"conversation_id"`
	History        []HistoryItem `json:"history"`
}

type SummaryResponse struct {
	ConversationID string `json:"conversation_id"`
	Summary        string `json:"summary"`
}

type ConversationsResponse struct {
	Conversations []string `json:"conversations"`
}

type SendRequest struct {
	ConversationID  string `json:"conversation_id"`
	Message         string `json:"message"`
	PipelineVersion string `json:"pipeline_version,omitempty"`
}

type SendResponse struct {
	JobID string `json:"job_id"`
}

type JobStatus string

const (
	JobPending JobStatus = "pending"
	JobDone    JobStatus = "done"
	JobError   JobStatus = "error"
)

// Terminal reports whether polling can stop.
func (s JobStatus) Terminal() bool {
	return s == JobDone || s == JobError
}

// Job is the backend-owned record of one chat request. Result is the raw chat
// response so unexpected shapes never fail the poll.
type Job struct {
	JobID  string          `json:"job_id"`
	Status JobStatus       `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Answer returns result.answer coerced to a string, empty when absent.
func (j Job) Answer() string {
	if len(j.Result) == 0 {
		return ""
	}
	answer := gjson.GetBytes(j.Result, "answer")
	if !answer.Exists() || answer.Type == gjson.Null {
		return ""
	}
	return answer.String()
}

// Scenario returns result.last_step_scenario when the pipeline reported one.
func (j Job) Scenario() string {
	if len(j.Result) == 0 {
		return ""
	}
	return strings.TrimSpace(gjson.GetBytes(j.Result, "last_step_scenario").String())
}

// RuntimeConfig mirrors GET/PATCH /api/runtime-config.
type RuntimeConfig struct {
	Values    map[string]any `json:"values"`
	Overrides map[string]any `json:"overrides"`
	Defaults  map[string]any `json:"defaults"`
}

// String returns values[key] when it is a string.
func (c RuntimeConfig) String(key string) string {
	value, _ := c.Values[key].(string)
	return strings.TrimSpace(value)
}

type HealthResponse struct {
	Status string `json:"status"`
}
