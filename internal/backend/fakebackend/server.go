// Package fakebackend serves a scripted, in-memory imitation of the ui_backend
// API. Jobs resolve after a configurable number of polls and summaries lag a
// few polls behind each turn, which is enough to exercise every client loop.
package fakebackend

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// AnswerFunc produces the assistant reply for one turn. A non-nil error marks
// the job as failed with that message.
type AnswerFunc func(conversationID, message string) (string, error)

type Option func(*Server)

// WithPendingPolls sets how many polls a job reports "pending" before it resolves.
func WithPendingPolls(n int) Option {
	return func(s *Server) {
		if n >= 0 {
			s.pendingPolls = n
		}
	}
}

// WithSummaryLag sets how many summary polls keep returning the previous
// summary after a turn completes.
func WithSummaryLag(n int) Option {
	return func(s *Server) {
		if n >= 0 {
			s.summaryLag = n
		}
	}
}

func WithAnswer(fn AnswerFunc) Option {
	return func(s *Server) {
		if fn != nil {
			s.answer = fn
		}
	}
}

type job struct {
	id             string
	conversationID string
	message        string
	remaining      int
	status         string
	result         map[string]any
	err            string
}

type conversation struct {
	history []historyItem
	summary string
	// next is the regenerated summary served once lag reaches zero.
	next string
	lag  int
	// script overrides the summary for the next polls, one value per poll.
	script []string
}

type historyItem struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

type Server struct {
	mu            sync.Mutex
	pendingPolls  int
	summaryLag    int
	answer        AnswerFunc
	jobs          map[string]*job
	conversations map[string]*conversation
	defaults      map[string]any
	overrides     map[string]any
	failHistory   bool
	sent          []map[string]any
}

func New(opts ...Option) *Server {
	s := &Server{
		pendingPolls:  2,
		summaryLag:    2,
		answer:        echoAnswer,
		jobs:          map[string]*job{},
		conversations: map[string]*conversation{},
		defaults:      DefaultRuntimeValues(),
		overrides:     map[string]any{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DefaultRuntimeValues mirrors the backend's built-in runtime settings.
func DefaultRuntimeValues() map[string]any {
	return map[string]any{
		"AGENT_PIPELINE_VERSION": "v1_0",
		"LLM_MODEL":              "gpt-4.1-mini",
		"SEARCH_TOP_K":           5,
		"SEARCH_LIMIT":           20,
		"SEARCH_SCORE_THRESHOLD": 0.3,
		"RERANKER_ENABLED":       true,
		"CHUNK_MAX_LENGTH":       1000,
		"CHUNK_OVERLAP":          100,
		"OPENAI_API_KEY":         "",
	}
}

func echoAnswer(conversationID, message string) (string, error) {
	return fmt.Sprintf("You said: **%s**", message), nil
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/api/health", s.health)
	r.Route("/api/chat", func(r chi.Router) {
		r.Get("/conversations", s.listConversations)
		r.Get("/history", s.history)
		r.Get("/summary", s.summary)
		r.Post("/send", s.send)
		r.Get("/poll", s.poll)
	})
	r.Get("/api/runtime-config", s.getRuntimeConfig)
	r.Patch("/api/runtime-config", s.patchRuntimeConfig)
	return r
}

// SetHistory seeds a conversation transcript. Roles alternate user/assistant.
func (s *Server) SetHistory(conversationID string, contents ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv := s.conversationLocked(conversationID)
	conv.history = nil
	for i, content := range contents {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		conv.history = append(conv.history, historyItem{Role: role, Content: content, Timestamp: timestamp()})
	}
}

// SetSummary replaces the stored summary immediately.
func (s *Server) SetSummary(conversationID, summary string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv := s.conversationLocked(conversationID)
	conv.summary = summary
	conv.next = ""
	conv.lag = 0
}

// ScriptSummaries makes the next polls return values in order; the last value
// becomes the stored summary.
func (s *Server) ScriptSummaries(conversationID string, values ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv := s.conversationLocked(conversationID)
	conv.script = append([]string(nil), values...)
}

// FailHistory makes /api/chat/history answer 502.
func (s *Server) FailHistory(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failHistory = fail
}

// Sent returns the decoded bodies of every /api/chat/send call.
func (s *Server) Sent() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]any(nil), s.sent...)
}

func (s *Server) conversationLocked(id string) *conversation {
	conv, ok := s.conversations[id]
	if !ok {
		conv = &conversation{}
		s.conversations[id] = conv
	}
	return conv
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listConversations(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.conversations))
	for id, conv := range s.conversations {
		if len(conv.history) > 0 {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()
	sort.Strings(ids)
	writeJSON(w, http.StatusOK, map[string]any{"conversations": ids})
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	id, ok := requireQuery(w, r, "conversation_id")
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failHistory {
		writeDetail(w, http.StatusBadGateway, "Failed to call history")
		return
	}
	history := []historyItem{}
	if conv, exists := s.conversations[id]; exists {
		history = append(history, conv.history...)
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversation_id": id, "history": history})
}

func (s *Server) summary(w http.ResponseWriter, r *http.Request) {
	id, ok := requireQuery(w, r, "conversation_id")
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	conv := s.conversationLocked(id)
	switch {
	case len(conv.script) > 0:
		conv.summary = conv.script[0]
		conv.script = conv.script[1:]
	case conv.next != "":
		if conv.lag > 0 {
			conv.lag--
		} else {
			conv.summary = conv.next
			conv.next = ""
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversation_id": id, "summary": conv.summary})
}

func (s *Server) send(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid json body")
		return
	}
	conversationID, _ := body["conversation_id"].(string)
	message, _ := body["message"].(string)
	if strings.TrimSpace(conversationID) == "" {
		writeDetail(w, http.StatusBadRequest, "conversation_id is required")
		return
	}
	if strings.TrimSpace(message) == "" {
		writeDetail(w, http.StatusBadRequest, "message is required")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, body)
	j := &job{
		id:             uuid.NewString(),
		conversationID: conversationID,
		message:        message,
		remaining:      s.pendingPolls,
		status:         "pending",
	}
	s.jobs[j.id] = j
	writeJSON(w, http.StatusOK, map[string]string{"job_id": j.id})
}

func (s *Server) poll(w http.ResponseWriter, r *http.Request) {
	jobID, ok := requireQuery(w, r, "job_id")
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	j, exists := s.jobs[jobID]
	if !exists {
		writeDetail(w, http.StatusNotFound, "job not found")
		return
	}
	if j.status == "pending" {
		if j.remaining > 0 {
			j.remaining--
		} else {
			s.resolveLocked(j)
		}
	}
	payload := map[string]any{"job_id": j.id, "status": j.status, "result": nil, "error": nil}
	if j.result != nil {
		payload["result"] = j.result
	}
	if j.err != "" {
		payload["error"] = j.err
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) resolveLocked(j *job) {
	answer, err := s.answer(j.conversationID, j.message)
	if err != nil {
		j.status = "error"
		j.err = err.Error()
		return
	}
	conv := s.conversationLocked(j.conversationID)
	conv.history = append(conv.history,
		historyItem{Role: "user", Content: j.message, Timestamp: timestamp()},
		historyItem{Role: "assistant", Content: answer, Timestamp: timestamp()},
	)
	conv.next = fmt.Sprintf("%d messages so far; latest question: %s", len(conv.history), j.message)
	conv.lag = s.summaryLag
	j.status = "done"
	j.result = map[string]any{
		"conversation_id":    j.conversationID,
		"answer":             answer,
		"chunks":             []any{},
		"last_step_scenario": nil,
	}
}

func (s *Server) runtimeStateLocked() map[string]any {
	values := make(map[string]any, len(s.defaults))
	for k, v := range s.defaults {
		values[k] = v
	}
	overrides := make(map[string]any, len(s.overrides))
	for k, v := range s.overrides {
		values[k] = v
		overrides[k] = v
	}
	defaults := make(map[string]any, len(s.defaults))
	for k, v := range s.defaults {
		defaults[k] = v
	}
	return map[string]any{"values": values, "overrides": overrides, "defaults": defaults}
}

func (s *Server) getRuntimeConfig(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, s.runtimeStateLocked())
}

func (s *Server) patchRuntimeConfig(w http.ResponseWriter, r *http.Request) {
	var patch map[string]any
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid json body")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range patch {
		if _, known := s.defaults[key]; !known {
			writeDetail(w, http.StatusBadRequest, "unknown runtime config key: "+key)
			return
		}
	}
	for key, value := range patch {
		s.overrides[key] = value
	}
	writeJSON(w, http.StatusOK, s.runtimeStateLocked())
}

func requireQuery(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	value := strings.TrimSpace(r.URL.Query().Get(name))
	if value == "" {
		writeDetail(w, http.StatusUnprocessableEntity, name+" is required")
		return "", false
	}
	return value, true
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func timestamp() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000000")
}
