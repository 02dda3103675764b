package console

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ragconsole/internal/config"
)

type RegistryOption func(*Registry)

func WithLogger(log zerolog.Logger) RegistryOption {
	return func(r *Registry) {
		r.log = log
	}
}

func WithIDGenerator(ids *IDGenerator) RegistryOption {
	return func(r *Registry) {
		if ids != nil {
			r.ids = ids
		}
	}
}

// Registry is the single source of truth for sessions. Every write goes
// through update, which replaces the whole record under mu and drops writes
// whose token has been superseded or cancelled.
type Registry struct {
	mu        sync.Mutex
	backend   Backend
	timings   config.Timings
	ids       *IDGenerator
	events    *Events
	log       zerolog.Logger
	now       func() time.Time
	root      context.Context
	stop      context.CancelFunc
	order     []string
	sessions  map[string]*Session
	resources map[string]*sessionResources
	closed    bool
	wg        sync.WaitGroup
}

func NewRegistry(b Backend, timings config.Timings, opts ...RegistryOption) *Registry {
	root, stop := context.WithCancel(context.Background())
	r := &Registry{
		backend:   b,
		timings:   timings,
		ids:       NewIDGenerator(),
		events:    NewEvents(),
		log:       zerolog.Nop(),
		now:       time.Now,
		root:      root,
		stop:      stop,
		sessions:  map[string]*Session{},
		resources: map[string]*sessionResources{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) Events() *Events {
	return r.events
}

// AddSession creates a session with a fresh conversation id and schedules its
// first load. It returns "" once the registry is closed.
func (r *Registry) AddSession() string {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ""
	}
	now := r.now()
	s := &Session{
		ID:             r.ids.SessionID(),
		ConversationID: r.ids.ConversationID(),
		Stage:          StageNone,
		SummaryStatus:  SummaryIdle,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	r.sessions[s.ID] = s
	r.order = append(r.order, s.ID)
	r.resources[s.ID] = newSessionResources(r.timings.LoadDebounce)
	r.scheduleLoadLocked(s.ID)
	r.mu.Unlock()

	r.log.Debug().Str("session", s.ID).Str("conversation", s.ConversationID).Msg("session added")
	r.events.Publish(EventAdded, s.ID)
	return s.ID
}

// RemoveSession cancels everything the session owns, then drops it.
func (r *Registry) RemoveSession(id string) bool {
	r.mu.Lock()
	res, ok := r.resources[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	res.cancelAll()
	delete(r.resources, id)
	delete(r.sessions, id)
	for i, sid := range r.order {
		if sid == id {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	r.log.Debug().Str("session", id).Msg("session removed")
	r.events.Publish(EventRemoved, id)
	return true
}

// List returns the sessions in creation order.
func (r *Registry) List() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.sessions[id])
	}
	return out
}

func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

func (r *Registry) SetDraft(id, draft string) error {
	if !r.update(id, 0, nil, func(s *Session) bool {
		if s.Draft == draft {
			return false
		}
		s.Draft = draft
		return true
	}) {
		return ErrUnknownSession
	}
	return nil
}

// SetConversationID edits the conversation id. A changed, non-blank value
// schedules a debounced reload; clearing the id abandons any pending load.
func (r *Registry) SetConversationID(id, value string) error {
	r.mu.Lock()
	cur, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return ErrUnknownSession
	}
	if cur.ConversationID == value {
		r.mu.Unlock()
		return nil
	}
	prev := strings.TrimSpace(cur.ConversationID)
	trimmed := strings.TrimSpace(value)
	next := cur.clone()
	next.ConversationID = value
	next.Error = ""
	next.UpdatedAt = r.now()
	r.sessions[id] = next

	res := r.resources[id]
	if trimmed != prev {
		res.cancel(opStabilize)
	}
	switch {
	case trimmed == "":
		res.loadDebounce.Cancel()
		res.cancel(opLoad)
	case trimmed != prev:
		r.scheduleLoadLocked(id)
	}
	r.mu.Unlock()

	r.events.Publish(EventUpdated, id)
	return nil
}

// Close cancels all work and waits for running operations to exit.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	for _, res := range r.resources {
		res.cancelAll()
	}
	r.stop()
	r.mu.Unlock()

	r.wg.Wait()
	_ = r.events.Close()
}

// update applies fn to a copy of the session and stores it. With a non-nil
// tok the write only lands while tok is the live token of kind; a nil tok
// marks a direct user edit. It reports whether the caller may carry on.
func (r *Registry) update(id string, kind opKind, tok *token, fn func(*Session) bool) bool {
	r.mu.Lock()
	cur, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	if tok != nil && !r.resources[id].current(kind, tok) {
		r.mu.Unlock()
		return false
	}
	next := cur.clone()
	changed := fn(next)
	if changed {
		next.normalize()
		next.UpdatedAt = r.now()
		r.sessions[id] = next
	}
	r.mu.Unlock()

	if changed {
		r.events.Publish(EventUpdated, id)
	}
	return true
}

// release retires tok once its operation has finished.
func (r *Registry) release(id string, kind opKind, tok *token) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if res, ok := r.resources[id]; ok {
		res.release(kind, tok)
		return
	}
	tok.cancel()
}

// goLocked starts fn tracked by the wait group. Callers hold mu and have
// checked closed.
func (r *Registry) goLocked(fn func()) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		fn()
	}()
}

func (r *Registry) sessionLog(id string) zerolog.Logger {
	return r.log.With().Str("session", id).Logger()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
