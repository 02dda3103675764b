package console

import (
	"context"
	"strings"
)

func (r *Registry) scheduleLoadLocked(id string) {
	r.resources[id].loadDebounce.Trigger(func() {
		r.startLoad(id)
	})
}

// Reload forces an immediate history and summary load for the session.
func (r *Registry) Reload(id string) error {
	r.mu.Lock()
	res, ok := r.resources[id]
	if !ok {
		r.mu.Unlock()
		return ErrUnknownSession
	}
	res.loadDebounce.Cancel()
	r.mu.Unlock()
	r.startLoad(id)
	return nil
}

// startLoad supersedes the session's current load. The running stabilizer is
// cancelled as well: its summary belongs to whatever the session showed before.
func (r *Registry) startLoad(id string) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	s, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	conversationID := strings.TrimSpace(s.ConversationID)
	if conversationID == "" {
		r.mu.Unlock()
		return
	}
	res := r.resources[id]
	res.cancel(opStabilize)
	tok := res.replace(opLoad, r.root)
	r.goLocked(func() {
		defer r.release(id, opLoad, tok)
		r.runLoad(id, conversationID, tok)
	})
	r.mu.Unlock()
}

func (r *Registry) runLoad(id, conversationID string, tok *token) {
	log := r.sessionLog(id).With().Str("conversation", conversationID).Logger()
	if !r.update(id, opLoad, tok, func(s *Session) bool {
		s.Error = ""
		s.Messages = pendingTurn(s)
		s.Summary = ""
		s.SummaryStatus = SummaryWaiting
		return true
	}) {
		return
	}

	items, err := r.backend.History(tok.ctx, conversationID)
	if err != nil {
		if tok.ctx.Err() != nil {
			return
		}
		log.Debug().Err(err).Msg("history unavailable, showing empty transcript")
		items = nil
	}
	messages := toMessages(items)
	if !r.update(id, opLoad, tok, func(s *Session) bool {
		s.Messages = mergeTranscript(messages, s.Messages)
		return true
	}) {
		return
	}

	r.awaitSummary(id, conversationID, tok)
}

// awaitSummary polls until a non-empty summary appears or the budget runs out.
func (r *Registry) awaitSummary(id, conversationID string, tok *token) {
	ctx, cancel := context.WithTimeout(tok.ctx, r.timings.SummaryBudget)
	defer cancel()
	for {
		text, err := r.backend.Summary(ctx, conversationID)
		if err == nil {
			text = strings.TrimSpace(text)
			ready := text != ""
			if !r.update(id, opLoad, tok, func(s *Session) bool {
				if ready {
					s.Summary = text
					s.SummaryStatus = SummaryReady
					return true
				}
				if s.SummaryStatus == SummaryWaiting {
					return false
				}
				s.SummaryStatus = SummaryWaiting
				return true
			}) {
				return
			}
			if ready {
				return
			}
		}
		if !sleepCtx(ctx, r.timings.SummaryPollInterval) {
			return
		}
	}
}

// pendingTurn returns the messages of the turn still in flight, starting at
// its user message. A reset keeps them so the turn's answer has a home.
func pendingTurn(s *Session) []Message {
	if !s.Sending {
		return nil
	}
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleUser {
			return append([]Message(nil), s.Messages[i:]...)
		}
	}
	return nil
}

// mergeTranscript appends the messages written since the load reset to the
// fetched history. Messages the backend already recorded are not repeated.
func mergeTranscript(history, since []Message) []Message {
	overlap := 0
	for k := min(len(history), len(since)); k > 0; k-- {
		if sameMessages(history[len(history)-k:], since[:k]) {
			overlap = k
			break
		}
	}
	out := make([]Message, 0, len(history)+len(since)-overlap)
	out = append(out, history...)
	return append(out, since[overlap:]...)
}

func sameMessages(a, b []Message) bool {
	for i := range a {
		if a[i].Role != b[i].Role || strings.TrimSpace(a[i].Content) != strings.TrimSpace(b[i].Content) {
			return false
		}
	}
	return true
}
