package console

import (
	"context"
	"errors"
	"strings"

	"github.com/cenkalti/backoff/v4"

	"ragconsole/internal/backend"
)

const genericTurnError = "chat request failed"

// stageSequence is walked once per turn; the last entry holds.
var stageSequence = []Stage{StageSearch, StagePrompt, StagePrompt, StageGenerate}

var errJobPending = errors.New("job pending")

type jobFailure struct {
	message string
}

func (e *jobFailure) Error() string {
	return e.message
}

// Submit sends the session's draft as a new turn. It is a no-op, returning
// false, when the draft is blank or a turn is already in flight.
func (r *Registry) Submit(id string) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	cur, ok := r.sessions[id]
	if !ok || cur.Sending {
		r.mu.Unlock()
		return false
	}
	text := strings.TrimSpace(cur.Draft)
	if text == "" {
		r.mu.Unlock()
		return false
	}

	next := cur.clone()
	if strings.TrimSpace(next.ConversationID) == "" {
		next.ConversationID = r.ids.ConversationID()
	}
	conversationID := strings.TrimSpace(next.ConversationID)
	baseline := strings.TrimSpace(next.Summary)
	next.Draft = ""
	next.Error = ""
	next.Messages = append(next.Messages, Message{Role: RoleUser, Content: text})
	next.Sending = true
	next.Stage = StageSearch
	next.UpdatedAt = r.now()
	r.sessions[id] = next

	res := r.resources[id]
	turn := res.replace(opTurn, r.root)
	ticker := res.replace(opTicker, turn.ctx)
	r.goLocked(func() {
		defer r.release(id, opTicker, ticker)
		r.tickStages(id, ticker)
	})
	r.goLocked(func() {
		defer r.release(id, opTurn, turn)
		r.runTurn(id, conversationID, text, baseline, turn, ticker)
	})
	r.mu.Unlock()

	log := r.sessionLog(id)
	log.Debug().Str("conversation", conversationID).Msg("turn submitted")
	r.events.Publish(EventUpdated, id)
	return true
}

// tickStages advances the cosmetic stage label until its token is cancelled.
func (r *Registry) tickStages(id string, tok *token) {
	for step := 1; step < len(stageSequence); step++ {
		if !sleepCtx(tok.ctx, r.timings.StageTick) {
			return
		}
		stage := stageSequence[step]
		if !r.update(id, opTicker, tok, func(s *Session) bool {
			if !s.Sending || s.Stage == stage {
				return false
			}
			s.Stage = stage
			return true
		}) {
			return
		}
	}
}

func (r *Registry) runTurn(id, conversationID, text, baseline string, turn, ticker *token) {
	log := r.sessionLog(id).With().Str("conversation", conversationID).Logger()
	job, err := r.executeTurn(id, conversationID, text, turn)
	// The ticker goes first so it cannot land a stage after the final write.
	r.release(id, opTicker, ticker)

	if err != nil {
		if turn.ctx.Err() != nil {
			return
		}
		message := turnErrorMessage(err)
		log.Warn().Err(err).Msg("turn failed")
		r.update(id, opTurn, turn, func(s *Session) bool {
			s.Sending = false
			s.Error = message
			return true
		})
		return
	}

	answer := job.Answer()
	scenario := job.Scenario()
	if !r.update(id, opTurn, turn, func(s *Session) bool {
		s.Messages = append(s.Messages, Message{Role: RoleAssistant, Content: answer})
		if scenario != "" {
			s.Messages = append(s.Messages, Message{Role: RoleSystem, Content: "scenario: " + scenario})
		}
		s.Sending = false
		return true
	}) {
		return
	}
	log.Debug().Str("job", job.JobID).Msg("turn completed")
	r.scheduleStabilizer(id, conversationID, baseline)
}

func (r *Registry) executeTurn(id, conversationID, text string, turn *token) (backend.Job, error) {
	req := backend.SendRequest{ConversationID: conversationID, Message: text}
	if cfg, err := r.backend.RuntimeConfig(turn.ctx); err == nil {
		req.PipelineVersion = cfg.String(backend.KeyPipelineVersion)
	} else if turn.ctx.Err() != nil {
		return backend.Job{}, turn.ctx.Err()
	} else {
		log := r.sessionLog(id)
		log.Debug().Err(err).Msg("pipeline version unavailable")
	}

	jobID, err := r.backend.Send(turn.ctx, req)
	if err != nil {
		return backend.Job{}, err
	}
	if !r.update(id, opTurn, turn, func(s *Session) bool {
		s.JobID = jobID
		return true
	}) {
		return backend.Job{}, context.Canceled
	}
	return r.pollJob(turn.ctx, jobID)
}

// pollJob waits for the job to reach a terminal state. There is no overall
// deadline; only ctx ends the wait.
func (r *Registry) pollJob(ctx context.Context, jobID string) (backend.Job, error) {
	var job backend.Job
	b := backoff.WithContext(backoff.NewConstantBackOff(r.timings.JobPollInterval), ctx)
	err := backoff.Retry(func() error {
		polled, err := r.backend.Poll(ctx, jobID)
		if err != nil {
			return backoff.Permanent(err)
		}
		job = polled
		switch polled.Status {
		case backend.JobDone:
			return nil
		case backend.JobError:
			return backoff.Permanent(&jobFailure{message: strings.TrimSpace(polled.Error)})
		default:
			return errJobPending
		}
	}, b)
	if err != nil {
		if ctx.Err() != nil {
			return backend.Job{}, ctx.Err()
		}
		return backend.Job{}, err
	}
	return job, nil
}

func turnErrorMessage(err error) string {
	var failure *jobFailure
	if errors.As(err, &failure) {
		if failure.message != "" {
			return failure.message
		}
		return genericTurnError
	}
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) && strings.TrimSpace(apiErr.Message) != "" {
		return apiErr.Message
	}
	if msg := strings.TrimSpace(err.Error()); msg != "" {
		return msg
	}
	return genericTurnError
}

// scheduleStabilizer replaces any running stabilizer and starts a new one
// after the settle delay. Nothing is started when the session has moved on to
// another conversation while the turn ran.
func (r *Registry) scheduleStabilizer(id, conversationID, baseline string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.resources[id]
	if r.closed || !ok {
		return
	}
	if s := r.sessions[id]; strings.TrimSpace(s.ConversationID) != conversationID {
		return
	}
	tok := res.replace(opStabilize, r.root)
	delay := r.timings.StabilizeDelay
	r.goLocked(func() {
		defer r.release(id, opStabilize, tok)
		if !sleepCtx(tok.ctx, delay) {
			return
		}
		r.stabilize(id, conversationID, baseline, tok)
	})
}
