package console

import (
	"context"
	"strings"
)

// settleThreshold is how many repeats of a candidate make it final.
const settleThreshold = 1

// settleDetector decides when a regenerated summary has stopped changing.
type settleDetector struct {
	baseline    string
	candidate   string
	stableCount int
}

// observation is what one poll should write back.
type observation struct {
	// write is false when the summary text must stay as it is.
	write   bool
	text    string
	status  SummaryStatus
	settled bool
}

func newSettleDetector(baseline string) *settleDetector {
	return &settleDetector{baseline: strings.TrimSpace(baseline)}
}

func (d *settleDetector) observe(raw string) observation {
	text := strings.TrimSpace(raw)
	switch {
	case text == "":
		d.reset()
		return observation{status: SummaryWaiting}
	case text == d.baseline:
		d.reset()
		return observation{write: true, text: text, status: SummaryWaiting}
	case d.candidate == "":
		d.candidate = text
		d.stableCount = 0
		return observation{write: true, text: text, status: SummaryWaiting}
	case text == d.candidate:
		d.stableCount++
		if d.stableCount >= settleThreshold {
			return observation{write: true, text: text, status: SummaryReady, settled: true}
		}
		return observation{write: true, text: text, status: SummaryWaiting}
	default:
		d.candidate = text
		d.stableCount = 0
		return observation{write: true, text: text, status: SummaryWaiting}
	}
}

func (d *settleDetector) reset() {
	d.candidate = ""
	d.stableCount = 0
}

// stabilize polls the summary until a post-turn value settles or the budget
// runs out. Exhausting the budget leaves the last written status in place.
func (r *Registry) stabilize(id, conversationID, baseline string, tok *token) {
	ctx, cancel := context.WithTimeout(tok.ctx, r.timings.SummaryBudget)
	defer cancel()
	detector := newSettleDetector(baseline)
	log := r.sessionLog(id)
	for {
		text, err := r.backend.Summary(ctx, conversationID)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Debug().Err(err).Msg("summary poll failed")
		} else {
			obs := detector.observe(text)
			if !r.update(id, opStabilize, tok, func(s *Session) bool {
				changed := false
				if obs.write && s.Summary != obs.text {
					s.Summary = obs.text
					changed = true
				}
				if s.SummaryStatus != obs.status {
					s.SummaryStatus = obs.status
					changed = true
				}
				return changed
			}) {
				return
			}
			if obs.settled {
				log.Debug().Str("conversation", conversationID).Msg("summary settled")
				return
			}
		}
		if !sleepCtx(ctx, r.timings.SummaryPollInterval) {
			break
		}
	}
	if tok.ctx.Err() == nil {
		log.Debug().Str("conversation", conversationID).Msg("summary did not settle within budget")
	}
}
