package console

import (
	"context"
	"time"

	"ragconsole/internal/debounce"
)

type opKind int

const (
	opLoad opKind = iota
	opTurn
	opTicker
	opStabilize
	opKindCount
)

func (k opKind) String() string {
	switch k {
	case opLoad:
		return "load"
	case opTurn:
		return "turn"
	case opTicker:
		return "ticker"
	case opStabilize:
		return "stabilize"
	default:
		return "unknown"
	}
}

// token is the lifetime of one logical operation.
type token struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func newToken(parent context.Context) *token {
	ctx, cancel := context.WithCancel(parent)
	return &token{ctx: ctx, cancel: cancel}
}

func (t *token) live() bool {
	return t != nil && t.ctx.Err() == nil
}

// sessionResources is everything a session owns that must be torn down with
// it. Guarded by Registry.mu.
type sessionResources struct {
	tokens       [opKindCount]*token
	loadDebounce *debounce.Slot
}

func newSessionResources(loadDelay time.Duration) *sessionResources {
	return &sessionResources{loadDebounce: debounce.New(loadDelay)}
}

// replace cancels the current token of kind and installs a fresh one.
func (r *sessionResources) replace(kind opKind, parent context.Context) *token {
	r.cancel(kind)
	tok := newToken(parent)
	r.tokens[kind] = tok
	return tok
}

func (r *sessionResources) cancel(kind opKind) {
	if tok := r.tokens[kind]; tok != nil {
		tok.cancel()
		r.tokens[kind] = nil
	}
}

// release drops tok if it is still the current one of its kind.
func (r *sessionResources) release(kind opKind, tok *token) {
	if r.tokens[kind] == tok {
		r.tokens[kind] = nil
	}
	if tok != nil {
		tok.cancel()
	}
}

func (r *sessionResources) current(kind opKind, tok *token) bool {
	return tok != nil && r.tokens[kind] == tok && tok.live()
}

func (r *sessionResources) cancelAll() {
	r.loadDebounce.Cancel()
	for kind := opKind(0); kind < opKindCount; kind++ {
		r.cancel(kind)
	}
}
