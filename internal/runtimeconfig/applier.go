package runtimeconfig

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ragconsole/internal/backend"
	"ragconsole/internal/debounce"
)

// Store is the backend surface the applier persists through.
type Store interface {
	RuntimeConfig(ctx context.Context) (backend.RuntimeConfig, error)
	PatchRuntimeConfig(ctx context.Context, values map[string]any) (backend.RuntimeConfig, error)
}

type Option func(*Applier)

func WithLogger(log zerolog.Logger) Option {
	return func(a *Applier) {
		a.log = log
	}
}

// WithNotify registers a callback run after every state change. It is called
// without the applier lock held and may run on any goroutine.
func WithNotify(fn func()) Option {
	return func(a *Applier) {
		a.notify = fn
	}
}

func WithRequestTimeout(timeout time.Duration) Option {
	return func(a *Applier) {
		if timeout > 0 {
			a.timeout = timeout
		}
	}
}

type Snapshot struct {
	Local     map[string]any
	Persisted map[string]any
	Loaded    bool
	Saving    bool
	Dirty     bool
	LastError string
	LastSaved time.Time
}

// Applier holds local edits and auto-saves them. A save fires one debounce
// interval after the last edit, sends only the changed keys and is skipped
// while another save is in flight; the finished save re-checks the diff.
type Applier struct {
	mu        sync.Mutex
	store     Store
	slot      *debounce.Slot
	timeout   time.Duration
	log       zerolog.Logger
	notify    func()
	root      context.Context
	stop      context.CancelFunc
	local     map[string]any
	persisted map[string]any
	loaded    bool
	saving    bool
	lastErr   error
	lastSaved time.Time
	closed    bool
	wg        sync.WaitGroup
}

func NewApplier(store Store, delay time.Duration, opts ...Option) *Applier {
	root, stop := context.WithCancel(context.Background())
	a := &Applier{
		store:     store,
		slot:      debounce.New(delay),
		timeout:   30 * time.Second,
		log:       zerolog.Nop(),
		notify:    func() {},
		root:      root,
		stop:      stop,
		local:     map[string]any{},
		persisted: map[string]any{},
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.notify == nil {
		a.notify = func() {}
	}
	return a
}

// Load replaces both the persisted snapshot and the local edits with the
// backend's current values. It never schedules a save.
func (a *Applier) Load(ctx context.Context) error {
	cfg, err := a.store.RuntimeConfig(ctx)
	if err != nil {
		a.mu.Lock()
		a.lastErr = err
		a.mu.Unlock()
		a.notify()
		return fmt.Errorf("load runtime config: %w", err)
	}
	a.slot.Cancel()
	a.mu.Lock()
	a.persisted = normalize(cfg.Values)
	a.local = cloneValues(a.persisted)
	a.loaded = true
	a.lastErr = nil
	a.mu.Unlock()
	a.notify()
	return nil
}

// Set stores a local edit and re-arms the save debounce.
func (a *Applier) Set(key string, value any) error {
	field, ok := Lookup(key)
	if !ok {
		return fmt.Errorf("unknown runtime config key %q", key)
	}
	coerced, err := field.Coerce(value)
	if err != nil {
		return err
	}
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return fmt.Errorf("runtime config applier closed")
	}
	a.local[field.Key] = coerced
	a.mu.Unlock()
	a.slot.Trigger(a.fire)
	a.notify()
	return nil
}

// Adjust steps the field's local value; see Field.Adjust.
func (a *Applier) Adjust(key string, delta int) error {
	field, ok := Lookup(key)
	if !ok {
		return fmt.Errorf("unknown runtime config key %q", key)
	}
	return a.Set(field.Key, field.Adjust(a.Value(field.Key), delta))
}

func (a *Applier) Value(key string) any {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.local[key]
}

func (a *Applier) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	snap := Snapshot{
		Local:     cloneValues(a.local),
		Persisted: cloneValues(a.persisted),
		Loaded:    a.loaded,
		Saving:    a.saving,
		Dirty:     len(Diff(a.local, a.persisted)) > 0,
		LastSaved: a.lastSaved,
	}
	if a.lastErr != nil {
		snap.LastError = a.lastErr.Error()
	}
	return snap
}

// Flush drops the pending debounce and saves immediately.
func (a *Applier) Flush(ctx context.Context) error {
	a.slot.Cancel()
	_, err := a.commit(ctx)
	return err
}

func (a *Applier) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	a.mu.Unlock()
	a.slot.Cancel()
	a.stop()
	a.wg.Wait()
}

func (a *Applier) fire() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.wg.Add(1)
	a.mu.Unlock()
	defer a.wg.Done()

	ctx, cancel := context.WithTimeout(a.root, a.timeout)
	defer cancel()
	committed, err := a.commit(ctx)
	if err != nil || !committed {
		return
	}
	a.mu.Lock()
	again := !a.closed && len(Diff(a.local, a.persisted)) > 0
	a.mu.Unlock()
	if again {
		a.slot.Trigger(a.fire)
	}
}

// commit sends the current diff. It reports whether a PATCH went out.
func (a *Applier) commit(ctx context.Context) (bool, error) {
	a.mu.Lock()
	if a.saving {
		a.mu.Unlock()
		a.log.Debug().Msg("runtime config save already in flight")
		return false, nil
	}
	diff := Diff(a.local, a.persisted)
	if len(diff) == 0 {
		a.mu.Unlock()
		return false, nil
	}
	a.saving = true
	a.mu.Unlock()
	a.notify()

	cfg, err := a.store.PatchRuntimeConfig(ctx, diff)

	a.mu.Lock()
	a.saving = false
	if err != nil {
		a.lastErr = err
	} else {
		a.persisted = normalize(cfg.Values)
		a.lastErr = nil
		a.lastSaved = time.Now()
	}
	pending := len(Diff(a.local, a.persisted)) > 0
	a.mu.Unlock()
	a.notify()

	if err != nil {
		a.log.Warn().Err(err).Int("keys", len(diff)).Msg("runtime config save failed")
		return true, fmt.Errorf("save runtime config: %w", err)
	}
	a.log.Info().Int("keys", len(diff)).Bool("pending", pending).Msg("runtime config saved")
	return true, nil
}

func cloneValues(values map[string]any) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}
