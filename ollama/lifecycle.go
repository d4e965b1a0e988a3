package ollama

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Action is an operation the lifecycle manager performs on a model.
type Action string

const (
	ActionPull   Action = "pull"
	ActionLoad   Action = "load"
	ActionUnload Action = "unload"
)

// ModelState is the manager's view of a model on the server. It is inferred
// from the calls made during this run, never cached between runs.
type ModelState int

const (
	StateAbsent ModelState = iota
	StatePulling
	StatePulled
	StateLoading
	StateLoaded
	StateUnloading
)

func (s ModelState) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StatePulling:
		return "pulling"
	case StatePulled:
		return "pulled"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateUnloading:
		return "unloading"
	default:
		return fmt.Sprintf("ModelState(%d)", int(s))
	}
}

// LifecycleError reports a failed pull or load.
type LifecycleError struct {
	Model  string
	Action Action
	Err    error
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("failed to %s model %s: %v", e.Action, e.Model, e.Err)
}

func (e *LifecycleError) Unwrap() error {
	return e.Err
}

// Options tunes the manager. The server has no readiness signal beyond the
// response itself, so fixed settle delays follow each step.
type Options struct {
	// PullSettle is waited after a successful pull, before loading.
	PullSettle time.Duration
	// LoadSettle is waited after a successful load, unless PollReady is set.
	LoadSettle time.Duration
	// UnloadSettle is waited after an unload attempt.
	UnloadSettle time.Duration

	// MaxRetries is how often a transient pull or load failure is repeated.
	MaxRetries int
	// RetryInterval is the first backoff interval; it doubles per attempt.
	RetryInterval time.Duration

	// PollReady replaces LoadSettle with a bounded poll of /api/ps.
	PollReady     bool
	ReadyTimeout  time.Duration
	ReadyInterval time.Duration
}

// DefaultOptions returns the delays the server needs in practice.
func DefaultOptions() Options {
	return Options{
		PullSettle:    2 * time.Second,
		LoadSettle:    3 * time.Second,
		UnloadSettle:  1 * time.Second,
		MaxRetries:    2,
		RetryInterval: 1 * time.Second,
		ReadyTimeout:  30 * time.Second,
		ReadyInterval: 500 * time.Millisecond,
	}
}

// Manager pulls, loads and unloads models. It assumes it is the only user of a
// model between Prepare and Cleanup; another process may still evict it.
type Manager struct {
	client *Client
	opts   Options
	logger *slog.Logger

	mu     sync.Mutex
	states map[string]ModelState
}

// NewManager creates a lifecycle manager on top of client.
func NewManager(client *Client, opts Options, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		client: client,
		opts:   opts,
		logger: logger,
		states: make(map[string]ModelState),
	}
}

// State returns the last known state of model.
func (m *Manager) State(model string) ModelState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[model]
}

func (m *Manager) setState(model string, s ModelState) {
	m.mu.Lock()
	m.states[model] = s
	m.mu.Unlock()
}

// Manage performs a single action and reports whether it succeeded. Failures
// are logged, not returned.
func (m *Manager) Manage(ctx context.Context, model string, action Action) bool {
	if err := m.run(ctx, model, action); err != nil {
		m.logger.Error("model action failed", "model", model, "action", action, "error", err)
		return false
	}
	return true
}

// Prepare pulls and loads model, waiting for each step to settle. It fails
// fast with a *LifecycleError.
func (m *Manager) Prepare(ctx context.Context, model string) error {
	m.logger.Info("preparing model", "model", model)

	for _, action := range []Action{ActionPull, ActionLoad} {
		if err := m.run(ctx, model, action); err != nil {
			m.logger.Error("model action failed", "model", model, "action", action, "error", err)
			return &LifecycleError{Model: model, Action: action, Err: err}
		}

		if err := m.settle(ctx, model, action); err != nil {
			return &LifecycleError{Model: model, Action: action, Err: err}
		}
	}

	m.logger.Info("model ready", "model", model)
	return nil
}

// Cleanup unloads model and waits for the eviction to settle. It never fails;
// a cancelled ctx does not stop the unload.
func (m *Manager) Cleanup(ctx context.Context, model string) {
	ctx = context.WithoutCancel(ctx)

	if err := m.run(ctx, model, ActionUnload); err != nil {
		m.logger.Warn("failed to unload model", "model", model, "error", err)
	} else {
		m.logger.Info("model unloaded", "model", model)
	}

	_ = sleep(ctx, m.opts.UnloadSettle)
}

func (m *Manager) run(ctx context.Context, model string, action Action) error {
	switch action {
	case ActionPull:
		m.setState(model, StatePulling)
		if err := m.retry(ctx, model, action, func() error { return m.pull(ctx, model) }); err != nil {
			m.setState(model, StateAbsent)
			return err
		}
		m.setState(model, StatePulled)
		return nil

	case ActionLoad:
		m.setState(model, StateLoading)
		err := m.retry(ctx, model, action, func() error {
			_, err := m.client.Generate(ctx, &GenerateRequest{Model: model})
			return err
		})
		if err != nil {
			m.setState(model, StatePulled)
			return err
		}
		m.setState(model, StateLoaded)
		return nil

	case ActionUnload:
		prev := m.State(model)
		m.setState(model, StateUnloading)
		if _, err := m.client.Generate(ctx, &GenerateRequest{Model: model, KeepAlive: "0s"}); err != nil {
			m.setState(model, prev)
			return err
		}
		m.setState(model, StatePulled)
		return nil

	default:
		return fmt.Errorf("unknown model action %q", action)
	}
}

func (m *Manager) pull(ctx context.Context, model string) error {
	var last string
	return m.client.Pull(ctx, model, func(p PullProgress) {
		if p.Status != "" && p.Status != last {
			last = p.Status
			m.logger.Debug("pull status", "model", model, "status", p.Status)
		}
	})
}

// retry repeats fn on transient failures with exponential backoff.
func (m *Manager) retry(ctx context.Context, model string, action Action, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	if m.opts.RetryInterval > 0 {
		b.InitialInterval = m.opts.RetryInterval
	}
	b.MaxElapsedTime = 0

	var policy backoff.BackOff = b
	if m.opts.MaxRetries >= 0 {
		policy = backoff.WithMaxRetries(b, uint64(m.opts.MaxRetries))
	}

	op := func() error {
		err := fn()
		if err != nil && !isRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, delay time.Duration) {
		m.logger.Warn("retrying after transient error",
			"model", model,
			"action", action,
			"delay", delay,
			"error", err,
		)
	}

	return backoff.RetryNotify(op, backoff.WithContext(policy, ctx), notify)
}

func (m *Manager) settle(ctx context.Context, model string, action Action) error {
	switch action {
	case ActionPull:
		return sleep(ctx, m.opts.PullSettle)
	case ActionLoad:
		if m.opts.PollReady {
			m.waitReady(ctx, model)
			return ctx.Err()
		}
		return sleep(ctx, m.opts.LoadSettle)
	}
	return nil
}

// waitReady polls /api/ps until model is resident or ReadyTimeout passes. A
// timeout or probe failure is logged and the caller proceeds anyway.
func (m *Manager) waitReady(ctx context.Context, model string) {
	pollCtx, cancel := context.WithTimeout(ctx, m.opts.ReadyTimeout)
	defer cancel()

	interval := m.opts.ReadyInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	for {
		running, err := m.client.Running(pollCtx)
		if err != nil {
			m.logger.Warn("readiness probe failed", "model", model, "error", err)
			return
		}
		for _, r := range running {
			if sameModel(r.Name, model) || sameModel(r.Model, model) {
				return
			}
		}

		if err := sleep(pollCtx, interval); err != nil {
			m.logger.Warn("model not reported ready before timeout", "model", model, "timeout", m.opts.ReadyTimeout)
			return
		}
	}
}

// sameModel compares model names, treating a missing tag as ":latest".
func sameModel(a, b string) bool {
	if !strings.Contains(a, ":") {
		a += ":latest"
	}
	if !strings.Contains(b, ":") {
		b += ":latest"
	}
	return a == b
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
