// Package integration wires the full engine pipeline together for
// end-to-end testing: YAML definitions loaded from testdata, an in-memory
// instance store, and a real dispatcher draining into recording executors.
package integration

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/resolvehq/caseflow/internal/definition"
	"github.com/resolvehq/caseflow/internal/dispatch"
	"github.com/resolvehq/caseflow/internal/engine"
	"github.com/resolvehq/caseflow/internal/script"
	"github.com/resolvehq/caseflow/internal/store"
	"github.com/resolvehq/caseflow/model"
)

// Harness encapsulates a fully wired engine with its asynchronous
// dispatcher running, for lifecycle tests that observe executed actions.
type Harness struct {
	t *testing.T

	Registry   *definition.Registry
	Store      *store.MemoryInstanceStore
	Dedup      *dispatch.MemoryDedupStore
	Executors  *RecordingExecutors
	Dispatcher *dispatch.Dispatcher
	Engine     *engine.Engine
}

// Option configures the test harness.
type Option func(*harnessConfig)

type harnessConfig struct {
	definitionDirs []string
	predicates     map[string]string
}

// WithDefinitions overrides the definition directories to load. Paths are
// relative to the package directory.
func WithDefinitions(dirs ...string) Option {
	return func(c *harnessConfig) {
		c.definitionDirs = dirs
	}
}

// WithPredicates registers script predicates before the engine starts.
func WithPredicates(exprs map[string]string) Option {
	return func(c *harnessConfig) {
		c.predicates = exprs
	}
}

// NewHarness builds and starts the full pipeline. All background work is
// stopped via t.Cleanup in reverse order.
func NewHarness(t *testing.T, opts ...Option) *Harness {
	t.Helper()

	cfg := harnessConfig{
		definitionDirs: []string{"testdata/workflows"},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	logger := zap.NewNop()

	loader := definition.NewLoader()
	defs, err := loader.LoadAll(cfg.definitionDirs)
	if err != nil {
		t.Fatalf("load definitions: %v", err)
	}
	if verrs := definition.NewValidator().Validate(defs); len(verrs) > 0 {
		t.Fatalf("definition validation: %v", verrs)
	}
	registry := definition.NewRegistry(defs)

	resolver := engine.NewResolver(engine.NewEvaluator(logger))
	if len(cfg.predicates) > 0 {
		provider := script.NewProvider(logger)
		if err := provider.Register(resolver.Evaluator(), cfg.predicates); err != nil {
			t.Fatalf("register predicates: %v", err)
		}
	}

	execs := NewRecordingExecutors()
	dedup := dispatch.NewMemoryDedupStore()
	dispatcher := dispatch.NewDispatcher(execs.Bundle(), dedup, time.Hour, 64, logger, nil)

	ctx, cancel := context.WithCancel(context.Background())
	dispatcher.Run(ctx)
	t.Cleanup(func() {
		cancel()
		dispatcher.Close()
	})

	instStore := store.NewMemoryInstanceStore()
	eng := engine.NewEngine(registry, instStore, resolver, dispatcher, logger, nil)

	return &Harness{
		t:          t,
		Registry:   registry,
		Store:      instStore,
		Dedup:      dedup,
		Executors:  execs,
		Dispatcher: dispatcher,
		Engine:     eng,
	}
}

// RecordingExecutors captures every executed command in order across all
// four executor interfaces.
type RecordingExecutors struct {
	mu   sync.Mutex
	cmds []model.ActionCommand
}

// NewRecordingExecutors creates an empty recorder.
func NewRecordingExecutors() *RecordingExecutors {
	return &RecordingExecutors{}
}

// Bundle routes all command kinds to the recorder.
func (r *RecordingExecutors) Bundle() dispatch.Executors {
	return dispatch.Executors{
		Notifier:      r,
		StatusUpdater: r,
		Assigner:      r,
		Escalator:     r,
	}
}

func (r *RecordingExecutors) record(cmd model.ActionCommand) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cmds = append(r.cmds, cmd)
}

func (r *RecordingExecutors) Notify(_ context.Context, cmd model.ActionCommand) error {
	r.record(cmd)
	return nil
}

func (r *RecordingExecutors) UpdateStatus(_ context.Context, cmd model.ActionCommand) error {
	r.record(cmd)
	return nil
}

func (r *RecordingExecutors) Assign(_ context.Context, cmd model.ActionCommand) error {
	r.record(cmd)
	return nil
}

func (r *RecordingExecutors) Escalate(_ context.Context, cmd model.ActionCommand) error {
	r.record(cmd)
	return nil
}

// Commands returns a snapshot of everything executed so far.
func (r *RecordingExecutors) Commands() []model.ActionCommand {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.ActionCommand, len(r.cmds))
	copy(out, r.cmds)
	return out
}

// WaitFor blocks until at least n commands have executed or the timeout
// expires, then returns the snapshot. Dispatch is asynchronous, so tests
// must wait rather than assert immediately.
func (r *RecordingExecutors) WaitFor(t *testing.T, n int, timeout time.Duration) []model.ActionCommand {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		got := r.Commands()
		if len(got) >= n {
			return got
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d executed commands, have %d", n, len(got))
		}
		time.Sleep(5 * time.Millisecond)
	}
}
