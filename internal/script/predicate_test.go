package script

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/resolvehq/caseflow/internal/engine"
)

func TestProvider_compileAndEvaluate(t *testing.T) {
	p := NewProvider(zap.NewNop())
	if err := p.Compile("high_priority", `payload.priority === "High"`); err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	pred := p.Predicate("high_priority")

	if !pred(map[string]any{"priority": "High"}, engine.EvalContext{Now: time.Now()}) {
		t.Error("predicate should be true for High priority payload")
	}
	if pred(map[string]any{"priority": "Low"}, engine.EvalContext{Now: time.Now()}) {
		t.Error("predicate should be false for Low priority payload")
	}
}

func TestProvider_compileError(t *testing.T) {
	p := NewProvider(zap.NewNop())
	if err := p.Compile("broken", `payload.((`); err == nil {
		t.Fatal("Compile() with invalid syntax should return error")
	}
}

func TestProvider_contextFields(t *testing.T) {
	p := NewProvider(zap.NewNop())
	if err := p.Compile("stale", `ctx.elapsed_hours >= 48 && ctx.actor_role === "supervisor"`); err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	pred := p.Predicate("stale")

	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	ectx := engine.EvalContext{
		Now:            now,
		StageEnteredAt: now.Add(-49 * time.Hour),
		ActorRole:      "supervisor",
	}
	if !pred(nil, ectx) {
		t.Error("predicate should be true after 49h for supervisor")
	}

	ectx.StageEnteredAt = now.Add(-10 * time.Hour)
	if pred(nil, ectx) {
		t.Error("predicate should be false after only 10h")
	}
}

func TestProvider_runtimeErrorFailsClosed(t *testing.T) {
	p := NewProvider(zap.NewNop())
	if err := p.Compile("throws", `(function(){ throw new Error("boom"); })()`); err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	pred := p.Predicate("throws")

	if pred(nil, engine.EvalContext{Now: time.Now()}) {
		t.Error("predicate must fail closed on script error")
	}
}

func TestProvider_nonBooleanFailsClosed(t *testing.T) {
	p := NewProvider(zap.NewNop())
	if err := p.Compile("stringy", `"yes"`); err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	pred := p.Predicate("stringy")

	if pred(nil, engine.EvalContext{Now: time.Now()}) {
		t.Error("predicate must fail closed on non-boolean result")
	}
}

func TestProvider_unknownNameFailsClosed(t *testing.T) {
	p := NewProvider(zap.NewNop())
	pred := p.Predicate("never_compiled")

	if pred(nil, engine.EvalContext{Now: time.Now()}) {
		t.Error("predicate must fail closed for unknown name")
	}
}

func TestProvider_register(t *testing.T) {
	p := NewProvider(zap.NewNop())
	eval := engine.NewEvaluator(zap.NewNop())

	err := p.Register(eval, map[string]string{
		"always_yes": `true`,
		"payload_ok": `payload.ok === true`,
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if len(p.Names()) != 2 {
		t.Errorf("Names() = %v, want 2 entries", p.Names())
	}
}

func TestProvider_registerAbortsOnCompileError(t *testing.T) {
	p := NewProvider(zap.NewNop())
	eval := engine.NewEvaluator(zap.NewNop())

	err := p.Register(eval, map[string]string{
		"broken": `((`,
	})
	if err == nil {
		t.Fatal("Register() with invalid expression should return error")
	}
}

func TestProvider_evaluationsAreIsolated(t *testing.T) {
	p := NewProvider(zap.NewNop())
	// A script that tries to smuggle state across evaluations via a global.
	if err := p.Compile("counter", `globalThis.n = (globalThis.n || 0) + 1; n === 1`); err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	pred := p.Predicate("counter")

	ectx := engine.EvalContext{Now: time.Now()}
	if !pred(nil, ectx) {
		t.Error("first evaluation should see a fresh VM")
	}
	if !pred(nil, ectx) {
		t.Error("second evaluation should also see a fresh VM")
	}
}
