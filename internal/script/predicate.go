// Package script compiles JavaScript expressions into transition predicates.
// It backs CUSTOM conditions whose logic is configured rather than compiled
// in: an expression is evaluated against the condition payload and the
// runtime context, and must yield a boolean.
package script

import (
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/resolvehq/caseflow/internal/engine"
)

// Provider compiles named JavaScript expressions into engine predicates.
// Programs are compiled once; each evaluation runs in a fresh VM, so
// predicates cannot leak state between calls.
type Provider struct {
	mu       sync.RWMutex
	programs map[string]*goja.Program
	logger   *zap.Logger
}

// NewProvider creates an empty Provider.
func NewProvider(logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		programs: make(map[string]*goja.Program),
		logger:   logger,
	}
}

// Compile compiles a named expression. The expression must evaluate to a
// boolean; anything else fails closed at evaluation time.
func (p *Provider) Compile(name, expression string) error {
	prog, err := goja.Compile(name, expression, true)
	if err != nil {
		return fmt.Errorf("script: compiling predicate %q: %w", name, err)
	}
	p.mu.Lock()
	p.programs[name] = prog
	p.mu.Unlock()
	return nil
}

// Names returns the names of all compiled predicates.
func (p *Provider) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.programs))
	for name := range p.programs {
		names = append(names, name)
	}
	return names
}

// Register compiles all expressions and registers the resulting predicates
// on the evaluator. A compile failure aborts registration.
func (p *Provider) Register(eval *engine.Evaluator, expressions map[string]string) error {
	for name, expr := range expressions {
		if err := p.Compile(name, expr); err != nil {
			return err
		}
		eval.RegisterPredicate(name, p.Predicate(name))
	}
	return nil
}

// Predicate returns an engine.Predicate evaluating the named expression.
// The expression sees two globals: "payload" (the condition's opaque
// payload) and "ctx" with now, stage_entered_at (unix seconds),
// elapsed_hours, and actor_role. Script errors and non-boolean results
// fail closed.
func (p *Provider) Predicate(name string) engine.Predicate {
	return func(payload map[string]any, ectx engine.EvalContext) bool {
		p.mu.RLock()
		prog, ok := p.programs[name]
		p.mu.RUnlock()
		if !ok {
			p.logger.Warn("unknown script predicate", zap.String("name", name))
			return false
		}

		vm := goja.New()
		vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

		if payload == nil {
			payload = map[string]any{}
		}
		if err := vm.Set("payload", payload); err != nil {
			p.logger.Warn("script predicate setup failed",
				zap.String("name", name), zap.Error(err))
			return false
		}

		var elapsed float64
		if !ectx.StageEnteredAt.IsZero() {
			elapsed = ectx.Now.Sub(ectx.StageEnteredAt).Hours()
		}
		ctxObj := map[string]any{
			"now":              ectx.Now.Unix(),
			"stage_entered_at": stageEnteredUnix(ectx.StageEnteredAt),
			"elapsed_hours":    elapsed,
			"actor_role":       ectx.ActorRole,
		}
		if err := vm.Set("ctx", ctxObj); err != nil {
			p.logger.Warn("script predicate setup failed",
				zap.String("name", name), zap.Error(err))
			return false
		}

		result, err := vm.RunProgram(prog)
		if err != nil {
			p.logger.Warn("script predicate failed",
				zap.String("name", name), zap.Error(err))
			return false
		}

		b, ok := result.Export().(bool)
		if !ok {
			p.logger.Warn("script predicate returned non-boolean",
				zap.String("name", name),
				zap.String("value", result.String()))
			return false
		}
		return b
	}
}

func stageEnteredUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
