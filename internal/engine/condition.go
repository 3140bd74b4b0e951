// Package engine computes transition decisions, status changes, and
// progress/SLA metrics over immutable workflow definitions. Everything here
// is a pure function of its inputs except where declared side effects are
// handed to an external dispatcher.
package engine

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/resolvehq/caseflow/model"
)

// EvalContext is the runtime context a transition guard is evaluated
// against. It is assembled by the resolver per call and never retained.
type EvalContext struct {
	Now            time.Time
	StageEnteredAt time.Time
	ActorRole      string
	Payload        map[string]any
}

// Predicate is a caller-supplied function backing a CUSTOM condition. It
// receives the condition's opaque payload and the evaluation context, and
// must be free of side effects.
type Predicate func(payload map[string]any, ectx EvalContext) bool

// Evaluator decides whether transition guards are satisfied. Evaluation has
// no side effects; the same inputs always produce the same answer, which
// keeps resolution deterministic and testable.
type Evaluator struct {
	mu         sync.RWMutex
	predicates map[string]Predicate
	logger     *zap.Logger
}

// NewEvaluator creates an Evaluator with an empty predicate registry.
func NewEvaluator(logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{
		predicates: make(map[string]Predicate),
		logger:     logger,
	}
}

// RegisterPredicate registers a CUSTOM condition predicate under a name.
// Registering nil removes the predicate.
func (e *Evaluator) RegisterPredicate(name string, fn Predicate) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if fn == nil {
		delete(e.predicates, name)
		return
	}
	e.predicates[name] = fn
}

// predicate looks up a registered predicate by name.
func (e *Evaluator) predicate(name string) (Predicate, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	fn, ok := e.predicates[name]
	return fn, ok
}

// IsSatisfied reports whether a transition guard currently holds. Unknown
// condition types, missing TIME_BASED budgets, and unregistered CUSTOM
// predicates all fail closed: the transition is withheld, never offered on
// a guess.
func (e *Evaluator) IsSatisfied(cond model.Condition, ectx EvalContext) bool {
	switch cond.Type {
	case model.ConditionAlways:
		return true

	case model.ConditionTimeBased:
		if cond.Hours <= 0 {
			return false
		}
		if ectx.StageEnteredAt.IsZero() {
			return false
		}
		elapsed := ectx.Now.Sub(ectx.StageEnteredAt)
		return elapsed.Hours() >= cond.Hours

	case model.ConditionUserRole:
		// Exact string match; roles have no hierarchy.
		return cond.Role != "" && ectx.ActorRole == cond.Role

	case model.ConditionCustom:
		fn, ok := e.predicate(cond.Predicate)
		if !ok {
			e.logger.Warn("no predicate registered for CUSTOM condition, treating as not satisfied",
				zap.String("predicate", cond.Predicate),
			)
			return false
		}
		return fn(cond.Payload, ectx)

	default:
		e.logger.Warn("unknown condition type, treating as not satisfied",
			zap.String("type", string(cond.Type)),
		)
		return false
	}
}
