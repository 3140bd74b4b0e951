// Package dispatch executes the action commands planned by the workflow
// engine. Execution is asynchronous and at-least-once: batches are queued,
// deduplicated by instance version, and individual failures never roll back
// the transition that produced them.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/resolvehq/caseflow/internal/observability"
	"github.com/resolvehq/caseflow/model"
)

// Notifier delivers a planned notification to its audience.
type Notifier interface {
	Notify(ctx context.Context, cmd model.ActionCommand) error
}

// StatusUpdater applies a planned complaint status change.
type StatusUpdater interface {
	UpdateStatus(ctx context.Context, cmd model.ActionCommand) error
}

// Assigner applies a planned assignment, either to a specific user or by
// picking an available user in the department.
type Assigner interface {
	Assign(ctx context.Context, cmd model.ActionCommand) error
}

// Escalator applies a planned escalation, including any priority bump.
type Escalator interface {
	Escalate(ctx context.Context, cmd model.ActionCommand) error
}

// Executors bundles the per-kind executors a dispatcher routes to.
// A nil executor causes commands of that kind to fail.
type Executors struct {
	Notifier      Notifier
	StatusUpdater StatusUpdater
	Assigner      Assigner
	Escalator     Escalator
}

// batch is one queued unit of work: all commands from a single stage entry.
type batch struct {
	instanceID string
	version    int
	cmds       []model.ActionCommand
}

// Dispatcher queues action batches and executes them on a single worker
// goroutine, preserving batch order. Enqueueing never blocks: when the
// queue is full the batch is dropped and logged.
type Dispatcher struct {
	execs   Executors
	dedup   DedupStore
	ttl     time.Duration
	queue   chan batch
	logger  *zap.Logger
	metrics *observability.Metrics

	wg      sync.WaitGroup
	closeMu sync.Mutex
	closed  bool
}

// NewDispatcher creates a dispatcher with the given queue size.
// dedup and metrics may be nil.
func NewDispatcher(execs Executors, dedup DedupStore, ttl time.Duration, queueSize int, logger *zap.Logger, metrics *observability.Metrics) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Dispatcher{
		execs:   execs,
		dedup:   dedup,
		ttl:     ttl,
		queue:   make(chan batch, queueSize),
		logger:  logger,
		metrics: metrics,
	}
}

// Run consumes the queue until ctx is cancelled and the queue is closed.
// Call Close to stop accepting batches and drain the remaining ones.
func (d *Dispatcher) Run(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for b := range d.queue {
			d.execute(ctx, b)
			if d.metrics != nil {
				d.metrics.SetDispatchQueueDepth(len(d.queue))
			}
		}
	}()
}

// Close stops accepting new batches and waits for queued ones to finish.
func (d *Dispatcher) Close() {
	d.closeMu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.closeMu.Unlock()
	d.wg.Wait()
}

// Dispatch enqueues a batch of commands for an instance version. It never
// blocks the caller: if the queue is full the batch is dropped with an
// error log, relying on the SLA poller to surface the stuck instance.
func (d *Dispatcher) Dispatch(ctx context.Context, instanceID string, version int, cmds []model.ActionCommand) {
	if len(cmds) == 0 {
		return
	}

	d.closeMu.Lock()
	if d.closed {
		d.closeMu.Unlock()
		d.logger.Error("dispatcher closed, dropping action batch",
			zap.String("instance_id", instanceID),
			zap.Int("version", version),
		)
		return
	}
	select {
	case d.queue <- batch{instanceID: instanceID, version: version, cmds: cmds}:
		if d.metrics != nil {
			d.metrics.SetDispatchQueueDepth(len(d.queue))
		}
	default:
		d.logger.Error("dispatch queue full, dropping action batch",
			zap.String("instance_id", instanceID),
			zap.Int("version", version),
			zap.Int("commands", len(cmds)),
		)
	}
	d.closeMu.Unlock()
}

// execute runs one batch: dedup check, commands in declaration order, then
// dedup mark. A failed command is logged and counted but does not stop the
// rest of the batch.
func (d *Dispatcher) execute(ctx context.Context, b batch) {
	ctx, span := observability.StartSpan(ctx, "dispatch.execute",
		observability.AttrInstanceID.String(b.instanceID),
	)
	defer span.End()

	key := FormatDedupKey(b.instanceID, b.version)

	if d.dedup != nil {
		seen, err := d.dedup.Seen(ctx, key)
		if err != nil {
			d.logger.Warn("dedup lookup failed, executing batch anyway",
				zap.String("key", key),
				zap.Error(err),
			)
		} else if seen {
			d.logger.Debug("skipping already delivered batch",
				zap.String("key", key),
			)
			if d.metrics != nil {
				for _, cmd := range b.cmds {
					d.metrics.RecordActionDedupSkip(string(cmd.Kind))
				}
			}
			return
		}
	}

	for _, cmd := range b.cmds {
		start := time.Now()
		cctx, cspan := observability.StartSpan(ctx, "dispatch.command",
			observability.AttrActionKind.String(string(cmd.Kind)),
			observability.AttrComplaintID.String(cmd.ComplaintID),
		)
		err := d.executeOne(cctx, cmd)
		observability.EndSpanWithError(cspan, err)
		outcome := "success"
		if err != nil {
			outcome = "failure"
			d.logger.Warn("action execution failed",
				zap.String("instance_id", b.instanceID),
				zap.String("kind", string(cmd.Kind)),
				zap.String("complaint_id", cmd.ComplaintID),
				zap.Error(err),
			)
		}
		if d.metrics != nil {
			d.metrics.RecordActionDispatch(string(cmd.Kind), outcome, time.Since(start))
		}
	}

	if d.dedup != nil {
		if err := d.dedup.Mark(ctx, key, d.ttl); err != nil {
			d.logger.Warn("dedup mark failed",
				zap.String("key", key),
				zap.Error(err),
			)
		}
	}
}

func (d *Dispatcher) executeOne(ctx context.Context, cmd model.ActionCommand) error {
	switch cmd.Kind {
	case model.CommandNotify:
		if d.execs.Notifier == nil {
			return fmt.Errorf("no notifier configured")
		}
		return d.execs.Notifier.Notify(ctx, cmd)
	case model.CommandUpdateStatus:
		if d.execs.StatusUpdater == nil {
			return fmt.Errorf("no status updater configured")
		}
		return d.execs.StatusUpdater.UpdateStatus(ctx, cmd)
	case model.CommandAssignAuto, model.CommandAssignUser:
		if d.execs.Assigner == nil {
			return fmt.Errorf("no assigner configured")
		}
		return d.execs.Assigner.Assign(ctx, cmd)
	case model.CommandEscalate:
		if d.execs.Escalator == nil {
			return fmt.Errorf("no escalator configured")
		}
		return d.execs.Escalator.Escalate(ctx, cmd)
	default:
		return fmt.Errorf("unknown command kind %q", cmd.Kind)
	}
}
