package dispatch

import (
	"context"

	"go.uber.org/zap"

	"github.com/resolvehq/caseflow/model"
)

// LogExecutors is a reference executor set that records every command to the
// log instead of calling external systems. It is the default when no real
// executors are wired in.
type LogExecutors struct {
	logger *zap.Logger
}

// NewLogExecutors creates executors that log each command at info level.
func NewLogExecutors(logger *zap.Logger) *LogExecutors {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogExecutors{logger: logger}
}

// All returns the executor bundle routing every kind to the log.
func (l *LogExecutors) All() Executors {
	return Executors{
		Notifier:      l,
		StatusUpdater: l,
		Assigner:      l,
		Escalator:     l,
	}
}

func (l *LogExecutors) Notify(_ context.Context, cmd model.ActionCommand) error {
	l.logger.Info("notify",
		zap.String("complaint_id", cmd.ComplaintID),
		zap.String("audience", string(cmd.Audience)),
		zap.String("message", cmd.Message),
	)
	return nil
}

func (l *LogExecutors) UpdateStatus(_ context.Context, cmd model.ActionCommand) error {
	l.logger.Info("update status",
		zap.String("complaint_id", cmd.ComplaintID),
		zap.String("status", string(cmd.Status)),
		zap.String("reason", cmd.Reason),
	)
	return nil
}

func (l *LogExecutors) Assign(_ context.Context, cmd model.ActionCommand) error {
	l.logger.Info("assign",
		zap.String("complaint_id", cmd.ComplaintID),
		zap.String("kind", string(cmd.Kind)),
		zap.String("department_id", cmd.DepartmentID),
		zap.String("user_id", cmd.UserID),
	)
	return nil
}

func (l *LogExecutors) Escalate(_ context.Context, cmd model.ActionCommand) error {
	l.logger.Info("escalate",
		zap.String("complaint_id", cmd.ComplaintID),
		zap.String("reason", cmd.Reason),
		zap.Bool("increase_priority", cmd.IncreasePriority),
	)
	return nil
}
