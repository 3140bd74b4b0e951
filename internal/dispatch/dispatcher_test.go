package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/resolvehq/caseflow/model"
)

// recordingExecutors records every executed command in order.
type recordingExecutors struct {
	mu        sync.Mutex
	cmds      []model.ActionCommand
	notifyErr error
}

func (r *recordingExecutors) record(cmd model.ActionCommand) {
	r.mu.Lock()
	r.cmds = append(r.cmds, cmd)
	r.mu.Unlock()
}

func (r *recordingExecutors) executed() []model.ActionCommand {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.ActionCommand, len(r.cmds))
	copy(out, r.cmds)
	return out
}

func (r *recordingExecutors) Notify(_ context.Context, cmd model.ActionCommand) error {
	r.record(cmd)
	return r.notifyErr
}

func (r *recordingExecutors) UpdateStatus(_ context.Context, cmd model.ActionCommand) error {
	r.record(cmd)
	return nil
}

func (r *recordingExecutors) Assign(_ context.Context, cmd model.ActionCommand) error {
	r.record(cmd)
	return nil
}

func (r *recordingExecutors) Escalate(_ context.Context, cmd model.ActionCommand) error {
	r.record(cmd)
	return nil
}

func (r *recordingExecutors) all() Executors {
	return Executors{Notifier: r, StatusUpdater: r, Assigner: r, Escalator: r}
}

func newTestDispatcher(t *testing.T, execs Executors, dedup DedupStore) *Dispatcher {
	t.Helper()
	d := NewDispatcher(execs, dedup, time.Hour, 16, zap.NewNop(), nil)
	d.Run(context.Background())
	return d
}

func TestDispatcher_executesBatchInOrder(t *testing.T) {
	rec := &recordingExecutors{}
	d := newTestDispatcher(t, rec.all(), nil)

	cmds := []model.ActionCommand{
		{Kind: model.CommandNotify, ComplaintID: "c-1", Audience: model.AudienceComplainant},
		{Kind: model.CommandUpdateStatus, ComplaintID: "c-1", Status: model.StatusInProgress},
		{Kind: model.CommandAssignAuto, ComplaintID: "c-1", DepartmentID: "dept-1"},
		{Kind: model.CommandEscalate, ComplaintID: "c-1", Reason: "overdue"},
	}
	d.Dispatch(context.Background(), "inst-1", 2, cmds)
	d.Close()

	got := rec.executed()
	if len(got) != 4 {
		t.Fatalf("executed %d commands, want 4", len(got))
	}
	for i, cmd := range cmds {
		if got[i].Kind != cmd.Kind {
			t.Errorf("command %d kind = %q, want %q", i, got[i].Kind, cmd.Kind)
		}
	}
}

func TestDispatcher_failureDoesNotStopBatch(t *testing.T) {
	rec := &recordingExecutors{notifyErr: errors.New("smtp down")}
	d := newTestDispatcher(t, rec.all(), nil)

	cmds := []model.ActionCommand{
		{Kind: model.CommandNotify, ComplaintID: "c-1", Audience: model.AudienceComplainant},
		{Kind: model.CommandUpdateStatus, ComplaintID: "c-1", Status: model.StatusInProgress},
	}
	d.Dispatch(context.Background(), "inst-1", 2, cmds)
	d.Close()

	got := rec.executed()
	if len(got) != 2 {
		t.Fatalf("executed %d commands, want 2 (failure must not stop the batch)", len(got))
	}
	if got[1].Kind != model.CommandUpdateStatus {
		t.Errorf("second command kind = %q, want update_status", got[1].Kind)
	}
}

func TestDispatcher_dedupSkipsReplayedBatch(t *testing.T) {
	rec := &recordingExecutors{}
	dedup := NewMemoryDedupStore()
	d := newTestDispatcher(t, rec.all(), dedup)

	cmds := []model.ActionCommand{
		{Kind: model.CommandNotify, ComplaintID: "c-1", Audience: model.AudienceComplainant},
	}
	d.Dispatch(context.Background(), "inst-1", 2, cmds)
	d.Dispatch(context.Background(), "inst-1", 2, cmds)
	d.Close()

	if got := len(rec.executed()); got != 1 {
		t.Errorf("executed %d commands, want 1 (replay skipped)", got)
	}
}

func TestDispatcher_distinctVersionsBothExecute(t *testing.T) {
	rec := &recordingExecutors{}
	dedup := NewMemoryDedupStore()
	d := newTestDispatcher(t, rec.all(), dedup)

	cmds := []model.ActionCommand{
		{Kind: model.CommandNotify, ComplaintID: "c-1", Audience: model.AudienceComplainant},
	}
	d.Dispatch(context.Background(), "inst-1", 2, cmds)
	d.Dispatch(context.Background(), "inst-1", 3, cmds)
	d.Close()

	if got := len(rec.executed()); got != 2 {
		t.Errorf("executed %d commands, want 2 (distinct versions)", got)
	}
}

func TestDispatcher_emptyBatchIsNoop(t *testing.T) {
	rec := &recordingExecutors{}
	d := newTestDispatcher(t, rec.all(), nil)

	d.Dispatch(context.Background(), "inst-1", 2, nil)
	d.Close()

	if got := len(rec.executed()); got != 0 {
		t.Errorf("executed %d commands, want 0", got)
	}
}

func TestDispatcher_missingExecutorFailsCommand(t *testing.T) {
	rec := &recordingExecutors{}
	// Only a notifier; status updates have nowhere to go.
	execs := Executors{Notifier: rec}
	d := newTestDispatcher(t, execs, nil)

	cmds := []model.ActionCommand{
		{Kind: model.CommandUpdateStatus, ComplaintID: "c-1", Status: model.StatusClosed},
		{Kind: model.CommandNotify, ComplaintID: "c-1", Audience: model.AudienceComplainant},
	}
	d.Dispatch(context.Background(), "inst-1", 2, cmds)
	d.Close()

	got := rec.executed()
	if len(got) != 1 {
		t.Fatalf("executed %d commands, want 1", len(got))
	}
	if got[0].Kind != model.CommandNotify {
		t.Errorf("executed kind = %q, want notify", got[0].Kind)
	}
}

func TestDispatcher_queueFullDropsBatch(t *testing.T) {
	rec := &recordingExecutors{}
	// Size-1 queue with no worker running yet: second enqueue must drop.
	d := NewDispatcher(rec.all(), nil, time.Hour, 1, zap.NewNop(), nil)

	cmds := []model.ActionCommand{
		{Kind: model.CommandNotify, ComplaintID: "c-1", Audience: model.AudienceComplainant},
	}
	d.Dispatch(context.Background(), "inst-1", 2, cmds)
	d.Dispatch(context.Background(), "inst-2", 2, cmds)

	d.Run(context.Background())
	d.Close()

	got := rec.executed()
	if len(got) != 1 {
		t.Fatalf("executed %d commands, want 1 (overflow dropped)", len(got))
	}
}

func TestDispatcher_dispatchAfterCloseIsDropped(t *testing.T) {
	rec := &recordingExecutors{}
	d := newTestDispatcher(t, rec.all(), nil)
	d.Close()

	// Must not panic on a closed queue.
	d.Dispatch(context.Background(), "inst-1", 2, []model.ActionCommand{
		{Kind: model.CommandNotify, ComplaintID: "c-1"},
	})

	if got := len(rec.executed()); got != 0 {
		t.Errorf("executed %d commands, want 0", got)
	}
}

func TestLogExecutors_allKindsSucceed(t *testing.T) {
	execs := NewLogExecutors(zap.NewNop()).All()
	d := NewDispatcher(execs, nil, time.Hour, 16, zap.NewNop(), nil)
	d.Run(context.Background())

	d.Dispatch(context.Background(), "inst-1", 1, []model.ActionCommand{
		{Kind: model.CommandNotify, ComplaintID: "c-1", Audience: model.AudienceDepartment, Message: "new complaint"},
		{Kind: model.CommandUpdateStatus, ComplaintID: "c-1", Status: model.StatusInProgress, Reason: "triage started"},
		{Kind: model.CommandAssignUser, ComplaintID: "c-1", UserID: "user-7"},
		{Kind: model.CommandEscalate, ComplaintID: "c-1", Reason: "deadline passed", IncreasePriority: true},
	})
	d.Close()
}
