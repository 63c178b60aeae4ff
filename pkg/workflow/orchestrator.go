package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"vocalcommit/pkg/editor"
	"vocalcommit/pkg/events"
	"vocalcommit/pkg/eventlog"
	"vocalcommit/pkg/gateway"
	"vocalcommit/pkg/gitops"
	"vocalcommit/pkg/limiter"
	"vocalcommit/pkg/logx"
	"vocalcommit/pkg/metrics"
	"vocalcommit/pkg/planner"
)

// Sentinel errors returned by orchestrator operations.
var (
	ErrNotFound      = errors.New("task not found")
	ErrDuplicate     = errors.New("an equivalent request is already pending or active")
	ErrSuspended     = errors.New("this request was previously rejected and is suspended")
	ErrAlreadyPushed = errors.New("task was already pushed to remote, use revert instead of rollback")
	ErrNotHeadCommit = errors.New("task's commit is no longer at HEAD, rollback refused")
)

// Planner produces a change plan from a transcript.
type Planner interface {
	Plan(ctx context.Context, transcript string, uiEditing bool) (*planner.Plan, error)
}

// FileEditor applies an instruction to a set of target files.
type FileEditor interface {
	EditBatch(ctx context.Context, instruction string, targets []string) (*editor.BatchResult, error)
}

// Orchestrator owns every task and is the only writer of task state. All
// mutations go through its methods under one mutex.
type Orchestrator struct {
	mu        sync.Mutex
	tasks     map[string]*Task
	order     []string
	pending   map[string]string    // dedup key -> task id, pending or active only
	suspended map[string]time.Time // dedup key -> rejection time

	planner Planner
	editor  FileEditor
	repo    gitops.Repo
	window  *limiter.Window

	broadcaster *events.Broadcaster
	audit       *eventlog.Writer
	logger      *logx.Logger

	suspensionTTL time.Duration
	runTimeout    time.Duration
	now           func() time.Time
	wg            sync.WaitGroup
}

// Options configures an Orchestrator. Audit is optional.
type Options struct {
	Planner     Planner
	Editor      FileEditor
	Repo        gitops.Repo
	Window      *limiter.Window
	Broadcaster *events.Broadcaster
	Audit       *eventlog.Writer
	// SuspensionTTL bounds how long a rejected transcript stays blocked.
	// Zero blocks it for the lifetime of the process.
	SuspensionTTL time.Duration
}

const defaultRunTimeout = 10 * time.Minute

// New creates an orchestrator with an empty in-memory task store.
func New(opts Options) *Orchestrator {
	b := opts.Broadcaster
	if b == nil {
		b = events.NewBroadcaster()
	}
	return &Orchestrator{
		tasks:         make(map[string]*Task),
		pending:       make(map[string]string),
		suspended:     make(map[string]time.Time),
		planner:       opts.Planner,
		editor:        opts.Editor,
		repo:          opts.Repo,
		window:        opts.Window,
		broadcaster:   b,
		audit:         opts.Audit,
		logger:        logx.NewLogger("workflow"),
		suspensionTTL: opts.SuspensionTTL,
		runTimeout:    defaultRunTimeout,
		now:           time.Now,
	}
}

// Broadcaster exposes the event stream for the web UI.
func (o *Orchestrator) Broadcaster() *events.Broadcaster {
	return o.broadcaster
}

// Wait blocks until all background runs have finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) emit(ev events.Event) {
	ev.Timestamp = o.now().UTC()
	o.broadcaster.Broadcast(ev)
	if o.audit != nil {
		if err := o.audit.Write(ev); err != nil {
			o.logger.Warn("Failed to persist event %s: %v", ev.Kind, err)
		}
	}
}

// transition moves a task to a new state. Caller holds the mutex.
func (o *Orchestrator) transition(t *Task, to Status) error {
	if !CanTransition(t.Status, to) {
		return fmt.Errorf("invalid transition %s -> %s for task %s", t.Status, to, t.ID)
	}
	metrics.TasksByState.WithLabelValues(string(t.Status)).Dec()
	metrics.TasksByState.WithLabelValues(string(to)).Inc()
	metrics.TaskTransitions.WithLabelValues(string(to)).Inc()
	t.Status = to
	t.UpdatedAt = o.now()
	return nil
}

// isSuspendedLocked checks the suspension set, expiring stale entries.
func (o *Orchestrator) isSuspendedLocked(key string) bool {
	at, ok := o.suspended[key]
	if !ok {
		return false
	}
	if o.suspensionTTL > 0 && o.now().Sub(at) > o.suspensionTTL {
		delete(o.suspended, key)
		return false
	}
	return true
}

// Submit creates a task for the transcript. Duplicate transcripts are
// refused while an equivalent task is pending or active, and transcripts
// whose earlier task was rejected stay suspended. Plan generation happens
// before the task exists: a rate-limited model means no task is created.
func (o *Orchestrator) Submit(ctx context.Context, transcript string, uiEditing bool) (*Task, error) {
	key := DedupKey(transcript)

	o.mu.Lock()
	if o.isSuspendedLocked(key) {
		o.mu.Unlock()
		return nil, ErrSuspended
	}
	if id, ok := o.pending[key]; ok {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w (task %s)", ErrDuplicate, id)
	}
	o.mu.Unlock()

	// Plan generation may block in the rate limiter; never hold the lock
	// across it.
	plan, err := o.planner.Plan(ctx, transcript, uiEditing)
	if err != nil {
		if gateway.IsRateLimit(err) {
			o.logger.Warn("Task creation aborted, model rate limited: %v", err)
		}
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	// Re-check: an identical transcript may have arrived while planning.
	if o.isSuspendedLocked(key) {
		return nil, ErrSuspended
	}
	if id, ok := o.pending[key]; ok {
		return nil, fmt.Errorf("%w (task %s)", ErrDuplicate, id)
	}

	now := o.now()
	t := &Task{
		ID:         uuid.NewString(),
		Transcript: transcript,
		DedupKey:   key,
		Plan:       plan,
		Status:     StatusPendingDevApproval,
		Message:    "Awaiting developer approval",
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	o.tasks[t.ID] = t
	o.order = append(o.order, t.ID)
	o.pending[key] = t.ID
	metrics.TasksByState.WithLabelValues(string(StatusPendingDevApproval)).Inc()

	o.logger.Info("Created task %s: %s", t.ID, plan.Description)
	o.emit(events.Event{
		Kind:    events.KindTaskCreated,
		TaskID:  t.ID,
		Summary: "Task created: " + plan.Description,
		Payload: map[string]any{"target_files": plan.TargetFiles, "priority": plan.Priority},
	})
	return t.clone(), nil
}

// Approve moves a pending task to active and starts the edit-and-commit
// run in the background. The call returns immediately.
func (o *Orchestrator) Approve(id string) (*Task, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	t, ok := o.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	if err := o.transition(t, StatusActive); err != nil {
		return nil, err
	}
	t.Message = "Approved, applying changes"

	o.logger.Info("Task %s approved, starting run", id)
	o.emit(events.Event{Kind: events.KindTaskApproved, TaskID: id, Summary: "Task approved, changes in progress"})

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.run(id)
	}()
	return t.clone(), nil
}

// Reject moves a pending task to rejected and suspends its transcript so
// resubmissions are refused.
func (o *Orchestrator) Reject(id string) (*Task, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	t, ok := o.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	if err := o.transition(t, StatusRejected); err != nil {
		return nil, err
	}
	t.Message = "Rejected by developer"
	o.suspended[t.DedupKey] = o.now()
	delete(o.pending, t.DedupKey)

	o.logger.Info("Task %s rejected, transcript suspended", id)
	o.emit(events.Event{Kind: events.KindTaskRejected, TaskID: id, Summary: "Task rejected, equivalent requests suspended"})
	return t.clone(), nil
}

// run executes the active phase: edit every target file, then commit
// whatever succeeded. Runs in its own goroutine per task.
func (o *Orchestrator) run(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), o.runTimeout)
	defer cancel()

	o.mu.Lock()
	t, ok := o.tasks[id]
	if !ok || t.Status != StatusActive {
		o.mu.Unlock()
		return
	}
	description := t.Plan.Description
	targets := append([]string(nil), t.Plan.TargetFiles...)
	o.mu.Unlock()

	batch, editErr := o.editor.EditBatch(ctx, description, targets)

	// Commit only a batch that ran to the end without a fatal error. A
	// strict-mode abort or a rate-limit abort leaves its partial writes
	// uncommitted in the working tree.
	var commit *gitops.CommitRecord
	var commitErr error
	if editErr == nil && batch != nil && batch.Status != editor.StatusError && len(batch.Modified) > 0 {
		commit, commitErr = o.repo.CommitLocal(ctx, description, id, batch.Modified, assessRisk(batch))
		if commitErr != nil {
			metrics.CommitsTotal.WithLabelValues("error").Inc()
		} else {
			metrics.CommitsTotal.WithLabelValues("success").Inc()
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok = o.tasks[id]
	if !ok || t.Status != StatusActive {
		return
	}
	if batch != nil {
		t.ModifiedFiles = batch.Modified
		t.FailedFiles = batch.Failures
	}
	delete(o.pending, t.DedupKey)

	switch {
	case editErr != nil && gateway.IsRateLimit(editErr):
		_ = o.transition(t, StatusFailed)
		t.Message = "Model rate limit exhausted during editing. Rotate or top up the API credential and resubmit."
		o.logger.Error("Task %s failed on rate limit: %v", id, editErr)
		o.emit(events.Event{Kind: events.KindTaskFailed, TaskID: id, Summary: t.Message,
			Payload: map[string]any{"reason": "rate_limit"}})

	case commitErr != nil:
		_ = o.transition(t, StatusFailed)
		t.Message = fmt.Sprintf("Files were edited but the commit failed: %v", commitErr)
		o.logger.Error("Task %s commit failed: %v", id, commitErr)
		o.emit(events.Event{Kind: events.KindTaskFailed, TaskID: id, Summary: t.Message,
			Payload: map[string]any{"reason": "commit_error"}})

	case commit == nil:
		_ = o.transition(t, StatusFailed)
		t.Message = "No files could be modified"
		if len(t.ModifiedFiles) > 0 {
			t.Message = fmt.Sprintf("Edit batch failed after %d of %d files, nothing was committed",
				len(t.ModifiedFiles), len(t.ModifiedFiles)+len(t.FailedFiles))
		} else if editErr != nil {
			t.Message = fmt.Sprintf("No files could be modified: %v", editErr)
		}
		o.logger.Error("Task %s failed, nothing to commit", id)
		o.emit(events.Event{Kind: events.KindTaskFailed, TaskID: id, Summary: t.Message,
			Payload: map[string]any{"reason": "no_changes"}})

	default:
		_ = o.transition(t, StatusCompleted)
		t.Commit = commit
		t.AwaitingPushApproval = true
		if len(t.FailedFiles) > 0 {
			t.Message = fmt.Sprintf("Committed %d of %d files locally (commit %s). Awaiting push approval.",
				len(t.ModifiedFiles), len(t.ModifiedFiles)+len(t.FailedFiles), commit.ShortHash)
		} else {
			t.Message = fmt.Sprintf("Committed locally (commit %s). Awaiting push approval.", commit.ShortHash)
		}
		o.logger.Info("Task %s completed: %s", id, commit.ShortHash)
		o.emit(events.Event{Kind: events.KindTaskCompleted, TaskID: id, Summary: t.Message,
			Payload: map[string]any{"commit": commit.ShortHash, "modified_files": t.ModifiedFiles}})
	}
}

// assessRisk derives a deterministic risk line for the commit message from
// the batch outcome.
func assessRisk(batch *editor.BatchResult) *gitops.RiskAssessment {
	risk := "low"
	impact := "minor"
	switch n := len(batch.Modified); {
	case n > 5:
		risk = "high"
		impact = "major"
	case n > 2:
		risk = "medium"
		impact = "moderate"
	}
	confidence := 0.85
	if len(batch.Failures) > 0 {
		confidence = 0.6
	}
	return &gitops.RiskAssessment{Risk: risk, Confidence: confidence, Impact: impact}
}

// ApprovePush pushes a completed task's commit to the remote. A push
// failure leaves the task completed and recoverable; the commit is still
// local.
func (o *Orchestrator) ApprovePush(ctx context.Context, id string) (*Task, error) {
	o.mu.Lock()
	t, ok := o.tasks[id]
	if !ok {
		o.mu.Unlock()
		return nil, ErrNotFound
	}
	if t.Status != StatusCompleted || !t.AwaitingPushApproval {
		o.mu.Unlock()
		return nil, fmt.Errorf("task %s is not awaiting push approval (status %s)", id, t.Status)
	}
	if t.busy {
		o.mu.Unlock()
		return nil, fmt.Errorf("a push or rollback for task %s is already in progress", id)
	}
	t.busy = true
	o.mu.Unlock()

	hash, pushErr := o.repo.PushCommitted(ctx)

	o.mu.Lock()
	defer o.mu.Unlock()
	t.busy = false
	if pushErr != nil {
		metrics.PushesTotal.WithLabelValues("error").Inc()
		t.Message = fmt.Sprintf("Push failed, changes remain committed locally: %v", pushErr)
		t.UpdatedAt = o.now()
		o.logger.Error("Push for task %s failed: %v", id, pushErr)
		return t.clone(), fmt.Errorf("push failed: %w", pushErr)
	}

	metrics.PushesTotal.WithLabelValues("success").Inc()
	if err := o.transition(t, StatusApproved); err != nil {
		return nil, err
	}
	t.Pushed = true
	t.PushedHash = hash
	t.AwaitingPushApproval = false
	t.Message = fmt.Sprintf("Pushed to remote (%s)", hash)

	o.logger.Info("Task %s pushed: %s", id, hash)
	o.emit(events.Event{Kind: events.KindTaskPushed, TaskID: id, Summary: t.Message,
		Payload: map[string]any{"commit": hash}})
	return t.clone(), nil
}

// RollbackTask undoes a completed task's local commit. Once the commit has
// been pushed, rollback is refused; published history is only undone by a
// forward revert. Rollback also requires the task's commit to still be at
// HEAD, otherwise resetting would discard someone else's commit.
func (o *Orchestrator) RollbackTask(ctx context.Context, id string, hard bool) (*Task, error) {
	o.mu.Lock()
	t, ok := o.tasks[id]
	if !ok {
		o.mu.Unlock()
		return nil, ErrNotFound
	}
	if t.Pushed {
		o.mu.Unlock()
		return nil, ErrAlreadyPushed
	}
	if !CanTransition(t.Status, StatusRolledBack) {
		o.mu.Unlock()
		return nil, fmt.Errorf("task %s cannot be rolled back from status %s", id, t.Status)
	}
	if t.busy {
		o.mu.Unlock()
		return nil, fmt.Errorf("a push or rollback for task %s is already in progress", id)
	}
	t.busy = true
	var commitHash string
	if t.Commit != nil {
		commitHash = t.Commit.Hash
	}
	o.mu.Unlock()

	release := func() {
		o.mu.Lock()
		t.busy = false
		o.mu.Unlock()
	}

	// Resetting HEAD only makes sense while this task's commit is still
	// the newest one on the branch.
	last, err := o.repo.LastCommit(ctx)
	if err != nil {
		release()
		return nil, fmt.Errorf("rollback failed: %w", err)
	}
	if commitHash == "" || last == nil || last.Hash != commitHash {
		release()
		return nil, fmt.Errorf("%w (task %s)", ErrNotHeadCommit, id)
	}

	rolled, err := o.repo.Rollback(ctx, hard)
	if err != nil {
		release()
		return nil, fmt.Errorf("rollback failed: %w", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	t.busy = false
	if err := o.transition(t, StatusRolledBack); err != nil {
		return nil, err
	}
	t.AwaitingPushApproval = false
	t.Message = fmt.Sprintf("Rolled back commit %s (hard=%v)", rolled.ShortHash, hard)

	o.logger.Info("Task %s rolled back: %s", id, rolled.ShortHash)
	o.emit(events.Event{Kind: events.KindTaskRolledBack, TaskID: id, Summary: t.Message,
		Payload: map[string]any{"commit": rolled.ShortHash, "hard": hard}})
	return t.clone(), nil
}

// ClearSuspended removes every suspended transcript and returns how many
// were cleared.
func (o *Orchestrator) ClearSuspended() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	n := len(o.suspended)
	o.suspended = make(map[string]time.Time)
	if n > 0 {
		o.logger.Info("Cleared %d suspended transcripts", n)
		o.emit(events.Event{Kind: events.KindSuspendsCleared,
			Summary: fmt.Sprintf("Cleared %d suspended requests", n)})
	}
	return n
}

// Get returns a snapshot of one task.
func (o *Orchestrator) Get(id string) (*Task, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return t.clone(), nil
}

// List returns task snapshots, newest first, optionally filtered by
// status.
func (o *Orchestrator) List(status Status) []*Task {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]*Task, 0, len(o.order))
	for i := len(o.order) - 1; i >= 0; i-- {
		t := o.tasks[o.order[i]]
		if status != "" && t.Status != status {
			continue
		}
		out = append(out, t.clone())
	}
	return out
}

// RateStatus reports the limiter budget for the UI.
func (o *Orchestrator) RateStatus() (remaining int, max int, resetIn time.Duration) {
	remaining, resetIn = o.window.Status()
	return remaining, o.window.MaxRequests(), resetIn
}
