package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vocalcommit/pkg/editor"
	"vocalcommit/pkg/gateway"
	"vocalcommit/pkg/gitops"
	"vocalcommit/pkg/limiter"
	"vocalcommit/pkg/planner"
)

type fakePlanner struct {
	plan *planner.Plan
	err  error
}

func (f *fakePlanner) Plan(_ context.Context, transcript string, _ bool) (*planner.Plan, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.plan != nil {
		return f.plan, nil
	}
	return &planner.Plan{
		Description: transcript,
		Priority:    planner.PriorityMedium,
		TargetFiles: []string{"src/App.tsx"},
	}, nil
}

type fakeEditor struct {
	result *editor.BatchResult
	err    error
	calls  int
}

func (f *fakeEditor) EditBatch(_ context.Context, _ string, targets []string) (*editor.BatchResult, error) {
	f.calls++
	if f.result != nil || f.err != nil {
		return f.result, f.err
	}
	return &editor.BatchResult{Status: editor.StatusSuccess, Modified: targets}, nil
}

type fakeRepo struct {
	commitErr   error
	pushHash    string
	pushErr     error
	rollbackErr error
	pushes      int
	commits     int

	// hashSeq supplies commit hashes in order; head tracks the newest one.
	hashSeq []string
	head    string

	// pushStarted and pushRelease, when set, make PushCommitted block until
	// the test releases it.
	pushStarted chan struct{}
	pushRelease chan struct{}
}

func (f *fakeRepo) Status(context.Context) (*gitops.WorkingStatus, error) {
	return &gitops.WorkingStatus{}, nil
}

func (f *fakeRepo) CommitLocal(_ context.Context, _, taskID string, files []string, _ *gitops.RiskAssessment) (*gitops.CommitRecord, error) {
	if f.commitErr != nil {
		return nil, f.commitErr
	}
	hash := "abcdef1234567890"
	if f.commits < len(f.hashSeq) {
		hash = f.hashSeq[f.commits]
	}
	f.commits++
	f.head = hash
	return &gitops.CommitRecord{Hash: hash, ShortHash: hash[:8], Files: files, Ours: true}, nil
}

func (f *fakeRepo) PushCommitted(context.Context) (string, error) {
	if f.pushStarted != nil {
		close(f.pushStarted)
		<-f.pushRelease
	}
	f.pushes++
	if f.pushErr != nil {
		return "", f.pushErr
	}
	if f.pushHash == "" {
		return "abcdef12", nil
	}
	return f.pushHash, nil
}

func (f *fakeRepo) Rollback(context.Context, bool) (*gitops.CommitRecord, error) {
	if f.rollbackErr != nil {
		return nil, f.rollbackErr
	}
	return &gitops.CommitRecord{ShortHash: "abcdef12", Ours: true}, nil
}

func (f *fakeRepo) History(context.Context, int) ([]gitops.CommitRecord, error) {
	return nil, nil
}

func (f *fakeRepo) LastCommit(context.Context) (*gitops.CommitRecord, error) {
	hash := f.head
	if hash == "" {
		hash = "abcdef1234567890"
	}
	return &gitops.CommitRecord{Hash: hash, ShortHash: hash[:8], Ours: true}, nil
}

func testOrchestrator(p Planner, e FileEditor, r gitops.Repo, ttl time.Duration) *Orchestrator {
	if p == nil {
		p = &fakePlanner{}
	}
	if e == nil {
		e = &fakeEditor{}
	}
	if r == nil {
		r = &fakeRepo{}
	}
	return New(Options{
		Planner:       p,
		Editor:        e,
		Repo:          r,
		Window:        limiter.NewWindow(100, time.Minute),
		SuspensionTTL: ttl,
	})
}

func TestSubmitCreatesPendingTask(t *testing.T) {
	o := testOrchestrator(nil, nil, nil, 0)

	task, err := o.Submit(context.Background(), "make the add button blue", false)
	require.NoError(t, err)
	assert.Equal(t, StatusPendingDevApproval, task.Status)
	assert.NotEmpty(t, task.ID)
	require.NotNil(t, task.Plan)
	assert.Equal(t, []string{"src/App.tsx"}, task.Plan.TargetFiles)
}

func TestSubmitDuplicateRefused(t *testing.T) {
	o := testOrchestrator(nil, nil, nil, 0)
	ctx := context.Background()

	_, err := o.Submit(ctx, "make the add button blue", false)
	require.NoError(t, err)

	// Same request with different case and spacing is still a duplicate.
	_, err = o.Submit(ctx, "  Make the ADD button   blue ", false)
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestSubmitAllowedAfterCompletion(t *testing.T) {
	o := testOrchestrator(nil, nil, nil, 0)
	ctx := context.Background()

	task, err := o.Submit(ctx, "make the add button blue", false)
	require.NoError(t, err)
	_, err = o.Approve(task.ID)
	require.NoError(t, err)
	o.Wait()

	// The first task is terminal; the transcript may be submitted again.
	_, err = o.Submit(ctx, "make the add button blue", false)
	assert.NoError(t, err)
}

func TestRejectSuspendsTranscript(t *testing.T) {
	o := testOrchestrator(nil, nil, nil, 0)
	ctx := context.Background()

	task, err := o.Submit(ctx, "delete all todos", false)
	require.NoError(t, err)

	rejected, err := o.Reject(task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, rejected.Status)

	_, err = o.Submit(ctx, "delete all todos", false)
	assert.ErrorIs(t, err, ErrSuspended)

	assert.Equal(t, 1, o.ClearSuspended())
	_, err = o.Submit(ctx, "delete all todos", false)
	assert.NoError(t, err)
}

func TestSuspensionExpiresAfterTTL(t *testing.T) {
	o := testOrchestrator(nil, nil, nil, time.Hour)
	ctx := context.Background()

	task, err := o.Submit(ctx, "delete all todos", false)
	require.NoError(t, err)
	_, err = o.Reject(task.ID)
	require.NoError(t, err)

	_, err = o.Submit(ctx, "delete all todos", false)
	assert.ErrorIs(t, err, ErrSuspended)

	o.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = o.Submit(ctx, "delete all todos", false)
	assert.NoError(t, err)
}

func TestSubmitRateLimitedPlanCreatesNoTask(t *testing.T) {
	p := &fakePlanner{err: gateway.NewError(gateway.KindRateLimit, "quota exhausted")}
	o := testOrchestrator(p, nil, nil, 0)

	_, err := o.Submit(context.Background(), "make the add button blue", false)
	require.Error(t, err)
	assert.True(t, gateway.IsRateLimit(err))
	assert.Empty(t, o.List(""))
}

func TestApproveRunsToCompleted(t *testing.T) {
	o := testOrchestrator(nil, nil, nil, 0)

	task, err := o.Submit(context.Background(), "make the add button blue", false)
	require.NoError(t, err)

	active, err := o.Approve(task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, active.Status)
	o.Wait()

	done, err := o.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
	assert.True(t, done.AwaitingPushApproval)
	assert.False(t, done.Pushed)
	require.NotNil(t, done.Commit)
	assert.Equal(t, "abcdef12", done.Commit.ShortHash)
}

func TestApprovePartialSuccessCommitsSucceededFiles(t *testing.T) {
	e := &fakeEditor{result: &editor.BatchResult{
		Status:   editor.StatusPartial,
		Modified: []string{"src/App.css"},
		Failures: []editor.FileFailure{{Path: "src/App.tsx", Reason: "boom"}},
	}}
	o := testOrchestrator(nil, e, nil, 0)

	task, err := o.Submit(context.Background(), "make the add button blue", true)
	require.NoError(t, err)
	_, err = o.Approve(task.ID)
	require.NoError(t, err)
	o.Wait()

	done, err := o.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
	assert.Equal(t, []string{"src/App.css"}, done.ModifiedFiles)
	require.Len(t, done.FailedFiles, 1)
	assert.Contains(t, done.Message, "1 of 2")
}

func TestApproveRateLimitedEditFails(t *testing.T) {
	e := &fakeEditor{
		result: &editor.BatchResult{Status: editor.StatusError},
		err:    gateway.NewError(gateway.KindRateLimit, "quota exhausted"),
	}
	o := testOrchestrator(nil, e, nil, 0)

	task, err := o.Submit(context.Background(), "make the add button blue", false)
	require.NoError(t, err)
	_, err = o.Approve(task.ID)
	require.NoError(t, err)
	o.Wait()

	done, err := o.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, done.Status)
	assert.Contains(t, done.Message, "rate limit")
	assert.Contains(t, done.Message, "credential")
}

func TestApproveStrictAbortLeavesNothingCommitted(t *testing.T) {
	// A strict-mode batch abort reports the files written before the
	// failure, but none of them may be committed.
	e := &fakeEditor{result: &editor.BatchResult{
		Status:   editor.StatusError,
		Modified: []string{"src/App.css"},
		Failures: []editor.FileFailure{{Path: "src/App.tsx", Reason: "boom"}},
	}}
	r := &fakeRepo{}
	o := testOrchestrator(nil, e, r, 0)

	task, err := o.Submit(context.Background(), "make the add button blue", false)
	require.NoError(t, err)
	_, err = o.Approve(task.ID)
	require.NoError(t, err)
	o.Wait()

	done, err := o.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, done.Status)
	assert.Nil(t, done.Commit)
	assert.Equal(t, 0, r.commits)
	assert.Contains(t, done.Message, "nothing was committed")
}

func TestApproveRateLimitedPartialBatchNotCommitted(t *testing.T) {
	e := &fakeEditor{
		result: &editor.BatchResult{
			Status:   editor.StatusPartial,
			Modified: []string{"src/App.css"},
			Failures: []editor.FileFailure{{Path: "src/App.tsx", Reason: "rate limit"}},
		},
		err: gateway.NewError(gateway.KindRateLimit, "quota exhausted"),
	}
	r := &fakeRepo{}
	o := testOrchestrator(nil, e, r, 0)

	task, err := o.Submit(context.Background(), "make the add button blue", false)
	require.NoError(t, err)
	_, err = o.Approve(task.ID)
	require.NoError(t, err)
	o.Wait()

	done, err := o.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, done.Status)
	assert.Nil(t, done.Commit)
	assert.Equal(t, 0, r.commits)
	assert.Contains(t, done.Message, "credential")
}

func TestApproveAllEditsFailedFails(t *testing.T) {
	e := &fakeEditor{result: &editor.BatchResult{
		Status:   editor.StatusError,
		Failures: []editor.FileFailure{{Path: "src/App.tsx", Reason: "boom"}},
	}}
	o := testOrchestrator(nil, e, nil, 0)

	task, err := o.Submit(context.Background(), "make the add button blue", false)
	require.NoError(t, err)
	_, err = o.Approve(task.ID)
	require.NoError(t, err)
	o.Wait()

	done, err := o.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, done.Status)
	assert.Nil(t, done.Commit)
}

func TestApproveCommitErrorFails(t *testing.T) {
	r := &fakeRepo{commitErr: gitops.ErrNoChanges}
	o := testOrchestrator(nil, nil, r, 0)

	task, err := o.Submit(context.Background(), "make the add button blue", false)
	require.NoError(t, err)
	_, err = o.Approve(task.ID)
	require.NoError(t, err)
	o.Wait()

	done, err := o.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, done.Status)
	assert.Contains(t, done.Message, "commit failed")
}

func TestApprovePushGatesAndPushes(t *testing.T) {
	r := &fakeRepo{pushHash: "cafe1234"}
	o := testOrchestrator(nil, nil, r, 0)
	ctx := context.Background()

	task, err := o.Submit(ctx, "make the add button blue", false)
	require.NoError(t, err)

	// Push before completion must be refused.
	_, err = o.ApprovePush(ctx, task.ID)
	assert.Error(t, err)

	_, err = o.Approve(task.ID)
	require.NoError(t, err)
	o.Wait()

	pushed, err := o.ApprovePush(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, pushed.Status)
	assert.True(t, pushed.Pushed)
	assert.Equal(t, "cafe1234", pushed.PushedHash)
	assert.Equal(t, 1, r.pushes)

	// A second push attempt is refused.
	_, err = o.ApprovePush(ctx, task.ID)
	assert.Error(t, err)
}

func TestPushFailureKeepsTaskCompleted(t *testing.T) {
	r := &fakeRepo{pushErr: context.DeadlineExceeded}
	o := testOrchestrator(nil, nil, r, 0)
	ctx := context.Background()

	task, err := o.Submit(ctx, "make the add button blue", false)
	require.NoError(t, err)
	_, err = o.Approve(task.ID)
	require.NoError(t, err)
	o.Wait()

	_, err = o.ApprovePush(ctx, task.ID)
	require.Error(t, err)

	done, err := o.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
	assert.True(t, done.AwaitingPushApproval)
	assert.Contains(t, done.Message, "committed locally")
}

func TestRollbackBeforePush(t *testing.T) {
	o := testOrchestrator(nil, nil, nil, 0)
	ctx := context.Background()

	task, err := o.Submit(ctx, "make the add button blue", false)
	require.NoError(t, err)
	_, err = o.Approve(task.ID)
	require.NoError(t, err)
	o.Wait()

	rolled, err := o.RollbackTask(ctx, task.ID, false)
	require.NoError(t, err)
	assert.Equal(t, StatusRolledBack, rolled.Status)
	assert.False(t, rolled.AwaitingPushApproval)
}

func TestRollbackRefusedAfterPush(t *testing.T) {
	o := testOrchestrator(nil, nil, nil, 0)
	ctx := context.Background()

	task, err := o.Submit(ctx, "make the add button blue", false)
	require.NoError(t, err)
	_, err = o.Approve(task.ID)
	require.NoError(t, err)
	o.Wait()
	_, err = o.ApprovePush(ctx, task.ID)
	require.NoError(t, err)

	_, err = o.RollbackTask(ctx, task.ID, false)
	assert.ErrorIs(t, err, ErrAlreadyPushed)
}

func TestRollbackRefusedWhilePushInFlight(t *testing.T) {
	r := &fakeRepo{
		pushStarted: make(chan struct{}),
		pushRelease: make(chan struct{}),
	}
	o := testOrchestrator(nil, nil, r, 0)
	ctx := context.Background()

	task, err := o.Submit(ctx, "make the add button blue", false)
	require.NoError(t, err)
	_, err = o.Approve(task.ID)
	require.NoError(t, err)
	o.Wait()

	pushDone := make(chan error, 1)
	go func() {
		_, pushErr := o.ApprovePush(ctx, task.ID)
		pushDone <- pushErr
	}()
	<-r.pushStarted

	_, err = o.RollbackTask(ctx, task.ID, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already in progress")

	close(r.pushRelease)
	require.NoError(t, <-pushDone)

	done, err := o.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, done.Status)
	assert.True(t, done.Pushed)
}

func TestRollbackRefusedWhenCommitNotAtHead(t *testing.T) {
	r := &fakeRepo{hashSeq: []string{"1111111111111111", "2222222222222222"}}
	o := testOrchestrator(nil, nil, r, 0)
	ctx := context.Background()

	first, err := o.Submit(ctx, "make the add button blue", false)
	require.NoError(t, err)
	_, err = o.Approve(first.ID)
	require.NoError(t, err)
	o.Wait()

	second, err := o.Submit(ctx, "make the title bigger", false)
	require.NoError(t, err)
	_, err = o.Approve(second.ID)
	require.NoError(t, err)
	o.Wait()

	// The first task's commit is buried under the second one.
	_, err = o.RollbackTask(ctx, first.ID, false)
	assert.ErrorIs(t, err, ErrNotHeadCommit)

	rolled, err := o.RollbackTask(ctx, second.ID, false)
	require.NoError(t, err)
	assert.Equal(t, StatusRolledBack, rolled.Status)
}

func TestInvalidTransitionsRefused(t *testing.T) {
	o := testOrchestrator(nil, nil, nil, 0)
	ctx := context.Background()

	task, err := o.Submit(ctx, "make the add button blue", false)
	require.NoError(t, err)
	_, err = o.Reject(task.ID)
	require.NoError(t, err)

	// Terminal state: neither approval nor a second rejection applies.
	_, err = o.Approve(task.ID)
	assert.Error(t, err)
	_, err = o.Reject(task.ID)
	assert.Error(t, err)
}

func TestListFiltersAndOrders(t *testing.T) {
	o := testOrchestrator(nil, nil, nil, 0)
	ctx := context.Background()

	first, err := o.Submit(ctx, "first request", false)
	require.NoError(t, err)
	second, err := o.Submit(ctx, "second request", false)
	require.NoError(t, err)
	_, err = o.Reject(first.ID)
	require.NoError(t, err)

	all := o.List("")
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID)

	rejected := o.List(StatusRejected)
	require.Len(t, rejected, 1)
	assert.Equal(t, first.ID, rejected[0].ID)
}

func TestUnknownTask(t *testing.T) {
	o := testOrchestrator(nil, nil, nil, 0)
	_, err := o.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = o.Approve("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDedupKeyNormalization(t *testing.T) {
	assert.Equal(t, DedupKey("Make it Blue"), DedupKey("  make   it blue "))
	assert.NotEqual(t, DedupKey("make it blue"), DedupKey("make it red"))
	assert.Len(t, DedupKey("x"), dedupKeyLen)
}

func TestTransitionTable(t *testing.T) {
	assert.True(t, CanTransition(StatusPendingDevApproval, StatusActive))
	assert.True(t, CanTransition(StatusPendingDevApproval, StatusRejected))
	assert.True(t, CanTransition(StatusActive, StatusCompleted))
	assert.True(t, CanTransition(StatusActive, StatusFailed))
	assert.True(t, CanTransition(StatusCompleted, StatusApproved))
	assert.True(t, CanTransition(StatusCompleted, StatusRolledBack))

	assert.False(t, CanTransition(StatusPendingDevApproval, StatusCompleted))
	assert.False(t, CanTransition(StatusRejected, StatusActive))
	assert.False(t, CanTransition(StatusApproved, StatusRolledBack))
	for _, s := range []Status{StatusFailed, StatusRejected, StatusApproved, StatusRolledBack} {
		assert.True(t, IsTerminal(s))
	}
}
