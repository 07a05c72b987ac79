package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/poiesic/trendwire/core"
	"github.com/poiesic/trendwire/queue"
	"github.com/poiesic/trendwire/queue/memory"
	"github.com/poiesic/trendwire/retry"
	"github.com/poiesic/trendwire/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastPolicy = retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

type fixture struct {
	orch  *Orchestrator
	repos *badger.Repositories
	queue *memory.Queue
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	repos, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	t.Cleanup(func() { repos.Close() })

	q := memory.New(64)
	t.Cleanup(func() { q.Close() })

	defaults := []Option{
		WithWorkers(2),
		WithPolicy(core.TaskIngest, fastPolicy),
		WithPolicy(core.TaskEmbed, fastPolicy),
		WithPolicy(core.TaskAnalysis, fastPolicy),
		WithPolicy(core.TaskDigest, fastPolicy),
	}
	orch, err := New(repos.Tasks, q, append(defaults, opts...)...)
	require.NoError(t, err)
	return &fixture{orch: orch, repos: repos, queue: q}
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	require.NoError(t, f.orch.Start(context.Background()))
	t.Cleanup(f.orch.Stop)
}

func awaitTask(t *testing.T, o *Orchestrator, id string) *core.TaskRecord {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rec, err := o.Await(ctx, id)
	require.NoError(t, err)
	return rec
}

type countingHandler struct {
	calls atomic.Int32
	fn    func(n int32, task *core.TaskRecord) ([]byte, error)
}

func (h *countingHandler) Handle(_ context.Context, task *core.TaskRecord) ([]byte, error) {
	n := h.calls.Add(1)
	if h.fn == nil {
		return []byte("ok"), nil
	}
	return h.fn(n, task)
}

func TestNew_Validation(t *testing.T) {
	repos, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	defer repos.Close()

	_, err = New(nil, memory.New(1))
	assert.ErrorIs(t, err, ErrTaskStoreRequired)

	_, err = New(repos.Tasks, nil)
	assert.ErrorIs(t, err, ErrQueueRequired)

	_, err = New(repos.Tasks, memory.New(1), WithPolicy(core.TaskEmbed, retry.Policy{}))
	assert.ErrorIs(t, err, retry.ErrInvalidMaxAttempts)
}

func TestDefaultPolicies(t *testing.T) {
	p := DefaultPolicies()
	assert.Equal(t, 6, p[core.TaskIngest].MaxAttempts)
	assert.Equal(t, 6, p[core.TaskEmbed].MaxAttempts)
	assert.Equal(t, 3, p[core.TaskAnalysis].MaxAttempts)
	assert.Equal(t, 3, p[core.TaskDigest].MaxAttempts)
	assert.Equal(t, MaxRetryDelay, p[core.TaskEmbed].Delay(20))
}

func TestEnqueue_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.orch.Enqueue(ctx, core.TaskClass("bogus"), "k", nil)
	assert.ErrorIs(t, err, ErrUnknownClass)

	_, err = f.orch.Enqueue(ctx, core.TaskEmbed, "", nil)
	assert.ErrorIs(t, err, ErrEmptyKey)
}

func TestEnqueue_SameKeyYieldsOneTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id1, err := f.orch.Enqueue(ctx, core.TaskEmbed, "embed:abc", []byte("p"))
	require.NoError(t, err)
	id2, err := f.orch.Enqueue(ctx, core.TaskEmbed, "embed:abc", []byte("p"))
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	tasks, err := f.orch.List(ctx)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
	assert.Equal(t, core.TaskPending, tasks[0].Status)
}

func TestEnqueue_ConcurrentSameKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ids := make([]string, 8)
	var wg sync.WaitGroup
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := f.orch.Enqueue(ctx, core.TaskIngest, "ingest:same", nil)
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestRun_SucceedsOnceAndSuppressesResubmission(t *testing.T) {
	f := newFixture(t)
	h := &countingHandler{}
	f.orch.Register(core.TaskEmbed, h)
	f.start(t)
	ctx := context.Background()

	id, err := f.orch.Enqueue(ctx, core.TaskEmbed, "embed:abc", nil)
	require.NoError(t, err)
	rec := awaitTask(t, f.orch, id)
	assert.Equal(t, core.TaskSucceeded, rec.Status)
	assert.Equal(t, []byte("ok"), rec.Result)
	assert.Equal(t, 1, rec.AttemptCount)

	again, err := f.orch.Enqueue(ctx, core.TaskEmbed, "embed:abc", nil)
	require.NoError(t, err)
	assert.Equal(t, id, again)

	// A later task on the same queue runs after any stray duplicate.
	next, err := f.orch.Enqueue(ctx, core.TaskEmbed, "embed:def", nil)
	require.NoError(t, err)
	awaitTask(t, f.orch, next)
	assert.Equal(t, int32(2), h.calls.Load())
}

func TestRun_RedeliveredFinishedTaskIsSkipped(t *testing.T) {
	f := newFixture(t, WithWorkers(1))
	h := &countingHandler{}
	f.orch.Register(core.TaskDigest, h)
	f.start(t)
	ctx := context.Background()

	id, err := f.orch.Enqueue(ctx, core.TaskDigest, "digest:42:p1", nil)
	require.NoError(t, err)
	awaitTask(t, f.orch, id)

	require.NoError(t, f.queue.Publish(ctx, queue.Message{TaskID: id, Class: core.TaskDigest}))
	next, err := f.orch.Enqueue(ctx, core.TaskDigest, "digest:42:p2", nil)
	require.NoError(t, err)
	awaitTask(t, f.orch, next)

	assert.Equal(t, int32(2), h.calls.Load())
}

func TestRun_TransientErrorRetries(t *testing.T) {
	f := newFixture(t)
	h := &countingHandler{fn: func(n int32, _ *core.TaskRecord) ([]byte, error) {
		if n < 3 {
			return nil, fmt.Errorf("%w: index busy", core.ErrTransientIndex)
		}
		return []byte("done"), nil
	}}
	f.orch.Register(core.TaskAnalysis, h)
	f.start(t)

	id, err := f.orch.Enqueue(context.Background(), core.TaskAnalysis, "analysis:r1", nil)
	require.NoError(t, err)
	rec := awaitTask(t, f.orch, id)

	assert.Equal(t, core.TaskSucceeded, rec.Status)
	assert.Equal(t, 3, rec.AttemptCount)
	assert.Empty(t, rec.Error)
	assert.NoError(t, TaskError(rec))
}

func TestRun_PermanentErrorStopsRetries(t *testing.T) {
	f := newFixture(t)
	h := &countingHandler{fn: func(int32, *core.TaskRecord) ([]byte, error) {
		return nil, core.ErrAllProvidersExhausted
	}}
	f.orch.Register(core.TaskAnalysis, h)
	f.start(t)

	id, err := f.orch.Enqueue(context.Background(), core.TaskAnalysis, "analysis:r2", nil)
	require.NoError(t, err)
	rec := awaitTask(t, f.orch, id)

	assert.Equal(t, core.TaskFailed, rec.Status)
	assert.Equal(t, 1, rec.AttemptCount)
	assert.Contains(t, rec.Error, core.ErrAllProvidersExhausted.Error())
	assert.Error(t, TaskError(rec))
	assert.Equal(t, int32(1), h.calls.Load())
}

func TestRun_ExhaustedStageFailsWithPipelineError(t *testing.T) {
	f := newFixture(t)
	h := &countingHandler{fn: func(int32, *core.TaskRecord) ([]byte, error) {
		return nil, fmt.Errorf("%w: embedder down", core.ErrTransientProvider)
	}}
	f.orch.Register(core.TaskEmbed, h)
	f.start(t)

	id, err := f.orch.Enqueue(context.Background(), core.TaskEmbed, "embed:x", nil)
	require.NoError(t, err)
	rec := awaitTask(t, f.orch, id)

	assert.Equal(t, core.TaskFailed, rec.Status)
	assert.Equal(t, fastPolicy.MaxAttempts, rec.AttemptCount)
	assert.Contains(t, rec.Error, core.ErrPipelineStageFailed.Error())
	assert.Contains(t, rec.Error, "embedder down")
	assert.Equal(t, int32(fastPolicy.MaxAttempts), h.calls.Load())
}

func TestRun_FailedTaskCanBeResubmitted(t *testing.T) {
	f := newFixture(t)
	var fail atomic.Bool
	fail.Store(true)
	f.orch.Register(core.TaskDigest, HandlerFunc(func(context.Context, *core.TaskRecord) ([]byte, error) {
		if fail.Load() {
			return nil, core.Permanent(errors.New("telegram rejected message"))
		}
		return nil, nil
	}))
	f.start(t)
	ctx := context.Background()

	id, err := f.orch.Enqueue(ctx, core.TaskDigest, "digest:7:p", nil)
	require.NoError(t, err)
	assert.Equal(t, core.TaskFailed, awaitTask(t, f.orch, id).Status)

	fail.Store(false)
	again, err := f.orch.Enqueue(ctx, core.TaskDigest, "digest:7:p", nil)
	require.NoError(t, err)
	assert.Equal(t, id, again)

	rec := awaitTask(t, f.orch, id)
	assert.Equal(t, core.TaskSucceeded, rec.Status)
	assert.Equal(t, 1, rec.AttemptCount, "attempts restart after resubmission")
}

func TestRun_PanicIsRecordedAsFailure(t *testing.T) {
	f := newFixture(t, WithPolicy(core.TaskIngest, retry.Policy{MaxAttempts: 1}))
	f.orch.Register(core.TaskIngest, HandlerFunc(func(context.Context, *core.TaskRecord) ([]byte, error) {
		panic("boom")
	}))
	f.start(t)

	id, err := f.orch.Enqueue(context.Background(), core.TaskIngest, "ingest:p", nil)
	require.NoError(t, err)
	rec := awaitTask(t, f.orch, id)

	assert.Equal(t, core.TaskFailed, rec.Status)
	assert.Contains(t, rec.Error, "boom")
}

func TestRun_MissingHandlerFails(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	id, err := f.orch.Enqueue(context.Background(), core.TaskAnalysis, "analysis:none", nil)
	require.NoError(t, err)
	rec := awaitTask(t, f.orch, id)

	assert.Equal(t, core.TaskFailed, rec.Status)
	assert.Contains(t, rec.Error, ErrNoHandler.Error())
}

func TestRun_ChainedTasks(t *testing.T) {
	f := newFixture(t)
	embedded := &countingHandler{}
	f.orch.Register(core.TaskIngest, HandlerFunc(func(ctx context.Context, task *core.TaskRecord) ([]byte, error) {
		_, err := f.orch.Enqueue(ctx, core.TaskEmbed, "embed:"+string(task.Payload), task.Payload)
		return nil, err
	}))
	f.orch.Register(core.TaskEmbed, embedded)
	f.start(t)
	ctx := context.Background()

	id, err := f.orch.Enqueue(ctx, core.TaskIngest, "ingest:fp1", []byte("fp1"))
	require.NoError(t, err)
	awaitTask(t, f.orch, id)

	embed, err := f.orch.StatusByKey(ctx, "embed:fp1")
	require.NoError(t, err)
	rec := awaitTask(t, f.orch, embed.ID)
	assert.Equal(t, core.TaskSucceeded, rec.Status)
	assert.Equal(t, []byte("fp1"), rec.Payload)
	assert.Equal(t, int32(1), embedded.calls.Load())
}

func TestRecover_RequeuesUnfinishedTasks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i, status := range []core.TaskStatus{core.TaskPending, core.TaskRunning, core.TaskRetrying, core.TaskSucceeded} {
		_, _, err := f.repos.Tasks.CreateTask(ctx, &core.TaskRecord{
			ID:             fmt.Sprintf("t%d", i),
			Class:          core.TaskEmbed,
			IdempotenceKey: fmt.Sprintf("embed:%d", i),
			Status:         status,
			AttemptCount:   1,
		})
		require.NoError(t, err)
	}

	n, err := f.orch.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, f.queue.Len())

	orphan, err := f.orch.Status(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, core.TaskPending, orphan.Status)

	h := &countingHandler{}
	f.orch.Register(core.TaskEmbed, h)
	f.start(t)
	for _, id := range []string{"t0", "t1", "t2"} {
		assert.Equal(t, core.TaskSucceeded, awaitTask(t, f.orch, id).Status)
	}
	assert.Equal(t, int32(3), h.calls.Load())
}

func TestAwait(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.orch.Await(ctx, "missing")
	assert.Error(t, err)

	id, err := f.orch.Enqueue(ctx, core.TaskEmbed, "embed:wait", nil)
	require.NoError(t, err)

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = f.orch.Await(short, id)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "nothing runs before Start")
}

func TestStartStop(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.orch.Start(context.Background()))
	assert.ErrorIs(t, f.orch.Start(context.Background()), ErrAlreadyRunning)
	f.orch.Stop()
	f.orch.Stop()

	require.NoError(t, f.orch.Start(context.Background()), "restart after stop")
	f.orch.Stop()
}
