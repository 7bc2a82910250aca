package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"forwardbot/internal/forward"
	"forwardbot/internal/forward/repository"
)

// fakeClock 假时钟：Sleep 只记录时长立即返回，gate 非空时阻塞等待
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
	gate   chan struct{}
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	gate := c.gate
	c.mu.Unlock()

	if gate != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-gate:
		}
	}
	return ctx.Err()
}

func (c *fakeClock) sleptFor(d time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.sleeps {
		if s == d {
			return true
		}
	}
	return false
}

func (c *fakeClock) setGate(gate chan struct{}) {
	c.mu.Lock()
	c.gate = gate
	c.mu.Unlock()
}

// fakeTaskStore 内存任务存储
type fakeTaskStore struct {
	mu       sync.Mutex
	tasks    map[string]*forward.Task
	statuses map[string][]forward.Status
}

var _ repository.TaskRepository = (*fakeTaskStore)(nil)

func newFakeTaskStore() *fakeTaskStore {
	return &fakeTaskStore{
		tasks:    make(map[string]*forward.Task),
		statuses: make(map[string][]forward.Status),
	}
}

func cloneTask(t *forward.Task) *forward.Task {
	c := *t
	return &c
}

func (s *fakeTaskStore) SaveTask(_ context.Context, task *forward.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.TaskID] = cloneTask(task)
	return nil
}

func (s *fakeTaskStore) GetByTaskID(_ context.Context, taskID string) (*forward.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return nil, forward.ErrTaskNotFound
	}
	return cloneTask(task), nil
}

func (s *fakeTaskStore) ListByUser(_ context.Context, userID int64, statuses []forward.Status) ([]*forward.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*forward.Task
	for _, task := range s.tasks {
		if task.UserID != userID {
			continue
		}
		if len(statuses) > 0 {
			match := false
			for _, st := range statuses {
				if task.Status == st {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		out = append(out, cloneTask(task))
	}
	return out, nil
}

func (s *fakeTaskStore) FindActiveByPair(_ context.Context, pair forward.Pair) (*forward.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, task := range s.tasks {
		if task.Status == forward.StatusActive && task.Pair() == pair {
			return cloneTask(task), nil
		}
	}
	return nil, forward.ErrTaskNotFound
}

func (s *fakeTaskStore) UpdateProgress(_ context.Context, taskID string, checkpoint int64, counters forward.Counters) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return forward.ErrTaskNotFound
	}
	task.Checkpoint = checkpoint
	task.Counters = counters
	return nil
}

func (s *fakeTaskStore) UpdateStatus(_ context.Context, taskID string, status forward.Status, errDetail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return forward.ErrTaskNotFound
	}
	task.Status = status
	if status == forward.StatusFailed {
		task.Error = errDetail
	} else {
		task.Error = ""
	}
	s.statuses[taskID] = append(s.statuses[taskID], status)
	return nil
}

func (s *fakeTaskStore) DeleteTask(_ context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return forward.ErrTaskNotFound
	}
	if task.Status == forward.StatusActive {
		return forward.ErrTaskActive
	}
	delete(s.tasks, taskID)
	return nil
}

func (s *fakeTaskStore) DemoteActiveTasks(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, task := range s.tasks {
		if task.Status == forward.StatusActive {
			task.Status = forward.StatusPaused
			n++
		}
	}
	return n, nil
}

func (s *fakeTaskStore) PurgeTerminalTasks(context.Context, time.Time) (int64, error) { return 0, nil }

func (s *fakeTaskStore) EnsureIndexes(context.Context) error { return nil }

func (s *fakeTaskStore) statusHistory(taskID string) []forward.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]forward.Status(nil), s.statuses[taskID]...)
}

// fakeSource 内存历史源，按ID升序分页
type fakeSource struct {
	mu   sync.Mutex
	msgs []*forward.Message
}

var _ forward.Source = (*fakeSource)(nil)

func (s *fakeSource) PageMessages(_ context.Context, _ int64, afterID, beforeID int64, pageSize int) ([]*forward.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var page []*forward.Message
	for _, msg := range s.msgs {
		if msg.ID <= afterID {
			continue
		}
		if beforeID > 0 && msg.ID > beforeID {
			continue
		}
		page = append(page, msg)
		if len(page) >= pageSize {
			break
		}
	}
	return page, nil
}

// fakeRelay 记录投递的消息ID，可按ID预置一串错误依次返回
type fakeRelay struct {
	mu        sync.Mutex
	delivered []int64
	batches   [][]int64
	failures  map[int64][]error
	onDeliver func(id int64)
	onFailure func(id int64)
}

var _ forward.Relay = (*fakeRelay)(nil)

func newFakeRelay() *fakeRelay {
	return &fakeRelay{failures: make(map[int64][]error)}
}

func (r *fakeRelay) failWith(id int64, errs ...error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[id] = append(r.failures[id], errs...)
}

func (r *fakeRelay) DeliverOne(_ context.Context, _, _ int64, msg *forward.Message, _ forward.DeliverOptions) error {
	r.mu.Lock()
	var err error
	if errs := r.failures[msg.ID]; len(errs) > 0 {
		err = errs[0]
		r.failures[msg.ID] = errs[1:]
	}
	if err == nil {
		r.delivered = append(r.delivered, msg.ID)
	}
	onDeliver, onFailure := r.onDeliver, r.onFailure
	r.mu.Unlock()

	if err != nil {
		if onFailure != nil {
			onFailure(msg.ID)
		}
		return err
	}
	if onDeliver != nil {
		onDeliver(msg.ID)
	}
	return nil
}

func (r *fakeRelay) DeliverBatch(_ context.Context, _, _ int64, messageIDs []int64, _ bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, append([]int64(nil), messageIDs...))
	r.delivered = append(r.delivered, messageIDs...)
	return nil
}

func (r *fakeRelay) deliveredIDs() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.delivered...)
}

func (r *fakeRelay) batchSnapshots() [][]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]int64, len(r.batches))
	copy(out, r.batches)
	return out
}

// fakeFingerprints 内存指纹库
type fakeFingerprints struct {
	mu   sync.Mutex
	seen map[string]bool
}

var _ repository.FingerprintRepository = (*fakeFingerprints)(nil)

func newFakeFingerprints() *fakeFingerprints {
	return &fakeFingerprints{seen: make(map[string]bool)}
}

func fingerprintKey(destChatID int64, fingerprint string) string {
	return fmt.Sprintf("%d|%s", destChatID, fingerprint)
}

func (f *fakeFingerprints) Seen(_ context.Context, destChatID int64, fingerprint string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seen[fingerprintKey(destChatID, fingerprint)], nil
}

func (f *fakeFingerprints) Record(_ context.Context, destChatID int64, fingerprint string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen[fingerprintKey(destChatID, fingerprint)] = true
	return nil
}

func (f *fakeFingerprints) EnsureIndexes(context.Context, time.Duration) error { return nil }

type engineFixture struct {
	engine       *Engine
	store        *fakeTaskStore
	source       *fakeSource
	relay        *fakeRelay
	fingerprints *fakeFingerprints
	registry     *Registry
	clock        *fakeClock
}

func newEngineFixture(opts Options) *engineFixture {
	f := &engineFixture{
		store:        newFakeTaskStore(),
		source:       &fakeSource{},
		relay:        newFakeRelay(),
		fingerprints: newFakeFingerprints(),
		registry:     NewRegistry(),
		clock:        newFakeClock(),
	}
	f.engine = New(f.store, f.fingerprints, f.source, f.relay, f.registry, nil, f.clock, opts)
	return f
}

// restart 模拟进程重启：同一存储上建新引擎和新注册表
func (f *engineFixture) restart(opts Options) {
	f.registry = NewRegistry()
	f.engine = New(f.store, f.fingerprints, f.source, f.relay, f.registry, nil, f.clock, opts)
}

func textMessage(id int64) *forward.Message {
	return &forward.Message{ID: id, Kind: forward.KindText, Text: fmt.Sprintf("message %d", id)}
}

func textMessages(from, to int64) []*forward.Message {
	var msgs []*forward.Message
	for id := from; id <= to; id++ {
		msgs = append(msgs, textMessage(id))
	}
	return msgs
}

func defaultSpec(source, dest int64) StartSpec {
	return StartSpec{
		UserID:       7,
		SourceChatID: source,
		DestChatID:   dest,
		Config:       forward.DefaultConfig(),
	}
}

func waitStatus(t *testing.T, store *fakeTaskStore, taskID string, want forward.Status) *forward.Task {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		task, err := store.GetByTaskID(context.Background(), taskID)
		if err == nil && task.Status == want {
			return task
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("task %s never reached status %s", taskID, want)
	return nil
}

func requireAscending(t *testing.T, ids []int64, floor int64) {
	t.Helper()
	prev := floor
	for _, id := range ids {
		require.Greater(t, id, prev, "delivered ids must be strictly increasing and above the starting checkpoint")
		prev = id
	}
}

func TestStartValidation(t *testing.T) {
	f := newEngineFixture(Options{})
	ctx := context.Background()

	cases := []struct {
		name string
		spec StartSpec
	}{
		{"missing source", StartSpec{DestChatID: 2}},
		{"missing destination", StartSpec{SourceChatID: 1}},
		{"source equals destination", StartSpec{SourceChatID: 1, DestChatID: 1}},
		{"upper bound below start", StartSpec{SourceChatID: 1, DestChatID: 2, StartAfterID: 10, UpperBoundID: 5}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.engine.Start(ctx, tc.spec)
			var verr *forward.ValidationError
			require.ErrorAs(t, err, &verr)
		})
	}

	require.Equal(t, 0, f.registry.ActiveCount(), "rejected starts must not leak registry entries")
}

func TestEngineDeliversWindowInOrder(t *testing.T) {
	f := newEngineFixture(Options{})
	f.source.msgs = textMessages(101, 110)

	spec := defaultSpec(1, 2)
	spec.StartAfterID = 100
	task, err := f.engine.Start(context.Background(), spec)
	require.NoError(t, err)

	final := waitStatus(t, f.store, task.TaskID, forward.StatusCompleted)

	ids := f.relay.deliveredIDs()
	require.Len(t, ids, 10)
	requireAscending(t, ids, 100)

	require.Equal(t, int64(110), final.Checkpoint)
	require.Equal(t, int64(10), final.Counters.Total)
	require.Equal(t, int64(10), final.Counters.Forwarded)
	require.Equal(t, final.Counters.Total, final.Counters.Processed())
	require.Equal(t, 0, f.registry.ActiveCount())
}

func TestEngineBoundedWindow(t *testing.T) {
	f := newEngineFixture(Options{})
	f.source.msgs = textMessages(490, 520)

	spec := defaultSpec(1, 2)
	spec.StartAfterID = 495
	spec.UpperBoundID = 500
	task, err := f.engine.Start(context.Background(), spec)
	require.NoError(t, err)

	final := waitStatus(t, f.store, task.TaskID, forward.StatusCompleted)

	require.Equal(t, []int64{496, 497, 498, 499, 500}, f.relay.deliveredIDs())
	require.Equal(t, int64(500), final.Checkpoint)
	require.Equal(t, int64(5), final.Counters.Total)
}

func TestEngineSkipCounters(t *testing.T) {
	f := newEngineFixture(Options{})

	duplicate := &forward.Message{ID: 3, Kind: forward.KindPhoto, FileID: "photo-abc", Size: 512}
	f.source.msgs = []*forward.Message{
		textMessage(1),
		{ID: 2, Kind: forward.KindService, Service: true},
		duplicate,
		{ID: 4, Kind: forward.KindSticker, FileID: "sticker-x"},
		textMessage(5),
	}

	// 指纹预先存在，命中去重
	require.NoError(t, f.fingerprints.Record(context.Background(), 2, duplicate.Fingerprint()))

	spec := defaultSpec(1, 2)
	spec.Config.Filters[forward.KindSticker] = false
	task, err := f.engine.Start(context.Background(), spec)
	require.NoError(t, err)

	final := waitStatus(t, f.store, task.TaskID, forward.StatusCompleted)

	require.Equal(t, []int64{1, 5}, f.relay.deliveredIDs())
	require.Equal(t, int64(5), final.Counters.Total)
	require.Equal(t, int64(2), final.Counters.Forwarded)
	require.Equal(t, int64(1), final.Counters.Duplicate)
	require.Equal(t, int64(1), final.Counters.Filtered)
	require.Equal(t, int64(1), final.Counters.Deleted)
	require.Equal(t, final.Counters.Total, final.Counters.Processed())

	// 成功投递后指纹已登记
	seen, err := f.fingerprints.Seen(context.Background(), 2, textMessage(1).Fingerprint())
	require.NoError(t, err)
	require.True(t, seen)
}

func TestEngineRateLimitRetriesSameMessage(t *testing.T) {
	f := newEngineFixture(Options{Delay: time.Second})
	f.source.msgs = textMessages(41, 44)

	f.relay.failWith(42, &forward.RateLimitedError{Wait: 5 * time.Second})

	checkpointAtFailure := make(chan int64, 1)
	pair := forward.Pair{SourceChatID: 1, DestChatID: 2}
	f.relay.onFailure = func(id int64) {
		if id != 42 {
			return
		}
		if snapshot, getErr := f.store.FindActiveByPair(context.Background(), pair); getErr == nil {
			select {
			case checkpointAtFailure <- snapshot.Checkpoint:
			default:
			}
		}
	}

	spec := defaultSpec(1, 2)
	spec.StartAfterID = 40
	task, err := f.engine.Start(context.Background(), spec)
	require.NoError(t, err)

	final := waitStatus(t, f.store, task.TaskID, forward.StatusCompleted)

	// 被限流的消息重试成功且只投递一次，后继消息顺序不变
	require.Equal(t, []int64{41, 42, 43, 44}, f.relay.deliveredIDs())
	require.Equal(t, int64(4), final.Counters.Forwarded)

	// 限流期间检查点停在上一条成功消息
	select {
	case cp := <-checkpointAtFailure:
		require.Equal(t, int64(41), cp)
	default:
		t.Fatal("rate limit failure hook never fired")
	}

	// 等待了服务商要求的时长，且经历了 paused → active
	require.True(t, f.clock.sleptFor(5*time.Second), "expected a sleep of the rate limit duration")
	history := f.store.statusHistory(task.TaskID)
	require.Contains(t, history, forward.StatusPaused)
	require.Equal(t, forward.StatusCompleted, history[len(history)-1])
}

func TestEngineTransientRetry(t *testing.T) {
	f := newEngineFixture(Options{TransientRetries: 3})
	f.source.msgs = textMessages(1, 3)

	f.relay.failWith(2, errors.New("connection reset"), errors.New("connection reset"))

	task, err := f.engine.Start(context.Background(), defaultSpec(1, 2))
	require.NoError(t, err)

	final := waitStatus(t, f.store, task.TaskID, forward.StatusCompleted)

	require.Equal(t, []int64{1, 2, 3}, f.relay.deliveredIDs())
	require.Equal(t, int64(3), final.Counters.Forwarded)
	require.True(t, f.clock.sleptFor(time.Second))
	require.True(t, f.clock.sleptFor(2*time.Second))
}

func TestEngineFatalErrorFailsThenResumes(t *testing.T) {
	f := newEngineFixture(Options{})
	f.source.msgs = textMessages(1, 8)

	f.relay.failWith(5, forward.Fatalf("bot was kicked from the channel"))

	task, err := f.engine.Start(context.Background(), defaultSpec(1, 2))
	require.NoError(t, err)

	failed := waitStatus(t, f.store, task.TaskID, forward.StatusFailed)
	require.Equal(t, int64(4), failed.Checkpoint)
	require.Equal(t, int64(4), failed.Counters.Forwarded)
	require.Contains(t, failed.Error, "kicked")

	// 恢复后从检查点之后继续，不重发已投递的消息
	_, err = f.engine.Resume(context.Background(), task.TaskID)
	require.NoError(t, err)

	final := waitStatus(t, f.store, task.TaskID, forward.StatusCompleted)
	require.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7, 8}, f.relay.deliveredIDs())
	require.Equal(t, int64(8), final.Counters.Total)
	require.Equal(t, int64(8), final.Counters.Forwarded)
	require.Empty(t, final.Error, "resume must clear the previous error")
}

func TestEngineResumeAfterRestart(t *testing.T) {
	f := newEngineFixture(Options{})
	f.source.msgs = textMessages(10, 15)

	// 上个进程死在 12 之后：active 任务被启动流程降级为 paused
	seeded := &forward.Task{
		TaskID:       "task_aaaa1111",
		UserID:       7,
		SourceChatID: 1,
		DestChatID:   2,
		StartAfterID: 9,
		Checkpoint:   12,
		Counters:     forward.Counters{Total: 6, Forwarded: 3},
		Status:       forward.StatusActive,
		Config:       forward.DefaultConfig(),
	}
	require.NoError(t, f.store.SaveTask(context.Background(), seeded))

	demoted, err := f.store.DemoteActiveTasks(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), demoted)

	f.restart(Options{})
	_, err = f.engine.Resume(context.Background(), seeded.TaskID)
	require.NoError(t, err)

	final := waitStatus(t, f.store, seeded.TaskID, forward.StatusCompleted)

	// 从检查点之后恢复，13 是第一条投递
	require.Equal(t, []int64{13, 14, 15}, f.relay.deliveredIDs())
	require.Equal(t, int64(15), final.Checkpoint)
	require.Equal(t, int64(6), final.Counters.Total)
	require.Equal(t, int64(6), final.Counters.Forwarded)
}

func TestEngineStartConflict(t *testing.T) {
	f := newEngineFixture(Options{})
	pair := forward.Pair{SourceChatID: 1, DestChatID: 2}

	// 注册表占用：本进程已有任务在跑
	f.registry.TryAcquire(pair, "task_running")
	_, err := f.engine.Start(context.Background(), defaultSpec(1, 2))
	require.ErrorIs(t, err, forward.ErrConflict)
	f.registry.Release(pair)

	// 存储兜底：注册表是空的，但存储里有遗留 active 任务
	require.NoError(t, f.store.SaveTask(context.Background(), &forward.Task{
		TaskID:       "task_orphaned",
		SourceChatID: 1,
		DestChatID:   2,
		Status:       forward.StatusActive,
	}))
	_, err = f.engine.Start(context.Background(), defaultSpec(1, 2))
	require.ErrorIs(t, err, forward.ErrConflict)
	require.Equal(t, 0, f.registry.ActiveCount(), "conflicting start must release the registry slot")

	// 其它通路不受影响
	f.source.msgs = textMessages(1, 2)
	task, err := f.engine.Start(context.Background(), defaultSpec(1, 3))
	require.NoError(t, err)
	waitStatus(t, f.store, task.TaskID, forward.StatusCompleted)
}

func TestEngineResumeGuards(t *testing.T) {
	f := newEngineFixture(Options{})
	ctx := context.Background()

	_, err := f.engine.Resume(ctx, "task_missing")
	require.ErrorIs(t, err, forward.ErrTaskNotFound)

	require.NoError(t, f.store.SaveTask(ctx, &forward.Task{
		TaskID: "task_done", SourceChatID: 1, DestChatID: 2, Status: forward.StatusCompleted,
	}))
	_, err = f.engine.Resume(ctx, "task_done")
	require.ErrorIs(t, err, forward.ErrAlreadyComplete)

	require.NoError(t, f.store.SaveTask(ctx, &forward.Task{
		TaskID: "task_live", SourceChatID: 3, DestChatID: 4, Status: forward.StatusActive,
	}))
	_, err = f.engine.Resume(ctx, "task_live")
	require.ErrorIs(t, err, forward.ErrConflict)
}

func TestEngineCancelCooperative(t *testing.T) {
	f := newEngineFixture(Options{})
	f.source.msgs = textMessages(1, 50)

	var taskID string
	ready := make(chan struct{})
	cancelled := make(chan struct{})
	f.relay.onDeliver = func(id int64) {
		if id != 3 {
			return
		}
		<-ready // 等 Start 返回拿到任务ID
		if err := f.engine.Cancel(context.Background(), taskID); err != nil {
			t.Errorf("cancel failed: %v", err)
		}
		close(cancelled)
	}

	task, err := f.engine.Start(context.Background(), defaultSpec(1, 2))
	require.NoError(t, err)
	taskID = task.TaskID
	close(ready)

	<-cancelled
	final := waitStatus(t, f.store, task.TaskID, forward.StatusCancelled)

	// 在消息边界停下：已投递的不回滚，后面的不再投递
	ids := f.relay.deliveredIDs()
	require.GreaterOrEqual(t, len(ids), 3)
	require.Less(t, len(ids), 50)
	require.Equal(t, ids[len(ids)-1], final.Checkpoint)

	// 重复取消是无害的空操作
	require.NoError(t, f.engine.Cancel(context.Background(), task.TaskID))
	require.Equal(t, 0, f.registry.ActiveCount())
}

func TestEngineCancelOrphanedTask(t *testing.T) {
	f := newEngineFixture(Options{})
	ctx := context.Background()

	// 存储显示 active 但没有任何进程在跑
	require.NoError(t, f.store.SaveTask(ctx, &forward.Task{
		TaskID: "task_orphan", SourceChatID: 1, DestChatID: 2, Status: forward.StatusActive,
	}))

	require.NoError(t, f.engine.Cancel(ctx, "task_orphan"))
	task, err := f.store.GetByTaskID(ctx, "task_orphan")
	require.NoError(t, err)
	require.Equal(t, forward.StatusCancelled, task.Status)
}

func TestEngineShutdownPausesRunningTask(t *testing.T) {
	f := newEngineFixture(Options{})
	f.source.msgs = textMessages(101, 103)

	// 投递后的限速等待被阻塞，任务停留在第一条之后
	gate := make(chan struct{})
	f.clock.setGate(gate)

	task, err := f.engine.Start(context.Background(), defaultSpec(1, 2))
	require.NoError(t, err)

	deadline := time.Now().Add(2 * time.Second)
	for len(f.relay.deliveredIDs()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first delivery never happened")
		}
		time.Sleep(time.Millisecond)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.engine.Shutdown(shutdownCtx))

	paused, err := f.store.GetByTaskID(context.Background(), task.TaskID)
	require.NoError(t, err)
	require.Equal(t, forward.StatusPaused, paused.Status)
	require.Equal(t, int64(101), paused.Checkpoint)

	// 重启进程并恢复：从 102 继续
	f.clock.setGate(nil)
	f.restart(Options{})
	_, err = f.engine.Resume(context.Background(), task.TaskID)
	require.NoError(t, err)

	final := waitStatus(t, f.store, task.TaskID, forward.StatusCompleted)
	require.Equal(t, []int64{101, 102, 103}, f.relay.deliveredIDs())
	require.Equal(t, int64(3), final.Counters.Forwarded)
}

func TestEngineBatchForward(t *testing.T) {
	f := newEngineFixture(Options{BatchSize: 2})
	f.source.msgs = textMessages(1, 5)

	spec := defaultSpec(1, 2)
	spec.Config.ForwardTag = true
	task, err := f.engine.Start(context.Background(), spec)
	require.NoError(t, err)

	final := waitStatus(t, f.store, task.TaskID, forward.StatusCompleted)

	require.Equal(t, [][]int64{{1, 2}, {3, 4}, {5}}, f.relay.batchSnapshots())
	require.Equal(t, int64(5), final.Counters.Forwarded)
	require.Equal(t, int64(5), final.Checkpoint)
}

func TestEngineEmptyWindowCompletesImmediately(t *testing.T) {
	f := newEngineFixture(Options{})

	spec := defaultSpec(1, 2)
	spec.StartAfterID = 999
	task, err := f.engine.Start(context.Background(), spec)
	require.NoError(t, err)

	final := waitStatus(t, f.store, task.TaskID, forward.StatusCompleted)
	require.Empty(t, f.relay.deliveredIDs())
	require.Equal(t, int64(0), final.Counters.Total)
	require.Equal(t, int64(999), final.Checkpoint)
}

func TestEngineReturnsDetachedTaskSnapshot(t *testing.T) {
	f := newEngineFixture(Options{})
	f.source.msgs = textMessages(1, 20)

	spec := defaultSpec(1, 2)
	spec.StartAfterID = 5
	returned, err := f.engine.Start(context.Background(), spec)
	require.NoError(t, err)

	waitStatus(t, f.store, returned.TaskID, forward.StatusCompleted)

	// 后台循环推进的是引擎内部的任务，调用方拿到的是启动瞬间的快照
	require.Equal(t, forward.StatusActive, returned.Status)
	require.Equal(t, int64(5), returned.Checkpoint)
	require.Equal(t, int64(0), returned.Counters.Forwarded)

	returned.Config.Filters[forward.KindSticker] = false
	stored, err := f.store.GetByTaskID(context.Background(), returned.TaskID)
	require.NoError(t, err)
	require.True(t, stored.Config.Filters[forward.KindSticker])

	resumable := &forward.Task{
		TaskID:       "task_detached1",
		UserID:       7,
		SourceChatID: 3,
		DestChatID:   4,
		StartAfterID: 0,
		Checkpoint:   10,
		Status:       forward.StatusPaused,
		Config:       forward.DefaultConfig(),
	}
	require.NoError(t, f.store.SaveTask(context.Background(), resumable))

	resumed, err := f.engine.Resume(context.Background(), resumable.TaskID)
	require.NoError(t, err)

	waitStatus(t, f.store, resumable.TaskID, forward.StatusCompleted)
	require.Equal(t, forward.StatusActive, resumed.Status)
	require.Equal(t, int64(10), resumed.Checkpoint)
}
