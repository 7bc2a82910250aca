package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"forwardbot/internal/forward"
	"forwardbot/internal/forward/repository"
	"forwardbot/internal/logger"
)

// Options 引擎参数
type Options struct {
	Delay            time.Duration // 两次成功投递之间的间隔
	PageSize         int           // 历史分页大小
	BatchSize        int           // 署名转发的批次上限
	TransientRetries int           // 瞬态错误的重试上限
}

func (o *Options) fillDefaults() {
	if o.Delay <= 0 {
		o.Delay = 3 * time.Second
	}
	if o.PageSize <= 0 {
		o.PageSize = 100
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.TransientRetries <= 0 {
		o.TransientRetries = 3
	}
}

// Engine 转发引擎
// 每个任务一个独立 goroutine，任务内严格按消息ID升序投递
// 状态流转：active → {completed | cancelled | failed}，限流期间短暂进入 paused
type Engine struct {
	tasks        repository.TaskRepository
	fingerprints repository.FingerprintRepository
	source       forward.Source
	relay        forward.Relay
	registry     *Registry
	notifier     forward.Notifier
	clock        Clock
	opts         Options

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New 创建转发引擎
func New(
	tasks repository.TaskRepository,
	fingerprints repository.FingerprintRepository,
	source forward.Source,
	relay forward.Relay,
	registry *Registry,
	notifier forward.Notifier,
	clock Clock,
	opts Options,
) *Engine {
	opts.fillDefaults()
	if notifier == nil {
		notifier = forward.NopNotifier{}
	}
	if clock == nil {
		clock = SystemClock()
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	return &Engine{
		tasks:        tasks,
		fingerprints: fingerprints,
		source:       source,
		relay:        relay,
		registry:     registry,
		notifier:     notifier,
		clock:        clock,
		opts:         opts,
		baseCtx:      baseCtx,
		cancel:       cancel,
	}
}

// StartSpec 启动一个转发任务所需的全部输入
type StartSpec struct {
	UserID       int64
	SourceRefID  string
	DestRefID    string
	SourceChatID int64
	DestChatID   int64
	StartAfterID int64 // 从此ID之后开始（不含）
	UpperBoundID int64 // 窗口上界（含），0 表示到历史末尾
	Config       forward.Config
}

// Start 创建并启动新任务
// 同一 (源, 目标) 通路已有 active 任务时返回 ErrConflict，不产生任何状态变更
// 调用立即返回，转发循环在后台运行，进度通过存储查询
func (e *Engine) Start(ctx context.Context, spec StartSpec) (*forward.Task, error) {
	if spec.SourceChatID == 0 {
		return nil, &forward.ValidationError{Field: "source", Reason: "chat id is required"}
	}
	if spec.DestChatID == 0 {
		return nil, &forward.ValidationError{Field: "destination", Reason: "chat id is required"}
	}
	if spec.SourceChatID == spec.DestChatID {
		return nil, &forward.ValidationError{Field: "destination", Reason: "must differ from source"}
	}
	if spec.UpperBoundID > 0 && spec.UpperBoundID <= spec.StartAfterID {
		return nil, &forward.ValidationError{Field: "upper bound", Reason: "must be greater than starting point"}
	}

	pair := forward.Pair{SourceChatID: spec.SourceChatID, DestChatID: spec.DestChatID}
	taskID := newTaskID()

	if !e.registry.TryAcquire(pair, taskID) {
		return nil, forward.ErrConflict
	}

	// 存储层兜底：进程刚重启时注册表是空的，遗留 active 任务只在存储可见
	if _, err := e.tasks.FindActiveByPair(ctx, pair); err == nil {
		e.registry.Release(pair)
		return nil, forward.ErrConflict
	} else if !errors.Is(err, forward.ErrTaskNotFound) {
		e.registry.Release(pair)
		return nil, fmt.Errorf("failed to check pair conflict: %w", err)
	}

	task := &forward.Task{
		TaskID:       taskID,
		UserID:       spec.UserID,
		SourceRefID:  spec.SourceRefID,
		DestRefID:    spec.DestRefID,
		SourceChatID: spec.SourceChatID,
		DestChatID:   spec.DestChatID,
		StartAfterID: spec.StartAfterID,
		UpperBoundID: spec.UpperBoundID,
		Checkpoint:   spec.StartAfterID,
		Status:       forward.StatusActive,
		Config:       spec.Config,
		CreatedAt:    e.clock.Now(),
	}

	if err := e.tasks.SaveTask(ctx, task); err != nil {
		e.registry.Release(pair)
		return nil, fmt.Errorf("failed to persist task: %w", err)
	}

	logger.L().Infof("Forward task created: task_id=%s user=%d source=%d dest=%d window=(%d,%d]",
		taskID, spec.UserID, spec.SourceChatID, spec.DestChatID, spec.StartAfterID, spec.UpperBoundID)

	// 后台循环会持续改写 task，先拷贝再放手
	snapshot := task.Clone()
	e.wg.Add(1)
	go e.run(task)

	return snapshot, nil
}

// Resume 恢复一个 paused/failed/cancelled 任务
// 从持久化的检查点之后继续，绝不重发检查点消息
func (e *Engine) Resume(ctx context.Context, taskID string) (*forward.Task, error) {
	task, err := e.tasks.GetByTaskID(ctx, taskID)
	if err != nil {
		return nil, err
	}

	switch task.Status {
	case forward.StatusCompleted:
		return nil, forward.ErrAlreadyComplete
	case forward.StatusActive:
		return nil, forward.ErrConflict
	}

	pair := task.Pair()
	if !e.registry.TryAcquire(pair, taskID) {
		return nil, forward.ErrConflict
	}

	if _, err := e.tasks.FindActiveByPair(ctx, pair); err == nil {
		e.registry.Release(pair)
		return nil, forward.ErrConflict
	} else if !errors.Is(err, forward.ErrTaskNotFound) {
		e.registry.Release(pair)
		return nil, fmt.Errorf("failed to check pair conflict: %w", err)
	}

	task.Status = forward.StatusActive
	task.Error = ""
	if err := e.tasks.UpdateStatus(ctx, taskID, forward.StatusActive, ""); err != nil {
		e.registry.Release(pair)
		return nil, fmt.Errorf("failed to mark task active: %w", err)
	}

	logger.L().Infof("Forward task resumed: task_id=%s checkpoint=%d", taskID, task.Checkpoint)

	snapshot := task.Clone()
	e.wg.Add(1)
	go e.run(task)

	return snapshot, nil
}

// Cancel 请求取消任务
// 取消是协作式的：设置标记，循环在消息边界和分页边界响应
// 对已经取消或已结束的任务重复调用是无害的空操作
func (e *Engine) Cancel(ctx context.Context, taskID string) error {
	task, err := e.tasks.GetByTaskID(ctx, taskID)
	if err != nil {
		return err
	}

	// 本进程正在跑（含限流等待中短暂落库为 paused 的任务）：设标记即可
	if holder, ok := e.registry.ActiveTask(task.Pair()); ok && holder == taskID {
		e.registry.SetCancel(taskID)
		logger.L().Infof("Cancel requested: task_id=%s", taskID)
		return nil
	}

	if task.Status != forward.StatusActive {
		return nil
	}

	// 存储显示 active 但本进程没有在跑（上个进程遗留），直接落库取消
	if err := e.tasks.UpdateStatus(ctx, taskID, forward.StatusCancelled, ""); err != nil {
		return fmt.Errorf("failed to cancel orphaned task: %w", err)
	}
	return nil
}

// Shutdown 停止引擎，等待所有任务在边界停下
// 运行中的任务落库为 paused，下次启动后可显式恢复
func (e *Engine) Shutdown(ctx context.Context) error {
	e.cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("engine shutdown timed out: %w", ctx.Err())
	}
}

// run 单个任务的转发循环
func (e *Engine) run(task *forward.Task) {
	defer e.wg.Done()

	ctx := e.baseCtx
	pair := task.Pair()
	defer func() {
		e.registry.Release(pair)
		e.registry.ClearCancel(task.TaskID)
	}()

	// 发现阶段：先统计窗口内的消息总数再搬运
	// 统计是尽力而为的估计，搬运开始前历史仍可能变化，百分比显示端负责夹取
	remaining, err := e.countWindow(ctx, task)
	if err != nil {
		e.finish(ctx, task, forward.StatusFailed, err)
		return
	}

	task.Counters.Total = task.Counters.Processed() + remaining
	if err := e.tasks.UpdateProgress(ctx, task.TaskID, task.Checkpoint, task.Counters); err != nil {
		logger.L().Warnf("Failed to persist discovery count for %s: %v", task.TaskID, err)
	}

	logger.L().Infof("Relay phase started: task_id=%s remaining=%d", task.TaskID, remaining)
	e.relayWindow(ctx, task)
}

// countWindow 分页统计 (checkpoint, upperBound] 窗口内的消息数
func (e *Engine) countWindow(ctx context.Context, task *forward.Task) (int64, error) {
	var count int64
	cursor := task.Checkpoint

	for {
		page, err := e.pageWithRetry(ctx, task, cursor)
		if err != nil {
			return 0, err
		}
		if len(page) == 0 {
			return count, nil
		}

		count += int64(len(page))
		cursor = page[len(page)-1].ID

		if len(page) < e.opts.PageSize {
			return count, nil
		}
	}
}

// relayWindow 搬运阶段：按ID升序逐页投递
func (e *Engine) relayWindow(ctx context.Context, task *forward.Task) {
	cfg := task.Config
	cursor := task.Checkpoint
	var batch []*forward.Message

	for {
		if e.stopRequested(ctx, task) {
			return
		}

		page, err := e.pageWithRetry(ctx, task, cursor)
		if err != nil {
			e.finish(ctx, task, forward.StatusFailed, err)
			return
		}

		if len(page) == 0 {
			e.completeWindow(ctx, task, batch)
			return
		}

		for _, msg := range page {
			if e.stopRequested(ctx, task) {
				return
			}

			cursor = msg.ID

			if !msg.Relayable() {
				e.recordSkip(ctx, task, &task.Counters.Deleted)
				continue
			}

			if cfg.SkipDuplicate && e.isDuplicate(ctx, task, msg) {
				e.recordSkip(ctx, task, &task.Counters.Duplicate)
				continue
			}

			if !cfg.Allows(msg) {
				e.recordSkip(ctx, task, &task.Counters.Filtered)
				continue
			}

			if cfg.ForwardTag {
				batch = append(batch, msg)
				if len(batch) >= e.opts.BatchSize {
					if err := e.flushBatch(ctx, task, batch); err != nil {
						e.failOrStop(ctx, task, err)
						return
					}
					batch = batch[:0]
				}
				continue
			}

			if err := e.deliverOne(ctx, task, msg); err != nil {
				e.failOrStop(ctx, task, err)
				return
			}
		}

		if len(page) < e.opts.PageSize {
			e.completeWindow(ctx, task, batch)
			return
		}
	}
}

// completeWindow 冲刷尾批并落库 completed
func (e *Engine) completeWindow(ctx context.Context, task *forward.Task, batch []*forward.Message) {
	if len(batch) > 0 {
		if err := e.flushBatch(ctx, task, batch); err != nil {
			e.failOrStop(ctx, task, err)
			return
		}
	}
	e.finish(ctx, task, forward.StatusCompleted, nil)
}

// stopRequested 检查取消标记与进程退出，命中时落库对应状态
func (e *Engine) stopRequested(ctx context.Context, task *forward.Task) bool {
	if e.registry.IsCancelled(task.TaskID) {
		e.finish(ctx, task, forward.StatusCancelled, nil)
		return true
	}
	if ctx.Err() != nil {
		// 进程关闭：落库 paused，等待显式恢复
		if err := e.tasks.UpdateStatus(context.Background(), task.TaskID, forward.StatusPaused, ""); err != nil {
			logger.L().Errorf("Failed to pause task %s on shutdown: %v", task.TaskID, err)
		}
		logger.L().Infof("Forward task paused by shutdown: task_id=%s checkpoint=%d", task.TaskID, task.Checkpoint)
		return true
	}
	return false
}

// deliverOne 投递单条消息，处理限流与瞬态重试
// 限流时不推进检查点、不计数，等待后原样重试同一条消息
func (e *Engine) deliverOne(ctx context.Context, task *forward.Task, msg *forward.Message) error {
	cfg := task.Config
	opts := forward.DeliverOptions{
		Caption: cfg.RenderCaption(msg),
		Button:  cfg.Button,
		Protect: cfg.Protect,
	}

	attempts := 0
	for {
		err := e.relay.DeliverOne(ctx, task.DestChatID, task.SourceChatID, msg, opts)
		if err == nil {
			return e.confirmDelivery(ctx, task, msg.ID, []*forward.Message{msg})
		}

		var rateLimited *forward.RateLimitedError
		if errors.As(err, &rateLimited) {
			if pauseErr := e.pauseForFlood(ctx, task, rateLimited.Wait); pauseErr != nil {
				return pauseErr
			}
			continue
		}

		var fatal *forward.FatalError
		if errors.As(err, &fatal) {
			return err
		}

		attempts++
		if attempts > e.opts.TransientRetries {
			return forward.Fatalf("delivery of message %d failed after %d retries: %v", msg.ID, attempts-1, err)
		}

		logger.L().Warnf("Transient delivery error for message %d (attempt %d): %v", msg.ID, attempts, err)
		if sleepErr := e.clock.Sleep(ctx, transientBackoff(attempts)); sleepErr != nil {
			return sleepErr
		}
	}
}

// flushBatch 整批转发，检查点推进到批内最后一条
// 批次从引擎视角不存在部分成功，失败时整批留待重试
func (e *Engine) flushBatch(ctx context.Context, task *forward.Task, batch []*forward.Message) error {
	ids := make([]int64, len(batch))
	for i, msg := range batch {
		ids[i] = msg.ID
	}

	attempts := 0
	for {
		err := e.relay.DeliverBatch(ctx, task.DestChatID, task.SourceChatID, ids, task.Config.Protect)
		if err == nil {
			return e.confirmDelivery(ctx, task, ids[len(ids)-1], batch)
		}

		var rateLimited *forward.RateLimitedError
		if errors.As(err, &rateLimited) {
			if pauseErr := e.pauseForFlood(ctx, task, rateLimited.Wait); pauseErr != nil {
				return pauseErr
			}
			continue
		}

		var fatal *forward.FatalError
		if errors.As(err, &fatal) {
			return err
		}

		attempts++
		if attempts > e.opts.TransientRetries {
			return forward.Fatalf("batch delivery of %d messages failed after %d retries: %v", len(ids), attempts-1, err)
		}

		logger.L().Warnf("Transient batch delivery error (attempt %d): %v", attempts, err)
		if sleepErr := e.clock.Sleep(ctx, transientBackoff(attempts)); sleepErr != nil {
			return sleepErr
		}
	}
}

// confirmDelivery 投递成功后的公共路径：计数、推进检查点、直写落库、限速
func (e *Engine) confirmDelivery(ctx context.Context, task *forward.Task, lastID int64, delivered []*forward.Message) error {
	task.Counters.Forwarded += int64(len(delivered))
	task.Checkpoint = lastID

	// 直写检查点（不做批量缓冲），崩溃最多丢失一条在途消息
	if err := e.tasks.UpdateProgress(ctx, task.TaskID, task.Checkpoint, task.Counters); err != nil {
		return forward.Fatalf("failed to persist checkpoint %d: %v", lastID, err)
	}

	if task.Config.SkipDuplicate {
		for _, msg := range delivered {
			if err := e.fingerprints.Record(ctx, task.DestChatID, msg.Fingerprint()); err != nil {
				logger.L().Warnf("Failed to record fingerprint for message %d: %v", msg.ID, err)
			}
		}
	}

	return e.clock.Sleep(ctx, e.opts.Delay)
}

// pauseForFlood 限流处理：paused 落库 → 等待 → active 落库
// 服务商在实际投递前就确认了限流，原样重试是幂等的
func (e *Engine) pauseForFlood(ctx context.Context, task *forward.Task, wait time.Duration) error {
	logger.L().Warnf("Rate limited: task_id=%s wait=%s", task.TaskID, wait)

	if err := e.tasks.UpdateStatus(ctx, task.TaskID, forward.StatusPaused, ""); err != nil {
		logger.L().Errorf("Failed to persist paused status for %s: %v", task.TaskID, err)
	}

	if err := e.clock.Sleep(ctx, wait); err != nil {
		return err
	}

	if err := e.tasks.UpdateStatus(ctx, task.TaskID, forward.StatusActive, ""); err != nil {
		logger.L().Errorf("Failed to persist active status for %s: %v", task.TaskID, err)
	}
	return nil
}

// isDuplicate 查询指纹，查询失败按未重复处理（宁可多发不静默丢弃）
func (e *Engine) isDuplicate(ctx context.Context, task *forward.Task, msg *forward.Message) bool {
	seen, err := e.fingerprints.Seen(ctx, task.DestChatID, msg.Fingerprint())
	if err != nil {
		logger.L().Warnf("Fingerprint lookup failed for message %d: %v", msg.ID, err)
		return false
	}
	return seen
}

// recordSkip 跳过计数落库（检查点不动）
func (e *Engine) recordSkip(ctx context.Context, task *forward.Task, counter *int64) {
	*counter++
	if err := e.tasks.UpdateProgress(ctx, task.TaskID, task.Checkpoint, task.Counters); err != nil {
		logger.L().Warnf("Failed to persist skip counters for %s: %v", task.TaskID, err)
	}
}

// failOrStop 区分进程退出与真实失败
func (e *Engine) failOrStop(ctx context.Context, task *forward.Task, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		if updateErr := e.tasks.UpdateStatus(context.Background(), task.TaskID, forward.StatusPaused, ""); updateErr != nil {
			logger.L().Errorf("Failed to pause task %s on shutdown: %v", task.TaskID, updateErr)
		}
		return
	}
	e.finish(ctx, task, forward.StatusFailed, err)
}

// finish 终态落库并通知任务所有者
func (e *Engine) finish(ctx context.Context, task *forward.Task, status forward.Status, cause error) {
	errDetail := ""
	if cause != nil {
		errDetail = cause.Error()
	}

	// 终态写入不能被关闭流程打断
	if err := e.tasks.UpdateStatus(context.Background(), task.TaskID, status, errDetail); err != nil {
		logger.L().Errorf("Failed to persist terminal status %s for %s: %v", status, task.TaskID, err)
	}
	task.Status = status
	task.Error = errDetail

	switch status {
	case forward.StatusCompleted:
		logger.L().Infof("Forward task completed: task_id=%s forwarded=%d", task.TaskID, task.Counters.Forwarded)
		e.notifier.Notify(ctx, task.UserID, fmt.Sprintf("🎉 转发完成：已转发 %d 条消息", task.Counters.Forwarded))
	case forward.StatusCancelled:
		logger.L().Infof("Forward task cancelled: task_id=%s checkpoint=%d", task.TaskID, task.Checkpoint)
		e.notifier.Notify(ctx, task.UserID, "❌ 转发任务已取消")
	case forward.StatusFailed:
		logger.L().Errorf("Forward task failed: task_id=%s error=%s", task.TaskID, errDetail)
		e.notifier.Notify(ctx, task.UserID, fmt.Sprintf("⚠️ 转发任务失败：%s\n可使用 /resume %s 恢复", errDetail, task.TaskID))
	}
}

// pageWithRetry 带瞬态重试的分页读取
func (e *Engine) pageWithRetry(ctx context.Context, task *forward.Task, afterID int64) ([]*forward.Message, error) {
	attempts := 0
	for {
		page, err := e.source.PageMessages(ctx, task.SourceChatID, afterID, task.UpperBoundID, e.opts.PageSize)
		if err == nil {
			return page, nil
		}

		var fatal *forward.FatalError
		if errors.As(err, &fatal) {
			return nil, err
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}

		attempts++
		if attempts > e.opts.TransientRetries {
			return nil, forward.Fatalf("history paging after id %d failed after %d retries: %v", afterID, attempts-1, err)
		}

		logger.L().Warnf("Transient paging error after id %d (attempt %d): %v", afterID, attempts, err)
		if sleepErr := e.clock.Sleep(ctx, transientBackoff(attempts)); sleepErr != nil {
			return nil, sleepErr
		}
	}
}

// transientBackoff 瞬态错误的指数退避：1s, 2s, 4s...
func transientBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(1<<(attempt-1)) * time.Second
}

// newTaskID 生成任务ID，形如 task_1a2b3c4d
func newTaskID() string {
	return "task_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
}
