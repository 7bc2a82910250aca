package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"forwardbot/internal/forward"
	"forwardbot/internal/forward/engine"
	"forwardbot/internal/forward/repository"
	"forwardbot/internal/logger"
)

// Runner 转发引擎的控制面视角
type Runner interface {
	Start(ctx context.Context, spec engine.StartSpec) (*forward.Task, error)
	Resume(ctx context.Context, taskID string) (*forward.Task, error)
	Cancel(ctx context.Context, taskID string) error
}

// StartRequest 启动转发的请求
type StartRequest struct {
	SourceRefID  string
	DestRefID    string
	StartAfterID int64 // 0 表示沿用该通路最近一次任务的检查点（没有则从头开始）
}

// TaskStatus 任务状态查询结果
type TaskStatus struct {
	Task            *forward.Task
	ProgressPercent int // 夹取到 [0,100]
}

// Service 定义转发相关的全部用户操作
// 所有按任务ID的操作都校验归属，他人任务一律按不存在处理
type Service interface {
	StartForwarding(ctx context.Context, userID int64, req StartRequest) (*forward.Task, error)
	CancelForwarding(ctx context.Context, userID int64, taskID string) error
	ResumeTask(ctx context.Context, userID int64, taskID string) (*forward.Task, error)

	// GetStatus 查询任务状态，taskID 为空时返回该用户当前的 active 任务
	GetStatus(ctx context.Context, userID int64, taskID string) (*TaskStatus, error)

	// ListTasks 列出用户任务，resumableOnly 为真时只列可恢复的
	ListTasks(ctx context.Context, userID int64, resumableOnly bool) ([]*forward.Task, error)

	// DeleteTask 删除任务记录，active 任务拒绝删除
	DeleteTask(ctx context.Context, userID int64, taskID string) error

	// SetLastMessage 解析消息链接，把消息ID登记为频道的窗口上界
	SetLastMessage(ctx context.Context, userID int64, refID string, link string) (int64, error)

	AddChannelReference(ctx context.Context, userID int64, chatID int64, title, link string) (*forward.ChannelRef, error)
	ListChannelReferences(ctx context.Context, userID int64) ([]*forward.ChannelRef, error)
	DeleteChannelReference(ctx context.Context, userID int64, refID string) error

	GetConfig(ctx context.Context, userID int64) (forward.Config, error)
	UpdateConfig(ctx context.Context, userID int64, cfg forward.Config) error
}

type forwardService struct {
	runner   Runner
	tasks    repository.TaskRepository
	channels repository.ChannelRepository
	configs  repository.ConfigRepository
}

// NewForwardService 创建转发服务
func NewForwardService(
	runner Runner,
	tasks repository.TaskRepository,
	channels repository.ChannelRepository,
	configs repository.ConfigRepository,
) Service {
	return &forwardService{
		runner:   runner,
		tasks:    tasks,
		channels: channels,
		configs:  configs,
	}
}

// StartForwarding 启动转发任务
// 配置在此刻快照进任务记录，之后修改配置不影响运行中的任务
func (s *forwardService) StartForwarding(ctx context.Context, userID int64, req StartRequest) (*forward.Task, error) {
	source, err := s.channels.GetByRefID(ctx, userID, req.SourceRefID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve source channel: %w", err)
	}
	dest, err := s.channels.GetByRefID(ctx, userID, req.DestRefID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve destination channel: %w", err)
	}

	cfg, err := s.configs.GetByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load forward config: %w", err)
	}

	startAfter := req.StartAfterID
	if startAfter == 0 {
		// 未显式指定起点时沿用该通路最近一次任务的检查点，跳过已搬运的历史
		startAfter = s.inheritedCheckpoint(ctx, userID, source.ChatID, dest.ChatID)
	}

	task, err := s.runner.Start(ctx, engine.StartSpec{
		UserID:       userID,
		SourceRefID:  source.RefID,
		DestRefID:    dest.RefID,
		SourceChatID: source.ChatID,
		DestChatID:   dest.ChatID,
		StartAfterID: startAfter,
		UpperBoundID: source.LastMessageID,
		Config:       cfg,
	})
	if err != nil {
		return nil, err
	}

	logger.L().Infof("Forwarding started: user=%d task_id=%s source=%s dest=%s",
		userID, task.TaskID, source.Title, dest.Title)
	return task, nil
}

// inheritedCheckpoint 返回该通路最近一次可恢复任务的检查点，没有则为 0
func (s *forwardService) inheritedCheckpoint(ctx context.Context, userID, sourceChatID, destChatID int64) int64 {
	tasks, err := s.tasks.ListByUser(ctx, userID, []forward.Status{
		forward.StatusPaused, forward.StatusFailed, forward.StatusCancelled,
	})
	if err != nil {
		logger.L().Warnf("Failed to look up prior tasks for user %d: %v", userID, err)
		return 0
	}

	var checkpoint int64
	var latest time.Time
	found := false
	for _, t := range tasks {
		if t.SourceChatID != sourceChatID || t.DestChatID != destChatID {
			continue
		}
		if !found || t.UpdatedAt.After(latest) {
			found = true
			latest = t.UpdatedAt
			checkpoint = t.Checkpoint
		}
	}
	return checkpoint
}

// CancelForwarding 取消任务
func (s *forwardService) CancelForwarding(ctx context.Context, userID int64, taskID string) error {
	if _, err := s.ownedTask(ctx, userID, taskID); err != nil {
		return err
	}
	if err := s.runner.Cancel(ctx, taskID); err != nil {
		return fmt.Errorf("failed to cancel task: %w", err)
	}
	return nil
}

// ResumeTask 恢复任务
func (s *forwardService) ResumeTask(ctx context.Context, userID int64, taskID string) (*forward.Task, error) {
	if _, err := s.ownedTask(ctx, userID, taskID); err != nil {
		return nil, err
	}
	return s.runner.Resume(ctx, taskID)
}

// GetStatus 查询任务状态
func (s *forwardService) GetStatus(ctx context.Context, userID int64, taskID string) (*TaskStatus, error) {
	var task *forward.Task
	var err error

	if taskID == "" {
		task, err = s.currentActiveTask(ctx, userID)
	} else {
		task, err = s.ownedTask(ctx, userID, taskID)
	}
	if err != nil {
		return nil, err
	}

	return &TaskStatus{Task: task, ProgressPercent: task.ProgressPercent()}, nil
}

// currentActiveTask 返回用户当前的 active 任务（最新的一个）
func (s *forwardService) currentActiveTask(ctx context.Context, userID int64) (*forward.Task, error) {
	tasks, err := s.tasks.ListByUser(ctx, userID, []forward.Status{forward.StatusActive})
	if err != nil {
		return nil, fmt.Errorf("failed to list active tasks: %w", err)
	}
	if len(tasks) == 0 {
		return nil, forward.ErrTaskNotFound
	}

	latest := tasks[0]
	for _, t := range tasks[1:] {
		if t.UpdatedAt.After(latest.UpdatedAt) {
			latest = t
		}
	}
	return latest, nil
}

// ListTasks 列出用户任务
func (s *forwardService) ListTasks(ctx context.Context, userID int64, resumableOnly bool) ([]*forward.Task, error) {
	var statuses []forward.Status
	if resumableOnly {
		statuses = []forward.Status{forward.StatusPaused, forward.StatusFailed, forward.StatusCancelled}
	}

	tasks, err := s.tasks.ListByUser(ctx, userID, statuses)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	return tasks, nil
}

// DeleteTask 删除任务记录
func (s *forwardService) DeleteTask(ctx context.Context, userID int64, taskID string) error {
	if _, err := s.ownedTask(ctx, userID, taskID); err != nil {
		return err
	}
	if err := s.tasks.DeleteTask(ctx, taskID); err != nil {
		return err
	}
	logger.L().Infof("Task deleted: user=%d task_id=%s", userID, taskID)
	return nil
}

// SetLastMessage 解析消息链接并登记为频道的窗口上界
func (s *forwardService) SetLastMessage(ctx context.Context, userID int64, refID string, link string) (int64, error) {
	messageID, err := ParseMessageLink(link)
	if err != nil {
		return 0, err
	}

	ref, err := s.channels.GetByRefID(ctx, userID, refID)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve channel: %w", err)
	}

	if err := s.channels.UpdateLastMessage(ctx, ref.RefID, messageID); err != nil {
		return 0, fmt.Errorf("failed to record last message: %w", err)
	}

	logger.L().Infof("Last message recorded: user=%d ref=%s message_id=%d", userID, refID, messageID)
	return messageID, nil
}

// AddChannelReference 登记频道引用
func (s *forwardService) AddChannelReference(ctx context.Context, userID int64, chatID int64, title, link string) (*forward.ChannelRef, error) {
	if chatID == 0 {
		return nil, &forward.ValidationError{Field: "channel", Reason: "chat id is required"}
	}

	ref := &forward.ChannelRef{
		RefID:   uuid.New().String(),
		UserID:  userID,
		ChatID:  chatID,
		Title:   title,
		Link:    link,
		AddedAt: time.Now(),
	}
	if err := s.channels.Add(ctx, ref); err != nil {
		return nil, fmt.Errorf("failed to add channel reference: %w", err)
	}

	logger.L().Infof("Channel registered: user=%d ref=%s chat=%d title=%s", userID, ref.RefID, chatID, title)
	return ref, nil
}

// ListChannelReferences 列出用户登记的频道
func (s *forwardService) ListChannelReferences(ctx context.Context, userID int64) ([]*forward.ChannelRef, error) {
	refs, err := s.channels.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}
	return refs, nil
}

// DeleteChannelReference 删除频道引用，被 active 任务引用时拒绝
func (s *forwardService) DeleteChannelReference(ctx context.Context, userID int64, refID string) error {
	active, err := s.tasks.ListByUser(ctx, userID, []forward.Status{forward.StatusActive})
	if err != nil {
		return fmt.Errorf("failed to check active tasks: %w", err)
	}
	for _, t := range active {
		if t.SourceRefID == refID || t.DestRefID == refID {
			return forward.ErrChannelInUse
		}
	}

	if err := s.channels.Delete(ctx, userID, refID); err != nil {
		return err
	}

	logger.L().Infof("Channel removed: user=%d ref=%s", userID, refID)
	return nil
}

// GetConfig 获取用户转发配置
func (s *forwardService) GetConfig(ctx context.Context, userID int64) (forward.Config, error) {
	return s.configs.GetByUserID(ctx, userID)
}

// UpdateConfig 整体覆盖用户转发配置
func (s *forwardService) UpdateConfig(ctx context.Context, userID int64, cfg forward.Config) error {
	if err := s.configs.Update(ctx, userID, cfg); err != nil {
		return fmt.Errorf("failed to update config: %w", err)
	}
	return nil
}

// ownedTask 加载任务并校验归属
func (s *forwardService) ownedTask(ctx context.Context, userID int64, taskID string) (*forward.Task, error) {
	task, err := s.tasks.GetByTaskID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.UserID != userID {
		return nil, forward.ErrTaskNotFound
	}
	return task, nil
}
