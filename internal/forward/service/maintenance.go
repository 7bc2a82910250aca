package service

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"forwardbot/internal/forward/repository"
	"forwardbot/internal/logger"
)

// Sweeper 定时清理过期的终态任务记录
// 任务记录保留一段时间供恢复和审计，超期后批量删除
type Sweeper struct {
	cron      *cron.Cron
	tasks     repository.TaskRepository
	retention time.Duration
}

// NewSweeper 创建清理器，retention 是终态任务的保留时长
func NewSweeper(tasks repository.TaskRepository, retention time.Duration) *Sweeper {
	return &Sweeper{
		cron:      cron.New(),
		tasks:     tasks,
		retention: retention,
	}
}

// Start 启动每小时一次的清理调度
func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc("@hourly", s.sweep); err != nil {
		return err
	}
	s.cron.Start()
	logger.L().Infof("Task sweeper started: retention=%s", s.retention)
	return nil
}

// Stop 停止调度，等待在途的清理完成
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	before := time.Now().Add(-s.retention)
	deleted, err := s.tasks.PurgeTerminalTasks(ctx, before)
	if err != nil {
		logger.L().Errorf("Task sweep failed: %v", err)
		return
	}
	if deleted > 0 {
		logger.L().Infof("Task sweep removed %d expired tasks", deleted)
	}
}
