package telegram

import (
	"context"
	"fmt"

	"forwardbot/internal/forward"
	"forwardbot/internal/forward/repository"
)

// ArchiveSource 基于消息归档的历史源
// Bot API 不提供历史拉取，Bot 持续归档可见频道的消息，分页读取归档
type ArchiveSource struct {
	archive repository.ArchiveRepository
}

// NewArchiveSource 创建归档历史源
func NewArchiveSource(archive repository.ArchiveRepository) *ArchiveSource {
	return &ArchiveSource{archive: archive}
}

// PageMessages 返回 chatID 中 ID 在 (afterID, beforeID] 内的一页消息
func (s *ArchiveSource) PageMessages(ctx context.Context, chatID, afterID, beforeID int64, pageSize int) ([]*forward.Message, error) {
	page, err := s.archive.PageAscending(ctx, chatID, afterID, beforeID, pageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to page archived messages: %w", err)
	}
	return page, nil
}
