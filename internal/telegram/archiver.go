package telegram

import (
	"context"

	botModels "github.com/go-telegram/bot/models"

	"forwardbot/internal/forward"
	"forwardbot/internal/forward/repository"
	"forwardbot/internal/logger"
)

// Archiver 归档 Bot 可见频道的消息
// 归档是历史源的数据来源：Bot 只要在源频道里，新消息就会被持续记录
type Archiver struct {
	archive repository.ArchiveRepository
}

// NewArchiver 创建归档器
func NewArchiver(archive repository.ArchiveRepository) *Archiver {
	return &Archiver{archive: archive}
}

// HandleChannelPost 归档一条频道消息
func (a *Archiver) HandleChannelPost(ctx context.Context, post *botModels.Message) {
	if post == nil {
		return
	}

	msg := messageFromPost(post)
	if err := a.archive.Save(ctx, post.Chat.ID, msg); err != nil {
		logger.L().Errorf("Failed to archive message %d from chat %d: %v", post.ID, post.Chat.ID, err)
		return
	}

	logger.L().Debugf("Archived message: chat=%d id=%d kind=%s", post.Chat.ID, post.ID, msg.Kind)
}

// messageFromPost 把 Bot API 消息转换为归档记录
func messageFromPost(post *botModels.Message) *forward.Message {
	msg := &forward.Message{
		ID:      int64(post.ID),
		Caption: post.Caption,
		Text:    post.Text,
	}

	switch {
	case len(post.Photo) > 0:
		// 取最大尺寸的那一档
		largest := post.Photo[len(post.Photo)-1]
		msg.Kind = forward.KindPhoto
		msg.FileID = largest.FileID
		msg.Size = int64(largest.FileSize)
	case post.Video != nil:
		msg.Kind = forward.KindVideo
		msg.FileID = post.Video.FileID
		msg.FileName = post.Video.FileName
		msg.Size = int64(post.Video.FileSize)
	case post.Audio != nil:
		msg.Kind = forward.KindAudio
		msg.FileID = post.Audio.FileID
		msg.FileName = post.Audio.FileName
		msg.Size = int64(post.Audio.FileSize)
	case post.Voice != nil:
		msg.Kind = forward.KindVoice
		msg.FileID = post.Voice.FileID
		msg.Size = int64(post.Voice.FileSize)
	case post.Animation != nil:
		msg.Kind = forward.KindAnimation
		msg.FileID = post.Animation.FileID
		msg.FileName = post.Animation.FileName
		msg.Size = int64(post.Animation.FileSize)
	case post.Document != nil:
		msg.Kind = forward.KindDocument
		msg.FileID = post.Document.FileID
		msg.FileName = post.Document.FileName
		msg.Size = int64(post.Document.FileSize)
	case post.Sticker != nil:
		msg.Kind = forward.KindSticker
		msg.FileID = post.Sticker.FileID
		msg.Size = int64(post.Sticker.FileSize)
	case post.Poll != nil:
		msg.Kind = forward.KindPoll
	case post.Text != "":
		msg.Kind = forward.KindText
	default:
		// 入群通知、置顶提示等服务消息
		msg.Kind = forward.KindService
		msg.Service = true
	}

	return msg
}
