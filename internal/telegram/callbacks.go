package telegram

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-telegram/bot"
	botModels "github.com/go-telegram/bot/models"

	"forwardbot/internal/forward"
	"forwardbot/internal/logger"
)

// handleResumeCallback 处理任务列表里的恢复按钮
func (b *Bot) handleResumeCallback(ctx context.Context, botInstance *bot.Bot, update *botModels.Update) {
	query := update.CallbackQuery
	if query == nil {
		return
	}

	taskID := strings.TrimPrefix(query.Data, "resume:")
	task, err := b.svc.ResumeTask(ctx, query.From.ID, taskID)

	var answer string
	if err != nil {
		answer = "❌ " + errorText(err)
		logger.L().Warnf("Resume via button failed for task %s: %v", taskID, err)
	} else {
		answer = fmt.Sprintf("▶️ 任务已恢复，从消息 %d 之后继续", task.Checkpoint)
	}

	if _, err := botInstance.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: query.ID,
		Text:            answer,
		ShowAlert:       err != nil,
	}); err != nil {
		logger.L().Errorf("Failed to answer callback query: %v", err)
	}
}

// handleSettings 处理 /settings 命令，发送配置开关键盘
func (b *Bot) handleSettings(ctx context.Context, botInstance *bot.Bot, update *botModels.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}
	chatID := update.Message.Chat.ID

	cfg, err := b.svc.GetConfig(ctx, update.Message.From.ID)
	if err != nil {
		b.sendErrorMessage(ctx, chatID, errorText(err))
		return
	}

	b.sendMessageWithMarkup(ctx, chatID, "⚙️ 转发配置\n点击开关切换，对之后启动的任务生效", settingsKeyboard(cfg))
}

// handleSettingsCallback 处理配置开关点击
func (b *Bot) handleSettingsCallback(ctx context.Context, botInstance *bot.Bot, update *botModels.Update) {
	query := update.CallbackQuery
	if query == nil {
		return
	}

	cfg, err := b.svc.GetConfig(ctx, query.From.ID)
	if err != nil {
		b.answerCallback(ctx, query.ID, "❌ "+errorText(err), true)
		return
	}

	switch data := strings.TrimPrefix(query.Data, "set:"); {
	case strings.HasPrefix(data, "kind:"):
		kind := forward.Kind(strings.TrimPrefix(data, "kind:"))
		cfg.Filters[kind] = !cfg.Filters[kind]
	case data == "dup":
		cfg.SkipDuplicate = !cfg.SkipDuplicate
	case data == "tag":
		cfg.ForwardTag = !cfg.ForwardTag
	case data == "protect":
		cfg.Protect = !cfg.Protect
	default:
		b.answerCallback(ctx, query.ID, "", false)
		return
	}

	if err := b.svc.UpdateConfig(ctx, query.From.ID, cfg); err != nil {
		b.answerCallback(ctx, query.ID, "❌ "+errorText(err), true)
		return
	}

	b.answerCallback(ctx, query.ID, "已更新", false)

	// 刷新键盘显示新的开关状态
	if query.Message.Message != nil {
		_, err := botInstance.EditMessageReplyMarkup(ctx, &bot.EditMessageReplyMarkupParams{
			ChatID:      query.Message.Message.Chat.ID,
			MessageID:   query.Message.Message.ID,
			ReplyMarkup: settingsKeyboard(cfg),
		})
		if err != nil {
			logger.L().Errorf("Failed to edit message markup: %v", err)
		}
	}
}

func (b *Bot) answerCallback(ctx context.Context, queryID, text string, alert bool) {
	_, err := b.bot.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: queryID,
		Text:            text,
		ShowAlert:       alert,
	})
	if err != nil {
		logger.L().Errorf("Failed to answer callback query: %v", err)
	}
}

// settingsKeyboard 生成配置开关键盘
func settingsKeyboard(cfg forward.Config) *botModels.InlineKeyboardMarkup {
	var rows [][]botModels.InlineKeyboardButton

	var row []botModels.InlineKeyboardButton
	for _, kind := range forward.Kinds {
		row = append(row, botModels.InlineKeyboardButton{
			Text:         toggleMark(cfg.Filters[kind]) + " " + kindLabel(kind),
			CallbackData: "set:kind:" + string(kind),
		})
		if len(row) == 3 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}

	rows = append(rows,
		[]botModels.InlineKeyboardButton{
			{Text: toggleMark(cfg.SkipDuplicate) + " 跳过重复", CallbackData: "set:dup"},
			{Text: toggleMark(cfg.ForwardTag) + " 保留来源署名", CallbackData: "set:tag"},
		},
		[]botModels.InlineKeyboardButton{
			{Text: toggleMark(cfg.Protect) + " 内容保护", CallbackData: "set:protect"},
		},
	)

	return &botModels.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func toggleMark(on bool) string {
	if on {
		return "✅"
	}
	return "☑️"
}

func kindLabel(kind forward.Kind) string {
	switch kind {
	case forward.KindText:
		return "文本"
	case forward.KindPhoto:
		return "图片"
	case forward.KindVideo:
		return "视频"
	case forward.KindAudio:
		return "音频"
	case forward.KindVoice:
		return "语音"
	case forward.KindDocument:
		return "文件"
	case forward.KindAnimation:
		return "动图"
	case forward.KindSticker:
		return "贴纸"
	case forward.KindPoll:
		return "投票"
	default:
		return string(kind)
	}
}
