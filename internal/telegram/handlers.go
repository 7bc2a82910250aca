package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	botModels "github.com/go-telegram/bot/models"

	"forwardbot/internal/forward"
	"forwardbot/internal/forward/service"
	"forwardbot/internal/logger"
)

// registerHandlers 注册所有命令处理器（异步执行）
func (b *Bot) registerHandlers() {
	// 普通命令 - 异步执行
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypeExact,
		b.asyncHandler(b.handleStart))

	// 转发命令（仅 Owner） - 异步执行
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/forward", bot.MatchTypePrefix,
		b.asyncHandler(b.RequireOwner(b.handleForward)))
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/cancel", bot.MatchTypePrefix,
		b.asyncHandler(b.RequireOwner(b.handleCancel)))
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/resume", bot.MatchTypePrefix,
		b.asyncHandler(b.RequireOwner(b.handleResume)))
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/status", bot.MatchTypePrefix,
		b.asyncHandler(b.RequireOwner(b.handleStatus)))
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/tasks", bot.MatchTypeExact,
		b.asyncHandler(b.RequireOwner(b.handleTasks)))
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/deltask", bot.MatchTypePrefix,
		b.asyncHandler(b.RequireOwner(b.handleDeleteTask)))

	// 频道管理（仅 Owner） - 异步执行
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/addchannel", bot.MatchTypePrefix,
		b.asyncHandler(b.RequireOwner(b.handleAddChannel)))
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/delchannel", bot.MatchTypePrefix,
		b.asyncHandler(b.RequireOwner(b.handleDelChannel)))
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/channels", bot.MatchTypeExact,
		b.asyncHandler(b.RequireOwner(b.handleChannels)))
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/lastmsg", bot.MatchTypePrefix,
		b.asyncHandler(b.RequireOwner(b.handleLastMessage)))

	// 转发配置（仅 Owner）
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/settings", bot.MatchTypeExact,
		b.asyncHandler(b.RequireOwner(b.handleSettings)))

	// 回调按钮
	b.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, "resume:", bot.MatchTypePrefix,
		b.asyncHandler(b.handleResumeCallback))
	b.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, "set:", bot.MatchTypePrefix,
		b.asyncHandler(b.handleSettingsCallback))

	// 频道消息归档（历史源的数据来源）
	b.bot.RegisterHandlerMatchFunc(func(update *botModels.Update) bool {
		return update.ChannelPost != nil
	}, b.handleChannelPost)

	logger.L().Debug("All handlers registered with async execution")
}

// handleChannelPost 频道消息入库，同步执行（归档顺序跟随更新顺序）
func (b *Bot) handleChannelPost(ctx context.Context, botInstance *bot.Bot, update *botModels.Update) {
	b.archiver.HandleChannelPost(ctx, update.ChannelPost)
}

// handleStart 处理 /start 命令
func (b *Bot) handleStart(ctx context.Context, botInstance *bot.Bot, update *botModels.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}

	welcomeText := fmt.Sprintf(
		"👋 你好, %s!\n\n"+
			"我是频道搬运 Bot。把我拉进源频道后，新消息会被持续归档，随时可以搬运到目标频道。\n\n"+
			"频道管理:\n"+
			"/addchannel &lt;链接或ID&gt; - 登记频道\n"+
			"/channels - 查看已登记的频道\n"+
			"/delchannel &lt;频道&gt; - 删除频道\n"+
			"/lastmsg &lt;频道&gt; &lt;消息链接&gt; - 登记搬运上界\n\n"+
			"转发任务:\n"+
			"/forward &lt;源&gt; &lt;目标&gt; [起始ID] - 开始搬运\n"+
			"/status [任务ID] - 查看进度\n"+
			"/tasks - 任务列表\n"+
			"/cancel [任务ID] - 取消任务\n"+
			"/resume &lt;任务ID&gt; - 恢复任务\n"+
			"/deltask &lt;任务ID&gt; - 删除任务记录\n\n"+
			"/settings - 转发配置",
		update.Message.From.FirstName,
	)

	b.sendMessage(ctx, update.Message.Chat.ID, welcomeText)
}

// handleForward 处理 /forward 命令（启动搬运任务）
func (b *Bot) handleForward(ctx context.Context, botInstance *bot.Bot, update *botModels.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}
	chatID := update.Message.Chat.ID
	userID := update.Message.From.ID

	parts := strings.Fields(update.Message.Text)
	if len(parts) < 3 {
		b.sendErrorMessage(ctx, chatID,
			"用法: /forward <源频道> <目标频道> [起始消息ID]\n频道可用 /channels 里的引用ID或标题")
		return
	}

	source, err := b.resolveChannelRef(ctx, userID, parts[1])
	if err != nil {
		b.sendErrorMessage(ctx, chatID, "源频道: "+errorText(err))
		return
	}
	dest, err := b.resolveChannelRef(ctx, userID, parts[2])
	if err != nil {
		b.sendErrorMessage(ctx, chatID, "目标频道: "+errorText(err))
		return
	}

	var startAfter int64
	if len(parts) >= 4 {
		startAfter, err = strconv.ParseInt(parts[3], 10, 64)
		if err != nil || startAfter < 0 {
			b.sendErrorMessage(ctx, chatID, "无效的起始消息ID")
			return
		}
	}

	task, err := b.svc.StartForwarding(ctx, userID, service.StartRequest{
		SourceRefID:  source.RefID,
		DestRefID:    dest.RefID,
		StartAfterID: startAfter,
	})
	if err != nil {
		b.sendErrorMessage(ctx, chatID, errorText(err))
		return
	}

	b.sendSuccessMessage(ctx, chatID, fmt.Sprintf(
		"搬运任务已启动\n\n任务ID: <code>%s</code>\n%s → %s\n\n用 /status %s 查看进度",
		task.TaskID, source.Title, dest.Title, task.TaskID))
}

// handleCancel 处理 /cancel 命令，不带参数时取消当前 active 任务
func (b *Bot) handleCancel(ctx context.Context, botInstance *bot.Bot, update *botModels.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}
	chatID := update.Message.Chat.ID
	userID := update.Message.From.ID

	taskID := ""
	if parts := strings.Fields(update.Message.Text); len(parts) >= 2 {
		taskID = parts[1]
	}

	if taskID == "" {
		status, err := b.svc.GetStatus(ctx, userID, "")
		if err != nil {
			b.sendErrorMessage(ctx, chatID, "当前没有运行中的任务")
			return
		}
		taskID = status.Task.TaskID
	}

	if err := b.svc.CancelForwarding(ctx, userID, taskID); err != nil {
		b.sendErrorMessage(ctx, chatID, errorText(err))
		return
	}

	b.sendSuccessMessage(ctx, chatID, fmt.Sprintf("已请求取消任务 <code>%s</code>，将在当前消息后停止", taskID))
}

// handleResume 处理 /resume 命令
func (b *Bot) handleResume(ctx context.Context, botInstance *bot.Bot, update *botModels.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}
	chatID := update.Message.Chat.ID

	parts := strings.Fields(update.Message.Text)
	if len(parts) < 2 {
		b.sendErrorMessage(ctx, chatID, "用法: /resume <任务ID>")
		return
	}

	task, err := b.svc.ResumeTask(ctx, update.Message.From.ID, parts[1])
	if err != nil {
		b.sendErrorMessage(ctx, chatID, errorText(err))
		return
	}

	b.sendSuccessMessage(ctx, chatID, fmt.Sprintf(
		"任务 <code>%s</code> 已恢复，从消息 %d 之后继续", task.TaskID, task.Checkpoint))
}

// handleStatus 处理 /status 命令，不带参数时显示当前 active 任务
func (b *Bot) handleStatus(ctx context.Context, botInstance *bot.Bot, update *botModels.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}
	chatID := update.Message.Chat.ID

	taskID := ""
	if parts := strings.Fields(update.Message.Text); len(parts) >= 2 {
		taskID = parts[1]
	}

	status, err := b.svc.GetStatus(ctx, update.Message.From.ID, taskID)
	if err != nil {
		b.sendErrorMessage(ctx, chatID, errorText(err))
		return
	}

	b.sendMessage(ctx, chatID, statusText(status))
}

// handleTasks 处理 /tasks 命令，可恢复任务附带恢复按钮
func (b *Bot) handleTasks(ctx context.Context, botInstance *bot.Bot, update *botModels.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}
	chatID := update.Message.Chat.ID

	tasks, err := b.svc.ListTasks(ctx, update.Message.From.ID, false)
	if err != nil {
		b.sendErrorMessage(ctx, chatID, errorText(err))
		return
	}
	if len(tasks) == 0 {
		b.sendMessage(ctx, chatID, "📝 暂无任务")
		return
	}

	var text strings.Builder
	text.WriteString("📋 任务列表:\n\n")
	var rows [][]botModels.InlineKeyboardButton
	for i, task := range tasks {
		text.WriteString(fmt.Sprintf("%d. %s <code>%s</code> 已转发 %d/%d\n",
			i+1, statusEmoji(task.Status), task.TaskID, task.Counters.Forwarded, task.Counters.Total))
		if task.Status.IsResumable() {
			rows = append(rows, []botModels.InlineKeyboardButton{
				{Text: "▶️ 恢复 " + task.TaskID, CallbackData: "resume:" + task.TaskID},
			})
		}
	}

	if len(rows) > 0 {
		b.sendMessageWithMarkup(ctx, chatID, text.String(),
			&botModels.InlineKeyboardMarkup{InlineKeyboard: rows})
		return
	}
	b.sendMessage(ctx, chatID, text.String())
}

// handleDeleteTask 处理 /deltask 命令
func (b *Bot) handleDeleteTask(ctx context.Context, botInstance *bot.Bot, update *botModels.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}
	chatID := update.Message.Chat.ID

	parts := strings.Fields(update.Message.Text)
	if len(parts) < 2 {
		b.sendErrorMessage(ctx, chatID, "用法: /deltask <任务ID>")
		return
	}

	if err := b.svc.DeleteTask(ctx, update.Message.From.ID, parts[1]); err != nil {
		b.sendErrorMessage(ctx, chatID, errorText(err))
		return
	}
	b.sendSuccessMessage(ctx, chatID, "任务记录已删除")
}

// handleAddChannel 处理 /addchannel 命令
func (b *Bot) handleAddChannel(ctx context.Context, botInstance *bot.Bot, update *botModels.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}
	chatID := update.Message.Chat.ID

	parts := strings.Fields(update.Message.Text)
	if len(parts) < 2 {
		b.sendErrorMessage(ctx, chatID,
			"用法: /addchannel <链接、@用户名或频道ID>\n例如: /addchannel @mychannel")
		return
	}

	chat, err := b.resolveChat(ctx, parts[1])
	if err != nil {
		b.sendErrorMessage(ctx, chatID, "无法访问该频道，请确认 Bot 已加入: "+errorText(err))
		return
	}

	ref, err := b.svc.AddChannelReference(ctx, update.Message.From.ID, chat.ID, chat.Title, parts[1])
	if err != nil {
		b.sendErrorMessage(ctx, chatID, errorText(err))
		return
	}

	b.sendSuccessMessage(ctx, chatID, fmt.Sprintf(
		"频道已登记\n\n标题: %s\n引用ID: <code>%s</code>", ref.Title, ref.RefID))
}

// handleDelChannel 处理 /delchannel 命令
func (b *Bot) handleDelChannel(ctx context.Context, botInstance *bot.Bot, update *botModels.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}
	chatID := update.Message.Chat.ID
	userID := update.Message.From.ID

	parts := strings.Fields(update.Message.Text)
	if len(parts) < 2 {
		b.sendErrorMessage(ctx, chatID, "用法: /delchannel <频道>")
		return
	}

	ref, err := b.resolveChannelRef(ctx, userID, parts[1])
	if err != nil {
		b.sendErrorMessage(ctx, chatID, errorText(err))
		return
	}

	if err := b.svc.DeleteChannelReference(ctx, userID, ref.RefID); err != nil {
		b.sendErrorMessage(ctx, chatID, errorText(err))
		return
	}
	b.sendSuccessMessage(ctx, chatID, fmt.Sprintf("频道 %s 已删除", ref.Title))
}

// handleChannels 处理 /channels 命令，顺带刷新频道标题
func (b *Bot) handleChannels(ctx context.Context, botInstance *bot.Bot, update *botModels.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}
	chatID := update.Message.Chat.ID

	refs, err := b.svc.ListChannelReferences(ctx, update.Message.From.ID)
	if err != nil {
		b.sendErrorMessage(ctx, chatID, errorText(err))
		return
	}
	if len(refs) == 0 {
		b.sendMessage(ctx, chatID, "📝 暂无登记的频道，用 /addchannel 添加")
		return
	}

	var text strings.Builder
	text.WriteString("📡 已登记的频道:\n\n")
	for i, ref := range refs {
		b.refreshChannelTitle(ctx, ref)
		upper := "未设置"
		if ref.LastMessageID > 0 {
			upper = strconv.FormatInt(ref.LastMessageID, 10)
		}
		text.WriteString(fmt.Sprintf("%d. %s\n   引用ID: <code>%s</code>\n   搬运上界: %s\n",
			i+1, ref.Title, ref.RefID, upper))
	}

	b.sendMessage(ctx, chatID, text.String())
}

// handleLastMessage 处理 /lastmsg 命令
func (b *Bot) handleLastMessage(ctx context.Context, botInstance *bot.Bot, update *botModels.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}
	chatID := update.Message.Chat.ID
	userID := update.Message.From.ID

	parts := strings.Fields(update.Message.Text)
	if len(parts) < 3 {
		b.sendErrorMessage(ctx, chatID,
			"用法: /lastmsg <频道> <消息链接>\n例如: /lastmsg mychannel https://t.me/mychannel/1234")
		return
	}

	ref, err := b.resolveChannelRef(ctx, userID, parts[1])
	if err != nil {
		b.sendErrorMessage(ctx, chatID, errorText(err))
		return
	}

	messageID, err := b.svc.SetLastMessage(ctx, userID, ref.RefID, parts[2])
	if err != nil {
		b.sendErrorMessage(ctx, chatID, errorText(err))
		return
	}

	b.sendSuccessMessage(ctx, chatID, fmt.Sprintf(
		"频道 %s 的搬运上界已登记为消息 %d", ref.Title, messageID))
}

// resolveChat 把链接/用户名/数字ID解析为频道信息
func (b *Bot) resolveChat(ctx context.Context, arg string) (*botModels.ChatFullInfo, error) {
	var chatID any

	switch {
	case strings.HasPrefix(arg, "-") || isDigits(arg):
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return nil, &forward.ValidationError{Field: "channel", Reason: "invalid chat id"}
		}
		chatID = id
	case strings.HasPrefix(arg, "@"):
		chatID = arg
	default:
		// t.me 链接取最后一段作为用户名
		trimmed := strings.TrimSuffix(arg, "/")
		idx := strings.LastIndex(trimmed, "/")
		if idx < 0 || idx == len(trimmed)-1 {
			return nil, &forward.ValidationError{Field: "channel", Reason: "unrecognized channel link"}
		}
		chatID = "@" + trimmed[idx+1:]
	}

	chat, err := b.bot.GetChat(ctx, &bot.GetChatParams{ChatID: chatID})
	if err != nil {
		return nil, classifyAPIError(err)
	}
	return chat, nil
}

// resolveChannelRef 按引用ID（支持前缀）或标题找到用户的频道引用
func (b *Bot) resolveChannelRef(ctx context.Context, userID int64, token string) (*forward.ChannelRef, error) {
	refs, err := b.svc.ListChannelReferences(ctx, userID)
	if err != nil {
		return nil, err
	}

	var matches []*forward.ChannelRef
	for _, ref := range refs {
		if ref.RefID == token || ref.Title == token {
			return ref, nil
		}
		if len(token) >= 4 && strings.HasPrefix(ref.RefID, token) {
			matches = append(matches, ref)
		}
	}

	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return nil, forward.ErrChannelNotFound
	default:
		return nil, &forward.ValidationError{Field: "channel", Reason: "reference is ambiguous, use the full id"}
	}
}

// refreshChannelTitle 用当前频道标题刷新引用记录
func (b *Bot) refreshChannelTitle(ctx context.Context, ref *forward.ChannelRef) {
	chat, err := b.bot.GetChat(ctx, &bot.GetChatParams{ChatID: ref.ChatID})
	if err != nil || chat.Title == "" || chat.Title == ref.Title {
		return
	}

	if err := b.channels.UpdateTitle(ctx, ref.RefID, chat.Title); err != nil {
		logger.L().Warnf("Failed to refresh title for channel %s: %v", ref.RefID, err)
		return
	}
	ref.Title = chat.Title
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// statusText 生成任务状态文本
func statusText(status *service.TaskStatus) string {
	task := status.Task
	lines := []string{
		fmt.Sprintf("%s 任务 <code>%s</code>", statusEmoji(task.Status), task.TaskID),
		fmt.Sprintf("状态: %s", statusLabel(task.Status)),
		fmt.Sprintf("进度: %d%% (%d/%d)", status.ProgressPercent, task.Counters.Forwarded, task.Counters.Total),
		fmt.Sprintf("检查点: %d", task.Checkpoint),
		fmt.Sprintf("跳过: 重复 %d / 过滤 %d / 无效 %d",
			task.Counters.Duplicate, task.Counters.Filtered, task.Counters.Deleted),
	}
	if task.Error != "" {
		lines = append(lines, fmt.Sprintf("错误: %s", task.Error))
	}
	return strings.Join(lines, "\n")
}

func statusEmoji(status forward.Status) string {
	switch status {
	case forward.StatusActive:
		return "🚀"
	case forward.StatusPaused:
		return "⏸"
	case forward.StatusCompleted:
		return "🎉"
	case forward.StatusCancelled:
		return "❌"
	case forward.StatusFailed:
		return "⚠️"
	default:
		return "⏳"
	}
}

func statusLabel(status forward.Status) string {
	switch status {
	case forward.StatusPending:
		return "等待中"
	case forward.StatusActive:
		return "搬运中"
	case forward.StatusPaused:
		return "已暂停"
	case forward.StatusCompleted:
		return "已完成"
	case forward.StatusCancelled:
		return "已取消"
	case forward.StatusFailed:
		return "已失败"
	default:
		return string(status)
	}
}

// errorText 把服务层错误翻译为用户可读的提示
func errorText(err error) string {
	var verr *forward.ValidationError
	if errors.As(err, &verr) {
		return verr.Error()
	}

	switch {
	case errors.Is(err, forward.ErrConflict):
		return "该源和目标之间已有任务在运行"
	case errors.Is(err, forward.ErrAlreadyComplete):
		return "任务已经完成，无需恢复"
	case errors.Is(err, forward.ErrTaskNotFound):
		return "任务不存在"
	case errors.Is(err, forward.ErrChannelNotFound):
		return "频道不存在，用 /channels 查看已登记的频道"
	case errors.Is(err, forward.ErrChannelInUse):
		return "频道正被运行中的任务使用，不能删除"
	case errors.Is(err, forward.ErrTaskActive):
		return "任务正在运行，请先取消"
	}

	return err.Error()
}
