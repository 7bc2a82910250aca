package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config 应用程序配置
type Config struct {
	TelegramToken     string        // Telegram Bot API Token
	BotOwnerIDs       []int64       // Bot管理员ID列表
	MongoURI          string        // MongoDB连接URI
	MongoDBName       string        // MongoDB数据库名称
	MongoTimeout      time.Duration // MongoDB连接超时
	LogLevel          string        // 日志级别，空值保持默认 info
	ForwardDelay      time.Duration // 两条消息之间的转发间隔
	PageSize          int           // 历史消息分页大小
	FingerprintTTL    time.Duration // 去重指纹保留时间
	TaskRetentionDays int           // 终态任务保留天数（过期由维护任务清理）
}

// Load 从环境变量加载配置
// 先尝试加载 .env 文件，找不到时静默跳过，环境变量优先
func Load() (*Config, error) {
	_ = godotenv.Load()

	mongoDBName := os.Getenv("MONGO_DB_NAME")
	if mongoDBName == "" {
		mongoDBName = "forwardbot"
	}

	cfg := &Config{
		TelegramToken: os.Getenv("TELEGRAM_TOKEN"),
		MongoURI:      os.Getenv("MONGO_URI"),
		MongoDBName:   mongoDBName,
		LogLevel:      os.Getenv("LOG_LEVEL"),
	}

	// 解析MONGO_TIMEOUT_SECONDS（默认10秒）
	mongoTimeoutSeconds, err := parsePositiveInt("MONGO_TIMEOUT_SECONDS", 10)
	if err != nil {
		return nil, err
	}
	cfg.MongoTimeout = time.Duration(mongoTimeoutSeconds) * time.Second

	// 解析BOT_OWNER_IDS
	ownerIDsStr := os.Getenv("BOT_OWNER_IDS")
	if ownerIDsStr != "" {
		var err error
		cfg.BotOwnerIDs, err = parseOwnerIDs(ownerIDsStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse BOT_OWNER_IDS: %w", err)
		}
	}

	// 解析FORWARD_DELAY_SECONDS（默认3秒）
	delaySeconds, err := parsePositiveInt("FORWARD_DELAY_SECONDS", 3)
	if err != nil {
		return nil, err
	}
	cfg.ForwardDelay = time.Duration(delaySeconds) * time.Second

	// 解析PAGE_SIZE（默认100）
	cfg.PageSize, err = parsePositiveInt("PAGE_SIZE", 100)
	if err != nil {
		return nil, err
	}

	// 解析FINGERPRINT_TTL_DAYS（默认30天）
	fpDays, err := parsePositiveInt("FINGERPRINT_TTL_DAYS", 30)
	if err != nil {
		return nil, err
	}
	cfg.FingerprintTTL = time.Duration(fpDays) * 24 * time.Hour

	// 解析TASK_RETENTION_DAYS（默认14天）
	cfg.TaskRetentionDays, err = parsePositiveInt("TASK_RETENTION_DAYS", 14)
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// parsePositiveInt 解析必须为正整数的环境变量，未设置时返回默认值
func parsePositiveInt(name string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback, nil
	}

	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", name, err)
	}
	if value < 1 {
		return 0, fmt.Errorf("%s must be >= 1, got %d", name, value)
	}
	return value, nil
}

// parseOwnerIDs 解析逗号分隔的用户ID字符串
// 支持格式: "123456789" 或 "123456789,987654321"
func parseOwnerIDs(s string) ([]int64, error) {
	parts := strings.Split(s, ",")
	ids := make([]int64, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid owner ID %q: %w", part, err)
		}
		ids = append(ids, id)
	}

	return ids, nil
}
