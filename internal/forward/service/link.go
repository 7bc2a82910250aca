package service

import (
	"strconv"
	"strings"

	"forwardbot/internal/forward"
)

// ParseMessageLink 从消息链接中提取消息ID
// 链接的最后一段路径是消息ID，例如 https://t.me/channel/123 或 https://t.me/c/1234567/123
func ParseMessageLink(link string) (int64, error) {
	link = strings.TrimSpace(strings.TrimSuffix(link, "/"))
	if link == "" {
		return 0, &forward.ValidationError{Field: "link", Reason: "link is empty"}
	}

	idx := strings.LastIndex(link, "/")
	if idx < 0 || idx == len(link)-1 {
		return 0, &forward.ValidationError{Field: "link", Reason: "message id segment is missing"}
	}

	id, err := strconv.ParseInt(link[idx+1:], 10, 64)
	if err != nil || id <= 0 {
		return 0, &forward.ValidationError{Field: "link", Reason: "message id must be a positive number"}
	}
	return id, nil
}
