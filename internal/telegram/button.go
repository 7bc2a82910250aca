package telegram

import (
	"strings"

	botModels "github.com/go-telegram/bot/models"
)

// ParseButtonTemplate 解析内联按钮模板
// 模板格式：每行一个按钮，形如 [标签][https://example.com]
// 解析不出任何按钮时返回 nil
func ParseButtonTemplate(template string) *botModels.InlineKeyboardMarkup {
	var rows [][]botModels.InlineKeyboardButton

	for _, line := range strings.Split(template, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		label, url, ok := parseButtonLine(line)
		if !ok {
			continue
		}
		rows = append(rows, []botModels.InlineKeyboardButton{
			{Text: label, URL: url},
		})
	}

	if len(rows) == 0 {
		return nil
	}
	return &botModels.InlineKeyboardMarkup{InlineKeyboard: rows}
}

// parseButtonLine 拆出 [label][url] 的两段
func parseButtonLine(line string) (label, url string, ok bool) {
	if !strings.HasPrefix(line, "[") || !strings.HasSuffix(line, "]") {
		return "", "", false
	}

	sep := strings.Index(line, "][")
	if sep <= 0 {
		return "", "", false
	}

	label = line[1:sep]
	url = line[sep+2 : len(line)-1]
	if label == "" || url == "" {
		return "", "", false
	}
	return label, url, true
}
