package forward

import (
	"fmt"
	"strings"
)

// Config 用户转发配置
// 任务启动时整体快照进任务记录，任务运行期间修改配置不影响已启动的任务
type Config struct {
	Filters       map[Kind]bool `bson:"filters"`        // 各内容类别开关
	Caption       string        `bson:"caption"`        // 说明文字模板，支持 {filename} {size} {caption}
	SkipDuplicate bool          `bson:"skip_duplicate"` // 是否按内容指纹去重
	MaxSize       int64         `bson:"max_size"`       // 媒体大小上限（字节），0 表示不限
	Extensions    []string      `bson:"extensions"`     // 扩展名黑名单（小写，不含点）
	Keywords      []string      `bson:"keywords"`       // 关键词白名单，非空时要求命中任意一个
	ForwardTag    bool          `bson:"forward_tag"`    // 保留来源署名（批量 forward 而非逐条 copy）
	Button        string        `bson:"button"`         // 内联按钮模板，格式 [文本][URL]
	Protect       bool          `bson:"protect"`        // 内容保护（禁止二次转发）
}

// DefaultConfig 默认配置：全部类别开启、去重开启、逐条转发
func DefaultConfig() Config {
	filters := make(map[Kind]bool, len(Kinds))
	for _, kind := range Kinds {
		filters[kind] = true
	}
	return Config{
		Filters:       filters,
		SkipDuplicate: true,
	}
}

// Clone 返回配置的深拷贝
func (c Config) Clone() Config {
	clone := c
	if c.Filters != nil {
		clone.Filters = make(map[Kind]bool, len(c.Filters))
		for kind, enabled := range c.Filters {
			clone.Filters[kind] = enabled
		}
	}
	if c.Extensions != nil {
		clone.Extensions = append([]string(nil), c.Extensions...)
	}
	if c.Keywords != nil {
		clone.Keywords = append([]string(nil), c.Keywords...)
	}
	return clone
}

// Allows 判断消息是否通过过滤器
// 过滤顺序：内容类别 → 大小 → 扩展名黑名单 → 关键词白名单
func (c Config) Allows(m *Message) bool {
	if enabled, ok := c.Filters[m.Kind]; ok && !enabled {
		return false
	}

	if c.MaxSize > 0 && m.Size > c.MaxSize {
		return false
	}

	if len(c.Extensions) > 0 {
		ext := m.Extension()
		for _, blocked := range c.Extensions {
			if ext != "" && ext == strings.ToLower(blocked) {
				return false
			}
		}
	}

	if len(c.Keywords) > 0 {
		haystack := strings.ToLower(m.FileName + " " + m.Caption + " " + m.Text)
		matched := false
		for _, keyword := range c.Keywords {
			if keyword == "" {
				continue
			}
			if strings.Contains(haystack, strings.ToLower(keyword)) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	return true
}

// RenderCaption 按模板渲染说明文字
// 模板为空时保留原说明
func (c Config) RenderCaption(m *Message) string {
	if c.Caption == "" {
		return m.Caption
	}

	replacer := strings.NewReplacer(
		"{filename}", m.FileName,
		"{size}", FormatSize(m.Size),
		"{caption}", m.Caption,
	)
	return replacer.Replace(c.Caption)
}

// FormatSize 人类可读的文件大小
func FormatSize(size int64) string {
	units := []string{"B", "KB", "MB", "GB", "TB"}
	value := float64(size)
	i := 0
	for value >= 1024.0 && i < len(units)-1 {
		value /= 1024.0
		i++
	}
	return fmt.Sprintf("%.2f %s", value, units[i])
}
