package forward

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Kind 消息内容类别
type Kind string

const (
	KindText      Kind = "text"
	KindPhoto     Kind = "photo"
	KindVideo     Kind = "video"
	KindAudio     Kind = "audio"
	KindVoice     Kind = "voice"
	KindDocument  Kind = "document"
	KindAnimation Kind = "animation"
	KindSticker   Kind = "sticker"
	KindPoll      Kind = "poll"
	KindService   Kind = "service" // 入群通知等服务消息，不可转发
)

// Kinds 全部可过滤的内容类别
var Kinds = []Kind{
	KindText, KindPhoto, KindVideo, KindAudio, KindVoice,
	KindDocument, KindAnimation, KindSticker, KindPoll,
}

// Message 源频道中的一条消息
type Message struct {
	ID       int64  `bson:"message_id"`
	Kind     Kind   `bson:"kind"`
	Service  bool   `bson:"service"` // 服务消息标记
	Size     int64  `bson:"size"`    // 媒体文件大小（字节），无媒体为0
	FileName string `bson:"file_name"`
	FileID   string `bson:"file_id"` // 转发用的原始内容句柄
	Caption  string `bson:"caption"`
	Text     string `bson:"text"`
}

// Relayable 判断消息是否可被转发
func (m *Message) Relayable() bool {
	return m != nil && !m.Service && m.Kind != KindService && m.Kind != ""
}

// Extension 返回文件扩展名（小写，不含点），无文件名时为空
func (m *Message) Extension() string {
	idx := strings.LastIndex(m.FileName, ".")
	if idx < 0 || idx == len(m.FileName)-1 {
		return ""
	}
	return strings.ToLower(m.FileName[idx+1:])
}

// Fingerprint 计算内容指纹，用于目标内去重
// 对媒体消息以文件句柄+大小为键，纯文本以正文为键
func (m *Message) Fingerprint() string {
	h := sha256.New()
	if m.FileID != "" {
		fmt.Fprintf(h, "%s|%s|%d", m.Kind, m.FileID, m.Size)
	} else {
		fmt.Fprintf(h, "%s|%s|%s", m.Kind, m.Text, m.Caption)
	}
	return hex.EncodeToString(h.Sum(nil))
}
