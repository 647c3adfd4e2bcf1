package chat

import "time"

// 条目没有可用 profile 时使用的昵称
const (
	AnonymousDonorNickname = "익명의 후원자"
	DonorNickname          = "후원자"
)

// EventKind 区分普通聊天与打赏
type EventKind string

const (
	KindChat     EventKind = "chat"
	KindDonation EventKind = "donation"
)

// KindFor 返回命令对应的事件类型
func KindFor(cmd Command) (EventKind, bool) {
	switch cmd {
	case CmdChat:
		return KindChat, true
	case CmdDonation:
		return KindDonation, true
	default:
		return "", false
	}
}

// Label 日志行前的标签
func (k EventKind) Label() string {
	if k == KindDonation {
		return "후원"
	}
	return "채팅"
}

// Event 清洗后待播放的聊天文本
type Event struct {
	Kind       EventKind `json:"kind"`
	Nickname   string    `json:"nickname"`
	Text       string    `json:"text"`
	PayAmount  int       `json:"payAmount,omitempty"`
	ReceivedAt time.Time `json:"receivedAt"`
}
