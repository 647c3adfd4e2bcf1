package chat

import (
	"encoding/json"
	"errors"
	"fmt"
)

// 发送帧中合并的外层常量
const (
	ProtocolVersion = "2"
	ServiceID       = "game"
	DeviceType      = 2001
	AuthRead        = "READ"
)

// 握手使用的事务 ID
const (
	TidConnect    = 1
	TidRecentChat = 2
)

var (
	ErrMissingCommand = errors.New("packet has no cmd field")
	ErrNoBody         = errors.New("packet has no body")
)

// Packet 与聊天服务器双向交换的 JSON 数据包，可选字段为零值时不编码
type Packet struct {
	Ver   string          `json:"ver,omitempty"`
	Cmd   Command         `json:"cmd"`
	SvcID string          `json:"svcid,omitempty"`
	Cid   string          `json:"cid,omitempty"`
	Tid   int             `json:"tid,omitempty"`
	Sid   string          `json:"sid,omitempty"`
	Bdy   json.RawMessage `json:"bdy,omitempty"`
}

type connectBody struct {
	UID     string `json:"uid,omitempty"`
	DevType int    `json:"devType"`
	AccTkn  string `json:"accTkn"`
	Auth    string `json:"auth"`
}

type recentChatBody struct {
	RecentMessageCount int `json:"recentMessageCount"`
}

// NewPing 构建保活 PING，PING 与 PONG 不携带频道外层
func NewPing() Packet {
	return Packet{Ver: ProtocolVersion, Cmd: CmdPing}
}

// NewPong 构建对服务器 PING 的回复
func NewPong() Packet {
	return Packet{Ver: ProtocolVersion, Cmd: CmdPong}
}

// NewConnect 构建认证包，userIDHash 为空时以匿名只读方式加入
func NewConnect(chatChannelID, userIDHash, accessToken string) (Packet, error) {
	body, err := json.Marshal(connectBody{
		UID:     userIDHash,
		DevType: DeviceType,
		AccTkn:  accessToken,
		Auth:    AuthRead,
	})
	if err != nil {
		return Packet{}, fmt.Errorf("marshal connect body: %w", err)
	}
	return withEnvelope(Packet{Cmd: CmdConnect, Tid: TidConnect, Bdy: body}, chatChannelID), nil
}

// NewRecentChatRequest 请求服务器补发最近 count 条消息
func NewRecentChatRequest(chatChannelID, sessionID string, count int) (Packet, error) {
	body, err := json.Marshal(recentChatBody{RecentMessageCount: count})
	if err != nil {
		return Packet{}, fmt.Errorf("marshal recent chat body: %w", err)
	}
	return withEnvelope(Packet{
		Cmd: CmdRequestRecentChat,
		Tid: TidRecentChat,
		Sid: sessionID,
		Bdy: body,
	}, chatChannelID), nil
}

func withEnvelope(p Packet, chatChannelID string) Packet {
	p.Ver = ProtocolVersion
	p.SvcID = ServiceID
	p.Cid = chatChannelID
	return p
}

// Encode 序列化为文本帧内容
func (p Packet) Encode() ([]byte, error) {
	return json.Marshal(p)
}

// DecodePacket 解析一帧入站数据，只校验外层，消息体原样留给命令处理函数
func DecodePacket(data []byte) (Packet, error) {
	var raw struct {
		Ver   string          `json:"ver"`
		Cmd   *Command        `json:"cmd"`
		SvcID string          `json:"svcid"`
		Cid   string          `json:"cid"`
		Tid   json.RawMessage `json:"tid"`
		Sid   string          `json:"sid"`
		Bdy   json.RawMessage `json:"bdy"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Packet{}, fmt.Errorf("decode packet: %w", err)
	}
	if raw.Cmd == nil {
		return Packet{}, ErrMissingCommand
	}

	p := Packet{
		Ver:   raw.Ver,
		Cmd:   *raw.Cmd,
		SvcID: raw.SvcID,
		Cid:   raw.Cid,
		Sid:   raw.Sid,
		Bdy:   raw.Bdy,
	}
	// tid 仅供参考，服务器可能以数字或字符串发送
	var tid Command
	if len(raw.Tid) > 0 && tid.UnmarshalJSON(raw.Tid) == nil {
		p.Tid = int(tid)
	}
	return p, nil
}

// HasBody 判断是否携带非 null 的消息体
func (p Packet) HasBody() bool {
	return len(p.Bdy) > 0 && string(p.Bdy) != "null"
}

// SessionID 从 CONNECTED 回复中取出服务器分配的 sid
func (p Packet) SessionID() string {
	if !p.HasBody() {
		return ""
	}
	var body struct {
		Sid string `json:"sid"`
	}
	if err := json.Unmarshal(p.Bdy, &body); err != nil {
		return ""
	}
	return body.Sid
}

// Entries 将聊天或打赏消息体拆成原始条目，单条格式错误不影响其他条目
func (p Packet) Entries() ([]json.RawMessage, error) {
	if !p.HasBody() {
		return nil, ErrNoBody
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(p.Bdy, &entries); err != nil {
		return nil, fmt.Errorf("decode %s body: %w", p.Cmd, err)
	}
	return entries, nil
}
