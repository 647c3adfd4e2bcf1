package chat

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

// AnonymousUserID 服务器分配给匿名打赏者的 uid
const AnonymousUserID = "anonymous"

var ErrNotObject = errors.New("chat entry is not a JSON object")

// Entry CHAT 或 DONATION 消息体中的一条。字段保持原始形式，
// profile 或 extras 格式错误只影响该字段本身。
type Entry struct {
	UID     string
	Profile json.RawMessage
	Msg     *string
	Extras  json.RawMessage
}

// DecodeEntry 解码一条原始条目。只有非对象元素才报错，
// 所有字段都可选，类型不符按缺失处理。
func DecodeEntry(raw json.RawMessage) (Entry, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return Entry{}, ErrNotObject
	}

	var e Entry
	if v, ok := fields["uid"]; ok {
		_ = json.Unmarshal(v, &e.UID)
	}
	if v, ok := fields["profile"]; ok && !isNull(v) {
		e.Profile = v
	}
	if v, ok := fields["msg"]; ok && !isNull(v) {
		var msg string
		if json.Unmarshal(v, &msg) == nil {
			e.Msg = &msg
		}
	}
	if v, ok := fields["extras"]; ok && !isNull(v) {
		e.Extras = v
	}
	return e, nil
}

// IsAnonymous 判断是否来自匿名打赏者
func (e Entry) IsAnonymous() bool {
	return e.UID == AnonymousUserID
}

// Message 返回消息文本以及是否存在
func (e Entry) Message() (string, bool) {
	if e.Msg == nil {
		return "", false
	}
	return *e.Msg, true
}

// ProfileNickname 从 profile 中读取昵称。服务器以 JSON 字符串发送 profile，也接受普通对象。
func (e Entry) ProfileNickname() (string, bool) {
	obj, ok := decodeNested(e.Profile)
	if !ok {
		return "", false
	}
	var p struct {
		Nickname string `json:"nickname"`
	}
	if err := json.Unmarshal(obj, &p); err != nil || p.Nickname == "" {
		return "", false
	}
	return p.Nickname, true
}

// PayAmount 返回 extras 中的打赏金额，缺失时为 0
func (e Entry) PayAmount() int {
	obj, ok := decodeNested(e.Extras)
	if !ok {
		return 0
	}
	var x struct {
		PayAmount json.RawMessage `json:"payAmount"`
	}
	if err := json.Unmarshal(obj, &x); err != nil || len(x.PayAmount) == 0 {
		return 0
	}
	var n float64
	if json.Unmarshal(x.PayAmount, &n) == nil {
		return int(n)
	}
	var s string
	if json.Unmarshal(x.PayAmount, &s) == nil {
		if v, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return v
		}
	}
	return 0
}

// decodeNested 解开 JSON 对象或包含 JSON 对象的字符串
func decodeNested(raw json.RawMessage) (json.RawMessage, bool) {
	if len(raw) == 0 || isNull(raw) {
		return nil, false
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		raw = json.RawMessage(s)
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return nil, false
	}
	return raw, true
}

func isNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}
