package chat

// Session 一条聊天连接的已解析身份
type Session struct {
	StreamerID    string `json:"streamerId"`
	ChatChannelID string `json:"chatChannelId"`
	ChannelName   string `json:"channelName"`
	AccessToken   string `json:"-"`
	ExtraToken    string `json:"-"`
	UserIDHash    string `json:"-"`
	SessionID     string `json:"-"`
}

// Authenticated 判断会话是否以用户身份加入
func (s Session) Authenticated() bool {
	return s.UserIDHash != ""
}

// Status 通过 HTTP 暴露的只读快照
type Status struct {
	StreamerID    string `json:"streamerId"`
	ChannelName   string `json:"channelName"`
	ChatChannelID string `json:"chatChannelId"`
	HasSessionID  bool   `json:"hasSessionId"`
	Authenticated bool   `json:"authenticated"`
	Connected     bool   `json:"connected"`
	Generation    uint64 `json:"generation"`
	Terminated    bool   `json:"terminated"`
	BreakerState  string `json:"breakerState"`
}
