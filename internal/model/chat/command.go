package chat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Command 数据包 "cmd" 字段中的命令码
type Command int

const (
	CmdPing              Command = 0
	CmdPong              Command = 10000
	CmdConnect           Command = 100
	CmdConnected         Command = 10100
	CmdSendChat          Command = 3101
	CmdRecentChat        Command = 15101
	CmdRequestRecentChat Command = 5101
	CmdEvent             Command = 93006
	CmdChat              Command = 93101
	CmdDonation          Command = 93102
	CmdKick              Command = 94005
	CmdBlock             Command = 94006
	CmdBlind             Command = 94008
	CmdNotice            Command = 94010
	CmdPenalty           Command = 94015
)

var commandNames = map[Command]string{
	CmdPing:              "ping",
	CmdPong:              "pong",
	CmdConnect:           "connect",
	CmdConnected:         "connected",
	CmdSendChat:          "send_chat",
	CmdRecentChat:        "recent_chat",
	CmdRequestRecentChat: "request_recent_chat",
	CmdEvent:             "event",
	CmdChat:              "chat",
	CmdDonation:          "donation",
	CmdKick:              "kick",
	CmdBlock:             "block",
	CmdBlind:             "blind",
	CmdNotice:            "notice",
	CmdPenalty:           "penalty",
}

// Commands 按升序返回所有已知命令
func Commands() []Command {
	out := make([]Command, 0, len(commandNames))
	for c := range commandNames {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Known 判断 c 是否属于协议命令表
func (c Command) Known() bool {
	_, ok := commandNames[c]
	return ok
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return "unknown(" + strconv.Itoa(int(c)) + ")"
}

// UnmarshalJSON 同时接受数字与带引号的命令码
func (c *Command) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("invalid command code %q: %w", s, err)
		}
		*c = Command(n)
		return nil
	}

	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid command code %s: %w", data, err)
	}
	*c = Command(n)
	return nil
}
