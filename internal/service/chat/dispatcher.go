package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/zhouzirui/chzzk-tts/internal/analysis/sanitize"
	"github.com/zhouzirui/chzzk-tts/internal/metrics"
	chatmodel "github.com/zhouzirui/chzzk-tts/internal/model/chat"
)

// packetHandler 处理从第 gen 代连接读到的数据包，返回非 nil 错误时客户端停止
type packetHandler func(ctx context.Context, gen uint64, p chatmodel.Packet) error

// handlerTable 为每个已知命令指定处理函数，不关心的命令显式映射到 ignore
func (c *Client) handlerTable() map[chatmodel.Command]packetHandler {
	return map[chatmodel.Command]packetHandler{
		chatmodel.CmdChat:              c.handleChat,
		chatmodel.CmdDonation:          c.handleChat,
		chatmodel.CmdPing:              c.handlePing,
		chatmodel.CmdPong:              c.handlePong,
		chatmodel.CmdConnect:           c.ignore,
		chatmodel.CmdConnected:         c.ignore,
		chatmodel.CmdSendChat:          c.ignore,
		chatmodel.CmdRecentChat:        c.ignore,
		chatmodel.CmdRequestRecentChat: c.ignore,
		chatmodel.CmdEvent:             c.ignore,
		chatmodel.CmdKick:              c.ignore,
		chatmodel.CmdBlock:             c.ignore,
		chatmodel.CmdBlind:             c.ignore,
		chatmodel.CmdNotice:            c.ignore,
		chatmodel.CmdPenalty:           c.ignore,
	}
}

func (c *Client) dispatch(ctx context.Context, gen uint64, p chatmodel.Packet) error {
	if !p.Cmd.Known() {
		metrics.PacketsReceived.WithLabelValues("unknown").Inc()
		c.logger.Debug("ignoring unknown command", slog.Int("cmd", int(p.Cmd)))
		return nil
	}
	metrics.PacketsReceived.WithLabelValues(p.Cmd.String()).Inc()
	if handler, ok := c.handlers[p.Cmd]; ok {
		return handler(ctx, gen, p)
	}
	return c.ignore(ctx, gen, p)
}

func (c *Client) ignore(_ context.Context, _ uint64, p chatmodel.Packet) error {
	c.logger.Debug("ignoring packet", slog.String("cmd", p.Cmd.String()))
	return nil
}

func (c *Client) handlePong(_ context.Context, _ uint64, _ chatmodel.Packet) error {
	c.logger.Debug("pong received")
	return nil
}

// handlePing 先回复 PONG，再检查直播是否切换到了新的聊天频道
func (c *Client) handlePing(ctx context.Context, gen uint64, _ chatmodel.Packet) error {
	c.logger.Debug("ping received, sending pong")
	if wgen, err := c.transport.write(chatmodel.NewPong()); err != nil {
		c.logger.Warn("failed to send pong", slog.Any("err", err))
		return c.handleFailure(ctx, wgen, nil)
	}
	return c.checkRotation(ctx, gen)
}

func (c *Client) checkRotation(ctx context.Context, gen uint64) error {
	if !c.rotation.AllowN(c.clock.Now(), 1) {
		return nil
	}

	session := c.session.snapshot()
	current, err := c.resolver.ChatChannelID(ctx, session.StreamerID)
	if err != nil {
		c.logger.Warn("chat channel check failed, skipping", slog.Any("err", err))
		return nil
	}
	if current == session.ChatChannelID {
		return nil
	}

	c.logger.Info("chat channel changed, reconnecting",
		slog.String("from", session.ChatChannelID),
		slog.String("to", current),
	)
	metrics.ChannelRotations.Inc()

	token, err := c.resolver.AccessToken(ctx, current, c.cookies)
	if err != nil {
		c.logger.Warn("access token for new chat channel failed, skipping", slog.Any("err", err))
		return nil
	}
	return c.handleFailure(ctx, gen, &target{chatChannelID: current, token: token})
}

// handleChat 转发 CHAT 或 DONATION 中每条有可读文本的条目，
// 单条解析失败不影响其余条目。
func (c *Client) handleChat(ctx context.Context, _ uint64, p chatmodel.Packet) error {
	kind, _ := chatmodel.KindFor(p.Cmd)
	entries, err := p.Entries()
	if err != nil {
		metrics.EntriesDropped.WithLabelValues("body").Inc()
		c.logger.Debug("chat packet without entries", slog.String("cmd", p.Cmd.String()), slog.Any("err", err))
		return nil
	}

	for _, raw := range entries {
		event, ok := c.buildEvent(kind, raw)
		if !ok {
			continue
		}
		c.deliver(ctx, event)
	}
	return nil
}

func (c *Client) buildEvent(kind chatmodel.EventKind, raw json.RawMessage) (chatmodel.Event, bool) {
	entry, err := chatmodel.DecodeEntry(raw)
	if err != nil {
		metrics.EntriesDropped.WithLabelValues("malformed").Inc()
		c.logger.Debug("skipping chat entry", slog.Any("err", err))
		return chatmodel.Event{}, false
	}

	nickname := nicknameFor(entry)
	msg, _ := entry.Message()
	text := sanitize.Text(msg)
	c.logger.Info("[" + kind.Label() + "] " + nickname + ": " + text)

	if strings.TrimSpace(text) == "" {
		metrics.EntriesDropped.WithLabelValues("empty").Inc()
		return chatmodel.Event{}, false
	}

	event := chatmodel.Event{
		Kind:       kind,
		Nickname:   nickname,
		Text:       text,
		ReceivedAt: c.clock.Now(),
	}
	if kind == chatmodel.KindDonation {
		event.PayAmount = entry.PayAmount()
	}
	return event, true
}

func (c *Client) deliver(ctx context.Context, event chatmodel.Event) {
	metrics.ChatEvents.WithLabelValues(string(event.Kind)).Inc()
	if c.opts.OnEvent != nil {
		c.opts.OnEvent(event)
	}
	if err := c.sink.Play(ctx, event.Text, c.opts.Language); err != nil {
		c.logger.Warn("playback failed", slog.String("nickname", event.Nickname), slog.Any("err", err))
	}
}

// nicknameFor 昵称规则：匿名打赏者优先，其次取 profile 中的昵称，
// 消息缺失或 profile 无法解析时使用通用打赏者名称。
func nicknameFor(e chatmodel.Entry) string {
	if e.IsAnonymous() {
		return chatmodel.AnonymousDonorNickname
	}
	nickname, ok := e.ProfileNickname()
	if !ok {
		return chatmodel.DonorNickname
	}
	if _, hasMsg := e.Message(); !hasMsg {
		return chatmodel.DonorNickname
	}
	return nickname
}
