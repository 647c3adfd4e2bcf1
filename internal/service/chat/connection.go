package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"

	"github.com/zhouzirui/chzzk-tts/internal/metrics"
	chatmodel "github.com/zhouzirui/chzzk-tts/internal/model/chat"
	"github.com/zhouzirui/chzzk-tts/internal/service/channel"
	"github.com/zhouzirui/chzzk-tts/internal/telemetry"
)

// transport 持有当前发布的 websocket 连接。替换时关闭旧连接并递增代数，
// 在旧连接上失败的循环据此判断失败已被处理。
type transport struct {
	mu     sync.RWMutex
	conn   *websocket.Conn
	gen    uint64
	closed bool

	// gorilla 每个连接只允许一个并发写入者
	writeMu      sync.Mutex
	writeTimeout time.Duration
}

func newTransport(writeTimeout time.Duration) *transport {
	return &transport{writeTimeout: writeTimeout}
}

// current 返回当前连接及其代数
func (t *transport) current() (*websocket.Conn, uint64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.conn, t.gen
}

func (t *transport) generation() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.gen
}

func (t *transport) connected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.conn != nil && !t.closed
}

// replace 发布新连接并释放旧连接
func (t *transport) replace(conn *websocket.Conn) (uint64, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = conn.Close()
		return 0, ErrTransportClosed
	}
	old := t.conn
	t.conn = conn
	t.gen++
	gen := t.gen
	t.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	metrics.SetConnected(true)
	return gen, nil
}

// write 在当前连接上发送一个数据包，并返回写入时的代数
func (t *transport) write(p chatmodel.Packet) (uint64, error) {
	conn, gen := t.current()
	if conn == nil {
		return gen, ErrNotConnected
	}
	data, err := p.Encode()
	if err != nil {
		return gen, err
	}
	return gen, t.writeTo(conn, data)
}

func (t *transport) writeTo(conn *websocket.Conn, data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if t.writeTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// close 永久释放连接，之后的 replace 调用都会失败
func (t *transport) close() {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.closed = true
	t.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	metrics.SetConnected(false)
}

// target 频道轮换后重连使用的目标频道
type target struct {
	chatChannelID string
	token         channel.Token
}

// connect 拨号、认证并拉取最近聊天，然后发布新连接。
// 除 Connect 外的调用都经过 reconnect，因此不会并发执行。
func (c *Client) connect(ctx context.Context, tgt *target) (err error) {
	session := c.session.snapshot()
	chatChannelID := session.ChatChannelID
	token := channel.Token{AccessToken: session.AccessToken, ExtraToken: session.ExtraToken}
	if tgt != nil {
		chatChannelID = tgt.chatChannelID
		token = tgt.token
	}

	ctx, span := telemetry.StartSpan(ctx, "chat.connect",
		attribute.String("chat.channel_id", chatChannelID),
		attribute.Bool("chat.rotation", tgt != nil),
	)
	defer func() { telemetry.End(span, err) }()

	start := time.Now()
	c.logger.Info("logging in to chat", slog.String("channel", session.ChannelName), slog.String("chat_channel_id", chatChannelID))

	dialCtx, cancel := context.WithTimeout(ctx, c.opts.HandshakeTimeout)
	defer cancel()
	conn, _, err := c.opts.Dialer.DialContext(dialCtx, c.opts.Endpoint, nil)
	if err != nil {
		return &ConnectionError{Stage: StageDial, ChatChannelID: chatChannelID, Err: err}
	}

	sid, err := c.handshake(conn, chatChannelID, session.UserIDHash, token.AccessToken)
	if err != nil {
		_ = conn.Close()
		return err
	}

	if _, err := c.transport.replace(conn); err != nil {
		return err
	}
	c.session.connected(chatChannelID, token, sid)

	metrics.HandshakeDuration.Observe(time.Since(start).Seconds())
	c.logger.Info("connected to chat", slog.String("channel", session.ChannelName), slog.String("chat_channel_id", chatChannelID))
	return nil
}

// handshake 在连接发布前依次发送 CONNECT、REQUEST_RECENT_CHAT 和首个 PING，
// 此时没有其他 goroutine 读写该连接。
func (c *Client) handshake(conn *websocket.Conn, chatChannelID, uid, accessToken string) (string, error) {
	fail := func(stage string, err error) (string, error) {
		return "", &ConnectionError{Stage: stage, ChatChannelID: chatChannelID, Err: err}
	}

	connectPkt, err := chatmodel.NewConnect(chatChannelID, uid, accessToken)
	if err != nil {
		return fail(StageConnect, err)
	}
	reply, err := c.roundTrip(conn, connectPkt)
	if err != nil {
		return fail(StageConnect, err)
	}
	sid := reply.SessionID()
	if sid == "" {
		return fail(StageConnect, ErrNoSessionID)
	}
	c.logger.Debug("session established", slog.String("sid", sid))

	recentPkt, err := chatmodel.NewRecentChatRequest(chatChannelID, sid, c.opts.RecentMessageCount)
	if err != nil {
		return fail(StageBackfill, err)
	}
	recent, err := c.roundTrip(conn, recentPkt)
	if err != nil {
		return fail(StageBackfill, err)
	}
	c.logger.Debug("recent chat received", slog.String("cmd", recent.Cmd.String()), slog.Int("bytes", len(recent.Bdy)))

	ping, err := chatmodel.NewPing().Encode()
	if err != nil {
		return fail(StagePing, err)
	}
	if err := c.transport.writeTo(conn, ping); err != nil {
		return fail(StagePing, err)
	}
	return sid, nil
}

// roundTrip 发送 p 并读取一帧回复
func (c *Client) roundTrip(conn *websocket.Conn, p chatmodel.Packet) (chatmodel.Packet, error) {
	data, err := p.Encode()
	if err != nil {
		return chatmodel.Packet{}, err
	}
	if err := c.transport.writeTo(conn, data); err != nil {
		return chatmodel.Packet{}, fmt.Errorf("send %s: %w", p.Cmd, err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(c.opts.HandshakeTimeout))
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()

	_, raw, err := conn.ReadMessage()
	if err != nil {
		return chatmodel.Packet{}, fmt.Errorf("read %s reply: %w", p.Cmd, err)
	}
	reply, err := chatmodel.DecodePacket(raw)
	if err != nil && !errors.Is(err, chatmodel.ErrMissingCommand) {
		return chatmodel.Packet{}, fmt.Errorf("%s reply: %w", p.Cmd, err)
	}
	return reply, nil
}
