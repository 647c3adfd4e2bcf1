// Package chat 维持一条 CHZZK 聊天连接，并把可朗读的聊天与打赏文本交给播放端。
package chat

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	chatmodel "github.com/zhouzirui/chzzk-tts/internal/model/chat"
	"github.com/zhouzirui/chzzk-tts/internal/service/channel"
)

// DefaultEndpoint 公共聊天服务器地址
const DefaultEndpoint = "wss://kr-ss1.chat.naver.com/chat"

// Sink 接收待朗读的文本
type Sink interface {
	Play(ctx context.Context, text, language string) error
}

// Options 客户端配置
type Options struct {
	Endpoint             string
	PingInterval         time.Duration
	HandshakeTimeout     time.Duration
	WriteTimeout         time.Duration
	RecentMessageCount   int
	Language             string
	ReconnectInitial     time.Duration
	ReconnectMax         time.Duration
	MaxReconnectAttempts uint // 0 = unlimited
	BreakerFailures      uint32
	BreakerCooldown      time.Duration
	// RotationCheckEvery 限制 PING 时查询聊天频道的频率，0 表示每次 PING 都查询
	RotationCheckEvery time.Duration

	Dialer  *websocket.Dialer
	Clock   clockwork.Clock
	Logger  *slog.Logger
	Cookies channel.Cookies
	// OnEvent 在播放前观察每个事件
	OnEvent func(chatmodel.Event)
}

// DefaultOptions 返回生产环境默认配置
func DefaultOptions() Options {
	return Options{
		Endpoint:           DefaultEndpoint,
		PingInterval:       20 * time.Second,
		HandshakeTimeout:   10 * time.Second,
		WriteTimeout:       10 * time.Second,
		RecentMessageCount: 50,
		Language:           "ko",
		ReconnectInitial:   time.Second,
		ReconnectMax:       30 * time.Second,
		BreakerFailures:    5,
		BreakerCooldown:    30 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Endpoint == "" {
		o.Endpoint = def.Endpoint
	}
	if o.PingInterval <= 0 {
		o.PingInterval = def.PingInterval
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = def.HandshakeTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = def.WriteTimeout
	}
	if o.RecentMessageCount < 0 {
		o.RecentMessageCount = def.RecentMessageCount
	}
	if o.Language == "" {
		o.Language = def.Language
	}
	if o.ReconnectInitial <= 0 {
		o.ReconnectInitial = def.ReconnectInitial
	}
	if o.ReconnectMax < o.ReconnectInitial {
		o.ReconnectMax = o.ReconnectInitial
	}
	if o.BreakerFailures == 0 {
		o.BreakerFailures = def.BreakerFailures
	}
	if o.BreakerCooldown <= 0 {
		o.BreakerCooldown = def.BreakerCooldown
	}
	if o.Dialer == nil {
		o.Dialer = &websocket.Dialer{HandshakeTimeout: o.HandshakeTimeout}
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Client 持有会话、连接以及共享它们的两个循环
type Client struct {
	opts     Options
	resolver Resolver
	sink     Sink
	cookies  channel.Cookies
	clock    clockwork.Clock
	logger   *slog.Logger

	session   *sessionState
	transport *transport
	handlers  map[chatmodel.Command]packetHandler

	group    singleflight.Group
	breaker  *gobreaker.CircuitBreaker
	rotation *rate.Limiter

	terminated atomic.Bool
}

// New 为已解析的会话创建客户端，Run 之前需先调用 Connect
func New(session chatmodel.Session, resolver Resolver, sink Sink, opts Options) *Client {
	opts = opts.withDefaults()
	logger := opts.Logger.With("component", "chat_client")

	limit := rate.Inf
	if opts.RotationCheckEvery > 0 {
		limit = rate.Every(opts.RotationCheckEvery)
	}

	c := &Client{
		opts:      opts,
		resolver:  resolver,
		sink:      sink,
		cookies:   opts.Cookies,
		clock:     opts.Clock,
		logger:    logger,
		session:   newSessionState(session),
		transport: newTransport(opts.WriteTimeout),
		breaker:   newBreaker(opts, logger),
		rotation:  rate.NewLimiter(limit, 1),
	}
	c.handlers = c.handlerTable()
	return c
}

// Connect 建立首次连接。失败由调用方视为致命错误，之后的失败由 Run 处理。
func (c *Client) Connect(ctx context.Context) error {
	return c.connect(ctx, nil)
}

// Run 运行保活与读取循环，直到 ctx 取消或重连放弃。取消不视为错误。
func (c *Client) Run(ctx context.Context) error {
	if !c.transport.connected() {
		return ErrNotConnected
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.keepalive(gctx) })
	g.Go(func() error { return c.ingest(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		c.terminated.Store(true)
		// 关闭连接以解除 ingest 中阻塞的读取
		c.transport.close()
		return nil
	})

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Terminated 报告 Run 是否已开始退出，一旦置位不再复位
func (c *Client) Terminated() bool {
	return c.terminated.Load()
}

// Session 返回当前会话的副本
func (c *Client) Session() chatmodel.Session {
	return c.session.snapshot()
}

// Status 返回供状态接口使用的只读快照
func (c *Client) Status() chatmodel.Status {
	s := c.session.snapshot()
	return chatmodel.Status{
		StreamerID:    s.StreamerID,
		ChannelName:   s.ChannelName,
		ChatChannelID: s.ChatChannelID,
		HasSessionID:  s.SessionID != "",
		Authenticated: s.Authenticated(),
		Connected:     c.transport.connected(),
		Generation:    c.transport.generation(),
		Terminated:    c.Terminated(),
		BreakerState:  c.breaker.State().String(),
	}
}

// keepalive 每隔 PingInterval 发送一次 PING，发送失败时交给重连处理
func (c *Client) keepalive(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		c.logger.Debug("sending ping")
		if gen, err := c.transport.write(chatmodel.NewPing()); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("ping failed", slog.Any("err", err))
			if err := c.handleFailure(ctx, gen, nil); err != nil {
				return err
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-c.clock.After(c.opts.PingInterval):
		}
	}
}

// ingest 从当前连接读取帧并分发
func (c *Client) ingest(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		conn, gen := c.transport.current()
		if conn == nil {
			if err := c.handleFailure(ctx, gen, nil); err != nil {
				return err
			}
			continue
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("chat read failed", slog.Any("err", err), slog.Uint64("generation", gen))
			if err := c.handleFailure(ctx, gen, nil); err != nil {
				return err
			}
			continue
		}

		c.logger.Debug("raw message", slog.String("data", string(data)))
		packet, err := chatmodel.DecodePacket(data)
		if err != nil {
			c.logger.Error("undecodable packet", slog.Any("err", err))
			if err := c.handleFailure(ctx, gen, nil); err != nil {
				return err
			}
			continue
		}

		if err := c.dispatch(ctx, gen, packet); err != nil {
			return err
		}
	}
}
