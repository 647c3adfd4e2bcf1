// Package channel 将 CHZZK 主播 ID 解析为加入聊天室所需的聊天频道、访问令牌与用户标识。
package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/zhouzirui/chzzk-tts/internal/metrics"
	"github.com/zhouzirui/chzzk-tts/internal/telemetry"
)

const (
	DefaultAPIBaseURL  = "https://api.chzzk.naver.com"
	DefaultCommBaseURL = "https://comm-api.game.naver.com"
	DefaultUserAgent   = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36"

	defaultTimeout = 10 * time.Second
	maxBodyBytes   = 1 << 20
)

// 查询操作名称，用于错误与指标
const (
	OpChatChannelID = "chat_channel_id"
	OpChannelName   = "channel_name"
	OpAccessToken   = "access_token"
	OpUserIDHash    = "user_id_hash"
)

// Token 聊天访问令牌，只对单个聊天频道有效
type Token struct {
	AccessToken string
	ExtraToken  string
}

// Resolver 访问公开频道 API 与 comm API
type Resolver struct {
	apiBase    string
	commBase   string
	userAgent  string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option 定制 Resolver
type Option func(*Resolver)

// WithBaseURLs 覆盖两个 API 地址
func WithBaseURLs(apiBase, commBase string) Option {
	return func(r *Resolver) {
		if apiBase != "" {
			r.apiBase = apiBase
		}
		if commBase != "" {
			r.commBase = commBase
		}
	}
}

// WithHTTPClient 替换默认 HTTP 客户端
func WithHTTPClient(c *http.Client) Option {
	return func(r *Resolver) {
		if c != nil {
			r.httpClient = c
		}
	}
}

// WithUserAgent 覆盖每个请求携带的浏览器 User-Agent
func WithUserAgent(ua string) Option {
	return func(r *Resolver) {
		if ua != "" {
			r.userAgent = ua
		}
	}
}

// WithLogger 设置诊断日志
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewResolver 创建访问生产环境地址的 Resolver
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		apiBase:    DefaultAPIBaseURL,
		commBase:   DefaultCommBaseURL,
		userAgent:  DefaultUserAgent,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "channel_resolver")
	return r
}

// ChatChannelID 返回主播当前直播的聊天室 ID
func (r *Resolver) ChatChannelID(ctx context.Context, streamerID string) (string, error) {
	var content struct {
		ChatChannelID string `json:"chatChannelId"`
	}
	endpoint := r.apiBase + "/polling/v2/channels/" + url.PathEscape(streamerID) + "/live-status"
	err := r.get(ctx, OpChatChannelID, streamerID, endpoint, nil, &content)
	if err == nil && content.ChatChannelID == "" {
		err = r.fail(OpChatChannelID, streamerID, fmt.Errorf("chatChannelId: %w", ErrMissingField))
	}
	return content.ChatChannelID, r.observe(OpChatChannelID, err)
}

// ChannelName 返回主播的频道名称
func (r *Resolver) ChannelName(ctx context.Context, streamerID string) (string, error) {
	var content struct {
		ChannelName string `json:"channelName"`
	}
	endpoint := r.apiBase + "/service/v1/channels/" + url.PathEscape(streamerID)
	err := r.get(ctx, OpChannelName, streamerID, endpoint, nil, &content)
	if err == nil && content.ChannelName == "" {
		err = r.fail(OpChannelName, streamerID, fmt.Errorf("channelName: %w", ErrMissingField))
	}
	return content.ChannelName, r.observe(OpChannelName, err)
}

// AccessToken 获取聊天频道的 READ 令牌，cookies 为空时签发匿名令牌
func (r *Resolver) AccessToken(ctx context.Context, chatChannelID string, cookies Cookies) (Token, error) {
	var content struct {
		AccessToken string `json:"accessToken"`
		ExtraToken  string `json:"extraToken"`
	}
	q := url.Values{}
	q.Set("channelId", chatChannelID)
	q.Set("chatType", "STREAMING")
	endpoint := r.commBase + "/nng_main/v1/chats/access-token?" + q.Encode()
	err := r.get(ctx, OpAccessToken, chatChannelID, endpoint, cookies, &content)
	if err == nil && content.AccessToken == "" {
		err = r.fail(OpAccessToken, chatChannelID, fmt.Errorf("accessToken: %w", ErrMissingField))
	}
	return Token{AccessToken: content.AccessToken, ExtraToken: content.ExtraToken}, r.observe(OpAccessToken, err)
}

// UserIDHash 返回登录用户的哈希，cookies 不属于有效会话时失败
func (r *Resolver) UserIDHash(ctx context.Context, cookies Cookies) (string, error) {
	var content struct {
		UserIDHash string `json:"userIdHash"`
	}
	endpoint := r.commBase + "/nng_main/v1/user/getUserStatus"
	err := r.get(ctx, OpUserIDHash, "cookies", endpoint, cookies, &content)
	if err == nil && content.UserIDHash == "" {
		err = r.fail(OpUserIDHash, "cookies", fmt.Errorf("userIdHash: %w", ErrMissingField))
	}
	return content.UserIDHash, r.observe(OpUserIDHash, err)
}

// apiResponse 两个 API 共用的响应外层
type apiResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Content json.RawMessage `json:"content"`
}

func (r *Resolver) get(ctx context.Context, op, input, endpoint string, cookies Cookies, out any) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "channel."+op, attribute.String("channel.input", input))
	defer func() { telemetry.End(span, err) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return r.fail(op, input, err)
	}
	req.Header.Set("User-Agent", r.userAgent)
	req.Header.Set("Accept", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return r.fail(op, input, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			r.logger.Warn("failed to close response body", slog.Any("err", cerr))
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return r.fail(op, input, fmt.Errorf("read body: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return r.fail(op, input, fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode))
	}

	var envelope apiResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return r.fail(op, input, fmt.Errorf("decode response: %w", err))
	}
	if len(envelope.Content) == 0 || string(envelope.Content) == "null" {
		return r.fail(op, input, fmt.Errorf("content (code=%d message=%q): %w", envelope.Code, envelope.Message, ErrMissingField))
	}
	if err := json.Unmarshal(envelope.Content, out); err != nil {
		return r.fail(op, input, fmt.Errorf("decode content: %w", err))
	}
	return nil
}

func (r *Resolver) observe(op string, err error) error {
	if err == nil {
		metrics.ResolverRequests.WithLabelValues(op, "ok").Inc()
	}
	return err
}

func (r *Resolver) fail(op, input string, err error) error {
	metrics.ResolverRequests.WithLabelValues(op, "error").Inc()
	r.logger.Debug("channel lookup failed", slog.String("op", op), slog.String("input", input), slog.Any("err", err))
	return &ResolutionError{Op: op, Input: input, Err: err}
}
