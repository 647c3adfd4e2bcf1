package chat

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	chatmodel "github.com/zhouzirui/chzzk-tts/internal/model/chat"
	"github.com/zhouzirui/chzzk-tts/internal/service/channel"
)

// Resolver 查询聊天会话所需的标识
type Resolver interface {
	ChatChannelID(ctx context.Context, streamerID string) (string, error)
	ChannelName(ctx context.Context, streamerID string) (string, error)
	AccessToken(ctx context.Context, chatChannelID string, cookies channel.Cookies) (channel.Token, error)
	UserIDHash(ctx context.Context, cookies channel.Cookies) (string, error)
}

// ResolveSession 执行启动时的查询。频道与令牌查询失败会返回错误，
// 用户查询失败只会把会话降级为匿名只读。
func ResolveSession(ctx context.Context, r Resolver, streamerID string, cookies channel.Cookies, logger *slog.Logger) (chatmodel.Session, error) {
	streamerID = strings.TrimSpace(streamerID)
	if streamerID == "" {
		return chatmodel.Session{}, ErrStreamerRequired
	}
	if logger == nil {
		logger = slog.Default()
	}

	chatChannelID, err := r.ChatChannelID(ctx, streamerID)
	if err != nil {
		return chatmodel.Session{}, err
	}
	name, err := r.ChannelName(ctx, streamerID)
	if err != nil {
		return chatmodel.Session{}, err
	}
	token, err := r.AccessToken(ctx, chatChannelID, cookies)
	if err != nil {
		return chatmodel.Session{}, err
	}

	session := chatmodel.Session{
		StreamerID:    streamerID,
		ChatChannelID: chatChannelID,
		ChannelName:   name,
		AccessToken:   token.AccessToken,
		ExtraToken:    token.ExtraToken,
	}

	if !cookies.Has(channel.CookieNIDAuth) || !cookies.Has(channel.CookieNIDSession) {
		logger.Warn("missing login cookies, user lookup will likely fail",
			slog.Any("required", []string{channel.CookieNIDAuth, channel.CookieNIDSession}),
			slog.Any("loaded", cookies.Names()),
		)
	}
	uid, err := r.UserIDHash(ctx, cookies)
	if err != nil {
		logger.Error("cookies rejected, continuing without login", slog.Any("err", err))
		return session, nil
	}
	session.UserIDHash = uid
	return session, nil
}

// sessionState 保护两个循环共享的会话，只有 connect 会修改它
type sessionState struct {
	mu      sync.RWMutex
	session chatmodel.Session
}

func newSessionState(s chatmodel.Session) *sessionState {
	return &sessionState{session: s}
}

func (s *sessionState) snapshot() chatmodel.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

// connected 记录一次成功握手的结果
func (s *sessionState) connected(chatChannelID string, token channel.Token, sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session.ChatChannelID = chatChannelID
	if token.AccessToken != "" {
		s.session.AccessToken = token.AccessToken
		s.session.ExtraToken = token.ExtraToken
	}
	s.session.SessionID = sessionID
}
