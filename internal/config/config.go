package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// DefaultStreamerID is used when neither the flag nor CHZZK_STREAMER_ID is set.
const DefaultStreamerID = "479126c03d01dcad3e8348f2d491a5b3"

// Config 聚合整个服务的配置项。
type Config struct {
	Chat   ChatConfig
	Log    LogConfig
	Speech SpeechConfig
	Server ServerConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	chat, err := loadChatConfig()
	if err != nil {
		return nil, err
	}

	logCfg, err := loadLogConfig()
	if err != nil {
		return nil, err
	}

	speech, err := loadSpeechConfig()
	if err != nil {
		return nil, err
	}

	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Chat: chat, Log: logCfg, Speech: speech, Server: server}, nil
}

// ChatConfig 描述聊天连接与重连策略。
type ChatConfig struct {
	StreamerID         string        `env:"CHZZK_STREAMER_ID"`
	Endpoint           string        `env:"CHZZK_CHAT_ENDPOINT" envDefault:"wss://kr-ss1.chat.naver.com/chat"`
	CookiesFile        string        `env:"CHZZK_COOKIES_FILE" envDefault:"cookies.json"`
	APIBaseURL         string        `env:"CHZZK_API_BASE_URL"`
	CommBaseURL        string        `env:"CHZZK_COMM_BASE_URL"`
	PingInterval       time.Duration `env:"CHZZK_PING_INTERVAL" envDefault:"20s"`
	HandshakeTimeout   time.Duration `env:"CHZZK_HANDSHAKE_TIMEOUT" envDefault:"10s"`
	RecentMessageCount int           `env:"CHZZK_RECENT_MESSAGE_COUNT" envDefault:"50"`
	Language           string        `env:"CHZZK_LANGUAGE" envDefault:"ko"`
	ReconnectInitial   time.Duration `env:"CHZZK_RECONNECT_INITIAL" envDefault:"1s"`
	ReconnectMax       time.Duration `env:"CHZZK_RECONNECT_MAX" envDefault:"30s"`
	// 0 表示不限次数。
	ReconnectMaxAttempts uint          `env:"CHZZK_RECONNECT_MAX_ATTEMPTS" envDefault:"0"`
	BreakerFailures      uint32        `env:"CHZZK_BREAKER_FAILURES" envDefault:"5"`
	BreakerCooldown      time.Duration `env:"CHZZK_BREAKER_COOLDOWN" envDefault:"30s"`
	RotationCheckEvery   time.Duration `env:"CHZZK_ROTATION_CHECK_EVERY" envDefault:"0s"`
}

func loadChatConfig() (ChatConfig, error) {
	var cfg ChatConfig
	if err := env.Parse(&cfg); err != nil {
		return ChatConfig{}, fmt.Errorf("parse chat config: %w", err)
	}
	cfg.StreamerID = strings.TrimSpace(cfg.StreamerID)
	if cfg.StreamerID == "" {
		cfg.StreamerID = DefaultStreamerID
	}
	if cfg.PingInterval <= 0 {
		return ChatConfig{}, fmt.Errorf("invalid CHZZK_PING_INTERVAL value %s", cfg.PingInterval)
	}
	if cfg.RecentMessageCount < 0 {
		return ChatConfig{}, fmt.Errorf("invalid CHZZK_RECENT_MESSAGE_COUNT value %d", cfg.RecentMessageCount)
	}
	if cfg.ReconnectMax < cfg.ReconnectInitial {
		cfg.ReconnectMax = cfg.ReconnectInitial
	}
	return cfg, nil
}

// LogConfig 描述日志输出。
type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"text"`
	// 追加写入；为空时只输出到标准输出。
	File string `env:"LOG_FILE" envDefault:"chat.log"`
}

func loadLogConfig() (LogConfig, error) {
	var cfg LogConfig
	if err := env.Parse(&cfg); err != nil {
		return LogConfig{}, fmt.Errorf("parse log config: %w", err)
	}
	switch strings.ToLower(cfg.Format) {
	case "text", "json":
	default:
		return LogConfig{}, fmt.Errorf("invalid LOG_FORMAT value %q", cfg.Format)
	}
	return cfg, nil
}

// SpeechConfig 描述语音服务相关配置
type SpeechConfig struct {
	AppID       string  `env:"SPEECH_APP_ID"`
	AccessToken string  `env:"SPEECH_ACCESS_TOKEN"`
	APIKey      string  `env:"SPEECH_API_KEY"`
	BaseURL     string  `env:"SPEECH_BASE_URL"`
	Cluster     string  `env:"SPEECH_TTS_CLUSTER"`
	TTSVoice    string  `env:"SPEECH_TTS_VOICE"`
	TTSSpeed    float32 `env:"SPEECH_TTS_SPEED" envDefault:"1.0"`
	TTSVolume   float32 `env:"SPEECH_TTS_VOLUME" envDefault:"1.0"`
	TTSLanguage string  `env:"SPEECH_TTS_LANGUAGE"`
	// 秒
	Timeout   int    `env:"SPEECH_TIMEOUT" envDefault:"30"`
	Player    string `env:"SPEECH_PLAYER" envDefault:"ffplay -nodisp -autoexit -loglevel quiet -"`
	QueueSize int    `env:"SPEECH_QUEUE_SIZE" envDefault:"32"`
	Enabled   bool
}

func loadSpeechConfig() (SpeechConfig, error) {
	var cfg SpeechConfig
	if err := env.Parse(&cfg); err != nil {
		return SpeechConfig{}, fmt.Errorf("parse speech config: %w", err)
	}

	cfg.AppID = strings.TrimSpace(cfg.AppID)
	cfg.AccessToken = strings.TrimSpace(cfg.AccessToken)
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	if cfg.AccessToken == "" {
		cfg.AccessToken = cfg.APIKey
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30
	}

	cfg.Enabled = cfg.AppID != "" && cfg.AccessToken != ""
	return cfg, nil
}

// ServerConfig 描述状态 HTTP 服务配置，Addr 为空时不启动。
type ServerConfig struct {
	Addr string `env:"STATUS_ADDR"`
}

// loadServerConfig 解析状态服务监听地址。
func loadServerConfig() (ServerConfig, error) {
	var cfg ServerConfig
	if err := env.Parse(&cfg); err != nil {
		return ServerConfig{}, fmt.Errorf("parse server config: %w", err)
	}

	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" || strings.Contains(addr, ":") {
		// 允许用户直接传入 ":9090" 或 "127.0.0.1:9090"。
		return ServerConfig{Addr: addr}, nil
	}
	if strings.Contains(addr, " ") {
		return ServerConfig{}, fmt.Errorf("invalid STATUS_ADDR value: %q", addr)
	}
	return ServerConfig{Addr: ":" + addr}, nil
}
