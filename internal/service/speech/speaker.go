package speech

import (
	"context"
	"errors"
	"log/slog"

	"github.com/zhouzirui/chzzk-tts/internal/metrics"
	speechmodel "github.com/zhouzirui/chzzk-tts/internal/model/speech"
)

const defaultQueueSize = 32

var ErrQueueFull = errors.New("playback queue is full")

type utterance struct {
	text     string
	language string
}

// Speaker 聊天文本的播放端：入队立即返回，由单个 worker 依次合成并播放，
// 因此读取聊天的循环不会被播放阻塞。
type Speaker struct {
	service *Service
	player  Player
	config  *speechmodel.SpeechConfig
	queue   chan utterance
	logger  *slog.Logger
}

// NewSpeaker 创建播放端
func NewSpeaker(service *Service, player Player, config *speechmodel.SpeechConfig, logger *slog.Logger) *Speaker {
	if logger == nil {
		logger = slog.Default()
	}
	size := defaultQueueSize
	if config != nil && config.QueueSize > 0 {
		size = config.QueueSize
	}
	return &Speaker{
		service: service,
		player:  player,
		config:  config,
		queue:   make(chan utterance, size),
		logger:  logger.With("component", "speaker"),
	}
}

// Play 将文本加入播放队列，队列满时返回 ErrQueueFull
func (s *Speaker) Play(ctx context.Context, text, language string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case s.queue <- utterance{text: text, language: language}:
		metrics.PlaybackQueueDepth.Set(float64(len(s.queue)))
		return nil
	default:
		metrics.PlaybackTotal.WithLabelValues("dropped").Inc()
		return ErrQueueFull
	}
}

// Run 消费队列直到 ctx 取消，单条失败只记录日志
func (s *Speaker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case u := <-s.queue:
			metrics.PlaybackQueueDepth.Set(float64(len(s.queue)))
			if err := s.speak(ctx, u); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				metrics.PlaybackTotal.WithLabelValues("error").Inc()
				s.logger.Error("playback failed", slog.String("text", u.text), slog.Any("err", err))
				continue
			}
			metrics.PlaybackTotal.WithLabelValues("ok").Inc()
		}
	}
}

func (s *Speaker) speak(ctx context.Context, u utterance) error {
	req := &speechmodel.TTSRequest{Text: u.text, Language: u.language}
	if s.config != nil {
		req.Voice = s.config.TTSVoice
	}
	resp, err := s.service.SynthesizeSpeech(ctx, req)
	if err != nil {
		return err
	}
	return s.player.Play(ctx, resp.AudioData, resp.Format)
}

// LogSink 未配置语音凭证时使用，只记录文本
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink 创建只记录日志的播放端
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "speaker")}
}

// Play 记录文本后返回
func (l *LogSink) Play(_ context.Context, text, language string) error {
	l.logger.Info("speech disabled, skipping playback", slog.String("text", text), slog.String("language", language))
	return nil
}
