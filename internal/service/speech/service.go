package speech

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/zhouzirui/chzzk-tts/internal/metrics"
	speechmodel "github.com/zhouzirui/chzzk-tts/internal/model/speech"
	"github.com/zhouzirui/chzzk-tts/internal/telemetry"
)

// Synthesizer 将文本合成为音频
type Synthesizer interface {
	Synthesize(ctx context.Context, req *speechmodel.TTSRequest) (*speechmodel.TTSResponse, error)
}

// Service 语音合成服务
type Service struct {
	config      *speechmodel.SpeechConfig
	synthesizer Synthesizer
	logger      *slog.Logger
}

// NewService 创建语音服务实例
func NewService(config *speechmodel.SpeechConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		config:      config,
		synthesizer: NewVolcengineSynthesizer(config, logger),
		logger:      logger,
	}
}

// NewServiceWith 使用自定义合成器创建服务，主要用于测试
func NewServiceWith(config *speechmodel.SpeechConfig, synthesizer Synthesizer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{config: config, synthesizer: synthesizer, logger: logger}
}

// SynthesizeSpeech 文字转语音，单次调用受配置超时约束
func (s *Service) SynthesizeSpeech(ctx context.Context, req *speechmodel.TTSRequest) (*speechmodel.TTSResponse, error) {
	if req == nil {
		return nil, ErrEmptyText
	}
	ctx, cancel := context.WithTimeout(ctx, s.config.TimeoutDuration())
	defer cancel()

	ctx, span := telemetry.StartSpan(ctx, "speech.synthesize",
		attribute.String("tts.language", req.Language),
		attribute.Int("tts.text_length", len(req.Text)),
	)
	start := time.Now()
	resp, err := s.synthesizer.Synthesize(ctx, req)
	metrics.SynthesisDuration.Observe(time.Since(start).Seconds())
	telemetry.End(span, err)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("speech synthesized",
		slog.String("request_id", resp.RequestID),
		slog.Int("bytes", len(resp.AudioData)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return resp, nil
}

// SynthesizeToBuffer 文字转语音（返回字节数组）
func (s *Service) SynthesizeToBuffer(ctx context.Context, sessionID, text, voice, language string) (*speechmodel.TTSResponse, error) {
	return s.SynthesizeSpeech(ctx, &speechmodel.TTSRequest{
		SessionID: sessionID,
		Text:      text,
		Voice:     voice,
		Language:  language,
	})
}
