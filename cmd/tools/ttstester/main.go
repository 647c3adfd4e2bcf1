package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/chzzk-tts/internal/analysis/sanitize"
	"github.com/zhouzirui/chzzk-tts/internal/config"
	"github.com/zhouzirui/chzzk-tts/internal/logging"
	speechmodel "github.com/zhouzirui/chzzk-tts/internal/model/speech"
	"github.com/zhouzirui/chzzk-tts/internal/service/speech"
)

func main() {
	logger := logging.New(os.Stderr, "debug", "text")
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		logger.Warn("无法加载 .env，改用系统环境变量", slog.Any("err", err))
	}

	cfg, err := config.Load()
	if err != nil {
		fatal("配置加载失败", err)
	}

	text := flag.String("text", "", "待朗读的聊天文本，会先经过清洗")
	outputPath := flag.String("out", "", "音频输出文件路径，留空则直接播放")
	language := flag.String("lang", "", "语言代码，默认使用 CHZZK_LANGUAGE")
	voice := flag.String("voice", "", "TTS 声音 ID，默认使用配置中的 TTSVoice")
	player := flag.String("player", "", "播放命令，默认使用 SPEECH_PLAYER")
	timeout := flag.Duration("timeout", 45*time.Second, "请求超时时间")
	flag.Parse()

	cleaned := sanitize.Text(*text)
	if strings.TrimSpace(cleaned) == "" {
		flag.Usage()
		fatal("清洗后的文本为空，请通过 -text 提供内容", nil)
	}
	logger.Info("文本清洗完成", slog.String("input", *text), slog.String("output", cleaned))

	if !cfg.Speech.Enabled {
		fatal("语音服务未启用，请先在环境变量中配置 SPEECH_APP_ID 与 SPEECH_ACCESS_TOKEN", nil)
	}

	if *language == "" {
		*language = cfg.Chat.Language
	}
	if *player == "" {
		*player = cfg.Speech.Player
	}

	speechCfg := &speechmodel.SpeechConfig{
		AppID:       cfg.Speech.AppID,
		AccessToken: cfg.Speech.AccessToken,
		APIKey:      cfg.Speech.APIKey,
		BaseURL:     cfg.Speech.BaseURL,
		Cluster:     cfg.Speech.Cluster,
		TTSVoice:    cfg.Speech.TTSVoice,
		TTSSpeed:    cfg.Speech.TTSSpeed,
		TTSVolume:   cfg.Speech.TTSVolume,
		TTSLanguage: cfg.Speech.TTSLanguage,
		Timeout:     cfg.Speech.Timeout,
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	svc := speech.NewService(speechCfg, logger)
	sessionID := fmt.Sprintf("manual-%d", time.Now().UnixNano())
	resp, err := svc.SynthesizeToBuffer(ctx, sessionID, cleaned, *voice, *language)
	if err != nil {
		fatal("TTS 调用失败", err)
	}
	logger.Info("TTS 合成成功", slog.Int("bytes", len(resp.AudioData)), slog.Int64("duration_ms", resp.Duration))

	if *outputPath != "" {
		if err := os.WriteFile(*outputPath, resp.AudioData, 0o644); err != nil {
			fatal("写入音频文件失败", err)
		}
		logger.Info("音频已写入", slog.String("path", *outputPath))
		return
	}

	if err := speech.NewCommandPlayer(*player).Play(ctx, resp.AudioData, resp.Format); err != nil {
		fatal("播放失败", err)
	}
}

func fatal(msg string, err error) {
	if err != nil {
		slog.Error(msg, slog.Any("err", err))
	} else {
		slog.Error(msg)
	}
	os.Exit(1)
}
