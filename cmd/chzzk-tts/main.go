package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/chzzk-tts/internal/config"
	"github.com/zhouzirui/chzzk-tts/internal/handler"
	"github.com/zhouzirui/chzzk-tts/internal/handler/stream"
	"github.com/zhouzirui/chzzk-tts/internal/logging"
	chatmodel "github.com/zhouzirui/chzzk-tts/internal/model/chat"
	speechmodel "github.com/zhouzirui/chzzk-tts/internal/model/speech"
	"github.com/zhouzirui/chzzk-tts/internal/service/channel"
	"github.com/zhouzirui/chzzk-tts/internal/service/chat"
	"github.com/zhouzirui/chzzk-tts/internal/service/speech"
	"github.com/zhouzirui/chzzk-tts/internal/telemetry"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("chzzk-tts stopped", slog.Any("err", err))
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	streamerID := flag.String("streamer_id", cfg.Chat.StreamerID, "streamer (channel) id to follow")
	flag.Parse()

	logger, logCloser, err := logging.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.File)
	if err != nil {
		return fmt.Errorf("failed to initialise logging: %w", err)
	}
	defer logCloser.Close()
	if envErr != nil {
		logger.Debug("no .env file loaded, using process environment", slog.Any("err", envErr))
	}

	shutdownTracing, err := telemetry.InitTracing("chzzk-tts", version)
	if err != nil {
		logger.Warn("tracing disabled", slog.Any("err", err))
	} else {
		defer shutdownTracing()
	}

	cookies, err := channel.LoadCookies(cfg.Chat.CookiesFile)
	if err != nil {
		logger.Error("failed to load cookies, continuing without login", slog.String("path", cfg.Chat.CookiesFile), slog.Any("err", err))
	}

	resolver := channel.NewResolver(
		channel.WithBaseURLs(cfg.Chat.APIBaseURL, cfg.Chat.CommBaseURL),
		channel.WithLogger(logger),
	)

	session, err := chat.ResolveSession(ctx, resolver, *streamerID, cookies, logger)
	if err != nil {
		return fmt.Errorf("failed to resolve chat session: %w", err)
	}
	logger.Info("chat session resolved",
		slog.String("channel", session.ChannelName),
		slog.String("chat_channel_id", session.ChatChannelID),
		slog.Bool("authenticated", session.Authenticated()),
	)

	g, gctx := errgroup.WithContext(ctx)

	sink := newSink(gctx, g, cfg.Speech, logger)

	hub := stream.NewHub()
	client := chat.New(session, resolver, sink, chat.Options{
		Endpoint:             cfg.Chat.Endpoint,
		PingInterval:         cfg.Chat.PingInterval,
		HandshakeTimeout:     cfg.Chat.HandshakeTimeout,
		RecentMessageCount:   cfg.Chat.RecentMessageCount,
		Language:             cfg.Chat.Language,
		ReconnectInitial:     cfg.Chat.ReconnectInitial,
		ReconnectMax:         cfg.Chat.ReconnectMax,
		MaxReconnectAttempts: cfg.Chat.ReconnectMaxAttempts,
		BreakerFailures:      cfg.Chat.BreakerFailures,
		BreakerCooldown:      cfg.Chat.BreakerCooldown,
		RotationCheckEvery:   cfg.Chat.RotationCheckEvery,
		Logger:               logger,
		Cookies:              cookies,
		OnEvent:              func(e chatmodel.Event) { hub.Publish(e) },
	})

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to chat: %w", err)
	}
	logger.Info("chat connected", slog.String("chat_channel_id", client.Session().ChatChannelID))

	if cfg.Server.Addr != "" {
		srv := &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           handler.NewRouter(client, hub, logger),
			ReadHeaderTimeout: 5 * time.Second,
			IdleTimeout:       120 * time.Second,
		}
		logger.Info("status server listening", slog.String("addr", cfg.Server.Addr))
		g.Go(func() error { return runServer(gctx, srv) })
	}

	g.Go(func() error { return client.Run(gctx) })

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("chzzk-tts shut down")
	return nil
}

// newSink returns the speaker when speech credentials are present, otherwise
// a sink that only logs.
func newSink(ctx context.Context, g *errgroup.Group, cfg config.SpeechConfig, logger *slog.Logger) chat.Sink {
	if !cfg.Enabled {
		logger.Warn("speech credentials missing, chat will be logged but not spoken")
		return speech.NewLogSink(logger)
	}

	speechCfg := &speechmodel.SpeechConfig{
		AppID:       cfg.AppID,
		AccessToken: cfg.AccessToken,
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.BaseURL,
		Cluster:     cfg.Cluster,
		TTSVoice:    cfg.TTSVoice,
		TTSSpeed:    cfg.TTSSpeed,
		TTSVolume:   cfg.TTSVolume,
		TTSLanguage: cfg.TTSLanguage,
		Player:      cfg.Player,
		QueueSize:   cfg.QueueSize,
		Timeout:     cfg.Timeout,
	}
	player := speech.NewCommandPlayer(cfg.Player)
	speaker := speech.NewSpeaker(speech.NewService(speechCfg, logger), player, speechCfg, logger)
	g.Go(func() error { return speaker.Run(ctx) })
	return speaker
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
