package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/manomitra-client/internal/config"
	"github.com/zhouzirui/manomitra-client/internal/device/mic"
	"github.com/zhouzirui/manomitra-client/internal/device/speaker"
	"github.com/zhouzirui/manomitra-client/internal/handler"
	"github.com/zhouzirui/manomitra-client/internal/logging"
	"github.com/zhouzirui/manomitra-client/internal/peer"
	"github.com/zhouzirui/manomitra-client/internal/service/capture"
	"github.com/zhouzirui/manomitra-client/internal/service/connection"
	"github.com/zhouzirui/manomitra-client/internal/service/playback"
	"github.com/zhouzirui/manomitra-client/internal/service/session"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		bootLogger := logging.New("info", false)
		bootLogger.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Pretty)
	if envErr != nil {
		logger.Debug().Err(envErr).Msg("no .env file, using system environment variables only")
	}

	settings, err := config.LoadSettings(cfg.SettingsFile, cfg.Settings)
	if err != nil {
		logger.Warn().Err(err).Str("file", cfg.SettingsFile).Msg("failed to load settings, using defaults")
		settings = cfg.Settings
	}

	remote := connection.DefaultOptions(cfg.Remote.URL)
	remote.DialTimeout = cfg.Remote.DialTimeout
	remote.PingInterval = cfg.Remote.PingInterval
	remote.ReadTimeout = cfg.Remote.ReadTimeout
	remote.ReconnectAttempts = cfg.Remote.ReconnectAttempts

	maxCapture := time.Duration(cfg.Audio.MaxCaptureSeconds) * time.Second
	microphone, speakerDevice, release := openDevices(cfg.Audio, maxCapture, logger)
	defer release()

	engine := session.New(session.Options{
		Remote:     remote,
		Microphone: microphone,
		Speaker:    speakerDevice,
		Settings:   config.NewSettingsStore(cfg.SettingsFile, settings),
		MaxCapture: maxCapture,
		Logger:     logger,
	})
	defer engine.Close()

	var peerHandler *peer.Handler
	if cfg.Server.EmbeddedPeer {
		peerHandler = peer.NewHandler(peer.OptionsFromConfig(ctx, cfg.AI, cfg.Audio.SampleRate, logger), logger)
		logger.Info().Str("path", "/ws/conversation").Msg("embedded peer enabled")
	}

	router := handler.NewRouter(engine, peerHandler, logger)

	go func() {
		if err := engine.ConnectWithRetry(ctx); err != nil {
			logger.Warn().Err(err).Str("url", cfg.Remote.URL).Msg("remote service unavailable, connect from the UI later")
		}
	}()

	startServer(ctx, cfg.Server, router, logger)
}

// openDevices picks the capture and output capabilities for MANOMITRA_DEVICE.
func openDevices(cfg config.AudioConfig, maxCapture time.Duration, logger zerolog.Logger) (capture.Microphone, playback.Speaker, func()) {
	switch {
	case cfg.Device == "none":
		logger.Info().Msg("audio devices disabled")
		return capture.NoMicrophone{}, playback.DiscardSpeaker{}, func() {}

	case strings.HasPrefix(cfg.Device, "file:"):
		path := strings.TrimPrefix(cfg.Device, "file:")
		logger.Info().Str("file", path).Msg("using recorded audio as microphone")
		return capture.NewFileMicrophone(path), playback.DiscardSpeaker{}, func() {}

	default:
		input := mic.New(cfg.SampleRate, cfg.Channels, maxCapture, logger)
		output := speaker.New(cfg.SampleRate, cfg.Channels, logger)
		return input, output, func() {
			if err := input.Close(); err != nil {
				logger.Warn().Err(err).Msg("release microphone")
			}
		}
	}
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, logger zerolog.Logger) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info().Str("addr", addr).Msg("ManoMitra client listening")
	if err := runServer(ctx, srv); err != nil {
		logger.Fatal().Err(err).Msg("server error")
	}
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
