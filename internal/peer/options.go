package peer

import (
	"context"

	"github.com/cloudwego/eino/components/model"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/manomitra-client/internal/config"
	"github.com/zhouzirui/manomitra-client/internal/service/ai"
	emotionservice "github.com/zhouzirui/manomitra-client/internal/service/emotion"
)

// OptionsFromConfig builds the reply pipeline. Without Ark credentials the
// peer answers from templates and keyword analysis.
func OptionsFromConfig(ctx context.Context, cfg config.AIConfig, sampleRate int, logger zerolog.Logger) Options {
	opts := Options{Synthesizer: ToneSynthesizer{SampleRate: sampleRate}}

	var chatModel model.ChatModel
	if cfg.Enabled() {
		m, err := cfg.NewChatModel(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("ark chat model unavailable, using templates")
		} else {
			chatModel = m
		}
	} else {
		logger.Info().Msg("ark credentials not configured, using templates")
	}

	if chatModel != nil {
		responder, err := ai.NewService(ctx, chatModel, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("reply chain unavailable, using templates")
		} else {
			opts.Responder = responder
		}
	}

	classifier, err := emotionservice.NewService(ctx, chatModel, emotionservice.Config{Enabled: cfg.EmotionLLMEnabled}, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("emotion classifier unavailable, using keywords")
	} else {
		opts.Classifier = classifier
	}

	return opts
}
