package emotion

import (
	"context"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	analysis "github.com/zhouzirui/manomitra-client/internal/analysis/emotion"
	"github.com/zhouzirui/manomitra-client/internal/logging"
	"github.com/zhouzirui/manomitra-client/internal/model/conversation"
)

// Config 控制情绪分析服务的行为。
type Config struct {
	Enabled bool
}

// Service 使用大模型对用户话语进行情绪分类，并在必要时回退到关键词规则。
type Service struct {
	enabled    bool
	classifier compose.Runnable[map[string]any, *schema.Message]
	fallback   func(utterance string) analysis.Decision
	logger     zerolog.Logger
}

// NewService 创建情绪分析服务。chatModel 为 nil 时只使用关键词规则。
func NewService(ctx context.Context, chatModel model.ChatModel, cfg Config, logger zerolog.Logger) (*Service, error) {
	svc := &Service{
		enabled:  cfg.Enabled && chatModel != nil,
		fallback: analysis.Analyze,
		logger:   logging.Component(logger, "emotion"),
	}

	if !svc.enabled {
		return svc, nil
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(emotionSystemPrompt),
		schema.UserMessage("{utterance}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile emotion classifier chain: %w", err)
	}

	svc.classifier = runnable
	return svc, nil
}

// Enabled 返回大模型分类是否启用。
func (s *Service) Enabled() bool {
	return s != nil && s.enabled && s.classifier != nil
}

// Classify returns the emotion of an utterance, never empathetic.
func (s *Service) Classify(ctx context.Context, utterance string) analysis.Decision {
	if !s.Enabled() || strings.TrimSpace(utterance) == "" {
		return s.fallback(utterance)
	}

	msg, err := s.classifier.Invoke(ctx, map[string]any{"utterance": strings.TrimSpace(utterance)})
	if err != nil {
		s.logger.Warn().Err(err).Msg("classifier invoke failed, use fallback")
		return s.fallback(utterance)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return s.fallback(utterance)
	}

	result, err := parseClassifierOutput(msg.Content)
	if err != nil {
		s.logger.Warn().Err(err).Msg("classifier output parse failed, use fallback")
		return s.fallback(utterance)
	}

	label, ok := conversation.ParseEmotion(result.Emotion)
	if !ok || label == conversation.Empathetic {
		return s.fallback(utterance)
	}

	confidence := result.Confidence
	if confidence <= 0 {
		confidence = 0.6
	}
	if confidence > 1 {
		confidence = 1
	}

	return analysis.Decision{Emotion: label, Confidence: confidence, Score: int(confidence * 10)}
}

// parseClassifierOutput 解析大模型返回的 JSON。
func parseClassifierOutput(content string) (*classifierPayload, error) {
	trimmed := strings.TrimSpace(content)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("missing json object")
	}

	payload := &classifierPayload{}
	if err := sonic.ConfigStd.Unmarshal([]byte(trimmed[start:end+1]), payload); err != nil {
		return nil, err
	}
	return payload, nil
}

type classifierPayload struct {
	Emotion    string  `json:"emotion"`
	Confidence float64 `json:"confidence"`
}

const emotionSystemPrompt = "You classify the emotion of a single user utterance for an empathetic voice companion.\n" +
	"Reply with one JSON object only: {{\"emotion\": one of happy/sad/angry/fear/surprise/disgust/neutral, \"confidence\": number between 0 and 1}}."
