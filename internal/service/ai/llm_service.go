package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/manomitra-client/internal/logging"
	"github.com/zhouzirui/manomitra-client/internal/model/conversation"
	"github.com/zhouzirui/manomitra-client/internal/model/protocol"
)

// Exchange is one earlier user utterance and the reply it received.
type Exchange struct {
	User    string
	Emotion conversation.Emotion
	Reply   string
}

// Request carries everything needed to answer one user turn.
type Request struct {
	Text     string
	Emotion  conversation.Emotion
	Language protocol.Language
	History  []Exchange
}

// Responder produces the empathetic reply for a turn.
type Responder interface {
	Reply(ctx context.Context, req Request) (string, error)
}

// Service answers through an LLM chain.
type Service struct {
	chatModel model.ChatModel
	chain     compose.Runnable[map[string]any, *schema.Message]
	logger    zerolog.Logger
}

// NewService creates a new AI service instance
func NewService(ctx context.Context, chatModel model.ChatModel, logger zerolog.Logger) (*Service, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("chat model is required")
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{
		chatModel: chatModel,
		chain:     runnable,
		logger:    logging.Component(logger, "ai"),
	}, nil
}

// Reply generates the empathetic answer for req.
func (s *Service) Reply(ctx context.Context, req Request) (string, error) {
	response, err := s.chain.Invoke(ctx, buildChainInput(req))
	if err != nil {
		return "", fmt.Errorf("failed to run AI chain: %w", err)
	}

	text := strings.TrimSpace(response.Content)
	if text == "" {
		return "", fmt.Errorf("model returned an empty reply")
	}

	s.logger.Debug().Str("emotion", string(req.Emotion)).Int("length", len(text)).Msg("generated reply")
	return text, nil
}

func buildChainInput(req Request) map[string]any {
	return map[string]any{
		"system":  buildSystemPrompt(req.Emotion, req.Language),
		"history": buildHistoryMessages(req.History),
		"query":   req.Text,
	}
}

func buildSystemPrompt(emotion conversation.Emotion, language protocol.Language) string {
	var builder strings.Builder
	builder.WriteString("You are ManoMitra, a warm and empathetic companion. Keep replies to two or three short sentences that can be spoken aloud.")
	if desc := describeEmotion(emotion); desc != "" {
		builder.WriteString("\nThe user currently sounds ")
		builder.WriteString(string(emotion))
		builder.WriteString(": ")
		builder.WriteString(desc)
	}
	if language == protocol.Telugu {
		builder.WriteString("\nAnswer in Telugu.")
	} else {
		builder.WriteString("\nAnswer in English.")
	}
	return builder.String()
}

func buildHistoryMessages(exchanges []Exchange) []*schema.Message {
	const historyLimit = 5

	if len(exchanges) == 0 {
		return nil
	}

	start := max(len(exchanges)-historyLimit, 0)
	history := make([]*schema.Message, 0, 2*(len(exchanges)-start))
	for _, exchange := range exchanges[start:] {
		history = append(history, schema.UserMessage(exchange.User))
		if exchange.Reply != "" {
			history = append(history, schema.AssistantMessage(exchange.Reply, nil))
		}
	}
	return history
}

func describeEmotion(emotion conversation.Emotion) string {
	switch emotion {
	case conversation.Happy:
		return "share their joy and keep the tone bright."
	case conversation.Sad:
		return "be gentle, acknowledge the sadness and offer support."
	case conversation.Angry:
		return "stay calm, validate the frustration and help them slow down."
	case conversation.Fear:
		return "reassure them that they are safe and explore the worry together."
	case conversation.Surprise:
		return "show curiosity about what surprised them."
	case conversation.Disgust:
		return "validate the discomfort without judging."
	case conversation.Neutral:
		return "be friendly and invite them to share more."
	default:
		return ""
	}
}
