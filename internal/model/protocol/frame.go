package protocol

import (
	"encoding/base64"
	"strings"

	"github.com/zhouzirui/manomitra-client/internal/model/conversation"
)

// Type 帧类型，对应 JSON 中的 type 字段。
type Type string

const (
	TypeText              Type = "text"
	TypeAudio             Type = "audio"
	TypeSTTResult         Type = "stt_result"
	TypeEmotionResult     Type = "emotion_result"
	TypeResponseGenerated Type = "response_generated"
	TypeTextResponse      Type = "text_response"
	TypeTTSResult         Type = "tts_result"
	TypeError             Type = "error"
)

// Language 出站帧携带的语言代码。
type Language string

const (
	English Language = "en"
	Telugu  Language = "te"
)

// ParseLanguage accepts the supported language codes, case-insensitively.
func ParseLanguage(raw string) (Language, bool) {
	switch Language(strings.ToLower(strings.TrimSpace(raw))) {
	case English:
		return English, true
	case Telugu:
		return Telugu, true
	default:
		return "", false
	}
}

// Outbound 客户端发往远端服务的帧。
type Outbound struct {
	Type     Type     `json:"type"`
	Text     string   `json:"text,omitempty"`
	Audio    string   `json:"audio,omitempty"`
	Language Language `json:"language"`
}

// NewTextFrame builds a text turn frame.
func NewTextFrame(text string, language Language) Outbound {
	return Outbound{Type: TypeText, Text: text, Language: language}
}

// NewAudioFrame builds an audio turn frame; payload is the encoded WAV container.
func NewAudioFrame(payload []byte, language Language) Outbound {
	return Outbound{
		Type:     TypeAudio,
		Audio:    base64.StdEncoding.EncodeToString(payload),
		Language: language,
	}
}

// Inbound 远端服务发回客户端的帧，字段按类型选用。
type Inbound struct {
	Type           Type    `json:"type"`
	Text           string  `json:"text,omitempty"`
	Emotion        string  `json:"emotion,omitempty"`
	Confidence     float64 `json:"confidence,omitempty"`
	EmotionContext string  `json:"emotion_context,omitempty"`
	Audio          string  `json:"audio,omitempty"`
	Duration       float64 `json:"duration,omitempty"`
	Message        string  `json:"message,omitempty"`
}

// Event is one decoded inbound frame.
type Event interface {
	FrameType() Type
}

// STTResult carries the transcript of a submitted audio turn.
type STTResult struct {
	Text       string
	Confidence float64
}

// EmotionResult carries the emotion detected for the current turn.
type EmotionResult struct {
	Emotion    conversation.Emotion
	Confidence float64
}

// ResponseGenerated carries the agent reply. Kind is response_generated or text_response.
type ResponseGenerated struct {
	Kind           Type
	Text           string
	EmotionContext conversation.Emotion
}

// TTSResult carries synthesized speech for the agent reply.
type TTSResult struct {
	Audio    []byte
	Duration float64
}

// RemoteError is an error frame reported by the remote service.
type RemoteError struct {
	Message string
}

func (STTResult) FrameType() Type { return TypeSTTResult }

func (EmotionResult) FrameType() Type { return TypeEmotionResult }

func (e ResponseGenerated) FrameType() Type {
	if e.Kind == "" {
		return TypeResponseGenerated
	}
	return e.Kind
}

func (TTSResult) FrameType() Type { return TypeTTSResult }

func (RemoteError) FrameType() Type { return TypeError }
