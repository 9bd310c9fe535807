package conversation

import (
	"strings"
	"time"
)

// Sender identifies who authored a turn.
type Sender string

const (
	SenderUser  Sender = "user"
	SenderAgent Sender = "agent"
)

// Modality describes how the user supplied a turn. Agent turns are always text.
type Modality string

const (
	ModalitySpeech Modality = "speech"
	ModalityText   Modality = "text"
)

// Emotion 情绪标签，取值限定在固定词表内。
type Emotion string

const (
	Happy      Emotion = "happy"
	Sad        Emotion = "sad"
	Angry      Emotion = "angry"
	Fear       Emotion = "fear"
	Surprise   Emotion = "surprise"
	Disgust    Emotion = "disgust"
	Neutral    Emotion = "neutral"
	Empathetic Emotion = "empathetic"
)

// Vocabulary lists every emotion tag in display order.
var Vocabulary = []Emotion{Happy, Sad, Angry, Fear, Surprise, Disgust, Neutral, Empathetic}

// ParseEmotion normalizes a tag received from the wire or a query string.
func ParseEmotion(raw string) (Emotion, bool) {
	value := Emotion(strings.ToLower(strings.TrimSpace(raw)))
	for _, tag := range Vocabulary {
		if tag == value {
			return tag, true
		}
	}
	return "", false
}

// Turn is one committed unit of dialogue. Turns are never mutated after creation.
type Turn struct {
	ID        int64     `json:"id"`
	Sender    Sender    `json:"sender"`
	Text      string    `json:"text"`
	Modality  Modality  `json:"modality"`
	Timestamp time.Time `json:"timestamp"`
	Emotion   Emotion   `json:"emotion"`

	// Confidence is the transcription confidence of a speech turn, 0 when unknown.
	Confidence float64 `json:"confidence,omitempty"`
	// EmotionContext is the emotion the remote service answered to (agent turns).
	EmotionContext Emotion `json:"emotionContext,omitempty"`
}

// NewUserTurn builds an uncommitted user turn; the store assigns ID and timestamp.
func NewUserTurn(text string, modality Modality, emotion Emotion) Turn {
	return Turn{
		Sender:   SenderUser,
		Text:     text,
		Modality: modality,
		Emotion:  emotion,
	}
}

// NewAgentTurn builds an uncommitted agent turn tagged empathetic.
func NewAgentTurn(text string, context Emotion) Turn {
	return Turn{
		Sender:         SenderAgent,
		Text:           text,
		Modality:       ModalityText,
		Emotion:        Empathetic,
		EmotionContext: context,
	}
}
