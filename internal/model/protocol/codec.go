package protocol

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/zhouzirui/manomitra-client/internal/model/conversation"
)

var (
	ErrMalformedFrame   = errors.New("malformed frame")
	ErrUnknownFrameType = errors.New("unknown frame type")
	ErrMissingField     = errors.New("missing required field")
	ErrInvalidEmotion   = errors.New("emotion tag outside vocabulary")
)

var codec = sonic.ConfigStd

// rawInbound distinguishes absent fields from empty ones.
type rawInbound struct {
	Type           Type     `json:"type"`
	Text           *string  `json:"text"`
	Emotion        *string  `json:"emotion"`
	Confidence     *float64 `json:"confidence"`
	EmotionContext *string  `json:"emotion_context"`
	Audio          *string  `json:"audio"`
	Duration       *float64 `json:"duration"`
	Message        *string  `json:"message"`
}

// EncodeOutbound serializes a client frame.
func EncodeOutbound(frame Outbound) ([]byte, error) {
	data, err := codec.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", frame.Type, err)
	}
	return data, nil
}

// DecodeOutbound parses a client frame, used by the peer side of the protocol.
func DecodeOutbound(data []byte) (Outbound, []byte, error) {
	var frame Outbound
	if err := codec.Unmarshal(data, &frame); err != nil {
		return Outbound{}, nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch frame.Type {
	case TypeText:
		return frame, nil, nil
	case TypeAudio:
		audio, err := base64.StdEncoding.DecodeString(frame.Audio)
		if err != nil {
			return Outbound{}, nil, fmt.Errorf("%w: audio is not base64: %v", ErrMalformedFrame, err)
		}
		return frame, audio, nil
	default:
		return Outbound{}, nil, fmt.Errorf("%w: %q", ErrUnknownFrameType, frame.Type)
	}
}

// EncodeInbound serializes a server frame.
func EncodeInbound(frame Inbound) ([]byte, error) {
	data, err := codec.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", frame.Type, err)
	}
	return data, nil
}

// DecodeInbound parses one server frame into exactly one typed event.
func DecodeInbound(data []byte) (Event, error) {
	var raw rawInbound
	if err := codec.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch raw.Type {
	case TypeSTTResult:
		if raw.Text == nil {
			return nil, missing(raw.Type, "text")
		}
		return STTResult{Text: *raw.Text, Confidence: deref(raw.Confidence)}, nil

	case TypeEmotionResult:
		if raw.Emotion == nil {
			return nil, missing(raw.Type, "emotion")
		}
		tag, ok := conversation.ParseEmotion(*raw.Emotion)
		if !ok || tag == conversation.Empathetic {
			return nil, fmt.Errorf("%w: %q", ErrInvalidEmotion, *raw.Emotion)
		}
		return EmotionResult{Emotion: tag, Confidence: deref(raw.Confidence)}, nil

	case TypeResponseGenerated, TypeTextResponse:
		if raw.Text == nil {
			return nil, missing(raw.Type, "text")
		}
		event := ResponseGenerated{Kind: raw.Type, Text: *raw.Text}
		if raw.EmotionContext != nil {
			// advisory only, unknown tags are dropped
			if tag, ok := conversation.ParseEmotion(*raw.EmotionContext); ok {
				event.EmotionContext = tag
			}
		}
		return event, nil

	case TypeTTSResult:
		if raw.Audio == nil {
			return nil, missing(raw.Type, "audio")
		}
		audio, err := base64.StdEncoding.DecodeString(*raw.Audio)
		if err != nil {
			return nil, fmt.Errorf("%w: audio is not base64: %v", ErrMalformedFrame, err)
		}
		return TTSResult{Audio: audio, Duration: deref(raw.Duration)}, nil

	case TypeError:
		if raw.Message == nil {
			return nil, missing(raw.Type, "message")
		}
		return RemoteError{Message: *raw.Message}, nil

	case "":
		return nil, missing(raw.Type, "type")

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFrameType, raw.Type)
	}
}

func missing(frameType Type, field string) error {
	if frameType == "" {
		return fmt.Errorf("%w: %s", ErrMissingField, field)
	}
	return fmt.Errorf("%w: %s.%s", ErrMissingField, frameType, field)
}

func deref(value *float64) float64 {
	if value == nil {
		return 0
	}
	return *value
}
