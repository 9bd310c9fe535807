package session

import (
	"time"

	"github.com/zhouzirui/manomitra-client/internal/model/conversation"
)

// ConnectionState 与远端服务的连接状态，由连接管理器独占写入。
type ConnectionState string

const (
	Disconnected ConnectionState = "disconnected"
	Connected    ConnectionState = "connected"
)

// CaptureState 录音状态机，由录音控制器独占写入。
type CaptureState string

const (
	CaptureIdle       CaptureState = "idle"
	CaptureRecording  CaptureState = "recording"
	CaptureProcessing CaptureState = "processing"
)

// State is a read-only snapshot of the session for the presentation layer.
type State struct {
	SessionID      string               `json:"sessionId"`
	Connection     ConnectionState      `json:"connectionState"`
	Capture        CaptureState         `json:"captureState"`
	CurrentEmotion conversation.Emotion `json:"currentEmotion"`
	TurnCount      int                  `json:"turnCount"`
	StartedAt      time.Time            `json:"startedAt"`
}
