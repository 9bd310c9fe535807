package session

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/manomitra-client/internal/config"
	"github.com/zhouzirui/manomitra-client/internal/model/conversation"
	"github.com/zhouzirui/manomitra-client/internal/model/protocol"
	sessionmodel "github.com/zhouzirui/manomitra-client/internal/model/session"
	"github.com/zhouzirui/manomitra-client/internal/service/capture"
	"github.com/zhouzirui/manomitra-client/internal/service/connection"
	"github.com/zhouzirui/manomitra-client/pkg/audio"
)

// reply is what the scripted peer does after reading one client frame.
// Returning false closes the connection.
type reply func(conn *websocket.Conn, frame protocol.Outbound, payload []byte) bool

func startPeer(t *testing.T, respond reply) string {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			frame, payload, err := protocol.DecodeOutbound(data)
			if err != nil {
				t.Errorf("peer received bad frame: %v", err)
				return
			}
			if !respond(conn, frame, payload) {
				return
			}
		}
	}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func send(conn *websocket.Conn, frames ...protocol.Inbound) {
	for _, frame := range frames {
		data, _ := protocol.EncodeInbound(frame)
		conn.WriteMessage(websocket.TextMessage, data)
	}
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) notices() []sessionmodel.Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	var notices []sessionmodel.Notice
	for _, event := range r.events {
		if event.Type == EventNotice {
			notices = append(notices, *event.Notice)
		}
	}
	return notices
}

func newEngine(t *testing.T, url string, mic capture.Microphone) (*Engine, *recorder) {
	t.Helper()
	remote := connection.DefaultOptions(url)
	remote.DialTimeout = time.Second

	settings := config.DefaultSettings()
	settings.AudioOutputEnabled = false

	e := New(Options{
		Remote:     remote,
		Microphone: mic,
		Settings:   config.NewSettingsStore("", settings),
		Logger:     zerolog.Nop(),
	})
	rec := &recorder{}
	e.Subscribe(rec.handle)
	t.Cleanup(e.Close)
	return e, rec
}

func oneSecondOfSilence() audio.PCM {
	return audio.PCM{SampleRate: 16000, Channels: 1, Data: make([]byte, 32000)}
}

func TestTextTurnScenario(t *testing.T) {
	url := startPeer(t, func(conn *websocket.Conn, frame protocol.Outbound, _ []byte) bool {
		assert.Equal(t, protocol.TypeText, frame.Type)
		assert.Equal(t, "I feel great today", frame.Text)
		assert.Equal(t, protocol.English, frame.Language)
		send(conn,
			protocol.Inbound{Type: protocol.TypeEmotionResult, Emotion: "happy", Confidence: 0.9},
			protocol.Inbound{Type: protocol.TypeResponseGenerated, Text: "I'm glad to hear that!", EmotionContext: "happy"},
		)
		return true
	})
	e, _ := newEngine(t, url, nil)
	ctx := context.Background()

	require.NoError(t, e.Connect(ctx))
	require.Equal(t, conversation.Neutral, e.State().CurrentEmotion)
	require.NoError(t, e.SendText(ctx, "I feel great today"))

	require.Eventually(t, func() bool { return e.State().TurnCount == 2 }, 2*time.Second, 10*time.Millisecond)

	turns := e.History(conversation.Criteria{})
	assert.Equal(t, conversation.SenderUser, turns[0].Sender)
	assert.Equal(t, "I feel great today", turns[0].Text)
	assert.Equal(t, conversation.ModalityText, turns[0].Modality)
	assert.Contains(t, []conversation.Emotion{conversation.Happy, conversation.Neutral}, turns[0].Emotion)

	assert.Equal(t, conversation.SenderAgent, turns[1].Sender)
	assert.Equal(t, "I'm glad to hear that!", turns[1].Text)
	assert.Equal(t, conversation.Empathetic, turns[1].Emotion)

	assert.Equal(t, conversation.Happy, e.State().CurrentEmotion)
}

func TestCaptureThenUnexpectedDisconnect(t *testing.T) {
	received := make(chan struct{})
	url := startPeer(t, func(_ *websocket.Conn, frame protocol.Outbound, payload []byte) bool {
		assert.Equal(t, protocol.TypeAudio, frame.Type)
		_, err := audio.DecodeWAV(payload)
		assert.NoError(t, err)
		close(received)
		// drop the connection without replying
		return false
	})
	e, rec := newEngine(t, url, capture.NewClipMicrophone(oneSecondOfSilence()))
	ctx := context.Background()

	require.NoError(t, e.Connect(ctx))
	require.NoError(t, e.StartCapture(ctx))
	assert.Equal(t, sessionmodel.CaptureRecording, e.State().Capture)
	require.NoError(t, e.StopCapture(ctx))

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("peer never received the audio turn")
	}

	require.Eventually(t, func() bool {
		state := e.State()
		return state.Capture == sessionmodel.CaptureIdle && state.Connection == sessionmodel.Disconnected
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool { return len(rec.notices()) > 0 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, sessionmodel.KindConnection, rec.notices()[0].Kind)
	assert.Zero(t, e.State().TurnCount)
}

func TestSpeechTurnReturnsCaptureToIdle(t *testing.T) {
	tone := audio.EncodeWAV(audio.PCM{SampleRate: 16000, Channels: 1, Data: make([]byte, 320)})
	url := startPeer(t, func(conn *websocket.Conn, _ protocol.Outbound, _ []byte) bool {
		send(conn,
			protocol.Inbound{Type: protocol.TypeSTTResult, Text: "I failed my exam", Confidence: 0.87},
			protocol.Inbound{Type: protocol.TypeEmotionResult, Emotion: "sad", Confidence: 0.75},
			protocol.Inbound{Type: protocol.TypeResponseGenerated, Text: "That must be hard.", EmotionContext: "sad"},
			protocol.Inbound{Type: protocol.TypeTTSResult, Audio: encodeBase64(tone), Duration: 0.01},
		)
		return true
	})
	e, rec := newEngine(t, url, capture.NewClipMicrophone(oneSecondOfSilence()))
	ctx := context.Background()

	require.NoError(t, e.Connect(ctx))
	require.NoError(t, e.StartCapture(ctx))
	require.NoError(t, e.StopCapture(ctx))

	require.Eventually(t, func() bool {
		state := e.State()
		return state.TurnCount == 2 && state.Capture == sessionmodel.CaptureIdle
	}, 2*time.Second, 10*time.Millisecond)

	turns := e.History(conversation.Criteria{Modality: conversation.ModalitySpeech})
	require.Len(t, turns, 1)
	assert.Equal(t, "I failed my exam", turns[0].Text)
	assert.Equal(t, conversation.Neutral, turns[0].Emotion)
	assert.Equal(t, conversation.Sad, e.State().CurrentEmotion)

	stats := e.Statistics()
	assert.Equal(t, 1, stats.TotalUserTurns)
	assert.Equal(t, 1, stats.SpeechTurns)
	assert.Empty(t, rec.notices())
}

func TestTextReplyDoesNotReleasePendingSpeechTurn(t *testing.T) {
	held := make(chan *websocket.Conn, 1)
	url := startPeer(t, func(conn *websocket.Conn, frame protocol.Outbound, _ []byte) bool {
		if frame.Type == protocol.TypeAudio {
			// answer the earlier typed turn only
			send(conn, protocol.Inbound{Type: protocol.TypeTextResponse, Text: "about what you typed"})
			held <- conn
		}
		return true
	})
	e, rec := newEngine(t, url, capture.NewClipMicrophone(oneSecondOfSilence()))
	ctx := context.Background()

	require.NoError(t, e.Connect(ctx))
	require.NoError(t, e.SendText(ctx, "are you there?"))
	require.NoError(t, e.StartCapture(ctx))
	require.NoError(t, e.StopCapture(ctx))

	var conn *websocket.Conn
	select {
	case conn = <-held:
	case <-time.After(2 * time.Second):
		t.Fatal("peer never received the audio turn")
	}

	require.Eventually(t, func() bool { return e.State().TurnCount == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, sessionmodel.CaptureProcessing, e.State().Capture)

	err := e.StartCapture(ctx)
	assert.ErrorIs(t, err, capture.ErrBusy)
	assert.Equal(t, sessionmodel.CaptureProcessing, e.State().Capture)

	send(conn,
		protocol.Inbound{Type: protocol.TypeSTTResult, Text: "I said something", Confidence: 0.9},
		protocol.Inbound{Type: protocol.TypeResponseGenerated, Text: "I heard you.", EmotionContext: "neutral"},
		protocol.Inbound{Type: protocol.TypeTTSResult, Audio: encodeBase64(audio.EncodeWAV(oneSecondOfSilence()))},
	)

	require.Eventually(t, func() bool {
		state := e.State()
		return state.TurnCount == 4 && state.Capture == sessionmodel.CaptureIdle
	}, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, rec.notices())
}

func TestNoRecordingWhileDisconnected(t *testing.T) {
	e, rec := newEngine(t, "ws://127.0.0.1:1/ws", capture.NewClipMicrophone(oneSecondOfSilence()))

	err := e.StartCapture(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, sessionmodel.ErrConnection)
	assert.Equal(t, sessionmodel.CaptureIdle, e.State().Capture)

	notices := rec.notices()
	require.Len(t, notices, 1)
	assert.Equal(t, sessionmodel.KindConnection, notices[0].Kind)
}

func TestSendTextWhileDisconnected(t *testing.T) {
	e, rec := newEngine(t, "ws://127.0.0.1:1/ws", nil)

	err := e.SendText(context.Background(), "hello")
	assert.ErrorIs(t, err, sessionmodel.ErrConnection)
	assert.Zero(t, e.State().TurnCount, "unsent turns are not logged")
	assert.Len(t, rec.notices(), 1)

	assert.ErrorIs(t, e.SendText(context.Background(), "   "), ErrEmptyText)
}

func TestRemoteErrorSurfacedVerbatim(t *testing.T) {
	url := startPeer(t, func(conn *websocket.Conn, _ protocol.Outbound, _ []byte) bool {
		send(conn, protocol.Inbound{Type: protocol.TypeError, Message: "Error processing text"})
		return true
	})
	e, rec := newEngine(t, url, nil)

	require.NoError(t, e.Connect(context.Background()))
	require.NoError(t, e.SendText(context.Background(), "hi"))

	require.Eventually(t, func() bool { return len(rec.notices()) == 1 }, 2*time.Second, 10*time.Millisecond)
	notice := rec.notices()[0]
	assert.Equal(t, sessionmodel.KindRemote, notice.Kind)
	assert.Equal(t, "Error processing text", notice.Message)
	assert.Equal(t, sessionmodel.Connected, e.State().Connection)
}

func TestMissingMicrophoneIsPermissionError(t *testing.T) {
	url := startPeer(t, func(*websocket.Conn, protocol.Outbound, []byte) bool { return true })
	e, rec := newEngine(t, url, nil)

	require.NoError(t, e.Connect(context.Background()))
	err := e.StartCapture(context.Background())
	assert.ErrorIs(t, err, sessionmodel.ErrPermission)
	assert.Equal(t, sessionmodel.CaptureIdle, e.State().Capture)
	assert.Equal(t, sessionmodel.KindPermission, rec.notices()[0].Kind)
}

func TestExportAndClear(t *testing.T) {
	url := startPeer(t, func(conn *websocket.Conn, frame protocol.Outbound, _ []byte) bool {
		send(conn, protocol.Inbound{Type: protocol.TypeTextResponse, Text: "echo: " + frame.Text})
		return true
	})
	e, _ := newEngine(t, url, nil)
	ctx := context.Background()

	require.NoError(t, e.Connect(ctx))
	require.NoError(t, e.SendText(ctx, "first"))
	require.Eventually(t, func() bool { return e.State().TurnCount == 2 }, 2*time.Second, 10*time.Millisecond)

	doc := e.Export(&conversation.Criteria{Sender: conversation.SenderAgent})
	assert.Equal(t, e.ID(), doc.SessionID)
	require.Equal(t, 1, doc.Count)
	assert.Equal(t, "echo: first", doc.Turns[0].Text)

	e.Clear()
	assert.Zero(t, e.State().TurnCount)
	assert.Equal(t, conversation.Neutral, e.State().CurrentEmotion)
}

func TestUpdateSettingsChangesOutboundLanguage(t *testing.T) {
	languages := make(chan protocol.Language, 1)
	url := startPeer(t, func(_ *websocket.Conn, frame protocol.Outbound, _ []byte) bool {
		languages <- frame.Language
		return true
	})
	e, _ := newEngine(t, url, nil)

	_, err := e.UpdateSettings(func(s *config.Settings) { s.Language = protocol.Telugu })
	require.NoError(t, err)
	require.NoError(t, e.Connect(context.Background()))
	require.NoError(t, e.SendText(context.Background(), "namaste"))

	select {
	case language := <-languages:
		assert.Equal(t, protocol.Telugu, language)
	case <-time.After(2 * time.Second):
		t.Fatal("peer never received the frame")
	}
}

func encodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}
