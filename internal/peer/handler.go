// Package peer implements the remote side of the conversation protocol for
// offline development and tests.
package peer

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	analysis "github.com/zhouzirui/manomitra-client/internal/analysis/emotion"
	"github.com/zhouzirui/manomitra-client/internal/logging"
	"github.com/zhouzirui/manomitra-client/internal/model/conversation"
	"github.com/zhouzirui/manomitra-client/internal/model/protocol"
	"github.com/zhouzirui/manomitra-client/internal/service/ai"
	"github.com/zhouzirui/manomitra-client/pkg/audio"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
	historyLimit = 10
)

// Classifier 对话语进行情绪分类。
type Classifier interface {
	Classify(ctx context.Context, utterance string) analysis.Decision
}

// Transcriber 将一段录音转写为文本。
type Transcriber interface {
	Transcribe(ctx context.Context, pcm audio.PCM) (text string, confidence float64, err error)
}

// Synthesizer 将回复文本合成为语音。
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, emotion conversation.Emotion, language protocol.Language) (audio.PCM, error)
}

// Options 组装对端处理链路，零值字段使用内置实现。
type Options struct {
	Classifier  Classifier
	Responder   ai.Responder
	Transcriber Transcriber
	Synthesizer Synthesizer
}

// Handler serves the conversation endpoint over WebSocket.
type Handler struct {
	classifier  Classifier
	responder   ai.Responder
	transcriber Transcriber
	synthesizer Synthesizer
	upgrader    websocket.Upgrader
	logger      zerolog.Logger
}

// NewHandler 创建对端处理器。
func NewHandler(opts Options, logger zerolog.Logger) *Handler {
	h := &Handler{
		classifier:  opts.Classifier,
		responder:   opts.Responder,
		transcriber: opts.Transcriber,
		synthesizer: opts.Synthesizer,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logging.Component(logger, "peer"),
	}
	if h.classifier == nil {
		h.classifier = keywordClassifier{}
	}
	if h.responder == nil {
		h.responder = ai.NewTemplateResponder()
	}
	if h.transcriber == nil {
		h.transcriber = PlaceholderTranscriber{}
	}
	if h.synthesizer == nil {
		h.synthesizer = ToneSynthesizer{SampleRate: 16000}
	}
	return h
}

// RegisterRoutes 注册对话端点。
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/conversation", h.handleWebSocket)
}

type keywordClassifier struct{}

func (keywordClassifier) Classify(_ context.Context, utterance string) analysis.Decision {
	return analysis.Analyze(utterance)
}

// session 单个连接上的对话状态，帧按到达顺序串行处理。
type session struct {
	id      string
	conn    *websocket.Conn
	writeMu sync.Mutex
	history []ai.Exchange
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("upgrade failed")
		return
	}
	defer conn.Close()

	s := &session{
		id:   fmt.Sprintf("session_%d", time.Now().UnixNano()),
		conn: conn,
	}
	h.logger.Info().Str("session", s.id).Str("remote", r.RemoteAddr).Msg("client connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	go h.pingLoop(ctx, s)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn().Err(err).Str("session", s.id).Msg("read failed")
			}
			h.logger.Info().Str("session", s.id).Msg("client disconnected")
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		h.handleFrame(ctx, s, data)
	}
}

func (h *Handler) handleFrame(ctx context.Context, s *session, data []byte) {
	frame, payload, err := protocol.DecodeOutbound(data)
	if err != nil {
		h.sendError(s, err)
		return
	}

	language, ok := protocol.ParseLanguage(string(frame.Language))
	if !ok {
		language = protocol.English
	}

	switch frame.Type {
	case protocol.TypeAudio:
		if err := h.processAudio(ctx, s, payload, language); err != nil {
			h.sendError(s, err)
		}
	case protocol.TypeText:
		if err := h.processText(ctx, s, frame.Text, language); err != nil {
			h.sendError(s, err)
		}
	}
}

// processAudio runs transcription, emotion detection, reply and synthesis.
func (h *Handler) processAudio(ctx context.Context, s *session, payload []byte, language protocol.Language) error {
	pcm, err := audio.DecodeWAV(payload)
	if err != nil {
		return fmt.Errorf("decode audio: %w", err)
	}

	text, confidence, err := h.transcriber.Transcribe(ctx, pcm)
	if err != nil {
		return fmt.Errorf("transcribe: %w", err)
	}
	if err := h.send(s, protocol.Inbound{Type: protocol.TypeSTTResult, Text: text, Confidence: confidence}); err != nil {
		return err
	}

	decision := h.classifier.Classify(ctx, text)
	if err := h.send(s, protocol.Inbound{
		Type:       protocol.TypeEmotionResult,
		Emotion:    string(decision.Emotion),
		Confidence: decision.Confidence,
	}); err != nil {
		return err
	}

	reply := h.reply(ctx, s, text, decision.Emotion, language)
	if err := h.send(s, protocol.Inbound{
		Type:           protocol.TypeResponseGenerated,
		Text:           reply,
		EmotionContext: string(decision.Emotion),
	}); err != nil {
		return err
	}

	speech, err := h.synthesizer.Synthesize(ctx, reply, decision.Emotion, language)
	if err != nil {
		return fmt.Errorf("synthesize: %w", err)
	}
	return h.send(s, protocol.Inbound{
		Type:     protocol.TypeTTSResult,
		Audio:    encodeBase64(audio.EncodeWAV(speech)),
		Duration: speech.Duration().Seconds(),
	})
}

// processText answers a typed turn, treated as neutral.
func (h *Handler) processText(ctx context.Context, s *session, text string, language protocol.Language) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: text", protocol.ErrMissingField)
	}
	reply := h.reply(ctx, s, text, conversation.Neutral, language)
	return h.send(s, protocol.Inbound{Type: protocol.TypeTextResponse, Text: reply})
}

func (h *Handler) reply(ctx context.Context, s *session, text string, emotion conversation.Emotion, language protocol.Language) string {
	reply, err := h.responder.Reply(ctx, ai.Request{
		Text:     text,
		Emotion:  emotion,
		Language: language,
		History:  s.history,
	})
	if err != nil || strings.TrimSpace(reply) == "" {
		h.logger.Warn().Err(err).Str("session", s.id).Msg("reply generation failed, use fallback")
		reply = ai.FallbackResponse(language)
	}

	s.history = append(s.history, ai.Exchange{User: text, Emotion: emotion, Reply: reply})
	if len(s.history) > historyLimit {
		s.history = s.history[len(s.history)-historyLimit:]
	}
	return reply
}

func (h *Handler) send(s *session, frame protocol.Inbound) error {
	data, err := protocol.EncodeInbound(frame)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s frame: %w", frame.Type, err)
	}
	return nil
}

func (h *Handler) sendError(s *session, err error) {
	h.logger.Error().Err(err).Str("session", s.id).Msg("processing failed")
	frame := protocol.Inbound{Type: protocol.TypeError, Message: "Processing error: " + err.Error()}
	if sendErr := h.send(s, frame); sendErr != nil {
		h.logger.Warn().Err(sendErr).Str("session", s.id).Msg("write error frame failed")
	}
}

// pingLoop 定期发送 ping 保活。
func (h *Handler) pingLoop(ctx context.Context, s *session) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
