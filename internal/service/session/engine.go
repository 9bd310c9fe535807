// Package session composes the conversation session engine.
package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/manomitra-client/internal/config"
	"github.com/zhouzirui/manomitra-client/internal/logging"
	"github.com/zhouzirui/manomitra-client/internal/metrics"
	"github.com/zhouzirui/manomitra-client/internal/model/conversation"
	"github.com/zhouzirui/manomitra-client/internal/model/protocol"
	sessionmodel "github.com/zhouzirui/manomitra-client/internal/model/session"
	"github.com/zhouzirui/manomitra-client/internal/service/capture"
	"github.com/zhouzirui/manomitra-client/internal/service/connection"
	conversationsvc "github.com/zhouzirui/manomitra-client/internal/service/conversation"
	"github.com/zhouzirui/manomitra-client/internal/service/dispatch"
	"github.com/zhouzirui/manomitra-client/internal/service/export"
	"github.com/zhouzirui/manomitra-client/internal/service/playback"
)

// ErrEmptyText rejects blank text turns.
var ErrEmptyText = errors.New("text turn is empty")

// Options wires the engine to its capabilities.
type Options struct {
	Remote     connection.Options
	Microphone capture.Microphone
	Speaker    playback.Speaker
	Settings   *config.SettingsStore
	MaxCapture time.Duration
	Logger     zerolog.Logger
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Engine owns one conversation session: connection, capture, log and playback.
type Engine struct {
	id       string
	logger   zerolog.Logger
	now      func() time.Time
	settings *config.SettingsStore

	store      *conversationsvc.Store
	conn       *connection.Manager
	dispatcher *dispatch.Dispatcher
	capture    *capture.Controller
	playback   *playback.Controller
	events     *hub

	ctx    context.Context
	cancel context.CancelFunc
}

// New 创建会话引擎。
func New(opts Options) *Engine {
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	settings := opts.Settings
	if settings == nil {
		settings = config.NewSettingsStore("", config.DefaultSettings())
	}
	mic := opts.Microphone
	if mic == nil {
		mic = capture.NoMicrophone{}
	}
	speaker := opts.Speaker
	if speaker == nil {
		speaker = playback.DiscardSpeaker{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		id:       uuid.NewString(),
		logger:   logging.Component(opts.Logger, "session"),
		now:      now,
		settings: settings,
		store:    conversationsvc.NewStore(now),
		conn:     connection.NewManager(opts.Remote, opts.Logger),
		events:   newHub(),
		ctx:      ctx,
		cancel:   cancel,
	}

	e.playback = playback.NewController(speaker, func() float64 { return e.settings.Get().VoiceSpeed }, opts.Logger)
	e.dispatcher = dispatch.New(e.store, e.playback, func() bool { return e.settings.Get().AudioOutputEnabled }, dispatchObserver{e}, opts.Logger)
	e.capture = capture.NewController(mic, audioUplink{e}, opts.MaxCapture, opts.Logger)

	e.conn.OnFrame(func(data []byte) { e.dispatcher.HandleFrame(e.ctx, data) })
	e.conn.OnStateChange(e.connectionChanged)
	e.capture.OnStateChange(func(sessionmodel.CaptureState) { e.publishState(EventCapture) })
	e.capture.OnError(e.surface)
	e.playback.OnError(e.surface)

	e.logger.Info().Str("sessionId", e.id).Msg("session created")
	return e
}

// ID returns the session identifier.
func (e *Engine) ID() string {
	return e.id
}

// Subscribe registers an observer and returns its cancel function.
func (e *Engine) Subscribe(handler Handler) func() {
	return e.events.subscribe(handler)
}

// State returns a snapshot of the session state.
func (e *Engine) State() sessionmodel.State {
	return sessionmodel.State{
		SessionID:      e.id,
		Connection:     e.conn.State(),
		Capture:        e.capture.State(),
		CurrentEmotion: e.store.CurrentEmotion(),
		TurnCount:      e.store.Len(),
		StartedAt:      e.store.StartedAt(),
	}
}

// Connect opens the conversation channel; failures are also published as notices.
func (e *Engine) Connect(ctx context.Context) error {
	return e.conn.Connect(ctx)
}

// ConnectWithRetry is Connect with the configured retry policy.
func (e *Engine) ConnectWithRetry(ctx context.Context) error {
	return e.conn.ConnectWithRetry(ctx)
}

// Disconnect closes the channel and abandons any in-flight turn.
func (e *Engine) Disconnect() {
	e.conn.Disconnect()
}

// SendText submits a typed turn. The user turn is logged once the frame is sent.
func (e *Engine) SendText(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyText
	}

	language := e.settings.Get().Language
	turn := conversation.NewUserTurn(text, conversation.ModalityText, e.store.CurrentEmotion())

	err := e.dispatcher.Submit(conversation.ModalityText, func() error {
		return e.conn.Send(ctx, protocol.NewTextFrame(text, language))
	}, &turn)
	if err != nil {
		e.surface(err)
		return err
	}
	return nil
}

// StartCapture begins recording a spoken turn.
func (e *Engine) StartCapture(ctx context.Context) error {
	if err := e.capture.StartCapture(ctx); err != nil {
		e.surface(err)
		return err
	}
	return nil
}

// StopCapture ends the recording and submits it.
func (e *Engine) StopCapture(ctx context.Context) error {
	if err := e.capture.StopCapture(ctx); err != nil {
		e.surface(err)
		return err
	}
	return nil
}

// StopPlayback interrupts the reply being played.
func (e *Engine) StopPlayback() {
	e.playback.Stop()
}

// History returns the turns matching criteria in conversation order.
func (e *Engine) History(criteria conversation.Criteria) []conversation.Turn {
	return e.store.Filter(criteria.Predicate()).Collect()
}

// Statistics derives the session statistics.
func (e *Engine) Statistics() conversation.Statistics {
	return e.store.Statistics()
}

// Export snapshots the log, filtered when criteria is set.
func (e *Engine) Export(criteria *conversation.Criteria) export.Document {
	return export.ExportSnapshot(e.store.Turns(), criteria, export.Meta{
		SessionID:  e.id,
		ExportedAt: e.now(),
	})
}

// Clear empties the log and restarts the session clock.
func (e *Engine) Clear() {
	e.store.Clear()
	e.logger.Info().Msg("conversation cleared")
	e.publishState(EventCleared)
}

// Settings returns the current user settings.
func (e *Engine) Settings() config.Settings {
	return e.settings.Get()
}

// UpdateSettings applies and persists a settings change.
func (e *Engine) UpdateSettings(apply func(*config.Settings)) (config.Settings, error) {
	settings, err := e.settings.Update(apply)
	if err != nil {
		e.logger.Warn().Err(err).Msg("persist settings")
	}
	if !settings.AudioOutputEnabled {
		e.playback.Stop()
	}
	return settings, err
}

// Close releases every capability and closes the channel.
func (e *Engine) Close() {
	e.cancel()
	e.capture.Abort()
	e.playback.Stop()
	e.conn.Disconnect()
}

func (e *Engine) connectionChanged(change connection.StateChange) {
	if change.State == sessionmodel.Disconnected {
		// in-flight turns are abandoned
		e.dispatcher.CancelTurn()
		e.capture.Abort()
	}

	e.publishState(EventConnection)
	if change.Err != nil {
		e.surface(change.Err)
	}
}

func (e *Engine) publishState(eventType EventType) {
	state := e.State()
	e.events.publish(Event{Type: eventType, At: e.now().UTC(), State: &state})
}

// surface reports a session error to observers as a notice.
func (e *Engine) surface(err error) {
	if _, ok := sessionmodel.KindOf(err); !ok {
		e.logger.Debug().Err(err).Msg("operation rejected")
		return
	}

	notice := sessionmodel.NoticeFrom(err, e.now().UTC())
	metrics.Notices.WithLabelValues(string(notice.Kind)).Inc()
	e.logger.Warn().Str("kind", string(notice.Kind)).Msg(notice.Message)
	e.events.publish(Event{Type: EventNotice, At: notice.At, Notice: &notice})
}

// audioUplink submits finalized captures through the dispatcher.
type audioUplink struct {
	e *Engine
}

func (u audioUplink) Connected() bool {
	return u.e.conn.Connected()
}

func (u audioUplink) Submit(ctx context.Context, payload []byte) error {
	language := u.e.settings.Get().Language
	return u.e.dispatcher.Submit(conversation.ModalitySpeech, func() error {
		return u.e.conn.Send(ctx, protocol.NewAudioFrame(payload, language))
	}, nil)
}

type dispatchObserver struct {
	e *Engine
}

func (o dispatchObserver) TurnAppended(turn conversation.Turn) {
	o.e.events.publish(Event{Type: EventTurn, At: turn.Timestamp, Turn: &turn})
}

func (o dispatchObserver) EmotionChanged(emotion conversation.Emotion) {
	o.e.events.publish(Event{Type: EventEmotion, At: o.e.now().UTC(), Emotion: emotion})
}

// TurnCompleted releases capture only when the spoken turn was answered.
func (o dispatchObserver) TurnCompleted(modality conversation.Modality) {
	if modality == conversation.ModalitySpeech {
		o.e.capture.TurnCompleted()
	}
}

func (o dispatchObserver) Failed(err error) {
	o.e.surface(err)
}
