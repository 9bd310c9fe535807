// Package dispatch applies inbound protocol frames to the session.
package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/manomitra-client/internal/logging"
	"github.com/zhouzirui/manomitra-client/internal/metrics"
	"github.com/zhouzirui/manomitra-client/internal/model/conversation"
	"github.com/zhouzirui/manomitra-client/internal/model/protocol"
	"github.com/zhouzirui/manomitra-client/internal/model/session"
)

// Store is the part of the conversation store the dispatcher writes to.
type Store interface {
	AppendTurn(turn conversation.Turn) conversation.Turn
	CurrentEmotion() conversation.Emotion
	SetCurrentEmotion(emotion conversation.Emotion) bool
}

// Player starts playback of a synthesized clip.
type Player interface {
	Play(ctx context.Context, payload []byte) error
}

// Observer receives the effects of applied frames.
type Observer interface {
	TurnAppended(turn conversation.Turn)
	EmotionChanged(emotion conversation.Emotion)
	TurnCompleted(modality conversation.Modality)
	Failed(err error)
}

// Dispatcher decodes inbound frames and applies them in arrival order.
type Dispatcher struct {
	store        Store
	player       Player
	audioEnabled func() bool
	observer     Observer
	logger       zerolog.Logger

	// serializes Apply so each frame completes before the next
	applyMu sync.Mutex

	mu sync.Mutex
	// outstanding submissions, oldest first
	pending []conversation.Modality
	// the last turn was closed by a reply, a following tts_result trails it
	replied bool
}

// New 创建分发器。audioEnabled 为 nil 时始终播放。
func New(store Store, player Player, audioEnabled func() bool, observer Observer, logger zerolog.Logger) *Dispatcher {
	if audioEnabled == nil {
		audioEnabled = func() bool { return true }
	}
	return &Dispatcher{
		store:        store,
		player:       player,
		audioEnabled: audioEnabled,
		observer:     observer,
		logger:       logging.Component(logger, "dispatcher"),
	}
}

// BeginTurn queues a submitted turn as awaiting its terminal frame.
func (d *Dispatcher) BeginTurn(modality conversation.Modality) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = append(d.pending, modality)
}

// Submit runs send with inbound frames held back. On success the turn is
// queued as pending and local, when non-nil, is committed to the log, so a
// reply can never be applied ahead of the turn it answers.
func (d *Dispatcher) Submit(modality conversation.Modality, send func() error, local *conversation.Turn) error {
	d.applyMu.Lock()
	defer d.applyMu.Unlock()

	if err := send(); err != nil {
		return err
	}

	d.BeginTurn(modality)
	if local != nil {
		d.append(*local)
	}
	return nil
}

// CancelTurn forgets every in-flight turn without signalling completion.
func (d *Dispatcher) CancelTurn() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = nil
	d.replied = false
}

// Pending reports how many submitted turns await their terminal frame.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// HandleFrame decodes one raw frame and applies it. Decode failures are
// reported as protocol errors and change nothing.
func (d *Dispatcher) HandleFrame(ctx context.Context, data []byte) {
	event, err := protocol.DecodeInbound(data)
	if err != nil {
		metrics.ProtocolErrors.Inc()
		d.logger.Warn().Err(err).Int("bytes", len(data)).Msg("dropping undecodable frame")
		d.observer.Failed(session.NewError(session.KindProtocol, "decode", err))
		return
	}
	d.Apply(ctx, event)
}

// Apply runs the effect of one decoded event.
func (d *Dispatcher) Apply(ctx context.Context, event protocol.Event) {
	d.applyMu.Lock()
	defer d.applyMu.Unlock()

	metrics.FramesReceived.WithLabelValues(string(event.FrameType())).Inc()

	switch e := event.(type) {
	case protocol.STTResult:
		d.settle()
		d.applyTranscript(e)

	case protocol.EmotionResult:
		d.settle()
		if d.store.SetCurrentEmotion(e.Emotion) {
			d.logger.Debug().Str("emotion", string(e.Emotion)).Float64("confidence", e.Confidence).Msg("emotion changed")
			d.observer.EmotionChanged(e.Emotion)
		}

	case protocol.ResponseGenerated:
		text := strings.TrimSpace(e.Text)
		if text == "" {
			d.logger.Warn().Str("type", string(e.FrameType())).Msg("empty agent reply, no turn recorded")
		} else {
			d.append(conversation.NewAgentTurn(text, e.EmotionContext))
		}
		d.complete(true)

	case protocol.TTSResult:
		d.applySpeech(ctx, e)
		d.completeSpeech()

	case protocol.RemoteError:
		d.observer.Failed(session.NewError(session.KindRemote, "remote", errors.New(e.Message)))
		d.complete(false)

	default:
		d.logger.Warn().Str("type", string(event.FrameType())).Msg("no handler for event")
	}
}

func (d *Dispatcher) applyTranscript(e protocol.STTResult) {
	text := strings.TrimSpace(e.Text)
	if text == "" {
		// nothing was recognized; the reply frames still follow
		d.logger.Info().Msg("empty transcript, no turn recorded")
		return
	}

	turn := conversation.NewUserTurn(text, conversation.ModalitySpeech, d.store.CurrentEmotion())
	turn.Confidence = e.Confidence
	d.append(turn)
}

func (d *Dispatcher) applySpeech(ctx context.Context, e protocol.TTSResult) {
	if !d.audioEnabled() {
		d.logger.Debug().Msg("audio output disabled, skipping playback")
		return
	}
	if len(e.Audio) == 0 || d.player == nil {
		return
	}

	if err := d.player.Play(ctx, e.Audio); err != nil {
		if _, ok := session.KindOf(err); !ok {
			err = session.NewError(session.KindPlayback, "play", err)
		}
		d.observer.Failed(err)
	}
}

func (d *Dispatcher) append(turn conversation.Turn) {
	committed := d.store.AppendTurn(turn)
	metrics.TurnsAppended.WithLabelValues(string(committed.Sender)).Inc()
	d.observer.TurnAppended(committed)
}

// settle marks the start of the next turn's frames.
func (d *Dispatcher) settle() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.replied = false
}

// complete closes the oldest pending turn on its first terminal frame.
func (d *Dispatcher) complete(byReply bool) {
	d.mu.Lock()
	if len(d.pending) == 0 {
		d.replied = false
		d.mu.Unlock()
		return
	}
	modality := d.pending[0]
	d.pending = d.pending[1:]
	d.replied = byReply
	d.mu.Unlock()

	d.observer.TurnCompleted(modality)
}

// completeSpeech treats a tts_result right after a reply as part of that
// reply's turn; otherwise it is the terminal frame of the oldest turn.
func (d *Dispatcher) completeSpeech() {
	d.mu.Lock()
	trailing := d.replied
	d.replied = false
	d.mu.Unlock()

	if !trailing {
		d.complete(false)
	}
}
