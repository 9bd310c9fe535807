// Package capture implements the recording state machine for spoken turns.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/manomitra-client/internal/logging"
	"github.com/zhouzirui/manomitra-client/internal/metrics"
	"github.com/zhouzirui/manomitra-client/internal/model/session"
	"github.com/zhouzirui/manomitra-client/pkg/audio"
)

var (
	ErrBusy         = errors.New("capture already in progress")
	ErrNotRecording = errors.New("capture is not recording")
	ErrOffline      = errors.New("cannot record while disconnected")
)

// Microphone grants exclusive access to an audio input.
type Microphone interface {
	Open(ctx context.Context) (Stream, error)
}

// Stream is an open recording. Stop ends it and returns what was captured;
// Close releases the device and is safe to call more than once.
type Stream interface {
	Stop() (audio.PCM, error)
	Close() error
}

// Uplink submits a finalized audio payload as one turn.
type Uplink interface {
	Connected() bool
	Submit(ctx context.Context, payload []byte) error
}

// Controller 录音状态机：idle → recording → processing → idle。
type Controller struct {
	mic         Microphone
	uplink      Uplink
	maxDuration time.Duration
	logger      zerolog.Logger

	mu        sync.Mutex
	state     session.CaptureState
	stream    Stream
	startedAt time.Time
	limit     *time.Timer
	recording uint64
	observers []func(session.CaptureState)
	onError   func(error)
}

// NewController 创建录音控制器。maxDuration <= 0 关闭自动停止。
func NewController(mic Microphone, uplink Uplink, maxDuration time.Duration, logger zerolog.Logger) *Controller {
	return &Controller{
		mic:         mic,
		uplink:      uplink,
		maxDuration: maxDuration,
		logger:      logging.Component(logger, "capture"),
		state:       session.CaptureIdle,
	}
}

// OnStateChange adds an observer of capture transitions.
func (c *Controller) OnStateChange(observer func(session.CaptureState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, observer)
}

// OnError receives failures of captures stopped by the length limit.
func (c *Controller) OnError(handler func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = handler
}

// State returns the current capture state.
func (c *Controller) State() session.CaptureState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// StartCapture acquires the microphone and begins recording.
func (c *Controller) StartCapture(ctx context.Context) error {
	c.mu.Lock()
	if c.state != session.CaptureIdle {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: state is %s", ErrBusy, state)
	}
	if !c.uplink.Connected() {
		c.mu.Unlock()
		return session.NewError(session.KindConnection, "start capture", ErrOffline)
	}

	stream, err := c.mic.Open(ctx)
	if err != nil {
		c.mu.Unlock()
		c.logger.Warn().Err(err).Msg("microphone unavailable")
		return session.NewError(session.KindPermission, "start capture", err)
	}

	c.stream = stream
	c.startedAt = time.Now()
	c.recording++
	if c.maxDuration > 0 {
		recording := c.recording
		c.limit = time.AfterFunc(c.maxDuration, func() { c.stopAtLimit(recording) })
	}
	observers := c.transitionLocked(session.CaptureRecording)
	c.mu.Unlock()

	c.logger.Info().Msg("recording started")
	notify(observers, session.CaptureRecording)
	return nil
}

// StopCapture finalizes the recording and submits it as an audio turn.
// Partial and empty recordings are submitted too.
func (c *Controller) StopCapture(ctx context.Context) error {
	c.mu.Lock()
	if c.state != session.CaptureRecording {
		c.mu.Unlock()
		return ErrNotRecording
	}
	stream := c.stream
	c.stream = nil
	c.stopLimitLocked()
	elapsed := time.Since(c.startedAt)
	observers := c.transitionLocked(session.CaptureProcessing)
	c.mu.Unlock()

	notify(observers, session.CaptureProcessing)

	pcm, err := finalize(stream)
	if err != nil {
		c.logger.Warn().Err(err).Msg("recording ended with an error, submitting what was captured")
	}

	payload := audio.EncodeWAV(pcm)
	metrics.CaptureSeconds.Observe(pcm.Duration().Seconds())
	c.logger.Info().Dur("elapsed", elapsed).Dur("audio", pcm.Duration()).Int("bytes", len(payload)).Msg("recording finalized")

	if err := c.uplink.Submit(ctx, payload); err != nil {
		// the turn is abandoned
		c.reset(session.CaptureProcessing)
		if _, ok := session.KindOf(err); !ok {
			err = session.NewError(session.KindConnection, "submit audio", err)
		}
		return err
	}
	return nil
}

// TurnCompleted returns to idle once the reply for the submitted turn arrived.
func (c *Controller) TurnCompleted() {
	c.reset(session.CaptureProcessing)
}

// Abort returns to idle from any state, releasing the microphone if held.
func (c *Controller) Abort() {
	c.mu.Lock()
	stream := c.stream
	c.stream = nil
	c.stopLimitLocked()
	if c.state == session.CaptureIdle {
		c.mu.Unlock()
		return
	}
	observers := c.transitionLocked(session.CaptureIdle)
	c.mu.Unlock()

	if stream != nil {
		if err := stream.Close(); err != nil {
			c.logger.Warn().Err(err).Msg("release microphone")
		}
	}
	c.logger.Info().Msg("capture aborted")
	notify(observers, session.CaptureIdle)
}

func (c *Controller) reset(from session.CaptureState) {
	c.mu.Lock()
	if c.state != from {
		c.mu.Unlock()
		return
	}
	observers := c.transitionLocked(session.CaptureIdle)
	c.mu.Unlock()

	notify(observers, session.CaptureIdle)
}

func (c *Controller) stopAtLimit(recording uint64) {
	c.mu.Lock()
	current := c.recording == recording && c.state == session.CaptureRecording
	c.mu.Unlock()
	if !current {
		return
	}

	c.logger.Info().Dur("limit", c.maxDuration).Msg("maximum capture length reached")

	err := c.StopCapture(context.Background())
	if err == nil || errors.Is(err, ErrNotRecording) {
		return
	}

	c.mu.Lock()
	handler := c.onError
	c.mu.Unlock()
	if handler != nil {
		handler(err)
	}
}

func (c *Controller) stopLimitLocked() {
	if c.limit != nil {
		c.limit.Stop()
		c.limit = nil
	}
}

func (c *Controller) transitionLocked(next session.CaptureState) []func(session.CaptureState) {
	c.state = next
	observers := make([]func(session.CaptureState), len(c.observers))
	copy(observers, c.observers)
	return observers
}

// finalize stops the stream and always releases it.
func finalize(stream Stream) (audio.PCM, error) {
	defer stream.Close()
	return stream.Stop()
}

func notify(observers []func(session.CaptureState), state session.CaptureState) {
	for _, observer := range observers {
		observer(state)
	}
}
