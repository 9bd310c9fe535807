// Package playback plays synthesized replies, one clip at a time.
package playback

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/manomitra-client/internal/logging"
	"github.com/zhouzirui/manomitra-client/internal/model/session"
	"github.com/zhouzirui/manomitra-client/pkg/audio"
)

const (
	MinSpeed = 0.5
	MaxSpeed = 2.0
)

// Clip is one decoded reply ready for output.
type Clip struct {
	PCM   audio.PCM
	Speed float64
}

// Speaker is the audio output capability. Play blocks until the clip
// finished or ctx is cancelled, holding the device for that time only.
type Speaker interface {
	Play(ctx context.Context, clip Clip) error
}

// Controller 播放控制器：新的 Play 会打断正在播放的片段。
type Controller struct {
	speaker Speaker
	speed   func() float64
	logger  zerolog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	onError func(error)
}

// NewController 创建播放控制器。speed 为 nil 时按原速播放。
func NewController(speaker Speaker, speed func() float64, logger zerolog.Logger) *Controller {
	if speed == nil {
		speed = func() float64 { return 1.0 }
	}
	return &Controller{
		speaker: speaker,
		speed:   speed,
		logger:  logging.Component(logger, "playback"),
	}
}

// OnError receives failures that happen after playback started.
func (c *Controller) OnError(handler func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = handler
}

// Play decodes payload and starts playing it, interrupting the current clip.
// Decode failures are returned; device failures go to the OnError handler.
func (c *Controller) Play(ctx context.Context, payload []byte) error {
	pcm, err := audio.DecodeWAV(payload)
	if err != nil {
		return session.NewError(session.KindPlayback, "decode", err)
	}
	clip := Clip{PCM: pcm, Speed: ClampSpeed(c.speed())}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopLocked()

	playCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done
	handler := c.onError

	c.logger.Debug().Dur("duration", pcm.Duration()).Float64("speed", clip.Speed).Msg("playing reply")

	go func() {
		defer close(done)
		defer cancel()

		if err := c.speaker.Play(playCtx, clip); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Warn().Err(err).Msg("playback failed")
			if handler != nil {
				handler(session.NewError(session.KindPlayback, "play", err))
			}
		}
	}()
	return nil
}

// Stop interrupts the current clip and waits until the device is released.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

// Wait blocks until the current clip finished.
func (c *Controller) Wait() {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()

	if done != nil {
		<-done
	}
}

// Playing reports whether a clip is in progress.
func (c *Controller) Playing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.done == nil {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

func (c *Controller) stopLocked() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
	c.cancel = nil
	c.done = nil
}

// ClampSpeed keeps speed inside the supported range; zero means normal speed.
func ClampSpeed(speed float64) float64 {
	switch {
	case speed == 0:
		return 1.0
	case speed < MinSpeed:
		return MinSpeed
	case speed > MaxSpeed:
		return MaxSpeed
	default:
		return speed
	}
}

// DiscardSpeaker plays nothing but takes as long as the clip would.
type DiscardSpeaker struct{}

func (DiscardSpeaker) Play(ctx context.Context, clip Clip) error {
	length := time.Duration(float64(clip.PCM.Duration()) / ClampSpeed(clip.Speed))
	timer := time.NewTimer(length)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
