// Package speaker plays replies on the system audio output through oto.
package speaker

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/manomitra-client/internal/logging"
	"github.com/zhouzirui/manomitra-client/internal/service/playback"
	"github.com/zhouzirui/manomitra-client/pkg/audio"
)

// Device is the process-wide output device. oto allows one context per process.
type Device struct {
	sampleRate int
	channels   int
	logger     zerolog.Logger

	once    sync.Once
	ctx     *oto.Context
	initErr error
}

// New 创建扬声器设备，音频上下文在首次播放时初始化。
func New(sampleRate, channels int, logger zerolog.Logger) *Device {
	return &Device{
		sampleRate: sampleRate,
		channels:   max(channels, 1),
		logger:     logging.Component(logger, "speaker"),
	}
}

// Play blocks until the clip finished or ctx is cancelled.
func (d *Device) Play(ctx context.Context, clip playback.Clip) error {
	otoCtx, err := d.context()
	if err != nil {
		return err
	}

	pcm := audio.Remix(clip.PCM, d.channels)
	pcm = audio.Resample(pcm, d.sampleRate, clip.Speed)
	if len(pcm.Data) == 0 {
		return nil
	}

	player := otoCtx.NewPlayer(bytes.NewReader(pcm.Data))
	defer player.Close()
	player.Play()

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for player.IsPlaying() {
		select {
		case <-ctx.Done():
			player.Pause()
			return ctx.Err()
		case <-ticker.C:
		}
	}

	if err := player.Err(); err != nil {
		return fmt.Errorf("audio output: %w", err)
	}
	return nil
}

func (d *Device) context() (*oto.Context, error) {
	d.once.Do(func() {
		otoOpts := &oto.NewContextOptions{
			SampleRate:   d.sampleRate,
			ChannelCount: d.channels,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   100 * time.Millisecond,
		}
		otoCtx, ready, err := oto.NewContext(otoOpts)
		if err != nil {
			d.initErr = fmt.Errorf("init audio output: %w", err)
			return
		}
		<-ready
		d.ctx = otoCtx
		d.logger.Debug().Int("sampleRate", d.sampleRate).Msg("audio output ready")
	})
	return d.ctx, d.initErr
}
