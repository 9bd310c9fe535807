// Package mic captures from the system microphone through miniaudio.
package mic

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/manomitra-client/internal/logging"
	"github.com/zhouzirui/manomitra-client/internal/service/capture"
	"github.com/zhouzirui/manomitra-client/pkg/audio"
)

var errClosed = errors.New("microphone device closed")

// Device opens the default capture device once per recording.
type Device struct {
	sampleRate int
	channels   int
	maxBytes   int
	logger     zerolog.Logger

	mu     sync.Mutex
	ctx    *malgo.AllocatedContext
	closed bool
}

// New 创建麦克风设备。maxDuration 限制单次录音缓存的长度。
func New(sampleRate, channels int, maxDuration time.Duration, logger zerolog.Logger) *Device {
	channels = max(channels, 1)
	maxBytes := 0
	if maxDuration > 0 {
		maxBytes = int(maxDuration.Seconds()*float64(sampleRate)) * channels * 2
	}
	return &Device{
		sampleRate: sampleRate,
		channels:   channels,
		maxBytes:   maxBytes,
		logger:     logging.Component(logger, "mic"),
	}
}

// Open starts recording from the default input device.
func (d *Device) Open(ctx context.Context) (capture.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	malgoCtx, err := d.context()
	if err != nil {
		return nil, err
	}

	s := &stream{
		maxBytes: d.maxBytes,
		buf:      make([]byte, 0, d.sampleRate*d.channels*2),
		pcm:      audio.PCM{SampleRate: d.sampleRate, Channels: d.channels},
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(d.channels)
	deviceConfig.SampleRate = uint32(d.sampleRate)
	deviceConfig.PeriodSizeInMilliseconds = 20

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, pInputSamples []byte, _ uint32) {
			s.append(pInputSamples)
		},
	}

	device, err := malgo.InitDevice(malgoCtx.Context, deviceConfig, callbacks)
	if err != nil {
		return nil, fmt.Errorf("init capture device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, fmt.Errorf("start capture device: %w", err)
	}

	s.device = device
	d.logger.Debug().Int("sampleRate", d.sampleRate).Int("channels", d.channels).Msg("capture device started")
	return s, nil
}

// Close releases the audio context.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.closed = true
	if d.ctx == nil {
		return nil
	}
	err := d.ctx.Uninit()
	d.ctx.Free()
	d.ctx = nil
	return err
}

func (d *Device) context() (*malgo.AllocatedContext, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, errClosed
	}
	if d.ctx != nil {
		return d.ctx, nil
	}

	malgoCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}
	d.ctx = malgoCtx
	return malgoCtx, nil
}

type stream struct {
	device   *malgo.Device
	maxBytes int

	mu      sync.Mutex
	buf     []byte
	pcm     audio.PCM
	stopped bool
	closed  bool
}

func (s *stream) append(samples []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	if s.maxBytes > 0 && len(s.buf)+len(samples) > s.maxBytes {
		samples = samples[:max(s.maxBytes-len(s.buf), 0)]
	}
	s.buf = append(s.buf, samples...)
}

func (s *stream) Stop() (audio.PCM, error) {
	if err := s.device.Stop(); err != nil {
		return s.snapshot(), fmt.Errorf("stop capture device: %w", err)
	}
	return s.snapshot(), nil
}

func (s *stream) snapshot() audio.PCM {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	pcm := s.pcm
	pcm.Data = append([]byte(nil), s.buf...)
	return pcm
}

func (s *stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.stopped = true
	s.mu.Unlock()

	s.device.Uninit()
	return nil
}
