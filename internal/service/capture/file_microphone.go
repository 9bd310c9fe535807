package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/zhouzirui/manomitra-client/pkg/audio"
)

// ErrNoMicrophone is returned when no input device is configured.
var ErrNoMicrophone = errors.New("no microphone available")

// NoMicrophone denies every capture.
type NoMicrophone struct{}

func (NoMicrophone) Open(context.Context) (Stream, error) {
	return nil, ErrNoMicrophone
}

// FileMicrophone replays a WAV file as if it were recorded live.
// Used by headless runs and the command line tools.
type FileMicrophone struct {
	path string
}

// NewFileMicrophone creates a microphone backed by a WAV file.
func NewFileMicrophone(path string) *FileMicrophone {
	return &FileMicrophone{path: path}
}

// Open reads and validates the file up front so a bad file fails like a denied device.
func (m *FileMicrophone) Open(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(m.path)
	if err != nil {
		return nil, fmt.Errorf("open recording %s: %w", m.path, err)
	}

	pcm, err := audio.DecodeWAV(data)
	if err != nil {
		return nil, fmt.Errorf("decode recording %s: %w", m.path, err)
	}
	return &clipStream{pcm: pcm}, nil
}

// NewClipMicrophone returns a microphone that always yields pcm.
func NewClipMicrophone(pcm audio.PCM) Microphone {
	return clipMicrophone{pcm: pcm}
}

type clipMicrophone struct {
	pcm audio.PCM
}

func (m clipMicrophone) Open(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &clipStream{pcm: m.pcm}, nil
}

type clipStream struct {
	mu     sync.Mutex
	pcm    audio.PCM
	closed bool
}

func (s *clipStream) Stop() (audio.PCM, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return audio.PCM{}, ErrNotRecording
	}
	return s.pcm, nil
}

func (s *clipStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
