package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"

	"github.com/zhouzirui/manomitra-client/internal/model/protocol"
)

const (
	MinVoiceSpeed = 0.5
	MaxVoiceSpeed = 2.0
)

// Settings 用户可调整的会话设置，持久化为 TOML 文件。
type Settings struct {
	Language           protocol.Language `toml:"language" json:"language"`
	AudioOutputEnabled bool              `toml:"audio_output_enabled" json:"audioOutputEnabled"`
	VoiceSpeed         float64           `toml:"voice_speed" json:"voiceSpeed"`
}

// DefaultSettings 返回默认设置。
func DefaultSettings() Settings {
	return Settings{
		Language:           protocol.English,
		AudioOutputEnabled: true,
		VoiceSpeed:         1.0,
	}
}

// Normalize 修正越界取值：语速限制在 [0.5, 2.0]，未知语言回退为英文。
func (s Settings) Normalize() Settings {
	if lang, ok := protocol.ParseLanguage(string(s.Language)); ok {
		s.Language = lang
	} else {
		s.Language = protocol.English
	}

	switch {
	case s.VoiceSpeed == 0:
		s.VoiceSpeed = 1.0
	case s.VoiceSpeed < MinVoiceSpeed:
		s.VoiceSpeed = MinVoiceSpeed
	case s.VoiceSpeed > MaxVoiceSpeed:
		s.VoiceSpeed = MaxVoiceSpeed
	}
	return s
}

// LoadSettings 读取设置文件，文件不存在时返回 base。
func LoadSettings(path string, base Settings) (Settings, error) {
	if path == "" {
		return base.Normalize(), nil
	}

	settings := base
	if _, err := toml.DecodeFile(path, &settings); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return base.Normalize(), nil
		}
		return base.Normalize(), fmt.Errorf("read settings %s: %w", path, err)
	}
	return settings.Normalize(), nil
}

// SaveSettings 写入设置文件。
func SaveSettings(path string, settings Settings) error {
	if path == "" {
		return nil
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create settings dir: %w", err)
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create settings file: %w", err)
	}
	defer file.Close()

	if err := toml.NewEncoder(file).Encode(settings); err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	return nil
}

// SettingsStore 并发安全的设置持有者，更新时写回文件。
type SettingsStore struct {
	mu      sync.RWMutex
	path    string
	current Settings
}

// NewSettingsStore 创建设置存储。path 为空时只保存在内存中。
func NewSettingsStore(path string, initial Settings) *SettingsStore {
	return &SettingsStore{path: path, current: initial.Normalize()}
}

// Get 返回当前设置的副本。
func (s *SettingsStore) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Update 应用修改并持久化；持久化失败时内存中的设置仍然生效。
func (s *SettingsStore) Update(apply func(*Settings)) (Settings, error) {
	s.mu.Lock()
	next := s.current
	apply(&next)
	next = next.Normalize()
	s.current = next
	path := s.path
	s.mu.Unlock()

	return next, SaveSettings(path, next)
}
