package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"

	"github.com/zhouzirui/manomitra-client/internal/model/protocol"
)

// Config 聚合客户端的全部配置项。
type Config struct {
	Server       ServerConfig
	Remote       RemoteConfig
	Audio        AudioConfig
	Log          LogConfig
	AI           AIConfig
	Settings     Settings
	SettingsFile string
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	remote, err := loadRemoteConfig()
	if err != nil {
		return nil, err
	}

	audio, err := loadAudioConfig()
	if err != nil {
		return nil, err
	}

	settings, err := loadSettingsDefaults()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	logCfg, err := loadLogConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:       server,
		Remote:       remote,
		Audio:        audio,
		Log:          logCfg,
		AI:           ai,
		Settings:     settings,
		SettingsFile: getEnvOrDefault("MANOMITRA_SETTINGS_FILE", "manomitra-settings.toml"),
	}, nil
}

// ServerConfig 描述本地展示层 HTTP 服务配置。
type ServerConfig struct {
	Addr string
	// EmbeddedPeer 同时在本地服务中提供对话协议，便于离线开发。
	EmbeddedPeer bool
}

// loadServerConfig 解析本地监听地址。
func loadServerConfig() (ServerConfig, error) {
	embedded, err := parseBoolEnv("MANOMITRA_EMBEDDED_PEER", false)
	if err != nil {
		return ServerConfig{}, err
	}

	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "3000"
	}

	if strings.Contains(port, ":") {
		// 允许直接传入 ":3000" 或 "127.0.0.1:3000"。
		return ServerConfig{Addr: port, EmbeddedPeer: embedded}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: "127.0.0.1:" + port, EmbeddedPeer: embedded}, nil
}

// RemoteConfig 描述远端对话服务的连接参数。
type RemoteConfig struct {
	URL               string
	DialTimeout       time.Duration
	PingInterval      time.Duration
	ReadTimeout       time.Duration
	ReconnectAttempts int
}

func loadRemoteConfig() (RemoteConfig, error) {
	dialTimeout, err := parseDurationEnv("MANOMITRA_DIAL_TIMEOUT", 10*time.Second)
	if err != nil {
		return RemoteConfig{}, err
	}

	pingInterval, err := parseDurationEnv("MANOMITRA_PING_INTERVAL", 30*time.Second)
	if err != nil {
		return RemoteConfig{}, err
	}

	readTimeout, err := parseDurationEnv("MANOMITRA_READ_TIMEOUT", 0)
	if err != nil {
		return RemoteConfig{}, err
	}
	if readTimeout <= pingInterval {
		// 至少容忍两次 ping 周期
		readTimeout = 2 * pingInterval
	}

	attempts := 3
	if override, err := parseOptionalIntEnv("MANOMITRA_RECONNECT_ATTEMPTS"); err != nil {
		return RemoteConfig{}, err
	} else if override != nil {
		attempts = max(*override, 1)
	}

	return RemoteConfig{
		URL:               getEnvOrDefault("MANOMITRA_SERVER_URL", "ws://localhost:8000/ws/conversation"),
		DialTimeout:       dialTimeout,
		PingInterval:      pingInterval,
		ReadTimeout:       readTimeout,
		ReconnectAttempts: attempts,
	}, nil
}

// AudioConfig 描述录音设备参数。
type AudioConfig struct {
	Device            string
	SampleRate        int
	Channels          int
	MaxCaptureSeconds int
}

func loadAudioConfig() (AudioConfig, error) {
	sampleRate := 16000
	if override, err := parseOptionalIntEnv("MANOMITRA_SAMPLE_RATE"); err != nil {
		return AudioConfig{}, err
	} else if override != nil {
		if *override < 8000 {
			return AudioConfig{}, fmt.Errorf("invalid MANOMITRA_SAMPLE_RATE value %d: must be >= 8000", *override)
		}
		sampleRate = *override
	}

	maxSeconds := 30
	if override, err := parseOptionalIntEnv("MANOMITRA_MAX_CAPTURE_SECONDS"); err != nil {
		return AudioConfig{}, err
	} else if override != nil {
		maxSeconds = max(*override, 1)
	}

	return AudioConfig{
		Device:            getEnvOrDefault("MANOMITRA_DEVICE", "system"),
		SampleRate:        sampleRate,
		Channels:          1,
		MaxCaptureSeconds: maxSeconds,
	}, nil
}

// LogConfig 日志配置。
type LogConfig struct {
	Level  string
	Pretty bool
}

func loadLogConfig() (LogConfig, error) {
	pretty, err := parseBoolEnv("LOG_PRETTY", false)
	if err != nil {
		return LogConfig{}, err
	}
	return LogConfig{Level: getEnvOrDefault("LOG_LEVEL", "info"), Pretty: pretty}, nil
}

func loadSettingsDefaults() (Settings, error) {
	settings := DefaultSettings()

	if raw := strings.TrimSpace(os.Getenv("MANOMITRA_LANGUAGE")); raw != "" {
		lang, ok := protocol.ParseLanguage(raw)
		if !ok {
			return Settings{}, fmt.Errorf("invalid MANOMITRA_LANGUAGE value %q: expected en or te", raw)
		}
		settings.Language = lang
	}

	audioOutput, err := parseBoolEnv("MANOMITRA_AUDIO_OUTPUT", settings.AudioOutputEnabled)
	if err != nil {
		return Settings{}, err
	}
	settings.AudioOutputEnabled = audioOutput

	speed, err := parseOptionalFloatEnv("MANOMITRA_VOICE_SPEED")
	if err != nil {
		return Settings{}, err
	}
	if speed != nil {
		settings.VoiceSpeed = *speed
	}

	return settings.Normalize(), nil
}

// AIConfig 描述开发用对端的大模型配置。
type AIConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	MaxTokens   *int
	// EmotionLLMEnabled 使用大模型做情绪分类，失败时回退到关键词规则。
	EmotionLLMEnabled bool
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("ark credentials or model missing: provide ARK_API_KEY + Model or an AK/SK pair")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	emotionLLM, err := parseBoolEnv("EMOTION_LLM_ENABLED", true)
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:       strings.TrimSpace(os.Getenv("Model")),
		BaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		MaxTokens:   maxTokens,

		EmotionLLMEnabled: emotionLLM,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
