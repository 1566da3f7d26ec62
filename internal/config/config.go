package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type AudioConfig struct {
	InputDevice       string `yaml:"input_device"`
	OutputDevice      string `yaml:"output_device"`
	InputSampleRate   int    `yaml:"input_sample_rate"`
	OutputSampleRate  int    `yaml:"output_sample_rate"`
	Channels          int    `yaml:"channels"`
	CaptureBlockSize  int    `yaml:"capture_block_size"`
	PlaybackBlockSize int    `yaml:"playback_block_size"`
	CaptureQueue      int    `yaml:"capture_queue"`
	PlaybackQueue     int    `yaml:"playback_queue"`
}

type LinkConfig struct {
	APIKey        string `yaml:"api_key"`
	Model         string `yaml:"model"`
	BaseURL       string `yaml:"base_url"`
	Instructions  string `yaml:"instructions"`
	SendTimeoutMS int    `yaml:"send_timeout_ms"`
	MaxRestarts   int    `yaml:"max_restarts"`
}

type RecordingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
	Label   string `yaml:"label"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type Config struct {
	AppName   string          `yaml:"app_name"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Audio     AudioConfig     `yaml:"audio"`
	Link      LinkConfig      `yaml:"link"`
	Recording RecordingConfig `yaml:"recording"`
	Bus       BusConfig       `yaml:"bus"`
	History   HistoryConfig   `yaml:"history"`
}

func Default() Config {
	return Config{
		AppName: "transrouter",
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPInsecure: true,
		},
		Audio: AudioConfig{
			InputSampleRate:   16000,
			OutputSampleRate:  24000,
			Channels:          1,
			CaptureBlockSize:  1600, // 100 ms at 16 kHz
			PlaybackBlockSize: 2400, // 100 ms at 24 kHz
			CaptureQueue:      100,
			PlaybackQueue:     100,
		},
		Link: LinkConfig{
			SendTimeoutMS: 100,
			MaxRestarts:   3,
		},
		Recording: RecordingConfig{
			Enabled: true,
			Dir:     "recordings",
			Label:   "recording",
		},
		Bus: BusConfig{
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		History: HistoryConfig{
			Path: "./data/transrouter-history.db",
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.AppName, "TRANSROUTER_APP_NAME")
	overrideString(&cfg.Telemetry.LogLevel, "TRANSROUTER_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "TRANSROUTER_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "TRANSROUTER_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "TRANSROUTER_TELEMETRY_PROMETHEUS_BIND")
	overrideString(&cfg.Audio.InputDevice, "TRANSROUTER_AUDIO_INPUT_DEVICE")
	overrideString(&cfg.Audio.OutputDevice, "TRANSROUTER_AUDIO_OUTPUT_DEVICE")
	overrideInt(&cfg.Audio.InputSampleRate, "TRANSROUTER_AUDIO_INPUT_SAMPLE_RATE")
	overrideInt(&cfg.Audio.OutputSampleRate, "TRANSROUTER_AUDIO_OUTPUT_SAMPLE_RATE")
	overrideInt(&cfg.Audio.Channels, "TRANSROUTER_AUDIO_CHANNELS")
	overrideInt(&cfg.Audio.CaptureBlockSize, "TRANSROUTER_AUDIO_CAPTURE_BLOCK_SIZE")
	overrideInt(&cfg.Audio.PlaybackBlockSize, "TRANSROUTER_AUDIO_PLAYBACK_BLOCK_SIZE")
	overrideInt(&cfg.Audio.CaptureQueue, "TRANSROUTER_AUDIO_CAPTURE_QUEUE")
	overrideInt(&cfg.Audio.PlaybackQueue, "TRANSROUTER_AUDIO_PLAYBACK_QUEUE")
	// GOOGLE_API_KEY is the conventional variable for the Gemini key; a
	// TRANSROUTER-prefixed override wins when both are set.
	overrideString(&cfg.Link.APIKey, "GOOGLE_API_KEY")
	overrideString(&cfg.Link.APIKey, "TRANSROUTER_LINK_API_KEY")
	overrideString(&cfg.Link.Model, "TRANSROUTER_LINK_MODEL")
	overrideString(&cfg.Link.BaseURL, "TRANSROUTER_LINK_BASE_URL")
	overrideString(&cfg.Link.Instructions, "TRANSROUTER_LINK_INSTRUCTIONS")
	overrideInt(&cfg.Link.SendTimeoutMS, "TRANSROUTER_LINK_SEND_TIMEOUT_MS")
	overrideInt(&cfg.Link.MaxRestarts, "TRANSROUTER_LINK_MAX_RESTARTS")
	overrideBool(&cfg.Recording.Enabled, "TRANSROUTER_RECORDING_ENABLED")
	overrideString(&cfg.Recording.Dir, "TRANSROUTER_RECORDING_DIR")
	overrideString(&cfg.Recording.Label, "TRANSROUTER_RECORDING_LABEL")
	overrideBool(&cfg.Bus.Enabled, "TRANSROUTER_BUS_ENABLED")
	overrideStringSlice(&cfg.Bus.Servers, "TRANSROUTER_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "TRANSROUTER_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "TRANSROUTER_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "TRANSROUTER_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "TRANSROUTER_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "TRANSROUTER_BUS_CONNECT_TIMEOUT_MS")
	overrideBool(&cfg.History.Enabled, "TRANSROUTER_HISTORY_ENABLED")
	overrideString(&cfg.History.Path, "TRANSROUTER_HISTORY_PATH")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

// validate rejects invalid configuration before any hardware or network
// resource is acquired.
func validate(cfg Config) error {
	if cfg.AppName == "" {
		return errors.New("app_name must not be empty")
	}
	if cfg.Audio.InputSampleRate <= 0 {
		return errors.New("audio.input_sample_rate must be positive")
	}
	if cfg.Audio.OutputSampleRate <= 0 {
		return errors.New("audio.output_sample_rate must be positive")
	}
	if cfg.Audio.Channels <= 0 {
		return errors.New("audio.channels must be positive")
	}
	if cfg.Audio.CaptureBlockSize <= 0 {
		return errors.New("audio.capture_block_size must be positive")
	}
	if cfg.Audio.PlaybackBlockSize <= 0 {
		return errors.New("audio.playback_block_size must be positive")
	}
	if cfg.Audio.CaptureQueue <= 0 || cfg.Audio.PlaybackQueue <= 0 {
		return errors.New("audio queue capacities must be positive")
	}
	if cfg.Link.SendTimeoutMS <= 0 {
		return errors.New("link.send_timeout_ms must be positive")
	}
	if cfg.Link.MaxRestarts < 0 {
		return errors.New("link.max_restarts must be >= 0")
	}
	if cfg.Recording.Enabled {
		if cfg.Recording.Dir == "" {
			return errors.New("recording.dir must not be empty when recording is enabled")
		}
		if cfg.Recording.Label == "" {
			return errors.New("recording.label must not be empty when recording is enabled")
		}
	}
	if cfg.Bus.Enabled {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when the bus is enabled")
		}
		if cfg.Bus.ConnectTimeout <= 0 {
			return errors.New("bus.connect_timeout_ms must be positive")
		}
	}
	if cfg.History.Enabled && cfg.History.Path == "" {
		return errors.New("history.path must not be empty when history is enabled")
	}
	return nil
}
