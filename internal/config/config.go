package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type DaemonConfig struct {
	SocketPath   string `yaml:"socket_path"`
	MaxTextChars int    `yaml:"max_text_chars"`
}

type ModelsConfig struct {
	Dir       string `yaml:"dir"`
	Extension string `yaml:"extension"`
}

type EngineConfig struct {
	Mode       string      `yaml:"mode"` // mock, exec
	Command    string      `yaml:"command"`
	SampleRate int         `yaml:"sample_rate"`
	MockModels []MockModel `yaml:"mock_models"`
}

// MockModel describes one synthetic voice model for mock-mode development.
type MockModel struct {
	ID     uint32   `yaml:"id"`
	Name   string   `yaml:"name"`
	Styles []uint32 `yaml:"styles"`
}

type SegmentConfig struct {
	Delimiters     string `yaml:"delimiters"`
	SoftDelimiters string `yaml:"soft_delimiters"`
	MaxLen         int    `yaml:"max_len"`
}

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HistoryConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxRequests   int    `yaml:"max_requests"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type EventsConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type RPCConfig struct {
	RateMin      float64 `yaml:"rate_min"`
	RateMax      float64 `yaml:"rate_max"`
	SegmentGapMS int     `yaml:"segment_gap_ms"`
	OutputDir    string  `yaml:"output_dir"`
}

type Config struct {
	DaemonName  string          `yaml:"daemon_name"`
	Environment string          `yaml:"environment"`
	Daemon      DaemonConfig    `yaml:"daemon"`
	Models      ModelsConfig    `yaml:"models"`
	Engine      EngineConfig    `yaml:"engine"`
	Segment     SegmentConfig   `yaml:"segment"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	History     HistoryConfig   `yaml:"history"`
	Events      EventsConfig    `yaml:"events"`
	RPC         RPCConfig       `yaml:"rpc"`
}

func Default() Config {
	return Config{
		DaemonName:  "hibikid",
		Environment: "development",
		Daemon: DaemonConfig{
			SocketPath:   "",
			MaxTextChars: 5000,
		},
		Models: ModelsConfig{
			Dir:       "./models",
			Extension: ".hvm",
		},
		Engine: EngineConfig{
			Mode:       "mock",
			SampleRate: 24000,
		},
		Segment: SegmentConfig{
			Delimiters:     "。！？!?.",
			SoftDelimiters: "、, ",
			MaxLen:         200,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: "",
		},
		History: HistoryConfig{
			Path:          "./data/hibiki-history.db",
			RetentionMode: "ephemeral",
			RetentionDays: 30,
			MaxRequests:   10000,
		},
		Events: EventsConfig{
			Enabled:        false,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		RPC: RPCConfig{
			RateMin:      0.5,
			RateMax:      2.0,
			SegmentGapMS: 0,
			OutputDir:    "",
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
	overrideString(&cfg.DaemonName, "HIBIKI_DAEMON_NAME")
	overrideString(&cfg.Environment, "HIBIKI_ENVIRONMENT")
	overrideString(&cfg.Daemon.SocketPath, "HIBIKI_SOCKET_PATH")
	overrideInt(&cfg.Daemon.MaxTextChars, "HIBIKI_MAX_TEXT_CHARS")
	overrideString(&cfg.Models.Dir, "HIBIKI_MODELS_DIR")
	overrideString(&cfg.Models.Extension, "HIBIKI_MODELS_EXTENSION")
	overrideString(&cfg.Engine.Mode, "HIBIKI_ENGINE_MODE")
	overrideString(&cfg.Engine.Command, "HIBIKI_ENGINE_COMMAND")
	overrideInt(&cfg.Engine.SampleRate, "HIBIKI_ENGINE_SAMPLE_RATE")
	overrideString(&cfg.Segment.Delimiters, "HIBIKI_SEGMENT_DELIMITERS")
	overrideString(&cfg.Segment.SoftDelimiters, "HIBIKI_SEGMENT_SOFT_DELIMITERS")
	overrideInt(&cfg.Segment.MaxLen, "HIBIKI_SEGMENT_MAX_LEN")
	overrideString(&cfg.Telemetry.LogLevel, "HIBIKI_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "HIBIKI_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "HIBIKI_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "HIBIKI_TELEMETRY_PROMETHEUS_BIND")
	overrideString(&cfg.History.Path, "HIBIKI_HISTORY_PATH")
	overrideString(&cfg.History.RetentionMode, "HIBIKI_HISTORY_RETENTION_MODE")
	overrideInt(&cfg.History.RetentionDays, "HIBIKI_HISTORY_RETENTION_DAYS")
	overrideInt(&cfg.History.MaxRequests, "HIBIKI_HISTORY_MAX_REQUESTS")
	overrideBool(&cfg.History.VacuumOnStart, "HIBIKI_HISTORY_VACUUM_ON_START")
	overrideBool(&cfg.Events.Enabled, "HIBIKI_EVENTS_ENABLED")
	overrideStringSlice(&cfg.Events.Servers, "HIBIKI_EVENTS_SERVERS")
	overrideString(&cfg.Events.Username, "HIBIKI_EVENTS_USERNAME")
	overrideString(&cfg.Events.Password, "HIBIKI_EVENTS_PASSWORD")
	overrideString(&cfg.Events.Token, "HIBIKI_EVENTS_TOKEN")
	overrideInt(&cfg.Events.ConnectTimeout, "HIBIKI_EVENTS_CONNECT_TIMEOUT_MS")
	overrideFloat(&cfg.RPC.RateMin, "HIBIKI_RPC_RATE_MIN")
	overrideFloat(&cfg.RPC.RateMax, "HIBIKI_RPC_RATE_MAX")
	overrideInt(&cfg.RPC.SegmentGapMS, "HIBIKI_RPC_SEGMENT_GAP_MS")
	overrideString(&cfg.RPC.OutputDir, "HIBIKI_RPC_OUTPUT_DIR")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = strings.TrimSpace(value)
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			*target = out
		}
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			*target = parsed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	switch cfg.Engine.Mode {
	case "mock":
	case "exec":
		if strings.TrimSpace(cfg.Engine.Command) == "" {
			return fmt.Errorf("engine.command is required when engine.mode is %q", cfg.Engine.Mode)
		}
	default:
		return fmt.Errorf("unsupported engine.mode %q", cfg.Engine.Mode)
	}
	if cfg.Daemon.MaxTextChars <= 0 {
		return fmt.Errorf("daemon.max_text_chars must be positive, got %d", cfg.Daemon.MaxTextChars)
	}
	if cfg.Segment.MaxLen <= 0 {
		return fmt.Errorf("segment.max_len must be positive, got %d", cfg.Segment.MaxLen)
	}
	if cfg.Segment.Delimiters == "" {
		return fmt.Errorf("segment.delimiters must not be empty")
	}
	switch cfg.History.RetentionMode {
	case "ephemeral", "persistent":
	default:
		return fmt.Errorf("unsupported history.retention_mode %q", cfg.History.RetentionMode)
	}
	if cfg.RPC.RateMin <= 0 || cfg.RPC.RateMax < cfg.RPC.RateMin {
		return fmt.Errorf("rpc rate bounds invalid: min=%v max=%v", cfg.RPC.RateMin, cfg.RPC.RateMax)
	}
	if cfg.Events.Enabled && len(cfg.Events.Servers) == 0 {
		return fmt.Errorf("events.servers must not be empty when events are enabled")
	}
	return nil
}
