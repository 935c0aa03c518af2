// Package config provides the configuration schema, loader, and validation
// for biosentry's two processes (biometric-authd and biometric-voice).
package config

import "time"

// LogLevel restricts server.log_level to a known set of values.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// IsValid reports whether l is one of the recognised log levels.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError, "":
		return true
	default:
		return false
	}
}

// Config is the root configuration structure shared by both binaries. A
// given deployment typically only populates the sections its process reads,
// but both binaries decode the same schema so a single file can drive both.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Keystore KeystoreConfig `yaml:"keystore"`
	Audit    AuditConfig    `yaml:"audit"`
	Identity IdentityConfig `yaml:"identity"`
	Memory   MemoryConfig   `yaml:"memory"`
	Speech   SpeechConfig   `yaml:"speech"`
	Voice    VoiceConfig    `yaml:"voice"`
	MCP      MCPConfig      `yaml:"mcp"`
	Provider ProvidersConfig `yaml:"providers"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the HTTP address serving /healthz, /readyz, and /metrics.
	ListenAddr string   `yaml:"listen_addr"`
	LogLevel   LogLevel `yaml:"log_level"`
}

// KeystoreConfig configures the RSA keypair and client registry on disk.
type KeystoreConfig struct {
	// Dir is the directory holding keys/private.pem, keys/public.pem, and
	// clients.json.
	Dir string `yaml:"dir"`

	// TokenTTL is the lifetime of issued access tokens. Defaults to 60m.
	TokenTTL time.Duration `yaml:"token_ttl"`

	// ArgonTime, ArgonMemoryKiB, ArgonThreads tune the Argon2id KDF used to
	// hash client secrets.
	ArgonTime      uint32 `yaml:"argon_time"`
	ArgonMemoryKiB uint32 `yaml:"argon_memory_kib"`
	ArgonThreads   uint8  `yaml:"argon_threads"`
}

// AuditConfig configures the append-only audit sink.
type AuditConfig struct {
	Dir             string `yaml:"dir"`
	RetentionDays   int    `yaml:"retention_days"`
	RedactUserName  bool   `yaml:"redact_user_name"`
	QueueCapacity   int    `yaml:"queue_capacity"`
}

// IdentityConfig tunes the identity service's matching and validation policy.
type IdentityConfig struct {
	// DistanceThreshold is the default cosine-distance match cutoff.
	DistanceThreshold float64  `yaml:"distance_threshold"`
	MetadataWhitelist []string `yaml:"metadata_whitelist"`
}

// MemoryConfig configures the pgvector-backed vector index.
type MemoryConfig struct {
	PostgresDSN string `yaml:"postgres_dsn"`
}

// SpeechConfig tunes the speech pipeline (C10).
type SpeechConfig struct {
	SampleRateHz        int           `yaml:"sample_rate_hz"`
	WakeCaptureSeconds  float64       `yaml:"wake_capture_seconds"`
	FreeformCaptureSeconds float64    `yaml:"freeform_capture_seconds"`
	SilenceEnergyThreshold float64    `yaml:"silence_energy_threshold"`
	WhisperModelPath    string        `yaml:"whisper_model_path"`
	WakeWords           []string      `yaml:"wake_words"`
	TransitionDelay     time.Duration `yaml:"transition_delay"`

	// TTSServerURL, TTSSpeakerID, and TTSLanguage configure the HTTP
	// text-to-speech backend (e.g. "http://localhost:5002").
	TTSServerURL string `yaml:"tts_server_url"`
	TTSSpeakerID string `yaml:"tts_speaker_id"`
	TTSLanguage  string `yaml:"tts_language"`
}

// VoiceConfig tunes the voice orchestrators and intent oracle (C11/C12).
type VoiceConfig struct {
	LLMEndpoint  string        `yaml:"llm_endpoint"`
	LLMModel     string        `yaml:"llm_model"`
	LLMTimeout   time.Duration `yaml:"llm_timeout"`
	YesKeywords  []string      `yaml:"yes_keywords"`
	NoKeywords   []string      `yaml:"no_keywords"`
	ToolCallTimeout time.Duration `yaml:"tool_call_timeout"`
}

// MCPConfig describes how the voice process connects to the tool server.
type MCPConfig struct {
	// Command launches the biometric-authd tool server as a stdio subprocess.
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`
}

// ProvidersConfig selects pluggable backends for face embedding and LLM.
type ProvidersConfig struct {
	Face ProviderEntry `yaml:"face"`
	LLM  ProviderEntry `yaml:"llm"`
}

// ProviderEntry is the common configuration block shared by provider kinds.
type ProviderEntry struct {
	Name    string         `yaml:"name"`
	APIKey  string         `yaml:"api_key"`
	BaseURL string         `yaml:"base_url"`
	Model   string         `yaml:"model"`
	Options map[string]any `yaml:"options"`
}

// Default returns a [Config] populated with the documented defaults, to be
// overlaid by whatever a YAML file supplies.
func Default() *Config {
	return &Config{
		Server: ServerConfig{ListenAddr: ":8080", LogLevel: LogLevelInfo},
		Keystore: KeystoreConfig{
			Dir:            "./data/keystore",
			TokenTTL:       60 * time.Minute,
			ArgonTime:      1,
			ArgonMemoryKiB: 64 * 1024,
			ArgonThreads:   4,
		},
		Audit: AuditConfig{
			Dir:           "./data/audit",
			RetentionDays: 30,
			QueueCapacity: 1024,
		},
		Identity: IdentityConfig{
			DistanceThreshold: 0.4,
			MetadataWhitelist: []string{"department", "position", "location", "information", "details", "profile", "data", "notes"},
		},
		Speech: SpeechConfig{
			SampleRateHz:           16000,
			WakeCaptureSeconds:     3.0,
			FreeformCaptureSeconds: 7.0,
			SilenceEnergyThreshold: 300.0,
			WakeWords:              []string{"hey sentry"},
			TransitionDelay:        500 * time.Millisecond,
			TTSLanguage:            "en",
		},
		Voice: VoiceConfig{
			LLMTimeout:      5 * time.Second,
			ToolCallTimeout: 30 * time.Second,
			YesKeywords:     []string{"yes", "yeah", "yep", "correct", "affirmative", "sure"},
			NoKeywords:      []string{"no", "nope", "negative", "cancel", "stop"},
		},
	}
}
