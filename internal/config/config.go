package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config represents the main application configuration structure
// containing all configuration sections
type Config struct {
	Server      ServerConfig      `toml:"server"`      // HTTP server settings
	Logging     LoggingConfig     `toml:"logging"`     // Application logging settings
	Extractor   ExtractorConfig   `toml:"extractor"`   // Audio extraction settings
	Artifact    ArtifactConfig    `toml:"artifact"`    // Durable object storage settings
	Speech      SpeechConfig      `toml:"speech"`      // Speech recognition job settings
	Diarization DiarizationConfig `toml:"diarization"` // Transcript reduction settings
	Storage     StorageConfig     `toml:"storage"`     // Submission ledger settings
	WebSocket   WebSocketConfig   `toml:"websocket"`   // Event stream settings
}

// ServerConfig contains HTTP server configuration settings
type ServerConfig struct {
	Port               int      `toml:"port"`                  // HTTP port for the server
	Host               string   `toml:"host"`                  // Host address to bind to (e.g., 127.0.0.1 for localhost only, 0.0.0.0 for all interfaces)
	CORSAllowedOrigins []string `toml:"cors_allowed_origins"`  // List of origins allowed for CORS requests (use ["*"] for all origins)
	ReadTimeoutSecs    int      `toml:"read_timeout_seconds"`  // Maximum duration for reading the entire request (0 = no timeout)
	WriteTimeoutSecs   int      `toml:"write_timeout_seconds"` // Maximum duration for writing the response (0 = no timeout, extraction can take minutes)
	IdleTimeoutSecs    int      `toml:"idle_timeout_seconds"`  // Maximum duration to wait for the next request when keep-alives are enabled
}

// LoggingConfig contains application logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`  // Log level: "debug", "info", "warn", or "error"
	Format string `toml:"format"` // Log format: "json" (structured) or "console" (human-readable)
}

// ExtractorConfig contains settings for turning a source URL into a local audio file
type ExtractorConfig struct {
	// Backend selection
	// Allowed values:
	// - "ytdlp": run the yt-dlp executable (supports cookies and every site yt-dlp knows)
	// - "native": download the audio stream in-process and transcode it with ffmpeg (YouTube only)
	Backend string `toml:"backend"`

	YTDLPPath    string `toml:"ytdlp_path"`     // Path to the yt-dlp executable
	FFmpegPath   string `toml:"ffmpeg_path"`    // Path to the ffmpeg executable (native backend)
	CookiesPath  string `toml:"cookies_path"`   // Optional Netscape cookie file for sites that require a login
	ScratchDir   string `toml:"scratch_dir"`    // Local directory for transient audio files
	SampleRateHz int    `toml:"sample_rate_hz"` // Output sample rate in Hz (mono)
	AudioQuality string `toml:"audio_quality"`  // yt-dlp --audio-quality value (0 = best VBR, 10 = worst)
	BitrateKbps  int    `toml:"bitrate_kbps"`   // MP3 bitrate for the native backend

	TimeoutSeconds int `toml:"timeout_seconds"` // Deadline for one extraction (0 = no deadline)
}

// ArtifactConfig contains durable storage settings for extracted audio
type ArtifactConfig struct {
	// Backend selection: "gcs" (Google Cloud Storage) or "local" (directory, development only)
	Backend string `toml:"backend"`

	Bucket          string `toml:"bucket"`           // GCS bucket name
	ProjectID       string `toml:"project_id"`       // Google Cloud project ID
	CredentialsPath string `toml:"credentials_path"` // Optional service account JSON (defaults to application default credentials)
	LocalDir        string `toml:"local_dir"`        // Target directory for the local backend
	ContentType     string `toml:"content_type"`     // Content type recorded on uploaded objects

	TimeoutSeconds int `toml:"timeout_seconds"` // Deadline for one upload (0 = no deadline)
}

// SpeechConfig contains settings for long-running recognition jobs
type SpeechConfig struct {
	CredentialsPath          string   `toml:"credentials_path"`           // Optional service account JSON (defaults to application default credentials)
	Encoding                 string   `toml:"encoding"`                   // Audio encoding name understood by the speech API (e.g., "MP3")
	SampleRateHz             int      `toml:"sample_rate_hz"`             // Sample rate declared to the recognizer (0 = extractor rate, otherwise must equal it)
	LanguageCode             string   `toml:"language_code"`              // Primary BCP-47 language code
	AlternativeLanguageCodes []string `toml:"alternative_language_codes"` // Additional languages the recognizer may detect
	EnablePunctuation        bool     `toml:"enable_punctuation"`         // Insert punctuation into transcripts
	EnableDiarization        bool     `toml:"enable_diarization"`         // Attribute words to speakers
	SpeakerCount             int      `toml:"speaker_count"`              // Expected number of speakers (0 = let the service decide)
	Model                    string   `toml:"model"`                      // Recognition model (e.g., "latest_long")

	TimeoutSeconds int `toml:"timeout_seconds"` // Deadline for one submission or status round trip (0 = no deadline)
}

// DiarizationConfig controls how speaker tags become transcript labels
type DiarizationConfig struct {
	// TagZero decides what speaker tag 0 means:
	// - "speaker": tag 0 is the first speaker and is labelled "Speaker 1"
	// - "unattributed": tag 0 means no attribution and gets UnattributedLabel
	TagZero           string `toml:"tag_zero"`
	UnattributedLabel string `toml:"unattributed_label"` // Label for tag 0 when TagZero is "unattributed"
}

// StorageConfig contains submission ledger configuration
type StorageConfig struct {
	Enabled    bool   `toml:"enabled"`     // Record submissions in SQLite
	SQLitePath string `toml:"sqlite_path"` // Database file path
}

// WebSocketConfig contains event stream configuration
type WebSocketConfig struct {
	Enabled bool `toml:"enabled"` // Serve pipeline events on /ws
}

// Tag-zero policies
const (
	TagZeroSpeaker      = "speaker"
	TagZeroUnattributed = "unattributed"
)

// Default returns the baseline configuration used when a setting is absent
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:               8080,
			Host:               "0.0.0.0",
			CORSAllowedOrigins: []string{"*"},
			ReadTimeoutSecs:    30,
			IdleTimeoutSecs:    120,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Extractor: ExtractorConfig{
			Backend:        "ytdlp",
			YTDLPPath:      "yt-dlp",
			FFmpegPath:     "ffmpeg",
			SampleRateHz:   22050,
			AudioQuality:   "5",
			BitrateKbps:    64,
			TimeoutSeconds: 900,
		},
		Artifact: ArtifactConfig{
			Backend:        "gcs",
			Bucket:         "kavisha_audio_training",
			ContentType:    "audio/mpeg",
			TimeoutSeconds: 300,
		},
		Speech: SpeechConfig{
			Encoding:                 "MP3",
			LanguageCode:             "en-US",
			AlternativeLanguageCodes: []string{"en-IN", "hi-IN"},
			EnablePunctuation:        true,
			EnableDiarization:        true,
			Model:                    "latest_long",
			TimeoutSeconds:           60,
		},
		Diarization: DiarizationConfig{
			TagZero:           TagZeroSpeaker,
			UnattributedLabel: "Unattributed",
		},
		Storage: StorageConfig{
			SQLitePath: "data/jobs.db",
		},
	}
}

// Load loads the configuration from the specified file path on top of the defaults
func Load(path string) (*Config, error) {
	config := Default()

	// Check if the file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	// Read the config file
	if _, err := toml.DecodeFile(path, config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	return config, nil
}

// LoadWithFallback loads the configuration by checking multiple locations in order of preference.
// When no file exists anywhere the defaults are used, so an environment-only deployment still starts.
func LoadWithFallback(preferredPath string) (*Config, error) {
	// List of paths to check in order of preference
	searchPaths := []string{
		preferredPath,         // User-specified path (if provided)
		"configs/config.toml", // configs/ folder
		"config.toml",         // Root directory
	}

	// Remove duplicates while preserving order
	uniquePaths := make([]string, 0, len(searchPaths))
	seen := make(map[string]bool)
	for _, path := range searchPaths {
		if path != "" && !seen[path] {
			uniquePaths = append(uniquePaths, path)
			seen[path] = true
		}
	}

	for _, path := range uniquePaths {
		if _, err := os.Stat(path); err == nil {
			config, err := Load(path)
			if err != nil {
				return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
			}
			config.ApplyEnv(os.LookupEnv)
			return config, nil
		}
	}

	// An explicitly requested file must exist
	if preferredPath != "" {
		return nil, fmt.Errorf("config file not found: %s", preferredPath)
	}

	config := Default()
	config.ApplyEnv(os.LookupEnv)
	return config, nil
}

// ApplyEnv overrides file values with the environment variables existing deployments already set
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup("BUCKET_NAME"); ok && v != "" {
		c.Artifact.Bucket = v
	}
	if v, ok := lookup("GOOGLE_CLOUD_PROJECT_ID"); ok && v != "" {
		c.Artifact.ProjectID = v
	}
	if v, ok := lookup("PORT"); ok && v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v, ok := lookup("COOKIES_PATH"); ok && v != "" {
		c.Extractor.CookiesPath = v
	}
	// One service account serves both the bucket and the recognizer
	if v, ok := lookup("GOOGLE_APPLICATION_CREDENTIALS"); ok && v != "" {
		c.Artifact.CredentialsPath = v
		c.Speech.CredentialsPath = v
	}
}

// Validate validates the configuration and fills in defaults for zero values
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.ReadTimeoutSecs < 0 || c.Server.WriteTimeoutSecs < 0 || c.Server.IdleTimeoutSecs < 0 {
		return fmt.Errorf("server timeouts must be >= 0")
	}

	// Validate logging config
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		// Valid log level
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "json", "console":
		// Valid log format
	default:
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	if err := c.ValidateExtractor(); err != nil {
		return err
	}
	if err := c.ValidateArtifact(); err != nil {
		return err
	}
	if err := c.ValidateSpeech(); err != nil {
		return err
	}
	if err := c.ValidateDiarization(); err != nil {
		return err
	}

	if c.Storage.Enabled && c.Storage.SQLitePath == "" {
		return fmt.Errorf("sqlite_path is required when storage is enabled")
	}

	return nil
}

// ValidateExtractor validates the extraction configuration
func (c *Config) ValidateExtractor() error {
	if c.Extractor.Backend == "" {
		c.Extractor.Backend = "ytdlp"
	}
	switch c.Extractor.Backend {
	case "ytdlp":
		if c.Extractor.YTDLPPath == "" {
			c.Extractor.YTDLPPath = "yt-dlp"
		}
	case "native":
		if c.Extractor.FFmpegPath == "" {
			c.Extractor.FFmpegPath = "ffmpeg"
		}
		if c.Extractor.BitrateKbps <= 0 {
			c.Extractor.BitrateKbps = 64
		}
	default:
		return fmt.Errorf("invalid extractor backend: %s (must be 'ytdlp' or 'native')", c.Extractor.Backend)
	}

	if c.Extractor.ScratchDir == "" {
		c.Extractor.ScratchDir = os.TempDir()
	}
	if c.Extractor.SampleRateHz <= 0 {
		return fmt.Errorf("invalid extractor sample_rate_hz: %d", c.Extractor.SampleRateHz)
	}
	if c.Extractor.AudioQuality == "" {
		c.Extractor.AudioQuality = "5"
	}
	if c.Extractor.TimeoutSeconds < 0 {
		return fmt.Errorf("invalid extractor timeout_seconds: %d (must be >= 0)", c.Extractor.TimeoutSeconds)
	}
	return nil
}

// ValidateArtifact validates the artifact store configuration
func (c *Config) ValidateArtifact() error {
	switch c.Artifact.Backend {
	case "gcs":
		if c.Artifact.Bucket == "" {
			return fmt.Errorf("artifact bucket is required when backend is gcs")
		}
	case "local":
		if c.Artifact.LocalDir == "" {
			return fmt.Errorf("artifact local_dir is required when backend is local")
		}
	default:
		return fmt.Errorf("invalid artifact backend: %s (must be 'gcs' or 'local')", c.Artifact.Backend)
	}
	if c.Artifact.ContentType == "" {
		c.Artifact.ContentType = "audio/mpeg"
	}
	if c.Artifact.TimeoutSeconds < 0 {
		return fmt.Errorf("invalid artifact timeout_seconds: %d (must be >= 0)", c.Artifact.TimeoutSeconds)
	}
	return nil
}

// ValidateSpeech validates the recognition configuration
func (c *Config) ValidateSpeech() error {
	if c.Speech.Encoding == "" {
		return fmt.Errorf("speech encoding is required")
	}
	c.Speech.Encoding = strings.ToUpper(c.Speech.Encoding)
	// The recognizer must be told the rate the extractor actually wrote
	if c.Speech.SampleRateHz <= 0 {
		c.Speech.SampleRateHz = c.Extractor.SampleRateHz
	} else if c.Speech.SampleRateHz != c.Extractor.SampleRateHz {
		return fmt.Errorf("speech sample_rate_hz %d does not match extractor sample_rate_hz %d",
			c.Speech.SampleRateHz, c.Extractor.SampleRateHz)
	}
	if c.Speech.LanguageCode == "" {
		return fmt.Errorf("speech language_code is required")
	}
	if c.Speech.SpeakerCount < 0 {
		return fmt.Errorf("invalid speech speaker_count: %d (must be >= 0)", c.Speech.SpeakerCount)
	}
	if c.Speech.TimeoutSeconds < 0 {
		return fmt.Errorf("invalid speech timeout_seconds: %d (must be >= 0)", c.Speech.TimeoutSeconds)
	}
	return nil
}

// ValidateDiarization validates the transcript reduction configuration
func (c *Config) ValidateDiarization() error {
	if c.Diarization.TagZero == "" {
		c.Diarization.TagZero = TagZeroSpeaker
	}
	switch c.Diarization.TagZero {
	case TagZeroSpeaker, TagZeroUnattributed:
	default:
		return fmt.Errorf("invalid diarization tag_zero: %s (must be 'speaker' or 'unattributed')", c.Diarization.TagZero)
	}
	if c.Diarization.UnattributedLabel == "" {
		c.Diarization.UnattributedLabel = "Unattributed"
	}
	return nil
}
