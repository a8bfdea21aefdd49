// Package config loads and exposes application configuration (TOML or YAML).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Default configuration values used when a field is missing in the file.
const (
	DefaultConfigPath           = "config.toml"
	DefaultHTTPAddr             = ":8080"
	DefaultMaxFileSize          = 50 * 1024 * 1024
	DefaultSecureDeleteMaxBytes = 10 * 1024 * 1024
	DefaultVideoPreset          = "medium"
	DefaultVideoCRF             = 23
	DefaultVideoTimeoutSeconds  = 300
	DefaultProbeTimeoutSeconds  = 5
	DefaultFFmpegPath           = "ffmpeg"
	DefaultWorkspacePrefix      = "safesend_"
	DefaultSweepSchedule        = "@every 5m"
	DefaultMaxArtifactAge       = "30m"
	DefaultMaxConcurrentImages  = 4
	DefaultMaxConcurrentVideos  = 1
	DefaultRateLimitPerMinute   = 10
	DefaultDownloadTimeout      = 60
)

// DefaultMaxImagePixels refuses images whose declared dimensions exceed it.
// DefaultImagePixelBudget caps the pixels being re-encoded at once across all
// requests; each image in flight costs about 8 bytes per pixel.
const (
	DefaultMaxImagePixels   = 64_000_000
	DefaultImagePixelBudget = 2 * DefaultMaxImagePixels
)

// Environment variables that override file values.
const (
	EnvConfigPath    = "CONFIG_PATH"
	EnvTelegramToken = "TELEGRAM_BOT_TOKEN"
	EnvJWTSecret     = "SAFESEND_JWT_SECRET"
)

// DefaultImageFormats and DefaultVideoExtensions are the allow-sets used when
// the file does not name any.
var (
	DefaultImageFormats    = []string{"JPEG", "PNG", "WEBP"}
	DefaultVideoExtensions = []string{".mp4", ".mov", ".avi", ".mkv"}
)

var videoPresets = map[string]struct{}{
	"ultrafast": {}, "superfast": {}, "veryfast": {}, "faster": {}, "fast": {},
	"medium": {}, "slow": {}, "slower": {}, "veryslow": {}, "placebo": {},
}

// Config is the root application configuration.
type Config struct {
	Log       LogConfig       `toml:"log" yaml:"log"`
	Sanitizer SanitizerConfig `toml:"sanitizer" yaml:"sanitizer"`
	Workspace WorkspaceConfig `toml:"workspace" yaml:"workspace"`
	Pipeline  PipelineConfig  `toml:"pipeline" yaml:"pipeline"`
	Telegram  TelegramConfig  `toml:"telegram" yaml:"telegram"`
	Server    ServerConfig    `toml:"server" yaml:"server"`
}

// LogConfig holds logging level and format (e.g. level=info, format=text).
type LogConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
}

// SanitizerConfig holds every limit and knob consumed by validation and
// metadata removal.
type SanitizerConfig struct {
	MaxFileSize            int64    `toml:"max_file_size" yaml:"max_file_size"`
	AllowedImageFormats    []string `toml:"allowed_image_formats" yaml:"allowed_image_formats"`
	AllowedVideoExtensions []string `toml:"allowed_video_extensions" yaml:"allowed_video_extensions"`
	SecureDelete           bool     `toml:"secure_delete" yaml:"secure_delete"`
	SecureDeleteMaxBytes   int64    `toml:"secure_delete_max_bytes" yaml:"secure_delete_max_bytes"`
	VideoPreset            string   `toml:"video_preset" yaml:"video_preset"`
	VideoCRF               int      `toml:"video_crf" yaml:"video_crf"`
	VideoTimeoutSeconds    int      `toml:"video_timeout_seconds" yaml:"video_timeout_seconds"`
	FFmpegPath             string   `toml:"ffmpeg_path" yaml:"ffmpeg_path"`
	ProbeTimeoutSeconds    int      `toml:"probe_timeout_seconds" yaml:"probe_timeout_seconds"`
	MaxImagePixels         int64    `toml:"max_image_pixels" yaml:"max_image_pixels"`
	ImagePixelBudget       int64    `toml:"image_pixel_budget" yaml:"image_pixel_budget"`
}

// VideoTimeout returns the wall-clock limit for one re-encode.
func (c SanitizerConfig) VideoTimeout() time.Duration {
	return time.Duration(c.VideoTimeoutSeconds) * time.Second
}

// ProbeTimeout returns the limit for the tool availability check.
func (c SanitizerConfig) ProbeTimeout() time.Duration {
	if c.ProbeTimeoutSeconds <= 0 {
		return DefaultProbeTimeoutSeconds * time.Second
	}
	return time.Duration(c.ProbeTimeoutSeconds) * time.Second
}

// ImageFormatSet returns the allowed image formats, upper-cased.
func (c SanitizerConfig) ImageFormatSet() map[string]struct{} {
	set := make(map[string]struct{}, len(c.AllowedImageFormats))
	for _, f := range c.AllowedImageFormats {
		f = strings.ToUpper(strings.TrimSpace(f))
		if f != "" {
			set[f] = struct{}{}
		}
	}
	return set
}

// VideoExtensionSet returns the allowed video extensions, lower-cased with a
// leading dot.
func (c SanitizerConfig) VideoExtensionSet() map[string]struct{} {
	set := make(map[string]struct{}, len(c.AllowedVideoExtensions))
	for _, ext := range c.AllowedVideoExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		set[ext] = struct{}{}
	}
	return set
}

// WorkspaceConfig controls where request artifacts are materialized and how
// orphans are swept.
type WorkspaceConfig struct {
	// Dir is an explicit workspace directory; empty means a fresh random
	// directory under the system temp root.
	Dir            string `toml:"dir" yaml:"dir"`
	Prefix         string `toml:"prefix" yaml:"prefix"`
	SweepSchedule  string `toml:"sweep_schedule" yaml:"sweep_schedule"`
	MaxArtifactAge string `toml:"max_artifact_age" yaml:"max_artifact_age"`
}

// ArtifactAge parses MaxArtifactAge. Zero disables sweeping.
func (c WorkspaceConfig) ArtifactAge() (time.Duration, error) {
	if strings.TrimSpace(c.MaxArtifactAge) == "" {
		return 0, nil
	}
	return time.ParseDuration(c.MaxArtifactAge)
}

// PipelineConfig bounds how many transforms of each kind run at once.
type PipelineConfig struct {
	MaxConcurrentImages int64 `toml:"max_concurrent_images" yaml:"max_concurrent_images"`
	MaxConcurrentVideos int64 `toml:"max_concurrent_videos" yaml:"max_concurrent_videos"`
}

// TelegramConfig holds the bot token and per-chat throttling.
type TelegramConfig struct {
	BotToken               string `toml:"bot_token" yaml:"bot_token"`
	RateLimitPerMinute     int    `toml:"rate_limit_per_minute" yaml:"rate_limit_per_minute"`
	DownloadTimeoutSeconds int    `toml:"download_timeout_seconds" yaml:"download_timeout_seconds"`
}

// Enabled reports whether a usable token is configured.
func (c TelegramConfig) Enabled() bool {
	token := strings.TrimSpace(c.BotToken)
	return token != "" && token != "YOUR_BOT_TOKEN_HERE"
}

// DownloadTimeout returns the limit for fetching one file from Telegram.
func (c TelegramConfig) DownloadTimeout() time.Duration {
	if c.DownloadTimeoutSeconds <= 0 {
		return DefaultDownloadTimeout * time.Second
	}
	return time.Duration(c.DownloadTimeoutSeconds) * time.Second
}

// ServerConfig holds the HTTP listen address and optional JWT secret.
type ServerConfig struct {
	Enabled   bool   `toml:"enabled" yaml:"enabled"`
	Addr      string `toml:"addr" yaml:"addr"`
	JWTSecret string `toml:"jwt_secret" yaml:"jwt_secret"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Sanitizer: SanitizerConfig{
			MaxFileSize:            DefaultMaxFileSize,
			AllowedImageFormats:    append([]string(nil), DefaultImageFormats...),
			AllowedVideoExtensions: append([]string(nil), DefaultVideoExtensions...),
			SecureDelete:           true,
			SecureDeleteMaxBytes:   DefaultSecureDeleteMaxBytes,
			VideoPreset:            DefaultVideoPreset,
			VideoCRF:               DefaultVideoCRF,
			VideoTimeoutSeconds:    DefaultVideoTimeoutSeconds,
			FFmpegPath:             DefaultFFmpegPath,
			ProbeTimeoutSeconds:    DefaultProbeTimeoutSeconds,
			MaxImagePixels:         DefaultMaxImagePixels,
			ImagePixelBudget:       DefaultImagePixelBudget,
		},
		Workspace: WorkspaceConfig{
			Prefix:         DefaultWorkspacePrefix,
			SweepSchedule:  DefaultSweepSchedule,
			MaxArtifactAge: DefaultMaxArtifactAge,
		},
		Pipeline: PipelineConfig{
			MaxConcurrentImages: DefaultMaxConcurrentImages,
			MaxConcurrentVideos: DefaultMaxConcurrentVideos,
		},
		Telegram: TelegramConfig{
			RateLimitPerMinute:     DefaultRateLimitPerMinute,
			DownloadTimeoutSeconds: DefaultDownloadTimeout,
		},
		Server: ServerConfig{
			Enabled: true,
			Addr:    DefaultHTTPAddr,
		},
	}
}

// Load reads and parses the config file at path and applies default values
// for missing fields. A missing file is not an error. Environment overrides
// are applied last.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			applyEnv(&cfg)
			return cfg, nil
		}
		return cfg, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("decode yaml: %w", err)
		}
	default:
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, err
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if token := strings.TrimSpace(os.Getenv(EnvTelegramToken)); token != "" {
		cfg.Telegram.BotToken = token
	}
	if secret := strings.TrimSpace(os.Getenv(EnvJWTSecret)); secret != "" {
		cfg.Server.JWTSecret = secret
	}
}

// Validate rejects values the sanitizer cannot run with.
func (c Config) Validate() error {
	var errs []error
	s := c.Sanitizer
	if s.MaxFileSize <= 0 {
		errs = append(errs, errors.New("sanitizer.max_file_size must be positive"))
	}
	if len(s.ImageFormatSet()) == 0 {
		errs = append(errs, errors.New("sanitizer.allowed_image_formats is empty"))
	}
	if len(s.VideoExtensionSet()) == 0 {
		errs = append(errs, errors.New("sanitizer.allowed_video_extensions is empty"))
	}
	if _, ok := videoPresets[strings.ToLower(s.VideoPreset)]; !ok {
		errs = append(errs, fmt.Errorf("sanitizer.video_preset %q is not a known preset", s.VideoPreset))
	}
	if s.VideoCRF < 0 || s.VideoCRF > 51 {
		errs = append(errs, fmt.Errorf("sanitizer.video_crf %d out of range 0..51", s.VideoCRF))
	}
	if s.VideoTimeoutSeconds <= 0 {
		errs = append(errs, errors.New("sanitizer.video_timeout_seconds must be positive"))
	}
	if s.MaxImagePixels <= 0 {
		errs = append(errs, errors.New("sanitizer.max_image_pixels must be positive"))
	} else if s.ImagePixelBudget < s.MaxImagePixels {
		errs = append(errs, errors.New("sanitizer.image_pixel_budget must be at least max_image_pixels"))
	}
	if strings.TrimSpace(s.FFmpegPath) == "" {
		errs = append(errs, errors.New("sanitizer.ffmpeg_path is empty"))
	}
	if _, err := c.Workspace.ArtifactAge(); err != nil {
		errs = append(errs, fmt.Errorf("workspace.max_artifact_age: %w", err))
	}
	if c.Pipeline.MaxConcurrentImages <= 0 || c.Pipeline.MaxConcurrentVideos <= 0 {
		errs = append(errs, errors.New("pipeline concurrency limits must be positive"))
	}
	return errors.Join(errs...)
}
