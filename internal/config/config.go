package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config captures the rendering, overlay, and export configuration for a
// storyreel project.
type Config struct {
	Version  int            `yaml:"version"`
	Video    VideoConfig    `yaml:"video"`
	Audio    AudioConfig    `yaml:"audio"`
	Render   RenderConfig   `yaml:"render"`
	Overlays OverlaysConfig `yaml:"overlays"`
	Brand    BrandConfig    `yaml:"brand"`
}

// VideoConfig contains output sizing, framerate, and encoding parameters.
type VideoConfig struct {
	Resolution  string `yaml:"resolution"` // 480p, 720p, 1080p
	FPS         int    `yaml:"fps"`
	BitrateKbps int    `yaml:"bitrate_kbps"`
	Codec       string `yaml:"codec"` // h264 or h265
}

// AudioConfig describes audio encoding and mixing parameters.
type AudioConfig struct {
	ACodec      string  `yaml:"acodec"`
	BitrateKbps int     `yaml:"bitrate_kbps"`
	SampleRate  int     `yaml:"sample_rate"`
	MusicVolume float64 `yaml:"music_volume"`
}

// RenderConfig bounds pre-render concurrency and external process lifetimes.
type RenderConfig struct {
	MaxConcurrentSegments int `yaml:"max_concurrent_segments"`
	OverlayBatchSize      int `yaml:"overlay_batch_size"`
	OverlayTimeoutSec     int `yaml:"overlay_timeout_s"`
	SegmentTimeoutSec     int `yaml:"segment_timeout_s"`
	ExportTimeoutSec      int `yaml:"export_timeout_s"`
}

// OverlaysConfig groups per-kind overlay styling.
type OverlaysConfig struct {
	EnableCaptions *bool        `yaml:"enable_captions,omitempty"`
	EnableCredits  *bool        `yaml:"enable_credits,omitempty"`
	FontFile       string       `yaml:"font_file"`
	Caption        OverlayStyle `yaml:"caption"`
	Credit         OverlayStyle `yaml:"credit"`
}

// OverlayStyle describes one overlay kind's appearance and animation.
type OverlayStyle struct {
	FontSize   int     `yaml:"font_size"`
	FontColor  string  `yaml:"font_color"`
	BarColor   string  `yaml:"bar_color"`
	BarOpacity float64 `yaml:"bar_opacity"`
	FadeInSec  float64 `yaml:"fade_in_s"`
	FadeOutSec float64 `yaml:"fade_out_s"`
}

// BrandConfig controls the corner branding mark on exports.
type BrandConfig struct {
	Text      string `yaml:"text"`
	ImageFile string `yaml:"image_file"`
	Corner    string `yaml:"corner"` // top-right, top-left, bottom-right, bottom-left
}

// CaptionsEnabled returns the effective caption flag applying defaults.
func (o OverlaysConfig) CaptionsEnabled() bool {
	if o.EnableCaptions == nil {
		return true
	}
	return *o.EnableCaptions
}

// CreditsEnabled returns the effective credit flag applying defaults.
func (o OverlaysConfig) CreditsEnabled() bool {
	if o.EnableCredits == nil {
		return true
	}
	return *o.EnableCredits
}

// Dimensions maps the resolution name to pixel width and height.
func (v VideoConfig) Dimensions() (int, int) {
	switch strings.ToLower(strings.TrimSpace(v.Resolution)) {
	case "480p":
		return 854, 480
	case "720p":
		return 1280, 720
	default:
		return 1920, 1080
	}
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Version: 1,
		Video: VideoConfig{
			Resolution:  "1080p",
			FPS:         30,
			BitrateKbps: 8000,
			Codec:       "h264",
		},
		Audio: AudioConfig{
			ACodec:      "aac",
			BitrateKbps: 192,
			SampleRate:  48000,
			MusicVolume: 1.0,
		},
		Render: RenderConfig{
			MaxConcurrentSegments: 1,
			OverlayBatchSize:      3,
			OverlayTimeoutSec:     60,
			SegmentTimeoutSec:     300,
			ExportTimeoutSec:      3600,
		},
		Overlays: OverlaysConfig{
			EnableCaptions: boolPtr(true),
			EnableCredits:  boolPtr(true),
			Caption: OverlayStyle{
				FontSize:   48,
				FontColor:  "white",
				BarColor:   "black",
				BarOpacity: 0.55,
				FadeInSec:  0.4,
				FadeOutSec: 0.4,
			},
			Credit: OverlayStyle{
				FontSize:   28,
				FontColor:  "white",
				BarColor:   "black",
				BarOpacity: 0.4,
				FadeInSec:  0.25,
				FadeOutSec: 0.25,
			},
		},
		Brand: BrandConfig{
			Corner: "top-right",
		},
	}
}

// Load reads the YAML configuration from disk if it exists, otherwise returns
// the default configuration.
func Load(path string) (Config, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := Default()
			cfg.ApplyDefaults()
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyDefaults ensures nested fields fall back to sensible defaults when the
// YAML omits them.
func (c *Config) ApplyDefaults() {
	defaults := Default()

	if c.Version == 0 {
		c.Version = defaults.Version
	}
	if strings.TrimSpace(c.Video.Resolution) == "" {
		c.Video.Resolution = defaults.Video.Resolution
	}
	if c.Video.FPS == 0 {
		c.Video.FPS = defaults.Video.FPS
	}
	if c.Video.BitrateKbps == 0 {
		c.Video.BitrateKbps = defaults.Video.BitrateKbps
	}
	if strings.TrimSpace(c.Video.Codec) == "" {
		c.Video.Codec = defaults.Video.Codec
	}
	if c.Audio.ACodec == "" {
		c.Audio.ACodec = defaults.Audio.ACodec
	}
	if c.Audio.BitrateKbps == 0 {
		c.Audio.BitrateKbps = defaults.Audio.BitrateKbps
	}
	if c.Audio.SampleRate == 0 {
		c.Audio.SampleRate = defaults.Audio.SampleRate
	}
	if c.Audio.MusicVolume == 0 {
		c.Audio.MusicVolume = defaults.Audio.MusicVolume
	}
	if c.Render.MaxConcurrentSegments == 0 {
		c.Render.MaxConcurrentSegments = defaults.Render.MaxConcurrentSegments
	}
	if c.Render.OverlayBatchSize == 0 {
		c.Render.OverlayBatchSize = defaults.Render.OverlayBatchSize
	}
	if c.Render.OverlayTimeoutSec == 0 {
		c.Render.OverlayTimeoutSec = defaults.Render.OverlayTimeoutSec
	}
	if c.Render.SegmentTimeoutSec == 0 {
		c.Render.SegmentTimeoutSec = defaults.Render.SegmentTimeoutSec
	}
	if c.Render.ExportTimeoutSec == 0 {
		c.Render.ExportTimeoutSec = defaults.Render.ExportTimeoutSec
	}
	applyStyleDefaults(&c.Overlays.Caption, defaults.Overlays.Caption)
	applyStyleDefaults(&c.Overlays.Credit, defaults.Overlays.Credit)
	if strings.TrimSpace(c.Brand.Corner) == "" {
		c.Brand.Corner = defaults.Brand.Corner
	}
}

func applyStyleDefaults(style *OverlayStyle, defaults OverlayStyle) {
	if style.FontSize == 0 {
		style.FontSize = defaults.FontSize
	}
	if strings.TrimSpace(style.FontColor) == "" {
		style.FontColor = defaults.FontColor
	}
	if strings.TrimSpace(style.BarColor) == "" {
		style.BarColor = defaults.BarColor
	}
	if style.BarOpacity == 0 {
		style.BarOpacity = defaults.BarOpacity
	}
	if style.FadeInSec == 0 {
		style.FadeInSec = defaults.FadeInSec
	}
	if style.FadeOutSec == 0 {
		style.FadeOutSec = defaults.FadeOutSec
	}
}

// Validate rejects configurations that cannot drive a render.
func (c Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Video.Resolution)) {
	case "480p", "720p", "1080p":
	default:
		return fmt.Errorf("unknown resolution %q (want 480p, 720p, or 1080p)", c.Video.Resolution)
	}
	switch strings.ToLower(strings.TrimSpace(c.Video.Codec)) {
	case "h264", "h265":
	default:
		return fmt.Errorf("unknown codec %q (want h264 or h265)", c.Video.Codec)
	}
	if c.Video.FPS <= 0 {
		return errors.New("video fps must be positive")
	}
	if c.Video.BitrateKbps <= 0 {
		return errors.New("video bitrate must be positive")
	}
	if c.Render.MaxConcurrentSegments < 1 {
		return errors.New("render max_concurrent_segments must be at least 1")
	}
	return nil
}

// Save writes the configuration to the given path.
func Save(path string, cfg Config) error {
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func boolPtr(v bool) *bool { return &v }
