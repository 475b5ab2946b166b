// Package config defines the tunables of the detection overlay and how they are read from disk.
package config

import (
	"image/color"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"go.viam.com/overlay/engine"
	"go.viam.com/overlay/logging"
	"go.viam.com/overlay/overlay"
	"go.viam.com/overlay/renderloop"
)

// Config is the overlay configuration. Unset attributes keep their defaults.
type Config struct {
	MaxFontSize float64 `json:"max_font_size" yaml:"max_font_size"`
	MinFontSize float64 `json:"min_font_size" yaml:"min_font_size"`
	// MinConfidence drops detections scoring below it. 0 shows everything.
	MinConfidence    float64       `json:"min_confidence" yaml:"min_confidence"`
	HandshakeTimeout time.Duration `json:"handshake_timeout" yaml:"handshake_timeout"`
	BorderWidth      float64       `json:"border_width" yaml:"border_width"`
	CornerRadius     float64       `json:"corner_radius" yaml:"corner_radius"`
	BorderColor      string        `json:"border_color" yaml:"border_color"`
	BorderAlpha      float64       `json:"border_alpha" yaml:"border_alpha"`
	LabelColor       string        `json:"label_color" yaml:"label_color"`
	RenderQueueSize  int           `json:"render_queue_size" yaml:"render_queue_size"`
	LogLevel         string        `json:"log_level" yaml:"log_level"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		MaxFontSize:      overlay.DefaultMaxFontSize,
		MinFontSize:      overlay.DefaultMinFontSize,
		HandshakeTimeout: engine.DefaultHandshakeTimeout,
		BorderWidth:      4,
		CornerRadius:     4,
		BorderColor:      "#000000",
		BorderAlpha:      0.5,
		LabelColor:       "#000000",
		RenderQueueSize:  renderloop.DefaultQueueSize,
		LogLevel:         "info",
	}
}

// FromAttributes decodes attributes over the defaults and validates the result. Durations may be
// given as strings such as "2s".
func FromAttributes(attributes map[string]interface{}) (*Config, error) {
	cfg := Default()
	var md mapstructure.Metadata
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           cfg,
		Metadata:         &md,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(attributes); err != nil {
		return nil, errors.Wrap(err, "failed to decode overlay config")
	}
	if len(md.Unused) != 0 {
		sort.Strings(md.Unused)
		return nil, errors.Errorf("unknown overlay config attributes: %s", strings.Join(md.Unused, ", "))
	}
	if err := cfg.Validate("overlay"); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration. path names it in errors.
func (c *Config) Validate(path string) error {
	if c.MinFontSize < 1 {
		return goutils.NewConfigValidationError(path, errors.New("min_font_size must be at least 1"))
	}
	if c.MaxFontSize < c.MinFontSize {
		return goutils.NewConfigValidationError(path, errors.New("max_font_size must not be less than min_font_size"))
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 || math.IsNaN(c.MinConfidence) {
		return goutils.NewConfigValidationError(path, errors.New("min_confidence must be between 0 and 1"))
	}
	if c.HandshakeTimeout <= 0 {
		return goutils.NewConfigValidationError(path, errors.New("handshake_timeout must be positive"))
	}
	if c.BorderWidth < 0 || c.CornerRadius < 0 {
		return goutils.NewConfigValidationError(path, errors.New("border_width and corner_radius must not be negative"))
	}
	if c.BorderAlpha < 0 || c.BorderAlpha > 1 {
		return goutils.NewConfigValidationError(path, errors.New("border_alpha must be between 0 and 1"))
	}
	if _, err := colorful.Hex(c.BorderColor); err != nil {
		return goutils.NewConfigValidationError(path, errors.Wrapf(err, "invalid border_color %q", c.BorderColor))
	}
	if _, err := colorful.Hex(c.LabelColor); err != nil {
		return goutils.NewConfigValidationError(path, errors.Wrapf(err, "invalid label_color %q", c.LabelColor))
	}
	if c.RenderQueueSize < 0 {
		return goutils.NewConfigValidationError(path, errors.New("render_queue_size must not be negative"))
	}
	if _, err := logging.LevelFromString(c.LogLevel); err != nil {
		return goutils.NewConfigValidationError(path, err)
	}
	return nil
}

// Style returns the box style. The config must have been validated.
func (c *Config) Style() overlay.Style {
	return overlay.Style{
		BorderWidth:  c.BorderWidth,
		CornerRadius: c.CornerRadius,
		BorderColor:  hexColor(c.BorderColor, c.BorderAlpha),
		LabelColor:   hexColor(c.LabelColor, 1),
	}
}

// ComposerConfig returns the composer settings, measuring labels with m.
func (c *Config) ComposerConfig(m overlay.Measurer) overlay.ComposerConfig {
	style := c.Style()
	return overlay.ComposerConfig{
		Measurer:      m,
		MaxFontSize:   c.MaxFontSize,
		MinFontSize:   c.MinFontSize,
		MinConfidence: c.MinConfidence,
		Style:         &style,
	}
}

// Level returns the configured log level, falling back to info.
func (c *Config) Level() logging.Level {
	level, err := logging.LevelFromString(c.LogLevel)
	if err != nil {
		return logging.INFO
	}
	return level
}

func hexColor(hex string, alpha float64) color.Color {
	c, err := colorful.Hex(hex)
	if err != nil {
		return color.Black
	}
	r, g, b := c.RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: uint8(math.Round(alpha * 255))}
}
