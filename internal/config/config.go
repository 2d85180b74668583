// Package config handles amhtool configuration loading and management.
package config

import (
	"encoding/binary"
	"fmt"

	"github.com/Faultbox/amh-tools/pkg/formats"
)

// Config holds all tool settings.
type Config struct {
	Decode   DecodeConfig   `yaml:"decode"`
	Textures TexturesConfig `yaml:"textures"`
	Export   ExportConfig   `yaml:"export"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// DecodeConfig holds model decoding settings.
type DecodeConfig struct {
	BigEndian  bool   `yaml:"big_endian"` // Wii files; PS2 files are little-endian
	FlipUVV    bool   `yaml:"flip_uv_v"`
	MaxDepth   int    `yaml:"max_depth"`
	StripCount string `yaml:"strip_count"` // auto, first or second strip header u16
}

// TexturesConfig holds texture archive settings.
type TexturesConfig struct {
	Load            bool    `yaml:"load"`
	Path            string  `yaml:"path"`    // Texture archive or image directory, derived from the model path when empty
	Workers         int     `yaml:"workers"` // Parallel image decoders, NumCPU when zero
	NibbleScale     float32 `yaml:"nibble_scale"`
	HighNibbleFirst bool    `yaml:"high_nibble_first"`
	Palette16Order  string  `yaml:"palette16_order"` // auto, little or big nibble layout
}

// ExportConfig holds image export settings.
type ExportConfig struct {
	Format string `yaml:"format"` // png or bmp
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogFile string `yaml:"log_file"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Decode: DecodeConfig{
			MaxDepth:   formats.DefaultMaxDepth,
			StripCount: "auto",
		},
		Textures: TexturesConfig{
			Load:           true,
			NibbleScale:    15,
			Palette16Order: "auto",
		},
		Export: ExportConfig{
			Format: "png",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Validate reports the first setting the decoders cannot work with.
func (c *Config) Validate() error {
	if c.Decode.MaxDepth <= 0 {
		return fmt.Errorf("decode.max_depth must be positive, got %d", c.Decode.MaxDepth)
	}
	switch c.Decode.StripCount {
	case "", "auto", "first", "second":
	default:
		return fmt.Errorf("decode.strip_count must be auto, first or second, got %q", c.Decode.StripCount)
	}
	if c.Textures.Workers < 0 {
		return fmt.Errorf("textures.workers must not be negative, got %d", c.Textures.Workers)
	}
	if c.Textures.NibbleScale <= 0 {
		return fmt.Errorf("textures.nibble_scale must be positive, got %g", c.Textures.NibbleScale)
	}
	switch c.Textures.Palette16Order {
	case "", "auto", "little", "big":
	default:
		return fmt.Errorf("textures.palette16_order must be auto, little or big, got %q", c.Textures.Palette16Order)
	}
	switch c.Export.Format {
	case "png", "bmp":
	default:
		return fmt.Errorf("export.format must be png or bmp, got %q", c.Export.Format)
	}
	return nil
}

// ByteOrder returns the byte order of the input files.
func (c *Config) ByteOrder() binary.ByteOrder {
	if c.Decode.BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// ModelOptions returns the model decoder settings.
func (c *Config) ModelOptions() formats.ModelOptions {
	opts := formats.ModelOptions{
		FlipV:    c.Decode.FlipUVV,
		MaxDepth: c.Decode.MaxDepth,
	}
	switch c.Decode.StripCount {
	case "first":
		opts.StripCount = formats.StripCountFirst
	case "second":
		opts.StripCount = formats.StripCountSecond
	}
	return opts
}

// TextureOptions returns the texture decoder settings.
func (c *Config) TextureOptions() formats.TextureOptions {
	opts := formats.TextureOptions{
		NibbleScale:     c.Textures.NibbleScale,
		HighNibbleFirst: c.Textures.HighNibbleFirst,
	}
	switch c.Textures.Palette16Order {
	case "little":
		opts.Palette16Order = binary.LittleEndian
	case "big":
		opts.Palette16Order = binary.BigEndian
	}
	return opts
}
