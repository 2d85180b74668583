package config

import "flag"

var (
	flagConfig     = flag.String("config", "", "Path to config file")
	flagDebug      = flag.Bool("debug", false, "Enable debug logging")
	flagBigEndian  = flag.Bool("big-endian", false, "Decode big-endian (Wii) files")
	flagFlipV      = flag.Bool("flip-v", false, "Negate the V texture coordinate")
	flagTextures   = flag.String("textures", "", "Texture archive or image directory")
	flagNoTextures = flag.Bool("no-textures", false, "Skip texture loading")
	flagFormat     = flag.String("format", "", "Image export format (png, bmp)")
	flagLogFile    = flag.String("log-file", "", "Write logs to a rotated file")
)

// ParseFlags parses command-line flags. Call this early in main().
func ParseFlags() {
	flag.Parse()
}

// Args returns the positional arguments after flags.
func Args() []string {
	return flag.Args()
}

// ConfigPath returns the explicit config path if provided via -config flag.
func ConfigPath() string {
	return *flagConfig
}

// applyFlags applies CLI flag overrides to the config.
func applyFlags(cfg *Config) {
	if *flagDebug {
		cfg.Logging.Level = "debug"
	}
	if *flagBigEndian {
		cfg.Decode.BigEndian = true
	}
	if *flagFlipV {
		cfg.Decode.FlipUVV = true
	}
	if *flagTextures != "" {
		cfg.Textures.Path = *flagTextures
	}
	if *flagNoTextures {
		cfg.Textures.Load = false
	}
	if *flagFormat != "" {
		cfg.Export.Format = *flagFormat
	}
	if *flagLogFile != "" {
		cfg.Logging.LogFile = *flagLogFile
	}
}
