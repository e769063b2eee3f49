package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/a3tai/mcp-pdf-forms/internal/detect/label"
	"github.com/a3tai/mcp-pdf-forms/internal/detect/pixel"
	"github.com/a3tai/mcp-pdf-forms/internal/fusion"
	"github.com/a3tai/mcp-pdf-forms/internal/raster"
)

const (
	// Mode constants
	ModeStdio  = "stdio"
	ModeServer = "server"

	// Text recognizer engines
	OCRTesseract = "tesseract"
	OCRPDFText   = "pdftext"
	OCRNone      = "none"

	// Default values
	DefaultPort        = 8080
	DefaultHost        = "127.0.0.1"
	DefaultLogLevel    = "info"
	DefaultMaxFileSize = 100 * 1024 * 1024 // 100MB
	DefaultOCREngine   = OCRTesseract
	DefaultConcurrency = 2

	// Directory permissions
	DefaultDirPerm = 0o750

	// EnvPrefix prefixes every environment variable
	EnvPrefix = "MCP_PDF_FORMS"
)

// ErrVersionRequested is returned by Load when --version is passed
var ErrVersionRequested = errors.New("version requested")

// Config holds all configuration for the form detection server
type Config struct {
	// Server configuration
	Mode string // "server" or "stdio"
	Host string
	Port int

	// PDF configuration
	PDFDirectory string

	// Application configuration
	Version     string
	ServerName  string
	LogLevel    string
	MaxFileSize int64 // Maximum PDF file size in bytes
	ConfigFile  string

	// Detection configuration
	OCREngine    string
	OCRLanguages []string
	RenderScale  float64
	Concurrency  int
	Label        label.Config
	Pixel        pixel.Config
	Fusion       fusion.Config
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	currentDir, err := os.Getwd()
	if err != nil {
		// Fallback to current directory if working directory cannot be determined
		currentDir = "."
	}

	return &Config{
		Mode:         ModeStdio, // Default to stdio mode for MCP compatibility
		Host:         DefaultHost,
		Port:         DefaultPort,
		PDFDirectory: currentDir,
		Version:      "1.0.0",
		ServerName:   "mcp-pdf-forms",
		LogLevel:     DefaultLogLevel,
		MaxFileSize:  DefaultMaxFileSize,
		OCREngine:    DefaultOCREngine,
		OCRLanguages: []string{"eng"},
		RenderScale:  raster.DefaultScale,
		Concurrency:  DefaultConcurrency,
		Label:        label.DefaultConfig(),
		Pixel:        pixel.DefaultConfig(),
		Fusion:       fusion.DefaultConfig(),
	}
}

// Load builds the configuration from defaults, an optional config file,
// environment variables and command line arguments, in increasing precedence.
// args excludes the program name.
func Load(args []string) (*Config, error) {
	cfg := DefaultConfig()
	v := viper.New()
	fs := pflag.NewFlagSet("mcp-pdf-forms", pflag.ContinueOnError)

	setupViperEnvironment(v, cfg)
	defineCommandLineFlags(fs, cfg)
	setupUsageMessage(fs)

	// Check for version flag before parsing
	if err := checkVersionFlag(args); err != nil {
		return nil, err
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	bindFlagsToViper(v, fs)

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	if err := populateConfigFromViper(v, cfg); err != nil {
		return nil, err
	}

	// Expand paths if needed
	if cfg.PDFDirectory != "" {
		if expandedPath, err := filepath.Abs(cfg.PDFDirectory); err == nil {
			cfg.PDFDirectory = expandedPath
		}
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadFromFlags loads the configuration from os.Args
func LoadFromFlags() (*Config, error) {
	return Load(os.Args[1:])
}

// setupViperEnvironment configures viper with environment variables and defaults
func setupViperEnvironment(v *viper.Viper, cfg *Config) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("mode", cfg.Mode)
	v.SetDefault("host", cfg.Host)
	v.SetDefault("port", cfg.Port)
	v.SetDefault("dir", cfg.PDFDirectory)
	v.SetDefault("log-level", cfg.LogLevel)
	v.SetDefault("max-file-size", cfg.MaxFileSize)
	v.SetDefault("config", "")

	v.SetDefault("ocr.engine", cfg.OCREngine)
	v.SetDefault("ocr.languages", cfg.OCRLanguages)
	v.SetDefault("ocr.timeout", cfg.Label.Timeout)
	v.SetDefault("render.scale", cfg.RenderScale)
	v.SetDefault("concurrency", cfg.Concurrency)

	v.SetDefault("label.field_width", cfg.Label.FieldWidth)
	v.SetDefault("label.field_height", cfg.Label.FieldHeight)
	v.SetDefault("label.gap", cfg.Label.LabelGap)

	p := cfg.Pixel
	v.SetDefault("pixel.line_dark", p.LineDark)
	v.SetDefault("pixel.line_min_run", p.LineMinRun)
	v.SetDefault("pixel.line_max_gap", p.LineMaxGap)
	v.SetDefault("pixel.line_min_dark_ratio", p.LineMinDarkRatio)
	v.SetDefault("pixel.line_min_width", p.LineMinWidth)
	v.SetDefault("pixel.line_max_width", p.LineMaxWidth)
	v.SetDefault("pixel.field_height", p.FieldHeight)
	v.SetDefault("pixel.enable_checkboxes", p.EnableCheckboxes)
	v.SetDefault("pixel.checkbox_sizes", p.CheckboxSizes)
	v.SetDefault("pixel.checkbox_dark", p.CheckboxDark)
	v.SetDefault("pixel.checkbox_light", p.CheckboxLight)
	v.SetDefault("pixel.isolation_light", p.IsolationLight)
	v.SetDefault("pixel.isolation_buffer", p.IsolationBuffer)
	v.SetDefault("pixel.min_dark_edges", p.MinDarkEdges)
	v.SetDefault("pixel.min_light_interior", p.MinLightInterior)
	v.SetDefault("pixel.isolation_ratio", p.IsolationRatio)
	v.SetDefault("pixel.perimeter_dark", p.PerimeterDark)
	v.SetDefault("pixel.perimeter_ratio", p.PerimeterRatio)
	v.SetDefault("pixel.accept_score", p.AcceptScore)
	v.SetDefault("pixel.high_score", p.HighScore)
	v.SetDefault("pixel.dedup_cell", p.DedupCell)

	f := cfg.Fusion
	v.SetDefault("fusion.baseline_tolerance", f.BaselineTolerance)
	v.SetDefault("fusion.text_min_width", f.TextMinWidth)
	v.SetDefault("fusion.text_max_width", f.TextMaxWidth)
	v.SetDefault("fusion.text_min_height", f.TextMinHeight)
	v.SetDefault("fusion.text_max_height", f.TextMaxHeight)
	v.SetDefault("fusion.box_min_side", f.BoxMinSide)
	v.SetDefault("fusion.box_max_side", f.BoxMaxSide)
	v.SetDefault("fusion.exempt_structured", f.ExemptStructured)
}

// defineCommandLineFlags sets up all command line flags
func defineCommandLineFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.String("mode", cfg.Mode, "Server mode: 'stdio' for MCP standard I/O, 'server' for HTTP server")
	fs.String("host", cfg.Host, "Server host address (server mode only)")
	fs.Int("port", cfg.Port, "Server port (server mode only)")
	fs.String("dir", cfg.PDFDirectory, "Directory containing PDF files and page images")
	fs.String("log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	fs.Int64("max-file-size", cfg.MaxFileSize, "Maximum input file size in bytes")
	fs.String("config", "", "Path to a YAML, JSON or TOML configuration file")

	fs.String("ocr-engine", cfg.OCREngine, "Text recognizer: tesseract, pdftext or none")
	fs.StringSlice("ocr-lang", cfg.OCRLanguages, "Tesseract languages")
	fs.Duration("ocr-timeout", cfg.Label.Timeout, "Deadline for recognizing one page")
	fs.Float64("scale", cfg.RenderScale, "Raster pixels per document unit")
	fs.Int("concurrency", cfg.Concurrency, "Pages processed in parallel")
	fs.Bool("enable-checkboxes", cfg.Pixel.EnableCheckboxes, "Detect checkboxes in page rasters")
	fs.Float64("baseline-tolerance", cfg.Fusion.BaselineTolerance, "Vertical tolerance for merging fields on one baseline")
}

// flagKeys maps flag names to their viper keys
var flagKeys = map[string]string{
	"mode":               "mode",
	"host":               "host",
	"port":               "port",
	"dir":                "dir",
	"log-level":          "log-level",
	"max-file-size":      "max-file-size",
	"config":             "config",
	"ocr-engine":         "ocr.engine",
	"ocr-lang":           "ocr.languages",
	"ocr-timeout":        "ocr.timeout",
	"scale":              "render.scale",
	"concurrency":        "concurrency",
	"enable-checkboxes":  "pixel.enable_checkboxes",
	"baseline-tolerance": "fusion.baseline_tolerance",
}

// bindFlagsToViper binds command line flags to viper configuration
func bindFlagsToViper(v *viper.Viper, fs *pflag.FlagSet) {
	for flag, key := range flagKeys {
		_ = v.BindPFlag(key, fs.Lookup(flag))
	}
}

// setupUsageMessage configures the custom usage message
func setupUsageMessage(fs *pflag.FlagSet) {
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage of %s:\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nMCP PDF Forms - A Model Context Protocol server detecting form fields in PDF pages\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s                                         "+
			"# stdio mode, current directory (default)\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --dir=/path/to/forms                    "+
			"# stdio mode with custom directory\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --mode=server --dir=/path/to/forms      # server mode\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --ocr-engine=pdftext                    # digital PDFs without OCR\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  %s_MODE        Server mode\n", EnvPrefix)
		fmt.Fprintf(os.Stderr, "  %s_HOST        Server host\n", EnvPrefix)
		fmt.Fprintf(os.Stderr, "  %s_PORT        Server port\n", EnvPrefix)
		fmt.Fprintf(os.Stderr, "  %s_DIR         Input directory\n", EnvPrefix)
		fmt.Fprintf(os.Stderr, "  %s_LOG_LEVEL   Log level\n", EnvPrefix)
		fmt.Fprintf(os.Stderr, "  %s_OCR_ENGINE  Text recognizer\n", EnvPrefix)
		fmt.Fprintf(os.Stderr, "  %s_PIXEL_*     Pixel detector thresholds, e.g. %s_PIXEL_ACCEPT_SCORE\n", EnvPrefix, EnvPrefix)
	}
}

// checkVersionFlag checks if version flag was requested
func checkVersionFlag(args []string) error {
	for _, arg := range args {
		if arg == "-version" || arg == "--version" || arg == "-v" {
			return ErrVersionRequested
		}
	}
	return nil
}

// populateConfigFromViper fills the config struct with values from viper
func populateConfigFromViper(v *viper.Viper, cfg *Config) error {
	cfg.Mode = v.GetString("mode")
	cfg.Host = v.GetString("host")
	cfg.Port = v.GetInt("port")
	cfg.PDFDirectory = v.GetString("dir")
	cfg.LogLevel = v.GetString("log-level")
	cfg.MaxFileSize = v.GetInt64("max-file-size")
	cfg.ConfigFile = v.GetString("config")

	cfg.OCREngine = v.GetString("ocr.engine")
	cfg.OCRLanguages = v.GetStringSlice("ocr.languages")
	cfg.RenderScale = v.GetFloat64("render.scale")
	cfg.Concurrency = v.GetInt("concurrency")

	cfg.Label.FieldWidth = v.GetFloat64("label.field_width")
	cfg.Label.FieldHeight = v.GetFloat64("label.field_height")
	cfg.Label.LabelGap = v.GetFloat64("label.gap")
	cfg.Label.Timeout = v.GetDuration("ocr.timeout")

	var err error
	p := &cfg.Pixel
	if p.LineDark, err = byteValue(v, "pixel.line_dark"); err != nil {
		return err
	}
	p.LineMinRun = v.GetInt("pixel.line_min_run")
	p.LineMaxGap = v.GetInt("pixel.line_max_gap")
	p.LineMinDarkRatio = v.GetFloat64("pixel.line_min_dark_ratio")
	p.LineMinWidth = v.GetFloat64("pixel.line_min_width")
	p.LineMaxWidth = v.GetFloat64("pixel.line_max_width")
	p.FieldHeight = v.GetFloat64("pixel.field_height")
	p.EnableCheckboxes = v.GetBool("pixel.enable_checkboxes")
	p.CheckboxSizes = v.GetIntSlice("pixel.checkbox_sizes")
	if p.CheckboxDark, err = byteValue(v, "pixel.checkbox_dark"); err != nil {
		return err
	}
	if p.CheckboxLight, err = byteValue(v, "pixel.checkbox_light"); err != nil {
		return err
	}
	if p.IsolationLight, err = byteValue(v, "pixel.isolation_light"); err != nil {
		return err
	}
	if p.PerimeterDark, err = byteValue(v, "pixel.perimeter_dark"); err != nil {
		return err
	}
	p.IsolationBuffer = v.GetInt("pixel.isolation_buffer")
	p.MinDarkEdges = v.GetInt("pixel.min_dark_edges")
	p.MinLightInterior = v.GetInt("pixel.min_light_interior")
	p.IsolationRatio = v.GetFloat64("pixel.isolation_ratio")
	p.PerimeterRatio = v.GetFloat64("pixel.perimeter_ratio")
	p.AcceptScore = v.GetFloat64("pixel.accept_score")
	p.HighScore = v.GetFloat64("pixel.high_score")
	p.DedupCell = v.GetInt("pixel.dedup_cell")

	f := &cfg.Fusion
	f.BaselineTolerance = v.GetFloat64("fusion.baseline_tolerance")
	f.TextMinWidth = v.GetFloat64("fusion.text_min_width")
	f.TextMaxWidth = v.GetFloat64("fusion.text_max_width")
	f.TextMinHeight = v.GetFloat64("fusion.text_min_height")
	f.TextMaxHeight = v.GetFloat64("fusion.text_max_height")
	f.BoxMinSide = v.GetFloat64("fusion.box_min_side")
	f.BoxMaxSide = v.GetFloat64("fusion.box_max_side")
	f.ExemptStructured = v.GetBool("fusion.exempt_structured")
	return nil
}

// byteValue reads a channel threshold, which must fit in 0..255
func byteValue(v *viper.Viper, key string) (uint8, error) {
	n := v.GetInt(key)
	if n < 0 || n > 255 {
		return 0, fmt.Errorf("%s must be between 0 and 255, got %d", key, n)
	}
	return uint8(n), nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate mode
	if c.Mode != ModeStdio && c.Mode != ModeServer {
		return errors.New("mode must be either 'stdio' or 'server'")
	}

	// Validate port range (only for server mode)
	if c.Mode == ModeServer && (c.Port < 1 || c.Port > 65535) {
		return errors.New("port must be between 1 and 65535")
	}

	// Validate PDF directory
	if c.PDFDirectory == "" {
		return errors.New("PDF directory cannot be empty")
	}

	// Check if PDF directory exists, create if it doesn't
	if _, err := os.Stat(c.PDFDirectory); os.IsNotExist(err) {
		if err := os.MkdirAll(c.PDFDirectory, DefaultDirPerm); err != nil {
			return fmt.Errorf("cannot create PDF directory %s: %w", c.PDFDirectory, err)
		}
	} else if err != nil {
		return fmt.Errorf("cannot access PDF directory %s: %w", c.PDFDirectory, err)
	}

	// Validate max file size
	if c.MaxFileSize <= 0 {
		return errors.New("maximum file size must be positive")
	}

	// Validate log level
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}

	switch c.OCREngine {
	case OCRTesseract, OCRPDFText, OCRNone:
	default:
		return fmt.Errorf("invalid OCR engine: %s (must be one of: tesseract, pdftext, none)", c.OCREngine)
	}

	if c.RenderScale <= 0 {
		return errors.New("render scale must be positive")
	}
	if c.Concurrency < 1 {
		return errors.New("concurrency must be at least 1")
	}

	return c.validateDetection()
}

func (c *Config) validateDetection() error {
	if c.Label.FieldWidth <= 0 || c.Label.FieldHeight <= 0 {
		return errors.New("label field dimensions must be positive")
	}
	if c.Pixel.FieldHeight <= 0 {
		return errors.New("pixel field height must be positive")
	}
	if c.Pixel.LineMinWidth >= c.Pixel.LineMaxWidth {
		return errors.New("pixel line width bounds are inverted")
	}
	for _, size := range c.Pixel.CheckboxSizes {
		if size < 2 {
			return fmt.Errorf("checkbox size must be at least 2 pixels, got %d", size)
		}
	}
	if c.Pixel.AcceptScore < 0 || c.Pixel.AcceptScore > 1 || c.Pixel.HighScore < 0 || c.Pixel.HighScore > 1 {
		return errors.New("checkbox scores must be between 0 and 1")
	}
	if c.Fusion.BaselineTolerance < 0 {
		return errors.New("baseline tolerance cannot be negative")
	}
	if c.Fusion.TextMinWidth >= c.Fusion.TextMaxWidth || c.Fusion.TextMinHeight >= c.Fusion.TextMaxHeight {
		return errors.New("text size bounds are inverted")
	}
	if c.Fusion.BoxMinSide >= c.Fusion.BoxMaxSide {
		return errors.New("checkbox size bounds are inverted")
	}
	return nil
}

// ParseLevel converts a log level name into a slog level
func ParseLevel(level string) (slog.Level, error) {
	switch level {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", level)
	}
}

// NewLogger builds a text logger at the configured level writing to w
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := ParseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// OCRTimeout returns the per-page recognition deadline
func (c *Config) OCRTimeout() time.Duration {
	return c.Label.Timeout
}

// Address returns the server address as host:port
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsDebug returns true if debug logging is enabled
func (c *Config) IsDebug() bool {
	return c.LogLevel == "debug"
}

// String returns a string representation of the configuration
func (c *Config) String() string {
	return fmt.Sprintf("Config{Mode: %s, Host: %s, Port: %d, PDFDirectory: %s, LogLevel: %s, MaxFileSize: %d, OCREngine: %s, Scale: %.2f, Concurrency: %d}",
		c.Mode, c.Host, c.Port, c.PDFDirectory, c.LogLevel, c.MaxFileSize, c.OCREngine, c.RenderScale, c.Concurrency)
}

// IsServerMode returns true if the server is running in HTTP server mode
func (c *Config) IsServerMode() bool {
	return c.Mode == ModeServer
}

// IsStdioMode returns true if the server is running in stdio mode
func (c *Config) IsStdioMode() bool {
	return c.Mode == ModeStdio
}
