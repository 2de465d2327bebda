package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Detection backends
const (
	BackendOllama   = "ollama"
	BackendLlamaCpp = "llamacpp"
	BackendDlib     = "dlib"
)

// Config holds the application configuration
type Config struct {
	Paths      PathsConfig      `json:"paths" yaml:"paths"`
	Detection  DetectionConfig  `json:"detection" yaml:"detection"`
	Background BackgroundConfig `json:"background" yaml:"background"`
	Cropper    CropperConfig    `json:"cropper" yaml:"cropper"`
	Analyzer   AnalyzerConfig   `json:"analyzer" yaml:"analyzer"`
	Output     OutputConfig     `json:"output" yaml:"output"`
	Logging    LoggingConfig    `json:"logging" yaml:"logging"`
}

// PathsConfig holds the stage directories and state files
type PathsConfig struct {
	InputRaw       string `json:"input_raw" yaml:"input_raw"`
	Working        string `json:"working" yaml:"working"`
	Prepared       string `json:"prepared" yaml:"prepared"`
	Output         string `json:"output" yaml:"output"`
	ManualReview   string `json:"manual_review" yaml:"manual_review"`
	Errors         string `json:"errors" yaml:"errors"`
	Metadata       string `json:"metadata" yaml:"metadata"`
	Logs           string `json:"logs" yaml:"logs"`
	ProcessedIndex string `json:"processed_index" yaml:"processed_index"`
	// Debug receives crop overlays when set
	Debug string `json:"debug,omitempty" yaml:"debug,omitempty"`
}

// DetectionConfig selects and configures the face locator
type DetectionConfig struct {
	Backend       string  `json:"backend" yaml:"backend"`
	OllamaURL     string  `json:"ollama_url" yaml:"ollama_url"`
	OllamaModel   string  `json:"ollama_model" yaml:"ollama_model"`
	LlamaCppURL   string  `json:"llamacpp_url" yaml:"llamacpp_url"`
	LlamaCppModel string  `json:"llamacpp_model" yaml:"llamacpp_model"`
	DlibModelDir  string  `json:"dlib_model_dir" yaml:"dlib_model_dir"`
	MaxDim        int     `json:"max_dim" yaml:"max_dim"`
	Quality       int     `json:"quality" yaml:"quality"`
	MinConfidence float64 `json:"min_confidence" yaml:"min_confidence"`
	Prompt        string  `json:"prompt,omitempty" yaml:"prompt,omitempty"`
}

// BackgroundConfig configures background replacement
type BackgroundConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	RembgURL string `json:"rembg_url" yaml:"rembg_url"`
	Model    string `json:"model" yaml:"model"`
	Color    string `json:"color" yaml:"color"`
}

// CropperConfig holds the portrait crop geometry
type CropperConfig struct {
	HairMarginRatio float64 `json:"hair_margin_ratio" yaml:"hair_margin_ratio"`
	WidthFactor     float64 `json:"width_factor" yaml:"width_factor"`
	TopPadding      float64 `json:"top_padding" yaml:"top_padding"`
}

// AnalyzerConfig holds configuration for image validation
type AnalyzerConfig struct {
	SupportedFormats []string `json:"supported_formats" yaml:"supported_formats"`
	MinImageSize     int      `json:"min_image_size" yaml:"min_image_size"`
	MinFileSize      int64    `json:"min_file_size" yaml:"min_file_size"`
}

// OutputConfig holds configuration for output generation
type OutputConfig struct {
	Quality int `json:"quality" yaml:"quality"`
}

// LoggingConfig configures the structured logger
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
	// File enables a copy of the log in <logs>/pipeline.log
	File bool `json:"file" yaml:"file"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Paths: PathsConfig{
			InputRaw:       "./input_raw",
			Working:        "./working",
			Prepared:       "./prepared",
			Output:         "./output",
			ManualReview:   "./manual_review",
			Errors:         "./errors",
			Metadata:       "./metadata",
			Logs:           "./logs",
			ProcessedIndex: "./metadata/processed_index.json",
		},
		Detection: DetectionConfig{
			Backend:       BackendOllama,
			OllamaURL:     "http://localhost:11434",
			OllamaModel:   "qwen2.5vl:7b",
			LlamaCppURL:   "http://localhost:8080",
			LlamaCppModel: "llava",
			DlibModelDir:  "./models",
			MaxDim:        1024,
			Quality:       85,
			MinConfidence: 0.3,
		},
		Background: BackgroundConfig{
			Enabled:  false,
			RembgURL: "http://localhost:7000",
			Model:    "u2net_human_seg",
			Color:    "institutional",
		},
		Cropper: CropperConfig{
			HairMarginRatio: 0.8,
			WidthFactor:     2.5,
			TopPadding:      20,
		},
		Analyzer: AnalyzerConfig{
			SupportedFormats: []string{"jpeg", "png", "bmp", "tiff"},
			MinImageSize:     1,
			MinFileSize:      1024,
		},
		Output: OutputConfig{
			Quality: 95,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			File:   true,
		},
	}
}

// LoadFromFile loads configuration from a JSON or YAML file, chosen by
// extension. Missing values keep their defaults.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, config)
	default:
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// Load reads filename when it is non-empty, falls back to defaults
// otherwise, then applies environment overrides and validates the result.
func Load(filename string) (*Config, error) {
	config := Default()
	if filename != "" {
		var err error
		if config, err = LoadFromFile(filename); err != nil {
			return nil, err
		}
	}
	config.ApplyEnv()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// ApplyEnv overrides values from environment variables
func (c *Config) ApplyEnv() {
	envString("PORTRAIT_INPUT_DIR", &c.Paths.InputRaw)
	envString("PORTRAIT_OUTPUT_DIR", &c.Paths.Output)
	envString("PORTRAIT_METADATA_DIR", &c.Paths.Metadata)
	envString("PORTRAIT_LOGS_DIR", &c.Paths.Logs)
	envString("PORTRAIT_PROCESSED_INDEX", &c.Paths.ProcessedIndex)
	envString("PORTRAIT_DETECTOR", &c.Detection.Backend)
	envString("PORTRAIT_LOG_LEVEL", &c.Logging.Level)
	envString("PORTRAIT_BG_COLOR", &c.Background.Color)
	envString("OLLAMA_URL", &c.Detection.OllamaURL)
	envString("OLLAMA_MODEL", &c.Detection.OllamaModel)
	envString("LLAMACPP_URL", &c.Detection.LlamaCppURL)
	envString("LLAMACPP_MODEL", &c.Detection.LlamaCppModel)
	envString("REMBG_URL", &c.Background.RembgURL)

	if v := os.Getenv("PORTRAIT_BG_REMOVAL"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Background.Enabled = b
		}
	}
	c.Output.Quality = envInt("PORTRAIT_OUTPUT_QUALITY", c.Output.Quality)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// SaveToFile saves configuration to a JSON or YAML file, chosen by extension
func (c *Config) SaveToFile(filename string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	required := map[string]string{
		"paths.input_raw":       c.Paths.InputRaw,
		"paths.output":          c.Paths.Output,
		"paths.manual_review":   c.Paths.ManualReview,
		"paths.errors":          c.Paths.Errors,
		"paths.metadata":        c.Paths.Metadata,
		"paths.processed_index": c.Paths.ProcessedIndex,
	}
	for name, v := range required {
		if v == "" {
			return fmt.Errorf("%s is required", name)
		}
	}

	switch c.Detection.Backend {
	case BackendOllama, BackendLlamaCpp, BackendDlib:
	default:
		return fmt.Errorf("detection.backend must be one of %s, %s, %s", BackendOllama, BackendLlamaCpp, BackendDlib)
	}

	if c.Detection.Quality < 1 || c.Detection.Quality > 100 {
		return fmt.Errorf("detection.quality must be between 1 and 100")
	}

	if c.Detection.MinConfidence < 0 || c.Detection.MinConfidence > 1 {
		return fmt.Errorf("detection.min_confidence must be between 0 and 1")
	}

	if c.Output.Quality < 1 || c.Output.Quality > 100 {
		return fmt.Errorf("output.quality must be between 1 and 100")
	}

	if c.Background.Enabled && (c.Paths.Working == "" || c.Paths.Prepared == "") {
		return fmt.Errorf("paths.working and paths.prepared are required with background replacement")
	}

	if c.Cropper.HairMarginRatio < 0 {
		return fmt.Errorf("cropper.hair_margin_ratio must not be negative")
	}

	if c.Cropper.WidthFactor < 1 {
		return fmt.Errorf("cropper.width_factor must be at least 1")
	}

	if c.Analyzer.MinImageSize < 1 {
		return fmt.Errorf("analyzer.min_image_size must be positive")
	}

	if len(c.Analyzer.SupportedFormats) == 0 {
		return fmt.Errorf("analyzer.supported_formats cannot be empty")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json")
	}

	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "portrait-cropper", "config.json")
}
