package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default config should be valid: %v", err)
	}
}

func TestLoadFromFileFormats(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
	}{
		{"config.json", `{"paths": {"output": "/data/out"}, "detection": {"backend": "llamacpp"}}`},
		{"config.yaml", "paths:\n  output: /data/out\ndetection:\n  backend: llamacpp\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name)
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}
			cfg, err := LoadFromFile(path)
			if err != nil {
				t.Fatalf("LoadFromFile failed: %v", err)
			}
			if cfg.Paths.Output != "/data/out" || cfg.Detection.Backend != BackendLlamaCpp {
				t.Errorf("Unexpected config %+v", cfg)
			}
			if cfg.Paths.InputRaw != "./input_raw" || cfg.Output.Quality != 95 {
				t.Error("Unset values should keep their defaults")
			}
		})
	}
}

func TestLoadFromFileErrors(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("Expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFromFile(path); err == nil || !strings.Contains(err.Error(), "parse") {
		t.Errorf("Expected parse error, got %v", err)
	}
}

func TestSaveAndReload(t *testing.T) {
	for _, name := range []string{"cfg.json", "cfg.yml"} {
		path := filepath.Join(t.TempDir(), "nested", name)
		cfg := Default()
		cfg.Background.Enabled = true
		cfg.Background.Color = "white"

		if err := cfg.SaveToFile(path); err != nil {
			t.Fatalf("SaveToFile(%s) failed: %v", name, err)
		}
		loaded, err := LoadFromFile(path)
		if err != nil {
			t.Fatalf("LoadFromFile(%s) failed: %v", name, err)
		}
		if !loaded.Background.Enabled || loaded.Background.Color != "white" {
			t.Errorf("%s: background settings lost: %+v", name, loaded.Background)
		}
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("OLLAMA_URL", "http://gpu:11434")
	t.Setenv("OLLAMA_MODEL", "llava:13b")
	t.Setenv("REMBG_URL", "http://rembg:7000")
	t.Setenv("PORTRAIT_BG_REMOVAL", "true")
	t.Setenv("PORTRAIT_OUTPUT_QUALITY", "88")
	t.Setenv("PORTRAIT_DETECTOR", "llamacpp")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Detection.OllamaURL != "http://gpu:11434" || cfg.Detection.OllamaModel != "llava:13b" {
		t.Errorf("Ollama overrides not applied: %+v", cfg.Detection)
	}
	if cfg.Background.RembgURL != "http://rembg:7000" || !cfg.Background.Enabled {
		t.Errorf("Background overrides not applied: %+v", cfg.Background)
	}
	if cfg.Output.Quality != 88 || cfg.Detection.Backend != BackendLlamaCpp {
		t.Errorf("Unexpected overrides %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.Detection.Backend = "opencv" }},
		{"missing input", func(c *Config) { c.Paths.InputRaw = "" }},
		{"quality", func(c *Config) { c.Output.Quality = 0 }},
		{"confidence", func(c *Config) { c.Detection.MinConfidence = 2 }},
		{"width factor", func(c *Config) { c.Cropper.WidthFactor = 0.5 }},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"background paths", func(c *Config) {
			c.Background.Enabled = true
			c.Paths.Prepared = ""
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestGetConfigPath(t *testing.T) {
	if !strings.HasSuffix(GetConfigPath(), "config.json") {
		t.Errorf("Unexpected config path %s", GetConfigPath())
	}
}
