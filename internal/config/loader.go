package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Load reads and parses a configuration from the given YAML file path, then
// applies defaults for anything left unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault searches for a config in standard locations and loads the first
// one found. Search order: ./patchfactory.yaml, ~/.patchfactory/config.yaml.
// When no file exists, the built-in defaults are returned.
func LoadDefault() (*Config, error) {
	candidates := []string{"patchfactory.yaml"}

	home, err := os.UserHomeDir()
	if err == nil {
		candidates = append(candidates, filepath.Join(home, ".patchfactory", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	cfg := &Config{}
	applyDefaults(cfg)
	return cfg, nil
}

// applyDefaults fills in every field a minimal config may omit.
func applyDefaults(cfg *Config) {
	w := &cfg.Workflow
	if w.PlannerModel == "" {
		w.PlannerModel = "llama3"
	}
	if w.PatcherModel == "" {
		w.PatcherModel = w.PlannerModel
	}
	if w.TestParser == "" {
		w.TestParser = "pytest"
	}
	if w.MaxValidationAttempts == 0 {
		w.MaxValidationAttempts = 3
	}
	if w.PlanningRetries == 0 {
		w.PlanningRetries = 2
	}
	if w.PatchingRetries == 0 {
		w.PatchingRetries = 3
	}
	if w.RetryDelay == "" {
		w.RetryDelay = "1s"
	}

	g := &cfg.Guardrails
	if len(g.AllowedPaths) == 0 {
		g.AllowedPaths = []string{"tests/", "test/"}
	}
	if g.MaxOperations == 0 {
		g.MaxOperations = 5
	}
	if g.MaxTotalLines == 0 {
		g.MaxTotalLines = 200
	}
	if g.MaxTextChars == 0 {
		g.MaxTextChars = 2000
	}

	l := &cfg.LLM
	if l.Backend == "" {
		l.Backend = "ollama"
	}
	if l.BaseURL == "" && l.Backend == "ollama" {
		l.BaseURL = "http://localhost:11434"
	}
	if l.Timeout == "" {
		l.Timeout = "120s"
	}
	if l.APIKeyEnv == "" {
		l.APIKeyEnv = "OPENAI_API_KEY"
	}
}
