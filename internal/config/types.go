package config

// Config is the top-level configuration structure parsed from YAML.
type Config struct {
	Workflow   Workflow   `yaml:"workflow"`
	Guardrails Guardrails `yaml:"guardrails"`
	LLM        LLM        `yaml:"llm"`
	Database   Database   `yaml:"database"`
	Store      Store      `yaml:"store"`
}

// Workflow holds agent models and retry budgets.
type Workflow struct {
	PlannerModel          string `yaml:"planner_model"`
	PatcherModel          string `yaml:"patcher_model"`
	TestParser            string `yaml:"test_parser"` // pytest | gotest
	MaxValidationAttempts int    `yaml:"max_validation_attempts"`
	PlanningRetries       int    `yaml:"planning_retries"`
	PatchingRetries       int    `yaml:"patching_retries"`
	RetryDelay            string `yaml:"retry_delay"` // Go duration, e.g. "1s"
}

// Guardrails bounds what the patcher may change.
type Guardrails struct {
	AllowedPaths  []string `yaml:"allowed_paths"`
	MaxOperations int      `yaml:"max_operations"`
	MaxTotalLines int      `yaml:"max_total_lines"`
	MaxTextChars  int      `yaml:"max_text_chars"`
}

// LLM selects and configures the generation backend.
type LLM struct {
	Backend   string `yaml:"backend"` // ollama | openai
	BaseURL   string `yaml:"base_url"`
	Timeout   string `yaml:"timeout"` // Go duration
	APIKeyEnv string `yaml:"api_key_env"`
}

// Database enables the optional Postgres event log when a DSN is set.
type Database struct {
	DSN string `yaml:"dsn"`
}

// Store configures on-disk run artifacts.
type Store struct {
	BaseDir  string `yaml:"base_dir"`
	Disabled bool   `yaml:"disabled"`
}
