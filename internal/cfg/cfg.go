package cfg

import (
	"errors"
	"flag"
	"fmt"
)

// Config adds inquest-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	APIToken              string

	ClaudeAPIKey             string
	ClaudeModel              string
	PlannerLLMEnabled        bool
	PlannerLLMTimeoutSeconds int

	DatabaseURL string
	RedisURL    string

	OpenAIAPIKey      string
	EmbeddingModel    string
	EmbeddingDim      int
	SimilarityEnabled bool
	SimilarityDegrade bool

	RuleServiceURL   string
	RuleServiceToken string

	PatternConfigPath string

	MaxSteps                    int
	StepTimeoutSeconds          int
	InvestigationTimeoutSeconds int

	SlackWebhookURL string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token required on the investigation API")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for accessing the Claude LLM provider")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model to use")
	fs.BoolVar(&c.PlannerLLMEnabled, "planner-llm-enabled", true, "use the LLM for step planning (rule sequence when disabled)")
	fs.IntVar(&c.PlannerLLMTimeoutSeconds, "planner-llm-timeout-seconds", 10, "per-call planner LLM timeout (1..120)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL for the payments database")
	fs.StringVar(&c.RedisURL, "redis-url", "", "Redis URL for the rolling-stats cache (empty = no cache)")
	fs.StringVar(&c.OpenAIAPIKey, "openai-api-key", "", "API key for the embeddings provider")
	fs.StringVar(&c.EmbeddingModel, "embedding-model", "text-embedding-3-small", "embedding model for similarity search")
	fs.IntVar(&c.EmbeddingDim, "embedding-dim", 1536, "embedding vector dimension (must match the vector store)")
	fs.BoolVar(&c.SimilarityEnabled, "similarity-enabled", true, "enable vector similarity search")
	fs.BoolVar(&c.SimilarityDegrade, "similarity-degrade", false, "fall back to attribute search when embedding fails instead of failing the step")
	fs.StringVar(&c.RuleServiceURL, "rule-service-url", "", "rule management service URL (empty = rule export disabled)")
	fs.StringVar(&c.RuleServiceToken, "rule-service-token", "", "API token for the rule management service")
	fs.StringVar(&c.PatternConfigPath, "pattern-config", "", "path to the YAML pattern detector config (empty = built-in defaults)")
	fs.IntVar(&c.MaxSteps, "max-steps", 10, "maximum planner steps per investigation (1..50)")
	fs.IntVar(&c.StepTimeoutSeconds, "step-timeout-seconds", 30, "per-step execution timeout (1..300)")
	fs.IntVar(&c.InvestigationTimeoutSeconds, "investigation-timeout-seconds", 300, "outer per-investigation deadline (must exceed step timeout)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for completion notifications")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if c.APIToken == "" {
		errs = append(errs, errors.New("API_TOKEN is required"))
	}

	// Claude credentials are required for reasoning even when planning is
	// rule-sequence only
	if c.ClaudeAPIKey == "" {
		errs = append(errs, errors.New("CLAUDE_API_KEY is required"))
	}
	if c.ClaudeModel == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required"))
	}
	if c.PlannerLLMTimeoutSeconds <= 0 || c.PlannerLLMTimeoutSeconds > 120 {
		errs = append(errs, fmt.Errorf("invalid PLANNER_LLM_TIMEOUT_SECONDS %d (must be 1..120)", c.PlannerLLMTimeoutSeconds))
	}

	// The transactions table is the source of all evidence
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}

	if c.SimilarityEnabled {
		if c.OpenAIAPIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY is required when similarity search is enabled"))
		}
		if c.EmbeddingModel == "" {
			errs = append(errs, errors.New("EMBEDDING_MODEL is required when similarity search is enabled"))
		}
		if c.EmbeddingDim <= 0 {
			errs = append(errs, fmt.Errorf("invalid EMBEDDING_DIM %d (must be positive)", c.EmbeddingDim))
		}
	}

	if c.RuleServiceURL != "" && c.RuleServiceToken == "" {
		errs = append(errs, errors.New("RULE_SERVICE_TOKEN is required when RULE_SERVICE_URL is set"))
	}

	if c.MaxSteps <= 0 || c.MaxSteps > 50 {
		errs = append(errs, fmt.Errorf("invalid MAX_STEPS %d (must be 1..50)", c.MaxSteps))
	}
	if c.StepTimeoutSeconds <= 0 || c.StepTimeoutSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid STEP_TIMEOUT_SECONDS %d (must be 1..300)", c.StepTimeoutSeconds))
	}
	if c.InvestigationTimeoutSeconds <= c.StepTimeoutSeconds {
		errs = append(errs, fmt.Errorf("INVESTIGATION_TIMEOUT_SECONDS %d must be greater than STEP_TIMEOUT_SECONDS %d", c.InvestigationTimeoutSeconds, c.StepTimeoutSeconds))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
