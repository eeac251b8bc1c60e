package llm

// Provider names accepted by the provider config key.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGoogle    = "google"
)

// Config holds the configuration for the completion client
type Config struct {
	Provider  string `mapstructure:"provider" json:"provider" yaml:"provider"`
	Model     string `mapstructure:"model" json:"model" yaml:"model"`
	MaxTokens int    `mapstructure:"max_tokens" json:"max_tokens" yaml:"max_tokens"`

	OpenAI    *OpenAIConfig    `mapstructure:"openai" json:"openai,omitempty" yaml:"openai,omitempty"`
	Anthropic *AnthropicConfig `mapstructure:"anthropic" json:"anthropic,omitempty" yaml:"anthropic,omitempty"`
	Google    *GoogleConfig    `mapstructure:"google" json:"google,omitempty" yaml:"google,omitempty"`

	Retry RetryConfig `mapstructure:"retry" json:"retry" yaml:"retry"`
}

// OpenAIConfig holds OpenAI-specific settings. BaseURL allows any OpenAI
// compatible endpoint.
type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key" json:"api_key,omitempty" yaml:"api_key,omitempty"`
	BaseURL string `mapstructure:"base_url" json:"base_url,omitempty" yaml:"base_url,omitempty"`
}

// AnthropicConfig holds Anthropic-specific settings.
type AnthropicConfig struct {
	APIKey  string `mapstructure:"api_key" json:"api_key,omitempty" yaml:"api_key,omitempty"`
	BaseURL string `mapstructure:"base_url" json:"base_url,omitempty" yaml:"base_url,omitempty"`
}

// GoogleConfig holds Gemini settings. Backend is "gemini" (API key) or
// "vertexai" (project + location).
type GoogleConfig struct {
	Backend  string `mapstructure:"backend" json:"backend,omitempty" yaml:"backend,omitempty"`
	APIKey   string `mapstructure:"api_key" json:"api_key,omitempty" yaml:"api_key,omitempty"`
	Project  string `mapstructure:"project" json:"project,omitempty" yaml:"project,omitempty"`
	Location string `mapstructure:"location" json:"location,omitempty" yaml:"location,omitempty"`
	BaseURL  string `mapstructure:"base_url" json:"base_url,omitempty" yaml:"base_url,omitempty"`
}

// RetryConfig controls transport retries of buffered completions.
// Delays are in milliseconds.
type RetryConfig struct {
	Attempts     int    `mapstructure:"attempts" json:"attempts" yaml:"attempts"`
	InitialDelay int    `mapstructure:"initial_delay" json:"initial_delay" yaml:"initial_delay"`
	MaxDelay     int    `mapstructure:"max_delay" json:"max_delay" yaml:"max_delay"`
	BackoffType  string `mapstructure:"backoff_type" json:"backoff_type" yaml:"backoff_type"` // "fixed" or "exponential"
}

// DefaultRetryConfig is applied when no retry attempts are configured.
var DefaultRetryConfig = RetryConfig{
	Attempts:     3,
	InitialDelay: 1000,
	MaxDelay:     10000,
	BackoffType:  "exponential",
}

// DefaultMaxTokens caps completion length when max_tokens is unset.
const DefaultMaxTokens = 1024

// ProfileConfig is a named set of overrides under the profiles config key,
// using the same keys as Config.
type ProfileConfig map[string]any
