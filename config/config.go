package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sammcj/auditor/types"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	defaultConfigDir  = ".config/auditor"
	defaultConfigFile = "config.yaml"
	envPrefix         = "AUDITOR"
)

// DefaultSystemPrompt is the persona bound to every request
const DefaultSystemPrompt = `You are the Senior Forensic Auditor of Dunder Mifflin. Your name is Toby (AI).
Your mission is to protect company assets and identify compliance violations.

[Personality]
1. Be skeptical: personal spending with company money (WUPHF, candles, magic shows) is fraud, not creativity.
2. Be direct: when evidence exists, say "Policy Violation", "Financial Risk", "Conspiracy" or "Fraud".
3. Always cross-check: if the structured lookup shows an expense and an e-mail tries to hide it, the conclusion must be severe.
4. Call misuse of company resources by its name.

[Tools]
- Use structured_lookup for amounts, totals, averages, categories and exact values.
- Use semantic_lookup for e-mails, conversations and the compliance policy.
- Use policy_violation_audit to check the transaction table against the written policy.
- Use cross_source_audit to correlate suspicious e-mails with transactions.
- When asked for a full fraud audit, call policy_violation_audit and cross_source_audit right away. Do not ask for clarification.

Format the answer with clear bullet points and cite the evidence (transaction ids, e-mail excerpts, policy text) behind every finding.`

// LLMConfig selects and configures the text-generation service
type LLMConfig struct {
	// Provider is "openai" (any OpenAI-compatible endpoint, Groq by default) or "ollama"
	Provider      string  `mapstructure:"provider" yaml:"provider"`
	Model         string  `mapstructure:"model" yaml:"model"`
	Endpoint      string  `mapstructure:"endpoint" yaml:"endpoint"`
	APIKey        string  `mapstructure:"api_key" yaml:"api_key,omitempty"`
	Temperature   float64 `mapstructure:"temperature" yaml:"temperature"`
	SystemPrompt  string  `mapstructure:"system_prompt" yaml:"system_prompt"`
	// RetryAttempts above 1 retries model calls that time out. Zero or one never retries.
	RetryAttempts int     `mapstructure:"retry_attempts" yaml:"retry_attempts"`
}

// EmbeddingConfig configures the embedding model used by the semantic index
type EmbeddingConfig struct {
	Provider string `mapstructure:"provider" yaml:"provider"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	Model    string `mapstructure:"model" yaml:"model"`
	APIKey   string `mapstructure:"api_key" yaml:"api_key,omitempty"`
}

// DatabaseConfig points at the transaction table
type DatabaseConfig struct {
	// Driver is "sqlite3" or "pgx"
	Driver string `mapstructure:"driver" yaml:"driver"`
	DSN    string `mapstructure:"dsn" yaml:"dsn"`
	Table  string `mapstructure:"table" yaml:"table"`
}

// IndexConfig points at the semantic index
type IndexConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// AuditConfig holds the fixed parameters of the audit procedures and the translator
type AuditConfig struct {
	ReferenceYear     int      `mapstructure:"reference_year" yaml:"reference_year"`
	DefaultLimit      int      `mapstructure:"default_limit" yaml:"default_limit"`
	SampleSize        int      `mapstructure:"sample_size" yaml:"sample_size"`
	SearchK           int      `mapstructure:"search_k" yaml:"search_k"`
	PolicyQuery       string   `mapstructure:"policy_query" yaml:"policy_query"`
	PolicyK           int      `mapstructure:"policy_k" yaml:"policy_k"`
	FraudTerms        []string `mapstructure:"fraud_terms" yaml:"fraud_terms"`
	PerTermK          int      `mapstructure:"per_term_k" yaml:"per_term_k"`
	MaxCommunications int      `mapstructure:"max_communications" yaml:"max_communications"`
	Rules             []string `mapstructure:"rules" yaml:"rules"`
}

// ConversationConfig controls optional multi-turn memory across requests
type ConversationConfig struct {
	Persist     bool   `mapstructure:"persist" yaml:"persist"`
	DSN         string `mapstructure:"dsn" yaml:"dsn"`
	MaxMessages int    `mapstructure:"max_messages" yaml:"max_messages"`
}

// DocumentSource is a text file to index, labelled with its source kind
type DocumentSource struct {
	Path   string `mapstructure:"path" yaml:"path"`
	Source string `mapstructure:"source" yaml:"source"`
}

// IngestConfig configures the offline ingestion job
type IngestConfig struct {
	TransactionsCSV string           `mapstructure:"transactions_csv" yaml:"transactions_csv"`
	Documents       []DocumentSource `mapstructure:"documents" yaml:"documents"`
	ChunkSize       int              `mapstructure:"chunk_size" yaml:"chunk_size"`
	ChunkOverlap    int              `mapstructure:"chunk_overlap" yaml:"chunk_overlap"`
	Workers         int              `mapstructure:"workers" yaml:"workers"`
}

// LoggingConfig configures zerolog output
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Host           string        `mapstructure:"host" yaml:"host"`
	Port           int           `mapstructure:"port" yaml:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

// Config holds the complete configuration for the auditor
type Config struct {
	LLM          LLMConfig          `mapstructure:"llm" yaml:"llm"`
	Embedding    EmbeddingConfig    `mapstructure:"embedding" yaml:"embedding"`
	Database     DatabaseConfig     `mapstructure:"database" yaml:"database"`
	Index        IndexConfig        `mapstructure:"index" yaml:"index"`
	Audit        AuditConfig        `mapstructure:"audit" yaml:"audit"`
	Conversation ConversationConfig `mapstructure:"conversation" yaml:"conversation"`
	Ingest       IngestConfig       `mapstructure:"ingest" yaml:"ingest"`
	Logging      LoggingConfig      `mapstructure:"logging" yaml:"logging"`
	Server       ServerConfig       `mapstructure:"server" yaml:"server"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	cfg := &Config{}

	// LLM defaults
	cfg.LLM.Provider = "openai"
	cfg.LLM.Endpoint = "https://api.groq.com/openai/v1"
	cfg.LLM.Model = "llama-3.3-70b-versatile"
	cfg.LLM.Temperature = 0
	cfg.LLM.SystemPrompt = DefaultSystemPrompt

	// all-minilm is all-MiniLM-L6-v2
	cfg.Embedding.Provider = "ollama"
	cfg.Embedding.Endpoint = "http://localhost:11434"
	cfg.Embedding.Model = "all-minilm"

	cfg.Database.Driver = "sqlite3"
	cfg.Database.DSN = "data/dunder_mifflin.db"
	cfg.Database.Table = "transactions"

	cfg.Index.Path = "data/semantic_index.db"

	cfg.Audit.ReferenceYear = 2008
	cfg.Audit.DefaultLimit = 20
	cfg.Audit.SampleSize = 10
	cfg.Audit.SearchK = 4
	cfg.Audit.PolicyQuery = "company compliance policy rules spending limits forbidden expense categories"
	cfg.Audit.PolicyK = 4
	cfg.Audit.FraudTerms = []string{
		"WUPHF investment with company money",
		"candles Serenity by Jan",
		"magic show expense",
		"helicopter rental",
		"divert funds reimbursement",
		"hide this expense from accounting",
	}
	cfg.Audit.PerTermK = 3
	cfg.Audit.MaxCommunications = 8
	cfg.Audit.Rules = []string{
		"amount > 500 requires approval",
		"suspicious categories: Personal Expenses, Entertainment, Magic, Helicopters",
		"suspicious keywords in description: WUPHF, Candles, Serenity, Magic",
	}

	cfg.Conversation.Persist = false
	cfg.Conversation.DSN = "data/conversations.db"
	cfg.Conversation.MaxMessages = 20

	cfg.Ingest.TransactionsCSV = "data/transactions.csv"
	cfg.Ingest.Documents = []DocumentSource{
		{Path: "data/compliance_policy.txt", Source: "policy"},
		{Path: "data/emails.txt", Source: "email"},
	}
	cfg.Ingest.ChunkSize = 1000
	cfg.Ingest.ChunkOverlap = 200
	cfg.Ingest.Workers = 4

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"

	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = 8000
	cfg.Server.RequestTimeout = 120 * time.Second
	cfg.Server.AllowedOrigins = []string{"*"}

	return cfg
}

// GetConfigPath returns the path to the config file
func GetConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	configDir := filepath.Join(homeDir, defaultConfigDir)
	return filepath.Join(configDir, defaultConfigFile), nil
}

// LoadOrCreate loads the config file at path (or the default path when empty),
// writing a default one first if it doesn't exist
func LoadOrCreate(path string) (*Config, bool, error) {
	if path == "" {
		var err error
		if path, err = GetConfigPath(); err != nil {
			return nil, false, err
		}
	}

	created := false
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := DefaultConfig().SaveTo(path); err != nil {
			return nil, false, fmt.Errorf("failed to save default config: %w", err)
		}
		created = true
	}

	cfg, err := Load(path)
	return cfg, created, err
}

// Load reads the configuration file and applies AUDITOR_* environment overrides.
// Callers validate with Validate or ValidateIngest depending on what they run.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	// Seed viper with the defaults so every key is known to AutomaticEnv
	defaults, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal defaults: %w", err)
	}
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Example: AUDITOR_LLM_API_KEY, AUDITOR_SERVER_PORT
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// GROQ_API_KEY and GOOGLE_API_KEY are accepted as aliases for the API keys
	if err := v.BindEnv("llm.api_key", envPrefix+"_LLM_API_KEY", "GROQ_API_KEY"); err != nil {
		return nil, fmt.Errorf("failed to bind api key env: %w", err)
	}
	if err := v.BindEnv("embedding.api_key", envPrefix+"_EMBEDDING_API_KEY", "GOOGLE_API_KEY"); err != nil {
		return nil, fmt.Errorf("failed to bind embedding api key env: %w", err)
	}

	v.SetConfigFile(path)
	if err := v.MergeInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// SaveTo writes the configuration to disk
func (c *Config) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks that required fields are present and valid
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "openai":
		if c.LLM.APIKey == "" {
			return &types.ConfigError{Field: "llm.api_key", Message: "required for the openai provider (set AUDITOR_LLM_API_KEY or GROQ_API_KEY)"}
		}
	case "ollama":
	default:
		return &types.ConfigError{Field: "llm.provider", Message: fmt.Sprintf("unsupported provider %q", c.LLM.Provider)}
	}
	if c.LLM.Model == "" {
		return &types.ConfigError{Field: "llm.model", Message: "is required"}
	}
	if c.LLM.Endpoint == "" {
		return &types.ConfigError{Field: "llm.endpoint", Message: "is required"}
	}
	if c.LLM.RetryAttempts < 0 {
		return &types.ConfigError{Field: "llm.retry_attempts", Message: "must not be negative"}
	}

	if err := c.validateStores(); err != nil {
		return err
	}

	if c.Audit.DefaultLimit <= 0 {
		return &types.ConfigError{Field: "audit.default_limit", Message: "must be positive"}
	}
	if c.Audit.SampleSize <= 0 {
		return &types.ConfigError{Field: "audit.sample_size", Message: "must be positive"}
	}
	if len(c.Audit.FraudTerms) == 0 {
		return &types.ConfigError{Field: "audit.fraud_terms", Message: "at least one term is required"}
	}

	if c.Conversation.Persist && c.Conversation.DSN == "" {
		return &types.ConfigError{Field: "conversation.dsn", Message: "is required when persist is enabled"}
	}

	return nil
}

// ValidateIngest checks the fields the ingestion job needs. No LLM settings are required.
func (c *Config) ValidateIngest() error {
	if err := c.validateStores(); err != nil {
		return err
	}
	if c.Ingest.ChunkSize <= 0 {
		return &types.ConfigError{Field: "ingest.chunk_size", Message: "must be positive"}
	}
	if c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return &types.ConfigError{Field: "ingest.chunk_overlap", Message: "must be between 0 and chunk_size"}
	}
	for i, doc := range c.Ingest.Documents {
		if doc.Path == "" || doc.Source == "" {
			return &types.ConfigError{Field: fmt.Sprintf("ingest.documents[%d]", i), Message: "path and source are required"}
		}
	}
	return nil
}

func (c *Config) validateStores() error {
	switch c.Embedding.Provider {
	case "ollama":
		if c.Embedding.Endpoint == "" {
			return &types.ConfigError{Field: "embedding.endpoint", Message: "is required for the ollama provider"}
		}
	case "genai":
		if c.Embedding.APIKey == "" {
			return &types.ConfigError{Field: "embedding.api_key", Message: "is required for the genai provider"}
		}
	default:
		return &types.ConfigError{Field: "embedding.provider", Message: fmt.Sprintf("unsupported provider %q", c.Embedding.Provider)}
	}
	if c.Embedding.Model == "" {
		return &types.ConfigError{Field: "embedding.model", Message: "is required"}
	}

	switch c.Database.Driver {
	case "sqlite3", "pgx":
	default:
		return &types.ConfigError{Field: "database.driver", Message: fmt.Sprintf("unsupported driver %q", c.Database.Driver)}
	}
	if c.Database.DSN == "" {
		return &types.ConfigError{Field: "database.dsn", Message: "is required"}
	}
	if c.Database.Table == "" {
		return &types.ConfigError{Field: "database.table", Message: "is required"}
	}

	if c.Index.Path == "" {
		return &types.ConfigError{Field: "index.path", Message: "is required"}
	}

	return nil
}
