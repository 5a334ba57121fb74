// internal/config/config.go

package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pterm/pterm"
	"gopkg.in/yaml.v2"

	"probe/internal/toolcontract"
)

// DatabaseConfig selects the Episode/Topic/Strategy store backend.
type DatabaseConfig struct {
	Backend          string `yaml:"backend"` // "memory" | "postgres"
	ConnectionString string `yaml:"connection_string"`
}

// VectorStoreConfig selects the senso knowledge-store backend (§1's
// out-of-scope vector/knowledge boundary, wired via vectorstore.BackendConfig).
type VectorStoreConfig struct {
	Backend    string `yaml:"backend"` // "memory" | "qdrant" | "postgres"
	DSN        string `yaml:"dsn"`
	Collection string `yaml:"collection,omitempty"`
	Dimensions int    `yaml:"dimensions"`
	Metric     string `yaml:"metric,omitempty"`
}

// LLMConfig is the credential/endpoint pair every agent role's Provider
// shares, plus the tiered model set the Evolution Analyzer walks up/down.
type LLMConfig struct {
	APIKey       string   `yaml:"api_key"`
	Endpoint     string   `yaml:"endpoint,omitempty"`
	DefaultModel string   `yaml:"default_model"`
	ModelTier    []string `yaml:"model_tier,omitempty"`
}

// ToolTimeoutConfig overrides internal/toolcontract's per-tool default
// timeout; zero/absent entries fall back to toolcontract.DefaultTimeout.
type ToolTimeoutConfig struct {
	Search     time.Duration `yaml:"search,omitempty"`
	Evaluate   time.Duration `yaml:"evaluate,omitempty"`
	Extract    time.Duration `yaml:"extract,omitempty"`
	Synthesize time.Duration `yaml:"synthesize,omitempty"`
	Plan       time.Duration `yaml:"plan,omitempty"`
}

// Timeouts converts the YAML-facing config into the map toolcontract.New
// expects, omitting unset entries so they fall back to DefaultTimeout.
func (t ToolTimeoutConfig) Timeouts() toolcontract.Timeouts {
	out := toolcontract.Timeouts{}
	if t.Search > 0 {
		out["search"] = t.Search
	}
	if t.Evaluate > 0 {
		out["evaluate"] = t.Evaluate
	}
	if t.Extract > 0 {
		out["extract"] = t.Extract
	}
	if t.Synthesize > 0 {
		out["synthesize"] = t.Synthesize
	}
	if t.Plan > 0 {
		out["plan"] = t.Plan
	}
	return out
}

// WebSearchConfig points the search tool at a SearXNG instance.
type WebSearchConfig struct {
	SearxngURL string `yaml:"searxng_url"`
}

// EvolutionConfig controls the Evolution Analyzer's triggering threshold
// (§4.7's "configurable minEpisodes").
type EvolutionConfig struct {
	MinEpisodes int `yaml:"min_episodes"`
}

// Config is probe's entire runtime configuration (§6.4).
type Config struct {
	Host string `yaml:"host"`
	Port int     `yaml:"port"`

	Database    DatabaseConfig    `yaml:"database"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	LLM         LLMConfig         `yaml:"llm"`
	ToolTimeout ToolTimeoutConfig `yaml:"tool_timeouts,omitempty"`
	WebSearch   WebSearchConfig   `yaml:"web_search"`
	Evolution   EvolutionConfig   `yaml:"evolution"`
}

// LoadConfig reads the configuration from a YAML file and unmarshals it
// into a Config, filling in defaults the way the teacher's LoadConfig does.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		pterm.Error.Printf("Error reading config file: %v\n", err)
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		pterm.Error.Printf("Error unmarshaling config: %v\n", err)
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if config.Host == "" {
		config.Host = "0.0.0.0"
		pterm.Info.Println("No host specified, using default (0.0.0.0).")
	}
	if config.Port <= 0 {
		config.Port = 8099
		pterm.Info.Println("No port specified, using default (8099).")
	}

	if config.Database.Backend == "" {
		config.Database.Backend = "memory"
		pterm.Warning.Println("No database backend specified, using in-memory store (not durable).")
	}

	if config.VectorStore.Backend == "" {
		config.VectorStore.Backend = "memory"
		pterm.Info.Println("No vector store backend specified, using in-memory senso store.")
	}
	if config.VectorStore.Dimensions <= 0 {
		config.VectorStore.Dimensions = 64
	}

	if config.LLM.DefaultModel == "" {
		pterm.Warning.Println("No default LLM model specified; research episodes will fail until one is configured.")
	}

	if config.Evolution.MinEpisodes <= 0 {
		config.Evolution.MinEpisodes = 5 // conservative mode default, per §4.7
		pterm.Info.Println("No min_episodes specified for evolution, using conservative default (5).")
	}

	if config.WebSearch.SearxngURL == "" {
		pterm.Warning.Println("No searxng_url configured; web search tool calls will fail.")
	}

	pterm.Success.Println("Configuration loaded successfully.")
	return &config, nil
}
