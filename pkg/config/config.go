package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// LLMProvider is google, openai or anthropic.
	LLMProvider string
	// LLMBackend is langchain or genai. genai only serves the google provider.
	LLMBackend      string
	GoogleApiKey    string
	OpenAIApiKey    string
	AnthropicApiKey string
	ReasoningModel  string
	FastModel       string

	// SearchProvider is exa, tavily, brave or arxiv.
	SearchProvider string
	ExaApiKey      string
	TavilyApiKey   string
	TavilyDepth    string
	BraveApiKey    string
	SearchTimeout  int

	MaxRounds         int
	ResultsPerQuery   int
	GenerationRetries int

	DatabaseURL string
	Port        string
	LogLevel    string
	// SuspensionTTLHours expires runs left awaiting clarification; 0 disables the sweep.
	SuspensionTTLHours int

	ChunkSize           int
	ChunkOverlap        int
	EmbeddingModel      string
	EmbeddingDimensions int
	CollectionName      string
}

// Load reads configuration from the environment. A .env file is loaded first
// when present, and CONFIG_FILE may name a YAML file of KEY: value pairs that
// supplies defaults the environment overrides.
func Load() (*Config, error) {
	_ = godotenv.Load()

	src := source{}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := src.readFile(path); err != nil {
			return nil, err
		}
	}

	return &Config{
		LLMProvider:     strings.ToLower(src.get("LLM_PROVIDER", "google")),
		LLMBackend:      strings.ToLower(src.get("LLM_BACKEND", "langchain")),
		GoogleApiKey:    src.get("GOOGLE_API_KEY", ""),
		OpenAIApiKey:    src.get("OPENAI_API_KEY", ""),
		AnthropicApiKey: src.get("ANTHROPIC_API_KEY", ""),
		ReasoningModel:  src.get("REASONING_MODEL", "gemini-3-pro-preview"),
		FastModel:       src.get("FAST_MODEL", "gemini-3-flash-preview"),

		SearchProvider: strings.ToLower(src.get("SEARCH_PROVIDER", "exa")),
		ExaApiKey:      src.get("EXA_API_KEY", ""),
		TavilyApiKey:   src.get("TAVILY_API_KEY", ""),
		TavilyDepth:    src.get("TAVILY_DEPTH", "basic"),
		BraveApiKey:    src.get("BRAVE_API_KEY", ""),
		SearchTimeout:  src.getInt("SEARCH_TIMEOUT_SECONDS", 20),

		MaxRounds:         src.getInt("MAX_ROUNDS", 3),
		ResultsPerQuery:   src.getInt("RESULTS_PER_QUERY", 5),
		GenerationRetries: src.getInt("GENERATION_RETRIES", 3),

		DatabaseURL:        src.get("DATABASE_URL", ""),
		Port:               src.get("PORT", "8081"),
		LogLevel:           src.get("LOG_LEVEL", "info"),
		SuspensionTTLHours: src.getInt("SUSPENSION_TTL_HOURS", 72),

		ChunkSize:           src.getInt("CHUNK_SIZE", 1000),
		ChunkOverlap:        src.getInt("CHUNK_OVERLAP", 200),
		EmbeddingModel:      src.get("EMBEDDING_MODEL", "gemini-embedding-001"),
		EmbeddingDimensions: src.getInt("EMBEDDING_DIMENSIONS", 1536),
		CollectionName:      src.get("COLLECTION_NAME", "research_evidence"),
	}, nil
}

// Validate reports every setting the selected providers need but lack.
func (c *Config) Validate() error {
	var errs []error

	switch c.LLMProvider {
	case "google":
		if c.GoogleApiKey == "" {
			errs = append(errs, errors.New("GOOGLE_API_KEY is required for the google provider"))
		}
	case "openai":
		if c.OpenAIApiKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY is required for the openai provider"))
		}
	case "anthropic":
		if c.AnthropicApiKey == "" {
			errs = append(errs, errors.New("ANTHROPIC_API_KEY is required for the anthropic provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown LLM_PROVIDER %q", c.LLMProvider))
	}
	switch c.LLMBackend {
	case "langchain":
	case "genai":
		if c.LLMProvider != "google" {
			errs = append(errs, fmt.Errorf("LLM_BACKEND genai requires LLM_PROVIDER google, got %q", c.LLMProvider))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown LLM_BACKEND %q", c.LLMBackend))
	}

	switch c.SearchProvider {
	case "exa":
		if c.ExaApiKey == "" {
			errs = append(errs, errors.New("EXA_API_KEY is required for the exa search provider"))
		}
	case "tavily":
		if c.TavilyApiKey == "" {
			errs = append(errs, errors.New("TAVILY_API_KEY is required for the tavily search provider"))
		}
	case "brave":
		if c.BraveApiKey == "" {
			errs = append(errs, errors.New("BRAVE_API_KEY is required for the brave search provider"))
		}
	case "arxiv":
	default:
		errs = append(errs, fmt.Errorf("unknown SEARCH_PROVIDER %q", c.SearchProvider))
	}

	if c.MaxRounds < 1 {
		errs = append(errs, fmt.Errorf("MAX_ROUNDS must be at least 1, got %d", c.MaxRounds))
	}
	if c.ResultsPerQuery < 1 {
		errs = append(errs, fmt.Errorf("RESULTS_PER_QUERY must be at least 1, got %d", c.ResultsPerQuery))
	}
	return errors.Join(errs...)
}

// SlogLevel parses LogLevel, falling back to info.
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// source resolves a key from the environment, then the config file.
type source map[string]string

func (s source) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	for k, v := range raw {
		s[strings.ToUpper(k)] = fmt.Sprint(v)
	}
	return nil
}

func (s source) get(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	if value, ok := s[key]; ok && value != "" {
		return value
	}
	return defaultValue
}

func (s source) getInt(key string, defaultValue int) int {
	valueStr := s.get(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
