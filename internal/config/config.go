// Package config provides YAML-based configuration for lawbot.
// Configuration is loaded with a layered precedence: defaults, then the YAML
// file, then env vars. Environment variables always win, so existing
// deployments driven purely by env keep working.
//
// File search order:
//  1. --config CLI flag (explicit path)
//  2. LAWBOT_CONFIG environment variable
//  3. ~/.lawbot/config.yaml
//  4. ./lawbot.yaml
//
// If no file is found the system runs entirely from env vars.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultCorpusDir is the corpus directory used when CORPUS_DIR is unset.
const DefaultCorpusDir = "data"

// Config is the top-level YAML configuration structure.
// Field names use yaml tags that mirror the env var naming (lowercase, underscored).
type Config struct {
	// Corpus locates the law text, Q&A and concept files.
	Corpus CorpusConfig `yaml:"corpus"`

	// Model configures the completion model.
	Model ModelConfig `yaml:"model"`

	// Embedding configures the embedding provider for retrieval.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// VectorStore selects the vector store backend: qdrant or memory.
	VectorStore string `yaml:"vector_store"`

	// Qdrant configures the Qdrant vector store connection.
	Qdrant QdrantConfig `yaml:"qdrant"`

	// RAG tunes retrieval and the answer caches.
	RAG RAGConfig `yaml:"rag"`

	// Server configures the HTTP server.
	Server ServerConfig `yaml:"server"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`

	// History configures session and transcript persistence.
	History HistoryConfig `yaml:"history"`

	// Tracing configures Langfuse tracing integration.
	Tracing TracingConfig `yaml:"tracing"`
}

// CorpusConfig holds corpus settings.
type CorpusConfig struct {
	// Dir is the directory holding law.txt, qa.txt and concept.txt.
	Dir string `yaml:"dir"`
	// ForceIndex rebuilds the vector index when the server starts.
	ForceIndex bool `yaml:"force_index"`
}

// ModelConfig holds completion model settings.
type ModelConfig struct {
	// Provider selects the chat backend: ollama, openai, azure, gemini, ark.
	Provider string `yaml:"provider"`

	// CompletionMode selects generate (Ollama /api/generate) or chat
	// (any provider through eino).
	CompletionMode string `yaml:"completion_mode"`

	// MaxTokens is the maximum number of tokens in the response.
	MaxTokens int `yaml:"max_tokens"`

	// Temperature controls response randomness (0.0 to 1.0).
	Temperature float32 `yaml:"temperature"`

	// Ollama holds Ollama-specific settings.
	Ollama OllamaConfig `yaml:"ollama"`

	// OpenAI holds OpenAI-specific settings.
	OpenAI OpenAIConfig `yaml:"openai"`

	// Azure holds Azure OpenAI-specific settings.
	Azure AzureConfig `yaml:"azure"`

	// Gemini holds Google Gemini-specific settings.
	Gemini GeminiConfig `yaml:"gemini"`

	// Ark holds Volcengine Ark-specific settings.
	Ark ArkConfig `yaml:"ark"`
}

// OllamaConfig holds Ollama provider settings.
type OllamaConfig struct {
	// Host is the Ollama API endpoint.
	Host string `yaml:"host"`
	// Model is the Ollama model name.
	Model string `yaml:"model"`
}

// OpenAIConfig holds OpenAI provider settings.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key. Prefer env var OPENAI_API_KEY.
	APIKey string `yaml:"api_key"`
	// Model is the OpenAI model name.
	Model string `yaml:"model"`
	// BaseURL points at an OpenAI-compatible endpoint.
	BaseURL string `yaml:"base_url"`
}

// AzureConfig holds Azure OpenAI provider settings.
type AzureConfig struct {
	// APIKey is the Azure OpenAI API key. Prefer env var AZURE_OPENAI_API_KEY.
	APIKey string `yaml:"api_key"`
	// Endpoint is the Azure OpenAI resource endpoint.
	Endpoint string `yaml:"endpoint"`
	// Deployment is the Azure OpenAI deployment name.
	Deployment string `yaml:"deployment"`
	// APIVersion is the Azure OpenAI API version.
	APIVersion string `yaml:"api_version"`
}

// GeminiConfig holds Google Gemini provider settings.
type GeminiConfig struct {
	// APIKey is the Google API key. Prefer env var GOOGLE_API_KEY.
	APIKey string `yaml:"api_key"`
	// Model is the Gemini model name.
	Model string `yaml:"model"`
}

// ArkConfig holds Volcengine Ark provider settings.
type ArkConfig struct {
	// APIKey is the Ark API key. Prefer env var ARK_API_KEY.
	APIKey string `yaml:"api_key"`
	// Model is the Ark endpoint or model id.
	Model string `yaml:"model"`
	// BaseURL overrides the regional Ark endpoint.
	BaseURL string `yaml:"base_url"`
	// Region is the Ark region.
	Region string `yaml:"region"`
}

// EmbeddingConfig holds embedding provider settings for retrieval.
type EmbeddingConfig struct {
	// Provider selects the embedding backend (ollama, openai, azure).
	Provider string `yaml:"provider"`
	// Model is the embedding model name.
	Model string `yaml:"model"`
	// Dimensions overrides the embedding vector size.
	Dimensions int `yaml:"dimensions"`
	// APIKey is the embedding API key. Prefer env var EMBEDDING_API_KEY.
	APIKey string `yaml:"api_key"`
	// Endpoint is the embedding API endpoint.
	Endpoint string `yaml:"endpoint"`
}

// QdrantConfig holds Qdrant vector store settings.
type QdrantConfig struct {
	// Host is the Qdrant server hostname.
	Host string `yaml:"host"`
	// Port is the Qdrant gRPC port.
	Port int `yaml:"port"`
	// Collection is the Qdrant collection name.
	Collection string `yaml:"collection"`
	// APIKey is the Qdrant API key. Prefer env var QDRANT_API_KEY.
	APIKey string `yaml:"api_key"`
	// TLS enables TLS for the Qdrant connection.
	TLS bool `yaml:"tls"`
}

// RAGConfig holds retrieval and cache tunables.
type RAGConfig struct {
	// TopK is the number of chunks retrieved per question.
	TopK int `yaml:"top_k"`
	// Threshold is the minimum similarity score kept.
	Threshold float32 `yaml:"threshold"`
	// HighConfidence is the score at which the top chunk is returned verbatim.
	HighConfidence float32 `yaml:"high_confidence"`
	// MaxContextChars bounds the context handed to the completion model.
	MaxContextChars int `yaml:"max_context_chars"`
	// EmbedCacheSize is the capacity of the query-embedding cache.
	EmbedCacheSize int `yaml:"embed_cache_size"`
	// ResponseCacheSize is the capacity of the answer cache.
	ResponseCacheSize int `yaml:"response_cache_size"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the bind address.
	Host string `yaml:"host"`
	// Port is the TCP port.
	Port int `yaml:"port"`
	// APIKey is the Bearer token for API authentication. Prefer env var LAWBOT_API_KEY.
	APIKey string `yaml:"api_key"`
	// StaticDir is the web frontend directory served at /.
	StaticDir string `yaml:"static_dir"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: json, text.
	Format string `yaml:"format"`
}

// HistoryConfig holds session persistence settings.
type HistoryConfig struct {
	// DBPath is the SQLite database path. Set to "disabled" to keep sessions
	// in memory and turn the transcript off.
	DBPath string `yaml:"db_path"`
}

// TracingConfig holds Langfuse tracing settings.
type TracingConfig struct {
	// PublicKey is the Langfuse public key. Prefer env var LANGFUSE_PUBLIC_KEY.
	PublicKey string `yaml:"public_key"`
	// SecretKey is the Langfuse secret key. Prefer env var LANGFUSE_SECRET_KEY.
	SecretKey string `yaml:"secret_key"`
	// Host is the Langfuse API host.
	Host string `yaml:"host"`
}

// envMapping maps YAML config fields to their corresponding env var names.
// Only non-empty YAML values are applied; env vars always take precedence.
var envMapping = []struct {
	envKey string
	value  func(*Config) string
}{
	{"CORPUS_DIR", func(c *Config) string { return c.Corpus.Dir }},
	{"FORCE_INDEX", func(c *Config) string { return boolStr(c.Corpus.ForceIndex) }},
	{"MODEL_PROVIDER", func(c *Config) string { return c.Model.Provider }},
	{"COMPLETION_MODE", func(c *Config) string { return c.Model.CompletionMode }},
	{"MODEL_MAX_TOKENS", func(c *Config) string { return intStr(c.Model.MaxTokens) }},
	{"MODEL_TEMPERATURE", func(c *Config) string { return float32Str(c.Model.Temperature) }},
	{"OLLAMA_HOST", func(c *Config) string { return c.Model.Ollama.Host }},
	{"OLLAMA_MODEL", func(c *Config) string { return c.Model.Ollama.Model }},
	{"OPENAI_API_KEY", func(c *Config) string { return c.Model.OpenAI.APIKey }},
	{"OPENAI_MODEL", func(c *Config) string { return c.Model.OpenAI.Model }},
	{"OPENAI_BASE_URL", func(c *Config) string { return c.Model.OpenAI.BaseURL }},
	{"AZURE_OPENAI_API_KEY", func(c *Config) string { return c.Model.Azure.APIKey }},
	{"AZURE_OPENAI_ENDPOINT", func(c *Config) string { return c.Model.Azure.Endpoint }},
	{"AZURE_OPENAI_DEPLOYMENT", func(c *Config) string { return c.Model.Azure.Deployment }},
	{"AZURE_OPENAI_API_VERSION", func(c *Config) string { return c.Model.Azure.APIVersion }},
	{"GOOGLE_API_KEY", func(c *Config) string { return c.Model.Gemini.APIKey }},
	{"GEMINI_MODEL", func(c *Config) string { return c.Model.Gemini.Model }},
	{"ARK_API_KEY", func(c *Config) string { return c.Model.Ark.APIKey }},
	{"ARK_MODEL", func(c *Config) string { return c.Model.Ark.Model }},
	{"ARK_BASE_URL", func(c *Config) string { return c.Model.Ark.BaseURL }},
	{"ARK_REGION", func(c *Config) string { return c.Model.Ark.Region }},
	{"EMBEDDING_PROVIDER", func(c *Config) string { return c.Embedding.Provider }},
	{"EMBEDDING_MODEL", func(c *Config) string { return c.Embedding.Model }},
	{"EMBEDDING_DIMENSIONS", func(c *Config) string { return intStr(c.Embedding.Dimensions) }},
	{"EMBEDDING_API_KEY", func(c *Config) string { return c.Embedding.APIKey }},
	{"EMBEDDING_ENDPOINT", func(c *Config) string { return c.Embedding.Endpoint }},
	{"VECTOR_STORE", func(c *Config) string { return c.VectorStore }},
	{"QDRANT_HOST", func(c *Config) string { return c.Qdrant.Host }},
	{"QDRANT_PORT", func(c *Config) string { return intStr(c.Qdrant.Port) }},
	{"QDRANT_COLLECTION", func(c *Config) string { return c.Qdrant.Collection }},
	{"QDRANT_API_KEY", func(c *Config) string { return c.Qdrant.APIKey }},
	{"QDRANT_TLS", func(c *Config) string { return boolStr(c.Qdrant.TLS) }},
	{"RAG_TOP_K", func(c *Config) string { return intStr(c.RAG.TopK) }},
	{"RAG_THRESHOLD", func(c *Config) string { return float32Str(c.RAG.Threshold) }},
	{"RAG_HIGH_CONFIDENCE", func(c *Config) string { return float32Str(c.RAG.HighConfidence) }},
	{"RAG_MAX_CONTEXT_CHARS", func(c *Config) string { return intStr(c.RAG.MaxContextChars) }},
	{"EMBED_CACHE_SIZE", func(c *Config) string { return intStr(c.RAG.EmbedCacheSize) }},
	{"RESPONSE_CACHE_SIZE", func(c *Config) string { return intStr(c.RAG.ResponseCacheSize) }},
	{"LAWBOT_HOST", func(c *Config) string { return c.Server.Host }},
	{"LAWBOT_PORT", func(c *Config) string { return intStr(c.Server.Port) }},
	{"LAWBOT_API_KEY", func(c *Config) string { return c.Server.APIKey }},
	{"LAWBOT_STATIC_DIR", func(c *Config) string { return c.Server.StaticDir }},
	{"LOG_LEVEL", func(c *Config) string { return c.Logging.Level }},
	{"LOG_FORMAT", func(c *Config) string { return c.Logging.Format }},
	{"LAWBOT_HISTORY_DB", func(c *Config) string { return c.History.DBPath }},
	{"LANGFUSE_PUBLIC_KEY", func(c *Config) string { return c.Tracing.PublicKey }},
	{"LANGFUSE_SECRET_KEY", func(c *Config) string { return c.Tracing.SecretKey }},
	{"LANGFUSE_HOST", func(c *Config) string { return c.Tracing.Host }},
}

// Load reads a YAML config file and applies non-empty values as environment
// variables. Existing env vars are never overwritten (env always wins).
// Returns the path that was loaded, or empty string if no file was found.
func Load(explicitPath string, log *slog.Logger) (string, error) {
	path := resolveConfigPath(explicitPath)
	if path == "" {
		log.Debug("config: no YAML config file found, using env vars only")
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	applied := 0
	for _, m := range envMapping {
		yamlVal := m.value(&cfg)
		if yamlVal == "" || yamlVal == "0" || yamlVal == "false" {
			continue
		}
		if os.Getenv(m.envKey) != "" {
			continue
		}
		if err := os.Setenv(m.envKey, yamlVal); err != nil {
			return "", fmt.Errorf("config: failed to set %s: %w", m.envKey, err)
		}
		applied++
	}

	log.Info("config: loaded YAML config",
		slog.String("path", path),
		slog.Int("keys_applied", applied),
	)

	return path, nil
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv("LAWBOT_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".lawbot", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("lawbot.yaml"); err == nil {
		return "lawbot.yaml"
	}

	return ""
}

// RAG is the resolved retrieval tuning. Zero fields mean "use the package
// default" to the components that receive them.
type RAG struct {
	TopK              int
	Threshold         float32
	HighConfidence    float32
	MaxContextChars   int
	EmbedCacheSize    int
	ResponseCacheSize int
}

// RAGFromEnv reads the retrieval tunables. Unset or unparseable values are
// left at zero.
func RAGFromEnv() RAG {
	return RAG{
		TopK:              EnvInt("RAG_TOP_K", 0),
		Threshold:         EnvFloat32("RAG_THRESHOLD", 0),
		HighConfidence:    EnvFloat32("RAG_HIGH_CONFIDENCE", 0),
		MaxContextChars:   EnvInt("RAG_MAX_CONTEXT_CHARS", 0),
		EmbedCacheSize:    EnvInt("EMBED_CACHE_SIZE", 0),
		ResponseCacheSize: EnvInt("RESPONSE_CACHE_SIZE", 0),
	}
}

// CorpusDir returns CORPUS_DIR or DefaultCorpusDir.
func CorpusDir() string {
	return EnvString("CORPUS_DIR", DefaultCorpusDir)
}

// EnvString returns the value of key, or fallback when unset or blank.
func EnvString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// EnvInt returns key parsed as an int, or fallback when unset or invalid.
func EnvInt(key string, fallback int) int {
	v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return fallback
	}
	return v
}

// EnvFloat32 returns key parsed as a float32, or fallback when unset or invalid.
func EnvFloat32(key string, fallback float32) float32 {
	v, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(key)), 32)
	if err != nil {
		return fallback
	}
	return float32(v)
}

// EnvBool returns key parsed with strconv.ParseBool, or fallback when unset
// or invalid.
func EnvBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return fallback
	}
	return v
}

// intStr converts an int to string, returning "" for zero values.
func intStr(v int) string {
	if v == 0 {
		return ""
	}
	return strconv.Itoa(v)
}

// float32Str converts a float32 to string, returning "" for zero values.
func float32Str(v float32) string {
	if v == 0 {
		return ""
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", v), "0"), ".")
}

// boolStr converts a bool to string, returning "" for false.
func boolStr(v bool) string {
	if !v {
		return ""
	}
	return "true"
}
