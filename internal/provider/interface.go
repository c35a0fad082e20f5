// Package provider selects and constructs the eino chat model used when the
// completion mode is "chat". Supported backends: Ollama, OpenAI, Azure
// OpenAI, Google Gemini and Volcengine Ark.
package provider

import (
	"fmt"
	"strings"
)

// Backend enumerates the supported LLM inference providers.
type Backend string

const (
	// BackendOllama selects a locally running Ollama instance.
	BackendOllama Backend = "ollama"
	// BackendOpenAI selects the OpenAI API.
	BackendOpenAI Backend = "openai"
	// BackendAzure selects Azure OpenAI Service.
	BackendAzure Backend = "azure"
	// BackendGemini selects Google Gemini via AI Studio.
	BackendGemini Backend = "gemini"
	// BackendArk selects the Volcengine Ark model runtime.
	BackendArk Backend = "ark"
)

// ProviderOllama holds Ollama connection settings.
type ProviderOllama struct {
	// Host is the Ollama server base URL (OLLAMA_HOST).
	Host string
	// Model is the chat model name (OLLAMA_MODEL).
	Model string
}

// ProviderOpenAI holds OpenAI credentials.
type ProviderOpenAI struct {
	// APIKey is the bearer credential (OPENAI_API_KEY).
	APIKey string
	// Model is the model name (OPENAI_MODEL).
	Model string
	// BaseURL overrides the API endpoint for OpenAI-compatible gateways
	// (OPENAI_BASE_URL). Empty uses the public API.
	BaseURL string
}

// ProviderAzureOpenAI holds Azure OpenAI Service settings.
type ProviderAzureOpenAI struct {
	// APIKey is the api-key header value (AZURE_OPENAI_API_KEY).
	APIKey string
	// Endpoint is the resource endpoint (AZURE_OPENAI_ENDPOINT).
	Endpoint string
	// Deployment is the deployment name (AZURE_OPENAI_DEPLOYMENT).
	Deployment string
	// APIVersion is the REST API version (AZURE_OPENAI_API_VERSION).
	APIVersion string
}

// ProviderGemini holds Google AI Studio credentials.
type ProviderGemini struct {
	// APIKey is the AI Studio key (GOOGLE_API_KEY).
	APIKey string
	// Model is the model name (GEMINI_MODEL).
	Model string
}

// ProviderArk holds Volcengine Ark settings.
type ProviderArk struct {
	// APIKey is the Ark API key (ARK_API_KEY).
	APIKey string
	// Model is the endpoint ID or model name (ARK_MODEL).
	Model string
	// BaseURL overrides the regional endpoint (ARK_BASE_URL).
	BaseURL string
	// Region is the Volcengine region (ARK_REGION).
	Region string
}

// SharedTuning holds generation parameters applied to every backend that
// supports them.
type SharedTuning struct {
	// MaxTokens caps the number of tokens generated per response.
	MaxTokens int
	// Temperature controls response randomness (0.0 to 1.0).
	Temperature float32
}

// Config holds all provider-level configuration resolved from environment
// variables or explicit caller-supplied values. Only the block matching
// Backend is consulted.
type Config struct {
	// Backend identifies which inference provider to use.
	Backend Backend

	Ollama      ProviderOllama
	OpenAI      ProviderOpenAI
	AzureOpenAI ProviderAzureOpenAI
	Gemini      ProviderGemini
	Ark         ProviderArk

	// Tuning holds generation parameters shared by all backends.
	Tuning SharedTuning
}

// Validate reports the first missing setting for the selected backend. The
// error names the environment variable to set.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendOllama:
		if c.Ollama.Host == "" {
			return fmt.Errorf("provider: OLLAMA_HOST is required for ollama backend")
		}
		if c.Ollama.Model == "" {
			return fmt.Errorf("provider: OLLAMA_MODEL is required for ollama backend")
		}
	case BackendOpenAI:
		if c.OpenAI.APIKey == "" {
			return fmt.Errorf("provider: OPENAI_API_KEY is required for openai backend")
		}
		if c.OpenAI.Model == "" {
			return fmt.Errorf("provider: OPENAI_MODEL is required for openai backend")
		}
	case BackendAzure:
		if c.AzureOpenAI.APIKey == "" {
			return fmt.Errorf("provider: AZURE_OPENAI_API_KEY is required for azure backend")
		}
		if c.AzureOpenAI.Endpoint == "" {
			return fmt.Errorf("provider: AZURE_OPENAI_ENDPOINT is required for azure backend")
		}
		if c.AzureOpenAI.Deployment == "" {
			return fmt.Errorf("provider: AZURE_OPENAI_DEPLOYMENT is required for azure backend")
		}
	case BackendGemini:
		if c.Gemini.APIKey == "" {
			return fmt.Errorf("provider: GOOGLE_API_KEY is required for gemini backend")
		}
		if c.Gemini.Model == "" {
			return fmt.Errorf("provider: GEMINI_MODEL is required for gemini backend")
		}
	case BackendArk:
		if c.Ark.APIKey == "" {
			return fmt.Errorf("provider: ARK_API_KEY is required for ark backend")
		}
		if c.Ark.Model == "" {
			return fmt.Errorf("provider: ARK_MODEL is required for ark backend")
		}
	default:
		return fmt.Errorf("provider: unknown backend %q, valid values: ollama, openai, azure, gemini, ark", c.Backend)
	}
	return nil
}

// isAzureReasoningModel reports whether an Azure deployment name refers to an
// o-series or codex reasoning model. Those reject the temperature and
// max_tokens parameters.
func isAzureReasoningModel(deployment string) bool {
	d := strings.ToLower(deployment)
	for _, p := range []string{"o1", "o3", "o4", "codex"} {
		if d == p || strings.HasPrefix(d, p+"-") {
			return true
		}
	}
	return false
}
