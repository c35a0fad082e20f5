package embedder

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// knownChatModelFragments contains name fragments that identify chat or
// completion models, which are not suitable for embedding. If EMBEDDING_MODEL
// matches any of these a warning is emitted.
var knownChatModelFragments = []string{
	"gpt-4",
	"gpt-3.5",
	"gpt-35",
	"llama3",
	"llama-3",
	"mistral",
	"mixtral",
	"gemma",
	"phi3",
	"qwen",
	"deepseek",
}

// looksLikeChatModel returns true when the model name resembles a known
// chat/completion model rather than a dedicated embedding model.
func looksLikeChatModel(model string) bool {
	lower := strings.ToLower(model)
	for _, frag := range knownChatModelFragments {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}

// Validate is a pre-flight check run before building the embedder and the
// vector store. It returns an error when the configuration is clearly broken
// (missing credentials for the selected backend) and warns when the vector
// size and model disagree or the model looks like a chat model.
func Validate(log *slog.Logger) error {
	backend := Backend()

	switch backend {
	case "ollama":
	case "openai":
		if os.Getenv("EMBEDDING_API_KEY") == "" && os.Getenv("OPENAI_API_KEY") == "" {
			return fmt.Errorf("embedder: no OpenAI API key found, set OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
	case "azure":
		if os.Getenv("EMBEDDING_API_KEY") == "" && os.Getenv("AZURE_OPENAI_API_KEY") == "" {
			return fmt.Errorf("embedder: no Azure API key found, set AZURE_OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		if os.Getenv("EMBEDDING_ENDPOINT") == "" && os.Getenv("AZURE_OPENAI_ENDPOINT") == "" {
			return fmt.Errorf("embedder: no Azure endpoint found, set AZURE_OPENAI_ENDPOINT or EMBEDDING_ENDPOINT")
		}
	default:
		return fmt.Errorf("embedder: backend %q has no embedding support, set EMBEDDING_PROVIDER to ollama, openai or azure", backend)
	}

	model := os.Getenv("EMBEDDING_MODEL")
	if model != "" && looksLikeChatModel(model) {
		log.Warn("embedder: EMBEDDING_MODEL looks like a chat model, not an embedding model",
			slog.String("model", model),
			slog.String("hint", "use a dedicated embedding model e.g. all-minilm, text-embedding-3-small"),
		)
	}
	if backend == "ollama" && model != "" && model != defaultOllamaModel && os.Getenv("EMBEDDING_DIMENSIONS") == "" {
		log.Warn("embedder: custom Ollama model without EMBEDDING_DIMENSIONS, assuming 384",
			slog.String("model", model),
		)
	}
	return nil
}
