package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/54b3r/lawbot-go/internal/logging"
)

// Defaults for the Ollama generate backend.
const (
	DefaultOllamaHost  = "http://localhost:11434"
	DefaultOllamaModel = "llama3.1"
)

// OllamaConfig holds the settings for constructing an OllamaGenerator.
type OllamaConfig struct {
	// Host is the Ollama server base URL.
	Host string
	// Model is the generation model name.
	Model string
	// HTTPClient performs the calls. Install a retryhttp.Transport on it to
	// retry gateway errors. Defaults to a client with a 120s timeout.
	HTTPClient *http.Client
}

// OllamaGenerator implements Completer against Ollama's /api/generate
// endpoint with streaming disabled. The endpoint's "context" array is the
// continuation state.
type OllamaGenerator struct {
	// host is the server base URL without a trailing slash.
	host string
	// model is the generation model name.
	model string
	// client performs the HTTP calls.
	client *http.Client
}

// NewOllamaGenerator constructs an OllamaGenerator, filling in defaults for
// empty fields.
func NewOllamaGenerator(cfg OllamaConfig) *OllamaGenerator {
	host := cfg.Host
	if host == "" {
		host = DefaultOllamaHost
	}
	model := cfg.Model
	if model == "" {
		model = DefaultOllamaModel
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}
	return &OllamaGenerator{
		host:   strings.TrimRight(host, "/"),
		model:  model,
		client: client,
	}
}

// Host returns the configured server base URL.
func (g *OllamaGenerator) Host() string { return g.host }

// Model returns the configured model name.
func (g *OllamaGenerator) Model() string { return g.model }

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Context json.RawMessage `json:"context"`
	Stream  bool            `json:"stream"`
}

type generateResponse struct {
	Response string          `json:"response"`
	Output   string          `json:"output"`
	Context  json.RawMessage `json:"context"`
	Error    string          `json:"error"`
}

// Complete implements Completer. The answer text is the first non-empty of
// the "response" and "output" fields. When the reply carries no "context"
// the request's state is returned unchanged.
func (g *OllamaGenerator) Complete(ctx context.Context, req Request) (Response, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return Response{}, ErrEmptyPrompt
	}

	state := req.State
	if len(state) == 0 {
		state = nil
	}
	payload, err := json.Marshal(generateRequest{
		Model:   g.model,
		Prompt:  req.Prompt,
		Context: state,
		Stream:  false,
	})
	if err != nil {
		return Response{}, fmt.Errorf("completion: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.host+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return Response{}, fmt.Errorf("completion: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := g.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("completion: request failed: %w", err)
	}
	defer resp.Body.Close()

	var out generateResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&out)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("HTTP %d", resp.StatusCode)
		if decodeErr == nil && out.Error != "" {
			msg = fmt.Sprintf("HTTP %d: %s", resp.StatusCode, out.Error)
		}
		return Response{}, fmt.Errorf("completion: ollama generate: %s", msg)
	}
	if decodeErr != nil {
		return Response{}, fmt.Errorf("completion: decode response: %w", decodeErr)
	}

	logging.FromContext(ctx).Debug("completion: ollama generate",
		slog.String("model", g.model),
		slog.Int("prompt_chars", len([]rune(req.Prompt))),
		slog.Duration("elapsed", time.Since(start)),
	)

	text := out.Response
	if text == "" {
		text = out.Output
	}
	next := req.State
	if len(out.Context) > 0 && string(out.Context) != "null" {
		next = out.Context
	}
	return Response{Text: text, State: next}, nil
}
