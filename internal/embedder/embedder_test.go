package embedder

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"reflect"
	"slices"
	"strings"
	"sync"
	"testing"
)

// wantErrContaining fails the test unless err is non-nil and mentions substr.
func wantErrContaining(t *testing.T, err error, substr string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected an error containing %q, got nil", substr)
	}
	if !strings.Contains(err.Error(), substr) {
		t.Errorf("error %q does not contain %q", err, substr)
	}
}

func TestOllamaEmbedder_Embed(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("path = %q, want /api/embed", r.URL.Path)
		}
		var req ollamaEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "all-minilm" {
			t.Errorf("model = %q, want all-minilm", req.Model)
		}

		out := ollamaEmbedResponse{}
		for i := range req.Input {
			out.Embeddings = append(out.Embeddings, []float32{float32(i), 1})
		}
		_ = json.NewEncoder(w).Encode(out)
	}))
	t.Cleanup(srv.Close)

	emb := NewOllamaEmbedder(&OllamaConfig{Host: srv.URL + "/"})
	vecs, err := emb.Embed(t.Context(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if want := [][]float32{{0, 1}, {1, 1}}; !reflect.DeepEqual(vecs, want) {
		t.Errorf("Embed = %v, want %v", vecs, want)
	}
}

func TestOllamaEmbedder_EmptyInput(t *testing.T) {
	t.Parallel()
	emb := NewOllamaEmbedder(&OllamaConfig{Host: "http://127.0.0.1:1"})
	vecs, err := emb.Embed(t.Context(), nil)
	if err != nil {
		t.Fatalf("Embed(nil): %v", err)
	}
	if vecs != nil {
		t.Errorf("Embed(nil) = %v, want nil", vecs)
	}
}

func TestOllamaEmbedder_ErrorBody(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":"model \"all-minilm\" not found"}`)
	}))
	t.Cleanup(srv.Close)

	emb := NewOllamaEmbedder(&OllamaConfig{Host: srv.URL})
	_, err := emb.Embed(t.Context(), []string{"a"})
	wantErrContaining(t, err, "not found")
}

func TestOllamaEmbedder_CountMismatch(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"embeddings":[[1,2]]}`)
	}))
	t.Cleanup(srv.Close)

	emb := NewOllamaEmbedder(&OllamaConfig{Host: srv.URL})
	_, err := emb.Embed(t.Context(), []string{"a", "b"})
	wantErrContaining(t, err, "expected 2 embeddings")
}

func TestOpenAIEmbedder_OrdersByIndex(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			t.Errorf("path = %q, want /v1/embeddings", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		_, _ = io.WriteString(w, `{"data":[{"embedding":[2],"index":1},{"embedding":[1],"index":0}]}`)
	}))
	t.Cleanup(srv.Close)

	emb := NewOpenAIEmbedder(&OpenAIConfig{BaseURL: srv.URL + "/v1", APIKey: "sk-test", Model: "text-embedding-3-small"})
	vecs, err := emb.Embed(t.Context(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if want := [][]float32{{1}, {2}}; !reflect.DeepEqual(vecs, want) {
		t.Errorf("Embed = %v, want %v", vecs, want)
	}
}

func TestOpenAIEmbedder_AzureRouting(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/openai/deployments/embed-dep/embeddings" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("api-version"); got != "2025-04-01-preview" {
			t.Errorf("api-version = %q", got)
		}
		if got := r.Header.Get("api-key"); got != "az-key" {
			t.Errorf("api-key = %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "" {
			t.Errorf("Authorization must be unset for Azure, got %q", got)
		}
		_, _ = io.WriteString(w, `{"data":[{"embedding":[0.5],"index":0}]}`)
	}))
	t.Cleanup(srv.Close)

	emb := NewOpenAIEmbedder(&OpenAIConfig{
		BaseURL:    srv.URL + "/openai",
		APIKey:     "az-key",
		Model:      "embed-dep",
		Azure:      true,
		APIVersion: "2025-04-01-preview",
	})
	vecs, err := emb.Embed(t.Context(), []string{"x"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if want := [][]float32{{0.5}}; !reflect.DeepEqual(vecs, want) {
		t.Errorf("Embed = %v, want %v", vecs, want)
	}
}

func TestOpenAIEmbedder_APIError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"invalid api key"}}`)
	}))
	t.Cleanup(srv.Close)

	emb := NewOpenAIEmbedder(&OpenAIConfig{BaseURL: srv.URL, APIKey: "bad"})
	_, err := emb.Embed(t.Context(), []string{"x"})
	wantErrContaining(t, err, "invalid api key")
}

func TestOpenAIEmbedder_SplitsIntoBatches(t *testing.T) {
	t.Parallel()
	var sizes []int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openaiEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		mu.Lock()
		sizes = append(sizes, len(req.Input))
		mu.Unlock()

		resp := openaiEmbedResponse{}
		for i, in := range req.Input {
			resp.Data = append(resp.Data, struct {
				Embedding []float32 `json:"embedding"`
				Index     int       `json:"index"`
			}{Embedding: []float32{float32(len(in))}, Index: i})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)

	emb := NewOpenAIEmbedder(&OpenAIConfig{BaseURL: srv.URL, APIKey: "k", BatchSize: 2})
	vecs, err := emb.Embed(t.Context(), []string{"a", "bb", "ccc", "dddd", "eeeee"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if !slices.Equal(sizes, []int{2, 2, 1}) {
		t.Errorf("batch sizes = %v, want [2 2 1]", sizes)
	}
	if want := [][]float32{{1}, {2}, {3}, {4}, {5}}; !reflect.DeepEqual(vecs, want) {
		t.Errorf("Embed = %v, want %v", vecs, want)
	}
}

func TestOpenAIEmbedder_DimensionMismatch(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"data":[{"embedding":[0.1,0.2],"index":0}]}`)
	}))
	t.Cleanup(srv.Close)

	emb := NewOpenAIEmbedder(&OpenAIConfig{BaseURL: srv.URL, APIKey: "k", Dimensions: 384})
	_, err := emb.Embed(t.Context(), []string{"Điều 1"})
	wantErrContaining(t, err, "expects 384")
}

func TestDefaultDimensions(t *testing.T) {
	t.Setenv("EMBEDDING_DIMENSIONS", "")
	tests := map[string]int{"ollama": 384, "openai": 1536, "azure": 1536}
	for backend, want := range tests {
		if got := DefaultDimensions(backend); got != want {
			t.Errorf("DefaultDimensions(%q) = %d, want %d", backend, got, want)
		}
	}

	t.Setenv("EMBEDDING_DIMENSIONS", "768")
	if got := DefaultDimensions("ollama"); got != 768 {
		t.Errorf("override: DefaultDimensions = %d, want 768", got)
	}
}

func TestBackend_Inherits(t *testing.T) {
	t.Setenv("EMBEDDING_PROVIDER", "")
	t.Setenv("MODEL_PROVIDER", "")
	if got := Backend(); got != "ollama" {
		t.Errorf("Backend() = %q, want ollama", got)
	}

	t.Setenv("MODEL_PROVIDER", "openai")
	if got := Backend(); got != "openai" {
		t.Errorf("Backend() = %q, want openai inherited from MODEL_PROVIDER", got)
	}

	t.Setenv("EMBEDDING_PROVIDER", "azure")
	if got := Backend(); got != "azure" {
		t.Errorf("Backend() = %q, want azure", got)
	}
}

func TestNewFromEnv_MissingCredentials(t *testing.T) {
	t.Setenv("EMBEDDING_PROVIDER", "openai")
	t.Setenv("EMBEDDING_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := NewFromEnv(); err == nil {
		t.Error("expected an error without an API key")
	}

	t.Setenv("EMBEDDING_PROVIDER", "gemini")
	_, err := NewFromEnv()
	wantErrContaining(t, err, "unknown backend")
}

func TestNewFromEnv_Ollama(t *testing.T) {
	t.Setenv("EMBEDDING_PROVIDER", "ollama")
	t.Setenv("EMBEDDING_ENDPOINT", "")
	t.Setenv("OLLAMA_HOST", "http://ollama:11434")
	t.Setenv("EMBEDDING_MODEL", "")

	emb, err := NewFromEnv()
	if err != nil {
		t.Fatalf("NewFromEnv: %v", err)
	}
	oe, ok := emb.(*OllamaEmbedder)
	if !ok {
		t.Fatalf("NewFromEnv returned %T, want *OllamaEmbedder", emb)
	}
	if oe.host != "http://ollama:11434" {
		t.Errorf("host = %q", oe.host)
	}
	if oe.model != defaultOllamaModel {
		t.Errorf("model = %q, want %q", oe.model, defaultOllamaModel)
	}
}

func TestValidate(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Setenv("EMBEDDING_PROVIDER", "ollama")
	t.Setenv("EMBEDDING_MODEL", "llama3.1")
	if err := Validate(log); err != nil {
		t.Errorf("chat-looking model should only warn, got %v", err)
	}

	t.Setenv("EMBEDDING_PROVIDER", "azure")
	t.Setenv("EMBEDDING_API_KEY", "k")
	t.Setenv("EMBEDDING_ENDPOINT", "")
	t.Setenv("AZURE_OPENAI_ENDPOINT", "")
	if err := Validate(log); err == nil {
		t.Error("azure without an endpoint should fail validation")
	}

	t.Setenv("EMBEDDING_PROVIDER", "ark")
	if err := Validate(log); err == nil {
		t.Error("unsupported backend should fail validation")
	}
}

func TestLooksLikeChatModel(t *testing.T) {
	t.Parallel()
	tests := map[string]bool{
		"llama3.1":               true,
		"GPT-4o":                 true,
		"all-minilm":             false,
		"text-embedding-3-small": false,
	}
	for model, want := range tests {
		if got := looksLikeChatModel(model); got != want {
			t.Errorf("looksLikeChatModel(%q) = %v, want %v", model, got, want)
		}
	}
}
