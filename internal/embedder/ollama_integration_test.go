//go:build integration

package embedder

import (
	"context"
	"math"
	"os"
	"testing"
	"time"
)

// TestOllamaEmbedder_Integration embeds law text against a running Ollama
// daemon and checks the vectors fit the default collection size and carry
// some meaning.
//
//	ollama pull all-minilm
//	go test -tags=integration -run TestOllamaEmbedder_Integration ./internal/embedder/
//
// Set OLLAMA_HOST and EMBEDDING_MODEL to point elsewhere.
func TestOllamaEmbedder_Integration(t *testing.T) {
	host := os.Getenv("OLLAMA_HOST")
	if host == "" {
		host = "http://localhost:11434"
	}
	model := os.Getenv("EMBEDDING_MODEL")
	if model == "" {
		model = defaultOllamaModel
	}

	emb := NewOllamaEmbedder(&OllamaConfig{Host: host, Model: model})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	texts := []string{
		"Điều 12. Đối tượng tham gia bảo hiểm y tế gồm người lao động làm việc theo hợp đồng lao động.",
		"người lao động có phải tham gia bảo hiểm y tế không",
		"Quỹ bảo hiểm y tế được quản lý tập trung, thống nhất, công khai, minh bạch.",
	}
	vecs, err := emb.Embed(ctx, texts)
	if err != nil {
		t.Fatalf("Embed: %v (ensure Ollama is running and %q is pulled)", err, model)
	}
	if len(vecs) != len(texts) {
		t.Fatalf("got %d embeddings, want %d", len(vecs), len(texts))
	}

	if model == defaultOllamaModel && len(vecs[0]) != DefaultDimensions("ollama") {
		t.Errorf("dim = %d, default model must match the default collection size %d", len(vecs[0]), DefaultDimensions("ollama"))
	}
	for i, v := range vecs {
		if len(v) == 0 {
			t.Fatalf("embedding %d is empty", i)
		}
	}

	related := cosine(vecs[0], vecs[1])
	unrelated := cosine(vecs[2], vecs[1])
	t.Logf("model=%s dim=%d related=%.3f unrelated=%.3f", model, len(vecs[0]), related, unrelated)
	if related <= unrelated {
		t.Errorf("the question should sit closer to the article that answers it: related=%.3f unrelated=%.3f", related, unrelated)
	}
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
