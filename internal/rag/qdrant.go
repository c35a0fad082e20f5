package rag

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// pointNamespace seeds the deterministic point IDs derived from source IDs.
// Qdrant only accepts UUID or integer IDs, so "3-17" is mapped to a stable
// UUIDv5 and the original key is kept in the payload.
var pointNamespace = uuid.MustParse("6f1c3a8e-2b9d-5c47-9e0a-4d3b2f1e7a65")

// Payload keys written with every point.
const (
	payloadText     = "text"
	payloadPage     = "page"
	payloadChunk    = "chunk"
	payloadFilename = "filename"
	payloadSourceID = "source_id"
)

// QdrantConfig holds connection parameters for a Qdrant vector store instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection name (default: luat-bhyt).
	Collection string

	// VectorSize is the dimensionality of the stored embeddings.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantStore implements VectorStore backed by a Qdrant instance using
// cosine distance.
type QdrantStore struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this store.
	cfg *QdrantConfig
}

// NewQdrantStore creates a client for the configured instance. It does not
// touch the collection; call EnsureCollection before first use.
func NewQdrantStore(cfg *QdrantConfig) (*QdrantStore, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Collection == "" {
		cfg.Collection = "luat-bhyt"
	}
	if cfg.VectorSize == 0 {
		return nil, fmt.Errorf("qdrant: vector size must be set")
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	return &QdrantStore{client: client, cfg: cfg}, nil
}

// Client exposes the underlying gRPC client for health probes.
func (s *QdrantStore) Client() *qdrant.Client { return s.client }

// EnsureCollection creates the Qdrant collection if it does not already exist.
func (s *QdrantStore) EnsureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return classify("check collection existence", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return classify(fmt.Sprintf("create collection %q", s.cfg.Collection), err)
	}
	return nil
}

// Upsert writes a batch of chunks with their vectors. Point IDs are derived
// from SourceID, so re-indexing the same corpus overwrites existing points.
func (s *QdrantStore) Upsert(ctx context.Context, chunks []Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("qdrant: %d chunks but %d vectors", len(chunks), len(vectors))
	}
	if len(chunks) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for i, c := range chunks {
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(PointID(c.SourceID)),
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: qdrant.NewValueMap(map[string]any{
				payloadText:     c.Text,
				payloadPage:     c.Page,
				payloadChunk:    c.ChunkIndex,
				payloadFilename: c.Filename,
				payloadSourceID: c.SourceID,
			}),
		})
	}

	wait := true
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return classify("upsert", err)
	}
	return nil
}

// Search performs a cosine similarity search and returns the top-k results.
func (s *QdrantStore) Search(ctx context.Context, vector []float32, topK int) ([]Match, error) {
	limit := uint64(topK) //nolint:gosec // topK is a small positive constant
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.cfg.Collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, classify("search", err)
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		c := chunkFromPayload(r.GetPayload())
		matches = append(matches, Match{
			SourceID: c.SourceID,
			Score:    r.GetScore(),
			Chunk:    c,
		})
	}
	return matches, nil
}

// Close closes the underlying Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// PointID maps a source ID onto the deterministic UUID used as point ID.
func PointID(sourceID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(sourceID)).String()
}

// chunkFromPayload rebuilds a Chunk from a point payload.
func chunkFromPayload(p map[string]*qdrant.Value) Chunk {
	return Chunk{
		Text:       p[payloadText].GetStringValue(),
		Page:       int(p[payloadPage].GetIntegerValue()),
		ChunkIndex: int(p[payloadChunk].GetIntegerValue()),
		Filename:   p[payloadFilename].GetStringValue(),
		SourceID:   p[payloadSourceID].GetStringValue(),
	}
}

// classify wraps err, marking connection-level gRPC failures with
// ErrStoreUnavailable.
func classify(op string, err error) error {
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled:
			return fmt.Errorf("qdrant: %s: %w: %w", op, ErrStoreUnavailable, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("qdrant: %s: %w: %w", op, ErrStoreUnavailable, err)
	}
	return fmt.Errorf("qdrant: %s: %w", op, err)
}
