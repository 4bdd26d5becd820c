// Package vector is the multi-tenant adapter over the vector store: one
// physical collection for every tenant, with hierarchical payload filtering
// (tenant → virtual collection → agent → document → chunk).
package vector

import "context"

// CollectionName is the single physical collection shared by all tenants.
const CollectionName = "nooble8_vectors"

// DefaultVectorSize is used when the embedding contract does not specify one.
const DefaultVectorSize = 1536

// indexedFields are the payload keys indexed for efficient filtering.
var indexedFields = []string{
	"tenant_id",
	"collection_id",
	"agent_ids",
	"document_id",
	"document_type",
	"created_at",
}

// Condition is one equality/membership constraint on a payload field.
// Exactly one of MatchValue or MatchAny is set.
type Condition struct {
	Key        string
	MatchValue string
	MatchAny   []string
}

// Filter is a conjunction of conditions.
type Filter struct {
	Must []Condition
}

// Point is a vector with its payload, identified by chunk_id.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// Hit is one search result.
type Hit struct {
	ID      string
	Score   float32
	Payload map[string]any
}

// ScrollPoint is one point returned by a scroll.
type ScrollPoint struct {
	ID      string
	Payload map[string]any
}

// Driver is the vector store surface the adapter builds on. The production
// implementation is Qdrant over gRPC; tests substitute an in-memory fake.
type Driver interface {
	// EnsureCollection creates the collection if missing (cosine distance).
	EnsureCollection(ctx context.Context, name string, vectorSize uint64) error

	// EnsurePayloadIndexes creates keyword payload indexes; existing indexes
	// are not an error.
	EnsurePayloadIndexes(ctx context.Context, name string, fields []string) error

	// Upsert writes points, waiting for the broker ack.
	Upsert(ctx context.Context, name string, points []Point) error

	// Delete removes all points matching the filter.
	Delete(ctx context.Context, name string, filter Filter) error

	// Search returns up to limit nearest points above threshold.
	Search(ctx context.Context, name string, vector []float32, filter Filter, limit uint64, threshold float32) ([]Hit, error)

	// Scroll lists up to limit points matching the filter.
	Scroll(ctx context.Context, name string, filter Filter, limit uint32) ([]ScrollPoint, error)

	// SetPayload merges payload keys onto a single point.
	SetPayload(ctx context.Context, name string, pointID string, payload map[string]any) error
}
