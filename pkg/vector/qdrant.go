package vector

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/qdrant/go-client/qdrant"

	"github.com/nooble8/ragcore/pkg/config"
)

// QdrantDriver implements Driver on the Qdrant gRPC client.
type QdrantDriver struct {
	client *qdrant.Client
}

// NewQdrantDriver connects to Qdrant.
func NewQdrantDriver(cfg config.QdrantConfig) (*QdrantDriver, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to qdrant: %w", err)
	}
	return &QdrantDriver{client: client}, nil
}

// Close releases the gRPC connection.
func (d *QdrantDriver) Close() error {
	return d.client.Close()
}

// EnsureCollection creates the collection with cosine distance if missing.
func (d *QdrantDriver) EnsureCollection(ctx context.Context, name string, vectorSize uint64) error {
	exists, err := d.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", name, err)
	}
	if exists {
		return nil
	}
	err = d.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     vectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", name, err)
	}
	return nil
}

// EnsurePayloadIndexes creates keyword indexes for the given payload fields.
// Qdrant rejects duplicate index creation; that is logged and ignored.
func (d *QdrantDriver) EnsurePayloadIndexes(ctx context.Context, name string, fields []string) error {
	for _, field := range fields {
		_, err := d.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: name,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			slog.Debug("Payload index may already exist", "field", field, "error", err)
		}
	}
	return nil
}

// Upsert writes points synchronously (wait for broker ack).
func (d *QdrantDriver) Upsert(ctx context.Context, name string, points []Point) error {
	qpoints := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		qpoints[i] = &qdrant.PointStruct{
			Id:      qdrant.NewID(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: qdrant.NewValueMap(p.Payload),
		}
	}
	_, err := d.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: name,
		Points:         qpoints,
		Wait:           qdrant.PtrOf(true),
	})
	return err
}

// Delete removes points matching the filter.
func (d *QdrantDriver) Delete(ctx context.Context, name string, filter Filter) error {
	_, err := d.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: name,
		Points:         qdrant.NewPointsSelectorFilter(toQdrantFilter(filter)),
		Wait:           qdrant.PtrOf(true),
	})
	return err
}

// Search runs a filtered nearest-neighbor query.
func (d *QdrantDriver) Search(ctx context.Context, name string, vector []float32, filter Filter, limit uint64, threshold float32) ([]Hit, error) {
	query := &qdrant.QueryPoints{
		CollectionName: name,
		Query:          qdrant.NewQuery(vector...),
		Filter:         toQdrantFilter(filter),
		Limit:          qdrant.PtrOf(limit),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if threshold > 0 {
		query.ScoreThreshold = qdrant.PtrOf(threshold)
	}

	scored, err := d.client.Query(ctx, query)
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, len(scored))
	for i, point := range scored {
		hits[i] = Hit{
			ID:      pointID(point.Id),
			Score:   point.Score,
			Payload: fromQdrantPayload(point.Payload),
		}
	}
	return hits, nil
}

// Scroll lists points matching the filter.
func (d *QdrantDriver) Scroll(ctx context.Context, name string, filter Filter, limit uint32) ([]ScrollPoint, error) {
	points, err := d.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: name,
		Filter:         toQdrantFilter(filter),
		Limit:          qdrant.PtrOf(limit),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, err
	}

	out := make([]ScrollPoint, len(points))
	for i, point := range points {
		out[i] = ScrollPoint{
			ID:      pointID(point.Id),
			Payload: fromQdrantPayload(point.Payload),
		}
	}
	return out, nil
}

// SetPayload merges payload keys onto one point.
func (d *QdrantDriver) SetPayload(ctx context.Context, name string, id string, payload map[string]any) error {
	_, err := d.client.SetPayload(ctx, &qdrant.SetPayloadPoints{
		CollectionName: name,
		Payload:        qdrant.NewValueMap(payload),
		PointsSelector: qdrant.NewPointsSelector(qdrant.NewID(id)),
		Wait:           qdrant.PtrOf(true),
	})
	return err
}

func toQdrantFilter(f Filter) *qdrant.Filter {
	if len(f.Must) == 0 {
		return nil
	}
	must := make([]*qdrant.Condition, 0, len(f.Must))
	for _, cond := range f.Must {
		if len(cond.MatchAny) > 0 {
			must = append(must, qdrant.NewMatchKeywords(cond.Key, cond.MatchAny...))
			continue
		}
		must = append(must, qdrant.NewMatch(cond.Key, cond.MatchValue))
	}
	return &qdrant.Filter{Must: must}
}

func pointID(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if u := id.GetUuid(); u != "" {
		return u
	}
	return fmt.Sprintf("%d", id.GetNum())
}

func fromQdrantPayload(payload map[string]*qdrant.Value) map[string]any {
	if payload == nil {
		return nil
	}
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = fromQdrantValue(v)
	}
	return out
}

func fromQdrantValue(v *qdrant.Value) any {
	if v == nil {
		return nil
	}
	switch kind := v.Kind.(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	case *qdrant.Value_ListValue:
		items := kind.ListValue.GetValues()
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = fromQdrantValue(item)
		}
		return out
	case *qdrant.Value_StructValue:
		fields := kind.StructValue.GetFields()
		out := make(map[string]any, len(fields))
		for k, item := range fields {
			out[k] = fromQdrantValue(item)
		}
		return out
	}
	return nil
}
