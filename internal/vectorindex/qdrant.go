package vectorindex

import (
	"context"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/repoqa/repoqa/pkg/types"
)

// Qdrant stores vectors in an external Qdrant instance over gRPC.
// Artifact ids are 64-bit hex strings and map losslessly onto Qdrant
// numeric point ids; the string form is also kept in the payload.
type Qdrant struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
	dimension   int
}

// NewQdrant connects to Qdrant at addr and ensures the collection exists
func NewQdrant(ctx context.Context, cfg Config) (*Qdrant, error) {
	conn, err := grpc.NewClient(cfg.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial qdrant %s: %w", cfg.Addr, err)
	}

	q := &Qdrant{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  cfg.Collection,
		dimension:   cfg.Dimension,
	}

	if err := q.ensureCollection(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return q, nil
}

// Close closes the underlying gRPC connection
func (q *Qdrant) Close() error {
	return q.conn.Close()
}

func (q *Qdrant) ensureCollection(ctx context.Context) error {
	list, err := q.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == q.collection {
			return nil
		}
	}

	_, err = q.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(q.dimension),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", q.collection, err)
	}
	return nil
}

// Upsert writes entries as Qdrant points, replacing existing points
// with the same id
func (q *Qdrant) Upsert(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, len(entries))
	for i, entry := range entries {
		num, err := types.IDToUint64(entry.ID)
		if err != nil {
			return fmt.Errorf("point id for %s: %w", entry.ID, err)
		}

		payload := map[string]*pb.Value{
			"id":         {Kind: &pb.Value_StringValue{StringValue: entry.ID}},
			"kind":       {Kind: &pb.Value_StringValue{StringValue: entry.Metadata.Kind}},
			"name":       {Kind: &pb.Value_StringValue{StringValue: entry.Metadata.Name}},
			"file_path":  {Kind: &pb.Value_StringValue{StringValue: entry.Metadata.FilePath}},
			"start_line": {Kind: &pb.Value_IntegerValue{IntegerValue: int64(entry.Metadata.StartLine)}},
			"document":   {Kind: &pb.Value_StringValue{StringValue: entry.Document}},
		}
		if entry.Metadata.Parent != "" {
			payload["parent"] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: entry.Metadata.Parent}}
		}
		if entry.Metadata.EndLine != nil {
			payload["end_line"] = &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(*entry.Metadata.EndLine)}}
		}

		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Num{Num: num},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: entry.Vector},
				},
			},
			Payload: payload,
		}
	}

	wait := true
	_, err := q.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("upsert %d points: %w", len(entries), err)
	}
	return nil
}

// Query performs k-NN cosine search and converts similarity scores to
// distances so both backends order results the same way
func (q *Qdrant) Query(ctx context.Context, vector []float32, k int) ([]Match, error) {
	if k <= 0 {
		return nil, nil
	}

	resp, err := q.points.Search(ctx, &pb.SearchPoints{
		CollectionName: q.collection,
		Vector:         vector,
		Limit:          uint64(k),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("search points: %w", err)
	}

	matches := make([]Match, 0, len(resp.GetResult()))
	for _, r := range resp.GetResult() {
		payload := r.GetPayload()
		m := Match{
			ID:       payload["id"].GetStringValue(),
			Document: payload["document"].GetStringValue(),
			Distance: 1.0 - float64(r.GetScore()),
			Metadata: Metadata{
				Kind:      payload["kind"].GetStringValue(),
				Name:      payload["name"].GetStringValue(),
				FilePath:  payload["file_path"].GetStringValue(),
				Parent:    payload["parent"].GetStringValue(),
				StartLine: int(payload["start_line"].GetIntegerValue()),
			},
		}
		if v, ok := payload["end_line"]; ok {
			end := int(v.GetIntegerValue())
			m.Metadata.EndLine = &end
		}
		matches = append(matches, m)
	}
	return matches, nil
}

// Delete removes points by artifact id
func (q *Qdrant) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	pointIDs := make([]*pb.PointId, 0, len(ids))
	for _, id := range ids {
		num, err := types.IDToUint64(id)
		if err != nil {
			return fmt.Errorf("point id for %s: %w", id, err)
		}
		pointIDs = append(pointIDs, &pb.PointId{
			PointIdOptions: &pb.PointId_Num{Num: num},
		})
	}

	wait := true
	_, err := q.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{Ids: pointIDs},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("delete %d points: %w", len(ids), err)
	}
	return nil
}

// Count returns the number of points in the collection
func (q *Qdrant) Count(ctx context.Context) (int, error) {
	exact := true
	resp, err := q.points.Count(ctx, &pb.CountPoints{
		CollectionName: q.collection,
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("count points: %w", err)
	}
	return int(resp.GetResult().GetCount()), nil
}
