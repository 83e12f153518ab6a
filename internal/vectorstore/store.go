// Package vectorstore is a typed facade over the pipeline's three named
// vector collections (sessions, reflections, rules), backed by Qdrant.
// Callers never see raw Qdrant payload maps; they read and write the
// typed Point/Filter types this package defines.
package vectorstore

import (
	"context"
	"fmt"
	"hash/fnv"
	"net"
	"sort"
	"strconv"

	"github.com/agentops-ai/ao/internal/pipelineerrors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/qdrant/go-client/qdrant"
)

// scrollPageSize bounds each individual Qdrant scroll RPC. Scroll and
// ListSessionIDs page through as many of these as the caller's limit
// requires (0 = unlimited), since the Qdrant client's Scroll helper
// returns one page at a time rather than auto-paginating.
const scrollPageSize = 256

// idPayloadKey stores the caller-supplied string id alongside every
// point's payload, so it can be recovered verbatim on read: Qdrant point
// ids must be an unsigned 64-bit int or a UUID, so callers' arbitrary
// string ids (chunk ids like "sess1:0", short rule ids) are hashed into
// that form for the wire, and the original string rides along in the
// payload to round-trip back out.
const idPayloadKey = "__id"

// stablePointID maps a caller-supplied string id to Qdrant's required
// numeric id form via a stable, non-cryptographic hash (FNV-1a), per
// spec: "the store SHOULD map them to whatever integer form the backend
// requires via a stable non-cryptographic hash."
func stablePointID(id string) *qdrant.PointId {
	h := fnv.New64a()
	h.Write([]byte(id))
	return qdrant.NewIDNum(h.Sum64())
}

// withIDPayload returns a copy of payload with the original string id
// attached, leaving the caller's map untouched.
func withIDPayload(id string, payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		out[k] = v
	}
	out[idPayloadKey] = id
	return out
}

// pointIDFromPayload recovers the original string id stashed by
// withIDPayload, deleting the reserved key so callers never see it.
// Returns fallback if a point was ever written without the reserved key;
// callers pass the wire id's UUID form, which is empty for the numeric
// ids this package writes.
func pointIDFromPayload(payload map[string]any, fallback string) string {
	if id, ok := payload[idPayloadKey].(string); ok {
		delete(payload, idPayloadKey)
		return id
	}
	return fallback
}

// Collection names. These are the only three collections the pipeline
// ever creates or addresses.
const (
	CollectionSessions    = "sessions"
	CollectionReflections = "reflections"
	CollectionRules       = "rules"
)

// Dim is the fixed vector dimensionality for every collection.
const Dim = 384

// Point is one stored vector plus its payload, generic across
// collections: callers marshal/unmarshal their own payload shape into
// the Payload map at the boundary.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any

	// Score is the similarity score from the query that produced this
	// point. Only populated on Search results; zero otherwise.
	Score float64
}

// Filter is a conjunction of exact-match and range conditions over
// payload fields, translated to Qdrant's filter DSL at the boundary.
type Filter struct {
	Must    []Condition
	MustNot []Condition
}

// Condition is one payload constraint. Exactly one of the value fields
// should be set.
type Condition struct {
	Key      string
	Eq       any
	Gte      *float64
	Lte      *float64
}

// Store is the pipeline's vector-store contract. QdrantStore implements it
// against a live server; MemoryStore implements it in process, for tests
// and for the CLI when no Qdrant address is set.
type Store interface {
	EnsureCollection(ctx context.Context, name string) error
	RecreateCollection(ctx context.Context, name string) error
	Upsert(ctx context.Context, collection string, points []Point) error
	Search(ctx context.Context, collection string, vector []float32, limit int, filter *Filter) ([]Point, error)
	Scroll(ctx context.Context, collection string, filter *Filter, limit int) ([]Point, error)
	SetPayload(ctx context.Context, collection string, ids []string, payload map[string]any) error
	Delete(ctx context.Context, collection string, ids []string) error
	Count(ctx context.Context, collection string, filter *Filter) (int, error)
	// ListSessionIDs streams the sessions collection fetching only the
	// session_id payload field, returning the distinct set.
	ListSessionIDs(ctx context.Context) ([]string, error)
}

// QdrantStore implements Store against a live Qdrant instance.
type QdrantStore struct {
	client *qdrant.Client
}

// Dial opens a gRPC connection to addr (host:port, from QDRANT_URL) and
// returns a ready QdrantStore. An addr without a port uses 6334.
func Dial(addr string) (*QdrantStore, error) {
	host, port := addr, 6334
	if h, p, err := net.SplitHostPort(addr); err == nil {
		if n, err := strconv.Atoi(p); err == nil {
			host, port = h, n
		}
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
		GrpcOptions: []grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		},
	})
	if err != nil {
		return nil, &pipelineerrors.VectorStoreError{Op: "dial", Collection: "", Err: err}
	}
	return &QdrantStore{client: client}, nil
}

// EnsureCollection creates the named collection with a 384-dim cosine
// vector config if it does not already exist.
func (s *QdrantStore) EnsureCollection(ctx context.Context, name string) error {
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return &pipelineerrors.VectorStoreError{Op: "collection_exists", Collection: name, Err: err}
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(Dim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return &pipelineerrors.VectorStoreError{Op: "create_collection", Collection: name, Err: err}
	}
	return nil
}

// RecreateCollection drops the named collection if it exists, then
// creates it fresh, backing --rebuild.
func (s *QdrantStore) RecreateCollection(ctx context.Context, name string) error {
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return &pipelineerrors.VectorStoreError{Op: "collection_exists", Collection: name, Err: err}
	}
	if exists {
		if err := s.client.DeleteCollection(ctx, name); err != nil {
			return &pipelineerrors.VectorStoreError{Op: "delete_collection", Collection: name, Err: err}
		}
	}
	return s.EnsureCollection(ctx, name)
}

// Upsert writes points in one batch. Re-upserting an existing id
// overwrites its vector and payload in place (idempotent ingestion
// depends on this).
func (s *QdrantStore) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	qpoints := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		if len(p.Vector) != Dim {
			return &pipelineerrors.VectorStoreError{
				Op:         "upsert",
				Collection: collection,
				Err:        fmt.Errorf("point %s has vector dim %d, want %d", p.ID, len(p.Vector), Dim),
			}
		}
		qpoints = append(qpoints, &qdrant.PointStruct{
			Id:      stablePointID(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: qdrant.NewValueMap(withIDPayload(p.ID, p.Payload)),
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points:         qpoints,
	})
	if err != nil {
		return &pipelineerrors.VectorStoreError{Op: "upsert", Collection: collection, Err: err}
	}
	return nil
}

// Search runs a topK similarity query, optionally narrowed by filter.
func (s *QdrantStore) Search(ctx context.Context, collection string, vector []float32, limit int, filter *Filter) ([]Point, error) {
	req := &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if filter != nil {
		req.Filter = toQdrantFilter(filter)
	}

	resp, err := s.client.Query(ctx, req)
	if err != nil {
		return nil, &pipelineerrors.VectorStoreError{Op: "search", Collection: collection, Err: err}
	}

	out := make([]Point, 0, len(resp))
	for _, r := range resp {
		payload := fromQdrantPayload(r.Payload)
		out = append(out, Point{
			ID:      pointIDFromPayload(payload, r.Id.GetUuid()),
			Payload: payload,
			Score:   float64(r.GetScore()),
		})
	}
	return out, nil
}

// Scroll walks the collection (optionally filtered), paginating through
// scrollPageSize-sized Qdrant pages (using the last point of each page
// as the next offset) until limit points are collected, or the
// collection is exhausted when limit is 0. Not guaranteed stable across
// concurrent mutation.
func (s *QdrantStore) Scroll(ctx context.Context, collection string, filter *Filter, limit int) ([]Point, error) {
	var out []Point
	var offset *qdrant.PointId

	for {
		pageSize := scrollPageSize
		if limit > 0 {
			if remaining := limit - len(out); remaining < pageSize {
				pageSize = remaining
			}
			if pageSize <= 0 {
				break
			}
		}

		req := &qdrant.ScrollPoints{
			CollectionName: collection,
			Limit:          qdrant.PtrOf(uint32(pageSize)),
			WithPayload:    qdrant.NewWithPayload(true),
			WithVectors:    qdrant.NewWithVectors(true),
			Offset:         offset,
		}
		if filter != nil {
			req.Filter = toQdrantFilter(filter)
		}

		resp, err := s.client.Scroll(ctx, req)
		if err != nil {
			return nil, &pipelineerrors.VectorStoreError{Op: "scroll", Collection: collection, Err: err}
		}

		for _, r := range resp {
			payload := fromQdrantPayload(r.Payload)
			out = append(out, Point{
				ID:      pointIDFromPayload(payload, r.Id.GetUuid()),
				Vector:  vectorOf(r.Vectors),
				Payload: payload,
			})
		}

		if len(resp) < pageSize {
			break
		}
		offset = resp[len(resp)-1].Id
	}

	return out, nil
}

// ListSessionIDs streams the sessions collection fetching only the
// session_id payload field, paginating to completion.
func (s *QdrantStore) ListSessionIDs(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)
	var offset *qdrant.PointId

	for {
		req := &qdrant.ScrollPoints{
			CollectionName: CollectionSessions,
			Limit:          qdrant.PtrOf(uint32(scrollPageSize)),
			WithPayload:    qdrant.NewWithPayloadInclude([]string{"session_id"}),
			WithVectors:    qdrant.NewWithVectors(false),
			Offset:         offset,
		}

		resp, err := s.client.Scroll(ctx, req)
		if err != nil {
			return nil, &pipelineerrors.VectorStoreError{Op: "list_session_ids", Collection: CollectionSessions, Err: err}
		}

		for _, r := range resp {
			payload := fromQdrantPayload(r.Payload)
			if sid, ok := payload["session_id"].(string); ok {
				seen[sid] = true
			}
		}

		if len(resp) < scrollPageSize {
			break
		}
		offset = resp[len(resp)-1].Id
	}

	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// SetPayload patches the payload fields of every point in ids without
// touching their vectors, as one batched request.
func (s *QdrantStore) SetPayload(ctx context.Context, collection string, ids []string, payload map[string]any) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = stablePointID(id)
	}

	_, err := s.client.SetPayload(ctx, &qdrant.SetPayloadPoints{
		CollectionName: collection,
		Payload:        qdrant.NewValueMap(payload),
		PointsSelector: qdrant.NewPointsSelectorIDs(pointIDs),
	})
	if err != nil {
		return &pipelineerrors.VectorStoreError{Op: "set_payload", Collection: collection, Err: err}
	}
	return nil
}

// Delete removes points by id. Tolerated to fail best-effort by callers
// performing retirement cleanup; the error is still returned for logging.
func (s *QdrantStore) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = stablePointID(id)
	}

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points:         qdrant.NewPointsSelectorIDs(pointIDs),
	})
	if err != nil {
		return &pipelineerrors.VectorStoreError{Op: "delete", Collection: collection, Err: err}
	}
	return nil
}

// Count reports how many points in collection match filter (nil for all).
func (s *QdrantStore) Count(ctx context.Context, collection string, filter *Filter) (int, error) {
	req := &qdrant.CountPoints{CollectionName: collection}
	if filter != nil {
		req.Filter = toQdrantFilter(filter)
	}

	resp, err := s.client.Count(ctx, req)
	if err != nil {
		return 0, &pipelineerrors.VectorStoreError{Op: "count", Collection: collection, Err: err}
	}
	return int(resp), nil
}

func toQdrantFilter(f *Filter) *qdrant.Filter {
	qf := &qdrant.Filter{}
	for _, c := range f.Must {
		qf.Must = append(qf.Must, conditionToQdrant(c))
	}
	for _, c := range f.MustNot {
		qf.MustNot = append(qf.MustNot, conditionToQdrant(c))
	}
	return qf
}

func conditionToQdrant(c Condition) *qdrant.Condition {
	switch {
	case c.Gte != nil || c.Lte != nil:
		r := &qdrant.Range{}
		if c.Gte != nil {
			r.Gte = c.Gte
		}
		if c.Lte != nil {
			r.Lte = c.Lte
		}
		return qdrant.NewRange(c.Key, r)
	default:
		return qdrant.NewMatch(c.Key, fmt.Sprintf("%v", c.Eq))
	}
}

func fromQdrantPayload(p map[string]*qdrant.Value) map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = qdrant.NewGoValue(v)
	}
	return out
}

func vectorOf(v *qdrant.VectorsOutput) []float32 {
	if v == nil {
		return nil
	}
	return v.GetVector().GetData()
}
