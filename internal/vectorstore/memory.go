package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/agentops-ai/ao/internal/embedding"
)

// MemoryStore is an in-process Store used by tests and by callers that
// have not configured QDRANT_URL. It implements the same filter and
// search semantics as QdrantStore against plain Go maps.
type MemoryStore struct {
	mu          sync.Mutex
	collections map[string]map[string]Point
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]map[string]Point)}
}

func (m *MemoryStore) EnsureCollection(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.collections[name] == nil {
		m.collections[name] = make(map[string]Point)
	}
	return nil
}

func (m *MemoryStore) RecreateCollection(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collections[name] = make(map[string]Point)
	return nil
}

func (m *MemoryStore) Upsert(_ context.Context, collection string, points []Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.collections[collection] == nil {
		m.collections[collection] = make(map[string]Point)
	}
	for _, p := range points {
		if len(p.Vector) != Dim {
			return fmt.Errorf("point %s has vector dim %d, want %d", p.ID, len(p.Vector), Dim)
		}
		m.collections[collection][p.ID] = p
	}
	return nil
}

func (m *MemoryStore) Search(_ context.Context, collection string, vector []float32, limit int, filter *Filter) ([]Point, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	type scored struct {
		pt  Point
		sim float64
	}
	var candidates []scored
	for _, p := range m.collections[collection] {
		if !matches(p, filter) {
			continue
		}
		candidates = append(candidates, scored{pt: p, sim: embedding.CosineSimilarity(vector, p.Vector)})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].sim > candidates[j].sim })

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]Point, len(candidates))
	for i, c := range candidates {
		c.pt.Score = c.sim
		out[i] = c.pt
	}
	return out, nil
}

func (m *MemoryStore) Scroll(_ context.Context, collection string, filter *Filter, limit int) ([]Point, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []string
	for id, p := range m.collections[collection] {
		if matches(p, filter) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	out := make([]Point, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.collections[collection][id])
	}
	return out, nil
}

func (m *MemoryStore) SetPayload(_ context.Context, collection string, ids []string, payload map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		p, ok := m.collections[collection][id]
		if !ok {
			return fmt.Errorf("point %s not found in %s", id, collection)
		}
		if p.Payload == nil {
			p.Payload = make(map[string]any)
		}
		for k, v := range payload {
			p.Payload[k] = v
		}
		m.collections[collection][id] = p
	}
	return nil
}

// ListSessionIDs returns the distinct session_id payload values in the
// sessions collection, mirroring QdrantStore's restricted-payload scroll.
func (m *MemoryStore) ListSessionIDs(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]bool)
	for _, p := range m.collections[CollectionSessions] {
		if sid, ok := p.Payload["session_id"].(string); ok {
			seen[sid] = true
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) Delete(_ context.Context, collection string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.collections[collection], id)
	}
	return nil
}

func (m *MemoryStore) Count(_ context.Context, collection string, filter *Filter) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.collections[collection] {
		if matches(p, filter) {
			n++
		}
	}
	return n, nil
}

func matches(p Point, filter *Filter) bool {
	if filter == nil {
		return true
	}
	for _, c := range filter.Must {
		if !conditionMatches(p, c) {
			return false
		}
	}
	for _, c := range filter.MustNot {
		if conditionMatches(p, c) {
			return false
		}
	}
	return true
}

func conditionMatches(p Point, c Condition) bool {
	v, ok := p.Payload[c.Key]
	if !ok {
		return false
	}
	if c.Gte != nil || c.Lte != nil {
		f, ok := toFloat(v)
		if !ok {
			return false
		}
		if c.Gte != nil && f < *c.Gte {
			return false
		}
		if c.Lte != nil && f > *c.Lte {
			return false
		}
		return true
	}
	return fmt.Sprintf("%v", v) == fmt.Sprintf("%v", c.Eq)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}
