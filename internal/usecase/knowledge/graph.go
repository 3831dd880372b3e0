package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"sirsi-hub/internal/domain"
)

const DefaultLimit = 100

type idSet map[string]struct{}

// Graph is the in-memory knowledge graph. Every secondary index is updated
// in the same critical section as the primary node map.
type Graph struct {
	mu sync.RWMutex

	nodes map[string]*domain.KnowledgeNode
	edges map[string][]domain.KnowledgeEdge // keyed by FromID
	nEdge int

	byResource map[string]idSet
	byAgent    map[string]idSet
	byType     map[string]idSet
	byTag      map[string]idSet
	timeline   []string // node ids, oldest first

	persister domain.KnowledgePersister
	bus       domain.EventBus
	logger    *slog.Logger
}

// Option configures a Graph.
type Option func(*Graph)

// WithPersister writes every mutation through to p.
func WithPersister(p domain.KnowledgePersister) Option {
	return func(g *Graph) { g.persister = p }
}

// WithEventBus publishes knowledge.added events.
func WithEventBus(bus domain.EventBus) Option {
	return func(g *Graph) { g.bus = bus }
}

// NewGraph creates an empty graph.
func NewGraph(logger *slog.Logger, opts ...Option) *Graph {
	g := &Graph{
		nodes:      make(map[string]*domain.KnowledgeNode),
		edges:      make(map[string][]domain.KnowledgeEdge),
		byResource: make(map[string]idSet),
		byAgent:    make(map[string]idSet),
		byType:     make(map[string]idSet),
		byTag:      make(map[string]idSet),
		logger:     logger,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Load rebuilds the graph from the persister. It is a no-op without one.
func (g *Graph) Load(ctx context.Context) error {
	if g.persister == nil {
		return nil
	}
	nodes, edges, err := g.persister.LoadAll(ctx)
	if err != nil {
		return domain.WrapOp("knowledge.Load", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	for i := range nodes {
		n := nodes[i]
		g.index(&n)
	}
	slices.SortFunc(g.timeline, func(a, b string) int {
		return compareAge(g.nodes[a], g.nodes[b])
	})
	for _, e := range edges {
		if g.nodes[e.FromID] == nil || g.nodes[e.ToID] == nil {
			continue
		}
		g.edges[e.FromID] = append(g.edges[e.FromID], e)
		g.nEdge++
	}
	g.logger.Info("knowledge graph loaded", "nodes", len(g.nodes), "edges", g.nEdge)
	return nil
}

func compareAge(a, b *domain.KnowledgeNode) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

func addTo(idx map[string]idSet, key, id string) {
	s := idx[key]
	if s == nil {
		s = make(idSet)
		idx[key] = s
	}
	s[id] = struct{}{}
}

// index must be called with mu held for writing.
func (g *Graph) index(n *domain.KnowledgeNode) {
	g.nodes[n.ID] = n
	addTo(g.byResource, n.ResourceID, n.ID)
	addTo(g.byAgent, n.SourceAgent, n.ID)
	addTo(g.byType, n.KnowledgeType, n.ID)
	for _, tag := range n.Tags {
		addTo(g.byTag, tag, n.ID)
	}
	g.timeline = append(g.timeline, n.ID)
}

// AddNode stores n with a fresh id and version 1 and returns the stored copy.
func (g *Graph) AddNode(ctx context.Context, n domain.KnowledgeNode) (domain.KnowledgeNode, error) {
	if n.SourceAgent == "" || n.KnowledgeType == "" {
		return domain.KnowledgeNode{}, domain.NewSubSystemError("knowledge", "Graph.AddNode", domain.ErrInvalidInput, "source_agent and knowledge_type are required")
	}
	if len(n.Content) > 0 && !json.Valid(n.Content) {
		return domain.KnowledgeNode{}, domain.NewSubSystemError("knowledge", "Graph.AddNode", domain.ErrInvalidInput, "content is not valid JSON")
	}

	now := time.Now().UTC()
	n.ID = domain.NewULID(now)
	n.Version = 1
	n.Confidence = clamp(n.Confidence, 0, 1)
	n.CreatedAt = now
	n.UpdatedAt = now
	n.Tags = slices.Clone(n.Tags)
	if len(n.Content) == 0 {
		n.Content = json.RawMessage("null")
	}

	g.mu.Lock()
	if g.persister != nil {
		if err := g.persister.SaveNode(ctx, n); err != nil {
			g.mu.Unlock()
			return domain.KnowledgeNode{}, domain.WrapOp("knowledge.AddNode", err)
		}
	}
	stored := n
	g.index(&stored)
	g.mu.Unlock()

	domain.Emit(ctx, g.bus, domain.EventKnowledgeAdded, "", map[string]string{
		"id":             n.ID,
		"source_agent":   n.SourceAgent,
		"knowledge_type": n.KnowledgeType,
	})
	return copyNode(&stored), nil
}

// GetNode returns the node with id.
func (g *Graph) GetNode(id string) (domain.KnowledgeNode, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return domain.KnowledgeNode{}, domain.NewSubSystemError("knowledge", "Graph.GetNode", domain.ErrNotFound, id)
	}
	return copyNode(n), nil
}

// UpdateConfidence sets a node's confidence, clamped to [0,1], and bumps its version.
func (g *Graph) UpdateConfidence(ctx context.Context, id string, confidence float64) (domain.KnowledgeNode, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.nodes[id]
	if !ok {
		return domain.KnowledgeNode{}, domain.NewSubSystemError("knowledge", "Graph.UpdateConfidence", domain.ErrNotFound, id)
	}
	updated := *n
	updated.Confidence = clamp(confidence, 0, 1)
	updated.Version++
	updated.UpdatedAt = time.Now().UTC()
	if g.persister != nil {
		if err := g.persister.SaveNode(ctx, updated); err != nil {
			return domain.KnowledgeNode{}, domain.WrapOp("knowledge.UpdateConfidence", err)
		}
	}
	*n = updated
	return copyNode(n), nil
}

// AddEdge links two existing nodes.
func (g *Graph) AddEdge(ctx context.Context, e domain.KnowledgeEdge) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.nodes[e.FromID] == nil {
		return domain.NewSubSystemError("knowledge", "Graph.AddEdge", domain.ErrNotFound, e.FromID)
	}
	if g.nodes[e.ToID] == nil {
		return domain.NewSubSystemError("knowledge", "Graph.AddEdge", domain.ErrNotFound, e.ToID)
	}
	e.Strength = clamp(e.Strength, 0, 1)
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if g.persister != nil {
		if err := g.persister.SaveEdge(ctx, e); err != nil {
			return domain.WrapOp("knowledge.AddEdge", err)
		}
	}
	g.edges[e.FromID] = append(g.edges[e.FromID], e)
	g.nEdge++
	return nil
}

// GetRelated walks outgoing edges depth-first up to maxDepth hops and
// returns the reachable nodes, excluding the start node.
func (g *Graph) GetRelated(id string, maxDepth int) ([]domain.KnowledgeNode, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.nodes[id] == nil {
		return nil, domain.NewSubSystemError("knowledge", "Graph.GetRelated", domain.ErrNotFound, id)
	}
	visited := map[string]bool{id: true}
	var out []domain.KnowledgeNode

	var walk func(from string, depth int)
	walk = func(from string, depth int) {
		if depth >= maxDepth {
			return
		}
		for _, e := range g.edges[from] {
			if visited[e.ToID] {
				continue
			}
			visited[e.ToID] = true
			out = append(out, copyNode(g.nodes[e.ToID]))
			walk(e.ToID, depth+1)
		}
	}
	walk(id, 0)
	return out, nil
}

// Query returns matching nodes, newest first. Index filters are
// intersected, seeded by the first one present; confidence, time range and
// content search are applied afterwards. Sorting precedes truncation.
// An unknown resource, agent or type key matches nothing, while tags absent
// from the index are skipped. The confidence threshold applies only when set.
func (g *Graph) Query(q domain.KnowledgeQuery) []domain.KnowledgeNode {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	search := strings.ToLower(q.ContentSearch)

	g.mu.RLock()
	defer g.mu.RUnlock()

	var (
		cand   idSet
		seeded bool
	)
	narrow := func(s idSet) {
		if !seeded {
			cand = make(idSet, len(s))
			for id := range s {
				cand[id] = struct{}{}
			}
			seeded = true
			return
		}
		for id := range cand {
			if _, ok := s[id]; !ok {
				delete(cand, id)
			}
		}
	}
	if q.ResourceID != nil {
		narrow(g.byResource[*q.ResourceID])
	}
	if q.SourceAgent != nil {
		narrow(g.byAgent[*q.SourceAgent])
	}
	if q.KnowledgeType != nil {
		narrow(g.byType[*q.KnowledgeType])
	}
	for _, tag := range q.Tags {
		if ids, ok := g.byTag[tag]; ok {
			narrow(ids)
		}
	}

	var matched []*domain.KnowledgeNode
	consider := func(n *domain.KnowledgeNode) {
		if q.ConfidenceThreshold != nil && n.Confidence < *q.ConfidenceThreshold {
			return
		}
		if q.Since != nil && n.CreatedAt.Before(*q.Since) {
			return
		}
		if q.Until != nil && n.CreatedAt.After(*q.Until) {
			return
		}
		if search != "" && !bytes.Contains(bytes.ToLower(n.Content), []byte(search)) {
			return
		}
		matched = append(matched, n)
	}
	if seeded {
		for id := range cand {
			consider(g.nodes[id])
		}
	} else {
		for _, id := range g.timeline {
			consider(g.nodes[id])
		}
	}

	slices.SortFunc(matched, func(a, b *domain.KnowledgeNode) int {
		return compareAge(b, a)
	})
	if len(matched) > limit {
		matched = matched[:limit]
	}
	out := make([]domain.KnowledgeNode, len(matched))
	for i, n := range matched {
		out[i] = copyNode(n)
	}
	return out
}

// Statistics summarises the graph.
func (g *Graph) Statistics() domain.KnowledgeStats {
	g.mu.RLock()
	defer g.mu.RUnlock()

	st := domain.KnowledgeStats{
		Nodes:   len(g.nodes),
		Edges:   g.nEdge,
		ByType:  make(map[string]int, len(g.byType)),
		ByAgent: make(map[string]int, len(g.byAgent)),
	}
	for k, s := range g.byType {
		st.ByType[k] = len(s)
	}
	for k, s := range g.byAgent {
		st.ByAgent[k] = len(s)
	}
	if len(g.nodes) > 0 {
		var sum float64
		for _, n := range g.nodes {
			sum += n.Confidence
		}
		st.AverageConfidence = sum / float64(len(g.nodes))
	}
	return st
}

func copyNode(n *domain.KnowledgeNode) domain.KnowledgeNode {
	c := *n
	c.Tags = slices.Clone(n.Tags)
	c.Content = slices.Clone(n.Content)
	return c
}

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(hi, v))
}
