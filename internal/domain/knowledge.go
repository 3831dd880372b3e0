package domain

import (
	"context"
	"encoding/json"
	"time"
)

// RelationshipType labels an edge in the knowledge graph.
type RelationshipType string

const (
	RelDependsOn   RelationshipType = "depends_on"
	RelConnectsTo  RelationshipType = "connects_to"
	RelContains    RelationshipType = "contains"
	RelSimilarTo   RelationshipType = "similar_to"
	RelDerivedFrom RelationshipType = "derived_from"
	RelConflicts   RelationshipType = "conflicts_with"
)

// KnowledgeNode is one fact recorded by an agent.
type KnowledgeNode struct {
	ID            string          `json:"id"`
	ResourceID    string          `json:"resource_id"`
	SourceAgent   string          `json:"source_agent"`
	KnowledgeType string          `json:"knowledge_type"`
	Content       json.RawMessage `json:"content"`
	Confidence    float64         `json:"confidence"`
	Tags          []string        `json:"tags,omitempty"`
	Version       uint64          `json:"version"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// KnowledgeEdge links two nodes.
type KnowledgeEdge struct {
	FromID       string           `json:"from_id"`
	ToID         string           `json:"to_id"`
	Relationship RelationshipType `json:"relationship"`
	Strength     float64          `json:"strength"`
	CreatedAt    time.Time        `json:"created_at"`
}

// KnowledgeQuery filters nodes. Nil pointer filters are absent; a nil
// ConfidenceThreshold or zero Limit selects the defaults.
type KnowledgeQuery struct {
	ResourceID          *string    `json:"resource_id,omitempty"`
	SourceAgent         *string    `json:"source_agent,omitempty"`
	KnowledgeType       *string    `json:"knowledge_type,omitempty"`
	Tags                []string   `json:"tags,omitempty"`
	ConfidenceThreshold *float64   `json:"confidence_threshold,omitempty"`
	Since               *time.Time `json:"since,omitempty"`
	Until               *time.Time `json:"until,omitempty"`
	ContentSearch       string     `json:"content_search,omitempty"`
	Limit               int        `json:"limit,omitempty"`
}

// KnowledgeStats summarises the graph.
type KnowledgeStats struct {
	Nodes             int            `json:"nodes"`
	Edges             int            `json:"edges"`
	ByType            map[string]int `json:"by_type"`
	ByAgent           map[string]int `json:"by_agent"`
	AverageConfidence float64        `json:"average_confidence"`
}

// KnowledgePersister writes graph mutations through to durable storage.
type KnowledgePersister interface {
	SaveNode(ctx context.Context, n KnowledgeNode) error
	SaveEdge(ctx context.Context, e KnowledgeEdge) error
	LoadAll(ctx context.Context) ([]KnowledgeNode, []KnowledgeEdge, error)
}
