package knowledgestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"sirsi-hub/internal/domain"
)

// SQLiteStore persists the knowledge graph.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath and migrates it.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open knowledge db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate knowledge db: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS knowledge_nodes (
			id             TEXT PRIMARY KEY,
			resource_id    TEXT NOT NULL,
			source_agent   TEXT NOT NULL,
			knowledge_type TEXT NOT NULL,
			content        TEXT NOT NULL,
			confidence     REAL NOT NULL,
			tags           TEXT NOT NULL DEFAULT '[]',
			version        INTEGER NOT NULL,
			created_at     TEXT NOT NULL,
			updated_at     TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS knowledge_edges (
			from_id      TEXT NOT NULL,
			to_id        TEXT NOT NULL,
			relationship TEXT NOT NULL,
			strength     REAL NOT NULL,
			created_at   TEXT NOT NULL,
			PRIMARY KEY (from_id, to_id, relationship)
		);
	`)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// SaveNode inserts or replaces a node.
func (s *SQLiteStore) SaveNode(ctx context.Context, n domain.KnowledgeNode) error {
	tags, err := json.Marshal(n.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO knowledge_nodes (id, resource_id, source_agent, knowledge_type, content, confidence, tags, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			confidence = excluded.confidence,
			tags       = excluded.tags,
			version    = excluded.version,
			updated_at = excluded.updated_at`,
		n.ID, n.ResourceID, n.SourceAgent, n.KnowledgeType, string(n.Content), n.Confidence, string(tags),
		int64(n.Version), n.CreatedAt.UTC().Format(time.RFC3339Nano), n.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// SaveEdge inserts or replaces an edge.
func (s *SQLiteStore) SaveEdge(ctx context.Context, e domain.KnowledgeEdge) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO knowledge_edges (from_id, to_id, relationship, strength, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		e.FromID, e.ToID, string(e.Relationship), e.Strength, e.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// LoadAll returns every node and edge.
func (s *SQLiteStore) LoadAll(ctx context.Context) ([]domain.KnowledgeNode, []domain.KnowledgeEdge, error) {
	nodes, err := s.loadNodes(ctx)
	if err != nil {
		return nil, nil, err
	}
	edges, err := s.loadEdges(ctx)
	if err != nil {
		return nil, nil, err
	}
	return nodes, edges, nil
}

func (s *SQLiteStore) loadNodes(ctx context.Context) ([]domain.KnowledgeNode, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, resource_id, source_agent, knowledge_type, content, confidence, tags, version, created_at, updated_at
		FROM knowledge_nodes ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.KnowledgeNode
	for rows.Next() {
		var (
			n                     domain.KnowledgeNode
			content, tags         string
			version               int64
			createdStr, updatedAt string
		)
		if err := rows.Scan(&n.ID, &n.ResourceID, &n.SourceAgent, &n.KnowledgeType, &content, &n.Confidence,
			&tags, &version, &createdStr, &updatedAt); err != nil {
			return nil, err
		}
		n.Content = json.RawMessage(content)
		n.Version = uint64(version)
		if err := json.Unmarshal([]byte(tags), &n.Tags); err != nil {
			return nil, fmt.Errorf("unmarshal tags for %s: %w", n.ID, err)
		}
		if n.CreatedAt, err = time.Parse(time.RFC3339Nano, createdStr); err != nil {
			return nil, fmt.Errorf("parse created_at for %s: %w", n.ID, err)
		}
		if n.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
			return nil, fmt.Errorf("parse updated_at for %s: %w", n.ID, err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) loadEdges(ctx context.Context) ([]domain.KnowledgeEdge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT from_id, to_id, relationship, strength, created_at FROM knowledge_edges ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.KnowledgeEdge
	for rows.Next() {
		var (
			e          domain.KnowledgeEdge
			rel, ctime string
		)
		if err := rows.Scan(&e.FromID, &e.ToID, &rel, &e.Strength, &ctime); err != nil {
			return nil, err
		}
		e.Relationship = domain.RelationshipType(rel)
		if e.CreatedAt, err = time.Parse(time.RFC3339Nano, ctime); err != nil {
			return nil, fmt.Errorf("parse edge created_at: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

var _ domain.KnowledgePersister = (*SQLiteStore)(nil)
