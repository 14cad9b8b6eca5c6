// Package graphstore persists the knowledge graph in Postgres. All writes
// for one document happen in a single transaction: entity upserts, a purge
// of the document's previous mentions and edges, then bulk inserts of the
// new ones. A failed write rolls back completely, leaving the prior graph
// state untouched.
package graphstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"github.com/scholargraph/scholargraph/pkg/logger"
	"github.com/scholargraph/scholargraph/pkg/model"
)

type dbConn interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store writes and reads the graph. Safe for concurrent use; Postgres
// serializes conflicting writers through row locks, and the pipeline holds a
// per-document write lease on top.
type Store struct {
	conn dbConn
}

func New(conn dbConn) *Store {
	return &Store{conn: conn}
}

// Mention ties a document to a canonical entity with the document-local
// evidence for that tie.
type Mention struct {
	Category      model.Category
	CanonicalName string
	Role          string
	Section       string
	Snippet       string
	Fallback      bool
}

// DocumentWrite is everything one pipeline run produced for one document.
// Entities must cover every entity referenced by Mentions and Edges.
type DocumentWrite struct {
	Document model.Document
	Meta     model.DocumentMeta
	Entities []model.CanonicalEntity
	Mentions []Mention
	Edges    []model.Edge
}

const entityChunk = 250
const edgeChunk = 500

// WriteDocument persists one document's full graph contribution atomically.
// Rewriting the same document first removes everything the previous write
// attached to it, so stale mentions and edges never survive a reprocess.
func (s *Store) WriteDocument(ctx context.Context, write DocumentWrite) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin graph transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	doc := write.Document
	logger.Debug("[Store][WriteDocument] Writing document graph",
		"document", doc.ID,
		"entities", len(write.Entities),
		"mentions", len(write.Mentions),
		"edges", len(write.Edges),
	)

	if _, err := tx.Exec(ctx, upsertDocumentSQL,
		doc.ID,
		write.Meta.Title,
		write.Meta.Abstract,
		write.Meta.Year,
		doc.SourcePath,
	); err != nil {
		return fmt.Errorf("failed to upsert document %s: %w", doc.ID, err)
	}

	entityIDs, err := upsertEntities(ctx, tx, write.Entities)
	if err != nil {
		return err
	}

	// Purge before insert: the document's graph contribution is replaced
	// wholesale, never merged.
	if _, err := tx.Exec(ctx, deleteMentionsSQL, doc.ID); err != nil {
		return fmt.Errorf("failed to delete stale mentions for %s: %w", doc.ID, err)
	}
	if _, err := tx.Exec(ctx, deleteEdgesSQL, doc.ID); err != nil {
		return fmt.Errorf("failed to delete stale edges for %s: %w", doc.ID, err)
	}

	if err := insertMentions(ctx, tx, doc.ID, write.Mentions, entityIDs); err != nil {
		return err
	}
	if err := insertEdges(ctx, tx, doc.ID, write.Edges, entityIDs); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit document %s: %w", doc.ID, err)
	}
	return nil
}

func entityKey(category model.Category, name string) string {
	return string(category) + "|" + name
}

func upsertEntities(ctx context.Context, tx pgx.Tx, entities []model.CanonicalEntity) (map[string]int64, error) {
	ids := make(map[string]int64, len(entities))

	err := chunkRange(len(entities), entityChunk, func(start, end int) error {
		part := entities[start:end]

		categories := make([]string, 0, len(part))
		names := make([]string, 0, len(part))
		aliases := make([]string, 0, len(part))
		embeddings := make([]*pgvector.Vector, 0, len(part))
		for _, e := range part {
			if e.CanonicalName == "" {
				return fmt.Errorf("entity canonical name is empty")
			}
			categories = append(categories, string(e.Category))
			names = append(names, e.CanonicalName)
			// Aliases travel as a joined string per row; UNNEST over
			// text[][] is not worth the trouble.
			aliases = append(aliases, joinAliases(e.Aliases))
			if len(e.Embedding) > 0 {
				v := pgvector.NewVector(e.Embedding)
				embeddings = append(embeddings, &v)
			} else {
				embeddings = append(embeddings, nil)
			}
		}

		rows, err := tx.Query(ctx, upsertEntitiesSQL, categories, names, aliases, embeddings)
		if err != nil {
			return fmt.Errorf("failed to upsert entities: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var id int64
			var category, name string
			if err := rows.Scan(&id, &category, &name); err != nil {
				return err
			}
			ids[entityKey(model.Category(category), name)] = id
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func insertMentions(ctx context.Context, tx pgx.Tx, documentID string, mentions []Mention, entityIDs map[string]int64) error {
	return chunkRange(len(mentions), edgeChunk, func(start, end int) error {
		part := mentions[start:end]

		ids := make([]int64, 0, len(part))
		roles := make([]string, 0, len(part))
		sections := make([]string, 0, len(part))
		snippets := make([]string, 0, len(part))
		fallbacks := make([]bool, 0, len(part))
		for _, m := range part {
			id, ok := entityIDs[entityKey(m.Category, m.CanonicalName)]
			if !ok {
				return fmt.Errorf("mention references unknown entity %s/%s", m.Category, m.CanonicalName)
			}
			ids = append(ids, id)
			roles = append(roles, m.Role)
			sections = append(sections, m.Section)
			snippets = append(snippets, m.Snippet)
			fallbacks = append(fallbacks, m.Fallback)
		}

		if _, err := tx.Exec(ctx, insertMentionsSQL, documentID, ids, roles, sections, snippets, fallbacks); err != nil {
			return fmt.Errorf("failed to insert mentions: %w", err)
		}
		return nil
	})
}

func insertEdges(ctx context.Context, tx pgx.Tx, documentID string, edges []model.Edge, entityIDs map[string]int64) error {
	return chunkRange(len(edges), edgeChunk, func(start, end int) error {
		part := edges[start:end]

		sourceIDs := make([]int64, 0, len(part))
		targetIDs := make([]int64, 0, len(part))
		roles := make([]string, 0, len(part))
		strengths := make([]float64, 0, len(part))
		roleWeights := make([]float64, 0, len(part))
		sectionScores := make([]float64, 0, len(part))
		keywordScores := make([]float64, 0, len(part))
		semanticScores := make([]float64, 0, len(part))
		explicitBonuses := make([]float64, 0, len(part))
		for _, e := range part {
			sourceID, ok := entityIDs[entityKey(e.SourceCategory, e.SourceName)]
			if !ok {
				return fmt.Errorf("edge references unknown source entity %s/%s", e.SourceCategory, e.SourceName)
			}
			targetID, ok := entityIDs[entityKey(e.TargetCategory, e.TargetName)]
			if !ok {
				return fmt.Errorf("edge references unknown target entity %s/%s", e.TargetCategory, e.TargetName)
			}
			sourceIDs = append(sourceIDs, sourceID)
			targetIDs = append(targetIDs, targetID)
			roles = append(roles, e.Role)
			strengths = append(strengths, e.Strength)
			roleWeights = append(roleWeights, e.Factors.RoleWeight)
			sectionScores = append(sectionScores, e.Factors.SectionScore)
			keywordScores = append(keywordScores, e.Factors.KeywordScore)
			semanticScores = append(semanticScores, e.Factors.SemanticScore)
			explicitBonuses = append(explicitBonuses, e.Factors.ExplicitBonus)
		}

		if _, err := tx.Exec(ctx, insertEdgesSQL,
			documentID,
			sourceIDs,
			targetIDs,
			roles,
			strengths,
			roleWeights,
			sectionScores,
			keywordScores,
			semanticScores,
			explicitBonuses,
		); err != nil {
			return fmt.Errorf("failed to insert edges: %w", err)
		}
		return nil
	})
}

// EntitiesByCategory returns every canonical entity of one category with its
// aliases, ordered by name.
func (s *Store) EntitiesByCategory(ctx context.Context, category model.Category) ([]model.CanonicalEntity, error) {
	rows, err := s.conn.Query(ctx, entitiesByCategorySQL, string(category))
	if err != nil {
		return nil, fmt.Errorf("failed to query entities: %w", err)
	}
	defer rows.Close()

	var out []model.CanonicalEntity
	for rows.Next() {
		var e model.CanonicalEntity
		var cat, aliases string
		if err := rows.Scan(&cat, &e.CanonicalName, &aliases); err != nil {
			return nil, err
		}
		e.Category = model.Category(cat)
		e.Aliases = splitAliases(aliases)
		out = append(out, e)
	}
	return out, rows.Err()
}

// AggregatedEdges summarizes per-document edges into one row per entity
// pair. minDocuments filters out pairs supported by too few documents;
// limit caps the result, strongest pairs first.
func (s *Store) AggregatedEdges(ctx context.Context, minDocuments, limit int) ([]model.AggregatedEdge, error) {
	if minDocuments <= 0 {
		minDocuments = 1
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.conn.Query(ctx, aggregatedEdgesSQL, minDocuments, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query aggregated edges: %w", err)
	}
	defer rows.Close()

	var out []model.AggregatedEdge
	for rows.Next() {
		var e model.AggregatedEdge
		var sourceCat, targetCat string
		if err := rows.Scan(
			&sourceCat,
			&e.SourceName,
			&targetCat,
			&e.TargetName,
			&e.AvgStrength,
			&e.MinStrength,
			&e.MaxStrength,
			&e.DocumentCount,
		); err != nil {
			return nil, err
		}
		e.SourceCategory = model.Category(sourceCat)
		e.TargetCategory = model.Category(targetCat)
		out = append(out, e)
	}
	return out, rows.Err()
}

// DocumentSummary is the stored view of one processed document.
type DocumentSummary struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Year         int    `json:"year"`
	SourcePath   string `json:"source_path"`
	MentionCount int    `json:"mention_count"`
	EdgeCount    int    `json:"edge_count"`
}

// GetDocument returns the stored summary for one document, or ok=false when
// it was never written.
func (s *Store) GetDocument(ctx context.Context, documentID string) (DocumentSummary, bool, error) {
	var d DocumentSummary
	err := s.conn.QueryRow(ctx, getDocumentSQL, documentID).Scan(
		&d.ID,
		&d.Title,
		&d.Year,
		&d.SourcePath,
		&d.MentionCount,
		&d.EdgeCount,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return DocumentSummary{}, false, nil
		}
		return DocumentSummary{}, false, fmt.Errorf("failed to query document %s: %w", documentID, err)
	}
	return d, true, nil
}

func chunkRange(total, chunkSize int, fn func(start, end int) error) error {
	if total <= 0 {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = total
	}
	for start := 0; start < total; start += chunkSize {
		end := min(start+chunkSize, total)
		if err := fn(start, end); err != nil {
			return err
		}
	}
	return nil
}
