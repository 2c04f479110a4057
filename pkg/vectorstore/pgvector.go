package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// Document is one embedded evidence chunk
type Document struct {
	ID        string                 `json:"id"`
	RunID     string                 `json:"run_id"`
	Content   string                 `json:"content"`
	Metadata  map[string]interface{} `json:"metadata"`
	Embedding []float32              `json:"embedding,omitempty"`
}

// PGVectorStore handles pgvector operations
type PGVectorStore struct {
	pool      *pgxpool.Pool
	tableName string
}

var tableNamePattern = regexp.MustCompile(`^[a-z_][a-zA-Z0-9_]{0,62}$`)

// isValidTableName validates that a table name contains only safe characters
// to prevent SQL injection attacks
func isValidTableName(name string) bool {
	return tableNamePattern.MatchString(name)
}

// NewPGVectorStore creates a new PGVector store
func NewPGVectorStore(pool *pgxpool.Pool, tableName string) (*PGVectorStore, error) {
	if !isValidTableName(tableName) {
		return nil, fmt.Errorf("invalid table name: must contain only alphanumeric characters and underscores, start with a letter or underscore, and be 1-63 characters long")
	}
	return &PGVectorStore{
		pool:      pool,
		tableName: tableName,
	}, nil
}

// AddDocuments adds documents with embeddings to the vector store
func (vs *PGVectorStore) AddDocuments(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (run_id, content, metadata, embedding)
		VALUES ($1::uuid, $2, $3, $4)
	`, pgx.Identifier{vs.tableName}.Sanitize())

	batch := &pgx.Batch{}
	for _, doc := range docs {
		metadataJSON, err := json.Marshal(doc.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}

		embedding := pgvector.NewVector(doc.Embedding)
		batch.Queue(query, doc.RunID, doc.Content, metadataJSON, embedding)
	}

	br := vs.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range docs {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to insert document: %w", err)
		}
	}

	return nil
}

// DeleteRun removes every document indexed for a run.
func (vs *PGVectorStore) DeleteRun(ctx context.Context, runID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE run_id = $1::uuid`, pgx.Identifier{vs.tableName}.Sanitize())
	if _, err := vs.pool.Exec(ctx, query, runID); err != nil {
		return fmt.Errorf("failed to delete run documents: %w", err)
	}
	return nil
}

// SimilaritySearchResult represents a search result with score
type SimilaritySearchResult struct {
	Document Document
	Score    float64
}

// SimilaritySearch returns the topK documents closest to queryEmbedding. An
// empty runID searches every run; filter uses the GetContentByMetadata syntax.
func (vs *PGVectorStore) SimilaritySearch(ctx context.Context, queryEmbedding []float32, topK int, runID string, filter map[string]interface{}) ([]SimilaritySearchResult, error) {
	query, args, err := vs.similarityQuery(queryEmbedding, topK, runID, filter)
	if err != nil {
		return nil, err
	}

	rows, err := vs.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute similarity search: %w", err)
	}
	defer rows.Close()

	var results []SimilaritySearchResult
	for rows.Next() {
		var doc Document
		var metadataJSON []byte
		var similarity float64

		if err := rows.Scan(&doc.ID, &doc.RunID, &doc.Content, &metadataJSON, &similarity); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		if err := json.Unmarshal(metadataJSON, &doc.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}

		results = append(results, SimilaritySearchResult{
			Document: doc,
			Score:    similarity,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return results, nil
}

// similarityQuery builds the search SQL. The embedding is always $1 so the
// metadata filter numbers its placeholders after it.
func (vs *PGVectorStore) similarityQuery(queryEmbedding []float32, topK int, runID string, filter map[string]interface{}) (string, []interface{}, error) {
	if topK <= 0 {
		topK = 5
	}
	args := []interface{}{pgvector.NewVector(queryEmbedding)}

	whereClause, err := vs.buildMetadataQuery(filter, &args)
	if err != nil {
		return "", nil, fmt.Errorf("failed to build metadata query: %w", err)
	}
	if runID != "" {
		args = append(args, runID)
		whereClause = fmt.Sprintf("run_id = $%d::uuid AND %s", len(args), whereClause)
	}
	args = append(args, topK)

	query := fmt.Sprintf(`
		SELECT id::text, run_id::text, content, metadata, 1 - (embedding <=> $1) as similarity
		FROM %s
		WHERE %s
		ORDER BY embedding <=> $1
		LIMIT $%d
	`, pgx.Identifier{vs.tableName}.Sanitize(), whereClause, len(args))
	return query, args, nil
}

// GetContentBySource retrieves all documents of a run for a specific source
func (vs *PGVectorStore) GetContentBySource(ctx context.Context, runID, source string) ([]Document, error) {
	query := fmt.Sprintf(`
		SELECT id::text, run_id::text, content, metadata
		FROM %s
		WHERE run_id = $1::uuid AND metadata->>'source' = $2
	`, pgx.Identifier{vs.tableName}.Sanitize())

	rows, err := vs.pool.Query(ctx, query, runID, source)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	var documents []Document
	for rows.Next() {
		var doc Document
		var metadataJSON []byte

		if err := rows.Scan(&doc.ID, &doc.RunID, &doc.Content, &metadataJSON); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		if err := json.Unmarshal(metadataJSON, &doc.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}

		documents = append(documents, doc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return documents, nil
}

// GetContentByMetadata retrieves a run's documents matching a complex JSON filter
// Supports logical operators $and, $or, $not within the filter map
func (vs *PGVectorStore) GetContentByMetadata(ctx context.Context, runID string, filter map[string]interface{}) ([]Document, error) {
	args := []interface{}{runID}
	whereClause, err := vs.buildMetadataQuery(filter, &args)
	if err != nil {
		return nil, fmt.Errorf("failed to build metadata query: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT id::text, run_id::text, content, metadata
		FROM %s
		WHERE run_id = $1::uuid AND %s
	`, pgx.Identifier{vs.tableName}.Sanitize(), whereClause)

	rows, err := vs.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	var documents []Document
	for rows.Next() {
		var doc Document
		var metadataJSON []byte

		if err := rows.Scan(&doc.ID, &doc.RunID, &doc.Content, &metadataJSON); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		if err := json.Unmarshal(metadataJSON, &doc.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}

		documents = append(documents, doc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return documents, nil
}

// buildMetadataQuery recursively builds a SQL WHERE clause for list of conditions
func (vs *PGVectorStore) buildMetadataQuery(filter map[string]interface{}, args *[]interface{}) (string, error) {
	if len(filter) == 0 {
		return "TRUE", nil
	}

	var conditions []string

	for key, value := range filter {
		switch key {
		case "$and", "$or":
			list, ok := value.([]interface{})
			if !ok {
				return "", fmt.Errorf("value for %s must be a list of conditions", key)
			}
			var subConditions []string
			for _, item := range list {
				subMap, ok := item.(map[string]interface{})
				if !ok {
					return "", fmt.Errorf("item in %s list must be a JSON object", key)
				}
				subQuery, err := vs.buildMetadataQuery(subMap, args)
				if err != nil {
					return "", err
				}
				subConditions = append(subConditions, "("+subQuery+")")
			}

			if len(subConditions) == 0 {
				continue
			}

			op := " AND "
			if key == "$or" {
				op = " OR "
			}
			conditions = append(conditions, "("+strings.Join(subConditions, op)+")")

		case "$not":
			subMap, ok := value.(map[string]interface{})
			if !ok {
				return "", fmt.Errorf("value for $not must be a JSON object")
			}
			subQuery, err := vs.buildMetadataQuery(subMap, args)
			if err != nil {
				return "", err
			}
			conditions = append(conditions, "NOT ("+subQuery+")")

		default:
			// Treat as simple equality match: metadata @> '{"key": value}'
			pair := map[string]interface{}{key: value}
			jsonBytes, err := json.Marshal(pair)
			if err != nil {
				return "", fmt.Errorf("failed to marshal metadata pair: %w", err)
			}
			*args = append(*args, jsonBytes)
			conditions = append(conditions, fmt.Sprintf("metadata @> $%d", len(*args)))
		}
	}

	if len(conditions) == 0 {
		return "TRUE", nil
	}

	return strings.Join(conditions, " AND "), nil
}
