// Package retriever implements semantic lookup over an embedded fragment index
// stored in SQLite and ranked with sqlite-vec.
package retriever

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/sammcj/auditor/embedding"
	"github.com/sammcj/auditor/types"
)

func init() {
	// Registers sqlite-vec as an auto-loaded extension for every mattn/go-sqlite3 connection.
	vec.Auto()
}

// Source labels assigned at ingestion
const (
	SourcePolicy = "policy"
	SourceEmail  = "email"
)

// Fragment is one retrieved piece of text with its similarity to the query
type Fragment struct {
	ID     int64   `json:"id"`
	Text   string  `json:"text"`
	Source string  `json:"source,omitempty"`
	Score  float64 `json:"score"`
}

// Searcher is the semantic lookup boundary used by tools and audits
type Searcher interface {
	// Search returns at most k fragments ordered by non-increasing score.
	Search(ctx context.Context, text string, k int) ([]Fragment, error)
	// SearchSource is Search restricted to fragments ingested under source.
	SearchSource(ctx context.Context, text, source string, k int) ([]Fragment, error)
}

const schema = `
CREATE TABLE IF NOT EXISTS fragments (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	source TEXT NOT NULL,
	content TEXT NOT NULL,
	embedding BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fragments_source ON fragments(source);
`

// Index is a SQLite-backed fragment index
type Index struct {
	db       *sql.DB
	embedder embedding.Embedder
	logger   zerolog.Logger
	mu       sync.Mutex
}

// Open opens (and if needed creates) the index at path
func Open(path string, embedder embedding.Embedder, logger zerolog.Logger) (*Index, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, &types.ConfigError{Field: "index.path", Message: "failed to open index", Err: err}
	}
	// A single connection keeps concurrent ingestion writes from hitting SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, &types.ConfigError{Field: "index.path", Message: "failed to initialise index schema", Err: err}
	}

	return &Index{
		db:       db,
		embedder: embedder,
		logger:   logger.With().Str("component", "retriever").Logger(),
	}, nil
}

// Close closes the underlying database
func (ix *Index) Close() error {
	return ix.db.Close()
}

// Verify checks that the vector extension is loaded and the index holds at least one fragment.
// A failure here must stop the caller from serving.
func (ix *Index) Verify(ctx context.Context) error {
	var version string
	if err := ix.db.QueryRowContext(ctx, "SELECT vec_version()").Scan(&version); err != nil {
		return &types.ConfigError{Field: "index.path", Message: "vector extension unavailable", Err: err}
	}

	count, err := ix.Count(ctx)
	if err != nil {
		return &types.ConfigError{Field: "index.path", Message: "failed to read index", Err: err}
	}
	if count == 0 {
		return &types.ConfigError{Field: "index.path", Message: "index is empty, run ingestion first"}
	}

	ix.logger.Info().Str("vec_version", version).Int("fragments", count).Msg("semantic index ready")
	return nil
}

// Count returns the number of indexed fragments
func (ix *Index) Count(ctx context.Context) (int, error) {
	var count int
	err := ix.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM fragments").Scan(&count)
	return count, err
}

// Reset removes every fragment
func (ix *Index) Reset(ctx context.Context) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if _, err := ix.db.ExecContext(ctx, "DELETE FROM fragments"); err != nil {
		return fmt.Errorf("failed to reset index: %w", err)
	}
	return nil
}

// Insert embeds text and stores it under source
func (ix *Index) Insert(ctx context.Context, source, text string) (int64, error) {
	vector, err := ix.embedder.Embed(ctx, text)
	if err != nil {
		return 0, fmt.Errorf("failed to embed fragment: %w", err)
	}
	return ix.InsertVector(ctx, source, text, vector)
}

// InsertVector stores a fragment whose embedding was computed elsewhere
func (ix *Index) InsertVector(ctx context.Context, source, text string, vector []float32) (int64, error) {
	blob, err := vec.SerializeFloat32(vector)
	if err != nil {
		return 0, fmt.Errorf("failed to serialize embedding: %w", err)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	res, err := ix.db.ExecContext(ctx,
		"INSERT INTO fragments (source, content, embedding) VALUES (?, ?, ?)",
		source, text, blob)
	if err != nil {
		return 0, fmt.Errorf("failed to insert fragment: %w", err)
	}
	return res.LastInsertId()
}

// Search implements Searcher
func (ix *Index) Search(ctx context.Context, text string, k int) ([]Fragment, error) {
	return ix.search(ctx, text, "", k)
}

// SearchSource implements Searcher
func (ix *Index) SearchSource(ctx context.Context, text, source string, k int) ([]Fragment, error) {
	if source == "" {
		return nil, errors.New("source must not be empty")
	}
	return ix.search(ctx, text, source, k)
}

func (ix *Index) search(ctx context.Context, text, source string, k int) ([]Fragment, error) {
	if k <= 0 {
		return nil, nil
	}

	vector, err := ix.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	blob, err := vec.SerializeFloat32(vector)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize query embedding: %w", err)
	}

	// id breaks ties so equal distances always come back in the same order
	query := `
		SELECT id, source, content, vec_distance_cosine(embedding, ?) AS distance
		FROM fragments
		WHERE (? = '' OR source = ?)
		ORDER BY distance ASC, id ASC
		LIMIT ?`

	rows, err := ix.db.QueryContext(ctx, query, blob, source, source, k)
	if err != nil {
		return nil, fmt.Errorf("semantic search failed: %w", err)
	}
	defer rows.Close()

	var fragments []Fragment
	for rows.Next() {
		var f Fragment
		var distance float64
		if err := rows.Scan(&f.ID, &f.Source, &f.Text, &distance); err != nil {
			return nil, fmt.Errorf("failed to scan fragment: %w", err)
		}
		f.Score = 1.0 - distance
		fragments = append(fragments, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating fragments: %w", err)
	}

	ix.logger.Debug().Str("source", source).Int("k", k).Int("hits", len(fragments)).Msg("semantic search")
	return fragments, nil
}
