package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	_ "modernc.org/sqlite" // pure Go SQLite driver, no CGO

	"github.com/markerlab/ragserve/internal/chunk"
	"github.com/markerlab/ragserve/internal/ragerr"
)

const chunksSchema = `
CREATE TABLE IF NOT EXISTS chunks (
	chunk_id       TEXT PRIMARY KEY,
	doc_id         TEXT NOT NULL,
	chunk_index    INTEGER NOT NULL,
	text           TEXT NOT NULL,
	heading        TEXT NOT NULL DEFAULT '',
	section_path   TEXT NOT NULL DEFAULT '[]',
	page_number    INTEGER NOT NULL DEFAULT 0,
	total_chunks   INTEGER NOT NULL DEFAULT 0,
	token_estimate INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_chunks_doc ON chunks(doc_id);

CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// openChunkDB opens the chunk database in WAL mode with a single writer
// connection, the configuration modernc.org/sqlite behaves best under.
func openChunkDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.CodeStoreFailed, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Pragmas must be set via statements; DSN parameters are not honored.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, ragerr.Wrap(ragerr.CodeStoreFailed, err)
		}
	}

	if _, err := db.Exec(chunksSchema); err != nil {
		_ = db.Close()
		return nil, ragerr.Wrap(ragerr.CodeStoreFailed, err)
	}
	return db, nil
}

func upsertChunks(ctx context.Context, db *sql.DB, chunks []chunk.Chunk) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return ragerr.Wrap(ragerr.CodeStoreFailed, err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO chunks
		(chunk_id, doc_id, chunk_index, text, heading, section_path, page_number, total_chunks, token_estimate)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return ragerr.Wrap(ragerr.CodeStoreFailed, err)
	}
	defer func() { _ = stmt.Close() }()

	for _, ch := range chunks {
		path, err := json.Marshal(ch.SectionPath)
		if err != nil {
			return ragerr.Wrap(ragerr.CodeStoreFailed, err)
		}
		if _, err := stmt.ExecContext(ctx,
			ch.ID, ch.DocID, ch.Index, ch.Text, ch.Heading, string(path),
			ch.PageNumber, ch.TotalChunks, ch.TokenEstimate); err != nil {
			return ragerr.Wrap(ragerr.CodeStoreFailed, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return ragerr.Wrap(ragerr.CodeStoreFailed, err)
	}
	return nil
}

func loadChunk(ctx context.Context, db *sql.DB, chunkID string) (chunk.Chunk, error) {
	row := db.QueryRowContext(ctx, `
		SELECT chunk_id, doc_id, chunk_index, text, heading, section_path, page_number, total_chunks, token_estimate
		FROM chunks WHERE chunk_id = ?`, chunkID)

	var ch chunk.Chunk
	var sectionPath string
	err := row.Scan(&ch.ID, &ch.DocID, &ch.Index, &ch.Text, &ch.Heading,
		&sectionPath, &ch.PageNumber, &ch.TotalChunks, &ch.TokenEstimate)
	if errors.Is(err, sql.ErrNoRows) {
		return chunk.Chunk{}, ragerr.Newf(ragerr.CodeCorruptIndex,
			"chunk %s has a vector but no stored text", chunkID)
	}
	if err != nil {
		return chunk.Chunk{}, ragerr.Wrap(ragerr.CodeStoreFailed, err)
	}
	if err := json.Unmarshal([]byte(sectionPath), &ch.SectionPath); err != nil {
		return chunk.Chunk{}, ragerr.Wrap(ragerr.CodeCorruptIndex, err)
	}
	return ch, nil
}

func chunkIDsForDoc(ctx context.Context, db *sql.DB, docID string) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT chunk_id FROM chunks WHERE doc_id = ?`, docID)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.CodeStoreFailed, err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, ragerr.Wrap(ragerr.CodeStoreFailed, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, ragerr.Wrap(ragerr.CodeStoreFailed, err)
	}
	return ids, nil
}

func deleteDocRows(ctx context.Context, db *sql.DB, docID string) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM chunks WHERE doc_id = ?`, docID); err != nil {
		return ragerr.Wrap(ragerr.CodeStoreFailed, err)
	}
	return nil
}

func countDocuments(ctx context.Context, db *sql.DB) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT doc_id) FROM chunks`).Scan(&n); err != nil {
		return 0, ragerr.Wrap(ragerr.CodeStoreFailed, err)
	}
	return n, nil
}

func setMeta(ctx context.Context, db *sql.DB, key, value string) error {
	if _, err := db.ExecContext(ctx,
		`INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)`, key, value); err != nil {
		return ragerr.Wrap(ragerr.CodeStoreFailed, err)
	}
	return nil
}

func getMeta(ctx context.Context, db *sql.DB, key string) (string, error) {
	var value string
	err := db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", ragerr.Wrap(ragerr.CodeStoreFailed, err)
	}
	return value, nil
}
