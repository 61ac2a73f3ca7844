package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/topoquery/backend/pkg/logger"
)

// DB is the relational persistence layer: raw feedback for audit, embedded
// pool entries, cached answers and interaction logs all survive restart here.
type DB struct {
	db *sql.DB
}

func NewDB(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite store initialized", zap.String("path", dbPath))

	return &DB{db: db}, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS feedback (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		question TEXT NOT NULL,
		generated_cypher TEXT NOT NULL,
		correct_cypher TEXT NOT NULL,
		rating INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_feedback_rating ON feedback(rating);
	CREATE INDEX IF NOT EXISTS idx_feedback_created ON feedback(created_at);

	CREATE TABLE IF NOT EXISTS pool_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		natural_language TEXT NOT NULL,
		cypher TEXT NOT NULL,
		embedding TEXT NOT NULL,
		source TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		UNIQUE(natural_language, source)
	);
	CREATE INDEX IF NOT EXISTS idx_pool_source ON pool_entries(source);

	CREATE TABLE IF NOT EXISTS query_cache (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		question TEXT NOT NULL,
		embedding TEXT NOT NULL,
		answer TEXT NOT NULL,
		cypher TEXT NOT NULL,
		hit_count INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS interaction_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id TEXT,
		question TEXT NOT NULL,
		generated_cypher TEXT,
		final_answer TEXT,
		status TEXT,
		cache_hit INTEGER DEFAULT 0,
		cache_similarity REAL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_logs_conversation ON interaction_logs(conversation_id);
	`

	if _, err := d.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (d *DB) InsertFeedback(fb *Feedback) (int64, error) {
	res, err := d.db.Exec(
		`INSERT INTO feedback (question, generated_cypher, correct_cypher, rating, created_at) VALUES (?, ?, ?, ?, ?)`,
		fb.Question, fb.GeneratedQuery, fb.CorrectQuery, fb.Rating, time.Now().Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to store feedback: %w", err)
	}
	return res.LastInsertId()
}

func (d *DB) InsertPoolEntry(ex *Example) (int64, error) {
	data, err := json.Marshal(ex.Embedding)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal embedding: %w", err)
	}

	_, err = d.db.Exec(
		`INSERT INTO pool_entries (natural_language, cypher, embedding, source, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(natural_language, source) DO UPDATE SET cypher = excluded.cypher, embedding = excluded.embedding`,
		ex.NaturalLanguage, ex.Query, string(data), string(ex.Source), time.Now().Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert pool entry: %w", err)
	}

	// last_insert_rowid is not updated by the DO UPDATE branch; read the row
	// back so upserts report the id of the entry they landed on.
	var id int64
	err = d.db.QueryRow(
		`SELECT id FROM pool_entries WHERE natural_language = ? AND source = ?`,
		ex.NaturalLanguage, string(ex.Source),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve pool entry id: %w", err)
	}
	return id, nil
}

func (d *DB) ListPoolEntries() ([]Example, error) {
	rows, err := d.db.Query(`SELECT id, natural_language, cypher, embedding, source FROM pool_entries ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list pool entries: %w", err)
	}
	defer rows.Close()

	var entries []Example
	for rows.Next() {
		var ex Example
		var embeddingJSON, source string
		if err := rows.Scan(&ex.ID, &ex.NaturalLanguage, &ex.Query, &embeddingJSON, &source); err != nil {
			return nil, fmt.Errorf("failed to scan pool entry: %w", err)
		}
		if err := json.Unmarshal([]byte(embeddingJSON), &ex.Embedding); err != nil {
			logger.Warn("Skipping pool entry with malformed embedding", zap.Int64("id", ex.ID))
			continue
		}
		ex.Source = Source(source)
		entries = append(entries, ex)
	}
	return entries, rows.Err()
}

func (d *DB) InsertCacheRow(row *CacheRow) (int64, error) {
	data, err := json.Marshal(row.Embedding)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal embedding: %w", err)
	}

	res, err := d.db.Exec(
		`INSERT INTO query_cache (question, embedding, answer, cypher, hit_count, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		row.Question, string(data), row.Answer, row.Query, row.HitCount, row.CreatedAt.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert cache row: %w", err)
	}
	return res.LastInsertId()
}

func (d *DB) ListCacheRows() ([]CacheRow, error) {
	rows, err := d.db.Query(`SELECT id, question, embedding, answer, cypher, hit_count, created_at FROM query_cache ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list cache rows: %w", err)
	}
	defer rows.Close()

	var entries []CacheRow
	for rows.Next() {
		var row CacheRow
		var embeddingJSON string
		var createdAt int64
		if err := rows.Scan(&row.ID, &row.Question, &embeddingJSON, &row.Answer, &row.Query, &row.HitCount, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan cache row: %w", err)
		}
		// Malformed embeddings are logged and skipped; the row stays behind
		// for the cleanup pass, it just cannot be served.
		if err := json.Unmarshal([]byte(embeddingJSON), &row.Embedding); err != nil || len(row.Embedding) == 0 {
			logger.Warn("Skipping cache row with malformed embedding", zap.Int64("id", row.ID))
			continue
		}
		row.CreatedAt = time.Unix(createdAt, 0)
		entries = append(entries, row)
	}
	return entries, rows.Err()
}

func (d *DB) UpdateCacheHitCount(id, hitCount int64) error {
	_, err := d.db.Exec(`UPDATE query_cache SET hit_count = ? WHERE id = ?`, hitCount, id)
	if err != nil {
		return fmt.Errorf("failed to update cache hit count: %w", err)
	}
	return nil
}

func (d *DB) DeleteCacheRow(id int64) error {
	_, err := d.db.Exec(`DELETE FROM query_cache WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete cache row: %w", err)
	}
	return nil
}

func (d *DB) ClearCacheRows() error {
	_, err := d.db.Exec(`DELETE FROM query_cache`)
	if err != nil {
		return fmt.Errorf("failed to clear cache rows: %w", err)
	}
	return nil
}

func (d *DB) LogInteraction(conversationID, question, generatedQuery, answer, status string, cacheHit bool, cacheScore float64) error {
	hit := 0
	if cacheHit {
		hit = 1
	}
	_, err := d.db.Exec(
		`INSERT INTO interaction_logs (conversation_id, question, generated_cypher, final_answer, status, cache_hit, cache_similarity, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		conversationID, question, generatedQuery, answer, status, hit, cacheScore, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to log interaction: %w", err)
	}
	return nil
}
