// Package store persists messages and their embedding vectors in SQLite.
//
// One SQLiteStore owns its database handle exclusively. Writes are serialized
// through a single pooled connection; readers share the same discipline, which
// keeps every scan a consistent snapshot. The central contract is the atomic
// dual-write: a message and its embedding commit together or not at all.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	_ "modernc.org/sqlite"

	"minimemori/internal/errs"
	"minimemori/internal/models"
	sqlm "minimemori/internal/storage/sqlite"
)

// timeLayout is fixed-width UTC so stored timestamps sort lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

type SQLiteStore struct {
	db   *sql.DB
	path string
}

func NewSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: sqlite path required", errs.ErrInvalidInput)
	}
	if err := os.MkdirAll(dirOf(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	// single connection: one writer at a time, and connection-scoped pragmas
	// stay in effect for the store's lifetime
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		`PRAGMA journal_mode=WAL`,
		`PRAGMA foreign_keys=ON`,
		`PRAGMA busy_timeout=5000`,
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
		}
	}
	if err := (sqlm.Manager{}).UpToLatest(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	return &SQLiteStore{db: db, path: path}, nil
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// Path returns the database file path the store was opened with.
func (s *SQLiteStore) Path() string { return s.path }

// DB exposes the underlying *sql.DB for internal helpers and tests.
// Not part of the public surface; use sparingly.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

// WithTx runs fn in a transaction that commits on nil error and rolls back
// otherwise. The callback must not hold the tx beyond return.
func (s *SQLiteStore) WithTx(fn func(*sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	return nil
}

// SaveMessage inserts one message and updates the conversation aggregate in
// the same transaction. Returns the store-assigned message id.
func (s *SQLiteStore) SaveMessage(ctx context.Context, conversationID, role, content string, metadata map[string]string) (int64, error) {
	var id int64
	err := s.WithTx(func(tx *sql.Tx) error {
		var err error
		id, err = s.saveMessageTx(ctx, tx, conversationID, role, content, metadata)
		return err
	})
	return id, err
}

func (s *SQLiteStore) saveMessageTx(ctx context.Context, tx *sql.Tx, conversationID, role, content string, metadata map[string]string) (int64, error) {
	if conversationID == "" {
		return 0, fmt.Errorf("%w: conversation id required", errs.ErrInvalidInput)
	}
	if role == "" {
		return 0, fmt.Errorf("%w: role required", errs.ErrInvalidInput)
	}
	if content == "" {
		return 0, fmt.Errorf("%w: content required", errs.ErrInvalidInput)
	}
	now := time.Now().UTC().Format(timeLayout)
	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO conversations(id, created_at, updated_at) VALUES(?,?,?)`, conversationID, now, now); err != nil {
		return 0, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE conversations SET updated_at=? WHERE id=?`, now, conversationID); err != nil {
		return 0, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	var meta any
	if len(metadata) > 0 {
		b, err := json.Marshal(metadata)
		if err != nil {
			return 0, fmt.Errorf("%w: metadata: %v", errs.ErrInvalidInput, err)
		}
		meta = string(b)
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO messages(conversation_id, role, content, metadata, created_at) VALUES(?,?,?,?,?)`,
		conversationID, role, content, meta, now)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	return id, nil
}

// SaveEmbedding inserts the vector for an existing message. The message must
// be live, and the vector length must match the dimensionality previously
// observed for the model.
func (s *SQLiteStore) SaveEmbedding(ctx context.Context, messageID int64, vector []float32, model string) (int64, error) {
	var id int64
	err := s.WithTx(func(tx *sql.Tx) error {
		var err error
		id, err = s.saveEmbeddingTx(ctx, tx, messageID, vector, model)
		return err
	})
	return id, err
}

func (s *SQLiteStore) saveEmbeddingTx(ctx context.Context, tx *sql.Tx, messageID int64, vector []float32, model string) (int64, error) {
	if len(vector) == 0 {
		return 0, fmt.Errorf("%w: empty vector", errs.ErrInvalidInput)
	}
	if model == "" {
		return 0, fmt.Errorf("%w: model required", errs.ErrInvalidInput)
	}
	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM messages WHERE id=?`, messageID).Scan(&exists); err != nil {
		return 0, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	if exists == 0 {
		return 0, fmt.Errorf("%w: message %d", errs.ErrNotFound, messageID)
	}
	// dimension guard: one dimensionality per model
	var dim int
	err := tx.QueryRowContext(ctx, `SELECT dim FROM embeddings WHERE model=? LIMIT 1`, model).Scan(&dim)
	switch {
	case err == nil:
		if dim != len(vector) {
			return 0, fmt.Errorf("%w: model %q has dim %d, got %d", errs.ErrDimensionMismatch, model, dim, len(vector))
		}
	case errors.Is(err, sql.ErrNoRows):
		// first vector for this model sets the dimensionality
	default:
		return 0, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	vecJSON, err := json.Marshal(vector)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO embeddings(message_id, model, dim, vector, created_at) VALUES(?,?,?,?,?)`,
		messageID, model, len(vector), string(vecJSON), time.Now().UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	return id, nil
}

// SaveMessageWithEmbedding persists the message and its vector atomically:
// either both rows are durable or neither is.
func (s *SQLiteStore) SaveMessageWithEmbedding(ctx context.Context, conversationID, role, content string, metadata map[string]string, vector []float32, model string) (int64, error) {
	var id int64
	err := s.WithTx(func(tx *sql.Tx) error {
		var err error
		id, err = s.saveMessageTx(ctx, tx, conversationID, role, content, metadata)
		if err != nil {
			return err
		}
		_, err = s.saveEmbeddingTx(ctx, tx, id, vector, model)
		return err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// ForEachEmbedding streams (message id, vector, message timestamp) for every
// embedding of the given model, optionally filtered to one conversation.
// Each call issues a fresh query, so the sequence is restartable and reflects
// a consistent snapshot as of call time. Returning an error from fn stops the
// scan and propagates that error.
func (s *SQLiteStore) ForEachEmbedding(ctx context.Context, model, conversationID string, fn func(models.VectorRecord) error) error {
	if model == "" {
		return fmt.Errorf("%w: model required", errs.ErrInvalidInput)
	}
	q := `SELECT e.message_id, e.vector, m.created_at
          FROM embeddings e JOIN messages m ON m.id = e.message_id
          WHERE e.model=?`
	args := []any{model}
	if conversationID != "" {
		q += ` AND m.conversation_id=?`
		args = append(args, conversationID)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	defer rows.Close()
	for rows.Next() {
		var rec models.VectorRecord
		var vecStr, created string
		if err := rows.Scan(&rec.MessageID, &vecStr, &created); err != nil {
			return fmt.Errorf("%w: %v", errs.ErrStorage, err)
		}
		if err := json.Unmarshal([]byte(vecStr), &rec.Vector); err != nil {
			return fmt.Errorf("%w: vector for message %d: %v", errs.ErrStorage, rec.MessageID, err)
		}
		rec.CreatedAt, _ = time.Parse(timeLayout, created)
		if err := fn(rec); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	return nil
}

// GetMessage returns one message by id.
func (s *SQLiteStore) GetMessage(ctx context.Context, id int64) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, conversation_id, role, content, metadata, created_at FROM messages WHERE id=?`, id)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: message %d", errs.ErrNotFound, id)
	}
	return m, err
}

// GetMessages returns the messages for the given ids, keyed by id. Missing
// ids are simply absent from the map.
func (s *SQLiteStore) GetMessages(ctx context.Context, ids []int64) (map[int64]*models.Message, error) {
	out := make(map[int64]*models.Message, len(ids))
	for _, id := range ids {
		m, err := s.GetMessage(ctx, id)
		if err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out[id] = m
	}
	return out, nil
}

// History returns the most recent limit messages of a conversation,
// newest-first.
func (s *SQLiteStore) History(ctx context.Context, conversationID string, limit int) ([]*models.Message, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("%w: conversation id required", errs.ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, conversation_id, role, content, metadata, created_at
        FROM messages WHERE conversation_id=? ORDER BY created_at DESC, id DESC LIMIT ?`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

// KeywordSearch matches content by case-insensitive substring, newest-first.
// Works with zero stored embeddings.
func (s *SQLiteStore) KeywordSearch(ctx context.Context, keyword, conversationID string, limit int) ([]*models.Message, error) {
	if keyword == "" {
		return nil, fmt.Errorf("%w: keyword required", errs.ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 10
	}
	q := `SELECT id, conversation_id, role, content, metadata, created_at
          FROM messages WHERE instr(lower(content), lower(?)) > 0`
	args := []any{keyword}
	if conversationID != "" {
		q += ` AND conversation_id=?`
		args = append(args, conversationID)
	}
	q += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

// MessagesWithoutEmbedding lists messages that have no vector for the given
// model, oldest-first, for the embedding backfill pass.
func (s *SQLiteStore) MessagesWithoutEmbedding(ctx context.Context, model string, limit int) ([]*models.Message, error) {
	if model == "" {
		return nil, fmt.Errorf("%w: model required", errs.ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT m.id, m.conversation_id, m.role, m.content, m.metadata, m.created_at
        FROM messages m LEFT JOIN embeddings e ON e.message_id = m.id AND e.model = ?
        WHERE e.id IS NULL ORDER BY m.id LIMIT ?`, model, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

// DeleteConversation removes a conversation, its messages and their
// embeddings. A missing conversation is not an error; it deletes 0 messages.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, conversationID string) (int, error) {
	if conversationID == "" {
		return 0, fmt.Errorf("%w: conversation id required", errs.ErrInvalidInput)
	}
	deleted := 0
	err := s.WithTx(func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM embeddings WHERE message_id IN (SELECT id FROM messages WHERE conversation_id=?)`, conversationID); err != nil {
			return fmt.Errorf("%w: %v", errs.ErrStorage, err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id=?`, conversationID)
		if err != nil {
			return fmt.Errorf("%w: %v", errs.ErrStorage, err)
		}
		n, _ := res.RowsAffected()
		deleted = int(n)
		if _, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id=?`, conversationID); err != nil {
			return fmt.Errorf("%w: %v", errs.ErrStorage, err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// DeleteMessage removes one message and its embedding. When the last message
// of a conversation goes, the conversation row goes with it.
func (s *SQLiteStore) DeleteMessage(ctx context.Context, id int64) error {
	return s.WithTx(func(tx *sql.Tx) error {
		var convID string
		err := tx.QueryRowContext(ctx, `SELECT conversation_id FROM messages WHERE id=?`, id).Scan(&convID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: message %d", errs.ErrNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("%w: %v", errs.ErrStorage, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM embeddings WHERE message_id=?`, id); err != nil {
			return fmt.Errorf("%w: %v", errs.ErrStorage, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE id=?`, id); err != nil {
			return fmt.Errorf("%w: %v", errs.ErrStorage, err)
		}
		var remaining int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM messages WHERE conversation_id=?`, convID).Scan(&remaining); err != nil {
			return fmt.Errorf("%w: %v", errs.ErrStorage, err)
		}
		if remaining == 0 {
			if _, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id=?`, convID); err != nil {
				return fmt.Errorf("%w: %v", errs.ErrStorage, err)
			}
		}
		return nil
	})
}

// Stats returns store-wide counters and the message time range.
func (s *SQLiteStore) Stats(ctx context.Context) (*models.Stats, error) {
	st := &models.Stats{}
	count := func(q string) (int, error) {
		var n int
		if err := s.db.QueryRowContext(ctx, q).Scan(&n); err != nil {
			return 0, fmt.Errorf("%w: %v", errs.ErrStorage, err)
		}
		return n, nil
	}
	var err error
	if st.TotalMessages, err = count(`SELECT COUNT(1) FROM messages`); err != nil {
		return nil, err
	}
	if st.TotalConversations, err = count(`SELECT COUNT(DISTINCT conversation_id) FROM messages`); err != nil {
		return nil, err
	}
	if st.TotalEmbeddings, err = count(`SELECT COUNT(1) FROM embeddings`); err != nil {
		return nil, err
	}
	var earliest, latest sql.NullString
	if err := s.db.QueryRowContext(ctx, `SELECT MIN(created_at), MAX(created_at) FROM messages`).Scan(&earliest, &latest); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	if earliest.Valid {
		if t, err := time.Parse(timeLayout, earliest.String); err == nil {
			st.EarliestMessage = &t
		}
	}
	if latest.Valid {
		if t, err := time.Parse(timeLayout, latest.String); err == nil {
			st.LatestMessage = &t
		}
	}
	return st, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*models.Message, error) {
	var m models.Message
	var meta sql.NullString
	var created string
	if err := row.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &meta, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &m.Metadata); err != nil {
			return nil, fmt.Errorf("%w: metadata for message %d: %v", errs.ErrStorage, m.ID, err)
		}
	}
	m.CreatedAt, _ = time.Parse(timeLayout, created)
	return &m, nil
}

func collectMessages(rows *sql.Rows) ([]*models.Message, error) {
	var out []*models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	return out, nil
}
