package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"recall-ai/internal/models"
)

type sqlDB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore keeps sessions as JSON rows in the sessions table created by db.Open.
// The caller owns the database handle.
type SQLiteStore struct {
	db sqlDB
}

func NewSQLiteStore(db sqlDB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Create(ctx context.Context, sess *models.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, data, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING;
	`, sess.ID, string(data), sess.CreatedAt.UTC(), sess.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrExists
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.Session, error) {
	var data string
	row := s.db.QueryRowContext(ctx, `SELECT data FROM sessions WHERE id = ?;`, id)
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}

	var sess models.Session
	if err := json.Unmarshal([]byte(data), &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session %s: %w", id, err)
	}
	if sess.AuthTokens == nil {
		sess.AuthTokens = make(map[string]models.AuthToken)
	}
	return &sess, nil
}

func (s *SQLiteStore) Update(ctx context.Context, sess *models.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET data = ?, updated_at = ? WHERE id = ?;
	`, string(data), sess.UpdatedAt.UTC(), sess.ID)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?;`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return nil
}
