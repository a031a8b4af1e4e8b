// Package pgstore is the PostgreSQL chat.Store. Messages live in a single
// table ordered by created_at with a BIGSERIAL tiebreaker.
package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/whisper/dm-gateway/internal/chat"
)

// ErrDuplicateID is returned by Append when a message id is already stored.
var ErrDuplicateID = errors.New("pgstore: duplicate message id")

const uniqueViolation = "23505"

const (
	insertMessage = `
		INSERT INTO messages (id, sender_id, receiver_id, content, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	markRead = `
		UPDATE messages SET is_read = TRUE
		WHERE sender_id = $1 AND receiver_id = $2 AND NOT is_read AND created_at <= $3`

	selectConversation = `
		SELECT id, sender_id, receiver_id, content, is_read, created_at
		FROM messages
		WHERE (sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1)
		ORDER BY created_at, seq`
)

// Config holds connection pool settings.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns pool defaults for dsn.
func DefaultConfig(dsn string) Config {
	return Config{
		DSN:             dsn,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
	}
}

// Store implements chat.Store on PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ chat.Store = (*Store)(nil)

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pgstore: open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pgstore: ping: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Append implements chat.Store.
func (s *Store) Append(ctx context.Context, msg chat.Message) error {
	_, err := s.db.ExecContext(ctx, insertMessage,
		msg.ID, msg.SenderID, msg.ReceiverID, msg.Content, msg.IsRead, msg.CreatedAt.UTC())
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %s", ErrDuplicateID, msg.ID)
		}
		return fmt.Errorf("pgstore: insert %s: %w", msg.ID, err)
	}
	return nil
}

// MarkRead implements chat.Store.
func (s *Store) MarkRead(ctx context.Context, readerID, senderID string, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, markRead, senderID, readerID, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("pgstore: mark read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pgstore: rows affected: %w", err)
	}
	return n, nil
}

// Conversation implements chat.Store.
func (s *Store) Conversation(ctx context.Context, userA, userB string) ([]chat.Message, error) {
	rows, err := s.db.QueryContext(ctx, selectConversation, userA, userB)
	if err != nil {
		return nil, fmt.Errorf("pgstore: query conversation: %w", err)
	}
	defer rows.Close()

	msgs := []chat.Message{}
	for rows.Next() {
		var m chat.Message
		if err := rows.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Content, &m.IsRead, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("pgstore: scan message: %w", err)
		}
		m.CreatedAt = m.CreatedAt.UTC()
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgstore: iterate conversation: %w", err)
	}
	return msgs, nil
}
