// Package postgres implements store.Store against a PostgreSQL
// database, wired in by cmd/server whenever DATABASE_URL is set.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/sitost/jota-orchestrator/internal/clientauth"
	"github.com/sitost/jota-orchestrator/internal/store"
)

// Store is a sqlx-backed Conversation Store Adapter.
type Store struct {
	db        *sqlx.DB
	validator *clientauth.Validator
}

// New connects to dbURL, configures the connection pool, and pings the
// database before returning. jwtSecret verifies the signed client key
// tokens presented to ValidateClientKey.
func New(dbURL, jwtSecret string) (*Store, error) {
	if dbURL == "" {
		return nil, errors.New("DATABASE_URL is not set")
	}

	db, err := sqlx.Connect("postgres", dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to the database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping the database: %w", err)
	}

	log.Println("connected to the conversation store database")

	return &Store{db: db, validator: clientauth.NewValidator(jwtSecret)}, nil
}

// Migrate applies all pending migrations under migrationsPath. It is
// not an error if the database is already up to date.
func (s *Store) Migrate(databaseURL, migrationsPath string) error {
	sourceURL := fmt.Sprintf("file://%s", migrationsPath)

	m, err := migrate.New(sourceURL, databaseURL)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ValidateClientKey(_ context.Context, key string) (string, error) {
	return s.validator.Validate(key)
}

func (s *Store) GetOrCreateConversation(ctx context.Context, clientID string) (store.Conversation, error) {
	var conv store.Conversation
	err := s.db.GetContext(ctx, &conv, `
		SELECT id, COALESCE(inference_session_id, '') AS inference_session_id
		FROM conversations
		WHERE client_id = $1 AND status = 'active'
		ORDER BY created_at DESC
		LIMIT 1`, clientID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return store.Conversation{}, fmt.Errorf("failed to fetch conversation: %w", err)
	}

	err = s.db.GetContext(ctx, &conv.ID, `
		INSERT INTO conversations (client_id, status)
		VALUES ($1, 'active')
		RETURNING id`, clientID)
	if err != nil {
		return store.Conversation{}, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

func (s *Store) UpdateConversationSession(ctx context.Context, conversationID, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET inference_session_id = $1 WHERE id = $2`, sessionID, conversationID)
	if err != nil {
		return fmt.Errorf("failed to update conversation session: %w", err)
	}
	return nil
}

func (s *Store) SaveMessage(ctx context.Context, conversationID string, role store.MessageRole, content string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (conversation_id, role, content)
		VALUES ($1, $2, $3)`, conversationID, role, content)
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

func (s *Store) MarkConversationError(ctx context.Context, conversationID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET status = 'error' WHERE id = $1`, conversationID)
	if err != nil {
		return fmt.Errorf("failed to mark conversation errored: %w", err)
	}
	return nil
}

func (s *Store) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
