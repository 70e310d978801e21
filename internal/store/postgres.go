// Package store provides storage backends for ZapDesk.
//
// This file implements a PostgreSQL-backed store for training examples and
// user contexts.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/zapdesk/zapdesk/internal/models"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) GetTrainingData() ([]models.TrainingExample, error) {
	return s.queryTraining(`SELECT id, input, output, confidence, usage_count, approved, created_at
		FROM training_examples WHERE approved = TRUE ORDER BY created_at`)
}

func (s *PostgresStore) GetAllTrainingData() ([]models.TrainingExample, error) {
	return s.queryTraining(`SELECT id, input, output, confidence, usage_count, approved, created_at
		FROM training_examples ORDER BY created_at`)
}

func (s *PostgresStore) queryTraining(query string) ([]models.TrainingExample, error) {
	rows, err := s.db.Query(query)
	if err != nil {
		slog.Error("PostgresStore training query failed", "error", err)
		return nil, fmt.Errorf("failed to query training examples: %w", err)
	}
	defer rows.Close()

	var examples []models.TrainingExample
	for rows.Next() {
		ex, err := scanTrainingExample(rows)
		if err != nil {
			slog.Error("PostgresStore training scan failed", "error", err)
			return nil, err
		}
		examples = append(examples, ex)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore training rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate training rows: %w", err)
	}
	slog.Debug("PostgresStore training query succeeded", "count", len(examples))
	return examples, nil
}

func (s *PostgresStore) SaveTrainingData(input, output string, confidence float64, approved bool) (string, error) {
	ex := models.TrainingExample{Input: input, Output: output}
	if err := ex.Validate(); err != nil {
		return "", err
	}
	id := uuid.NewString()
	_, err := s.db.Exec(`INSERT INTO training_examples (id, input, output, confidence, approved, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`, id, input, output, confidence, approved, time.Now())
	if err != nil {
		slog.Error("PostgresStore SaveTrainingData failed", "error", err)
		return "", fmt.Errorf("failed to insert training example: %w", err)
	}
	slog.Debug("PostgresStore SaveTrainingData succeeded", "id", id, "approved", approved)
	return id, nil
}

func (s *PostgresStore) UpdateTrainingUsage(id string) error {
	res, err := s.db.Exec(`UPDATE training_examples SET usage_count = usage_count + 1 WHERE id = $1`, id)
	if err != nil {
		slog.Error("PostgresStore UpdateTrainingUsage failed", "error", err, "id", id)
		return fmt.Errorf("failed to update training usage for %s: %w", id, err)
	}
	return checkAffected(res)
}

func (s *PostgresStore) ApproveTrainingExample(id string) error {
	res, err := s.db.Exec(`UPDATE training_examples SET approved = TRUE WHERE id = $1`, id)
	if err != nil {
		slog.Error("PostgresStore ApproveTrainingExample failed", "error", err, "id", id)
		return fmt.Errorf("failed to approve training example %s: %w", id, err)
	}
	return checkAffected(res)
}

func (s *PostgresStore) DeleteTrainingExample(id string) error {
	res, err := s.db.Exec(`DELETE FROM training_examples WHERE id = $1`, id)
	if err != nil {
		slog.Error("PostgresStore DeleteTrainingExample failed", "error", err, "id", id)
		return fmt.Errorf("failed to delete training example %s: %w", id, err)
	}
	return checkAffected(res)
}

func (s *PostgresStore) GetUserContext(identity string) (map[string]string, error) {
	rows, err := s.db.Query(`SELECT field, value FROM user_contexts WHERE identity = $1`, identity)
	if err != nil {
		slog.Error("PostgresStore GetUserContext query failed", "error", err, "identity", identity)
		return nil, fmt.Errorf("failed to query user context: %w", err)
	}
	defer rows.Close()
	return scanUserContext(rows)
}

func (s *PostgresStore) SaveUserContext(identity string, fields map[string]string) error {
	if identity == "" {
		return models.ErrEmptyIdentity
	}
	for field, value := range fields {
		_, err := s.db.Exec(`INSERT INTO user_contexts (identity, field, value, updated_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (identity, field) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
			identity, field, value, time.Now())
		if err != nil {
			slog.Error("PostgresStore SaveUserContext failed", "error", err, "identity", identity, "field", field)
			return fmt.Errorf("failed to save user context field %s: %w", field, err)
		}
	}
	slog.Debug("PostgresStore SaveUserContext succeeded", "identity", identity, "fields", len(fields))
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
