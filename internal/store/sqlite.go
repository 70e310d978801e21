// Package store provides storage backends for ZapDesk.
//
// This file implements an SQLite-backed store for training examples and
// user contexts.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/zapdesk/zapdesk/internal/models"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) GetTrainingData() ([]models.TrainingExample, error) {
	return s.queryTraining(`SELECT id, input, output, confidence, usage_count, approved, created_at
		FROM training_examples WHERE approved = 1 ORDER BY created_at`)
}

func (s *SQLiteStore) GetAllTrainingData() ([]models.TrainingExample, error) {
	return s.queryTraining(`SELECT id, input, output, confidence, usage_count, approved, created_at
		FROM training_examples ORDER BY created_at`)
}

func (s *SQLiteStore) queryTraining(query string) ([]models.TrainingExample, error) {
	rows, err := s.db.Query(query)
	if err != nil {
		slog.Error("SQLiteStore training query failed", "error", err)
		return nil, fmt.Errorf("failed to query training examples: %w", err)
	}
	defer rows.Close()

	var examples []models.TrainingExample
	for rows.Next() {
		ex, err := scanTrainingExample(rows)
		if err != nil {
			slog.Error("SQLiteStore training scan failed", "error", err)
			return nil, err
		}
		examples = append(examples, ex)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore training rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate training rows: %w", err)
	}
	slog.Debug("SQLiteStore training query succeeded", "count", len(examples))
	return examples, nil
}

func (s *SQLiteStore) SaveTrainingData(input, output string, confidence float64, approved bool) (string, error) {
	ex := models.TrainingExample{Input: input, Output: output}
	if err := ex.Validate(); err != nil {
		return "", err
	}
	id := uuid.NewString()
	_, err := s.db.Exec(`INSERT INTO training_examples (id, input, output, confidence, approved, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`, id, input, output, confidence, approved, time.Now())
	if err != nil {
		slog.Error("SQLiteStore SaveTrainingData failed", "error", err)
		return "", fmt.Errorf("failed to insert training example: %w", err)
	}
	slog.Debug("SQLiteStore SaveTrainingData succeeded", "id", id, "approved", approved)
	return id, nil
}

func (s *SQLiteStore) UpdateTrainingUsage(id string) error {
	res, err := s.db.Exec(`UPDATE training_examples SET usage_count = usage_count + 1 WHERE id = ?`, id)
	if err != nil {
		slog.Error("SQLiteStore UpdateTrainingUsage failed", "error", err, "id", id)
		return fmt.Errorf("failed to update training usage for %s: %w", id, err)
	}
	return checkAffected(res)
}

func (s *SQLiteStore) ApproveTrainingExample(id string) error {
	res, err := s.db.Exec(`UPDATE training_examples SET approved = 1 WHERE id = ?`, id)
	if err != nil {
		slog.Error("SQLiteStore ApproveTrainingExample failed", "error", err, "id", id)
		return fmt.Errorf("failed to approve training example %s: %w", id, err)
	}
	return checkAffected(res)
}

func (s *SQLiteStore) DeleteTrainingExample(id string) error {
	res, err := s.db.Exec(`DELETE FROM training_examples WHERE id = ?`, id)
	if err != nil {
		slog.Error("SQLiteStore DeleteTrainingExample failed", "error", err, "id", id)
		return fmt.Errorf("failed to delete training example %s: %w", id, err)
	}
	return checkAffected(res)
}

func (s *SQLiteStore) GetUserContext(identity string) (map[string]string, error) {
	rows, err := s.db.Query(`SELECT field, value FROM user_contexts WHERE identity = ?`, identity)
	if err != nil {
		slog.Error("SQLiteStore GetUserContext query failed", "error", err, "identity", identity)
		return nil, fmt.Errorf("failed to query user context: %w", err)
	}
	defer rows.Close()
	return scanUserContext(rows)
}

func (s *SQLiteStore) SaveUserContext(identity string, fields map[string]string) error {
	if identity == "" {
		return models.ErrEmptyIdentity
	}
	for field, value := range fields {
		_, err := s.db.Exec(`INSERT INTO user_contexts (identity, field, value, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(identity, field) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			identity, field, value, time.Now())
		if err != nil {
			slog.Error("SQLiteStore SaveUserContext failed", "error", err, "identity", identity, "field", field)
			return fmt.Errorf("failed to save user context field %s: %w", field, err)
		}
	}
	slog.Debug("SQLiteStore SaveUserContext succeeded", "identity", identity, "fields", len(fields))
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
