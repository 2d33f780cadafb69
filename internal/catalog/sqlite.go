package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/idemdrem-diagnosis-server/internal/domain"
)

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS condition_symptoms (
		condition_id TEXT NOT NULL,
		symptom_id TEXT NOT NULL,
		weight REAL NOT NULL DEFAULT 1.0,
		question TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (condition_id, symptom_id)
	);

	CREATE INDEX IF NOT EXISTS idx_condition_symptoms_symptom ON condition_symptoms(symptom_id);
	`

// SQLiteStore keeps the catalog in a local SQLite file, for deployments without PostgreSQL.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore opens the database file, creating it and its schema when missing.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db, dbPath: dbPath}, nil
}

// Load reads the catalog.
func (s *SQLiteStore) Load(ctx context.Context) (*domain.SymptomCatalog, error) {
	return LoadFromDB(ctx, s.db)
}

// Replace overwrites the stored catalog in one transaction.
func (s *SQLiteStore) Replace(ctx context.Context, catalog *domain.SymptomCatalog) error {
	return ReplaceInDB(ctx, s.db, catalog)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// LoadFromDB reads the condition_symptoms table through database/sql.
func LoadFromDB(ctx context.Context, db *sql.DB) (*domain.SymptomCatalog, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT condition_id, symptom_id, weight, question FROM condition_symptoms ORDER BY condition_id, symptom_id")
	if err != nil {
		return nil, fmt.Errorf("failed to query catalog: %w", err)
	}
	defer rows.Close()

	entries := make(map[domain.DiseaseID][]domain.SymptomSpec)
	for rows.Next() {
		var (
			disease, symptom string
			weight           float64
			question         sql.NullString
		)
		if err := rows.Scan(&disease, &symptom, &weight, &question); err != nil {
			return nil, fmt.Errorf("failed to scan catalog row: %w", err)
		}
		id := domain.DiseaseID(disease)
		entries[id] = append(entries[id], domain.SymptomSpec{
			ID:       domain.SymptomID(symptom),
			Weight:   weight,
			Question: question.String,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read catalog rows: %w", err)
	}

	return domain.NewSymptomCatalog(entries)
}

// ReplaceInDB clears the condition_symptoms table and writes the catalog.
func ReplaceInDB(ctx context.Context, db *sql.DB, catalog *domain.SymptomCatalog) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM condition_symptoms"); err != nil {
		return fmt.Errorf("failed to clear catalog: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO condition_symptoms (condition_id, symptom_id, weight, question) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	entries := catalog.Entries()
	for _, disease := range catalog.Diseases() {
		for _, spec := range entries[disease] {
			if _, err := stmt.ExecContext(ctx, string(disease), string(spec.ID), spec.Weight, spec.Question); err != nil {
				return fmt.Errorf("failed to insert %s/%s: %w", disease, spec.ID, err)
			}
		}
	}

	return tx.Commit()
}
