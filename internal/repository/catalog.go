package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/idemdrem-diagnosis-server/internal/domain"
)

// CatalogRepository persists the symptom catalog in PostgreSQL.
type CatalogRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewCatalogRepository creates a new catalog repository
func NewCatalogRepository(db *pgxpool.Pool, logger *logrus.Logger) *CatalogRepository {
	return &CatalogRepository{
		db:  db,
		log: logger,
	}
}

// Load reads every condition/symptom row and builds a validated catalog.
func (r *CatalogRepository) Load(ctx context.Context) (*domain.SymptomCatalog, error) {
	query := `
		SELECT condition_id, symptom_id, weight, question
		FROM condition_symptoms
		ORDER BY condition_id, symptom_id`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying condition symptoms: %w", err)
	}
	defer rows.Close()

	entries := make(map[domain.DiseaseID][]domain.SymptomSpec)
	count := 0
	for rows.Next() {
		var (
			disease, symptom, question string
			weight                     float64
		)
		if err := rows.Scan(&disease, &symptom, &weight, &question); err != nil {
			return nil, fmt.Errorf("scanning condition symptom: %w", err)
		}
		id := domain.DiseaseID(disease)
		entries[id] = append(entries[id], domain.SymptomSpec{
			ID:       domain.SymptomID(symptom),
			Weight:   weight,
			Question: question,
		})
		count++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating condition symptoms: %w", err)
	}

	catalog, err := domain.NewSymptomCatalog(entries)
	if err != nil {
		return nil, err
	}

	r.log.WithFields(logrus.Fields{
		"conditions": catalog.Len(),
		"rows":       count,
	}).Info("Symptom catalog loaded from database")

	return catalog, nil
}

// Replace swaps the stored catalog for the given one in a single transaction.
func (r *CatalogRepository) Replace(ctx context.Context, catalog *domain.SymptomCatalog) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, `DELETE FROM condition_symptoms`); err != nil {
		return fmt.Errorf("clearing condition symptoms: %w", err)
	}

	batch := &pgx.Batch{}
	for disease, specs := range catalog.Entries() {
		for _, spec := range specs {
			batch.Queue(`
				INSERT INTO condition_symptoms (condition_id, symptom_id, weight, question)
				VALUES ($1, $2, $3, $4)`,
				string(disease), string(spec.ID), spec.Weight, spec.Question)
		}
	}

	results := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return fmt.Errorf("inserting condition symptom: %w", err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("closing batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing catalog: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"conditions": catalog.Len(),
		"rows":       batch.Len(),
	}).Info("Symptom catalog stored")

	return nil
}
