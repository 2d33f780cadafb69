// Package catalog loads the symptom catalog from a YAML or JSON document, a SQLite file, or the
// PostgreSQL catalog tables.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/idemdrem-diagnosis-server/internal/domain"
)

// Document is the on-disk form of the catalog.
type Document struct {
	Conditions []Condition `yaml:"conditions" json:"conditions"`
}

// Condition lists one disease and its symptoms.
type Condition struct {
	ID       string               `yaml:"id" json:"id"`
	Symptoms []domain.SymptomSpec `yaml:"symptoms" json:"symptoms"`
}

// Build validates the document and turns it into a catalog.
func (d *Document) Build() (*domain.SymptomCatalog, error) {
	entries := make(map[domain.DiseaseID][]domain.SymptomSpec, len(d.Conditions))
	for _, c := range d.Conditions {
		id := domain.DiseaseID(c.ID)
		if _, dup := entries[id]; dup {
			return nil, fmt.Errorf("%w: condition %s defined twice", domain.ErrInvalidCatalog, c.ID)
		}
		entries[id] = c.Symptoms
	}
	return domain.NewSymptomCatalog(entries)
}

// NewDocument converts a catalog back into its document form, ordered by disease.
func NewDocument(catalog *domain.SymptomCatalog) *Document {
	entries := catalog.Entries()
	doc := &Document{Conditions: make([]Condition, 0, len(entries))}
	for _, d := range catalog.Diseases() {
		doc.Conditions = append(doc.Conditions, Condition{ID: d.String(), Symptoms: entries[d]})
	}
	sort.Slice(doc.Conditions, func(i, j int) bool { return doc.Conditions[i].ID < doc.Conditions[j].ID })
	return doc
}

// FileLoader reads the catalog from a YAML file, or JSON when the extension is .json.
type FileLoader struct {
	Path string
}

// Load reads and validates the file.
func (l *FileLoader) Load(_ context.Context) (*domain.SymptomCatalog, error) {
	doc, err := ReadDocument(l.Path)
	if err != nil {
		return nil, err
	}
	return doc.Build()
}

// ReadDocument parses a catalog document without validating it.
func ReadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}
	return ParseDocument(data, strings.EqualFold(filepath.Ext(path), ".json"))
}

// ParseDocument decodes a catalog document.
func ParseDocument(data []byte, isJSON bool) (*Document, error) {
	var doc Document
	if isJSON {
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("%w: parse json: %w", domain.ErrInvalidCatalog, err)
		}
		return &doc, nil
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: parse yaml: %w", domain.ErrInvalidCatalog, err)
	}
	return &doc, nil
}
