package domain

import (
	"context"
	"image"
)

// ImageInput is a decoded image handed to the ensemble members.
type ImageInput struct {
	Data        []byte
	ContentType string
	Image       image.Image
}

// ScoreVector is one model's score for every disease of the shared label space.
type ScoreVector map[DiseaseID]float64

// Scorer is a pre-trained classifier taking part in the ensemble. Implementations are loaded once
// at startup and must be safe for concurrent use. A failing call is a ClassificationFailure.
type Scorer interface {
	Name() string
	Score(ctx context.Context, img *ImageInput) (ScoreVector, error)
}

// CatalogLoader loads the symptom catalog from its configured source.
type CatalogLoader interface {
	Load(ctx context.Context) (*SymptomCatalog, error)
}

// ContextStore keeps the candidate set produced by classify so that a later confirm call can
// recover it from an opaque identifier.
type ContextStore interface {
	Save(ctx context.Context, candidates PredictionSet) (string, error)
	Load(ctx context.Context, id string) (PredictionSet, error)
	Close() error
}

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetConfig() *Config
	GetServerConfig() *ServerConfig
	GetEngineConfig() *EngineConfig
	GetDatabaseConfig() *DatabaseConfig
	Reload() error
	Validate() error
	GetDatabaseConnectionString() string
	GetDatabaseURL() string
	IsProduction() bool
	IsDevelopment() bool
}
