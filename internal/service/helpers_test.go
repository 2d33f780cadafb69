package service

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/idemdrem-diagnosis-server/internal/domain"
)

const (
	eczema    domain.DiseaseID = "Eczema"
	psoriasis domain.DiseaseID = "Psoriasis"
	acne      domain.DiseaseID = "Acne"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel) // Suppress logs during testing
	return logger
}

func newSkinCatalog(t *testing.T) *domain.SymptomCatalog {
	t.Helper()
	catalog, err := domain.NewSymptomCatalog(map[domain.DiseaseID][]domain.SymptomSpec{
		eczema:    {{ID: "itch"}, {ID: "redness"}},
		psoriasis: {{ID: "itch"}, {ID: "scaling"}},
		acne:      {{ID: "pimples", Question: "Do you have pimples or blackheads?"}, {ID: "oily_skin"}},
	})
	require.NoError(t, err)
	return catalog
}

func scores(e, p, a float64) domain.ScoreVector {
	return domain.ScoreVector{eczema: e, psoriasis: p, acne: a}
}

func mustPredictionSet(t *testing.T, predictions ...domain.Prediction) domain.PredictionSet {
	t.Helper()
	set, err := domain.NewPredictionSet(predictions)
	require.NoError(t, err)
	return set
}

// MockScorer is a mock implementation of the Scorer interface
type MockScorer struct {
	mock.Mock
	name string
}

func newMockScorer(name string) *MockScorer {
	return &MockScorer{name: name}
}

func (m *MockScorer) Name() string {
	return m.name
}

func (m *MockScorer) Score(ctx context.Context, img *domain.ImageInput) (domain.ScoreVector, error) {
	args := m.Called(ctx, img)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(domain.ScoreVector), args.Error(1)
}

// MockContextStore is a mock implementation of the ContextStore interface
type MockContextStore struct {
	mock.Mock
}

func (m *MockContextStore) Save(ctx context.Context, candidates domain.PredictionSet) (string, error) {
	args := m.Called(ctx, candidates)
	return args.String(0), args.Error(1)
}

func (m *MockContextStore) Load(ctx context.Context, id string) (domain.PredictionSet, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(domain.PredictionSet), args.Error(1)
}

func (m *MockContextStore) Close() error {
	return m.Called().Error(0)
}
