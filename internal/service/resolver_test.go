package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idemdrem-diagnosis-server/internal/domain"
)

func newTestResolver(t *testing.T, catalog *domain.SymptomCatalog) *ConfirmationResolver {
	t.Helper()
	return NewConfirmationResolver(catalog, NewSeverityBands(domain.DefaultEngineConfig().Severity), newTestLogger())
}

func TestSeverityBands_Classify(t *testing.T) {
	bands := SeverityBands{Severe: 0.75, Moderate: 0.4}

	tests := []struct {
		ratio    float64
		expected domain.SeverityLevel
	}{
		{1.0, domain.SeveritySevere},
		{0.75, domain.SeveritySevere},
		{0.74, domain.SeverityModerate},
		{0.4, domain.SeverityModerate},
		{0.39, domain.SeverityMild},
		{0.01, domain.SeverityMild},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, bands.Classify(tt.ratio), "ratio %v", tt.ratio)
	}
}

func TestWeightedMatchRatio(t *testing.T) {
	specs := []domain.SymptomSpec{{ID: "itch", Weight: 3}, {ID: "redness", Weight: 1}}

	assert.InDelta(t, 0.75, WeightedMatchRatio(specs, domain.SymptomResponseMap{"itch": true}), 1e-9)
	assert.InDelta(t, 0.25, WeightedMatchRatio(specs, domain.SymptomResponseMap{"redness": true, "itch": false}), 1e-9)
	assert.Equal(t, 0.0, WeightedMatchRatio(specs, nil))
	assert.Equal(t, 1.0, WeightedMatchRatio(specs, domain.SymptomResponseMap{"itch": true, "redness": true, "other": true}))
	assert.Equal(t, 0.0, WeightedMatchRatio(nil, domain.SymptomResponseMap{"itch": true}))
}

func TestConfirmationResolver_Resolve(t *testing.T) {
	catalog := newSkinCatalog(t)
	resolver := newTestResolver(t, catalog)
	candidates := mustPredictionSet(t,
		domain.Prediction{Label: eczema, Confidence: 0.6},
		domain.Prediction{Label: psoriasis, Confidence: 0.3},
	)

	t.Run("Partial_Match_Is_Moderate", func(t *testing.T) {
		result, err := resolver.Resolve(candidates, domain.SymptomResponseMap{"scaling": true})
		require.NoError(t, err)
		assert.True(t, result.Confirmed)
		assert.Equal(t, psoriasis, result.Disease)
		assert.Equal(t, domain.SeverityModerate, result.Severity)
		assert.InDelta(t, 0.5, result.MatchRatio, 1e-9)
	})

	t.Run("Ratio_Tie_Broken_By_Confidence", func(t *testing.T) {
		result, err := resolver.Resolve(candidates, domain.SymptomResponseMap{"itch": true})
		require.NoError(t, err)
		assert.Equal(t, eczema, result.Disease)
		require.Len(t, result.Scores, 2)
		assert.Equal(t, result.Scores[0].MatchRatio, result.Scores[1].MatchRatio)
	})

	t.Run("Full_Tie_Broken_By_Label", func(t *testing.T) {
		tied := mustPredictionSet(t,
			domain.Prediction{Label: psoriasis, Confidence: 0.5},
			domain.Prediction{Label: eczema, Confidence: 0.5},
		)
		result, err := resolver.Resolve(tied, domain.SymptomResponseMap{"itch": true})
		require.NoError(t, err)
		assert.Equal(t, eczema, result.Disease)
	})

	t.Run("Symptoms_Outside_Candidates_Ignored", func(t *testing.T) {
		result, err := resolver.Resolve(candidates, domain.SymptomResponseMap{"pimples": true})
		require.NoError(t, err)
		assert.False(t, result.Confirmed)
	})

	t.Run("Empty_Candidates", func(t *testing.T) {
		_, err := resolver.Resolve(domain.PredictionSet{}, domain.SymptomResponseMap{"itch": true})
		require.Error(t, err)
		assert.True(t, domain.IsInputError(err))
	})

	t.Run("Candidate_Not_In_Catalog", func(t *testing.T) {
		foreign := mustPredictionSet(t, domain.Prediction{Label: "Rosacea", Confidence: 0.9})
		_, err := resolver.Resolve(foreign, domain.SymptomResponseMap{"itch": true})
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrUnknownDisease)
	})
}

func TestConfirmationResolver_WithPolicies(t *testing.T) {
	catalog := newSkinCatalog(t)
	candidates := mustPredictionSet(t,
		domain.Prediction{Label: eczema, Confidence: 0.6},
		domain.Prediction{Label: psoriasis, Confidence: 0.3},
	)
	// Prefer the lower-confidence candidate on ratio ties.
	lowConfidenceFirst := func(a, b domain.CandidateScore) bool {
		if a.MatchRatio != b.MatchRatio {
			return a.MatchRatio > b.MatchRatio
		}
		return a.Confidence < b.Confidence
	}

	result, err := newTestResolver(t, catalog).WithPolicies(nil, lowConfidenceFirst).
		Resolve(candidates, domain.SymptomResponseMap{"itch": true})
	require.NoError(t, err)
	assert.Equal(t, psoriasis, result.Disease)
}

// Ratios stay within [0,1] for every answer combination over the symptom domain.
func TestConfirmationResolver_RatioBounds(t *testing.T) {
	catalog := newSkinCatalog(t)
	resolver := newTestResolver(t, catalog)
	candidates := mustPredictionSet(t,
		domain.Prediction{Label: acne, Confidence: 0.5},
		domain.Prediction{Label: eczema, Confidence: 0.4},
		domain.Prediction{Label: psoriasis, Confidence: 0.1},
	)
	symptoms := catalog.SymptomDomain(catalog.Diseases())

	for mask := 0; mask < 1<<len(symptoms); mask++ {
		answers := make(domain.SymptomResponseMap)
		for i, s := range symptoms {
			answers[s] = mask&(1<<i) != 0
		}
		result, err := resolver.Resolve(candidates, answers)
		require.NoError(t, err)
		for _, score := range result.Scores {
			assert.GreaterOrEqual(t, score.MatchRatio, 0.0)
			assert.LessOrEqual(t, score.MatchRatio, 1.0)
		}
		assert.Equal(t, mask != 0, result.Confirmed)
	}
}

// Answering yes to all of one candidate's symptoms and no to the symptoms unique to the others
// selects that candidate.
func TestConfirmationResolver_Separability(t *testing.T) {
	catalog := newSkinCatalog(t)
	resolver := newTestResolver(t, catalog)
	candidates := mustPredictionSet(t,
		domain.Prediction{Label: acne, Confidence: 0.5},
		domain.Prediction{Label: eczema, Confidence: 0.4},
		domain.Prediction{Label: psoriasis, Confidence: 0.1},
	)

	for _, target := range candidates.Labels() {
		t.Run(target.String(), func(t *testing.T) {
			answers := make(domain.SymptomResponseMap)
			for _, s := range catalog.SymptomDomain(candidates.Labels()) {
				answers[s] = false
			}
			for _, spec := range catalog.Symptoms(target) {
				answers[spec.ID] = true
			}

			result, err := resolver.Resolve(candidates, answers)
			require.NoError(t, err)
			assert.Equal(t, target, result.Disease)
			assert.Equal(t, domain.SeveritySevere, result.Severity)
		})
	}
}

func TestConfirmationResolver_FullMatchConfirmsLeader(t *testing.T) {
	catalog, err := domain.NewSymptomCatalog(map[domain.DiseaseID][]domain.SymptomSpec{
		eczema:    {{ID: "itch"}, {ID: "redness"}},
		psoriasis: {{ID: "itch"}, {ID: "scaling"}},
	})
	require.NoError(t, err)
	candidates := mustPredictionSet(t,
		domain.Prediction{Label: eczema, Confidence: 0.7},
		domain.Prediction{Label: psoriasis, Confidence: 0.2},
	)

	result, err := newTestResolver(t, catalog).Resolve(candidates, domain.SymptomResponseMap{
		"itch": true, "redness": true, "scaling": false,
	})
	require.NoError(t, err)

	assert.True(t, result.Confirmed)
	assert.Equal(t, eczema, result.Disease)
	assert.Equal(t, domain.SeveritySevere, result.Severity)
	assert.Equal(t, 1.0, result.MatchRatio)
	assert.Equal(t, psoriasis, result.Scores[1].Label)
	assert.Equal(t, 0.5, result.Scores[1].MatchRatio)
	assert.Equal(t, "Disease: Eczema, Severity: Severe", result.Message())
}

func TestConfirmationResolver_NoPositiveAnswersUnresolved(t *testing.T) {
	catalog, err := domain.NewSymptomCatalog(map[domain.DiseaseID][]domain.SymptomSpec{
		eczema:    {{ID: "itch"}, {ID: "redness"}},
		psoriasis: {{ID: "itch"}, {ID: "scaling"}},
	})
	require.NoError(t, err)
	candidates := mustPredictionSet(t,
		domain.Prediction{Label: eczema, Confidence: 0.7},
		domain.Prediction{Label: psoriasis, Confidence: 0.2},
	)

	result, err := newTestResolver(t, catalog).Resolve(candidates, domain.SymptomResponseMap{
		"itch": false, "redness": false, "scaling": false,
	})
	require.NoError(t, err)

	assert.False(t, result.Confirmed)
	assert.Equal(t, domain.UnableToConfirm, result.DisplayDisease())
	assert.Nil(t, result.SeverityOrNil())
	assert.Equal(t, domain.StateUnresolved, result.State())
	assert.Equal(t, "Disease: unable to confirm, Severity: None", result.Message())
}
