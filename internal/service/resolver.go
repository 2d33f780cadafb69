package service

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/idemdrem-diagnosis-server/internal/domain"
)

// MatchScorer computes the normalized match ratio of one disease's symptoms against the answers.
type MatchScorer func(symptoms []domain.SymptomSpec, answers domain.SymptomResponseMap) float64

// WeightedMatchRatio is the summed weight of positively answered symptoms over the total weight.
// The result is always within [0,1].
func WeightedMatchRatio(symptoms []domain.SymptomSpec, answers domain.SymptomResponseMap) float64 {
	matched, total := 0.0, 0.0
	for _, s := range symptoms {
		total += s.Weight
		if answers.Positive(s.ID) {
			matched += s.Weight
		}
	}
	if total <= 0 {
		return 0
	}
	ratio := matched / total
	if ratio > 1 {
		return 1
	}
	return ratio
}

// CandidateOrder reports whether a beats b.
type CandidateOrder func(a, b domain.CandidateScore) bool

// DefaultCandidateOrder prefers the higher match ratio, then the higher ensemble confidence, then
// the lexicographically smaller label.
func DefaultCandidateOrder(a, b domain.CandidateScore) bool {
	if a.MatchRatio != b.MatchRatio {
		return a.MatchRatio > b.MatchRatio
	}
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	return a.Label < b.Label
}

// SeverityBands maps a match ratio onto a severity level. Each field is the inclusive lower bound
// of its band; ratios below Moderate are Mild.
type SeverityBands struct {
	Severe   float64
	Moderate float64
}

// NewSeverityBands builds bands from configuration.
func NewSeverityBands(cfg domain.SeverityConfig) SeverityBands {
	return SeverityBands{Severe: cfg.Severe, Moderate: cfg.Moderate}
}

// Classify returns the band containing ratio.
func (b SeverityBands) Classify(ratio float64) domain.SeverityLevel {
	switch {
	case ratio >= b.Severe:
		return domain.SeveritySevere
	case ratio >= b.Moderate:
		return domain.SeverityModerate
	default:
		return domain.SeverityMild
	}
}

// ConfirmationResolver scores candidates against answered symptoms and emits the final diagnosis.
type ConfirmationResolver struct {
	catalog *domain.SymptomCatalog
	bands   SeverityBands
	match   MatchScorer
	order   CandidateOrder
	logger  *logrus.Logger
}

// NewConfirmationResolver creates a resolver with the default weighting and tie-break policies.
func NewConfirmationResolver(catalog *domain.SymptomCatalog, bands SeverityBands, logger *logrus.Logger) *ConfirmationResolver {
	return &ConfirmationResolver{
		catalog: catalog,
		bands:   bands,
		match:   WeightedMatchRatio,
		order:   DefaultCandidateOrder,
		logger:  logger,
	}
}

// WithPolicies returns a copy of the resolver using the given policies. Nil keeps the current one.
func (r *ConfirmationResolver) WithPolicies(match MatchScorer, order CandidateOrder) *ConfirmationResolver {
	clone := *r
	if match != nil {
		clone.match = match
	}
	if order != nil {
		clone.order = order
	}
	return &clone
}

// Resolve picks the best-matching candidate. The answers are default-filled over the candidates'
// symptom domain first, so scoring always sees a total answer function. When the best ratio is 0
// the result is unconfirmed and carries no severity.
func (r *ConfirmationResolver) Resolve(candidates domain.PredictionSet, answers domain.SymptomResponseMap) (*domain.DiagnosisResult, error) {
	if candidates.Len() == 0 {
		return nil, domain.NewInputError("candidates", "at least one candidate is required", nil)
	}
	labels := candidates.Labels()
	for _, label := range labels {
		if err := r.catalog.CheckDisease(label); err != nil {
			return nil, err
		}
	}

	filled := FillDefaults(answers, r.catalog.SymptomDomain(labels))

	scores := make([]domain.CandidateScore, 0, len(labels))
	for _, p := range candidates.Predictions() {
		scores = append(scores, domain.CandidateScore{
			Label:      p.Label,
			Confidence: p.Confidence,
			MatchRatio: r.match(r.catalog.Symptoms(p.Label), filled),
		})
	}
	sort.SliceStable(scores, func(i, j int) bool { return r.order(scores[i], scores[j]) })

	winner := scores[0]
	result := &domain.DiagnosisResult{
		MatchRatio: winner.MatchRatio,
		Scores:     scores,
	}
	if winner.MatchRatio > 0 {
		result.Disease = winner.Label
		result.Severity = r.bands.Classify(winner.MatchRatio)
		result.Confirmed = true
	}

	if r.logger != nil {
		r.logger.WithFields(logrus.Fields{
			"candidates":  len(scores),
			"winner":      winner.Label,
			"match_ratio": fmt.Sprintf("%.4f", winner.MatchRatio),
			"confirmed":   result.Confirmed,
			"severity":    result.Severity,
		}).Debug("Resolved symptom confirmation")
	}

	return result, nil
}
