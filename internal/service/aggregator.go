package service

import (
	"fmt"
	"math"
	"sort"

	"github.com/idemdrem-diagnosis-server/internal/domain"
)

// ModelScores is one ensemble member's output for a single image.
type ModelScores struct {
	Model  string
	Weight float64
	Scores domain.ScoreVector
}

// RankedLabel carries everything the ranking policy may look at for one label.
type RankedLabel struct {
	Label    domain.DiseaseID
	Combined float64
	// LeadScore is the score given by the highest-weighted member.
	LeadScore float64
}

// RankOrder reports whether a ranks ahead of b. It must be a strict total order.
type RankOrder func(a, b RankedLabel) bool

// DefaultRankOrder ranks by combined score, then by the highest-weighted member's score, then by
// label identifier.
func DefaultRankOrder(a, b RankedLabel) bool {
	if a.Combined != b.Combined {
		return a.Combined > b.Combined
	}
	if a.LeadScore != b.LeadScore {
		return a.LeadScore > b.LeadScore
	}
	return a.Label < b.Label
}

// EnsembleAggregator combines per-model score vectors into the top-K PredictionSet over the
// catalog's label space. It holds no mutable state.
type EnsembleAggregator struct {
	labels []domain.DiseaseID
	topK   int
	order  RankOrder
}

// NewEnsembleAggregator creates an aggregator over the catalog's diseases.
func NewEnsembleAggregator(catalog *domain.SymptomCatalog, topK int) *EnsembleAggregator {
	if topK <= 0 {
		topK = domain.DefaultTopK
	}
	return &EnsembleAggregator{
		labels: catalog.Diseases(),
		topK:   topK,
		order:  DefaultRankOrder,
	}
}

// WithRankOrder returns a copy of the aggregator using a different ranking policy.
func (a *EnsembleAggregator) WithRankOrder(order RankOrder) *EnsembleAggregator {
	clone := *a
	clone.order = order
	return &clone
}

// Aggregate computes the weighted average score of every label and returns the best topK.
// A member with a non-positive weight counts with weight 1. Vectors that miss a label, carry a
// label outside the catalog or hold a value outside [0,1] are a ClassificationFailure.
func (a *EnsembleAggregator) Aggregate(members []ModelScores) (domain.PredictionSet, error) {
	if len(members) == 0 {
		return domain.PredictionSet{}, fmt.Errorf("%w: no ensemble members produced scores", domain.ErrClassificationFailure)
	}

	weights := make([]float64, len(members))
	lead := 0
	for i, m := range members {
		if err := a.checkVector(m); err != nil {
			return domain.PredictionSet{}, domain.NewClassificationError(m.Model, err)
		}
		weights[i] = m.Weight
		if weights[i] <= 0 {
			weights[i] = 1
		}
		if weights[i] > weights[lead] {
			lead = i
		}
	}

	ranked := make([]RankedLabel, len(a.labels))
	for li, label := range a.labels {
		sum, total := 0.0, 0.0
		for i, m := range members {
			sum += weights[i] * m.Scores[label]
			total += weights[i]
		}
		ranked[li] = RankedLabel{
			Label:     label,
			Combined:  math.Min(1, sum/total),
			LeadScore: members[lead].Scores[label],
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool { return a.order(ranked[i], ranked[j]) })

	k := a.topK
	if len(ranked) < k {
		k = len(ranked)
	}
	predictions := make([]domain.Prediction, k)
	for i := 0; i < k; i++ {
		predictions[i] = domain.Prediction{Label: ranked[i].Label, Confidence: ranked[i].Combined}
	}

	set, err := domain.NewPredictionSet(predictions)
	if err != nil {
		return domain.PredictionSet{}, fmt.Errorf("%w: %w", domain.ErrClassificationFailure, err)
	}
	return set, nil
}

func (a *EnsembleAggregator) checkVector(m ModelScores) error {
	if len(m.Scores) != len(a.labels) {
		return fmt.Errorf("expected %d scores, got %d", len(a.labels), len(m.Scores))
	}
	for _, label := range a.labels {
		score, ok := m.Scores[label]
		if !ok {
			return fmt.Errorf("missing score for %s", label)
		}
		if math.IsNaN(score) || score < 0 || score > 1 {
			return fmt.Errorf("score %v for %s is outside [0,1]", score, label)
		}
	}
	return nil
}
