package service

import (
	"fmt"
	"sort"

	"github.com/idemdrem-diagnosis-server/internal/domain"
)

// QuestionOrder reports whether a is asked before b.
type QuestionOrder func(a, b domain.Question) bool

// DefaultQuestionOrder asks symptoms shared by more candidates first, then orders by identifier.
func DefaultQuestionOrder(a, b domain.Question) bool {
	if a.SharedBy != b.SharedBy {
		return a.SharedBy > b.SharedBy
	}
	return a.Symptom < b.Symptom
}

// QuestionGenerator turns the surviving candidates into the follow-up questions that tell them
// apart. Its output covers the union of the candidates' catalog symptoms, including symptoms
// unique to a single candidate.
type QuestionGenerator struct {
	catalog *domain.SymptomCatalog
	order   QuestionOrder
}

// NewQuestionGenerator creates a generator backed by the catalog.
func NewQuestionGenerator(catalog *domain.SymptomCatalog) *QuestionGenerator {
	return &QuestionGenerator{
		catalog: catalog,
		order:   DefaultQuestionOrder,
	}
}

// WithOrder returns a copy of the generator using a different question ordering.
func (g *QuestionGenerator) WithOrder(order QuestionOrder) *QuestionGenerator {
	clone := *g
	clone.order = order
	return &clone
}

// Generate returns the deduplicated, ordered question set for the candidates.
func (g *QuestionGenerator) Generate(candidates []domain.DiseaseID) (domain.QuestionSet, error) {
	shared := make(map[domain.SymptomID]int)
	seenDisease := make(map[domain.DiseaseID]struct{}, len(candidates))
	for _, d := range candidates {
		if err := g.catalog.CheckDisease(d); err != nil {
			return nil, err
		}
		if _, dup := seenDisease[d]; dup {
			return nil, fmt.Errorf("%w: duplicate candidate %s", domain.ErrInvalidInput, d)
		}
		seenDisease[d] = struct{}{}

		for _, spec := range g.catalog.Symptoms(d) {
			shared[spec.ID]++
		}
	}

	questions := make(domain.QuestionSet, 0, len(shared))
	for symptom, count := range shared {
		questions = append(questions, domain.Question{
			Symptom:  symptom,
			Prompt:   g.catalog.Prompt(symptom),
			SharedBy: count,
		})
	}
	sort.Slice(questions, func(i, j int) bool { return g.order(questions[i], questions[j]) })

	return questions, nil
}
