package domain

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// DefaultSymptomWeight is applied to catalog symptoms that carry no explicit weight.
const DefaultSymptomWeight = 1.0

// SymptomSpec is one symptom listed for a disease in the catalog.
type SymptomSpec struct {
	ID       SymptomID `json:"id" yaml:"id"`
	Weight   float64   `json:"weight,omitempty" yaml:"weight,omitempty"`
	Question string    `json:"question,omitempty" yaml:"question,omitempty"`
}

// SymptomCatalog maps each known disease to its weighted symptom set.
// A catalog is loaded once at startup and is read-only afterwards, so it is safe to share
// across concurrent requests without locking.
type SymptomCatalog struct {
	diseases []DiseaseID
	symptoms map[DiseaseID][]SymptomSpec
	totals   map[DiseaseID]float64
	prompts  map[SymptomID]string
}

// NewSymptomCatalog validates entries and builds an immutable catalog. It enforces the closed
// DiseaseID domain: every disease needs a non-empty identifier and at least one symptom, symptom
// weights must be finite and non-negative (zero means unweighted), and a symptom that carries an
// explicit question must carry the same question wherever it appears.
func NewSymptomCatalog(entries map[DiseaseID][]SymptomSpec) (*SymptomCatalog, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: no diseases defined", ErrInvalidCatalog)
	}

	c := &SymptomCatalog{
		diseases: make([]DiseaseID, 0, len(entries)),
		symptoms: make(map[DiseaseID][]SymptomSpec, len(entries)),
		totals:   make(map[DiseaseID]float64, len(entries)),
		prompts:  make(map[SymptomID]string),
	}

	for disease := range entries {
		if strings.TrimSpace(string(disease)) == "" || strings.TrimSpace(string(disease)) != string(disease) {
			return nil, fmt.Errorf("%w: disease identifier %q must be non-empty and trimmed", ErrInvalidCatalog, disease)
		}
		c.diseases = append(c.diseases, disease)
	}
	sort.Slice(c.diseases, func(i, j int) bool { return c.diseases[i] < c.diseases[j] })

	questions := make(map[SymptomID]string)
	for _, disease := range c.diseases {
		specs := entries[disease]
		if len(specs) == 0 {
			return nil, fmt.Errorf("%w: disease %s has no symptoms", ErrInvalidCatalog, disease)
		}

		normalized := make([]SymptomSpec, 0, len(specs))
		seen := make(map[SymptomID]struct{}, len(specs))
		total := 0.0
		for _, spec := range specs {
			if strings.TrimSpace(string(spec.ID)) == "" {
				return nil, fmt.Errorf("%w: disease %s lists an empty symptom", ErrInvalidCatalog, disease)
			}
			if _, dup := seen[spec.ID]; dup {
				return nil, fmt.Errorf("%w: disease %s lists symptom %s twice", ErrInvalidCatalog, disease, spec.ID)
			}
			seen[spec.ID] = struct{}{}

			if math.IsNaN(spec.Weight) || math.IsInf(spec.Weight, 0) || spec.Weight < 0 {
				return nil, fmt.Errorf("%w: symptom %s of %s has invalid weight %v", ErrInvalidCatalog, spec.ID, disease, spec.Weight)
			}
			if spec.Weight == 0 {
				spec.Weight = DefaultSymptomWeight
			}
			total += spec.Weight

			spec.Question = strings.TrimSpace(spec.Question)
			if spec.Question != "" {
				if existing, ok := questions[spec.ID]; ok && existing != spec.Question {
					return nil, fmt.Errorf("%w: symptom %s has conflicting questions", ErrInvalidCatalog, spec.ID)
				}
				questions[spec.ID] = spec.Question
			}
			normalized = append(normalized, spec)
		}

		sort.Slice(normalized, func(i, j int) bool { return normalized[i].ID < normalized[j].ID })
		c.symptoms[disease] = normalized
		c.totals[disease] = total
	}

	for _, specs := range c.symptoms {
		for _, spec := range specs {
			if q, ok := questions[spec.ID]; ok {
				c.prompts[spec.ID] = q
			} else {
				c.prompts[spec.ID] = DefaultPrompt(spec.ID)
			}
		}
	}

	return c, nil
}

// DefaultPrompt renders the question asked for a symptom without an explicit question.
func DefaultPrompt(s SymptomID) string {
	words := strings.NewReplacer("_", " ", "-", " ").Replace(string(s))
	return fmt.Sprintf("Do you experience %s?", strings.TrimSpace(words))
}

// Len returns the number of diseases.
func (c *SymptomCatalog) Len() int {
	return len(c.diseases)
}

// Diseases returns the disease identifiers in lexicographic order.
func (c *SymptomCatalog) Diseases() []DiseaseID {
	out := make([]DiseaseID, len(c.diseases))
	copy(out, c.diseases)
	return out
}

// Has reports whether the disease is part of the catalog.
func (c *SymptomCatalog) Has(d DiseaseID) bool {
	_, ok := c.symptoms[d]
	return ok
}

// CheckDisease returns an InputError when d is not a catalog disease.
func (c *SymptomCatalog) CheckDisease(d DiseaseID) error {
	if !c.Has(d) {
		return fmt.Errorf("%w: %w: %s", ErrInvalidInput, ErrUnknownDisease, d)
	}
	return nil
}

// Symptoms returns a copy of the symptoms listed for d, ordered by identifier.
func (c *SymptomCatalog) Symptoms(d DiseaseID) []SymptomSpec {
	specs := c.symptoms[d]
	out := make([]SymptomSpec, len(specs))
	copy(out, specs)
	return out
}

// TotalWeight returns the summed weight of the symptoms listed for d.
func (c *SymptomCatalog) TotalWeight(d DiseaseID) float64 {
	return c.totals[d]
}

// HasSymptom reports whether any disease lists s.
func (c *SymptomCatalog) HasSymptom(s SymptomID) bool {
	_, ok := c.prompts[s]
	return ok
}

// Prompt returns the question text for s.
func (c *SymptomCatalog) Prompt(s SymptomID) string {
	if p, ok := c.prompts[s]; ok {
		return p
	}
	return DefaultPrompt(s)
}

// SymptomDomain returns the union of the symptoms of the given diseases, ordered by identifier.
func (c *SymptomCatalog) SymptomDomain(diseases []DiseaseID) []SymptomID {
	seen := make(map[SymptomID]struct{})
	var out []SymptomID
	for _, d := range diseases {
		for _, spec := range c.symptoms[d] {
			if _, ok := seen[spec.ID]; ok {
				continue
			}
			seen[spec.ID] = struct{}{}
			out = append(out, spec.ID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Entries returns a copy of the catalog content in the form accepted by NewSymptomCatalog.
func (c *SymptomCatalog) Entries() map[DiseaseID][]SymptomSpec {
	out := make(map[DiseaseID][]SymptomSpec, len(c.diseases))
	for _, d := range c.diseases {
		out[d] = c.Symptoms(d)
	}
	return out
}
