package service

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/idemdrem-diagnosis-server/internal/domain"
)

// ParseAnswers validates a raw answer map as decoded from JSON. Values must be boolean-like:
// "1"/"0", "true"/"false", "yes"/"no" (any case), JSON booleans, or the numbers 1 and 0.
// Keys are trimmed; symptoms unknown to the catalog and keys naming the same symptom twice are
// rejected. Validation runs in key order so the reported error is deterministic.
func ParseAnswers(raw map[string]any, catalog *domain.SymptomCatalog) (domain.SymptomResponseMap, error) {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	answers := make(domain.SymptomResponseMap, len(raw))
	for _, key := range keys {
		symptom := domain.SymptomID(strings.TrimSpace(key))
		if _, dup := answers[symptom]; dup {
			return nil, domain.NewInputError("answers."+key, fmt.Sprintf("duplicate answer for symptom %s", symptom), raw[key])
		}
		if !catalog.HasSymptom(symptom) {
			return nil, fmt.Errorf("%w: %w: %s", domain.ErrInvalidInput, domain.ErrUnknownSymptom, key)
		}
		value, err := ParseAnswerValue(raw[key])
		if err != nil {
			return nil, domain.NewInputError("answers."+key, err.Error(), raw[key])
		}
		answers[symptom] = value
	}
	return answers, nil
}

// ParseAnswerValue converts one boolean-like answer value.
func ParseAnswerValue(v any) (bool, error) {
	switch value := v.(type) {
	case bool:
		return value, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "1", "true", "yes":
			return true, nil
		case "0", "false", "no":
			return false, nil
		}
		return false, fmt.Errorf("value %q is not boolean-like", value)
	case float64:
		return numericAnswer(value)
	case int:
		return numericAnswer(float64(value))
	case int64:
		return numericAnswer(float64(value))
	case nil:
		return false, fmt.Errorf("value is null")
	default:
		return false, fmt.Errorf("value of type %T is not boolean-like", v)
	}
}

func numericAnswer(v float64) (bool, error) {
	switch {
	case v == 1:
		return true, nil
	case v == 0:
		return false, nil
	case math.IsNaN(v):
		return false, fmt.Errorf("value is NaN")
	default:
		return false, fmt.Errorf("value %v is not boolean-like", v)
	}
}

// FillDefaults returns a copy of answers made total over domain: every symptom of the domain
// without an answer is recorded as negative. Answers outside the domain are kept.
func FillDefaults(answers domain.SymptomResponseMap, symptoms []domain.SymptomID) domain.SymptomResponseMap {
	filled := make(domain.SymptomResponseMap, len(answers)+len(symptoms))
	for _, s := range symptoms {
		filled[s] = false
	}
	for s, v := range answers {
		filled[s] = v
	}
	return filled
}
