// Package domain contains the core entities of the skin condition diagnosis engine: ranked
// predictions produced by the classifier ensemble, the static symptom catalog, symptom answers
// collected from the patient, and the confirmed diagnosis with its severity.
//
// Every value in this package is request-scoped except SymptomCatalog, which is built once at
// startup and only read afterwards.
package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// DiseaseID identifies a skin condition known to the symptom catalog.
// Identifiers are validated against the catalog at load time and never compared ad hoc.
type DiseaseID string

// String returns the string representation of the disease identifier.
func (d DiseaseID) String() string {
	return string(d)
}

// SymptomID identifies a symptom as presented in the question set.
type SymptomID string

// String returns the string representation of the symptom identifier.
func (s SymptomID) String() string {
	return string(s)
}

// UnableToConfirm is the disease text reported when no symptom evidence matched any candidate.
const UnableToConfirm = "unable to confirm"

// SeverityLevel is derived from the winning match ratio. It is never supplied by the user.
type SeverityLevel string

const (
	SeverityMild     SeverityLevel = "Mild"
	SeverityModerate SeverityLevel = "Moderate"
	SeveritySevere   SeverityLevel = "Severe"
)

// IsValid reports whether the severity is one of the known levels.
func (s SeverityLevel) IsValid() bool {
	switch s {
	case SeverityMild, SeverityModerate, SeveritySevere:
		return true
	default:
		return false
	}
}

// String returns the string representation of the severity level.
func (s SeverityLevel) String() string {
	return string(s)
}

// Rank orders severity levels: Mild < Moderate < Severe. Unknown levels rank 0.
func (s SeverityLevel) Rank() int {
	switch s {
	case SeverityMild:
		return 1
	case SeverityModerate:
		return 2
	case SeveritySevere:
		return 3
	default:
		return 0
	}
}

// LogFields returns structured logging fields for audit trails.
func (s SeverityLevel) LogFields() map[string]any {
	return map[string]any{
		"severity":      string(s),
		"severity_rank": s.Rank(),
		"is_valid":      s.IsValid(),
	}
}

// SessionState names the stages of a diagnosis session. The session is conceptual: it is never
// persisted, each component output simply moves it forward and no state is revisited.
type SessionState string

const (
	StateIdle             SessionState = "IDLE"
	StateClassified       SessionState = "CLASSIFIED"
	StateUnknownFlagged   SessionState = "UNKNOWN_FLAGGED"
	StateAwaitingSymptoms SessionState = "AWAITING_SYMPTOMS"
	StateConfirmed        SessionState = "CONFIRMED"
	StateUnresolved       SessionState = "UNRESOLVED"
)

// IsTerminal reports whether no further transition leaves the state.
func (s SessionState) IsTerminal() bool {
	switch s {
	case StateUnknownFlagged, StateConfirmed, StateUnresolved:
		return true
	default:
		return false
	}
}

// Prediction is one ranked entry of the ensemble output.
type Prediction struct {
	Label      DiseaseID `json:"label"`
	Confidence float64   `json:"confidence"`
}

// PredictionSet is the ordered top-K ensemble output, strictly non-increasing by confidence.
// It is immutable once built; accessors hand out copies.
type PredictionSet struct {
	predictions []Prediction
}

// NewPredictionSet validates and wraps predictions. The input must already be ordered by
// non-increasing confidence, carry confidences in [0,1] and contain no duplicate label.
func NewPredictionSet(predictions []Prediction) (PredictionSet, error) {
	seen := make(map[DiseaseID]struct{}, len(predictions))
	for i, p := range predictions {
		if strings.TrimSpace(string(p.Label)) == "" {
			return PredictionSet{}, NewInputError("candidates", "label is required", i)
		}
		if math.IsNaN(p.Confidence) || p.Confidence < 0 || p.Confidence > 1 {
			return PredictionSet{}, NewInputError("candidates", fmt.Sprintf("confidence for %s must be within [0,1]", p.Label), p.Confidence)
		}
		if _, dup := seen[p.Label]; dup {
			return PredictionSet{}, NewInputError("candidates", fmt.Sprintf("duplicate label %s", p.Label), p.Label)
		}
		seen[p.Label] = struct{}{}
		if i > 0 && predictions[i-1].Confidence < p.Confidence {
			return PredictionSet{}, NewInputError("candidates", "predictions must be ordered by non-increasing confidence", p.Label)
		}
	}

	out := make([]Prediction, len(predictions))
	copy(out, predictions)
	return PredictionSet{predictions: out}, nil
}

// Len returns the number of predictions.
func (ps PredictionSet) Len() int {
	return len(ps.predictions)
}

// At returns the prediction at rank i (0 is the best).
func (ps PredictionSet) At(i int) Prediction {
	return ps.predictions[i]
}

// Predictions returns a copy of the ordered predictions.
func (ps PredictionSet) Predictions() []Prediction {
	out := make([]Prediction, len(ps.predictions))
	copy(out, ps.predictions)
	return out
}

// Labels returns the candidate labels in rank order.
func (ps PredictionSet) Labels() []DiseaseID {
	out := make([]DiseaseID, len(ps.predictions))
	for i, p := range ps.predictions {
		out[i] = p.Label
	}
	return out
}

// Confidence returns the ensemble confidence recorded for label.
func (ps PredictionSet) Confidence(label DiseaseID) (float64, bool) {
	for _, p := range ps.predictions {
		if p.Label == label {
			return p.Confidence, true
		}
	}
	return 0, false
}

// LogFields returns the ranked labels and confidences for structured logging.
func (ps PredictionSet) LogFields() map[string]any {
	fields := make(map[string]any, len(ps.predictions))
	for i, p := range ps.predictions {
		fields[fmt.Sprintf("top%d", i+1)] = fmt.Sprintf("%s=%.4f", p.Label, p.Confidence)
	}
	return fields
}

// MarshalJSON encodes the set as an ordered array of predictions.
func (ps PredictionSet) MarshalJSON() ([]byte, error) {
	if ps.predictions == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(ps.predictions)
}

// UnmarshalJSON decodes an ordered array of predictions, applying the same validation as
// NewPredictionSet.
func (ps *PredictionSet) UnmarshalJSON(data []byte) error {
	var predictions []Prediction
	if err := json.Unmarshal(data, &predictions); err != nil {
		return err
	}
	set, err := NewPredictionSet(predictions)
	if err != nil {
		return err
	}
	*ps = set
	return nil
}

// Question is a single follow-up prompt shown to the patient.
type Question struct {
	Symptom SymptomID `json:"symptom"`
	Prompt  string    `json:"prompt"`
	// SharedBy is the number of candidate diseases listing the symptom.
	SharedBy int `json:"shared_by"`
}

// QuestionSet is the ordered, deduplicated list of follow-up questions.
// It encodes to JSON as an object keyed by symptom, preserving the question order.
type QuestionSet []Question

// Symptoms returns the symptom identifiers in question order.
func (qs QuestionSet) Symptoms() []SymptomID {
	out := make([]SymptomID, len(qs))
	for i, q := range qs {
		out[i] = q.Symptom
	}
	return out
}

// Prompts returns the symptom to prompt mapping.
func (qs QuestionSet) Prompts() map[SymptomID]string {
	out := make(map[SymptomID]string, len(qs))
	for _, q := range qs {
		out[q.Symptom] = q.Prompt
	}
	return out
}

// MarshalJSON writes {"symptom": "prompt", ...} in question order.
func (qs QuestionSet) MarshalJSON() ([]byte, error) {
	var b strings.Builder
	b.WriteByte('{')
	for i, q := range qs {
		if i > 0 {
			b.WriteByte(',')
		}
		key, err := json.Marshal(string(q.Symptom))
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(q.Prompt)
		if err != nil {
			return nil, err
		}
		b.Write(key)
		b.WriteByte(':')
		b.Write(value)
	}
	b.WriteByte('}')
	return []byte(b.String()), nil
}

// ClassifyResult is the outcome of the classify operation: either an unknown condition, or the
// candidate set together with the questions that discriminate between its members.
type ClassifyResult struct {
	Unknown     bool          `json:"unknown"`
	Predictions PredictionSet `json:"candidates"`
	Questions   QuestionSet   `json:"questions,omitempty"`
	Top1        float64       `json:"top1"`
	Margin      float64       `json:"margin"`
	ContextID   string        `json:"context_id,omitempty"`
}

// State returns the session state reached by the classify operation.
func (r *ClassifyResult) State() SessionState {
	if r.Unknown {
		return StateUnknownFlagged
	}
	return StateAwaitingSymptoms
}

// SymptomResponseMap maps a symptom to the patient's answer. After default-fill it is total over
// the candidate symptom domain: a missing symptom is a negative answer.
type SymptomResponseMap map[SymptomID]bool

// Positive reports whether the symptom was answered yes. Absent symptoms are negative.
func (m SymptomResponseMap) Positive(s SymptomID) bool {
	return m[s]
}

// CandidateScore is the resolver's evaluation of one candidate disease.
type CandidateScore struct {
	Label      DiseaseID `json:"label"`
	Confidence float64   `json:"confidence"`
	MatchRatio float64   `json:"match_ratio"`
}

// DiagnosisResult is the terminal output of the confirm operation.
type DiagnosisResult struct {
	Disease    DiseaseID        `json:"disease"`
	Severity   SeverityLevel    `json:"severity,omitempty"`
	Confirmed  bool             `json:"confirmed"`
	MatchRatio float64          `json:"match_ratio"`
	Scores     []CandidateScore `json:"scores,omitempty"`
}

// DisplayDisease returns the confirmed disease, or UnableToConfirm.
func (r *DiagnosisResult) DisplayDisease() string {
	if !r.Confirmed {
		return UnableToConfirm
	}
	return r.Disease.String()
}

// SeverityOrNil returns nil when there is no severity, for JSON null rendering.
func (r *DiagnosisResult) SeverityOrNil() *SeverityLevel {
	if !r.Confirmed || r.Severity == "" {
		return nil
	}
	severity := r.Severity
	return &severity
}

// Message renders the diagnosis deterministically. It is a view of Disease and Severity, not a
// separate source of truth.
func (r *DiagnosisResult) Message() string {
	severity := "None"
	if s := r.SeverityOrNil(); s != nil {
		severity = s.String()
	}
	return fmt.Sprintf("Disease: %s, Severity: %s", r.DisplayDisease(), severity)
}

// State returns the terminal session state of the diagnosis.
func (r *DiagnosisResult) State() SessionState {
	if r.Confirmed {
		return StateConfirmed
	}
	return StateUnresolved
}
