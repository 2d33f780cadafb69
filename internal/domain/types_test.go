package domain

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestSeverityLevelConstants(t *testing.T) {
	tests := []struct {
		name     string
		value    SeverityLevel
		expected string
		rank     int
	}{
		{"Mild", SeverityMild, "Mild", 1},
		{"Moderate", SeverityModerate, "Moderate", 2},
		{"Severe", SeveritySevere, "Severe", 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if string(tt.value) != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, string(tt.value))
			}
			if tt.value.Rank() != tt.rank {
				t.Errorf("Expected rank %d, got %d", tt.rank, tt.value.Rank())
			}
			if !tt.value.IsValid() {
				t.Errorf("Expected %s to be valid", tt.value)
			}
		})
	}

	if SeverityLevel("Critical").IsValid() {
		t.Errorf("Unexpected valid severity")
	}
}

func TestSessionStateTerminal(t *testing.T) {
	tests := []struct {
		state    SessionState
		terminal bool
	}{
		{StateIdle, false},
		{StateClassified, false},
		{StateAwaitingSymptoms, false},
		{StateUnknownFlagged, true},
		{StateConfirmed, true},
		{StateUnresolved, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			if tt.state.IsTerminal() != tt.terminal {
				t.Errorf("Expected terminal=%v for %s", tt.terminal, tt.state)
			}
		})
	}
}

func TestNewPredictionSet(t *testing.T) {
	tests := []struct {
		name    string
		input   []Prediction
		wantErr bool
	}{
		{"Ordered", []Prediction{{"Eczema", 0.8}, {"Psoriasis", 0.3}, {"Acne", 0.1}}, false},
		{"Ties allowed", []Prediction{{"Acne", 0.4}, {"Eczema", 0.4}}, false},
		{"Empty", nil, false},
		{"Increasing", []Prediction{{"Acne", 0.1}, {"Eczema", 0.8}}, true},
		{"Duplicate", []Prediction{{"Acne", 0.5}, {"Acne", 0.4}}, true},
		{"Out of range", []Prediction{{"Acne", 1.2}}, true},
		{"Empty label", []Prediction{{"", 0.2}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set, err := NewPredictionSet(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Expected error")
				}
				if !errors.Is(err, ErrInvalidInput) {
					t.Errorf("Expected ErrInvalidInput, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if set.Len() != len(tt.input) {
				t.Errorf("Expected %d predictions, got %d", len(tt.input), set.Len())
			}
		})
	}
}

func TestPredictionSetImmutable(t *testing.T) {
	input := []Prediction{{"Eczema", 0.8}, {"Psoriasis", 0.3}}
	set, err := NewPredictionSet(input)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	input[0].Label = "Changed"
	copied := set.Predictions()
	copied[1].Confidence = 0

	if set.At(0).Label != "Eczema" {
		t.Errorf("Set must not alias its input")
	}
	if c, _ := set.Confidence("Psoriasis"); c != 0.3 {
		t.Errorf("Set must not alias returned slices, got %v", c)
	}
}

func TestPredictionSetJSON(t *testing.T) {
	set, err := NewPredictionSet([]Prediction{{"Eczema", 0.8}, {"Acne", 0.1}})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	data, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	expected := `[{"label":"Eczema","confidence":0.8},{"label":"Acne","confidence":0.1}]`
	if string(data) != expected {
		t.Errorf("Expected %s, got %s", expected, string(data))
	}

	var decoded PredictionSet
	if err := json.Unmarshal([]byte(`[{"label":"Acne","confidence":0.1},{"label":"Eczema","confidence":0.8}]`), &decoded); err == nil {
		t.Errorf("Expected unordered candidates to be rejected")
	}
}

func TestQuestionSetJSONKeepsOrder(t *testing.T) {
	qs := QuestionSet{
		{Symptom: "itch", Prompt: "Do you experience itch?", SharedBy: 2},
		{Symptom: "scaling", Prompt: "Is the skin scaly?", SharedBy: 1},
		{Symptom: "blackheads", Prompt: "Do you experience blackheads?", SharedBy: 1},
	}

	data, err := json.Marshal(qs)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	expected := `{"itch":"Do you experience itch?","scaling":"Is the skin scaly?","blackheads":"Do you experience blackheads?"}`
	if string(data) != expected {
		t.Errorf("Expected %s, got %s", expected, string(data))
	}
}

func TestDiagnosisResultMessage(t *testing.T) {
	confirmed := &DiagnosisResult{Disease: "Eczema", Severity: SeveritySevere, Confirmed: true}
	if got := confirmed.Message(); got != "Disease: Eczema, Severity: Severe" {
		t.Errorf("Unexpected message %q", got)
	}
	if confirmed.State() != StateConfirmed {
		t.Errorf("Expected confirmed state")
	}

	unresolved := &DiagnosisResult{}
	if got := unresolved.Message(); got != "Disease: unable to confirm, Severity: None" {
		t.Errorf("Unexpected message %q", got)
	}
	if unresolved.SeverityOrNil() != nil {
		t.Errorf("Expected nil severity")
	}
	if unresolved.State() != StateUnresolved {
		t.Errorf("Expected unresolved state")
	}
}
