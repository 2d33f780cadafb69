package service

import (
	"github.com/idemdrem-diagnosis-server/internal/domain"
)

// gateEpsilon absorbs floating point error in aggregated confidences and their difference, so a
// margin computed as 0.6-0.5 still meets a 0.1 cutoff.
const gateEpsilon = 1e-9

// GateDecision explains an out-of-distribution verdict.
type GateDecision struct {
	Unknown bool
	Top1    float64
	Top2    float64
	Margin  float64
}

// OODGate flags inputs that do not look like any known condition: the top-1 confidence is below
// the absolute cutoff, or it does not stand out from the runner-up by the margin cutoff.
// Raising either cutoff can only flag more inputs.
type OODGate struct {
	absolute float64
	margin   float64
}

// NewOODGate creates a gate from the configured cutoffs.
func NewOODGate(cfg domain.GateConfig) *OODGate {
	return &OODGate{
		absolute: cfg.AbsoluteThreshold,
		margin:   cfg.MarginThreshold,
	}
}

// Evaluate applies the gate. A set with a single prediction uses 0 as the runner-up confidence;
// an empty set is always unknown.
func (g *OODGate) Evaluate(set domain.PredictionSet) GateDecision {
	if set.Len() == 0 {
		return GateDecision{Unknown: true}
	}

	d := GateDecision{Top1: set.At(0).Confidence}
	if set.Len() > 1 {
		d.Top2 = set.At(1).Confidence
	}
	d.Margin = d.Top1 - d.Top2
	d.Unknown = d.Top1+gateEpsilon < g.absolute || d.Margin+gateEpsilon < g.margin
	return d
}

// IsUnknown reports whether the set is flagged as an unknown condition.
func (g *OODGate) IsUnknown(set domain.PredictionSet) bool {
	return g.Evaluate(set).Unknown
}
