package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/idemdrem-diagnosis-server/internal/domain"
	"github.com/idemdrem-diagnosis-server/pkg/scoring"
)

// EnsembleMember is a scorer together with its ensemble weight.
type EnsembleMember struct {
	Scorer domain.Scorer
	Weight float64
}

// ConfirmRequest carries the inputs of the confirm operation. Candidates take precedence over
// ContextID when both are set.
type ConfirmRequest struct {
	ContextID  string
	Candidates *domain.PredictionSet
	Answers    map[string]any
}

// DiagnosisService composes the decision pipeline: ensemble aggregation, the out-of-distribution
// gate, question generation and symptom confirmation.
type DiagnosisService struct {
	logger     *logrus.Logger
	catalog    *domain.SymptomCatalog
	members    []EnsembleMember
	engine     domain.EngineConfig
	aggregator *EnsembleAggregator
	gate       *OODGate
	questions  *QuestionGenerator
	resolver   *ConfirmationResolver
	contexts   domain.ContextStore
}

// NewDiagnosisService creates a diagnosis service. contexts may be nil, in which case confirm
// requires caller-supplied candidates.
func NewDiagnosisService(
	logger *logrus.Logger,
	catalog *domain.SymptomCatalog,
	members []EnsembleMember,
	engine domain.EngineConfig,
	contexts domain.ContextStore,
) *DiagnosisService {
	return &DiagnosisService{
		logger:     logger,
		catalog:    catalog,
		members:    members,
		engine:     engine,
		aggregator: NewEnsembleAggregator(catalog, engine.TopK),
		gate:       NewOODGate(engine.Gate),
		questions:  NewQuestionGenerator(catalog),
		resolver:   NewConfirmationResolver(catalog, NewSeverityBands(engine.Severity), logger),
		contexts:   contexts,
	}
}

// ClassifyImage decodes raw upload bytes and classifies them. Images larger than the configured
// pixel cap are rejected before decoding.
func (s *DiagnosisService) ClassifyImage(ctx context.Context, data []byte, contentType string) (*domain.ClassifyResult, error) {
	img, err := scoring.DecodeImage(data, contentType, s.engine.MaxImagePixels)
	if err != nil {
		return nil, err
	}
	return s.Classify(ctx, img)
}

// Classify runs the ensemble on a decoded image. An unknown condition is a result, not an error.
// For a recognised condition the candidate set is stored so that Confirm can find it by ContextID.
func (s *DiagnosisService) Classify(ctx context.Context, img *domain.ImageInput) (*domain.ClassifyResult, error) {
	if img == nil || img.Image == nil {
		return nil, domain.NewInputError("image", "image is required", nil)
	}

	startTime := time.Now()
	scores, err := s.ScoreImage(ctx, img)
	if err != nil {
		s.logger.WithError(err).Error("Ensemble scoring failed")
		return nil, err
	}

	result, err := s.ClassifyScores(scores)
	if err != nil {
		return nil, err
	}

	if !result.Unknown && s.contexts != nil {
		id, err := s.contexts.Save(ctx, result.Predictions)
		if err != nil {
			return nil, fmt.Errorf("failed to store candidate context: %w", err)
		}
		result.ContextID = id
	}

	s.logger.WithFields(logrus.Fields{
		"unknown":    result.Unknown,
		"questions":  len(result.Questions),
		"context_id": result.ContextID,
		"duration":   time.Since(startTime),
	}).Info("Image classification completed")

	return result, nil
}

// ScoreImage invokes every ensemble member concurrently. Any member failure fails the whole call;
// there is no fallback prediction.
func (s *DiagnosisService) ScoreImage(ctx context.Context, img *domain.ImageInput) ([]ModelScores, error) {
	if len(s.members) == 0 {
		return nil, fmt.Errorf("%w: no ensemble members configured", domain.ErrClassificationFailure)
	}

	results := make([]ModelScores, len(s.members))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, member := range s.members {
		eg.Go(func() error {
			vector, err := member.Scorer.Score(egCtx, img)
			if err != nil {
				if domain.IsClassificationFailure(err) {
					return err
				}
				return domain.NewClassificationError(member.Scorer.Name(), err)
			}
			results[i] = ModelScores{
				Model:  member.Scorer.Name(),
				Weight: member.Weight,
				Scores: vector,
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// ClassifyScores applies aggregation, gating and question generation to precomputed member
// scores. It has no side effects.
func (s *DiagnosisService) ClassifyScores(scores []ModelScores) (*domain.ClassifyResult, error) {
	predictions, err := s.aggregator.Aggregate(scores)
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(predictions.LogFields()).Debug("Ensemble predictions")

	decision := s.gate.Evaluate(predictions)
	s.logger.WithFields(logrus.Fields{
		"unknown": decision.Unknown,
		"top1":    decision.Top1,
		"margin":  decision.Margin,
	}).Debug("Out-of-distribution gate evaluated")

	result := &domain.ClassifyResult{
		Unknown:     decision.Unknown,
		Predictions: predictions,
		Top1:        decision.Top1,
		Margin:      decision.Margin,
	}
	if decision.Unknown {
		return result, nil
	}

	questions, err := s.questions.Generate(predictions.Labels())
	if err != nil {
		return nil, fmt.Errorf("failed to generate questions: %w", err)
	}
	result.Questions = questions
	return result, nil
}

// Confirm resolves the final diagnosis. UnableToConfirm is a result, not an error.
func (s *DiagnosisService) Confirm(ctx context.Context, req *ConfirmRequest) (*domain.DiagnosisResult, error) {
	if req == nil {
		return nil, domain.NewInputError("request", "request is required", nil)
	}

	candidates, err := s.candidatesFor(ctx, req)
	if err != nil {
		return nil, err
	}

	answers, err := ParseAnswers(req.Answers, s.catalog)
	if err != nil {
		return nil, err
	}

	result, err := s.resolver.Resolve(candidates, answers)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"disease":     result.DisplayDisease(),
		"severity":    result.Severity,
		"match_ratio": result.MatchRatio,
		"context_id":  req.ContextID,
	}).Info("Symptom confirmation completed")

	return result, nil
}

func (s *DiagnosisService) candidatesFor(ctx context.Context, req *ConfirmRequest) (domain.PredictionSet, error) {
	if req.Candidates != nil {
		return *req.Candidates, nil
	}
	if req.ContextID == "" {
		return domain.PredictionSet{}, domain.NewInputError("context_id", "either candidates or context_id is required", nil)
	}
	if s.contexts == nil {
		return domain.PredictionSet{}, fmt.Errorf("%w: no context store configured", domain.ErrContextNotFound)
	}
	return s.contexts.Load(ctx, req.ContextID)
}

// Catalog returns the symptom catalog.
func (s *DiagnosisService) Catalog() *domain.SymptomCatalog {
	return s.catalog
}

// Engine returns the engine configuration in effect.
func (s *DiagnosisService) Engine() domain.EngineConfig {
	return s.engine
}

// Models returns the names of the ensemble members in configuration order.
func (s *DiagnosisService) Models() []string {
	names := make([]string, len(s.members))
	for i, m := range s.members {
		names[i] = m.Scorer.Name()
	}
	return names
}
