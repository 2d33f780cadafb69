package scoring

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/idemdrem-diagnosis-server/internal/domain"
)

// NewScorers builds every configured ensemble member, in configuration order. Labels of each
// model must cover exactly the catalog diseases. The returned closer releases local models.
func NewScorers(models []domain.ModelConfig, onnx domain.ONNXConfig, catalog *domain.SymptomCatalog, logger *logrus.Logger) ([]domain.Scorer, io.Closer, error) {
	closers := multiCloser{}
	scorers := make([]domain.Scorer, 0, len(models))
	seen := make(map[string]struct{}, len(models))

	for _, m := range models {
		if _, dup := seen[m.Name]; dup {
			_ = closers.Close()
			return nil, nil, fmt.Errorf("duplicate model name %q", m.Name)
		}
		seen[m.Name] = struct{}{}

		if err := checkLabels(m, catalog); err != nil {
			_ = closers.Close()
			return nil, nil, err
		}

		switch m.Kind {
		case domain.ModelKindRemote, "":
			scorer, err := NewRemoteScorer(m, logger)
			if err != nil {
				_ = closers.Close()
				return nil, nil, err
			}
			scorers = append(scorers, scorer)
		case domain.ModelKindONNX:
			if err := InitONNXRuntime(onnx.LibraryPath); err != nil {
				_ = closers.Close()
				return nil, nil, err
			}
			scorer, err := NewONNXScorer(m)
			if err != nil {
				_ = closers.Close()
				return nil, nil, err
			}
			closers = append(closers, scorer)
			scorers = append(scorers, scorer)
		default:
			_ = closers.Close()
			return nil, nil, fmt.Errorf("model %s: unknown kind %q", m.Name, m.Kind)
		}

		logger.WithFields(logrus.Fields{
			"model":  m.Name,
			"kind":   m.Kind,
			"labels": len(m.Labels),
		}).Info("Ensemble member loaded")
	}

	return scorers, closers, nil
}

func checkLabels(m domain.ModelConfig, catalog *domain.SymptomCatalog) error {
	if len(m.Labels) != catalog.Len() {
		return fmt.Errorf("model %s: %d labels configured, catalog has %d diseases", m.Name, len(m.Labels), catalog.Len())
	}
	seen := make(map[string]struct{}, len(m.Labels))
	for _, l := range m.Labels {
		if !catalog.Has(domain.DiseaseID(l)) {
			return fmt.Errorf("model %s: label %q is not a catalog disease", m.Name, l)
		}
		if _, dup := seen[l]; dup {
			return fmt.Errorf("model %s: duplicate label %q", m.Name, l)
		}
		seen[l] = struct{}{}
	}
	return nil
}

type multiCloser []io.Closer

func (m multiCloser) Close() error {
	var first error
	for _, c := range m {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
