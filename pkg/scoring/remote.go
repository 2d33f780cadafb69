package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/idemdrem-diagnosis-server/internal/domain"
)

// RemoteScorer calls a model hosted behind a TF-Serving compatible REST endpoint:
// POST {endpoint}/v1/models/{model}:predict with {"instances": [image]}.
type RemoteScorer struct {
	cfg        domain.ModelConfig
	url        string
	httpClient *http.Client
	rateLimit  *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	logger     *logrus.Logger
}

type predictRequest struct {
	Instances []any `json:"instances"`
}

type predictResponse struct {
	Predictions [][]float64 `json:"predictions"`
	Error       string      `json:"error,omitempty"`
}

// NewRemoteScorer creates a remote scorer with its own rate limiter and circuit breaker.
func NewRemoteScorer(cfg domain.ModelConfig, logger *logrus.Logger) (*RemoteScorer, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("model %s: endpoint is required", cfg.Name)
	}
	if len(cfg.Labels) == 0 {
		return nil, fmt.Errorf("model %s: labels are required", cfg.Name)
	}
	if cfg.ModelName == "" {
		cfg.ModelName = cfg.Name
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 10
	}

	return &RemoteScorer{
		cfg: cfg,
		url: fmt.Sprintf("%s/v1/models/%s:predict", strings.TrimRight(cfg.Endpoint, "/"), cfg.ModelName),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		rateLimit: rate.NewLimiter(rate.Limit(cfg.RateLimit), 1),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        cfg.Name,
			MaxRequests: 3,
			Interval:    30 * time.Second,
			Timeout:     60 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 3 && failureRatio >= 0.6
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				logger.WithFields(logrus.Fields{
					"model": name,
					"from":  from.String(),
					"to":    to.String(),
				}).Warn("Model circuit breaker changed state")
			},
		}),
		logger: logger,
	}, nil
}

// Name returns the configured model name.
func (r *RemoteScorer) Name() string {
	return r.cfg.Name
}

// State returns the circuit breaker state.
func (r *RemoteScorer) State() gobreaker.State {
	return r.breaker.State()
}

// Score preprocesses the image and requests a prediction. When the breaker is open the call fails
// immediately.
func (r *RemoteScorer) Score(ctx context.Context, img *domain.ImageInput) (domain.ScoreVector, error) {
	if img == nil {
		return nil, domain.NewInputError("image", "image is required", nil)
	}
	tensor, err := Preprocess(img.Image, r.cfg.InputWidth, r.cfg.InputHeight, LayoutNHWC)
	if err != nil {
		return nil, err
	}

	if err := r.rateLimit.Wait(ctx); err != nil {
		return nil, domain.NewClassificationError(r.cfg.Name, fmt.Errorf("rate limit wait failed: %w", err))
	}

	result, err := r.breaker.Execute(func() (interface{}, error) {
		return r.predict(ctx, tensor)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			r.logger.WithField("model", r.cfg.Name).Warn("Model call rejected by circuit breaker")
		}
		return nil, domain.NewClassificationError(r.cfg.Name, err)
	}

	vector, err := ToScoreVector(r.cfg.Labels, result.([]float64), r.cfg.ApplySoftmax)
	if err != nil {
		return nil, domain.NewClassificationError(r.cfg.Name, err)
	}
	return vector, nil
}

func (r *RemoteScorer) predict(ctx context.Context, tensor *Tensor) ([]float64, error) {
	body, err := json.Marshal(predictRequest{Instances: []any{tensor.Nested()}})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("model server error: status=%d, body=%s", resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}

	var decoded predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if decoded.Error != "" {
		return nil, fmt.Errorf("model server error: %s", decoded.Error)
	}
	if len(decoded.Predictions) != 1 {
		return nil, fmt.Errorf("expected 1 prediction row, got %d", len(decoded.Predictions))
	}
	return decoded.Predictions[0], nil
}
