package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idemdrem-diagnosis-server/internal/cache"
	"github.com/idemdrem-diagnosis-server/internal/domain"
	"github.com/idemdrem-diagnosis-server/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stubConfigManager serves a fixed configuration.
type stubConfigManager struct {
	cfg *domain.Config
}

func (m *stubConfigManager) GetConfig() *domain.Config { return m.cfg }
func (m *stubConfigManager) GetServerConfig() *domain.ServerConfig { return &m.cfg.Server }
func (m *stubConfigManager) GetEngineConfig() *domain.EngineConfig { return &m.cfg.Engine }
func (m *stubConfigManager) GetDatabaseConfig() *domain.DatabaseConfig { return &m.cfg.Database }
func (m *stubConfigManager) Reload() error { return nil }
func (m *stubConfigManager) Validate() error { return nil }
func (m *stubConfigManager) GetDatabaseConnectionString() string { return "" }
func (m *stubConfigManager) GetDatabaseURL() string { return "" }
func (m *stubConfigManager) IsProduction() bool { return false }
func (m *stubConfigManager) IsDevelopment() bool { return true }

// fixedScorer returns the same vector for every image.
type fixedScorer struct {
	name   string
	vector domain.ScoreVector
	err    error
}

func (s *fixedScorer) Name() string { return s.name }

func (s *fixedScorer) Score(_ context.Context, _ *domain.ImageInput) (domain.ScoreVector, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.vector, nil
}

type testServer struct {
	server  *Server
	scorer  *fixedScorer
	handler http.Handler
}

func newTestServer(t *testing.T, mutate func(cfg *domain.Config), opts ...ServerOption) *testServer {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)

	catalog, err := domain.NewSymptomCatalog(map[domain.DiseaseID][]domain.SymptomSpec{
		"Eczema":    {{ID: "itch"}, {ID: "redness"}},
		"Psoriasis": {{ID: "itch"}, {ID: "scaling"}},
		"Acne":      {{ID: "pimples", Question: "Do you have pimples or blackheads?"}, {ID: "oily_skin"}},
	})
	require.NoError(t, err)

	cfg := &domain.Config{
		Server: domain.ServerConfig{
			Port:           7860,
			MaxUploadBytes: 1 << 20,
			RequestTimeout: 5 * time.Second,
			AllowedOrigins: []string{"*"},
		},
		Engine:  domain.DefaultEngineConfig(),
		Catalog: domain.CatalogConfig{Source: domain.CatalogSourceFile},
		Cache:   domain.CacheConfig{Backend: domain.CacheBackendMemory},
		Logging: domain.LoggingConfig{Level: "fatal"},
	}
	if mutate != nil {
		mutate(cfg)
	}

	scorer := &fixedScorer{
		name:   "derm",
		vector: domain.ScoreVector{"Eczema": 0.8, "Psoriasis": 0.15, "Acne": 0.05},
	}
	store := cache.NewMemoryContextStore(100, time.Minute)
	t.Cleanup(func() { _ = store.Close() })

	svc := service.NewDiagnosisService(logger, catalog, []service.EnsembleMember{{Scorer: scorer, Weight: 1}}, cfg.Engine, store)
	server := NewServer(&stubConfigManager{cfg: cfg}, svc, logger, opts...)

	return &testServer{server: server, scorer: scorer, handler: server.Router()}
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	return w
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 30), G: uint8(y * 30), B: 120, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func uploadRequest(t *testing.T, field, filename, contentType string, data []byte) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func confirmRequest(t *testing.T, body any) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/confirm_symptoms", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body
}

func TestRootAndHealth(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "Idemdrem", body["app"])
	assert.Equal(t, "online", body["status"])
	assert.NotEmpty(t, body["deployed_at"])

	w = ts.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode(t, w)["status"])
	assert.NotEmpty(t, w.Header().Get("X-Correlation-ID"))
}

func TestHealth_FailingDependency(t *testing.T) {
	ts := newTestServer(t, nil,
		WithHealthCheck("database", func(context.Context) error { return nil }),
		WithHealthCheck("redis", func(context.Context) error { return errors.New("connection refused") }),
	)

	w := ts.do(httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decode(t, w)
	assert.Equal(t, "unhealthy", body["status"])
	checks := body["checks"].(map[string]any)
	assert.Equal(t, "ok", checks["database"])
	assert.Equal(t, "connection refused", checks["redis"])
}

func TestStatusAndInfo(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusOK, w.Code)
	status := decode(t, w)
	assert.Equal(t, []any{"derm"}, status["models"])
	assert.Equal(t, float64(3), status["conditions"])
	assert.Equal(t, "memory", status["cache_backend"])

	w = ts.do(httptest.NewRequest(http.MethodGet, "/api/info", nil))
	require.Equal(t, http.StatusOK, w.Code)
	info := decode(t, w)
	assert.Equal(t, []any{"Acne", "Eczema", "Psoriasis"}, info["conditions"])
	gate := info["gate"].(map[string]any)
	assert.Equal(t, 0.5, gate["absolute_threshold"])
	assert.Equal(t, 0.1, gate["margin_threshold"])
	bands := info["severity_bands"].(map[string]any)
	assert.Equal(t, 0.75, bands["severe"])
	assert.Equal(t, 0.4, bands["moderate"])
}

func TestUploadThenConfirm(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(uploadRequest(t, "file", "rash.png", "image/png", pngBytes(t)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Questions keep their order in the encoded object: the shared symptom comes first.
	assert.True(t, strings.HasPrefix(
		rawQuestions(t, w.Body.Bytes()),
		`{"itch":"Do you experience itch?"`,
	), w.Body.String())

	body := decode(t, w)
	contextID, _ := body["context_id"].(string)
	require.NotEmpty(t, contextID)
	candidates := body["candidates"].([]any)
	require.Len(t, candidates, 3)
	assert.Equal(t, "Eczema", candidates[0].(map[string]any)["label"])

	w = ts.do(confirmRequest(t, map[string]any{
		"context_id": contextID,
		"answers":    map[string]any{"itch": "1", "redness": "1", "scaling": "0"},
	}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp ConfirmSymptomsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Eczema", resp.Disease)
	require.NotNil(t, resp.Severity)
	assert.Equal(t, domain.SeveritySevere, *resp.Severity)
	assert.Equal(t, "Disease: Eczema, Severity: Severe", resp.Message)
}

// rawQuestions extracts the raw questions object without decoding it into a map.
func rawQuestions(t *testing.T, body []byte) string {
	t.Helper()
	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(body, &raw))
	return string(raw["questions"])
}

func TestUpload_UnknownCondition(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.scorer.vector = domain.ScoreVector{"Eczema": 0.4, "Psoriasis": 0.35, "Acne": 0.25}

	w := ts.do(uploadRequest(t, "file", "rash.jpg", "image/png", pngBytes(t)))

	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "Unknown disease detected.", body["message"])
	assert.Equal(t, true, body["unknown"])
	assert.NotContains(t, body, "questions")
}

func TestUpload_Errors(t *testing.T) {
	ts := newTestServer(t, func(cfg *domain.Config) {
		cfg.Server.MaxUploadBytes = 1024
	})

	tests := []struct {
		name       string
		req        func() *http.Request
		wantStatus int
		wantCode   string
	}{
		{
			name: "missing file field",
			req: func() *http.Request {
				return uploadRequest(t, "image", "rash.png", "image/png", pngBytes(t))
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   domain.ErrCodeInvalidInput,
		},
		{
			name: "unsupported content type",
			req: func() *http.Request {
				return uploadRequest(t, "file", "rash.gif", "image/gif", []byte("GIF89a"))
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   domain.ErrCodeInvalidInput,
		},
		{
			name: "too large",
			req: func() *http.Request {
				return uploadRequest(t, "file", "rash.png", "image/png", bytes.Repeat([]byte{0x42}, 2048))
			},
			wantStatus: http.StatusRequestEntityTooLarge,
			wantCode:   domain.ErrCodeInvalidInput,
		},
		{
			name: "undecodable image",
			req: func() *http.Request {
				return uploadRequest(t, "file", "rash.png", "image/png", []byte("not an image at all"))
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   domain.ErrCodeValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(tt.req())

			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			var apiErr domain.APIError
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &apiErr))
			assert.Equal(t, tt.wantCode, apiErr.Code)
			assert.NotEmpty(t, apiErr.RequestID)
		})
	}
}

func TestUpload_ScorerFailure(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.scorer.err = errors.New("model server unavailable")

	w := ts.do(uploadRequest(t, "file", "rash.png", "image/png", pngBytes(t)))

	assert.Equal(t, http.StatusBadGateway, w.Code)
	var apiErr domain.APIError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &apiErr))
	assert.Equal(t, domain.ErrCodeClassification, apiErr.Code)
	assert.Contains(t, apiErr.Details, "model server unavailable")
}

func TestConfirmSymptoms(t *testing.T) {
	ts := newTestServer(t, nil)
	candidates := []map[string]any{
		{"label": "Eczema", "confidence": 0.6},
		{"label": "Psoriasis", "confidence": 0.3},
	}

	t.Run("supplied candidates", func(t *testing.T) {
		w := ts.do(confirmRequest(t, map[string]any{
			"candidates": candidates,
			"answers":    map[string]any{"itch": true, "scaling": 1},
		}))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		body := decode(t, w)
		assert.Equal(t, "Psoriasis", body["disease"])
		assert.Equal(t, "Severe", body["severity"])
	})

	t.Run("unable to confirm", func(t *testing.T) {
		w := ts.do(confirmRequest(t, map[string]any{
			"candidates": candidates,
			"answers":    map[string]any{"itch": "0", "redness": "no"},
		}))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		body := decode(t, w)
		assert.Equal(t, "unable to confirm", body["disease"])
		assert.Nil(t, body["severity"])
		assert.Equal(t, "Disease: unable to confirm, Severity: None", body["message"])
	})

	errorCases := []struct {
		name       string
		body       any
		wantStatus int
	}{
		{"expired context", map[string]any{"context_id": "missing", "answers": map[string]any{}}, http.StatusNotFound},
		{"no candidate source", map[string]any{"answers": map[string]any{"itch": "1"}}, http.StatusBadRequest},
		{"missing answers", map[string]any{"candidates": candidates}, http.StatusBadRequest},
		{"malformed answer", map[string]any{"candidates": candidates, "answers": map[string]any{"itch": "maybe"}}, http.StatusBadRequest},
		{"unknown symptom", map[string]any{"candidates": candidates, "answers": map[string]any{"fever": "1"}}, http.StatusBadRequest},
		{"unknown candidate", map[string]any{
			"candidates": []map[string]any{{"label": "Rosacea", "confidence": 0.9}},
			"answers":    map[string]any{},
		}, http.StatusBadRequest},
		{"unordered candidates", map[string]any{
			"candidates": []map[string]any{{"label": "Eczema", "confidence": 0.2}, {"label": "Acne", "confidence": 0.7}},
			"answers":    map[string]any{},
		}, http.StatusBadRequest},
	}
	for _, tt := range errorCases {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(confirmRequest(t, tt.body))
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
		})
	}

	t.Run("invalid json", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/confirm_symptoms", strings.NewReader("{"))
		req.Header.Set("Content-Type", "application/json")
		w := ts.do(req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestRateLimitedRoutes(t *testing.T) {
	ts := newTestServer(t, func(cfg *domain.Config) {
		cfg.Server.RateLimit = 0.001
		cfg.Server.RateBurst = 1
	})

	body := map[string]any{
		"candidates": []map[string]any{{"label": "Eczema", "confidence": 0.9}},
		"answers":    map[string]any{"itch": "1"},
	}
	assert.Equal(t, http.StatusOK, ts.do(confirmRequest(t, body)).Code)
	assert.Equal(t, http.StatusTooManyRequests, ts.do(confirmRequest(t, body)).Code)

	// Read-only routes are not limited.
	assert.Equal(t, http.StatusOK, ts.do(httptest.NewRequest(http.MethodGet, "/api/info", nil)).Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, StatusFor(domain.ErrCodeInvalidInput))
	assert.Equal(t, http.StatusBadRequest, StatusFor(domain.ErrCodeValidation))
	assert.Equal(t, http.StatusNotFound, StatusFor(domain.ErrCodeNotFound))
	assert.Equal(t, http.StatusTooManyRequests, StatusFor(domain.ErrCodeRateLimit))
	assert.Equal(t, http.StatusBadGateway, StatusFor(domain.ErrCodeClassification))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(domain.ErrCodeInternalServer))
}
