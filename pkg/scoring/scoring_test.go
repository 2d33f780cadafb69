package scoring

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idemdrem-diagnosis-server/internal/domain"
)

var testLabels = []string{"Acne", "Eczema", "Psoriasis"}

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func solidImage(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestDecodeImage(t *testing.T) {
	img := solidImage(6, 4, color.RGBA{R: 200, G: 100, B: 50, A: 255})
	pngData := encodePNG(t, img)
	jpegData := encodeJPEG(t, img)

	tests := []struct {
		name        string
		data        []byte
		contentType string
		expectedCT  string
		wantErr     bool
	}{
		{name: "PNG", data: pngData, contentType: "image/png", expectedCT: ContentTypePNG},
		{name: "JPEG", data: jpegData, contentType: "image/jpeg", expectedCT: ContentTypeJPEG},
		{name: "JPG_Alias", data: jpegData, contentType: "image/jpg", expectedCT: ContentTypeJPEG},
		{name: "Sniffed_Without_Declared_Type", data: pngData, contentType: "", expectedCT: ContentTypePNG},
		{name: "Empty", data: nil, contentType: "image/png", wantErr: true},
		{name: "Unsupported_Declared_Type", data: pngData, contentType: "image/gif", wantErr: true},
		{name: "Mismatched_Type", data: pngData, contentType: "image/jpeg", wantErr: true},
		{name: "Not_An_Image", data: []byte("hello world"), contentType: "image/png", wantErr: true},
		{name: "Truncated_PNG", data: pngData[:20], contentType: "image/png", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decoded, err := DecodeImage(tt.data, tt.contentType, 0)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, domain.IsInputError(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectedCT, decoded.ContentType)
			assert.Equal(t, 6, decoded.Image.Bounds().Dx())
		})
	}
}

// pngHeader returns a PNG whose IHDR declares w x h pixels and which carries no image data.
func pngHeader(w, h uint32) []byte {
	ihdr := make([]byte, 0, 17)
	ihdr = append(ihdr, "IHDR"...)
	ihdr = binary.BigEndian.AppendUint32(ihdr, w)
	ihdr = binary.BigEndian.AppendUint32(ihdr, h)
	ihdr = append(ihdr, 8, 0, 0, 0, 0) // 8-bit grayscale, no interlace

	data := []byte("\x89PNG\r\n\x1a\n")
	data = binary.BigEndian.AppendUint32(data, 13)
	data = append(data, ihdr...)
	return binary.BigEndian.AppendUint32(data, crc32.ChecksumIEEE(ihdr))
}

func TestDecodeImage_PixelLimit(t *testing.T) {
	t.Run("Declared_Dimensions_Over_Default_Cap", func(t *testing.T) {
		_, err := DecodeImage(pngHeader(65535, 65535), "image/png", 0)
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrInvalidInput))
		assert.Contains(t, err.Error(), "image dimensions exceed limit")
	})

	blank := encodePNG(t, image.NewGray(image.Rect(0, 0, 300, 200)))

	t.Run("Blank_Image_Over_Configured_Cap", func(t *testing.T) {
		_, err := DecodeImage(blank, "image/png", 300*200-1)
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrInvalidInput))
		assert.Contains(t, err.Error(), "image dimensions exceed limit")
	})

	t.Run("Blank_Image_At_Cap", func(t *testing.T) {
		decoded, err := DecodeImage(blank, "image/png", 300*200)
		require.NoError(t, err)
		assert.Equal(t, 300, decoded.Image.Bounds().Dx())
	})

	t.Run("Corrupt_Header", func(t *testing.T) {
		data := pngHeader(10, 10)
		data[len(data)-1] ^= 0xff
		_, err := DecodeImage(data, "image/png", 0)
		assert.True(t, domain.IsInputError(err))
	})
}

func TestPreprocess(t *testing.T) {
	img := solidImage(10, 10, color.RGBA{R: 255, G: 0, B: 0, A: 255})

	t.Run("NCHW", func(t *testing.T) {
		tensor, err := Preprocess(img, 4, 2, LayoutNCHW)
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 3, 2, 4}, tensor.Shape())
		require.Len(t, tensor.Data, 24)
		// first plane is red, second green
		assert.InDelta(t, (1-0.485)/0.229, tensor.Data[0], 1e-4)
		assert.InDelta(t, (0-0.456)/0.224, tensor.Data[8], 1e-4)
	})

	t.Run("NHWC", func(t *testing.T) {
		tensor, err := Preprocess(img, 4, 2, LayoutNHWC)
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 2, 4, 3}, tensor.Shape())
		assert.InDelta(t, (1-0.485)/0.229, tensor.Data[0], 1e-4)
		assert.InDelta(t, (0-0.456)/0.224, tensor.Data[1], 1e-4)

		nested, ok := tensor.Nested().([][][]float32)
		require.True(t, ok)
		assert.Len(t, nested, 2)
		assert.Len(t, nested[0], 4)
		assert.Len(t, nested[0][0], 3)
	})

	t.Run("Default_Size", func(t *testing.T) {
		tensor, err := Preprocess(img, 0, 0, LayoutNCHW)
		require.NoError(t, err)
		assert.Equal(t, DefaultInputWidth, tensor.Width)
		assert.Equal(t, DefaultInputHeight, tensor.Height)
	})
}

func TestSoftmaxAndScoreVector(t *testing.T) {
	probs := Softmax([]float64{1, 1, 1})
	for _, p := range probs {
		assert.InDelta(t, 1.0/3, p, 1e-9)
	}
	assert.Empty(t, Softmax(nil))

	vector, err := ToScoreVector(testLabels, []float64{2, 0, -1}, true)
	require.NoError(t, err)
	assert.Greater(t, vector["Acne"], vector["Eczema"])
	assert.InDelta(t, 1.0, vector["Acne"]+vector["Eczema"]+vector["Psoriasis"], 1e-9)

	_, err = ToScoreVector(testLabels, []float64{0.5, 0.5}, false)
	assert.Error(t, err)

	_, err = ToScoreVector(testLabels, []float64{2, 0, -1}, false)
	assert.Error(t, err)
}

func newRemoteServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *RemoteScorer) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	scorer, err := NewRemoteScorer(domain.ModelConfig{
		Name:        "resnet",
		Kind:        domain.ModelKindRemote,
		Endpoint:    server.URL,
		Labels:      testLabels,
		InputWidth:  8,
		InputHeight: 8,
		RateLimit:   1000,
	}, newTestLogger())
	require.NoError(t, err)
	return server, scorer
}

func testInput() *domain.ImageInput {
	return &domain.ImageInput{ContentType: ContentTypePNG, Image: solidImage(16, 16, color.White)}
}

func TestRemoteScorer_Score(t *testing.T) {
	ctx := context.Background()

	t.Run("Successful_Prediction", func(t *testing.T) {
		_, scorer := newRemoteServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/v1/models/resnet:predict", r.URL.Path)

			var body struct {
				Instances [][][][]float32 `json:"instances"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Len(t, body.Instances, 1)
			assert.Len(t, body.Instances[0], 8)

			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"predictions": [[0.1, 0.7, 0.2]]}`))
		})

		vector, err := scorer.Score(ctx, testInput())
		require.NoError(t, err)
		assert.Equal(t, domain.ScoreVector{"Acne": 0.1, "Eczema": 0.7, "Psoriasis": 0.2}, vector)
		assert.Equal(t, "resnet", scorer.Name())
	})

	t.Run("Wrong_Shape", func(t *testing.T) {
		_, scorer := newRemoteServer(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"predictions": [[0.1, 0.9]]}`))
		})

		_, err := scorer.Score(ctx, testInput())
		require.Error(t, err)
		assert.True(t, domain.IsClassificationFailure(err))
	})

	t.Run("Server_Error", func(t *testing.T) {
		_, scorer := newRemoteServer(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "model not loaded", http.StatusServiceUnavailable)
		})

		_, err := scorer.Score(ctx, testInput())
		require.Error(t, err)
		assert.True(t, domain.IsClassificationFailure(err))
		assert.Contains(t, err.Error(), "status=503")
	})

	t.Run("Breaker_Opens_And_Fails_Fast", func(t *testing.T) {
		var calls int32
		_, scorer := newRemoteServer(t, func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusInternalServerError)
		})

		for i := 0; i < 3; i++ {
			_, err := scorer.Score(ctx, testInput())
			require.Error(t, err)
		}
		assert.Equal(t, gobreaker.StateOpen, scorer.State())

		_, err := scorer.Score(ctx, testInput())
		require.Error(t, err)
		assert.True(t, domain.IsClassificationFailure(err))
		assert.ErrorIs(t, err, gobreaker.ErrOpenState)
		assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	})
}

func TestNewRemoteScorer_Validation(t *testing.T) {
	_, err := NewRemoteScorer(domain.ModelConfig{Name: "m", Labels: testLabels}, newTestLogger())
	assert.Error(t, err)

	_, err = NewRemoteScorer(domain.ModelConfig{Name: "m", Endpoint: "http://localhost"}, newTestLogger())
	assert.Error(t, err)
}

func TestNewScorers(t *testing.T) {
	catalog, err := domain.NewSymptomCatalog(map[domain.DiseaseID][]domain.SymptomSpec{
		"Acne":      {{ID: "pimples"}},
		"Eczema":    {{ID: "itch"}},
		"Psoriasis": {{ID: "scaling"}},
	})
	require.NoError(t, err)
	logger := newTestLogger()

	t.Run("Remote_Members", func(t *testing.T) {
		scorers, closer, err := NewScorers([]domain.ModelConfig{
			{Name: "a", Kind: domain.ModelKindRemote, Endpoint: "http://localhost:8501", Labels: testLabels},
			{Name: "b", Endpoint: "http://localhost:8502", Labels: []string{"Psoriasis", "Eczema", "Acne"}},
		}, domain.ONNXConfig{}, catalog, logger)
		require.NoError(t, err)
		require.Len(t, scorers, 2)
		assert.Equal(t, "a", scorers[0].Name())
		assert.NoError(t, closer.Close())
	})

	tests := []struct {
		name   string
		models []domain.ModelConfig
	}{
		{name: "Duplicate_Name", models: []domain.ModelConfig{
			{Name: "a", Endpoint: "http://x", Labels: testLabels},
			{Name: "a", Endpoint: "http://y", Labels: testLabels},
		}},
		{name: "Missing_Label", models: []domain.ModelConfig{{Name: "a", Endpoint: "http://x", Labels: []string{"Acne", "Eczema"}}}},
		{name: "Foreign_Label", models: []domain.ModelConfig{{Name: "a", Endpoint: "http://x", Labels: []string{"Acne", "Eczema", "Rosacea"}}}},
		{name: "Duplicate_Label", models: []domain.ModelConfig{{Name: "a", Endpoint: "http://x", Labels: []string{"Acne", "Acne", "Eczema"}}}},
		{name: "Unknown_Kind", models: []domain.ModelConfig{{Name: "a", Kind: "tflite", Labels: testLabels}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := NewScorers(tt.models, domain.ONNXConfig{}, catalog, logger)
			assert.Error(t, err)
		})
	}
}

// Requires a local ONNX Runtime and a three-class model exported with NCHW input.
func TestONNXScorer_Score(t *testing.T) {
	modelPath := os.Getenv("TEST_ONNX_MODEL")
	if modelPath == "" {
		t.Skip("TEST_ONNX_MODEL not set")
	}
	require.NoError(t, InitONNXRuntime(os.Getenv("TEST_ONNX_LIBRARY")))

	scorer, err := NewONNXScorer(domain.ModelConfig{
		Name:         "local",
		Kind:         domain.ModelKindONNX,
		ONNXPath:     modelPath,
		Labels:       testLabels,
		ApplySoftmax: true,
	})
	require.NoError(t, err)
	defer scorer.Close()

	vector, err := scorer.Score(context.Background(), testInput())
	require.NoError(t, err)
	assert.Len(t, vector, len(testLabels))
}
