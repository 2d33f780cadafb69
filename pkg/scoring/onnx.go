package scoring

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/idemdrem-diagnosis-server/internal/domain"
)

var (
	ortOnce sync.Once
	ortErr  error
)

// InitONNXRuntime loads the ONNX Runtime shared library. Only the first call has an effect.
func InitONNXRuntime(libraryPath string) error {
	ortOnce.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			ortErr = fmt.Errorf("initialize onnxruntime: %w", err)
		}
	})
	return ortErr
}

// ShutdownONNXRuntime releases the runtime environment if it was initialized.
func ShutdownONNXRuntime() error {
	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

// ONNXScorer runs an exported classifier in-process. The model takes a float32 NCHW image and
// returns one row of scores ordered like the configured labels.
type ONNXScorer struct {
	cfg     domain.ModelConfig
	session *ort.DynamicAdvancedSession
	mu      sync.Mutex
}

// NewONNXScorer loads the model file. InitONNXRuntime must have succeeded first.
func NewONNXScorer(cfg domain.ModelConfig) (*ONNXScorer, error) {
	if cfg.ONNXPath == "" {
		return nil, fmt.Errorf("model %s: onnx_path is required", cfg.Name)
	}
	if len(cfg.Labels) == 0 {
		return nil, fmt.Errorf("model %s: labels are required", cfg.Name)
	}
	if cfg.InputName == "" {
		cfg.InputName = "input"
	}
	if cfg.OutputName == "" {
		cfg.OutputName = "output"
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ONNXPath,
		[]string{cfg.InputName}, []string{cfg.OutputName}, nil)
	if err != nil {
		return nil, fmt.Errorf("model %s: create session: %w", cfg.Name, err)
	}
	return &ONNXScorer{cfg: cfg, session: session}, nil
}

// Name returns the configured model name.
func (o *ONNXScorer) Name() string {
	return o.cfg.Name
}

// Score runs one inference.
func (o *ONNXScorer) Score(ctx context.Context, img *domain.ImageInput) (domain.ScoreVector, error) {
	if img == nil {
		return nil, domain.NewInputError("image", "image is required", nil)
	}
	tensor, err := Preprocess(img.Image, o.cfg.InputWidth, o.cfg.InputHeight, LayoutNCHW)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, domain.NewClassificationError(o.cfg.Name, err)
	}

	row, err := o.run(tensor)
	if err != nil {
		return nil, domain.NewClassificationError(o.cfg.Name, err)
	}

	vector, err := ToScoreVector(o.cfg.Labels, row, o.cfg.ApplySoftmax)
	if err != nil {
		return nil, domain.NewClassificationError(o.cfg.Name, err)
	}
	return vector, nil
}

func (o *ONNXScorer) run(t *Tensor) ([]float64, error) {
	input, err := ort.NewTensor(ort.NewShape(t.Shape()...), t.Data)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	defer input.Destroy()

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(len(o.cfg.Labels))))
	if err != nil {
		return nil, fmt.Errorf("create output tensor: %w", err)
	}
	defer output.Destroy()

	o.mu.Lock()
	err = o.session.Run([]ort.Value{input}, []ort.Value{output})
	o.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("run session: %w", err)
	}

	data := output.GetData()
	row := make([]float64, len(data))
	for i, v := range data {
		row[i] = float64(v)
	}
	return row, nil
}

// Close releases the session.
func (o *ONNXScorer) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == nil {
		return nil
	}
	err := o.session.Destroy()
	o.session = nil
	return err
}
