package predict

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sync"

	"github.com/shopspring/decimal"
	ort "github.com/yalue/onnxruntime_go"

	"omni-trader/internal/models"
)

// The model takes [log10(price), volatility, volatility^2, 1] and returns
// [confidence, direction logit, expected move].
const (
	onnxInputs  = 4
	onnxOutputs = 3
)

var ortOnce sync.Once
var ortErr error

// InitializeORT loads the onnxruntime shared library once per process. An
// empty libPath selects the platform default.
func InitializeORT(libPath string) error {
	ortOnce.Do(func() {
		if libPath == "" {
			libPath = "/usr/lib/libonnxruntime.so"
			if runtime.GOOS == "windows" {
				libPath = "onnxruntime.dll"
			} else if runtime.GOOS == "darwin" {
				libPath = "libonnxruntime.dylib"
			}
		}
		ort.SetSharedLibraryPath(libPath)
		ortErr = ort.InitializeEnvironment()
	})
	return ortErr
}

// ONNXPredictor scores symbols with a local ONNX model. The session owns a
// single pair of tensors, so calls are serialized.
type ONNXPredictor struct {
	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

// NewONNXPredictor loads the model at modelPath.
func NewONNXPredictor(modelPath, libPath string) (*ONNXPredictor, error) {
	if err := InitializeORT(libPath); err != nil {
		return nil, fmt.Errorf("initialize onnxruntime: %w", err)
	}

	input, err := ort.NewTensor(ort.NewShape(1, onnxInputs), make([]float32, onnxInputs))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, onnxOutputs))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input"}, []string{"output"},
		[]ort.Value{input}, []ort.Value{output}, nil)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return &ONNXPredictor{session: session, input: input, output: output}, nil
}

// Predict implements Predictor.
func (p *ONNXPredictor) Predict(ctx context.Context, symbol string, price decimal.Decimal, volatility float64) (models.Prediction, error) {
	if err := ctx.Err(); err != nil {
		return models.Prediction{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	copy(p.input.GetData(), features(price, volatility))
	if err := p.session.Run(); err != nil {
		return models.Prediction{}, fmt.Errorf("inference failed for %s: %w", symbol, err)
	}
	return decodeOutput(p.output.GetData()), nil
}

// Close releases the session and tensors.
func (p *ONNXPredictor) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.session != nil {
		p.session.Destroy()
		p.session = nil
	}
	if p.input != nil {
		p.input.Destroy()
		p.input = nil
	}
	if p.output != nil {
		p.output.Destroy()
		p.output = nil
	}
	return nil
}

func features(price decimal.Decimal, volatility float64) []float32 {
	logPrice := 0.0
	if p := price.InexactFloat64(); p > 0 {
		logPrice = math.Log10(p)
	}
	return []float32{float32(logPrice), float32(volatility), float32(volatility * volatility), 1}
}

func decodeOutput(out []float32) models.Prediction {
	pred := models.Prediction{Direction: models.DirectionLong, Source: SourceONNX}
	if len(out) < onnxOutputs {
		return pred
	}
	pred.Confidence = clamp01(float64(out[0]))
	if out[1] < 0 {
		pred.Direction = models.DirectionShort
	}
	pred.ExpectedMove = float64(out[2])
	return pred
}
