package model

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/dzkmrn/urgency-detection-service/internal/feature"
)

// ErrShapeMismatch is returned when an input tensor does not match the
// shape the classifier was trained on. No silent reshaping is attempted.
var ErrShapeMismatch = errors.New("tensor shape mismatch")

// Classifier runs the frozen urgency model. The forward pass reuses
// scratch buffers across calls, so inference is serialized with a mutex;
// callers may invoke Infer concurrently.
type Classifier struct {
	path string
	art  *Artifact

	mu sync.Mutex

	// Scratch state reused across forward passes.
	hidden []float64
	cell   []float64
	gateI  []float64
	gateF  []float64
	gateG  []float64
	gateO  []float64

	// Statistics
	inferences    uint64
	lastInference time.Time
}

// Stats reports classifier usage for monitoring endpoints.
type Stats struct {
	ArtifactPath  string    `json:"artifact_path"`
	Head          Head      `json:"head"`
	HiddenSize    int       `json:"hidden_size"`
	Inferences    uint64    `json:"inferences"`
	LastInference time.Time `json:"last_inference"`
}

// Load reads and validates the classifier artifact. Load failure is fatal
// to the service: there is no partial operation without a classifier.
func Load(path string) (*Classifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model artifact %s: %w", path, err)
	}

	var art Artifact
	if err := msgpack.Unmarshal(data, &art); err != nil {
		return nil, fmt.Errorf("failed to decode model artifact %s: %w", path, err)
	}

	if err := art.Validate(); err != nil {
		return nil, fmt.Errorf("invalid model artifact %s: %w", path, err)
	}

	h := art.HiddenSize
	return &Classifier{
		path:   path,
		art:    &art,
		hidden: make([]float64, h),
		cell:   make([]float64, h),
		gateI:  make([]float64, h),
		gateF:  make([]float64, h),
		gateG:  make([]float64, h),
		gateO:  make([]float64, h),
	}, nil
}

// Head returns the output layer variant of the loaded artifact.
func (c *Classifier) Head() Head {
	return c.art.Head
}

// InputShape returns the (frames, coeffs) shape the artifact expects.
func (c *Classifier) InputShape() (int, int) {
	return c.art.InputFrames, c.art.InputCoeffs
}

// Infer runs the forward pass and returns the raw score vector: one
// sigmoid probability for HeadSigmoid, a [normal, urgent] pair for
// HeadSoftmax. Deterministic for identical input and weights.
func (c *Classifier) Infer(t *feature.Tensor) ([]float64, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: nil tensor", ErrShapeMismatch)
	}

	batch, frames, coeffs := t.Shape()
	if batch != 1 || frames != c.art.InputFrames || coeffs != c.art.InputCoeffs {
		return nil, fmt.Errorf("%w: got (%d, %d, %d), expected (1, %d, %d)",
			ErrShapeMismatch, batch, frames, coeffs, c.art.InputFrames, c.art.InputCoeffs)
	}

	if len(t.Data) != frames*coeffs {
		return nil, fmt.Errorf("%w: tensor data has %d values, expected %d",
			ErrShapeMismatch, len(t.Data), frames*coeffs)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	scores := c.forward(t)

	c.inferences++
	c.lastInference = time.Now()

	return scores, nil
}

// forward runs the LSTM over all frames and applies the dense head.
// Caller must hold c.mu.
func (c *Classifier) forward(t *feature.Tensor) []float64 {
	a := c.art
	h := a.HiddenSize

	for i := 0; i < h; i++ {
		c.hidden[i] = 0
		c.cell[i] = 0
	}

	for frame := 0; frame < a.InputFrames; frame++ {
		row := t.Data[frame*a.InputCoeffs : (frame+1)*a.InputCoeffs]

		for i := 0; i < h; i++ {
			zi := a.BI[i]
			zf := a.BF[i]
			zg := a.BG[i]
			zo := a.BO[i]

			for j, x := range row {
				v := float64(x)
				zi += a.WI[i][j] * v
				zf += a.WF[i][j] * v
				zg += a.WG[i][j] * v
				zo += a.WO[i][j] * v
			}

			for j := 0; j < h; j++ {
				p := c.hidden[j]
				zi += a.UI[i][j] * p
				zf += a.UF[i][j] * p
				zg += a.UG[i][j] * p
				zo += a.UO[i][j] * p
			}

			c.gateI[i] = sigmoid(zi)
			c.gateF[i] = sigmoid(zf)
			c.gateG[i] = math.Tanh(zg)
			c.gateO[i] = sigmoid(zo)
		}

		for i := 0; i < h; i++ {
			c.cell[i] = c.gateF[i]*c.cell[i] + c.gateI[i]*c.gateG[i]
			c.hidden[i] = c.gateO[i] * math.Tanh(c.cell[i])
		}
	}

	outputs := a.NumOutputs()
	logits := make([]float64, outputs)
	for o := 0; o < outputs; o++ {
		z := a.DenseB[o]
		for j := 0; j < h; j++ {
			z += a.DenseW[o][j] * c.hidden[j]
		}
		logits[o] = z
	}

	if a.Head == HeadSoftmax {
		return softmax(logits)
	}

	logits[0] = sigmoid(logits[0])
	return logits
}

// GetStats returns current classifier statistics.
func (c *Classifier) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		ArtifactPath:  c.path,
		Head:          c.art.Head,
		HiddenSize:    c.art.HiddenSize,
		Inferences:    c.inferences,
		LastInference: c.lastInference,
	}
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

func softmax(logits []float64) []float64 {
	max := logits[0]
	for _, v := range logits[1:] {
		if v > max {
			max = v
		}
	}

	sum := 0.0
	out := make([]float64, len(logits))
	for i, v := range logits {
		out[i] = math.Exp(v - max)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
