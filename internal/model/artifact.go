package model

import (
	"fmt"
	"math"
	"math/rand"
	"os"

	"github.com/vmihailenco/msgpack/v5"
)

// Head identifies the classifier output layer variant.
type Head string

const (
	// HeadSigmoid emits a single urgency probability.
	HeadSigmoid Head = "sigmoid"
	// HeadSoftmax emits a [normal, urgent] probability pair.
	HeadSoftmax Head = "softmax"
)

// artifactVersion is bumped on any incompatible weight layout change.
const artifactVersion = 1

// Artifact is the serialized form of the frozen classifier: a single-layer
// LSTM over the feature frames followed by a dense head. Gate weight rows
// are [hidden][input] for W*, [hidden][hidden] for U*.
type Artifact struct {
	Version     int    `msgpack:"version"`
	InputFrames int    `msgpack:"input_frames"`
	InputCoeffs int    `msgpack:"input_coeffs"`
	HiddenSize  int    `msgpack:"hidden_size"`
	Head        Head   `msgpack:"head"`

	WI [][]float64 `msgpack:"w_i"`
	WF [][]float64 `msgpack:"w_f"`
	WG [][]float64 `msgpack:"w_g"`
	WO [][]float64 `msgpack:"w_o"`

	UI [][]float64 `msgpack:"u_i"`
	UF [][]float64 `msgpack:"u_f"`
	UG [][]float64 `msgpack:"u_g"`
	UO [][]float64 `msgpack:"u_o"`

	BI []float64 `msgpack:"b_i"`
	BF []float64 `msgpack:"b_f"`
	BG []float64 `msgpack:"b_g"`
	BO []float64 `msgpack:"b_o"`

	DenseW [][]float64 `msgpack:"dense_w"`
	DenseB []float64   `msgpack:"dense_b"`
}

// NumOutputs returns the width of the dense head.
func (a *Artifact) NumOutputs() int {
	if a.Head == HeadSoftmax {
		return 2
	}
	return 1
}

// Validate checks the artifact dimensions for internal consistency.
func (a *Artifact) Validate() error {
	if a.Version != artifactVersion {
		return fmt.Errorf("unsupported artifact version %d, expected %d", a.Version, artifactVersion)
	}

	if a.InputFrames <= 0 || a.InputCoeffs <= 0 {
		return fmt.Errorf("invalid input shape (%d, %d)", a.InputFrames, a.InputCoeffs)
	}

	if a.HiddenSize <= 0 {
		return fmt.Errorf("hidden_size must be positive, got %d", a.HiddenSize)
	}

	if a.Head != HeadSigmoid && a.Head != HeadSoftmax {
		return fmt.Errorf("unknown head %q", a.Head)
	}

	gates := []struct {
		name string
		w    [][]float64
		u    [][]float64
		b    []float64
	}{
		{"i", a.WI, a.UI, a.BI},
		{"f", a.WF, a.UF, a.BF},
		{"g", a.WG, a.UG, a.BG},
		{"o", a.WO, a.UO, a.BO},
	}

	for _, g := range gates {
		if len(g.w) != a.HiddenSize || len(g.u) != a.HiddenSize || len(g.b) != a.HiddenSize {
			return fmt.Errorf("gate %s weight rows do not match hidden_size %d", g.name, a.HiddenSize)
		}
		for _, row := range g.w {
			if len(row) != a.InputCoeffs {
				return fmt.Errorf("gate %s input weights must have %d columns, got %d", g.name, a.InputCoeffs, len(row))
			}
		}
		for _, row := range g.u {
			if len(row) != a.HiddenSize {
				return fmt.Errorf("gate %s recurrent weights must have %d columns, got %d", g.name, a.HiddenSize, len(row))
			}
		}
	}

	outputs := a.NumOutputs()
	if len(a.DenseW) != outputs || len(a.DenseB) != outputs {
		return fmt.Errorf("dense head must have %d outputs for head %q", outputs, a.Head)
	}
	for _, row := range a.DenseW {
		if len(row) != a.HiddenSize {
			return fmt.Errorf("dense weights must have %d columns, got %d", a.HiddenSize, len(row))
		}
	}

	for _, g := range gates {
		for _, row := range g.w {
			if err := checkFinite(row); err != nil {
				return fmt.Errorf("gate %s: %w", g.name, err)
			}
		}
	}

	return nil
}

// checkFinite rejects NaN/Inf weight values.
func checkFinite(values []float64) error {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("weight value %v is not finite", v)
		}
	}
	return nil
}

// WriteFile serializes the artifact to the given path.
func (a *Artifact) WriteFile(path string) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("refusing to write invalid artifact: %w", err)
	}

	data, err := msgpack.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to encode artifact: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write artifact %s: %w", path, err)
	}

	return nil
}

// Generate builds a deterministic, seeded artifact with small random
// weights. Used by the modelgen tool and tests; real deployments load a
// trained artifact.
func Generate(seed int64, frames, coeffs, hidden int, head Head) *Artifact {
	rng := rand.New(rand.NewSource(seed))

	matrix := func(rows, cols int) [][]float64 {
		m := make([][]float64, rows)
		for i := range m {
			row := make([]float64, cols)
			for j := range row {
				row[j] = (rng.Float64() - 0.5) * 0.4
			}
			m[i] = row
		}
		return m
	}

	vector := func(n int) []float64 {
		v := make([]float64, n)
		for i := range v {
			v[i] = (rng.Float64() - 0.5) * 0.2
		}
		return v
	}

	a := &Artifact{
		Version:     artifactVersion,
		InputFrames: frames,
		InputCoeffs: coeffs,
		HiddenSize:  hidden,
		Head:        head,

		WI: matrix(hidden, coeffs),
		WF: matrix(hidden, coeffs),
		WG: matrix(hidden, coeffs),
		WO: matrix(hidden, coeffs),

		UI: matrix(hidden, hidden),
		UF: matrix(hidden, hidden),
		UG: matrix(hidden, hidden),
		UO: matrix(hidden, hidden),

		BI: vector(hidden),
		BF: vector(hidden),
		BG: vector(hidden),
		BO: vector(hidden),

		DenseB: vector(1),
		DenseW: matrix(1, hidden),
	}

	if head == HeadSoftmax {
		a.DenseW = matrix(2, hidden)
		a.DenseB = vector(2)
	}

	return a
}
