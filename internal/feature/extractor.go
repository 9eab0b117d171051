package feature

import (
	"errors"
	"fmt"
	"math"

	"github.com/dzkmrn/urgency-detection-service/internal/audio"
)

// ErrExtraction is wrapped by all feature extraction failures.
var ErrExtraction = errors.New("feature extraction failed")

const (
	// normEpsilon guards the variance floor so all-silence input still
	// produces finite coefficients after global normalization.
	normEpsilon = 1e-10
)

// Tensor is the fixed-shape feature grid produced for one audio buffer:
// batch=1, Frames time steps, Coeffs cepstral coefficients per step.
// Data is flat and time-major: Data[t*Coeffs+c].
type Tensor struct {
	Batch  int
	Frames int
	Coeffs int
	Data   []float32
}

// At returns the coefficient at frame t, band c.
func (t *Tensor) At(frame, coeff int) float32 {
	return t.Data[frame*t.Coeffs+coeff]
}

// Shape returns the (batch, frames, coeffs) dimensions.
func (t *Tensor) Shape() (int, int, int) {
	return t.Batch, t.Frames, t.Coeffs
}

// Config controls cepstral feature extraction parameters.
type Config struct {
	SampleRate int  // expected buffer sample rate (16000)
	WindowSize int  // analysis window in samples (2048, power of 2)
	HopSize    int  // hop between windows in samples (512)
	NumCoeffs  int  // cepstral coefficients per frame (13)
	NumFrames  int  // fixed time axis length after pad/truncate (94)
	NumMels    int  // mel bins feeding the DCT (40)
	Normalize  bool // tensor-wide mean/variance normalization
}

// DefaultConfig returns the parameters the classifier was trained with.
// Normalize must stay in lockstep with the loaded model artifact: the
// shipped sigmoid-head artifact expects normalized input.
func DefaultConfig() Config {
	return Config{
		SampleRate: 16000,
		WindowSize: 2048,
		HopSize:    512,
		NumCoeffs:  13,
		NumFrames:  94,
		NumMels:    40,
		Normalize:  true,
	}
}

// Validate checks extraction parameters.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}

	if c.WindowSize <= 0 || c.WindowSize&(c.WindowSize-1) != 0 {
		return fmt.Errorf("window_size must be a positive power of 2, got %d", c.WindowSize)
	}

	if c.HopSize <= 0 || c.HopSize > c.WindowSize {
		return fmt.Errorf("hop_size must be in (0, window_size], got %d", c.HopSize)
	}

	if c.NumCoeffs <= 0 {
		return fmt.Errorf("num_coeffs must be positive, got %d", c.NumCoeffs)
	}

	if c.NumMels < c.NumCoeffs {
		return fmt.Errorf("num_mels (%d) must be at least num_coeffs (%d)", c.NumMels, c.NumCoeffs)
	}

	if c.NumFrames <= 0 {
		return fmt.Errorf("num_frames must be positive, got %d", c.NumFrames)
	}

	return nil
}

// Extractor computes cepstral coefficient tensors from audio buffers.
// It is stateless after construction and safe for concurrent use.
type Extractor struct {
	cfg     Config
	window  []float64
	melBank [][]float64
	dct     [][]float64
}

// NewExtractor creates an Extractor with precomputed window, filterbank
// and DCT tables.
func NewExtractor(cfg Config) (*Extractor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid extractor config: %w", err)
	}

	return &Extractor{
		cfg:     cfg,
		window:  hannWindow(cfg.WindowSize),
		melBank: melFilterBank(cfg.NumMels, cfg.WindowSize, cfg.SampleRate, 0, float64(cfg.SampleRate)/2),
		dct:     dctMatrix(cfg.NumCoeffs, cfg.NumMels),
	}, nil
}

// Extract converts a mono buffer into a (1, NumFrames, NumCoeffs) tensor.
// Short inputs are right-padded with zero frames, long inputs truncated to
// the first NumFrames frames. Normalization, when enabled, runs over the
// whole coefficient grid before padding, matching training.
func (e *Extractor) Extract(buf *audio.Buffer) (*Tensor, error) {
	if buf == nil || len(buf.Samples) == 0 {
		return nil, fmt.Errorf("%w: empty audio buffer", ErrExtraction)
	}

	if buf.SampleRate != e.cfg.SampleRate {
		return nil, fmt.Errorf("%w: sample rate %d does not match expected %d",
			ErrExtraction, buf.SampleRate, e.cfg.SampleRate)
	}

	frames := e.cepstra(buf.Samples)
	if len(frames) == 0 {
		return nil, fmt.Errorf("%w: input produced zero frames", ErrExtraction)
	}

	if len(frames[0]) != e.cfg.NumCoeffs {
		return nil, fmt.Errorf("%w: got %d coefficients per frame, expected %d",
			ErrExtraction, len(frames[0]), e.cfg.NumCoeffs)
	}

	if e.cfg.Normalize {
		normalize(frames)
	}

	return e.toTensor(frames), nil
}

// cepstra computes one NumCoeffs coefficient vector per analysis frame.
// Inputs shorter than a single window are zero-padded to one frame.
func (e *Extractor) cepstra(samples []float64) [][]float64 {
	cfg := e.cfg
	n := len(samples)

	numFrames := 1
	if n > cfg.WindowSize {
		numFrames = (n-cfg.WindowSize)/cfg.HopSize + 1
	}

	halfFFT := cfg.WindowSize/2 + 1
	frames := make([][]float64, numFrames)

	re := make([]float64, cfg.WindowSize)
	im := make([]float64, cfg.WindowSize)
	power := make([]float64, halfFFT)
	logMel := make([]float64, cfg.NumMels)

	for t := 0; t < numFrames; t++ {
		start := t * cfg.HopSize

		// Windowing; samples past the end of short input stay zero.
		for i := 0; i < cfg.WindowSize; i++ {
			var s float64
			if start+i < n {
				s = samples[start+i]
			}
			re[i] = s * e.window[i]
			im[i] = 0
		}

		fft(re, im)

		for i := 0; i < halfFFT; i++ {
			power[i] = re[i]*re[i] + im[i]*im[i]
		}

		// Log mel energies with floor to avoid -inf on silence.
		for m := 0; m < cfg.NumMels; m++ {
			sum := 0.0
			for k, w := range e.melBank[m] {
				sum += w * power[k]
			}
			if sum < normEpsilon {
				sum = normEpsilon
			}
			logMel[m] = math.Log(sum)
		}

		coeffs := make([]float64, cfg.NumCoeffs)
		for c := 0; c < cfg.NumCoeffs; c++ {
			sum := 0.0
			for k := 0; k < cfg.NumMels; k++ {
				sum += e.dct[c][k] * logMel[k]
			}
			coeffs[c] = sum
		}
		frames[t] = coeffs
	}

	return frames
}

// normalize applies tensor-wide mean/variance normalization in place.
func normalize(frames [][]float64) {
	total := 0
	sum := 0.0
	for _, f := range frames {
		for _, v := range f {
			sum += v
			total++
		}
	}
	if total == 0 {
		return
	}
	mean := sum / float64(total)

	varSum := 0.0
	for _, f := range frames {
		for _, v := range f {
			d := v - mean
			varSum += d * d
		}
	}
	std := math.Sqrt(varSum / float64(total))
	if std < normEpsilon {
		std = normEpsilon
	}

	for _, f := range frames {
		for i := range f {
			f[i] = (f[i] - mean) / std
		}
	}
}

// toTensor pads or truncates the time axis to NumFrames and adds the
// batch dimension.
func (e *Extractor) toTensor(frames [][]float64) *Tensor {
	cfg := e.cfg
	data := make([]float32, cfg.NumFrames*cfg.NumCoeffs)

	limit := len(frames)
	if limit > cfg.NumFrames {
		limit = cfg.NumFrames
	}

	for t := 0; t < limit; t++ {
		for c := 0; c < cfg.NumCoeffs; c++ {
			data[t*cfg.NumCoeffs+c] = float32(frames[t][c])
		}
	}

	return &Tensor{
		Batch:  1,
		Frames: cfg.NumFrames,
		Coeffs: cfg.NumCoeffs,
		Data:   data,
	}
}
