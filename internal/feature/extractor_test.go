package feature

import (
	"errors"
	"math"
	"testing"

	"github.com/dzkmrn/urgency-detection-service/internal/audio"
)

func testBuffer(t *testing.T, seconds float64) *audio.Buffer {
	t.Helper()

	sampleRate := 16000
	numSamples := int(float64(sampleRate) * seconds)
	samples := make([]int16, numSamples)
	for i := range samples {
		ts := float64(i) / float64(sampleRate)
		samples[i] = int16(12000 * math.Sin(2*math.Pi*330*ts))
	}

	buf, err := audio.NewBufferFromPCM(samples, sampleRate)
	if err != nil {
		t.Fatalf("NewBufferFromPCM failed: %v", err)
	}
	return buf
}

func TestExtractShape(t *testing.T) {
	extractor, err := NewExtractor(DefaultConfig())
	if err != nil {
		t.Fatalf("NewExtractor failed: %v", err)
	}

	// The output shape is fixed regardless of input duration.
	tests := []struct {
		name    string
		seconds float64
	}{
		{"very short input", 0.05},
		{"one second", 1.0},
		{"nominal three seconds", 3.0},
		{"long input", 10.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tensor, err := extractor.Extract(testBuffer(t, tt.seconds))
			if err != nil {
				t.Fatalf("Extract failed: %v", err)
			}

			batch, frames, coeffs := tensor.Shape()
			if batch != 1 || frames != 94 || coeffs != 13 {
				t.Errorf("Expected shape (1, 94, 13), got (%d, %d, %d)", batch, frames, coeffs)
			}

			if len(tensor.Data) != 94*13 {
				t.Errorf("Expected %d data values, got %d", 94*13, len(tensor.Data))
			}
		})
	}
}

func TestExtractShortInputPadded(t *testing.T) {
	extractor, err := NewExtractor(DefaultConfig())
	if err != nil {
		t.Fatalf("NewExtractor failed: %v", err)
	}

	// 0.05s at 16kHz is 800 samples, below one 2048-sample window. It
	// still yields exactly one real frame; the rest are zero padding.
	tensor, err := extractor.Extract(testBuffer(t, 0.05))
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	// Padding frames beyond the first must be exactly zero.
	for frame := 1; frame < 94; frame++ {
		for c := 0; c < 13; c++ {
			if tensor.At(frame, c) != 0 {
				t.Fatalf("Expected zero padding at frame %d coeff %d, got %f", frame, c, tensor.At(frame, c))
			}
		}
	}
}

func TestExtractSilenceIsFinite(t *testing.T) {
	extractor, err := NewExtractor(DefaultConfig())
	if err != nil {
		t.Fatalf("NewExtractor failed: %v", err)
	}

	samples := make([]int16, 5*16000) // 5 seconds of digital silence
	buf, err := audio.NewBufferFromPCM(samples, 16000)
	if err != nil {
		t.Fatalf("NewBufferFromPCM failed: %v", err)
	}

	tensor, err := extractor.Extract(buf)
	if err != nil {
		t.Fatalf("Extract failed on silence: %v", err)
	}

	for i, v := range tensor.Data {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			t.Fatalf("Non-finite coefficient at index %d: %f", i, f)
		}
	}
}

func TestExtractDeterministic(t *testing.T) {
	extractor, err := NewExtractor(DefaultConfig())
	if err != nil {
		t.Fatalf("NewExtractor failed: %v", err)
	}

	a, err := extractor.Extract(testBuffer(t, 2.0))
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	b, err := extractor.Extract(testBuffer(t, 2.0))
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	for i := range a.Data {
		if a.Data[i] != b.Data[i] {
			t.Fatalf("Extraction not deterministic at index %d: %f vs %f", i, a.Data[i], b.Data[i])
		}
	}
}

func TestExtractNormalization(t *testing.T) {
	cfg := DefaultConfig()
	extractor, err := NewExtractor(cfg)
	if err != nil {
		t.Fatalf("NewExtractor failed: %v", err)
	}

	// 3 seconds yields 90 real frames, so the normalized grid dominates
	// the tensor. Mean over the real frames should be near zero and the
	// coefficient magnitudes bounded.
	tensor, err := extractor.Extract(testBuffer(t, 3.0))
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	sum := 0.0
	for _, v := range tensor.Data {
		sum += float64(v)
	}
	mean := sum / float64(len(tensor.Data))

	// Zero padding pulls the grid mean toward zero but never away from it.
	if math.Abs(mean) > 0.5 {
		t.Errorf("Expected near-zero mean after normalization, got %f", mean)
	}
}

func TestExtractRejectsWrongSampleRate(t *testing.T) {
	extractor, err := NewExtractor(DefaultConfig())
	if err != nil {
		t.Fatalf("NewExtractor failed: %v", err)
	}

	buf, err := audio.NewBufferFromPCM(make([]int16, 8000), 8000)
	if err != nil {
		t.Fatalf("NewBufferFromPCM failed: %v", err)
	}

	_, err = extractor.Extract(buf)
	if err == nil {
		t.Fatal("Expected error for mismatched sample rate")
	}
	if !errors.Is(err, ErrExtraction) {
		t.Errorf("Expected error to wrap ErrExtraction, got %v", err)
	}
}

func TestExtractRejectsEmptyBuffer(t *testing.T) {
	extractor, err := NewExtractor(DefaultConfig())
	if err != nil {
		t.Fatalf("NewExtractor failed: %v", err)
	}

	_, err = extractor.Extract(&audio.Buffer{SampleRate: 16000})
	if err == nil {
		t.Fatal("Expected error for empty buffer")
	}
	if !errors.Is(err, ErrExtraction) {
		t.Errorf("Expected error to wrap ErrExtraction, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		expectError bool
	}{
		{"default config", func(c *Config) {}, false},
		{"zero sample rate", func(c *Config) { c.SampleRate = 0 }, true},
		{"non power of 2 window", func(c *Config) { c.WindowSize = 2000 }, true},
		{"hop larger than window", func(c *Config) { c.HopSize = 4096 }, true},
		{"zero coefficients", func(c *Config) { c.NumCoeffs = 0 }, true},
		{"mels below coefficients", func(c *Config) { c.NumMels = 5 }, true},
		{"zero frames", func(c *Config) { c.NumFrames = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.expectError && err == nil {
				t.Error("Expected validation error")
			}
			if !tt.expectError && err != nil {
				t.Errorf("Unexpected validation error: %v", err)
			}
		})
	}
}
