package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Buffer holds the decoded mono waveform for a single pipeline invocation.
// Samples are normalized float64 values in [-1, 1]. A Buffer is owned
// exclusively by the invocation that created it and is discarded after
// feature extraction.
type Buffer struct {
	Samples    []float64
	SampleRate int
}

// NewBufferFromPCM converts decoded PCM-16 samples into a Buffer.
func NewBufferFromPCM(samples []int16, sampleRate int) (*Buffer, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot create buffer from empty samples")
	}

	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	normalized := make([]float64, len(samples))
	for i, s := range samples {
		normalized[i] = float64(s) / 32768.0
	}

	return &Buffer{
		Samples:    normalized,
		SampleRate: sampleRate,
	}, nil
}

// Duration returns the buffer duration.
func (b *Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	seconds := float64(len(b.Samples)) / float64(b.SampleRate)
	return time.Duration(seconds * float64(time.Second))
}

// Archiver writes submitted WAV payloads to disk so detection records can
// reference the source audio. One file per user, overwritten on each
// submission.
type Archiver struct {
	dir string
}

// NewArchiver creates the archive directory if it does not exist.
func NewArchiver(dir string) (*Archiver, error) {
	if dir == "" {
		return nil, fmt.Errorf("archive directory cannot be empty")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory %s: %w", dir, err)
	}

	return &Archiver{dir: dir}, nil
}

// Save stores the raw WAV bytes for the given user and returns the path.
func (a *Archiver) Save(userID string, wavData []byte) (string, error) {
	path := filepath.Join(a.dir, fmt.Sprintf("temp_%s.wav", userID))

	if err := os.WriteFile(path, wavData, 0o644); err != nil {
		return "", fmt.Errorf("failed to archive audio to %s: %w", path, err)
	}

	return path, nil
}
