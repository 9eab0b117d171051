package audio

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewBufferFromPCM(t *testing.T) {
	samples := []int16{0, 16384, -16384, 32767, -32768}

	buf, err := NewBufferFromPCM(samples, 16000)
	if err != nil {
		t.Fatalf("NewBufferFromPCM failed: %v", err)
	}

	if len(buf.Samples) != len(samples) {
		t.Fatalf("Expected %d samples, got %d", len(samples), len(buf.Samples))
	}

	expected := []float64{0, 0.5, -0.5, 32767.0 / 32768.0, -1.0}
	for i, want := range expected {
		if math.Abs(buf.Samples[i]-want) > 1e-9 {
			t.Errorf("Sample %d: expected %f, got %f", i, want, buf.Samples[i])
		}
	}

	if buf.SampleRate != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", buf.SampleRate)
	}
}

func TestNewBufferFromPCMEmpty(t *testing.T) {
	_, err := NewBufferFromPCM([]int16{}, 16000)
	if err == nil {
		t.Error("Expected error for empty samples")
	}
}

func TestNewBufferFromPCMInvalidSampleRate(t *testing.T) {
	_, err := NewBufferFromPCM([]int16{1, 2, 3}, 0)
	if err == nil {
		t.Error("Expected error for zero sample rate")
	}
}

func TestBufferDuration(t *testing.T) {
	samples := make([]int16, 16000) // 1 second at 16kHz
	buf, err := NewBufferFromPCM(samples, 16000)
	if err != nil {
		t.Fatalf("NewBufferFromPCM failed: %v", err)
	}

	if buf.Duration() != time.Second {
		t.Errorf("Expected duration 1s, got %v", buf.Duration())
	}
}

func TestArchiverSave(t *testing.T) {
	dir := t.TempDir()

	archiver, err := NewArchiver(dir)
	if err != nil {
		t.Fatalf("NewArchiver failed: %v", err)
	}

	path, err := archiver.Save("alice", []byte("wav-payload"))
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	expected := filepath.Join(dir, "temp_alice.wav")
	if path != expected {
		t.Errorf("Expected path %s, got %s", expected, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read archived file: %v", err)
	}
	if string(data) != "wav-payload" {
		t.Errorf("Archived content mismatch: %q", data)
	}

	// A second submission for the same user overwrites the file.
	if _, err := archiver.Save("alice", []byte("second")); err != nil {
		t.Fatalf("Second Save failed: %v", err)
	}

	data, err = os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read archived file: %v", err)
	}
	if string(data) != "second" {
		t.Errorf("Expected overwritten content, got %q", data)
	}
}

func TestNewArchiverEmptyDir(t *testing.T) {
	_, err := NewArchiver("")
	if err == nil {
		t.Error("Expected error for empty archive directory")
	}
}
