package decision

import (
	"errors"
	"testing"
)

func TestNewEngineValidation(t *testing.T) {
	tests := []struct {
		name             string
		policy           Policy
		threshold        float64
		urgentClassIndex int
		expectError      bool
	}{
		{"threshold policy", PolicyThreshold, 0.5, 0, false},
		{"argmax policy", PolicyArgmax, 0.5, 1, false},
		{"unknown policy", Policy("vote"), 0.5, 0, true},
		{"negative threshold", PolicyThreshold, -0.1, 0, true},
		{"threshold above one", PolicyThreshold, 1.1, 0, true},
		{"negative class index", PolicyArgmax, 0.5, -1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEngine(tt.policy, tt.threshold, tt.urgentClassIndex)
			if tt.expectError && err == nil {
				t.Error("Expected error")
			}
			if !tt.expectError && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}

func TestDecideThreshold(t *testing.T) {
	engine, err := NewEngine(PolicyThreshold, 0.5, 0)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	tests := []struct {
		name       string
		score      float64
		wantUrgent bool
	}{
		{"well below threshold", 0.1, false},
		{"just below threshold", 0.499999, false},
		{"exactly at threshold", 0.5, false}, // strict greater-than
		{"just above threshold", 0.500001, true},
		{"well above threshold", 0.95, true},
		{"zero", 0.0, false},
		{"one", 1.0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict, err := engine.Decide([]float64{tt.score})
			if err != nil {
				t.Fatalf("Decide failed: %v", err)
			}

			if verdict.IsUrgent != tt.wantUrgent {
				t.Errorf("Score %f: expected urgent=%v, got %v", tt.score, tt.wantUrgent, verdict.IsUrgent)
			}

			// Confidence is always the raw score under threshold policy.
			if verdict.Confidence != tt.score {
				t.Errorf("Expected confidence %f, got %f", tt.score, verdict.Confidence)
			}
		})
	}
}

func TestDecideArgmax(t *testing.T) {
	engine, err := NewEngine(PolicyArgmax, 0.5, 1)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	tests := []struct {
		name           string
		scores         []float64
		wantUrgent     bool
		wantConfidence float64
	}{
		{"urgent wins", []float64{0.2, 0.8}, true, 0.8},
		{"normal wins", []float64{0.7, 0.3}, false, 0.3},
		{"tie resolves to first class", []float64{0.5, 0.5}, false, 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict, err := engine.Decide(tt.scores)
			if err != nil {
				t.Fatalf("Decide failed: %v", err)
			}

			if verdict.IsUrgent != tt.wantUrgent {
				t.Errorf("Expected urgent=%v, got %v", tt.wantUrgent, verdict.IsUrgent)
			}
			if verdict.Confidence != tt.wantConfidence {
				t.Errorf("Expected confidence %f, got %f", tt.wantConfidence, verdict.Confidence)
			}
		})
	}
}

func TestDecideEmptyScores(t *testing.T) {
	engine, err := NewEngine(PolicyThreshold, 0.5, 0)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	_, err = engine.Decide(nil)
	if !errors.Is(err, ErrEmptyScore) {
		t.Errorf("Expected ErrEmptyScore, got %v", err)
	}
}

func TestDecideArgmaxIndexOutOfRange(t *testing.T) {
	engine, err := NewEngine(PolicyArgmax, 0.5, 5)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	_, err = engine.Decide([]float64{0.4, 0.6})
	if err == nil {
		t.Error("Expected error for out-of-range urgent class index")
	}
}
