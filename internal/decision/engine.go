package decision

import (
	"errors"
	"fmt"
)

// ErrEmptyScore is returned when the classifier produced no scores.
var ErrEmptyScore = errors.New("empty score vector")

// Policy selects how raw scores map to a verdict. Exactly one policy is
// active per deployed classifier artifact; mixing them silently produces
// wrong predictions.
type Policy string

const (
	// PolicyThreshold pairs with a single sigmoid probability:
	// urgent when score > threshold, confidence is the raw score.
	PolicyThreshold Policy = "threshold"
	// PolicyArgmax pairs with a two-class probability vector:
	// urgent when the urgent class has the highest probability,
	// confidence is the urgent class probability.
	PolicyArgmax Policy = "argmax"
)

// Verdict is the decision output for one classification.
type Verdict struct {
	IsUrgent   bool
	Confidence float64
}

// Engine applies the configured decision policy. It is a pure function
// holder: no state changes across calls.
type Engine struct {
	policy           Policy
	threshold        float64
	urgentClassIndex int
}

// NewEngine creates a decision engine for the given policy.
// urgentClassIndex is only meaningful for PolicyArgmax.
func NewEngine(policy Policy, threshold float64, urgentClassIndex int) (*Engine, error) {
	switch policy {
	case PolicyThreshold, PolicyArgmax:
	default:
		return nil, fmt.Errorf("unknown decision policy %q", policy)
	}

	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold must be between 0 and 1, got %f", threshold)
	}

	if urgentClassIndex < 0 {
		return nil, fmt.Errorf("urgent class index cannot be negative, got %d", urgentClassIndex)
	}

	return &Engine{
		policy:           policy,
		threshold:        threshold,
		urgentClassIndex: urgentClassIndex,
	}, nil
}

// Policy returns the active decision policy.
func (e *Engine) Policy() Policy {
	return e.policy
}

// Decide maps a raw score vector to an urgency verdict. The threshold
// comparison is strictly greater-than: a score exactly at the threshold
// resolves to not urgent.
func (e *Engine) Decide(scores []float64) (Verdict, error) {
	if len(scores) == 0 {
		return Verdict{}, ErrEmptyScore
	}

	switch e.policy {
	case PolicyThreshold:
		score := scores[0]
		return Verdict{
			IsUrgent:   score > e.threshold,
			Confidence: score,
		}, nil

	case PolicyArgmax:
		if e.urgentClassIndex >= len(scores) {
			return Verdict{}, fmt.Errorf("urgent class index %d out of range for %d scores",
				e.urgentClassIndex, len(scores))
		}

		best := 0
		for i, s := range scores {
			if s > scores[best] {
				best = i
			}
		}

		return Verdict{
			IsUrgent:   best == e.urgentClassIndex,
			Confidence: scores[e.urgentClassIndex],
		}, nil
	}

	return Verdict{}, fmt.Errorf("unknown decision policy %q", e.policy)
}
