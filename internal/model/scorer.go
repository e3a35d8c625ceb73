package model

import (
	"errors"
	"fmt"
	"math"

	"github.com/Brownie44l1/plant-api/internal/tensor"
)

// ErrScoring is returned for output vectors that cannot be normalized.
var ErrScoring = errors.New("degenerate model output")

// Score converts raw model output into a diagnosis.
//
// The winning class is the largest signed score (first index on ties).
// Confidence is that score's magnitude divided by the sum of all magnitudes,
// not a softmax probability.
func Score(vec OutputVector) (ClassificationResult, error) {
	total, err := totalAbs(vec)
	if err != nil {
		return ClassificationResult{}, err
	}
	return score(vec, total), nil
}

// Breakdown returns Score and Percentages from a single normalization.
func Breakdown(vec OutputVector) (ClassificationResult, map[string]float64, error) {
	total, err := totalAbs(vec)
	if err != nil {
		return ClassificationResult{}, nil, err
	}
	return score(vec, total), percentages(vec, total), nil
}

func score(vec OutputVector, total float64) ClassificationResult {
	maxIdx := 0
	maxVal := vec[0]
	for i, v := range vec {
		if v > maxVal {
			maxVal = v
			maxIdx = i
		}
	}

	return ClassificationResult{
		Disease:    classes[maxIdx],
		Confidence: math.Abs(float64(maxVal)) / total,
	}
}

// Percentages returns each class's share of the total magnitude, in percent,
// keyed by label.
func Percentages(vec OutputVector) (map[string]float64, error) {
	total, err := totalAbs(vec)
	if err != nil {
		return nil, err
	}
	return percentages(vec, total), nil
}

func percentages(vec OutputVector, total float64) map[string]float64 {
	predictions := make(map[string]float64, len(vec))
	for i, v := range vec {
		predictions[classes[i]] = math.Abs(float64(v)) / total * 100
	}
	return predictions
}

func totalAbs(vec OutputVector) (float64, error) {
	if len(vec) != NumClasses {
		return 0, fmt.Errorf("%w: output has %d scores, want %d", tensor.ErrShape, len(vec), NumClasses)
	}

	var total float64
	for _, v := range vec {
		total += math.Abs(float64(v))
	}
	if total == 0 {
		return 0, fmt.Errorf("%w: all scores are zero", ErrScoring)
	}
	if math.IsNaN(total) || math.IsInf(total, 0) {
		return 0, fmt.Errorf("%w: scores are not finite", ErrScoring)
	}
	return total, nil
}
