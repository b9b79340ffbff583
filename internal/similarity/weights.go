package similarity

import (
	"errors"
	"fmt"
	"math"
)

var ErrInvalidWeights = errors.New("invalid blend weights")

// Weights blend cosine and euclidean distance into a single score.
type Weights struct {
	Cosine    float64
	Euclidean float64
}

var (
	// MatchWeights score duplicate-closing searches.
	MatchWeights = Weights{Cosine: 0.8, Euclidean: 0.2}
	// AnnotateWeights score annotation and general searches.
	AnnotateWeights = Weights{Cosine: 0.7, Euclidean: 0.3}
)

// Validate requires non-negative weights summing to one.
func (w Weights) Validate() error {
	if w.Cosine < 0 || w.Euclidean < 0 {
		return fmt.Errorf("%w: negative weight %+v", ErrInvalidWeights, w)
	}
	if math.Abs(w.Cosine+w.Euclidean-1) > 1e-6 {
		return fmt.Errorf("%w: weights must sum to 1, got %+v", ErrInvalidWeights, w)
	}
	return nil
}

// Score combines a cosine distance and an L2 distance.
func (w Weights) Score(cosineDistance, l2Distance float64) float64 {
	return w.Cosine*(1-cosineDistance) + w.Euclidean*(1/(1+l2Distance))
}
