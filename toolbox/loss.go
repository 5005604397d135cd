package toolbox

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Probabilities are clamped to [eps, 1-eps] before taking the log so the
// loss stays finite on a saturated prediction.
const crossEntropyEpsilon = 1e-12

// Softmax converts logits into a probability distribution.
//
// For stability, use the identity softmax(v) = softmax(v - c) and subtract
// the maximum logit before exponentiating.
//
// https://stackoverflow.com/questions/42599498/numerically-stable-softmax
func Softmax(logits []float64) []float64 {
	out := make([]float64, len(logits))
	if len(logits) == 0 {
		return out
	}

	maxLogit := floats.Max(logits)
	for i, z := range logits {
		out[i] = math.Exp(z - maxLogit)
	}
	// The max entry contributes exp(0) = 1, so the sum is never zero.
	floats.Scale(1/floats.Sum(out), out)
	return out
}

func checkLabel(probs []float64, label int) error {
	if label < 0 || label >= len(probs) {
		return fmt.Errorf("%w: label %d not in [0, %d)", ErrIndex, label, len(probs))
	}
	return nil
}

// CrossEntropy is the negative log-likelihood of label under probs.
func CrossEntropy(probs []float64, label int) (float64, error) {
	if err := checkLabel(probs, label); err != nil {
		return 0, err
	}

	p := probs[label]
	if p < crossEntropyEpsilon {
		p = crossEntropyEpsilon
	}
	if p > 1-crossEntropyEpsilon {
		p = 1 - crossEntropyEpsilon
	}
	return -math.Log(p), nil
}

// OutputDelta is the gradient of CrossEntropy(Softmax(z), label) with
// respect to the logits z, given probs = Softmax(z).  It is
// probs - onehot(label).
//
// ref https://eli.thegreenplace.net/2016/the-softmax-function-and-its-derivative/
func OutputDelta(probs []float64, label int) ([]float64, error) {
	if err := checkLabel(probs, label); err != nil {
		return nil, err
	}

	delta := make([]float64, len(probs))
	copy(delta, probs)
	delta[label] -= 1
	return delta, nil
}
