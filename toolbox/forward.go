package toolbox

import (
	"fmt"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Trace records everything the backward pass needs from one forward pass.
//
// Z[l] is the linear output of transition l and A[l] its activation.  The
// last transition is not activated, so A[len(A)-1] holds the same logits as
// Z[len(Z)-1].  Softmax is never folded into the trace.
type Trace struct {
	Input *mat.VecDense

	Z []*mat.VecDense
	A []*mat.VecDense
}

// Logits returns a copy of the final layer's raw output, or nil if the
// trace has no layers.
func (t *Trace) Logits() []float64 {
	if len(t.Z) == 0 || t.Z[len(t.Z)-1] == nil {
		return nil
	}
	return slices.Clone(vecData(t.Z[len(t.Z)-1]))
}

// Forward applies the network to a single input vector.
//
// x must already be normalized; Forward does not rescale it.  Every
// transition except the last applies ReLU.  A NaN or Inf in any linear
// output fails with ErrNumericInstability.
func Forward(p *Params, x []float64) (*Trace, error) {
	if len(x) != p.layerSizes[0] {
		return nil, fmt.Errorf("%w: input has length %d, want %d", ErrShape, len(x), p.layerSizes[0])
	}

	t := &Trace{
		Input: mat.NewVecDense(len(x), slices.Clone(x)),
		Z:     make([]*mat.VecDense, len(p.weights)),
		A:     make([]*mat.VecDense, len(p.weights)),
	}

	last := len(p.weights) - 1
	in := t.Input
	for l := range p.weights {
		z := mat.NewVecDense(p.layerSizes[l+1], nil)
		z.MulVec(p.weights[l], in)
		z.AddVec(z, p.biases[l])
		if !allFinite(vecData(z)) {
			return nil, fmt.Errorf("%w: layer %d output is not finite", ErrNumericInstability, l)
		}

		var a *mat.VecDense
		if l == last {
			a = mat.VecDenseCopyOf(z)
		} else {
			a = mat.NewVecDense(z.Len(), relu(vecData(z)))
		}

		t.Z[l] = z
		t.A[l] = a
		in = a
	}

	return t, nil
}

// Predict returns the most probable class for x.  Ties go to the lowest
// index.
func Predict(p *Params, x []float64) (int, error) {
	digit, _, err := Classify(p, x)
	return digit, err
}

// Classify returns the most probable class for x along with its softmax
// probability.
func Classify(p *Params, x []float64) (digit int, confidence float64, err error) {
	t, err := Forward(p, x)
	if err != nil {
		return 0, 0, err
	}

	probs := Softmax(t.Logits())
	// MaxIdx returns the first index holding the maximum.
	digit = floats.MaxIdx(probs)
	return digit, probs[digit], nil
}

func relu(z []float64) []float64 {
	out := make([]float64, len(z))
	for i, v := range z {
		if v > 0 {
			out[i] = v
		}
	}
	return out
}

// reluDerivative is 1 where z > 0 and 0 elsewhere.
func reluDerivative(z []float64) []float64 {
	out := make([]float64, len(z))
	for i, v := range z {
		if v > 0 {
			out[i] = 1
		}
	}
	return out
}
