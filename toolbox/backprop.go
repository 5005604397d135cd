package toolbox

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Gradients holds the loss gradient for every parameter of a network.  It
// mirrors the layout of Params.
type Gradients struct {
	Weights []*mat.Dense    // Shape (layerSizes[l+1], layerSizes[l])
	Biases  []*mat.VecDense // Shape (layerSizes[l+1])
}

func (g *Gradients) check(p *Params) error {
	if len(g.Weights) != len(p.weights) || len(g.Biases) != len(p.biases) {
		return fmt.Errorf("%w: gradients cover %d/%d layers, want %d", ErrShape, len(g.Weights), len(g.Biases), len(p.weights))
	}
	for l := range p.weights {
		rows, cols := g.Weights[l].Dims()
		if rows != p.layerSizes[l+1] || cols != p.layerSizes[l] {
			return fmt.Errorf("%w: layer %d weight gradient is %dx%d, want %dx%d", ErrShape, l, rows, cols, p.layerSizes[l+1], p.layerSizes[l])
		}
		if g.Biases[l].Len() != p.layerSizes[l+1] {
			return fmt.Errorf("%w: layer %d bias gradient has length %d, want %d", ErrShape, l, g.Biases[l].Len(), p.layerSizes[l+1])
		}
	}
	return nil
}

func (t *Trace) check(p *Params) error {
	if t.Input == nil || t.Input.Len() != p.layerSizes[0] {
		return fmt.Errorf("%w: trace input does not match layer 0 width %d", ErrShape, p.layerSizes[0])
	}
	if len(t.Z) != len(p.weights) || len(t.A) != len(p.weights) {
		return fmt.Errorf("%w: trace has %d/%d layers, want %d", ErrShape, len(t.Z), len(t.A), len(p.weights))
	}
	for l := range p.weights {
		if t.Z[l] == nil || t.A[l] == nil {
			return fmt.Errorf("%w: trace layer %d is missing", ErrShape, l)
		}
		if t.Z[l].Len() != p.layerSizes[l+1] || t.A[l].Len() != p.layerSizes[l+1] {
			return fmt.Errorf("%w: trace layer %d does not match width %d", ErrShape, l, p.layerSizes[l+1])
		}
	}
	return nil
}

// Backward computes the gradient of CrossEntropy(Softmax(logits), label)
// with respect to every parameter, given the trace of a forward pass of p.
//
// The error signal of the last layer is Softmax(z) - onehot(label).  It is
// carried back through transition l+1 with
//
//	delta[l] = (W[l+1]^T · delta[l+1]) ⊙ relu'(Z[l])
//
// and each transition's gradients are dJ/dW[l] = delta[l] ⊗ a[l-1] and
// dJ/db[l] = delta[l], with a[-1] being the input.
func Backward(p *Params, t *Trace, label int) (*Gradients, error) {
	if err := t.check(p); err != nil {
		return nil, err
	}

	n := len(p.weights)
	g := &Gradients{
		Weights: make([]*mat.Dense, n),
		Biases:  make([]*mat.VecDense, n),
	}

	out, err := OutputDelta(Softmax(vecData(t.Z[n-1])), label)
	if err != nil {
		return nil, err
	}
	delta := mat.NewVecDense(len(out), out)

	for l := n - 1; l >= 0; l-- {
		in := t.Input
		if l > 0 {
			in = t.A[l-1]
		}

		djdw := mat.NewDense(p.layerSizes[l+1], p.layerSizes[l], nil)
		djdw.Outer(1, delta, in)
		g.Weights[l] = djdw
		g.Biases[l] = mat.VecDenseCopyOf(delta)

		if l == 0 {
			break
		}

		// djdx of transition l is the djda of transition l-1.
		djda := mat.NewVecDense(p.layerSizes[l], nil)
		djda.MulVec(p.weights[l].T(), delta)

		next := mat.NewVecDense(p.layerSizes[l], nil)
		next.MulElemVec(djda, mat.NewVecDense(p.layerSizes[l], reluDerivative(vecData(t.Z[l-1]))))
		delta = next
	}

	return g, nil
}
