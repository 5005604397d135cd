package toolbox

import (
	"fmt"
	"math"
	"math/rand"
	"slices"

	"gonum.org/v1/gonum/mat"
)

// Params holds the weights and biases of a fully connected network.
//
// Transition l maps layer l to layer l+1.  Its weight matrix has shape
// (layerSizes[l+1], layerSizes[l]): row r holds the input weights feeding
// output unit r.  Its bias vector has length layerSizes[l+1].
//
// A Params is not safe for concurrent mutation.  Read-only use (Forward,
// Predict, Classify) may run concurrently as long as no training step runs
// at the same time.
type Params struct {
	layerSizes []int

	weights []*mat.Dense    // Shape (layerSizes[l+1], layerSizes[l])
	biases  []*mat.VecDense // Shape (layerSizes[l+1])
}

func checkLayerSizes(layerSizes []int) error {
	if len(layerSizes) < 2 {
		return fmt.Errorf("%w: need at least 2 layer sizes, got %v", ErrConfig, layerSizes)
	}
	for i, s := range layerSizes {
		if s <= 0 {
			return fmt.Errorf("%w: layer %d has size %d", ErrConfig, i, s)
		}
	}
	return nil
}

// NewZeroParams makes a network with every weight and bias set to zero.
func NewZeroParams(layerSizes []int) (*Params, error) {
	if err := checkLayerSizes(layerSizes); err != nil {
		return nil, err
	}

	p := &Params{
		layerSizes: slices.Clone(layerSizes),
		weights:    make([]*mat.Dense, len(layerSizes)-1),
		biases:     make([]*mat.VecDense, len(layerSizes)-1),
	}
	for l := 0; l < len(layerSizes)-1; l++ {
		p.weights[l] = mat.NewDense(layerSizes[l+1], layerSizes[l], nil)
		p.biases[l] = mat.NewVecDense(layerSizes[l+1], nil)
	}
	return p, nil
}

// NewParams makes a network with Glorot-uniform weights and zero biases.
//
// Each weight of transition l is drawn from U(-limit, limit) with
// limit = sqrt(6 / (fanIn + fanOut)).
func NewParams(layerSizes []int, r *rand.Rand) (*Params, error) {
	p, err := NewZeroParams(layerSizes)
	if err != nil {
		return nil, err
	}

	for l := range p.weights {
		fanIn, fanOut := layerSizes[l], layerSizes[l+1]
		limit := math.Sqrt(6 / float64(fanIn+fanOut))

		w := p.weights[l].RawMatrix().Data
		for i := range w {
			w[i] = (r.Float64()*2 - 1) * limit
		}
	}

	return p, nil
}

// LayerSizes returns a copy of the layer widths, input first.
func (p *Params) LayerSizes() []int {
	return slices.Clone(p.layerSizes)
}

// NumTransitions is the number of weight layers, len(LayerSizes())-1.
func (p *Params) NumTransitions() int {
	return len(p.weights)
}

func (p *Params) checkIndex(l int) error {
	if l < 0 || l >= len(p.weights) {
		return fmt.Errorf("%w: layer %d not in [0, %d)", ErrIndex, l, len(p.weights))
	}
	return nil
}

// Weights returns a copy of the weight matrix of transition l.
func (p *Params) Weights(l int) (*mat.Dense, error) {
	if err := p.checkIndex(l); err != nil {
		return nil, err
	}
	return mat.DenseCopyOf(p.weights[l]), nil
}

// Biases returns a copy of the bias vector of transition l.
func (p *Params) Biases(l int) (*mat.VecDense, error) {
	if err := p.checkIndex(l); err != nil {
		return nil, err
	}
	return mat.VecDenseCopyOf(p.biases[l]), nil
}

// SetWeights replaces the weight matrix of transition l with a copy of w.
func (p *Params) SetWeights(l int, w mat.Matrix) error {
	if err := p.checkIndex(l); err != nil {
		return err
	}
	rows, cols := w.Dims()
	if rows != p.layerSizes[l+1] || cols != p.layerSizes[l] {
		return fmt.Errorf("%w: layer %d weights are %dx%d, want %dx%d", ErrShape, l, rows, cols, p.layerSizes[l+1], p.layerSizes[l])
	}

	next := mat.DenseCopyOf(w)
	if !allFinite(next.RawMatrix().Data) {
		return fmt.Errorf("%w: layer %d weights contain NaN or Inf", ErrNumericInstability, l)
	}
	p.weights[l] = next
	return nil
}

// SetBiases replaces the bias vector of transition l with a copy of b.
func (p *Params) SetBiases(l int, b mat.Vector) error {
	if err := p.checkIndex(l); err != nil {
		return err
	}
	if b.Len() != p.layerSizes[l+1] {
		return fmt.Errorf("%w: layer %d biases have length %d, want %d", ErrShape, l, b.Len(), p.layerSizes[l+1])
	}

	next := mat.VecDenseCopyOf(b)
	if !allFinite(next.RawVector().Data) {
		return fmt.Errorf("%w: layer %d biases contain NaN or Inf", ErrNumericInstability, l)
	}
	p.biases[l] = next
	return nil
}

// Clone returns a deep copy of p.
func (p *Params) Clone() *Params {
	out := &Params{
		layerSizes: slices.Clone(p.layerSizes),
		weights:    make([]*mat.Dense, len(p.weights)),
		biases:     make([]*mat.VecDense, len(p.biases)),
	}
	for l := range p.weights {
		out.weights[l] = mat.DenseCopyOf(p.weights[l])
		out.biases[l] = mat.VecDenseCopyOf(p.biases[l])
	}
	return out
}

// Equal reports whether p and o have the same layer sizes and bit-for-bit
// equal parameters.
func (p *Params) Equal(o *Params) bool {
	if !slices.Equal(p.layerSizes, o.layerSizes) {
		return false
	}
	for l := range p.weights {
		if !mat.Equal(p.weights[l], o.weights[l]) || !mat.Equal(p.biases[l], o.biases[l]) {
			return false
		}
	}
	return true
}

func allFinite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

// denseData returns the row-major values of m, copying only when m is a
// strided view.
func denseData(m *mat.Dense) []float64 {
	raw := m.RawMatrix()
	if raw.Stride == raw.Cols {
		return raw.Data[:raw.Rows*raw.Cols]
	}
	return mat.DenseCopyOf(m).RawMatrix().Data
}

func vecData(v *mat.VecDense) []float64 {
	raw := v.RawVector()
	if raw.Inc == 1 {
		return raw.Data[:raw.N]
	}
	return mat.VecDenseCopyOf(v).RawVector().Data
}
