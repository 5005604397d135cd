package toolbox

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"gonum.org/v1/gonum/mat"
)

func TestNewParamsShapes(t *testing.T) {
	tests := [][]int{
		{1, 1},
		{2, 2, 2},
		{4, 4, 2},
		{784, 128, 128, 10},
		{3, 5, 7, 11, 2},
	}

	for _, layerSizes := range tests {
		r := rand.New(rand.NewSource(12345))
		p, err := NewParams(layerSizes, r)
		if err != nil {
			t.Fatalf("NewParams(%v) failed: %v", layerSizes, err)
		}

		if diff := cmp.Diff(p.LayerSizes(), layerSizes); diff != "" {
			t.Errorf("Wrong layer sizes; diff (-got +want)\n%s", diff)
		}
		if p.NumTransitions() != len(layerSizes)-1 {
			t.Errorf("NumTransitions() = %d, want %d", p.NumTransitions(), len(layerSizes)-1)
		}

		for l := 0; l < p.NumTransitions(); l++ {
			w, err := p.Weights(l)
			if err != nil {
				t.Fatalf("Weights(%d) failed: %v", l, err)
			}
			rows, cols := w.Dims()
			if rows != layerSizes[l+1] || cols != layerSizes[l] {
				t.Errorf("layer %d weights are %dx%d, want %dx%d", l, rows, cols, layerSizes[l+1], layerSizes[l])
			}

			limit := math.Sqrt(6 / float64(layerSizes[l]+layerSizes[l+1]))
			for _, v := range w.RawMatrix().Data {
				if math.Abs(v) > limit {
					t.Errorf("layer %d weight %v outside [-%v, %v]", l, v, limit, limit)
				}
			}

			b, err := p.Biases(l)
			if err != nil {
				t.Fatalf("Biases(%d) failed: %v", l, err)
			}
			if diff := cmp.Diff(b.RawVector().Data, make([]float64, layerSizes[l+1])); diff != "" {
				t.Errorf("layer %d biases should start at zero; diff (-got +want)\n%s", l, diff)
			}
		}
	}
}

func TestNewParamsRejectsBadSizes(t *testing.T) {
	tests := [][]int{
		nil,
		{784},
		{784, 0, 10},
		{784, 128, -1},
	}

	for _, layerSizes := range tests {
		_, err := NewParams(layerSizes, rand.New(rand.NewSource(1)))
		if !errors.Is(err, ErrConfig) {
			t.Errorf("NewParams(%v) error = %v, want ErrConfig", layerSizes, err)
		}
	}
}

func TestGetSetErrors(t *testing.T) {
	p, err := NewZeroParams([]int{3, 2, 1})
	if err != nil {
		t.Fatalf("NewZeroParams failed: %v", err)
	}

	if _, err := p.Weights(2); !errors.Is(err, ErrIndex) {
		t.Errorf("Weights(2) error = %v, want ErrIndex", err)
	}
	if _, err := p.Biases(-1); !errors.Is(err, ErrIndex) {
		t.Errorf("Biases(-1) error = %v, want ErrIndex", err)
	}
	if err := p.SetWeights(0, mat.NewDense(3, 2, nil)); !errors.Is(err, ErrShape) {
		t.Errorf("SetWeights with transposed shape error = %v, want ErrShape", err)
	}
	if err := p.SetBiases(1, mat.NewVecDense(2, nil)); !errors.Is(err, ErrShape) {
		t.Errorf("SetBiases with wrong length error = %v, want ErrShape", err)
	}
	if err := p.SetBiases(1, mat.NewVecDense(1, []float64{math.NaN()})); !errors.Is(err, ErrNumericInstability) {
		t.Errorf("SetBiases with NaN error = %v, want ErrNumericInstability", err)
	}
}

func TestSetWeightsCopies(t *testing.T) {
	p, err := NewZeroParams([]int{2, 2})
	if err != nil {
		t.Fatalf("NewZeroParams failed: %v", err)
	}

	w := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	if err := p.SetWeights(0, w); err != nil {
		t.Fatalf("SetWeights failed: %v", err)
	}
	w.Set(0, 0, 100)

	got, err := p.Weights(0)
	if err != nil {
		t.Fatalf("Weights failed: %v", err)
	}
	if diff := cmp.Diff(got.RawMatrix().Data, []float64{1, 2, 3, 4}); diff != "" {
		t.Errorf("Stored weights changed with the caller's matrix; diff (-got +want)\n%s", diff)
	}

	// Mutating the returned copy must not reach the store either.
	got.Set(1, 1, -7)
	again, _ := p.Weights(0)
	if again.At(1, 1) != 4 {
		t.Errorf("Weights() returned shared storage")
	}
}

func TestForwardDeterministic(t *testing.T) {
	r := rand.New(rand.NewSource(12345))
	p, err := NewParams([]int{6, 5, 4, 3}, r)
	if err != nil {
		t.Fatalf("NewParams failed: %v", err)
	}
	x := []float64{0.1, 0.9, 0.3, 0, 1, 0.5}

	t1, err := Forward(p, x)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	t2, err := Forward(p, x)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	for l := range t1.Z {
		if !mat.Equal(t1.Z[l], t2.Z[l]) || !mat.Equal(t1.A[l], t2.A[l]) {
			t.Errorf("layer %d differs between identical forward passes", l)
		}
	}
}

func TestForwardActivations(t *testing.T) {
	p, err := NewZeroParams([]int{2, 2, 2})
	if err != nil {
		t.Fatalf("NewZeroParams failed: %v", err)
	}
	mustSet(t, p, 0, []float64{1, -1, -1, 1}, []float64{0, 0})
	mustSet(t, p, 1, []float64{1, 0, 0, -1}, []float64{0, 0})

	tr, err := Forward(p, []float64{3, 1})
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	// Hidden layer is rectified, the output layer is left as raw logits.
	if diff := cmp.Diff(tr.Z[0].RawVector().Data, []float64{2, -2}); diff != "" {
		t.Errorf("Wrong hidden pre-activation; diff (-got +want)\n%s", diff)
	}
	if diff := cmp.Diff(tr.A[0].RawVector().Data, []float64{2, 0}); diff != "" {
		t.Errorf("Wrong hidden activation; diff (-got +want)\n%s", diff)
	}
	if diff := cmp.Diff(tr.Logits(), []float64{2, 0}); diff != "" {
		t.Errorf("Wrong logits; diff (-got +want)\n%s", diff)
	}

	p2, _ := NewZeroParams([]int{1, 1})
	mustSet(t, p2, 0, []float64{1}, []float64{-5})
	tr2, err := Forward(p2, []float64{1})
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	if got := tr2.Logits()[0]; got != -4 {
		t.Errorf("Negative logit should not be rectified; got %v, want -4", got)
	}
}

func TestForwardShapeError(t *testing.T) {
	p, err := NewZeroParams([]int{4, 2})
	if err != nil {
		t.Fatalf("NewZeroParams failed: %v", err)
	}

	if _, err := Forward(p, make([]float64, 3)); !errors.Is(err, ErrShape) {
		t.Errorf("Forward with short input error = %v, want ErrShape", err)
	}
	if _, err := Predict(p, make([]float64, 5)); !errors.Is(err, ErrShape) {
		t.Errorf("Predict with long input error = %v, want ErrShape", err)
	}
}

func TestForwardRejectsNonFiniteOutputs(t *testing.T) {
	// Finite weights, but 1e308*10 overflows.
	p, err := NewZeroParams([]int{2, 2})
	if err != nil {
		t.Fatalf("NewZeroParams failed: %v", err)
	}
	mustSet(t, p, 0, []float64{1e308, 1e308, -1e308, -1e308}, []float64{0, 0})

	// Here the overflow is in a hidden layer and ReLU would hide the -Inf.
	hidden, err := NewZeroParams([]int{2, 2, 2})
	if err != nil {
		t.Fatalf("NewZeroParams failed: %v", err)
	}
	mustSet(t, hidden, 0, []float64{-1e308, -1e308, 0, 0}, []float64{0, 0})

	x := []float64{10, 10}
	for name, net := range map[string]*Params{"logits": p, "hidden": hidden} {
		if _, err := Forward(net, x); !errors.Is(err, ErrNumericInstability) {
			t.Errorf("%s: Forward error = %v, want ErrNumericInstability", name, err)
		}
		if _, _, err := Classify(net, x); !errors.Is(err, ErrNumericInstability) {
			t.Errorf("%s: Classify error = %v, want ErrNumericInstability", name, err)
		}
		if _, err := Predict(net, x); !errors.Is(err, ErrNumericInstability) {
			t.Errorf("%s: Predict error = %v, want ErrNumericInstability", name, err)
		}
	}

	if _, err := Forward(p, []float64{math.NaN(), 0}); !errors.Is(err, ErrNumericInstability) {
		t.Errorf("Forward with NaN input error = %v, want ErrNumericInstability", err)
	}
}

func TestZeroStoreIsUniform(t *testing.T) {
	p, err := NewZeroParams([]int{784, 128, 128, 10})
	if err != nil {
		t.Fatalf("NewZeroParams failed: %v", err)
	}
	x := make([]float64, 784)

	tr, err := Forward(p, x)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	if diff := cmp.Diff(tr.Logits(), make([]float64, 10)); diff != "" {
		t.Errorf("Logits should all be zero; diff (-got +want)\n%s", diff)
	}

	want := []float64{0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1}
	if diff := cmp.Diff(Softmax(tr.Logits()), want, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Errorf("Softmax should be uniform; diff (-got +want)\n%s", diff)
	}

	digit, confidence, err := Classify(p, x)
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if digit != 0 {
		t.Errorf("Ties should go to the lowest index; got digit %d, want 0", digit)
	}
	if math.Abs(confidence-0.1) > 1e-12 {
		t.Errorf("Wrong confidence; got %v, want 0.1", confidence)
	}
}

func TestPredictRandomStore(t *testing.T) {
	r := rand.New(rand.NewSource(12345))
	p, err := NewParams([]int{784, 128, 128, 10}, r)
	if err != nil {
		t.Fatalf("NewParams failed: %v", err)
	}

	digit, err := Predict(p, make([]float64, 784))
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	if digit < 0 || digit > 9 {
		t.Errorf("Predict returned %d, want a digit in [0, 9]", digit)
	}
}

func TestCloneAndEqual(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	p, err := NewParams([]int{3, 4, 2}, r)
	if err != nil {
		t.Fatalf("NewParams failed: %v", err)
	}

	c := p.Clone()
	if !c.Equal(p) {
		t.Fatalf("Clone should equal the original")
	}

	mustSet(t, c, 1, []float64{1, 1, 1, 1, 1, 1, 1, 1}, []float64{0, 0})
	if c.Equal(p) {
		t.Errorf("Clone shares storage with the original")
	}
}

func mustSet(t *testing.T, p *Params, l int, w, b []float64) {
	t.Helper()
	sizes := p.LayerSizes()
	if err := p.SetWeights(l, mat.NewDense(sizes[l+1], sizes[l], w)); err != nil {
		t.Fatalf("SetWeights(%d) failed: %v", l, err)
	}
	if err := p.SetBiases(l, mat.NewVecDense(sizes[l+1], b)); err != nil {
		t.Fatalf("SetBiases(%d) failed: %v", l, err)
	}
}

func BenchmarkForward(b *testing.B) {
	r := rand.New(rand.NewSource(12345))
	p, err := NewParams([]int{784, 128, 128, 10}, r)
	if err != nil {
		b.Fatalf("NewParams failed: %v", err)
	}
	x := make([]float64, 784)
	for i := range x {
		x[i] = r.Float64()
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Forward(p, x); err != nil {
			b.Fatalf("Forward failed: %v", err)
		}
	}
}

func BenchmarkTrainStep(b *testing.B) {
	r := rand.New(rand.NewSource(12345))
	p, err := NewParams([]int{784, 128, 128, 10}, r)
	if err != nil {
		b.Fatalf("NewParams failed: %v", err)
	}
	x := make([]float64, 784)
	for i := range x {
		x[i] = r.Float64()
	}
	sgd, err := NewSGD(0.001)
	if err != nil {
		b.Fatalf("NewSGD failed: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := sgd.TrainStep(p, x, 3); err != nil {
			b.Fatalf("TrainStep failed: %v", err)
		}
	}
}
