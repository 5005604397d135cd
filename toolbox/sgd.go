package toolbox

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// SGD is plain stochastic gradient descent with a fixed learning rate: no
// momentum, no adaptive scaling, one example per step.
//
//	param = param - LearningRate * gradient
type SGD struct {
	LearningRate float64

	// Scratch storage for the next parameter values.  Swapped with the
	// network's storage when a step commits.
	nextW []*mat.Dense
	nextB []*mat.VecDense

	Timings Timings
}

// NewSGD returns an optimizer with the given learning rate.
func NewSGD(learningRate float64) (*SGD, error) {
	if err := checkLearningRate(learningRate); err != nil {
		return nil, err
	}
	return &SGD{LearningRate: learningRate}, nil
}

func checkLearningRate(lr float64) error {
	if !(lr > 0) || math.IsInf(lr, 0) {
		return fmt.Errorf("%w: learning rate must be positive and finite, got %v", ErrConfig, lr)
	}
	return nil
}

func (s *SGD) prepare(p *Params) {
	if len(s.nextW) != len(p.weights) {
		s.nextW = make([]*mat.Dense, len(p.weights))
		s.nextB = make([]*mat.VecDense, len(p.biases))
	}
	for l := range p.weights {
		rows, cols := p.layerSizes[l+1], p.layerSizes[l]
		if s.nextW[l] == nil {
			s.nextW[l] = mat.NewDense(rows, cols, nil)
		} else if r, c := s.nextW[l].Dims(); r != rows || c != cols {
			s.nextW[l] = mat.NewDense(rows, cols, nil)
		}
		if s.nextB[l] == nil || s.nextB[l].Len() != rows {
			s.nextB[l] = mat.NewVecDense(rows, nil)
		}
	}
}

// Step applies g to p in place.
//
// Every updated layer is computed and checked before any of them is
// committed: if a step fails, p is left exactly as it was.
func (s *SGD) Step(p *Params, g *Gradients) error {
	start := time.Now()
	defer func() {
		s.Timings.WeightUpdate += time.Since(start)
	}()

	if err := checkLearningRate(s.LearningRate); err != nil {
		return err
	}
	if err := g.check(p); err != nil {
		return err
	}
	s.prepare(p)

	for l := range p.weights {
		nextW := denseData(s.nextW[l])
		floats.AddScaledTo(nextW, denseData(p.weights[l]), -s.LearningRate, denseData(g.Weights[l]))
		if !allFinite(nextW) {
			return fmt.Errorf("%w: layer %d weights after update", ErrNumericInstability, l)
		}

		nextB := vecData(s.nextB[l])
		floats.AddScaledTo(nextB, vecData(p.biases[l]), -s.LearningRate, vecData(g.Biases[l]))
		if !allFinite(nextB) {
			return fmt.Errorf("%w: layer %d biases after update", ErrNumericInstability, l)
		}
	}

	// Commit.  The old storage becomes scratch for the next step.
	for l := range p.weights {
		p.weights[l], s.nextW[l] = s.nextW[l], p.weights[l]
		p.biases[l], s.nextB[l] = s.nextB[l], p.biases[l]
	}

	return nil
}

// TrainStep runs one forward pass, backward pass, and update on a single
// labeled example.  It returns the loss measured before the update.
func (s *SGD) TrainStep(p *Params, x []float64, label int) (float64, error) {
	start := time.Now()
	defer func() {
		s.Timings.Overall += time.Since(start)
	}()

	forwardStart := time.Now()
	t, err := Forward(p, x)
	s.Timings.Forward += time.Since(forwardStart)
	if err != nil {
		return 0, err
	}
	logits := vecData(t.Z[len(t.Z)-1])

	lossStart := time.Now()
	loss, err := CrossEntropy(Softmax(logits), label)
	if err != nil {
		return 0, err
	}
	s.Timings.Loss += time.Since(lossStart)

	backpropStart := time.Now()
	g, err := Backward(p, t, label)
	if err != nil {
		return 0, err
	}
	s.Timings.Backpropagation += time.Since(backpropStart)

	if err := s.Step(p, g); err != nil {
		return 0, err
	}
	return loss, nil
}
