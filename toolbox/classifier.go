package toolbox

import "fmt"

// Classifier maps a normalized 28x28 image, flattened row-major with values
// in [0, 1], to a digit and the model's confidence in it.
//
// Callers pick an implementation when they construct it; a model backed by
// another library only needs to satisfy this interface.
type Classifier interface {
	Classify(pixels []float64) (digit int, confidence float64, err error)
}

// MLPClassifier classifies with a Params.  It never mutates the network, so
// concurrent Classify calls are safe as long as nothing trains the same
// Params at the same time.
type MLPClassifier struct {
	params *Params
}

var _ Classifier = (*MLPClassifier)(nil)

// NewMLPClassifier wraps p without copying it.
func NewMLPClassifier(p *Params) *MLPClassifier {
	return &MLPClassifier{params: p}
}

// LoadClassifier loads a checkpoint written by Save.
func LoadClassifier(path string) (*MLPClassifier, error) {
	p, err := Load(path)
	if err != nil {
		return nil, err
	}
	return NewMLPClassifier(p), nil
}

// Params returns the wrapped network.
func (c *MLPClassifier) Params() *Params {
	return c.params
}

func (c *MLPClassifier) Classify(pixels []float64) (int, float64, error) {
	digit, confidence, err := Classify(c.params, pixels)
	if err != nil {
		return 0, 0, fmt.Errorf("while classifying: %w", err)
	}
	return digit, confidence, nil
}
