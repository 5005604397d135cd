package toolbox

import (
	"encoding/json"
	"fmt"
	"io"

	"gonum.org/v1/gonum/mat"
)

// jsonNetwork is the human-readable encoding.  Floats are written in their
// shortest round-tripping form, so decoding reproduces every bit.
type jsonNetwork struct {
	LayerSizes []int         `json:"layer_sizes"`
	Weights    [][][]float64 `json:"weights"`
	Biases     [][]float64   `json:"biases"`
}

// WriteJSON writes p as indented JSON with the fields layer_sizes, weights
// (one row per output unit), and biases.
func WriteJSON(w io.Writer, p *Params) error {
	doc := jsonNetwork{
		LayerSizes: p.LayerSizes(),
		Weights:    make([][][]float64, len(p.weights)),
		Biases:     make([][]float64, len(p.biases)),
	}
	for l := range p.weights {
		rows, _ := p.weights[l].Dims()
		doc.Weights[l] = make([][]float64, rows)
		for i := 0; i < rows; i++ {
			doc.Weights[l][i] = mat.Row(nil, i, p.weights[l])
		}
		doc.Biases[l] = mat.Col(nil, 0, p.biases[l])
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("while encoding network: %w", err)
	}
	return nil
}

// ReadJSON reads a network written by WriteJSON.  Malformed documents and
// shape violations fail with ErrCorruptState.
func ReadJSON(r io.Reader) (*Params, error) {
	doc := jsonNetwork{}
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: while decoding network: %v", ErrCorruptState, err)
	}

	if err := checkLayerSizes(doc.LayerSizes); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	transitions := len(doc.LayerSizes) - 1
	if len(doc.Weights) != transitions || len(doc.Biases) != transitions {
		return nil, fmt.Errorf("%w: %d weight and %d bias layers for %d transitions", ErrCorruptState, len(doc.Weights), len(doc.Biases), transitions)
	}

	// Every shape is checked against the document before allocating, so
	// the allocation is bounded by the input size.
	for l := 0; l < transitions; l++ {
		rows, cols := doc.LayerSizes[l+1], doc.LayerSizes[l]
		if len(doc.Weights[l]) != rows {
			return nil, fmt.Errorf("%w: layer %d weights have %d rows, want %d", ErrCorruptState, l, len(doc.Weights[l]), rows)
		}
		for i, row := range doc.Weights[l] {
			if len(row) != cols {
				return nil, fmt.Errorf("%w: layer %d weight row %d has %d columns, want %d", ErrCorruptState, l, i, len(row), cols)
			}
		}
		if len(doc.Biases[l]) != rows {
			return nil, fmt.Errorf("%w: layer %d biases have length %d, want %d", ErrCorruptState, l, len(doc.Biases[l]), rows)
		}
	}

	p, err := NewZeroParams(doc.LayerSizes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}

	for l := 0; l < transitions; l++ {
		for i, row := range doc.Weights[l] {
			p.weights[l].SetRow(i, row)
		}
		copy(vecData(p.biases[l]), doc.Biases[l])
	}

	return p, nil
}
