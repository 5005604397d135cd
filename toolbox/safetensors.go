package toolbox

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"slices"

	"github.com/chewxy/math32"
)

// DType is the element type used for tensors in a safetensors file.
type DType string

const (
	// F64 stores parameters exactly.
	F64 DType = "F64"

	// F32 halves the file size at the cost of rounding every parameter.
	F32 DType = "F32"
)

func (d DType) width() (int, error) {
	switch d {
	case F64:
		return 8, nil
	case F32:
		return 4, nil
	default:
		return 0, fmt.Errorf("unsupported dtype %q", string(d))
	}
}

const metadataKey = "__metadata__"

type SafeTensorInfo struct {
	DType       DType `json:"dtype"`
	Shape       []int `json:"shape"`
	DataOffsets []int `json:"data_offsets"`
}

func weightsKey(l int) string {
	return fmt.Sprintf("net.%d.weights", l)
}

func biasesKey(l int) string {
	return fmt.Sprintf("net.%d.biases", l)
}

// WriteSafeTensors writes p in the safetensors format: a little-endian
// uint64 header length, a JSON header, then the raw tensor bytes.
//
// Transition l is stored as net.<l>.weights with shape (rows, cols) and
// net.<l>.biases with shape (rows).  The layer sizes go in the header
// metadata.
func WriteSafeTensors(w io.Writer, p *Params, dtype DType) error {
	width, err := dtype.width()
	if err != nil {
		return err
	}

	layerSizes, err := json.Marshal(p.layerSizes)
	if err != nil {
		return fmt.Errorf("while marshaling layer sizes: %w", err)
	}

	tensors := map[string][]float64{}
	header := map[string]any{
		metadataKey: map[string]string{
			"layer_sizes": string(layerSizes),
		},
	}
	shapes := map[string][]int{}
	for l := range p.weights {
		tensors[weightsKey(l)] = denseData(p.weights[l])
		shapes[weightsKey(l)] = []int{p.layerSizes[l+1], p.layerSizes[l]}
		tensors[biasesKey(l)] = vecData(p.biases[l])
		shapes[biasesKey(l)] = []int{p.layerSizes[l+1]}
	}

	keys := []string{}
	for k := range tensors {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	dataOffset := 0
	for _, k := range keys {
		begin := dataOffset
		dataOffset += len(tensors[k]) * width
		end := dataOffset

		header[k] = SafeTensorInfo{
			DType:       dtype,
			Shape:       shapes[k],
			DataOffsets: []int{begin, end},
		}
	}

	headerBytes, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("while marshaling header: %w", err)
	}

	if err := binary.Write(w, binary.LittleEndian, uint64(len(headerBytes))); err != nil {
		return fmt.Errorf("while writing header length: %w", err)
	}

	if _, err := w.Write(headerBytes); err != nil {
		return fmt.Errorf("while writing header: %w", err)
	}

	for _, k := range keys {
		switch dtype {
		case F64:
			if err := binary.Write(w, binary.LittleEndian, tensors[k]); err != nil {
				return fmt.Errorf("while writing %s values: %w", k, err)
			}
		case F32:
			narrow := make([]float32, len(tensors[k]))
			for i, v := range tensors[k] {
				narrow[i] = float32(v)
				if math32.IsInf(narrow[i], 0) {
					return fmt.Errorf("%w: %s value %v overflows F32", ErrNumericInstability, k, v)
				}
			}
			if err := binary.Write(w, binary.LittleEndian, narrow); err != nil {
				return fmt.Errorf("while writing %s values: %w", k, err)
			}
		}
	}

	return nil
}

// ReadSafeTensors reads a network written by WriteSafeTensors.  Both F64
// and F32 tensors are accepted.
//
// Any header, shape, or value that violates the parameter invariants fails
// with ErrCorruptState.
func ReadSafeTensors(r io.Reader) (*Params, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("while reading safetensors: %w", err)
	}

	if len(raw) < 8 {
		return nil, fmt.Errorf("%w: file too short for header length", ErrCorruptState)
	}
	headerLen := binary.LittleEndian.Uint64(raw[:8])
	if headerLen > uint64(len(raw)-8) {
		return nil, fmt.Errorf("%w: header length %d exceeds file size %d", ErrCorruptState, headerLen, len(raw))
	}
	headerBytes := raw[8 : 8+headerLen]
	data := raw[8+headerLen:]

	header := map[string]json.RawMessage{}
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, fmt.Errorf("%w: while parsing header: %v", ErrCorruptState, err)
	}

	layerSizes, err := readLayerSizes(header[metadataKey])
	if err != nil {
		return nil, err
	}

	if err := checkLayerSizes(layerSizes); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}

	// Refuse to allocate more than the data section could possibly hold.
	// rows*(cols+1) may overflow int, so compare by division.
	remaining := len(data) / 4
	for l := 0; l < len(layerSizes)-1; l++ {
		rows, cols := layerSizes[l+1], layerSizes[l]
		if rows > remaining || cols > remaining || cols+1 > remaining/rows {
			return nil, fmt.Errorf("%w: layer sizes %v need more data than the file holds", ErrCorruptState, layerSizes)
		}
		remaining -= rows * (cols + 1)
	}

	p, err := NewZeroParams(layerSizes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}

	if want := 2*len(p.weights) + 1; len(header) != want {
		return nil, fmt.Errorf("%w: header has %d entries, want %d", ErrCorruptState, len(header), want)
	}

	for l := range p.weights {
		if err := readTensor(header, data, weightsKey(l), []int{layerSizes[l+1], layerSizes[l]}, denseData(p.weights[l])); err != nil {
			return nil, err
		}
		if err := readTensor(header, data, biasesKey(l), []int{layerSizes[l+1]}, vecData(p.biases[l])); err != nil {
			return nil, err
		}
	}

	return p, nil
}

func readLayerSizes(rawMetadata json.RawMessage) ([]int, error) {
	if rawMetadata == nil {
		return nil, fmt.Errorf("%w: missing %s", ErrCorruptState, metadataKey)
	}

	metadata := map[string]string{}
	if err := json.Unmarshal(rawMetadata, &metadata); err != nil {
		return nil, fmt.Errorf("%w: while parsing %s: %v", ErrCorruptState, metadataKey, err)
	}

	encoded, ok := metadata["layer_sizes"]
	if !ok {
		return nil, fmt.Errorf("%w: metadata has no layer_sizes", ErrCorruptState)
	}

	layerSizes := []int{}
	if err := json.Unmarshal([]byte(encoded), &layerSizes); err != nil {
		return nil, fmt.Errorf("%w: while parsing layer_sizes: %v", ErrCorruptState, err)
	}
	return layerSizes, nil
}

// readTensor decodes the tensor named key into dst, which has exactly the
// number of elements implied by wantShape.
func readTensor(header map[string]json.RawMessage, data []byte, key string, wantShape []int, dst []float64) error {
	rawInfo, ok := header[key]
	if !ok {
		return fmt.Errorf("%w: no entry for %s", ErrCorruptState, key)
	}

	info := SafeTensorInfo{}
	if err := json.Unmarshal(rawInfo, &info); err != nil {
		return fmt.Errorf("%w: while parsing %s: %v", ErrCorruptState, key, err)
	}

	width, err := info.DType.width()
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorruptState, key, err)
	}
	if !slices.Equal(info.Shape, wantShape) {
		return fmt.Errorf("%w: %s has shape %v, want %v", ErrCorruptState, key, info.Shape, wantShape)
	}
	if len(info.DataOffsets) != 2 {
		return fmt.Errorf("%w: %s has data offsets %v", ErrCorruptState, key, info.DataOffsets)
	}

	begin, end := info.DataOffsets[0], info.DataOffsets[1]
	if begin < 0 || end > len(data) || end-begin != len(dst)*width {
		return fmt.Errorf("%w: %s data offsets %v do not fit %d values in %d bytes", ErrCorruptState, key, info.DataOffsets, len(dst), len(data))
	}

	buf := bytes.NewReader(data[begin:end])
	switch info.DType {
	case F64:
		if err := binary.Read(buf, binary.LittleEndian, dst); err != nil {
			return fmt.Errorf("%w: while decoding %s: %v", ErrCorruptState, key, err)
		}
	case F32:
		narrow := make([]float32, len(dst))
		if err := binary.Read(buf, binary.LittleEndian, narrow); err != nil {
			return fmt.Errorf("%w: while decoding %s: %v", ErrCorruptState, key, err)
		}
		for i, v := range narrow {
			if math32.IsNaN(v) || math32.IsInf(v, 0) {
				return fmt.Errorf("%w: %s contains NaN or Inf", ErrCorruptState, key)
			}
			dst[i] = float64(v)
		}
	}

	if !allFinite(dst) {
		return fmt.Errorf("%w: %s contains NaN or Inf", ErrCorruptState, key)
	}

	return nil
}
