package toolbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func isJSONPath(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}

// Save writes p to path.  Paths ending in .json get the text encoding;
// everything else gets F64 safetensors.
func Save(path string, p *Params) error {
	return SaveDType(path, p, F64)
}

// SaveDType is Save with an explicit safetensors dtype.  The dtype is
// ignored for .json paths.
func SaveDType(path string, p *Params, dtype DType) error {
	if !isJSONPath(path) {
		if _, err := dtype.width(); err != nil {
			return err
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("while creating checkpoint file: %w", err)
	}

	if isJSONPath(path) {
		err = WriteJSON(f, p)
	} else {
		err = WriteSafeTensors(f, p, dtype)
	}
	if err != nil {
		f.Close()
		return fmt.Errorf("while writing checkpoint: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("while closing checkpoint file: %w", err)
	}
	return nil
}

// Load reads a network from path, choosing the encoding the same way as
// Save.  A missing file fails with an error wrapping fs.ErrNotExist.
func Load(path string) (*Params, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("while opening checkpoint file: %w", err)
	}
	defer f.Close()

	var p *Params
	if isJSONPath(path) {
		p, err = ReadJSON(f)
	} else {
		p, err = ReadSafeTensors(f)
	}
	if err != nil {
		return nil, fmt.Errorf("while reading checkpoint %s: %w", path, err)
	}
	return p, nil
}
