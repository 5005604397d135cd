package main

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/ahmedtd/numscan/toolbox"
	"github.com/sbinet/npyio/npz"

	_ "golang.org/x/image/bmp"
)

// NPZDataset serves examples from an mnist.npz archive.  Pixels stay in
// their stored form and are normalized per example.
type NPZDataset struct {
	width  int
	images []uint8
	labels []uint8
}

var _ toolbox.Dataset = (*NPZDataset)(nil)

// LoadNPZDataset reads the x_<split>.npy and y_<split>.npy arrays of an
// mnist.npz archive.
func LoadNPZDataset(path, split string) (*NPZDataset, error) {
	if split != "train" && split != "test" {
		return nil, fmt.Errorf("unknown split %q", split)
	}

	r, err := npz.Open(path)
	if err != nil {
		return nil, fmt.Errorf("while opening mnist data file: %w", err)
	}
	defer r.Close()

	// It seems like even though the npy format supports specifying a Fortran
	// layout, numpy will always write C-style layouts (row-major / last index
	// stored contiguously.)

	imagesName := "x_" + split + ".npy"
	imagesHeader := r.Header(imagesName)
	if imagesHeader == nil {
		return nil, fmt.Errorf("no %s in %s", imagesName, path)
	}
	var images []uint8
	if err := r.Read(imagesName, &images); err != nil {
		return nil, fmt.Errorf("while reading %s as uint8 array: %w", imagesName, err)
	}

	labelsName := "y_" + split + ".npy"
	if r.Header(labelsName) == nil {
		return nil, fmt.Errorf("no %s in %s", labelsName, path)
	}
	var labels []uint8
	if err := r.Read(labelsName, &labels); err != nil {
		return nil, fmt.Errorf("while reading %s as uint8 array: %w", labelsName, err)
	}

	return newNPZDataset(images, imagesHeader.Descr.Shape, labels)
}

// newNPZDataset checks that images of shape (n, ...) line up with n labels.
func newNPZDataset(images []uint8, shape []int, labels []uint8) (*NPZDataset, error) {
	if len(shape) < 2 {
		return nil, fmt.Errorf("images have shape %v, want (examples, pixels...)", shape)
	}
	width := 1
	for _, s := range shape[1:] {
		width *= s
	}
	if shape[0] != len(labels) {
		return nil, fmt.Errorf("%d images but %d labels", shape[0], len(labels))
	}
	if len(images) != shape[0]*width {
		return nil, fmt.Errorf("image data has %d values, want %d", len(images), shape[0]*width)
	}

	return &NPZDataset{
		width:  width,
		images: images,
		labels: labels,
	}, nil
}

func (d *NPZDataset) Len() int {
	return len(d.labels)
}

func (d *NPZDataset) Example(i int) (int, []float64, error) {
	if i < 0 || i >= len(d.labels) {
		return 0, nil, fmt.Errorf("example %d not in [0, %d)", i, len(d.labels))
	}

	raw := d.images[i*d.width : (i+1)*d.width]
	pixels := make([]float64, d.width)
	for j, v := range raw {
		pixels[j] = float64(v) / 255
	}
	return int(d.labels[i]), pixels, nil
}

// PNGDirDataset serves images laid out as <root>/<digit>/<name>.png.  Files
// are decoded lazily, one per Example call.
type PNGDirDataset struct {
	paths  []string
	labels []int
}

var _ toolbox.Dataset = (*PNGDirDataset)(nil)

var imageExtensions = []string{".png", ".jpg", ".jpeg", ".bmp"}

// OpenPNGDirDataset lists the images under root without decoding them.
// Subdirectories that are not a single digit are ignored.
func OpenPNGDirDataset(root string) (*PNGDirDataset, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("while listing data directory: %w", err)
	}

	d := &PNGDirDataset{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		label, err := strconv.Atoi(entry.Name())
		if err != nil || label < 0 || label > 9 || len(entry.Name()) != 1 {
			continue
		}

		dir := filepath.Join(root, entry.Name())
		files, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("while listing %s: %w", dir, err)
		}
		for _, file := range files {
			if file.IsDir() || !slices.Contains(imageExtensions, strings.ToLower(filepath.Ext(file.Name()))) {
				continue
			}
			d.paths = append(d.paths, filepath.Join(dir, file.Name()))
			d.labels = append(d.labels, label)
		}
	}

	if len(d.paths) == 0 {
		return nil, fmt.Errorf("no images found under %s", root)
	}
	return d, nil
}

func (d *PNGDirDataset) Len() int {
	return len(d.paths)
}

func (d *PNGDirDataset) Example(i int) (int, []float64, error) {
	if i < 0 || i >= len(d.paths) {
		return 0, nil, fmt.Errorf("example %d not in [0, %d)", i, len(d.paths))
	}

	f, err := os.Open(d.paths[i])
	if err != nil {
		return 0, nil, fmt.Errorf("while opening image file: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return 0, nil, fmt.Errorf("while decoding %s: %w", d.paths[i], err)
	}

	return d.labels[i], imageToPixels(img), nil
}
