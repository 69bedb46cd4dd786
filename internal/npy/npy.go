// Package npy dumps image batches as NumPy .npy files.
package npy

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"

	"cae-forge/internal/tensor"
)

// Write encodes b as a float64 matrix with one row per image, each row
// holding the image in H, W, C order. Reshape to (N, H, W, C) on load.
func Write(w io.Writer, b tensor.Batch) error {
	if b.N == 0 {
		return errors.New("npy: empty batch")
	}
	cols := b.ImageSize()
	if cols == 0 || len(b.Data) != b.N*cols {
		return errors.Errorf("npy: %d values do not fit %dx%dx%dx%d", len(b.Data), b.N, b.H, b.W, b.C)
	}
	raw := make([]float64, len(b.Data))
	for i, v := range b.Data {
		raw[i] = float64(v)
	}
	return errors.Wrap(npyio.Write(w, mat.NewDense(b.N, cols, raw)), "npy: write")
}

// Save writes b to path.
func Save(path string, b tensor.Batch) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "npy: create %s", path)
	}
	if err := Write(f, b); err != nil {
		f.Close()
		return err
	}
	return errors.Wrapf(f.Close(), "npy: close %s", path)
}
