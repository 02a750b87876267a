package convert

import (
	"fmt"
	"slices"

	"github.com/pdevine/tensor"
)

// normalizeKernel converts a projection kernel from the training layout,
// [1, in, out] for 1-D convolutions or [in, out] for dense layers, to the
// engine layout [out, in]. The input is left untouched.
func normalizeKernel(t *tensor.Dense) (*tensor.Dense, error) {
	data, ok := t.Data().([]float32)
	if !ok {
		return nil, fmt.Errorf("unsupported kernel type %T", t.Data())
	}

	var dims []int
	for _, dim := range t.Shape() {
		if dim != 1 {
			dims = append(dims, dim)
		}
	}

	if len(dims) != 2 {
		return nil, fmt.Errorf("kernel of shape %v is not a matrix", t.Shape())
	}

	n := tensor.New(tensor.WithShape(dims...), tensor.WithBacking(slices.Clone(data)))
	if err := n.T(); err != nil {
		return nil, err
	}

	if err := n.Transpose(); err != nil {
		return nil, err
	}

	return n, nil
}
