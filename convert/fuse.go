package convert

import (
	"errors"
	"fmt"

	"github.com/pdevine/tensor"

	"github.com/ctconvert/ctconvert/spec"
)

// fuseLinear concatenates the weights and biases of parts along the output
// dimension, in order, and assigns the result to dst.
func fuseLinear(dst *spec.Linear, parts ...*spec.Linear) error {
	if len(parts) < 2 {
		return fmt.Errorf("fusing requires at least 2 projections, got %d", len(parts))
	}

	weights := make([]*tensor.Dense, len(parts))
	biases := make([]*tensor.Dense, len(parts))
	for i, part := range parts {
		if part.Weight == nil || part.Bias == nil {
			return errors.New("cannot fuse an unpopulated projection")
		}

		weights[i], biases[i] = part.Weight, part.Bias
	}

	weight, err := weights[0].Concat(0, weights[1:]...)
	if err != nil {
		return fmt.Errorf("fusing weights: %w", err)
	}

	bias, err := biases[0].Concat(0, biases[1:]...)
	if err != nil {
		return fmt.Errorf("fusing biases: %w", err)
	}

	if err := spec.Assign(&dst.Weight, weight); err != nil {
		return err
	}

	return spec.Assign(&dst.Bias, bias)
}
