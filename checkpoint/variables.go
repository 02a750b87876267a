package checkpoint

import (
	"fmt"
	"maps"
	"slices"

	"github.com/pdevine/tensor"
)

// Variables maps fully qualified variable names to tensors. It is not
// modified after construction.
type Variables struct {
	m map[string]*tensor.Dense
}

func NewVariables(m map[string]*tensor.Dense) Variables {
	return Variables{m: maps.Clone(m)}
}

func (v Variables) Get(name string) (*tensor.Dense, bool) {
	t, ok := v.m[name]
	return t, ok
}

func (v Variables) Len() int {
	return len(v.m)
}

// Names returns the variable names in lexical order.
func (v Variables) Names() []string {
	names := make([]string, 0, len(v.m))
	for name := range v.m {
		names = append(names, name)
	}

	slices.Sort(names)
	return names
}

func (v Variables) Shapes() map[string][]int {
	shapes := make(map[string][]int, len(v.m))
	for name, t := range v.m {
		shapes[name] = slices.Clone([]int(t.Shape()))
	}
	return shapes
}

// Rename returns a new store with every name passed through fn. Two names
// mapping to the same result is an error.
func (v Variables) Rename(fn func(string) string) (Variables, error) {
	m := make(map[string]*tensor.Dense, len(v.m))
	for _, name := range v.Names() {
		renamed := fn(name)
		if _, ok := m[renamed]; ok {
			return Variables{}, fmt.Errorf("duplicate variable name '%s' after renaming '%s'", renamed, name)
		}

		m[renamed] = v.m[name]
	}

	return Variables{m: m}, nil
}
