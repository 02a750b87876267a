package convert

import (
	"fmt"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pdevine/tensor"

	"github.com/ctconvert/ctconvert/spec"
)

const (
	testDim         = 4
	testFFNDim      = 6
	testSourceVocab = 5
	testTargetVocab = 7
)

// sequence fills tensors with distinct values so that any misplaced element
// is visible.
type sequence struct {
	next float32
}

func (s *sequence) tensor(shape ...int) *tensor.Dense {
	n := 1
	for _, dim := range shape {
		n *= dim
	}

	data := make([]float32, n)
	for i := range data {
		s.next++
		data[i] = s.next
	}

	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data))
}

// v2Variables returns the logical variables of an object-graph checkpoint
// holding a Transformer with the given number of layers.
func v2Variables(layers int) map[string]*tensor.Dense {
	var s sequence
	m := make(map[string]*tensor.Dense)

	dense := func(scope string, in, out int) {
		m[scope+"/kernel"] = s.tensor(in, out)
		m[scope+"/bias"] = s.tensor(out)
	}

	norm := func(scope string) {
		m[scope+"/gamma"] = s.tensor(testDim)
		m[scope+"/beta"] = s.tensor(testDim)
	}

	attention := func(scope string) {
		norm(scope + "/input_layer_norm")
		for _, name := range []string{"linear_queries", "linear_keys", "linear_values", "linear_output"} {
			dense(scope+"/layer/"+name, testDim, testDim)
		}
	}

	ffn := func(scope string) {
		norm(scope + "/input_layer_norm")
		dense(scope+"/layer/inner", testDim, testFFNDim)
		dense(scope+"/layer/outer", testFFNDim, testDim)
	}

	m["model/examples_inputter/features_inputter/embedding"] = s.tensor(testSourceVocab, testDim)
	m["model/examples_inputter/labels_inputter/embedding"] = s.tensor(testTargetVocab, testDim)
	norm("model/encoder/layer_norm")
	norm("model/decoder/layer_norm")
	dense("model/decoder/output_layer", testDim, testTargetVocab)

	for i := range layers {
		attention(fmt.Sprintf("model/encoder/layers/%d/self_attention", i))
		ffn(fmt.Sprintf("model/encoder/layers/%d/ffn", i))
		attention(fmt.Sprintf("model/decoder/layers/%d/self_attention", i))
		attention(fmt.Sprintf("model/decoder/layers/%d/attention/0", i))
		ffn(fmt.Sprintf("model/decoder/layers/%d/ffn", i))
	}

	return m
}

// v1Variables lays out the weights of v2 the way an estimator checkpoint
// stores them: 1-D convolution kernels and pre-fused attention projections.
func v1Variables(v2 map[string]*tensor.Dense, layers int) map[string]*tensor.Dense {
	m := make(map[string]*tensor.Dense)

	conv := func(dst, src string) {
		m[dst+"/kernel"] = unsqueeze(v2[src+"/kernel"])
		m[dst+"/bias"] = v2[src+"/bias"]
	}

	fused := func(dst string, srcs ...string) {
		var kernels, biases []*tensor.Dense
		for _, src := range srcs {
			kernels = append(kernels, v2[src+"/kernel"])
			biases = append(biases, v2[src+"/bias"])
		}

		m[dst+"/kernel"] = unsqueeze(concatColumns(kernels...))
		m[dst+"/bias"] = concatColumns(biases...)
	}

	norm := func(dst, src string) {
		m[dst+"/gamma"] = v2[src+"/gamma"]
		m[dst+"/beta"] = v2[src+"/beta"]
	}

	ffn := func(dst, src string) {
		norm(dst+"/LayerNorm", src+"/input_layer_norm")
		conv(dst+"/conv1d", src+"/layer/inner")
		conv(dst+"/conv1d_1", src+"/layer/outer")
	}

	m["transformer/encoder/w_embs"] = v2["model/examples_inputter/features_inputter/embedding"]
	m["transformer/decoder/w_embs"] = v2["model/examples_inputter/labels_inputter/embedding"]
	norm("transformer/encoder/LayerNorm", "model/encoder/layer_norm")
	norm("transformer/decoder/LayerNorm", "model/decoder/layer_norm")
	m["transformer/decoder/dense/kernel"] = v2["model/decoder/output_layer/kernel"]
	m["transformer/decoder/dense/bias"] = v2["model/decoder/output_layer/bias"]

	for i := range layers {
		enc := fmt.Sprintf("transformer/encoder/layer_%d", i)
		src := fmt.Sprintf("model/encoder/layers/%d", i)
		norm(enc+"/multi_head/LayerNorm", src+"/self_attention/input_layer_norm")
		fused(enc+"/multi_head/conv1d",
			src+"/self_attention/layer/linear_queries",
			src+"/self_attention/layer/linear_keys",
			src+"/self_attention/layer/linear_values")
		conv(enc+"/multi_head/conv1d_1", src+"/self_attention/layer/linear_output")
		ffn(enc+"/ffn", src+"/ffn")

		dec := fmt.Sprintf("transformer/decoder/layer_%d", i)
		src = fmt.Sprintf("model/decoder/layers/%d", i)
		norm(dec+"/masked_multi_head/LayerNorm", src+"/self_attention/input_layer_norm")
		fused(dec+"/masked_multi_head/conv1d",
			src+"/self_attention/layer/linear_queries",
			src+"/self_attention/layer/linear_keys",
			src+"/self_attention/layer/linear_values")
		conv(dec+"/masked_multi_head/conv1d_1", src+"/self_attention/layer/linear_output")

		norm(dec+"/multi_head/LayerNorm", src+"/attention/0/input_layer_norm")
		conv(dec+"/multi_head/conv1d", src+"/attention/0/layer/linear_queries")
		fused(dec+"/multi_head/conv1d_1",
			src+"/attention/0/layer/linear_keys",
			src+"/attention/0/layer/linear_values")
		conv(dec+"/multi_head/conv1d_2", src+"/attention/0/layer/linear_output")
		ffn(dec+"/ffn", src+"/ffn")
	}

	return m
}

// withSuffix appends the object-graph attribute suffix to every name.
func withSuffix(m map[string]*tensor.Dense) map[string]*tensor.Dense {
	out := make(map[string]*tensor.Dense, len(m))
	for name, t := range m {
		out[name+"/.ATTRIBUTES/VARIABLE_VALUE"] = t
	}
	return out
}

func data(t *tensor.Dense) []float32 {
	return t.Data().([]float32)
}

func unsqueeze(t *tensor.Dense) *tensor.Dense {
	shape := append([]int{1}, t.Shape()...)
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(slices.Clone(data(t))))
}

// concatColumns joins matrices of shape [rows, n_i] into [rows, sum(n_i)], or
// vectors into one vector.
func concatColumns(ts ...*tensor.Dense) *tensor.Dense {
	if len(ts[0].Shape()) == 1 {
		var out []float32
		for _, t := range ts {
			out = append(out, data(t)...)
		}
		return tensor.New(tensor.WithShape(len(out)), tensor.WithBacking(out))
	}

	rows := ts[0].Shape()[0]
	var out []float32
	var cols int
	for r := range rows {
		for _, t := range ts {
			n := t.Shape()[1]
			out = append(out, data(t)[r*n:(r+1)*n]...)
		}
	}

	for _, t := range ts {
		cols += t.Shape()[1]
	}

	return tensor.New(tensor.WithShape(rows, cols), tensor.WithBacking(out))
}

// transposed returns the elements of a matrix in column-major order.
func transposed(t *tensor.Dense) []float32 {
	rows, cols := t.Shape()[0], t.Shape()[1]
	out := make([]float32, 0, rows*cols)
	for c := range cols {
		for r := range rows {
			out = append(out, data(t)[r*cols+c])
		}
	}
	return out
}

func assertSameVariables(t *testing.T, want, got spec.Model) {
	t.Helper()

	wv, gv := spec.Variables(want), spec.Variables(got)

	wantNames := sortedNames(wv)
	gotNames := sortedNames(gv)
	if diff := cmp.Diff(wantNames, gotNames); diff != "" {
		t.Fatalf("variables mismatch (-want +got):\n%s", diff)
	}

	for _, name := range wantNames {
		if diff := cmp.Diff([]int(wv[name].Shape()), []int(gv[name].Shape())); diff != "" {
			t.Errorf("%s: shape mismatch (-want +got):\n%s", name, diff)
		}

		if diff := cmp.Diff(data(wv[name]), data(gv[name])); diff != "" {
			t.Errorf("%s: data mismatch (-want +got):\n%s", name, diff)
		}
	}
}

func sortedNames(m map[string]*tensor.Dense) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
