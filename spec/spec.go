// Package spec describes the target model specification consumed by the
// inference engine. Nodes are plain attribute holders; a converter populates
// their leaves and a serializer writes them out.
package spec

import (
	"errors"
	"fmt"

	"github.com/pdevine/tensor"
)

var ErrAlreadyPopulated = errors.New("variable already populated")

// Model is a specification tree. Visit calls fn for every leaf, populated or
// not, in a fixed order.
type Model interface {
	Name() string
	Visit(fn func(name string, t *tensor.Dense))
}

// Assign populates a leaf. A leaf is written exactly once.
func Assign(dst **tensor.Dense, t *tensor.Dense) error {
	if t == nil {
		return errors.New("cannot assign a nil tensor")
	}

	if *dst != nil {
		return ErrAlreadyPopulated
	}

	*dst = t
	return nil
}

// Missing returns the names of the leaves that have not been populated.
func Missing(m Model) []string {
	var names []string
	m.Visit(func(name string, t *tensor.Dense) {
		if t == nil {
			names = append(names, name)
		}
	})
	return names
}

// Variables returns the populated leaves keyed by name.
func Variables(m Model) map[string]*tensor.Dense {
	vars := make(map[string]*tensor.Dense)
	m.Visit(func(name string, t *tensor.Dense) {
		if t != nil {
			vars[name] = t
		}
	})
	return vars
}

// Names returns every leaf name in visit order.
func Names(m Model) []string {
	var names []string
	m.Visit(func(name string, _ *tensor.Dense) {
		names = append(names, name)
	})
	return names
}

type visitFunc = func(name string, t *tensor.Dense)

type LayerNorm struct {
	Gamma *tensor.Dense
	Beta  *tensor.Dense
}

func (n *LayerNorm) visit(scope string, fn visitFunc) {
	fn(scope+"/gamma", n.Gamma)
	fn(scope+"/beta", n.Beta)
}

// Linear holds a weight of shape [out, in] and a bias of shape [out].
type Linear struct {
	Weight *tensor.Dense
	Bias   *tensor.Dense
}

func (l *Linear) visit(scope string, fn visitFunc) {
	fn(scope+"/weight", l.Weight)
	fn(scope+"/bias", l.Bias)
}

type Embeddings struct {
	Weight *tensor.Dense
}

func (e *Embeddings) visit(scope string, fn visitFunc) {
	fn(scope+"/weight", e.Weight)
}

// MultiHeadAttention holds its projections in engine order. Self-attention
// has a fused query/key/value projection followed by the output projection.
// Cross-attention has the query projection, a fused key/value projection and
// the output projection.
type MultiHeadAttention struct {
	LayerNorm *LayerNorm
	Linear    []*Linear
}

func newMultiHeadAttention(self bool) *MultiHeadAttention {
	n := 3
	if self {
		n = 2
	}

	linear := make([]*Linear, n)
	for i := range linear {
		linear[i] = &Linear{}
	}

	return &MultiHeadAttention{LayerNorm: &LayerNorm{}, Linear: linear}
}

func (a *MultiHeadAttention) visit(scope string, fn visitFunc) {
	a.LayerNorm.visit(scope+"/layer_norm", fn)
	for i, l := range a.Linear {
		l.visit(fmt.Sprintf("%s/linear_%d", scope, i), fn)
	}
}

type FeedForward struct {
	LayerNorm *LayerNorm
	Linear0   *Linear
	Linear1   *Linear
}

func newFeedForward() *FeedForward {
	return &FeedForward{LayerNorm: &LayerNorm{}, Linear0: &Linear{}, Linear1: &Linear{}}
}

func (f *FeedForward) visit(scope string, fn visitFunc) {
	f.LayerNorm.visit(scope+"/layer_norm", fn)
	f.Linear0.visit(scope+"/linear_0", fn)
	f.Linear1.visit(scope+"/linear_1", fn)
}

type EncoderLayer struct {
	SelfAttention *MultiHeadAttention
	FFN           *FeedForward
}

func (l *EncoderLayer) visit(scope string, fn visitFunc) {
	l.SelfAttention.visit(scope+"/self_attention", fn)
	l.FFN.visit(scope+"/ffn", fn)
}

type DecoderLayer struct {
	SelfAttention *MultiHeadAttention
	Attention     *MultiHeadAttention
	FFN           *FeedForward
}

func (l *DecoderLayer) visit(scope string, fn visitFunc) {
	l.SelfAttention.visit(scope+"/self_attention", fn)
	l.Attention.visit(scope+"/attention", fn)
	l.FFN.visit(scope+"/ffn", fn)
}

type Encoder struct {
	Embeddings *Embeddings
	LayerNorm  *LayerNorm
	Layers     []*EncoderLayer
}

func (e *Encoder) visit(scope string, fn visitFunc) {
	e.Embeddings.visit(scope+"/embeddings", fn)
	e.LayerNorm.visit(scope+"/layer_norm", fn)
	for i, l := range e.Layers {
		l.visit(fmt.Sprintf("%s/layer_%d", scope, i), fn)
	}
}

type Decoder struct {
	Embeddings *Embeddings
	LayerNorm  *LayerNorm
	Projection *Linear
	Layers     []*DecoderLayer
}

func (d *Decoder) visit(scope string, fn visitFunc) {
	d.Embeddings.visit(scope+"/embeddings", fn)
	d.LayerNorm.visit(scope+"/layer_norm", fn)
	d.Projection.visit(scope+"/projection", fn)
	for i, l := range d.Layers {
		l.visit(fmt.Sprintf("%s/layer_%d", scope, i), fn)
	}
}
