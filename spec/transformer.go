package spec

import (
	"fmt"
	"strings"

	"github.com/pdevine/tensor"
)

// Preset is a Transformer size. Presets share one tree shape; the width is
// implied by the tensors that populate it.
type Preset int

const (
	Custom Preset = iota
	Base
	Big
)

func (p Preset) String() string {
	switch p {
	case Base:
		return "TransformerBase"
	case Big:
		return "TransformerBig"
	default:
		return "Transformer"
	}
}

// Transformer is a sequence-to-sequence encoder/decoder model.
type Transformer struct {
	Preset  Preset
	Heads   int
	Encoder *Encoder
	Decoder *Decoder
}

var _ Model = (*Transformer)(nil)

// NewTransformer returns an empty tree with the given number of encoder and
// decoder layers.
func NewTransformer(layers, heads int) *Transformer {
	enc := &Encoder{
		Embeddings: &Embeddings{},
		LayerNorm:  &LayerNorm{},
		Layers:     make([]*EncoderLayer, layers),
	}
	for i := range enc.Layers {
		enc.Layers[i] = &EncoderLayer{
			SelfAttention: newMultiHeadAttention(true),
			FFN:           newFeedForward(),
		}
	}

	dec := &Decoder{
		Embeddings: &Embeddings{},
		LayerNorm:  &LayerNorm{},
		Projection: &Linear{},
		Layers:     make([]*DecoderLayer, layers),
	}
	for i := range dec.Layers {
		dec.Layers[i] = &DecoderLayer{
			SelfAttention: newMultiHeadAttention(true),
			Attention:     newMultiHeadAttention(false),
			FFN:           newFeedForward(),
		}
	}

	return &Transformer{Heads: heads, Encoder: enc, Decoder: dec}
}

func TransformerBase() *Transformer {
	t := NewTransformer(6, 8)
	t.Preset = Base
	return t
}

func TransformerBig() *Transformer {
	t := NewTransformer(6, 16)
	t.Preset = Big
	return t
}

// Skeleton returns an empty tree with the same shape as t.
func (t *Transformer) Skeleton() *Transformer {
	s := NewTransformer(len(t.Encoder.Layers), t.Heads)
	s.Preset = t.Preset
	return s
}

func (t *Transformer) Name() string {
	return t.Preset.String()
}

func (t *Transformer) Visit(fn func(name string, t *tensor.Dense)) {
	t.Encoder.visit("encoder", fn)
	t.Decoder.visit("decoder", fn)
}

// PresetByName returns an empty tree for a preset name such as
// "TransformerBase". Names are case insensitive.
func PresetByName(name string) (*Transformer, error) {
	switch strings.ToLower(name) {
	case strings.ToLower(Base.String()):
		return TransformerBase(), nil
	case strings.ToLower(Big.String()):
		return TransformerBig(), nil
	default:
		return nil, fmt.Errorf("unknown model %q", name)
	}
}

// PresetNames lists the names accepted by PresetByName.
func PresetNames() []string {
	return []string{Base.String(), Big.String()}
}
