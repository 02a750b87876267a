package convert

import (
	"fmt"

	"github.com/pdevine/tensor"

	"github.com/ctconvert/ctconvert/checkpoint"
	"github.com/ctconvert/ctconvert/logutil"
	"github.com/ctconvert/ctconvert/spec"
)

type attentionKind int

const (
	selfAttention attentionKind = iota
	crossAttention
)

func (k attentionKind) String() string {
	if k == selfAttention {
		return "self-attention"
	}
	return "cross-attention"
}

// attentionPlan lists, for each projection of an attention node, the parts
// it is read from. A projection with several parts is fused in that order.
func attentionPlan(v checkpoint.Version, kind attentionKind) ([][]Role, error) {
	switch v {
	case checkpoint.V1:
		// projections are stored fused
		switch kind {
		case selfAttention:
			return [][]Role{{RoleQueriesKeysValues}, {RoleSelfOutput}}, nil
		case crossAttention:
			return [][]Role{{RoleQueries}, {RoleKeysValues}, {RoleCrossOutput}}, nil
		}
	case checkpoint.V2:
		switch kind {
		case selfAttention:
			return [][]Role{{RoleQueries, RoleKeys, RoleValues}, {RoleSelfOutput}}, nil
		case crossAttention:
			return [][]Role{{RoleQueries}, {RoleKeys, RoleValues}, {RoleCrossOutput}}, nil
		}
	default:
		return nil, fmt.Errorf("%w: schema %s", checkpoint.ErrUnsupportedVersion, v)
	}

	return nil, fmt.Errorf("unknown attention kind %d", kind)
}

type builder struct {
	resolver  *Resolver
	variables checkpoint.Variables

	// report is called after each module is populated.
	report func()
}

func newBuilder(v checkpoint.Version, vars checkpoint.Variables) (*builder, error) {
	r, err := NewResolver(v)
	if err != nil {
		return nil, err
	}

	return &builder{resolver: r, variables: vars}, nil
}

func (b *builder) step() {
	if b.report != nil {
		b.report()
	}
}

func (b *builder) tensor(p Path) (*tensor.Dense, error) {
	name, err := b.resolver.Resolve(p)
	if err != nil {
		return nil, err
	}

	t, ok := b.variables.Get(name)
	if !ok {
		return nil, &MissingVariableError{Path: p, Name: name}
	}

	logutil.Trace("resolved variable", "path", p, "name", name, "shape", t.Shape())
	return t, nil
}

func (b *builder) setTransformer(m *spec.Transformer) error {
	if err := b.setEncoder(m.Encoder); err != nil {
		return err
	}

	return b.setDecoder(m.Decoder)
}

func (b *builder) setEncoder(e *spec.Encoder) error {
	if err := b.setLayerNorm(e.LayerNorm, Path{Module: RoleEncoderLayerNorm}); err != nil {
		return err
	}

	if err := b.setEmbeddings(e.Embeddings, Path{Module: RoleEncoderEmbeddings}); err != nil {
		return err
	}
	b.step()

	for i, layer := range e.Layers {
		if err := b.setAttention(layer.SelfAttention, Path{Module: RoleEncoderSelfAttention, Layer: i}, selfAttention); err != nil {
			return err
		}
		b.step()

		if err := b.setFFN(layer.FFN, Path{Module: RoleEncoderFFN, Layer: i}); err != nil {
			return err
		}
		b.step()
	}

	return nil
}

func (b *builder) setDecoder(d *spec.Decoder) error {
	if err := b.setLinear(d.Projection, Path{Module: RoleDecoderProjection}); err != nil {
		return err
	}

	if err := b.setLayerNorm(d.LayerNorm, Path{Module: RoleDecoderLayerNorm}); err != nil {
		return err
	}

	if err := b.setEmbeddings(d.Embeddings, Path{Module: RoleDecoderEmbeddings}); err != nil {
		return err
	}
	b.step()

	for i, layer := range d.Layers {
		if err := b.setAttention(layer.SelfAttention, Path{Module: RoleDecoderSelfAttention, Layer: i}, selfAttention); err != nil {
			return err
		}
		b.step()

		if err := b.setAttention(layer.Attention, Path{Module: RoleDecoderAttention, Layer: i}, crossAttention); err != nil {
			return err
		}
		b.step()

		if err := b.setFFN(layer.FFN, Path{Module: RoleDecoderFFN, Layer: i}); err != nil {
			return err
		}
		b.step()
	}

	return nil
}

func (b *builder) setFFN(f *spec.FeedForward, at Path) error {
	if err := b.setLayerNorm(f.LayerNorm, at.child(RoleNorm)); err != nil {
		return err
	}

	if err := b.setLinear(f.Linear0, at.child(RoleInner)); err != nil {
		return err
	}

	return b.setLinear(f.Linear1, at.child(RoleOuter))
}

func (b *builder) setAttention(a *spec.MultiHeadAttention, at Path, kind attentionKind) error {
	if err := b.setLayerNorm(a.LayerNorm, at.child(RoleNorm)); err != nil {
		return err
	}

	plan, err := attentionPlan(b.resolver.Version(), kind)
	if err != nil {
		return err
	}

	if len(plan) != len(a.Linear) {
		return fmt.Errorf("%s at %s has %d projections, expected %d", kind, at, len(a.Linear), len(plan))
	}

	for i, roles := range plan {
		if len(roles) == 1 {
			if err := b.setLinear(a.Linear[i], at.child(roles[0])); err != nil {
				return err
			}
			continue
		}

		parts := make([]*spec.Linear, len(roles))
		for j, role := range roles {
			parts[j] = &spec.Linear{}
			if err := b.setLinear(parts[j], at.child(role)); err != nil {
				return err
			}
		}

		if err := fuseLinear(a.Linear[i], parts...); err != nil {
			return fmt.Errorf("%s: %w", at, err)
		}
	}

	return nil
}

func (b *builder) setLayerNorm(n *spec.LayerNorm, at Path) error {
	gamma, err := b.tensor(at.variable(RoleGamma))
	if err != nil {
		return err
	}

	beta, err := b.tensor(at.variable(RoleBeta))
	if err != nil {
		return err
	}

	if err := spec.Assign(&n.Gamma, gamma); err != nil {
		return fmt.Errorf("%s: %w", at, err)
	}

	if err := spec.Assign(&n.Beta, beta); err != nil {
		return fmt.Errorf("%s: %w", at, err)
	}

	return nil
}

func (b *builder) setLinear(l *spec.Linear, at Path) error {
	kernel, err := b.tensor(at.variable(RoleKernel))
	if err != nil {
		return err
	}

	bias, err := b.tensor(at.variable(RoleBias))
	if err != nil {
		return err
	}

	weight, err := normalizeKernel(kernel)
	if err != nil {
		return fmt.Errorf("%s: %w", at, err)
	}

	if err := spec.Assign(&l.Weight, weight); err != nil {
		return fmt.Errorf("%s: %w", at, err)
	}

	if err := spec.Assign(&l.Bias, bias); err != nil {
		return fmt.Errorf("%s: %w", at, err)
	}

	return nil
}

func (b *builder) setEmbeddings(e *spec.Embeddings, at Path) error {
	weight, err := b.tensor(at.variable(RoleEmbedding))
	if err != nil {
		return err
	}

	if err := spec.Assign(&e.Weight, weight); err != nil {
		return fmt.Errorf("%s: %w", at, err)
	}

	return nil
}
