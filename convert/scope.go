package convert

import (
	"fmt"
	"strings"

	"github.com/ctconvert/ctconvert/checkpoint"
)

// Role names a position in the model: a module, a part relative to a module,
// or a variable.
type Role int

const (
	RoleNone Role = iota

	RoleEncoderEmbeddings
	RoleEncoderLayerNorm
	RoleEncoderSelfAttention
	RoleEncoderFFN
	RoleDecoderEmbeddings
	RoleDecoderLayerNorm
	RoleDecoderProjection
	RoleDecoderSelfAttention
	RoleDecoderAttention
	RoleDecoderFFN

	RoleNorm
	RoleInner
	RoleOuter
	RoleQueries
	RoleKeys
	RoleValues
	RoleQueriesKeysValues
	RoleKeysValues
	RoleSelfOutput
	RoleCrossOutput

	RoleKernel
	RoleBias
	RoleGamma
	RoleBeta
	RoleEmbedding
)

var roleNames = map[Role]string{
	RoleEncoderEmbeddings:    "encoder/embeddings",
	RoleEncoderLayerNorm:     "encoder/layer_norm",
	RoleEncoderSelfAttention: "encoder/layer_%d/self_attention",
	RoleEncoderFFN:           "encoder/layer_%d/ffn",
	RoleDecoderEmbeddings:    "decoder/embeddings",
	RoleDecoderLayerNorm:     "decoder/layer_norm",
	RoleDecoderProjection:    "decoder/projection",
	RoleDecoderSelfAttention: "decoder/layer_%d/self_attention",
	RoleDecoderAttention:     "decoder/layer_%d/attention",
	RoleDecoderFFN:           "decoder/layer_%d/ffn",
	RoleNorm:                 "layer_norm",
	RoleInner:                "inner",
	RoleOuter:                "outer",
	RoleQueries:              "queries",
	RoleKeys:                 "keys",
	RoleValues:               "values",
	RoleQueriesKeysValues:    "queries_keys_values",
	RoleKeysValues:           "keys_values",
	RoleSelfOutput:           "output",
	RoleCrossOutput:          "output",
	RoleKernel:               "kernel",
	RoleBias:                 "bias",
	RoleGamma:                "gamma",
	RoleBeta:                 "beta",
	RoleEmbedding:            "embedding",
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return fmt.Sprintf("Role(%d)", int(r))
}

// layered reports whether a module repeats once per layer.
func (r Role) layered() bool {
	switch r {
	case RoleEncoderSelfAttention, RoleEncoderFFN,
		RoleDecoderSelfAttention, RoleDecoderAttention, RoleDecoderFFN:
		return true
	default:
		return false
	}
}

var (
	moduleRoles = []Role{
		RoleEncoderEmbeddings, RoleEncoderLayerNorm, RoleEncoderSelfAttention, RoleEncoderFFN,
		RoleDecoderEmbeddings, RoleDecoderLayerNorm, RoleDecoderProjection,
		RoleDecoderSelfAttention, RoleDecoderAttention, RoleDecoderFFN,
	}

	variableRoles = []Role{RoleKernel, RoleBias, RoleGamma, RoleBeta, RoleEmbedding}
)

// scopeTemplates spells every physical name. Layered modules take the layer
// index through %d; relative roles and variables are joined with "/".
var scopeTemplates = map[checkpoint.Version]map[Role]string{
	checkpoint.V1: {
		RoleEncoderEmbeddings:    "transformer/encoder",
		RoleEncoderLayerNorm:     "transformer/encoder/LayerNorm",
		RoleEncoderSelfAttention: "transformer/encoder/layer_%d/multi_head",
		RoleEncoderFFN:           "transformer/encoder/layer_%d/ffn",
		RoleDecoderEmbeddings:    "transformer/decoder",
		RoleDecoderLayerNorm:     "transformer/decoder/LayerNorm",
		RoleDecoderProjection:    "transformer/decoder/dense",
		RoleDecoderSelfAttention: "transformer/decoder/layer_%d/masked_multi_head",
		RoleDecoderAttention:     "transformer/decoder/layer_%d/multi_head",
		RoleDecoderFFN:           "transformer/decoder/layer_%d/ffn",

		RoleNorm:              "LayerNorm",
		RoleInner:             "conv1d",
		RoleOuter:             "conv1d_1",
		RoleQueries:           "conv1d",
		RoleQueriesKeysValues: "conv1d",
		RoleKeysValues:        "conv1d_1",
		RoleSelfOutput:        "conv1d_1",
		RoleCrossOutput:       "conv1d_2",

		RoleKernel:    "kernel",
		RoleBias:      "bias",
		RoleGamma:     "gamma",
		RoleBeta:      "beta",
		RoleEmbedding: "w_embs",
	},
	checkpoint.V2: {
		RoleEncoderEmbeddings:    "model/examples_inputter/features_inputter",
		RoleEncoderLayerNorm:     "model/encoder/layer_norm",
		RoleEncoderSelfAttention: "model/encoder/layers/%d/self_attention",
		RoleEncoderFFN:           "model/encoder/layers/%d/ffn",
		RoleDecoderEmbeddings:    "model/examples_inputter/labels_inputter",
		RoleDecoderLayerNorm:     "model/decoder/layer_norm",
		RoleDecoderProjection:    "model/decoder/output_layer",
		RoleDecoderSelfAttention: "model/decoder/layers/%d/self_attention",
		RoleDecoderAttention:     "model/decoder/layers/%d/attention/0",
		RoleDecoderFFN:           "model/decoder/layers/%d/ffn",

		RoleNorm:        "input_layer_norm",
		RoleInner:       "layer/inner",
		RoleOuter:       "layer/outer",
		RoleQueries:     "layer/linear_queries",
		RoleKeys:        "layer/linear_keys",
		RoleValues:      "layer/linear_values",
		RoleSelfOutput:  "layer/linear_output",
		RoleCrossOutput: "layer/linear_output",

		RoleKernel:    "kernel",
		RoleBias:      "bias",
		RoleGamma:     "gamma",
		RoleBeta:      "beta",
		RoleEmbedding: "embedding",
	},
}

func init() {
	if err := validateTemplates(); err != nil {
		panic(err)
	}
}

// requiredRoles lists every role the builder asks a version to resolve.
func requiredRoles(v checkpoint.Version) ([]Role, error) {
	roles := append([]Role{RoleNorm, RoleInner, RoleOuter}, moduleRoles...)
	roles = append(roles, variableRoles...)
	for _, kind := range []attentionKind{selfAttention, crossAttention} {
		plan, err := attentionPlan(v, kind)
		if err != nil {
			return nil, err
		}

		for _, group := range plan {
			roles = append(roles, group...)
		}
	}

	return roles, nil
}

func validateTemplates() error {
	for _, v := range []checkpoint.Version{checkpoint.V1, checkpoint.V2} {
		templates, ok := scopeTemplates[v]
		if !ok {
			return fmt.Errorf("no scope templates for %s", v)
		}

		roles, err := requiredRoles(v)
		if err != nil {
			return err
		}

		for _, role := range roles {
			tmpl := templates[role]
			if tmpl == "" {
				return fmt.Errorf("no scope template for %s under %s", role, v)
			}

			want := 0
			if role.layered() {
				want = 1
			}

			if n := strings.Count(tmpl, "%"); n != want || (want == 1 && !strings.Contains(tmpl, "%d")) {
				return fmt.Errorf("scope template %q for %s under %s must take %d layer indices", tmpl, role, v, want)
			}
		}
	}

	return nil
}

// Path is the logical position of a variable: a module, the layer it repeats
// in, an optional part of that module and the variable itself.
type Path struct {
	Module Role
	Layer  int
	Sub    Role
	Leaf   Role
}

func (p Path) child(sub Role) Path {
	p.Sub = sub
	return p
}

func (p Path) variable(leaf Role) Path {
	p.Leaf = leaf
	return p
}

func (p Path) String() string {
	module := p.Module.String()
	if p.Module.layered() {
		module = fmt.Sprintf(module, p.Layer)
	}

	parts := []string{module}
	if p.Sub != RoleNone {
		parts = append(parts, p.Sub.String())
	}

	if p.Leaf != RoleNone {
		parts = append(parts, p.Leaf.String())
	}

	return strings.Join(parts, "/")
}

// Resolver maps logical paths to the physical variable names of one schema
// version.
type Resolver struct {
	version   checkpoint.Version
	templates map[Role]string
}

func NewResolver(v checkpoint.Version) (*Resolver, error) {
	templates, ok := scopeTemplates[v]
	if !ok {
		return nil, fmt.Errorf("%w: schema %s", checkpoint.ErrUnsupportedVersion, v)
	}

	return &Resolver{version: v, templates: templates}, nil
}

func (r *Resolver) Version() checkpoint.Version {
	return r.version
}

func (r *Resolver) Resolve(p Path) (string, error) {
	parts := make([]string, 0, 3)
	for _, role := range []Role{p.Module, p.Sub, p.Leaf} {
		if role == RoleNone {
			continue
		}

		tmpl, ok := r.templates[role]
		if !ok {
			return "", fmt.Errorf("%s has no %s scope for %s", r.version, role, p)
		}

		if role.layered() {
			tmpl = fmt.Sprintf(tmpl, p.Layer)
		}

		parts = append(parts, tmpl)
	}

	if len(parts) == 0 {
		return "", fmt.Errorf("empty path")
	}

	return strings.Join(parts, "/"), nil
}
