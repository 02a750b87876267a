package convert

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pdevine/tensor"

	"github.com/ctconvert/ctconvert/checkpoint"
	"github.com/ctconvert/ctconvert/spec"
)

type fakeAdapter struct {
	bundle *checkpoint.Bundle
	id     string
	vars   map[string]*tensor.Dense

	calls []string
}

func (a *fakeAdapter) ContainsBundle(string) bool {
	a.calls = append(a.calls, "ContainsBundle")
	return a.bundle != nil
}

func (a *fakeAdapter) LoadBundle(string) (*checkpoint.Bundle, error) {
	a.calls = append(a.calls, "LoadBundle")
	return a.bundle, nil
}

func (a *fakeAdapter) LoadBundleVariables(string) (checkpoint.Variables, error) {
	a.calls = append(a.calls, "LoadBundleVariables")
	return checkpoint.NewVariables(a.vars), nil
}

func (a *fakeAdapter) LatestCheckpoint(dir string) (string, error) {
	a.calls = append(a.calls, "LatestCheckpoint")
	if a.id == "" {
		return "", checkpoint.ErrNoCheckpoint
	}
	return filepath.Join(dir, a.id), nil
}

func (a *fakeAdapter) LoadCheckpoint(string) (checkpoint.Variables, error) {
	a.calls = append(a.calls, "LoadCheckpoint")
	return checkpoint.NewVariables(a.vars), nil
}

func convertCheckpoint(t *testing.T, id string, vars map[string]*tensor.Dense, m spec.Model) *Result {
	t.Helper()

	c := Converter{
		ModelDir:         "run",
		SourceVocabulary: "src-vocab.txt",
		TargetVocabulary: "tgt-vocab.txt",
		Adapter:          &fakeAdapter{id: id, vars: vars},
	}

	result, err := c.Convert(m)
	if err != nil {
		t.Fatal(err)
	}

	return result
}

func TestConvertCheckpointV1(t *testing.T) {
	m := spec.NewTransformer(2, 4)
	result := convertCheckpoint(t, "model.ckpt-1000", v1Variables(v2Variables(2), 2), m)

	if result.Version != checkpoint.V1 || result.Source != checkpoint.SourceCheckpointV1 {
		t.Errorf("unexpected version %s from %s", result.Version, result.Source)
	}

	if missing := spec.Missing(result.Model); len(missing) > 0 {
		t.Errorf("unpopulated variables: %v", missing)
	}

	if vars := spec.Variables(m); len(vars) > 0 {
		t.Errorf("input tree was populated with %d variables", len(vars))
	}

	src, tgt := result.Vocabularies()
	if src != "src-vocab.txt" || tgt != "tgt-vocab.txt" {
		t.Errorf("unexpected vocabularies %s, %s", src, tgt)
	}
}

func TestConvertCheckpointV2(t *testing.T) {
	v2 := v2Variables(2)

	suffixed := convertCheckpoint(t, "ckpt-3", withSuffix(v2), spec.NewTransformer(2, 4))
	if suffixed.Version != checkpoint.V2 || suffixed.Source != checkpoint.SourceCheckpointV2 {
		t.Errorf("unexpected version %s from %s", suffixed.Version, suffixed.Source)
	}

	plain := convertCheckpoint(t, "ckpt-3", v2, spec.NewTransformer(2, 4))
	assertSameVariables(t, plain.Model, suffixed.Model)

	v1 := convertCheckpoint(t, "model.ckpt-1000", v1Variables(v2, 2), spec.NewTransformer(2, 4))
	assertSameVariables(t, v1.Model, suffixed.Model)
}

func TestConvertPreset(t *testing.T) {
	result := convertCheckpoint(t, "ckpt-1", v2Variables(6), spec.TransformerBase())

	if name := result.Model.Name(); name != "TransformerBase" {
		t.Errorf("expected TransformerBase, got %s", name)
	}

	if n := len(spec.Variables(result.Model)); n != 200 {
		t.Errorf("expected 200 variables, got %d", n)
	}
}

func TestConvertProgress(t *testing.T) {
	var populated []int
	var total int

	c := Converter{
		ModelDir:         "run",
		SourceVocabulary: "src-vocab.txt",
		TargetVocabulary: "tgt-vocab.txt",
		Adapter:          &fakeAdapter{id: "ckpt-1", vars: v2Variables(2)},
		Progress: func(n, of int) {
			populated = append(populated, n)
			total = of
		},
	}

	if _, err := c.Convert(spec.NewTransformer(2, 4)); err != nil {
		t.Fatal(err)
	}

	if total != 72 {
		t.Errorf("expected 72 variables, got %d", total)
	}

	if len(populated) < 2 || populated[0] != 0 || populated[len(populated)-1] != total {
		t.Fatalf("unexpected progress %v", populated)
	}

	for i := 1; i < len(populated); i++ {
		if populated[i] < populated[i-1] {
			t.Errorf("progress went backwards: %v", populated)
		}
	}
}

func TestConvertBundle(t *testing.T) {
	a := &fakeAdapter{
		bundle: &checkpoint.Bundle{
			Assets:           []string{"/tmp/export/assets/wmt.en.vocab", "/tmp/export/assets/wmt.de.vocab"},
			FrameworkVersion: 1,
		},
		vars: v1Variables(v2Variables(1), 1),
	}

	c := Converter{ModelDir: "export", Adapter: a}
	result, err := c.Convert(spec.NewTransformer(1, 4))
	if err != nil {
		t.Fatal(err)
	}

	if result.Source != checkpoint.SourceBundle {
		t.Errorf("expected bundle, got %s", result.Source)
	}

	src, tgt := result.Vocabularies()
	if want := filepath.Join("export", "assets", "wmt.en.vocab"); src != want {
		t.Errorf("expected %s, got %s", want, src)
	}

	if want := filepath.Join("export", "assets", "wmt.de.vocab"); tgt != want {
		t.Errorf("expected %s, got %s", want, tgt)
	}

	if diff := cmp.Diff([]string{"ContainsBundle", "LoadBundle", "LoadBundleVariables"}, a.calls); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestConvertMissingVocabulary(t *testing.T) {
	a := &fakeAdapter{id: "ckpt-1", vars: v2Variables(1)}
	c := Converter{ModelDir: "run", SourceVocabulary: "src-vocab.txt", Adapter: a}

	result, err := c.Convert(spec.NewTransformer(1, 4))
	if !errors.Is(err, checkpoint.ErrMissingVocabulary) {
		t.Errorf("expected ErrMissingVocabulary, got %v", err)
	}

	if result != nil {
		t.Error("expected no result")
	}

	if diff := cmp.Diff([]string{"ContainsBundle"}, a.calls); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestConvertMissingVariable(t *testing.T) {
	const name = "model/decoder/layers/0/attention/0/layer/linear_values/bias"

	vars := v2Variables(1)
	delete(vars, name)

	c := Converter{
		ModelDir:         "run",
		SourceVocabulary: "src-vocab.txt",
		TargetVocabulary: "tgt-vocab.txt",
		Adapter:          &fakeAdapter{id: "ckpt-1", vars: vars},
	}

	result, err := c.Convert(spec.NewTransformer(1, 4))
	if result != nil {
		t.Error("expected no result")
	}

	var missing *MissingVariableError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingVariableError, got %v", err)
	}

	if missing.Name != name {
		t.Errorf("expected %s, got %s", name, missing.Name)
	}

	if !strings.Contains(err.Error(), name) {
		t.Errorf("expected %s in %q", name, err)
	}
}

type languageModel struct{}

func (languageModel) Name() string { return "TransformerDecoderOnly" }

func (languageModel) Visit(func(string, *tensor.Dense)) {}

func TestConvertUnsupportedArchitecture(t *testing.T) {
	cases := map[string]spec.Model{
		"language model":  languageModel{},
		"nil":             nil,
		"nil transformer": (*spec.Transformer)(nil),
	}

	for name, m := range cases {
		t.Run(name, func(t *testing.T) {
			a := &fakeAdapter{id: "ckpt-1", vars: v2Variables(1)}
			c := Converter{ModelDir: "run", SourceVocabulary: "a", TargetVocabulary: "b", Adapter: a}

			result, err := c.Convert(m)
			if !errors.Is(err, ErrUnsupportedArchitecture) {
				t.Errorf("expected ErrUnsupportedArchitecture, got %v", err)
			}

			if result != nil {
				t.Error("expected no result")
			}

			if len(a.calls) > 0 {
				t.Errorf("unexpected adapter calls %v", a.calls)
			}
		})
	}
}
