// Package convert builds an engine model specification from the variables of
// a trained sequence-to-sequence checkpoint.
package convert

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/ctconvert/ctconvert/checkpoint"
	"github.com/ctconvert/ctconvert/spec"
)

var (
	ErrUnsupportedArchitecture = errors.New("unsupported architecture")
	ErrIncompleteModel         = errors.New("incomplete model")
)

// MissingVariableError reports a variable the checkpoint does not contain.
type MissingVariableError struct {
	Path Path
	Name string
}

func (e *MissingVariableError) Error() string {
	return fmt.Sprintf("variable '%s' not found for %s", e.Name, e.Path)
}

// Converter reads the model saved in ModelDir. The vocabularies are required
// for checkpoints and ignored for bundles, which carry their own.
type Converter struct {
	ModelDir         string
	SourceVocabulary string
	TargetVocabulary string

	Adapter checkpoint.Adapter

	// Progress, if set, is called once the checkpoint is loaded and then
	// after every module is populated.
	Progress func(populated, total int)
}

// Result is a converted model and the vocabulary files that go with it.
type Result struct {
	Model            spec.Model
	Version          checkpoint.Version
	Source           checkpoint.Source
	SourceVocabulary string
	TargetVocabulary string
}

// Vocabularies returns the source and target vocabulary paths.
func (r *Result) Vocabularies() (string, string) {
	return r.SourceVocabulary, r.TargetVocabulary
}

// Convert populates a new tree shaped like m. m itself is not modified. On
// error no model is returned.
func (c *Converter) Convert(m spec.Model) (*Result, error) {
	switch m := m.(type) {
	case *spec.Transformer:
		if m == nil {
			return nil, fmt.Errorf("%w: nil model", ErrUnsupportedArchitecture)
		}
		return c.convertTransformer(m)
	case nil:
		return nil, fmt.Errorf("%w: nil model", ErrUnsupportedArchitecture)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedArchitecture, m.Name())
	}
}

func (c *Converter) convertTransformer(m *spec.Transformer) (*Result, error) {
	loaded, err := checkpoint.Load(c.Adapter, c.ModelDir, checkpoint.LoadOptions{
		SourceVocabulary: c.SourceVocabulary,
		TargetVocabulary: c.TargetVocabulary,
	})
	if err != nil {
		return nil, err
	}

	slog.Info("converting", "model", m.Name(), "from", loaded.Source, "schema", loaded.Version, "variables", loaded.Variables.Len())

	b, err := newBuilder(loaded.Version, loaded.Variables)
	if err != nil {
		return nil, err
	}

	out := m.Skeleton()
	if c.Progress != nil {
		total := len(spec.Names(out))
		c.Progress(0, total)
		b.report = func() {
			c.Progress(total-len(spec.Missing(out)), total)
		}
	}

	if err := b.setTransformer(out); err != nil {
		return nil, err
	}

	if missing := spec.Missing(out); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %d variables were not populated, first '%s'", ErrIncompleteModel, len(missing), missing[0])
	}

	return &Result{
		Model:            out,
		Version:          loaded.Version,
		Source:           loaded.Source,
		SourceVocabulary: loaded.SourceVocabulary,
		TargetVocabulary: loaded.TargetVocabulary,
	}, nil
}
