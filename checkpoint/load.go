package checkpoint

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
)

const (
	// attributeSuffix is appended to every variable of an object-graph
	// checkpoint.
	attributeSuffix = "/.ATTRIBUTES/VARIABLE_VALUE"
	// v2Prefix starts the base name of object-graph checkpoints.
	v2Prefix = "ckpt"
)

type LoadOptions struct {
	SourceVocabulary string
	TargetVocabulary string

	// SkipVocabularies reads a checkpoint without vocabularies. The result
	// is only good for listing variables.
	SkipVocabularies bool
}

// Model is a loaded store together with the vocabularies that go with it.
type Model struct {
	Version          Version
	Source           Source
	Variables        Variables
	SourceVocabulary string
	TargetVocabulary string
}

// Load detects how dir was saved and reads its variables. A bundle is
// preferred; otherwise the latest checkpoint is read and both vocabularies
// must be supplied. Object-graph checkpoints have their attribute suffix
// stripped so every returned name is a logical name.
func Load(a Adapter, dir string, opts LoadOptions) (*Model, error) {
	if a.ContainsBundle(dir) {
		return loadBundle(a, dir)
	}

	if !opts.SkipVocabularies && (opts.SourceVocabulary == "" || opts.TargetVocabulary == "") {
		return nil, ErrMissingVocabulary
	}

	id, err := a.LatestCheckpoint(dir)
	if err != nil {
		return nil, err
	}

	vars, err := a.LoadCheckpoint(id)
	if err != nil {
		return nil, err
	}

	m := Model{
		Version:          V1,
		Source:           SourceCheckpointV1,
		Variables:        vars,
		SourceVocabulary: opts.SourceVocabulary,
		TargetVocabulary: opts.TargetVocabulary,
	}

	if strings.HasPrefix(filepath.Base(id), v2Prefix) {
		m.Version = V2
		m.Source = SourceCheckpointV2
		if m.Variables, err = vars.Rename(StripAttributeSuffix); err != nil {
			return nil, err
		}
	}

	slog.Debug("loaded checkpoint", "id", id, "from", m.Source, "variables", m.Variables.Len())
	return &m, nil
}

func loadBundle(a Adapter, dir string) (*Model, error) {
	b, err := a.LoadBundle(dir)
	if err != nil {
		return nil, err
	}

	switch b.FrameworkVersion {
	case 1:
	case 2:
		return nil, fmt.Errorf("%w: converting a bundle saved by framework version 2 is not implemented", ErrUnsupportedVersion)
	default:
		return nil, fmt.Errorf("%w: framework version %d", ErrUnsupportedVersion, b.FrameworkVersion)
	}

	if len(b.Assets) < 2 {
		return nil, fmt.Errorf("%w: found %d assets", ErrMissingAssets, len(b.Assets))
	}

	vars, err := a.LoadBundleVariables(dir)
	if err != nil {
		return nil, err
	}

	slog.Debug("loaded bundle", "dir", dir, "variables", vars.Len(), "assets", b.Assets)
	return &Model{
		Version:          V1,
		Source:           SourceBundle,
		Variables:        vars,
		SourceVocabulary: filepath.Join(dir, "assets", filepath.Base(b.Assets[0])),
		TargetVocabulary: filepath.Join(dir, "assets", filepath.Base(b.Assets[1])),
	}, nil
}

// StripAttributeSuffix maps an object-graph variable name to its logical name.
func StripAttributeSuffix(name string) string {
	return strings.ReplaceAll(name, attributeSuffix, "")
}
