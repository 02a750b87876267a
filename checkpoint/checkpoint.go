// Package checkpoint turns a model directory into a read-only store of named
// tensors and reports which checkpoint schema produced it.
package checkpoint

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedVersion = errors.New("unsupported version")
	ErrMissingVocabulary  = errors.New("vocabularies must be passed as argument when converting a checkpoint")
	ErrMissingAssets      = errors.New("bundle does not reference source and target vocabularies")
	ErrNoCheckpoint       = errors.New("no checkpoint found")
)

// Version is the variable naming schema of a checkpoint.
type Version int

const (
	// V1 checkpoints use the estimator scope layout, e.g.
	// "transformer/encoder/layer_0/multi_head/conv1d/kernel".
	V1 Version = 1
	// V2 checkpoints use the object-graph scope layout, e.g.
	// "model/encoder/layers/0/self_attention/layer/linear_queries/kernel".
	V2 Version = 2
)

func (v Version) String() string {
	return fmt.Sprintf("v%d", int(v))
}

// Source is the kind of input a store was built from.
type Source int

const (
	SourceBundle Source = iota
	SourceCheckpointV1
	SourceCheckpointV2
)

func (s Source) String() string {
	switch s {
	case SourceBundle:
		return "bundle"
	case SourceCheckpointV1:
		return "checkpoint-v1"
	case SourceCheckpointV2:
		return "checkpoint-v2"
	default:
		return "unknown"
	}
}

// Bundle is the metadata of a self-describing saved model. Assets are listed
// in the order the bundle recorded them; the first is the source vocabulary
// and the second the target vocabulary.
type Bundle struct {
	Assets           []string
	FrameworkVersion int
}

// Adapter reads the physical container format.
type Adapter interface {
	ContainsBundle(dir string) bool
	// LoadBundle reads the bundle metadata only. Variables are read with
	// LoadBundleVariables once the bundle is known to be convertible.
	LoadBundle(dir string) (*Bundle, error)
	LoadBundleVariables(dir string) (Variables, error)
	// LatestCheckpoint returns the identifier of the most recent checkpoint
	// in dir. Its base name carries the checkpoint prefix, e.g. "ckpt-5" or
	// "model.ckpt-1000".
	LatestCheckpoint(dir string) (string, error)
	LoadCheckpoint(id string) (Variables, error)
}

// Config is handed to adapters when they are constructed.
type Config struct {
	// FrameworkVersion is the training framework major version assumed for
	// bundles that do not record one.
	FrameworkVersion int
	// Parallel bounds the number of files read concurrently.
	Parallel int
}

func DefaultConfig() Config {
	return Config{FrameworkVersion: 1, Parallel: 1}
}
