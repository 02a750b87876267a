package checkpoint

import (
	"bufio"
	"bytes"
	"cmp"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/d4l3k/go-bfloat16"
	"github.com/mitchellh/mapstructure"
	"github.com/pdevine/tensor"
	"github.com/x448/float16"
	"golang.org/x/sync/errgroup"
)

const (
	bundleFile = "saved_model.safetensors"
	// stateFile records the most recent checkpoint of a training run, one
	// `model_checkpoint_path: "<id>"` line among others.
	stateFile = "checkpoint"
)

// Safetensors reads models whose variables were exported to safetensors
// files under their original variable names.
//
// A bundle is a directory holding saved_model.safetensors, whose metadata
// records "framework_version" and a comma separated "assets" list, and an
// assets directory. A checkpoint <id> is stored as <id>.safetensors or as
// shards named <id>-00001-of-00002.safetensors.
type Safetensors struct {
	config Config
}

var _ Adapter = (*Safetensors)(nil)

func NewSafetensors(c Config) *Safetensors {
	c.Parallel = max(c.Parallel, 1)
	return &Safetensors{config: c}
}

type bundleMetadata struct {
	FrameworkVersion int    `mapstructure:"framework_version"`
	Assets           string `mapstructure:"assets"`
}

func (s *Safetensors) ContainsBundle(dir string) bool {
	fi, err := os.Stat(filepath.Join(dir, bundleFile))
	return err == nil && !fi.IsDir()
}

// LoadBundle reads the bundle metadata without reading any variable.
func (s *Safetensors) LoadBundle(dir string) (*Bundle, error) {
	f, err := os.Open(filepath.Join(dir, bundleFile))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	h, err := readSafetensorsHeader(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", bundleFile, err)
	}

	var metadata map[string]string
	if raw, ok := h.entries["__metadata__"]; ok {
		if err := json.Unmarshal(raw, &metadata); err != nil {
			return nil, fmt.Errorf("invalid bundle metadata: %w", err)
		}
	}

	var md bundleMetadata
	d, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &md,
	})
	if err != nil {
		return nil, err
	}

	if err := d.Decode(metadata); err != nil {
		return nil, fmt.Errorf("invalid bundle metadata: %w", err)
	}

	b := Bundle{FrameworkVersion: cmp.Or(md.FrameworkVersion, s.config.FrameworkVersion)}
	for _, asset := range strings.Split(md.Assets, ",") {
		if asset = strings.TrimSpace(asset); asset != "" {
			b.Assets = append(b.Assets, asset)
		}
	}

	return &b, nil
}

func (s *Safetensors) LoadBundleVariables(dir string) (Variables, error) {
	f, err := parseSafetensors(filepath.Join(dir, bundleFile))
	if err != nil {
		return Variables{}, fmt.Errorf("%s: %w", bundleFile, err)
	}

	return NewVariables(f.tensors), nil
}

func (s *Safetensors) LatestCheckpoint(dir string) (string, error) {
	f, err := os.Open(filepath.Join(dir, stateFile))
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%w in %s", ErrNoCheckpoint, dir)
	} else if err != nil {
		return "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok || strings.TrimSpace(key) != "model_checkpoint_path" {
			continue
		}

		p, err := strconv.Unquote(strings.TrimSpace(value))
		if err != nil {
			return "", fmt.Errorf("invalid checkpoint state in %s: %w", dir, err)
		}

		if !filepath.IsAbs(p) {
			p = filepath.Join(dir, p)
		}

		return p, nil
	}

	if err := scanner.Err(); err != nil {
		return "", err
	}

	return "", fmt.Errorf("%w in %s", ErrNoCheckpoint, dir)
}

func (s *Safetensors) LoadCheckpoint(id string) (Variables, error) {
	var ps []string
	if fi, err := os.Stat(id + ".safetensors"); err == nil && !fi.IsDir() {
		ps = append(ps, id+".safetensors")
	}

	shards, err := filepath.Glob(id + "-*-of-*.safetensors")
	if err != nil {
		return Variables{}, err
	}
	ps = append(ps, shards...)

	if len(ps) == 0 {
		return Variables{}, fmt.Errorf("%w: %s", ErrNoCheckpoint, id)
	}

	files := make([]*safetensorsFile, len(ps))

	var g errgroup.Group
	g.SetLimit(s.config.Parallel)
	for i, p := range ps {
		g.Go(func() error {
			f, err := parseSafetensors(p)
			if err != nil {
				return fmt.Errorf("%s: %w", filepath.Base(p), err)
			}

			files[i] = f
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Variables{}, err
	}

	m := make(map[string]*tensor.Dense)
	for _, f := range files {
		for name, t := range f.tensors {
			if _, ok := m[name]; ok {
				return Variables{}, fmt.Errorf("duplicate tensor name '%s' was found for this checkpoint", name)
			}
			m[name] = t
		}
	}

	return Variables{m: m}, nil
}

type safetensorMetadata struct {
	Type    string  `json:"dtype"`
	Shape   []int   `json:"shape"`
	Offsets []int64 `json:"data_offsets"`
}

type safetensorsFile struct {
	tensors map[string]*tensor.Dense
}

// safetensorsHeader is the decoded JSON header of a file. n is the header
// length and size the length of the data section that follows it.
type safetensorsHeader struct {
	n, size int64
	entries map[string]json.RawMessage
}

func readSafetensorsHeader(f *os.File) (*safetensorsHeader, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}

	var n int64
	if err := binary.Read(f, binary.LittleEndian, &n); err != nil {
		return nil, err
	}

	if n < 0 || n > fi.Size()-8 {
		return nil, fmt.Errorf("invalid header length %d for a file of %d bytes", n, fi.Size())
	}

	b := bytes.NewBuffer(make([]byte, 0, n))
	if _, err = io.CopyN(b, f, n); err != nil {
		return nil, err
	}

	h := safetensorsHeader{n: n, size: fi.Size() - 8 - n}
	if err := json.NewDecoder(b).Decode(&h.entries); err != nil {
		return nil, err
	}

	return &h, nil
}

func parseSafetensors(p string) (*safetensorsFile, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	h, err := readSafetensorsHeader(f)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(h.entries))
	for key := range h.entries {
		if key != "__metadata__" {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)

	sf := safetensorsFile{tensors: make(map[string]*tensor.Dense, len(keys))}
	for _, key := range keys {
		var value safetensorMetadata
		if err := json.Unmarshal(h.entries[key], &value); err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}

		if len(value.Offsets) != 2 {
			return nil, fmt.Errorf("%s: invalid data offsets %v", key, value.Offsets)
		}

		begin, end := value.Offsets[0], value.Offsets[1]
		if begin < 0 || end < begin || end > h.size {
			return nil, fmt.Errorf("%s: data offsets %v outside of %d data bytes", key, value.Offsets, h.size)
		}

		if _, err := f.Seek(safetensorsPad(h.n, begin), io.SeekStart); err != nil {
			return nil, err
		}

		f32s, err := decodeTensor(io.LimitReader(f, end-begin), value.Type, end-begin)
		if errors.Is(err, errSkipTensor) {
			slog.Debug("skipping variable", "name", key, "dtype", value.Type)
			continue
		} else if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}

		size := 1
		for _, dim := range value.Shape {
			size *= dim
		}

		if len(f32s) != size {
			return nil, fmt.Errorf("%s: shape %v does not match %d elements", key, value.Shape, len(f32s))
		}

		if len(value.Shape) == 0 {
			sf.tensors[key] = tensor.New(tensor.FromScalar(f32s[0]))
		} else {
			sf.tensors[key] = tensor.New(tensor.WithShape(value.Shape...), tensor.WithBacking(f32s))
		}
	}

	return &sf, nil
}

// safetensorsPad returns the position in the file of a data offset given a
// header of length n
func safetensorsPad(n, offset int64) int64 {
	return 8 + n + offset
}

var errSkipTensor = errors.New("skip tensor")

func decodeTensor(r io.Reader, dtype string, size int64) ([]float32, error) {
	switch dtype {
	case "F32":
		f32s := make([]float32, size/4)
		if err := binary.Read(r, binary.LittleEndian, f32s); err != nil {
			return nil, err
		}
		return f32s, nil
	case "F16":
		u16s := make([]uint16, size/2)
		if err := binary.Read(r, binary.LittleEndian, u16s); err != nil {
			return nil, err
		}

		f32s := make([]float32, len(u16s))
		for i := range u16s {
			f32s[i] = float16.Frombits(u16s[i]).Float32()
		}
		return f32s, nil
	case "BF16":
		u8s := make([]uint8, size)
		if _, err := io.ReadFull(r, u8s); err != nil {
			return nil, err
		}
		return bfloat16.DecodeFloat32(u8s), nil
	case "BOOL", "U8", "I8", "U16", "I16", "U32", "I32", "U64", "I64":
		// step counters and other bookkeeping variables
		return nil, errSkipTensor
	default:
		return nil, fmt.Errorf("unknown data type: %s", dtype)
	}
}
