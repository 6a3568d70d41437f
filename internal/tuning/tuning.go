package tuning

import (
	"bytes"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"voxelnoise.ai/internal/rng"
	"voxelnoise.ai/internal/synth"
)

// KindDensity names the blended terrain density. Every other sample kind is
// a named noise.
const KindDensity = "density"

const defaultMaxRegionCells = 1 << 20

//go:embed tuning.schema.json
var schemaJSON string

var schema = jsonschema.MustCompileString("tuning.schema.json", schemaJSON)

var noiseName = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

type Tuning struct {
	Seed         int64                    `yaml:"seed" json:"seed"`
	RandomSource string                   `yaml:"random_source" json:"random_source"`
	Blended      synth.BlendedParams      `yaml:"blended" json:"blended"`
	Noises       map[string]synth.Octaves `yaml:"noises" json:"noises,omitempty"`
	Sampler      Sampler                  `yaml:"sampler" json:"sampler"`
}

type Sampler struct {
	// Workers is the region sampler fan-out; 0 picks one from GOMAXPROCS.
	Workers        int `yaml:"workers" json:"workers"`
	MaxRegionCells int `yaml:"max_region_cells" json:"max_region_cells"`
}

// Load reads a tuning file. An empty path yields the defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if strings.TrimSpace(path) == "" {
		t.Normalize()
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	return Parse(raw)
}

// Parse decodes YAML tuning bytes over the defaults, checks them against the
// tuning schema, then normalizes and validates.
func Parse(raw []byte) (Tuning, error) {
	t := Defaults()
	if err := validateSchema(raw); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func validateSchema(raw []byte) error {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return err
	}
	if doc == nil {
		return nil
	}
	// Round-trip through JSON so the validator sees JSON-shaped values.
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}
	return schema.Validate(v)
}

func Defaults() Tuning {
	return Tuning{
		Seed:         0,
		RandomSource: string(rng.KindXoroshiro),
		Blended:      synth.DefaultBlendedParams(),
		Sampler: Sampler{
			Workers:        0,
			MaxRegionCells: defaultMaxRegionCells,
		},
	}
}

func (t *Tuning) Normalize() {
	if t == nil {
		return
	}
	t.RandomSource = strings.ToLower(strings.TrimSpace(t.RandomSource))
	if t.RandomSource == "" {
		t.RandomSource = string(rng.KindXoroshiro)
	}
	if t.Sampler.MaxRegionCells <= 0 {
		t.Sampler.MaxRegionCells = defaultMaxRegionCells
	}
	if len(t.Noises) == 0 {
		t.Noises = nil
	}
}

// Validate fails on the first bad field; nothing is clamped.
func (t Tuning) Validate() error {
	switch rng.Kind(t.RandomSource) {
	case rng.KindLegacy, rng.KindXoroshiro:
	default:
		return fmt.Errorf("random_source must be legacy or xoroshiro, got %q", t.RandomSource)
	}
	if err := t.Blended.Validate(); err != nil {
		return fmt.Errorf("blended: %w", err)
	}
	for _, name := range t.NoiseNames() {
		if !noiseName.MatchString(name) || name == KindDensity {
			return fmt.Errorf("noises: invalid noise name %q", name)
		}
		oct := t.Noises[name]
		if len(oct.Amplitudes) == 0 {
			return fmt.Errorf("noises.%s: amplitudes must not be empty", name)
		}
		nonZero := false
		for _, a := range oct.Amplitudes {
			if math.IsNaN(a) || math.IsInf(a, 0) {
				return fmt.Errorf("noises.%s: amplitudes must be finite", name)
			}
			if a != 0 {
				nonZero = true
			}
		}
		if !nonZero {
			return fmt.Errorf("noises.%s: at least one amplitude must be non-zero", name)
		}
	}
	if t.Sampler.Workers < 0 {
		return fmt.Errorf("sampler.workers must be >= 0")
	}
	if t.Sampler.MaxRegionCells <= 0 {
		return fmt.Errorf("sampler.max_region_cells must be > 0")
	}
	return nil
}

// NoiseNames returns the named noises in sorted order.
func (t Tuning) NoiseNames() []string {
	out := make([]string, 0, len(t.Noises))
	for name := range t.Noises {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Digest is the sha256 of the canonical JSON encoding of everything that
// affects sampled values. Two tunings with the same digest produce identical
// fields; sampler settings are excluded.
func (t Tuning) Digest() string {
	b, err := json.Marshal(struct {
		Seed         int64                    `json:"seed"`
		RandomSource string                   `json:"random_source"`
		Blended      synth.BlendedParams      `json:"blended"`
		Noises       map[string]synth.Octaves `json:"noises,omitempty"`
	}{t.Seed, t.RandomSource, t.Blended, t.Noises})
	if err != nil {
		// Only NaN/Inf can fail here, and Validate rejects those.
		panic(fmt.Sprintf("tuning: digest: %v", err))
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
