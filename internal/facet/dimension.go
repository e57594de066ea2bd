// Package facet implements a crossfilter-style faceted filter engine: live
// counts of records passing every active filter, plus per-dimension value
// breakdowns that ignore only that dimension's own filter.
package facet

import (
	"embed"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Kind selects how a dimension reads values from a record.
type Kind string

// Dimension kinds.
const (
	// SingleValued dimensions hold one categorical value per record.
	SingleValued Kind = "single"
	// MultiValued dimensions hold a separator-joined list of values; a record
	// passes when any of its values is selected.
	MultiValued Kind = "multi"
	// NumericBucketed dimensions bin a numeric field by ascending breaks.
	NumericBucketed Kind = "numeric"
)

// Record is the read surface the engine needs from a record.
type Record interface {
	RecordID() string
	Value(field string) (string, bool)
	Number(field string) (float64, bool)
}

// Dimension is a filterable field with its declared value domain.
type Dimension struct {
	Field  string            `yaml:"field" json:"field"`
	Label  string            `yaml:"label,omitempty" json:"label,omitempty"`
	Kind   Kind              `yaml:"kind,omitempty" json:"kind"`
	Values []string          `yaml:"values,omitempty" json:"values,omitempty"`
	Labels map[string]string `yaml:"labels,omitempty" json:"labels,omitempty"`

	// Breaks are the ascending bucket boundaries for NumericBucketed. A value
	// x falls in bucket i where i is the number of breaks <= x.
	Breaks []float64 `yaml:"breaks,omitempty" json:"breaks,omitempty"`

	// Source is the record field read for NumericBucketed; defaults to Field.
	Source string `yaml:"source,omitempty" json:"source,omitempty"`

	// Separator splits MultiValued fields; defaults to ",".
	Separator string `yaml:"separator,omitempty" json:"separator,omitempty"`
}

func (d Dimension) kind() Kind {
	if d.Kind == "" {
		return SingleValued
	}
	return d.Kind
}

func (d Dimension) source() string {
	if d.Source == "" {
		return d.Field
	}
	return d.Source
}

func (d Dimension) separator() string {
	if d.Separator == "" {
		return ","
	}
	return d.Separator
}

// Domain returns the declared value keys. For NumericBucketed dimensions
// without explicit values the keys are the bucket indexes "0".."len(Breaks)".
func (d Dimension) Domain() []string {
	if d.kind() == NumericBucketed && len(d.Values) == 0 {
		keys := make([]string, len(d.Breaks)+1)
		for i := range keys {
			keys[i] = strconv.Itoa(i)
		}
		return keys
	}
	return d.Values
}

// Validate checks a single dimension definition.
func (d Dimension) Validate() error {
	if strings.TrimSpace(d.Field) == "" {
		return eris.New("facet: dimension field is empty")
	}
	switch d.kind() {
	case SingleValued, MultiValued:
		if len(d.Breaks) > 0 {
			return eris.Errorf("facet: dimension %q: breaks only apply to numeric dimensions", d.Field)
		}
	case NumericBucketed:
		if len(d.Breaks) == 0 {
			return eris.Errorf("facet: dimension %q: numeric dimension needs breaks", d.Field)
		}
		for i := 1; i < len(d.Breaks); i++ {
			if d.Breaks[i] <= d.Breaks[i-1] {
				return eris.Errorf("facet: dimension %q: breaks must be strictly ascending", d.Field)
			}
		}
		if len(d.Values) > 0 && len(d.Values) != len(d.Breaks)+1 {
			return eris.Errorf("facet: dimension %q: %d breaks need %d values, got %d",
				d.Field, len(d.Breaks), len(d.Breaks)+1, len(d.Values))
		}
	default:
		return eris.Errorf("facet: dimension %q: unknown kind %q", d.Field, d.Kind)
	}
	seen := make(map[string]bool, len(d.Values))
	for _, v := range d.Values {
		if seen[v] {
			return eris.Errorf("facet: dimension %q: duplicate value %q", d.Field, v)
		}
		seen[v] = true
	}
	return nil
}

// ValidateDimensions checks every dimension and that fields are unique.
func ValidateDimensions(dims []Dimension) error {
	seen := make(map[string]bool, len(dims))
	for _, d := range dims {
		if err := d.Validate(); err != nil {
			return err
		}
		if seen[d.Field] {
			return eris.Errorf("facet: duplicate dimension %q", d.Field)
		}
		seen[d.Field] = true
	}
	return nil
}

// extract returns the record's value keys for d. Missing fields yield nil.
func (d Dimension) extract(r Record) []string {
	switch d.kind() {
	case NumericBucketed:
		x, ok := r.Number(d.source())
		if !ok {
			return nil
		}
		bucket := sort.Search(len(d.Breaks), func(i int) bool { return d.Breaks[i] > x })
		return []string{d.Domain()[bucket]}
	case MultiValued:
		raw, ok := r.Value(d.Field)
		if !ok {
			return nil
		}
		parts := strings.Split(raw, d.separator())
		out := parts[:0]
		seen := make(map[string]bool, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p == "" || seen[p] {
				continue
			}
			seen[p] = true
			out = append(out, p)
		}
		if len(out) == 0 {
			return nil
		}
		return out
	default:
		v, ok := r.Value(d.Field)
		if !ok {
			return nil
		}
		return []string{v}
	}
}

// LoadDimensions parses a YAML list of dimensions and validates it.
func LoadDimensions(r io.Reader) ([]Dimension, error) {
	var dims []Dimension
	if err := yaml.NewDecoder(r).Decode(&dims); err != nil {
		return nil, eris.Wrap(err, "facet: decode dimensions")
	}
	if err := ValidateDimensions(dims); err != nil {
		return nil, err
	}
	return dims, nil
}

//go:embed dimensions/*.yaml
var presets embed.FS

// DefaultDimensions returns the embedded dimension set for a barrier type.
func DefaultDimensions(barrierType string) ([]Dimension, error) {
	f, err := presets.Open("dimensions/" + barrierType + ".yaml")
	if err != nil {
		return nil, eris.Wrapf(err, "facet: no default dimensions for %q", barrierType)
	}
	defer func() { _ = f.Close() }()
	return LoadDimensions(f)
}

// ResolveDimensions reads <dir>/<barrierType>.yaml when dir is set and the
// file exists, and falls back to the embedded defaults otherwise.
func ResolveDimensions(dir, barrierType string) ([]Dimension, error) {
	if dir == "" {
		return DefaultDimensions(barrierType)
	}
	path := filepath.Join(dir, barrierType+".yaml")
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultDimensions(barrierType)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "facet: open %s", path)
	}
	defer func() { _ = f.Close() }()

	dims, err := LoadDimensions(f)
	if err != nil {
		return nil, eris.Wrapf(err, "facet: load %s", path)
	}
	return dims, nil
}

// NumericSources returns the record fields read by numeric dimensions.
func NumericSources(dims []Dimension) []string {
	var out []string
	for _, d := range dims {
		if d.kind() == NumericBucketed {
			out = append(out, d.source())
		}
	}
	return out
}
