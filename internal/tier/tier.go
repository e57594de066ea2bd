// Package tier decodes prioritization tiers that the ranking pipeline
// bit-packs into one integer per network scenario.
package tier

import (
	"fmt"
	"strconv"

	"github.com/rotisserie/eris"
)

// ErrMalformed is returned alongside an all-NotRanked result when a packed
// value is negative or carries bits beyond the declared fields.
var ErrMalformed = eris.New("tier: malformed packed value")

// ErrInvalidPack is returned when a field list cannot be packed into an int64.
var ErrInvalidPack = eris.New("tier: invalid pack specification")

// MaxPackBits is the number of value bits available in a non-negative int64.
const MaxPackBits = 63

// Score is a decoded tier. NotRanked marks barriers excluded from network
// analysis.
type Score int

// NotRanked is reported when a field holds the all-ones sentinel for its width.
const NotRanked Score = -1

// Ranked reports whether s carries a numeric tier.
func (s Score) Ranked() bool { return s != NotRanked }

// String renders ranked scores as decimal and NotRanked as "not ranked".
func (s Score) String() string {
	if !s.Ranked() {
		return "not ranked"
	}
	return strconv.Itoa(int(s))
}

// Field is one packed sub-score.
type Field struct {
	Name string `yaml:"name" mapstructure:"name" json:"name"`
	Bits uint   `yaml:"bits" mapstructure:"bits" json:"bits"`
}

// sentinel returns the all-ones value for the field width.
func (f Field) sentinel() int64 {
	return int64(1)<<f.Bits - 1
}

// Scores maps field name to decoded score.
type Scores map[string]Score

// Fields builds a field list where every field shares the same width.
func Fields(bits uint, names ...string) []Field {
	fields := make([]Field, len(names))
	for i, name := range names {
		fields[i] = Field{Name: name, Bits: bits}
	}
	return fields
}

// Validate checks that fields have unique names, widths in 1..31 and fit
// together within MaxPackBits.
func Validate(fields []Field) error {
	if len(fields) == 0 {
		return eris.Wrap(ErrInvalidPack, "no fields declared")
	}
	seen := make(map[string]bool, len(fields))
	var total uint
	for _, f := range fields {
		if f.Name == "" {
			return eris.Wrap(ErrInvalidPack, "field name is empty")
		}
		if seen[f.Name] {
			return eris.Wrapf(ErrInvalidPack, "duplicate field %q", f.Name)
		}
		seen[f.Name] = true
		if f.Bits == 0 || f.Bits > 31 {
			return eris.Wrapf(ErrInvalidPack, "field %q: width %d outside 1..31", f.Name, f.Bits)
		}
		total += f.Bits
	}
	if total > MaxPackBits {
		return eris.Wrapf(ErrInvalidPack, "total width %d exceeds %d bits", total, MaxPackBits)
	}
	return nil
}

// TotalBits returns the summed width of fields.
func TotalBits(fields []Field) uint {
	var total uint
	for _, f := range fields {
		total += f.Bits
	}
	return total
}

// Decode unpacks packed into one score per field, least-significant field
// first. A negative value, or one with bits set above the declared fields,
// decodes every field to NotRanked and returns ErrMalformed; the scores are
// still usable.
func Decode(packed int64, fields []Field) (Scores, error) {
	out := make(Scores, len(fields))
	if packed < 0 || packed>>TotalBits(fields) != 0 {
		for _, f := range fields {
			out[f.Name] = NotRanked
		}
		return out, eris.Wrapf(ErrMalformed, "value %d", packed)
	}

	remaining := packed
	for _, f := range fields {
		mask := f.sentinel()
		v := remaining & mask
		remaining >>= f.Bits
		if v == mask {
			out[f.Name] = NotRanked
			continue
		}
		out[f.Name] = Score(v)
	}
	return out, nil
}

// Encode packs scores into one integer using the same layout Decode reads.
// Missing fields and NotRanked are written as the sentinel.
func Encode(scores Scores, fields []Field) (int64, error) {
	if err := Validate(fields); err != nil {
		return 0, err
	}
	var packed int64
	var shift uint
	for _, f := range fields {
		v := f.sentinel()
		if s, ok := scores[f.Name]; ok && s.Ranked() {
			if int64(s) < 0 || int64(s) >= f.sentinel() {
				return 0, eris.Errorf("tier: %s=%d does not fit in %d bits", f.Name, s, f.Bits)
			}
			v = int64(s)
		}
		packed |= v << shift
		shift += f.Bits
	}
	return packed, nil
}

// Key returns the merged record field name for a field under a scenario.
func Key(s Scenario, field string) string {
	return fmt.Sprintf("%s%s", s.Prefix, field)
}
