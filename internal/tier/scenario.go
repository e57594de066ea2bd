package tier

import (
	"go.uber.org/zap"
)

// Scenario is one network analysis variant. Its prefix namespaces the
// decoded fields when the three scenarios are merged into one record.
type Scenario struct {
	Name   string
	Prefix string
}

// Network scenarios, in the order the ranking pipeline emits them.
var (
	Full      = Scenario{Name: "full", Prefix: ""}
	Perennial = Scenario{Name: "perennial", Prefix: "p"}
	Mainstem  = Scenario{Name: "mainstem", Prefix: "m"}
)

// Scenarios lists every network scenario.
var Scenarios = []Scenario{Full, Perennial, Mainstem}

// DefaultBits is the per-field width used by the ranking pipeline: tiers
// 1..20 fit with 31 left as the sentinel.
const DefaultBits = 5

// DefaultFieldNames are the regional and state-level tiers for the three
// prioritization metrics.
var DefaultFieldNames = []string{"NC", "WC", "NCWC", "SE_NC", "SE_WC", "SE_NCWC"}

// Codec decodes packed tiers for all scenarios with a validated field list.
type Codec struct {
	fields []Field
}

// NewCodec validates fields and returns a Codec.
func NewCodec(fields []Field) (*Codec, error) {
	if err := Validate(fields); err != nil {
		return nil, err
	}
	cp := make([]Field, len(fields))
	copy(cp, fields)
	return &Codec{fields: cp}, nil
}

// DefaultCodec returns a Codec over DefaultFieldNames at DefaultBits.
func DefaultCodec() *Codec {
	c, err := NewCodec(Fields(DefaultBits, DefaultFieldNames...))
	if err != nil {
		panic(err)
	}
	return c
}

// Fields returns a copy of the codec's field list.
func (c *Codec) Fields() []Field {
	cp := make([]Field, len(c.fields))
	copy(cp, c.fields)
	return cp
}

// Decode unpacks a single scenario value. See Decode.
func (c *Codec) Decode(packed int64) (Scores, error) {
	return Decode(packed, c.fields)
}

// Packed holds the optional packed value per scenario. A nil entry means the
// barrier was not part of that network analysis.
type Packed map[Scenario]*int64

// DecodeAll decodes every scenario and merges the results under each
// scenario's prefix. Missing scenarios decode to NotRanked. The returned
// count is the number of malformed values encountered.
func (c *Codec) DecodeAll(packed Packed) (Scores, int) {
	out := make(Scores, len(c.fields)*len(Scenarios))
	malformed := 0
	for _, s := range Scenarios {
		v, ok := packed[s]
		if !ok || v == nil {
			for _, f := range c.fields {
				out[Key(s, f.Name)] = NotRanked
			}
			continue
		}
		scores, err := c.Decode(*v)
		if err != nil {
			malformed++
			zap.L().Debug("tier: malformed packed value",
				zap.String("scenario", s.Name),
				zap.Int64("packed", *v),
			)
		}
		for name, score := range scores {
			out[Key(s, name)] = score
		}
	}
	return out, malformed
}
