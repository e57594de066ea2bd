package facet

import (
	"net/url"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// ErrInvalidQuery is returned by ParseQuery for undecodable escapes.
var ErrInvalidQuery = eris.New("facet: invalid filter query")

// EncodeQuery serializes filters as field=v1,v2&field2=v3. Fields follow
// order; fields missing from order are appended alphabetically. Empty
// selections are omitted. Field names and values are query-escaped, so
// commas inside values are preserved as %2C.
func EncodeQuery(filters FilterState, order []string) string {
	fields := make([]string, 0, len(filters))
	listed := make(map[string]bool, len(order))
	for _, f := range order {
		listed[f] = true
		if filters.Active(f) {
			fields = append(fields, f)
		}
	}
	var rest []string
	for f := range filters {
		if !listed[f] && filters.Active(f) {
			rest = append(rest, f)
		}
	}
	sort.Strings(rest)
	fields = append(fields, rest...)

	var b strings.Builder
	for i, f := range fields {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(f))
		b.WriteByte('=')
		for j, v := range filters[f] {
			if j > 0 {
				b.WriteByte(',')
			}
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}

// ParseQuery is the inverse of EncodeQuery. Pairs with no values are skipped.
func ParseQuery(s string) (FilterState, error) {
	out := make(FilterState)
	if s == "" {
		return out, nil
	}
	for _, pair := range strings.Split(s, "&") {
		if pair == "" {
			continue
		}
		rawField, rawValues, _ := strings.Cut(pair, "=")
		field, err := url.QueryUnescape(rawField)
		if err != nil {
			return nil, eris.Wrapf(ErrInvalidQuery, "field %q", rawField)
		}
		if rawValues == "" {
			continue
		}
		for _, rv := range strings.Split(rawValues, ",") {
			v, err := url.QueryUnescape(rv)
			if err != nil {
				return nil, eris.Wrapf(ErrInvalidQuery, "value %q", rv)
			}
			out[field] = append(out[field], v)
		}
	}
	return out, nil
}
