package facet

import (
	"strconv"
)

type testRecord struct {
	id      string
	fields  map[string]string
	numbers map[string]float64
}

func (r testRecord) RecordID() string { return r.id }

func (r testRecord) Value(field string) (string, bool) {
	v, ok := r.fields[field]
	return v, ok
}

func (r testRecord) Number(field string) (float64, bool) {
	if v, ok := r.numbers[field]; ok {
		return v, true
	}
	if v, ok := r.fields[field]; ok {
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	}
	return 0, false
}

func rec(id string, kv ...string) testRecord {
	r := testRecord{id: id, fields: map[string]string{}}
	for i := 0; i+1 < len(kv); i += 2 {
		r.fields[kv[i]] = kv[i+1]
	}
	return r
}

// scenarioRecords are the five feasibility/height records used across tests.
func scenarioRecords() []testRecord {
	return []testRecord{
		rec("1", "feasibility", "A", "height", "short"),
		rec("2", "feasibility", "A", "height", "tall"),
		rec("3", "feasibility", "B", "height", "short"),
		rec("4", "feasibility", "B", "height", "tall"),
		rec("5", "feasibility", "C", "height", "short"),
	}
}

func scenarioDims() []Dimension {
	return []Dimension{
		{Field: "feasibility", Values: []string{"A", "B", "C"}},
		{Field: "height", Values: []string{"short", "tall"}},
	}
}

func sum(m map[string]int) int {
	n := 0
	for _, v := range m {
		n += v
	}
	return n
}
