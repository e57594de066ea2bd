// Package export writes barrier records as spreadsheets.
package export

import (
	"io"
	"sort"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/barrier-explorer/internal/barrier"
	"github.com/sells-group/barrier-explorer/internal/tier"
)

// ContentType is the MIME type of XLSX output.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Columns lists the attribute, metric and tier columns present in records,
// each group sorted by name. The fixed id, lat and lon columns lead every
// sheet and are not included.
type Columns struct {
	Fields  []string
	Metrics []string
	Tiers   []string
}

// Header returns the sheet header row.
func (c Columns) Header() []string {
	out := make([]string, 0, 3+len(c.Fields)+len(c.Metrics)+len(c.Tiers))
	out = append(out, "id", "lat", "lon")
	out = append(out, c.Fields...)
	out = append(out, c.Metrics...)
	return append(out, c.Tiers...)
}

// ColumnsOf collects the columns present in records.
func ColumnsOf(records []barrier.Record) Columns {
	fields := make(map[string]bool)
	metrics := make(map[string]bool)
	tiers := make(map[string]bool)
	for _, r := range records {
		for k := range r.Fields {
			fields[k] = true
		}
		for k := range r.Metrics {
			metrics[k] = true
		}
		for k := range r.Tiers {
			tiers[k] = true
		}
	}
	return Columns{Fields: sortedKeys(fields), Metrics: sortedKeys(metrics), Tiers: sortedKeys(tiers)}
}

// WriteXLSX writes records to w as a single-sheet workbook named after t.
// NotRanked tiers and missing values are left blank.
func WriteXLSX(w io.Writer, t barrier.Type, records []barrier.Record) error {
	cols := ColumnsOf(records)

	f := xlsx.NewFile()
	sheet, err := f.AddSheet(string(t))
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	header := sheet.AddRow()
	for _, name := range cols.Header() {
		header.AddCell().SetString(name)
	}

	for _, r := range records {
		row := sheet.AddRow()
		row.AddCell().SetString(r.ID)
		row.AddCell().SetFloat(r.Lat)
		row.AddCell().SetFloat(r.Lon)
		for _, k := range cols.Fields {
			row.AddCell().SetString(r.Fields[k])
		}
		for _, k := range cols.Metrics {
			cell := row.AddCell()
			if v, ok := r.Metrics[k]; ok {
				cell.SetFloat(v)
			}
		}
		for _, k := range cols.Tiers {
			cell := row.AddCell()
			if s, ok := r.Tiers[k]; ok && s != tier.NotRanked {
				cell.SetString(strconv.Itoa(int(s)))
			}
		}
	}

	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "export: write workbook")
	}
	return nil
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
