package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"sort"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/barrier-explorer/internal/barrier"
	"github.com/sells-group/barrier-explorer/internal/export"
	"github.com/sells-group/barrier-explorer/internal/facet"
	"github.com/sells-group/barrier-explorer/internal/session"
)

var facetCmd = &cobra.Command{
	Use:         "facet",
	Short:       "Summarize barriers in summary units with optional filters",
	Annotations: map[string]string{modeKey: "facet"},
	Long: "Loads the barriers of one type inside the selected summary units, applies filters, " +
		"and prints the filtered total and per-dimension counts.",
	Example: "  barriers facet --type dams --unit State=OR,WA --filter feasibility=1,2\n" +
		"  barriers facet --type small_barriers --unit HUC8=17100204 --query 'state=OR' --json",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		typeName, _ := cmd.Flags().GetString("type")
		unitFlags, _ := cmd.Flags().GetStringArray("unit")
		filterFlags, _ := cmd.Flags().GetStringArray("filter")
		query, _ := cmd.Flags().GetString("query")
		asJSON, _ := cmd.Flags().GetBool("json")
		listIDs, _ := cmd.Flags().GetBool("ids")
		xlsxPath, _ := cmd.Flags().GetString("xlsx")

		t, err := barrier.ParseType(typeName)
		if err != nil {
			return err
		}
		units, err := parseUnits(unitFlags)
		if err != nil {
			return err
		}
		filters, err := parseFilters(filterFlags)
		if err != nil {
			return err
		}
		if query != "" {
			parsed, err := facet.ParseQuery(query)
			if err != nil {
				return err
			}
			for f, v := range parsed {
				filters[f] = append(filters[f], v...)
			}
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		codec, err := newCodec()
		if err != nil {
			return err
		}

		sess, err := session.NewManager(newBuilder(st, codec, nil), session.NewCache(1, 0)).Create(ctx, t, units)
		if err != nil {
			return eris.Wrap(err, "facet")
		}
		snap, err := sess.SetFilters(filters)
		if err != nil {
			return eris.Wrap(err, "facet: apply filters")
		}

		zap.L().Debug("facet: loaded",
			zap.String("type", string(t)),
			zap.Int("records", sess.Stats.Records),
			zap.Int("malformed", sess.Stats.Malformed),
		)

		switch {
		case xlsxPath != "":
			return writeWorkbook(xlsxPath, t, sess.FilteredRecords())
		case listIDs:
			for _, id := range sess.FilteredIDs() {
				_, _ = fmt.Fprintln(os.Stdout, id)
			}
			return nil
		case asJSON:
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"query":    sess.QueryString(),
				"stats":    sess.Stats,
				"snapshot": snap,
			})
		}
		formatSnapshot(os.Stdout, snap, sess.Dimensions())
		return nil
	},
}

func init() {
	facetCmd.Flags().String("type", string(barrier.TypeDams), "barrier type: dams, small_barriers or combined_barriers")
	facetCmd.Flags().StringArray("unit", nil, "summary units as Layer=id[,id...] (repeatable)")
	facetCmd.Flags().StringArray("filter", nil, "filter as field=value[,value...] (repeatable)")
	facetCmd.Flags().String("query", "", "filters as an encoded query fragment")
	facetCmd.Flags().Bool("json", false, "print the snapshot as JSON")
	facetCmd.Flags().Bool("ids", false, "print ids of barriers passing all filters")
	facetCmd.Flags().String("xlsx", "", "write barriers passing all filters to an XLSX file")
	rootCmd.AddCommand(facetCmd)
}

func writeWorkbook(path string, t barrier.Type, records []barrier.Record) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "facet: create workbook")
	}
	if err := export.WriteXLSX(f, t, records); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return eris.Wrap(err, "facet: close workbook")
	}
	zap.L().Info("facet: wrote workbook", zap.String("path", path), zap.Int("barriers", len(records)))
	return nil
}

// formatSnapshot prints totals followed by one block per dimension with a
// count for each known value, in dimension order.
func formatSnapshot(out io.Writer, snap *facet.Snapshot, dims []facet.Dimension) {
	_, _ = fmt.Fprintf(out, "%s: %d of %d\n", snap.ValueField, snap.FilteredTotal, snap.Total)
	if q := facet.EncodeQuery(snap.Filters, nil); q != "" {
		_, _ = fmt.Fprintf(out, "filters: %s\n", q)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, d := range dims {
		totals := snap.Totals(d.Field)
		if len(totals) == 0 {
			continue
		}
		label := d.Label
		if label == "" {
			label = d.Field
		}
		_, _ = fmt.Fprintf(w, "\n%s\t\t\n", label)
		for _, v := range dimensionValues(d, totals) {
			marker := ""
			if slices.Contains(snap.Filters[d.Field], v) {
				marker = "*"
			}
			_, _ = fmt.Fprintf(w, "  %s%s\t%d\t\n", marker, valueLabel(d, v), totals[v])
		}
	}
	_ = w.Flush()
}

// dimensionValues lists declared values first, then any others seen in
// totals in sorted order.
func dimensionValues(d facet.Dimension, totals map[string]int) []string {
	seen := make(map[string]bool, len(d.Values))
	out := make([]string, 0, len(totals))
	for _, v := range d.Values {
		seen[v] = true
		if _, ok := totals[v]; ok {
			out = append(out, v)
		}
	}
	var extra []string
	for v := range totals {
		if !seen[v] {
			extra = append(extra, v)
		}
	}
	sort.Strings(extra)
	return append(out, extra...)
}

func valueLabel(d facet.Dimension, v string) string {
	if l, ok := d.Labels[v]; ok && l != "" {
		return l
	}
	return v
}
