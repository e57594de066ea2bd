package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/barrier-explorer/internal/tier"
)

var tiersCmd = &cobra.Command{
	Use:         "tiers",
	Short:       "Decode and encode packed network tiers",
	Annotations: map[string]string{modeKey: "tiers"},
}

var tiersDecodeCmd = &cobra.Command{
	Use:   "decode <packed>...",
	Short: "Decode packed tier values",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		codec, err := newCodec()
		if err != nil {
			return err
		}
		asJSON, _ := cmd.Flags().GetBool("json")

		results, err := decodeValues(codec, args)
		if err != nil {
			return err
		}
		if asJSON {
			return json.NewEncoder(os.Stdout).Encode(results)
		}
		formatDecoded(os.Stdout, codec.Fields(), results)
		return nil
	},
}

var tiersEncodeCmd = &cobra.Command{
	Use:     "encode <field=tier>...",
	Short:   "Pack tier scores into one value",
	Example: "  barriers tiers encode NC=1 WC=3 NCWC=2",
	RunE: func(cmd *cobra.Command, args []string) error {
		codec, err := newCodec()
		if err != nil {
			return err
		}
		packed, err := encodeScores(codec, args)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(os.Stdout, packed)
		return nil
	},
}

func init() {
	tiersDecodeCmd.Flags().Bool("json", false, "print results as JSON")
	tiersCmd.AddCommand(tiersDecodeCmd, tiersEncodeCmd)
	rootCmd.AddCommand(tiersCmd)
}

type decoded struct {
	Packed    int64       `json:"packed"`
	Tiers     tier.Scores `json:"tiers"`
	Malformed bool        `json:"malformed"`
}

func decodeValues(codec *tier.Codec, args []string) ([]decoded, error) {
	out := make([]decoded, 0, len(args))
	for _, arg := range args {
		packed, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return nil, eris.Wrapf(err, "tiers: parse %q", arg)
		}
		scores, err := codec.Decode(packed)
		if err != nil && !errors.Is(err, tier.ErrMalformed) {
			return nil, err
		}
		out = append(out, decoded{Packed: packed, Tiers: scores, Malformed: err != nil})
	}
	return out, nil
}

func encodeScores(codec *tier.Codec, args []string) (int64, error) {
	scores := make(tier.Scores, len(args))
	known := make(map[string]bool)
	for _, f := range codec.Fields() {
		known[f.Name] = true
	}
	for _, arg := range args {
		name, raw, ok := strings.Cut(arg, "=")
		if !ok {
			return 0, eris.Errorf("tiers: %q: expected field=tier", arg)
		}
		if !known[name] {
			return 0, eris.Errorf("tiers: unknown field %q", name)
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return 0, eris.Wrapf(err, "tiers: parse %q", arg)
		}
		scores[name] = tier.Score(v)
	}
	return tier.Encode(scores, codec.Fields())
}

func formatDecoded(out io.Writer, fields []tier.Field, results []decoded) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	header := []string{"PACKED"}
	for _, f := range fields {
		header = append(header, f.Name)
	}
	_, _ = fmt.Fprintln(w, strings.Join(header, "\t"))

	for _, r := range results {
		row := []string{strconv.FormatInt(r.Packed, 10)}
		if r.Malformed {
			row[0] += " (malformed)"
		}
		for _, f := range fields {
			row = append(row, r.Tiers[f.Name].String())
		}
		_, _ = fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	_ = w.Flush()
}
