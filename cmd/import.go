package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/barrier-explorer/internal/barrier"
	"github.com/sells-group/barrier-explorer/internal/shapefile"
)

var importCmd = &cobra.Command{
	Use:         "import",
	Short:       "Import barrier shapefiles into the store",
	Annotations: map[string]string{modeKey: "import"},
	Long: "Reads point shapefiles of a single barrier type, from disk, ZIP archives or URLs, and upserts them by id. " +
		"Packed tier columns tiers, ptiers and mtiers are stored as-is.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		typeName, _ := cmd.Flags().GetString("type")
		sources, _ := cmd.Flags().GetStringArray("shp")
		idField, _ := cmd.Flags().GetString("id-field")
		charset, _ := cmd.Flags().GetString("charset")
		migrate, _ := cmd.Flags().GetBool("migrate")

		t, err := barrier.ParseType(typeName)
		if err != nil {
			return err
		}
		if t == barrier.TypeCombined {
			return eris.New("import: combined_barriers is derived from dams and small_barriers")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if migrate {
			if err := st.Migrate(ctx); err != nil {
				return eris.Wrap(err, "import: migrate")
			}
		}

		workDir, err := os.MkdirTemp("", "barriers-import-")
		if err != nil {
			return eris.Wrap(err, "import: create work dir")
		}
		defer os.RemoveAll(workDir) //nolint:errcheck

		var shps []string
		for _, src := range sources {
			paths, err := shapefile.Resolve(ctx, src, workDir)
			if err != nil {
				return eris.Wrap(err, "import")
			}
			shps = append(shps, paths...)
		}

		batches := make([][]barrier.RawRecord, len(shps))
		g, _ := errgroup.WithContext(ctx)
		g.SetLimit(4)
		for i, path := range shps {
			g.Go(func() error {
				records, err := shapefile.ReadBarriers(path, t,
					shapefile.WithIDField(idField),
					shapefile.WithCharset(charset),
				)
				if err != nil {
					return err
				}
				batches[i] = records
				zap.L().Info("import: read shapefile",
					zap.String("path", path),
					zap.Int("records", len(records)),
				)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return eris.Wrap(err, "import")
		}

		var records []barrier.RawRecord
		for _, b := range batches {
			records = append(records, b...)
		}
		n, err := st.UpsertBarriers(ctx, records)
		if err != nil {
			return eris.Wrap(err, "import: upsert")
		}
		total, err := st.CountBarriers(ctx, t)
		if err != nil {
			return eris.Wrap(err, "import: count")
		}

		zap.L().Info("import complete",
			zap.String("type", string(t)),
			zap.Int("files", len(shps)),
			zap.Int64("upserted", n),
			zap.Int64("total", total),
		)
		return nil
	},
}

func init() {
	importCmd.Flags().String("type", string(barrier.TypeDams), "barrier type: dams or small_barriers")
	importCmd.Flags().StringArray("shp", nil, "point shapefile, .zip archive or http(s) URL (repeatable, required)")
	importCmd.Flags().String("id-field", shapefile.DefaultIDField, "attribute holding the barrier id")
	importCmd.Flags().String("charset", "", "DBF attribute encoding (default from the .cpg sidecar, else UTF-8)")
	importCmd.Flags().Bool("migrate", false, "apply schema migrations before importing")
	_ = importCmd.MarkFlagRequired("shp")
	rootCmd.AddCommand(importCmd)
}
