package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"notechart/adapters/excel"
	"notechart/adapters/sqlstore"
	"notechart/app"
	"notechart/domain/core"
	"notechart/domain/note"
	"notechart/domain/policy"
	"notechart/domain/stage"
	"notechart/internal/config"
	"notechart/internal/container"
	"notechart/internal/exemplar"
	"notechart/internal/inference"
	"notechart/internal/insight"
	"notechart/internal/logger"
	"notechart/ports"
)

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:           "notechart",
		Short:         "Chart recommendations and insights for structured notebooks",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newAnalyzeCmd(),
		newImportCmd(),
		newExportCmd(),
		newPolicyCmd(),
		newExemplarsCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type analyzeFlags struct {
	xlsx       string
	notebook   string
	chartType  string
	noteIDs    []string
	from, to   string
	missing    string
	policyPath string
	format     string
	refresh    bool
}

func newAnalyzeCmd() *cobra.Command {
	var f analyzeFlags

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Recommend or configure a chart for a notebook",
		Long: `Run the chart pipeline for one notebook, read from an xlsx workbook
(one sheet per notebook) or from the configured database.

Example: notechart analyze --xlsx journal.xlsx --notebook "Work journal" --chart-type bar --format md`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAnalyze(cmd.Context(), cmd.OutOrStdout(), f)
		},
	}

	cmd.Flags().StringVar(&f.xlsx, "xlsx", "", "Read notes from this workbook instead of the database")
	cmd.Flags().StringVar(&f.notebook, "notebook", "", "Notebook id (sheet name for --xlsx)")
	cmd.Flags().StringVar(&f.chartType, "chart-type", "", "Configure this chart type instead of recommending one")
	cmd.Flags().StringSliceVar(&f.noteIDs, "note", nil, "Restrict to these note ids")
	cmd.Flags().StringVar(&f.from, "from", "", "Earliest created_at (RFC3339)")
	cmd.Flags().StringVar(&f.to, "to", "", "Created_at upper bound, exclusive (RFC3339)")
	cmd.Flags().StringVar(&f.missing, "missing-fields", "", "JSON array of fields to derive")
	cmd.Flags().StringVar(&f.policyPath, "policy", "", "Policy file, overrides POLICY_PATH")
	cmd.Flags().StringVar(&f.format, "format", "json", "Output format: json, md or html")
	cmd.Flags().BoolVar(&f.refresh, "refresh", false, "Ignore cached results")
	_ = cmd.MarkFlagRequired("notebook")

	return cmd
}

func runAnalyze(ctx context.Context, out io.Writer, f analyzeFlags) error {
	req := app.AnalysisRequest{
		NotebookID: f.notebook,
		NoteIDs:    f.noteIDs,
		ChartType:  f.chartType,
		Refresh:    f.refresh,
	}
	var err error
	if req.Range, err = parseRange(f.from, f.to); err != nil {
		return err
	}
	if f.missing != "" {
		if err := json.Unmarshal([]byte(f.missing), &req.MissingFields); err != nil {
			return fmt.Errorf("invalid --missing-fields: %w", err)
		}
	}

	c, err := newContainer(ctx, f.xlsx, f.policyPath)
	if err != nil {
		return err
	}
	defer c.Close()

	result, err := c.Analysis.Analyze(ctx, req)
	if err != nil {
		return err
	}
	return writeResult(out, f.format, result)
}

func writeResult(out io.Writer, format string, r *app.AnalysisResult) error {
	switch format {
	case "md":
		_, err := io.WriteString(out, r.Narrative)
		return err
	case "html":
		_, err := out.Write(insight.HTML(r.NotebookID, r.Primary.CoreQuestion, r.Insights))
		return err
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}
	return fmt.Errorf("unknown format %q", format)
}

func parseRange(from, to string) (core.TimeRange, error) {
	var r core.TimeRange
	var err error
	if from != "" {
		if r.From, err = time.Parse(time.RFC3339, from); err != nil {
			return r, fmt.Errorf("invalid --from (use RFC3339): %w", err)
		}
	}
	if to != "" {
		if r.To, err = time.Parse(time.RFC3339, to); err != nil {
			return r, fmt.Errorf("invalid --to (use RFC3339): %w", err)
		}
	}
	return r, nil
}

// newContainer wires the pipeline over a workbook, or over the configured
// database when xlsx is empty
func newContainer(ctx context.Context, xlsx, policyPath string) (*container.Container, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if policyPath != "" {
		cfg.Policy.Path = policyPath
	}
	lg, err := logger.New(cfg.Log.Mode, "warn")
	if err != nil {
		return nil, err
	}

	c, err := container.New(cfg, lg)
	if err != nil {
		return nil, err
	}
	if xlsx != "" {
		if cfg.Cache.Backend == "sql" {
			cfg.Cache.Backend = "memory"
		}
		if err := c.Init(ctx, excel.NewWorkbook(excel.DefaultConfig(xlsx), lg)); err != nil {
			_ = c.Close()
			return nil, err
		}
		return c, nil
	}

	db, err := sqlstore.OpenAndMigrate(ctx, cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	if err := c.InitWithDatabase(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

func openStore(ctx context.Context) (*sqlstore.NoteStore, func() error, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	db, err := sqlstore.OpenAndMigrate(ctx, cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		return nil, nil, err
	}
	return sqlstore.NewNoteStore(db), db.Close, nil
}

func newImportCmd() *cobra.Command {
	var sheets []string

	cmd := &cobra.Command{
		Use:   "import [workbook.xlsx]",
		Short: "Load workbook sheets into the database as notebooks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			wb := excel.NewWorkbook(excel.DefaultConfig(args[0]), nil)
			if len(sheets) == 0 {
				var err error
				if sheets, err = wb.Sheets(); err != nil {
					return err
				}
			}

			store, closeDB, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer closeDB()

			for _, sheet := range sheets {
				snap, err := wb.Snapshot(ctx, ports.SnapshotQuery{NotebookID: sheet})
				if err != nil {
					return err
				}
				if err := store.Import(ctx, snap); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d fields, %d notes\n", sheet, len(snap.Template), len(snap.Notes))
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&sheets, "sheet", nil, "Import only these sheets")
	return cmd
}

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export [workbook.xlsx] [notebook-id...]",
		Short: "Write notebooks from the database to a workbook",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, closeDB, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer closeDB()

			snaps := make([]*note.Snapshot, 0, len(args)-1)
			for _, id := range args[1:] {
				snap, err := store.Snapshot(ctx, ports.SnapshotQuery{NotebookID: id})
				if err != nil {
					return err
				}
				snaps = append(snaps, snap)
			}
			return excel.Export(args[0], snaps...)
		},
	}
	return cmd
}

func newPolicyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect policy documents",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check [policy.yaml]",
		Short: "Parse and validate a policy file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := policy.LoadFile(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "policy %s ok: sample_limit=%d bar_max_categories=%d vocabularies=%d scenes=%d\n",
				p.Version, p.SampleLimit, p.Gates.BarMaxCategories, len(p.FixedVocabularies), len(p.DefaultCoreQuestionByScene))
			return nil
		},
	})
	return cmd
}

func newExemplarsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exemplars",
		Short: "Summarize the embedded exemplar set",
		RunE: func(cmd *cobra.Command, _ []string) error {
			set, err := exemplar.Load()
			if err != nil {
				return err
			}
			counts := make(map[stage.StageName]int)
			for _, e := range set.Exemplars {
				counts[e.Stage]++
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "exemplar set %s (%d total)\n", set.Version, set.Len())
			names := make([]string, 0, len(counts))
			for st := range counts {
				names = append(names, string(st))
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(out, "  %-14s %d\n", name, counts[stage.StageName(name)])
			}
			fmt.Fprintf(out, "  %d per prompt\n", inference.DefaultConfig().ExemplarsPerStage)
			return nil
		},
	}
}
