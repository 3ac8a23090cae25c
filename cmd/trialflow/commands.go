package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/mikkeyboi/custom-neuropype/pkg/protocol"
	"github.com/mikkeyboi/custom-neuropype/pkg/query"
	"github.com/mikkeyboi/custom-neuropype/pkg/tui"
	"github.com/mikkeyboi/custom-neuropype/pkg/watch"
)

// Summarize / protocols flags
var (
	tableFile   string
	groupBy     string
	sqlQuery    string
	showPreset  string
	watchOutput string
	saveConfig  bool
)

var summarizeCmd = &cobra.Command{
	Use:   "summarize",
	Short: "Summarize a trial table with DuckDB",
	Long: `Print per-marker row counts and, when the table has them, accuracy and
mean reaction time per task type. The table may be Parquet, CSV, JSONL or a
DuckDB database written by trialflow.

Examples:
  trialflow summarize -i session.parquet
  trialflow summarize -i session.duckdb --group-by CountermandingType
  trialflow summarize -i session.parquet --sql "SELECT Marker, AVG(Time) FROM trials GROUP BY 1"`,
	RunE: runSummarize,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Reconvert a session whenever its marker files change",
	Long: `Convert once, then watch the inputs and convert again after every change.

Examples:
  trialflow watch -i live.jsonl -o live.parquet`,
	RunE: runWatch,
}

var protocolsCmd = &cobra.Command{
	Use:   "protocols",
	Short: "List built-in protocols or print one as YAML",
	Long: `Without flags, list the built-in protocol presets. With --show, print
a preset's YAML; copy it to start a custom protocol.`,
	RunE: runProtocols,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Print the configuration after files, environment and flags are applied.
With --save, write it to ~/.trialflow/config.yaml.`,
	RunE: runConfig,
}

func init() {
	summarizeCmd.Flags().StringVarP(&tableFile, "input", "i", "", "Table written by convert (required)")
	summarizeCmd.Flags().StringVar(&groupBy, "group-by", "", "Column to group accuracy and latency by (default TaskType)")
	summarizeCmd.Flags().StringVar(&sqlQuery, "sql", "", "Run this SQL instead; the table is registered as \"trials\"")
	summarizeCmd.MarkFlagRequired("input")

	watchCmd.Flags().StringArrayVarP(&inputFiles, "input", "i", nil, "Marker file (repeatable)")
	watchCmd.Flags().StringVarP(&watchOutput, "output", "o", "", "Output file path (required)")
	addOutputFlags(watchCmd)
	watchCmd.MarkFlagRequired("input")
	watchCmd.MarkFlagRequired("output")

	protocolsCmd.Flags().StringVar(&showPreset, "show", "", "Print the YAML of this preset")

	configCmd.Flags().BoolVar(&saveConfig, "save", false, "Write the effective configuration to the user config file")
}

func runSummarize(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	eng, err := query.NewEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	if err := eng.Register(ctx, "trials", tableFile); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if sqlQuery != "" {
		rows, err := eng.Query(ctx, sqlQuery)
		if err != nil {
			return err
		}
		for _, c := range rows.Columns {
			fmt.Fprintf(out, "%s\t", c)
		}
		fmt.Fprintln(out)
		for _, r := range rows.Values {
			for _, v := range r {
				fmt.Fprintf(out, "%v\t", v)
			}
			fmt.Fprintln(out)
		}
		return nil
	}

	opts := query.DefaultSummaryOptions()
	if groupBy != "" {
		opts.GroupBy = groupBy
	}
	s, err := eng.Summarize(ctx, "trials", opts)
	if err != nil {
		return err
	}
	tui.PrintTableSummary(out, tableFile, s)
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	c, err := newConverter(cmd)
	if err != nil {
		return err
	}
	if quarantinePath == "" {
		quarantinePath = settings.Decode.Quarantine
	}
	out := cmd.OutOrStdout()
	j := job{inputs: inputFiles, output: watchOutput, quarantine: quarantinePath}

	convert := func(changed string) error {
		report, err := c.run(cmd.Context(), j)
		if err != nil {
			return err
		}
		tui.PrintRunReport(out, report)
		return nil
	}
	if err := convert(""); err != nil {
		return err
	}

	w, err := watch.NewWatcher(
		watch.WithDebounce(settings.Watch.Debounce),
		watch.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	defer w.Close()

	w.OnChange = func(path string) error {
		logger.Info("input changed, reconverting", zap.String("path", path))
		return convert(path)
	}
	w.OnError = func(path string, err error) {
		tui.PrintFailure(cmd.ErrOrStderr(), path, err)
	}
	for _, in := range inputFiles {
		if err := w.Watch(in); err != nil {
			return err
		}
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "  watching %d file(s), Ctrl-C to stop\n", len(inputFiles))
	if err := w.Run(cmd.Context()); err != nil && cmd.Context().Err() == nil {
		return err
	}
	return nil
}

func runProtocols(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if showPreset != "" {
		data, err := protocol.PresetSource(showPreset)
		if err != nil {
			return err
		}
		_, err = out.Write(data)
		return err
	}

	tui.PrintProtocols(out, protocol.Presets(), settings.Protocol)
	if _, err := os.Stat(settings.Protocol); err == nil {
		spec, err := protocol.Load(settings.Protocol)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "  %s %s\n", "selected file:", spec)
	}
	return nil
}

func runConfig(cmd *cobra.Command, args []string) error {
	if saveConfig {
		if err := manager.Save(); err != nil {
			return err
		}
		logger.Info("configuration saved")
	}
	data, err := yaml.Marshal(settings)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
