package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mikkeyboi/custom-neuropype/pkg/engine"
	"github.com/mikkeyboi/custom-neuropype/pkg/errors"
	"github.com/mikkeyboi/custom-neuropype/pkg/protocol"
	"github.com/mikkeyboi/custom-neuropype/pkg/source"
	"github.com/mikkeyboi/custom-neuropype/pkg/table"
	"github.com/mikkeyboi/custom-neuropype/pkg/tui"
	"github.com/mikkeyboi/custom-neuropype/pkg/writer"
)

// Conversion flags
var (
	inputFiles        []string
	outputFile        string
	outputDir         string
	formatFlag        string
	compressionFlag   string
	strictFlag        bool
	failOnConfigError bool
	quarantinePath    string
	metadataFlags     []string
	jobs              int
	quiet             bool
)

var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Reconstruct trials from one session",
	Long: `Decode, repair and segment a marker stream, then write one row per
canonical trial event.

Several inputs are concatenated in argument order; use this for sessions
that were split across recordings.

Examples:
  trialflow convert -i session.jsonl -o session.parquet
  trialflow convert -i part1.csv -i part2.csv -o session.csv -p saccade-v1
  trialflow convert -i session.jsonl -o session.xlsx --quarantine bad.jsonl`,
	RunE: runConvert,
}

var batchCmd = &cobra.Command{
	Use:   "batch [input-file...]",
	Short: "Convert many independent sessions in parallel",
	Long: `Convert each input to its own output in the directory given by -o.

Examples:
  trialflow batch -o out/ data/*.jsonl
  trialflow batch -o out/ --format csv -j 8 data/*.jsonl`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBatch,
}

func init() {
	convertCmd.Flags().StringArrayVarP(&inputFiles, "input", "i", nil, "Marker file (repeatable; .jsonl, .csv, .tsv)")
	convertCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file path (required)")
	addOutputFlags(convertCmd)
	convertCmd.Flags().StringArrayVar(&metadataFlags, "metadata", nil, "Extra output metadata (format: key=value)")
	convertCmd.MarkFlagRequired("input")
	convertCmd.MarkFlagRequired("output")

	batchCmd.Flags().StringVarP(&outputDir, "output", "o", "", "Output directory (required)")
	batchCmd.Flags().IntVarP(&jobs, "jobs", "j", 4, "Sessions converted concurrently")
	batchCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Hide the progress bar")
	addOutputFlags(batchCmd)
	batchCmd.MarkFlagRequired("output")
}

func addOutputFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&formatFlag, "format", "f", "", "Output format (parquet, csv, xlsx, jsonl, duckdb)")
	cmd.Flags().StringVar(&compressionFlag, "compression", "", "Parquet compression (none, snappy, gzip, zstd, lz4)")
	cmd.Flags().BoolVar(&strictFlag, "strict", false, "Abort on the first undecodable marker")
	cmd.Flags().BoolVar(&failOnConfigError, "fail-on-config-error", false, "Abort when a trial cannot be mapped by the protocol")
	cmd.Flags().StringVar(&quarantinePath, "quarantine", "", "Write dropped markers and skipped trials here (.csv or .jsonl)")
}

// job is one conversion: inputs read in order, one output.
type job struct {
	inputs     []string
	output     string
	quarantine string
	metadata   map[string]string
}

// converter holds what is shared by every job of a command.
type converter struct {
	spec   *protocol.Spec
	wcfg   writer.Config
	strict bool
	failOn bool

	// fallback is used when neither --format nor the output extension
	// names a format.
	fallback writer.Format
}

func newConverter(cmd *cobra.Command) (*converter, error) {
	spec, err := protocol.Resolve(settings.Protocol)
	if err != nil {
		return nil, err
	}

	c := &converter{
		spec:   spec,
		strict: settings.Decode.Strict,
		failOn: settings.Extract.FailOnConfigError,
		wcfg: writer.Config{
			BatchSize:   settings.Output.BatchSize,
			Compression: writer.ParseCompression(settings.Output.Compression),
		},
		fallback: writer.ParseFormat(settings.Output.Format),
	}
	if c.fallback == writer.FormatUnknown {
		c.fallback = writer.FormatParquet
	}
	if cmd.Flags().Changed("strict") {
		c.strict = strictFlag
	}
	if cmd.Flags().Changed("fail-on-config-error") {
		c.failOn = failOnConfigError
	}
	if compressionFlag != "" {
		c.wcfg.Compression = writer.ParseCompression(compressionFlag)
	}
	if formatFlag != "" {
		c.wcfg.Format = writer.ParseFormat(formatFlag)
		if c.wcfg.Format == writer.FormatUnknown {
			return nil, errors.Newf(errors.CodeWrite, "unknown output format %q", formatFlag)
		}
	}
	return c, nil
}

// run converts one job and returns its report.
func (c *converter) run(ctx context.Context, j job) (*tui.RunReport, error) {
	start := time.Now()
	log := logger.With(zap.Strings("inputs", j.inputs))

	markers, err := source.ReadAll(ctx, j.inputs...)
	if err != nil {
		return nil, err
	}

	var quarantine *errors.Collector
	if j.quarantine != "" {
		quarantine = errors.NewCollector(0)
	}

	eng, err := engine.New(c.spec,
		engine.WithStrict(c.strict),
		engine.WithFailOnConfigError(c.failOn),
		engine.WithLogger(log),
		engine.WithTracer(exporter.Tracer()),
		engine.WithQuarantine(quarantine),
	)
	if err != nil {
		return nil, err
	}

	res, err := eng.Run(ctx, markers)
	if err != nil {
		return nil, err
	}

	wcfg := c.wcfg
	if wcfg.Format == writer.FormatUnknown {
		wcfg.Format = writer.DetectFormat(j.output)
	}
	if wcfg.Format == writer.FormatUnknown {
		wcfg.Format = c.fallback
	}
	wcfg.Metadata = outputMetadata(res.Table, res.Summary, j.metadata)
	if err := writer.WriteFile(ctx, j.output, res.Table, wcfg); err != nil {
		return nil, err
	}

	if quarantine != nil {
		if err := writeQuarantine(ctx, j.quarantine, quarantine); err != nil {
			return nil, err
		}
		log.Info("quarantine written", zap.String("path", j.quarantine), zap.Int("records", quarantine.Count()))
	}

	report := &tui.RunReport{
		Inputs:   j.inputs,
		Output:   j.output,
		Duration: time.Since(start),
		Summary:  res.Summary,
	}
	for _, in := range j.inputs {
		if st, err := os.Stat(in); err == nil {
			report.InputSize += st.Size()
		}
	}
	if st, err := os.Stat(j.output); err == nil {
		report.OutputSize = st.Size()
	}
	return report, nil
}

func outputMetadata(t *table.Table, s engine.Summary, extra map[string]string) map[string]string {
	md := map[string]string{
		"trialflow:kind":     t.Kind,
		"trialflow:protocol": s.Protocol,
		"trialflow:run_id":   s.RunID,
		"trialflow:version":  version,
	}
	for k, v := range extra {
		md[k] = v
	}
	return md
}

func writeQuarantine(ctx context.Context, path string, c *errors.Collector) error {
	stream := errors.NewStream(path, errors.FormatForPath(path))
	if err := stream.Open(); err != nil {
		return err
	}
	if err := c.WriteTo(ctx, stream); err != nil {
		stream.Close()
		return errors.Wrap(err, errors.CodeWrite, "failed to write quarantine").WithContext("path", path)
	}
	return stream.Close()
}

func parseMetadata(flags []string) (map[string]string, error) {
	md := make(map[string]string, len(flags))
	for _, f := range flags {
		k, v, ok := strings.Cut(f, "=")
		if !ok || k == "" {
			return nil, errors.Config("invalid metadata %q (want key=value)", f)
		}
		md[k] = v
	}
	return md, nil
}

func runConvert(cmd *cobra.Command, args []string) error {
	c, err := newConverter(cmd)
	if err != nil {
		return err
	}
	md, err := parseMetadata(metadataFlags)
	if err != nil {
		return err
	}
	if quarantinePath == "" {
		quarantinePath = settings.Decode.Quarantine
	}

	report, err := c.run(cmd.Context(), job{
		inputs:     inputFiles,
		output:     outputFile,
		quarantine: quarantinePath,
		metadata:   md,
	})
	if err != nil {
		return err
	}
	tui.PrintRunReport(cmd.OutOrStdout(), report)
	return nil
}

// batchJobs maps each input to its own output and quarantine file. Inputs
// whose names would collide in outputDir are rejected.
func batchJobs(inputs []string, outputDir, quarantineDir, ext string) ([]job, error) {
	seen := make(map[string]string, len(inputs))
	out := make([]job, len(inputs))
	for i, in := range inputs {
		base := strings.TrimSuffix(filepath.Base(in), filepath.Ext(in))
		key := strings.ToLower(base)
		if prev, ok := seen[key]; ok {
			return nil, errors.Config("inputs %s and %s would both be written to %s",
				prev, in, filepath.Join(outputDir, base+ext))
		}
		seen[key] = in

		out[i] = job{
			inputs: []string{in},
			output: filepath.Join(outputDir, base+ext),
		}
		if quarantineDir != "" {
			out[i].quarantine = filepath.Join(quarantineDir, base+".quarantine.jsonl")
		}
	}
	return out, nil
}

func runBatch(cmd *cobra.Command, args []string) error {
	c, err := newConverter(cmd)
	if err != nil {
		return err
	}
	if c.wcfg.Format == writer.FormatUnknown {
		c.wcfg.Format = c.fallback
	}
	batch, err := batchJobs(args, outputDir, quarantinePath, c.wcfg.Format.Extension())
	if err != nil {
		return err
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return errors.Wrap(err, errors.CodeWrite, "failed to create output directory")
	}
	// In batch mode --quarantine names a directory.
	if quarantinePath != "" {
		if err := os.MkdirAll(quarantinePath, 0755); err != nil {
			return errors.Wrap(err, errors.CodeWrite, "failed to create quarantine directory")
		}
	}

	out := cmd.OutOrStdout()
	var bar interface{ Add(int) error }
	if !quiet {
		bar = tui.ShowProgress(cmd.ErrOrStderr(), int64(len(args)), "converting")
	}

	reports := make([]*tui.RunReport, len(args))
	failures := make([]error, len(args))

	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(max(jobs, 1))
	for i, j := range batch {
		i, j := i, j
		g.Go(func() error {
			reports[i], failures[i] = c.run(ctx, j)
			if bar != nil {
				bar.Add(1)
			}
			// Sessions are independent: only cancellation stops the batch.
			if errors.IsCode(failures[i], errors.CodeContextCanceled) {
				return failures[i]
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var failed errors.MultiError
	for i, in := range args {
		if failures[i] != nil {
			tui.PrintFailure(out, in, failures[i])
			failed.Add(fmt.Errorf("%s: %w", in, failures[i]))
			continue
		}
		tui.PrintRunReport(out, reports[i])
	}
	return failed.Combined()
}
