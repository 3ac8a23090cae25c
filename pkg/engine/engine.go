// Package engine runs the trial reconstruction pipeline:
// decode, repair, segment, extract, assemble.
//
// Stages run strictly in order over an in-memory stream. The engine is
// deterministic: the same markers and protocol always produce the same
// table.
package engine

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"io"
	"math"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mikkeyboi/custom-neuropype/internal/model"
	"github.com/mikkeyboi/custom-neuropype/pkg/decode"
	"github.com/mikkeyboi/custom-neuropype/pkg/errors"
	"github.com/mikkeyboi/custom-neuropype/pkg/extract"
	"github.com/mikkeyboi/custom-neuropype/pkg/protocol"
	"github.com/mikkeyboi/custom-neuropype/pkg/repair"
	"github.com/mikkeyboi/custom-neuropype/pkg/segment"
	"github.com/mikkeyboi/custom-neuropype/pkg/table"
	"github.com/mikkeyboi/custom-neuropype/pkg/telemetry"
)

// Skip records a trial that produced no rows.
type Skip struct {
	Trial  int
	Reason string
}

// Summary describes what a run did to its input.
type Summary struct {
	RunID    string
	Protocol string

	Markers int
	Decoded int
	Dropped int
	Fixups  map[string]int

	Discarded        int
	Promoted         int
	Synthesized      int
	RepairIncomplete bool

	Trials        int
	Emitted       int
	Rows          int
	Skipped       []Skip
	MissingPhases map[string]int
	ConfigErrors  int
}

// Result is the output of one run.
type Result struct {
	Table   *table.Table
	Summary Summary
}

// Engine reconstructs trials for one protocol. An Engine may be reused
// for many runs but not concurrently.
type Engine struct {
	spec              *protocol.Spec
	strict            bool
	failOnConfigError bool
	logger            *zap.Logger
	tracer            trace.Tracer
	quarantine        *errors.Collector
	newRunID          func(markers []model.Marker) string
}

// Option configures an Engine.
type Option func(*Engine)

// WithStrict aborts the run on the first undecodable marker.
func WithStrict(strict bool) Option {
	return func(e *Engine) { e.strict = strict }
}

// WithFailOnConfigError aborts the run on the first trial whose terminal
// record cannot be mapped, instead of skipping that trial.
func WithFailOnConfigError(fail bool) Option {
	return func(e *Engine) { e.failOnConfigError = fail }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithTracer sets the tracer used for stage spans.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithQuarantine collects dropped markers and unmappable trials.
func WithQuarantine(c *errors.Collector) Option {
	return func(e *Engine) { e.quarantine = c }
}

// WithRunID replaces the run identifier. By default it is a name-based
// UUID of the protocol and the markers, so re-runs are byte-identical.
func WithRunID(fn func(markers []model.Marker) string) Option {
	return func(e *Engine) { e.newRunID = fn }
}

// RunID derives the default run identifier for a marker stream.
func RunID(protocolName string, markers []model.Marker) string {
	h := sha256.New()
	io.WriteString(h, protocolName)
	var buf [8]byte
	for _, m := range markers {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(m.Time))
		h.Write(buf[:])
		io.WriteString(h, m.Payload)
		h.Write([]byte{0})
	}
	return uuid.NewSHA1(runNamespace, h.Sum(nil)).String()
}

var runNamespace = uuid.MustParse("6f1c3b9e-2d4a-5e8f-9a7b-3c2d1e0f4a5b")

// New creates an engine for spec, validating it first.
func New(spec *protocol.Spec, opts ...Option) (*Engine, error) {
	if spec == nil {
		return nil, errors.Config("no protocol")
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		spec:   spec,
		logger: zap.NewNop(),
		tracer: otel.Tracer(telemetry.InstrumentationName),
	}
	e.newRunID = func(markers []model.Marker) string {
		return RunID(spec.Name, markers)
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Spec returns the engine's protocol.
func (e *Engine) Spec() *protocol.Spec {
	return e.spec
}

// Run processes one marker stream. It fails only on a DecodeError in
// strict mode, on a ConfigurationError when WithFailOnConfigError is set,
// or on cancellation.
func (e *Engine) Run(ctx context.Context, markers []model.Marker) (*Result, error) {
	sum := Summary{
		RunID:         e.newRunID(markers),
		Protocol:      e.spec.Name,
		Markers:       len(markers),
		MissingPhases: make(map[string]int),
	}
	log := e.logger.With(zap.String("run", sum.RunID), zap.String("protocol", e.spec.Name))

	ctx, span := e.tracer.Start(ctx, "trialflow.run",
		trace.WithAttributes(
			telemetry.Attr("protocol", e.spec.Name),
			telemetry.Attr("markers", len(markers)),
		))
	defer span.End()

	// 1. decode
	_, dspan := e.tracer.Start(ctx, "decode")
	dec := decode.New(
		decode.WithStrict(e.strict),
		decode.WithLogger(log),
		decode.WithQuarantine(e.quarantine),
	)
	events, dstats, err := dec.DecodeAll(ctx, markers)
	dspan.SetAttributes(telemetry.Attr("dropped", dstats.Dropped))
	if err != nil {
		telemetry.Fail(dspan, err)
		dspan.End()
		telemetry.Fail(span, err)
		return nil, err
	}
	dspan.End()
	sum.Decoded, sum.Dropped, sum.Fixups = dstats.Decoded, dstats.Dropped, dstats.Fixups

	// 2. repair
	_, rspan := e.tracer.Start(ctx, "repair")
	events, rep, werr := repair.Repair(e.spec, events, log)
	if werr != nil {
		log.Warn("repair incomplete at end of stream", zap.Error(werr))
		rspan.AddEvent(werr.Error())
	}
	rspan.End()
	sum.Discarded, sum.Promoted, sum.Synthesized = rep.Discarded, rep.Promoted, rep.Synthesized
	sum.RepairIncomplete = rep.Incomplete

	if err := ctx.Err(); err != nil {
		return nil, errors.ContextCanceled("run", err)
	}

	// 3. segment
	_, sspan := e.tracer.Start(ctx, "segment")
	trials := segment.Segment(e.spec, events)
	sspan.SetAttributes(telemetry.Attr("trials", len(trials)))
	sspan.End()
	sum.Trials = len(trials)

	// 4. extract
	_, xspan := e.tracer.Start(ctx, "extract")
	x := extract.New(e.spec, log)
	perTrial := make([][]model.DerivedEvent, 0, len(trials))
	for _, t := range trials {
		res, err := x.Extract(t)
		for _, p := range res.Missing {
			sum.MissingPhases[p]++
		}
		if err != nil {
			sum.ConfigErrors++
			if e.failOnConfigError {
				telemetry.Fail(xspan, err)
				xspan.End()
				telemetry.Fail(span, err)
				return nil, err
			}
			log.Warn("skipping trial", zap.Int("trial", t.Index), zap.Error(err))
			if e.quarantine != nil {
				first := t.Events[0]
				rec := errors.RecordFrom(first.Seq, first.Time, "", err)
				rec.Trial = t.Index
				e.quarantine.Add(rec)
			}
		}
		if res.Outcome != extract.Emitted {
			sum.Skipped = append(sum.Skipped, Skip{Trial: t.Index, Reason: res.Outcome.String()})
			log.Debug("trial skipped", zap.Int("trial", t.Index), zap.Stringer("reason", res.Outcome))
			continue
		}
		sum.Emitted++
		perTrial = append(perTrial, res.Rows)
	}
	xspan.End()

	// 5. assemble
	tbl := table.Assemble(e.spec, perTrial)
	sum.Rows = tbl.Len()
	span.SetAttributes(telemetry.Attr("rows", sum.Rows))

	log.Info("run complete",
		zap.Int("markers", sum.Markers),
		zap.Int("dropped", sum.Dropped),
		zap.Int("trials", sum.Trials),
		zap.Int("emitted", sum.Emitted),
		zap.Int("rows", sum.Rows))

	return &Result{Table: tbl, Summary: sum}, nil
}
