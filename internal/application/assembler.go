package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/paulmach/orb/geojson"

	"github.com/jobrunner/geosource/internal/domain"
	"github.com/jobrunner/geosource/internal/ports/output"
)

// AssembleOptions identifies the source being assembled and controls how
// malformed records are handled.
type AssembleOptions struct {
	Source        string
	Collection    string
	SkipMalformed bool
}

// Assembler turns store records into a FeatureCollection in the caller's
// projection.
type Assembler struct {
	projector output.Projector
	metrics   output.MetricsCollector
	logger    *slog.Logger
}

// NewAssembler creates a new result assembler.
func NewAssembler(projector output.Projector, metrics output.MetricsCollector, logger *slog.Logger) *Assembler {
	return &Assembler{
		projector: projector,
		metrics:   metrics,
		logger:    logger,
	}
}

// Assemble resolves every record in order and reprojects the feature
// geometries from native to caller when they differ.
func (a *Assembler) Assemble(ctx context.Context, records []domain.Record, caller, native domain.Projection, opts AssembleOptions) (*geojson.FeatureCollection, error) {
	fc := domain.NewFeatureCollection(len(records))

	for i := range records {
		if err := a.add(fc, records[i], opts); err != nil {
			return nil, err
		}
	}

	return a.reproject(ctx, fc, caller, native)
}

// AssembleStream consumes the cursor record by record, appending features in
// arrival order. The cursor is not closed.
func (a *Assembler) AssembleStream(ctx context.Context, cursor output.RecordCursor, caller, native domain.Projection, opts AssembleOptions) (*geojson.FeatureCollection, error) {
	fc := domain.NewFeatureCollection(0)

	for cursor.Next(ctx) {
		rec, err := cursor.Record()
		if err != nil {
			if a.skip(err, opts) {
				continue
			}
			return nil, a.streamError(err, opts)
		}
		if err := a.add(fc, rec, opts); err != nil {
			return nil, err
		}
	}
	if err := cursor.Err(); err != nil {
		return nil, a.streamError(err, opts)
	}
	// A cursor may stop early on cancellation without reporting it.
	if err := ctx.Err(); err != nil {
		return nil, a.streamError(err, opts)
	}

	return a.reproject(ctx, fc, caller, native)
}

func (a *Assembler) add(fc *geojson.FeatureCollection, rec domain.Record, opts AssembleOptions) error {
	if rec.DecodeErr != nil {
		if a.skip(rec.DecodeErr, opts) {
			return nil
		}
		return rec.DecodeErr
	}
	f, err := domain.ResolveFeature(rec)
	if err != nil {
		if a.skip(err, opts) {
			return nil
		}
		return err
	}
	fc.Append(f)
	return nil
}

// skip reports whether err is a malformed record that the source tolerates.
func (a *Assembler) skip(err error, opts AssembleOptions) bool {
	if !opts.SkipMalformed || !errors.Is(err, domain.ErrMalformedRecord) {
		return false
	}
	a.logger.Warn("skipping malformed record", "source", opts.Source, "error", err)
	a.metrics.IncMalformedRecords(opts.Source)
	return true
}

func (a *Assembler) streamError(err error, opts AssembleOptions) error {
	if errors.Is(err, domain.ErrMalformedRecord) {
		return err
	}
	return &domain.QueryError{
		Source:     opts.Source,
		Collection: opts.Collection,
		Operation:  "stream",
		Err:        err,
	}
}

func (a *Assembler) reproject(ctx context.Context, fc *geojson.FeatureCollection, caller, native domain.Projection) (*geojson.FeatureCollection, error) {
	if caller == native || len(fc.Features) == 0 {
		return fc, nil
	}

	projected, err := a.projector.ProjectCollection(ctx, native, caller, fc)
	if err != nil {
		return nil, fmt.Errorf("reproject features from %s to %s: %w", native, caller, err)
	}
	return projected, nil
}
