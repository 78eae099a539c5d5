package application

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jobrunner/geosource/internal/domain"
	"github.com/jobrunner/geosource/internal/ports/output"
)

const tracerName = "github.com/jobrunner/geosource/internal/application"

// Defaults for optional source settings.
const (
	DefaultSourceName   = "localdata"
	DefaultRecencyField = domain.FieldCreated
)

// SourceConfig holds the settings of a single data source.
type SourceConfig struct {
	Name          string           // Logical name, defaults to DefaultSourceName
	Driver        string           // Store driver, informational
	Collection    string           // Collection to query (required)
	GeoKey        string           // Path of the indexed location field (required)
	Projection    string           // Native projection, defaults to EPSG:4326
	Query         domain.Filter    // Base filter applied to every lookup
	Select        domain.Selection // Fields returned by the store
	FilterKey     string           // Key of the secondary filter (optional)
	RecencyField  string           // Sort field of GetMostRecent, defaults to DefaultRecencyField
	Stream        bool             // Consume results through a cursor
	SkipMalformed bool             // Drop unresolvable records instead of failing
	Limit         int64            // Maximum records per lookup, 0 for no limit
}

// Source answers bounding-box lookups against one collection of a record
// store. Its configuration is fixed at construction, so a Source may serve
// concurrent requests.
type Source struct {
	cfg       SourceConfig
	native    domain.Projection
	store     output.RecordStore
	projector output.Projector
	assembler *Assembler
	metrics   output.MetricsCollector
	logger    *slog.Logger
	tracer    trace.Tracer
}

// NewSource validates cfg and creates a source. It does not touch the store.
func NewSource(
	cfg SourceConfig,
	store output.RecordStore,
	projector output.Projector,
	metrics output.MetricsCollector,
	logger *slog.Logger,
) (*Source, error) {
	if cfg.Name == "" {
		cfg.Name = DefaultSourceName
	}
	if cfg.Collection == "" {
		return nil, &domain.ConfigError{Field: "collection", Message: "source " + cfg.Name + " needs a collection"}
	}
	if cfg.GeoKey == "" {
		return nil, &domain.ConfigError{Field: "key", Message: "source " + cfg.Name + " needs a geo key"}
	}
	if cfg.RecencyField == "" {
		cfg.RecencyField = DefaultRecencyField
	}
	if cfg.Limit < 0 {
		return nil, &domain.ConfigError{Field: "limit", Message: "limit must not be negative"}
	}

	native, err := projector.Canonical(cfg.Projection)
	if err != nil {
		return nil, &domain.ConfigError{Field: "projection", Message: "source " + cfg.Name + ": " + err.Error()}
	}

	return &Source{
		cfg:       cfg,
		native:    native,
		store:     store,
		projector: projector,
		assembler: NewAssembler(projector, metrics, logger),
		metrics:   metrics,
		logger:    logger.With("source", cfg.Name),
		tracer:    otel.Tracer(tracerName),
	}, nil
}

// Name returns the logical source name.
func (s *Source) Name() string {
	return s.cfg.Name
}

// Native returns the canonical native projection.
func (s *Source) Native() domain.Projection {
	return s.native
}

// Store returns the underlying record store.
func (s *Source) Store() output.RecordStore {
	return s.store
}

// Info returns the static description of the source.
func (s *Source) Info() domain.SourceInfo {
	return domain.SourceInfo{
		Name:       s.cfg.Name,
		Driver:     s.cfg.Driver,
		Collection: s.cfg.Collection,
		GeoKey:     s.cfg.GeoKey,
		Projection: s.native,
		Streaming:  s.cfg.Stream,
		FilterKey:  s.cfg.FilterKey,
	}
}

// GetShapes returns every record inside the request box as a GeoJSON feature
// in the caller's projection.
func (s *Source) GetShapes(ctx context.Context, req domain.BoundsRequest) (*geojson.FeatureCollection, error) {
	const op = "get_shapes"
	ctx, span := s.startSpan(ctx, "source.GetShapes", req)
	defer span.End()

	start := time.Now()
	fc, err := s.getShapes(ctx, req)
	s.observe(op, start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	s.metrics.ObserveFeatureCount(s.cfg.Name, len(fc.Features))
	span.SetAttributes(attribute.Int("features", len(fc.Features)))
	s.logger.Debug("fetched and processed records",
		"count", len(fc.Features),
		"duration", time.Since(start),
		"streaming", s.cfg.Stream,
	)
	return fc, nil
}

func (s *Source) getShapes(ctx context.Context, req domain.BoundsRequest) (*geojson.FeatureCollection, error) {
	caller, q, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	opts := AssembleOptions{
		Source:        s.cfg.Name,
		Collection:    s.cfg.Collection,
		SkipMalformed: s.cfg.SkipMalformed,
	}

	if s.cfg.Stream {
		cursor, err := s.store.Stream(ctx, q)
		if err != nil {
			return nil, s.queryError("stream", err)
		}
		defer func() {
			if err := cursor.Close(ctx); err != nil {
				s.logger.Warn("failed to close cursor", "error", err)
			}
		}()
		return s.assembler.AssembleStream(ctx, cursor, caller, s.native, opts)
	}

	records, err := s.store.Find(ctx, q)
	if err != nil {
		return nil, s.queryError("find", err)
	}
	return s.assembler.Assemble(ctx, records, caller, s.native, opts)
}

// GetMostRecent returns the newest record inside the request box, ordered by
// the recency field. It returns nil and no error when nothing matches. The
// record is returned as stored, without conversion to a feature.
func (s *Source) GetMostRecent(ctx context.Context, req domain.BoundsRequest) (*domain.Record, error) {
	const op = "get_most_recent"
	ctx, span := s.startSpan(ctx, "source.GetMostRecent", req)
	defer span.End()

	start := time.Now()
	rec, err := s.getMostRecent(ctx, req)
	s.observe(op, start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Bool("found", rec != nil))
	return rec, nil
}

func (s *Source) getMostRecent(ctx context.Context, req domain.BoundsRequest) (*domain.Record, error) {
	_, q, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	q.Sort = []domain.SortField{{Field: s.cfg.RecencyField, Descending: true}}

	rec, err := s.store.FindOne(ctx, q)
	if errors.Is(err, domain.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, s.queryError("find_one", err)
	}
	return rec, nil
}

// prepare canonicalizes the caller projection, transforms the request box into
// the native projection and builds the store query.
func (s *Source) prepare(ctx context.Context, req domain.BoundsRequest) (domain.Projection, domain.Query, error) {
	if err := req.Validate(); err != nil {
		return "", domain.Query{}, err
	}

	caller, err := s.projector.Canonical(req.Projection)
	if err != nil {
		return "", domain.Query{}, err
	}

	box, err := TransformBounds(ctx, s.projector, req.Bound(), caller, s.native)
	if err != nil {
		return "", domain.Query{}, err
	}

	return caller, s.buildQuery(req, box), nil
}

func (s *Source) buildQuery(req domain.BoundsRequest, box orb.Bound) domain.Query {
	filter := BuildFilter(s.cfg.Query, s.cfg.GeoKey, box)
	if s.cfg.FilterKey != "" && req.FilterValue != "" {
		filter[s.cfg.FilterKey] = req.FilterValue
	}

	return domain.Query{
		Collection: s.cfg.Collection,
		Filter:     filter,
		Select:     s.cfg.Select,
		GeoKey:     s.cfg.GeoKey,
		Box:        box,
		Limit:      s.cfg.Limit,
	}
}

func (s *Source) queryError(op string, err error) error {
	return &domain.QueryError{
		Source:     s.cfg.Name,
		Collection: s.cfg.Collection,
		Operation:  op,
		Err:        err,
	}
}

func (s *Source) observe(op string, start time.Time, err error) {
	s.metrics.IncQueryCount(s.cfg.Name, op, err == nil)
	s.metrics.ObserveQueryDuration(s.cfg.Name, op, time.Since(start))
	if err != nil {
		s.logger.Warn("query failed", "operation", op, "error", err)
	}
}

func (s *Source) startSpan(ctx context.Context, name string, req domain.BoundsRequest) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("source", s.cfg.Name),
		attribute.String("collection", s.cfg.Collection),
		attribute.String("projection.native", s.native.String()),
		attribute.String("projection.caller", req.Projection),
		attribute.Float64Slice("bbox", []float64{req.MinX, req.MinY, req.MaxX, req.MaxY}),
	))
}
