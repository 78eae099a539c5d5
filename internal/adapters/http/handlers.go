package http

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/project"

	"github.com/jobrunner/geosource/internal/application"
	"github.com/jobrunner/geosource/internal/domain"
)

// maxTileZoom is the deepest tile level served.
const maxTileZoom = 24

const contentTypeGeoJSON = "application/geo+json"

// handleHealth returns detailed health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	details := s.deps.Health.GetHealthDetails(r.Context())

	status := http.StatusOK
	if !details.Healthy {
		status = http.StatusServiceUnavailable
	}

	s.writeJSON(w, status, map[string]interface{}{
		"status":         boolToStatus(details.Healthy),
		"ready":          details.Ready,
		"sources_loaded": details.SourcesLoaded,
		"sources_ready":  details.SourcesReady,
		"components":     details.Components,
	})
}

// handleLiveness returns liveness status.
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health.IsHealthy(r.Context()) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	} else {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
	}
}

// handleReadiness returns readiness status.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health.IsReady(r.Context()) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	} else {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
	}
}

// handleListSources returns all registered sources.
func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.deps.Catalog.ListSources(r.Context())
	if err != nil {
		s.handleError(w, err)
		return
	}

	response := make([]map[string]interface{}, len(sources))
	for i := range sources {
		response[i] = formatSource(&sources[i])
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"sources": response,
		"count":   len(sources),
	})
}

// handleGetSource returns a specific source.
func (s *Server) handleGetSource(w http.ResponseWriter, r *http.Request) {
	info, err := s.deps.Catalog.GetSource(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		s.handleError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, formatSource(info))
}

// handleShapes returns the features of a source inside a bounding box.
func (s *Server) handleShapes(w http.ResponseWriter, r *http.Request) {
	req, err := parseBoundsRequest(r)
	if err != nil {
		s.handleError(w, err)
		return
	}
	s.writeShapes(w, r, req)
}

// handleTile returns the features of a source inside a web map tile.
func (s *Server) handleTile(w http.ResponseWriter, r *http.Request) {
	req, err := parseTileRequest(r)
	if err != nil {
		s.handleError(w, err)
		return
	}
	s.writeShapes(w, r, req)
}

func (s *Server) writeShapes(w http.ResponseWriter, r *http.Request, req domain.BoundsRequest) {
	ctx, cancel := s.queryContext(r)
	defer cancel()

	fc, err := s.deps.Shapes.GetShapes(ctx, mux.Vars(r)["name"], req)
	if err != nil {
		s.handleError(w, err)
		return
	}

	data, err := fc.MarshalJSON()
	if err != nil {
		s.handleError(w, err)
		return
	}

	w.Header().Set("Content-Type", contentTypeGeoJSON)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// handleRecent returns the newest record of a source inside a bounding box.
func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	req, err := parseBoundsRequest(r)
	if err != nil {
		s.handleError(w, err)
		return
	}

	ctx, cancel := s.queryContext(r)
	defer cancel()

	rec, err := s.deps.Shapes.GetMostRecent(ctx, mux.Vars(r)["name"], req)
	if err != nil {
		s.handleError(w, err)
		return
	}
	if rec == nil {
		s.writeError(w, http.StatusNotFound, "No record inside the bounding box")
		return
	}

	s.writeJSON(w, http.StatusOK, rec)
}

// handleSync handles the sync trigger endpoint.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.Sync.TriggerSync(r.Context())
	if err != nil {
		if errors.Is(err, application.ErrRateLimited) {
			wait := int(math.Ceil(s.deps.Sync.RetryAfter().Seconds()))
			if wait < 1 {
				wait = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(wait))
			s.writeError(w, http.StatusTooManyRequests, "Rate limit exceeded. Try again in "+strconv.Itoa(wait)+" seconds.")
			return
		}
		s.logger.Error("sync failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Sync failed")
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

// handleOpenAPI returns the API description for the configured routes.
func (s *Server) handleOpenAPI(w http.ResponseWriter, _ *http.Request) {
	doc, err := openAPIDocument(s.deps)
	if err != nil {
		s.logger.Error("failed to render OpenAPI document", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to load API description")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(doc)
}

// parseBoundsRequest reads bbox=minx,miny,maxx,maxy, srs and filter.
func parseBoundsRequest(r *http.Request) (domain.BoundsRequest, error) {
	q := r.URL.Query()

	raw := q.Get("bbox")
	if raw == "" {
		return domain.BoundsRequest{}, &domain.ValidationError{
			Field:      "bbox",
			Constraint: "required",
			Message:    "bbox parameter is required",
		}
	}

	parts := strings.Split(raw, ",")
	if len(parts) != 4 {
		return domain.BoundsRequest{}, &domain.ValidationError{
			Field:      "bbox",
			Value:      raw,
			Constraint: "minx,miny,maxx,maxy",
			Message:    "bbox needs four comma separated numbers",
		}
	}

	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return domain.BoundsRequest{}, &domain.ValidationError{
				Field:      "bbox",
				Value:      raw,
				Constraint: "minx,miny,maxx,maxy",
				Message:    "invalid bbox coordinate " + p,
			}
		}
		v[i] = f
	}

	req := domain.NewBoundsRequest(v[0], v[1], v[2], v[3], q.Get("srs"))
	req.FilterValue = q.Get("filter")
	return req, nil
}

// parseTileRequest turns the z/x/y route variables into the tile's bounding
// box, in EPSG:4326 or, with srs=EPSG:3857, in web mercator meters.
func parseTileRequest(r *http.Request) (domain.BoundsRequest, error) {
	vars := mux.Vars(r)
	z, errZ := strconv.ParseUint(vars["z"], 10, 32)
	x, errX := strconv.ParseUint(vars["x"], 10, 32)
	y, errY := strconv.ParseUint(vars["y"], 10, 32)
	if errZ != nil || errX != nil || errY != nil || z > maxTileZoom {
		return domain.BoundsRequest{}, &domain.ValidationError{
			Field:      "tile",
			Value:      vars["z"] + "/" + vars["x"] + "/" + vars["y"],
			Constraint: "z <= 24",
			Message:    "invalid tile coordinates",
		}
	}
	if n := uint64(1) << z; x >= n || y >= n {
		return domain.BoundsRequest{}, &domain.ValidationError{
			Field:      "tile",
			Value:      vars["z"] + "/" + vars["x"] + "/" + vars["y"],
			Constraint: "x, y < 2^z",
			Message:    "tile outside the tile matrix",
		}
	}

	srs, err := domain.ParseProjection(r.URL.Query().Get("srs"))
	if err != nil {
		return domain.BoundsRequest{}, err
	}

	bound := maptile.New(uint32(x), uint32(y), maptile.Zoom(z)).Bound()
	switch srs {
	case domain.ProjectionWGS84:
	case domain.ProjectionWebMercator:
		bound = orb.Bound{
			Min: project.WGS84.ToMercator(bound.Min),
			Max: project.WGS84.ToMercator(bound.Max),
		}
	default:
		return domain.BoundsRequest{}, &domain.ValidationError{
			Field:      "srs",
			Value:      srs.String(),
			Constraint: "EPSG:4326 | EPSG:3857",
			Message:    "tiles are served in EPSG:4326 or EPSG:3857",
		}
	}

	req := domain.NewBoundsRequest(bound.Min[0], bound.Min[1], bound.Max[0], bound.Max[1], srs.String())
	req.FilterValue = r.URL.Query().Get("filter")
	return req, nil
}

// formatSource formats a source for JSON output.
func formatSource(info *domain.SourceInfo) map[string]interface{} {
	out := map[string]interface{}{
		"name":       info.Name,
		"driver":     info.Driver,
		"collection": info.Collection,
		"key":        info.GeoKey,
		"projection": info.Projection.String(),
		"streaming":  info.Streaming,
		"status":     string(info.Status),
		"ready":      info.IsReady(),
	}
	if info.FilterKey != "" {
		out["filter"] = info.FilterKey
	}
	if !info.LoadedAt.IsZero() {
		out["loaded_at"] = info.LoadedAt
	}
	if info.Error != "" {
		out["error"] = info.Error
	}
	return out
}

// statusFor maps an application error to an HTTP status and client message.
func statusFor(err error) (int, string) {
	var (
		validationErr *domain.ValidationError
		configErr     *domain.ConfigError
		malformedErr  *domain.MalformedRecordError
		queryErr      *domain.QueryError
	)

	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, validationErr.Message
	case errors.As(err, &configErr):
		return http.StatusBadRequest, configErr.Message
	case errors.Is(err, domain.ErrUnsupportedProjection):
		return http.StatusBadRequest, "Unsupported projection"
	case errors.Is(err, domain.ErrUnsupported):
		return http.StatusBadRequest, "Unsupported filter"
	case errors.Is(err, domain.ErrSourceNotFound):
		return http.StatusNotFound, "Source not found"
	case errors.Is(err, domain.ErrUnavailable):
		return http.StatusServiceUnavailable, "Source not available"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "Query timed out"
	case errors.As(err, &malformedErr):
		return http.StatusBadGateway, "Source returned a malformed record"
	case errors.As(err, &queryErr):
		return http.StatusBadGateway, "Source query failed"
	default:
		return http.StatusInternalServerError, "Internal Server Error"
	}
}

// handleError writes the mapped status for err, logging server-side failures.
func (s *Server) handleError(w http.ResponseWriter, err error) {
	status, message := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "status", status, "error", err)
	}
	s.writeError(w, status, message)
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]interface{}{
		"error":   http.StatusText(status),
		"message": message,
	})
}

func boolToStatus(b bool) string {
	if b {
		return "ok"
	}
	return "unhealthy"
}
