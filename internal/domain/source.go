package domain

import "time"

// SourceInfo describes a registered data source.
type SourceInfo struct {
	Name       string       // Logical source name
	Driver     string       // Store driver (mongodb, sqlite, file)
	Collection string       // Collection or table name
	GeoKey     string       // Path of the indexed location field
	Projection Projection   // Native projection of stored geometries
	Streaming  bool         // Results are consumed incrementally
	FilterKey  string       // Secondary filter key (optional)
	Status     SourceStatus // Current status
	LoadedAt   time.Time    // Time the source was connected
	Error      string       // Last connection error, if any
}

// IsReady returns true if the source accepts queries.
func (s *SourceInfo) IsReady() bool {
	return s.Status == StatusReady
}

// SourceStatus represents the lifecycle state of a source.
type SourceStatus string

const (
	StatusConnecting SourceStatus = "connecting"
	StatusReady      SourceStatus = "ready"
	StatusError      SourceStatus = "error"
	StatusClosing    SourceStatus = "closing"
)
