package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/jobrunner/geosource/internal/domain"
)

// Source drivers.
const (
	DriverMongoDB = "mongodb"
	DriverSQLite  = "sqlite"
	DriverFile    = "file"
)

// DefaultSourceName names a source that does not declare a name.
const DefaultSourceName = "localdata"

// SourcesFile is the parsed source definitions file. It is read with yaml.v3
// instead of viper so that filter and selection keys keep their case.
type SourcesFile struct {
	Connections map[string]ConnectionDef `yaml:"connections"`
	Sources     []SourceDef              `yaml:"sources"`
}

// ConnectionDef is a named MongoDB connection shared by several sources.
type ConnectionDef struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"` // Defaults to the database in the URI path
}

// SourceDef defines one data source.
type SourceDef struct {
	Name          string                 `yaml:"name"`
	Driver        string                 `yaml:"driver"`
	Connection    string                 `yaml:"connection"` // Named connection, mongodb only
	URI           string                 `yaml:"uri"`        // Dedicated connection string, mongodb only
	Database      string                 `yaml:"database"`
	Dataset       string                 `yaml:"dataset"` // Dataset file, sqlite and file only
	Collection    string                 `yaml:"collection"`
	Key           string                 `yaml:"key"`
	Projection    string                 `yaml:"projection"`
	Query         map[string]interface{} `yaml:"query"`
	Select        map[string]interface{} `yaml:"select"`
	FilterKey     string                 `yaml:"filter"`
	RecencyField  string                 `yaml:"recency_field"`
	Stream        bool                   `yaml:"stream"`
	SkipMalformed bool                   `yaml:"skip_malformed"`
	Limit         int64                  `yaml:"limit"`
}

// EffectiveName returns the source name, or DefaultSourceName when unset.
func (d *SourceDef) EffectiveName() string {
	if d.Name == "" {
		return DefaultSourceName
	}
	return d.Name
}

// LoadSources reads and validates a source definitions file.
func LoadSources(path string) (*SourcesFile, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- path comes from configuration
	if err != nil {
		return nil, fmt.Errorf("reading sources file: %w", err)
	}
	return ParseSources(data)
}

// ParseSources parses and validates source definitions.
func ParseSources(data []byte) (*SourcesFile, error) {
	var f SourcesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing sources file: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks every definition and the references between them.
func (f *SourcesFile) Validate() error {
	for name, conn := range f.Connections {
		if conn.URI == "" {
			return invalid("connections."+name+".uri", "connection %s needs a uri", name)
		}
	}

	seen := make(map[string]bool, len(f.Sources))
	for i := range f.Sources {
		def := &f.Sources[i]
		name := def.EffectiveName()
		if seen[name] {
			return invalid("sources."+name, "duplicate source name %s", name)
		}
		seen[name] = true

		if err := f.validateSource(def); err != nil {
			return err
		}
	}
	return nil
}

func (f *SourcesFile) validateSource(def *SourceDef) error {
	name := def.EffectiveName()
	field := func(key string) string { return "sources." + name + "." + key }

	if def.Collection == "" {
		return invalid(field("collection"), "source %s needs a collection", name)
	}
	if def.Key == "" {
		return invalid(field("key"), "source %s needs a geo key", name)
	}
	if def.Limit < 0 {
		return invalid(field("limit"), "limit must not be negative")
	}
	if def.Projection != "" {
		if _, err := domain.ParseProjection(def.Projection); err != nil {
			return invalid(field("projection"), "%v", err)
		}
	}

	switch def.Driver {
	case DriverMongoDB:
		switch {
		case def.Connection != "" && def.URI != "":
			return invalid(field("connection"), "connection and uri are mutually exclusive")
		case def.Connection == "" && def.URI == "":
			return invalid(field("connection"), "one of connection or uri is required")
		case def.Connection != "":
			if _, ok := f.Connections[def.Connection]; !ok {
				return invalid(field("connection"), "unknown connection %s", def.Connection)
			}
		}
		if def.Dataset != "" {
			return invalid(field("dataset"), "dataset is not used by the mongodb driver")
		}
	case DriverSQLite, DriverFile:
		if def.Dataset == "" {
			return invalid(field("dataset"), "source %s needs a dataset file", name)
		}
		if def.Connection != "" || def.URI != "" {
			return invalid(field("connection"), "connection is only used by the mongodb driver")
		}
	case "":
		return invalid(field("driver"), "source %s needs a driver", name)
	default:
		return invalid(field("driver"), "unknown driver %s", def.Driver)
	}
	return nil
}
