package mongostore

import (
	"net/url"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/jobrunner/geosource/internal/domain"
)

// DefaultConnectTimeout bounds dialing and the initial ping.
const DefaultConnectTimeout = 10 * time.Second

// Connection selects how a store obtains its database. It is either Attached
// or Dial.
type Connection interface {
	validate() error
}

// Attached uses a database handle whose client is owned by the caller.
// Closing the store leaves the client connected.
type Attached struct {
	Database *mongo.Database
}

func (a Attached) validate() error {
	if a.Database == nil {
		return &domain.ConfigError{Field: "db", Message: "attached connection needs a database handle"}
	}
	return nil
}

// Dial makes the store open and own its client. Database defaults to the
// database named in the URI path.
type Dial struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
}

func (d Dial) validate() error {
	if d.URI == "" {
		return &domain.ConfigError{Field: "connectionString", Message: "connection string must not be empty"}
	}
	if d.databaseName() == "" {
		return &domain.ConfigError{Field: "connectionString", Message: "no database given and none named in the connection string"}
	}
	return nil
}

func (d Dial) databaseName() string {
	if d.Database != "" {
		return d.Database
	}
	return DatabaseFromURI(d.URI)
}

// DatabaseFromURI returns the database named in the path of a MongoDB URI,
// e.g. "survey" for mongodb://host:27017/survey?replicaSet=rs0.
func DatabaseFromURI(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return ""
	}
	return strings.Trim(u.Path, "/")
}

// NewConnection builds the connection variant from configuration values.
// Exactly one of db and uri must be set.
func NewConnection(db *mongo.Database, uri, database string) (Connection, error) {
	switch {
	case db != nil && uri != "":
		return nil, &domain.ConfigError{Field: "connection", Message: "db and connectionString are mutually exclusive"}
	case db != nil:
		return Attached{Database: db}, nil
	case uri != "":
		return Dial{URI: uri, Database: database}, nil
	default:
		return nil, &domain.ConfigError{Field: "connection", Message: "one of db or connectionString is required"}
	}
}
