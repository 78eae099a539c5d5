// Package mongostore provides a record store backed by MongoDB.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/jobrunner/geosource/internal/domain"
	"github.com/jobrunner/geosource/internal/ports/output"
)

// Store implements output.RecordStore on a MongoDB database.
type Store struct {
	conn Connection

	mu     sync.RWMutex
	client *mongo.Client // set only when the store dialed it
	db     *mongo.Database
}

// New validates the connection and creates a store. It does not connect.
func New(conn Connection) (*Store, error) {
	if conn == nil {
		return nil, &domain.ConfigError{Field: "connection", Message: "one of db or connectionString is required"}
	}
	if err := conn.validate(); err != nil {
		return nil, err
	}
	return &Store{conn: conn}, nil
}

// Connect dials the server for a Dial connection. For an Attached
// connection it only takes the database handle.
func (s *Store) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return nil
	}

	switch c := s.conn.(type) {
	case Attached:
		s.db = c.Database
		return nil
	case Dial:
		timeout := c.ConnectTimeout
		if timeout <= 0 {
			timeout = DefaultConnectTimeout
		}
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		client, err := OpenClient(ctx, c.URI, timeout)
		if err != nil {
			return err
		}
		s.client = client
		s.db = client.Database(c.databaseName())
		return nil
	default:
		return fmt.Errorf("unknown connection type %T", s.conn)
	}
}

// OpenClient opens a client and checks that the primary answers.
func OpenClient(ctx context.Context, uri string, timeout time.Duration) (*mongo.Client, error) {
	opts := options.Client().ApplyURI(uri).SetConnectTimeout(timeout)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connecting to mongodb: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("pinging mongodb: %w", err)
	}
	return client, nil
}

// Close disconnects a dialed client. An attached database is left alone.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	client := s.client
	s.client = nil
	s.db = nil
	if client == nil {
		return nil
	}
	return client.Disconnect(ctx)
}

func (s *Store) collection(name string) (*mongo.Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, domain.ErrNotConnected
	}
	return s.db.Collection(name), nil
}

// FindOne implements output.RecordStore.
func (s *Store) FindOne(ctx context.Context, q domain.Query) (*domain.Record, error) {
	coll, err := s.collection(q.Collection)
	if err != nil {
		return nil, err
	}

	opts := options.FindOne()
	if len(q.Select) > 0 {
		opts.SetProjection(Projection(q.Select))
	}
	if len(q.Sort) > 0 {
		opts.SetSort(SortDocument(q.Sort))
	}

	var doc bson.M
	err = coll.FindOne(ctx, Filter(q.Filter), opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}

	rec, err := domain.RecordFromDocument(NormalizeDocument(doc))
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Find implements output.RecordStore.
func (s *Store) Find(ctx context.Context, q domain.Query) ([]domain.Record, error) {
	cur, err := s.find(ctx, q)
	if err != nil {
		return nil, err
	}

	var docs []bson.M
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}

	records := make([]domain.Record, 0, len(docs))
	for _, doc := range docs {
		records = append(records, domain.DecodeRecord(NormalizeDocument(doc)))
	}
	return records, nil
}

// Stream implements output.RecordStore.
func (s *Store) Stream(ctx context.Context, q domain.Query) (output.RecordCursor, error) {
	cur, err := s.find(ctx, q)
	if err != nil {
		return nil, err
	}
	return &cursor{cur: cur}, nil
}

func (s *Store) find(ctx context.Context, q domain.Query) (*mongo.Cursor, error) {
	coll, err := s.collection(q.Collection)
	if err != nil {
		return nil, err
	}

	opts := options.Find()
	if len(q.Select) > 0 {
		opts.SetProjection(Projection(q.Select))
	}
	if len(q.Sort) > 0 {
		opts.SetSort(SortDocument(q.Sort))
	}
	if q.Limit > 0 {
		opts.SetLimit(q.Limit)
	}
	return coll.Find(ctx, Filter(q.Filter), opts)
}

// cursor adapts a live mongo cursor.
type cursor struct {
	cur *mongo.Cursor
}

func (c *cursor) Next(ctx context.Context) bool {
	return c.cur.Next(ctx)
}

func (c *cursor) Record() (domain.Record, error) {
	var doc bson.M
	if err := c.cur.Decode(&doc); err != nil {
		return domain.Record{}, err
	}
	return domain.RecordFromDocument(NormalizeDocument(doc))
}

func (c *cursor) Err() error {
	return c.cur.Err()
}

func (c *cursor) Close(ctx context.Context) error {
	return c.cur.Close(ctx)
}
