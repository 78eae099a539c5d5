package output

import (
	"context"

	"github.com/jobrunner/geosource/internal/domain"
)

// RecordStore defines the secondary port for record retrieval.
type RecordStore interface {
	// Connect opens the underlying connection. It must be called before any
	// query and is a no-op for stores that are already connected.
	Connect(ctx context.Context) error

	// Close releases the connection if the store owns it.
	Close(ctx context.Context) error

	// FindOne returns the first record matching q in q.Sort order.
	// It returns domain.ErrRecordNotFound if nothing matches.
	FindOne(ctx context.Context, q domain.Query) (*domain.Record, error)

	// Find returns all records matching q. Documents that cannot be decoded
	// are returned with Record.DecodeErr set.
	Find(ctx context.Context, q domain.Query) ([]domain.Record, error)

	// Stream returns a cursor over the records matching q.
	Stream(ctx context.Context, q domain.Query) (RecordCursor, error)
}

// CollectionLister is implemented by stores that can enumerate their
// collections.
type CollectionLister interface {
	Collections(ctx context.Context) ([]string, error)
}

// RecordCursor iterates over query results one record at a time.
type RecordCursor interface {
	// Next advances the cursor. It returns false when the results are
	// exhausted or an error occurred.
	Next(ctx context.Context) bool

	// Record decodes the current record. A *domain.MalformedRecordError
	// affects only this record and iteration may continue.
	Record() (domain.Record, error)

	// Err returns the error that stopped iteration, if any.
	Err() error

	// Close releases the cursor.
	Close(ctx context.Context) error
}

// SliceCursor is a RecordCursor over records already in memory. A canceled
// context stops iteration and is reported by Err.
type SliceCursor struct {
	records []domain.Record
	pos     int
	err     error
}

// NewSliceCursor creates a cursor over records.
func NewSliceCursor(records []domain.Record) *SliceCursor {
	return &SliceCursor{records: records, pos: -1}
}

// Next implements RecordCursor.
func (c *SliceCursor) Next(ctx context.Context) bool {
	if c.err != nil {
		return false
	}
	if err := ctx.Err(); err != nil {
		c.err = err
		return false
	}
	if c.pos+1 >= len(c.records) {
		return false
	}
	c.pos++
	return true
}

// Record implements RecordCursor.
func (c *SliceCursor) Record() (domain.Record, error) {
	if c.pos < 0 || c.pos >= len(c.records) {
		return domain.Record{}, domain.ErrRecordNotFound
	}
	if rec := c.records[c.pos]; rec.DecodeErr != nil {
		return domain.Record{}, rec.DecodeErr
	}
	return c.records[c.pos], nil
}

// Err implements RecordCursor.
func (c *SliceCursor) Err() error { return c.err }

// Close implements RecordCursor.
func (c *SliceCursor) Close(_ context.Context) error { return nil }
