package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jobrunner/geosource/internal/domain"
)

// cursor walks the SQL rows and yields those that match the full filter.
// Rows that cannot be decoded are yielded with DecodeErr set.
type cursor struct {
	rows     *sql.Rows
	query    domain.Query
	current  domain.Record
	err      error
	returned int64
}

// Next implements output.RecordCursor.
func (c *cursor) Next(ctx context.Context) bool {
	if c.err != nil {
		return false
	}
	if c.query.Limit > 0 && c.returned >= c.query.Limit {
		return false
	}

	for c.rows.Next() {
		if err := ctx.Err(); err != nil {
			c.err = err
			return false
		}

		rec, ok, err := c.decode()
		if err != nil {
			c.err = err
			return false
		}
		if !ok {
			continue
		}
		c.current = rec
		c.returned++
		return true
	}

	c.err = c.rows.Err()
	return false
}

func (c *cursor) decode() (domain.Record, bool, error) {
	var fid int64
	var data string
	if err := c.rows.Scan(&fid, &data); err != nil {
		return domain.Record{}, false, err
	}

	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(data), &doc); err != nil || doc == nil {
		reason := "document is null"
		if err != nil {
			reason = fmt.Sprintf("invalid JSON: %v", err)
		}
		return domain.Record{ID: fid, DecodeErr: &domain.MalformedRecordError{RecordID: fid, Reason: reason}}, true, nil
	}
	if _, ok := doc[domain.FieldID]; !ok {
		doc[domain.FieldID] = fid
	}

	match, err := c.query.Filter.Matches(doc)
	if err != nil || !match {
		return domain.Record{}, false, err
	}

	return domain.DecodeRecord(c.query.Select.Apply(doc)), true, nil
}

// Record implements output.RecordCursor.
func (c *cursor) Record() (domain.Record, error) {
	if c.current.DecodeErr != nil {
		return domain.Record{}, c.current.DecodeErr
	}
	return c.current, nil
}

// Err implements output.RecordCursor.
func (c *cursor) Err() error {
	return c.err
}

// Close implements output.RecordCursor.
func (c *cursor) Close(_ context.Context) error {
	return c.rows.Close()
}
