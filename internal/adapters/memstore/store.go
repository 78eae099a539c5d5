// Package memstore provides an in-memory record store loaded from JSON files.
package memstore

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/tidwall/rtree"

	"github.com/jobrunner/geosource/internal/domain"
	"github.com/jobrunner/geosource/internal/ports/output"
)

// Extensions lists the record file types the store reads.
var Extensions = []string{".json", ".ndjson"}

// Store implements output.RecordStore over record files held in memory.
// Each file is one collection named after the file without its extension.
// A path may also name a directory, whose record files are all loaded.
type Store struct {
	paths []string

	mu          sync.RWMutex
	collections map[string]*collection
}

type collection struct {
	docs []map[string]interface{}
	tree rtree.RTreeG[int] // document index by location bound
}

// New creates a store for the given files or directories. It does not read them.
func New(paths ...string) *Store {
	return &Store{paths: paths}
}

// Connect loads every record file.
func (s *Store) Connect(_ context.Context) error {
	collections := make(map[string]*collection)

	for _, path := range s.paths {
		files, err := recordFiles(path)
		if err != nil {
			return &domain.StorageError{Operation: "open", Key: path, Err: err}
		}
		for _, file := range files {
			docs, err := readFile(file)
			if err != nil {
				return &domain.StorageError{Operation: "read", Key: file, Err: err}
			}
			collections[collectionName(file)] = newCollection(docs)
		}
	}

	s.mu.Lock()
	s.collections = collections
	s.mu.Unlock()
	return nil
}

// Close drops the loaded records.
func (s *Store) Close(_ context.Context) error {
	s.mu.Lock()
	s.collections = nil
	s.mu.Unlock()
	return nil
}

// Collections returns the loaded collection names, sorted.
func (s *Store) Collections(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.collections == nil {
		return nil, domain.ErrNotConnected
	}
	names := make([]string, 0, len(s.collections))
	for name := range s.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// FindOne implements output.RecordStore.
func (s *Store) FindOne(ctx context.Context, q domain.Query) (*domain.Record, error) {
	q.Limit = 1
	records, err := s.Find(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, domain.ErrRecordNotFound
	}
	if err := records[0].DecodeErr; err != nil {
		return nil, err
	}
	return &records[0], nil
}

// Find implements output.RecordStore.
func (s *Store) Find(ctx context.Context, q domain.Query) ([]domain.Record, error) {
	s.mu.RLock()
	loaded := s.collections != nil
	c, ok := s.collections[q.Collection]
	s.mu.RUnlock()

	if !loaded {
		return nil, domain.ErrNotConnected
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", q.Collection, domain.ErrCollectionNotFound)
	}

	matched := make([]map[string]interface{}, 0)
	for _, i := range c.candidates(q) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		match, err := q.Filter.Matches(c.docs[i])
		if err != nil {
			return nil, err
		}
		if match {
			matched = append(matched, c.docs[i])
		}
	}

	if len(q.Sort) > 0 {
		sort.SliceStable(matched, func(i, j int) bool {
			return less(matched[i], matched[j], q.Sort)
		})
	}
	if q.Limit > 0 && int64(len(matched)) > q.Limit {
		matched = matched[:q.Limit]
	}

	records := make([]domain.Record, 0, len(matched))
	for _, doc := range matched {
		records = append(records, domain.DecodeRecord(q.Select.Apply(doc)))
	}
	return records, nil
}

// Stream implements output.RecordStore. Results are collected up front.
func (s *Store) Stream(ctx context.Context, q domain.Query) (output.RecordCursor, error) {
	records, err := s.Find(ctx, q)
	if err != nil {
		return nil, err
	}
	return output.NewSliceCursor(records), nil
}

func newCollection(docs []map[string]interface{}) *collection {
	c := &collection{docs: docs}
	for i, doc := range docs {
		if _, ok := doc[domain.FieldID]; !ok {
			doc[domain.FieldID] = i
		}
		if b, ok := domain.DocumentBound(doc); ok {
			c.tree.Insert([2]float64{b.Min[0], b.Min[1]}, [2]float64{b.Max[0], b.Max[1]}, i)
		}
	}
	return c
}

// candidates returns the document indexes worth testing against the filter,
// in file order. The R-tree holds the geometry bound or centroid of each
// document, so it can only narrow searches on geo_info paths.
func (c *collection) candidates(q domain.Query) []int {
	w, ok := q.Filter[q.GeoKey].(domain.WithinBox)
	if !ok || !strings.HasPrefix(q.GeoKey, domain.FieldGeoInfo+".") {
		all := make([]int, len(c.docs))
		for i := range all {
			all[i] = i
		}
		return all
	}

	var hits []int
	c.tree.Search(
		[2]float64{w.Box.Min[0], w.Box.Min[1]},
		[2]float64{w.Box.Max[0], w.Box.Max[1]},
		func(_, _ [2]float64, i int) bool {
			hits = append(hits, i)
			return true
		},
	)
	sort.Ints(hits)
	return hits
}

// less orders documents by the sort fields. Missing values sort first.
func less(a, b map[string]interface{}, fields []domain.SortField) bool {
	for _, f := range fields {
		va, okA := domain.LookupPath(a, f.Field)
		vb, okB := domain.LookupPath(b, f.Field)
		okA = okA && va != nil
		okB = okB && vb != nil

		var c int
		switch {
		case !okA && !okB:
			c = 0
		case !okA:
			c = -1
		case !okB:
			c = 1
		default:
			c, _ = domain.CompareValues(va, vb)
		}
		if c == 0 {
			continue
		}
		if f.Descending {
			return c > 0
		}
		return c < 0
	}
	return false
}

func recordFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && IsRecordFile(e.Name()) {
			files = append(files, filepath.Join(path, e.Name()))
		}
	}
	return files, nil
}

// IsRecordFile returns true if name has a record file extension.
func IsRecordFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

func collectionName(file string) string {
	base := filepath.Base(file)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// readFile reads a JSON array of documents or newline delimited documents.
func readFile(path string) ([]map[string]interface{}, error) {
	f, err := os.Open(path) //#nosec G304 -- path comes from the source configuration
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	return Decode(f)
}

// Decode reads documents from r, either as one JSON array or as a stream of
// JSON objects.
func Decode(r io.Reader) ([]map[string]interface{}, error) {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(br)
	if first == '[' {
		var docs []map[string]interface{}
		if err := dec.Decode(&docs); err != nil {
			return nil, err
		}
		for i, doc := range docs {
			if doc == nil {
				return nil, nullDocument(i + 1)
			}
		}
		return docs, nil
	}

	var docs []map[string]interface{}
	for line := 1; ; line++ {
		var doc map[string]interface{}
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			return docs, nil
		}
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", line, err)
		}
		if doc == nil {
			return nil, nullDocument(line)
		}
		docs = append(docs, doc)
	}
}

func nullDocument(n int) error {
	return &domain.MalformedRecordError{Reason: fmt.Sprintf("document %d is null", n)}
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.Peek(1)
		if err != nil {
			return 0, err
		}
		if !bytes.ContainsAny(b, " \t\r\n") {
			return b[0], nil
		}
		if _, err := br.ReadByte(); err != nil {
			return 0, err
		}
	}
}
