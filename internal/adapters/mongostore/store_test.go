package mongostore

import (
	"context"
	"errors"
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/jobrunner/geosource/internal/domain"
)

func TestFilter(t *testing.T) {
	box := orb.Bound{Min: orb.Point{1, 2}, Max: orb.Point{3, 4}}
	f := domain.Filter{
		"geo_info.centroid": domain.WithinBox{Box: box},
		"status":            "active",
		"score":             map[string]interface{}{"$in": []interface{}{1, 2}},
	}

	got := Filter(f)

	want := bson.M{
		"geo_info.centroid": bson.M{"$geoWithin": bson.M{"$box": [][]float64{{1, 2}, {3, 4}}}},
		"status":            "active",
		"score":             bson.M{"$in": bson.A{1, 2}},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Filter() = %#v, want %#v", got, want)
	}
	if _, ok := f["geo_info.centroid"].(domain.WithinBox); !ok {
		t.Error("Filter() modified its input")
	}
}

func TestSortDocument(t *testing.T) {
	got := SortDocument([]domain.SortField{
		{Field: "created", Descending: true},
		{Field: "name"},
	})
	want := bson.D{{Key: "created", Value: -1}, {Key: "name", Value: 1}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SortDocument() = %v, want %v", got, want)
	}
}

func TestNormalizeDocument(t *testing.T) {
	oid := primitive.NewObjectID()
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	doc := bson.M{
		"_id":     oid,
		"created": primitive.NewDateTimeFromTime(created),
		"geo_info": bson.D{
			{Key: "centroid", Value: bson.A{1.5, 2.5}},
			{Key: "geometry", Value: bson.M{"type": "Point", "coordinates": bson.A{1.5, 2.5}}},
		},
		"count": int32(3),
		"empty": primitive.Null{},
	}

	got := NormalizeDocument(doc)

	if got["_id"] != oid.Hex() {
		t.Errorf("_id = %v, want %s", got["_id"], oid.Hex())
	}
	if ts, ok := got["created"].(time.Time); !ok || !ts.Equal(created) {
		t.Errorf("created = %v, want %v", got["created"], created)
	}
	info, ok := got["geo_info"].(map[string]interface{})
	if !ok {
		t.Fatalf("geo_info = %T, want map", got["geo_info"])
	}
	if !reflect.DeepEqual(info["centroid"], []interface{}{1.5, 2.5}) {
		t.Errorf("centroid = %#v", info["centroid"])
	}
	if _, ok := info["geometry"].(map[string]interface{}); !ok {
		t.Errorf("geometry = %T, want map", info["geometry"])
	}
	if got["count"] != int32(3) {
		t.Errorf("count = %v", got["count"])
	}
	if got["empty"] != nil {
		t.Errorf("empty = %v, want nil", got["empty"])
	}

	rec, err := domain.RecordFromDocument(got)
	if err != nil {
		t.Fatalf("RecordFromDocument() error: %v", err)
	}
	if rec.GeoInfo.Centroid == nil || *rec.GeoInfo.Centroid != (orb.Point{1.5, 2.5}) {
		t.Errorf("centroid = %v", rec.GeoInfo.Centroid)
	}
}

func TestNewConnection(t *testing.T) {
	db := &mongo.Database{}

	tests := []struct {
		name      string
		db        *mongo.Database
		uri       string
		wantField string
		wantType  Connection
	}{
		{name: "attached", db: db, wantType: Attached{}},
		{name: "dial", uri: "mongodb://localhost/survey", wantType: Dial{}},
		{name: "both", db: db, uri: "mongodb://localhost/survey", wantField: "connection"},
		{name: "neither", wantField: "connection"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, err := NewConnection(tt.db, tt.uri, "")
			if tt.wantField != "" {
				var cerr *domain.ConfigError
				if !errors.As(err, &cerr) || cerr.Field != tt.wantField {
					t.Fatalf("NewConnection() error = %v, want ConfigError for %s", err, tt.wantField)
				}
				if !errors.Is(err, domain.ErrInvalidInput) {
					t.Error("ConfigError should match ErrInvalidInput")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewConnection() error: %v", err)
			}
			if reflect.TypeOf(conn) != reflect.TypeOf(tt.wantType) {
				t.Errorf("NewConnection() = %T, want %T", conn, tt.wantType)
			}
		})
	}
}

func TestNewValidatesConnection(t *testing.T) {
	tests := []struct {
		name      string
		conn      Connection
		wantField string
	}{
		{name: "nil", conn: nil, wantField: "connection"},
		{name: "attached without database", conn: Attached{}, wantField: "db"},
		{name: "dial without uri", conn: Dial{}, wantField: "connectionString"},
		{name: "dial without database", conn: Dial{URI: "mongodb://localhost:27017"}, wantField: "connectionString"},
		{name: "dial with database in uri", conn: Dial{URI: "mongodb://localhost:27017/survey?replicaSet=rs0"}},
		{name: "dial with explicit database", conn: Dial{URI: "mongodb://localhost:27017", Database: "survey"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := New(tt.conn)
			if tt.wantField == "" {
				if err != nil || store == nil {
					t.Fatalf("New() = %v, %v", store, err)
				}
				return
			}
			var cerr *domain.ConfigError
			if !errors.As(err, &cerr) || cerr.Field != tt.wantField {
				t.Errorf("New() error = %v, want ConfigError for %s", err, tt.wantField)
			}
		})
	}
}

func TestDatabaseFromURI(t *testing.T) {
	tests := []struct {
		uri  string
		want string
	}{
		{"mongodb://localhost:27017/survey", "survey"},
		{"mongodb://user:pw@a:1,b:2/survey?replicaSet=rs0", "survey"},
		{"mongodb+srv://cluster.example.net/data?retryWrites=true", "data"},
		{"mongodb://localhost:27017", ""},
		{"::not a uri", ""},
	}

	for _, tt := range tests {
		if got := DatabaseFromURI(tt.uri); got != tt.want {
			t.Errorf("DatabaseFromURI(%q) = %q, want %q", tt.uri, got, tt.want)
		}
	}
}

func TestQueryBeforeConnect(t *testing.T) {
	store, err := New(Dial{URI: "mongodb://localhost/survey"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Find(context.Background(), domain.Query{Collection: "x"}); !errors.Is(err, domain.ErrNotConnected) {
		t.Errorf("Find() error = %v, want ErrNotConnected", err)
	}
	if err := store.Close(context.Background()); err != nil {
		t.Errorf("Close() before Connect() = %v", err)
	}
}

// TestStoreIntegration runs against a live server named by
// GEOSOURCE_TEST_MONGODB_URI, e.g. mongodb://localhost:27017/geosource_test.
func TestStoreIntegration(t *testing.T) {
	uri := os.Getenv("GEOSOURCE_TEST_MONGODB_URI")
	if uri == "" {
		t.Skip("GEOSOURCE_TEST_MONGODB_URI not set")
	}
	ctx := context.Background()

	store, err := New(Dial{URI: uri})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Connect(ctx); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	defer func() { _ = store.Close(ctx) }()

	coll, _ := store.collection("places_test")
	_ = coll.Drop(ctx)
	_, err = coll.InsertMany(ctx, []interface{}{
		bson.M{"name": "old", "created": "2024-01-01", "geo_info": bson.M{"centroid": bson.A{5.0, 5.0}}},
		bson.M{"name": "new", "created": "2024-02-01", "geo_info": bson.M{"centroid": bson.A{6.0, 6.0}}},
		bson.M{"name": "far", "created": "2024-03-01", "geo_info": bson.M{"centroid": bson.A{60.0, 60.0}}},
		bson.M{"name": "short", "created": "2023-12-01", "geo_info": bson.M{"centroid": bson.A{4.0}}},
	})
	if err != nil {
		t.Fatalf("InsertMany() error: %v", err)
	}
	defer func() { _ = coll.Drop(ctx) }()

	box := orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{10, 10}}
	q := domain.Query{
		Collection: "places_test",
		GeoKey:     "geo_info.centroid",
		Box:        box,
		Filter:     domain.Filter{"geo_info.centroid": domain.WithinBox{Box: box}},
	}

	records, err := store.Find(ctx, q)
	if err != nil {
		t.Fatalf("Find() error: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("Find() returned %d records, want 2", len(records))
	}

	// a single-ordinate centroid is not matched by $box, so query it directly
	malformed, err := store.Find(ctx, domain.Query{Collection: "places_test", Filter: domain.Filter{"name": "short"}})
	if err != nil {
		t.Fatalf("Find() with a malformed document error: %v", err)
	}
	if len(malformed) != 1 || !errors.Is(malformed[0].DecodeErr, domain.ErrMalformedRecord) {
		t.Errorf("Find() = %+v, want the document carried with its decode error", malformed)
	}

	q.Sort = []domain.SortField{{Field: "created", Descending: true}}
	rec, err := store.FindOne(ctx, q)
	if err != nil {
		t.Fatalf("FindOne() error: %v", err)
	}
	if rec.Extra["name"] != "new" {
		t.Errorf("FindOne() name = %v, want new", rec.Extra["name"])
	}
}
