package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jobrunner/geosource/internal/adapters/memstore"
	"github.com/jobrunner/geosource/internal/adapters/sqlitestore"
	"github.com/jobrunner/geosource/internal/app"
	"github.com/jobrunner/geosource/internal/config"
	"github.com/jobrunner/geosource/internal/domain"
	"github.com/jobrunner/geosource/internal/observability"
)

var shapesCmd = &cobra.Command{
	Use:   "shapes",
	Short: "Print the shapes of a source inside a bounding box as GeoJSON",
	Example: `  geosource shapes --source parcels --bbox 8.5,47.3,8.6,47.4
  geosource shapes --source parcels --bbox 946000,5996000,958000,6010000 --srs EPSG:3857`,
	Args: cobra.NoArgs,
	RunE: runShapes,
}

var importCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Import JSON records into an SQLite dataset",
	Long: `Import reads a JSON array or newline delimited JSON records from FILE
("-" for stdin) and stores them in a collection of an SQLite dataset, creating
the dataset and its spatial index when needed.`,
	Example: `  geosource import --dataset data/survey.sqlite --collection parcels parcels.json`,
	Args:    cobra.ExactArgs(1),
	RunE:    runImport,
}

func init() {
	shapesCmd.Flags().String("source", config.DefaultSourceName, "source name")
	shapesCmd.Flags().String("bbox", "", "bounding box minx,miny,maxx,maxy (required)")
	shapesCmd.Flags().String("srs", "", "projection of the box and the output (default EPSG:4326)")
	shapesCmd.Flags().String("filter", "", "value of the source's secondary filter")
	_ = shapesCmd.MarkFlagRequired("bbox")

	importCmd.Flags().String("dataset", "", "SQLite dataset file (required)")
	importCmd.Flags().String("collection", "", "collection name (default: FILE name without extension)")
	_ = importCmd.MarkFlagRequired("dataset")
}

func runShapes(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cfg.Sources.Watch = false
	cfg.Tracing.Enabled = false

	raw, _ := cmd.Flags().GetString("bbox")
	srs, _ := cmd.Flags().GetString("srs")
	filter, _ := cmd.Flags().GetString("filter")
	name, _ := cmd.Flags().GetString("source")

	req, err := parseBBox(raw, srs)
	if err != nil {
		return err
	}
	req.FilterValue = filter

	logger := observability.NewLogger(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	ctx := cmd.Context()

	application, err := app.New(ctx, cfg, logger, version)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() { _ = application.Shutdown(context.Background()) }()

	if err := application.LoadSources(ctx); err != nil {
		return err
	}

	fc, err := application.Registry.GetShapes(ctx, name, req)
	if err != nil {
		return err
	}
	data, err := fc.MarshalJSON()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}

func runImport(cmd *cobra.Command, args []string) error {
	dataset, _ := cmd.Flags().GetString("dataset")
	collection, _ := cmd.Flags().GetString("collection")
	if collection == "" {
		collection = collectionFromFile(args[0])
	}

	records, err := readRecords(cmd.InOrStdin(), args[0])
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	store := sqlitestore.New(dataset, sqlitestore.Options{})
	if err := store.Connect(ctx); err != nil {
		return err
	}
	defer func() { _ = store.Close(ctx) }()

	n, err := store.Insert(ctx, collection, records)
	if err != nil {
		return fmt.Errorf("importing into %s: %w", collection, err)
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "imported %d records into %s/%s\n", n, dataset, collection)
	return err
}

// readRecords decodes the records of path, or of stdin when path is "-".
func readRecords(stdin io.Reader, path string) ([]domain.Record, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path) //#nosec G304 -- path is a command argument
		if err != nil {
			return nil, err
		}
		defer func() { _ = f.Close() }()
		r = f
	}

	docs, err := memstore.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}

	records := make([]domain.Record, 0, len(docs))
	for i, doc := range docs {
		rec, err := domain.RecordFromDocument(doc)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func collectionFromFile(path string) string {
	if path == "-" {
		return "records"
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// parseBBox parses "minx,miny,maxx,maxy".
func parseBBox(raw, srs string) (domain.BoundsRequest, error) {
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

	req := domain.NewBoundsRequest(v[0], v[1], v[2], v[3], srs)
	if err := req.Validate(); err != nil {
		return domain.BoundsRequest{}, err
	}
	return req, nil
}
