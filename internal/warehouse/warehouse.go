package warehouse

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strings"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"google.golang.org/api/iterator"
)

// Client is the warehouse surface the pipeline depends on. The production
// implementation is BigQuery; tests substitute fakes.
type Client interface {
	// QueryDate runs a query whose first column of the first row is a date.
	// The bool is false when the result is NULL or empty, which callers
	// treat as "no prior record", not as an error.
	QueryDate(ctx context.Context, query string) (civil.Date, bool, error)

	// QueryRows runs a query and materializes all result rows.
	QueryRows(ctx context.Context, query string) ([][]bigquery.Value, error)

	// Append writes rows to an existing table in append-only mode. The
	// table must pre-exist; a missing table is an error, never created.
	Append(ctx context.Context, datasetID, tableID string, columns []string, rows [][]bigquery.Value) error
}

// BQ is the BigQuery-backed Client.
type BQ struct {
	client *bigquery.Client
}

func NewBQ(ctx context.Context, projectID string) (*BQ, error) {
	c, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("bigquery client: %w", err)
	}
	return &BQ{client: c}, nil
}

func (b *BQ) Close() error {
	return b.client.Close()
}

func (b *BQ) QueryDate(ctx context.Context, query string) (civil.Date, bool, error) {
	it, err := b.client.Query(query).Read(ctx)
	if err != nil {
		return civil.Date{}, false, fmt.Errorf("warehouse query: %w", err)
	}

	var row []bigquery.Value
	err = it.Next(&row)
	if err == iterator.Done {
		return civil.Date{}, false, nil
	}
	if err != nil {
		return civil.Date{}, false, fmt.Errorf("warehouse scan: %w", err)
	}
	if len(row) == 0 || row[0] == nil {
		return civil.Date{}, false, nil
	}

	switch v := row[0].(type) {
	case civil.Date:
		return v, true, nil
	case civil.DateTime:
		return v.Date, true, nil
	default:
		return civil.Date{}, false, fmt.Errorf("warehouse scan: unexpected date type %T", row[0])
	}
}

func (b *BQ) QueryRows(ctx context.Context, query string) ([][]bigquery.Value, error) {
	it, err := b.client.Query(query).Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("warehouse query: %w", err)
	}

	var rows [][]bigquery.Value
	for {
		var row []bigquery.Value
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("warehouse scan: %w", err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (b *BQ) Append(ctx context.Context, datasetID, tableID string, columns []string, rows [][]bigquery.Value) error {
	if len(rows) == 0 {
		return nil
	}

	schema := make(bigquery.Schema, len(columns))
	for i, col := range columns {
		schema[i] = &bigquery.FieldSchema{Name: col, Type: fieldType(col)}
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	for i, row := range rows {
		if len(row) != len(columns) {
			return fmt.Errorf("warehouse append: row %d has %d values, want %d", i, len(row), len(columns))
		}
		record := make([]string, len(row))
		for j, v := range row {
			record[j] = loadField(v)
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("warehouse append: encode row %d: %w", i, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("warehouse append: encode rows: %w", err)
	}

	// A load job commits the whole batch as one append and has no per-request
	// row cap; CREATE_NEVER surfaces a missing table as a load error.
	src := bigquery.NewReaderSource(&buf)
	src.SourceFormat = bigquery.CSV
	src.Schema = schema

	loader := b.client.Dataset(datasetID).Table(tableID).LoaderFrom(src)
	loader.CreateDisposition = bigquery.CreateNever
	loader.WriteDisposition = bigquery.WriteAppend

	job, err := loader.Run(ctx)
	if err != nil {
		return fmt.Errorf("warehouse append %s.%s: %w", datasetID, tableID, err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("warehouse append %s.%s: %w", datasetID, tableID, err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("warehouse append %s.%s: %w", datasetID, tableID, err)
	}
	return nil
}

// loadField renders one value in the CSV form the load job parses back into
// the column's declared type.
func loadField(v bigquery.Value) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case civil.Date:
		return t.String()
	case civil.DateTime:
		return t.Date.String() + " " + t.Time.String()
	default:
		return fmt.Sprint(t)
	}
}

func fieldType(column string) bigquery.FieldType {
	switch {
	case strings.HasSuffix(column, "_DATE"):
		return bigquery.DateFieldType
	case strings.HasSuffix(column, "_DATETIME"):
		return bigquery.DateTimeFieldType
	default:
		return bigquery.StringFieldType
	}
}

// ResolvePrefixes maps a GCP project id to the project and dataset prefixes
// used to address warehouse tables across environments.
func ResolvePrefixes(projectID string) (projectPrefix, datasetPrefix string) {
	switch {
	case strings.Contains(projectID, "dev-"):
		return "dev-", "dev_"
	case strings.Contains(projectID, "test-"):
		return "test-", "test_"
	default:
		return "prod-", ""
	}
}
