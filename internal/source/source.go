package source

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// DefaultPageSize matches the page size the scheduled reports are exported
// with upstream.
const DefaultPageSize = 100000

// Chunk is one bounded page of report rows. Seq starts at 1.
type Chunk struct {
	Seq    int
	Header []string
	Rows   [][]string
}

// Empty reports whether the chunk carries no rows. An empty first chunk is a
// warning condition for callers, not a failure.
func (c *Chunk) Empty() bool {
	return len(c.Rows) == 0
}

// Column returns the index of a named header column.
func (c *Chunk) Column(name string) (int, bool) {
	for i, h := range c.Header {
		if h == name {
			return i, true
		}
	}
	return 0, false
}

// Field returns the value of a named column in a row, or "" when the column
// is absent.
func (c *Chunk) Field(row []string, name string) string {
	if i, ok := c.Column(name); ok && i < len(row) {
		return row[i]
	}
	return ""
}

// RowJSON serializes one row as a column-keyed JSON object, with extra
// key/value pairs merged in. Used for the audit trail's content snapshot.
func (c *Chunk) RowJSON(row []string, extra map[string]string) (string, error) {
	obj := make(map[string]string, len(c.Header)+len(extra))
	for i, h := range c.Header {
		if i < len(row) {
			obj[h] = row[i]
		}
	}
	for k, v := range extra {
		obj[k] = v
	}
	b, err := json.Marshal(obj)
	if err != nil {
		return "", fmt.Errorf("row snapshot: %w", err)
	}
	return string(b), nil
}

// Stream lazily pages a delimited report from a signed URL. Single pass, not
// restartable; re-opening re-fetches from the URL.
type Stream struct {
	body     io.ReadCloser
	reader   *csv.Reader
	header   []string
	pageSize int
	seq      int
	done     bool
}

// HTTPClient is the subset of http.Client the stream needs.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Open fetches the report URL and reads the header row. A report with no
// header at all is an error; a header with no data rows yields one empty
// chunk.
func Open(ctx context.Context, client HTTPClient, url string, pageSize int) (*Stream, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("source request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("source fetch: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("source fetch: unexpected status %d", resp.StatusCode)
	}

	reader := csv.NewReader(resp.Body)
	header, err := reader.Read()
	if err != nil {
		resp.Body.Close()
		if err == io.EOF {
			return nil, errors.New("source fetch: report has no header row")
		}
		return nil, fmt.Errorf("source header: %w", err)
	}

	return &Stream{
		body:     resp.Body,
		reader:   reader,
		header:   header,
		pageSize: pageSize,
	}, nil
}

// Header returns the column names, identical for every chunk.
func (s *Stream) Header() []string {
	return s.header
}

// Next returns the next chunk, or io.EOF after the last one. A malformed row
// aborts the stream; rows are never silently dropped.
func (s *Stream) Next() (*Chunk, error) {
	if s.done {
		return nil, io.EOF
	}

	rows := make([][]string, 0, s.pageSize)
	for len(rows) < s.pageSize {
		row, err := s.reader.Read()
		if err == io.EOF {
			s.done = true
			break
		}
		if err != nil {
			s.done = true
			return nil, fmt.Errorf("source row: %w", err)
		}
		rows = append(rows, row)
	}

	s.seq++
	// The first chunk is emitted even when empty so callers can flag an
	// empty report; trailing empty chunks are not.
	if len(rows) == 0 && s.seq > 1 {
		return nil, io.EOF
	}
	return &Chunk{Seq: s.seq, Header: s.header, Rows: rows}, nil
}

// Close releases the underlying response body.
func (s *Stream) Close() error {
	return s.body.Close()
}
