package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func serveCSV(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestStreamChunking(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("HerokuID,CampaignID,Email\n")
	for i := 0; i < 5; i++ {
		fmt.Fprintf(&sb, "C%d,CAMP01,user%d@example.com\n", i, i)
	}
	srv := serveCSV(t, sb.String())

	stream, err := Open(context.Background(), srv.Client(), srv.URL, 2)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer stream.Close()

	var chunks []*Chunk
	for {
		chunk, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next() error: %v", err)
		}
		chunks = append(chunks, chunk)
	}

	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	for i, chunk := range chunks {
		if chunk.Seq != i+1 {
			t.Errorf("chunk[%d].Seq = %d, want %d", i, chunk.Seq, i+1)
		}
		if len(chunk.Header) != 3 || chunk.Header[0] != "HerokuID" {
			t.Errorf("chunk[%d] header = %v", i, chunk.Header)
		}
	}
	if len(chunks[0].Rows) != 2 || len(chunks[1].Rows) != 2 || len(chunks[2].Rows) != 1 {
		t.Errorf("row counts = %d,%d,%d; want 2,2,1",
			len(chunks[0].Rows), len(chunks[1].Rows), len(chunks[2].Rows))
	}
}

func TestStreamEmptyReport(t *testing.T) {
	srv := serveCSV(t, "HerokuID,CampaignID\n")

	stream, err := Open(context.Background(), srv.Client(), srv.URL, 100)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer stream.Close()

	first, err := stream.Next()
	if err != nil {
		t.Fatalf("Next() error: %v", err)
	}
	if first.Seq != 1 || !first.Empty() {
		t.Errorf("first chunk Seq=%d Empty=%v, want 1/true", first.Seq, first.Empty())
	}

	if _, err := stream.Next(); err != io.EOF {
		t.Errorf("second Next() = %v, want io.EOF", err)
	}
}

func TestStreamNoHeader(t *testing.T) {
	srv := serveCSV(t, "")
	if _, err := Open(context.Background(), srv.Client(), srv.URL, 10); err == nil {
		t.Error("Open() expected error for headerless report")
	}
}

func TestStreamMalformedRowIsFatal(t *testing.T) {
	srv := serveCSV(t, "A,B\n1,2\n\"unterminated\n")

	stream, err := Open(context.Background(), srv.Client(), srv.URL, 10)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer stream.Close()

	if _, err := stream.Next(); err == nil || err == io.EOF {
		t.Errorf("Next() = %v, want parse error", err)
	}
}

func TestStreamBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	if _, err := Open(context.Background(), srv.Client(), srv.URL, 10); err == nil {
		t.Error("Open() expected error for non-200 response")
	}
}

func TestChunkFieldAndColumn(t *testing.T) {
	chunk := &Chunk{
		Seq:    1,
		Header: []string{"HerokuID", "Email"},
		Rows:   [][]string{{"C1", "a@b.com"}},
	}

	if v := chunk.Field(chunk.Rows[0], "Email"); v != "a@b.com" {
		t.Errorf("Field(Email) = %q", v)
	}
	if v := chunk.Field(chunk.Rows[0], "Missing"); v != "" {
		t.Errorf("Field(Missing) = %q, want empty", v)
	}
	if _, ok := chunk.Column("HerokuID"); !ok {
		t.Error("Column(HerokuID) not found")
	}
}

func TestChunkRowJSON(t *testing.T) {
	chunk := &Chunk{
		Header: []string{"HerokuID", "Email"},
		Rows:   [][]string{{"C1", "a@b.com"}},
	}

	raw, err := chunk.RowJSON(chunk.Rows[0], map[string]string{"country": "IT"})
	if err != nil {
		t.Fatalf("RowJSON() error: %v", err)
	}

	var obj map[string]string
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		t.Fatalf("RowJSON() produced invalid JSON: %v", err)
	}
	if obj["HerokuID"] != "C1" || obj["Email"] != "a@b.com" || obj["country"] != "IT" {
		t.Errorf("RowJSON() = %v", obj)
	}
}
