package adform

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// testClient bypasses the OAuth transport so handlers see plain requests.
func testClient(baseURL string) *Client {
	return &Client{httpClient: http.DefaultClient, baseURL: baseURL}
}

func TestSearchSegmentExactMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("search"); got != "CLZ_IT_CAMP1" {
			t.Errorf("search query = %q, want CLZ_IT_CAMP1", got)
		}
		// the search endpoint matches loosely, so it returns near misses too
		json.NewEncoder(w).Encode([]Segment{
			{ID: 10, RefID: "CLZ_IT_CAMP10"},
			{ID: 1, RefID: "CLZ_IT_CAMP1", TTL: 30},
		})
	}))
	defer srv.Close()

	seg, err := testClient(srv.URL).SearchSegment(context.Background(), "CLZ_IT_CAMP1")
	if err != nil {
		t.Fatalf("SearchSegment: %v", err)
	}
	if seg == nil {
		t.Fatal("expected a segment, got nil")
	}
	if seg.ID != 1 || seg.TTL != 30 {
		t.Errorf("got segment %+v, want id 1 ttl 30", seg)
	}
}

func TestSearchSegmentMiss(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]Segment{{ID: 10, RefID: "OTHER"}})
	}))
	defer srv.Close()

	seg, err := testClient(srv.URL).SearchSegment(context.Background(), "CLZ_IT_CAMP1")
	if err != nil {
		t.Fatalf("SearchSegment: %v", err)
	}
	if seg != nil {
		t.Errorf("expected nil on miss, got %+v", seg)
	}
}

func TestSearchSegmentAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	if _, err := testClient(srv.URL).SearchSegment(context.Background(), "X"); err == nil {
		t.Fatal("expected error on non-200 status")
	}
}

func TestCreateSegment(t *testing.T) {
	var received CreateSegmentRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode create body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(Segment{ID: 42, RefID: received.RefID, TTL: received.TTL})
	}))
	defer srv.Close()

	seg, err := testClient(srv.URL).CreateSegment(context.Background(), CreateSegmentRequest{
		DataProviderID: 7,
		Status:         "active",
		CategoryID:     99,
		RefID:          "CLZ_IT_CAMP1",
		TTL:            60,
		Name:           "CLZ_IT_CAMP1",
		Frequency:      1,
	})
	if err != nil {
		t.Fatalf("CreateSegment: %v", err)
	}
	if seg.ID != 42 || seg.RefID != "CLZ_IT_CAMP1" {
		t.Errorf("got segment %+v", seg)
	}
	if received.DataProviderID != 7 || received.CategoryID != 99 || received.TTL != 60 {
		t.Errorf("create payload %+v not forwarded verbatim", received)
	}
}
