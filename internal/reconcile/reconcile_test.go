package reconcile

import (
	"context"
	"strings"
	"testing"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
)

type fakeClient struct {
	lastQuery string
	rows      [][]bigquery.Value
	err       error
}

func (f *fakeClient) QueryDate(ctx context.Context, query string) (civil.Date, bool, error) {
	return civil.Date{}, false, nil
}

func (f *fakeClient) QueryRows(ctx context.Context, query string) ([][]bigquery.Value, error) {
	f.lastQuery = query
	return f.rows, f.err
}

func (f *fakeClient) Append(ctx context.Context, datasetID, tableID string, columns []string, rows [][]bigquery.Value) error {
	return nil
}

func TestRemovalsMapsRows(t *testing.T) {
	fc := &fakeClient{rows: [][]bigquery.Value{
		{"a@example.com", "+3912345"},
		{"b@example.com", nil},
		{nil, "+3967890"},
		{nil, nil}, // both identifiers null, dropped
	}}
	job := &Job{Client: fc, ProjectID: "prod-cross-cloud4marketing"}

	members, err := job.Removals(context.Background(), "CLZ", "CLZ_IT_CAMP1", "IT")
	if err != nil {
		t.Fatalf("Removals: %v", err)
	}
	want := []Member{
		{Email: "a@example.com", Phone: "+3912345"},
		{Email: "b@example.com"},
		{Phone: "+3967890"},
	}
	if len(members) != len(want) {
		t.Fatalf("got %d members, want %d", len(members), len(want))
	}
	for i := range want {
		if members[i] != want[i] {
			t.Errorf("member %d = %+v, want %+v", i, members[i], want[i])
		}
	}
}

func TestRemovalsQueryShape(t *testing.T) {
	fc := &fakeClient{}
	job := &Job{Client: fc, ProjectID: "dev-cross-cloud4marketing"}

	if _, err := job.Removals(context.Background(), "CLZ", "CLZ_IT_CAMP1", "IT"); err != nil {
		t.Fatalf("Removals: %v", err)
	}
	for _, fragment := range []string{
		"`dev-cross-cloud4marketing.dev_clz_c4m_public_activation.F_LOOKER_SENT`",
		"CHANNEL = 'GOOGLEADS'",
		"CAMPAIGN_CODE = 'CLZ_IT_CAMP1'",
		"BRAND = 'CLZ'",
		"JSON_EXTRACT_SCALAR(LS1.CONTENT_DESC, '$.country') = 'IT'",
		"NOT IN",
	} {
		if !strings.Contains(fc.lastQuery, fragment) {
			t.Errorf("query missing %q:\n%s", fragment, fc.lastQuery)
		}
	}
}

func TestPages(t *testing.T) {
	members := make([]Member, 7)
	tests := []struct {
		name string
		size int
		want []int
	}{
		{"exact multiple", 7, []int{7}},
		{"remainder", 3, []int{3, 3, 1}},
		{"single page", 100, []int{7}},
		{"default size", 0, []int{7}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pages := Pages(members, tt.size)
			if len(pages) != len(tt.want) {
				t.Fatalf("got %d pages, want %d", len(pages), len(tt.want))
			}
			for i, n := range tt.want {
				if len(pages[i]) != n {
					t.Errorf("page %d has %d members, want %d", i, len(pages[i]), n)
				}
			}
		})
	}
}

func TestPagesEmpty(t *testing.T) {
	if pages := Pages(nil, 10); pages != nil {
		t.Errorf("expected no pages for empty set, got %d", len(pages))
	}
}
