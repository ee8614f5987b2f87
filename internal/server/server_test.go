package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c4m-data/actionhub/internal/config"
	"github.com/c4m-data/actionhub/internal/metrics"
	"github.com/c4m-data/actionhub/internal/pipeline"
	"github.com/c4m-data/actionhub/internal/trigger"
)

type fakeRunner struct {
	req *trigger.DeliveryRequest
	out *pipeline.Outcome
}

func (f *fakeRunner) Run(ctx context.Context, req *trigger.DeliveryRequest) *pipeline.Outcome {
	f.req = req
	return f.out
}

func testConfig(projectID string) config.Config {
	cfg := config.Config{AppName: "actionhub"}
	cfg.Warehouse.ProjectID = projectID
	cfg.HTTP.ServiceURL = "https://actionhub.example.com"
	cfg.Adform.CategoryID = 40
	cfg.Adform.Frequency = 1
	cfg.Adform.TTLDays = 30
	cfg.GoogleAds.TTLDays = 10
	return cfg
}

func newTestServer(projectID string, runners map[string]Runner) *Server {
	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)
	return New(testConfig(projectID), runners, reg)
}

func executeBody() string {
	return `{
		"form_params": {"brand": "CLZ", "segment_name": "CLZ_IT_CAMP1", "country": "IT"},
		"scheduled_plan": {"download_url": "https://looker.example.com/dl/1", "title": "Weekly"}
	}`
}

func TestExecuteSuccessEnvelope(t *testing.T) {
	runner := &fakeRunner{out: &pipeline.Outcome{Success: true}}
	srv := newTestServer("prod-cross-cloud4marketing", map[string]Runner{trigger.ActionGoogleAds: runner})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/googleads_upload/execute", strings.NewReader(executeBody()))
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp trigger.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Looker.Success || resp.Looker.Message != "" {
		t.Errorf("response = %+v, want bare success", resp)
	}
	if runner.req == nil || runner.req.SegmentName != "CLZ_IT_CAMP1" {
		t.Errorf("runner got request %+v", runner.req)
	}
}

func TestExecuteLogicalFailureStill200(t *testing.T) {
	runner := &fakeRunner{out: &pipeline.Outcome{Success: false, Message: "Action NOT performed"}}
	srv := newTestServer("prod-cross-cloud4marketing", map[string]Runner{trigger.ActionGoogleAds: runner})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/googleads_upload/execute", strings.NewReader(executeBody()))
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 even on logical failure", rec.Code)
	}
	var resp trigger.Response
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Looker.Success || !strings.Contains(resp.Looker.Message, "NOT performed") {
		t.Errorf("response = %+v", resp)
	}
}

func TestExecuteBadPayloadStill200(t *testing.T) {
	runner := &fakeRunner{out: &pipeline.Outcome{Success: true}}
	srv := newTestServer("prod-cross-cloud4marketing", map[string]Runner{trigger.ActionGoogleAds: runner})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/googleads_upload/execute", strings.NewReader(`{"form_params":{}}`))
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp trigger.Response
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Looker.Success {
		t.Error("invalid payload must fail in the envelope")
	}
	if runner.req != nil {
		t.Error("pipeline must not run for an invalid payload")
	}
}

func TestExecuteUnknownAction(t *testing.T) {
	srv := newTestServer("prod-cross-cloud4marketing", map[string]Runner{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/bogus_upload/execute", strings.NewReader(executeBody()))
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestListCatalog(t *testing.T) {
	srv := newTestServer("dev-cross-cloud4marketing", map[string]Runner{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/list", nil)
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var catalog struct {
		Label        string `json:"label"`
		Integrations []struct {
			Name    string `json:"name"`
			Label   string `json:"label"`
			URL     string `json:"url"`
			FormURL string `json:"form_url"`
		} `json:"integrations"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &catalog); err != nil {
		t.Fatalf("decode catalog: %v", err)
	}
	if catalog.Label != "Calzedonia Custom Actions" {
		t.Errorf("label = %q", catalog.Label)
	}
	if len(catalog.Integrations) != 3 {
		t.Fatalf("got %d integrations, want 3", len(catalog.Integrations))
	}
	for _, in := range catalog.Integrations {
		if !strings.HasPrefix(in.Label, "DEV - ") {
			t.Errorf("label %q missing environment prefix", in.Label)
		}
		wantURL := "https://actionhub.example.com/" + in.Name + "/execute"
		if in.URL != wantURL {
			t.Errorf("url = %q, want %q", in.URL, wantURL)
		}
		if !strings.HasSuffix(in.FormURL, "/"+in.Name+"/form") {
			t.Errorf("form_url = %q", in.FormURL)
		}
	}
}

func TestListNoPrefixInProd(t *testing.T) {
	srv := newTestServer("prod-cross-cloud4marketing", map[string]Runner{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/list", nil)
	srv.Handler().ServeHTTP(rec, req)

	if strings.Contains(rec.Body.String(), "DEV - ") || strings.Contains(rec.Body.String(), "TEST - ") {
		t.Error("production catalog must not carry an environment prefix")
	}
}

func TestFormDefaultsInterpolated(t *testing.T) {
	srv := newTestServer("prod-cross-cloud4marketing", map[string]Runner{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/adform_upload/form", nil)
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var fields []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &fields); err != nil {
		t.Fatalf("decode form: %v", err)
	}
	byName := make(map[string]map[string]any)
	for _, f := range fields {
		name, _ := f["name"].(string)
		byName[name] = f
	}
	if desc, _ := byName["ttl"]["description"].(string); desc != "TTL (default=30)" {
		t.Errorf("ttl description = %q", desc)
	}
	if desc, _ := byName["category_id"]["description"].(string); desc != "Category (default=40)" {
		t.Errorf("category description = %q", desc)
	}
	if desc, _ := byName["frequency"]["description"].(string); desc != "Frequency (default=1)" {
		t.Errorf("frequency description = %q", desc)
	}
}

func TestFormGoogleAdsTTLDefault(t *testing.T) {
	srv := newTestServer("prod-cross-cloud4marketing", map[string]Runner{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/googleads_upload/form", nil)
	srv.Handler().ServeHTTP(rec, req)

	if !strings.Contains(rec.Body.String(), "TTL (default=10)") {
		t.Errorf("google ads form missing its ttl default:\n%s", rec.Body.String())
	}
}

func TestHealthz(t *testing.T) {
	srv := newTestServer("prod-cross-cloud4marketing", map[string]Runner{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("healthz = %d %s", rec.Code, rec.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer("prod-cross-cloud4marketing", map[string]Runner{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("metrics status = %d", rec.Code)
	}
}
