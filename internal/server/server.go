// Package server exposes the action hub HTTP surface: the integration
// catalog, per-action form schemas, and the execute webhooks.
package server

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c4m-data/actionhub/internal/config"
	"github.com/c4m-data/actionhub/internal/logging"
	"github.com/c4m-data/actionhub/internal/pipeline"
	"github.com/c4m-data/actionhub/internal/trigger"
)

//go:embed forms/*.json
var formsFS embed.FS

// Runner executes one delivery for an action.
type Runner interface {
	Run(ctx context.Context, req *trigger.DeliveryRequest) *pipeline.Outcome
}

// Server routes webhook traffic to the per-action pipelines.
type Server struct {
	router    *chi.Mux
	cfg       config.Config
	pipelines map[string]Runner
}

func New(cfg config.Config, pipelines map[string]Runner, registry *prometheus.Registry) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		cfg:       cfg,
		pipelines: pipelines,
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/healthz", s.handleHealth)
	s.router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	s.router.Post("/list", s.handleList)
	s.router.Post("/{action}/form", s.handleForm)
	s.router.Post("/{action}/execute", s.handleExecute)

	return s
}

// Handler returns the routable surface for an http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok", "service": s.cfg.AppName})
}

// handleExecute decodes the trigger and runs the pipeline. Logical failures
// are reported in the envelope body; the status is 200 either way, which is
// the contract the BI tool expects.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	action := chi.URLParam(r, "action")
	p, ok := s.pipelines[action]
	if !ok {
		http.NotFound(w, r)
		return
	}

	req, err := trigger.ParseRequest(action, r.Body)
	if err != nil {
		logging.WithContext(r.Context()).WithAction(action).WithError(err).Warn("rejected trigger payload")
		writeJSON(w, trigger.Failed(err.Error()))
		return
	}

	out := p.Run(r.Context(), req)
	writeJSON(w, out.Response())
}

// envLabel prefixes catalog labels so dev and test hubs are told apart from
// production inside the BI tool.
func (s *Server) envLabel() string {
	project := s.cfg.Warehouse.ProjectID
	switch {
	case strings.Contains(project, "dev-"):
		return "DEV - "
	case strings.Contains(project, "test-"):
		return "TEST - "
	default:
		return ""
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	var integrations []map[string]any
	if err := loadForm("forms/integrations.json", &integrations); err != nil {
		httpError(w, err)
		return
	}

	prefix := s.envLabel()
	base := s.cfg.HTTP.ServiceURL
	for _, integration := range integrations {
		name, _ := integration["name"].(string)
		label, _ := integration["label"].(string)
		integration["label"] = prefix + label
		integration["url"] = fmt.Sprintf("%s/%s/execute", base, name)
		integration["form_url"] = fmt.Sprintf("%s/%s/form", base, name)
	}

	writeJSON(w, map[string]any{
		"label":        "Calzedonia Custom Actions",
		"integrations": integrations,
	})
}

// formFiles maps actions to their embedded schema.
var formFiles = map[string]string{
	trigger.ActionSFTP:      "forms/form_sftp.json",
	trigger.ActionAdform:    "forms/form_adform.json",
	trigger.ActionGoogleAds: "forms/form_googleads.json",
}

func (s *Server) handleForm(w http.ResponseWriter, r *http.Request) {
	action := chi.URLParam(r, "action")
	file, ok := formFiles[action]
	if !ok {
		http.NotFound(w, r)
		return
	}

	var fields []map[string]any
	if err := loadForm(file, &fields); err != nil {
		httpError(w, err)
		return
	}

	// the override fields advertise their configured defaults
	for _, field := range fields {
		switch field["name"] {
		case "category_id":
			field["description"] = fmt.Sprintf("Category (default=%d)", s.cfg.Adform.CategoryID)
		case "frequency":
			field["description"] = fmt.Sprintf("Frequency (default=%d)", s.cfg.Adform.Frequency)
		case "ttl":
			if action == trigger.ActionGoogleAds {
				field["description"] = fmt.Sprintf("TTL (default=%d)", s.cfg.GoogleAds.TTLDays)
			} else {
				field["description"] = fmt.Sprintf("TTL (default=%d)", s.cfg.Adform.TTLDays)
			}
		}
	}

	writeJSON(w, fields)
}

func loadForm(file string, out any) error {
	data, err := formsFS.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read form %s: %w", file, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode form %s: %w", file, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Plain().WithError(err).Error("encode response")
	}
}

func httpError(w http.ResponseWriter, err error) {
	logging.Plain().WithError(err).Error("request failed")
	http.Error(w, err.Error(), http.StatusInternalServerError)
}
