package trigger

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"
)

// Action kinds, matching the route each request arrived on.
const (
	ActionSFTP      = "sftp_upload"
	ActionAdform    = "adform_upload"
	ActionGoogleAds = "googleads_upload"
)

// payload mirrors the Looker scheduled-plan webhook body.
type payload struct {
	FormParams struct {
		Brand       string `json:"brand"`
		DatasetID   string `json:"dataset_id"`
		TableID     string `json:"table_id"`
		PathSFTP    string `json:"path_sftp"`
		SegmentName string `json:"segment_name"`
		CategoryID  string `json:"category_id"`
		TTL         string `json:"ttl"`
		Frequency   string `json:"frequency"`
		Country     string `json:"country"`
	} `json:"form_params"`
	ScheduledPlan struct {
		DownloadURL string `json:"download_url"`
		Title       string `json:"title"`
	} `json:"scheduled_plan"`
}

// DeliveryRequest is the immutable per-invocation input to the pipeline.
// Created once per trigger, read-only thereafter.
type DeliveryRequest struct {
	Action      string
	Brand       string
	SegmentName string
	DownloadURL string
	ReportTitle string

	// SFTP action
	PathSFTP  string
	DatasetID string
	TableID   string

	// Destination parameter overrides (raw form values; coerced by adapters)
	CategoryID string
	TTL        string
	Frequency  string
	Country    string
}

// ParseRequest decodes the Looker trigger body for the given action.
func ParseRequest(action string, body io.Reader) (*DeliveryRequest, error) {
	var p payload
	if err := json.NewDecoder(body).Decode(&p); err != nil {
		return nil, fmt.Errorf("decode trigger payload: %w", err)
	}
	if p.ScheduledPlan.DownloadURL == "" {
		return nil, errors.New("scheduled_plan.download_url is required")
	}

	req := &DeliveryRequest{
		Action:      action,
		Brand:       p.FormParams.Brand,
		SegmentName: p.FormParams.SegmentName,
		DownloadURL: p.ScheduledPlan.DownloadURL,
		ReportTitle: p.ScheduledPlan.Title,
		PathSFTP:    p.FormParams.PathSFTP,
		DatasetID:   p.FormParams.DatasetID,
		TableID:     p.FormParams.TableID,
		CategoryID:  p.FormParams.CategoryID,
		TTL:         p.FormParams.TTL,
		Frequency:   p.FormParams.Frequency,
		Country:     p.FormParams.Country,
	}

	switch action {
	case ActionSFTP:
		if req.PathSFTP == "" {
			return nil, errors.New("form_params.path_sftp is required")
		}
	case ActionAdform, ActionGoogleAds:
		if req.SegmentName == "" {
			return nil, errors.New("form_params.segment_name is required")
		}
	default:
		return nil, fmt.Errorf("unknown action %q", action)
	}

	return req, nil
}

// SendToWarehouse reports whether the SFTP action should also load chunks
// into a warehouse table.
func (r *DeliveryRequest) SendToWarehouse() bool {
	return r.DatasetID != "" && r.TableID != ""
}

// Response is the envelope Looker expects. Logical failure is signaled
// in-body; the HTTP status is always 200.
type Response struct {
	Looker struct {
		Success bool   `json:"success"`
		Message string `json:"message,omitempty"`
	} `json:"looker"`
}

// OK builds a success response.
func OK() Response {
	var r Response
	r.Looker.Success = true
	return r
}

// Failed builds a failure response with a user-visible message.
func Failed(message string) Response {
	var r Response
	r.Looker.Message = message
	return r
}

// CoerceTTL applies the segment lifetime rules: values in [1,120] pass
// through, values above 120 clamp to 120, anything else (empty, non-numeric,
// below 1) falls back to the configured default.
func CoerceTTL(raw string, def int) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		n = def
	}
	if n > 120 {
		n = 120
	}
	return n
}

// CoerceFrequency accepts any value >= 1, otherwise the default.
func CoerceFrequency(raw string, def int) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return def
	}
	return n
}

// CoerceCategoryID accepts any positive integer, otherwise the default.
func CoerceCategoryID(raw string, def int) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return def
	}
	return n
}

// campaignZone is the fixed offset the upstream activation layer runs on.
var campaignZone = time.FixedZone("UTC+1", 60*60)

// Now returns the current campaign-local time truncated to whole seconds.
// All sent dates, timestamps, and file names derive from this clock.
func Now() time.Time {
	return time.Now().In(campaignZone).Truncate(time.Second)
}
