// Package pipeline runs one delivery end to end: freshness gate, once-per-day
// check, chunked streaming with per-chunk destination send and audit append,
// finalization, and audience reconciliation where the destination supports it.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/c4m-data/actionhub/internal/destination"
	"github.com/c4m-data/actionhub/internal/ledger"
	"github.com/c4m-data/actionhub/internal/logging"
	"github.com/c4m-data/actionhub/internal/metrics"
	"github.com/c4m-data/actionhub/internal/reconcile"
	"github.com/c4m-data/actionhub/internal/source"
	"github.com/c4m-data/actionhub/internal/tracing"
	"github.com/c4m-data/actionhub/internal/trigger"
	"github.com/c4m-data/actionhub/internal/warehouse"
)

// ChunkResult records the fate of one chunk.
type ChunkResult struct {
	Seq  int
	Rows int
	Err  error
}

// Outcome is the aggregate result of a run. Success is the logical AND over
// every chunk and phase; a mid-run failure flips it and processing continues.
type Outcome struct {
	RunID    string
	Action   string
	Brand    string
	Campaign string

	Attempted int
	Succeeded int
	Failed    []ChunkResult

	Success bool
	Message string
}

// Response maps the outcome to the webhook envelope.
func (o *Outcome) Response() trigger.Response {
	if o.Success {
		return trigger.OK()
	}
	return trigger.Failed(o.Message)
}

func (o *Outcome) flip(message string) {
	o.Success = false
	if o.Message == "" {
		o.Message = message
	}
}

// Pipeline wires one destination adapter to the shared gate, ledger, and
// source stream. One Pipeline per action; runs are request-scoped and
// sequential.
type Pipeline struct {
	Gate    *warehouse.FreshnessGate
	Ledger  *ledger.Ledger
	Adapter destination.Adapter

	// Recon is only set for destinations that support membership removal.
	Recon *reconcile.Job

	// HTTP fetches the report download URL. Nil means http.DefaultClient.
	HTTP     source.HTTPClient
	PageSize int
}

func (p *Pipeline) httpClient() source.HTTPClient {
	if p.HTTP != nil {
		return p.HTTP
	}
	return http.DefaultClient
}

// Run executes one delivery. It never panics outward and always returns an
// Outcome; transport-level success is decided by the caller.
func (p *Pipeline) Run(ctx context.Context, req *trigger.DeliveryRequest) *Outcome {
	out := &Outcome{
		RunID:   uuid.NewString(),
		Action:  req.Action,
		Brand:   req.Brand,
		Success: true,
	}

	ctx, span := tracing.StartSpan(ctx, "pipeline.run",
		attribute.String("action", req.Action),
		attribute.String("brand", req.Brand),
	)
	defer span.End()

	log := logging.WithContext(ctx).WithRun(out.RunID).WithAction(req.Action).WithBrand(req.Brand)

	fresh, report, err := p.Gate.IsFresh(ctx)
	if err != nil {
		return p.fail(ctx, out, fmt.Errorf("freshness gate: %w", err))
	}
	if !fresh {
		out.flip(report.Message())
		metrics.StaleGateTotal.Inc()
		metrics.RecordRun(req.Action, "stale")
		log.Warn(out.Message)
		return out
	}

	stream, err := source.Open(ctx, p.httpClient(), req.DownloadURL, p.PageSize)
	if err != nil {
		return p.fail(ctx, out, err)
	}
	defer stream.Close()

	first, err := stream.Next()
	if err != nil {
		return p.fail(ctx, out, err)
	}
	if first.Empty() {
		log.Warn("report received is empty")
	}

	campaign, err := p.Adapter.CampaignCode(req, first)
	if err != nil {
		return p.fail(ctx, out, err)
	}
	out.Campaign = campaign
	log = log.WithCampaign(campaign).WithChannel(p.Adapter.Channel())

	// An empty campaign key only happens for an empty report; there is
	// nothing to dedup against in that case.
	if campaign != "" {
		ran, err := p.Ledger.AlreadyRanToday(ctx, p.Adapter.Channel(), req.Brand, campaign)
		if err != nil {
			return p.fail(ctx, out, err)
		}
		if ran {
			metrics.AlreadyRanTotal.Inc()
			metrics.RecordRun(req.Action, "noop")
			log.Info("already delivered today, nothing to do")
			return out
		}
	}

	handle, err := p.Adapter.Ensure(ctx, req)
	if err != nil {
		return p.fail(ctx, out, err)
	}

	chunk := first
	for {
		res := p.deliver(ctx, handle, chunk, req.Action)
		out.Attempted++
		if res.Err != nil {
			out.Failed = append(out.Failed, res)
			out.flip(fmt.Sprintf("chunk %d: %v", res.Seq, res.Err))
			log.WithChunk(res.Seq).WithError(res.Err).Error("chunk delivery failed")
		} else {
			out.Succeeded++
		}

		chunk, err = stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			// a malformed row aborts the stream, remaining chunks are lost
			out.flip(err.Error())
			tracing.SetSpanError(ctx, err)
			log.WithError(err).Error("source stream aborted")
			break
		}
	}

	if err := handle.Finalize(ctx); err != nil {
		out.flip(err.Error())
		tracing.SetSpanError(ctx, err)
		log.WithError(err).Error("destination finalize failed")
	}

	if rec, ok := handle.(destination.Reconciler); ok && p.Recon != nil && campaign != "" {
		p.reconcile(ctx, out, rec, req, campaign, log)
	}

	if out.Success {
		metrics.RecordRun(req.Action, "success")
		log.Infof("run complete, %d/%d chunks delivered", out.Succeeded, out.Attempted)
	} else {
		metrics.RecordRun(req.Action, "failed")
		log.Warnf("run finished with failures, %d/%d chunks delivered", out.Succeeded, out.Attempted)
	}
	return out
}

func (p *Pipeline) deliver(ctx context.Context, handle destination.Handle, chunk *source.Chunk, action string) ChunkResult {
	res := ChunkResult{Seq: chunk.Seq, Rows: len(chunk.Rows)}

	start := time.Now()
	if err := handle.Send(ctx, chunk); err != nil {
		res.Err = err
		metrics.RecordChunk(action, "failed")
		return res
	}
	metrics.DestinationLatency.WithLabelValues(action).Observe(time.Since(start).Seconds())

	records, err := handle.Records(chunk)
	if err != nil {
		res.Err = err
		metrics.RecordChunk(action, "failed")
		return res
	}
	if len(records) > 0 {
		// audit durability is the idempotency source of truth: a failed
		// append is a chunk failure even though the destination accepted it
		if err := p.Ledger.Append(ctx, records); err != nil {
			res.Err = err
			metrics.RecordChunk(action, "failed")
			return res
		}
		metrics.LedgerRowsTotal.Add(float64(len(records)))
	}

	metrics.RecordChunk(action, "delivered")
	return res
}

func (p *Pipeline) reconcile(ctx context.Context, out *Outcome, rec destination.Reconciler, req *trigger.DeliveryRequest, campaign string, log *logging.LogEntry) {
	members, err := p.Recon.Removals(ctx, req.Brand, campaign, req.Country)
	if err != nil {
		out.flip(err.Error())
		tracing.SetSpanError(ctx, err)
		log.WithError(err).Error("reconciliation query failed")
		return
	}
	if len(members) == 0 {
		log.Info("no members need to be removed")
		return
	}

	log.Infof("removing %d members", len(members))
	for _, page := range reconcile.Pages(members, reconcile.PageSize) {
		if err := rec.Remove(ctx, page); err != nil {
			out.flip(err.Error())
			log.WithError(err).Error("removal page failed")
		}
	}
	if err := rec.FinalizeRemovals(ctx); err != nil {
		out.flip(err.Error())
		log.WithError(err).Error("removal finalize failed")
		return
	}
	metrics.ReconcileRemovalsTotal.Add(float64(len(members)))
}

func (p *Pipeline) fail(ctx context.Context, out *Outcome, err error) *Outcome {
	out.flip(err.Error())
	tracing.SetSpanError(ctx, err)
	logging.WithContext(ctx).WithRun(out.RunID).WithAction(out.Action).WithBrand(out.Brand).
		WithError(err).Error("run aborted")
	metrics.RecordRun(out.Action, "failed")
	return out
}
