package destination

import (
	"context"

	"github.com/c4m-data/actionhub/internal/config"
	"github.com/c4m-data/actionhub/internal/googleads"
	"github.com/c4m-data/actionhub/internal/identity"
	"github.com/c4m-data/actionhub/internal/ledger"
	"github.com/c4m-data/actionhub/internal/logging"
	"github.com/c4m-data/actionhub/internal/reconcile"
	"github.com/c4m-data/actionhub/internal/source"
	"github.com/c4m-data/actionhub/internal/trigger"
)

// GoogleAdsAdapter maintains a customer-match user list per campaign. All
// upsert chunks of a run share one offline job; removals get their own.
type GoogleAdsAdapter struct {
	Config config.Config

	// NewAPI overrides client construction, for tests. Nil means the REST
	// client for the resolved customer account.
	NewAPI func(ctx context.Context, customerID string) googleads.API
}

func (a *GoogleAdsAdapter) Channel() string {
	return ledger.ChannelGoogleAds
}

func (a *GoogleAdsAdapter) CampaignCode(req *trigger.DeliveryRequest, first *source.Chunk) (string, error) {
	return req.SegmentName, nil
}

// Ensure resolves the customer account, finds or creates the user list, and
// opens the run's add job. A missing brand/country account mapping fails
// here, before any destination call.
func (a *GoogleAdsAdapter) Ensure(ctx context.Context, req *trigger.DeliveryRequest) (Handle, error) {
	customerID, err := a.Config.AdsCustomerID(req.Brand, req.Country)
	if err != nil {
		return nil, err
	}
	var api googleads.API
	if a.NewAPI != nil {
		api = a.NewAPI(ctx, customerID)
	} else {
		api = googleads.New(ctx, a.Config.GoogleAds, customerID)
	}

	log := logging.WithContext(ctx).WithAction(req.Action).WithBrand(req.Brand).WithCampaign(req.SegmentName)
	list, found, err := api.FindUserList(ctx, req.SegmentName)
	if err != nil {
		return nil, err
	}
	if !found {
		list, err = api.CreateUserList(ctx, req.SegmentName, trigger.CoerceTTL(req.TTL, a.Config.GoogleAds.TTLDays))
		if err != nil {
			return nil, err
		}
		log.Infof("new user list created, %s", list)
	} else {
		log.Infof("user list already exists, %s", list)
	}

	addJob, err := api.CreateJob(ctx, list)
	if err != nil {
		return nil, err
	}

	return &googleAdsHandle{
		api:    api,
		req:    req,
		list:   list,
		addJob: addJob,
	}, nil
}

type googleAdsHandle struct {
	api    googleads.API
	req    *trigger.DeliveryRequest
	list   string
	addJob string

	// removeJob is opened lazily on the first removal page. Adds and
	// removes must never share a job.
	removeJob string
}

// Send hashes the chunk's identifiers and queues them on the add job. Rows
// without any identifier are skipped, never hashed empty.
func (h *googleAdsHandle) Send(ctx context.Context, chunk *source.Chunk) error {
	ops := make([]googleads.UserDataOperation, 0, len(chunk.Rows))
	for _, row := range chunk.Rows {
		op := googleads.UserDataOperation{
			HashedEmail: identity.HashEmail(chunk.Field(row, ColumnEmail)),
			HashedPhone: identity.HashPhone(chunk.Field(row, ColumnPhone)),
		}
		if op.HashedEmail == "" && op.HashedPhone == "" {
			continue
		}
		ops = append(ops, op)
	}
	if len(ops) == 0 {
		return nil
	}
	return h.api.AddOperations(ctx, h.addJob, ops)
}

func (h *googleAdsHandle) Records(chunk *source.Chunk) ([]ledger.AuditRecord, error) {
	records := make([]ledger.AuditRecord, 0, len(chunk.Rows))
	for _, row := range chunk.Rows {
		desc, err := chunk.RowJSON(row, map[string]string{"country": h.req.Country})
		if err != nil {
			return nil, err
		}
		records = append(records, ledger.NewRecord(
			chunk.Field(row, ColumnCustomerCode),
			h.req.SegmentName,
			h.req.Brand,
			ledger.ChannelGoogleAds,
			desc,
		))
	}
	return records, nil
}

// Finalize runs the add job exactly once, after the last chunk.
func (h *googleAdsHandle) Finalize(ctx context.Context) error {
	return h.api.RunJob(ctx, h.addJob)
}

// Remove queues one removal page on the dedicated remove job, opening it on
// first use.
func (h *googleAdsHandle) Remove(ctx context.Context, members []reconcile.Member) error {
	if len(members) == 0 {
		return nil
	}
	if h.removeJob == "" {
		job, err := h.api.CreateJob(ctx, h.list)
		if err != nil {
			return err
		}
		h.removeJob = job
	}
	ops := make([]googleads.UserDataOperation, 0, len(members))
	for _, m := range members {
		ops = append(ops, googleads.UserDataOperation{
			Remove:      true,
			HashedEmail: identity.HashEmail(m.Email),
			HashedPhone: identity.HashPhone(m.Phone),
		})
	}
	return h.api.AddOperations(ctx, h.removeJob, ops)
}

// FinalizeRemovals runs the remove job if any page was queued.
func (h *googleAdsHandle) FinalizeRemovals(ctx context.Context) error {
	if h.removeJob == "" {
		return nil
	}
	return h.api.RunJob(ctx, h.removeJob)
}
