package destination

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"cloud.google.com/go/storage"

	"github.com/c4m-data/actionhub/internal/adform"
	"github.com/c4m-data/actionhub/internal/config"
	"github.com/c4m-data/actionhub/internal/ledger"
	"github.com/c4m-data/actionhub/internal/logging"
	"github.com/c4m-data/actionhub/internal/source"
	"github.com/c4m-data/actionhub/internal/trigger"
	"github.com/c4m-data/actionhub/internal/warehouse"
)

// Identity resolution tables joined by the provider file export.
const (
	normalizedDataset = "clz_c4m_normalized"
	identityTable     = "M_MEDIA_KNOWN_IDENTITY"
)

// ObjectStore writes provider exchange files. The DMP ingests audience
// membership from these, not from a direct API upload.
type ObjectStore interface {
	Put(ctx context.Context, object string, data []byte) error
}

// GCSStore is the ObjectStore used in production.
type GCSStore struct {
	Client *storage.Client
	Bucket string
}

func (s *GCSStore) Put(ctx context.Context, object string, data []byte) error {
	w := s.Client.Bucket(s.Bucket).Object(object).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("object write %s: %w", object, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("object write %s: %w", object, err)
	}
	return nil
}

// AdformAdapter maintains a DMP segment per campaign and exports the run's
// externally addressable codes as a provider exchange file.
type AdformAdapter struct {
	Config    config.Adform
	API       adform.API
	Warehouse warehouse.Client
	ProjectID string
	Store     ObjectStore
}

func (a *AdformAdapter) Channel() string {
	return ledger.ChannelAdform
}

func (a *AdformAdapter) CampaignCode(req *trigger.DeliveryRequest, first *source.Chunk) (string, error) {
	return req.SegmentName, nil
}

// Ensure looks the segment up by exact reference id and creates it on a
// miss, with form overrides applied over the configured defaults.
func (a *AdformAdapter) Ensure(ctx context.Context, req *trigger.DeliveryRequest) (Handle, error) {
	seg, err := a.API.SearchSegment(ctx, req.SegmentName)
	if err != nil {
		return nil, err
	}
	log := logging.WithContext(ctx).WithAction(req.Action).WithBrand(req.Brand).WithCampaign(req.SegmentName)
	if seg == nil {
		seg, err = a.API.CreateSegment(ctx, adform.CreateSegmentRequest{
			DataProviderID: a.Config.DataProviderID,
			Status:         a.Config.Status,
			CategoryID:     trigger.CoerceCategoryID(req.CategoryID, a.Config.CategoryID),
			RefID:          req.SegmentName,
			TTL:            trigger.CoerceTTL(req.TTL, a.Config.TTLDays),
			Name:           req.SegmentName,
			Fee:            a.Config.Fee,
			Frequency:      trigger.CoerceFrequency(req.Frequency, a.Config.Frequency),
		})
		if err != nil {
			return nil, err
		}
		log.Infof("new segment created, id %d", seg.ID)
	} else {
		log.Infof("segment already exists, id %d", seg.ID)
	}

	return &adformHandle{
		adapter: a,
		req:     req,
		refID:   seg.RefID,
		started: trigger.Now(),
	}, nil
}

type adformHandle struct {
	adapter *AdformAdapter
	req     *trigger.DeliveryRequest
	refID   string
	started time.Time
}

// Send is a no-op: the DMP ingests membership from the exchange file written
// at finalize, there is no per-chunk destination call.
func (h *adformHandle) Send(ctx context.Context, chunk *source.Chunk) error {
	return nil
}

func (h *adformHandle) Records(chunk *source.Chunk) ([]ledger.AuditRecord, error) {
	records := make([]ledger.AuditRecord, 0, len(chunk.Rows))
	for _, row := range chunk.Rows {
		records = append(records, ledger.NewRecord(
			chunk.Field(row, ColumnCustomerCode),
			h.refID,
			h.req.Brand,
			ledger.ChannelAdform,
			"",
		))
	}
	return records, nil
}

// Finalize resolves today's sent codes to externally addressable ones and
// uploads them as a header-less TSV exchange file. Customer codes are joined
// hashed; raw codes never reach the provider path.
func (h *adformHandle) Finalize(ctx context.Context) error {
	projPrefix, dsPrefix := warehouse.ResolvePrefixes(h.adapter.ProjectID)
	today := civil.DateOf(h.started)

	query := fmt.Sprintf(`
        SELECT
            DISTINCT(EXTERNAL_CODE),
            CAMPAIGN_CODE
        FROM `+"`%scross-cloud4marketing.%s%s.%s`"+` t1
        INNER JOIN `+"`%scross-cloud4marketing.%s%s.%s`"+` t2
        ON t1.CUSTOMER_CODE = TO_BASE64(SHA256(CAST(t2.CUSTOMER_CODE AS STRING)))
        WHERE
            CHANNEL = '%s'
            AND SENT_DATE = '%s'
            AND CAMPAIGN_CODE = '%s'`,
		projPrefix, dsPrefix, normalizedDataset, identityTable,
		projPrefix, dsPrefix, warehouse.ActivationDataset, ledger.SentTable,
		ledger.ChannelAdform, today, h.refID,
	)
	rows, err := h.adapter.Warehouse.QueryRows(ctx, query)
	if err != nil {
		return fmt.Errorf("resolve external codes: %w", err)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = '\t'
	for _, row := range rows {
		record := make([]string, len(row))
		for i, v := range row {
			record[i] = valueString(v)
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("encode exchange file: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("encode exchange file: %w", err)
	}

	name := SanitizeObjectName(fmt.Sprintf("%s_%s.csv", h.refID, h.started.Format("150405")))
	object := fmt.Sprintf("%s/dt=%s/%s", h.adapter.Config.ProviderTitle, h.started.Format("20060102"), name)
	if err := h.adapter.Store.Put(ctx, object, buf.Bytes()); err != nil {
		return err
	}
	logging.WithContext(ctx).WithCampaign(h.refID).
		Infof("exchange file uploaded, %d codes, %s", len(rows), object)
	return nil
}

func valueString(v bigquery.Value) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
