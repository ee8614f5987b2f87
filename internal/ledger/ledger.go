package ledger

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"

	"github.com/c4m-data/actionhub/internal/trigger"
	"github.com/c4m-data/actionhub/internal/warehouse"
)

// Delivery channels recorded in the audit trail.
const (
	ChannelMarketing = "MKT"
	ChannelAdform    = "ADFORM"
	ChannelGoogleAds = "GOOGLEADS"
)

// SentTable is the append-only audit table in the activation dataset.
const SentTable = "F_LOOKER_SENT"

// Columns is the fixed column order of every audit append.
var Columns = []string{
	"SENT_DATE", "SENT_DATETIME", "CUSTOMER_CODE", "CAMPAIGN_CODE", "BRAND", "CHANNEL", "CONTENT_DESC",
}

// AuditRecord is one delivered customer identifier. ContentDesc is an opaque
// JSON snapshot of the source row.
type AuditRecord struct {
	SentDate     civil.Date
	SentDateTime civil.DateTime
	CustomerCode string
	CampaignCode string
	Brand        string
	Channel      string
	ContentDesc  string
}

// Ledger reads and appends the audit trail. Appends are all-or-nothing per
// call; the table is never created, mutated, or pruned from here.
type Ledger struct {
	Client    warehouse.Client
	ProjectID string
}

// LastSentDate returns the most recent SENT_DATE for a (channel, brand,
// campaign) key. The second return is false when no prior record exists,
// which is not an error.
func (l *Ledger) LastSentDate(ctx context.Context, channel, brand, campaignCode string) (civil.Date, bool, error) {
	projPrefix, dsPrefix := warehouse.ResolvePrefixes(l.ProjectID)

	query := fmt.Sprintf(`
        SELECT MAX(SENT_DATE)
        FROM `+"`%scross-cloud4marketing.%s%s.%s`"+`
        WHERE CHANNEL = '%s'
          AND BRAND = '%s'
          AND CAMPAIGN_CODE = '%s'`,
		projPrefix, dsPrefix, warehouse.ActivationDataset, SentTable,
		channel, brand, campaignCode,
	)

	date, ok, err := l.Client.QueryDate(ctx, query)
	if err != nil {
		return civil.Date{}, false, fmt.Errorf("ledger last sent date: %w", err)
	}
	return date, ok, nil
}

// AlreadyRanToday reports whether the campaign was delivered on this channel
// today. This is the only dedup mechanism; the ledger itself has no
// uniqueness constraint.
func (l *Ledger) AlreadyRanToday(ctx context.Context, channel, brand, campaignCode string) (bool, error) {
	last, ok, err := l.LastSentDate(ctx, channel, brand, campaignCode)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return last == civil.DateOf(trigger.Now()), nil
}

// Append writes audit records in the fixed column order. A failure means the
// whole batch was not durably recorded and must surface as a run failure even
// when the destination delivery itself succeeded.
func (l *Ledger) Append(ctx context.Context, records []AuditRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, dsPrefix := warehouse.ResolvePrefixes(l.ProjectID)

	dataset := dsPrefix + warehouse.ActivationDataset
	if err := l.Client.Append(ctx, dataset, SentTable, Columns, Rows(records)); err != nil {
		return fmt.Errorf("ledger append: %w", err)
	}
	return nil
}

// Rows lays records out in the fixed Columns order, for the audit table and
// for per-run sink tables that share its shape.
func Rows(records []AuditRecord) [][]bigquery.Value {
	rows := make([][]bigquery.Value, len(records))
	for i, r := range records {
		rows[i] = []bigquery.Value{
			r.SentDate, r.SentDateTime, r.CustomerCode, r.CampaignCode, r.Brand, r.Channel, r.ContentDesc,
		}
	}
	return rows
}

// NewRecord builds an audit record stamped with the shared campaign clock.
func NewRecord(customerCode, campaignCode, brand, channel, contentDesc string) AuditRecord {
	now := trigger.Now()
	return AuditRecord{
		SentDate:     civil.DateOf(now),
		SentDateTime: civil.DateTimeOf(now),
		CustomerCode: customerCode,
		CampaignCode: campaignCode,
		Brand:        brand,
		Channel:      channel,
		ContentDesc:  contentDesc,
	}
}
