// Package reconcile computes audience membership removals: identifiers that
// were delivered yesterday but are absent from today's delivery for the same
// campaign key.
package reconcile

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"

	"github.com/c4m-data/actionhub/internal/ledger"
	"github.com/c4m-data/actionhub/internal/trigger"
	"github.com/c4m-data/actionhub/internal/warehouse"
)

// PageSize is the number of removal identifiers issued per destination call.
const PageSize = 50000

// Member is one audience member identified by raw email and phone as they
// were recorded in the audit trail. Hashing happens at the destination
// boundary, not here.
type Member struct {
	Email string
	Phone string
}

// Job resolves removal sets from the audit trail.
type Job struct {
	Client    warehouse.Client
	ProjectID string
}

// Removals returns the distinct (email, phone) pairs present in yesterday's
// audit rows but missing from today's, for one (brand, campaign, country)
// key. An empty result is a normal no-op.
func (j *Job) Removals(ctx context.Context, brand, campaign, country string) ([]Member, error) {
	projPrefix, dsPrefix := warehouse.ResolvePrefixes(j.ProjectID)
	today := civil.DateOf(trigger.Now())
	yesterday := today.AddDays(-1)

	table := fmt.Sprintf("`%scross-cloud4marketing.%s%s.%s`",
		projPrefix, dsPrefix, warehouse.ActivationDataset, ledger.SentTable)

	query := fmt.Sprintf(`
        SELECT DISTINCT
            JSON_EXTRACT_SCALAR(LS1.CONTENT_DESC, '$.Email') AS email,
            JSON_EXTRACT_SCALAR(LS1.CONTENT_DESC, '$.PhoneNumber') AS phone_number
        FROM %s LS1
        WHERE
            LS1.CHANNEL = '%s'
            AND LS1.SENT_DATE = '%s'
            AND LS1.CAMPAIGN_CODE = '%s'
            AND LS1.BRAND = '%s'
            AND JSON_EXTRACT_SCALAR(LS1.CONTENT_DESC, '$.country') = '%s'
            AND LS1.CUSTOMER_CODE NOT IN (
                SELECT LS2.CUSTOMER_CODE
                FROM %s LS2
                WHERE
                    LS2.CHANNEL = '%s'
                    AND LS2.SENT_DATE = '%s'
                    AND LS2.CAMPAIGN_CODE = '%s'
                    AND LS2.BRAND = '%s'
                    AND JSON_EXTRACT_SCALAR(LS2.CONTENT_DESC, '$.country') = '%s'
            )`,
		table, ledger.ChannelGoogleAds, yesterday, campaign, brand, country,
		table, ledger.ChannelGoogleAds, today, campaign, brand, country,
	)

	rows, err := j.Client.QueryRows(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("reconcile removals: %w", err)
	}

	members := make([]Member, 0, len(rows))
	for _, row := range rows {
		m := Member{Email: asString(row, 0), Phone: asString(row, 1)}
		if m.Email == "" && m.Phone == "" {
			continue
		}
		members = append(members, m)
	}
	return members, nil
}

// Pages splits a removal set into fixed-size pages.
func Pages(members []Member, size int) [][]Member {
	if size <= 0 {
		size = PageSize
	}
	var pages [][]Member
	for start := 0; start < len(members); start += size {
		end := start + size
		if end > len(members) {
			end = len(members)
		}
		pages = append(pages, members[start:end])
	}
	return pages
}

func asString(row []bigquery.Value, i int) string {
	if i >= len(row) || row[i] == nil {
		return ""
	}
	s, _ := row[i].(string)
	return s
}
