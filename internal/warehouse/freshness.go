package warehouse

import (
	"context"
	"fmt"

	"cloud.google.com/go/civil"

	"github.com/c4m-data/actionhub/internal/trigger"
)

// Warehouse addressing. The curated layer records update metadata for every
// dataset; the activation layer holds the exported views and the audit table.
const (
	warehouseProject  = "cross-cloud4marketing"
	curatedDataset    = "clz_c4m_curated"
	ActivationDataset = "clz_c4m_public_activation"
	lastUpdateTable   = "TABLES_LAST_UPDATE"
)

// Report carries the dates behind a freshness decision for user-visible
// messages.
type Report struct {
	LastUpdate civil.Date
	MinAllowed civil.Date
}

// Message is the "not performed" text returned to Looker on a stale gate.
func (r Report) Message() string {
	return fmt.Sprintf("Action NOT performed, tables were updated on %s and min date allowed is %s!",
		formatDate(r.LastUpdate), formatDate(r.MinAllowed))
}

func formatDate(d civil.Date) string {
	return fmt.Sprintf("%04d%02d%02d", d.Year, int(d.Month), d.Day)
}

// FreshnessGate decides whether the activation layer is current enough to
// export from. Read-only; a stale answer is a normal outcome, a query error
// is fatal for the run.
type FreshnessGate struct {
	Client    Client
	ProjectID string
	// LagDays widens the acceptance window for non-prod testing; 0 in
	// production.
	LagDays int
}

// IsFresh checks MIN(LAST_UPDATE_DATE) for the activation dataset against
// today minus the allowed lag.
func (g *FreshnessGate) IsFresh(ctx context.Context) (bool, Report, error) {
	projPrefix, dsPrefix := ResolvePrefixes(g.ProjectID)

	query := fmt.Sprintf(`
        SELECT MIN(LAST_UPDATE_DATE)
        FROM `+"`%s%s.%s%s.%s`"+`
        WHERE DATASET_NAME = '%s%s'`,
		projPrefix, warehouseProject, dsPrefix, curatedDataset, lastUpdateTable,
		dsPrefix, ActivationDataset,
	)

	lastUpdate, ok, err := g.Client.QueryDate(ctx, query)
	if err != nil {
		return false, Report{}, fmt.Errorf("freshness check: %w", err)
	}

	minAllowed := civil.DateOf(trigger.Now()).AddDays(-g.LagDays)
	report := Report{LastUpdate: lastUpdate, MinAllowed: minAllowed}
	if !ok {
		// No metadata row at all counts as stale, not as an error.
		return false, report, nil
	}
	return !lastUpdate.Before(minAllowed), report, nil
}
