// Package destination holds the per-channel delivery adapters. Each adapter
// prepares its destination once per run and returns a handle that the
// pipeline drives chunk by chunk.
package destination

import (
	"context"
	"strings"

	"github.com/c4m-data/actionhub/internal/ledger"
	"github.com/c4m-data/actionhub/internal/reconcile"
	"github.com/c4m-data/actionhub/internal/source"
	"github.com/c4m-data/actionhub/internal/trigger"
)

// Adapter prepares a destination for one delivery run.
type Adapter interface {
	// Channel is the audit channel this destination records under.
	Channel() string

	// CampaignCode derives the idempotency campaign key for a run. File
	// deliveries read it from the report data, so the first chunk is
	// required; audience deliveries take it from the request. An empty code
	// on an empty report is valid and disables the once-per-day check.
	CampaignCode(req *trigger.DeliveryRequest, first *source.Chunk) (string, error)

	// Ensure performs the run's destination setup (remote file, segment,
	// user list, batch job) and returns the per-run handle. Nothing before
	// Ensure has destination side effects.
	Ensure(ctx context.Context, req *trigger.DeliveryRequest) (Handle, error)
}

// Handle is the state of one delivery run. Send and Records are called once
// per chunk, Finalize once after the last chunk regardless of per-chunk
// failures.
type Handle interface {
	Send(ctx context.Context, chunk *source.Chunk) error

	// Records maps a delivered chunk to the audit rows the run ledger must
	// durably record. A nil result means the adapter audits through its own
	// sink and the shared ledger is not written.
	Records(chunk *source.Chunk) ([]ledger.AuditRecord, error)

	Finalize(ctx context.Context) error
}

// Reconciler is implemented by handles whose destination supports membership
// removal after delivery. Removals run on a dedicated batch, never mixed
// with the run's additions.
type Reconciler interface {
	Remove(ctx context.Context, members []reconcile.Member) error
	FinalizeRemovals(ctx context.Context) error
}

// Source report column names produced by the upstream BI model.
const (
	ColumnCustomerCode = "HerokuID"
	ColumnCampaignCode = "CampaignID"
	ColumnEmail        = "Email"
	ColumnPhone        = "PhoneNumber"
)

// reservedChars are not accepted in destination file names.
const reservedChars = `/\:*?"<>|`

// SanitizeFilename replaces reserved characters with spaces, the convention
// for SFTP drop files.
func SanitizeFilename(name string) string {
	return replaceReserved(name, " ", false)
}

// SanitizeObjectName replaces reserved characters and spaces with hyphens,
// the convention for object-store keys.
func SanitizeObjectName(name string) string {
	return replaceReserved(name, "-", true)
}

func replaceReserved(name, repl string, includeSpace bool) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case strings.ContainsRune(reservedChars, r):
			b.WriteString(repl)
		case includeSpace && r == ' ':
			b.WriteString(repl)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
