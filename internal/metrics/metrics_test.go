package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMustRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	MustRegister(reg)

	// Registering the same collectors twice must panic (duplicate registration)
	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	MustRegister(reg)
}

func TestRecordRun(t *testing.T) {
	before := testutil.ToFloat64(RunsTotal.WithLabelValues("sftp_upload", "success"))
	RecordRun("sftp_upload", "success")
	after := testutil.ToFloat64(RunsTotal.WithLabelValues("sftp_upload", "success"))
	if after != before+1 {
		t.Errorf("RunsTotal = %v, want %v", after, before+1)
	}
}

func TestRecordChunk(t *testing.T) {
	before := testutil.ToFloat64(ChunksTotal.WithLabelValues("googleads_upload", "failed"))
	RecordChunk("googleads_upload", "failed")
	after := testutil.ToFloat64(ChunksTotal.WithLabelValues("googleads_upload", "failed"))
	if after != before+1 {
		t.Errorf("ChunksTotal = %v, want %v", after, before+1)
	}
}
