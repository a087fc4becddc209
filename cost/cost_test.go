package cost_test

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/tommyGPT2S/DocEX-sub002/cost"
)

func newTestTracker() (*cost.Tracker, *sdkmetric.ManualReader) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return cost.NewTrackerWithMeter(mp.Meter("test")), reader
}

func TestRecordAccumulates(t *testing.T) {
	t.Parallel()
	tr, _ := newTestTracker()
	ctx := context.Background()

	tr.Record(ctx, "tenant-a", "EXTRACT", 1000, 0.25)
	tr.Record(ctx, "tenant-a", "OCR", 500, 0.10)
	tr.Record(ctx, "tenant-b", "EXTRACT", 2000, 0.50)

	total := tr.Total()
	if total.Requests != 3 || total.Tokens != 3500 {
		t.Fatalf("got total %+v, want 3 requests / 3500 tokens", total)
	}
	if total.Cost != 0.85 {
		t.Fatalf("got total cost %v, want 0.85", total.Cost)
	}

	a := tr.TenantUsage("tenant-a")
	if a.Requests != 2 || a.Tokens != 1500 {
		t.Fatalf("got tenant-a %+v, want 2 requests / 1500 tokens", a)
	}

	extract := tr.OperationUsage("EXTRACT")
	if extract.Requests != 2 || extract.Tokens != 3000 {
		t.Fatalf("got EXTRACT %+v, want 2 requests / 3000 tokens", extract)
	}

	if unknown := tr.TenantUsage("tenant-z"); unknown != (cost.Usage{}) {
		t.Fatalf("got %+v for unknown tenant, want zero usage", unknown)
	}
}

func TestRecordEmitsCounters(t *testing.T) {
	t.Parallel()
	tr, reader := newTestTracker()
	ctx := context.Background()

	tr.Record(ctx, "tenant-a", "EXTRACT", 1000, 0.25)
	tr.Record(ctx, "tenant-a", "EXTRACT", 1000, 0.25)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("collect metrics: %v", err)
	}

	var tokens *metricdata.Metrics
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == "docex.cost.tokens" {
				tokens = &sm.Metrics[i]
			}
		}
	}
	if tokens == nil {
		t.Fatal("docex.cost.tokens metric not found")
	}

	sum, ok := tokens.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("expected Sum[int64] data type")
	}
	if len(sum.DataPoints) == 0 || sum.DataPoints[0].Value != 2000 {
		t.Fatalf("got %+v, want one data point summing 2000 tokens", sum.DataPoints)
	}
}

func TestDefaultTrackerNoopSafe(t *testing.T) {
	t.Parallel()
	// Without a global MeterProvider the instruments are noops; the
	// in-memory totals still work.
	tr := cost.NewTracker()
	tr.Record(context.Background(), "tenant-a", "EXTRACT", 10, 0.01)
	if got := tr.Total().Tokens; got != 10 {
		t.Fatalf("got %d tokens, want 10", got)
	}
}
