package cost

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name for cost metrics.
const meterName = "github.com/tommyGPT2S/DocEX-sub002/cost"

// Usage is an accumulated spend snapshot.
type Usage struct {
	Requests int64   `json:"requests"`
	Tokens   int64   `json:"tokens"`
	Cost     float64 `json:"cost"`
}

func (u *Usage) add(tokens int64, cost float64) {
	u.Requests++
	u.Tokens += tokens
	u.Cost += cost
}

// Tracker accumulates usage and cost per tenant and per operation type,
// mirroring every record into OTel counters. Process-lifetime,
// in-memory bookkeeping: durable billing belongs to whoever consumes
// the exported metrics.
type Tracker struct {
	mu          sync.Mutex
	total       Usage
	byTenant    map[string]*Usage
	byOperation map[string]*Usage

	requests metric.Int64Counter
	tokens   metric.Int64Counter
	spend    metric.Float64Counter
}

// NewTracker creates a Tracker using the global OTel MeterProvider.
// Without a configured provider the instruments are noops and the
// tracker still keeps its in-memory totals.
func NewTracker() *Tracker {
	return NewTrackerWithMeter(otel.Meter(meterName))
}

// NewTrackerWithMeter creates a Tracker recording into the provided
// meter, for injecting a test MeterProvider.
func NewTrackerWithMeter(meter metric.Meter) *Tracker {
	requests, rErr := meter.Int64Counter(
		"docex.cost.requests",
		metric.WithDescription("Total metered upstream requests"),
		metric.WithUnit("{request}"),
	)
	_ = rErr // noop fallback guaranteed by OTel API contract

	tokens, tErr := meter.Int64Counter(
		"docex.cost.tokens",
		metric.WithDescription("Total usage tokens consumed"),
		metric.WithUnit("{token}"),
	)
	_ = tErr // noop fallback guaranteed by OTel API contract

	spend, sErr := meter.Float64Counter(
		"docex.cost.spend",
		metric.WithDescription("Accumulated cost of metered requests"),
		metric.WithUnit("{usd}"),
	)
	_ = sErr // noop fallback guaranteed by OTel API contract

	return &Tracker{
		byTenant:    make(map[string]*Usage),
		byOperation: make(map[string]*Usage),
		requests:    requests,
		tokens:      tokens,
		spend:       spend,
	}
}

// Record accounts one metered request's tokens and cost against the
// tenant and operation.
func (t *Tracker) Record(ctx context.Context, tenantID, operation string, tokenCount int64, cost float64) {
	t.mu.Lock()
	t.total.add(tokenCount, cost)
	t.usageLocked(t.byTenant, tenantID).add(tokenCount, cost)
	t.usageLocked(t.byOperation, operation).add(tokenCount, cost)
	t.mu.Unlock()

	attrs := metric.WithAttributes(
		attribute.String("tenant_id", tenantID),
		attribute.String("operation", operation),
	)
	t.requests.Add(ctx, 1, attrs)
	t.tokens.Add(ctx, tokenCount, attrs)
	t.spend.Add(ctx, cost, attrs)
}

// TenantUsage returns the accumulated usage for a tenant.
func (t *Tracker) TenantUsage(tenantID string) Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	if u, ok := t.byTenant[tenantID]; ok {
		return *u
	}
	return Usage{}
}

// OperationUsage returns the accumulated usage for an operation type.
func (t *Tracker) OperationUsage(operation string) Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	if u, ok := t.byOperation[operation]; ok {
		return *u
	}
	return Usage{}
}

// Total returns the accumulated usage across all tenants.
func (t *Tracker) Total() Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// usageLocked returns the usage bucket for key, creating it on first
// use. Caller holds mu.
func (t *Tracker) usageLocked(m map[string]*Usage, key string) *Usage {
	u, ok := m[key]
	if !ok {
		u = &Usage{}
		m[key] = u
	}
	return u
}
