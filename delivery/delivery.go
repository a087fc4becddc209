// Package delivery provides the connector-layer envelope giving uniform
// deduplication and retry semantics to pluggable exporters: webhook,
// S3, external database, and CSV connectors all deliver through the
// same [Tracker].
package delivery

import (
	"context"
	"strings"
	"time"

	"github.com/tommyGPT2S/DocEX-sub002/id"
)

// Status represents the outcome state of a delivery attempt.
type Status string

const (
	// StatusPending means the delivery has not been attempted yet.
	StatusPending Status = "pending"
	// StatusDelivered means the payload reached the destination.
	StatusDelivered Status = "delivered"
	// StatusFailed means every attempt failed.
	StatusFailed Status = "failed"
	// StatusRetrying means an attempt failed and another is scheduled.
	StatusRetrying Status = "retrying"
)

// Result captures one delivery outcome. The tracker records the final
// Result of each envelope run as a derived job row so later runs can
// dedup against it.
type Result struct {
	DeliveryID    id.DeliveryID     `json:"delivery_id"`
	SubjectID     string            `json:"subject_id"`
	ConnectorType string            `json:"connector_type"`
	Success       bool              `json:"success"`
	Status        Status            `json:"status"`
	ResponseCode  int               `json:"response_code,omitempty"`
	ResponseData  string            `json:"response_data,omitempty"`
	Duration      time.Duration     `json:"duration"`
	Error         string            `json:"error,omitempty"`
	RetryCount    int               `json:"retry_count"`
	Skipped       bool              `json:"skipped,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	DeliveredAt   time.Time         `json:"delivered_at"`
}

// Item is one unit of a batch delivery.
type Item struct {
	SubjectID string
	Data      []byte
	Metadata  map[string]string
}

// Connector is a pluggable exporter of processed data to an external
// system. Implementations perform a single delivery attempt; all retry
// and dedup logic lives in the Tracker envelope.
type Connector interface {
	// Type returns the connector identifier, e.g. "webhook" or "s3".
	// It is uppercased into the DELIVERY_<TYPE> derived-job operation.
	Type() string

	// Deliver performs one delivery attempt. A non-nil error marks the
	// attempt failed; the returned Result may still carry response
	// details (status code, body) for diagnosis.
	Deliver(ctx context.Context, subjectID string, data []byte, metadata map[string]string) (*Result, error)
}

// BatchConnector is an optional extension for connectors with a native
// bulk path. Connectors without it get sequential fan-out.
type BatchConnector interface {
	Connector

	// DeliverBatch delivers items in one call, returning one Result per
	// item in input order.
	DeliverBatch(ctx context.Context, items []Item) ([]*Result, error)
}

// OperationFor returns the derived-job operation type used to record
// deliveries for a connector, e.g. "DELIVERY_WEBHOOK".
func OperationFor(connectorType string) string {
	return "DELIVERY_" + strings.ToUpper(connectorType)
}
