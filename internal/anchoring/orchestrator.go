// Package anchoring sequences hash submission to the ledger and the
// follow-up persistence of the transaction reference.
package anchoring

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/careledger/rx-anchor/internal/domain/prescription"
	"github.com/careledger/rx-anchor/internal/observability/metrics"
	"github.com/careledger/rx-anchor/pkg/circuitbreaker"
)

// State is the anchoring state of a record.
type State string

const (
	// StateCreated: record persisted, no anchoring attempted yet. Already
	// a valid, servable record on its own.
	StateCreated State = "created"
	// StateSubmitting: the ledger submission is in flight.
	StateSubmitting State = "anchor_submitting"
	// StateAnchored: terminal success, anchoring fields persisted.
	StateAnchored State = "anchored"
	// StateFailed: terminal failure, anchoring fields left unset. Never
	// retried in this design.
	StateFailed State = "anchor_failed"
)

// RecordStore is the slice of the store the orchestrator needs.
type RecordStore interface {
	UpdateAnchoring(ctx context.Context, id string, a prescription.Anchoring) error
}

// Config holds orchestrator configuration.
type Config struct {
	// SubmitTimeout bounds the whole anchoring sequence so a hung ledger
	// provider cannot hang the create request. Must stay under the HTTP
	// server write timeout.
	SubmitTimeout time.Duration
}

// DefaultConfig returns orchestrator defaults.
func DefaultConfig() Config {
	return Config{SubmitTimeout: 10 * time.Second}
}

// Orchestrator owns the Created -> AnchorSubmitting -> Anchored|AnchorFailed
// state machine. Anchoring is strictly best-effort: every failure is
// contained here, logged, and never propagated to the create path.
type Orchestrator struct {
	client  AnchorClient
	store   RecordStore
	breaker *circuitbreaker.CircuitBreaker
	config  Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

// New creates an orchestrator. breaker and m may be nil.
func New(client AnchorClient, store RecordStore, breaker *circuitbreaker.CircuitBreaker, cfg Config, logger *zap.Logger, m *metrics.Metrics) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = DefaultConfig().SubmitTimeout
	}
	return &Orchestrator{
		client:  client,
		store:   store,
		breaker: breaker,
		config:  cfg,
		logger:  logger,
		metrics: m,
		tracer:  otel.Tracer("anchoring-orchestrator"),
	}
}

// Result reports the outcome of one anchoring attempt. TxHash is set
// whenever the ledger accepted the submission, even if persisting the
// reference afterwards failed.
type Result struct {
	State   State
	TxHash  string
	Network string
	Err     error
}

// Anchor runs the single anchoring attempt for a freshly created record.
// It is issued at most once per record and performs no retries. The caller
// must have durably stored the record first.
func (o *Orchestrator) Anchor(ctx context.Context, recordID, dataHash string) *Result {
	ctx, cancel := context.WithTimeout(ctx, o.config.SubmitTimeout)
	defer cancel()

	ctx, span := o.tracer.Start(ctx, "anchor_record",
		trace.WithAttributes(
			attribute.String("record_id", recordID),
			attribute.String("state", string(StateSubmitting)),
		))
	defer span.End()

	start := time.Now()
	if o.metrics != nil {
		o.metrics.AnchorsSubmitted.Inc()
	}

	txHash, err := o.submit(ctx, dataHash)
	if o.metrics != nil {
		o.metrics.AnchorLatency.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		// Best-effort by design: report to the observability sink and
		// leave anchoring fields unset.
		o.logger.Warn("anchoring failed",
			zap.String("record_id", recordID),
			zap.String("data_hash", dataHash),
			zap.Error(err))
		span.RecordError(err)
		if o.metrics != nil {
			o.metrics.AnchorsFailed.Inc()
		}
		return &Result{State: StateFailed, Err: err}
	}

	anchor := prescription.Anchoring{TxHash: txHash, Network: o.client.Network(), Confirmed: true}
	if err := o.store.UpdateAnchoring(ctx, recordID, anchor); err != nil {
		// The digest is on the ledger but the reference did not persist.
		// The record keeps its fields unset; the caller still learns the
		// transaction hash.
		o.logger.Error("failed to persist anchor reference",
			zap.String("record_id", recordID),
			zap.String("tx_hash", txHash),
			zap.Error(err))
		span.RecordError(err)
		if o.metrics != nil {
			o.metrics.AnchorsFailed.Inc()
		}
		return &Result{State: StateFailed, TxHash: txHash, Network: anchor.Network, Err: err}
	}

	span.SetAttributes(
		attribute.String("tx_hash", txHash),
		attribute.String("state", string(StateAnchored)),
	)
	if o.metrics != nil {
		o.metrics.AnchorsConfirmed.Inc()
	}
	o.logger.Info("prescription anchored",
		zap.String("record_id", recordID),
		zap.String("tx_hash", txHash),
		zap.String("network", anchor.Network))

	return &Result{State: StateAnchored, TxHash: txHash, Network: anchor.Network}
}

// submit runs the ledger call, through the circuit breaker when one is
// configured. The breaker fails fast while the gateway is unhealthy; it
// never re-attempts a submission.
func (o *Orchestrator) submit(ctx context.Context, dataHash string) (string, error) {
	if o.breaker == nil {
		return o.client.Submit(ctx, dataHash)
	}

	result, err := o.breaker.Execute(ctx, func() (interface{}, error) {
		return o.client.Submit(ctx, dataHash)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}
