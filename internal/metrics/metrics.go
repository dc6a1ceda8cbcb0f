// Package metrics exports wallet operation counters to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/MarkoPoloResearchLab/storewallet/pkg/wallet"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "storewallet"

// Recorder counts wallet operations and HTTP traffic.
type Recorder struct {
	registry            *prometheus.Registry
	operationsTotal     *prometheus.CounterVec
	operationErrors     *prometheus.CounterVec
	grantedDays         *prometheus.HistogramVec
	perkRevenueCents    *prometheus.CounterVec
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// New registers every collector on a fresh registry.
func New() *Recorder {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	return &Recorder{
		registry: registry,
		operationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Total number of wallet operations",
			},
			[]string{"operation", "status"},
		),
		operationErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operation_errors_total",
				Help:      "Failed wallet operations by error class",
			},
			[]string{"operation", "reason"},
		),
		grantedDays: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "perk_granted_days",
				Help:      "Days granted per perk purchase",
				Buckets:   []float64{3, 7, 14, 30, 45, 60, 80, 100},
			},
			[]string{"perk_type"},
		),
		perkRevenueCents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "perk_revenue_cents_total",
				Help:      "Cents debited for perk purchases",
			},
			[]string{"perk_type"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}
}

// Registry exposes the underlying registry.
func (recorder *Recorder) Registry() *prometheus.Registry {
	return recorder.registry
}

// Handler serves the registry in the Prometheus text format.
func (recorder *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(recorder.registry, promhttp.HandlerOpts{})
}

// LogOperation implements wallet.OperationLogger.
func (recorder *Recorder) LogOperation(_ context.Context, entry wallet.OperationLog) {
	recorder.operationsTotal.WithLabelValues(entry.Operation, entry.Status).Inc()
	if entry.Error != nil {
		recorder.operationErrors.WithLabelValues(entry.Operation, errorReason(entry.Error)).Inc()
		return
	}
	if entry.Operation != wallet.OperationPurchasePerk {
		return
	}
	perkType := entry.PerkType.String()
	recorder.perkRevenueCents.WithLabelValues(perkType).Add(float64(entry.Amount.Int64()))
	if entry.DrawnDays > 0 {
		recorder.grantedDays.WithLabelValues(perkType).Observe(float64(entry.DrawnDays))
	}
}

// RecordHTTPRequest counts one HTTP request.
func (recorder *Recorder) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	recorder.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	recorder.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// GinMiddleware records every request by its route template.
func (recorder *Recorder) GinMiddleware() gin.HandlerFunc {
	return func(context *gin.Context) {
		started := time.Now()
		context.Next()
		path := context.FullPath()
		if path == "" {
			path = "unmatched"
		}
		recorder.RecordHTTPRequest(context.Request.Method, path, strconv.Itoa(context.Writer.Status()), time.Since(started))
	}
}

var errorReasons = []struct {
	err    error
	reason string
}{
	{wallet.ErrInsufficientBalance, "insufficient_balance"},
	{wallet.ErrPerkAlreadyActive, "perk_already_active"},
	{wallet.ErrConcurrentModification, "concurrent_modification"},
	{wallet.ErrCatalogLookupFailed, "catalog_lookup_failed"},
	{wallet.ErrAlreadyProcessed, "already_processed"},
	{wallet.ErrNotificationDispatch, "notification_dispatch"},
	{wallet.ErrEventPublish, "event_publish"},
	{wallet.ErrInvalidBalance, "invalid_balance"},
	{wallet.ErrDuplicateReference, "duplicate_reference"},
	{wallet.ErrUnknownStore, "unknown_store"},
	{wallet.ErrUnknownWalletRequest, "unknown_wallet_request"},
}

func errorReason(err error) string {
	for _, candidate := range errorReasons {
		if errors.Is(err, candidate.err) {
			return candidate.reason
		}
	}
	return "other"
}
