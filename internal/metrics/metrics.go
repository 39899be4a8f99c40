// Package metrics collects and exposes Prometheus metrics for the sync and approval pipelines.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Label values shared by callers.
const (
	ResultSuccess     = "success"
	ResultFailure     = "failure"
	ResultDeactivated = "deactivated"

	SourceCompletion = "completion"
	SourceFallback   = "fallback"

	OutcomeApproved   = "approved"
	OutcomeRejected   = "rejected"
	OutcomeSendFailed = "send_failed"
	OutcomeManualSend = "manual_send"
)

// MetricsCollector is the interface the worker and service layers record through.
type MetricsCollector interface {
	RecordAccountSynced(result string)
	RecordMessagesIngested(count int)
	RecordSuggestionGenerated(source string)
	RecordLoginFailure(kind string)
	RecordApproval(outcome string)
	RecordSyncDuration(duration time.Duration)
}

// Collector is the Prometheus implementation of MetricsCollector.
type Collector struct {
	accountsSynced       *prometheus.CounterVec
	messagesIngested     prometheus.Counter
	suggestionsGenerated *prometheus.CounterVec
	loginFailures        *prometheus.CounterVec
	approvals            *prometheus.CounterVec
	syncDuration         prometheus.Histogram
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		accountsSynced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "instaai_accounts_synced_total",
			Help: "Accounts processed by sync runs, by result.",
		}, []string{"result"}),
		messagesIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "instaai_messages_ingested_total",
			Help: "Messages stored by reconciliation.",
		}),
		suggestionsGenerated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "instaai_suggestions_generated_total",
			Help: "Reply suggestions created, by source.",
		}, []string{"source"}),
		loginFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "instaai_login_failures_total",
			Help: "Provider login failures, by error kind.",
		}, []string{"kind"}),
		approvals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "instaai_approvals_total",
			Help: "Approval workflow actions, by outcome.",
		}, []string{"outcome"}),
		syncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "instaai_sync_run_duration_seconds",
			Help:    "Duration of a full sync run.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
	}

	reg.MustRegister(
		c.accountsSynced,
		c.messagesIngested,
		c.suggestionsGenerated,
		c.loginFailures,
		c.approvals,
		c.syncDuration,
	)

	return c
}

func (c *Collector) RecordAccountSynced(result string) {
	c.accountsSynced.WithLabelValues(result).Inc()
}

func (c *Collector) RecordMessagesIngested(count int) {
	c.messagesIngested.Add(float64(count))
}

func (c *Collector) RecordSuggestionGenerated(source string) {
	c.suggestionsGenerated.WithLabelValues(source).Inc()
}

func (c *Collector) RecordLoginFailure(kind string) {
	c.loginFailures.WithLabelValues(kind).Inc()
}

func (c *Collector) RecordApproval(outcome string) {
	c.approvals.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordSyncDuration(duration time.Duration) {
	c.syncDuration.Observe(duration.Seconds())
}

// Handler returns the HTTP handler for Prometheus scrapes.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop discards every measurement. Used where no registry is wired.
type Nop struct{}

func (Nop) RecordAccountSynced(string) {}
func (Nop) RecordMessagesIngested(int) {}
func (Nop) RecordSuggestionGenerated(string) {}
func (Nop) RecordLoginFailure(string) {}
func (Nop) RecordApproval(string) {}
func (Nop) RecordSyncDuration(time.Duration) {}
