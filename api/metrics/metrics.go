// Copyright (C) 2020-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package metrics wires the validator's Prometheus counters: consensus
// decisions, inbound-pipeline rejections, sandbox evaluations, and
// validated-storage commits.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Registerer is an interface for registering Prometheus collectors.
type Registerer interface {
	prometheus.Registerer
}

// Registry is an interface for a Prometheus registry.
type Registry interface {
	prometheus.Registerer
	prometheus.Gatherer
}

// NewRegistry creates a new Prometheus registry.
func NewRegistry() Registry {
	return prometheus.NewRegistry()
}

// MultiGatherer gathers metrics from multiple named sub-registries, one
// per validator component.
type MultiGatherer interface {
	prometheus.Gatherer

	// Register adds a new gatherer under name.
	Register(string, prometheus.Gatherer) error
}

type multiGatherer struct {
	gatherers map[string]prometheus.Gatherer
}

// NewMultiGatherer creates a new MultiGatherer.
func NewMultiGatherer() MultiGatherer {
	return &multiGatherer{gatherers: make(map[string]prometheus.Gatherer)}
}

func (mg *multiGatherer) Register(name string, gatherer prometheus.Gatherer) error {
	mg.gatherers[name] = gatherer
	return nil
}

func (mg *multiGatherer) Gather() ([]*dto.MetricFamily, error) {
	var result []*dto.MetricFamily
	for _, g := range mg.gatherers {
		families, err := g.Gather()
		if err != nil {
			return nil, err
		}
		result = append(result, families...)
	}
	return result, nil
}

// Metrics is the interface for validator-wide operational counters.
type Metrics interface {
	// ProposalsDecided tracks PBFT slots that reached a Decision.
	ProposalsDecided() prometheus.Counter
	// ViewChanges tracks completed view changes.
	ViewChanges() prometheus.Counter
	// MessagesRejected tracks frames the inbound pipeline rejected.
	MessagesRejected() prometheus.Counter
	// EvaluationsFinalized tracks submission evaluations that reached quorum.
	EvaluationsFinalized() prometheus.Counter
	// SandboxExecutions tracks WASM evaluate() invocations.
	SandboxExecutions() prometheus.Counter
	// SandboxFailures tracks WASM evaluate() invocations that failed.
	SandboxFailures() prometheus.Counter
	// StorageWritesCommitted tracks validated-storage writes committed.
	StorageWritesCommitted() prometheus.Counter
}

// NewMetrics constructs and registers the Metrics counters under namespace.
func NewMetrics(namespace string, registerer prometheus.Registerer) (Metrics, error) {
	m := &metrics{
		proposalsDecided: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proposals_decided_total",
			Help:      "Number of PBFT slots that reached a decision.",
		}),
		viewChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "view_changes_total",
			Help:      "Number of completed PBFT view changes.",
		}),
		messagesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_rejected_total",
			Help:      "Number of inbound messages rejected by the validation pipeline.",
		}),
		evaluationsFinalized: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_finalized_total",
			Help:      "Number of submission evaluations that reached quorum.",
		}),
		sandboxExecutions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sandbox_executions_total",
			Help:      "Number of WASM evaluate() invocations.",
		}),
		sandboxFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sandbox_failures_total",
			Help:      "Number of WASM evaluate() invocations that failed.",
		}),
		storageWritesCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_writes_committed_total",
			Help:      "Number of validated-storage writes committed.",
		}),
	}

	collectors := []prometheus.Collector{
		m.proposalsDecided, m.viewChanges, m.messagesRejected,
		m.evaluationsFinalized, m.sandboxExecutions, m.sandboxFailures,
		m.storageWritesCommitted,
	}
	for _, c := range collectors {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

type metrics struct {
	proposalsDecided       prometheus.Counter
	viewChanges            prometheus.Counter
	messagesRejected       prometheus.Counter
	evaluationsFinalized   prometheus.Counter
	sandboxExecutions      prometheus.Counter
	sandboxFailures        prometheus.Counter
	storageWritesCommitted prometheus.Counter
}

func (m *metrics) ProposalsDecided() prometheus.Counter       { return m.proposalsDecided }
func (m *metrics) ViewChanges() prometheus.Counter            { return m.viewChanges }
func (m *metrics) MessagesRejected() prometheus.Counter       { return m.messagesRejected }
func (m *metrics) EvaluationsFinalized() prometheus.Counter   { return m.evaluationsFinalized }
func (m *metrics) SandboxExecutions() prometheus.Counter      { return m.sandboxExecutions }
func (m *metrics) SandboxFailures() prometheus.Counter        { return m.sandboxFailures }
func (m *metrics) StorageWritesCommitted() prometheus.Counter { return m.storageWritesCommitted }
