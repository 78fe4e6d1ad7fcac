// Copyright (C) 2020-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package health aggregates readiness checks across a validator process:
// the consensus engine, the P2P substrate, the WASM sandbox, and the
// storage layers.
package health

import (
	"context"
	"time"
)

// Checker is the interface for health checking.
type Checker interface {
	// HealthCheck returns information about the health of the component.
	HealthCheck(context.Context) (interface{}, error)
}

// Checkable is the interface for health reporting.
type Checkable interface {
	// Health returns a health report.
	Health(context.Context) (interface{}, error)
}

// CheckerFunc adapts a plain function to a Checker.
type CheckerFunc func(context.Context) (interface{}, error)

// HealthCheck calls f.
func (f CheckerFunc) HealthCheck(ctx context.Context) (interface{}, error) { return f(ctx) }

// Report is an aggregated health report across every registered Checker.
type Report struct {
	Details  map[string]interface{} `json:"details,omitempty"`
	Healthy  bool                   `json:"healthy"`
	Checks   []Check                `json:"checks,omitempty"`
	Duration time.Duration          `json:"duration"`
}

// Check is an individual named health check result.
type Check struct {
	Name     string                 `json:"name"`
	Healthy  bool                   `json:"healthy"`
	Error    string                 `json:"error,omitempty"`
	Details  map[string]interface{} `json:"details,omitempty"`
	Duration time.Duration          `json:"duration"`
}

// Registry runs a named set of Checkers and aggregates their results.
type Registry struct {
	checkers map[string]Checker
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{checkers: make(map[string]Checker)}
}

// Register adds a named Checker. Re-registering a name replaces it.
func (r *Registry) Register(name string, c Checker) {
	r.checkers[name] = c
}

// RunAll executes every registered Checker and aggregates a Report. A
// component's failure does not stop the others from running.
func (r *Registry) RunAll(ctx context.Context) Report {
	start := time.Now()
	checks := make([]Check, 0, len(r.checkers))
	healthy := true

	for name, checker := range r.checkers {
		checkStart := time.Now()
		details, err := checker.HealthCheck(ctx)
		check := Check{Name: name, Duration: time.Since(checkStart)}
		if err != nil {
			check.Healthy = false
			check.Error = err.Error()
			healthy = false
		} else {
			check.Healthy = true
			if m, ok := details.(map[string]interface{}); ok {
				check.Details = m
			}
		}
		checks = append(checks, check)
	}

	return Report{
		Healthy:  healthy,
		Checks:   checks,
		Duration: time.Since(start),
	}
}
