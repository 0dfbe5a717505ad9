// Package health aggregates readiness checks for the service's dependencies.
package health

import (
	"context"
	"database/sql"
	"sync"
	"time"
)

const pingTimeout = 2 * time.Second

// Status is the outcome of a single subsystem check.
type Status struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Checker probes one subsystem.
type Checker func(ctx context.Context) Status

// Registry holds named checkers and runs them on demand.
type Registry struct {
	mu     sync.RWMutex
	names  []string
	checks []Checker
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a checker under the given name.
func (r *Registry) Register(name string, check Checker) {
	r.mu.Lock()
	r.names = append(r.names, name)
	r.checks = append(r.checks, check)
	r.mu.Unlock()
}

// CheckAll runs every registered checker concurrently. Results keep
// registration order; healthy is false if any single check fails.
func (r *Registry) CheckAll(ctx context.Context) (healthy bool, statuses []Status) {
	r.mu.RLock()
	checks := make([]Checker, len(r.checks))
	copy(checks, r.checks)
	names := make([]string, len(r.names))
	copy(names, r.names)
	r.mu.RUnlock()

	statuses = make([]Status, len(checks))

	var wg sync.WaitGroup
	for i, check := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			statuses[i] = check(ctx)
			if statuses[i].Name == "" {
				statuses[i].Name = names[i]
			}
		}()
	}
	wg.Wait()

	healthy = true
	for i := range statuses {
		if !statuses[i].Healthy {
			healthy = false
		}
	}
	return healthy, statuses
}

// DatabaseChecker pings db with a bounded timeout.
func DatabaseChecker(name string, db *sql.DB) Checker {
	return func(ctx context.Context) Status {
		ctx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			return Status{Name: name, Healthy: false, Detail: err.Error()}
		}
		return Status{Name: name, Healthy: true}
	}
}
