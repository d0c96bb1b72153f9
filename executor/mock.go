package executor

import (
	"context"
	"sync"
	"time"

	"github.com/getpup/pupsourcing-migrator"
)

// MockRunner is a mock implementation of Runner for testing.
type MockRunner struct {
	mu           sync.Mutex
	ExecuteFunc  func(ctx context.Context, m migrator.Migration, direction migrator.Direction, opts Options) migrator.MigrationResult
	ExecuteCalls []ExecuteCall
}

// ExecuteCall records the parameters of a single Execute call.
type ExecuteCall struct {
	Migration migrator.Migration
	Direction migrator.Direction
	Options   Options
}

// NewMockRunner creates a new MockRunner with an empty call history.
func NewMockRunner() *MockRunner {
	return &MockRunner{
		ExecuteCalls: make([]ExecuteCall, 0),
	}
}

// Execute implements the Runner interface.
// It records the call parameters, then:
// - If ExecuteFunc is set, calls and returns it
// - Otherwise, returns a successful result
func (m *MockRunner) Execute(ctx context.Context, mig migrator.Migration, direction migrator.Direction, opts Options) migrator.MigrationResult {
	m.mu.Lock()
	m.ExecuteCalls = append(m.ExecuteCalls, ExecuteCall{
		Migration: mig,
		Direction: direction,
		Options:   opts,
	})
	m.mu.Unlock()

	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(ctx, mig, direction, opts)
	}

	return migrator.MigrationResult{
		MigrationID: mig.ID,
		Version:     mig.Version,
		Direction:   direction,
		AppliedAt:   time.Now(),
		Success:     true,
		DryRun:      opts.DryRun,
	}
}

// IDs returns the migration ids executed so far, in call order.
func (m *MockRunner) IDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, len(m.ExecuteCalls))
	for i, c := range m.ExecuteCalls {
		ids[i] = c.Migration.ID
	}
	return ids
}

// Reset clears the call history.
func (m *MockRunner) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ExecuteCalls = make([]ExecuteCall, 0)
}
