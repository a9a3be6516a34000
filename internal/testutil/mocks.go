// Package testutil provides mock implementations for the interfaces defined in
// pkg/batch and its subpackages, plus small fixtures shared by the tests.
package testutil

import (
	"context"
	"sync"

	"github.com/stackvity/bqbatch/pkg/batch"
	"github.com/stretchr/testify/mock"
)

// MockAnalyzer provides a mock implementation of batch.Analyzer.
// Configure expectations using testify/mock methods (e.g., .On("Analyze", ...).Return(...)).
type MockAnalyzer struct {
	mock.Mock
}

// Analyze mocks the Analyze method.
func (m *MockAnalyzer) Analyze(ctx context.Context, item batch.WorkItem) (payload any, err error) {
	args := m.Called(ctx, item)
	payload = args.Get(0)
	err = args.Error(1)
	return
}

// MockExecutor provides a mock implementation of batch.Executor.
type MockExecutor struct {
	mock.Mock
}

// Execute mocks the Execute method.
func (m *MockExecutor) Execute(ctx context.Context, item batch.WorkItem) batch.ResultEnvelope {
	args := m.Called(ctx, item)
	env, _ := args.Get(0).(batch.ResultEnvelope)
	return env
}

// MockHooks provides a mock implementation of batch.Hooks.
// IMPORTANT: hook methods are invoked concurrently from workers; expectations
// set with .Maybe() or counted with AssertNumberOfCalls are safe, custom Run
// functions that keep state must synchronize themselves.
type MockHooks struct {
	mock.Mock
}

// OnStart mocks the OnStart method.
func (m *MockHooks) OnStart(total int) error {
	args := m.Called(total)
	return args.Error(0)
}

// OnItemStart mocks the OnItemStart method.
func (m *MockHooks) OnItemStart(item batch.WorkItem) error {
	args := m.Called(item)
	return args.Error(0)
}

// OnItemComplete mocks the OnItemComplete method.
func (m *MockHooks) OnItemComplete(item batch.WorkItem, result batch.ResultEnvelope, completed, total int) error {
	args := m.Called(item, result, completed, total)
	return args.Error(0)
}

// OnFinish mocks the OnFinish method.
func (m *MockHooks) OnFinish(run *batch.BatchRun) error {
	args := m.Called(run)
	return args.Error(0)
}

// MockLister provides a mock implementation of loader.DatasetLister.
type MockLister struct {
	mock.Mock
}

// ListTables mocks the ListTables method.
func (m *MockLister) ListTables(ctx context.Context, dataset string) (tables []string, err error) {
	args := m.Called(ctx, dataset)
	tables, _ = args.Get(0).([]string)
	err = args.Error(1)
	return
}

// StubAnalyzer is a deterministic, call-counting Analyzer backed by a map of
// canned payloads keyed by WorkItem.Key(). Keys listed in Fail return an error.
type StubAnalyzer struct {
	Payloads map[string]any
	Fail     map[string]error

	mu    sync.Mutex
	calls []string
}

// Analyze implements batch.Analyzer.
func (s *StubAnalyzer) Analyze(_ context.Context, item batch.WorkItem) (any, error) {
	key := item.Key()
	s.mu.Lock()
	s.calls = append(s.calls, key)
	s.mu.Unlock()
	if err, ok := s.Fail[key]; ok {
		return nil, err
	}
	if p, ok := s.Payloads[key]; ok {
		return p, nil
	}
	return map[string]any{"key": key}, nil
}

// Calls returns the item keys analyzed so far, in call order.
func (s *StubAnalyzer) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallCount returns the number of Analyze calls.
func (s *StubAnalyzer) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}
