package bookmeta

import (
	"context"
	"sync"
	"time"

	"github.com/xulei-shl/Library-AI-demos-sub002/internal/model"
)

// Mock is an in-memory MetadataSource for tests and offline runs. It is
// safe for concurrent use and records every lookup it serves.
type Mock struct {
	payloads map[string]map[string]string
	failures map[string]*scriptedFailure
	calls    []string
	mu       sync.Mutex
}

type scriptedFailure struct {
	err       error
	remaining int
}

// NewMock creates an empty mock source. Unknown identifiers behave like
// books the real source has never heard of.
func NewMock() *Mock {
	return &Mock{
		payloads: make(map[string]map[string]string),
		failures: make(map[string]*scriptedFailure),
	}
}

// Add seeds a book the mock will return for an identifier.
func (m *Mock) Add(identifier string, fields map[string]string) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payloads[identifier] = fields
	return m
}

// FailTimes scripts the next n lookups of an identifier to return err
// before the seeded payload (if any) becomes reachable again.
func (m *Mock) FailTimes(identifier string, n int, err error) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[identifier] = &scriptedFailure{err: err, remaining: n}
	return m
}

// Fail scripts every lookup of an identifier to return err.
func (m *Mock) Fail(identifier string, err error) *Mock {
	return m.FailTimes(identifier, -1, err)
}

// FetchByIdentifier returns the scripted response for an identifier.
func (m *Mock) FetchByIdentifier(ctx context.Context, identifier string) (*model.MetadataPayload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, identifier)

	if failure, ok := m.failures[identifier]; ok {
		if failure.remaining < 0 {
			return nil, failure.err
		}
		if failure.remaining > 0 {
			failure.remaining--
			return nil, failure.err
		}
	}

	fields, ok := m.payloads[identifier]
	if !ok {
		return nil, nil
	}

	copied := make(map[string]string, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	return &model.MetadataPayload{
		Identifier: identifier,
		Fields:     copied,
		FetchedAt:  time.Now(),
	}, nil
}

// Calls returns the identifiers looked up so far, in order.
func (m *Mock) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// CallCount returns how many times an identifier was looked up.
func (m *Mock) CallCount(identifier string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, call := range m.calls {
		if call == identifier {
			count++
		}
	}
	return count
}
