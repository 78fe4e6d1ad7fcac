package chain

import (
	"context"
	"sync"
)

// MockAnchor is an in-memory Anchor for tests: every submission
// succeeds immediately and is recorded for assertion.
type MockAnchor struct {
	mu        sync.Mutex
	submitted []submission
	pending   bool
}

type submission struct {
	Netuid     uint16
	MechID     uint16
	Uids       []uint16
	Weights    []uint16
	VersionKey uint64
}

// NewMockAnchor constructs an empty MockAnchor.
func NewMockAnchor() *MockAnchor {
	return &MockAnchor{}
}

func (m *MockAnchor) SubmitWeights(_ context.Context, netuid, mechID uint16, uids []uint16, weights []uint16, versionKey uint64, _ WaitMode) (TxResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitted = append(m.submitted, submission{Netuid: netuid, MechID: mechID, Uids: uids, Weights: weights, VersionKey: versionKey})
	m.pending = true
	return TxResult{TxHash: "mock-tx", Success: true}, nil
}

func (m *MockAnchor) HasPendingCommits(context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending, nil
}

func (m *MockAnchor) RevealAllPending(context.Context, WaitMode) ([]TxResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.pending {
		return nil, nil
	}
	m.pending = false
	return []TxResult{{TxHash: "mock-reveal", Success: true}}, nil
}

// Submissions returns the number of SubmitWeights calls observed so far.
func (m *MockAnchor) Submissions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.submitted)
}
