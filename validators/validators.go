// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package validators implements the active-validator registry with stake
// and staleness tracking (spec.md §4.C).
package validators

import (
	"errors"
	"fmt"
	"sync"

	"github.com/PlatformNetwork/subnet-validator/ids"
	"github.com/PlatformNetwork/subnet-validator/set"
)

// Errors returned by Set operations.
var (
	ErrBelowMinStake   = errors.New("validators: stake below minimum")
	ErrUnknownHotkey   = errors.New("validators: unknown hotkey")
	ErrSequenceNotNewer = errors.New("validators: heartbeat sequence is not newer than recorded")
)

// Record is a ValidatorRecord (spec.md §3): created at registration,
// updated on heartbeats, marked stale after a timeout.
type Record struct {
	Hotkey        ids.Hotkey
	Stake         uint64
	LastSeenMs    int64
	LastStateHash [32]byte
	LastSequence  uint64
	Stale         bool
}

// SetCallbackListener is notified of membership and stake changes, the Go
// analogue of the teacher's SetCallbackListener (validators/types.go),
// adapted to a single-subnet registry.
type SetCallbackListener interface {
	OnValidatorAdded(hotkey ids.Hotkey, stake uint64)
	OnValidatorRemoved(hotkey ids.Hotkey, stake uint64)
	OnValidatorStakeChanged(hotkey ids.Hotkey, oldStake, newStake uint64)
}

// Config parameterizes a Set: min_stake and staleness_timeout_ms per
// spec.md §4.C.
type Config struct {
	MinStake           uint64
	StalenessTimeoutMs int64
}

// Set is the active-validator registry for one subnet/process.
type Set struct {
	mu        sync.RWMutex
	cfg       Config
	byHotkey  map[ids.Hotkey]*Record
	listeners []SetCallbackListener
}

// NewSet constructs an empty validator Set.
func NewSet(cfg Config) *Set {
	return &Set{
		cfg:      cfg,
		byHotkey: make(map[ids.Hotkey]*Record),
	}
}

// RegisterCallbackListener registers a listener for membership/stake
// change events.
func (s *Set) RegisterCallbackListener(l SetCallbackListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Register adds a validator or, if already present, idempotently updates
// its stake (spec.md §4.C invariant: "duplicate registration is idempotent
// and updates stake"). Membership is stake-gated.
func (s *Set) Register(hotkey ids.Hotkey, stake uint64, nowMs int64) error {
	if stake < s.cfg.MinStake {
		return fmt.Errorf("%w: %d < %d", ErrBelowMinStake, stake, s.cfg.MinStake)
	}

	s.mu.Lock()
	existing, had := s.byHotkey[hotkey]
	var oldStake uint64
	if had {
		oldStake = existing.Stake
		existing.Stake = stake
		existing.LastSeenMs = nowMs
		existing.Stale = false
	} else {
		s.byHotkey[hotkey] = &Record{
			Hotkey:     hotkey,
			Stake:      stake,
			LastSeenMs: nowMs,
		}
	}
	listeners := append([]SetCallbackListener(nil), s.listeners...)
	s.mu.Unlock()

	for _, l := range listeners {
		if had {
			if oldStake != stake {
				l.OnValidatorStakeChanged(hotkey, oldStake, stake)
			}
		} else {
			l.OnValidatorAdded(hotkey, stake)
		}
	}
	return nil
}

// Remove removes a validator entirely. Staleness alone must never do this
// (spec.md §4.C: a stale validator "must remain registered until explicit
// removal").
func (s *Set) Remove(hotkey ids.Hotkey) error {
	s.mu.Lock()
	rec, ok := s.byHotkey[hotkey]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownHotkey, hotkey)
	}
	delete(s.byHotkey, hotkey)
	listeners := append([]SetCallbackListener(nil), s.listeners...)
	s.mu.Unlock()

	for _, l := range listeners {
		l.OnValidatorRemoved(hotkey, rec.Stake)
	}
	return nil
}

// Get returns a copy of the record for hotkey, if present.
func (s *Set) Get(hotkey ids.Hotkey) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byHotkey[hotkey]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// IsValidator reports whether hotkey is currently registered, regardless of
// staleness (a stale validator is still a validator, just not counted
// toward active quorum).
func (s *Set) IsValidator(hotkey ids.Hotkey) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byHotkey[hotkey]
	return ok
}

// ActiveCount returns the number of non-stale registered validators.
func (s *Set) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, rec := range s.byHotkey {
		if !rec.Stale {
			n++
		}
	}
	return n
}

// ActiveHotkeys returns the sorted hotkeys of all active (non-stale)
// validators. Sorting makes PBFT leader selection (spec.md §4.F: "active
// validators sorted by hotkey") deterministic across nodes.
func (s *Set) ActiveHotkeys() []ids.Hotkey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	active := set.NewSet[ids.Hotkey](len(s.byHotkey))
	for hk, rec := range s.byHotkey {
		if !rec.Stale {
			active.Add(hk)
		}
	}
	return set.Sorted(active)
}

// MarkStaleValidators marks validators unseen since staleness_timeout_ms as
// stale. Returns the hotkeys newly marked stale this call.
func (s *Set) MarkStaleValidators(nowMs int64) []ids.Hotkey {
	s.mu.Lock()
	defer s.mu.Unlock()

	var newlyStale []ids.Hotkey
	for hk, rec := range s.byHotkey {
		if rec.Stale {
			continue
		}
		if nowMs-rec.LastSeenMs > s.cfg.StalenessTimeoutMs {
			rec.Stale = true
			newlyStale = append(newlyStale, hk)
		}
	}
	return newlyStale
}

// UpdateFromHeartbeat refreshes a validator's liveness from a Heartbeat
// message (spec.md §4.C). The sequence must be strictly newer than the
// last recorded one, guarding against replayed or reordered heartbeats.
func (s *Set) UpdateFromHeartbeat(hotkey ids.Hotkey, stateHash [32]byte, sequence uint64, stake uint64, nowMs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byHotkey[hotkey]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownHotkey, hotkey)
	}
	if sequence <= rec.LastSequence && rec.LastSeenMs != 0 {
		return fmt.Errorf("%w: got %d, have %d", ErrSequenceNotNewer, sequence, rec.LastSequence)
	}

	rec.LastStateHash = stateHash
	rec.LastSequence = sequence
	rec.Stake = stake
	rec.LastSeenMs = nowMs
	rec.Stale = false
	return nil
}

// TotalStake returns the sum of stake across active validators, used for
// stake-weighted quorum math.
func (s *Set) TotalStake() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total uint64
	for _, rec := range s.byHotkey {
		if !rec.Stale {
			total += rec.Stake
		}
	}
	return total
}

// Len returns the total number of registered validators, stale or not.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byHotkey)
}
