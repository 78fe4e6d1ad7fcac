// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package consensus implements the in-repo PBFT agreement protocol used to
// decide one value per sequence number: pre-prepare, prepare, commit, and
// view-change, with quorum n-f and sorted-hotkey leader rotation.
package consensus

import "github.com/PlatformNetwork/subnet-validator/ids"

// Digest identifies a proposed value by its canonical hash.
type Digest [32]byte

// Seq is a monotonically increasing decision sequence number.
type Seq uint64

// View is a view (leader epoch) number.
type View uint64

// PrePrepare is broadcast by the leader of the current view proposing a
// value for seq.
type PrePrepare struct {
	View     View
	Seq      Seq
	Digest   Digest
	Proposer ids.Hotkey
}

// Prepare is broadcast by any validator after observing a matching
// PrePrepare.
type Prepare struct {
	View     View
	Seq      Seq
	Digest   Digest
	Voter    ids.Hotkey
}

// Commit is broadcast by any validator after collecting quorum Prepares.
type Commit struct {
	View   View
	Seq    Seq
	Digest Digest
	Voter  ids.Hotkey
}

// ViewChange is broadcast when a validator's view timer expires.
type ViewChange struct {
	NewView View
	Voter   ids.Hotkey
	// LastDecided is the highest sequence this validator has Decided, so
	// the new leader can catch stragglers up.
	LastDecided Seq
}

// NewView is broadcast by the next leader after collecting quorum
// ViewChanges, formally opening the new view.
type NewView struct {
	View         View
	ViewChanges  []ViewChange
	Leader       ids.Hotkey
}

// Decision is the final, irrevocable outcome for a sequence number.
type Decision struct {
	Seq    Seq
	View   View
	Digest Digest
}
