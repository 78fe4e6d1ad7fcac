// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package wrappers provides small utility wrappers used across the
// validator core, starting with a thread-safe multi-error collector.
package wrappers

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/PlatformNetwork/subnet-validator/ids"
)

// Errs is a collection of errors accumulated while processing a batch of
// independent units of work (e.g. verifying a set of signatures).
type Errs struct {
	mu   sync.RWMutex
	errs []error
}

// Add adds an error to the collection. A nil error is a no-op.
func (e *Errs) Add(err error) {
	if err == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errs = append(e.errs, err)
}

// Errored returns true if any errors have been added.
func (e *Errs) Errored() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.errs) > 0
}

// Err returns the errors as a single error, or nil if none were added.
func (e *Errs) Err() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	switch len(e.errs) {
	case 0:
		return nil
	case 1:
		return e.errs[0]
	default:
		return errors.New(e.string())
	}
}

// Len returns the number of errors accumulated.
func (e *Errs) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.errs)
}

func (e *Errs) string() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d error", len(e.errs)))
	if len(e.errs) != 1 {
		sb.WriteString("s")
	}
	sb.WriteString(" occurred:")
	for _, err := range e.errs {
		sb.WriteString("\n\t* ")
		sb.WriteString(err.Error())
	}
	return sb.String()
}

// KindedErrs accumulates errors against the hotkey that produced them, for
// the consensus engine's Byzantine-fault bookkeeping (spec.md §4.F, §7):
// contradicting Prepares/Commits are recorded against a hotkey but never
// panic the engine.
type KindedErrs struct {
	mu   sync.RWMutex
	errs map[ids.Hotkey][]error
}

// NewKindedErrs constructs an empty KindedErrs.
func NewKindedErrs() *KindedErrs {
	return &KindedErrs{errs: make(map[ids.Hotkey][]error)}
}

// Add records err against hotkey. A nil error is a no-op.
func (k *KindedErrs) Add(hotkey ids.Hotkey, err error) {
	if err == nil {
		return
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.errs[hotkey] = append(k.errs[hotkey], err)
}

// For returns the errors recorded against hotkey, if any.
func (k *KindedErrs) For(hotkey ids.Hotkey) []error {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]error, len(k.errs[hotkey]))
	copy(out, k.errs[hotkey])
	return out
}

// Count returns the number of faults recorded against hotkey.
func (k *KindedErrs) Count(hotkey ids.Hotkey) int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.errs[hotkey])
}
