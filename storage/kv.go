// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package storage implements validated storage: a per-challenge
// key/value overlay that only commits writes a quorum of validators has
// approved (spec.md §4.H), backed by a local pebble KV store.
package storage

import (
	"errors"

	"github.com/cockroachdb/pebble"
)

// ErrNotFound is returned when a key does not exist, matching the
// database.Reader contract's Has/Get semantics.
var ErrNotFound = errors.New("storage: key not found")

// KV is the minimal key-value surface this package needs, the Go-side
// analogue of the teacher's database.Database (Reader+Writer+NewBatch).
type KV interface {
	Has(key []byte) (bool, error)
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	Close() error
}

// PebbleKV wraps *pebble.DB to satisfy KV.
type PebbleKV struct {
	db *pebble.DB
}

// OpenPebble opens (creating if necessary) a pebble database at dir.
func OpenPebble(dir string) (*PebbleKV, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleKV{db: db}, nil
}

func (p *PebbleKV) Has(key []byte) (bool, error) {
	v, closer, err := p.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	_ = v
	return true, closer.Close()
}

func (p *PebbleKV) Get(key []byte) ([]byte, error) {
	v, closer, err := p.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	out := append([]byte(nil), v...)
	return out, closer.Close()
}

func (p *PebbleKV) Put(key, value []byte) error {
	return p.db.Set(key, value, pebble.Sync)
}

func (p *PebbleKV) Delete(key []byte) error {
	return p.db.Delete(key, pebble.Sync)
}

func (p *PebbleKV) Close() error {
	return p.db.Close()
}
