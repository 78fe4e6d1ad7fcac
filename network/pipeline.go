// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package network implements the pub/sub transport and the fixed
// nine-step inbound validation pipeline (spec.md §4.E).
package network

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/PlatformNetwork/subnet-validator/ids"
	"github.com/PlatformNetwork/subnet-validator/message"
)

// DefaultRateLimit is the per-signer sliding-window message budget
// (spec.md §4.E step 7).
const DefaultRateLimit = 100

// NonceExpiry bounds how long a seen nonce is remembered for replay
// detection (spec.md §4.E step 8).
const NonceExpiry = 5 * time.Minute

// Pipeline errors, one per rejected step.
var (
	ErrOversized         = errors.New("network: frame exceeds max size")
	ErrDecodeFailed      = errors.New("network: failed to decode frame")
	ErrSignatureInvalid  = errors.New("network: signature invalid")
	ErrIdentityMismatch  = errors.New("network: signer identity mismatch")
	ErrNotValidator      = errors.New("network: signer is not an active validator")
	ErrPayloadInvariant  = errors.New("network: payload invariant violated")
	ErrRateLimitExceeded = errors.New("network: rate limit exceeded")
	ErrReplayAttack      = errors.New("network: replayed nonce")
)

// ValidatorMembership reports whether hotkey is currently an active
// validator, backed by the validators.Set in the running process.
type ValidatorMembership func(hotkey ids.Hotkey) bool

// PayloadInvariantCheck runs payload-specific invariant checks (step 6,
// e.g. WeightVote content-hash recomputation). Returning an error rejects
// the message.
type PayloadInvariantCheck func(payload message.Payload) error

// Config parameterizes a Pipeline.
type Config struct {
	IsValidator     ValidatorMembership
	CheckInvariants PayloadInvariantCheck
	RateLimit       rate.Limit
	NonceExpiry     time.Duration
	Now             func() time.Time
}

func (c *Config) setDefaults() {
	if c.RateLimit == 0 {
		c.RateLimit = DefaultRateLimit
	}
	if c.NonceExpiry == 0 {
		c.NonceExpiry = NonceExpiry
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.CheckInvariants == nil {
		c.CheckInvariants = func(message.Payload) error { return nil }
	}
}

// Pipeline runs the fixed nine-step inbound validation sequence and
// maintains the per-signer rate limiters, nonce replay sets, and the
// peer/validator cross-index.
type Pipeline struct {
	cfg Config

	mu       sync.Mutex
	limiters map[ids.Hotkey]*rate.Limiter
	nonces   map[ids.Hotkey]map[uint64]time.Time
	peers    *PeerIndex
}

// NewPipeline constructs a Pipeline.
func NewPipeline(cfg Config) *Pipeline {
	cfg.setDefaults()
	return &Pipeline{
		cfg:      cfg,
		limiters: make(map[ids.Hotkey]*rate.Limiter),
		nonces:   make(map[ids.Hotkey]map[uint64]time.Time),
		peers:    NewPeerIndex(),
	}
}

// Accept runs the full nine-step pipeline over a raw inbound frame,
// returning the validated SignedMessage or the first violated step's
// error.
func (p *Pipeline) Accept(peerID string, frame []byte) (*message.SignedMessage, error) {
	// 1. Size check.
	if len(frame) > message.MaxFrameSize {
		return nil, ErrOversized
	}

	// 2. Decode.
	signed, err := message.Decode(frame)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}

	// 3. Signature verify.
	if err := signed.VerifySignature(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}

	// 4. Identity check.
	if err := signed.VerifyIdentity(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIdentityMismatch, err)
	}

	// 5. Validator membership check.
	if signed.RequiresValidatorMembership() {
		if p.cfg.IsValidator == nil || !p.cfg.IsValidator(signed.Signer) {
			return nil, fmt.Errorf("%w: %s", ErrNotValidator, signed.Signer)
		}
	}

	// 6. Payload invariants.
	if err := p.cfg.CheckInvariants(signed.Payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPayloadInvariant, err)
	}

	// 7. Rate limit.
	if !p.allow(signed.Signer) {
		return nil, fmt.Errorf("%w: signer %s", ErrRateLimitExceeded, signed.Signer)
	}

	// 8. Replay check.
	if !p.checkNonce(signed.Signer, signed.Nonce) {
		return nil, fmt.Errorf("%w: signer %s nonce %d", ErrReplayAttack, signed.Signer, signed.Nonce)
	}

	// 9. Peer map update.
	p.peers.Associate(peerID, signed.Signer)

	return signed, nil
}

func (p *Pipeline) allow(signer ids.Hotkey) bool {
	p.mu.Lock()
	limiter, ok := p.limiters[signer]
	if !ok {
		limiter = rate.NewLimiter(p.cfg.RateLimit, int(p.cfg.RateLimit))
		p.limiters[signer] = limiter
	}
	p.mu.Unlock()
	return limiter.AllowN(p.cfg.Now(), 1)
}

func (p *Pipeline) checkNonce(signer ids.Hotkey, nonce uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.cfg.Now()
	seen, ok := p.nonces[signer]
	if !ok {
		seen = make(map[uint64]time.Time)
		p.nonces[signer] = seen
	}

	// Sweep-on-access: drop expired entries for this signer before
	// checking, bounding memory without a separate background task.
	for n, seenAt := range seen {
		if now.Sub(seenAt) > p.cfg.NonceExpiry {
			delete(seen, n)
		}
	}

	if seenAt, replay := seen[nonce]; replay && now.Sub(seenAt) <= p.cfg.NonceExpiry {
		return false
	}
	seen[nonce] = now
	return true
}

// Peers returns the pipeline's peer/validator cross-index.
func (p *Pipeline) Peers() *PeerIndex {
	return p.peers
}
