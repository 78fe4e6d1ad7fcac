// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package crypto provides keypair generation, signing, verification, and
// canonical hashing for the validator core (spec.md §4.A). Signatures use
// the standard Edwards-curve scheme (crypto/ed25519) over a canonical,
// length-prefixed encoding of the payload.
package crypto

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"

	"github.com/PlatformNetwork/subnet-validator/ids"
)

// SeedLen is the required length of a keypair seed.
const SeedLen = ed25519.SeedSize

// Failure modes named in spec.md §4.A. Verification failures are never
// retried by callers of Verify.
var (
	ErrInvalidSeed   = errors.New("crypto: invalid seed")
	ErrDecodeFailure = errors.New("crypto: decode failure")
	ErrVerifyFailure = errors.New("crypto: signature verification failed")
)

// Signature is a detached ed25519 signature.
type Signature [ed25519.SignatureSize]byte

// String returns the hex representation of the signature.
func (s Signature) String() string { return hex.EncodeToString(s[:]) }

// Bytes returns a copy of the signature bytes.
func (s Signature) Bytes() []byte {
	out := make([]byte, len(s))
	copy(out, s[:])
	return out
}

// SignatureFromBytes parses a detached signature.
func SignatureFromBytes(b []byte) (Signature, error) {
	var sig Signature
	if len(b) != ed25519.SignatureSize {
		return sig, fmt.Errorf("%w: signature must be %d bytes, got %d", ErrDecodeFailure, ed25519.SignatureSize, len(b))
	}
	copy(sig[:], b)
	return sig, nil
}

// PublicKey is an ed25519 public key, also usable as the raw bytes backing
// an ids.Hotkey.
type PublicKey struct {
	key ed25519.PublicKey
}

// Bytes returns the raw public key bytes.
func (pk PublicKey) Bytes() []byte { return []byte(pk.key) }

// Hotkey derives the ids.Hotkey identity for this public key.
func (pk PublicKey) Hotkey() (ids.Hotkey, error) {
	return ids.HotkeyFromBytes(pk.key)
}

// PublicKeyFromHotkey reinterprets a Hotkey's bytes as an ed25519 public key.
func PublicKeyFromHotkey(h ids.Hotkey) PublicKey {
	return PublicKey{key: append(ed25519.PublicKey(nil), h[:]...)}
}

// Keypair holds an ed25519 keypair and the derived Hotkey.
type Keypair struct {
	Public  PublicKey
	private ed25519.PrivateKey
	Hotkey  ids.Hotkey
}

// GenerateKeypair creates a new random Keypair.
func GenerateKeypair() (*Keypair, error) {
	var seed [SeedLen]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return nil, fmt.Errorf("crypto: read random seed: %w", err)
	}
	return KeypairFromSeed(seed[:])
}

// KeypairFromSeed derives a deterministic Keypair from a 32-byte seed.
func KeypairFromSeed(seed []byte) (*Keypair, error) {
	if len(seed) != SeedLen {
		return nil, fmt.Errorf("%w: seed must be %d bytes, got %d", ErrInvalidSeed, SeedLen, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	hotkey, err := ids.HotkeyFromBytes(pub)
	if err != nil {
		return nil, fmt.Errorf("crypto: derive hotkey: %w", err)
	}
	return &Keypair{
		Public:  PublicKey{key: pub},
		private: priv,
		Hotkey:  hotkey,
	}, nil
}

// KeypairFromMnemonic derives a Keypair from a BIP-39-style mnemonic by
// hashing the mnemonic into a 32-byte seed. The validator core treats
// mnemonics only as an alternate seed source (spec.md §4.A); no wordlist
// validation is performed here.
func KeypairFromMnemonic(mnemonic string) (*Keypair, error) {
	if mnemonic == "" {
		return nil, fmt.Errorf("%w: empty mnemonic", ErrInvalidSeed)
	}
	seed := sha256.Sum256([]byte(mnemonic))
	return KeypairFromSeed(seed[:])
}

// SignBytes signs the canonical encoding of payload bytes directly (no
// further framing), returning a detached Signature.
func (k *Keypair) SignBytes(data []byte) Signature {
	var sig Signature
	copy(sig[:], ed25519.Sign(k.private, data))
	return sig
}

// Verify checks that sig is a valid signature by pub over data. Verification
// failures are reported, never retried, per spec.md §4.A.
func Verify(pub PublicKey, data []byte, sig Signature) bool {
	return ed25519.Verify(pub.key, data, sig[:])
}

// VerifyHotkey is a convenience wrapper treating a Hotkey's bytes directly
// as an ed25519 public key, as used throughout message verification.
func VerifyHotkey(signer ids.Hotkey, data []byte, sig Signature) bool {
	return Verify(PublicKeyFromHotkey(signer), data, sig)
}

// HashData computes a deterministic SHA-256 digest over the canonical
// binary encoding of v. Determinism across nodes requires fixed-width
// integers and sorted map keys; Encode below implements both.
func HashData(v any) ([32]byte, error) {
	enc, err := Encode(v)
	if err != nil {
		return [32]byte{}, fmt.Errorf("crypto: hash data: %w", err)
	}
	return sha256.Sum256(enc), nil
}

// MustHashData panics on encode failure; for use only on types known to be
// encodable (no unsupported kinds reachable from the call site).
func MustHashData(v any) [32]byte {
	h, err := HashData(v)
	if err != nil {
		panic(err)
	}
	return h
}

// Encode produces the canonical, length-prefixed binary encoding used both
// for signing payloads and for hashing state. It supports exactly these
// kinds: nil, bool, uint8, uint16, uint32, uint64, int, int64, float64,
// string, []byte, Encodable, []any, and map[string]any (whose keys are
// sorted before encoding). Any other type, including arrays, typed slices
// and structs, is rejected with an error.
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeValue(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeValue(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		return binary.Write(buf, binary.BigEndian, uint8(0))
	case bool:
		b := uint8(0)
		if val {
			b = 1
		}
		return binary.Write(buf, binary.BigEndian, b)
	case uint8:
		return binary.Write(buf, binary.BigEndian, val)
	case uint16:
		return binary.Write(buf, binary.BigEndian, val)
	case uint32:
		return binary.Write(buf, binary.BigEndian, val)
	case uint64:
		return binary.Write(buf, binary.BigEndian, val)
	case int:
		return binary.Write(buf, binary.BigEndian, int64(val))
	case int64:
		return binary.Write(buf, binary.BigEndian, val)
	case float64:
		return binary.Write(buf, binary.BigEndian, val)
	case string:
		return encodeBytes(buf, []byte(val))
	case []byte:
		return encodeBytes(buf, val)
	case Encodable:
		return encodeValue(buf, val.CanonicalFields())
	case []any:
		if err := binary.Write(buf, binary.BigEndian, uint32(len(val))); err != nil {
			return err
		}
		for _, elt := range val {
			if err := encodeValue(buf, elt); err != nil {
				return err
			}
		}
		return nil
	case map[string]any:
		keys := make([]string, 0, len(val))
		for key := range val {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		if err := binary.Write(buf, binary.BigEndian, uint32(len(keys))); err != nil {
			return err
		}
		for _, key := range keys {
			if err := encodeBytes(buf, []byte(key)); err != nil {
				return err
			}
			if err := encodeValue(buf, val[key]); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("crypto: encode: unsupported type %T", v)
	}
}

func encodeBytes(buf *bytes.Buffer, b []byte) error {
	if err := binary.Write(buf, binary.BigEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := buf.Write(b)
	return err
}

// Encodable is implemented by domain types that need custom control over
// their canonical field ordering when hashed or signed (e.g. structs with
// unexported invariants). CanonicalFields must return a []any or
// map[string]any built only from the kinds encodeValue supports.
type Encodable interface {
	CanonicalFields() any
}
