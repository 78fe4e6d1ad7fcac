package message

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/PlatformNetwork/subnet-validator/crypto"
	"github.com/PlatformNetwork/subnet-validator/ids"
)

// ErrSignerMismatch is returned when a SignedMessage's declared signer does
// not match the embedded identity for its payload (spec.md §4.B, step 4 of
// the inbound pipeline in §4.E).
var ErrSignerMismatch = errors.New("message: declared signer does not match expected signer")

// ErrSignatureInvalid is returned when the signature over (payload, signer,
// nonce) does not verify.
var ErrSignatureInvalid = errors.New("message: signature invalid")

// SignedMessage is the outer wrapper authenticated by signing the canonical
// encoding of (payload, signer, nonce), per spec.md §4.B.
type SignedMessage struct {
	Kind      Kind
	Payload   Payload
	Signer    ids.Hotkey
	Nonce     uint64
	Signature crypto.Signature
}

// signingFields returns the canonical-encodable view of (payload, signer,
// nonce) that both Sign and Verify operate over. The payload enters it as
// its JSON encoding, since crypto.Encode does not accept payload structs.
func signingFields(kind Kind, payload Payload, signer ids.Hotkey, nonce uint64) (map[string]any, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("message: encode payload for signing: %w", err)
	}
	return map[string]any{
		"kind":    uint16(kind),
		"payload": payloadBytes,
		"signer":  signer.Bytes(),
		"nonce":   nonce,
	}, nil
}

// Sign produces a SignedMessage for payload, authenticated by kp, using the
// given nonce (fresh and monotonic per local node, per spec.md §4.E).
func Sign(kp *crypto.Keypair, payload Payload, nonce uint64) (*SignedMessage, error) {
	fields, err := signingFields(payload.Kind(), payload, kp.Hotkey, nonce)
	if err != nil {
		return nil, err
	}
	enc, err := crypto.Encode(fields)
	if err != nil {
		return nil, fmt.Errorf("message: encode signing fields: %w", err)
	}
	return &SignedMessage{
		Kind:      payload.Kind(),
		Payload:   payload,
		Signer:    kp.Hotkey,
		Nonce:     nonce,
		Signature: kp.SignBytes(enc),
	}, nil
}

// VerifyIdentity checks that the declared signer matches the payload's
// embedded expected signer (pipeline step 4, spec.md §4.E).
func (m *SignedMessage) VerifyIdentity() error {
	if m.Signer != m.Payload.ExpectedSigner() {
		return fmt.Errorf("%w: declared=%s expected=%s", ErrSignerMismatch, m.Signer, m.Payload.ExpectedSigner())
	}
	return nil
}

// VerifySignature checks the signature over (payload, signer, nonce)
// (pipeline step 3, spec.md §4.E).
func (m *SignedMessage) VerifySignature() error {
	fields, err := signingFields(m.Kind, m.Payload, m.Signer, m.Nonce)
	if err != nil {
		return err
	}
	enc, err := crypto.Encode(fields)
	if err != nil {
		return fmt.Errorf("message: encode signing fields: %w", err)
	}
	if !crypto.VerifyHotkey(m.Signer, enc, m.Signature) {
		return ErrSignatureInvalid
	}
	return nil
}

// RequiresValidatorMembership reports whether the signer must be an active
// validator for this message to be accepted (pipeline step 5).
func (m *SignedMessage) RequiresValidatorMembership() bool {
	return m.Payload.RequiresValidatorMembership()
}
