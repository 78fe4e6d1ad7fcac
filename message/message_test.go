package message

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/PlatformNetwork/subnet-validator/crypto"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	kp, err := crypto.GenerateKeypair()
	require.NoError(t, err)

	payload := EvaluationPayload{
		SubmissionID: "sub-1",
		Validator:    kp.Hotkey,
		Score:        0.75,
		TimestampMs:  1000,
	}

	signed, err := Sign(kp, payload, 42)
	require.NoError(t, err)
	require.NoError(t, signed.VerifyIdentity())
	require.NoError(t, signed.VerifySignature())
}

func TestVerifyIdentityRejectsSpoofedSigner(t *testing.T) {
	kp, err := crypto.GenerateKeypair()
	require.NoError(t, err)
	other, err := crypto.GenerateKeypair()
	require.NoError(t, err)

	payload := EvaluationPayload{SubmissionID: "sub-1", Validator: other.Hotkey, Score: 0.5}
	signed, err := Sign(kp, payload, 1)
	require.NoError(t, err)

	require.ErrorIs(t, signed.VerifyIdentity(), ErrSignerMismatch)
}

func TestWireRoundTrip(t *testing.T) {
	kp, err := crypto.GenerateKeypair()
	require.NoError(t, err)

	payload := SubmissionPayload{
		SubmissionID: "sub-9",
		Miner:        kp.Hotkey,
		AgentHash:    "deadbeef",
		AgentData:    []byte("agent bytes"),
	}
	signed, err := Sign(kp, payload, 7)
	require.NoError(t, err)

	frame, err := Encode(signed)
	require.NoError(t, err)
	require.LessOrEqual(t, len(frame), MaxFrameSize)

	decoded, err := Decode(frame)
	require.NoError(t, err)
	require.Equal(t, signed.Kind, decoded.Kind)
	require.Equal(t, signed.Signer, decoded.Signer)
	require.Equal(t, signed.Nonce, decoded.Nonce)
	require.Equal(t, signed.Signature, decoded.Signature)
	require.Equal(t, payload, decoded.Payload)
	require.NoError(t, decoded.VerifySignature())
}

func TestDecodeRejectsOversizedFrame(t *testing.T) {
	oversized := make([]byte, MaxFrameSize+1)
	_, err := Decode(oversized)
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestDecodeRejectsUnsupportedVersion(t *testing.T) {
	frame := []byte{0x00, 0x02, 0, 0, 0, 0}
	_, err := Decode(frame)
	require.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestRequiresValidatorMembership(t *testing.T) {
	kp, err := crypto.GenerateKeypair()
	require.NoError(t, err)

	sub, err := Sign(kp, SubmissionPayload{Miner: kp.Hotkey}, 1)
	require.NoError(t, err)
	require.False(t, sub.RequiresValidatorMembership())

	hb, err := Sign(kp, HeartbeatPayload{Validator: kp.Hotkey}, 2)
	require.NoError(t, err)
	require.True(t, hb.RequiresValidatorMembership())
}
