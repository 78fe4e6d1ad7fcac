package network

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/PlatformNetwork/subnet-validator/crypto"
	"github.com/PlatformNetwork/subnet-validator/ids"
	"github.com/PlatformNetwork/subnet-validator/message"
)

func heartbeatFrame(t *testing.T, kp *crypto.Keypair, nonce, sequence uint64) []byte {
	t.Helper()
	payload := message.HeartbeatPayload{Validator: kp.Hotkey, Sequence: sequence}
	signed, err := message.Sign(kp, payload, nonce)
	require.NoError(t, err)
	frame, err := message.Encode(signed)
	require.NoError(t, err)
	return frame
}

func allowAllValidators(ids.Hotkey) bool { return true }

func TestPipelineAcceptsValidMessage(t *testing.T) {
	kp, err := crypto.GenerateKeypair()
	require.NoError(t, err)

	p := NewPipeline(Config{IsValidator: allowAllValidators})
	msg, err := p.Accept("peer-1", heartbeatFrame(t, kp, 1, 1))
	require.NoError(t, err)
	require.Equal(t, kp.Hotkey, msg.Signer)

	hk, ok := p.Peers().HotkeyForPeer("peer-1")
	require.True(t, ok)
	require.Equal(t, kp.Hotkey, hk)
}

func TestPipelineRejectsOversizedFrame(t *testing.T) {
	p := NewPipeline(Config{IsValidator: allowAllValidators})
	oversized := make([]byte, message.MaxFrameSize+1)
	_, err := p.Accept("peer-1", oversized)
	require.ErrorIs(t, err, ErrOversized)
}

func TestPipelineRejectsUnknownValidator(t *testing.T) {
	kp, err := crypto.GenerateKeypair()
	require.NoError(t, err)

	p := NewPipeline(Config{IsValidator: func(ids.Hotkey) bool { return false }})
	_, err = p.Accept("peer-1", heartbeatFrame(t, kp, 1, 1))
	require.ErrorIs(t, err, ErrNotValidator)
}

func TestPipelineRejectsSpoofedSigner(t *testing.T) {
	kp, err := crypto.GenerateKeypair()
	require.NoError(t, err)
	other, err := crypto.GenerateKeypair()
	require.NoError(t, err)

	payload := message.HeartbeatPayload{Validator: other.Hotkey}
	signed, err := message.Sign(kp, payload, 1)
	require.NoError(t, err)
	frame, err := message.Encode(signed)
	require.NoError(t, err)

	p := NewPipeline(Config{IsValidator: allowAllValidators})
	_, err = p.Accept("peer-1", frame)
	require.ErrorIs(t, err, ErrIdentityMismatch)
}

func TestPipelineRejectsReplayedNonce(t *testing.T) {
	kp, err := crypto.GenerateKeypair()
	require.NoError(t, err)

	p := NewPipeline(Config{IsValidator: allowAllValidators})
	frame := heartbeatFrame(t, kp, 42, 1)

	_, err = p.Accept("peer-1", frame)
	require.NoError(t, err)

	_, err = p.Accept("peer-1", frame)
	require.ErrorIs(t, err, ErrReplayAttack)
}

func TestPipelineEnforcesRateLimit(t *testing.T) {
	kp, err := crypto.GenerateKeypair()
	require.NoError(t, err)

	now := time.Now()
	p := NewPipeline(Config{
		IsValidator: allowAllValidators,
		RateLimit:   2,
		Now:         func() time.Time { return now },
	})

	_, err = p.Accept("peer-1", heartbeatFrame(t, kp, 1, 1))
	require.NoError(t, err)
	_, err = p.Accept("peer-1", heartbeatFrame(t, kp, 2, 2))
	require.NoError(t, err)
	_, err = p.Accept("peer-1", heartbeatFrame(t, kp, 3, 3))
	require.ErrorIs(t, err, ErrRateLimitExceeded)
}

func TestPipelineInvariantCheckRejection(t *testing.T) {
	kp, err := crypto.GenerateKeypair()
	require.NoError(t, err)

	p := NewPipeline(Config{
		IsValidator:     allowAllValidators,
		CheckInvariants: func(message.Payload) error { return require.AnError },
	})
	_, err = p.Accept("peer-1", heartbeatFrame(t, kp, 1, 1))
	require.ErrorIs(t, err, ErrPayloadInvariant)
}
