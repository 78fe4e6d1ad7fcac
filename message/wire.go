package message

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
)

// MaxFrameSize is the hard cap on encoded message size, bounding DoS per
// spec.md §4.B and §6.
const MaxFrameSize = 5 * 1024 * 1024 // 5 MiB

// WireVersion is the current wire format version.
const WireVersion uint16 = 1

// Topic names for the two logical pub/sub topics (spec.md §4.E, §6).
const (
	TopicConsensus = "/consensus/v1"
	TopicChallenge = "/challenge/v1"
)

// IdentityProtocol is the protocol string announced on handshake (spec.md §6).
const IdentityProtocol = "/platform/1.0.0"

// ErrFrameTooLarge is returned when an encoded or decoded frame would exceed
// MaxFrameSize.
var ErrFrameTooLarge = errors.New("message: frame exceeds max size")

// ErrUnsupportedVersion is returned when decoding a frame with an unknown
// wire version.
var ErrUnsupportedVersion = errors.New("message: unsupported wire version")

func init() {
	gob.Register(ProposalPayload{})
	gob.Register(PrePreparePayload{})
	gob.Register(PreparePayload{})
	gob.Register(CommitPayload{})
	gob.Register(ViewChangePayload{})
	gob.Register(NewViewPayload{})
	gob.Register(HeartbeatPayload{})
	gob.Register(SubmissionPayload{})
	gob.Register(EvaluationPayload{})
	gob.Register(WeightVotePayload{})
	gob.Register(PeerAnnouncePayload{})
	gob.Register(JobClaimPayload{})
	gob.Register(JobAssignmentPayload{})
	gob.Register(DataRequestPayload{})
	gob.Register(DataResponsePayload{})
	gob.Register(TaskProgressPayload{})
	gob.Register(TaskResultPayload{})
	gob.Register(LeaderboardRequestPayload{})
	gob.Register(LeaderboardResponsePayload{})
	gob.Register(ChallengeUpdatePayload{})
	gob.Register(StorageProposalPayload{})
	gob.Register(StorageVotePayload{})
	gob.Register(ReviewAssignmentPayload{})
	gob.Register(ReviewDeclinePayload{})
	gob.Register(ReviewResultPayload{})
	gob.Register(AgentLogProposalPayload{})
	gob.Register(SudoActionPayload{})
	gob.Register(StateRequestPayload{})
	gob.Register(StateResponsePayload{})
}

// wireEnvelope is the gob-serializable shape of a SignedMessage. Payload is
// boxed through the gob interface registry populated in init above.
type wireEnvelope struct {
	Kind      Kind
	Payload   Payload
	Signer    [32]byte
	Nonce     uint64
	Signature [64]byte
}

// Encode serializes a SignedMessage into the versioned, length-prefixed
// wire format: 2-byte version, 4-byte length, gob body. Encoding fails
// closed if the result would exceed MaxFrameSize.
func Encode(m *SignedMessage) ([]byte, error) {
	env := wireEnvelope{
		Kind:      m.Kind,
		Payload:   m.Payload,
		Signer:    m.Signer,
		Nonce:     m.Nonce,
		Signature: m.Signature,
	}

	var body bytes.Buffer
	if err := gob.NewEncoder(&body).Encode(env); err != nil {
		return nil, fmt.Errorf("message: gob encode: %w", err)
	}
	if 6+body.Len() > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}

	out := make([]byte, 0, 6+body.Len())
	var header [6]byte
	binary.BigEndian.PutUint16(header[0:2], WireVersion)
	binary.BigEndian.PutUint32(header[2:6], uint32(body.Len()))
	out = append(out, header[:]...)
	out = append(out, body.Bytes()...)
	return out, nil
}

// Decode parses the wire format produced by Encode. Pipeline step 1 (size
// check) and step 2 (decode) from spec.md §4.E both happen here: the raw
// frame length is checked before any parsing is attempted.
func Decode(frame []byte) (*SignedMessage, error) {
	if len(frame) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	if len(frame) < 6 {
		return nil, fmt.Errorf("message: frame too short: %d bytes", len(frame))
	}

	version := binary.BigEndian.Uint16(frame[0:2])
	if version != WireVersion {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrUnsupportedVersion, version, WireVersion)
	}

	length := binary.BigEndian.Uint32(frame[2:6])
	if int(length) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	body := frame[6:]
	if uint32(len(body)) != length {
		return nil, fmt.Errorf("message: length mismatch: header says %d, got %d", length, len(body))
	}

	var env wireEnvelope
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(&env); err != nil {
		return nil, fmt.Errorf("message: gob decode: %w", err)
	}

	return &SignedMessage{
		Kind:      env.Kind,
		Payload:   env.Payload,
		Signer:    env.Signer,
		Nonce:     env.Nonce,
		Signature: env.Signature,
	}, nil
}
