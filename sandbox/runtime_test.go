package sandbox

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUnpackResultSplitsLenAndPtr(t *testing.T) {
	packed := (uint64(1234) << 32) | uint64(5678)
	length, ptr := unpackResult(packed)
	require.EqualValues(t, 1234, length)
	require.EqualValues(t, 5678, ptr)
}

func TestDecodeEvaluationOutputRoundTrip(t *testing.T) {
	buf := make([]byte, 9)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(int64(87)))
	buf[8] = 1
	buf = append(buf, []byte("great submission")...)

	out, err := decodeEvaluationOutput(buf)
	require.NoError(t, err)
	require.EqualValues(t, 87, out.Score)
	require.True(t, out.Valid)
	require.Equal(t, "great submission", out.Message)
}

func TestDecodeEvaluationOutputRejectsTooShort(t *testing.T) {
	_, err := decodeEvaluationOutput([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestEvaluationInputCanonicalFieldsIncludesChallengeID(t *testing.T) {
	in := EvaluationInput{AgentData: []byte("abc")}
	fields := in.canonicalFields()
	require.Contains(t, fields, "agent_data")
	require.Contains(t, fields, "challenge_id")
}

func TestDecodeWeightsRoundTrip(t *testing.T) {
	raw := make([]byte, 8)
	binary.LittleEndian.PutUint16(raw[0:2], 7)
	binary.LittleEndian.PutUint16(raw[2:4], 65535)
	binary.LittleEndian.PutUint16(raw[4:6], 0)
	binary.LittleEndian.PutUint16(raw[6:8], 42)

	weights, err := decodeWeights(raw)
	require.NoError(t, err)
	require.Equal(t, []WeightEntry{{UID: 7, Weight: 65535}, {UID: 0, Weight: 42}}, weights)
}

func TestDecodeWeightsRejectsMisalignedLength(t *testing.T) {
	_, err := decodeWeights([]byte{1, 2, 3})
	require.Error(t, err)
}
