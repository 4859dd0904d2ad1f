package codec

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wearlink/internal/core/domain"
)

func avcc(nalus ...[]byte) []byte {
	var buf bytes.Buffer
	for _, n := range nalus {
		var l [4]byte
		binary.BigEndian.PutUint32(l[:], uint32(len(n)))
		buf.Write(l[:])
		buf.Write(n)
	}
	return buf.Bytes()
}

func TestAnnexB_MultipleNALUs(t *testing.T) {
	n1 := []byte{0x65, 0x11, 0x22}
	n2 := []byte{0x41, 0x33}

	out, err := AnnexB(&domain.AccessUnit{AVCC: avcc(n1, n2)})
	require.NoError(t, err)

	want := append(append(append(append([]byte{}, startCode...), n1...), startCode...), n2...)
	assert.Equal(t, want, out)

	// Total NALU byte count is preserved.
	assert.Equal(t, len(n1)+len(n2)+2*len(startCode), len(out))
}

func TestAnnexB_KeyframePrependsParameterSets(t *testing.T) {
	sps := []byte{0x67, 0x42, 0x00, 0x1F}
	pps := []byte{0x68, 0xCE, 0x3C, 0x80}
	slice := []byte{0x65, 0x88, 0x84}

	out, err := AnnexB(&domain.AccessUnit{
		AVCC:     avcc(slice),
		Keyframe: true,
		SPS:      sps,
		PPS:      pps,
	})
	require.NoError(t, err)

	// SPS first, then PPS, each behind its own start code, before slice data.
	expected := append(append([]byte{}, startCode...), sps...)
	expected = append(append(expected, startCode...), pps...)
	expected = append(append(expected, startCode...), slice...)
	assert.Equal(t, expected, out)
}

func TestAnnexB_KeyframeWithoutParams(t *testing.T) {
	_, err := AnnexB(&domain.AccessUnit{AVCC: avcc([]byte{0x65}), Keyframe: true})
	assert.ErrorIs(t, err, domain.ErrMalformedAccess)
}

func TestAnnexB_EmptyInput(t *testing.T) {
	_, err := AnnexB(&domain.AccessUnit{})
	assert.ErrorIs(t, err, domain.ErrEmptyChunk)

	_, err = AnnexB(nil)
	assert.ErrorIs(t, err, domain.ErrEmptyChunk)
}

func TestAnnexB_TruncatedLengthPrefix(t *testing.T) {
	_, err := AnnexB(&domain.AccessUnit{AVCC: []byte{0x00, 0x00}})
	assert.ErrorIs(t, err, domain.ErrMalformedAccess)
}

func TestAnnexB_LengthBeyondBuffer(t *testing.T) {
	au := avcc([]byte{0x65, 0x01})
	au[3] = 0xFF // inflate the declared length
	_, err := AnnexB(&domain.AccessUnit{AVCC: au})
	assert.ErrorIs(t, err, domain.ErrMalformedAccess)
}

func TestAnnexB_BareStartCodeSuppressed(t *testing.T) {
	// A unit holding a single zero-length NALU re-frames to a lone start
	// code and must be dropped, not forwarded.
	out, err := AnnexB(&domain.AccessUnit{AVCC: []byte{0x00, 0x00, 0x00, 0x00}})
	require.NoError(t, err)
	assert.Nil(t, out)
}
