package codec

import (
	"encoding/binary"
	"fmt"

	"wearlink/internal/core/domain"
)

// startCode is the 4-byte Annex-B NALU delimiter.
var startCode = []byte{0x00, 0x00, 0x00, 0x01}

// avccHeaderLen is the NALU length-prefix size in vendor AVCC output.
const avccHeaderLen = 4

// AnnexB converts one AVCC (length-prefixed) access unit to Annex-B
// framing. When the unit is a keyframe, the SPS and PPS parameter sets
// are prepended, each behind its own start code, ahead of the slice data
// so a decoder can initialize mid-stream.
//
// A converted unit that carries no payload beyond a bare start code is
// suppressed: the return is (nil, nil) and the caller drops the frame.
func AnnexB(au *domain.AccessUnit) ([]byte, error) {
	if au == nil || len(au.AVCC) == 0 {
		return nil, domain.ErrEmptyChunk
	}

	out := make([]byte, 0, len(au.AVCC)+len(au.SPS)+len(au.PPS)+3*len(startCode))

	if au.Keyframe {
		if len(au.SPS) == 0 || len(au.PPS) == 0 {
			return nil, fmt.Errorf("%w: keyframe without parameter sets", domain.ErrMalformedAccess)
		}
		out = append(out, startCode...)
		out = append(out, au.SPS...)
		out = append(out, startCode...)
		out = append(out, au.PPS...)
	}

	for off := 0; off < len(au.AVCC); {
		if off+avccHeaderLen > len(au.AVCC) {
			return nil, fmt.Errorf("%w: truncated length prefix at offset %d", domain.ErrMalformedAccess, off)
		}
		naluLen := int(binary.BigEndian.Uint32(au.AVCC[off : off+avccHeaderLen]))
		off += avccHeaderLen
		if naluLen < 0 || off+naluLen > len(au.AVCC) {
			return nil, fmt.Errorf("%w: nalu length %d exceeds buffer", domain.ErrMalformedAccess, naluLen)
		}
		out = append(out, startCode...)
		out = append(out, au.AVCC[off:off+naluLen]...)
		off += naluLen
	}

	if len(out) <= len(startCode) {
		return nil, nil
	}
	return out, nil
}
