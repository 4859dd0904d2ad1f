package codec

import (
	"fmt"

	"wearlink/internal/core/domain"
)

// adtsHeaderLen is the fixed ADTS header size (no CRC).
const adtsHeaderLen = 7

// aacProfileLC is the AAC-LC audio object type minus one, as carried in
// the ADTS profile field.
const aacProfileLC = 1

// adtsSampleRateIndex maps sample rates to the MPEG-4 sampling frequency
// index written into the ADTS header.
var adtsSampleRateIndex = map[int]byte{
	96000: 0,
	88200: 1,
	64000: 2,
	48000: 3,
	44100: 4,
	32000: 5,
	24000: 6,
	22050: 7,
	16000: 8,
	12000: 9,
	11025: 10,
	8000:  11,
	7350:  12,
}

// defaultSampleRateIndex (24000 Hz) is used for rates missing from the
// table; the deployment default.
const defaultSampleRateIndex = 6

// SampleRateIndex returns the ADTS frequency index for a sample rate.
func SampleRateIndex(sampleRate int) byte {
	if idx, ok := adtsSampleRateIndex[sampleRate]; ok {
		return idx
	}
	return defaultSampleRateIndex
}

// FrameADTS wraps one raw AAC-LC frame in a 7-byte ADTS header. The
// receiving decoder parses this header, so the layout is bit-exact:
//
//	AAAAAAAA AAAABCCD EEFFFFGH HHIJKLMM MMMMMMMM MMMOOOOO OOOOOOPP
//
//	A syncword (0xFFF), B MPEG-4 (0), C layer (0), D protection absent (1)
//	E profile, F sampling frequency index, G private (0), H channel config
//	I/J/K/L originality/home/copyright bits (0)
//	M frame length including header, O buffer fullness (0x7FF), P blocks-1
func FrameADTS(raw []byte, sampleRate, channels int) ([]byte, error) {
	if len(raw) == 0 {
		return nil, domain.ErrEmptyChunk
	}

	frameLen := len(raw) + adtsHeaderLen
	if frameLen >= 1<<13 {
		return nil, fmt.Errorf("aac frame too large for 13-bit adts length: %d", frameLen)
	}

	freqIdx := SampleRateIndex(sampleRate)
	chanCfg := byte(channels)

	out := make([]byte, 0, frameLen)
	out = append(out,
		0xFF,
		0xF1,
		(aacProfileLC<<6)|(freqIdx<<2)|(chanCfg>>2),
		((chanCfg&0x3)<<6)|byte(frameLen>>11),
		byte(frameLen>>3),
		byte(frameLen&0x7)<<5|0x1F,
		0xFC,
	)
	return append(out, raw...), nil
}

// SplitADTS splits a buffer of back-to-back ADTS frames into the raw AAC
// payloads, stripping each 7-byte header. A trailing partial frame is
// returned as the remainder so the caller can prepend it to the next
// buffer. Bytes before the first syncword are skipped.
func SplitADTS(buf []byte) (frames [][]byte, rest []byte) {
	off := 0
	for {
		// Hunt for the 12-bit syncword.
		for off+1 < len(buf) && !(buf[off] == 0xFF && buf[off+1]&0xF0 == 0xF0) {
			off++
		}
		if off+adtsHeaderLen > len(buf) {
			return frames, buf[off:]
		}

		frameLen := int(buf[off+3]&0x3)<<11 | int(buf[off+4])<<3 | int(buf[off+5])>>5
		if frameLen <= adtsHeaderLen {
			// Corrupt length; resync from the next byte.
			off++
			continue
		}
		if off+frameLen > len(buf) {
			return frames, buf[off:]
		}

		payload := make([]byte, frameLen-adtsHeaderLen)
		copy(payload, buf[off+adtsHeaderLen:off+frameLen])
		frames = append(frames, payload)
		off += frameLen
	}
}
