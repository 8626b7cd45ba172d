package rtsp

import "bytes"

// Codec is the video format negotiated during DESCRIBE.
type Codec int

const (
	CodecH264 Codec = iota
	CodecH265
)

func (c Codec) String() string {
	switch c {
	case CodecH264:
		return "H264"
	case CodecH265:
		return "H265"
	default:
		return "unknown"
	}
}

// The host announces HEVC streams with the H264 MIME type, so the format is
// recognized by the base64 prefix of the VPS NAL unit instead.
const hevcMarker = "sprop-parameter-sets=AAAAAU"

func negotiateCodec(payload []byte, supportsHEVC bool) Codec {
	if supportsHEVC && bytes.Contains(payload, []byte(hevcMarker)) {
		return CodecH265
	}

	return CodecH264
}
