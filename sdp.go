package rtsp

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"
)

const SdpMimeType = "application/sdp"

// SdpEncoder produces the ANNOUNCE payload describing the requested stream.
type SdpEncoder interface {
	EncodeSDP(host string, clientVersion int, codec Codec) ([]byte, error)
}

const (
	videoStreamPort   = 47998
	defaultPacketSize = 1024

	// rate control and timeout values the host expects from every client
	rateControlMode = 4
	timeoutLengthMs = 7000
)

// StreamConfig is the default SdpEncoder.
// It announces the video mode, bitrate and audio layout requested by the client.
type StreamConfig struct {
	Width         int
	Height        int
	FPS           int
	BitrateKbps   int
	PacketSize    int
	AudioChannels int
}

func (c *StreamConfig) validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("invalid resolution %dx%d", c.Width, c.Height)
	}

	if c.FPS <= 0 {
		return fmt.Errorf("invalid fps %d", c.FPS)
	}

	if c.BitrateKbps <= 0 {
		return fmt.Errorf("invalid bitrate %d", c.BitrateKbps)
	}

	switch c.AudioChannels {
	case 0, 2, 6:
	default:
		return fmt.Errorf("unsupported audio channels %d", c.AudioChannels)
	}

	return nil
}

func audioChannelMask(channels int) int {
	if channels == 6 {
		return 0x3f
	}

	return 0x3
}

func boolAttr(v bool) string {
	if v {
		return "1"
	}

	return "0"
}

func (c *StreamConfig) attributes(clientVersion int, codec Codec) []sdp.Attribute {
	packetSize := c.PacketSize
	if packetSize == 0 {
		packetSize = defaultPacketSize
	}

	channels := c.AudioChannels
	if channels == 0 {
		channels = 2
	}

	attrs := []sdp.Attribute{
		sdp.NewAttribute("x-nv-video[0].clientViewportWd", strconv.Itoa(c.Width)),
		sdp.NewAttribute("x-nv-video[0].clientViewportHt", strconv.Itoa(c.Height)),
		sdp.NewAttribute("x-nv-video[0].maxFPS", strconv.Itoa(c.FPS)),
		sdp.NewAttribute("x-nv-video[0].packetSize", strconv.Itoa(packetSize)),
		sdp.NewAttribute("x-nv-video[0].rateControlMode", strconv.Itoa(rateControlMode)),
		sdp.NewAttribute("x-nv-video[0].timeoutLengthMs", strconv.Itoa(timeoutLengthMs)),
		sdp.NewAttribute("x-nv-video[0].framesWithInvalidRefThreshold", "0"),
	}

	if clientVersion >= 12 {
		bitrate := strconv.Itoa(c.BitrateKbps)
		attrs = append(
			attrs,
			sdp.NewAttribute("x-nv-vqos[0].bw.minimumBitrateKbps", bitrate),
			sdp.NewAttribute("x-nv-vqos[0].bw.maximumBitrateKbps", bitrate),
			sdp.NewAttribute("x-nv-clientSupportHevc", boolAttr(codec == CodecH265)),
			sdp.NewAttribute("x-nv-vqos[0].bitStreamFormat", boolAttr(codec == CodecH265)),
		)
	} else {
		// older hosts take the bitrate in Mbps
		bitrate := strconv.Itoa(max(c.BitrateKbps/1000, 1))
		attrs = append(
			attrs,
			sdp.NewAttribute("x-nv-vqos[0].bw.minimumBitrate", bitrate),
			sdp.NewAttribute("x-nv-vqos[0].bw.maximumBitrate", bitrate),
		)
	}

	attrs = append(
		attrs,
		sdp.NewAttribute("x-nv-audio.surround.numChannels", strconv.Itoa(channels)),
		sdp.NewAttribute("x-nv-audio.surround.channelMask", strconv.Itoa(audioChannelMask(channels))),
		sdp.NewAttribute("x-nv-audio.surround.enable", boolAttr(channels > 2)),
	)

	return attrs
}

// EncodeSDP implements SdpEncoder.
func (c *StreamConfig) EncodeSDP(host string, clientVersion int, codec Codec) ([]byte, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}

	addressType := "IP4"
	if strings.Contains(host, ":") {
		addressType = "IP6"
	}

	desc := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      0,
			SessionVersion: uint64(clientVersion),
			NetworkType:    "IN",
			AddressType:    addressType,
			UnicastAddress: host,
		},
		SessionName: sdp.SessionName("gsrtsp"),
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{}},
		},
		Attributes: c.attributes(clientVersion, codec),
		MediaDescriptions: []*sdp.MediaDescription{
			{
				MediaName: sdp.MediaName{
					Media:   "video",
					Port:    sdp.RangedPort{Value: videoStreamPort},
					Protos:  []string{"RTP", "AVP"},
					Formats: []string{"96"},
				},
			},
		},
	}

	return desc.Marshal()
}
