package orchestrator

import (
	"github.com/ghostkellz/nitrogen/internal/capture"
	"github.com/ghostkellz/nitrogen/internal/types"
)

// openVideoStream and openAudioStream exist so Pipeline can hold its
// capture dependencies behind the types.VideoCapturer/AudioCapturer
// interfaces, with the constructors in package-level vars that can be
// replaced without touching real PipeWire state. orchestrator_test.go
// does not use them; it assigns fakes to the Pipeline fields directly.
var (
	openVideoStream = func(fd int, nodeID uint32) (videoCapturerWithFormat, error) {
		return capture.NewVideoStream(fd, nodeID)
	}
	openAudioStream = func(source types.AudioSource) (types.AudioCapturer, error) {
		return capture.NewAudioStream(source)
	}
)

// videoCapturerWithFormat extends types.VideoCapturer with the
// negotiated-format accessor the WaitingForStream state polls.
type videoCapturerWithFormat interface {
	types.VideoCapturer
	NegotiatedFormat() (width, height, stride int, fourcc uint32, ok bool)
}
