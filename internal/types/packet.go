package types

// EncodedVideoPacket is one compressed video access unit produced by
// the hardware encoder.
type EncodedVideoPacket struct {
	Data     []byte
	PTS      int64
	DTS      int64
	Keyframe bool
}

// EncodedAudioPacket is one compressed audio frame produced by the
// audio encoder. Duration is in the encoder's time-base units.
type EncodedAudioPacket struct {
	Data     []byte
	PTS      int64
	DTS      int64
	Duration int64
}

// SessionInfo is emitted once after the portal handshake completes.
type SessionInfo struct {
	NodeID        uint32
	Width         int
	Height        int
	Source        CaptureSource
	PipeWireFD    int // owned by whoever calls TakePipeWireFD
}
